package models

import (
	"errors"
	"time"
)

// Outcome is the post-hoc evaluation of an alert against the subsequent move.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeNeutral Outcome = "neutral"
)

// Alert is a prioritized composite signal packaged for delivery. The analyzer
// states are nil when their feature was disabled for the cycle.
type Alert struct {
	ID        string          `json:"id"`
	Symbol    string          `json:"symbol"`
	Timestamp time.Time       `json:"timestamp"`
	Signal    CompositeSignal `json:"signal"`
	Priority  float64         `json:"priority"`

	Price       float64            `json:"price"`
	VolumeRatio float64            `json:"volume_ratio"`
	Change5m    float64            `json:"change_5m"`
	RSI14       *float64           `json:"rsi_14,omitempty"`
	OrderBook   *OrderBookSnapshot `json:"order_book,omitempty"`
	TradeFlow   *TradeFlow         `json:"trade_flow,omitempty"`
	Funding     *FundingState      `json:"funding,omitempty"`
	Liquidation *LiquidationState  `json:"liquidation,omitempty"`

	VolumeZScore     float64      `json:"volume_z_score"`
	PriceZScore      float64      `json:"price_z_score"`
	IsOutlier        bool         `json:"is_outlier"`
	Regime           MarketRegime `json:"regime"`
	VolumePercentile float64      `json:"volume_percentile"`

	// DynamicThreshold is the regime-adjusted send threshold computed for
	// this cycle. Zero when statistics are disabled or still warming up.
	DynamicThreshold float64 `json:"dynamic_threshold,omitempty"`
}

// Validate checks alert field constraints.
func (a *Alert) Validate() error {
	if a.ID == "" {
		return errors.New("alert ID must not be empty")
	}
	if a.Symbol == "" {
		return errors.New("alert symbol must not be empty")
	}
	if a.Priority < 0.1 || a.Priority > 1.5 {
		return errors.New("alert priority must be within [0.1, 1.5]")
	}
	return a.Signal.Validate()
}

// SymbolPerformance tracks alert outcomes per symbol for priority feedback.
type SymbolPerformance struct {
	Symbol           string      `json:"symbol"`
	TotalAlerts      int         `json:"total_alerts"`
	SuccessfulAlerts int         `json:"successful_alerts"`
	WinRate          float64     `json:"win_rate"`
	LastAlertTime    time.Time   `json:"last_alert_time"`
	RecentFailures   []time.Time `json:"recent_failures"`
}
