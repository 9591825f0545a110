package models

import (
	"errors"
	"time"
)

// FundingTrend classifies the recent direction of funding rate readings.
type FundingTrend string

const (
	FundingIncreasing FundingTrend = "increasing"
	FundingDecreasing FundingTrend = "decreasing"
	FundingStable     FundingTrend = "stable"
	FundingUnknown    FundingTrend = "unknown"
)

// PositionSide names the side favored by a funding imbalance.
type PositionSide string

const (
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
	PositionNone  PositionSide = "none"
)

// FundingState is the funding analyzer output for one symbol.
// The zero-state after a failed fetch carries Rate 0 and HoursToFunding 8.
type FundingState struct {
	Symbol         string       `json:"symbol"`
	Timestamp      time.Time    `json:"timestamp"`
	Rate           float64      `json:"rate"`
	HoursToFunding float64      `json:"hours_to_funding"`
	Trend          FundingTrend `json:"trend"`
	Avg24h         float64      `json:"avg_24h"`
	ArbitrageScore float64      `json:"arbitrage_score"`
	FavorableSide  PositionSide `json:"favorable_side"`
}

// CascadeDirection is the direction a liquidation cascade would push price.
type CascadeDirection string

const (
	CascadeDown    CascadeDirection = "down"
	CascadeUp      CascadeDirection = "up"
	CascadeNeutral CascadeDirection = "neutral"
)

// LiquidationState is the liquidation analyzer output for one symbol.
// Estimated is true when no live force-order data was available and the
// volumes were inferred from stored snapshot bars.
type LiquidationState struct {
	Symbol             string           `json:"symbol"`
	Timestamp          time.Time        `json:"timestamp"`
	LongVolume1h       float64          `json:"long_volume_1h"`
	ShortVolume1h      float64          `json:"short_volume_1h"`
	Ratio              float64          `json:"ratio"`
	CascadeProbability float64          `json:"cascade_probability"`
	CascadeDirection   CascadeDirection `json:"cascade_direction"`
	NearestZone        float64          `json:"nearest_zone"`
	Estimated          bool             `json:"estimated"`
}

// MarketRegime classifies the statistical behavior of a symbol's recent history.
type MarketRegime string

const (
	RegimeTrending MarketRegime = "trending"
	RegimeRanging  MarketRegime = "ranging"
	RegimeVolatile MarketRegime = "volatile"
	RegimeMixed    MarketRegime = "mixed"
	RegimeUnknown  MarketRegime = "unknown"
)

// Action is the trading stance a composite signal recommends.
type Action string

const (
	ActionStrongBuy    Action = "STRONG_BUY"
	ActionStrongSell   Action = "STRONG_SELL"
	ActionBuy          Action = "BUY"
	ActionSell         Action = "SELL"
	ActionFundingLong  Action = "FUNDING_LONG"
	ActionFundingShort Action = "FUNDING_SHORT"
	ActionWatch        Action = "WATCH"
	ActionNeutral      Action = "NEUTRAL"
)

// RiskLevel grades a composite signal.
type RiskLevel string

const (
	RiskExtreme RiskLevel = "EXTREME"
	RiskHigh    RiskLevel = "HIGH"
	RiskMedium  RiskLevel = "MEDIUM"
	RiskLow     RiskLevel = "LOW"
)

// SignalType identifies one of the individual detectors.
type SignalType string

const (
	SignalVolumeExplosion     SignalType = "volume_explosion"
	SignalRSIDivergence       SignalType = "rsi_divergence"
	SignalMomentumShift       SignalType = "momentum_shift"
	SignalLiquidityTrap       SignalType = "liquidity_trap"
	SignalAccumulation        SignalType = "accumulation"
	SignalLiquidationSqueeze  SignalType = "liquidation_squeeze"
	SignalFundingArbitrage    SignalType = "funding_arbitrage"
	SignalHiddenAccumulation  SignalType = "hidden_accumulation"
	SignalTimeframeDivergence SignalType = "timeframe_divergence"
)

// SignalComponent is one triggered detector inside a composite signal.
type SignalComponent struct {
	Type        SignalType `json:"type"`
	Confidence  float64    `json:"confidence"`
	Weight      float64    `json:"weight"`
	Description string     `json:"description"`
}

// CompositeSignal is the combined detector output for one symbol in one cycle.
// Confidence is the weighted score after the statistical adjustment and may
// exceed 1 before the prioritizer clamps it.
type CompositeSignal struct {
	Symbol        string            `json:"symbol"`
	Timestamp     time.Time         `json:"timestamp"`
	Action        Action            `json:"action"`
	RiskLevel     RiskLevel         `json:"risk_level"`
	Confidence    float64           `json:"confidence"`
	AvgConfidence float64           `json:"avg_confidence"`
	Components    []SignalComponent `json:"components"`
}

// Validate checks composite signal constraints before persistence.
func (s *CompositeSignal) Validate() error {
	if s.Symbol == "" {
		return errors.New("signal symbol must not be empty")
	}
	if s.Timestamp.IsZero() {
		return errors.New("signal timestamp must not be zero")
	}
	if s.Action == "" {
		return errors.New("signal action must not be empty")
	}
	if s.RiskLevel == "" {
		return errors.New("signal risk level must not be empty")
	}
	if s.Confidence < 0 {
		return errors.New("signal confidence must not be negative")
	}
	for _, c := range s.Components {
		if c.Confidence < 0 || c.Confidence > 1 {
			return errors.New("component confidence must be within [0, 1]")
		}
	}
	return nil
}
