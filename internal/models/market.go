// Package models defines the core domain entities shared across the pipeline:
// candles, market snapshots, order book and trade flow summaries, funding and
// liquidation state, composite signals, and alerts.
package models

import (
	"errors"
	"fmt"
	"time"
)

// Candle is a single OHLCV bar.
type Candle struct {
	OpenTime    time.Time `json:"open_time"`
	Open        float64   `json:"open"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	Close       float64   `json:"close"`
	Volume      float64   `json:"volume"`
	QuoteVolume float64   `json:"quote_volume"`
}

// TradeSide is the aggressor side of a trade.
type TradeSide string

const (
	SideBuy  TradeSide = "buy"
	SideSell TradeSide = "sell"
)

// Trade is a single executed trade from the tape.
type Trade struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	Side      TradeSide `json:"side"`
}

// VolumeAnalysis summarizes the current bar's volume against rolling baselines.
type VolumeAnalysis struct {
	Current        float64 `json:"current"`
	Avg5m          float64 `json:"avg_5m"`
	Avg60m         float64 `json:"avg_60m"`
	Ratio5m        float64 `json:"ratio_5m"`
	Ratio60m       float64 `json:"ratio_60m"`
	IsSpike        bool    `json:"is_spike"`
	SpikeMagnitude float64 `json:"spike_magnitude"`
}

// PriceMovement holds percentage price changes over standard lookback windows.
// A window larger than the available history reports 0.
type PriceMovement struct {
	Change1m     float64 `json:"change_1m"`
	Change5m     float64 `json:"change_5m"`
	Change15m    float64 `json:"change_15m"`
	Change60m    float64 `json:"change_60m"`
	HighLowRange float64 `json:"high_low_range"`
}

// TimeframeDivergence reports disagreement between short and long timeframe trends.
type TimeframeDivergence struct {
	Detected bool    `json:"detected"`
	Bullish  bool    `json:"bullish"`
	Strength float64 `json:"strength"`
}

// MarketSnapshot is the per-symbol output of one indicator pass over a candle
// buffer. RSI14 is nil while fewer than period+1 closes are available.
type MarketSnapshot struct {
	Symbol     string         `json:"symbol"`
	Timestamp  time.Time      `json:"timestamp"`
	LastPrice  float64        `json:"last_price"`
	Volume     VolumeAnalysis `json:"volume"`
	Price      PriceMovement  `json:"price"`
	RSI14      *float64       `json:"rsi_14,omitempty"`
	Momentum10 float64        `json:"momentum_10"`
}

// Validate checks snapshot field constraints before persistence.
func (s *MarketSnapshot) Validate() error {
	if s.Symbol == "" {
		return errors.New("snapshot symbol must not be empty")
	}
	if s.Timestamp.IsZero() {
		return errors.New("snapshot timestamp must not be zero")
	}
	if s.LastPrice <= 0 {
		return fmt.Errorf("snapshot last price must be positive, got %f", s.LastPrice)
	}
	if s.Volume.Current < 0 {
		return errors.New("snapshot volume must not be negative")
	}
	if s.RSI14 != nil && (*s.RSI14 < 0 || *s.RSI14 > 100) {
		return fmt.Errorf("RSI must be within [0, 100], got %f", *s.RSI14)
	}
	return nil
}

// OrderBookLevel is one price level of the book.
type OrderBookLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// OrderBookSnapshot holds derived order book metrics for one symbol.
type OrderBookSnapshot struct {
	Symbol         string    `json:"symbol"`
	Timestamp      time.Time `json:"timestamp"`
	BestBid        float64   `json:"best_bid"`
	BestAsk        float64   `json:"best_ask"`
	SpreadBps      float64   `json:"spread_bps"`
	BidDepth10Bps  float64   `json:"bid_depth_10bps"`
	AskDepth10Bps  float64   `json:"ask_depth_10bps"`
	BidLevels      int       `json:"bid_levels"`
	AskLevels      int       `json:"ask_levels"`
	ImbalanceRatio float64   `json:"imbalance_ratio"`
	SpoofingScore  float64   `json:"spoofing_score"`
	LiquidityScore float64   `json:"liquidity_score"`
}

// TradeFlow summarizes recent trade tape activity for one symbol.
// AggressorRatio is 0 when SellVolume is 0; consumers that care about one-sided
// flow must check the volumes directly.
type TradeFlow struct {
	TradeCount          int     `json:"trade_count"`
	BuyVolume           float64 `json:"buy_volume"`
	SellVolume          float64 `json:"sell_volume"`
	NetFlow             float64 `json:"net_flow"`
	BuyCount            int     `json:"buy_count"`
	SellCount           int     `json:"sell_count"`
	AvgTradeSize        float64 `json:"avg_trade_size"`
	MaxTradeSize        float64 `json:"max_trade_size"`
	AggressorRatio      float64 `json:"aggressor_ratio"`
	WashTradingScore    float64 `json:"wash_trading_score"`
	VolumeConcentration float64 `json:"volume_concentration"`
	EffectiveSpreadBps  float64 `json:"effective_spread_bps"`
}
