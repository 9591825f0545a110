// Package liquidation estimates liquidation pressure per symbol: long/short
// liquidation volumes from the live force-order feed with a snapshot-based
// estimation fallback, cascade probability and direction, and nearest
// liquidation zone clustering.
package liquidation

import (
	"math"
	"sort"
	"time"

	"futures-sentinel/internal/logger"
	"futures-sentinel/internal/models"
)

const (
	estimationBars = 60
	// Share of a spike bar's volume attributed to forced closes.
	estimationShare  = 0.3
	zoneClusterWidth = 0.005
	zoneMinMembers   = 3
)

// Feed serves windowed liquidation volumes from a live force-order stream.
// ok is false when the feed has no data for the symbol in its window.
type Feed interface {
	Volumes(symbol string) (longVol, shortVol float64, ok bool)
}

// HistorySource supplies persisted snapshot bars newest-first.
type HistorySource interface {
	RecentSnapshots(symbol string, limit int) ([]models.MarketSnapshot, error)
}

// Analyzer derives liquidation state. feed may be nil; estimation then always
// runs from stored bars.
type Analyzer struct {
	feed Feed
	hist HistorySource
}

func NewAnalyzer(feed Feed, hist HistorySource) *Analyzer {
	return &Analyzer{feed: feed, hist: hist}
}

// Analyze builds the liquidation state for the snapshot's symbol. ob may be
// nil when order book analysis is disabled; thin-book cascade amplification is
// then skipped.
func (a *Analyzer) Analyze(snap *models.MarketSnapshot, ob *models.OrderBookSnapshot) models.LiquidationState {
	state := models.LiquidationState{
		Symbol:           snap.Symbol,
		Timestamp:        time.Now().UTC(),
		CascadeDirection: models.CascadeNeutral,
	}

	bars := a.recentBars(snap.Symbol)

	if a.feed != nil {
		if long, short, ok := a.feed.Volumes(snap.Symbol); ok && long+short > 0 {
			state.LongVolume1h = long
			state.ShortVolume1h = short
		}
	}
	if state.LongVolume1h+state.ShortVolume1h == 0 {
		state.LongVolume1h, state.ShortVolume1h = estimateVolumes(bars)
		state.Estimated = true
	}

	state.Ratio = liquidationRatio(state.LongVolume1h, state.ShortVolume1h)
	state.CascadeProbability, state.CascadeDirection = cascade(state.Ratio, ob)
	state.NearestZone = nearestZone(bars, snap.LastPrice, state.CascadeDirection)
	return state
}

func (a *Analyzer) recentBars(symbol string) []models.MarketSnapshot {
	if a.hist == nil {
		return nil
	}
	bars, err := a.hist.RecentSnapshots(symbol, estimationBars)
	if err != nil {
		logger.Warn("liquidation history read failed for %s: %v", symbol, err)
		return nil
	}
	return bars
}

// estimateVolumes attributes a share of each spike bar's volume to forced
// closes, split by the bar's direction: a sharp down move liquidates longs,
// a sharp up move liquidates shorts.
func estimateVolumes(bars []models.MarketSnapshot) (long, short float64) {
	for _, bar := range bars {
		if bar.Volume.SpikeMagnitude <= 3 {
			continue
		}
		switch {
		case bar.Price.Change1m < -0.5:
			long += bar.Volume.Current * estimationShare
		case bar.Price.Change1m > 0.5:
			short += bar.Volume.Current * estimationShare
		}
	}
	return long, short
}

// liquidationRatio is long/short, reported as 10 when only longs were
// liquidated and 1 when neither side was.
func liquidationRatio(long, short float64) float64 {
	if short > 0 {
		return long / short
	}
	if long > 0 {
		return 10
	}
	return 1
}

// cascade maps the liquidation ratio to a base continuation probability and
// direction, amplified when the book is thin. Capped at 0.95.
func cascade(ratio float64, ob *models.OrderBookSnapshot) (float64, models.CascadeDirection) {
	var prob float64
	dir := models.CascadeNeutral
	switch {
	case ratio > 5:
		prob, dir = 0.7, models.CascadeDown
	case ratio < 0.2:
		prob, dir = 0.7, models.CascadeUp
	case ratio > 2:
		prob, dir = 0.5, models.CascadeDown
	case ratio < 0.5:
		prob, dir = 0.5, models.CascadeUp
	default:
		prob = 0.3
	}

	if ob != nil {
		switch {
		case ob.LiquidityScore < 0.3:
			prob *= 1.5
		case ob.LiquidityScore < 0.5:
			prob *= 1.2
		}
	}
	return math.Min(prob, 0.95), dir
}

// nearestZone clusters the closes of past liquidation-looking bars (volume
// spike plus a sharp 1m move) and returns the nearest cluster in the cascade
// direction: the highest zone at least 1% below price for a down cascade, the
// lowest at least 1% above for an up cascade.
func nearestZone(bars []models.MarketSnapshot, price float64, dir models.CascadeDirection) float64 {
	if dir == models.CascadeNeutral || price <= 0 {
		return 0
	}

	var closes []float64
	for _, bar := range bars {
		if bar.Volume.SpikeMagnitude > 3 && math.Abs(bar.Price.Change1m) > 1 {
			closes = append(closes, bar.LastPrice)
		}
	}
	if len(closes) < zoneMinMembers {
		return 0
	}
	sort.Float64s(closes)

	var zones []float64
	start := 0
	for i := 1; i <= len(closes); i++ {
		if i < len(closes) && closes[i]-closes[start] <= closes[start]*zoneClusterWidth {
			continue
		}
		if i-start >= zoneMinMembers {
			zones = append(zones, mean(closes[start:i]))
		}
		start = i
	}

	best := 0.0
	for _, zone := range zones {
		switch dir {
		case models.CascadeDown:
			if zone < price*0.99 && (best == 0 || zone > best) {
				best = zone
			}
		case models.CascadeUp:
			if zone > price*1.01 && (best == 0 || zone < best) {
				best = zone
			}
		}
	}
	return best
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
