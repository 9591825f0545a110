// Package microstructure derives manipulation-relevant metrics from order book
// levels and the recent trade tape: spreads, depth, imbalance, spoofing and
// wash-trading heuristics, and price impact.
package microstructure

import (
	"errors"
	"math"
	"time"

	"futures-sentinel/internal/models"
)

const (
	depthWindowBps    = 10
	spoofDistancePct  = 0.5
	spoofSizeMultiple = 3
	topLevels         = 5
)

// AnalyzeOrderBook computes the order book metric set for one symbol.
// Bids must be sorted by price descending and asks ascending, as delivered by
// the exchange. Returns an error when either side is empty.
func AnalyzeOrderBook(symbol string, bids, asks []models.OrderBookLevel) (*models.OrderBookSnapshot, error) {
	if symbol == "" {
		return nil, errors.New("symbol must not be empty")
	}
	if len(bids) == 0 || len(asks) == 0 {
		return nil, errors.New("order book must have at least one level per side")
	}

	bestBid := bids[0].Price
	bestAsk := asks[0].Price
	if bestBid <= 0 || bestAsk <= 0 {
		return nil, errors.New("best bid and ask must be positive")
	}

	ob := &models.OrderBookSnapshot{
		Symbol:    symbol,
		Timestamp: time.Now().UTC(),
		BestBid:   bestBid,
		BestAsk:   bestAsk,
		SpreadBps: (bestAsk - bestBid) / bestBid * 10000,
		BidLevels: len(bids),
		AskLevels: len(asks),
	}

	bidFloor := bestBid * (1 - depthWindowBps/10000.0)
	for _, lvl := range bids {
		if lvl.Price >= bidFloor {
			ob.BidDepth10Bps += lvl.Size
		}
	}
	askCeil := bestAsk * (1 + depthWindowBps/10000.0)
	for _, lvl := range asks {
		if lvl.Price <= askCeil {
			ob.AskDepth10Bps += lvl.Size
		}
	}

	bidTop := sumSizes(bids, topLevels)
	askTop := sumSizes(asks, topLevels)
	if askTop > 0 {
		ob.ImbalanceRatio = bidTop / askTop
	}

	ob.SpoofingScore = spoofingScore(bids, asks)
	ob.LiquidityScore = liquidityScore(ob.SpreadBps, bestBid, bestAsk, bidTop+askTop, len(bids)+len(asks))
	return ob, nil
}

func sumSizes(levels []models.OrderBookLevel, n int) float64 {
	if len(levels) > n {
		levels = levels[:n]
	}
	var sum float64
	for _, lvl := range levels {
		sum += lvl.Size
	}
	return sum
}

// spoofingScore counts suspiciously large resting orders sitting away from the
// touch: beyond the top 2 levels, more than 0.5% from the best price, and more
// than 3x the best level's size. Score is count/10 capped at 1.
func spoofingScore(bids, asks []models.OrderBookLevel) float64 {
	suspicious := 0
	suspicious += countSpoofLevels(bids, bids[0], func(best, p float64) float64 { return (best - p) / best * 100 })
	suspicious += countSpoofLevels(asks, asks[0], func(best, p float64) float64 { return (p - best) / best * 100 })
	return math.Min(float64(suspicious)/10, 1)
}

func countSpoofLevels(levels []models.OrderBookLevel, best models.OrderBookLevel, distPct func(best, p float64) float64) int {
	if len(levels) <= 2 || best.Size <= 0 {
		return 0
	}
	count := 0
	for _, lvl := range levels[2:] {
		if distPct(best.Price, lvl.Price) > spoofDistancePct && lvl.Size > spoofSizeMultiple*best.Size {
			count++
		}
	}
	return count
}

// liquidityScore blends spread tightness, top-of-book depth and level count
// into a [0, 1] score.
func liquidityScore(spreadBps, bestBid, bestAsk, topDepth float64, levelCount int) float64 {
	mid := (bestBid + bestAsk) / 2
	spreadPct := (bestAsk - bestBid) / mid * 100
	tightness := math.Max(0, 1-spreadPct)
	depth := math.Min(topDepth/10000, 1)
	levels := math.Min(float64(levelCount)/40, 1)
	return 0.4*tightness + 0.4*depth + 0.2*levels
}

// PriceImpact walks the ask ladder to estimate the percent slippage of a
// market buy for the given quote notional. filled is false when the visible
// book cannot absorb the notional; the returned impact then reflects the
// deepest visible level.
func PriceImpact(asks []models.OrderBookLevel, notional float64) (float64, bool) {
	if len(asks) == 0 || notional <= 0 || asks[0].Price <= 0 {
		return 0, false
	}
	bestAsk := asks[0].Price
	remaining := notional
	for _, lvl := range asks {
		remaining -= lvl.Price * lvl.Size
		if remaining <= 0 {
			return (lvl.Price - bestAsk) / bestAsk * 100, true
		}
	}
	last := asks[len(asks)-1]
	return (last.Price - bestAsk) / bestAsk * 100, false
}
