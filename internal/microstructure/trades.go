package microstructure

import (
	"math"

	"futures-sentinel/internal/models"
)

const (
	washSampleSize    = 20
	washRoundSample   = 10
	effectiveSpreadN  = 10
	roundSizeQuantum  = 100
	identicalSizeMin  = 3
	roundCountTrigger = 5
)

// AnalyzeTradeFlow summarizes the recent tape for one symbol. Trades are
// expected newest-first. Returns nil when the tape is empty. bestBid and
// bestAsk feed the effective spread; pass 0 when no book is available.
func AnalyzeTradeFlow(trades []models.Trade, bestBid, bestAsk float64) *models.TradeFlow {
	if len(trades) == 0 {
		return nil
	}

	tf := &models.TradeFlow{TradeCount: len(trades)}
	var total float64
	for _, tr := range trades {
		total += tr.Size
		if tr.Size > tf.MaxTradeSize {
			tf.MaxTradeSize = tr.Size
		}
		if tr.Side == models.SideBuy {
			tf.BuyVolume += tr.Size
			tf.BuyCount++
		} else {
			tf.SellVolume += tr.Size
			tf.SellCount++
		}
	}
	tf.NetFlow = tf.BuyVolume - tf.SellVolume
	tf.AvgTradeSize = total / float64(len(trades))
	if total > 0 {
		tf.VolumeConcentration = tf.MaxTradeSize / total
	}
	if tf.SellVolume > 0 {
		tf.AggressorRatio = tf.BuyVolume / tf.SellVolume
	}
	tf.WashTradingScore = washTradingScore(trades)
	tf.EffectiveSpreadBps = effectiveSpreadBps(trades, bestBid, bestAsk)
	return tf
}

// washTradingScore heuristically scores the tape for self-dealing patterns:
// repeated identical sizes, alternating buy/sell pairs of the same size, and a
// tape dominated by round-number sizes. Capped at 1.
func washTradingScore(trades []models.Trade) float64 {
	sample := trades
	if len(sample) > washSampleSize {
		sample = sample[:washSampleSize]
	}

	score := 0.0

	sizeCounts := make(map[float64]int)
	for _, tr := range sample {
		sizeCounts[tr.Size]++
	}
	for _, n := range sizeCounts {
		if n >= identicalSizeMin {
			score += 0.3
			break
		}
	}

	limit := len(sample)
	if limit > washRoundSample {
		limit = washRoundSample
	}
	for i := 2; i < limit; i++ {
		if sample[i].Side != sample[i-1].Side &&
			sample[i].Side == sample[i-2].Side &&
			sample[i].Size == sample[i-2].Size {
			score += 0.2
		}
	}

	round := 0
	for _, tr := range sample[:limit] {
		if tr.Size > 0 && math.Mod(tr.Size, roundSizeQuantum) == 0 {
			round++
		}
	}
	if round >= roundCountTrigger {
		score += 0.2
	}

	return math.Min(score, 1)
}

// effectiveSpreadBps averages 2*|price-mid|/mid over the last trades against
// the current midpoint.
func effectiveSpreadBps(trades []models.Trade, bestBid, bestAsk float64) float64 {
	if bestBid <= 0 || bestAsk <= 0 {
		return 0
	}
	mid := (bestBid + bestAsk) / 2
	sample := trades
	if len(sample) > effectiveSpreadN {
		sample = sample[:effectiveSpreadN]
	}
	var sum float64
	for _, tr := range sample {
		sum += 2 * math.Abs(tr.Price-mid) / mid * 10000
	}
	return sum / float64(len(sample))
}
