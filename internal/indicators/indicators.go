// Package indicators computes per-symbol technical indicators from a candle
// buffer: RSI, volume ratios, price change windows, momentum, and
// multi-timeframe divergence.
package indicators

import (
	"errors"
	"math"
	"time"

	"futures-sentinel/internal/models"
)

// Options tunes an indicator pass. Zero values fall back to defaults.
type Options struct {
	RSIPeriod      int
	SpikeThreshold float64
}

// DefaultOptions returns the standard tuning: RSI(14), spike at 3x baseline.
func DefaultOptions() Options {
	return Options{RSIPeriod: 14, SpikeThreshold: 3}
}

func (o Options) withDefaults() Options {
	if o.RSIPeriod <= 0 {
		o.RSIPeriod = 14
	}
	if o.SpikeThreshold <= 0 {
		o.SpikeThreshold = 3
	}
	return o
}

// RSI computes the relative strength index over simple-averaged gains and
// losses of the last period deltas. ok is false when fewer than period+1
// closes are available; an all-gain window reports 100, all-loss reports 0.
func RSI(closes []float64, period int) (float64, bool) {
	if len(closes) < period+1 {
		return 0, false
	}

	var avgGain, avgLoss float64
	for i := len(closes) - period; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			avgGain += delta
		} else {
			avgLoss -= delta
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

// Analyze runs one indicator pass over a chronological candle buffer and
// returns the market snapshot for the latest bar.
func Analyze(symbol string, candles []models.Candle, opts Options) (*models.MarketSnapshot, error) {
	if symbol == "" {
		return nil, errors.New("symbol must not be empty")
	}
	if len(candles) == 0 {
		return nil, errors.New("candle buffer must not be empty")
	}
	opts = opts.withDefaults()

	closes := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		volumes[i] = c.Volume
	}
	last := candles[len(candles)-1]

	snap := &models.MarketSnapshot{
		Symbol:     symbol,
		Timestamp:  time.Now().UTC(),
		LastPrice:  last.Close,
		Volume:     analyzeVolume(volumes, opts.SpikeThreshold),
		Price:      analyzePrice(candles),
		Momentum10: momentum(closes, 10),
	}
	if rsi, ok := RSI(closes, opts.RSIPeriod); ok {
		snap.RSI14 = &rsi
	}
	return snap, nil
}

func analyzeVolume(volumes []float64, spikeThreshold float64) models.VolumeAnalysis {
	current := volumes[len(volumes)-1]
	va := models.VolumeAnalysis{
		Current: current,
		Avg5m:   trailingMean(volumes, 5),
		Avg60m:  trailingMean(volumes, 60),
	}
	if va.Avg5m > 0 {
		va.Ratio5m = current / va.Avg5m
	}
	if va.Avg60m > 0 {
		va.Ratio60m = current / va.Avg60m
	}
	va.SpikeMagnitude = math.Max(va.Ratio5m, va.Ratio60m)
	va.IsSpike = va.SpikeMagnitude > spikeThreshold
	return va
}

// trailingMean averages up to n values preceding the last element.
func trailingMean(values []float64, n int) float64 {
	hist := values[:len(values)-1]
	if len(hist) == 0 {
		return 0
	}
	if len(hist) > n {
		hist = hist[len(hist)-n:]
	}
	var sum float64
	for _, v := range hist {
		sum += v
	}
	return sum / float64(len(hist))
}

func analyzePrice(candles []models.Candle) models.PriceMovement {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}
	last := candles[len(candles)-1]

	pm := models.PriceMovement{
		Change1m:  changePct(closes, 1),
		Change5m:  changePct(closes, 5),
		Change15m: changePct(closes, 15),
		Change60m: changePct(closes, 60),
	}
	if last.Low > 0 {
		pm.HighLowRange = (last.High - last.Low) / last.Low * 100
	}
	return pm
}

// changePct is the percent move of the latest close against the close n bars
// back, or 0 when the buffer is shorter than n+1 bars.
func changePct(closes []float64, n int) float64 {
	if len(closes) < n+1 {
		return 0
	}
	ref := closes[len(closes)-1-n]
	if ref == 0 {
		return 0
	}
	return (closes[len(closes)-1] - ref) / ref * 100
}

// momentum is the ratio of the latest close to the close n bars back,
// or 0 when history is insufficient.
func momentum(closes []float64, n int) float64 {
	if len(closes) < n+1 {
		return 0
	}
	ref := closes[len(closes)-1-n]
	if ref == 0 {
		return 0
	}
	return closes[len(closes)-1] / ref
}

// shortTrend is the percent move of the mean of the last 2 closes against the
// mean of the first 3 of the last 5 closes.
func shortTrend(candles []models.Candle) (float64, bool) {
	if len(candles) < 5 {
		return 0, false
	}
	tail := candles[len(candles)-5:]
	base := (tail[0].Close + tail[1].Close + tail[2].Close) / 3
	recent := (tail[3].Close + tail[4].Close) / 2
	if base == 0 {
		return 0, false
	}
	return (recent - base) / base * 100, true
}

// DetectTimeframeDivergence flags disagreement between the 1m and 15m trends.
// A falling 15m trend against a rising 1m trend is bullish when the 1m move is
// more than 1x the 15m magnitude; the bearish case mirrors it.
func DetectTimeframeDivergence(oneMin, fifteenMin []models.Candle) models.TimeframeDivergence {
	fast, okFast := shortTrend(oneMin)
	slow, okSlow := shortTrend(fifteenMin)
	if !okFast || !okSlow {
		return models.TimeframeDivergence{}
	}

	strength := math.Abs(fast) / math.Max(math.Abs(slow), 0.1)
	if slow < 0 && fast > 0 && strength > 1 {
		return models.TimeframeDivergence{Detected: true, Bullish: true, Strength: strength}
	}
	if slow > 0 && fast < 0 && strength > 1 {
		return models.TimeframeDivergence{Detected: true, Bullish: false, Strength: strength}
	}
	return models.TimeframeDivergence{}
}
