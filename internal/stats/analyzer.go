// Package stats maintains per-symbol rolling sample windows and derives
// Z-scores, outlier flags, market regime, and a regime-aware dynamic alert
// threshold from them.
package stats

import (
	"math"

	"futures-sentinel/internal/logger"
	"futures-sentinel/internal/models"
)

const (
	// windowCap holds 24 hours of one-minute samples.
	windowCap     = 1440
	warmupSamples = 100
)

// HistorySource supplies persisted snapshot bars for window backfill.
// Snapshots are returned newest-first.
type HistorySource interface {
	RecentSnapshots(symbol string, limit int) ([]models.MarketSnapshot, error)
}

// ZScore holds current-sample deviations against the rolling baselines.
type ZScore struct {
	Volume    float64
	Price     float64
	IsOutlier bool
}

// Regime holds the market regime classification and its inputs.
type Regime struct {
	Regime        models.MarketRegime
	TrendStrength float64
	Volatility    float64
	Efficiency    float64
}

// Analysis is the statistical verdict for one symbol in one cycle.
type Analysis struct {
	Warm                 bool
	ZScore               ZScore
	Regime               Regime
	ConfidenceMultiplier float64
	AdjustedConfidence   float64
	DynamicThreshold     float64
	Significant          bool
	ShouldAlert          bool
}

type window struct {
	prices  *ring
	volumes *ring
	changes *ring
}

func newWindow() *window {
	return &window{
		prices:  newRing(windowCap),
		volumes: newRing(windowCap),
		changes: newRing(windowCap),
	}
}

// Analyzer owns the per-symbol windows. It is not safe for concurrent use;
// the monitor loop is its single writer.
type Analyzer struct {
	history       HistorySource
	baseThreshold float64
	windows       map[string]*window
	backfilled    map[string]bool
}

// NewAnalyzer builds an analyzer with the given base confidence threshold.
// history may be nil; windows then warm up from live observations only.
func NewAnalyzer(history HistorySource, baseThreshold float64) *Analyzer {
	if baseThreshold <= 0 {
		baseThreshold = 0.7
	}
	return &Analyzer{
		history:       history,
		baseThreshold: baseThreshold,
		windows:       make(map[string]*window),
		backfilled:    make(map[string]bool),
	}
}

// Observe appends the snapshot's samples to the symbol's windows. Call after
// Analyze so the current sample never skews its own baseline.
func (a *Analyzer) Observe(snap *models.MarketSnapshot) {
	w := a.ensure(snap.Symbol)
	w.prices.push(snap.LastPrice)
	w.volumes.push(snap.Volume.Current)
	w.changes.push(snap.Price.Change1m)
}

// Warm reports whether the symbol's window has enough samples for analysis.
func (a *Analyzer) Warm(symbol string) bool {
	w, ok := a.windows[symbol]
	return ok && w.volumes.len() >= warmupSamples
}

// Analyze scores the snapshot against the symbol's rolling baselines and
// adjusts baseConfidence. Before warmup it passes the confidence through
// unchanged with ShouldAlert true.
func (a *Analyzer) Analyze(snap *models.MarketSnapshot, baseConfidence float64) Analysis {
	w := a.ensure(snap.Symbol)
	if w.volumes.len() < warmupSamples {
		return Analysis{
			Warm:                 false,
			Regime:               Regime{Regime: models.RegimeUnknown},
			ConfidenceMultiplier: 1,
			AdjustedConfidence:   baseConfidence,
			DynamicThreshold:     a.baseThreshold,
			ShouldAlert:          true,
		}
	}

	z := ZScore{
		Volume: zScore(w.volumes.values(), snap.Volume.Current),
		Price:  zScore(w.changes.values(), snap.Price.Change1m),
	}
	z.IsOutlier = math.Abs(z.Volume) > 3 || math.Abs(z.Price) > 2.5

	mult := confidenceMultiplier(z)
	regime := classifyRegime(w.prices.values())

	res := Analysis{
		Warm:                 true,
		ZScore:               z,
		Regime:               regime,
		ConfidenceMultiplier: mult,
		AdjustedConfidence:   baseConfidence * mult,
		DynamicThreshold:     a.dynamicThreshold(regime),
		Significant:          z.IsOutlier || mult > 1.2,
	}
	res.ShouldAlert = res.AdjustedConfidence >= res.DynamicThreshold
	return res
}

// VolumePercentile ranks a volume against the symbol's window, in [0, 100].
func (a *Analyzer) VolumePercentile(symbol string, volume float64) float64 {
	w, ok := a.windows[symbol]
	if !ok || w.volumes.len() == 0 {
		return 0
	}
	values := w.volumes.values()
	below := 0
	for _, v := range values {
		if v < volume {
			below++
		}
	}
	return float64(below) / float64(len(values)) * 100
}

func (a *Analyzer) ensure(symbol string) *window {
	w, ok := a.windows[symbol]
	if !ok {
		w = newWindow()
		a.windows[symbol] = w
		a.backfill(symbol, w)
	}
	return w
}

// backfill seeds a cold window from persisted snapshots, once per symbol.
func (a *Analyzer) backfill(symbol string, w *window) {
	if a.history == nil || a.backfilled[symbol] {
		return
	}
	a.backfilled[symbol] = true

	snaps, err := a.history.RecentSnapshots(symbol, windowCap)
	if err != nil {
		logger.Warn("stats backfill failed for %s: %v", symbol, err)
		return
	}
	for i := len(snaps) - 1; i >= 0; i-- {
		w.prices.push(snaps[i].LastPrice)
		w.volumes.push(snaps[i].Volume.Current)
		w.changes.push(snaps[i].Price.Change1m)
	}
	if len(snaps) > 0 {
		logger.Debug("stats backfilled %d samples for %s", len(snaps), symbol)
	}
}

// zScore measures value against the window mean and stddev. A degenerate
// (flat) baseline reports 0.
func zScore(baseline []float64, value float64) float64 {
	sd := stddev(baseline)
	if sd == 0 {
		return 0
	}
	return (value - mean(baseline)) / sd
}

func confidenceMultiplier(z ZScore) float64 {
	mult := 1.0
	switch vz := math.Abs(z.Volume); {
	case vz > 4:
		mult *= 1.5
	case vz > 3:
		mult *= 1.3
	case vz > 2:
		mult *= 1.1
	}
	switch pz := math.Abs(z.Price); {
	case pz > 3:
		mult *= 1.4
	case pz > 2:
		mult *= 1.2
	}
	return math.Min(mult, 2)
}

// classifyRegime inspects the price window: directional efficiency and a
// normalized least-squares slope pick trending, return volatility picks
// volatile, low efficiency picks ranging.
func classifyRegime(prices []float64) Regime {
	if len(prices) < 2 {
		return Regime{Regime: models.RegimeUnknown}
	}

	avg := mean(prices)
	slope := lsSlope(prices)
	trendStrength := 0.0
	if avg != 0 {
		trendStrength = math.Abs(slope) / avg * 100
	}

	returns := make([]float64, 0, len(prices)-1)
	var pathLength float64
	for i := 1; i < len(prices); i++ {
		d := prices[i] - prices[i-1]
		pathLength += math.Abs(d)
		if prices[i-1] != 0 {
			returns = append(returns, d/prices[i-1])
		}
	}
	volatility := stddev(returns) * 100

	efficiency := 0.0
	if pathLength > 0 {
		efficiency = math.Abs(prices[len(prices)-1]-prices[0]) / pathLength
	}

	r := Regime{TrendStrength: trendStrength, Volatility: volatility, Efficiency: efficiency}
	switch {
	case trendStrength > 0.1 && efficiency > 0.3:
		r.Regime = models.RegimeTrending
	case volatility > 2:
		r.Regime = models.RegimeVolatile
	case efficiency < 0.2:
		r.Regime = models.RegimeRanging
	default:
		r.Regime = models.RegimeMixed
	}
	return r
}

func lsSlope(values []float64) float64 {
	n := float64(len(values))
	var sumX, sumY, sumXY, sumXX float64
	for i, v := range values {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

func (a *Analyzer) dynamicThreshold(r Regime) float64 {
	threshold := a.baseThreshold

	switch {
	case r.Volatility > 3:
		threshold *= 0.8
	case r.Volatility > 2:
		threshold *= 0.9
	case r.Volatility < 0.5:
		threshold *= 1.2
	}

	switch r.Regime {
	case models.RegimeRanging:
		threshold *= 0.85
	case models.RegimeTrending:
		threshold *= 1.1
	case models.RegimeVolatile:
		threshold *= 0.75
	}
	return threshold
}
