package stats

import (
	"errors"
	"math"
	"testing"
	"time"

	"futures-sentinel/internal/models"
)

func snapshot(symbol string, price, volume, change1m float64) *models.MarketSnapshot {
	return &models.MarketSnapshot{
		Symbol:    symbol,
		Timestamp: time.Now(),
		LastPrice: price,
		Volume:    models.VolumeAnalysis{Current: volume},
		Price:     models.PriceMovement{Change1m: change1m},
	}
}

// feed observes n baseline samples with slight deterministic jitter so the
// stddev is small but nonzero.
func feed(a *Analyzer, symbol string, n int) {
	for i := 0; i < n; i++ {
		jitter := float64(i%5) * 0.2
		a.Observe(snapshot(symbol, 100+jitter*0.01, 100+jitter, 0.01*float64(i%3-1)))
	}
}

func TestRingWraparound(t *testing.T) {
	r := newRing(3)
	for i := 1; i <= 5; i++ {
		r.push(float64(i))
	}
	got := r.values()
	want := []float64{3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("values() length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("values()[%d] = %f, want %f", i, got[i], want[i])
		}
	}
}

func TestAnalyzeColdWindowPassesThrough(t *testing.T) {
	a := NewAnalyzer(nil, 0.7)
	feed(a, "BTCUSDT", warmupSamples-1)

	res := a.Analyze(snapshot("BTCUSDT", 100, 5000, 4), 0.6)
	if res.Warm {
		t.Error("window below warmup must report not warm")
	}
	if res.AdjustedConfidence != 0.6 {
		t.Errorf("cold adjustment = %f, want passthrough 0.6", res.AdjustedConfidence)
	}
	if !res.ShouldAlert {
		t.Error("cold window must not suppress alerts")
	}
	if res.Significant {
		t.Error("cold window must not claim significance")
	}
}

func TestAnalyzeVolumeSpikeIsOutlier(t *testing.T) {
	a := NewAnalyzer(nil, 0.7)
	feed(a, "BTCUSDT", 200)

	res := a.Analyze(snapshot("BTCUSDT", 100, 5000, 0), 0.5)
	if !res.Warm {
		t.Fatal("expected warm window")
	}
	if res.ZScore.Volume <= 4 {
		t.Errorf("50x volume z-score = %f, want > 4", res.ZScore.Volume)
	}
	if !res.ZScore.IsOutlier {
		t.Error("extreme volume must flag an outlier")
	}
	if res.ConfidenceMultiplier < 1.5 {
		t.Errorf("multiplier = %f, want >= 1.5 for |z| > 4", res.ConfidenceMultiplier)
	}
	if !res.Significant {
		t.Error("outlier must be significant")
	}
}

func TestAnalyzeTypicalSampleNotOutlier(t *testing.T) {
	a := NewAnalyzer(nil, 0.7)
	feed(a, "BTCUSDT", 200)

	res := a.Analyze(snapshot("BTCUSDT", 100, 100.4, 0), 0.5)
	if res.ZScore.IsOutlier {
		t.Errorf("in-range sample flagged as outlier, z = %+v", res.ZScore)
	}
	if res.ConfidenceMultiplier != 1 {
		t.Errorf("multiplier = %f, want 1 for unremarkable sample", res.ConfidenceMultiplier)
	}
}

func TestConfidenceMultiplierCap(t *testing.T) {
	mult := confidenceMultiplier(ZScore{Volume: 10, Price: 10})
	if mult != 2 {
		t.Errorf("multiplier = %f, want cap at 2", mult)
	}
}

func TestZScoreFlatBaseline(t *testing.T) {
	baseline := make([]float64, 150)
	for i := range baseline {
		baseline[i] = 100
	}
	if z := zScore(baseline, 5000); z != 0 {
		t.Errorf("flat baseline z-score = %f, want 0", z)
	}
}

func TestClassifyRegime(t *testing.T) {
	trending := make([]float64, 200)
	for i := range trending {
		trending[i] = 100 + float64(i)
	}

	ranging := make([]float64, 200)
	for i := range ranging {
		ranging[i] = 100 + float64(i%2)
	}

	volatile := make([]float64, 200)
	v := 100.0
	for i := range volatile {
		if i%2 == 0 {
			v *= 1.04
		} else {
			v *= 0.962
		}
		volatile[i] = v
	}

	tests := []struct {
		name   string
		prices []float64
		want   models.MarketRegime
	}{
		{"steady climb is trending", trending, models.RegimeTrending},
		{"oscillation is ranging", ranging, models.RegimeRanging},
		{"wild swings are volatile", volatile, models.RegimeVolatile},
		{"too short is unknown", []float64{100}, models.RegimeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyRegime(tt.prices)
			if got.Regime != tt.want {
				t.Errorf("classifyRegime() = %s (trend %f, vol %f, eff %f), want %s",
					got.Regime, got.TrendStrength, got.Volatility, got.Efficiency, tt.want)
			}
		})
	}
}

func TestDynamicThreshold(t *testing.T) {
	a := NewAnalyzer(nil, 0.7)

	tests := []struct {
		name   string
		regime Regime
		want   float64
	}{
		{"volatile regime loosens", Regime{Regime: models.RegimeVolatile, Volatility: 3.5}, 0.7 * 0.8 * 0.75},
		{"ranging regime loosens", Regime{Regime: models.RegimeRanging, Volatility: 1}, 0.7 * 0.85},
		{"trending quiet market tightens", Regime{Regime: models.RegimeTrending, Volatility: 0.2}, 0.7 * 1.2 * 1.1},
		{"mixed regime is base", Regime{Regime: models.RegimeMixed, Volatility: 1}, 0.7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.dynamicThreshold(tt.regime)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("dynamicThreshold() = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestVolumePercentile(t *testing.T) {
	a := NewAnalyzer(nil, 0.7)
	for i := 1; i <= 100; i++ {
		a.Observe(snapshot("BTCUSDT", 100, float64(i), 0))
	}

	if p := a.VolumePercentile("BTCUSDT", 1000); p != 100 {
		t.Errorf("above-max percentile = %f, want 100", p)
	}
	if p := a.VolumePercentile("BTCUSDT", 51); p != 50 {
		t.Errorf("median percentile = %f, want 50", p)
	}
	if p := a.VolumePercentile("UNSEEN", 10); p != 0 {
		t.Errorf("unseen symbol percentile = %f, want 0", p)
	}
}

type stubHistory struct {
	snaps []models.MarketSnapshot
	err   error
}

func (s *stubHistory) RecentSnapshots(symbol string, limit int) ([]models.MarketSnapshot, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.snaps, nil
}

func TestBackfillWarmsWindow(t *testing.T) {
	snaps := make([]models.MarketSnapshot, 150)
	for i := range snaps {
		snaps[i] = *snapshot("BTCUSDT", 100, 100+float64(i%5), 0)
	}
	a := NewAnalyzer(&stubHistory{snaps: snaps}, 0.7)

	res := a.Analyze(snapshot("BTCUSDT", 100, 100, 0), 0.5)
	if !res.Warm {
		t.Error("backfilled window must be warm immediately")
	}
	if !a.Warm("BTCUSDT") {
		t.Error("Warm() must agree with backfilled state")
	}
}

func TestBackfillFailureIsAbsorbed(t *testing.T) {
	a := NewAnalyzer(&stubHistory{err: errors.New("db locked")}, 0.7)
	res := a.Analyze(snapshot("BTCUSDT", 100, 100, 0), 0.5)
	if res.Warm {
		t.Error("failed backfill must leave the window cold, not panic")
	}
}
