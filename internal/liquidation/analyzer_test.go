package liquidation

import (
	"errors"
	"math"
	"testing"
	"time"

	"futures-sentinel/internal/models"
)

type stubFeed struct {
	long, short float64
	ok          bool
}

func (f *stubFeed) Volumes(symbol string) (float64, float64, bool) {
	return f.long, f.short, f.ok
}

type stubHistory struct {
	bars []models.MarketSnapshot
	err  error
}

func (h *stubHistory) RecentSnapshots(symbol string, limit int) ([]models.MarketSnapshot, error) {
	if h.err != nil {
		return nil, h.err
	}
	return h.bars, nil
}

func bar(price, volume, spikeMag, change1m float64) models.MarketSnapshot {
	return models.MarketSnapshot{
		Symbol:    "BTCUSDT",
		Timestamp: time.Now(),
		LastPrice: price,
		Volume:    models.VolumeAnalysis{Current: volume, SpikeMagnitude: spikeMag},
		Price:     models.PriceMovement{Change1m: change1m},
	}
}

func TestAnalyzeLiveFeed(t *testing.T) {
	feed := &stubFeed{long: 500000, short: 100000, ok: true}
	a := NewAnalyzer(feed, &stubHistory{})

	snap := bar(65000, 100, 1, 0)
	state := a.Analyze(&snap, nil)

	if state.Estimated {
		t.Error("live feed data must not be flagged as estimated")
	}
	if math.Abs(state.Ratio-5) > 1e-9 {
		t.Errorf("Ratio = %f, want 5", state.Ratio)
	}
	if state.CascadeDirection != models.CascadeDown {
		t.Errorf("CascadeDirection = %s, want down for long-heavy liquidations", state.CascadeDirection)
	}
	if math.Abs(state.CascadeProbability-0.5) > 1e-9 {
		t.Errorf("CascadeProbability = %f, want 0.5 for ratio 5", state.CascadeProbability)
	}
}

func TestAnalyzeEstimationFallback(t *testing.T) {
	bars := []models.MarketSnapshot{
		bar(65000, 1000, 4, -1.2),
		bar(65100, 800, 3.5, -0.8),
		bar(65200, 500, 2, -2),
		bar(65300, 600, 5, 1.5),
	}
	a := NewAnalyzer(&stubFeed{ok: false}, &stubHistory{bars: bars})

	snap := bar(65000, 100, 1, 0)
	state := a.Analyze(&snap, nil)

	if !state.Estimated {
		t.Error("fallback path must be flagged as estimated")
	}
	wantLong := (1000 + 800) * 0.3
	wantShort := 600 * 0.3
	if math.Abs(state.LongVolume1h-wantLong) > 1e-9 {
		t.Errorf("LongVolume1h = %f, want %f", state.LongVolume1h, wantLong)
	}
	if math.Abs(state.ShortVolume1h-wantShort) > 1e-9 {
		t.Errorf("ShortVolume1h = %f, want %f", state.ShortVolume1h, wantShort)
	}
}

func TestAnalyzeNoData(t *testing.T) {
	a := NewAnalyzer(nil, &stubHistory{err: errors.New("db closed")})
	snap := bar(65000, 100, 1, 0)
	state := a.Analyze(&snap, nil)

	if state.Ratio != 1 {
		t.Errorf("no-data ratio = %f, want 1", state.Ratio)
	}
	if state.CascadeDirection != models.CascadeNeutral {
		t.Errorf("no-data direction = %s, want neutral", state.CascadeDirection)
	}
	if math.Abs(state.CascadeProbability-0.3) > 1e-9 {
		t.Errorf("no-data probability = %f, want 0.3", state.CascadeProbability)
	}
}

func TestLiquidationRatio(t *testing.T) {
	tests := []struct {
		name        string
		long, short float64
		want        float64
	}{
		{"balanced", 100, 100, 1},
		{"long heavy", 600, 100, 6},
		{"only longs", 300, 0, 10},
		{"no liquidations", 0, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := liquidationRatio(tt.long, tt.short); got != tt.want {
				t.Errorf("liquidationRatio(%f, %f) = %f, want %f", tt.long, tt.short, got, tt.want)
			}
		})
	}
}

func TestCascade(t *testing.T) {
	thin := &models.OrderBookSnapshot{LiquidityScore: 0.2}
	soso := &models.OrderBookSnapshot{LiquidityScore: 0.4}
	deep := &models.OrderBookSnapshot{LiquidityScore: 0.9}

	tests := []struct {
		name     string
		ratio    float64
		ob       *models.OrderBookSnapshot
		wantProb float64
		wantDir  models.CascadeDirection
	}{
		{"extreme long skew", 6, deep, 0.7, models.CascadeDown},
		{"extreme short skew", 0.1, deep, 0.7, models.CascadeUp},
		{"moderate long skew", 3, deep, 0.5, models.CascadeDown},
		{"moderate short skew", 0.4, deep, 0.5, models.CascadeUp},
		{"balanced", 1, deep, 0.3, models.CascadeNeutral},
		{"thin book amplifies", 6, thin, 0.7 * 1.5, models.CascadeDown},
		{"shallow book amplifies less", 6, soso, 0.7 * 1.2, models.CascadeDown},
		{"no book no boost", 6, nil, 0.7, models.CascadeDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prob, dir := cascade(tt.ratio, tt.ob)
			if math.Abs(prob-tt.wantProb) > 1e-9 {
				t.Errorf("cascade prob = %f, want %f", prob, tt.wantProb)
			}
			if dir != tt.wantDir {
				t.Errorf("cascade dir = %s, want %s", dir, tt.wantDir)
			}
		})
	}
}

func TestCascadeCap(t *testing.T) {
	prob, _ := cascade(10, &models.OrderBookSnapshot{LiquidityScore: 0.1})
	if prob != 0.95 {
		t.Errorf("amplified probability = %f, want cap at 0.95", prob)
	}
}

func TestNearestZone(t *testing.T) {
	// Three spike bars clustered near 64000, three near 66500.
	bars := []models.MarketSnapshot{
		bar(64000, 100, 4, -1.5),
		bar(64100, 100, 4, -1.2),
		bar(64050, 100, 5, 1.4),
		bar(66500, 100, 4, 1.8),
		bar(66550, 100, 4, -1.9),
		bar(66520, 100, 6, 1.1),
		bar(65000, 100, 1, 0.1), // not a liquidation bar
	}

	down := nearestZone(bars, 65000, models.CascadeDown)
	if down < 64000 || down > 64100 {
		t.Errorf("down zone = %f, want inside the 64000 cluster", down)
	}

	up := nearestZone(bars, 65000, models.CascadeUp)
	if up < 66500 || up > 66550 {
		t.Errorf("up zone = %f, want inside the 66500 cluster", up)
	}

	if z := nearestZone(bars, 65000, models.CascadeNeutral); z != 0 {
		t.Errorf("neutral direction zone = %f, want 0", z)
	}

	if z := nearestZone(bars[:2], 65000, models.CascadeDown); z != 0 {
		t.Errorf("too few members zone = %f, want 0", z)
	}
}
