package microstructure

import (
	"math"
	"testing"
	"time"

	"futures-sentinel/internal/models"
)

func level(price, size float64) models.OrderBookLevel {
	return models.OrderBookLevel{Price: price, Size: size}
}

func tightBook() ([]models.OrderBookLevel, []models.OrderBookLevel) {
	bids := []models.OrderBookLevel{
		level(100.00, 500), level(99.99, 400), level(99.98, 300),
		level(99.97, 200), level(99.96, 100),
	}
	asks := []models.OrderBookLevel{
		level(100.01, 500), level(100.02, 400), level(100.03, 300),
		level(100.04, 200), level(100.05, 100),
	}
	return bids, asks
}

func TestAnalyzeOrderBookSpread(t *testing.T) {
	bids, asks := tightBook()
	ob, err := AnalyzeOrderBook("BTCUSDT", bids, asks)
	if err != nil {
		t.Fatalf("AnalyzeOrderBook() error: %v", err)
	}

	wantSpread := (100.01 - 100.00) / 100.00 * 10000
	if math.Abs(ob.SpreadBps-wantSpread) > 1e-9 {
		t.Errorf("SpreadBps = %f, want %f", ob.SpreadBps, wantSpread)
	}
	if ob.BidDepth10Bps <= 0 || ob.AskDepth10Bps <= 0 {
		t.Error("10bps depth must be positive for a tight book")
	}
	if math.Abs(ob.ImbalanceRatio-1) > 1e-9 {
		t.Errorf("symmetric book imbalance = %f, want 1", ob.ImbalanceRatio)
	}
	if ob.SpoofingScore != 0 {
		t.Errorf("clean book spoofing score = %f, want 0", ob.SpoofingScore)
	}
}

func TestAnalyzeOrderBookImbalance(t *testing.T) {
	bids := []models.OrderBookLevel{level(100, 900), level(99.9, 600)}
	asks := []models.OrderBookLevel{level(100.1, 300), level(100.2, 200)}
	ob, err := AnalyzeOrderBook("ETHUSDT", bids, asks)
	if err != nil {
		t.Fatalf("AnalyzeOrderBook() error: %v", err)
	}
	if math.Abs(ob.ImbalanceRatio-3) > 1e-9 {
		t.Errorf("ImbalanceRatio = %f, want 3", ob.ImbalanceRatio)
	}
}

func TestSpoofingScoreFlagsDistantWalls(t *testing.T) {
	bids := []models.OrderBookLevel{
		level(100, 10), level(99.9, 10),
		// Beyond the top 2, >0.5% away, >3x best size.
		level(99.3, 100), level(99.2, 80), level(99.1, 60),
	}
	asks := []models.OrderBookLevel{
		level(100.1, 10), level(100.2, 10),
		level(100.9, 90), level(101.0, 70),
	}
	ob, err := AnalyzeOrderBook("DOGEUSDT", bids, asks)
	if err != nil {
		t.Fatalf("AnalyzeOrderBook() error: %v", err)
	}
	if math.Abs(ob.SpoofingScore-0.5) > 1e-9 {
		t.Errorf("SpoofingScore = %f, want 0.5 for 5 suspicious levels", ob.SpoofingScore)
	}
}

func TestSpoofingScoreCap(t *testing.T) {
	bids := []models.OrderBookLevel{level(100, 1), level(99.9, 1)}
	for i := 0; i < 15; i++ {
		bids = append(bids, level(99.0-float64(i)*0.1, 50))
	}
	asks := []models.OrderBookLevel{level(100.1, 1)}
	ob, err := AnalyzeOrderBook("XRPUSDT", bids, asks)
	if err != nil {
		t.Fatalf("AnalyzeOrderBook() error: %v", err)
	}
	if ob.SpoofingScore != 1 {
		t.Errorf("SpoofingScore = %f, want cap at 1", ob.SpoofingScore)
	}
}

func TestLiquidityScoreBounds(t *testing.T) {
	bids, asks := tightBook()
	ob, err := AnalyzeOrderBook("BTCUSDT", bids, asks)
	if err != nil {
		t.Fatalf("AnalyzeOrderBook() error: %v", err)
	}
	if ob.LiquidityScore < 0 || ob.LiquidityScore > 1 {
		t.Errorf("LiquidityScore out of [0, 1]: %f", ob.LiquidityScore)
	}

	wide := []models.OrderBookLevel{level(100, 1)}
	wideAsks := []models.OrderBookLevel{level(110, 1)}
	low, err := AnalyzeOrderBook("BTCUSDT", wide, wideAsks)
	if err != nil {
		t.Fatalf("AnalyzeOrderBook() error: %v", err)
	}
	if low.LiquidityScore >= ob.LiquidityScore {
		t.Errorf("wide thin book (%f) must score below tight deep book (%f)",
			low.LiquidityScore, ob.LiquidityScore)
	}
}

func TestAnalyzeOrderBookRejectsEmptySides(t *testing.T) {
	bids, _ := tightBook()
	if _, err := AnalyzeOrderBook("BTCUSDT", bids, nil); err == nil {
		t.Error("empty ask side must return an error")
	}
	if _, err := AnalyzeOrderBook("BTCUSDT", nil, bids); err == nil {
		t.Error("empty bid side must return an error")
	}
}

func TestPriceImpact(t *testing.T) {
	asks := []models.OrderBookLevel{
		level(100, 10), level(101, 10), level(102, 10),
	}

	impact, filled := PriceImpact(asks, 500)
	if !filled {
		t.Fatal("500 notional should fill inside the first level")
	}
	if impact != 0 {
		t.Errorf("impact inside best level = %f, want 0", impact)
	}

	impact, filled = PriceImpact(asks, 1500)
	if !filled {
		t.Fatal("1500 notional should fill at the second level")
	}
	if math.Abs(impact-1) > 1e-9 {
		t.Errorf("impact = %f, want 1", impact)
	}

	impact, filled = PriceImpact(asks, 1e9)
	if filled {
		t.Error("oversized notional must report unfilled")
	}
	if math.Abs(impact-2) > 1e-9 {
		t.Errorf("unfilled impact = %f, want deepest level distance 2", impact)
	}
}

func makeTrades(specs []struct {
	size float64
	side models.TradeSide
}) []models.Trade {
	trades := make([]models.Trade, len(specs))
	now := time.Now()
	for i, s := range specs {
		trades[i] = models.Trade{
			ID:        int64(i + 1),
			Timestamp: now.Add(-time.Duration(i) * time.Second),
			Price:     100,
			Size:      s.size,
			Side:      s.side,
		}
	}
	return trades
}

func TestAnalyzeTradeFlow(t *testing.T) {
	trades := makeTrades([]struct {
		size float64
		side models.TradeSide
	}{
		{30, models.SideBuy}, {10, models.SideSell}, {20, models.SideBuy},
	})

	tf := AnalyzeTradeFlow(trades, 99.9, 100.1)
	if tf == nil {
		t.Fatal("non-empty tape must return a flow summary")
	}
	if tf.BuyVolume != 50 || tf.SellVolume != 10 {
		t.Errorf("volumes = %f/%f, want 50/10", tf.BuyVolume, tf.SellVolume)
	}
	if math.Abs(tf.AggressorRatio-5) > 1e-9 {
		t.Errorf("AggressorRatio = %f, want 5", tf.AggressorRatio)
	}
	if tf.NetFlow != 40 {
		t.Errorf("NetFlow = %f, want 40", tf.NetFlow)
	}
	if math.Abs(tf.AvgTradeSize-20) > 1e-9 {
		t.Errorf("AvgTradeSize = %f, want 20", tf.AvgTradeSize)
	}
	if tf.MaxTradeSize != 30 {
		t.Errorf("MaxTradeSize = %f, want 30", tf.MaxTradeSize)
	}
}

func TestAnalyzeTradeFlowOneSided(t *testing.T) {
	trades := makeTrades([]struct {
		size float64
		side models.TradeSide
	}{
		{15, models.SideBuy}, {25, models.SideBuy},
	})
	tf := AnalyzeTradeFlow(trades, 0, 0)
	if tf.AggressorRatio != 0 {
		t.Errorf("zero sell volume must report ratio 0, got %f", tf.AggressorRatio)
	}
	if tf.BuyVolume != 40 || tf.SellVolume != 0 {
		t.Errorf("volumes = %f/%f, want 40/0", tf.BuyVolume, tf.SellVolume)
	}
}

func TestAnalyzeTradeFlowEmpty(t *testing.T) {
	if tf := AnalyzeTradeFlow(nil, 100, 101); tf != nil {
		t.Error("empty tape must return nil")
	}
}

func TestWashTradingScore(t *testing.T) {
	tests := []struct {
		name  string
		specs []struct {
			size float64
			side models.TradeSide
		}
		want float64
	}{
		{
			"clean tape",
			[]struct {
				size float64
				side models.TradeSide
			}{{13, models.SideBuy}, {27, models.SideSell}, {41, models.SideBuy}},
			0,
		},
		{
			"three identical sizes",
			[]struct {
				size float64
				side models.TradeSide
			}{{50, models.SideBuy}, {50, models.SideBuy}, {50, models.SideSell}, {13, models.SideBuy}},
			0.3,
		},
		{
			"round number dominance",
			[]struct {
				size float64
				side models.TradeSide
			}{
				{100, models.SideBuy}, {200, models.SideSell}, {300, models.SideBuy},
				{400, models.SideSell}, {500, models.SideBuy}, {17, models.SideSell},
			},
			0.2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := washTradingScore(makeTrades(tt.specs))
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("washTradingScore() = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestWashTradingScoreCap(t *testing.T) {
	specs := make([]struct {
		size float64
		side models.TradeSide
	}, 12)
	for i := range specs {
		specs[i].size = 100
		if i%2 == 0 {
			specs[i].side = models.SideBuy
		} else {
			specs[i].side = models.SideSell
		}
	}
	got := washTradingScore(makeTrades(specs))
	if got != 1 {
		t.Errorf("saturated pattern score = %f, want cap at 1", got)
	}
}
