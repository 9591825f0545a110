package priority

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"

	"futures-sentinel/internal/models"
)

func makeAlert(symbol string, action models.Action, risk models.RiskLevel, confidence float64) *models.Alert {
	return &models.Alert{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Timestamp: time.Now(),
		Signal: models.CompositeSignal{
			Symbol:     symbol,
			Timestamp:  time.Now(),
			Action:     action,
			RiskLevel:  risk,
			Confidence: confidence,
		},
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestClassifyTrend(t *testing.T) {
	tests := []struct {
		change float64
		want   BTCTrend
	}{
		{3, TrendStrongUp},
		{1, TrendUp},
		{0, TrendNeutral},
		{-1, TrendDown},
		{-3, TrendStrongDown},
	}
	for _, tt := range tests {
		if got := ClassifyTrend(tt.change); got != tt.want {
			t.Errorf("ClassifyTrend(%f) = %s, want %s", tt.change, got, tt.want)
		}
	}
}

func TestPrioritizeFirstAlertBonus(t *testing.T) {
	p := NewPrioritizer(nil, 0.7, nil)
	alert := makeAlert("BTCUSDT", models.ActionBuy, models.RiskHigh, 0.6)

	got := p.Prioritize(alert, MarketContext{BTCTrend: TrendNeutral})
	// No history: +0.2 for no recent alerts is the only adjustment.
	want := 0.6 * 1.2
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("Prioritize() = %f, want %f", got, want)
	}
	if alert.Priority != got {
		t.Error("Prioritize must store the priority on the alert")
	}
}

func TestPrioritizeAdjustments(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		setup func(*Prioritizer, *models.Alert, *MarketContext)
		want  float64
	}{
		{
			"good win rate",
			func(p *Prioritizer, a *models.Alert, ctx *MarketContext) {
				p.perf["BTCUSDT"] = &models.SymbolPerformance{
					Symbol: "BTCUSDT", TotalAlerts: 10, SuccessfulAlerts: 8, WinRate: 0.8,
				}
			},
			0.6 * (1 + 0.2 + 0.2),
		},
		{
			"poor win rate",
			func(p *Prioritizer, a *models.Alert, ctx *MarketContext) {
				p.perf["BTCUSDT"] = &models.SymbolPerformance{
					Symbol: "BTCUSDT", TotalAlerts: 10, SuccessfulAlerts: 2, WinRate: 0.2,
				}
			},
			0.6 * (1 + 0.2 - 0.3),
		},
		{
			"short track record is neutral",
			func(p *Prioritizer, a *models.Alert, ctx *MarketContext) {
				p.perf["BTCUSDT"] = &models.SymbolPerformance{
					Symbol: "BTCUSDT", TotalAlerts: 2, SuccessfulAlerts: 0, WinRate: 0,
				}
			},
			0.6 * (1 + 0.2),
		},
		{
			"extreme volume z-score",
			func(p *Prioritizer, a *models.Alert, ctx *MarketContext) {
				a.VolumeZScore = 4.5
				a.IsOutlier = true
			},
			0.6 * (1 + 0.2 + 0.3 + 0.1),
		},
		{
			"funding action with extreme rate",
			func(p *Prioritizer, a *models.Alert, ctx *MarketContext) {
				a.Signal.Action = models.ActionFundingShort
				a.Funding = &models.FundingState{Rate: 0.003, HoursToFunding: 1}
			},
			0.6 * (1 + 0.2 + 0.3),
		},
		{
			"probable cascade",
			func(p *Prioritizer, a *models.Alert, ctx *MarketContext) {
				a.Liquidation = &models.LiquidationState{CascadeProbability: 0.85}
			},
			0.6 * (1 + 0.2 + 0.3),
		},
		{
			"many components",
			func(p *Prioritizer, a *models.Alert, ctx *MarketContext) {
				a.Signal.Components = make([]models.SignalComponent, 4)
			},
			0.6 * (1 + 0.2 + 0.2),
		},
		{
			"recent failures",
			func(p *Prioritizer, a *models.Alert, ctx *MarketContext) {
				p.perf["BTCUSDT"] = &models.SymbolPerformance{
					Symbol:         "BTCUSDT",
					RecentFailures: []time.Time{base.Add(-30 * time.Minute), base.Add(-90 * time.Minute)},
				}
			},
			0.6 * (1 + 0.2 - 0.2),
		},
		{
			"counter-trend buy",
			func(p *Prioritizer, a *models.Alert, ctx *MarketContext) {
				ctx.BTCTrend = TrendStrongDown
			},
			0.6 * (1 + 0.2 - 0.2),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPrioritizer(nil, 0.7, nil)
			p.now = fixedClock(base)
			alert := makeAlert("BTCUSDT", models.ActionBuy, models.RiskHigh, 0.6)
			ctx := MarketContext{BTCTrend: TrendNeutral}
			tt.setup(p, alert, &ctx)

			got := p.Prioritize(alert, ctx)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Prioritize() = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestPriorityClampFuzz(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	actions := []models.Action{
		models.ActionStrongBuy, models.ActionStrongSell, models.ActionBuy,
		models.ActionSell, models.ActionFundingLong, models.ActionFundingShort,
	}
	trends := []BTCTrend{TrendStrongUp, TrendUp, TrendNeutral, TrendDown, TrendStrongDown}

	p := NewPrioritizer(nil, 0.7, nil)
	p.now = fixedClock(base)

	for i := 0; i < 10000; i++ {
		alert := makeAlert("FUZZUSDT", actions[rng.Intn(len(actions))], models.RiskHigh, rng.Float64()*2)
		alert.VolumeZScore = rng.Float64()*10 - 2
		alert.IsOutlier = rng.Intn(2) == 0
		alert.Funding = &models.FundingState{Rate: rng.Float64()*0.01 - 0.005}
		alert.Liquidation = &models.LiquidationState{CascadeProbability: rng.Float64()}
		alert.Signal.Components = make([]models.SignalComponent, rng.Intn(7))
		p.perf["FUZZUSDT"] = &models.SymbolPerformance{
			Symbol:      "FUZZUSDT",
			TotalAlerts: rng.Intn(30), SuccessfulAlerts: rng.Intn(10),
			WinRate:        rng.Float64(),
			RecentFailures: []time.Time{base.Add(-time.Duration(rng.Intn(180)) * time.Minute)},
		}

		got := p.Prioritize(alert, MarketContext{BTCTrend: trends[rng.Intn(len(trends))]})
		if got < PriorityFloor || got > PriorityCeil {
			t.Fatalf("iteration %d: priority %f outside [%f, %f]", i, got, PriorityFloor, PriorityCeil)
		}
	}
}

func TestShouldSend(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("below threshold", func(t *testing.T) {
		p := NewPrioritizer(nil, 0.7, nil)
		alert := makeAlert("BTCUSDT", models.ActionBuy, models.RiskHigh, 0.5)
		alert.Priority = 0.5
		if p.ShouldSend(alert, 0) {
			t.Error("priority below threshold must not send")
		}
	})

	t.Run("extreme override", func(t *testing.T) {
		p := NewPrioritizer(nil, 0.7, nil)
		p.now = fixedClock(base)
		alert := makeAlert("BTCUSDT", models.ActionStrongBuy, models.RiskExtreme, 0.95)
		alert.Priority = 0.95
		p.RecordSent(alert)
		// Still inside the cooldown, but extreme above 0.9 always passes.
		if !p.ShouldSend(alert, 0) {
			t.Error("extreme alert above 0.9 must bypass the cooldown")
		}
	})

	t.Run("cooldown requires 1.5x threshold", func(t *testing.T) {
		p := NewPrioritizer(nil, 0.7, nil)
		p.now = fixedClock(base)
		first := makeAlert("BTCUSDT", models.ActionBuy, models.RiskHigh, 0.8)
		first.Priority = 0.8
		p.RecordSent(first)

		during := makeAlert("BTCUSDT", models.ActionBuy, models.RiskHigh, 0.8)
		during.Priority = 0.8
		if p.ShouldSend(during, 0) {
			t.Error("0.8 priority must not break a cooldown with threshold 0.7")
		}

		during.Priority = 1.1
		if !p.ShouldSend(during, 0) {
			t.Error("1.5x threshold must break the cooldown")
		}

		p.now = fixedClock(base.Add(6 * time.Minute))
		during.Priority = 0.8
		if !p.ShouldSend(during, 0) {
			t.Error("expired cooldown must send normally")
		}
	})

	t.Run("volatile regime lowers the gate", func(t *testing.T) {
		p := NewPrioritizer(nil, 0.7, nil)
		alert := makeAlert("BTCUSDT", models.ActionBuy, models.RiskHigh, 0.6)
		alert.Priority = 0.6
		if p.ShouldSend(alert, 0) {
			t.Error("0.6 priority must not pass the static 0.7 gate")
		}
		if !p.ShouldSend(alert, 0.473) {
			t.Error("0.6 priority must pass a volatile-regime threshold of 0.473")
		}
	})

	t.Run("trending regime raises the gate", func(t *testing.T) {
		p := NewPrioritizer(nil, 0.7, nil)
		alert := makeAlert("BTCUSDT", models.ActionBuy, models.RiskHigh, 0.75)
		alert.Priority = 0.75
		if !p.ShouldSend(alert, 0) {
			t.Error("0.75 priority must pass the static 0.7 gate")
		}
		if p.ShouldSend(alert, 0.8) {
			t.Error("0.75 priority must not pass a trending-regime threshold of 0.8")
		}
	})

	t.Run("cooldown break scales with the dynamic threshold", func(t *testing.T) {
		p := NewPrioritizer(nil, 0.7, nil)
		p.now = fixedClock(base)
		first := makeAlert("BTCUSDT", models.ActionBuy, models.RiskHigh, 0.8)
		first.Priority = 0.8
		p.RecordSent(first)

		during := makeAlert("BTCUSDT", models.ActionBuy, models.RiskHigh, 0.8)
		during.Priority = 0.8
		if !p.ShouldSend(during, 0.5) {
			t.Error("0.8 priority must break a cooldown at 1.5x a 0.5 threshold")
		}
		if p.ShouldSend(during, 0.6) {
			t.Error("0.8 priority must not break a cooldown at 1.5x a 0.6 threshold")
		}
	})

	t.Run("funding window rule", func(t *testing.T) {
		p := NewPrioritizer(nil, 0.7, nil)
		alert := makeAlert("BTCUSDT", models.ActionFundingShort, models.RiskHigh, 0.9)
		alert.Priority = 0.9
		alert.Funding = &models.FundingState{Rate: 0.003, HoursToFunding: 5}
		if p.ShouldSend(alert, 0) {
			t.Error("funding play more than 2h from settlement must not send")
		}
		alert.Funding.HoursToFunding = 1
		if !p.ShouldSend(alert, 0) {
			t.Error("funding play within 2h must send")
		}
	})
}

func TestCooldownByRiskLevel(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		risk    models.RiskLevel
		expired time.Duration
		active  time.Duration
	}{
		{models.RiskExtreme, 4 * time.Minute, 2 * time.Minute},
		{models.RiskHigh, 6 * time.Minute, 4 * time.Minute},
		{models.RiskMedium, 11 * time.Minute, 9 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(string(tt.risk), func(t *testing.T) {
			p := NewPrioritizer(nil, 0.7, nil)
			p.now = fixedClock(base)
			alert := makeAlert("BTCUSDT", models.ActionBuy, tt.risk, 0.8)
			alert.Priority = 0.8
			p.RecordSent(alert)

			p.now = fixedClock(base.Add(tt.active))
			if p.ShouldSend(alert, 0) {
				t.Errorf("%s cooldown still active after %s", tt.risk, tt.active)
			}
			p.now = fixedClock(base.Add(tt.expired))
			if !p.ShouldSend(alert, 0) {
				t.Errorf("%s cooldown should expire after %s", tt.risk, tt.expired)
			}
		})
	}
}

type recordingStore struct {
	perf     []*models.SymbolPerformance
	outcomes []models.Outcome
}

func (s *recordingStore) UpsertPerformance(perf *models.SymbolPerformance) error {
	s.perf = append(s.perf, perf)
	return nil
}

func (s *recordingStore) AddOutcome(symbol string, alertTime, checkedAt time.Time, outcome models.Outcome, movePct float64) error {
	s.outcomes = append(s.outcomes, outcome)
	return nil
}

func TestTrackOutcome(t *testing.T) {
	store := &recordingStore{}
	p := NewPrioritizer(store, 0.7, nil)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.now = fixedClock(base)

	alert := makeAlert("BTCUSDT", models.ActionBuy, models.RiskHigh, 0.8)
	alert.Priority = 0.8
	p.RecordSent(alert)
	p.RecordSent(alert)

	p.TrackOutcome("BTCUSDT", base.Add(-time.Hour), models.OutcomeSuccess, 1.5)
	p.TrackOutcome("BTCUSDT", base.Add(-time.Hour), models.OutcomeFailure, -1.2)

	perf := p.Performance("BTCUSDT")
	if perf == nil {
		t.Fatal("expected tracked performance")
	}
	if perf.TotalAlerts != 2 || perf.SuccessfulAlerts != 1 {
		t.Errorf("counts = %d/%d, want 2/1", perf.TotalAlerts, perf.SuccessfulAlerts)
	}
	if math.Abs(perf.WinRate-0.5) > 1e-9 {
		t.Errorf("WinRate = %f, want 0.5", perf.WinRate)
	}
	if len(perf.RecentFailures) != 1 {
		t.Errorf("RecentFailures = %d, want 1", len(perf.RecentFailures))
	}
	if len(store.outcomes) != 2 {
		t.Errorf("persisted outcomes = %d, want 2", len(store.outcomes))
	}
}

func TestTrackOutcomePrunesOldFailures(t *testing.T) {
	p := NewPrioritizer(nil, 0.7, nil)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p.perf["BTCUSDT"] = &models.SymbolPerformance{
		Symbol:         "BTCUSDT",
		TotalAlerts:    1,
		RecentFailures: []time.Time{base.Add(-30 * time.Hour)},
	}
	p.now = fixedClock(base)

	p.TrackOutcome("BTCUSDT", base.Add(-time.Hour), models.OutcomeNeutral, 0.2)
	if n := len(p.Performance("BTCUSDT").RecentFailures); n != 0 {
		t.Errorf("failures older than 24h must be pruned, got %d", n)
	}
}
