// Package funding analyzes perpetual funding rates: fetch with a short cache,
// trend classification over persisted history, and an arbitrage opportunity
// score shaped by time-to-funding and RSI confirmation.
package funding

import (
	"context"
	"math"
	"sync"
	"time"

	"futures-sentinel/internal/logger"
	"futures-sentinel/internal/models"
)

const (
	cacheTTL = 5 * time.Minute
	// Funding settles every 8 hours at 00:00, 08:00 and 16:00 UTC.
	fundingPeriodHours = 8
	rateFloor          = 0.002
)

// RateSource fetches the current funding rate for a symbol.
type RateSource interface {
	FundingRate(ctx context.Context, symbol string) (float64, error)
}

// HistoryStore persists funding readings and serves them back newest-first.
type HistoryStore interface {
	AddFundingReading(state *models.FundingState) error
	RecentFundingRates(symbol string, since time.Time) ([]float64, error)
}

type cacheEntry struct {
	rate    float64
	fetched time.Time
}

// Analyzer caches funding fetches per symbol. Rate is safe for concurrent use
// by the fan-out phase; Analyze belongs to the monitor loop.
type Analyzer struct {
	src   RateSource
	store HistoryStore

	mu    sync.Mutex
	cache map[string]cacheEntry

	now func() time.Time
}

// NewAnalyzer builds a funding analyzer. store may be nil; trend then stays
// unknown and readings are not persisted.
func NewAnalyzer(src RateSource, store HistoryStore) *Analyzer {
	return &Analyzer{
		src:   src,
		store: store,
		cache: make(map[string]cacheEntry),
		now:   time.Now,
	}
}

// Rate returns the symbol's funding rate, serving from cache within the TTL.
// ok is false when no fresh rate could be obtained.
func (a *Analyzer) Rate(ctx context.Context, symbol string) (float64, bool) {
	a.mu.Lock()
	entry, hit := a.cache[symbol]
	a.mu.Unlock()
	if hit && a.now().Sub(entry.fetched) < cacheTTL {
		return entry.rate, true
	}

	rate, err := a.src.FundingRate(ctx, symbol)
	if err != nil {
		logger.Warn("funding rate fetch failed for %s: %v", symbol, err)
		return 0, false
	}

	a.mu.Lock()
	a.cache[symbol] = cacheEntry{rate: rate, fetched: a.now()}
	a.mu.Unlock()
	return rate, true
}

// Analyze derives the funding state from a fetched rate. When ok is false the
// zero-state is returned: rate 0, a full period to funding, trend unknown.
// rsi may be nil when undefined; the arbitrage score then skips confirmation.
func (a *Analyzer) Analyze(symbol string, rate float64, ok bool, rsi *float64) models.FundingState {
	now := a.now().UTC()
	state := models.FundingState{
		Symbol:         symbol,
		Timestamp:      now,
		HoursToFunding: fundingPeriodHours,
		Trend:          models.FundingUnknown,
		FavorableSide:  models.PositionNone,
	}
	if !ok {
		return state
	}

	state.Rate = rate
	state.HoursToFunding = hoursToFunding(now)
	state.FavorableSide = favorableSide(rate)
	state.Trend, state.Avg24h = a.classifyTrend(symbol, now)
	state.ArbitrageScore = arbitrageScore(rate, state.HoursToFunding, state.FavorableSide, rsi)

	if a.store != nil {
		if err := a.store.AddFundingReading(&state); err != nil {
			logger.Warn("funding history write failed for %s: %v", symbol, err)
		}
	}
	return state
}

// hoursToFunding measures the time to the next 00/08/16 UTC settlement.
func hoursToFunding(now time.Time) float64 {
	hour := float64(now.Hour()) + float64(now.Minute())/60 + float64(now.Second())/3600
	elapsed := math.Mod(hour, fundingPeriodHours)
	return fundingPeriodHours - elapsed
}

// favorableSide names the side being paid by the current rate: positive rates
// pay shorts, negative rates pay longs.
func favorableSide(rate float64) models.PositionSide {
	switch {
	case rate > 0:
		return models.PositionShort
	case rate < 0:
		return models.PositionLong
	default:
		return models.PositionNone
	}
}

// classifyTrend compares the mean of the last 3 persisted readings against
// the 3 before them with a 20% band.
func (a *Analyzer) classifyTrend(symbol string, now time.Time) (models.FundingTrend, float64) {
	if a.store == nil {
		return models.FundingUnknown, 0
	}
	rates, err := a.store.RecentFundingRates(symbol, now.Add(-24*time.Hour))
	if err != nil {
		logger.Warn("funding history read failed for %s: %v", symbol, err)
		return models.FundingUnknown, 0
	}
	if len(rates) < 3 {
		return models.FundingUnknown, avg(rates)
	}

	recent := avg(rates[:3])
	if len(rates) < 6 {
		return models.FundingStable, avg(rates)
	}
	older := avg(rates[3:6])

	switch {
	case math.Abs(recent) > math.Abs(older)*1.2:
		return models.FundingIncreasing, avg(rates)
	case math.Abs(recent) < math.Abs(older)*0.8:
		return models.FundingDecreasing, avg(rates)
	default:
		return models.FundingStable, avg(rates)
	}
}

// arbitrageScore scales the rate magnitude by urgency and RSI confirmation.
// An RSI agreeing with the favorable side boosts the score, a contradicting
// one dampens it.
func arbitrageScore(rate, hoursToFunding float64, side models.PositionSide, rsi *float64) float64 {
	base := math.Min(math.Abs(rate)/rateFloor, 1)
	if base == 0 {
		return 0
	}

	timeMult := 1.0
	switch {
	case hoursToFunding < 1:
		timeMult = 1.5
	case hoursToFunding < 2:
		timeMult = 1.3
	case hoursToFunding < 4:
		timeMult = 1.1
	case hoursToFunding > 6:
		timeMult = 0.8
	}

	marketMult := 1.0
	if rsi != nil {
		switch {
		case side == models.PositionShort && *rsi > 70:
			marketMult = 1.3
		case side == models.PositionLong && *rsi < 30:
			marketMult = 1.3
		case side == models.PositionShort && *rsi < 30:
			marketMult = 0.7
		case side == models.PositionLong && *rsi > 70:
			marketMult = 0.7
		}
	}

	return math.Min(base*timeMult*marketMult, 1)
}

func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
