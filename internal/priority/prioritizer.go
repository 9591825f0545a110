// Package priority ranks composite signals for delivery: additive context
// adjustments over the signal confidence, per-symbol cooldowns, and outcome
// feedback into per-symbol win rates.
package priority

import (
	"fmt"
	"math"
	"strings"
	"time"

	"futures-sentinel/internal/logger"
	"futures-sentinel/internal/models"
)

const (
	// PriorityFloor and PriorityCeil bound every computed priority.
	PriorityFloor = 0.1
	PriorityCeil  = 1.5

	recentWindow    = time.Hour
	recentKeep      = 10
	failureWindow   = 2 * time.Hour
	failureRetained = 24 * time.Hour
	// Win-rate adjustments only apply once a symbol has a track record.
	minTrackRecord = 5

	cooldownExtreme = 3 * time.Minute
	cooldownHigh    = 5 * time.Minute
	cooldownDefault = 10 * time.Minute
)

// BTCTrend is the reference-symbol trend used as market context.
type BTCTrend string

const (
	TrendStrongUp   BTCTrend = "strong_up"
	TrendUp         BTCTrend = "up"
	TrendNeutral    BTCTrend = "neutral"
	TrendDown       BTCTrend = "down"
	TrendStrongDown BTCTrend = "strong_down"
)

// ClassifyTrend maps a 5m percent change to a trend bucket.
func ClassifyTrend(change5m float64) BTCTrend {
	switch {
	case change5m > 2:
		return TrendStrongUp
	case change5m > 0.5:
		return TrendUp
	case change5m < -2:
		return TrendStrongDown
	case change5m < -0.5:
		return TrendDown
	default:
		return TrendNeutral
	}
}

// MarketContext is the cross-symbol context for one prioritization pass.
type MarketContext struct {
	BTCTrend BTCTrend
}

// Store persists performance updates and alert outcomes. Both writes are best
// effort; failures never block alerting.
type Store interface {
	UpsertPerformance(perf *models.SymbolPerformance) error
	AddOutcome(symbol string, alertTime, checkedAt time.Time, outcome models.Outcome, movePct float64) error
}

// Prioritizer owns per-symbol alert history and cooldowns. It is not safe for
// concurrent use; the monitor loop is its single writer.
type Prioritizer struct {
	store     Store
	threshold float64

	perf          map[string]*models.SymbolPerformance
	recentAlerts  map[string][]time.Time
	cooldownUntil map[string]time.Time

	now func() time.Time
}

// NewPrioritizer builds a prioritizer over a loaded performance map. perf may
// be nil; store may be nil for in-memory operation.
func NewPrioritizer(store Store, threshold float64, perf map[string]*models.SymbolPerformance) *Prioritizer {
	if threshold <= 0 {
		threshold = 0.7
	}
	if perf == nil {
		perf = make(map[string]*models.SymbolPerformance)
	}
	return &Prioritizer{
		store:         store,
		threshold:     threshold,
		perf:          perf,
		recentAlerts:  make(map[string][]time.Time),
		cooldownUntil: make(map[string]time.Time),
		now:           time.Now,
	}
}

// Prioritize computes the alert's priority and stores it on the alert.
// The result always lies in [PriorityFloor, PriorityCeil].
func (p *Prioritizer) Prioritize(alert *models.Alert, ctx MarketContext) float64 {
	base := math.Min(math.Max(alert.Signal.Confidence, 0), 1)
	adj := p.adjustments(alert, ctx)

	priority := base * (1 + adj)
	priority = math.Min(math.Max(priority, PriorityFloor), PriorityCeil)
	priority = math.Round(priority*1000) / 1000

	alert.Priority = priority
	return priority
}

func (p *Prioritizer) adjustments(alert *models.Alert, ctx MarketContext) float64 {
	now := p.now()
	adj := 0.0

	if perf, ok := p.perf[alert.Symbol]; ok && perf.TotalAlerts >= minTrackRecord {
		switch {
		case perf.WinRate > 0.7:
			adj += 0.2
		case perf.WinRate > 0.6:
			adj += 0.1
		case perf.WinRate < 0.3:
			adj -= 0.3
		case perf.WinRate < 0.4:
			adj -= 0.1
		}
	}

	recent := p.pruneRecent(alert.Symbol, now)
	switch {
	case len(recent) == 0:
		adj += 0.2
	case len(recent) > 5:
		adj -= 0.2
	}

	switch {
	case alert.VolumeZScore > 4:
		adj += 0.3
	case alert.VolumeZScore > 3:
		adj += 0.2
	}
	if alert.IsOutlier {
		adj += 0.1
	}

	if isFundingAction(alert.Signal.Action) && alert.Funding != nil {
		switch rate := math.Abs(alert.Funding.Rate); {
		case rate > 0.002:
			adj += 0.3
		case rate > 0.001:
			adj += 0.2
		}
	}

	if alert.Liquidation != nil {
		switch {
		case alert.Liquidation.CascadeProbability > 0.8:
			adj += 0.3
		case alert.Liquidation.CascadeProbability > 0.6:
			adj += 0.2
		}
	}

	switch n := len(alert.Signal.Components); {
	case n >= 4:
		adj += 0.2
	case n >= 3:
		adj += 0.1
	}

	if perf, ok := p.perf[alert.Symbol]; ok {
		failures := 0
		for _, t := range perf.RecentFailures {
			if now.Sub(t) <= failureWindow {
				failures++
			}
		}
		switch {
		case failures >= 3:
			adj -= 0.4
		case failures >= 2:
			adj -= 0.2
		}
	}

	action := string(alert.Signal.Action)
	if ctx.BTCTrend == TrendStrongDown && strings.HasSuffix(action, "BUY") {
		adj -= 0.2
	}
	if ctx.BTCTrend == TrendStrongUp && strings.HasSuffix(action, "SELL") {
		adj -= 0.2
	}

	return adj
}

// ShouldSend gates delivery: extreme high-priority alerts always pass,
// cooldowns require 1.5x the threshold to break through, funding plays must
// be within 2 hours of settlement. dynamicThreshold is the regime-adjusted
// threshold for this cycle; pass 0 to gate against the static threshold.
func (p *Prioritizer) ShouldSend(alert *models.Alert, dynamicThreshold float64) bool {
	threshold := p.threshold
	if dynamicThreshold > 0 {
		threshold = dynamicThreshold
	}

	if alert.Signal.RiskLevel == models.RiskExtreme && alert.Priority > 0.9 {
		return true
	}
	if until, ok := p.cooldownUntil[alert.Symbol]; ok && p.now().Before(until) {
		if alert.Priority < threshold*1.5 {
			return false
		}
	}
	if alert.Priority < threshold {
		return false
	}
	if isFundingAction(alert.Signal.Action) {
		if alert.Funding == nil || alert.Funding.HoursToFunding > 2 {
			return false
		}
	}
	return true
}

// RecordSent registers a delivered alert: cooldown by risk level, recent-alert
// history, and the symbol's alert count.
func (p *Prioritizer) RecordSent(alert *models.Alert) {
	now := p.now()

	cooldown := cooldownDefault
	switch alert.Signal.RiskLevel {
	case models.RiskExtreme:
		cooldown = cooldownExtreme
	case models.RiskHigh:
		cooldown = cooldownHigh
	}
	p.cooldownUntil[alert.Symbol] = now.Add(cooldown)

	recent := append(p.pruneRecent(alert.Symbol, now), now)
	if len(recent) > recentKeep {
		recent = recent[len(recent)-recentKeep:]
	}
	p.recentAlerts[alert.Symbol] = recent

	perf := p.ensurePerf(alert.Symbol)
	perf.TotalAlerts++
	perf.LastAlertTime = now
	p.upsert(perf)
}

// TrackOutcome folds an evaluated alert outcome into the symbol's record.
func (p *Prioritizer) TrackOutcome(symbol string, alertTime time.Time, outcome models.Outcome, movePct float64) {
	now := p.now()
	perf := p.ensurePerf(symbol)

	switch outcome {
	case models.OutcomeSuccess:
		perf.SuccessfulAlerts++
	case models.OutcomeFailure:
		perf.RecentFailures = append(perf.RecentFailures, now)
	}

	kept := perf.RecentFailures[:0]
	for _, t := range perf.RecentFailures {
		if now.Sub(t) <= failureRetained {
			kept = append(kept, t)
		}
	}
	perf.RecentFailures = kept

	if perf.TotalAlerts > 0 {
		perf.WinRate = float64(perf.SuccessfulAlerts) / float64(perf.TotalAlerts)
	}
	p.upsert(perf)

	if p.store != nil {
		if err := p.store.AddOutcome(symbol, alertTime, now, outcome, movePct); err != nil {
			logger.Warn("outcome write failed for %s: %v", symbol, err)
		}
	}
}

// Performance returns the tracked record for a symbol, or nil.
func (p *Prioritizer) Performance(symbol string) *models.SymbolPerformance {
	return p.perf[symbol]
}

// Summary renders a one-line global performance summary.
func (p *Prioritizer) Summary() string {
	var total, successful int
	for _, perf := range p.perf {
		total += perf.TotalAlerts
		successful += perf.SuccessfulAlerts
	}
	rate := 0.0
	if total > 0 {
		rate = float64(successful) / float64(total) * 100
	}
	return fmt.Sprintf("%d alerts across %d symbols, %.1f%% successful", total, len(p.perf), rate)
}

func (p *Prioritizer) pruneRecent(symbol string, now time.Time) []time.Time {
	kept := p.recentAlerts[symbol][:0]
	for _, t := range p.recentAlerts[symbol] {
		if now.Sub(t) <= recentWindow {
			kept = append(kept, t)
		}
	}
	p.recentAlerts[symbol] = kept
	return kept
}

func (p *Prioritizer) ensurePerf(symbol string) *models.SymbolPerformance {
	perf, ok := p.perf[symbol]
	if !ok {
		perf = &models.SymbolPerformance{Symbol: symbol}
		p.perf[symbol] = perf
	}
	return perf
}

func (p *Prioritizer) upsert(perf *models.SymbolPerformance) {
	if p.store == nil {
		return
	}
	if err := p.store.UpsertPerformance(perf); err != nil {
		logger.Warn("performance write failed for %s: %v", perf.Symbol, err)
	}
}

func isFundingAction(a models.Action) bool {
	return a == models.ActionFundingLong || a == models.ActionFundingShort
}
