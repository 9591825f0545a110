// Package monitor orchestrates one polling cycle: concurrent market data
// fetches per symbol, a sequential scoring pass through the analyzers, and
// prioritized alert delivery with outcome tracking.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"futures-sentinel/internal/funding"
	"futures-sentinel/internal/indicators"
	"futures-sentinel/internal/liquidation"
	"futures-sentinel/internal/logger"
	"futures-sentinel/internal/microstructure"
	"futures-sentinel/internal/models"
	"futures-sentinel/internal/priority"
	"futures-sentinel/internal/report"
	"futures-sentinel/internal/signal"
	"futures-sentinel/internal/stats"
	"futures-sentinel/internal/storage"
)

const (
	outcomeHorizon = time.Hour
	// Moves beyond this percent settle an alert as success or failure.
	outcomeMovePct = 1.0
)

// MarketData fetches raw market records per symbol.
type MarketData interface {
	Candles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error)
	OrderBook(ctx context.Context, symbol string, depth int) (bids, asks []models.OrderBookLevel, err error)
	RecentTrades(ctx context.Context, symbol string, limit int) ([]models.Trade, error)
}

// Notifier delivers alerts and summaries.
type Notifier interface {
	SendAlert(alert *models.Alert) error
	SendSummary(summary string) error
}

// Config holds monitoring behavior configuration, resolved from the active
// tuning profile.
type Config struct {
	Symbols   []string
	BTCSymbol string

	CandleLimit       int
	OrderBookDepth    int
	TradeLimit        int
	MaxAlertsPerCycle int

	EnableLiquidation    bool
	EnableMultiTimeframe bool
	EnableStatistics     bool
	EnableFunding        bool
	EnableOrderBook      bool

	VolumeSpikeThreshold float64
}

// Monitor drives the detection pipeline. It is not safe for concurrent use;
// run cycles and sweeps from a single goroutine.
type Monitor struct {
	cfg         Config
	market      MarketData
	store       *storage.Storage
	fundingAn   *funding.Analyzer
	liqAn       *liquidation.Analyzer
	statsAn     *stats.Analyzer
	detector    *signal.Detector
	prioritizer *priority.Prioritizer
	notifier    Notifier
	journal     *report.CSVJournal

	btcTrend priority.BTCTrend
	pending  []pendingOutcome

	now func() time.Time
}

type pendingOutcome struct {
	symbol    string
	alertTime time.Time
	price     float64
	action    models.Action
}

type fetchResult struct {
	symbol     string
	candles    []models.Candle
	tfCandles  []models.Candle
	bids, asks []models.OrderBookLevel
	trades     []models.Trade
	fundRate   float64
	fundOK     bool
	err        error
}

// New builds a monitor over the production detector set. notifier and journal
// may be nil; statsAn may be nil when statistics are disabled.
func New(
	cfg Config,
	market MarketData,
	store *storage.Storage,
	fundingAn *funding.Analyzer,
	liqAn *liquidation.Analyzer,
	statsAn *stats.Analyzer,
	prioritizer *priority.Prioritizer,
	notifier Notifier,
	journal *report.CSVJournal,
) *Monitor {
	return &Monitor{
		cfg:         cfg,
		market:      market,
		store:       store,
		fundingAn:   fundingAn,
		liqAn:       liqAn,
		statsAn:     statsAn,
		detector:    signal.NewDetector(nil),
		prioritizer: prioritizer,
		notifier:    notifier,
		journal:     journal,
		btcTrend:    priority.TrendNeutral,
		now:         time.Now,
	}
}

// RunCycle executes one full polling cycle. A single failed symbol never
// fails the batch; the cycle errors only when every symbol failed.
func (m *Monitor) RunCycle(ctx context.Context) error {
	start := m.now()
	logger.Info("Starting monitoring cycle (%d symbols)", len(m.cfg.Symbols))

	results := m.fetchAll(ctx)

	// Market context comes from the previous cycle's reference snapshot so
	// the reference symbol's position in the batch does not matter.
	mctx := priority.MarketContext{BTCTrend: m.btcTrend}

	var candidates []*models.Alert
	failed := 0
	for _, res := range results {
		if res.err != nil {
			failed++
			logger.Warn("Fetch failed for %s: %v", res.symbol, res.err)
			continue
		}
		if len(res.candles) == 0 {
			logger.Debug("No candles for %s, skipping cycle", res.symbol)
			continue
		}

		alert, err := m.score(res, mctx)
		if err != nil {
			logger.Warn("Scoring failed for %s: %v", res.symbol, err)
			continue
		}
		if alert != nil {
			candidates = append(candidates, alert)
		}
	}
	if failed == len(m.cfg.Symbols) {
		return errors.New("all symbol fetches failed")
	}

	m.deliver(candidates)

	logger.Info("Monitoring cycle completed in %v (%d candidate alerts)",
		time.Since(start), len(candidates))
	return nil
}

// fetchAll runs the I/O fan-out: one goroutine per symbol, joined before any
// scoring touches shared state.
func (m *Monitor) fetchAll(ctx context.Context) []fetchResult {
	results := make([]fetchResult, len(m.cfg.Symbols))
	var wg sync.WaitGroup
	for i, symbol := range m.cfg.Symbols {
		wg.Add(1)
		go func(i int, symbol string) {
			defer wg.Done()
			results[i] = m.fetchSymbol(ctx, symbol)
		}(i, symbol)
	}
	wg.Wait()
	return results
}

func (m *Monitor) fetchSymbol(ctx context.Context, symbol string) fetchResult {
	res := fetchResult{symbol: symbol}

	res.candles, res.err = m.market.Candles(ctx, symbol, "1m", m.cfg.CandleLimit)
	if res.err != nil {
		return res
	}

	if m.cfg.EnableMultiTimeframe {
		tf, err := m.market.Candles(ctx, symbol, "15m", 20)
		if err != nil {
			logger.Debug("15m candles unavailable for %s: %v", symbol, err)
		} else {
			res.tfCandles = tf
		}
	}
	if m.cfg.EnableOrderBook {
		bids, asks, err := m.market.OrderBook(ctx, symbol, m.cfg.OrderBookDepth)
		if err != nil {
			logger.Debug("Order book unavailable for %s: %v", symbol, err)
		} else {
			res.bids, res.asks = bids, asks
		}
		trades, err := m.market.RecentTrades(ctx, symbol, m.cfg.TradeLimit)
		if err != nil {
			logger.Debug("Trades unavailable for %s: %v", symbol, err)
		} else {
			res.trades = trades
		}
	}
	if m.cfg.EnableFunding && m.fundingAn != nil {
		res.fundRate, res.fundOK = m.fundingAn.Rate(ctx, symbol)
	}
	return res
}

// score runs the sequential pipeline for one fetched symbol and returns a
// prioritized alert, or nil when nothing fired.
func (m *Monitor) score(res fetchResult, mctx priority.MarketContext) (*models.Alert, error) {
	opts := indicators.Options{SpikeThreshold: m.cfg.VolumeSpikeThreshold}
	snap, err := indicators.Analyze(res.symbol, res.candles, opts)
	if err != nil {
		return nil, fmt.Errorf("indicator pass: %w", err)
	}

	if res.symbol == m.cfg.BTCSymbol {
		m.btcTrend = priority.ClassifyTrend(snap.Price.Change5m)
	}

	in := signal.Inputs{Snapshot: snap}

	if m.cfg.EnableMultiTimeframe && len(res.tfCandles) > 0 {
		div := indicators.DetectTimeframeDivergence(res.candles, res.tfCandles)
		in.Divergence = &div
	}
	var flow *models.TradeFlow
	if len(res.bids) > 0 && len(res.asks) > 0 {
		ob, err := microstructure.AnalyzeOrderBook(res.symbol, res.bids, res.asks)
		if err != nil {
			logger.Debug("Order book analysis failed for %s: %v", res.symbol, err)
		} else {
			in.OrderBook = ob
			flow = microstructure.AnalyzeTradeFlow(res.trades, ob.BestBid, ob.BestAsk)
		}
	}
	if m.cfg.EnableFunding && m.fundingAn != nil {
		fs := m.fundingAn.Analyze(res.symbol, res.fundRate, res.fundOK, snap.RSI14)
		in.Funding = &fs
	}
	if m.cfg.EnableLiquidation && m.liqAn != nil {
		ls := m.liqAn.Analyze(snap, in.OrderBook)
		in.Liquidation = &ls
	}

	var analysis stats.Analysis
	if m.cfg.EnableStatistics && m.statsAn != nil {
		// First pass without the statistical verdict yields the base
		// confidence the verdict is computed against.
		prelim := m.detector.Evaluate(in)
		analysis = m.statsAn.Analyze(snap, prelim.Confidence)
		in.Stats = &analysis
	}

	sig := m.detector.Evaluate(in)

	if m.cfg.EnableStatistics && m.statsAn != nil {
		m.statsAn.Observe(snap)
	}
	if err := m.store.AddSnapshot(snap); err != nil {
		logger.Warn("Snapshot write failed for %s: %v", res.symbol, err)
	}

	if len(sig.Components) == 0 || sig.Action == models.ActionNeutral {
		return nil, nil
	}

	alert := &models.Alert{
		ID:          uuid.NewString(),
		Symbol:      res.symbol,
		Timestamp:   sig.Timestamp,
		Signal:      sig,
		Price:       snap.LastPrice,
		VolumeRatio: snap.Volume.Ratio5m,
		Change5m:    snap.Price.Change5m,
		RSI14:       snap.RSI14,
		OrderBook:   in.OrderBook,
		TradeFlow:   flow,
		Funding:     in.Funding,
		Liquidation: in.Liquidation,
		Regime:      models.RegimeUnknown,
	}
	if in.Stats != nil {
		alert.VolumeZScore = analysis.ZScore.Volume
		alert.PriceZScore = analysis.ZScore.Price
		alert.IsOutlier = analysis.ZScore.IsOutlier
		alert.Regime = analysis.Regime.Regime
		alert.VolumePercentile = m.statsAn.VolumePercentile(res.symbol, snap.Volume.Current)
		alert.DynamicThreshold = analysis.DynamicThreshold
	}

	m.prioritizer.Prioritize(alert, mctx)
	return alert, nil
}

// deliver sends the top candidates by priority, respecting the per-cycle cap
// and the prioritizer's gates.
func (m *Monitor) deliver(candidates []*models.Alert) {
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Priority > candidates[j].Priority
	})
	if len(candidates) > m.cfg.MaxAlertsPerCycle {
		candidates = candidates[:m.cfg.MaxAlertsPerCycle]
	}

	for _, alert := range candidates {
		if !m.prioritizer.ShouldSend(alert, alert.DynamicThreshold) {
			logger.Debug("Suppressed %s %s (priority %.3f)",
				alert.Symbol, alert.Signal.Action, alert.Priority)
			continue
		}

		delivered := false
		if m.notifier != nil {
			if err := m.notifier.SendAlert(alert); err != nil {
				logger.Error("Alert delivery failed for %s: %v", alert.Symbol, err)
				// Delivery failure leaves cooldown and history untouched.
				continue
			}
			delivered = true
		}
		logger.Info("Alert %s %s priority %.3f confidence %.2f (%d components)",
			alert.Symbol, alert.Signal.Action, alert.Priority,
			alert.Signal.Confidence, len(alert.Signal.Components))

		m.prioritizer.RecordSent(alert)
		m.pending = append(m.pending, pendingOutcome{
			symbol:    alert.Symbol,
			alertTime: alert.Timestamp,
			price:     alert.Price,
			action:    alert.Signal.Action,
		})

		if err := m.store.AddSignal(alert, delivered); err != nil {
			logger.Warn("Signal write failed for %s: %v", alert.Symbol, err)
		}
		if m.journal != nil {
			if err := m.journal.Append(alert); err != nil {
				logger.Warn("Journal write failed for %s: %v", alert.Symbol, err)
			}
		}
	}
}

// SweepOutcomes settles sent alerts older than the horizon against the
// current price and feeds the verdicts back into the prioritizer.
func (m *Monitor) SweepOutcomes(ctx context.Context) {
	now := m.now()
	kept := m.pending[:0]
	for _, p := range m.pending {
		if now.Sub(p.alertTime) < outcomeHorizon {
			kept = append(kept, p)
			continue
		}

		candles, err := m.market.Candles(ctx, p.symbol, "1m", 1)
		if err != nil || len(candles) == 0 {
			logger.Debug("Outcome check deferred for %s: %v", p.symbol, err)
			kept = append(kept, p)
			continue
		}

		movePct := (candles[len(candles)-1].Close - p.price) / p.price * 100
		outcome := evaluateOutcome(p.action, movePct)
		m.prioritizer.TrackOutcome(p.symbol, p.alertTime, outcome, movePct)
		logger.Info("Outcome for %s %s: %s (%.2f%%)", p.symbol, p.action, outcome, movePct)
	}
	m.pending = kept
}

// SendSummary delivers the prioritizer's performance summary.
func (m *Monitor) SendSummary() {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.SendSummary(m.prioritizer.Summary()); err != nil {
		logger.Warn("Summary delivery failed: %v", err)
	}
}

// PendingOutcomes reports how many sent alerts still await settlement.
func (m *Monitor) PendingOutcomes() int {
	return len(m.pending)
}

// evaluateOutcome grades a settled move against the alert's direction.
// Directionless actions settle as neutral.
func evaluateOutcome(action models.Action, movePct float64) models.Outcome {
	name := string(action)
	long := strings.HasSuffix(name, "BUY") || strings.HasSuffix(name, "LONG")
	short := strings.HasSuffix(name, "SELL") || strings.HasSuffix(name, "SHORT")

	switch {
	case long && movePct >= outcomeMovePct:
		return models.OutcomeSuccess
	case long && movePct <= -outcomeMovePct:
		return models.OutcomeFailure
	case short && movePct <= -outcomeMovePct:
		return models.OutcomeSuccess
	case short && movePct >= outcomeMovePct:
		return models.OutcomeFailure
	default:
		return models.OutcomeNeutral
	}
}
