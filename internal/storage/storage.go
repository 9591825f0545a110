// Package storage provides SQLite-backed persistence for snapshot bars,
// composite signals, funding history, alert outcomes, and per-symbol
// performance records.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"futures-sentinel/internal/models"
)

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db *sql.DB
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/futures-sentinel/data.db.
func New(dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "futures-sentinel", "data.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS snapshots (
			symbol          TEXT NOT NULL,
			ts              INTEGER NOT NULL,
			last_price      REAL NOT NULL,
			volume          REAL NOT NULL,
			ratio_5m        REAL NOT NULL,
			ratio_60m       REAL NOT NULL,
			spike_magnitude REAL NOT NULL,
			change_1m       REAL NOT NULL,
			change_5m       REAL NOT NULL,
			change_15m      REAL NOT NULL,
			change_60m      REAL NOT NULL,
			rsi_14          REAL,
			momentum_10     REAL NOT NULL,
			PRIMARY KEY (symbol, ts)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_symbol_ts ON snapshots(symbol, ts DESC)`,
		`CREATE TABLE IF NOT EXISTS signals (
			id           TEXT PRIMARY KEY,
			symbol       TEXT NOT NULL,
			ts           INTEGER NOT NULL,
			action       TEXT NOT NULL,
			risk_level   TEXT NOT NULL,
			confidence   REAL NOT NULL,
			priority     REAL NOT NULL,
			components   TEXT NOT NULL DEFAULT '[]',
			sent         INTEGER DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_signals_symbol_ts ON signals(symbol, ts DESC)`,
		`CREATE TABLE IF NOT EXISTS funding_history (
			symbol           TEXT NOT NULL,
			ts               INTEGER NOT NULL,
			rate             REAL NOT NULL,
			hours_to_funding REAL NOT NULL,
			trend            TEXT NOT NULL,
			arb_score        REAL NOT NULL,
			PRIMARY KEY (symbol, ts)
		)`,
		`CREATE TABLE IF NOT EXISTS performance (
			symbol            TEXT PRIMARY KEY,
			total_alerts      INTEGER NOT NULL DEFAULT 0,
			successful_alerts INTEGER NOT NULL DEFAULT 0,
			win_rate          REAL NOT NULL DEFAULT 0,
			last_alert_ts     INTEGER NOT NULL DEFAULT 0,
			recent_failures   TEXT NOT NULL DEFAULT '[]'
		)`,
		`CREATE TABLE IF NOT EXISTS alert_outcomes (
			symbol     TEXT NOT NULL,
			alert_ts   INTEGER NOT NULL,
			checked_ts INTEGER NOT NULL,
			outcome    TEXT NOT NULL,
			move_pct   REAL NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// AddSnapshot persists one indicator snapshot bar.
func (s *Storage) AddSnapshot(snap *models.MarketSnapshot) error {
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("invalid snapshot: %w", err)
	}

	var rsi sql.NullFloat64
	if snap.RSI14 != nil {
		rsi = sql.NullFloat64{Float64: *snap.RSI14, Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO snapshots
			(symbol, ts, last_price, volume, ratio_5m, ratio_60m, spike_magnitude,
			 change_1m, change_5m, change_15m, change_60m, rsi_14, momentum_10)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		snap.Symbol, snap.Timestamp.UnixNano(), snap.LastPrice,
		snap.Volume.Current, snap.Volume.Ratio5m, snap.Volume.Ratio60m, snap.Volume.SpikeMagnitude,
		snap.Price.Change1m, snap.Price.Change5m, snap.Price.Change15m, snap.Price.Change60m,
		rsi, snap.Momentum10,
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// RecentSnapshots returns up to limit snapshot bars for a symbol, newest-first.
func (s *Storage) RecentSnapshots(symbol string, limit int) ([]models.MarketSnapshot, error) {
	rows, err := s.db.Query(`
		SELECT symbol, ts, last_price, volume, ratio_5m, ratio_60m, spike_magnitude,
		       change_1m, change_5m, change_15m, change_60m, rsi_14, momentum_10
		FROM snapshots WHERE symbol = ? ORDER BY ts DESC LIMIT ?`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []models.MarketSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snaps = append(snaps, *snap)
	}
	return snaps, rows.Err()
}

func scanSnapshot(scan func(...any) error) (*models.MarketSnapshot, error) {
	var snap models.MarketSnapshot
	var tsNano int64
	var rsi sql.NullFloat64
	err := scan(
		&snap.Symbol, &tsNano, &snap.LastPrice,
		&snap.Volume.Current, &snap.Volume.Ratio5m, &snap.Volume.Ratio60m, &snap.Volume.SpikeMagnitude,
		&snap.Price.Change1m, &snap.Price.Change5m, &snap.Price.Change15m, &snap.Price.Change60m,
		&rsi, &snap.Momentum10,
	)
	if err != nil {
		return nil, err
	}
	snap.Timestamp = time.Unix(0, tsNano)
	snap.Volume.IsSpike = snap.Volume.SpikeMagnitude > 3
	if rsi.Valid {
		v := rsi.Float64
		snap.RSI14 = &v
	}
	return &snap, nil
}

// AddSignal persists a prioritized composite signal. sent records whether the
// alert was actually delivered.
func (s *Storage) AddSignal(alert *models.Alert, sent bool) error {
	if err := alert.Signal.Validate(); err != nil {
		return fmt.Errorf("invalid signal: %w", err)
	}
	componentsJSON, err := json.Marshal(alert.Signal.Components)
	if err != nil {
		return fmt.Errorf("failed to marshal components: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO signals
			(id, symbol, ts, action, risk_level, confidence, priority, components, sent)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		alert.ID, alert.Symbol, alert.Timestamp.UnixNano(),
		string(alert.Signal.Action), string(alert.Signal.RiskLevel),
		alert.Signal.Confidence, alert.Priority, string(componentsJSON), boolToInt(sent),
	)
	if err != nil {
		return fmt.Errorf("failed to insert signal: %w", err)
	}
	return nil
}

// AddFundingReading persists one funding analyzer reading.
func (s *Storage) AddFundingReading(state *models.FundingState) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO funding_history
			(symbol, ts, rate, hours_to_funding, trend, arb_score)
		VALUES (?,?,?,?,?,?)`,
		state.Symbol, state.Timestamp.UnixNano(), state.Rate,
		state.HoursToFunding, string(state.Trend), state.ArbitrageScore,
	)
	if err != nil {
		return fmt.Errorf("failed to insert funding reading: %w", err)
	}
	return nil
}

// RecentFundingRates returns rates recorded at or after since, newest-first.
func (s *Storage) RecentFundingRates(symbol string, since time.Time) ([]float64, error) {
	rows, err := s.db.Query(`
		SELECT rate FROM funding_history
		WHERE symbol = ? AND ts >= ? ORDER BY ts DESC`,
		symbol, since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to query funding history: %w", err)
	}
	defer rows.Close()

	var rates []float64
	for rows.Next() {
		var rate float64
		if err := rows.Scan(&rate); err != nil {
			return nil, fmt.Errorf("failed to scan funding rate: %w", err)
		}
		rates = append(rates, rate)
	}
	return rates, rows.Err()
}

// UpsertPerformance writes a symbol's full performance record.
func (s *Storage) UpsertPerformance(perf *models.SymbolPerformance) error {
	failuresJSON, err := json.Marshal(perf.RecentFailures)
	if err != nil {
		return fmt.Errorf("failed to marshal failures: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO performance
			(symbol, total_alerts, successful_alerts, win_rate, last_alert_ts, recent_failures)
		VALUES (?,?,?,?,?,?)`,
		perf.Symbol, perf.TotalAlerts, perf.SuccessfulAlerts, perf.WinRate,
		perf.LastAlertTime.UnixNano(), string(failuresJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert performance: %w", err)
	}
	return nil
}

// LoadPerformance returns every tracked symbol's performance record.
func (s *Storage) LoadPerformance() (map[string]*models.SymbolPerformance, error) {
	rows, err := s.db.Query(`
		SELECT symbol, total_alerts, successful_alerts, win_rate, last_alert_ts, recent_failures
		FROM performance`)
	if err != nil {
		return nil, fmt.Errorf("failed to query performance: %w", err)
	}
	defer rows.Close()

	perf := make(map[string]*models.SymbolPerformance)
	for rows.Next() {
		var p models.SymbolPerformance
		var lastAlertNano int64
		var failuresJSON string

		err := rows.Scan(&p.Symbol, &p.TotalAlerts, &p.SuccessfulAlerts,
			&p.WinRate, &lastAlertNano, &failuresJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to scan performance: %w", err)
		}
		if err := json.Unmarshal([]byte(failuresJSON), &p.RecentFailures); err != nil {
			return nil, fmt.Errorf("failed to unmarshal failures: %w", err)
		}
		p.LastAlertTime = time.Unix(0, lastAlertNano)
		perf[p.Symbol] = &p
	}
	return perf, rows.Err()
}

// AddOutcome records an evaluated alert outcome.
func (s *Storage) AddOutcome(symbol string, alertTime, checkedAt time.Time, outcome models.Outcome, movePct float64) error {
	_, err := s.db.Exec(`
		INSERT INTO alert_outcomes (symbol, alert_ts, checked_ts, outcome, move_pct)
		VALUES (?,?,?,?,?)`,
		symbol, alertTime.UnixNano(), checkedAt.UnixNano(), string(outcome), movePct,
	)
	if err != nil {
		return fmt.Errorf("failed to insert outcome: %w", err)
	}
	return nil
}

// Rotate deletes snapshots, signals and funding history older than maxAge.
func (s *Storage) Rotate(maxAge time.Duration) error {
	cutoff := time.Now().Add(-maxAge).UnixNano()
	for _, table := range []string{"snapshots", "signals", "funding_history"} {
		if _, err := s.db.Exec(`DELETE FROM `+table+` WHERE ts < ?`, cutoff); err != nil {
			return fmt.Errorf("failed to rotate %s: %w", table, err)
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
