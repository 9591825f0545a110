// Package report appends delivered alerts to a CSV journal for offline review.
package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"futures-sentinel/internal/models"
)

var csvHeader = []string{
	"timestamp", "symbol", "action", "risk_level", "priority", "confidence",
	"price", "change_5m", "volume_ratio", "rsi_14",
	"funding_rate", "cascade_probability", "regime", "components",
}

// CSVJournal appends alert rows to a CSV file, writing the header when the
// file is created.
type CSVJournal struct {
	file   *os.File
	writer *csv.Writer
}

// NewCSVJournal opens or creates the journal at path.
func NewCSVJournal(path string) (*CSVJournal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}

	info, err := os.Stat(path)
	fresh := os.IsNotExist(err) || (err == nil && info.Size() == 0)

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open report file: %w", err)
	}

	j := &CSVJournal{file: file, writer: csv.NewWriter(file)}
	if fresh {
		if err := j.writer.Write(csvHeader); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
		j.writer.Flush()
	}
	return j, nil
}

// Append writes one alert row and flushes it to disk.
func (j *CSVJournal) Append(alert *models.Alert) error {
	rsi := ""
	if alert.RSI14 != nil {
		rsi = strconv.FormatFloat(*alert.RSI14, 'f', 2, 64)
	}
	fundingRate := ""
	if alert.Funding != nil {
		fundingRate = strconv.FormatFloat(alert.Funding.Rate, 'f', 6, 64)
	}
	cascade := ""
	if alert.Liquidation != nil {
		cascade = strconv.FormatFloat(alert.Liquidation.CascadeProbability, 'f', 2, 64)
	}
	components := ""
	for i, c := range alert.Signal.Components {
		if i > 0 {
			components += "|"
		}
		components += string(c.Type)
	}

	row := []string{
		alert.Timestamp.UTC().Format("2006-01-02T15:04:05Z"),
		alert.Symbol,
		string(alert.Signal.Action),
		string(alert.Signal.RiskLevel),
		strconv.FormatFloat(alert.Priority, 'f', 3, 64),
		strconv.FormatFloat(alert.Signal.Confidence, 'f', 3, 64),
		strconv.FormatFloat(alert.Price, 'f', -1, 64),
		strconv.FormatFloat(alert.Change5m, 'f', 3, 64),
		strconv.FormatFloat(alert.VolumeRatio, 'f', 2, 64),
		rsi,
		fundingRate,
		cascade,
		string(alert.Regime),
		components,
	}
	if err := j.writer.Write(row); err != nil {
		return fmt.Errorf("failed to write alert row: %w", err)
	}
	j.writer.Flush()
	return j.writer.Error()
}

// Close flushes and closes the journal.
func (j *CSVJournal) Close() error {
	j.writer.Flush()
	if err := j.writer.Error(); err != nil {
		j.file.Close()
		return err
	}
	return j.file.Close()
}
