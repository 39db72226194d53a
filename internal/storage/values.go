package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/eddiefleurent/stamford_wheeler/internal/models"
)

// ValueEntry is one row of the account value history CSV.
type ValueEntry struct {
	Timestamp        time.Time `json:"timestamp"`
	Cash             float64   `json:"cash"`
	StocksValue      float64   `json:"stocks_value"`
	OptionsValue     float64   `json:"options_value"`
	MutualFundsValue float64   `json:"mutual_funds_value"`
	TotalValue       float64   `json:"total_value"`
	BuyingPower      float64   `json:"buying_power"`
}

var valueHeader = []string{
	"timestamp", "cash", "stocks_value", "options_value",
	"mutual_funds_value", "total_value", "buying_power",
}

// ValueEntryFromSnapshot flattens a snapshot into a history row.
func ValueEntryFromSnapshot(snap *models.AccountSnapshot) ValueEntry {
	at := snap.GeneratedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return ValueEntry{
		Timestamp:        at,
		Cash:             snap.Cash.InexactFloat64(),
		StocksValue:      snap.StocksValue().InexactFloat64(),
		OptionsValue:     snap.OptionsValue().InexactFloat64(),
		MutualFundsValue: snap.MutualFundsValue().InexactFloat64(),
		TotalValue:       snap.TotalValue().InexactFloat64(),
		BuyingPower:      snap.BuyingPower.InexactFloat64(),
	}
}

// AppendAccountValue appends one row to the value history CSV, writing the
// header first when the file is new.
func (s *JSONStore) AppendAccountValue(entry ValueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dataDir, valueHistoryFile)
	_, statErr := os.Stat(path)
	writeHeader := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(valueHeader); err != nil {
			return err
		}
	}
	row := []string{
		entry.Timestamp.UTC().Format(time.RFC3339),
		formatValue(entry.Cash),
		formatValue(entry.StocksValue),
		formatValue(entry.OptionsValue),
		formatValue(entry.MutualFundsValue),
		formatValue(entry.TotalValue),
		formatValue(entry.BuyingPower),
	}
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// RecentAccountValues reads back up to limit rows from the end of the value
// history, oldest first. A limit <= 0 returns all rows.
func (s *JSONStore) RecentAccountValues(limit int) ([]ValueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, err := os.Open(filepath.Join(s.dataDir, valueHistoryFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) <= 1 {
		return nil, nil
	}
	records = records[1:] // drop header
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}

	entries := make([]ValueEntry, 0, len(records))
	for i, rec := range records {
		entry, err := parseValueRow(rec)
		if err != nil {
			return nil, fmt.Errorf("value history row %d: %w", i+2, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func parseValueRow(rec []string) (ValueEntry, error) {
	if len(rec) != len(valueHeader) {
		return ValueEntry{}, fmt.Errorf("expected %d fields, got %d", len(valueHeader), len(rec))
	}
	ts, err := time.Parse(time.RFC3339, rec[0])
	if err != nil {
		return ValueEntry{}, err
	}
	vals := make([]float64, len(rec)-1)
	for i, raw := range rec[1:] {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return ValueEntry{}, err
		}
		vals[i] = v
	}
	return ValueEntry{
		Timestamp:        ts,
		Cash:             vals[0],
		StocksValue:      vals[1],
		OptionsValue:     vals[2],
		MutualFundsValue: vals[3],
		TotalValue:       vals[4],
		BuyingPower:      vals[5],
	}, nil
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
