// Package storage persists run outputs under a single data directory:
// the latest account snapshot, timestamped ranking reports, put
// recommendations, run history and an account value CSV.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/eddiefleurent/stamford_wheeler/internal/models"
	"github.com/eddiefleurent/stamford_wheeler/internal/putsel"
	"github.com/eddiefleurent/stamford_wheeler/internal/ranking"
	"github.com/eddiefleurent/stamford_wheeler/internal/technicals"
)

const (
	snapshotFile        = "account_snapshot.json"
	recommendationsFile = "put_recommendations.json"
	optionReportsFile   = "option_technicals.json"
	runHistoryFile      = "run_history.json"
	valueHistoryFile    = "account_value_history.csv"
	rankingsDir         = "stock_ranking"
	rankingsPrefix      = "wheel_rankings_"
	rankingsTimestamp   = "20060102_150405"
	// maxRunHistory bounds the run log so the file cannot grow unchecked.
	maxRunHistory = 500
)

// RunRecord summarizes one orchestrated run.
type RunRecord struct {
	StartedAt           time.Time `json:"started_at"`
	DurationMS          int64     `json:"duration_ms"`
	TotalValue          float64   `json:"total_value"`
	PutCandidates       int       `json:"put_candidates"`
	CallCandidates      int       `json:"call_candidates"`
	RecommendedSymbols  int       `json:"recommended_symbols"`
	AssignmentsRecorded int       `json:"assignments_recorded"`
	Error               string    `json:"error,omitempty"`
}

// JSONStore is the file-backed Interface implementation. All methods are
// safe for concurrent use.
type JSONStore struct {
	mu      sync.RWMutex
	dataDir string
	runs    []RunRecord
}

// NewJSONStore opens a store rooted at dataDir, creating the directory
// tree and loading any existing run history.
func NewJSONStore(dataDir string) (*JSONStore, error) {
	for _, dir := range []string{dataDir, filepath.Join(dataDir, rankingsDir)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	s := &JSONStore{dataDir: dataDir}
	if err := s.loadRuns(); err != nil {
		return nil, fmt.Errorf("loading run history: %w", err)
	}
	return s, nil
}

func (s *JSONStore) loadRuns() error {
	path := filepath.Join(s.dataDir, runHistoryFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, &s.runs)
}

// writeJSON marshals v and atomically replaces path via temp-then-rename.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// SaveSnapshot replaces the stored account snapshot.
func (s *JSONStore) SaveSnapshot(snap *models.AccountSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(filepath.Join(s.dataDir, snapshotFile), snap)
}

// LatestSnapshot returns the stored snapshot, or nil when none exists.
func (s *JSONStore) LatestSnapshot() (*models.AccountSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var snap models.AccountSnapshot
	err := readJSON(filepath.Join(s.dataDir, snapshotFile), &snap)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// SaveRankings writes a timestamped ranking report and returns its path.
func (s *JSONStore) SaveRankings(r *ranking.Rankings) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stamp := r.Summary.GeneratedAt
	if stamp.IsZero() {
		stamp = time.Now().UTC()
	}
	name := rankingsPrefix + stamp.Format(rankingsTimestamp) + ".json"
	path := filepath.Join(s.dataDir, rankingsDir, name)
	if err := writeJSON(path, r); err != nil {
		return "", err
	}
	return path, nil
}

// LatestRankings loads the most recent ranking report, or nil when the
// directory is empty.
func (s *JSONStore) LatestRankings() (*ranking.Rankings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pattern := filepath.Join(s.dataDir, rankingsDir, rankingsPrefix+"*.json")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}
	// Timestamped names sort chronologically.
	sort.Strings(matches)
	var r ranking.Rankings
	if err := readJSON(matches[len(matches)-1], &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// SaveRecommendations replaces the stored put recommendations.
func (s *JSONStore) SaveRecommendations(recs map[string]*putsel.Recommendation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(filepath.Join(s.dataDir, recommendationsFile), recs)
}

// LatestRecommendations returns the stored put recommendations, or nil.
func (s *JSONStore) LatestRecommendations() (map[string]*putsel.Recommendation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recs := make(map[string]*putsel.Recommendation)
	err := readJSON(filepath.Join(s.dataDir, recommendationsFile), &recs)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// SaveOptionReports replaces the stored option Greeks reports, keyed by
// contract symbol.
func (s *JSONStore) SaveOptionReports(reports map[string]*technicals.OptionReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return writeJSON(filepath.Join(s.dataDir, optionReportsFile), reports)
}

// LatestOptionReports returns the stored option reports, or nil.
func (s *JSONStore) LatestOptionReports() (map[string]*technicals.OptionReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reports := make(map[string]*technicals.OptionReport)
	err := readJSON(filepath.Join(s.dataDir, optionReportsFile), &reports)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return reports, nil
}

// RecordRun appends a run record and persists the bounded history.
func (s *JSONStore) RecordRun(run RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	if len(s.runs) > maxRunHistory {
		s.runs = s.runs[len(s.runs)-maxRunHistory:]
	}
	return writeJSON(filepath.Join(s.dataDir, runHistoryFile), s.runs)
}

// RunHistory returns a copy of the recorded runs, oldest first.
func (s *JSONStore) RunHistory() []RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RunRecord, len(s.runs))
	copy(out, s.runs)
	return out
}
