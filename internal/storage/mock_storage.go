package storage

import (
	"sync"

	"github.com/eddiefleurent/stamford_wheeler/internal/models"
	"github.com/eddiefleurent/stamford_wheeler/internal/putsel"
	"github.com/eddiefleurent/stamford_wheeler/internal/ranking"
	"github.com/eddiefleurent/stamford_wheeler/internal/technicals"
)

// MockStore is an in-memory Interface implementation for tests. Set the
// error fields to force failures.
type MockStore struct {
	mu sync.RWMutex

	Snapshot        *models.AccountSnapshot
	Rankings        *ranking.Rankings
	Recommendations map[string]*putsel.Recommendation
	OptionReports   map[string]*technicals.OptionReport
	Values          []ValueEntry
	Runs            []RunRecord

	SaveErr error
	LoadErr error
}

var _ Interface = (*MockStore)(nil)

// NewMockStore returns an empty mock store.
func NewMockStore() *MockStore {
	return &MockStore{}
}

func (m *MockStore) SaveSnapshot(snap *models.AccountSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.Snapshot = snap
	return nil
}

func (m *MockStore) LatestSnapshot() (*models.AccountSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	return m.Snapshot, nil
}

func (m *MockStore) SaveRankings(r *ranking.Rankings) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return "", m.SaveErr
	}
	m.Rankings = r
	return "mock_rankings.json", nil
}

func (m *MockStore) LatestRankings() (*ranking.Rankings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	return m.Rankings, nil
}

func (m *MockStore) SaveRecommendations(recs map[string]*putsel.Recommendation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.Recommendations = recs
	return nil
}

func (m *MockStore) LatestRecommendations() (map[string]*putsel.Recommendation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	return m.Recommendations, nil
}

func (m *MockStore) SaveOptionReports(reports map[string]*technicals.OptionReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.OptionReports = reports
	return nil
}

func (m *MockStore) LatestOptionReports() (map[string]*technicals.OptionReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	return m.OptionReports, nil
}

func (m *MockStore) AppendAccountValue(entry ValueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.Values = append(m.Values, entry)
	return nil
}

func (m *MockStore) RecentAccountValues(limit int) ([]ValueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	vals := m.Values
	if limit > 0 && len(vals) > limit {
		vals = vals[len(vals)-limit:]
	}
	out := make([]ValueEntry, len(vals))
	copy(out, vals)
	return out, nil
}

func (m *MockStore) RecordRun(run RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.Runs = append(m.Runs, run)
	return nil
}

func (m *MockStore) RunHistory() []RunRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RunRecord, len(m.Runs))
	copy(out, m.Runs)
	return out
}
