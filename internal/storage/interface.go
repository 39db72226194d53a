package storage

import (
	"github.com/eddiefleurent/stamford_wheeler/internal/models"
	"github.com/eddiefleurent/stamford_wheeler/internal/putsel"
	"github.com/eddiefleurent/stamford_wheeler/internal/ranking"
	"github.com/eddiefleurent/stamford_wheeler/internal/technicals"
)

// Interface is the persistence contract the orchestrator and monitor depend
// on. Implementations must be safe for concurrent use.
type Interface interface {
	// SaveSnapshot replaces the stored account snapshot.
	SaveSnapshot(snap *models.AccountSnapshot) error
	// LatestSnapshot returns the stored snapshot, or nil when none exists.
	LatestSnapshot() (*models.AccountSnapshot, error)

	// SaveRankings writes a timestamped ranking report and returns its path.
	SaveRankings(r *ranking.Rankings) (string, error)
	// LatestRankings loads the most recent ranking report, or nil.
	LatestRankings() (*ranking.Rankings, error)

	// SaveRecommendations replaces the stored put recommendations by symbol.
	SaveRecommendations(recs map[string]*putsel.Recommendation) error
	// LatestRecommendations returns the stored recommendations, or nil.
	LatestRecommendations() (map[string]*putsel.Recommendation, error)

	// SaveOptionReports replaces the stored option Greeks reports.
	SaveOptionReports(reports map[string]*technicals.OptionReport) error
	// LatestOptionReports returns the stored option reports, or nil.
	LatestOptionReports() (map[string]*technicals.OptionReport, error)

	// AppendAccountValue appends a row to the account value history.
	AppendAccountValue(entry ValueEntry) error
	// RecentAccountValues returns up to limit rows, oldest first.
	RecentAccountValues(limit int) ([]ValueEntry, error)

	// RecordRun appends a run record to the bounded run history.
	RecordRun(run RunRecord) error
	// RunHistory returns the recorded runs, oldest first.
	RunHistory() []RunRecord
}

// NewStorage creates the default file-backed store rooted at dataDir.
func NewStorage(dataDir string) (Interface, error) {
	return NewJSONStore(dataDir)
}

var _ Interface = (*JSONStore)(nil)
