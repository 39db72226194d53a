package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/stamford_wheeler/internal/models"
	"github.com/eddiefleurent/stamford_wheeler/internal/putsel"
	"github.com/eddiefleurent/stamford_wheeler/internal/ranking"
	"github.com/eddiefleurent/stamford_wheeler/internal/technicals"
)

func testStore(t *testing.T) *JSONStore {
	t.Helper()
	s, err := NewJSONStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func sampleSnapshot() *models.AccountSnapshot {
	return &models.AccountSnapshot{
		GeneratedAt:              time.Date(2025, 9, 5, 14, 30, 0, 0, time.UTC),
		Cash:                     decimal.NewFromInt(2500),
		BuyingPower:              decimal.NewFromInt(50000),
		OfficialLiquidationValue: decimal.NewFromInt(100000),
		Stocks: []models.StockPosition{
			{
				Symbol:      "AAPL",
				Quantity:    decimal.NewFromInt(100),
				AvgCost:     decimal.NewFromInt(180),
				MarketPrice: decimal.NewFromInt(185),
			},
		},
		MutualFunds: []models.MutualFundPosition{
			{
				StockPosition: models.StockPosition{
					Symbol:      "SWVXX",
					Quantity:    decimal.NewFromInt(40000),
					AvgCost:     decimal.NewFromInt(1),
					MarketPrice: decimal.NewFromInt(1),
				},
			},
		},
	}
}

func sampleRankings(generatedAt time.Time) *ranking.Rankings {
	return &ranking.Rankings{
		PutCandidates: []ranking.Candidate{
			{Symbol: "AAPL", Score: 91.5, Grade: ranking.GradeExcellent, Strategy: "cash_secured_put"},
		},
		Summary: ranking.Summary{
			TotalPutCandidates: 1,
			TopPutScore:        91.5,
			GeneratedAt:        generatedAt,
		},
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := testStore(t)

	got, err := s.LatestSnapshot()
	require.NoError(t, err)
	assert.Nil(t, got, "empty store should return nil snapshot")

	snap := sampleSnapshot()
	require.NoError(t, s.SaveSnapshot(snap))

	got, err = s.LatestSnapshot()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Cash.Equal(snap.Cash))
	require.Len(t, got.Stocks, 1)
	assert.Equal(t, "AAPL", got.Stocks[0].Symbol)
	assert.True(t, got.GeneratedAt.Equal(snap.GeneratedAt))
}

func TestSaveSnapshotAtomic(t *testing.T) {
	dir := t.TempDir()
	s, err := NewJSONStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.SaveSnapshot(sampleSnapshot()))

	_, err = os.Stat(filepath.Join(dir, snapshotFile+".tmp"))
	assert.True(t, os.IsNotExist(err), "temp file should be renamed away")
}

func TestRankingsLatestPicksNewest(t *testing.T) {
	s := testStore(t)

	got, err := s.LatestRankings()
	require.NoError(t, err)
	assert.Nil(t, got)

	older := sampleRankings(time.Date(2025, 9, 4, 14, 0, 0, 0, time.UTC))
	newer := sampleRankings(time.Date(2025, 9, 5, 14, 0, 0, 0, time.UTC))
	newer.Summary.TopPutScore = 88.0

	_, err = s.SaveRankings(older)
	require.NoError(t, err)
	path, err := s.SaveRankings(newer)
	require.NoError(t, err)
	assert.Contains(t, path, "wheel_rankings_20250905_140000.json")

	got, err = s.LatestRankings()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 88.0, got.Summary.TopPutScore)
}

func TestRecommendationsRoundTrip(t *testing.T) {
	s := testStore(t)

	got, err := s.LatestRecommendations()
	require.NoError(t, err)
	assert.Nil(t, got)

	recs := map[string]*putsel.Recommendation{
		"AAPL": {
			Symbol:          "AAPL",
			Grade:           ranking.GradeGood,
			CurrentPrice:    185.0,
			MinScoreApplied: 50.0,
		},
	}
	require.NoError(t, s.SaveRecommendations(recs))

	got, err = s.LatestRecommendations()
	require.NoError(t, err)
	require.Contains(t, got, "AAPL")
	assert.Equal(t, ranking.GradeGood, got["AAPL"].Grade)
	assert.Equal(t, 185.0, got["AAPL"].CurrentPrice)
}

func TestOptionReportsRoundTrip(t *testing.T) {
	s := testStore(t)

	got, err := s.LatestOptionReports()
	require.NoError(t, err)
	assert.Nil(t, got)

	reports := map[string]*technicals.OptionReport{
		"AAPL  251017C00200000": {
			ContractSymbol: "AAPL  251017C00200000",
			Underlying:     "AAPL",
			DTE:            10,
			Delta:          0.32,
			Moneyness:      models.MoneynessOTM,
			Signals:        []string{"MODERATE TIME DECAY"},
		},
	}
	require.NoError(t, s.SaveOptionReports(reports))

	got, err = s.LatestOptionReports()
	require.NoError(t, err)
	require.Contains(t, got, "AAPL  251017C00200000")
	assert.Equal(t, "AAPL", got["AAPL  251017C00200000"].Underlying)
	assert.Equal(t, 0.32, got["AAPL  251017C00200000"].Delta)
	assert.Equal(t, models.MoneynessOTM, got["AAPL  251017C00200000"].Moneyness)
}

func TestAccountValueHistory(t *testing.T) {
	s := testStore(t)

	got, err := s.RecentAccountValues(10)
	require.NoError(t, err)
	assert.Empty(t, got)

	entry := ValueEntryFromSnapshot(sampleSnapshot())
	assert.Equal(t, 2500.0, entry.Cash)
	assert.Equal(t, 18500.0, entry.StocksValue)
	assert.Equal(t, 40000.0, entry.MutualFundsValue)
	assert.Equal(t, 100000.0, entry.TotalValue)

	for i := 0; i < 3; i++ {
		e := entry
		e.Timestamp = entry.Timestamp.Add(time.Duration(i) * time.Hour)
		e.TotalValue = 100000 + float64(i)*250
		require.NoError(t, s.AppendAccountValue(e))
	}

	got, err = s.RecentAccountValues(2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 100250.0, got[0].TotalValue)
	assert.Equal(t, 100500.0, got[1].TotalValue)
	assert.True(t, got[0].Timestamp.Before(got[1].Timestamp), "rows should be oldest first")

	all, err := s.RecentAccountValues(0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRunHistoryPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := NewJSONStore(dir)
	require.NoError(t, err)

	run := RunRecord{
		StartedAt:     time.Date(2025, 9, 5, 14, 30, 0, 0, time.UTC),
		DurationMS:    4200,
		TotalValue:    100000,
		PutCandidates: 3,
	}
	require.NoError(t, s.RecordRun(run))
	require.NoError(t, s.RecordRun(RunRecord{StartedAt: run.StartedAt.Add(time.Hour), Error: "quote fetch failed"}))

	reopened, err := NewJSONStore(dir)
	require.NoError(t, err)
	history := reopened.RunHistory()
	require.Len(t, history, 2)
	assert.Equal(t, int64(4200), history[0].DurationMS)
	assert.Equal(t, "quote fetch failed", history[1].Error)
}

func TestRunHistoryBounded(t *testing.T) {
	s := testStore(t)
	for i := 0; i < maxRunHistory+25; i++ {
		require.NoError(t, s.RecordRun(RunRecord{DurationMS: int64(i)}))
	}
	history := s.RunHistory()
	require.Len(t, history, maxRunHistory)
	assert.Equal(t, int64(25), history[0].DurationMS, "oldest runs should be dropped first")
}
