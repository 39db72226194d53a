package wheel

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/stamford_wheeler/internal/assignments"
	"github.com/eddiefleurent/stamford_wheeler/internal/broker"
	"github.com/eddiefleurent/stamford_wheeler/internal/mock"
	"github.com/eddiefleurent/stamford_wheeler/internal/models"
	"github.com/eddiefleurent/stamford_wheeler/internal/putsel"
	"github.com/eddiefleurent/stamford_wheeler/internal/ranking"
	"github.com/eddiefleurent/stamford_wheeler/internal/storage"
	"github.com/eddiefleurent/stamford_wheeler/internal/technicals"
)

func quiet() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func testRunner(t *testing.T) (*Runner, *storage.MockStore) {
	t.Helper()
	b := mock.NewBroker("AAPL")
	store := storage.NewMockStore()

	db, err := assignments.NewStore(filepath.Join(t.TempDir(), "assignments.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	tracker := assignments.NewTracker(b, db, "SIM", quiet())

	r := NewRunner(
		b,
		store,
		technicals.NewAnalyzer(b, quiet()),
		ranking.NewRanker(ranking.DefaultConfig(), quiet()),
		putsel.NewEngine(b, quiet()),
		tracker,
		quiet(),
		[]string{"AAPL", "MSFT", "NVDA"},
		7*24*time.Hour,
	)
	return r, store
}

func TestRunOncePipeline(t *testing.T) {
	r, store := testRunner(t)

	res, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res.Snapshot)
	require.NotNil(t, res.Rankings)

	// Every output stage persisted.
	assert.NotNil(t, store.Snapshot)
	assert.NotNil(t, store.Rankings)
	require.Len(t, store.Runs, 1)
	assert.Empty(t, store.Runs[0].Error)
	assert.Positive(t, store.Runs[0].TotalValue)
	require.Len(t, store.Values, 1)
	assert.Positive(t, store.Values[0].TotalValue)

	// Watchlist plus held symbol all produced reports.
	assert.Len(t, res.Reports, 3)

	// The simulated account holds AAPL, so it may only appear on the call side.
	for _, c := range res.Rankings.PutCandidates {
		assert.NotEqual(t, "AAPL", c.Symbol)
	}
	for _, c := range res.Rankings.CallCandidates {
		assert.Equal(t, "AAPL", c.Symbol)
	}

	// The simulated put assignment was picked up.
	require.Len(t, res.NewAssignments, 1)
	assert.Equal(t, "AAPL", res.NewAssignments[0].Ticker)
}

func TestRunOnceAssignmentsIdempotent(t *testing.T) {
	r, _ := testRunner(t)

	first, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, first.NewAssignments, 1)

	second, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, second.NewAssignments, "second run should not re-record the same assignment")
}

func TestRunOnceWithoutTracker(t *testing.T) {
	b := mock.NewBroker("")
	store := storage.NewMockStore()
	r := NewRunner(
		b,
		store,
		technicals.NewAnalyzer(b, quiet()),
		ranking.NewRanker(ranking.DefaultConfig(), quiet()),
		putsel.NewEngine(b, quiet()),
		nil,
		quiet(),
		[]string{"MSFT"},
		0,
	)

	res, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.NewAssignments)
	assert.Empty(t, res.Rankings.CallCandidates, "no holdings means no covered call candidates")
}

// optionBroker layers a short covered call onto the simulated account.
type optionBroker struct {
	*mock.Broker
	contract models.OptionPosition
}

func (o *optionBroker) GetAccountSnapshotCtx(ctx context.Context) (*models.AccountSnapshot, error) {
	snap, err := o.Broker.GetAccountSnapshotCtx(ctx)
	if err != nil {
		return nil, err
	}
	snap.Options = append(snap.Options, o.contract)
	return snap, nil
}

func TestRunOnceAnalyzesOptionPositions(t *testing.T) {
	expiry := time.Now().UTC().AddDate(0, 0, 10)
	sym := models.OptionSymbol{
		Underlying: "AAPL",
		Expiry:     expiry,
		PutCall:    models.OptionTypeCall,
		Strike:     decimal.NewFromInt(200),
	}
	b := &optionBroker{
		Broker: mock.NewBroker("AAPL"),
		contract: models.OptionPosition{
			Symbol:         "AAPL",
			ContractSymbol: sym.String(),
			Quantity:       decimal.NewFromInt(-1),
			AvgCost:        decimal.NewFromFloat(2.50),
			MarketPrice:    decimal.NewFromFloat(1.25),
			Strike:         sym.Strike,
			Expiry:         expiry,
			PutCall:        models.OptionTypeCall,
		},
	}
	store := storage.NewMockStore()
	r := NewRunner(
		b,
		store,
		technicals.NewAnalyzer(b, quiet()),
		ranking.NewRanker(ranking.DefaultConfig(), quiet()),
		putsel.NewEngine(b, quiet()),
		nil,
		quiet(),
		[]string{"AAPL"},
		0,
	)

	res, err := r.RunOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, res.OptionReports, 1)
	rep, ok := res.OptionReports[sym.String()]
	require.True(t, ok, "report keyed by contract symbol")
	assert.Equal(t, "AAPL", rep.Underlying)
	assert.Positive(t, rep.DTE)
	assert.NotEmpty(t, rep.Signals)

	// Persisted alongside the other run outputs.
	require.NotNil(t, store.OptionReports)
	assert.Contains(t, store.OptionReports, sym.String())
}

type failingBroker struct {
	broker.Broker
}

func (f *failingBroker) GetAccountSnapshotCtx(context.Context) (*models.AccountSnapshot, error) {
	return nil, errors.New("connection refused")
}

func TestRunOnceSnapshotFailureRecorded(t *testing.T) {
	store := storage.NewMockStore()
	fb := &failingBroker{}
	r := NewRunner(
		fb,
		store,
		technicals.NewAnalyzer(fb, quiet()),
		ranking.NewRanker(ranking.DefaultConfig(), quiet()),
		putsel.NewEngine(fb, quiet()),
		nil,
		quiet(),
		[]string{"AAPL"},
		0,
	)

	_, err := r.RunOnce(context.Background())
	require.Error(t, err)
	require.Len(t, store.Runs, 1)
	assert.Contains(t, store.Runs[0].Error, "connection refused")
}
