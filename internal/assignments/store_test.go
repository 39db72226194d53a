package assignments

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/stamford_wheeler/internal/broker"
	"github.com/eddiefleurent/stamford_wheeler/internal/models"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "assignments.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func sampleAssignment(id, ticker string, shares int64, price float64, at time.Time) *Assignment {
	return &Assignment{
		ID:              id,
		AccountHash:     "acct-hash",
		OptionSymbol:    ticker + "  250905P00185000",
		Ticker:          ticker,
		OptionType:      "PUT",
		Contracts:       shares / models.SharesPerContract,
		Shares:          shares,
		PricePerShare:   price,
		TotalAmount:     price * float64(shares),
		AssignedAt:      at,
		TransactionType: "ASSIGNMENT",
	}
}

func TestStoreUpsertIdempotent(t *testing.T) {
	store := testStore(t)
	a := sampleAssignment("a1", "AAPL", 100, 185, time.Now().UTC())

	inserted, err := store.Upsert(a)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = store.Upsert(a)
	require.NoError(t, err)
	assert.False(t, inserted)

	history, err := store.ForTicker("AAPL", 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestStoreRecordBasisAverages(t *testing.T) {
	store := testStore(t)
	now := time.Now().UTC()

	require.NoError(t, store.RecordBasis("AAPL", 100, 180, now.Add(-48*time.Hour)))
	require.NoError(t, store.RecordBasis("AAPL", 100, 190, now))

	entry, err := store.Basis("AAPL")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, int64(200), entry.TotalShares)
	assert.Equal(t, 37000.0, entry.TotalCost)
	assert.Equal(t, 185.0, entry.AvgBasis)
	assert.Equal(t, int64(2), entry.AssignmentCount)
}

func TestStoreBasisMissingTicker(t *testing.T) {
	store := testStore(t)
	entry, err := store.Basis("ZZZ")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestStoreRecordBasisRequiresPrice(t *testing.T) {
	store := testStore(t)
	assert.Error(t, store.RecordBasis("AAPL", 100, 0, time.Now().UTC()))
}

func TestStoreForTickerOrdersNewestFirst(t *testing.T) {
	store := testStore(t)
	now := time.Now().UTC()

	for i, id := range []string{"a1", "a2", "a3"} {
		a := sampleAssignment(id, "AAPL", 100, 185, now.Add(time.Duration(i)*time.Hour))
		_, err := store.Upsert(a)
		require.NoError(t, err)
	}
	_, err := store.Upsert(sampleAssignment("b1", "MSFT", 100, 400, now))
	require.NoError(t, err)

	history, err := store.ForTicker("AAPL", 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "a3", history[0].ID)
	assert.Equal(t, "a2", history[1].ID)
}

func TestStoreRecentWindow(t *testing.T) {
	store := testStore(t)
	now := time.Now().UTC()

	_, err := store.Upsert(sampleAssignment("old", "AAPL", 100, 185, now.AddDate(0, 0, -30)))
	require.NoError(t, err)
	_, err = store.Upsert(sampleAssignment("new", "AAPL", 100, 185, now.AddDate(0, 0, -1)))
	require.NoError(t, err)

	recent, err := store.Recent(7)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "new", recent[0].ID)
}

func TestStoreSummarize(t *testing.T) {
	store := testStore(t)
	now := time.Now().UTC()

	_, err := store.Upsert(sampleAssignment("a1", "AAPL", 100, 185, now))
	require.NoError(t, err)
	_, err = store.Upsert(sampleAssignment("a2", "AAPL", 200, 180, now))
	require.NoError(t, err)
	_, err = store.Upsert(sampleAssignment("m1", "MSFT", 100, 400, now.AddDate(0, 0, -60)))
	require.NoError(t, err)

	sum, err := store.Summarize()
	require.NoError(t, err)
	assert.Equal(t, int64(3), sum.TotalAssignments)
	assert.Equal(t, int64(2), sum.RecentAssignments)
	require.Len(t, sum.ByTicker, 2)
	assert.Equal(t, "AAPL", sum.ByTicker[0].Ticker)
	assert.Equal(t, int64(300), sum.ByTicker[0].TotalShares)
}

type txBroker struct {
	broker.Broker
	txs []broker.Transaction
	err error
}

func (b *txBroker) GetTransactions(ctx context.Context, start, end time.Time) ([]broker.Transaction, error) {
	return b.txs, b.err
}

func TestTrackerFetchAndRecord(t *testing.T) {
	store := testStore(t)

	trade := broker.Transaction{ActivityID: 1, Type: "TRADE", Description: "BOUGHT 100 AAPL"}
	b := &txBroker{txs: []broker.Transaction{trade, optionTx(9001, -2, 185)}}
	tracker := NewTracker(b, store, "acct-hash", log.New(io.Discard, "", 0))

	recorded, err := tracker.FetchAndRecord(context.Background(), 3*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, "9001", recorded[0].ID)

	// Re-running is idempotent.
	recorded, err = tracker.FetchAndRecord(context.Background(), 3*24*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, recorded)

	entry, err := store.Basis("AAPL")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, int64(200), entry.TotalShares)
}

func TestTrackerPropagatesFetchError(t *testing.T) {
	store := testStore(t)
	b := &txBroker{err: errors.New("boom")}
	tracker := NewTracker(b, store, "acct-hash", log.New(io.Discard, "", 0))

	_, err := tracker.FetchAndRecord(context.Background(), 0)
	assert.Error(t, err)
}
