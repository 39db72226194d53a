package assignments

import (
	"context"
	"log"
	"time"

	"github.com/eddiefleurent/stamford_wheeler/internal/broker"
)

// DefaultLookback is how far back FetchAndRecord scans when the caller
// does not say.
const DefaultLookback = 7 * 24 * time.Hour

// Tracker pulls broker transactions and records the assignments it finds.
type Tracker struct {
	broker      broker.Broker
	store       *Store
	logger      *log.Logger
	accountHash string
}

// NewTracker creates a Tracker writing to the given store.
func NewTracker(b broker.Broker, store *Store, accountHash string, logger *log.Logger) *Tracker {
	if logger == nil {
		logger = log.Default()
	}
	return &Tracker{
		broker:      b,
		store:       store,
		logger:      logger,
		accountHash: accountHash,
	}
}

// FetchAndRecord scans the lookback window for assignment events and
// records the new ones, updating cost basis for priced events. Bad rows
// are logged and skipped so one malformed transaction cannot stall the
// run. It returns the newly recorded assignments.
func (t *Tracker) FetchAndRecord(ctx context.Context, lookback time.Duration) ([]Assignment, error) {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	end := time.Now().UTC()
	start := end.Add(-lookback)

	txs, err := t.broker.GetTransactions(ctx, start, end)
	if err != nil {
		return nil, err
	}

	var recorded []Assignment
	for _, tx := range txs {
		if !LooksLikeAssignment(tx.Type, tx.Description) {
			continue
		}
		a, err := Normalize(tx, t.accountHash)
		if err != nil {
			t.logger.Printf("skipping assignment candidate: %v", err)
			continue
		}
		inserted, err := t.store.Upsert(a)
		if err != nil {
			t.logger.Printf("failed to record assignment %s: %v", a.ID, err)
			continue
		}
		if !inserted {
			continue
		}
		if a.PricePerShare > 0 {
			if err := t.store.RecordBasis(a.Ticker, a.Shares, a.PricePerShare, a.AssignedAt); err != nil {
				t.logger.Printf("failed to update basis for %s: %v", a.Ticker, err)
			}
		}
		t.logger.Printf("recorded assignment %s: %d shares of %s at $%.2f",
			a.ID, a.Shares, a.Ticker, a.PricePerShare)
		recorded = append(recorded, *a)
	}

	t.logger.Printf("assignment scan: %d transactions, %d new assignments", len(txs), len(recorded))
	return recorded, nil
}
