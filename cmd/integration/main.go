// Command integration exercises the full wheel pipeline end to end against
// the simulated broker and a throwaway data directory. It never touches a
// live account. Run it after changes that cross package boundaries.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/eddiefleurent/stamford_wheeler/internal/assignments"
	"github.com/eddiefleurent/stamford_wheeler/internal/mock"
	"github.com/eddiefleurent/stamford_wheeler/internal/models"
	"github.com/eddiefleurent/stamford_wheeler/internal/putsel"
	"github.com/eddiefleurent/stamford_wheeler/internal/ranking"
	"github.com/eddiefleurent/stamford_wheeler/internal/storage"
	"github.com/eddiefleurent/stamford_wheeler/internal/technicals"
	"github.com/eddiefleurent/stamford_wheeler/internal/wheel"
)

var watchlist = []string{"AAPL", "MSFT", "NVDA"}

func main() {
	fmt.Println("=== Wheel Pipeline Integration Test ===")
	fmt.Println("Broker: simulated (no live data)")
	fmt.Println()

	dataDir, err := os.MkdirTemp("", "wheeler-integration-*")
	if err != nil {
		fmt.Printf("Failed to create temp dir: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(dataDir)

	passed := 0
	failed := 0
	run := func(name string, fn func() error) {
		fmt.Printf("Test %d: %s\n", passed+failed+1, name)
		if err := fn(); err != nil {
			fmt.Printf("  FAILED: %v\n", err)
			failed++
			return
		}
		fmt.Println("  PASSED")
		passed++
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	quiet := log.New(io.Discard, "", 0)
	b := mock.NewBroker(watchlist[0])

	var snapshot *models.AccountSnapshot
	run("Account snapshot", func() error {
		var err error
		snapshot, err = b.GetAccountSnapshotCtx(ctx)
		if err != nil {
			return err
		}
		if snapshot.TotalValue().IsZero() {
			return fmt.Errorf("snapshot has zero total value")
		}
		return nil
	})

	run("Market data", func() error {
		quote, err := b.GetQuoteCtx(ctx, watchlist[0])
		if err != nil {
			return err
		}
		if quote.Last <= 0 {
			return fmt.Errorf("quote for %s has non-positive last %.2f", watchlist[0], quote.Last)
		}
		exps, err := b.GetExpirations(watchlist[0])
		if err != nil {
			return err
		}
		if len(exps) == 0 {
			return fmt.Errorf("no expirations for %s", watchlist[0])
		}
		chain, err := b.GetOptionChain(watchlist[0], exps[0], true)
		if err != nil {
			return err
		}
		if len(chain) == 0 {
			return fmt.Errorf("empty option chain for %s %s", watchlist[0], exps[0])
		}
		return nil
	})

	var reports map[string]*technicals.StockReport
	run("Watchlist scan", func() error {
		var err error
		reports, err = technicals.NewAnalyzer(b, quiet).ScanWatchlist(ctx, watchlist)
		if err != nil {
			return err
		}
		if len(reports) != len(watchlist) {
			return fmt.Errorf("scanned %d of %d symbols", len(reports), len(watchlist))
		}
		return nil
	})

	var rankings *ranking.Rankings
	run("Candidate ranking", func() error {
		rankings = ranking.NewRanker(ranking.DefaultConfig(), quiet).RankForAccount(reports, snapshot)
		if rankings.Summary.TotalPutCandidates+rankings.Summary.TotalCallCandidates == 0 {
			return fmt.Errorf("no candidates ranked from %d reports", len(reports))
		}
		return nil
	})

	run("Put selection", func() error {
		recs, err := putsel.NewEngine(b, quiet).Recommend(ctx, snapshot, rankings, reports)
		if err != nil {
			return err
		}
		for sym, rec := range recs {
			if rec.RemainingAllocationPct < 0 {
				return fmt.Errorf("%s has negative remaining allocation", sym)
			}
		}
		return nil
	})

	run("Full pipeline run", func() error {
		store, err := storage.NewStorage(dataDir)
		if err != nil {
			return err
		}
		assignStore, err := assignments.NewStore(dataDir + "/assignments.db")
		if err != nil {
			return err
		}
		defer assignStore.Close()
		tracker := assignments.NewTracker(b, assignStore, "SIM", quiet)

		runner := wheel.NewRunner(
			b, store,
			technicals.NewAnalyzer(b, quiet),
			ranking.NewRanker(ranking.DefaultConfig(), quiet),
			putsel.NewEngine(b, quiet),
			tracker, quiet, watchlist, assignments.DefaultLookback,
		)
		result, err := runner.RunOnce(ctx)
		if err != nil {
			return err
		}
		if result.Rankings == nil {
			return fmt.Errorf("run produced no rankings")
		}

		saved, err := store.LatestSnapshot()
		if err != nil {
			return err
		}
		if saved == nil {
			return fmt.Errorf("snapshot not persisted")
		}
		history := store.RunHistory()
		if len(history) != 1 || history[0].Error != "" {
			return fmt.Errorf("unexpected run history: %+v", history)
		}
		return nil
	})

	fmt.Println()
	fmt.Println("=== Results ===")
	fmt.Printf("Passed: %d\n", passed)
	fmt.Printf("Failed: %d\n", failed)
	if failed > 0 {
		os.Exit(1)
	}
	fmt.Println("All integration tests passed")
}
