// Package wheel orchestrates one full assistant run: account snapshot,
// assignment detection, watchlist technicals, wheel ranking, put selection
// and persistence of every output.
package wheel

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/eddiefleurent/stamford_wheeler/internal/assignments"
	"github.com/eddiefleurent/stamford_wheeler/internal/broker"
	"github.com/eddiefleurent/stamford_wheeler/internal/models"
	"github.com/eddiefleurent/stamford_wheeler/internal/putsel"
	"github.com/eddiefleurent/stamford_wheeler/internal/ranking"
	"github.com/eddiefleurent/stamford_wheeler/internal/storage"
	"github.com/eddiefleurent/stamford_wheeler/internal/technicals"
)

// Result collects everything one run produced.
type Result struct {
	Snapshot        *models.AccountSnapshot
	Reports         map[string]*technicals.StockReport
	OptionReports   map[string]*technicals.OptionReport
	Rankings        *ranking.Rankings
	Recommendations map[string]*putsel.Recommendation
	NewAssignments  []assignments.Assignment
	Duration        time.Duration
}

// Runner wires the pipeline stages together. The assignment tracker is
// optional; a nil tracker skips assignment detection.
type Runner struct {
	broker   broker.Broker
	storage  storage.Interface
	analyzer *technicals.Analyzer
	ranker   *ranking.Ranker
	puts     *putsel.Engine
	tracker  *assignments.Tracker
	logger   *log.Logger
	symbols  []string
	lookback time.Duration
}

// NewRunner builds a run pipeline over the given components.
func NewRunner(
	b broker.Broker,
	store storage.Interface,
	analyzer *technicals.Analyzer,
	ranker *ranking.Ranker,
	puts *putsel.Engine,
	tracker *assignments.Tracker,
	logger *log.Logger,
	symbols []string,
	lookback time.Duration,
) *Runner {
	if logger == nil {
		logger = log.Default()
	}
	if lookback <= 0 {
		lookback = assignments.DefaultLookback
	}
	return &Runner{
		broker:   b,
		storage:  store,
		analyzer: analyzer,
		ranker:   ranker,
		puts:     puts,
		tracker:  tracker,
		logger:   logger,
		symbols:  symbols,
		lookback: lookback,
	}
}

// RunOnce executes the full pipeline. Stage failures past the snapshot are
// logged and the run continues with what it has; every run is recorded in
// the run history, including failed ones.
func (r *Runner) RunOnce(ctx context.Context) (*Result, error) {
	start := time.Now()
	res := &Result{}

	snapshot, err := r.broker.GetAccountSnapshotCtx(ctx)
	if err != nil {
		r.recordRun(start, res, err)
		return nil, fmt.Errorf("account snapshot: %w", err)
	}
	res.Snapshot = snapshot
	r.logger.Printf("Account: total=$%s adjusted_cash=$%s adjusted_bp=$%s",
		snapshot.TotalValue().StringFixed(2),
		snapshot.AdjustedCash().StringFixed(2),
		snapshot.AdjustedBuyingPower().StringFixed(2))

	if err := r.storage.SaveSnapshot(snapshot); err != nil {
		r.logger.Printf("Failed to persist snapshot: %v", err)
	}
	if err := r.storage.AppendAccountValue(storage.ValueEntryFromSnapshot(snapshot)); err != nil {
		r.logger.Printf("Failed to append account value: %v", err)
	}

	if r.tracker != nil {
		recorded, err := r.tracker.FetchAndRecord(ctx, r.lookback)
		if err != nil {
			r.logger.Printf("Assignment detection failed: %v", err)
		} else {
			res.NewAssignments = recorded
			if len(recorded) > 0 {
				r.logger.Printf("Recorded %d new assignment(s)", len(recorded))
			}
		}
	}

	res.Reports = r.collectReports(ctx, snapshot)

	if len(snapshot.Options) > 0 {
		res.OptionReports = r.analyzer.AnalyzeOptions(ctx, snapshot)
		if err := r.storage.SaveOptionReports(res.OptionReports); err != nil {
			r.logger.Printf("Failed to persist option reports: %v", err)
		}
	}

	res.Rankings = r.ranker.RankForAccount(res.Reports, snapshot)
	if path, err := r.storage.SaveRankings(res.Rankings); err != nil {
		r.logger.Printf("Failed to persist rankings: %v", err)
	} else {
		r.logger.Printf("Rankings written to %s (%d puts, %d calls)",
			path, res.Rankings.Summary.TotalPutCandidates, res.Rankings.Summary.TotalCallCandidates)
	}

	recs, err := r.puts.Recommend(ctx, snapshot, res.Rankings, res.Reports)
	if err != nil {
		r.logger.Printf("Put selection failed: %v", err)
	} else {
		res.Recommendations = recs
		if err := r.storage.SaveRecommendations(recs); err != nil {
			r.logger.Printf("Failed to persist recommendations: %v", err)
		}
	}

	res.Duration = time.Since(start)
	r.recordRun(start, res, nil)
	r.logSummary(res)
	return res, nil
}

// collectReports merges the watchlist scan with reports for held positions,
// so assigned symbols outside the watchlist still get ranked for calls.
func (r *Runner) collectReports(ctx context.Context, snapshot *models.AccountSnapshot) map[string]*technicals.StockReport {
	reports, err := r.analyzer.ScanWatchlist(ctx, r.symbols)
	if err != nil {
		r.logger.Printf("Watchlist scan aborted: %v", err)
	}
	if reports == nil {
		reports = make(map[string]*technicals.StockReport)
	}
	for sym, rep := range r.analyzer.AnalyzeStocks(ctx, snapshot) {
		if _, ok := reports[sym]; !ok {
			reports[sym] = rep
		}
	}
	return reports
}

func (r *Runner) recordRun(start time.Time, res *Result, runErr error) {
	rec := storage.RunRecord{
		StartedAt:  start.UTC(),
		DurationMS: time.Since(start).Milliseconds(),
	}
	if res.Snapshot != nil {
		rec.TotalValue = res.Snapshot.TotalValue().InexactFloat64()
	}
	if res.Rankings != nil {
		rec.PutCandidates = res.Rankings.Summary.TotalPutCandidates
		rec.CallCandidates = res.Rankings.Summary.TotalCallCandidates
	}
	rec.RecommendedSymbols = len(res.Recommendations)
	rec.AssignmentsRecorded = len(res.NewAssignments)
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if err := r.storage.RecordRun(rec); err != nil {
		r.logger.Printf("Failed to record run: %v", err)
	}
}

func (r *Runner) logSummary(res *Result) {
	r.logger.Printf("Run complete in %s: %d reports, %d put candidates, %d call candidates, %d symbols recommended",
		res.Duration.Round(time.Millisecond),
		len(res.Reports),
		res.Rankings.Summary.TotalPutCandidates,
		res.Rankings.Summary.TotalCallCandidates,
		len(res.Recommendations))
	for _, c := range res.Rankings.PutCandidates {
		r.logger.Printf("  put  %-6s %5.1f %s", c.Symbol, c.Score, c.Grade)
	}
	for _, c := range res.Rankings.CallCandidates {
		r.logger.Printf("  call %-6s %5.1f %s", c.Symbol, c.Score, c.Grade)
	}
	for _, rep := range res.OptionReports {
		r.logger.Printf("  opt  %-21s %-3s dte=%-3d delta=%+.2f pnl=%+.1f%%",
			rep.ContractSymbol, rep.Moneyness, rep.DTE, rep.Delta, rep.PnLPercent)
	}
}
