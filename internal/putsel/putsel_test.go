package putsel

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/stamford_wheeler/internal/broker"
	"github.com/eddiefleurent/stamford_wheeler/internal/models"
	"github.com/eddiefleurent/stamford_wheeler/internal/ranking"
	"github.com/eddiefleurent/stamford_wheeler/internal/technicals"
)

type stubBroker struct {
	chains   map[string][]broker.ChainOption
	chainErr error
	quotes   map[string]*broker.Quote
}

var _ broker.Broker = (*stubBroker)(nil)

func (s *stubBroker) GetAccountSnapshot() (*models.AccountSnapshot, error) { return nil, nil }
func (s *stubBroker) GetAccountSnapshotCtx(ctx context.Context) (*models.AccountSnapshot, error) {
	return nil, nil
}
func (s *stubBroker) GetTransactions(ctx context.Context, start, end time.Time) ([]broker.Transaction, error) {
	return nil, nil
}
func (s *stubBroker) GetQuote(symbol string) (*broker.Quote, error) {
	return s.GetQuoteCtx(context.Background(), symbol)
}
func (s *stubBroker) GetQuoteCtx(ctx context.Context, symbol string) (*broker.Quote, error) {
	q, ok := s.quotes[symbol]
	if !ok {
		return nil, errors.New("no quote")
	}
	return q, nil
}
func (s *stubBroker) GetHistoricalData(symbol, interval string, startDate, endDate time.Time) ([]broker.Candle, error) {
	return nil, nil
}
func (s *stubBroker) GetExpirations(symbol string) ([]string, error) { return nil, nil }
func (s *stubBroker) GetOptionChain(symbol, expiration string, withGreeks bool) ([]broker.ChainOption, error) {
	if s.chainErr != nil {
		return nil, s.chainErr
	}
	return s.chains[symbol], nil
}
func (s *stubBroker) GetMarketClock() (string, error) { return "open", nil }
func (s *stubBroker) IsTradingDay() (bool, error)     { return true, nil }

func quietEngine(b broker.Broker) *Engine {
	return NewEngine(b, log.New(io.Discard, "", 0))
}

// excellentReport satisfies the EXCELLENT grade gates and maxes the
// technical bonus.
func excellentReport(symbol string) *technicals.StockReport {
	return &technicals.StockReport{
		Symbol:       symbol,
		CurrentPrice: 100,
		RSI:          40,
		BBUpper:      106,
		BBMiddle:     100,
		BBLower:      95,
		VolumeRatio:  1.0,
		Signals: []string{
			"EMA BULLISH ALIGNMENT (EMA10 > EMA20 > EMA50)",
			"ABOVE LONG-TERM EMA (50)",
		},
	}
}

func testSnapshot() *models.AccountSnapshot {
	return &models.AccountSnapshot{
		GeneratedAt:              time.Now().UTC(),
		Cash:                     decimal.NewFromInt(50000),
		OfficialLiquidationValue: decimal.NewFromInt(100000),
	}
}

func putContract(strike float64, dte int, bid, ask, mark float64, oi int64) broker.ChainOption {
	return broker.ChainOption{
		Symbol:       "AAPL  250905P00095000",
		OptionType:   "PUT",
		Strike:       strike,
		Bid:          bid,
		Ask:          ask,
		Mark:         mark,
		DTE:          dte,
		OpenInterest: oi,
	}
}

func TestCriteriaForGrade(t *testing.T) {
	crit, ok := CriteriaForGrade(ranking.GradeExcellent)
	require.True(t, ok)
	assert.Equal(t, 15.0, crit.MinAnnualizedReturn)
	assert.Equal(t, 60.0, crit.MaxAssignmentProb)
	assert.Equal(t, 15, crit.MaxOpportunities)

	crit, ok = CriteriaForGrade(ranking.GradePoor)
	require.True(t, ok)
	assert.Equal(t, 50.0, crit.MinAnnualizedReturn)
	assert.Equal(t, 5, crit.MaxDTE)

	_, ok = CriteriaForGrade(ranking.GradeAvoid)
	assert.False(t, ok)
}

func TestMaxStrikeRatio(t *testing.T) {
	crit, _ := CriteriaForGrade(ranking.GradeExcellent)
	assert.InDelta(t, 0.992, crit.MaxStrikeRatio(), 0.0001)

	crit, _ = CriteriaForGrade(ranking.GradePoor)
	assert.InDelta(t, 0.928, crit.MaxStrikeRatio(), 0.0001)

	clamped := Criteria{Aggressiveness: 5.0}
	assert.Equal(t, 1.05, clamped.MaxStrikeRatio())

	clamped = Criteria{Aggressiveness: -2.0}
	assert.Equal(t, 0.85, clamped.MaxStrikeRatio())
}

func TestEstimateAssignmentProbability(t *testing.T) {
	// Far OTM weekly.
	assert.Equal(t, 8.0, estimateAssignmentProbability(100, 80, 7))
	// Near OTM with short-expiry bump.
	assert.InDelta(t, 42.0, estimateAssignmentProbability(100, 95, 2), 0.001)
	// ITM capped at 95.
	assert.Equal(t, 95.0, estimateAssignmentProbability(100, 110, 20))
	// Longer expiries scale down toward the floor.
	assert.InDelta(t, 20.0, estimateAssignmentProbability(100, 90, 10), 0.001)
}

func TestTechnicalBonus(t *testing.T) {
	assert.Equal(t, 5.0, technicalBonus(nil))
	assert.Equal(t, 15.0, technicalBonus(excellentReport("AAPL")))

	bearish := &technicals.StockReport{
		Symbol:       "XYZ",
		CurrentPrice: 100,
		RSI:          95,
		VolumeRatio:  0.2,
		Signals:      []string{"STRONG DOWNTREND (Price < MA5 < MA10 < MA20)"},
	}
	assert.Equal(t, 3.0, technicalBonus(bearish))
}

func TestEligibleSymbolsFilters(t *testing.T) {
	snapshot := testSnapshot()
	snapshot.Stocks = []models.StockPosition{
		{Symbol: "MSFT", Quantity: decimal.NewFromInt(300), AvgCost: decimal.NewFromInt(90), MarketPrice: decimal.NewFromInt(100)},
	}
	snapshot.Options = []models.OptionPosition{
		{Symbol: "NVDA", ContractSymbol: "NVDA  250905P00170000", Quantity: decimal.NewFromInt(-1), Strike: decimal.NewFromInt(170), PutCall: "PUT"},
	}

	candidates := []ranking.Candidate{
		{Symbol: "NVDA", Grade: ranking.GradeExcellent}, // existing option position
		{Symbol: "MSFT", Grade: ranking.GradeExcellent}, // 30% allocated
		{Symbol: "AAPL", Grade: ranking.GradeAvoid},     // no criteria
		{Symbol: "AMD", Grade: ranking.GradeGood},
		{Symbol: "TSLA", Grade: ranking.GradeExcellent},
	}
	reports := map[string]*technicals.StockReport{
		"AMD":  {Symbol: "AMD", RSI: 50, VolumeRatio: 1, Signals: []string{"ABOVE LONG-TERM EMA (50)"}},
		"TSLA": excellentReport("TSLA"),
	}

	eligible := quietEngine(&stubBroker{}).EligibleSymbols(snapshot, candidates, reports)

	require.Len(t, eligible, 2)
	// Better grade sorts first.
	assert.Equal(t, "TSLA", eligible[0].Symbol)
	assert.Equal(t, "AMD", eligible[1].Symbol)
}

func TestEligibleSymbolsTechnicalGate(t *testing.T) {
	snapshot := testSnapshot()
	candidates := []ranking.Candidate{
		{Symbol: "HOT", Grade: ranking.GradeExcellent},
		{Symbol: "THIN", Grade: ranking.GradeGood},
	}
	reports := map[string]*technicals.StockReport{
		// RSI above the EXCELLENT ceiling of 75.
		"HOT": {Symbol: "HOT", RSI: 82, VolumeRatio: 1, Signals: []string{
			"EMA BULLISH ALIGNMENT (EMA10 > EMA20 > EMA50)",
			"ABOVE LONG-TERM EMA (50)",
		}},
		// Volume ratio under the GOOD floor of 0.4.
		"THIN": {Symbol: "THIN", RSI: 50, VolumeRatio: 0.2, Signals: []string{"ABOVE LONG-TERM EMA (50)"}},
	}

	eligible := quietEngine(&stubBroker{}).EligibleSymbols(snapshot, candidates, reports)
	assert.Empty(t, eligible)
}

func TestAnalyzeSymbolFiltersChain(t *testing.T) {
	chain := []broker.ChainOption{
		putContract(95, 7, 1.40, 1.50, 1.45, 500), // viable
		putContract(94, 7, 1.20, 1.30, 1.25, 5),   // open interest too thin
		putContract(101, 7, 2.0, 2.2, 2.1, 500),   // strike above ceiling
		putContract(95, 20, 2.0, 2.2, 2.1, 500),   // expiry too far out
		putContract(90, 7, 0.5, 1.5, 0, 500),      // spread too wide
		{OptionType: "CALL", Strike: 95, DTE: 7, Bid: 1.4, Ask: 1.5, Mark: 1.45, OpenInterest: 500},
	}
	br := &stubBroker{chains: map[string][]broker.ChainOption{"AAPL": chain}}

	sym := EligibleSymbol{Symbol: "AAPL", Grade: ranking.GradeExcellent}
	analysis, err := quietEngine(br).AnalyzeSymbol(context.Background(), sym, 100000, excellentReport("AAPL"))
	require.NoError(t, err)

	require.Len(t, analysis.Opportunities, 1)
	opp := analysis.Opportunities[0]
	assert.Equal(t, 95.0, opp.Strike)
	assert.Equal(t, 2, opp.MaxContracts)
	assert.Equal(t, 9500.0, opp.CollateralRequired)
	assert.InDelta(t, 79.59, opp.AnnualizedReturnPct, 0.01)
	assert.InDelta(t, 5.0, opp.DownsideProtectionPct, 0.001)
	assert.InDelta(t, 93.55, opp.BreakEvenPrice, 0.001)
	assert.Equal(t, 35.0, opp.AssignmentProbPct)
	assert.InDelta(t, 84.9, opp.AttractivenessScore, 0.1)
}

func TestAnalyzeSymbolQuoteFallback(t *testing.T) {
	br := &stubBroker{
		quotes: map[string]*broker.Quote{"AAPL": {Last: 100}},
		chains: map[string][]broker.ChainOption{"AAPL": {putContract(95, 7, 1.40, 1.50, 1.45, 500)}},
	}

	sym := EligibleSymbol{Symbol: "AAPL", Grade: ranking.GradeExcellent}
	analysis, err := quietEngine(br).AnalyzeSymbol(context.Background(), sym, 100000, nil)
	require.NoError(t, err)
	assert.Equal(t, 100.0, analysis.CurrentPrice)
	require.Len(t, analysis.Opportunities, 1)
}

func TestRecommendAppliesGradeMinScore(t *testing.T) {
	br := &stubBroker{chains: map[string][]broker.ChainOption{
		"AAPL": {putContract(95, 7, 1.40, 1.50, 1.45, 500)},
	}}
	snapshot := testSnapshot()
	rankings := &ranking.Rankings{
		PutCandidates: []ranking.Candidate{{Symbol: "AAPL", Grade: ranking.GradeExcellent}},
	}
	reports := map[string]*technicals.StockReport{"AAPL": excellentReport("AAPL")}

	recs, err := quietEngine(br).Recommend(context.Background(), snapshot, rankings, reports)
	require.NoError(t, err)

	require.Contains(t, recs, "AAPL")
	rec := recs["AAPL"]
	assert.Equal(t, ranking.GradeExcellent, rec.Grade)
	// EXCELLENT relaxes the base floor of 50 by 10.
	assert.Equal(t, 40.0, rec.MinScoreApplied)
	require.Len(t, rec.RecommendedPuts, 1)
	assert.Equal(t, 1, rec.TotalOpportunities)
	assert.Equal(t, 20.0, rec.RemainingAllocationPct)
}

func TestRecommendSkipsFailedSymbols(t *testing.T) {
	br := &stubBroker{chainErr: errors.New("boom")}
	snapshot := testSnapshot()
	rankings := &ranking.Rankings{
		PutCandidates: []ranking.Candidate{{Symbol: "AAPL", Grade: ranking.GradeExcellent}},
	}
	reports := map[string]*technicals.StockReport{"AAPL": excellentReport("AAPL")}

	recs, err := quietEngine(br).Recommend(context.Background(), snapshot, rankings, reports)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestRecommendNoEligibleSymbols(t *testing.T) {
	recs, err := quietEngine(&stubBroker{}).Recommend(context.Background(), testSnapshot(), &ranking.Rankings{}, nil)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestEffectiveMinScore(t *testing.T) {
	e := quietEngine(&stubBroker{})
	assert.Equal(t, 40.0, e.effectiveMinScore(ranking.GradeExcellent))
	assert.Equal(t, 50.0, e.effectiveMinScore(ranking.GradeGood))
	assert.Equal(t, 55.0, e.effectiveMinScore(ranking.GradeFair))
	assert.Equal(t, 60.0, e.effectiveMinScore(ranking.GradePoor))

	e = e.WithMinScore(35)
	assert.Equal(t, 30.0, e.effectiveMinScore(ranking.GradeExcellent))
}
