// Package putsel selects cash-secured put contracts for wheel entries.
// Symbols come from the latest put rankings; each grade carries its own
// selection criteria so excellent stocks are shopped aggressively while
// poor ones must pay up in premium and protection.
package putsel

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/eddiefleurent/stamford_wheeler/internal/broker"
	"github.com/eddiefleurent/stamford_wheeler/internal/models"
	"github.com/eddiefleurent/stamford_wheeler/internal/ranking"
	"github.com/eddiefleurent/stamford_wheeler/internal/technicals"
)

// Criteria is the per-grade gate a put contract has to clear.
type Criteria struct {
	MinAnnualizedReturn   float64  `json:"min_annualized_return"`
	MinDownsideProtection float64  `json:"min_downside_protection"`
	MaxAssignmentProb     float64  `json:"max_assignment_prob"`
	MinDTE                int      `json:"min_dte"`
	MaxDTE                int      `json:"max_dte"`
	MinRSI                float64  `json:"min_rsi"`
	MaxRSI                float64  `json:"max_rsi"`
	RequiredSignals       []string `json:"required_signals"`
	VolumeRatioMin        float64  `json:"volume_ratio_min"`
	MaxSpreadPct          float64  `json:"max_bid_ask_spread_pct"`
	MinOpenInterest       int64    `json:"min_open_interest"`
	Aggressiveness        float64  `json:"aggressiveness_multiplier"`
	MaxOpportunities      int      `json:"max_opportunities"`
}

// CriteriaForGrade returns the selection criteria for a ranking grade.
// AVOID and unknown grades have none.
func CriteriaForGrade(grade ranking.Grade) (Criteria, bool) {
	switch grade {
	case ranking.GradeExcellent:
		return Criteria{
			MinAnnualizedReturn:   15.0,
			MinDownsideProtection: 1.5,
			MaxAssignmentProb:     60.0,
			MinDTE:                1,
			MaxDTE:                10,
			MinRSI:                25.0,
			MaxRSI:                75.0,
			RequiredSignals:       []string{"EMA BULLISH ALIGNMENT", "ABOVE LONG-TERM EMA"},
			VolumeRatioMin:        0.3,
			MaxSpreadPct:          15.0,
			MinOpenInterest:       10,
			Aggressiveness:        1.4,
			MaxOpportunities:      15,
		}, true
	case ranking.GradeGood:
		return Criteria{
			MinAnnualizedReturn:   25.0,
			MinDownsideProtection: 2.5,
			MaxAssignmentProb:     50.0,
			MinDTE:                1,
			MaxDTE:                10,
			MinRSI:                20.0,
			MaxRSI:                80.0,
			RequiredSignals:       []string{"ABOVE LONG-TERM EMA"},
			VolumeRatioMin:        0.4,
			MaxSpreadPct:          12.0,
			MinOpenInterest:       25,
			Aggressiveness:        1.1,
			MaxOpportunities:      10,
		}, true
	case ranking.GradeFair:
		return Criteria{
			MinAnnualizedReturn:   35.0,
			MinDownsideProtection: 4.0,
			MaxAssignmentProb:     40.0,
			MinDTE:                1,
			MaxDTE:                7,
			MinRSI:                15.0,
			MaxRSI:                85.0,
			VolumeRatioMin:        0.5,
			MaxSpreadPct:          10.0,
			MinOpenInterest:       50,
			Aggressiveness:        0.9,
			MaxOpportunities:      8,
		}, true
	case ranking.GradePoor:
		return Criteria{
			MinAnnualizedReturn:   50.0,
			MinDownsideProtection: 6.0,
			MaxAssignmentProb:     25.0,
			MinDTE:                1,
			MaxDTE:                5,
			MinRSI:                10.0,
			MaxRSI:                90.0,
			VolumeRatioMin:        0.6,
			MaxSpreadPct:          8.0,
			MinOpenInterest:       100,
			Aggressiveness:        0.6,
			MaxOpportunities:      5,
		}, true
	default:
		return Criteria{}, false
	}
}

// MaxStrikeRatio converts aggressiveness into the strike ceiling as a
// fraction of spot, clamped to [0.85, 1.05].
func (c Criteria) MaxStrikeRatio() float64 {
	ratio := 0.96 + (c.Aggressiveness-1.0)*0.08
	return math.Max(0.85, math.Min(1.05, ratio))
}

// Opportunity is one viable put contract with its computed metrics.
type Opportunity struct {
	Symbol                string        `json:"symbol"`
	Grade                 ranking.Grade `json:"grade"`
	Strike                float64       `json:"strike_price"`
	Premium               float64       `json:"premium"`
	Bid                   float64       `json:"bid"`
	Ask                   float64       `json:"ask"`
	Mark                  float64       `json:"mark"`
	SpreadPct             float64       `json:"bid_ask_spread_pct"`
	DTE                   int           `json:"days_to_expiry"`
	ExpirationDate        string        `json:"expiration_date"`
	CollateralRequired    float64       `json:"collateral_required"`
	PremiumReceived       float64       `json:"premium_received"`
	MaxContracts          int           `json:"max_contracts"`
	TotalPremiumIncome    float64       `json:"total_premium_income"`
	TotalCollateral       float64       `json:"total_collateral"`
	AnnualizedReturnPct   float64       `json:"annualized_return_pct"`
	DownsideProtectionPct float64       `json:"downside_protection_pct"`
	BreakEvenPrice        float64       `json:"break_even_price"`
	AssignmentProbPct     float64       `json:"assignment_probability_pct"`
	AttractivenessScore   float64       `json:"attractiveness_score"`
	OpenInterest          int64         `json:"open_interest"`
	Volume                int64         `json:"volume"`
	Delta                 float64       `json:"delta"`
	Theta                 float64       `json:"theta"`
	ImpliedVol            float64       `json:"implied_volatility"`
}

// EligibleSymbol is a ranked symbol that cleared the portfolio and
// technical gates.
type EligibleSymbol struct {
	Symbol        string        `json:"symbol"`
	Grade         ranking.Grade `json:"grade"`
	AllocationPct float64       `json:"current_allocation_pct"`
}

// SymbolAnalysis holds every viable contract found for one symbol.
type SymbolAnalysis struct {
	Symbol                 string        `json:"symbol"`
	Grade                  ranking.Grade `json:"grade"`
	CurrentPrice           float64       `json:"current_price"`
	CurrentAllocationPct   float64       `json:"current_allocation_pct"`
	RemainingAllocationPct float64       `json:"remaining_allocation_pct"`
	MaxPositionValue       float64       `json:"max_position_value"`
	Opportunities          []Opportunity `json:"put_opportunities"`
	AnalyzedAt             time.Time     `json:"analysis_timestamp"`
}

// Recommendation is the filtered, ready-to-act subset for one symbol.
type Recommendation struct {
	Symbol                 string        `json:"symbol"`
	Grade                  ranking.Grade `json:"grade"`
	CurrentPrice           float64       `json:"current_price"`
	CurrentAllocationPct   float64       `json:"current_allocation_pct"`
	RemainingAllocationPct float64       `json:"remaining_allocation_pct"`
	RecommendedPuts        []Opportunity `json:"recommended_puts"`
	TotalOpportunities     int           `json:"total_opportunities"`
	MinScoreApplied        float64       `json:"min_score_applied"`
	AnalyzedAt             time.Time     `json:"analysis_timestamp"`
}

// Engine screens put chains against grade criteria and account state.
type Engine struct {
	broker           broker.Broker
	logger           *log.Logger
	maxAllocationPct float64
	minScore         float64
}

const (
	defaultMaxAllocationPct = 20.0
	defaultMinScore         = 50.0
	// fallbackAccountValue sizes positions when the snapshot has no value.
	fallbackAccountValue = 100000.0
	maxRecommendations   = 5
)

// NewEngine creates an Engine with the default allocation cap and score floor.
func NewEngine(b broker.Broker, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		broker:           b,
		logger:           logger,
		maxAllocationPct: defaultMaxAllocationPct,
		minScore:         defaultMinScore,
	}
}

// WithMaxAllocation overrides the per-symbol total allocation cap percent.
func (e *Engine) WithMaxAllocation(pct float64) *Engine {
	if pct > 0 {
		e.maxAllocationPct = pct
	}
	return e
}

// WithMinScore overrides the base attractiveness floor for recommendations.
func (e *Engine) WithMinScore(score float64) *Engine {
	if score > 0 {
		e.minScore = score
	}
	return e
}

// EligibleSymbols filters put candidates down to symbols worth shopping:
// no open option positions, room under the allocation cap, a graded
// ranking, and technicals inside the grade's bounds. Results are ordered
// best grade first, then lowest allocation.
func (e *Engine) EligibleSymbols(snapshot *models.AccountSnapshot, candidates []ranking.Candidate,
	reports map[string]*technicals.StockReport) []EligibleSymbol {
	var eligible []EligibleSymbol
	for _, cand := range candidates {
		if positions := snapshot.OptionsForUnderlying(cand.Symbol); len(positions) > 0 {
			e.logger.Printf("skipping %s: %d existing option positions", cand.Symbol, len(positions))
			continue
		}

		allocation := snapshot.AllocationPercent(cand.Symbol).InexactFloat64()
		if allocation >= e.maxAllocationPct {
			e.logger.Printf("skipping %s: allocation %.1f%% >= %.1f%%", cand.Symbol, allocation, e.maxAllocationPct)
			continue
		}

		criteria, ok := CriteriaForGrade(cand.Grade)
		if !ok {
			continue
		}
		if !meetsTechnicalCriteria(criteria, reports[cand.Symbol]) {
			e.logger.Printf("skipping %s: technicals outside %s bounds", cand.Symbol, cand.Grade)
			continue
		}

		eligible = append(eligible, EligibleSymbol{
			Symbol:        cand.Symbol,
			Grade:         cand.Grade,
			AllocationPct: allocation,
		})
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Grade != eligible[j].Grade {
			return eligible[i].Grade.Priority() > eligible[j].Grade.Priority()
		}
		return eligible[i].AllocationPct < eligible[j].AllocationPct
	})
	return eligible
}

// meetsTechnicalCriteria checks RSI bounds, required signals and volume.
// A missing report passes; the gate only rejects on contrary evidence.
func meetsTechnicalCriteria(criteria Criteria, rep *technicals.StockReport) bool {
	if rep == nil {
		return true
	}
	if rep.RSI > criteria.MaxRSI || rep.RSI < criteria.MinRSI {
		return false
	}
	for _, required := range criteria.RequiredSignals {
		if !rep.HasSignal(required) {
			return false
		}
	}
	if rep.VolumeRatio > 0 && rep.VolumeRatio < criteria.VolumeRatioMin {
		return false
	}
	return true
}

// AnalyzeSymbol pulls the put chain for one eligible symbol and returns
// every contract that clears its grade criteria, best first.
func (e *Engine) AnalyzeSymbol(ctx context.Context, sym EligibleSymbol, accountValue float64,
	rep *technicals.StockReport) (*SymbolAnalysis, error) {
	price, err := e.currentPrice(ctx, sym.Symbol, rep)
	if err != nil {
		return nil, err
	}

	chain, err := e.broker.GetOptionChain(sym.Symbol, "", true)
	if err != nil {
		return nil, fmt.Errorf("option chain for %s: %w", sym.Symbol, err)
	}

	criteria, ok := CriteriaForGrade(sym.Grade)
	if !ok {
		return nil, fmt.Errorf("no criteria for grade %s", sym.Grade)
	}

	remaining := e.maxAllocationPct - sym.AllocationPct
	maxPositionValue := accountValue * remaining / 100

	var opportunities []Opportunity
	for _, opt := range chain {
		if opt.OptionType != string(models.OptionTypePut) {
			continue
		}
		if opt.DTE < criteria.MinDTE || opt.DTE > criteria.MaxDTE {
			continue
		}
		if opt.Strike >= price*criteria.MaxStrikeRatio() {
			continue
		}
		opp, viable := e.evaluateContract(sym, criteria, price, maxPositionValue, rep, opt)
		if viable {
			opportunities = append(opportunities, opp)
		}
	}

	sort.Slice(opportunities, func(i, j int) bool {
		if opportunities[i].AttractivenessScore != opportunities[j].AttractivenessScore {
			return opportunities[i].AttractivenessScore > opportunities[j].AttractivenessScore
		}
		return opportunities[i].Strike > opportunities[j].Strike
	})
	if len(opportunities) > criteria.MaxOpportunities {
		opportunities = opportunities[:criteria.MaxOpportunities]
	}

	return &SymbolAnalysis{
		Symbol:                 sym.Symbol,
		Grade:                  sym.Grade,
		CurrentPrice:           price,
		CurrentAllocationPct:   sym.AllocationPct,
		RemainingAllocationPct: remaining,
		MaxPositionValue:       maxPositionValue,
		Opportunities:          opportunities,
		AnalyzedAt:             time.Now().UTC(),
	}, nil
}

func (e *Engine) currentPrice(ctx context.Context, symbol string, rep *technicals.StockReport) (float64, error) {
	if rep != nil && rep.CurrentPrice > 0 {
		return rep.CurrentPrice, nil
	}
	quote, err := e.broker.GetQuoteCtx(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("quote for %s: %w", symbol, err)
	}
	if quote.Last <= 0 {
		return 0, fmt.Errorf("no price for %s", symbol)
	}
	return quote.Last, nil
}

// evaluateContract computes metrics for one strike and applies the grade
// gates. The bool result reports viability.
func (e *Engine) evaluateContract(sym EligibleSymbol, criteria Criteria, price, maxPositionValue float64,
	rep *technicals.StockReport, opt broker.ChainOption) (Opportunity, bool) {
	var spreadPct float64
	if opt.Bid > 0 && opt.Ask > 0 {
		spreadPct = (opt.Ask - opt.Bid) / ((opt.Ask + opt.Bid) / 2) * 100
		if spreadPct > criteria.MaxSpreadPct {
			return Opportunity{}, false
		}
	}
	if opt.OpenInterest < criteria.MinOpenInterest {
		return Opportunity{}, false
	}

	premium := opt.Mark
	if premium <= 0 {
		premium = (opt.Bid + opt.Ask) / 2
	}
	if premium <= 0 || opt.DTE <= 0 {
		return Opportunity{}, false
	}

	collateral := opt.Strike * 100
	maxContracts := int(math.Floor(maxPositionValue / collateral))
	if maxContracts < 1 {
		return Opportunity{}, false
	}

	annualized := premium / opt.Strike * (365.0 / float64(opt.DTE)) * 100
	downside := (price - opt.Strike) / price * 100
	assignmentProb := estimateAssignmentProbability(price, opt.Strike, opt.DTE)

	if annualized < criteria.MinAnnualizedReturn ||
		downside < criteria.MinDownsideProtection ||
		assignmentProb > criteria.MaxAssignmentProb {
		return Opportunity{}, false
	}

	score := attractivenessScore(criteria, sym.Grade, rep,
		annualized, downside, opt.DTE, assignmentProb, sym.AllocationPct)

	premiumReceived := premium * 100
	opp := Opportunity{
		Symbol:                sym.Symbol,
		Grade:                 sym.Grade,
		Strike:                opt.Strike,
		Premium:               premium,
		Bid:                   opt.Bid,
		Ask:                   opt.Ask,
		Mark:                  opt.Mark,
		SpreadPct:             round1(spreadPct),
		DTE:                   opt.DTE,
		ExpirationDate:        opt.ExpirationDate,
		CollateralRequired:    collateral,
		PremiumReceived:       premiumReceived,
		MaxContracts:          maxContracts,
		TotalPremiumIncome:    premiumReceived * float64(maxContracts),
		TotalCollateral:       collateral * float64(maxContracts),
		AnnualizedReturnPct:   round2(annualized),
		DownsideProtectionPct: round2(downside),
		BreakEvenPrice:        round2(opt.Strike - premium),
		AssignmentProbPct:     round1(assignmentProb),
		AttractivenessScore:   round1(score),
		OpenInterest:          opt.OpenInterest,
		Volume:                opt.Volume,
	}
	if opt.Greeks != nil {
		opp.Delta = opt.Greeks.Delta
		opp.Theta = opt.Greeks.Theta
		opp.ImpliedVol = opt.Greeks.Volatility
	}
	return opp, true
}

// estimateAssignmentProbability is a rough weekly-options model: a base
// probability from moneyness scaled by a time factor, capped at 95.
func estimateAssignmentProbability(price, strike float64, dte int) float64 {
	moneyness := strike / price

	var base float64
	switch {
	case moneyness < 0.85:
		base = 8
	case moneyness < 0.92:
		base = 20
	case moneyness < 0.98:
		base = 35
	case moneyness < 1.02:
		base = 50
	default:
		base = 80
	}

	var timeFactor float64
	switch {
	case dte <= 3:
		timeFactor = 1.2
	case dte <= 7:
		timeFactor = 1.0
	default:
		timeFactor = math.Max(0.4, float64(dte)/10)
	}

	return math.Min(95, base*timeFactor)
}

// attractivenessScore blends return, protection, expiry fit, technicals
// and grade into a 0-100 score.
func attractivenessScore(criteria Criteria, grade ranking.Grade, rep *technicals.StockReport,
	annualized, downside float64, dte int, assignmentProb, allocationPct float64) float64 {
	aggr := criteria.Aggressiveness

	excessReturn := math.Max(0, annualized-criteria.MinAnnualizedReturn)
	returnScore := math.Min(35, annualized*1.2+excessReturn*aggr)

	excessProtection := math.Max(0, downside-criteria.MinDownsideProtection)
	protectionScore := math.Min(20, downside+excessProtection*aggr)

	var timeScore float64
	switch {
	case dte >= criteria.MinDTE && dte <= criteria.MaxDTE:
		timeScore = 15
	case dte <= 3:
		timeScore = 14
	case dte <= 7:
		timeScore = 12
	case dte <= 10:
		timeScore = 9
	default:
		timeScore = 4
	}

	technicalScore := technicalBonus(rep)

	var assignmentPenalty float64
	if assignmentProb > criteria.MaxAssignmentProb {
		assignmentPenalty = math.Min(12, (assignmentProb-criteria.MaxAssignmentProb)*0.25)
	}

	var gradeBonus float64
	switch grade {
	case ranking.GradeExcellent:
		gradeBonus = 10
	case ranking.GradeGood:
		gradeBonus = 5
	case ranking.GradePoor:
		gradeBonus = -5
	}

	allocationPenalty := math.Max(0, (allocationPct-5)*0.25)

	total := returnScore + protectionScore + timeScore + technicalScore + gradeBonus -
		assignmentPenalty - allocationPenalty
	return math.Max(0, math.Min(100, total))
}

// technicalBonus scores the stock's technical posture 0-15 with a neutral
// 5 when no report is available.
func technicalBonus(rep *technicals.StockReport) float64 {
	if rep == nil {
		return 5
	}

	score := 5.0

	switch {
	case rep.RSI >= 30 && rep.RSI <= 70:
		score += 3
	case rep.RSI >= 25 && rep.RSI <= 75:
		score += 2
	case rep.RSI >= 20 && rep.RSI <= 80:
		score += 1
	}

	switch {
	case rep.HasSignal("STRONG UPTREND"):
		score += 4
	case rep.HasSignal("EMA BULLISH ALIGNMENT"):
		score += 3
	case rep.HasSignal("ABOVE LONG-TERM EMA"):
		score += 2
	case rep.HasSignal("ABOVE 20-DAY MA"):
		score += 1
	case rep.HasSignal("STRONG DOWNTREND"):
		score -= 2
	}

	switch {
	case rep.VolumeRatio >= 0.8:
		score += 2
	case rep.VolumeRatio >= 0.5:
		score += 1
	}

	if rep.BBUpper > rep.BBLower && rep.BBLower > 0 {
		position := (rep.CurrentPrice - rep.BBLower) / (rep.BBUpper - rep.BBLower)
		if position >= 0.2 && position <= 0.8 {
			score += 2
		} else if position >= 0.1 && position <= 0.9 {
			score += 1
		}
	}

	return math.Min(15, math.Max(0, score))
}

// Recommend runs the full selection: eligibility, per-symbol analysis and
// grade-adjusted score filtering, keeping the top contracts per symbol.
// Per-symbol failures are logged and skipped.
func (e *Engine) Recommend(ctx context.Context, snapshot *models.AccountSnapshot,
	rankings *ranking.Rankings, reports map[string]*technicals.StockReport) (map[string]*Recommendation, error) {
	if snapshot == nil || rankings == nil {
		return nil, fmt.Errorf("snapshot and rankings are required")
	}

	eligible := e.EligibleSymbols(snapshot, rankings.PutCandidates, reports)
	if len(eligible) == 0 {
		e.logger.Printf("no eligible symbols for put selection")
		return map[string]*Recommendation{}, nil
	}

	accountValue := snapshot.TotalValue().InexactFloat64()
	if accountValue <= 0 {
		accountValue = fallbackAccountValue
	}

	recommendations := make(map[string]*Recommendation)
	analyzed := 0
	for _, sym := range eligible {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		analysis, err := e.AnalyzeSymbol(ctx, sym, accountValue, reports[sym.Symbol])
		if err != nil {
			e.logger.Printf("put analysis failed for %s: %v", sym.Symbol, err)
			continue
		}
		analyzed++

		effectiveMin := e.effectiveMinScore(sym.Grade)
		var kept []Opportunity
		for _, opp := range analysis.Opportunities {
			if opp.AttractivenessScore >= effectiveMin {
				kept = append(kept, opp)
			}
		}
		if len(kept) == 0 {
			continue
		}
		if len(kept) > maxRecommendations {
			kept = kept[:maxRecommendations]
		}

		recommendations[sym.Symbol] = &Recommendation{
			Symbol:                 sym.Symbol,
			Grade:                  sym.Grade,
			CurrentPrice:           analysis.CurrentPrice,
			CurrentAllocationPct:   analysis.CurrentAllocationPct,
			RemainingAllocationPct: analysis.RemainingAllocationPct,
			RecommendedPuts:        kept,
			TotalOpportunities:     len(analysis.Opportunities),
			MinScoreApplied:        effectiveMin,
			AnalyzedAt:             analysis.AnalyzedAt,
		}
	}

	e.logger.Printf("put selection: %d symbols analyzed, %d with recommendations", analyzed, len(recommendations))
	return recommendations, nil
}

// effectiveMinScore relaxes the floor for excellent stocks and raises it
// as grades deteriorate.
func (e *Engine) effectiveMinScore(grade ranking.Grade) float64 {
	switch grade {
	case ranking.GradeExcellent:
		return math.Max(e.minScore-10, 30)
	case ranking.GradeFair:
		return e.minScore + 5
	case ranking.GradePoor:
		return e.minScore + 10
	default:
		return e.minScore
	}
}

func round1(x float64) float64 { return math.Round(x*10) / 10 }

func round2(x float64) float64 { return math.Round(x*100) / 100 }
