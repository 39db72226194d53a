// Package ranking scores watchlist symbols for wheel strategy entries:
// cash-secured put candidates on the put side and covered call candidates
// on the call side, using weighted technical criteria.
package ranking

import (
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/eddiefleurent/stamford_wheeler/internal/models"
	"github.com/eddiefleurent/stamford_wheeler/internal/technicals"
)

// Grade buckets a candidate score into an actionable quality tier.
type Grade string

const (
	GradeExcellent Grade = "EXCELLENT"
	GradeGood      Grade = "GOOD"
	GradeFair      Grade = "FAIR"
	GradePoor      Grade = "POOR"
	GradeAvoid     Grade = "AVOID"
)

// Score thresholds for each grade.
const (
	ScoreExcellent = 80.0
	ScoreGood      = 65.0
	ScoreFair      = 50.0
	ScorePoor      = 35.0
)

// GradeForScore maps a 0-100 score onto its grade tier.
func GradeForScore(score float64) Grade {
	switch {
	case score >= ScoreExcellent:
		return GradeExcellent
	case score >= ScoreGood:
		return GradeGood
	case score >= ScoreFair:
		return GradeFair
	case score >= ScorePoor:
		return GradePoor
	default:
		return GradeAvoid
	}
}

// Priority orders grades from AVOID (0) to EXCELLENT (4) for sorting.
func (g Grade) Priority() int {
	switch g {
	case GradeExcellent:
		return 4
	case GradeGood:
		return 3
	case GradeFair:
		return 2
	case GradePoor:
		return 1
	default:
		return 0
	}
}

// PutWeights holds the point allocation for put-side scoring components.
// The component weights sum to 100.
type PutWeights struct {
	RSI       float64 `yaml:"rsi" json:"rsi"`
	Stability float64 `yaml:"stability" json:"stability"`
	Support   float64 `yaml:"support" json:"support"`
	Volume    float64 `yaml:"volume" json:"volume"`
	Trend     float64 `yaml:"trend" json:"trend"`
	Bollinger float64 `yaml:"bollinger" json:"bollinger"`
	MACD      float64 `yaml:"macd" json:"macd"`
}

// DefaultPutWeights returns the standard put-side point allocation.
func DefaultPutWeights() PutWeights {
	return PutWeights{
		RSI:       25,
		Stability: 20,
		Support:   15,
		Volume:    10,
		Trend:     15,
		Bollinger: 10,
		MACD:      5,
	}
}

// CallWeights holds the point allocation for call-side scoring components.
type CallWeights struct {
	RSI        float64 `yaml:"rsi" json:"rsi"`
	Resistance float64 `yaml:"resistance" json:"resistance"`
	Momentum   float64 `yaml:"momentum" json:"momentum"`
	Volume     float64 `yaml:"volume" json:"volume"`
	Exhaustion float64 `yaml:"exhaustion" json:"exhaustion"`
	Bollinger  float64 `yaml:"bollinger" json:"bollinger"`
	MACD       float64 `yaml:"macd" json:"macd"`
}

// DefaultCallWeights returns the standard call-side point allocation.
func DefaultCallWeights() CallWeights {
	return CallWeights{
		RSI:        25,
		Resistance: 20,
		Momentum:   15,
		Volume:     10,
		Exhaustion: 15,
		Bollinger:  10,
		MACD:       5,
	}
}

// Config controls scoring weights and result shaping.
type Config struct {
	PutWeights  PutWeights  `yaml:"put_weights" json:"put_weights"`
	CallWeights CallWeights `yaml:"call_weights" json:"call_weights"`
	// MinScore filters candidates below this total before ranking.
	MinScore float64 `yaml:"min_score" json:"min_score"`
	// MaxPerSide caps how many candidates each side reports.
	MaxPerSide int `yaml:"max_per_side" json:"max_per_side"`
}

// DefaultConfig returns the standard ranking configuration.
func DefaultConfig() Config {
	return Config{
		PutWeights:  DefaultPutWeights(),
		CallWeights: DefaultCallWeights(),
		MinScore:    35,
		MaxPerSide:  5,
	}
}

// Candidate is a scored symbol for one side of the wheel.
type Candidate struct {
	Symbol      string            `json:"symbol"`
	Score       float64           `json:"score"`
	Grade       Grade             `json:"grade"`
	Strategy    string            `json:"strategy"`
	RSI         float64           `json:"rsi"`
	Price       float64           `json:"price"`
	PriceChange float64           `json:"price_change"`
	Breakdown   map[string]string `json:"breakdown"`
}

// Summary aggregates a ranking run.
type Summary struct {
	TotalPutCandidates  int       `json:"total_put_candidates"`
	TotalCallCandidates int       `json:"total_call_candidates"`
	TopPutScore         float64   `json:"top_put_score"`
	TopCallScore        float64   `json:"top_call_score"`
	GeneratedAt         time.Time `json:"generated_at"`
}

// Rankings holds the top candidates for both sides plus run metadata.
type Rankings struct {
	PutCandidates  []Candidate `json:"put_candidates"`
	CallCandidates []Candidate `json:"call_candidates"`
	Summary        Summary     `json:"summary"`
}

// Ranker scores technical reports into wheel candidates.
type Ranker struct {
	cfg    Config
	logger *log.Logger
}

// NewRanker creates a Ranker, filling zero config fields with defaults.
func NewRanker(cfg Config, logger *log.Logger) *Ranker {
	if logger == nil {
		logger = log.Default()
	}
	def := DefaultConfig()
	if cfg.PutWeights == (PutWeights{}) {
		cfg.PutWeights = def.PutWeights
	}
	if cfg.CallWeights == (CallWeights{}) {
		cfg.CallWeights = def.CallWeights
	}
	if cfg.MinScore <= 0 {
		cfg.MinScore = def.MinScore
	}
	if cfg.MaxPerSide <= 0 {
		cfg.MaxPerSide = def.MaxPerSide
	}
	return &Ranker{cfg: cfg, logger: logger}
}

// ScorePut scores a symbol for cash-secured put selling. Put sellers want a
// mildly oversold, stable stock sitting near support in the lower half of
// its Bollinger range.
func (r *Ranker) ScorePut(rep *technicals.StockReport) Candidate {
	w := r.cfg.PutWeights
	breakdown := make(map[string]string, 7)
	total := 0.0

	rsi := rep.RSI
	var rsiScore float64
	var rsiDesc string
	switch {
	case rsi >= 30 && rsi <= 45:
		rsiScore, rsiDesc = w.RSI, "EXCELLENT"
	case rsi >= 25 && rsi <= 55:
		rsiScore, rsiDesc = w.RSI*0.8, "GOOD"
	case rsi >= 20 && rsi <= 60:
		rsiScore, rsiDesc = w.RSI*0.5, "FAIR"
	default:
		rsiScore, rsiDesc = 0, "AVOID"
	}
	breakdown["rsi"] = fmt.Sprintf("%.1f/%.0f (%s: RSI %.1f)", rsiScore, w.RSI, rsiDesc, rsi)
	total += rsiScore

	change := math.Abs(rep.PriceChangePct)
	var stabilityScore float64
	stabilityDesc := "VOLATILE"
	switch {
	case change < 1.0:
		stabilityScore, stabilityDesc = w.Stability, "EXCELLENT"
	case change < 2.0:
		stabilityScore, stabilityDesc = w.Stability*0.8, "GOOD"
	case change < 3.5:
		stabilityScore, stabilityDesc = w.Stability*0.5, "FAIR"
	case change < 5.0:
		stabilityScore, stabilityDesc = w.Stability*0.2, "POOR"
	}
	breakdown["stability"] = fmt.Sprintf("%.1f/%.0f (%s: %.1f%% move)", stabilityScore, w.Stability, stabilityDesc, change)
	total += stabilityScore

	var fromSupport float64
	if rep.Support > 0 {
		fromSupport = (rep.CurrentPrice - rep.Support) / rep.Support * 100
	}
	var supportScore float64
	var supportDesc string
	switch {
	case fromSupport < 5:
		supportScore, supportDesc = w.Support*0.9, "NEAR SUPPORT"
	case fromSupport < 10:
		supportScore, supportDesc = w.Support*0.7, "MODERATE"
	default:
		supportScore, supportDesc = w.Support*0.5, "FAR FROM SUPPORT"
	}
	breakdown["support"] = fmt.Sprintf("%.1f/%.0f (%s: %.1f%% above)", supportScore, w.Support, supportDesc, fromSupport)
	total += supportScore

	volumeScore, volumeDesc := scoreVolume(rep.VolumeRatio, w.Volume)
	breakdown["volume"] = fmt.Sprintf("%.1f/%.0f (%s: %.1fx avg)", volumeScore, w.Volume, volumeDesc, rep.VolumeRatio)
	total += volumeScore

	var trendScore float64
	var trendDesc string
	switch {
	case rep.HasSignal("OVERSOLD"):
		trendScore, trendDesc = w.Trend*0.9, "OVERSOLD - GOOD"
	case rep.CurrentPrice > rep.EMA10 && rep.EMA10 > rep.EMA20:
		trendScore, trendDesc = w.Trend*0.7, "UPTREND - OK"
	case rep.EMA10 < rep.EMA20:
		trendScore, trendDesc = w.Trend*0.4, "DOWNTREND - RISKY"
	default:
		trendScore, trendDesc = w.Trend*0.6, "SIDEWAYS"
	}
	breakdown["trend"] = fmt.Sprintf("%.1f/%.0f (%s)", trendScore, w.Trend, trendDesc)
	total += trendScore

	var bbScore float64
	var bbDesc string
	switch {
	case rep.CurrentPrice >= rep.BBLower && rep.CurrentPrice <= rep.BBMiddle:
		bbScore, bbDesc = w.Bollinger*0.9, "LOWER HALF - GOOD"
	case rep.CurrentPrice < rep.BBLower:
		bbScore, bbDesc = w.Bollinger*0.8, "BELOW LOWER - OK"
	default:
		bbScore, bbDesc = w.Bollinger*0.5, "UPPER HALF - RISKY"
	}
	breakdown["bollinger"] = fmt.Sprintf("%.1f/%.0f (%s)", bbScore, w.Bollinger, bbDesc)
	total += bbScore

	// No MACD series from the indicator set yet, so score it neutral.
	macdScore := w.MACD * 0.7
	breakdown["macd"] = fmt.Sprintf("%.1f/%.0f (NEUTRAL)", macdScore, w.MACD)
	total += macdScore

	total = round1(total)
	return Candidate{
		Symbol:      rep.Symbol,
		Score:       total,
		Grade:       GradeForScore(total),
		Strategy:    "cash_secured_put",
		RSI:         rsi,
		Price:       rep.CurrentPrice,
		PriceChange: rep.PriceChangePct,
		Breakdown:   breakdown,
	}
}

// ScoreCall scores a symbol for covered call selling. Call sellers want an
// extended, overbought stock pressing against resistance near the upper
// Bollinger band.
func (r *Ranker) ScoreCall(rep *technicals.StockReport) Candidate {
	w := r.cfg.CallWeights
	breakdown := make(map[string]string, 7)
	total := 0.0

	rsi := rep.RSI
	var rsiScore float64
	var rsiDesc string
	switch {
	case rsi >= 65 && rsi <= 75:
		rsiScore, rsiDesc = w.RSI, "EXCELLENT"
	case rsi >= 60 && rsi <= 80:
		rsiScore, rsiDesc = w.RSI*0.8, "GOOD"
	case rsi >= 55 && rsi <= 85:
		rsiScore, rsiDesc = w.RSI*0.5, "FAIR"
	default:
		rsiScore, rsiDesc = 0, "AVOID"
	}
	breakdown["rsi"] = fmt.Sprintf("%.1f/%.0f (%s: RSI %.1f)", rsiScore, w.RSI, rsiDesc, rsi)
	total += rsiScore

	var toResistance float64
	if rep.CurrentPrice > 0 {
		toResistance = (rep.Resistance - rep.CurrentPrice) / rep.CurrentPrice * 100
	}
	var resistanceScore float64
	var resistanceDesc string
	switch {
	case toResistance < 3:
		resistanceScore, resistanceDesc = w.Resistance*0.9, "NEAR RESISTANCE"
	case toResistance < 7:
		resistanceScore, resistanceDesc = w.Resistance*0.7, "MODERATE"
	default:
		resistanceScore, resistanceDesc = w.Resistance*0.5, "FAR FROM RESISTANCE"
	}
	breakdown["resistance"] = fmt.Sprintf("%.1f/%.0f (%s: %.1f%% below)", resistanceScore, w.Resistance, resistanceDesc, toResistance)
	total += resistanceScore

	change := rep.PriceChangePct
	var momentumScore float64
	var momentumDesc string
	switch {
	case change > 3:
		momentumScore, momentumDesc = w.Momentum, "STRONG UP"
	case change > 1:
		momentumScore, momentumDesc = w.Momentum*0.8, "MODERATE UP"
	case change > 0:
		momentumScore, momentumDesc = w.Momentum*0.6, "SLIGHT UP"
	default:
		momentumScore, momentumDesc = w.Momentum*0.3, "NO MOMENTUM"
	}
	breakdown["momentum"] = fmt.Sprintf("%.1f/%.0f (%s: %+.1f%%)", momentumScore, w.Momentum, momentumDesc, change)
	total += momentumScore

	volumeScore, volumeDesc := scoreVolume(rep.VolumeRatio, w.Volume)
	breakdown["volume"] = fmt.Sprintf("%.1f/%.0f (%s: %.1fx avg)", volumeScore, w.Volume, volumeDesc, rep.VolumeRatio)
	total += volumeScore

	var exhaustionScore float64
	var exhaustionDesc string
	switch {
	case rep.HasSignal("OVERBOUGHT") && rsi > 70:
		exhaustionScore, exhaustionDesc = w.Exhaustion*0.9, "OVERBOUGHT - GOOD"
	case rsi > 65:
		exhaustionScore, exhaustionDesc = w.Exhaustion*0.7, "GETTING EXTENDED"
	default:
		exhaustionScore, exhaustionDesc = w.Exhaustion*0.4, "NOT EXTENDED"
	}
	breakdown["exhaustion"] = fmt.Sprintf("%.1f/%.0f (%s)", exhaustionScore, w.Exhaustion, exhaustionDesc)
	total += exhaustionScore

	var bbScore float64
	var bbDesc string
	switch {
	case rep.CurrentPrice >= rep.BBUpper:
		bbScore, bbDesc = w.Bollinger*0.9, "NEAR UPPER - EXCELLENT"
	case rep.CurrentPrice >= rep.BBMiddle:
		bbScore, bbDesc = w.Bollinger*0.8, "UPPER HALF - GOOD"
	default:
		bbScore, bbDesc = w.Bollinger*0.4, "LOWER HALF - POOR"
	}
	breakdown["bollinger"] = fmt.Sprintf("%.1f/%.0f (%s)", bbScore, w.Bollinger, bbDesc)
	total += bbScore

	macdScore := w.MACD * 0.6
	breakdown["macd"] = fmt.Sprintf("%.1f/%.0f (NEUTRAL)", macdScore, w.MACD)
	total += macdScore

	total = round1(total)
	return Candidate{
		Symbol:      rep.Symbol,
		Score:       total,
		Grade:       GradeForScore(total),
		Strategy:    "covered_call",
		RSI:         rsi,
		Price:       rep.CurrentPrice,
		PriceChange: change,
		Breakdown:   breakdown,
	}
}

// Rank scores every report for both sides, drops candidates under MinScore,
// sorts each side by score and keeps the top MaxPerSide.
func (r *Ranker) Rank(reports map[string]*technicals.StockReport) *Rankings {
	return r.rank(reports, nil)
}

// RankForAccount ranks like Rank but uses current holdings to gate sides:
// symbols already in a wheel cycle are only ranked for the side their phase
// calls for, and fresh symbols are put-side only until assigned.
func (r *Ranker) RankForAccount(reports map[string]*technicals.StockReport, snapshot *models.AccountSnapshot) *Rankings {
	return r.rank(reports, snapshot)
}

func (r *Ranker) rank(reports map[string]*technicals.StockReport, snapshot *models.AccountSnapshot) *Rankings {
	symbols := make([]string, 0, len(reports))
	for symbol := range reports {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	var puts, calls []Candidate
	for _, symbol := range symbols {
		rep := reports[symbol]
		if rep == nil {
			continue
		}
		wantPuts, wantCalls := true, true
		if snapshot != nil {
			cycle := &models.WheelCycle{Symbol: symbol, Phase: models.ClassifyWheelPhase(snapshot, symbol)}
			wantPuts, wantCalls = cycle.WantsPuts(), cycle.WantsCalls()
		}

		if wantPuts {
			if c := r.ScorePut(rep); c.Score >= r.cfg.MinScore {
				puts = append(puts, c)
			}
		}
		if wantCalls {
			if c := r.ScoreCall(rep); c.Score >= r.cfg.MinScore {
				calls = append(calls, c)
			}
		}
	}

	sortCandidates(puts)
	sortCandidates(calls)

	summary := Summary{
		TotalPutCandidates:  len(puts),
		TotalCallCandidates: len(calls),
		GeneratedAt:         time.Now().UTC(),
	}
	if len(puts) > 0 {
		summary.TopPutScore = puts[0].Score
	}
	if len(calls) > 0 {
		summary.TopCallScore = calls[0].Score
	}

	r.logger.Printf("ranked %d symbols: %d put candidates, %d call candidates",
		len(symbols), len(puts), len(calls))

	return &Rankings{
		PutCandidates:  capCandidates(puts, r.cfg.MaxPerSide),
		CallCandidates: capCandidates(calls, r.cfg.MaxPerSide),
		Summary:        summary,
	}
}

func scoreVolume(ratio, weight float64) (float64, string) {
	switch {
	case ratio >= 0.8 && ratio <= 2.0:
		return weight, "EXCELLENT"
	case ratio >= 0.5 && ratio <= 3.0:
		return weight * 0.8, "GOOD"
	default:
		return weight * 0.5, "FAIR"
	}
}

func sortCandidates(cands []Candidate) {
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		return cands[i].Symbol < cands[j].Symbol
	})
}

func capCandidates(cands []Candidate, max int) []Candidate {
	if len(cands) > max {
		return cands[:max]
	}
	return cands
}

func round1(x float64) float64 {
	return math.Round(x*10) / 10
}
