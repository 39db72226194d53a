package technicals

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/eddiefleurent/stamford_wheeler/internal/broker"
	"github.com/eddiefleurent/stamford_wheeler/internal/models"
)

const (
	// defaultHistoryDays covers the 50-period EMA with margin.
	defaultHistoryDays = 60
	// minCandles is the smallest history the indicator set is meaningful on.
	minCandles = 20
	// defaultScanConcurrency bounds parallel symbol fetches.
	defaultScanConcurrency = 4
	// priceChangeLookback is the session count behind the price change figure.
	priceChangeLookback = 5
)

// Analyzer computes technical reports for stocks and option positions by
// pulling history and chains from the broker.
type Analyzer struct {
	broker      broker.Broker
	logger      *log.Logger
	historyDays int
	concurrency int
}

// NewAnalyzer creates an Analyzer with default history depth and concurrency.
func NewAnalyzer(b broker.Broker, logger *log.Logger) *Analyzer {
	if logger == nil {
		logger = log.Default()
	}
	return &Analyzer{
		broker:      b,
		logger:      logger,
		historyDays: defaultHistoryDays,
		concurrency: defaultScanConcurrency,
	}
}

// WithConcurrency overrides the parallel fetch limit for watchlist scans.
func (a *Analyzer) WithConcurrency(n int) *Analyzer {
	if n > 0 {
		a.concurrency = n
	}
	return a
}

// AnalyzeSymbol builds a full indicator report for one symbol. currentPrice
// of zero means fetch a live quote.
func (a *Analyzer) AnalyzeSymbol(ctx context.Context, symbol string, currentPrice float64) (*StockReport, error) {
	if currentPrice <= 0 {
		quote, err := a.broker.GetQuoteCtx(ctx, symbol)
		if err != nil {
			return nil, fmt.Errorf("quote for %s: %w", symbol, err)
		}
		currentPrice = quote.Last
	}

	end := time.Now()
	start := end.AddDate(0, 0, -a.historyDays)
	candles, err := a.broker.GetHistoricalData(symbol, "daily", start, end)
	if err != nil {
		return nil, fmt.Errorf("history for %s: %w", symbol, err)
	}
	if len(candles) < minCandles {
		return nil, fmt.Errorf("insufficient price history for %s: %d candles", symbol, len(candles))
	}

	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	volumes := make([]int64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
		volumes[i] = c.Volume
	}

	report := &StockReport{
		Symbol:       symbol,
		CurrentPrice: currentPrice,
		RSI:          RSI(closes, RSIPeriod),
		SMA5:         SMA(closes, 5),
		SMA10:        SMA(closes, 10),
		SMA20:        SMA(closes, 20),
		EMA10:        EMA(closes, 10),
		EMA20:        EMA(closes, 20),
		EMA50:        EMA(closes, 50),
		Support:      SupportLevel(lows, SupportLookback),
		Resistance:   ResistanceLevel(highs, SupportLookback),
		VolumeRatio:  VolumeRatio(volumes, VolumeLookback),
	}
	if n := len(closes); n > priceChangeLookback {
		if prev := closes[n-1-priceChangeLookback]; prev > 0 {
			report.PriceChangePct = (currentPrice - prev) / prev * 100
		}
	}
	report.BBUpper, report.BBMiddle, report.BBLower = BollingerBands(closes, BollingerPeriod, BollingerStdDev)
	report.Signals = GenerateStockSignals(report)
	return report, nil
}

// ScanWatchlist analyzes all symbols concurrently under a bounded errgroup.
// Per-symbol failures are logged and skipped rather than failing the scan;
// only context cancellation aborts it.
func (a *Analyzer) ScanWatchlist(ctx context.Context, symbols []string) (map[string]*StockReport, error) {
	reports := make(map[string]*StockReport, len(symbols))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)

	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			report, err := a.AnalyzeSymbol(gctx, symbol, 0)
			if err != nil {
				a.logger.Printf("watchlist scan: skipping %s: %v", symbol, err)
				return nil
			}
			mu.Lock()
			reports[symbol] = report
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return reports, err
	}
	return reports, nil
}

// AnalyzeStocks builds reports for every equity position in the snapshot,
// using each position's marked price.
func (a *Analyzer) AnalyzeStocks(ctx context.Context, snapshot *models.AccountSnapshot) map[string]*StockReport {
	reports := make(map[string]*StockReport, len(snapshot.Stocks))
	for i := range snapshot.Stocks {
		pos := &snapshot.Stocks[i]
		report, err := a.AnalyzeSymbol(ctx, pos.Symbol, pos.MarketPrice.InexactFloat64())
		if err != nil {
			a.logger.Printf("stock technicals: %s: %v", pos.Symbol, err)
			continue
		}
		reports[pos.Symbol] = report
	}
	return reports
}

// AnalyzeOptions builds Greeks reports for every option position. Contracts
// the chain no longer quotes fall back to a Greeks-free report.
func (a *Analyzer) AnalyzeOptions(ctx context.Context, snapshot *models.AccountSnapshot) map[string]*OptionReport {
	reports := make(map[string]*OptionReport, len(snapshot.Options))

	// One chain fetch per underlying+expiry pair.
	type chainKey struct {
		symbol string
		expiry string
	}
	chains := make(map[chainKey][]broker.ChainOption)

	for i := range snapshot.Options {
		pos := &snapshot.Options[i]
		expiry := pos.Expiry.Format("2006-01-02")
		key := chainKey{pos.Symbol, expiry}

		chain, ok := chains[key]
		if !ok {
			var err error
			chain, err = a.broker.GetOptionChain(pos.Symbol, expiry, true)
			if err != nil {
				a.logger.Printf("option technicals: chain for %s %s: %v", pos.Symbol, expiry, err)
				chain = nil
			}
			chains[key] = chain
		}

		reports[pos.ContractSymbol] = a.analyzeOptionPosition(ctx, pos, chain)
	}
	return reports
}

func (a *Analyzer) analyzeOptionPosition(ctx context.Context, pos *models.OptionPosition,
	chain []broker.ChainOption) *OptionReport {
	dte := pos.DTE()
	report := &OptionReport{
		ContractSymbol: pos.ContractSymbol,
		Underlying:     pos.Symbol,
		DTE:            dte,
		PnLPercent:     pos.PnLPercent().InexactFloat64(),
	}

	var contract *broker.ChainOption
	for i := range chain {
		if chain[i].Symbol == pos.ContractSymbol {
			contract = &chain[i]
			break
		}
	}

	underlyingPrice := 0.0
	if quote, err := a.broker.GetQuoteCtx(ctx, pos.Symbol); err == nil {
		underlyingPrice = quote.Last
	} else {
		a.logger.Printf("option technicals: quote for %s: %v", pos.Symbol, err)
	}

	strike := pos.Strike.InexactFloat64()
	report.Moneyness = models.ClassifyMoneyness(pos.PutCall, strike, underlyingPrice)

	if contract == nil || contract.Greeks == nil {
		// No live Greeks: signal on what the position alone tells us.
		report.Signals = GenerateOptionSignals(pos, 0, 0, 0, dte, 0)
		return report
	}

	g := contract.Greeks
	report.Delta = g.Delta
	report.Gamma = g.Gamma
	report.Theta = g.Theta
	report.Vega = g.Vega
	report.ImpliedVol = g.Volatility / 100 // chain reports percent
	report.OpenInterest = contract.OpenInterest
	report.TimeValue = TimeValue(broker.MidPrice(contract), pos.PutCall, strike, underlyingPrice)
	report.Signals = GenerateOptionSignals(pos, g.Delta, g.Theta, report.ImpliedVol, dte, report.TimeValue)
	return report
}
