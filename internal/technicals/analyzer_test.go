package technicals

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
)

// fakeBroker serves canned market data for analyzer tests.
type fakeBroker struct {
	candles    map[string][]broker.Candle
	quotes     map[string]float64
	chains     map[string][]broker.ChainOption
	historyErr map[string]error
}

func (f *fakeBroker) GetAccountSnapshot() (*models.AccountSnapshot, error) { return nil, nil }
func (f *fakeBroker) GetAccountSnapshotCtx(context.Context) (*models.AccountSnapshot, error) {
	return nil, nil
}
func (f *fakeBroker) GetTransactions(context.Context, time.Time, time.Time) ([]broker.Transaction, error) {
	return nil, nil
}
func (f *fakeBroker) GetQuote(symbol string) (*broker.Quote, error) {
	return f.GetQuoteCtx(context.Background(), symbol)
}
func (f *fakeBroker) GetQuoteCtx(_ context.Context, symbol string) (*broker.Quote, error) {
	last, ok := f.quotes[symbol]
	if !ok {
		return nil, errors.New("no quote")
	}
	return &broker.Quote{Symbol: symbol, Last: last}, nil
}
func (f *fakeBroker) GetHistoricalData(symbol, _ string, _, _ time.Time) ([]broker.Candle, error) {
	if err := f.historyErr[symbol]; err != nil {
		return nil, err
	}
	return f.candles[symbol], nil
}
func (f *fakeBroker) GetExpirations(string) ([]string, error) { return nil, nil }
func (f *fakeBroker) GetOptionChain(symbol, _ string, _ bool) ([]broker.ChainOption, error) {
	return f.chains[symbol], nil
}
func (f *fakeBroker) GetMarketClock() (string, error) { return "open", nil }
func (f *fakeBroker) IsTradingDay() (bool, error)     { return true, nil }

var _ broker.Broker = (*fakeBroker)(nil)

func flatCandles(n int, price float64, volume int64) []broker.Candle {
	candles := make([]broker.Candle, n)
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := range candles {
		candles[i] = broker.Candle{
			Date: day.AddDate(0, 0, i), Open: price, High: price + 1,
			Low: price - 1, Close: price, Volume: volume,
		}
	}
	return candles
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestAnalyzeSymbol(t *testing.T) {
	fb := &fakeBroker{
		candles: map[string][]broker.Candle{"AAPL": flatCandles(60, 100, 1000)},
		quotes:  map[string]float64{"AAPL": 100},
	}
	a := NewAnalyzer(fb, quietLogger())

	report, err := a.AnalyzeSymbol(context.Background(), "AAPL", 0)
	require.NoError(t, err)

	assert.Equal(t, "AAPL", report.Symbol)
	assert.Equal(t, 100.0, report.CurrentPrice)
	assert.Equal(t, 100.0, report.SMA20)
	assert.Equal(t, 99.0, report.Support)
	assert.Equal(t, 101.0, report.Resistance)
	assert.InDelta(t, 1.0, report.VolumeRatio, 1e-9)
	assert.NotEmpty(t, report.Signals)
}

func TestAnalyzeSymbol_InsufficientHistory(t *testing.T) {
	fb := &fakeBroker{
		candles: map[string][]broker.Candle{"AAPL": flatCandles(10, 100, 1000)},
		quotes:  map[string]float64{"AAPL": 100},
	}
	a := NewAnalyzer(fb, quietLogger())

	_, err := a.AnalyzeSymbol(context.Background(), "AAPL", 100)
	assert.ErrorContains(t, err, "insufficient price history")
}

func TestScanWatchlist_SkipsFailures(t *testing.T) {
	fb := &fakeBroker{
		candles: map[string][]broker.Candle{
			"AAPL": flatCandles(60, 100, 1000),
			"KO":   flatCandles(60, 60, 500),
		},
		quotes:     map[string]float64{"AAPL": 100, "KO": 60, "BAD": 10},
		historyErr: map[string]error{"BAD": errors.New("upstream down")},
	}
	a := NewAnalyzer(fb, quietLogger()).WithConcurrency(2)

	reports, err := a.ScanWatchlist(context.Background(), []string{"AAPL", "KO", "BAD", "NOQUOTE"})
	require.NoError(t, err)

	assert.Len(t, reports, 2)
	assert.Contains(t, reports, "AAPL")
	assert.Contains(t, reports, "KO")
}

func TestScanWatchlist_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fb := &fakeBroker{quotes: map[string]float64{"AAPL": 100}}
	a := NewAnalyzer(fb, quietLogger())

	_, err := a.ScanWatchlist(ctx, []string{"AAPL"})
	assert.Error(t, err)
}

func TestAnalyzeOptions(t *testing.T) {
	contract := "AAPL  241220P00180000"
	expiry := time.Now().UTC().AddDate(0, 0, 10)

	fb := &fakeBroker{
		quotes: map[string]float64{"AAPL": 185},
		chains: map[string][]broker.ChainOption{
			"AAPL": {{
				Symbol: contract, OptionType: "PUT", Strike: 180,
				Bid: 1.2, Ask: 1.4, Mark: 1.3, OpenInterest: 400,
				Greeks: &broker.Greeks{Delta: -0.28, Theta: -0.06, Volatility: 35},
			}},
		},
	}
	a := NewAnalyzer(fb, quietLogger())

	snap := &models.AccountSnapshot{
		Options: []models.OptionPosition{{
			Symbol:         "AAPL",
			ContractSymbol: contract,
			Quantity:       decimal.NewFromInt(-1),
			AvgCost:        decimal.NewFromFloat(2.0),
			MarketPrice:    decimal.NewFromFloat(1.3),
			Strike:         decimal.NewFromInt(180),
			Expiry:         expiry,
			PutCall:        models.OptionTypePut,
		}},
	}

	reports := a.AnalyzeOptions(context.Background(), snap)
	require.Len(t, reports, 1)

	r := reports[contract]
	require.NotNil(t, r)
	assert.Equal(t, -0.28, r.Delta)
	assert.InDelta(t, 0.35, r.ImpliedVol, 1e-9)
	assert.Equal(t, int64(400), r.OpenInterest)
	assert.Equal(t, models.MoneynessOTM, r.Moneyness)
	assert.NotEmpty(t, r.Signals)
}

func TestAnalyzeOptions_MissingChain(t *testing.T) {
	fb := &fakeBroker{quotes: map[string]float64{"AAPL": 185}}
	a := NewAnalyzer(fb, quietLogger())

	snap := &models.AccountSnapshot{
		Options: []models.OptionPosition{{
			Symbol:         "AAPL",
			ContractSymbol: "AAPL  241220P00180000",
			Quantity:       decimal.NewFromInt(-1),
			AvgCost:        decimal.NewFromFloat(2.0),
			MarketPrice:    decimal.NewFromFloat(1.3),
			Strike:         decimal.NewFromInt(180),
			Expiry:         time.Now().UTC().AddDate(0, 0, 10),
			PutCall:        models.OptionTypePut,
		}},
	}

	reports := a.AnalyzeOptions(context.Background(), snap)
	require.Len(t, reports, 1)
	r := reports["AAPL  241220P00180000"]
	assert.Zero(t, r.Delta)
	assert.NotEmpty(t, r.Signals)
}
