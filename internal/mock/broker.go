// Package mock provides a deterministic simulated broker for offline runs
// and tests. All market data is derived from per-symbol seeds, so repeated
// runs against the same watchlist produce the same numbers.
package mock

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eddiefleurent/stamford_wheeler/internal/broker"
	"github.com/eddiefleurent/stamford_wheeler/internal/models"
	"github.com/eddiefleurent/stamford_wheeler/internal/util"
)

const (
	historyDays    = 120
	strikeCount    = 20
	simCash        = 2500.0
	simMoneyMarket = 40000.0
)

// Broker is a simulated brokerage. The zero value is not usable; construct
// with NewBroker.
type Broker struct {
	heldSymbol string
	heldShares int64
	now        func() time.Time
}

var _ broker.Broker = (*Broker)(nil)

// NewBroker creates a simulated broker. When heldSymbol is non-empty the
// account holds 100 shares of it, which drives the covered-call side of a run.
func NewBroker(heldSymbol string) *Broker {
	return &Broker{
		heldSymbol: strings.ToUpper(heldSymbol),
		heldShares: 100,
		now:        time.Now,
	}
}

// WithClock overrides the time source, used by tests for stable expirations.
func (b *Broker) WithClock(now func() time.Time) *Broker {
	b.now = now
	return b
}

// rng is a small deterministic generator seeded from a symbol.
type rng struct{ state uint64 }

func newRNG(parts ...string) *rng {
	h := fnv.New64a()
	for _, p := range parts {
		h.Write([]byte(p))
	}
	s := h.Sum64()
	if s == 0 {
		s = 1
	}
	return &rng{state: s}
}

// next returns a float in [0,1).
func (r *rng) next() float64 {
	r.state = r.state*6364136223846793005 + 1442695040888963407
	return float64(r.state>>11) / float64(1<<53)
}

// basePrice derives a stable per-symbol price in [40, 440).
func basePrice(symbol string) float64 {
	r := newRNG(symbol, "base")
	return 40 + r.next()*400
}

func (b *Broker) histCandles(symbol string) []broker.Candle {
	base := basePrice(symbol)
	r := newRNG(symbol, "walk")
	trend := (r.next() - 0.45) * 0.002 // mild per-day drift, slightly bullish

	candles := make([]broker.Candle, 0, historyDays)
	day := b.now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -historyDays)
	price := base
	for i := 0; i < historyDays; i++ {
		day = day.AddDate(0, 0, 1)
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		wave := math.Sin(float64(i)/9.0) * 0.01
		noise := (r.next() - 0.5) * 0.015
		price = price * (1 + trend + wave*0.3 + noise)

		spread := price * 0.01
		open := price - spread*(r.next()-0.5)
		high := math.Max(open, price) + spread*r.next()*0.5
		low := math.Min(open, price) - spread*r.next()*0.5
		volume := int64(1_000_000 + r.next()*4_000_000)
		// occasional volume spike
		if r.next() > 0.95 {
			volume *= 3
		}

		candles = append(candles, broker.Candle{
			Date:   day,
			Open:   roundCents(open),
			High:   roundCents(high),
			Low:    roundCents(low),
			Close:  roundCents(price),
			Volume: volume,
		})
	}
	return candles
}

func (b *Broker) lastClose(symbol string) (last, prev float64, volume int64) {
	candles := b.histCandles(symbol)
	n := len(candles)
	return candles[n-1].Close, candles[n-2].Close, candles[n-1].Volume
}

// GetQuote returns the simulated quote for symbol.
func (b *Broker) GetQuote(symbol string) (*broker.Quote, error) {
	return b.GetQuoteCtx(context.Background(), symbol)
}

// GetQuoteCtx returns the simulated quote for symbol.
func (b *Broker) GetQuoteCtx(ctx context.Context, symbol string) (*broker.Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	symbol = strings.ToUpper(symbol)
	last, prev, volume := b.lastClose(symbol)
	change := last - prev
	changePct := 0.0
	if prev != 0 {
		changePct = change / prev * 100
	}
	return &broker.Quote{
		Symbol:           symbol,
		Description:      symbol + " (simulated)",
		Last:             last,
		Bid:              roundCents(last - 0.02),
		Ask:              roundCents(last + 0.02),
		Close:            prev,
		NetChange:        roundCents(change),
		ChangePercentage: roundCents(changePct),
		Volume:           volume,
		AverageVolume:    2_500_000,
	}, nil
}

// GetHistoricalData returns daily candles for the requested window.
func (b *Broker) GetHistoricalData(symbol, _ string, startDate, endDate time.Time) ([]broker.Candle, error) {
	var out []broker.Candle
	for _, c := range b.histCandles(strings.ToUpper(symbol)) {
		if c.Date.Before(startDate) || c.Date.After(endDate) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// GetExpirations returns the next five weekly (Friday) expirations.
func (b *Broker) GetExpirations(_ string) ([]string, error) {
	d := b.now().UTC()
	for d.Weekday() != time.Friday {
		d = d.AddDate(0, 0, 1)
	}
	out := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		out = append(out, d.Format("2006-01-02"))
		d = d.AddDate(0, 0, 7)
	}
	return out, nil
}

// GetOptionChain generates a synthetic chain around the simulated spot price.
// An empty expiration selects the nearest weekly.
func (b *Broker) GetOptionChain(symbol, expiration string, withGreeks bool) ([]broker.ChainOption, error) {
	symbol = strings.ToUpper(symbol)
	if expiration == "" {
		exps, _ := b.GetExpirations(symbol)
		expiration = exps[0]
	}
	expDate, err := time.Parse("2006-01-02", expiration)
	if err != nil {
		return nil, fmt.Errorf("invalid expiration format: %w", err)
	}
	dte := int(expDate.Sub(b.now().UTC().Truncate(24*time.Hour)).Hours() / 24)
	if dte < 0 {
		dte = 0
	}

	spot, _, _ := b.lastClose(symbol)
	interval := strikeInterval(spot)
	startStrike := util.FloorToTick(spot, interval) - interval*float64(strikeCount)/2
	r := newRNG(symbol, "chain", expiration)

	vol := 0.18 + r.next()*0.15
	timeValue := math.Max(float64(dte)/365.0, 1.0/365.0)

	var options []broker.ChainOption
	for i := 0; i <= strikeCount; i++ {
		strike := startStrike + float64(i)*interval
		if strike <= 0 {
			continue
		}
		distance := math.Abs(strike - spot)
		deltaDecay := math.Exp(-distance / (spot * vol * math.Sqrt(timeValue) * 2.5))

		putDelta := -0.5 * deltaDecay
		if strike > spot {
			putDelta = -(1 - 0.5*deltaDecay)
		}
		callDelta := 0.5 * deltaDecay
		if strike < spot {
			callDelta = 1 - 0.5*deltaDecay
		}

		putPrice := math.Max(0.05, vol*math.Sqrt(timeValue)*spot*math.Abs(putDelta))
		callPrice := math.Max(0.05, vol*math.Sqrt(timeValue)*spot*math.Abs(callDelta))
		if strike > spot {
			putPrice += strike - spot
		}
		if strike < spot {
			callPrice += spot - strike
		}

		put := broker.ChainOption{
			Symbol:         occSymbol(symbol, expDate, "P", strike),
			Description:    fmt.Sprintf("%s %s $%.2f Put", symbol, expDate.Format("Jan 02 2006"), strike),
			OptionType:     "PUT",
			ExpirationDate: expiration,
			Underlying:     symbol,
			Strike:         strike,
			Bid:            roundCents(putPrice * 0.97),
			Ask:            roundCents(putPrice * 1.03),
			Last:           roundCents(putPrice),
			Mark:           roundCents(putPrice),
			Volume:         int64(100 + r.next()*5000),
			OpenInterest:   int64(200 + r.next()*20000),
			DTE:            dte,
		}
		call := broker.ChainOption{
			Symbol:         occSymbol(symbol, expDate, "C", strike),
			Description:    fmt.Sprintf("%s %s $%.2f Call", symbol, expDate.Format("Jan 02 2006"), strike),
			OptionType:     "CALL",
			ExpirationDate: expiration,
			Underlying:     symbol,
			Strike:         strike,
			Bid:            roundCents(callPrice * 0.97),
			Ask:            roundCents(callPrice * 1.03),
			Last:           roundCents(callPrice),
			Mark:           roundCents(callPrice),
			Volume:         int64(100 + r.next()*5000),
			OpenInterest:   int64(200 + r.next()*20000),
			DTE:            dte,
		}
		if withGreeks {
			put.Greeks = &broker.Greeks{Delta: putDelta, Theta: -0.05 * vol, Vega: 0.10 * vol, Volatility: vol * 100}
			call.Greeks = &broker.Greeks{Delta: callDelta, Theta: -0.05 * vol, Vega: 0.10 * vol, Volatility: vol * 100}
		}
		options = append(options, put, call)
	}
	return options, nil
}

// GetAccountSnapshot returns the simulated account.
func (b *Broker) GetAccountSnapshot() (*models.AccountSnapshot, error) {
	return b.GetAccountSnapshotCtx(context.Background())
}

// GetAccountSnapshotCtx returns the simulated account: cash, a money-market
// sweep, and optionally 100 shares of the held symbol.
func (b *Broker) GetAccountSnapshotCtx(ctx context.Context) (*models.AccountSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap := &models.AccountSnapshot{
		GeneratedAt: b.now().UTC(),
		Cash:        decimal.NewFromFloat(simCash),
		BuyingPower: decimal.NewFromFloat(simCash + simMoneyMarket),
		MutualFunds: []models.MutualFundPosition{
			{
				StockPosition: models.StockPosition{
					Symbol:      "SWVXX",
					Quantity:    decimal.NewFromFloat(simMoneyMarket),
					AvgCost:     decimal.NewFromInt(1),
					MarketPrice: decimal.NewFromInt(1),
				},
				Description: "Money market sweep",
			},
		},
	}
	if b.heldSymbol != "" {
		last, _, _ := b.lastClose(b.heldSymbol)
		snap.Stocks = append(snap.Stocks, models.StockPosition{
			Symbol:      b.heldSymbol,
			Quantity:    decimal.NewFromInt(b.heldShares),
			AvgCost:     decimal.NewFromFloat(roundCents(last * 0.97)),
			MarketPrice: decimal.NewFromFloat(last),
		})
	}
	total := snap.Cash.Add(snap.StocksValue()).Add(snap.MutualFundsValue())
	snap.OfficialLiquidationValue = total
	return snap, nil
}

// GetTransactions returns one synthetic put assignment for the held symbol
// when the window covers two days ago, exercising the assignment detector.
func (b *Broker) GetTransactions(ctx context.Context, start, end time.Time) ([]broker.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.heldSymbol == "" {
		return nil, nil
	}
	assignedAt := b.now().UTC().AddDate(0, 0, -2)
	if assignedAt.Before(start) || assignedAt.After(end) {
		return nil, nil
	}

	last, _, _ := b.lastClose(b.heldSymbol)
	strike := util.FloorToTick(last, strikeInterval(last))
	expDate := assignedAt.Truncate(24 * time.Hour)

	tx := broker.Transaction{
		ActivityID:  900000 + int64(basePrice(b.heldSymbol)),
		Time:        assignedAt.Format(time.RFC3339),
		TradeDate:   assignedAt.Format(time.RFC3339),
		Type:        "RECEIVE_AND_DELIVER",
		Description: "OPTION_ASSIGNMENT",
		NetAmount:   -strike * float64(b.heldShares),
	}
	var leg broker.TransferItem
	leg.Amount = -float64(b.heldShares / models.SharesPerContract)
	leg.Price = strike
	leg.Instrument.AssetType = "OPTION"
	leg.Instrument.Symbol = occSymbol(b.heldSymbol, expDate, "P", strike)
	leg.Instrument.PutCall = "PUT"
	leg.Instrument.StrikePrice = strike
	leg.Instrument.Underlying = b.heldSymbol
	tx.TransferItems = []broker.TransferItem{leg}

	return []broker.Transaction{tx}, nil
}

// GetMarketClock reports "open" on weekdays and "closed" on weekends.
func (b *Broker) GetMarketClock() (string, error) {
	wd := b.now().UTC().Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return "closed", nil
	}
	return "open", nil
}

// IsTradingDay reports weekdays as trading days.
func (b *Broker) IsTradingDay() (bool, error) {
	state, err := b.GetMarketClock()
	if err != nil {
		return false, err
	}
	return state != "closed", nil
}

func strikeInterval(price float64) float64 {
	switch {
	case price < 50:
		return 1
	case price < 200:
		return 2.5
	default:
		return 5
	}
}

// occSymbol formats the 21-character OCC option symbol.
func occSymbol(underlying string, exp time.Time, putCall string, strike float64) string {
	return fmt.Sprintf("%-6s%s%s%08d", underlying, exp.Format("060102"), putCall, int(strike*1000))
}

func roundCents(v float64) float64 {
	return util.RoundToTick(v, 0.01)
}
