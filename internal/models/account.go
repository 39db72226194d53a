// Package models defines the account and position types shared across the
// wheel assistant: brokerage snapshots, stock/option/fund positions, and the
// per-symbol wheel phase derived from them.
package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SharesPerContract is the standard equity option multiplier.
const SharesPerContract = 100

var decimalHundred = decimal.NewFromInt(100)

// StockPosition is an equity holding. Quantity is signed (negative = short).
type StockPosition struct {
	Symbol      string          `json:"symbol"`
	Quantity    decimal.Decimal `json:"qty"`
	AvgCost     decimal.Decimal `json:"avg_cost"`
	MarketPrice decimal.Decimal `json:"market_price"`
}

// MarketValue returns quantity * market price.
func (s *StockPosition) MarketValue() decimal.Decimal {
	return s.Quantity.Mul(s.MarketPrice)
}

// PnL returns the unrealized profit or loss against average cost.
func (s *StockPosition) PnL() decimal.Decimal {
	return s.Quantity.Mul(s.MarketPrice.Sub(s.AvgCost))
}

// MutualFundPosition is a money-market or fund holding. These usually hold
// the idle cash that backs new cash-secured puts.
type MutualFundPosition struct {
	StockPosition
	Description string `json:"description,omitempty"`
}

// OptionPosition is a single option holding. Quantity is in contracts and
// signed (negative = short). AvgCost and MarketPrice are per share.
type OptionPosition struct {
	Symbol         string          `json:"symbol"`
	ContractSymbol string          `json:"contract_symbol"`
	Quantity       decimal.Decimal `json:"qty"`
	AvgCost        decimal.Decimal `json:"avg_cost"`
	MarketPrice    decimal.Decimal `json:"market_price"`
	Strike         decimal.Decimal `json:"strike"`
	Expiry         time.Time       `json:"expiry"`
	PutCall        OptionType      `json:"put_call"`
}

// MarketValue returns the per-share market value (contracts * price), without
// the option multiplier. Use TotalMarketValue for dollar exposure.
func (o *OptionPosition) MarketValue() decimal.Decimal {
	return o.Quantity.Mul(o.MarketPrice)
}

// TotalMarketValue returns the dollar market value including the 100x multiplier.
func (o *OptionPosition) TotalMarketValue() decimal.Decimal {
	return o.MarketValue().Mul(decimalHundred)
}

// TotalPnL returns the dollar P/L including the 100x multiplier. For short
// positions quantity is negative, so a price decline produces a gain.
func (o *OptionPosition) TotalPnL() decimal.Decimal {
	return o.Quantity.Mul(o.MarketPrice.Sub(o.AvgCost)).Mul(decimalHundred)
}

// IsShort reports whether this is a written (sold) option.
func (o *OptionPosition) IsShort() bool {
	return o.Quantity.IsNegative()
}

// DTE returns calendar days until expiry, floored at zero.
func (o *OptionPosition) DTE() int {
	now := time.Now().UTC().Truncate(24 * time.Hour)
	exp := o.Expiry.UTC().Truncate(24 * time.Hour)
	days := int(exp.Sub(now).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// PnLPercent returns P/L as a percentage of premium at risk. For short
// positions the denominator is the credit received, so +100 means the full
// premium has been captured.
func (o *OptionPosition) PnLPercent() decimal.Decimal {
	if o.AvgCost.IsZero() {
		return decimal.Zero
	}
	if o.IsShort() {
		return o.AvgCost.Sub(o.MarketPrice).Div(o.AvgCost).Mul(decimalHundred)
	}
	return o.MarketPrice.Sub(o.AvgCost).Div(o.AvgCost).Mul(decimalHundred)
}

// CollateralRequired returns the cash collateral a short put ties up
// (strike * contracts * 100). Zero for anything that is not a short put.
func (o *OptionPosition) CollateralRequired() decimal.Decimal {
	if !o.IsShort() || o.PutCall != OptionTypePut {
		return decimal.Zero
	}
	return o.Quantity.Abs().Mul(o.Strike).Mul(decimalHundred)
}

// AccountSnapshot is a point-in-time view of the brokerage account.
type AccountSnapshot struct {
	GeneratedAt              time.Time            `json:"generated_at"`
	Cash                     decimal.Decimal      `json:"cash"`
	BuyingPower              decimal.Decimal      `json:"buying_power"`
	Stocks                   []StockPosition      `json:"stocks"`
	Options                  []OptionPosition     `json:"options"`
	MutualFunds              []MutualFundPosition `json:"mutual_funds"`
	OfficialLiquidationValue decimal.Decimal      `json:"official_liquidation_value"`
}

// StocksValue returns the combined market value of equity positions.
func (a *AccountSnapshot) StocksValue() decimal.Decimal {
	total := decimal.Zero
	for i := range a.Stocks {
		total = total.Add(a.Stocks[i].MarketValue())
	}
	return total
}

// OptionsValue returns the combined dollar market value of option positions.
func (a *AccountSnapshot) OptionsValue() decimal.Decimal {
	total := decimal.Zero
	for i := range a.Options {
		total = total.Add(a.Options[i].TotalMarketValue())
	}
	return total
}

// MutualFundsValue returns the combined market value of fund positions.
// Money-market sweeps live here, so this usually doubles as idle cash.
func (a *AccountSnapshot) MutualFundsValue() decimal.Decimal {
	total := decimal.Zero
	for i := range a.MutualFunds {
		total = total.Add(a.MutualFunds[i].MarketValue())
	}
	return total
}

// CSPCollateral returns the total cash tied up backing short puts.
func (a *AccountSnapshot) CSPCollateral() decimal.Decimal {
	total := decimal.Zero
	for i := range a.Options {
		total = total.Add(a.Options[i].CollateralRequired())
	}
	return total
}

// AdjustedCash treats money-market fund value as the spendable cash figure,
// since sweeps report near-zero cashBalance even when the account is flush.
func (a *AccountSnapshot) AdjustedCash() decimal.Decimal {
	return a.MutualFundsValue()
}

// AdjustedBuyingPower adds swept cash back into the broker's buying power
// figure and nets out CSP collateral, which some brokers report without the
// short-put reservation. Floored at zero.
func (a *AccountSnapshot) AdjustedBuyingPower() decimal.Decimal {
	bp := a.BuyingPower.Add(a.AdjustedCash()).Sub(a.CSPCollateral())
	if bp.IsNegative() {
		return decimal.Zero
	}
	return bp
}

// TotalValue prefers the broker's official liquidation value and falls back
// to summing components when the broker omits it.
func (a *AccountSnapshot) TotalValue() decimal.Decimal {
	if !a.OfficialLiquidationValue.IsZero() {
		return a.OfficialLiquidationValue
	}
	return a.Cash.Add(a.StocksValue()).Add(a.OptionsValue()).Add(a.MutualFundsValue())
}

// OptionsForUnderlying returns option positions on the given underlying.
func (a *AccountSnapshot) OptionsForUnderlying(symbol string) []OptionPosition {
	var out []OptionPosition
	for i := range a.Options {
		if a.Options[i].Symbol == symbol {
			out = append(out, a.Options[i])
		}
	}
	return out
}

// StockQuantity returns the signed share count held for symbol, zero if none.
func (a *AccountSnapshot) StockQuantity(symbol string) decimal.Decimal {
	for i := range a.Stocks {
		if a.Stocks[i].Symbol == symbol {
			return a.Stocks[i].Quantity
		}
	}
	return decimal.Zero
}

// AllocationPercent returns the share of total account value held in symbol
// (stock market value only), as a 0-100 percentage.
func (a *AccountSnapshot) AllocationPercent(symbol string) decimal.Decimal {
	total := a.TotalValue()
	if total.IsZero() {
		return decimal.Zero
	}
	alloc := decimal.Zero
	for i := range a.Stocks {
		if a.Stocks[i].Symbol == symbol {
			alloc = alloc.Add(a.Stocks[i].MarketValue())
		}
	}
	return alloc.Div(total).Mul(decimalHundred)
}
