package technicals

import (
	"fmt"
	"strings"

	"github.com/eddiefleurent/stamford_wheeler/internal/models"
)

// StockReport holds the computed indicators and signals for one symbol.
type StockReport struct {
	Symbol         string   `json:"symbol"`
	CurrentPrice   float64  `json:"current_price"`
	PriceChangePct float64  `json:"price_change_pct"`
	RSI            float64  `json:"rsi"`
	SMA5           float64  `json:"sma_5"`
	SMA10          float64  `json:"sma_10"`
	SMA20          float64  `json:"sma_20"`
	EMA10          float64  `json:"ema_10"`
	EMA20          float64  `json:"ema_20"`
	EMA50          float64  `json:"ema_50"`
	BBUpper        float64  `json:"bb_upper"`
	BBMiddle       float64  `json:"bb_middle"`
	BBLower        float64  `json:"bb_lower"`
	Support        float64  `json:"support"`
	Resistance     float64  `json:"resistance"`
	VolumeRatio    float64  `json:"volume_ratio"`
	Signals        []string `json:"signals"`
}

// HasSignal reports whether any generated signal contains the given substring.
func (r *StockReport) HasSignal(substr string) bool {
	for _, s := range r.Signals {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

// GenerateStockSignals derives trading signals from a report's indicators.
// Returns ["NEUTRAL"] when nothing fires.
func GenerateStockSignals(r *StockReport) []string {
	var signals []string
	price := r.CurrentPrice

	// RSI
	if r.RSI < 30 {
		signals = append(signals, "OVERSOLD (RSI < 30)")
	} else if r.RSI > 70 {
		signals = append(signals, "OVERBOUGHT (RSI > 70)")
	}

	// Simple moving averages
	switch {
	case price > r.SMA5 && r.SMA5 > r.SMA10 && r.SMA10 > r.SMA20:
		signals = append(signals, "STRONG UPTREND (Price > MA5 > MA10 > MA20)")
	case price < r.SMA5 && r.SMA5 < r.SMA10 && r.SMA10 < r.SMA20:
		signals = append(signals, "STRONG DOWNTREND (Price < MA5 < MA10 < MA20)")
	case price > r.SMA20:
		signals = append(signals, "ABOVE 20-DAY MA")
	case price < r.SMA20:
		signals = append(signals, "BELOW 20-DAY MA")
	}

	// EMA alignment
	if r.EMA10 > r.EMA20 && r.EMA20 > r.EMA50 {
		signals = append(signals, "EMA BULLISH ALIGNMENT (EMA10 > EMA20 > EMA50)")
	} else if r.EMA10 < r.EMA20 && r.EMA20 < r.EMA50 {
		signals = append(signals, "EMA BEARISH ALIGNMENT (EMA10 < EMA20 < EMA50)")
	}

	if price > r.EMA10 && price > r.EMA20 {
		signals = append(signals, "ABOVE SHORT-TERM EMAs")
	} else if price < r.EMA10 && price < r.EMA20 {
		signals = append(signals, "BELOW SHORT-TERM EMAs")
	}

	if price > r.EMA50 {
		signals = append(signals, "ABOVE LONG-TERM EMA (50)")
	} else if price < r.EMA50 {
		signals = append(signals, "BELOW LONG-TERM EMA (50)")
	}

	// Bollinger bands
	if price > r.BBUpper {
		signals = append(signals, "ABOVE UPPER BOLLINGER BAND")
	} else if price < r.BBLower {
		signals = append(signals, "BELOW LOWER BOLLINGER BAND")
	}

	// Support and resistance proximity (within 2%)
	if r.Support > 0 {
		distance := price - r.Support
		if distance < 0 {
			distance = -distance
		}
		if distance/r.Support*100 < 2 {
			signals = append(signals, "NEAR SUPPORT LEVEL")
		}
	}
	if r.Resistance > 0 {
		distance := price - r.Resistance
		if distance < 0 {
			distance = -distance
		}
		if distance/r.Resistance*100 < 2 {
			signals = append(signals, "NEAR RESISTANCE LEVEL")
		}
	}

	// Volume
	if r.VolumeRatio > 2 {
		signals = append(signals, "HIGH VOLUME (2x+ avg)")
	} else if r.VolumeRatio > 1.5 {
		signals = append(signals, "ELEVATED VOLUME")
	}

	if len(signals) == 0 {
		return []string{"NEUTRAL"}
	}
	return signals
}

// OptionReport holds the per-contract Greeks view for an open position.
type OptionReport struct {
	ContractSymbol string           `json:"contract_symbol"`
	Underlying     string           `json:"underlying"`
	DTE            int              `json:"days_to_expiry"`
	Delta          float64          `json:"delta"`
	Gamma          float64          `json:"gamma"`
	Theta          float64          `json:"theta"`
	Vega           float64          `json:"vega"`
	ImpliedVol     float64          `json:"implied_volatility"`
	TimeValue      float64          `json:"time_value"`
	Moneyness      models.Moneyness `json:"moneyness"`
	PnLPercent     float64          `json:"pnl_percent"`
	OpenInterest   int64            `json:"open_interest"`
	Signals        []string         `json:"signals"`
}

// GenerateOptionSignals derives Greeks-aware signals for an open position.
// Implied volatility is a decimal (0.40 = 40%). Returns a neutral marker
// when nothing fires.
func GenerateOptionSignals(pos *models.OptionPosition, delta, theta, iv float64,
	dte int, timeValue float64) []string {
	var signals []string

	absTheta := theta
	if absTheta < 0 {
		absTheta = -absTheta
	}
	absDelta := delta
	if absDelta < 0 {
		absDelta = -absDelta
	}

	// Time decay, bucketed by DTE
	switch {
	case dte <= 7:
		if absTheta > 0.10 {
			signals = append(signals, "EXTREME TIME DECAY - EXPIRING SOON (θ > 0.10)")
		} else {
			signals = append(signals, "EXPIRING SOON (≤7 days)")
		}
	case dte <= 21:
		if absTheta > 0.05 {
			signals = append(signals, "HIGH TIME DECAY (θ > 0.05)")
		} else {
			signals = append(signals, "MODERATE TIME DECAY")
		}
	case dte <= 45:
		signals = append(signals, "THETA RISK INCREASING - APPROACHING 45 DTE")
	}

	// Delta-based moneyness and directional risk
	if pos.PutCall == models.OptionTypeCall {
		switch {
		case delta > 0.8:
			signals = append(signals, "DEEP ITM CALL - HIGH DELTA RISK (Δ > 0.8)")
		case delta > 0.6:
			signals = append(signals, "ITM CALL - STRONG DIRECTIONAL EXPOSURE (Δ > 0.6)")
		case delta < 0.2:
			signals = append(signals, "LOW DELTA CALL - LIMITED UPSIDE SENSITIVITY (Δ < 0.2)")
		case delta >= 0.4 && delta <= 0.6:
			signals = append(signals, "ATM CALL - MAXIMUM GAMMA RISK")
		}
	} else {
		switch {
		case delta < -0.8:
			signals = append(signals, "DEEP ITM PUT - HIGH DELTA RISK (Δ < -0.8)")
		case delta < -0.6:
			signals = append(signals, "ITM PUT - STRONG DIRECTIONAL EXPOSURE (Δ < -0.6)")
		case delta > -0.2:
			signals = append(signals, "LOW DELTA PUT - LIMITED DOWNSIDE SENSITIVITY (Δ > -0.2)")
		case delta >= -0.6 && delta <= -0.4:
			signals = append(signals, "ATM PUT - MAXIMUM GAMMA RISK")
		}
	}

	// Implied volatility environment
	switch {
	case iv > 0.6:
		signals = append(signals, "VERY HIGH IV - VOLATILITY CRUSH RISK (IV > 60%)")
	case iv > 0.4:
		signals = append(signals, "HIGH IV - ELEVATED PREMIUM (IV > 40%)")
	case iv > 0 && iv < 0.15:
		signals = append(signals, "LOW IV - CHEAP PREMIUM (IV < 15%)")
	case iv > 0 && iv < 0.25:
		signals = append(signals, "MODERATE IV - REASONABLE PREMIUM")
	}

	// Time value share of premium
	currentPrice := pos.MarketPrice.InexactFloat64()
	if timeValue > 0 && currentPrice > 0 {
		timeValuePct := timeValue / currentPrice * 100
		if timeValuePct > 50 {
			signals = append(signals, "HIGH TIME VALUE (>50% of premium)")
		} else if timeValuePct < 10 && dte > 30 {
			signals = append(signals, "LOW TIME VALUE - MOSTLY INTRINSIC")
		}
	}

	// P&L advice
	pnlPct := pos.PnLPercent().InexactFloat64()
	if pos.IsShort() {
		switch {
		case pnlPct > 75:
			signals = append(signals, "EXCELLENT SHORT PROFIT - CONSIDER CLOSING (>75%)")
		case pnlPct > 50:
			signals = append(signals, "STRONG SHORT PROFIT - THETA WORKING (>50%)")
		case pnlPct > 25:
			signals = append(signals, "GOOD SHORT PROFIT - MONITOR DELTA RISK (>25%)")
		case pnlPct < -50:
			signals = append(signals, "LARGE SHORT LOSS - HIGH DELTA AGAINST US (<-50%)")
		}
		if absDelta > 0.6 {
			signals = append(signals, "HIGH DELTA RISK - SHORT POSITION VULNERABLE")
		}
		if absTheta < 0.02 && dte > 30 {
			signals = append(signals, "LOW THETA BENEFIT - TIME DECAY SLOW")
		}
	} else {
		switch {
		case pnlPct > 100:
			signals = append(signals, "EXCEPTIONAL LONG PROFIT - SECURE GAINS (>100%)")
		case pnlPct > 50:
			signals = append(signals, "STRONG LONG PROFIT - CONSIDER PARTIAL CLOSE (>50%)")
		case pnlPct > 25:
			signals = append(signals, "GOOD LONG PROFIT - MONITOR THETA DECAY (>25%)")
		case pnlPct < -75:
			signals = append(signals, "SEVERE LONG LOSS - CUT LOSSES? (<-75%)")
		case pnlPct < -50:
			signals = append(signals, "LARGE LONG LOSS - THETA & DELTA WORKING AGAINST (<-50%)")
		}
		if absTheta > 0.05 && dte < 30 {
			signals = append(signals, "HIGH THETA DECAY - TIME WORKING AGAINST LONG")
		}
		if absDelta < 0.2 {
			signals = append(signals, "LOW DELTA - NEEDS LARGE UNDERLYING MOVE")
		}
	}

	// Volatility environment by side
	if iv > 0.5 && pos.IsShort() {
		signals = append(signals, "IV CRUSH OPPORTUNITY - SHORT PREMIUM")
	} else if iv > 0 && iv < 0.2 && !pos.IsShort() {
		signals = append(signals, "CHEAP PREMIUM ENTRY - LONG OPPORTUNITY")
	}

	if dte <= 21 && absTheta > 0.05 {
		signals = append(signals, "THETA ACCELERATION ZONE - MANAGE ACTIVELY")
	}
	if dte <= 7 && absDelta > 0.3 {
		signals = append(signals, "PIN RISK - NEAR EXPIRY WITH DELTA EXPOSURE")
	}

	if len(signals) == 0 {
		return []string{"MONITOR - GREEKS NEUTRAL"}
	}
	return signals
}

// IntrinsicValue returns the per-share intrinsic value of a contract.
func IntrinsicValue(putCall models.OptionType, strike, underlying float64) float64 {
	var v float64
	if putCall == models.OptionTypeCall {
		v = underlying - strike
	} else {
		v = strike - underlying
	}
	if v < 0 {
		return 0
	}
	return v
}

// TimeValue returns the extrinsic portion of a contract's premium.
func TimeValue(premium float64, putCall models.OptionType, strike, underlying float64) float64 {
	tv := premium - IntrinsicValue(putCall, strike, underlying)
	if tv < 0 {
		return 0
	}
	return tv
}

// SummarizeSignals renders a short one-line summary for logging.
func SummarizeSignals(symbol string, signals []string) string {
	if len(signals) == 0 {
		return fmt.Sprintf("%s: no signals", symbol)
	}
	out := symbol + ": " + signals[0]
	if len(signals) > 1 {
		out += fmt.Sprintf(" (+%d more)", len(signals)-1)
	}
	return out
}
