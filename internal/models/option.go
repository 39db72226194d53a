package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

// OptionType identifies a contract as a put or a call.
type OptionType string

const (
	// OptionTypePut is a put contract.
	OptionTypePut OptionType = "PUT"
	// OptionTypeCall is a call contract.
	OptionTypeCall OptionType = "CALL"
)

// Valid returns true if the OptionType is one of the defined constants.
func (t OptionType) Valid() bool {
	return t == OptionTypePut || t == OptionTypeCall
}

// ParseOptionType normalizes broker put/call strings ("P", "put", "CALL").
func ParseOptionType(s string) (OptionType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "P", "PUT":
		return OptionTypePut, nil
	case "C", "CALL":
		return OptionTypeCall, nil
	default:
		return "", fmt.Errorf("unrecognized option type %q", s)
	}
}

// Moneyness classifies a contract relative to the underlying price.
type Moneyness string

const (
	// MoneynessITM means in the money.
	MoneynessITM Moneyness = "ITM"
	// MoneynessATM means within 2% of the strike.
	MoneynessATM Moneyness = "ATM"
	// MoneynessOTM means out of the money.
	MoneynessOTM Moneyness = "OTM"
)

// ClassifyMoneyness buckets a contract as ITM/ATM/OTM. Contracts within 2%
// of the strike count as ATM regardless of side.
func ClassifyMoneyness(putCall OptionType, strike, underlying float64) Moneyness {
	if strike <= 0 || underlying <= 0 {
		return MoneynessOTM
	}
	ratio := underlying / strike
	if ratio > 0.98 && ratio < 1.02 {
		return MoneynessATM
	}
	itm := underlying < strike // put side
	if putCall == OptionTypeCall {
		itm = underlying > strike
	}
	if itm {
		return MoneynessITM
	}
	return MoneynessOTM
}

// OptionSymbol is a parsed OCC contract symbol, e.g. "AAPL  241220P00225000".
type OptionSymbol struct {
	Underlying string
	Expiry     time.Time
	PutCall    OptionType
	Strike     decimal.Decimal
}

// occStrikeScale converts the 8-digit OCC strike field (price * 1000).
var occStrikeScale = decimal.NewFromInt(1000)

// ParseOptionSymbol decodes an OCC-format contract symbol: up to six
// characters of padded underlying, YYMMDD expiry, P or C, then an 8-digit
// strike in thousandths.
func ParseOptionSymbol(symbol string) (*OptionSymbol, error) {
	s := strings.TrimSpace(symbol)
	if len(s) < 16 {
		return nil, fmt.Errorf("option symbol %q too short for OCC format", symbol)
	}

	strikeRaw := s[len(s)-8:]
	strikeInt, err := strconv.ParseInt(strikeRaw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("option symbol %q: bad strike field %q: %w", symbol, strikeRaw, err)
	}
	strike := decimal.NewFromInt(strikeInt).Div(occStrikeScale)

	pcRaw := s[len(s)-9]
	var putCall OptionType
	switch pcRaw {
	case 'P':
		putCall = OptionTypePut
	case 'C':
		putCall = OptionTypeCall
	default:
		return nil, fmt.Errorf("option symbol %q: bad put/call indicator %q", symbol, string(pcRaw))
	}

	dateRaw := s[len(s)-15 : len(s)-9]
	expiry, err := time.Parse("060102", dateRaw)
	if err != nil {
		return nil, fmt.Errorf("option symbol %q: bad expiry field %q: %w", symbol, dateRaw, err)
	}

	underlying := strings.TrimSpace(s[:len(s)-15])
	if underlying == "" {
		return nil, fmt.Errorf("option symbol %q: empty underlying", symbol)
	}
	for _, r := range underlying {
		if !unicode.IsUpper(r) && !unicode.IsDigit(r) && r != '.' {
			return nil, fmt.Errorf("option symbol %q: invalid underlying %q", symbol, underlying)
		}
	}

	return &OptionSymbol{
		Underlying: underlying,
		Expiry:     expiry,
		PutCall:    putCall,
		Strike:     strike,
	}, nil
}

// String renders the symbol back in OCC format with a padded underlying.
func (o *OptionSymbol) String() string {
	pc := "C"
	if o.PutCall == OptionTypePut {
		pc = "P"
	}
	strike := o.Strike.Mul(occStrikeScale).IntPart()
	return fmt.Sprintf("%-6s%s%s%08d", o.Underlying, o.Expiry.Format("060102"), pc, strike)
}

// UnderlyingFromOptionSymbol extracts just the ticker from an OCC symbol,
// tolerating symbols that fail full parsing.
func UnderlyingFromOptionSymbol(symbol string) string {
	parsed, err := ParseOptionSymbol(symbol)
	if err == nil {
		return parsed.Underlying
	}
	// Fall back to the leading run of ticker characters.
	s := strings.TrimSpace(symbol)
	for i, r := range s {
		if unicode.IsDigit(r) {
			return s[:i]
		}
	}
	return s
}
