package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOptionType(t *testing.T) {
	tests := []struct {
		in      string
		want    OptionType
		wantErr bool
	}{
		{"P", OptionTypePut, false},
		{"put", OptionTypePut, false},
		{" CALL ", OptionTypeCall, false},
		{"c", OptionTypeCall, false},
		{"X", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		got, err := ParseOptionType(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "input %q", tt.in)
			continue
		}
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestParseOptionSymbol(t *testing.T) {
	sym, err := ParseOptionSymbol("AAPL  241220P00225000")
	require.NoError(t, err)

	assert.Equal(t, "AAPL", sym.Underlying)
	assert.Equal(t, OptionTypePut, sym.PutCall)
	assert.True(t, sym.Strike.Equal(dec("225")))
	assert.Equal(t, time.Date(2024, 12, 20, 0, 0, 0, 0, time.UTC), sym.Expiry)
}

func TestParseOptionSymbol_NoPadding(t *testing.T) {
	sym, err := ParseOptionSymbol("F250117C00012500")
	require.NoError(t, err)

	assert.Equal(t, "F", sym.Underlying)
	assert.Equal(t, OptionTypeCall, sym.PutCall)
	assert.True(t, sym.Strike.Equal(dec("12.5")))
}

func TestParseOptionSymbol_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		symbol string
	}{
		{"too short", "AAPL"},
		{"bad strike", "AAPL  241220P0022500X"},
		{"bad put call", "AAPL  241220X00225000"},
		{"bad date", "AAPL  24AB20P00225000"},
		{"empty underlying", "241220P00225000X"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseOptionSymbol(tt.symbol)
			assert.Error(t, err)
		})
	}
}

func TestOptionSymbol_RoundTrip(t *testing.T) {
	in := "MSFT  250620C00420000"
	sym, err := ParseOptionSymbol(in)
	require.NoError(t, err)
	assert.Equal(t, in, sym.String())
}

func TestUnderlyingFromOptionSymbol(t *testing.T) {
	assert.Equal(t, "AAPL", UnderlyingFromOptionSymbol("AAPL  241220P00225000"))
	assert.Equal(t, "SPY", UnderlyingFromOptionSymbol("SPY241220"))
	assert.Equal(t, "AAPL", UnderlyingFromOptionSymbol("AAPL"))
}

func TestClassifyMoneyness(t *testing.T) {
	tests := []struct {
		name       string
		putCall    OptionType
		strike     float64
		underlying float64
		want       Moneyness
	}{
		{"put deep otm", OptionTypePut, 150, 200, MoneynessOTM},
		{"put itm", OptionTypePut, 200, 150, MoneynessITM},
		{"put atm", OptionTypePut, 200, 201, MoneynessATM},
		{"call itm", OptionTypeCall, 150, 200, MoneynessITM},
		{"call otm", OptionTypeCall, 200, 150, MoneynessOTM},
		{"call atm", OptionTypeCall, 200, 199, MoneynessATM},
		{"zero strike", OptionTypePut, 0, 200, MoneynessOTM},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyMoneyness(tt.putCall, tt.strike, tt.underlying))
		})
	}
}
