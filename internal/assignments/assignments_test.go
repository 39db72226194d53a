package assignments

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/stamford_wheeler/internal/broker"
)

func optionTx(activityID int64, amount, price float64) broker.Transaction {
	item := broker.TransferItem{Amount: amount, Price: price}
	item.Instrument.AssetType = "OPTION"
	item.Instrument.Symbol = "AAPL  250905P00185000"
	item.Instrument.PutCall = "PUT"
	item.Instrument.StrikePrice = 185
	item.Instrument.Underlying = "AAPL"

	return broker.Transaction{
		ActivityID:    activityID,
		TradeDate:     "2025-09-05T20:00:00Z",
		Type:          "RECEIVE_AND_DELIVER",
		Description:   "REMOVAL OF OPTION DUE TO ASSIGNMENT",
		NetAmount:     -37000,
		OrderID:       "ord-1",
		TransferItems: []broker.TransferItem{item},
	}
}

func TestLooksLikeAssignment(t *testing.T) {
	cases := []struct {
		name        string
		txType      string
		description string
		want        bool
	}{
		{"direct type", "ASSIGNMENT", "", true},
		{"embedded type", "OPTION_ASSIGNMENT_FEE", "", true},
		{"exercise type", "AUTO_EXERCISE", "", true},
		{"lowercase type", "assignment", "", true},
		{"description only", "RECEIVE_AND_DELIVER", "removal of option due to assignment... ASSIGNED", true},
		{"exercised description", "TRADE", "CALL EXERCISED", true},
		{"plain trade", "TRADE", "BOUGHT 100 AAPL @ 185.00", false},
		{"empty", "", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, LooksLikeAssignment(tc.txType, tc.description))
		})
	}
}

func TestNormalizeContracts(t *testing.T) {
	a, err := Normalize(optionTx(9001, -2, 185), "acct-hash")
	require.NoError(t, err)

	assert.Equal(t, "9001", a.ID)
	assert.Equal(t, "acct-hash", a.AccountHash)
	assert.Equal(t, "AAPL", a.Ticker)
	assert.Equal(t, "PUT", a.OptionType)
	assert.Equal(t, int64(2), a.Contracts)
	assert.Equal(t, int64(200), a.Shares)
	assert.Equal(t, 185.0, a.PricePerShare)
	assert.Equal(t, 37000.0, a.TotalAmount)
	assert.Equal(t, time.Date(2025, 9, 5, 20, 0, 0, 0, time.UTC), a.AssignedAt)
	assert.Equal(t, "ord-1", a.RelatedOrderID)
	assert.NotEmpty(t, a.RawPayload)
}

func TestNormalizeShareQuantity(t *testing.T) {
	// Round multiples of 100 are share counts, not contracts.
	a, err := Normalize(optionTx(9002, 200, 185), "acct-hash")
	require.NoError(t, err)

	assert.Equal(t, int64(2), a.Contracts)
	assert.Equal(t, int64(200), a.Shares)
}

func TestNormalizePriceFallbacks(t *testing.T) {
	// No leg price: spread the net amount over the shares.
	tx := optionTx(9003, -2, 0)
	a, err := Normalize(tx, "acct-hash")
	require.NoError(t, err)
	assert.Equal(t, 185.0, a.PricePerShare)

	// No price anywhere: fall back to the strike.
	tx = optionTx(9004, -2, 0)
	tx.NetAmount = 0
	a, err = Normalize(tx, "acct-hash")
	require.NoError(t, err)
	assert.Equal(t, 185.0, a.PricePerShare)
}

func TestNormalizeGeneratesStableID(t *testing.T) {
	tx := optionTx(0, -1, 185)
	a1, err := Normalize(tx, "acct-hash")
	require.NoError(t, err)
	a2, err := Normalize(tx, "acct-hash")
	require.NoError(t, err)

	assert.Len(t, a1.ID, 16)
	assert.Equal(t, a1.ID, a2.ID)

	other, err := Normalize(tx, "other-account")
	require.NoError(t, err)
	assert.NotEqual(t, a1.ID, other.ID)
}

func TestNormalizeRejectsNonOption(t *testing.T) {
	item := broker.TransferItem{Amount: 100, Price: 185}
	item.Instrument.AssetType = "EQUITY"
	item.Instrument.Symbol = "AAPL"
	tx := broker.Transaction{ActivityID: 1, TransferItems: []broker.TransferItem{item}}

	_, err := Normalize(tx, "acct-hash")
	assert.Error(t, err)
}

func TestNormalizeParsesOCCWhenInstrumentSparse(t *testing.T) {
	tx := optionTx(9005, -1, 185)
	tx.TransferItems[0].Instrument.Underlying = ""
	tx.TransferItems[0].Instrument.PutCall = ""
	tx.TransferItems[0].Instrument.StrikePrice = 0

	a, err := Normalize(tx, "acct-hash")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", a.Ticker)
	assert.Equal(t, "PUT", a.OptionType)
}
