// Package assignments detects option assignment events in broker
// transaction history and records them in a local SQLite database so
// assigned cost basis survives across runs.
package assignments

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/eddiefleurent/stamford_wheeler/internal/broker"
	"github.com/eddiefleurent/stamford_wheeler/internal/models"
)

// Assignment is one normalized assignment or exercise event.
type Assignment struct {
	ID              string    `json:"id"`
	AccountHash     string    `json:"account_hash"`
	OptionSymbol    string    `json:"option_symbol"`
	Ticker          string    `json:"ticker"`
	OptionType      string    `json:"option_type"`
	Contracts       int64     `json:"contracts"`
	Shares          int64     `json:"shares"`
	PricePerShare   float64   `json:"price_per_share"`
	TotalAmount     float64   `json:"total_amount"`
	AssignedAt      time.Time `json:"assigned_at"`
	TransactionType string    `json:"transaction_type"`
	RelatedOrderID  string    `json:"related_order_id"`
	RawPayload      string    `json:"raw_payload,omitempty"`
}

// assignmentTypes are broker transaction type strings that signal an
// assignment or exercise event, matched whole or as a substring.
var assignmentTypes = []string{
	"ASSIGNMENT", "EXERCISE", "EXERCISE_ASSIGNMENT", "OPTION_ASSIGNMENT",
	"AUTO_EXERCISE", "EARLY_EXERCISE", "EXPIRATION_ASSIGNMENT",
	"ASSIGNED", "EXERCISED",
}

// descriptionKeywords flag assignments when the type string is generic.
var descriptionKeywords = []string{"ASSIGNED", "EXERCISED", "EXERCISE"}

// LooksLikeAssignment reports whether a transaction type and description
// indicate an option assignment event.
func LooksLikeAssignment(transactionType, description string) bool {
	upperType := strings.ToUpper(transactionType)
	for _, t := range assignmentTypes {
		if strings.Contains(upperType, t) {
			return true
		}
	}
	upperDesc := strings.ToUpper(description)
	for _, kw := range descriptionKeywords {
		if strings.Contains(upperDesc, kw) {
			return true
		}
	}
	return false
}

// Normalize converts a broker transaction into an Assignment. It returns
// an error when the transaction carries no parsable option leg.
func Normalize(tx broker.Transaction, accountHash string) (*Assignment, error) {
	item, ok := optionLeg(tx)
	if !ok {
		return nil, fmt.Errorf("transaction %d has no option leg", tx.ActivityID)
	}

	optionSymbol := item.Instrument.Symbol
	if optionSymbol == "" {
		return nil, fmt.Errorf("transaction %d option leg has no symbol", tx.ActivityID)
	}

	ticker := item.Instrument.Underlying
	optionType := strings.ToUpper(item.Instrument.PutCall)
	strike := item.Instrument.StrikePrice
	if parsed, err := models.ParseOptionSymbol(optionSymbol); err == nil {
		if ticker == "" {
			ticker = parsed.Underlying
		}
		if optionType == "" {
			optionType = string(parsed.PutCall)
		}
		if strike == 0 {
			strike = parsed.Strike.InexactFloat64()
		}
	}
	if ticker == "" {
		ticker = models.UnderlyingFromOptionSymbol(optionSymbol)
	}
	if ticker == "" {
		return nil, fmt.Errorf("cannot determine underlying for %q", optionSymbol)
	}

	contracts, shares := splitQuantity(item.Amount)
	if contracts == 0 {
		return nil, fmt.Errorf("transaction %d has zero quantity", tx.ActivityID)
	}

	// Prefer the leg's execution price, then the transaction net amount
	// spread over the shares, then the strike itself.
	price := math.Abs(item.Price)
	if price == 0 && tx.NetAmount != 0 && shares > 0 {
		price = math.Abs(tx.NetAmount) / float64(shares)
	}
	if price == 0 {
		price = strike
	}

	assignedAt := parseTransactionTime(tx)

	id := ""
	if tx.ActivityID != 0 {
		id = strconv.FormatInt(tx.ActivityID, 10)
	} else {
		id = GenerateID(accountHash, optionSymbol, contracts, assignedAt, price)
	}

	raw, _ := json.Marshal(tx)

	return &Assignment{
		ID:              id,
		AccountHash:     accountHash,
		OptionSymbol:    optionSymbol,
		Ticker:          ticker,
		OptionType:      optionType,
		Contracts:       contracts,
		Shares:          shares,
		PricePerShare:   price,
		TotalAmount:     price * float64(shares),
		AssignedAt:      assignedAt,
		TransactionType: tx.Type,
		RelatedOrderID:  tx.OrderID,
		RawPayload:      string(raw),
	}, nil
}

// optionLeg returns the first OPTION transfer item, if any.
func optionLeg(tx broker.Transaction) (broker.TransferItem, bool) {
	for _, item := range tx.TransferItems {
		if strings.EqualFold(item.Instrument.AssetType, "OPTION") {
			return item, true
		}
	}
	return broker.TransferItem{}, false
}

// splitQuantity resolves the contracts-versus-shares ambiguity: round
// multiples of 100 at or above 100 are share counts, everything else is
// contracts.
func splitQuantity(amount float64) (contracts, shares int64) {
	qty := int64(math.Abs(amount))
	if qty == 0 {
		return 0, 0
	}
	if qty%models.SharesPerContract == 0 && qty >= models.SharesPerContract {
		return qty / models.SharesPerContract, qty
	}
	return qty, qty * models.SharesPerContract
}

// parseTransactionTime tries the trade date then the activity time,
// falling back to now.
func parseTransactionTime(tx broker.Transaction) time.Time {
	for _, raw := range []string{tx.TradeDate, tx.Time} {
		if raw == "" {
			continue
		}
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			return ts.UTC()
		}
		if ts, err := time.Parse("2006-01-02", raw); err == nil {
			return ts.UTC()
		}
	}
	return time.Now().UTC()
}

// GenerateID builds a stable 16-hex-character ID for events the broker
// did not assign one to.
func GenerateID(accountHash, optionSymbol string, contracts int64, assignedAt time.Time, pricePerShare float64) string {
	priceStr := "NULL"
	if pricePerShare > 0 {
		priceStr = strconv.FormatFloat(pricePerShare, 'f', -1, 64)
	}
	content := fmt.Sprintf("%s|%s|%d|%s|%s",
		accountHash, optionSymbol, contracts, assignedAt.UTC().Format(time.RFC3339), priceStr)
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:16]
}
