// Package broker provides brokerage API clients for the wheel assistant.
// It includes the Schwab trader API client used to pull account snapshots,
// quotes, option chains, and transaction history.
package broker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/eddiefleurent/stamford_wheeler/internal/models"
)

// Market session state constants reported by the market-hours endpoint.
const (
	marketStateOpen       = "open"
	marketStatePreMarket  = "premarket"
	marketStatePostMarket = "postmarket"
)

// APIError represents an API error with status code and response body
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// SchwabAPI is the low-level HTTP client for the Schwab trader and market
// data APIs. Access tokens are short-lived; the client refreshes once on 401
// and retries the request.
type SchwabAPI struct {
	client        *http.Client
	baseURL       string
	marketDataURL string
	authURL       string
	appKey        string
	appSecret     string
	accountHash   string
	timeout       time.Duration

	mu           sync.Mutex
	accessToken  string
	refreshToken string
}

const defaultRequestTimeout = 10 * time.Second

// Credentials holds the OAuth app credentials and tokens for the Schwab API.
type Credentials struct {
	AppKey       string
	AppSecret    string
	RefreshToken string
	AccountHash  string
}

// NewSchwabAPI creates a new SchwabAPI client with default settings.
func NewSchwabAPI(creds Credentials) *SchwabAPI {
	return NewSchwabAPIWithBaseURL(creds, "", "", "")
}

// NewSchwabAPIWithTimeout creates a new SchwabAPI client with a custom timeout.
func NewSchwabAPIWithTimeout(creds Credentials, timeout time.Duration) *SchwabAPI {
	return NewSchwabAPIWithBaseURL(creds, "", "", "").WithTimeout(timeout)
}

// NewSchwabAPIWithBaseURL creates a new SchwabAPI client with custom endpoints.
// Empty strings select the production endpoints; tests point these at httptest
// servers.
func NewSchwabAPIWithBaseURL(creds Credentials, baseURL, marketDataURL, authURL string) *SchwabAPI {
	if baseURL == "" {
		baseURL = "https://api.schwabapi.com/trader/v1"
	}
	if marketDataURL == "" {
		marketDataURL = "https://api.schwabapi.com/marketdata/v1"
	}
	if authURL == "" {
		authURL = "https://api.schwabapi.com/v1/oauth/token"
	}

	return &SchwabAPI{
		client:        &http.Client{Timeout: defaultRequestTimeout},
		baseURL:       strings.TrimRight(baseURL, "/"),
		marketDataURL: strings.TrimRight(marketDataURL, "/"),
		authURL:       authURL,
		appKey:        creds.AppKey,
		appSecret:     creds.AppSecret,
		refreshToken:  creds.RefreshToken,
		accountHash:   creds.AccountHash,
		timeout:       defaultRequestTimeout,
	}
}

// WithHTTPClient allows overriding the HTTP client (tests, custom transport).
func (s *SchwabAPI) WithHTTPClient(c *http.Client) *SchwabAPI {
	if c != nil {
		s.client = c
	}
	return s
}

// WithTimeout sets the HTTP client timeout duration.
func (s *SchwabAPI) WithTimeout(timeout time.Duration) *SchwabAPI {
	s.timeout = timeout
	if s.client != nil {
		s.client.Timeout = timeout
	}
	return s
}

// WithAccessToken seeds an access token, skipping the initial refresh.
func (s *SchwabAPI) WithAccessToken(token string) *SchwabAPI {
	s.mu.Lock()
	s.accessToken = token
	s.mu.Unlock()
	return s
}

// ============ API Response Structures ============

// Quote is a single symbol quote from the market data API.
type Quote struct {
	Symbol           string  `json:"symbol"`
	Description      string  `json:"description"`
	Last             float64 `json:"lastPrice"`
	Bid              float64 `json:"bidPrice"`
	Ask              float64 `json:"askPrice"`
	Open             float64 `json:"openPrice"`
	High             float64 `json:"highPrice"`
	Low              float64 `json:"lowPrice"`
	Close            float64 `json:"closePrice"`
	NetChange        float64 `json:"netChange"`
	ChangePercentage float64 `json:"netPercentChange"`
	Volume           int64   `json:"totalVolume"`
	AverageVolume    int64   `json:"avgVolume"`
}

type quoteEnvelope struct {
	Quote     Quote `json:"quote"`
	Reference struct {
		Description string `json:"description"`
	} `json:"reference"`
	Symbol string `json:"symbol"`
}

// Candle is a single OHLCV bar from the price history API.
type Candle struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

type priceHistoryResponse struct {
	Symbol  string `json:"symbol"`
	Empty   bool   `json:"empty"`
	Candles []struct {
		Open     float64 `json:"open"`
		High     float64 `json:"high"`
		Low      float64 `json:"low"`
		Close    float64 `json:"close"`
		Volume   int64   `json:"volume"`
		Datetime int64   `json:"datetime"` // epoch millis
	} `json:"candles"`
}

// Greeks holds per-contract Greeks and implied volatility from the chain API.
type Greeks struct {
	Delta      float64 `json:"delta"`
	Gamma      float64 `json:"gamma"`
	Theta      float64 `json:"theta"`
	Vega       float64 `json:"vega"`
	Rho        float64 `json:"rho"`
	Volatility float64 `json:"volatility"` // implied vol, percent
}

// ChainOption is a single contract from the option chain API, flattened out
// of Schwab's per-expiration nested maps.
type ChainOption struct {
	Symbol         string  `json:"symbol"`
	Description    string  `json:"description"`
	OptionType     string  `json:"putCall"`
	ExpirationDate string  `json:"expirationDate"`
	Underlying     string  `json:"underlying"`
	Strike         float64 `json:"strikePrice"`
	Bid            float64 `json:"bid"`
	Ask            float64 `json:"ask"`
	Last           float64 `json:"last"`
	Mark           float64 `json:"mark"`
	Volume         int64   `json:"totalVolume"`
	OpenInterest   int64   `json:"openInterest"`
	DTE            int     `json:"daysToExpiration"`
	Greeks         *Greeks `json:"-"`
}

// chainContract is the raw wire shape with Greeks fields inline.
type chainContract struct {
	Symbol           string  `json:"symbol"`
	Description      string  `json:"description"`
	PutCall          string  `json:"putCall"`
	ExpirationDate   string  `json:"expirationDate"`
	StrikePrice      float64 `json:"strikePrice"`
	Bid              float64 `json:"bid"`
	Ask              float64 `json:"ask"`
	Last             float64 `json:"last"`
	Mark             float64 `json:"mark"`
	TotalVolume      int64   `json:"totalVolume"`
	OpenInterest     int64   `json:"openInterest"`
	DaysToExpiration int     `json:"daysToExpiration"`
	Delta            float64 `json:"delta"`
	Gamma            float64 `json:"gamma"`
	Theta            float64 `json:"theta"`
	Vega             float64 `json:"vega"`
	Rho              float64 `json:"rho"`
	Volatility       float64 `json:"volatility"`
}

type optionChainResponse struct {
	Symbol         string                                `json:"symbol"`
	Status         string                                `json:"status"`
	UnderlyingID   string                                `json:"underlying"`
	CallExpDateMap map[string]map[string][]chainContract `json:"callExpDateMap"`
	PutExpDateMap  map[string]map[string][]chainContract `json:"putExpDateMap"`
}

// accountResponse mirrors the trader API /accounts/{hash}?fields=positions shape.
type accountResponse struct {
	SecuritiesAccount struct {
		AccountNumber string `json:"accountNumber"`
		Positions     []struct {
			LongQuantity  float64 `json:"longQuantity"`
			ShortQuantity float64 `json:"shortQuantity"`
			AveragePrice  float64 `json:"averagePrice"`
			MarketValue   float64 `json:"marketValue"`
			Instrument    struct {
				AssetType   string  `json:"assetType"`
				Symbol      string  `json:"symbol"`
				Description string  `json:"description"`
				PutCall     string  `json:"putCall"`
				StrikePrice float64 `json:"strikePrice"`
				Underlying  string  `json:"underlyingSymbol"`
				Expiry      string  `json:"expirationDate"`
			} `json:"instrument"`
		} `json:"positions"`
		CurrentBalances struct {
			CashBalance      float64 `json:"cashBalance"`
			BuyingPower      float64 `json:"buyingPower"`
			LiquidationValue float64 `json:"liquidationValue"`
			AvailableFunds   float64 `json:"availableFunds"`
			CashAvailable    float64 `json:"cashAvailableForTrading"`
		} `json:"currentBalances"`
	} `json:"securitiesAccount"`
}

// Transaction is a single account transaction from the trader API. Assignment
// detection consumes these.
type Transaction struct {
	ActivityID    int64          `json:"activityId"`
	Time          string         `json:"time"`
	TradeDate     string         `json:"tradeDate"`
	Type          string         `json:"type"`
	SubType       string         `json:"subAccount"`
	Description   string         `json:"description"`
	NetAmount     float64        `json:"netAmount"`
	OrderID       string         `json:"orderId"`
	TransferItems []TransferItem `json:"transferItems"`
}

// TransferItem is one leg of a transaction.
type TransferItem struct {
	Amount     float64 `json:"amount"`
	Cost       float64 `json:"cost"`
	Price      float64 `json:"price"`
	Instrument struct {
		AssetType   string  `json:"assetType"`
		Symbol      string  `json:"symbol"`
		Description string  `json:"description"`
		PutCall     string  `json:"putCall"`
		StrikePrice float64 `json:"strikePrice"`
		Underlying  string  `json:"underlyingSymbol"`
	} `json:"instrument"`
}

type marketHoursResponse struct {
	Equity map[string]struct {
		Date         string `json:"date"`
		MarketType   string `json:"marketType"`
		IsOpen       bool   `json:"isOpen"`
		SessionHours map[string][]struct {
			Start string `json:"start"`
			End   string `json:"end"`
		} `json:"sessionHours"`
	} `json:"equity"`
}

// ============ Auth ============

// refreshAccessToken exchanges the refresh token for a fresh access token.
func (s *SchwabAPI) refreshAccessToken(ctx context.Context) error {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", s.refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	basic := base64.StdEncoding.EncodeToString([]byte(s.appKey + ":" + s.appSecret))
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("token refresh: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			log.Printf("Failed to close response body: %v", cerr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("token refresh -> %s", string(body))}
	}

	var tok struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return fmt.Errorf("token refresh: decode: %w", err)
	}
	if tok.AccessToken == "" {
		return fmt.Errorf("token refresh: empty access token in response")
	}

	s.mu.Lock()
	s.accessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		s.refreshToken = tok.RefreshToken
	}
	s.mu.Unlock()
	return nil
}

func (s *SchwabAPI) currentToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessToken
}

// ============ HTTP plumbing ============

func (s *SchwabAPI) makeRequest(method, endpoint string, params url.Values, response interface{}) error {
	return s.makeRequestCtx(context.Background(), method, endpoint, params, response)
}

// makeRequestCtx makes an HTTP request with context support. A 401 triggers
// one token refresh and retry; all other non-2xx statuses surface as APIError.
func (s *SchwabAPI) makeRequestCtx(ctx context.Context, method, endpoint string,
	params url.Values, response interface{}) error {
	if s.currentToken() == "" {
		if err := s.refreshAccessToken(ctx); err != nil {
			return err
		}
	}

	err := s.doRequest(ctx, method, endpoint, params, response)
	var apiErr *APIError
	if err != nil && errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		if rerr := s.refreshAccessToken(ctx); rerr != nil {
			return fmt.Errorf("unauthorized and token refresh failed: %w", rerr)
		}
		return s.doRequest(ctx, method, endpoint, params, response)
	}
	return err
}

func (s *SchwabAPI) doRequest(ctx context.Context, method, endpoint string,
	params url.Values, response interface{}) error {
	var req *http.Request
	var err error

	if method == http.MethodPost && params != nil {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(params.Encode()))
		if err != nil {
			return err
		}
		req.Header.Add("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req, err = http.NewRequestWithContext(ctx, method, endpoint, http.NoBody)
		if err != nil {
			return err
		}
	}

	req.Header.Add("Authorization", "Bearer "+s.currentToken())
	req.Header.Add("Accept", "application/json")
	req.Header.Add("User-Agent", "stamford-wheeler/1.0 (+schwab)")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			log.Printf("Failed to close response body: %v", cerr)
		}
	}()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated &&
		resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusNoContent {
		body, rerr := io.ReadAll(io.LimitReader(resp.Body, 64<<10)) // 64KB cap to avoid huge payloads
		if rerr != nil {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s -> failed to read error body", method, endpoint)}
		}
		ct := resp.Header.Get("Content-Type")
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s (%s) -> %s (retry-after: %s)", method, endpoint, ct, string(body), ra)}
		}
		return &APIError{Status: resp.StatusCode, Body: fmt.Sprintf("%s %s (%s) -> %s", method, endpoint, ct, string(body))}
	}

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(response); err != nil && err != io.EOF {
		return err
	}
	return nil
}

// ============ Market data ============

// GetQuote retrieves the current market quote for a symbol.
func (s *SchwabAPI) GetQuote(symbol string) (*Quote, error) {
	return s.GetQuoteCtx(context.Background(), symbol)
}

// GetQuoteCtx retrieves the current market quote for a symbol with context support.
func (s *SchwabAPI) GetQuoteCtx(ctx context.Context, symbol string) (*Quote, error) {
	params := url.Values{}
	params.Set("symbols", symbol)
	endpoint := s.marketDataURL + "/quotes?" + params.Encode()

	// The quotes endpoint keys the response by symbol.
	var response map[string]quoteEnvelope
	if err := s.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}

	env, ok := response[symbol]
	if !ok {
		return nil, fmt.Errorf("no quote found for symbol: %s", symbol)
	}
	q := env.Quote
	q.Symbol = symbol
	if q.Description == "" {
		q.Description = env.Reference.Description
	}
	return &q, nil
}

// GetHistoricalData retrieves daily OHLCV bars for a symbol between two dates.
func (s *SchwabAPI) GetHistoricalData(symbol, interval string, startDate, endDate time.Time) ([]Candle, error) {
	return s.GetHistoricalDataCtx(context.Background(), symbol, interval, startDate, endDate)
}

// GetHistoricalDataCtx retrieves daily OHLCV bars with context support.
func (s *SchwabAPI) GetHistoricalDataCtx(ctx context.Context, symbol, interval string,
	startDate, endDate time.Time) ([]Candle, error) {
	if interval == "" {
		interval = "daily"
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("periodType", "month")
	params.Set("frequencyType", interval)
	params.Set("frequency", "1")
	params.Set("startDate", fmt.Sprintf("%d", startDate.UnixMilli()))
	params.Set("endDate", fmt.Sprintf("%d", endDate.UnixMilli()))
	endpoint := s.marketDataURL + "/pricehistory?" + params.Encode()

	var response priceHistoryResponse
	if err := s.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, fmt.Errorf("failed to get historical data for %s: %w", symbol, err)
	}

	candles := make([]Candle, len(response.Candles))
	for i, c := range response.Candles {
		candles[i] = Candle{
			Date:   time.UnixMilli(c.Datetime).UTC(),
			Open:   c.Open,
			High:   c.High,
			Low:    c.Low,
			Close:  c.Close,
			Volume: c.Volume,
		}
	}
	return candles, nil
}

// GetOptionChain retrieves the option chain for a symbol, flattened across
// strikes. Empty expiration returns the whole chain; otherwise only
// contracts expiring on that YYYY-MM-DD date are returned.
func (s *SchwabAPI) GetOptionChain(symbol, expiration string, withGreeks bool) ([]ChainOption, error) {
	return s.GetOptionChainCtx(context.Background(), symbol, expiration, withGreeks)
}

// GetOptionChainCtx retrieves the option chain with context support.
func (s *SchwabAPI) GetOptionChainCtx(ctx context.Context, symbol, expiration string,
	withGreeks bool) ([]ChainOption, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("strategy", "SINGLE")
	if expiration != "" {
		params.Set("fromDate", expiration)
		params.Set("toDate", expiration)
	}
	endpoint := s.marketDataURL + "/chains?" + params.Encode()

	var response optionChainResponse
	if err := s.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}

	var out []ChainOption
	out = append(out, flattenChain(symbol, response.PutExpDateMap, withGreeks)...)
	out = append(out, flattenChain(symbol, response.CallExpDateMap, withGreeks)...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExpirationDate != out[j].ExpirationDate {
			return out[i].ExpirationDate < out[j].ExpirationDate
		}
		if out[i].Strike != out[j].Strike {
			return out[i].Strike < out[j].Strike
		}
		return out[i].OptionType < out[j].OptionType
	})
	return out, nil
}

// flattenChain unnests Schwab's "YYYY-MM-DD:DTE" -> strike -> contracts maps.
func flattenChain(underlying string, expMap map[string]map[string][]chainContract, withGreeks bool) []ChainOption {
	var out []ChainOption
	for expKey, strikes := range expMap {
		expDate := expKey
		if i := strings.IndexByte(expKey, ':'); i >= 0 {
			expDate = expKey[:i]
		}
		for _, contracts := range strikes {
			for _, c := range contracts {
				opt := ChainOption{
					Symbol:         strings.TrimSpace(c.Symbol),
					Description:    c.Description,
					OptionType:     strings.ToUpper(c.PutCall),
					ExpirationDate: expDate,
					Underlying:     underlying,
					Strike:         c.StrikePrice,
					Bid:            c.Bid,
					Ask:            c.Ask,
					Last:           c.Last,
					Mark:           c.Mark,
					Volume:         c.TotalVolume,
					OpenInterest:   c.OpenInterest,
					DTE:            c.DaysToExpiration,
				}
				if withGreeks {
					opt.Greeks = &Greeks{
						Delta:      c.Delta,
						Gamma:      c.Gamma,
						Theta:      c.Theta,
						Vega:       c.Vega,
						Rho:        c.Rho,
						Volatility: c.Volatility,
					}
				}
				out = append(out, opt)
			}
		}
	}
	return out
}

// GetExpirations returns the distinct expiration dates available for a symbol,
// sorted ascending.
func (s *SchwabAPI) GetExpirations(symbol string) ([]string, error) {
	chain, err := s.GetOptionChain(symbol, "", false)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var dates []string
	for i := range chain {
		if _, ok := seen[chain[i].ExpirationDate]; ok {
			continue
		}
		seen[chain[i].ExpirationDate] = struct{}{}
		dates = append(dates, chain[i].ExpirationDate)
	}
	sort.Strings(dates)
	return dates, nil
}

// ============ Account ============

// GetAccountSnapshot pulls positions and balances and maps them into the
// domain snapshot.
func (s *SchwabAPI) GetAccountSnapshot() (*models.AccountSnapshot, error) {
	return s.GetAccountSnapshotCtx(context.Background())
}

// GetAccountSnapshotCtx pulls positions and balances with context support.
func (s *SchwabAPI) GetAccountSnapshotCtx(ctx context.Context) (*models.AccountSnapshot, error) {
	endpoint := fmt.Sprintf("%s/accounts/%s?fields=positions", s.baseURL, s.accountHash)

	var response accountResponse
	if err := s.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}

	snap := &models.AccountSnapshot{
		GeneratedAt:              time.Now().UTC(),
		Cash:                     decimal.NewFromFloat(response.SecuritiesAccount.CurrentBalances.CashBalance),
		BuyingPower:              decimal.NewFromFloat(response.SecuritiesAccount.CurrentBalances.BuyingPower),
		OfficialLiquidationValue: decimal.NewFromFloat(response.SecuritiesAccount.CurrentBalances.LiquidationValue),
	}

	for _, p := range response.SecuritiesAccount.Positions {
		qty := p.LongQuantity - p.ShortQuantity
		if qty == 0 {
			continue
		}
		inst := p.Instrument

		switch strings.ToUpper(inst.AssetType) {
		case "EQUITY":
			snap.Stocks = append(snap.Stocks, models.StockPosition{
				Symbol:      inst.Symbol,
				Quantity:    decimal.NewFromFloat(qty),
				AvgCost:     decimal.NewFromFloat(p.AveragePrice),
				MarketPrice: equityMarketPrice(p.MarketValue, qty),
			})
		case "OPTION":
			opt, err := mapOptionPosition(inst.Symbol, inst.Underlying, inst.PutCall, inst.Expiry,
				inst.StrikePrice, qty, p.AveragePrice, p.MarketValue)
			if err != nil {
				log.Printf("skipping unparseable option position %s: %v", inst.Symbol, err)
				continue
			}
			snap.Options = append(snap.Options, *opt)
		case "MUTUAL_FUND", "COLLECTIVE_INVESTMENT":
			snap.MutualFunds = append(snap.MutualFunds, models.MutualFundPosition{
				StockPosition: models.StockPosition{
					Symbol:      inst.Symbol,
					Quantity:    decimal.NewFromFloat(qty),
					AvgCost:     decimal.NewFromFloat(p.AveragePrice),
					MarketPrice: equityMarketPrice(p.MarketValue, qty),
				},
				Description: inst.Description,
			})
		}
	}

	return snap, nil
}

func equityMarketPrice(marketValue, qty float64) decimal.Decimal {
	if qty == 0 {
		return decimal.Zero
	}
	mv := decimal.NewFromFloat(marketValue)
	return mv.Div(decimal.NewFromFloat(qty))
}

// mapOptionPosition maps a raw option position into the domain type, filling
// strike/expiry/side from the OCC symbol when the instrument fields are empty.
func mapOptionPosition(symbol, underlying, putCall, expiry string, strike, qty,
	avgCost, marketValue float64) (*models.OptionPosition, error) {
	parsed, parseErr := models.ParseOptionSymbol(symbol)

	opt := &models.OptionPosition{
		ContractSymbol: strings.TrimSpace(symbol),
		Quantity:       decimal.NewFromFloat(qty),
		AvgCost:        decimal.NewFromFloat(avgCost),
	}

	// Per-share price from dollar market value.
	absQty := qty
	if absQty < 0 {
		absQty = -absQty
	}
	if absQty > 0 {
		mv := marketValue
		if mv < 0 {
			mv = -mv
		}
		opt.MarketPrice = decimal.NewFromFloat(mv / (absQty * models.SharesPerContract))
	}

	opt.Symbol = underlying
	if opt.Symbol == "" && parsed != nil {
		opt.Symbol = parsed.Underlying
	}

	if strike > 0 {
		opt.Strike = decimal.NewFromFloat(strike)
	} else if parsed != nil {
		opt.Strike = parsed.Strike
	}

	if expiry != "" {
		// The trader API reports expiration as RFC3339 or plain date.
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if t, err := time.Parse(layout, expiry); err == nil {
				opt.Expiry = t.UTC()
				break
			}
		}
	}
	if opt.Expiry.IsZero() && parsed != nil {
		opt.Expiry = parsed.Expiry
	}

	if pc, err := models.ParseOptionType(putCall); err == nil {
		opt.PutCall = pc
	} else if parsed != nil {
		opt.PutCall = parsed.PutCall
	}

	if opt.Symbol == "" || opt.Strike.IsZero() || opt.Expiry.IsZero() || !opt.PutCall.Valid() {
		if parseErr != nil {
			return nil, fmt.Errorf("incomplete instrument data and symbol parse failed: %w", parseErr)
		}
		return nil, fmt.Errorf("incomplete option position data for %s", symbol)
	}
	return opt, nil
}

// ============ Transactions ============

// GetTransactions retrieves account transactions between two dates. The
// trader API requires ISO-8601 timestamps and caps the range at one year.
func (s *SchwabAPI) GetTransactions(ctx context.Context, start, end time.Time) ([]Transaction, error) {
	params := url.Values{}
	params.Set("startDate", start.UTC().Format("2006-01-02T15:04:05.000Z"))
	params.Set("endDate", end.UTC().Format("2006-01-02T15:04:05.000Z"))
	endpoint := fmt.Sprintf("%s/accounts/%s/transactions?%s", s.baseURL, s.accountHash, params.Encode())

	var response []Transaction
	if err := s.makeRequestCtx(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, err
	}
	return response, nil
}

// ============ Market hours ============

// GetMarketClock reports whether the equity market is in a trading session
// today and which state it is in.
func (s *SchwabAPI) GetMarketClock() (string, error) {
	endpoint := s.marketDataURL + "/markets?markets=equity"

	var response marketHoursResponse
	if err := s.makeRequest(http.MethodGet, endpoint, nil, &response); err != nil {
		return "", err
	}

	for _, m := range response.Equity {
		if !m.IsOpen {
			return "closed", nil
		}
		now := time.Now()
		for session, windows := range m.SessionHours {
			for _, w := range windows {
				startT, err1 := time.Parse(time.RFC3339, w.Start)
				endT, err2 := time.Parse(time.RFC3339, w.End)
				if err1 != nil || err2 != nil {
					continue
				}
				if now.After(startT) && now.Before(endT) {
					switch session {
					case "preMarket":
						return marketStatePreMarket, nil
					case "postMarket":
						return marketStatePostMarket, nil
					default:
						return marketStateOpen, nil
					}
				}
			}
		}
		return "closed", nil
	}
	return "closed", nil
}

// IsTradingDay returns true on a trading session day (open, premarket, or
// postmarket).
func (s *SchwabAPI) IsTradingDay() (bool, error) {
	state, err := s.GetMarketClock()
	if err != nil {
		return false, err
	}
	return state == marketStateOpen || state == marketStatePreMarket || state == marketStatePostMarket, nil
}

// ============ Helper Functions ============

// MidPrice returns the usable per-share premium for a contract: mark when the
// venue provides one, otherwise the bid/ask midpoint.
func MidPrice(opt *ChainOption) float64 {
	if opt.Mark > 0 {
		return opt.Mark
	}
	if opt.Bid > 0 || opt.Ask > 0 {
		return (opt.Bid + opt.Ask) / 2
	}
	return opt.Last
}

// SpreadPercent returns the bid/ask spread as a percentage of the midpoint.
// Contracts with no two-sided market report 100.
func SpreadPercent(opt *ChainOption) float64 {
	mid := (opt.Bid + opt.Ask) / 2
	if mid <= 0 || opt.Bid <= 0 || opt.Ask <= 0 {
		return 100
	}
	return (opt.Ask - opt.Bid) / mid * 100
}

// FindContractNearDelta returns the contract of the given side whose absolute
// delta is closest to the target. Contracts without Greeks are skipped.
func FindContractNearDelta(options []ChainOption, side string, targetDelta float64) *ChainOption {
	var best *ChainOption
	bestDiff := 999.0

	side = strings.ToUpper(side)
	for i := range options {
		opt := &options[i]
		if opt.OptionType != side || opt.Greeks == nil {
			continue
		}
		delta := opt.Greeks.Delta
		if delta < 0 {
			delta = -delta
		}
		diff := delta - targetDelta
		if diff < 0 {
			diff = -diff
		}
		if diff < bestDiff {
			bestDiff = diff
			best = opt
		}
	}
	return best
}

// DaysBetween calculates the number of days between two dates.
func DaysBetween(from, to time.Time) int {
	f := from.UTC().Truncate(24 * time.Hour)
	t := to.UTC().Truncate(24 * time.Hour)
	d := int(t.Sub(f).Hours() / 24)
	if d < 0 {
		return -d
	}
	return d
}
