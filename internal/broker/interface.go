package broker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"

	"github.com/eddiefleurent/stamford_wheeler/internal/models"
)

// Broker defines the interface for interacting with a brokerage.
type Broker interface {
	// Account operations
	GetAccountSnapshot() (*models.AccountSnapshot, error)
	GetAccountSnapshotCtx(ctx context.Context) (*models.AccountSnapshot, error)
	GetTransactions(ctx context.Context, start, end time.Time) ([]Transaction, error)

	// Market data
	GetQuote(symbol string) (*Quote, error)
	GetQuoteCtx(ctx context.Context, symbol string) (*Quote, error)
	GetHistoricalData(symbol, interval string, startDate, endDate time.Time) ([]Candle, error)
	GetExpirations(symbol string) ([]string, error)
	GetOptionChain(symbol, expiration string, withGreeks bool) ([]ChainOption, error)

	// Market state
	GetMarketClock() (string, error)
	IsTradingDay() (bool, error)
}

// SchwabClient wraps SchwabAPI to implement the Broker interface.
type SchwabClient struct {
	*SchwabAPI
}

// Ensure SchwabClient implements Broker at compile time.
var _ Broker = (*SchwabClient)(nil)

// NewSchwabClient creates a new Schwab broker client.
func NewSchwabClient(creds Credentials) *SchwabClient {
	return &SchwabClient{SchwabAPI: NewSchwabAPI(creds)}
}

// NewSchwabClientWithTimeout creates a new Schwab broker client with a custom
// request timeout.
func NewSchwabClientWithTimeout(creds Credentials, timeout time.Duration) *SchwabClient {
	return &SchwabClient{SchwabAPI: NewSchwabAPIWithTimeout(creds, timeout)}
}

// IsRetryableAPIError reports whether an API error is worth retrying.
// 4xx errors other than 429 are permanent.
func IsRetryableAPIError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Status >= 400 && apiErr.Status < 500 && apiErr.Status != 429 {
			return false
		}
	}
	return true
}

// CircuitBreakerBroker wraps a Broker with circuit breaker functionality.
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

// Ensure CircuitBreakerBroker implements Broker at compile time.
var _ Broker = (*CircuitBreakerBroker)(nil)

// execCircuitBreaker is a generic helper for circuit breaker wrapper methods.
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	broker Broker,
	fn func(Broker) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(broker) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// CircuitBreakerSettings configures circuit breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// NewCircuitBreakerBroker creates a new CircuitBreakerBroker with sensible defaults.
func NewCircuitBreakerBroker(broker Broker) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(broker, CircuitBreakerSettings{
		MaxRequests:  3,                // Allow 3 requests when half-open
		Interval:     60 * time.Second, // Reset counts every minute
		Timeout:      30 * time.Second, // Open circuit for 30 seconds
		MinRequests:  5,                // Minimum requests before tripping
		FailureRatio: 0.6,              // Trip if 60% failure rate
	})
}

// NewCircuitBreakerBrokerWithSettings creates a CircuitBreakerBroker with custom settings.
func NewCircuitBreakerBrokerWithSettings(broker Broker, settings CircuitBreakerSettings) *CircuitBreakerBroker {
	gbSettings := gobreaker.Settings{
		Name:        "BrokerCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &CircuitBreakerBroker{
		broker:  broker,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// GetAccountSnapshot wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetAccountSnapshot() (*models.AccountSnapshot, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*models.AccountSnapshot, error) {
		return b.GetAccountSnapshot()
	})
}

// GetAccountSnapshotCtx wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetAccountSnapshotCtx(ctx context.Context) (*models.AccountSnapshot, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*models.AccountSnapshot, error) {
		return b.GetAccountSnapshotCtx(ctx)
	})
}

// GetTransactions wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetTransactions(ctx context.Context, start, end time.Time) ([]Transaction, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]Transaction, error) {
		return b.GetTransactions(ctx, start, end)
	})
}

// GetQuote wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetQuote(symbol string) (*Quote, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*Quote, error) { return b.GetQuote(symbol) })
}

// GetQuoteCtx wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetQuoteCtx(ctx context.Context, symbol string) (*Quote, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*Quote, error) { return b.GetQuoteCtx(ctx, symbol) })
}

// GetHistoricalData wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetHistoricalData(symbol, interval string,
	startDate, endDate time.Time) ([]Candle, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]Candle, error) {
		return b.GetHistoricalData(symbol, interval, startDate, endDate)
	})
}

// GetExpirations wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetExpirations(symbol string) ([]string, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]string, error) { return b.GetExpirations(symbol) })
}

// GetOptionChain wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetOptionChain(symbol, expiration string, withGreeks bool) ([]ChainOption, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]ChainOption, error) {
		return b.GetOptionChain(symbol, expiration, withGreeks)
	})
}

// GetMarketClock wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) GetMarketClock() (string, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (string, error) { return b.GetMarketClock() })
}

// IsTradingDay wraps the underlying broker call with circuit breaker.
func (c *CircuitBreakerBroker) IsTradingDay() (bool, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (bool, error) { return b.IsTradingDay() })
}
