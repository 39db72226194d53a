// Package retry decorates a broker with bounded retries and jittered
// exponential backoff for transient API failures.
package retry

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/eddiefleurent/stamford_wheeler/internal/broker"
	"github.com/eddiefleurent/stamford_wheeler/internal/models"
)

type Config struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

var DefaultConfig = Config{
	MaxRetries:     3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
}

// Broker wraps another broker.Broker and retries transient failures.
type Broker struct {
	inner  broker.Broker
	logger *log.Logger
	config Config
}

var _ broker.Broker = (*Broker)(nil)

// NewBroker creates a retrying broker decorator. An omitted config uses
// DefaultConfig.
func NewBroker(inner broker.Broker, logger *log.Logger, config ...Config) *Broker {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Broker{
		inner:  inner,
		logger: logger,
		config: cfg,
	}
}

// do runs fn up to MaxRetries+1 times, backing off between transient
// failures. Permanent API errors and context cancellation stop immediately.
func do[T any](ctx context.Context, b *Broker, op string, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	backoff := b.config.InitialBackoff

	for attempt := 0; attempt <= b.config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("%s canceled: %w", op, err)
		}

		res, err := fn()
		if err == nil {
			if attempt > 0 {
				b.logger.Printf("%s succeeded on attempt %d", op, attempt+1)
			}
			return res, nil
		}

		lastErr = err
		if !isTransientError(err) || !broker.IsRetryableAPIError(err) || attempt == b.config.MaxRetries {
			break
		}

		b.logger.Printf("%s attempt %d/%d failed: %v, retrying in %v",
			op, attempt+1, b.config.MaxRetries+1, err, backoff)
		select {
		case <-time.After(backoff):
			backoff = b.nextBackoff(backoff)
		case <-ctx.Done():
			return zero, fmt.Errorf("%s canceled during backoff: %w", op, ctx.Err())
		}
	}

	return zero, fmt.Errorf("%s failed after retries: %w", op, lastErr)
}

func (b *Broker) nextBackoff(currentBackoff time.Duration) time.Duration {
	backoff := time.Duration(float64(currentBackoff) * 1.5)
	if backoff > b.config.MaxBackoff {
		backoff = b.config.MaxBackoff
	}

	maxJitter := int64(backoff / 4)
	if maxJitter > 0 {
		jitterVal, err := rand.Int(rand.Reader, big.NewInt(maxJitter))
		if err != nil {
			b.logger.Printf("Failed to generate jitter: %v", err)
		} else {
			backoff += time.Duration(jitterVal.Int64())
		}
	}

	return backoff
}

func isTransientError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"server error",
		"rate limit",
		"429", // HTTP 429 Too Many Requests
		"502", // HTTP 502 Bad Gateway
		"503", // HTTP 503 Service Unavailable
		"504", // HTTP 504 Gateway Timeout
		"network",
		"dns",
		"tcp",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return false
}

func (b *Broker) GetAccountSnapshot() (*models.AccountSnapshot, error) {
	return do(context.Background(), b, "account snapshot", b.inner.GetAccountSnapshot)
}

func (b *Broker) GetAccountSnapshotCtx(ctx context.Context) (*models.AccountSnapshot, error) {
	return do(ctx, b, "account snapshot", func() (*models.AccountSnapshot, error) {
		return b.inner.GetAccountSnapshotCtx(ctx)
	})
}

func (b *Broker) GetTransactions(ctx context.Context, start, end time.Time) ([]broker.Transaction, error) {
	return do(ctx, b, "transactions", func() ([]broker.Transaction, error) {
		return b.inner.GetTransactions(ctx, start, end)
	})
}

func (b *Broker) GetQuote(symbol string) (*broker.Quote, error) {
	return do(context.Background(), b, "quote "+symbol, func() (*broker.Quote, error) {
		return b.inner.GetQuote(symbol)
	})
}

func (b *Broker) GetQuoteCtx(ctx context.Context, symbol string) (*broker.Quote, error) {
	return do(ctx, b, "quote "+symbol, func() (*broker.Quote, error) {
		return b.inner.GetQuoteCtx(ctx, symbol)
	})
}

func (b *Broker) GetHistoricalData(symbol, interval string, startDate, endDate time.Time) ([]broker.Candle, error) {
	return do(context.Background(), b, "history "+symbol, func() ([]broker.Candle, error) {
		return b.inner.GetHistoricalData(symbol, interval, startDate, endDate)
	})
}

func (b *Broker) GetExpirations(symbol string) ([]string, error) {
	return do(context.Background(), b, "expirations "+symbol, func() ([]string, error) {
		return b.inner.GetExpirations(symbol)
	})
}

func (b *Broker) GetOptionChain(symbol, expiration string, withGreeks bool) ([]broker.ChainOption, error) {
	return do(context.Background(), b, "option chain "+symbol, func() ([]broker.ChainOption, error) {
		return b.inner.GetOptionChain(symbol, expiration, withGreeks)
	})
}

func (b *Broker) GetMarketClock() (string, error) {
	return do(context.Background(), b, "market clock", b.inner.GetMarketClock)
}

func (b *Broker) IsTradingDay() (bool, error) {
	return do(context.Background(), b, "trading day", b.inner.IsTradingDay)
}
