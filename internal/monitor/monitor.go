package monitor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/stamford_wheeler/internal/technicals"
)

// scanner is the slice of the technicals analyzer the monitor needs.
type scanner interface {
	ScanWatchlist(ctx context.Context, symbols []string) (map[string]*technicals.StockReport, error)
}

// Monitor periodically scans the watchlist and feeds the alert engine.
type Monitor struct {
	scanner  scanner
	engine   *Engine
	logger   *logrus.Logger
	symbols  []string
	interval time.Duration
}

// NewMonitor builds a watchlist monitor.
func NewMonitor(sc scanner, engine *Engine, logger *logrus.Logger, symbols []string, interval time.Duration) *Monitor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Monitor{
		scanner:  sc,
		engine:   engine,
		logger:   logger,
		symbols:  symbols,
		interval: interval,
	}
}

// ScanOnce runs a single scan and returns the alerts that fired.
func (m *Monitor) ScanOnce(ctx context.Context) ([]Alert, error) {
	reports, err := m.scanner.ScanWatchlist(ctx, m.symbols)
	if err != nil {
		return nil, err
	}
	fired := m.engine.Evaluate(reports)
	for _, a := range fired {
		m.logger.WithFields(logrus.Fields{
			"symbol": a.Symbol,
			"type":   a.Type,
			"value":  a.Value,
		}).Warn(a.Message)
	}
	return fired, nil
}

// Run scans immediately and then on every tick until the context is canceled.
func (m *Monitor) Run(ctx context.Context) error {
	if _, err := m.ScanOnce(ctx); err != nil {
		m.logger.WithError(err).Error("Watchlist scan failed")
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := m.ScanOnce(ctx); err != nil {
				m.logger.WithError(err).Error("Watchlist scan failed")
			}
		}
	}
}
