// Package monitor watches the watchlist for notable conditions and serves
// the latest account state, rankings and alerts over HTTP.
package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eddiefleurent/stamford_wheeler/internal/technicals"
)

// AlertType classifies what condition fired.
type AlertType string

const (
	AlertRSIOversold   AlertType = "rsi_oversold"
	AlertRSIOverbought AlertType = "rsi_overbought"
	AlertPriceMove     AlertType = "price_move"
	AlertVolumeSpike   AlertType = "volume_spike"
)

// Alert is one fired condition for one symbol.
type Alert struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	CreatedAt time.Time `json:"created_at"`
}

// Thresholds tunes the alert engine.
type Thresholds struct {
	RSIOversold   float64
	RSIOverbought float64
	PriceMovePct  float64
	VolumeSpike   float64
}

// DefaultThresholds returns the standard alert thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		RSIOversold:   30,
		RSIOverbought: 70,
		PriceMovePct:  3.0,
		VolumeSpike:   2.0,
	}
}

// maxAlertHistory bounds the in-memory alert buffer.
const maxAlertHistory = 200

// Engine evaluates stock reports against thresholds and keeps a bounded
// history of fired alerts. Safe for concurrent use.
type Engine struct {
	mu         sync.RWMutex
	thresholds Thresholds
	alerts     []Alert
	now        func() time.Time
}

// NewEngine creates an alert engine. Zero thresholds fall back to defaults.
func NewEngine(t Thresholds) *Engine {
	def := DefaultThresholds()
	if t.RSIOversold == 0 {
		t.RSIOversold = def.RSIOversold
	}
	if t.RSIOverbought == 0 {
		t.RSIOverbought = def.RSIOverbought
	}
	if t.PriceMovePct == 0 {
		t.PriceMovePct = def.PriceMovePct
	}
	if t.VolumeSpike == 0 {
		t.VolumeSpike = def.VolumeSpike
	}
	return &Engine{thresholds: t, now: time.Now}
}

// WithClock overrides the time source for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Evaluate checks every report and records the alerts that fire, returning
// the newly fired ones.
func (e *Engine) Evaluate(reports map[string]*technicals.StockReport) []Alert {
	var fired []Alert
	for _, rep := range reports {
		if rep == nil {
			continue
		}
		fired = append(fired, e.evaluateReport(rep)...)
	}
	if len(fired) == 0 {
		return nil
	}

	e.mu.Lock()
	e.alerts = append(e.alerts, fired...)
	if len(e.alerts) > maxAlertHistory {
		e.alerts = e.alerts[len(e.alerts)-maxAlertHistory:]
	}
	e.mu.Unlock()
	return fired
}

func (e *Engine) evaluateReport(rep *technicals.StockReport) []Alert {
	var out []Alert
	t := e.thresholds

	if rep.RSI > 0 && rep.RSI <= t.RSIOversold {
		out = append(out, e.newAlert(rep.Symbol, AlertRSIOversold, rep.RSI, t.RSIOversold,
			fmt.Sprintf("%s RSI %.1f at or below %.0f", rep.Symbol, rep.RSI, t.RSIOversold)))
	} else if rep.RSI >= t.RSIOverbought {
		out = append(out, e.newAlert(rep.Symbol, AlertRSIOverbought, rep.RSI, t.RSIOverbought,
			fmt.Sprintf("%s RSI %.1f at or above %.0f", rep.Symbol, rep.RSI, t.RSIOverbought)))
	}

	change := rep.PriceChangePct
	if change < 0 {
		change = -change
	}
	if change >= t.PriceMovePct {
		out = append(out, e.newAlert(rep.Symbol, AlertPriceMove, rep.PriceChangePct, t.PriceMovePct,
			fmt.Sprintf("%s moved %.1f%% over recent sessions", rep.Symbol, rep.PriceChangePct)))
	}

	if rep.VolumeRatio >= t.VolumeSpike {
		out = append(out, e.newAlert(rep.Symbol, AlertVolumeSpike, rep.VolumeRatio, t.VolumeSpike,
			fmt.Sprintf("%s volume %.1fx its average", rep.Symbol, rep.VolumeRatio)))
	}

	return out
}

func (e *Engine) newAlert(symbol string, typ AlertType, value, threshold float64, msg string) Alert {
	return Alert{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Type:      typ,
		Message:   msg,
		Value:     value,
		Threshold: threshold,
		CreatedAt: e.now().UTC(),
	}
}

// Recent returns up to limit alerts, newest first. A limit <= 0 returns all.
func (e *Engine) Recent(limit int) []Alert {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := len(e.alerts)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Alert, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, e.alerts[i])
	}
	return out
}
