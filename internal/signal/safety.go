package signal

import (
	"fmt"
	"time"

	"scalpflow/config"
	"scalpflow/internal/models"
	"scalpflow/internal/series"
)

// SafetyGate locks out signals that fight the price trend near session close.
// It keeps its own short window of underlying prices for the trend.
type SafetyGate struct {
	enabled    bool
	close      time.Duration
	window     time.Duration
	loc        *time.Location
	minSamples int
	band       float64
	prices     *series.Rolling[float64]
}

func NewSafetyGate(cfg config.SafetyConfig) (*SafetyGate, error) {
	closeAt, err := config.ParseClock(cfg.SessionClose)
	if err != nil {
		return nil, fmt.Errorf("safety gate: %w", err)
	}
	return &SafetyGate{
		enabled:    cfg.Enabled,
		close:      closeAt,
		window:     cfg.Window,
		loc:        config.Location(cfg.Timezone),
		minSamples: cfg.MinSamples,
		band:       cfg.Band,
		prices:     series.NewRolling[float64](cfg.TrendSamples),
	}, nil
}

// Observe adds an underlying price to the trend window.
func (g *SafetyGate) Observe(ts time.Time, price float64) {
	g.prices.Push(ts, price)
}

// Trend compares the newest price with the window mean. It is SIDEWAYS until
// minSamples prices have been observed.
func (g *SafetyGate) Trend() models.Direction {
	last, ok := g.prices.Last()
	if !ok || g.prices.Len() < g.minSamples {
		return models.Sideways
	}
	avg, _ := series.MeanLast(g.prices, g.prices.Len())
	switch {
	case last.Value > avg+g.band:
		return models.Up
	case last.Value < avg-g.band:
		return models.Down
	default:
		return models.Sideways
	}
}

// Active reports whether now falls in [close-window, close) in the exchange
// timezone.
func (g *SafetyGate) Active(now time.Time) bool {
	if !g.enabled {
		return false
	}
	local := now.In(g.loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, g.loc)
	start := midnight.Add(g.close - g.window)
	end := midnight.Add(g.close)
	return !local.Before(start) && local.Before(end)
}

// Allow reports whether candidate may be emitted given the trend. Only
// directional candidates are gated.
func (g *SafetyGate) Allow(candidate models.Signal, trend models.Direction, now time.Time) bool {
	if !g.Active(now) {
		return true
	}
	switch candidate {
	case models.SignalBuyCall:
		return trend == models.Up
	case models.SignalBuyPut:
		return trend == models.Down
	default:
		return true
	}
}
