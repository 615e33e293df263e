// Package freshness tracks how old each input of the engine is.
package freshness

import (
	"time"

	"scalpflow/config"
	"scalpflow/internal/models"
	"scalpflow/internal/series"
)

const latencySmoothing = 0.3

// Tracker records when each source last changed engine state. It is owned by
// the engine and not safe for concurrent use.
type Tracker struct {
	fresh    time.Duration
	moderate time.Duration
	seen     map[models.Source]time.Time

	latencyMS  float64
	hasLatency bool
}

func NewTracker(cfg config.FreshnessConfig) *Tracker {
	return &Tracker{
		fresh:    cfg.Fresh,
		moderate: cfg.Moderate,
		seen:     make(map[models.Source]time.Time),
	}
}

// Observe stamps src as updated at now and returns the age it had just
// before, zero on the first observation.
func (t *Tracker) Observe(src models.Source, now time.Time) time.Duration {
	prev, ok := t.seen[src]
	t.seen[src] = now
	if !ok || now.Before(prev) {
		return 0
	}
	return now.Sub(prev)
}

func (t *Tracker) LastSeen(src models.Source) (time.Time, bool) {
	ts, ok := t.seen[src]
	return ts, ok
}

// Age is the number of seconds since src was last observed, absent when it
// never was.
func (t *Tracker) Age(src models.Source, now time.Time) series.Optional[float64] {
	ts, ok := t.seen[src]
	if !ok {
		return series.None[float64]()
	}
	age := now.Sub(ts).Seconds()
	if age < 0 {
		age = 0
	}
	return series.Some(age)
}

// Level classifies an age. Unknown ages are stale.
func (t *Tracker) Level(age series.Optional[float64]) models.FreshnessLevel {
	secs, ok := age.Get()
	if !ok {
		return models.Stale
	}
	d := time.Duration(secs * float64(time.Second))
	switch {
	case d < t.fresh:
		return models.Fresh
	case d < t.moderate:
		return models.Moderate
	default:
		return models.Stale
	}
}

// Report returns the age and level of every tracked source.
func (t *Tracker) Report(now time.Time) map[models.Source]models.FreshnessInfo {
	out := make(map[models.Source]models.FreshnessInfo, len(models.Sources))
	for _, src := range models.Sources {
		age := t.Age(src, now)
		out[src] = models.FreshnessInfo{AgeSeconds: age, Level: t.Level(age)}
	}
	return out
}

// Forget drops src, used when the tracked contract behind it changes.
func (t *Tracker) Forget(src models.Source) {
	delete(t.seen, src)
}

// RecordLatency folds d into the smoothed latency.
func (t *Tracker) RecordLatency(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	if !t.hasLatency {
		t.latencyMS, t.hasLatency = ms, true
		return
	}
	t.latencyMS = (1-latencySmoothing)*t.latencyMS + latencySmoothing*ms
}

func (t *Tracker) LatencyMS() float64 {
	return t.latencyMS
}
