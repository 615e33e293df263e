package indicator

import (
	"time"

	"scalpflow/internal/models"
	"scalpflow/internal/series"
)

// Classify maps a relative sentiment score onto the configured bands. An
// absent score is neutral.
func Classify(score series.Optional[float64], bullish, bearish float64) models.Sentiment {
	v, ok := score.Get()
	switch {
	case !ok:
		return models.Neutral
	case v > bullish:
		return models.Bullish
	case v < bearish:
		return models.Bearish
	default:
		return models.Neutral
	}
}

// relativeBasis subtracts the trailing window mean, which includes the newest
// sample, from the newest basis. It needs minSamples inside the window.
func relativeBasis(r *series.Rolling[float64], now time.Time, window time.Duration, minSamples int) series.Optional[float64] {
	last, ok := r.Last()
	if !ok {
		return series.None[float64]()
	}
	mean, n := series.MeanSince(r, now.Add(-window))
	if n == 0 || n < minSamples {
		return series.None[float64]()
	}
	return series.Float(last.Value - mean)
}
