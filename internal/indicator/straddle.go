package indicator

import (
	"scalpflow/internal/models"
	"scalpflow/internal/series"
)

// Straddle is the mean of the call and put premiums. It is absent unless both
// legs are present.
func Straddle(ce, pe series.Optional[float64]) series.Optional[float64] {
	c, okc := ce.Get()
	p, okp := pe.Get()
	if !okc || !okp {
		return series.None[float64]()
	}
	return series.Some((c + p) / 2)
}

// StraddleTrend compares the mean of the newest n samples with the mean of the
// n samples ending one step earlier. Fewer than n+1 samples is FLAT.
func StraddleTrend(r *series.Rolling[float64], n int, epsilon float64) models.StraddleTrend {
	if n < 1 || r.Len() < n+1 {
		return models.Flat
	}
	current, prior := 0.0, 0.0
	for i := 0; i < n; i++ {
		p, _ := r.FromEnd(i)
		current += p.Value
		q, _ := r.FromEnd(i + 1)
		prior += q.Value
	}
	diff := (current - prior) / float64(n)
	switch {
	case diff > epsilon:
		return models.Rising
	case diff < -epsilon:
		return models.Falling
	default:
		return models.Flat
	}
}
