package indicator

import "scalpflow/internal/series"

// Velocity is the slope in points per second between the newest sample and
// the most recent sample with an earlier timestamp. A missing or zero time
// delta gives zero.
func Velocity(r *series.Rolling[float64]) float64 {
	last, ok := r.Last()
	if !ok {
		return 0
	}
	for i := 1; i < r.Len(); i++ {
		p, _ := r.FromEnd(i)
		dt := last.Time.Sub(p.Time).Seconds()
		if dt > 0 {
			return (last.Value - p.Value) / dt
		}
		if dt < 0 {
			return 0
		}
	}
	return 0
}
