package indicator

import "scalpflow/internal/series"

// RSI is the Wilder relative strength index. The first average gain and loss
// are simple means of the first period deltas, later ones are Wilder
// smoothed. No value is reported until period deltas exist.
type RSI struct {
	period  int
	prev    float64
	hasPrev bool
	deltas  int
	avgGain float64
	avgLoss float64
}

func NewRSI(period int) *RSI {
	if period < 1 {
		period = 1
	}
	return &RSI{period: period}
}

func (r *RSI) Update(price float64) series.Optional[float64] {
	if !r.hasPrev {
		r.prev, r.hasPrev = price, true
		return series.None[float64]()
	}
	delta := price - r.prev
	r.prev = price

	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}

	n := float64(r.period)
	r.deltas++
	switch {
	case r.deltas < r.period:
		r.avgGain += gain
		r.avgLoss += loss
		return series.None[float64]()
	case r.deltas == r.period:
		r.avgGain = (r.avgGain + gain) / n
		r.avgLoss = (r.avgLoss + loss) / n
	default:
		r.avgGain = (r.avgGain*(n-1) + gain) / n
		r.avgLoss = (r.avgLoss*(n-1) + loss) / n
	}
	return r.Value()
}

func (r *RSI) Value() series.Optional[float64] {
	if r.deltas < r.period {
		return series.None[float64]()
	}
	if r.avgLoss == 0 {
		return series.Some(100.0)
	}
	rs := r.avgGain / r.avgLoss
	return series.Some(100 - 100/(1+rs))
}
