package indicator

import "scalpflow/internal/series"

// EMA is an exponential moving average seeded with the first observation.
// It reports a value once period samples have been seen.
type EMA struct {
	period int
	alpha  float64
	value  float64
	count  int
}

func NewEMA(period int) *EMA {
	if period < 1 {
		period = 1
	}
	return &EMA{period: period, alpha: 2 / float64(period+1)}
}

func (e *EMA) Update(price float64) series.Optional[float64] {
	if e.count == 0 {
		e.value = price
	} else {
		e.value = e.alpha*price + (1-e.alpha)*e.value
	}
	e.count++
	return e.Value()
}

func (e *EMA) Value() series.Optional[float64] {
	if e.count < e.period {
		return series.None[float64]()
	}
	return series.Some(e.value)
}
