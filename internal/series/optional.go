package series

import (
	"encoding/json"
	"math"
)

// Optional is a value that may be absent. The zero value is absent.
type Optional[T any] struct {
	value T
	ok    bool
}

// Some wraps a present value.
func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, ok: true}
}

// None returns an absent value.
func None[T any]() Optional[T] {
	return Optional[T]{}
}

// Float wraps v unless it is NaN or infinite.
func Float(v float64) Optional[float64] {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return None[float64]()
	}
	return Some(v)
}

// Positive wraps v only when it is a finite number above zero. Quotes of zero
// are treated as missing.
func Positive(v float64) Optional[float64] {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return None[float64]()
	}
	return Some(v)
}

func (o Optional[T]) Get() (T, bool) {
	return o.value, o.ok
}

func (o Optional[T]) Valid() bool {
	return o.ok
}

// Or returns the value or fallback when absent.
func (o Optional[T]) Or(fallback T) T {
	if o.ok {
		return o.value
	}
	return fallback
}

func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.ok {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}

func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*o = Optional[T]{}
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}

// ForwardFill returns current when present, otherwise the last known good
// value. Both absent yields absent.
func ForwardFill[T any](current, last Optional[T]) Optional[T] {
	if current.ok {
		return current
	}
	return last
}

// Map applies fn to a present value.
func Map[T, U any](o Optional[T], fn func(T) U) Optional[U] {
	if !o.ok {
		return None[U]()
	}
	return Some(fn(o.value))
}
