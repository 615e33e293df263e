package series

import "time"

// Point is a single timestamped observation.
type Point[T any] struct {
	Time  time.Time `json:"time"`
	Value T         `json:"value"`
}

// Rolling is a fixed capacity ring buffer of points. Once full, each push
// evicts the oldest point. It is not safe for concurrent use; owners guard it.
type Rolling[T any] struct {
	items []Point[T]
	head  int
	size  int
}

// NewRolling allocates a series holding at most capacity points. Capacities
// below one are raised to one.
func NewRolling[T any](capacity int) *Rolling[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Rolling[T]{items: make([]Point[T], capacity)}
}

// Push appends a point and reports whether an older point was evicted.
func (r *Rolling[T]) Push(ts time.Time, v T) bool {
	idx := (r.head + r.size) % len(r.items)
	if r.size == len(r.items) {
		r.items[r.head] = Point[T]{Time: ts, Value: v}
		r.head = (r.head + 1) % len(r.items)
		return true
	}
	r.items[idx] = Point[T]{Time: ts, Value: v}
	r.size++
	return false
}

// ReplaceLast overwrites the newest point. It pushes when the series is empty.
func (r *Rolling[T]) ReplaceLast(ts time.Time, v T) {
	if r.size == 0 {
		r.Push(ts, v)
		return
	}
	r.items[(r.head+r.size-1)%len(r.items)] = Point[T]{Time: ts, Value: v}
}

func (r *Rolling[T]) Len() int { return r.size }

func (r *Rolling[T]) Cap() int { return len(r.items) }

// At returns the i-th point counted from the oldest.
func (r *Rolling[T]) At(i int) (Point[T], bool) {
	if i < 0 || i >= r.size {
		return Point[T]{}, false
	}
	return r.items[(r.head+i)%len(r.items)], true
}

// FromEnd returns the i-th point counted back from the newest (0 is newest).
func (r *Rolling[T]) FromEnd(i int) (Point[T], bool) {
	return r.At(r.size - 1 - i)
}

// Last returns the newest point.
func (r *Rolling[T]) Last() (Point[T], bool) {
	return r.FromEnd(0)
}

// Tail copies up to n newest points in chronological order.
func (r *Rolling[T]) Tail(n int) []Point[T] {
	if n > r.size || n < 0 {
		n = r.size
	}
	out := make([]Point[T], 0, n)
	for i := r.size - n; i < r.size; i++ {
		p, _ := r.At(i)
		out = append(out, p)
	}
	return out
}

// Values copies all values oldest first.
func (r *Rolling[T]) Values() []T {
	out := make([]T, 0, r.size)
	for i := 0; i < r.size; i++ {
		p, _ := r.At(i)
		out = append(out, p.Value)
	}
	return out
}

func (r *Rolling[T]) Reset() {
	var zero Point[T]
	for i := range r.items {
		r.items[i] = zero
	}
	r.head, r.size = 0, 0
}

// MeanLast averages the values of the newest n points. It walks only those n
// points.
func MeanLast(r *Rolling[float64], n int) (float64, bool) {
	if n <= 0 || r.Len() < n {
		return 0, false
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		p, _ := r.FromEnd(i)
		sum += p.Value
	}
	return sum / float64(n), true
}

// MeanSince averages the points whose time is not before since, walking back
// from the newest point and stopping at the first older one.
func MeanSince(r *Rolling[float64], since time.Time) (float64, int) {
	sum, n := 0.0, 0
	for i := 0; i < r.Len(); i++ {
		p, _ := r.FromEnd(i)
		if p.Time.Before(since) {
			break
		}
		sum += p.Value
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}
