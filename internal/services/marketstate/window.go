package marketstate

import (
	"errors"
	"time"
)

var (
	// ErrOutOfOrder is returned when a point is older than the newest one held.
	ErrOutOfOrder = errors.New("marketstate: out-of-order observation")
	// ErrDuplicate is returned when a point carries the newest timestamp again.
	ErrDuplicate = errors.New("marketstate: duplicate observation")
)

// Point is one timestamped observation.
type Point struct {
	Time  time.Time
	Value float64
}

// RollingWindow is a fixed-capacity ring of time-ordered points. When maxAge
// is positive, points older than newest-maxAge are evicted on every push.
// It is not safe for concurrent use; Cache guards it.
type RollingWindow struct {
	buf    []Point
	head   int
	size   int
	maxAge time.Duration
}

func NewRollingWindow(capacity int, maxAge time.Duration) *RollingWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &RollingWindow{buf: make([]Point, capacity), maxAge: maxAge}
}

// Push appends p, evicting the oldest point when full. Timestamps must be
// strictly increasing.
func (w *RollingWindow) Push(p Point) error {
	if w.size > 0 {
		last := w.at(w.size - 1).Time
		if p.Time.Before(last) {
			return ErrOutOfOrder
		}
		if p.Time.Equal(last) {
			return ErrDuplicate
		}
	}
	idx := (w.head + w.size) % len(w.buf)
	if w.size == len(w.buf) {
		w.buf[w.head] = p
		w.head = (w.head + 1) % len(w.buf)
	} else {
		w.buf[idx] = p
		w.size++
	}
	if w.maxAge > 0 {
		cutoff := p.Time.Add(-w.maxAge)
		for w.size > 0 && w.at(0).Time.Before(cutoff) {
			w.head = (w.head + 1) % len(w.buf)
			w.size--
		}
	}
	return nil
}

func (w *RollingWindow) at(i int) Point {
	return w.buf[(w.head+i)%len(w.buf)]
}

func (w *RollingWindow) Len() int { return w.size }

func (w *RollingWindow) Cap() int { return len(w.buf) }

// Last returns the newest point.
func (w *RollingWindow) Last() (Point, bool) {
	if w.size == 0 {
		return Point{}, false
	}
	return w.at(w.size - 1), true
}

// Values copies the last n values, oldest first. n <= 0 means all.
func (w *RollingWindow) Values(n int) []float64 {
	if n <= 0 || n > w.size {
		n = w.size
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = w.at(w.size - n + i).Value
	}
	return out
}

// Points copies the last n points, oldest first. n <= 0 means all.
func (w *RollingWindow) Points(n int) []Point {
	if n <= 0 || n > w.size {
		n = w.size
	}
	out := make([]Point, n)
	for i := 0; i < n; i++ {
		out[i] = w.at(w.size - n + i)
	}
	return out
}
