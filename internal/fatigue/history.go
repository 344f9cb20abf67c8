// internal/fatigue/history.go
package fatigue

import (
	"sort"

	"gonum.org/v1/gonum/floats"
)

// historyCompactThreshold is the number of evicted head slots tolerated
// before the backing array is compacted.
const historyCompactThreshold = 64

// Point is one retained observation.
type Point struct {
	T        float64
	Raw      float64
	Smoothed float64
	Spectral *float64
}

// History is a time-ordered FIFO of recent points.
// Points are appended in time order and evicted from the head; never reordered.
type History struct {
	points  []Point
	head    int
	scratch []float64
}

// NewHistory creates an empty history with the given initial capacity.
func NewHistory(capacity int) *History {
	return &History{points: make([]Point, 0, capacity)}
}

// Len returns the number of retained points.
func (h *History) Len() int {
	return len(h.points) - h.head
}

// Push appends a point. Callers must push in non-decreasing time order.
func (h *History) Push(p Point) {
	h.points = append(h.points, p)
}

// EvictOlderThan removes every point with T < cutoff.
func (h *History) EvictOlderThan(cutoff float64) {
	live := h.points[h.head:]
	n := sort.Search(len(live), func(i int) bool { return live[i].T >= cutoff })
	h.head += n

	if h.head == len(h.points) {
		h.points = h.points[:0]
		h.head = 0
		return
	}
	if h.head >= historyCompactThreshold && h.head*2 >= len(h.points) {
		remaining := copy(h.points, h.points[h.head:])
		clear(h.points[remaining:])
		h.points = h.points[:remaining]
		h.head = 0
	}
}

// Latest returns the newest point.
func (h *History) Latest() (Point, bool) {
	if h.Len() == 0 {
		return Point{}, false
	}
	return h.points[len(h.points)-1], true
}

// PointAtOrBefore returns the newest point with T <= target, or the oldest
// point when none qualifies. ok is false only when the history is empty.
func (h *History) PointAtOrBefore(target float64) (Point, bool) {
	live := h.points[h.head:]
	if len(live) == 0 {
		return Point{}, false
	}
	i := sort.Search(len(live), func(i int) bool { return live[i].T > target })
	if i == 0 {
		return live[0], true
	}
	return live[i-1], true
}

// SpectralAtOrBefore returns the newest point carrying a spectral value with
// T <= target. Unlike PointAtOrBefore there is no oldest-point fallback.
func (h *History) SpectralAtOrBefore(target float64) (Point, bool) {
	live := h.points[h.head:]
	i := sort.Search(len(live), func(i int) bool { return live[i].T > target })
	for i--; i >= 0; i-- {
		if live[i].Spectral != nil {
			return live[i], true
		}
	}
	return Point{}, false
}

// SmoothedRange returns max-min of the smoothed values across the whole
// retained window, or 0 when empty.
func (h *History) SmoothedRange() float64 {
	live := h.points[h.head:]
	if len(live) == 0 {
		return 0
	}
	h.scratch = h.scratch[:0]
	for _, p := range live {
		h.scratch = append(h.scratch, p.Smoothed)
	}
	return floats.Max(h.scratch) - floats.Min(h.scratch)
}

// Points returns a copy of the retained points, oldest first.
func (h *History) Points() []Point {
	out := make([]Point, h.Len())
	copy(out, h.points[h.head:])
	return out
}

// Reset drops all points.
func (h *History) Reset() {
	clear(h.points)
	h.points = h.points[:0]
	h.head = 0
	h.scratch = h.scratch[:0]
}
