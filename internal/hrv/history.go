package hrv

import "sort"

// History is a bounded FIFO of accepted inter-beat intervals in
// milliseconds. When full, the oldest entry is evicted first.
type History struct {
	buf []float64
	cap int
}

// NewHistory returns an empty history holding at most capacity intervals.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{buf: make([]float64, 0, capacity), cap: capacity}
}

// Push appends an interval, evicting from the front if over capacity.
func (h *History) Push(ibiMs float64) {
	h.buf = append(h.buf, ibiMs)
	if over := len(h.buf) - h.cap; over > 0 {
		h.buf = append(h.buf[:0], h.buf[over:]...)
	}
}

func (h *History) Len() int { return len(h.buf) }
func (h *History) Cap() int { return h.cap }

// Values returns a copy of the intervals, oldest first.
func (h *History) Values() []float64 {
	out := make([]float64, len(h.buf))
	copy(out, h.buf)
	return out
}

// Last returns the most recent interval.
func (h *History) Last() (float64, bool) {
	if len(h.buf) == 0 {
		return 0, false
	}
	return h.buf[len(h.buf)-1], true
}

// Median returns sorted[floor(n/2)], or nil when empty. The pointer form
// plugs straight into Validator.Valid as a baseline.
func (h *History) Median() *float64 {
	if len(h.buf) == 0 {
		return nil
	}
	m := Median(h.buf)
	return &m
}

// Reset drops all intervals.
func (h *History) Reset() {
	h.buf = h.buf[:0]
}

// Clone returns an independent copy.
func (h *History) Clone() *History {
	c := &History{buf: make([]float64, len(h.buf), h.cap), cap: h.cap}
	copy(c.buf, h.buf)
	return c
}

// Median returns the upper median sorted[floor(n/2)] of v without modifying
// it. It returns 0 for an empty slice.
func Median(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	s := make([]float64, len(v))
	copy(s, v)
	sort.Float64s(s)
	return s[len(s)/2]
}
