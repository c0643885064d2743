package hrv

import "time"

// DefaultCalculatorCapacity bounds the interval history of a Calculator.
const DefaultCalculatorCapacity = 256

// Calculator derives HRV from a discrete stream of beat timestamps or RR
// intervals. Only the hard bounds of its validator apply; there is no
// baseline-relative outlier rejection on this path. A Calculator is not safe
// for concurrent use.
type Calculator struct {
	validator Validator
	history   *History
	lastBeat  time.Time
	rejected  int
}

// NewCalculator returns a calculator with the given bounds and capacity.
func NewCalculator(v Validator, capacity int) *Calculator {
	return &Calculator{validator: v, history: NewHistory(capacity)}
}

// AddBeat records a beat at ts. The interval from the previous beat is added
// through AddInterval; the first beat only seeds the timestamp.
func (c *Calculator) AddBeat(ts time.Time) bool {
	prev := c.lastBeat
	c.lastBeat = ts
	if prev.IsZero() {
		return false
	}
	return c.AddInterval(float64(ts.Sub(prev)) / float64(time.Millisecond))
}

// AddInterval records an RR interval in milliseconds. It reports whether the
// interval was accepted.
func (c *Calculator) AddInterval(ms float64) bool {
	if !c.validator.InBounds(ms) {
		c.rejected++
		return false
	}
	c.history.Push(ms)
	return true
}

// Metrics computes statistics over the current history, rounded to 0.1 ms
// (pNN50 to 0.1 %). Fewer than two intervals yields unavailable metrics.
func (c *Calculator) Metrics() Metrics {
	return Compute(c.history.Values(), DiscreteMinSamples()).Round(0.1)
}

// Intervals returns a copy of the accepted intervals, oldest first.
func (c *Calculator) Intervals() []float64 { return c.history.Values() }

// Rejected returns the number of intervals dropped by the hard bounds.
func (c *Calculator) Rejected() int { return c.rejected }

// Reset clears intervals, the last beat timestamp and the rejection count.
func (c *Calculator) Reset() {
	c.history.Reset()
	c.lastBeat = time.Time{}
	c.rejected = 0
}
