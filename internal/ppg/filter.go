// Package ppg holds the signal-processing stages for a photoplethysmography
// waveform: bandpass filtering, robust normalisation and systolic peak
// detection. Every function here is pure and safe on degenerate input.
package ppg

import "math"

// ButterworthQ is the quality factor of a second-order Butterworth section.
const ButterworthQ = 0.707

// biquad holds normalised direct-form I coefficients (a0 == 1).
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
}

func newHighpass(fc, fs float64) biquad {
	w0 := 2 * math.Pi * fc / fs
	cosw := math.Cos(w0)
	alpha := math.Sin(w0) / (2 * ButterworthQ)
	a0 := 1 + alpha
	return biquad{
		b0: (1 + cosw) / 2 / a0,
		b1: -(1 + cosw) / a0,
		b2: (1 + cosw) / 2 / a0,
		a1: -2 * cosw / a0,
		a2: (1 - alpha) / a0,
	}
}

func newLowpass(fc, fs float64) biquad {
	w0 := 2 * math.Pi * fc / fs
	cosw := math.Cos(w0)
	alpha := math.Sin(w0) / (2 * ButterworthQ)
	a0 := 1 + alpha
	return biquad{
		b0: (1 - cosw) / 2 / a0,
		b1: (1 - cosw) / a0,
		b2: (1 - cosw) / 2 / a0,
		a1: -2 * cosw / a0,
		a2: (1 - alpha) / a0,
	}
}

// apply runs the section over x with zeroed state and returns a new slice.
func (q biquad) apply(x []float64) []float64 {
	y := make([]float64, len(x))
	var x1, x2, y1, y2 float64
	for i, xn := range x {
		yn := q.b0*xn + q.b1*x1 + q.b2*x2 - q.a1*y1 - q.a2*y2
		y[i] = yn
		x2, x1 = x1, xn
		y2, y1 = y1, yn
	}
	return y
}

// Bandpass applies a highpass biquad at fcLow followed by a lowpass biquad at
// fcHigh. The output has the same length and alignment as the input. Empty
// input yields an empty, non-nil slice.
func Bandpass(samples []float64, fs, fcLow, fcHigh float64) []float64 {
	if len(samples) == 0 {
		return []float64{}
	}
	hp := newHighpass(fcLow, fs).apply(samples)
	return newLowpass(fcHigh, fs).apply(hp)
}

// Invert returns a negated copy of samples. Reflective PPG sensors record
// systolic peaks as troughs, so sources are usually inverted before filtering.
func Invert(samples []float64) []float64 {
	out := make([]float64, len(samples))
	for i, v := range samples {
		out[i] = -v
	}
	return out
}
