package ppg

import (
	"math"
	"sort"
)

// MADScale converts a median absolute deviation into a standard-deviation
// estimate for Gaussian data.
const MADScale = 1.4826

// Normalized is a window rescaled around its median.
type Normalized struct {
	Data   []float64
	MAD    float64 // scaled by MADScale
	Median float64
}

// upperMedian returns sorted[floor(n/2)] of a copy of v. For even lengths
// this is the upper of the two middle values, not their mean.
func upperMedian(v []float64) float64 {
	s := make([]float64, len(v))
	copy(s, v)
	sort.Float64s(s)
	return s[len(s)/2]
}

// Normalize centres window on its median and divides by the scaled MAD. A
// zero MAD (constant window) falls back to a scale of one so the output is
// all zeros rather than NaN.
func Normalize(window []float64) Normalized {
	if len(window) == 0 {
		return Normalized{Data: []float64{}}
	}

	median := upperMedian(window)
	dev := make([]float64, len(window))
	for i, v := range window {
		dev[i] = math.Abs(v - median)
	}
	mad := upperMedian(dev) * MADScale

	scale := mad
	if scale == 0 {
		scale = 1
	}
	data := make([]float64, len(window))
	for i, v := range window {
		data[i] = (v - median) / scale
	}
	return Normalized{Data: data, MAD: mad, Median: median}
}
