package hrv

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// NN50ThresholdMs is the successive-difference threshold counted by pNN50.
const NN50ThresholdMs = 50.0

// Metrics are time-domain HRV statistics over an interval history.
type Metrics struct {
	RMSSD       Value `json:"rmssd"`
	SDNN        Value `json:"sdnn"`
	PNN50       Value `json:"pnn50"`
	SampleCount int   `json:"sampleCount"`
}

// MinSamples is the per-metric sample count below which a metric is
// reported unavailable.
type MinSamples struct {
	RMSSD int
	SDNN  int
	PNN50 int
}

// WindowedMinSamples are the gates used for the continuous waveform path.
func WindowedMinSamples() MinSamples { return MinSamples{RMSSD: 20, SDNN: 30, PNN50: 20} }

// DiscreteMinSamples are the gates used for beat-event streams.
func DiscreteMinSamples() MinSamples { return MinSamples{RMSSD: 2, SDNN: 2, PNN50: 2} }

// Compute derives RMSSD, SDNN and pNN50 from intervals. Each metric needs at
// least two samples regardless of its configured gate.
func Compute(intervals []float64, min MinSamples) Metrics {
	n := len(intervals)
	m := Metrics{SampleCount: n}
	if n < 2 {
		return m
	}

	diffs := make([]float64, n-1)
	nn50 := 0
	for i := 1; i < n; i++ {
		diffs[i-1] = intervals[i] - intervals[i-1]
		if math.Abs(diffs[i-1]) > NN50ThresholdMs {
			nn50++
		}
	}

	if n >= min.RMSSD {
		m.RMSSD = Some(math.Sqrt(floats.Dot(diffs, diffs) / float64(len(diffs))))
	}
	if n >= min.SDNN {
		// stat.StdDev is the unbiased (n-1) estimator.
		m.SDNN = Some(stat.StdDev(intervals, nil))
	}
	if n >= min.PNN50 {
		m.PNN50 = Some(float64(nn50) / float64(len(diffs)) * 100)
	}
	return m
}

// Round rounds every available metric to the nearest multiple of step.
func (m Metrics) Round(step float64) Metrics {
	m.RMSSD = m.RMSSD.Round(step)
	m.SDNN = m.SDNN.Round(step)
	m.PNN50 = m.PNN50.Round(step)
	return m
}
