package ppg

import "math"

// PeakConfig controls systolic peak detection.
type PeakConfig struct {
	// MinDistanceSec is the refractory distance between accepted peaks.
	MinDistanceSec float64
	// ThresholdK sets the acceptance threshold at median + K * raw MAD.
	ThresholdK float64
}

// DefaultPeakConfig returns the detection parameters tuned for adult resting
// heart rates sampled at 50 Hz.
func DefaultPeakConfig() PeakConfig {
	return PeakConfig{
		MinDistanceSec: 0.35,
		ThresholdK:     0.6,
	}
}

// Peaks holds the result of one detection pass over a window.
type Peaks struct {
	// Candidates are all local maxima above threshold, in index order.
	Candidates []int
	// Valid are the candidates that survive refractory de-duplication.
	Valid []int
	// MAD is the scaled MAD of the analysed window.
	MAD float64
}

// DetectPeaks finds systolic peaks in window. Indices are relative to the
// window. Valid peaks are strictly increasing and separated by at least
// floor(MinDistanceSec*fs) samples.
func DetectPeaks(window []float64, fs float64, cfg PeakConfig) Peaks {
	if len(window) < 2 {
		return Peaks{Candidates: []int{}, Valid: []int{}}
	}

	norm := Normalize(window)
	y := norm.Data

	// Threshold in the normalised domain: (k * rawMAD) / (rawMAD * MADScale).
	threshold := cfg.ThresholdK / MADScale

	candidates := []int{}
	for i := 1; i < len(y)-1; i++ {
		if y[i] > threshold && y[i] > y[i-1] && y[i] >= y[i+1] {
			candidates = append(candidates, i)
		}
	}

	minDist := int(math.Floor(cfg.MinDistanceSec * fs))
	valid := []int{}
	if len(candidates) > 0 {
		held := candidates[0]
		for _, c := range candidates[1:] {
			if c-held < minDist {
				if y[c] > y[held] {
					held = c
				}
				continue
			}
			valid = append(valid, held)
			held = c
		}
		valid = append(valid, held)
	}

	return Peaks{Candidates: candidates, Valid: valid, MAD: norm.MAD}
}
