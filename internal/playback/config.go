package playback

import (
	"fmt"
	"time"

	"github.com/banshee-data/pulse.report/internal/hrv"
	"github.com/banshee-data/pulse.report/internal/ppg"
)

// Config holds every tunable of the windowed waveform pipeline.
type Config struct {
	FS            float64 // sample rate, Hz
	WindowSeconds float64 // analysis window length
	FcLow         float64 // highpass corner, Hz
	FcHigh        float64 // lowpass corner, Hz
	Invert        bool    // negate the source before filtering

	Peaks      ppg.PeakConfig
	Validator  hrv.Validator
	NNTarget   int // NNHistory capacity
	MinSamples hrv.MinSamples

	HRVUpdate        time.Duration // analytics throttle
	DisplayUpdate    time.Duration // waveform throttle
	MaxDisplayPoints int

	EMAAlpha float64
	// BPMMin and BPMMax bound a publishable instantaneous heart rate.
	BPMMin float64
	BPMMax float64
}

// DefaultConfig returns the defaults for a 50 Hz fingertip PPG recording.
func DefaultConfig() Config {
	return Config{
		FS:               50,
		WindowSeconds:    8,
		FcLow:            0.7,
		FcHigh:           4.0,
		Invert:           true,
		Peaks:            ppg.DefaultPeakConfig(),
		Validator:        hrv.DefaultValidator(),
		NNTarget:         30,
		MinSamples:       hrv.WindowedMinSamples(),
		HRVUpdate:        500 * time.Millisecond,
		DisplayUpdate:    100 * time.Millisecond,
		MaxDisplayPoints: 1500,
		EMAAlpha:         0.15,
		BPMMin:           30,
		BPMMax:           240,
	}
}

// WindowLen is the analysis window length in samples.
func (c Config) WindowLen() int {
	return int(c.WindowSeconds * c.FS)
}

// Validate reports the first out-of-range parameter.
func (c Config) Validate() error {
	if c.FS <= 0 {
		return fmt.Errorf("fs must be positive, got %g", c.FS)
	}
	if c.WindowLen() < 3 {
		return fmt.Errorf("window of %gs at %g Hz is shorter than 3 samples", c.WindowSeconds, c.FS)
	}
	if c.FcLow <= 0 || c.FcLow >= c.FcHigh {
		return fmt.Errorf("filter corners must satisfy 0 < fc_low < fc_high, got %g/%g", c.FcLow, c.FcHigh)
	}
	if c.FcHigh >= c.FS/2 {
		return fmt.Errorf("fc_high %g must be below Nyquist (%g)", c.FcHigh, c.FS/2)
	}
	if c.Peaks.MinDistanceSec < 0 {
		return fmt.Errorf("peak_min_distance_sec must be non-negative, got %g", c.Peaks.MinDistanceSec)
	}
	if c.Validator.MinMs <= 0 || c.Validator.MinMs >= c.Validator.MaxMs {
		return fmt.Errorf("ibi bounds must satisfy 0 < min < max, got %g/%g", c.Validator.MinMs, c.Validator.MaxMs)
	}
	if c.Validator.MaxDeviation <= 0 {
		return fmt.Errorf("outlier_deviation must be positive, got %g", c.Validator.MaxDeviation)
	}
	if c.NNTarget < 2 {
		return fmt.Errorf("nn_target must be at least 2, got %d", c.NNTarget)
	}
	if c.HRVUpdate < 0 || c.DisplayUpdate < 0 {
		return fmt.Errorf("update intervals must be non-negative")
	}
	if c.EMAAlpha <= 0 || c.EMAAlpha > 1 {
		return fmt.Errorf("ema_alpha must be in (0, 1], got %g", c.EMAAlpha)
	}
	if c.BPMMin <= 0 || c.BPMMin >= c.BPMMax {
		return fmt.Errorf("bpm range must satisfy 0 < min < max, got %g/%g", c.BPMMin, c.BPMMax)
	}
	return nil
}

// filterChanged reports whether switching from c to o requires refiltering.
func (c Config) filterChanged(o Config) bool {
	return c.FS != o.FS || c.FcLow != o.FcLow || c.FcHigh != o.FcHigh || c.Invert != o.Invert
}
