package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/pulse.report/internal/hrv"
	"github.com/banshee-data/pulse.report/internal/playback"
	"github.com/banshee-data/pulse.report/internal/ppg"
	"github.com/banshee-data/pulse.report/internal/serialmux"
	"github.com/banshee-data/pulse.report/internal/vitals"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/pulse.defaults.json"

// maxFileSize caps tuning files at 1MB.
const maxFileSize = 1 * 1024 * 1024

// TuningConfig is the on-disk tuning file. Every field is optional; the Get*
// methods supply defaults for anything omitted, so partial files are safe.
type TuningConfig struct {
	// Waveform pipeline
	FS            *float64 `json:"fs,omitempty" yaml:"fs,omitempty"`
	WindowSeconds *float64 `json:"window_seconds,omitempty" yaml:"window_seconds,omitempty"`
	FcLow         *float64 `json:"fc_low,omitempty" yaml:"fc_low,omitempty"`
	FcHigh        *float64 `json:"fc_high,omitempty" yaml:"fc_high,omitempty"`
	Invert        *bool    `json:"invert,omitempty" yaml:"invert,omitempty"`

	PeakMinDistanceSec *float64 `json:"peak_min_distance_sec,omitempty" yaml:"peak_min_distance_sec,omitempty"`
	PeakThresholdK     *float64 `json:"peak_threshold_k,omitempty" yaml:"peak_threshold_k,omitempty"`

	// Interval validation and HRV
	IBIMinMs         *float64 `json:"ibi_min_ms,omitempty" yaml:"ibi_min_ms,omitempty"`
	IBIMaxMs         *float64 `json:"ibi_max_ms,omitempty" yaml:"ibi_max_ms,omitempty"`
	OutlierDeviation *float64 `json:"outlier_deviation,omitempty" yaml:"outlier_deviation,omitempty"`
	NNTarget         *int     `json:"nn_target,omitempty" yaml:"nn_target,omitempty"`
	RMSSDMinSamples  *int     `json:"rmssd_min_samples,omitempty" yaml:"rmssd_min_samples,omitempty"`
	SDNNMinSamples   *int     `json:"sdnn_min_samples,omitempty" yaml:"sdnn_min_samples,omitempty"`
	PNN50MinSamples  *int     `json:"pnn50_min_samples,omitempty" yaml:"pnn50_min_samples,omitempty"`

	// Cadence, as duration strings like "500ms"
	HRVUpdate     *string `json:"hrv_update,omitempty" yaml:"hrv_update,omitempty"`
	DisplayUpdate *string `json:"display_update,omitempty" yaml:"display_update,omitempty"`
	TickInterval  *string `json:"tick_interval,omitempty" yaml:"tick_interval,omitempty"`

	MaxDisplayPoints *int `json:"max_display_points,omitempty" yaml:"max_display_points,omitempty"`

	// Heart rate smoothing and plausibility
	EMAAlpha *float64 `json:"ema_alpha,omitempty" yaml:"ema_alpha,omitempty"`
	BPMMin   *float64 `json:"bpm_min,omitempty" yaml:"bpm_min,omitempty"`
	BPMMax   *float64 `json:"bpm_max,omitempty" yaml:"bpm_max,omitempty"`

	// Live device path
	TrendPoints       *int    `json:"trend_points,omitempty" yaml:"trend_points,omitempty"`
	ReconnectInterval *string `json:"reconnect_interval,omitempty" yaml:"reconnect_interval,omitempty"`
	DemoInterval      *string `json:"demo_interval,omitempty" yaml:"demo_interval,omitempty"`
	Activity          *string `json:"activity,omitempty" yaml:"activity,omitempty"`

	Serial *serialmux.PortOptions `json:"serial,omitempty" yaml:"serial,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field populated from
// the built-in defaults.
func DefaultTuningConfig() *TuningConfig {
	p := playback.DefaultConfig()
	serial := serialmux.PortOptions{}
	serial, _ = serial.Normalize()
	return &TuningConfig{
		FS:                 ptrFloat64(p.FS),
		WindowSeconds:      ptrFloat64(p.WindowSeconds),
		FcLow:              ptrFloat64(p.FcLow),
		FcHigh:             ptrFloat64(p.FcHigh),
		Invert:             ptrBool(p.Invert),
		PeakMinDistanceSec: ptrFloat64(p.Peaks.MinDistanceSec),
		PeakThresholdK:     ptrFloat64(p.Peaks.ThresholdK),
		IBIMinMs:           ptrFloat64(p.Validator.MinMs),
		IBIMaxMs:           ptrFloat64(p.Validator.MaxMs),
		OutlierDeviation:   ptrFloat64(p.Validator.MaxDeviation),
		NNTarget:           ptrInt(p.NNTarget),
		RMSSDMinSamples:    ptrInt(p.MinSamples.RMSSD),
		SDNNMinSamples:     ptrInt(p.MinSamples.SDNN),
		PNN50MinSamples:    ptrInt(p.MinSamples.PNN50),
		HRVUpdate:          ptrString(p.HRVUpdate.String()),
		DisplayUpdate:      ptrString(p.DisplayUpdate.String()),
		TickInterval:       ptrString(playback.DefaultTickInterval.String()),
		MaxDisplayPoints:   ptrInt(p.MaxDisplayPoints),
		EMAAlpha:           ptrFloat64(p.EMAAlpha),
		BPMMin:             ptrFloat64(p.BPMMin),
		BPMMax:             ptrFloat64(p.BPMMax),
		TrendPoints:        ptrInt(defaultTrendPoints),
		ReconnectInterval:  ptrString(defaultReconnectInterval.String()),
		DemoInterval:       ptrString(defaultDemoInterval.String()),
		Activity:           ptrString(string(vitals.Resting)),
		Serial:             &serial,
	}
}

const (
	defaultTrendPoints       = 300
	defaultReconnectInterval = 5 * time.Second
	defaultDemoInterval      = time.Second
)

// LoadTuningConfig loads a TuningConfig from a .json, .yaml or .yml file
// under 1MB and validates it.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", filepath.Base(cleanPath), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching parent
// directories so it works from package test directories. Panics if the file
// cannot be loaded; intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	durations := []struct {
		name string
		v    *string
	}{
		{"hrv_update", c.HRVUpdate},
		{"display_update", c.DisplayUpdate},
		{"tick_interval", c.TickInterval},
		{"reconnect_interval", c.ReconnectInterval},
		{"demo_interval", c.DemoInterval},
	}
	for _, d := range durations {
		if d.v == nil || *d.v == "" {
			continue
		}
		parsed, err := time.ParseDuration(*d.v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.v, err)
		}
		if parsed < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", d.name, *d.v)
		}
	}

	if c.TickInterval != nil && c.GetTickInterval() == 0 {
		return fmt.Errorf("tick_interval must be positive")
	}
	if c.MaxDisplayPoints != nil && *c.MaxDisplayPoints < 2 {
		return fmt.Errorf("max_display_points must be at least 2, got %d", *c.MaxDisplayPoints)
	}
	if c.TrendPoints != nil && *c.TrendPoints < 1 {
		return fmt.Errorf("trend_points must be positive, got %d", *c.TrendPoints)
	}
	if c.Activity != nil {
		if _, err := vitals.ParseActivity(*c.Activity); err != nil {
			return err
		}
	}
	if c.Serial != nil {
		if _, err := c.Serial.Normalize(); err != nil {
			return fmt.Errorf("serial: %w", err)
		}
	}
	return c.Pipeline().Validate()
}

func getFloat(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func getInt(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func getDuration(p *string, def time.Duration) time.Duration {
	if p == nil || *p == "" {
		return def
	}
	d, err := time.ParseDuration(*p)
	if err != nil {
		return def
	}
	return d
}

// GetFS returns the waveform sample rate in Hz.
func (c *TuningConfig) GetFS() float64 {
	return getFloat(c.FS, playback.DefaultConfig().FS)
}

// GetInvert returns whether the source is negated before filtering.
func (c *TuningConfig) GetInvert() bool {
	if c.Invert == nil {
		return playback.DefaultConfig().Invert
	}
	return *c.Invert
}

func (c *TuningConfig) GetTickInterval() time.Duration {
	return getDuration(c.TickInterval, playback.DefaultTickInterval)
}

func (c *TuningConfig) GetTrendPoints() int {
	return getInt(c.TrendPoints, defaultTrendPoints)
}

func (c *TuningConfig) GetReconnectInterval() time.Duration {
	return getDuration(c.ReconnectInterval, defaultReconnectInterval)
}

func (c *TuningConfig) GetDemoInterval() time.Duration {
	return getDuration(c.DemoInterval, defaultDemoInterval)
}

// GetActivity returns the vitals threshold set; invalid values fall back to
// resting.
func (c *TuningConfig) GetActivity() vitals.Activity {
	if c.Activity == nil {
		return vitals.Resting
	}
	a, err := vitals.ParseActivity(*c.Activity)
	if err != nil {
		return vitals.Resting
	}
	return a
}

// GetSerial returns the normalised serial port options.
func (c *TuningConfig) GetSerial() serialmux.PortOptions {
	var opts serialmux.PortOptions
	if c.Serial != nil {
		opts = *c.Serial
	}
	normalized, err := opts.Normalize()
	if err != nil {
		normalized, _ = serialmux.PortOptions{}.Normalize()
	}
	return normalized
}

// Validator returns the interval bounds shared by both analysis paths.
func (c *TuningConfig) Validator() hrv.Validator {
	d := hrv.DefaultValidator()
	return hrv.Validator{
		MinMs:        getFloat(c.IBIMinMs, d.MinMs),
		MaxMs:        getFloat(c.IBIMaxMs, d.MaxMs),
		MaxDeviation: getFloat(c.OutlierDeviation, d.MaxDeviation),
	}
}

// Pipeline builds the waveform pipeline configuration.
func (c *TuningConfig) Pipeline() playback.Config {
	d := playback.DefaultConfig()
	return playback.Config{
		FS:            c.GetFS(),
		WindowSeconds: getFloat(c.WindowSeconds, d.WindowSeconds),
		FcLow:         getFloat(c.FcLow, d.FcLow),
		FcHigh:        getFloat(c.FcHigh, d.FcHigh),
		Invert:        c.GetInvert(),
		Peaks: ppg.PeakConfig{
			MinDistanceSec: getFloat(c.PeakMinDistanceSec, d.Peaks.MinDistanceSec),
			ThresholdK:     getFloat(c.PeakThresholdK, d.Peaks.ThresholdK),
		},
		Validator: c.Validator(),
		NNTarget:  getInt(c.NNTarget, d.NNTarget),
		MinSamples: hrv.MinSamples{
			RMSSD: getInt(c.RMSSDMinSamples, d.MinSamples.RMSSD),
			SDNN:  getInt(c.SDNNMinSamples, d.MinSamples.SDNN),
			PNN50: getInt(c.PNN50MinSamples, d.MinSamples.PNN50),
		},
		HRVUpdate:        getDuration(c.HRVUpdate, d.HRVUpdate),
		DisplayUpdate:    getDuration(c.DisplayUpdate, d.DisplayUpdate),
		MaxDisplayPoints: getInt(c.MaxDisplayPoints, d.MaxDisplayPoints),
		EMAAlpha:         getFloat(c.EMAAlpha, d.EMAAlpha),
		BPMMin:           getFloat(c.BPMMin, d.BPMMin),
		BPMMax:           getFloat(c.BPMMax, d.BPMMax),
	}
}

// Limits returns the vitals plausibility bounds, tied to the pipeline's BPM
// range and NN history target.
func (c *TuningConfig) Limits() vitals.Limits {
	p := c.Pipeline()
	return vitals.Limits{BPMMin: p.BPMMin, BPMMax: p.BPMMax, MinNN: p.NNTarget}
}
