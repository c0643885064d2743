// Package vitals grades heart rate and SDNN readings for display.
package vitals

import (
	"fmt"
	"strings"

	"github.com/banshee-data/pulse.report/internal/hrv"
)

// Color is the display severity of a reading.
type Color string

const (
	ColorOK     Color = "ok"
	ColorWarn   Color = "warn"
	ColorDanger Color = "danger"
	ColorMuted  Color = "muted"
)

// Warning tokens.
const (
	WarningSignalInvalid = "signal_invalid"
	WarningHRVInvalid    = "hrv_invalid"
)

// Activity selects the threshold set.
type Activity string

const (
	Resting Activity = "resting"
	Active  Activity = "active"
)

// ParseActivity maps a query or flag value to an Activity. Empty means
// Resting.
func ParseActivity(s string) (Activity, error) {
	switch Activity(strings.ToLower(strings.TrimSpace(s))) {
	case "", Resting:
		return Resting, nil
	case Active:
		return Active, nil
	}
	return "", fmt.Errorf("unknown activity %q", s)
}

// Thresholds are the grading bands for one Activity.
type Thresholds struct {
	BPMLow        float64 // below: danger "Low"
	BPMHigh       float64 // above: "High", warn up to BPMDangerHigh
	BPMDangerHigh float64

	SDNNDanger  float64 // below: danger "Very Low"
	SDNNWarn    float64 // below: warn "Low"
	SDNNHigh    float64 // at or above: "High (Good)"
	SDNNInvalid float64 // above: invalid
}

// DefaultThresholds holds the bands for each Activity.
var DefaultThresholds = map[Activity]Thresholds{
	Resting: {BPMLow: 50, BPMHigh: 90, BPMDangerHigh: 100, SDNNDanger: 20, SDNNWarn: 50, SDNNHigh: 100, SDNNInvalid: 500},
	Active:  {BPMLow: 60, BPMHigh: 160, BPMDangerHigh: 160, SDNNDanger: 20, SDNNWarn: 50, SDNNHigh: 100, SDNNInvalid: 500},
}

// Limits are the plausibility bounds shared with the analysis pipeline.
type Limits struct {
	BPMMin float64
	BPMMax float64
	// MinNN is the interval count below which SDNN is still collecting.
	MinNN int
}

// DefaultLimits matches the pipeline defaults.
func DefaultLimits() Limits { return Limits{BPMMin: 30, BPMMax: 240, MinNN: 30} }

// Input is one reading to grade.
type Input struct {
	BPM      hrv.Value
	SDNN     hrv.Value
	NNCount  int
	Activity Activity
}

// Status is the graded reading.
type Status struct {
	BPMColor  Color    `json:"bpmColor"`
	BPMLabel  string   `json:"bpmLabel"`
	SDNNColor Color    `json:"sdnnColor"`
	SDNNLabel string   `json:"sdnnLabel"`
	Warnings  []string `json:"warnings"`
}

// Classify grades in against the thresholds for its Activity.
func Classify(in Input, lim Limits) Status {
	th, ok := DefaultThresholds[in.Activity]
	if !ok {
		th = DefaultThresholds[Resting]
	}
	st := Status{Warnings: []string{}}

	switch bpm := in.BPM.V; {
	case !in.BPM.OK || bpm == 0:
		st.BPMColor, st.BPMLabel = ColorMuted, "Analyzing..."
	case bpm < lim.BPMMin || bpm > lim.BPMMax:
		st.BPMColor, st.BPMLabel = ColorMuted, "Inv"
		st.Warnings = append(st.Warnings, WarningSignalInvalid)
	case bpm < th.BPMLow:
		st.BPMColor, st.BPMLabel = ColorDanger, "Low"
	case bpm > th.BPMHigh:
		st.BPMColor, st.BPMLabel = ColorWarn, "High"
		if bpm > th.BPMDangerHigh {
			st.BPMColor = ColorDanger
		}
	default:
		st.BPMColor, st.BPMLabel = ColorOK, "Normal"
	}

	switch sdnn := in.SDNN.V; {
	case !in.SDNN.OK || in.NNCount < lim.MinNN:
		st.SDNNColor, st.SDNNLabel = ColorMuted, "Collecting..."
	case sdnn < 0 || sdnn > th.SDNNInvalid:
		st.SDNNColor, st.SDNNLabel = ColorMuted, "Inv"
		st.Warnings = append(st.Warnings, WarningHRVInvalid)
	case sdnn >= th.SDNNHigh:
		st.SDNNColor, st.SDNNLabel = ColorOK, "High (Good)"
	case sdnn >= th.SDNNWarn:
		st.SDNNColor, st.SDNNLabel = ColorOK, "Normal"
	case sdnn >= th.SDNNDanger:
		st.SDNNColor, st.SDNNLabel = ColorWarn, "Low"
	default:
		st.SDNNColor, st.SDNNLabel = ColorDanger, "Very Low"
	}
	return st
}
