// Package hrv validates inter-beat intervals and computes time-domain heart
// rate variability statistics (RMSSD, SDNN, pNN50) over bounded histories.
package hrv

import (
	"bytes"
	"encoding/json"
	"math"
)

// Value is a metric that may not have enough data behind it yet. An
// unavailable value is distinct from a computed zero and encodes as JSON null.
type Value struct {
	V  float64
	OK bool
}

// Unavailable is the zero Value.
var Unavailable = Value{}

// Some wraps a computed value.
func Some(v float64) Value { return Value{V: v, OK: true} }

// Or returns the value, or def when unavailable.
func (v Value) Or(def float64) float64 {
	if !v.OK {
		return def
	}
	return v.V
}

// Round returns v rounded to the nearest multiple of step.
func (v Value) Round(step float64) Value {
	if !v.OK || step <= 0 {
		return v
	}
	inv := 1 / step
	return Some(math.Round(v.V*inv) / inv)
}

func (v Value) MarshalJSON() ([]byte, error) {
	if !v.OK {
		return []byte("null"), nil
	}
	return json.Marshal(v.V)
}

func (v *Value) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*v = Unavailable
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*v = Some(f)
	return nil
}
