package hrv

import "math"

// Validator decides whether an inter-beat interval is physiologically
// plausible. The hard bounds always apply; the deviation check only applies
// when a positive baseline is supplied.
type Validator struct {
	MinMs        float64
	MaxMs        float64
	MaxDeviation float64 // fraction of baseline, e.g. 0.3
}

// DefaultValidator accepts 300–2000 ms intervals within 30% of the baseline.
func DefaultValidator() Validator {
	return Validator{MinMs: 300, MaxMs: 2000, MaxDeviation: 0.3}
}

// InBounds reports whether ibiMs lies inside the hard bounds.
func (v Validator) InBounds(ibiMs float64) bool {
	return ibiMs >= v.MinMs && ibiMs <= v.MaxMs
}

// Valid applies both rules. A deviation exactly equal to MaxDeviation is
// accepted.
func (v Validator) Valid(ibiMs float64, baseline *float64) bool {
	if !v.InBounds(ibiMs) {
		return false
	}
	if baseline == nil || *baseline <= 0 {
		return true
	}
	return math.Abs(ibiMs-*baseline)/(*baseline) <= v.MaxDeviation
}
