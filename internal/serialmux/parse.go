package serialmux

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Line types emitted by the heart rate bridge firmware.
const (
	LineTypeHRM     = "hrm"     // "HRM <hex>": one Heart Rate Measurement notification
	LineTypeStatus  = "status"  // "# ...": connection and firmware status
	LineTypeUnknown = "unknown" // anything else
)

// HRMPrefix starts every measurement line.
const HRMPrefix = "HRM "

// ClassifyLine returns the line type token for a bridge line.
func ClassifyLine(line string) string {
	line = strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(line, HRMPrefix):
		return LineTypeHRM
	case strings.HasPrefix(line, "#"):
		return LineTypeStatus
	default:
		return LineTypeUnknown
	}
}

// ParseHRMLine extracts the raw characteristic bytes from a measurement
// line. Spaces inside the hex payload are ignored.
func ParseHRMLine(line string) ([]byte, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, HRMPrefix) {
		return nil, fmt.Errorf("not a measurement line: %q", line)
	}
	hexPayload := strings.ReplaceAll(line[len(HRMPrefix):], " ", "")
	b, err := hex.DecodeString(hexPayload)
	if err != nil {
		return nil, fmt.Errorf("invalid measurement payload %q: %w", hexPayload, err)
	}
	return b, nil
}
