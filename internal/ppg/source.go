package ppg

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ErrNoSamples is returned when a source contains no numeric samples.
var ErrNoSamples = errors.New("no samples in source")

// ReadSamples parses a recorded waveform. Each non-empty line is one sample;
// when a line has several comma separated columns the last one is the
// amplitude. Lines starting with '#' and a non-numeric header row are skipped.
func ReadSamples(r io.Reader) ([]float64, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var samples []float64
	line := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read samples: %w", err)
		}
		line++
		if len(rec) == 0 {
			continue
		}
		field := strings.TrimSpace(rec[len(rec)-1])
		if field == "" {
			continue
		}
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			if line == 1 {
				continue // header
			}
			return nil, fmt.Errorf("line %d: invalid sample %q: %w", line, field, err)
		}
		samples = append(samples, v)
	}
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}
	return samples, nil
}

// LoadSamples reads a waveform file from disk.
func LoadSamples(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sample file: %w", err)
	}
	defer f.Close()
	return ReadSamples(f)
}
