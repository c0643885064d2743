// Package testutil provides shared test helpers: synthetic waveforms and
// HTTP round trips against a handler.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

// Sine samples sin(2π·freq·t) at fs Hz for the given duration.
func Sine(freq, fs, seconds float64) []float64 {
	n := int(fs * seconds)
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Sin(2 * math.Pi * freq * float64(i) / fs)
	}
	return out
}

// PulseTrain samples a PPG-like waveform at fs Hz: a narrow Gaussian pulse
// every 60/bpm seconds on a flat baseline.
func PulseTrain(bpm, fs, seconds float64) []float64 {
	n := int(fs * seconds)
	period := 60 / bpm
	width := period / 10
	out := make([]float64, n)
	for i := range out {
		t := float64(i) / fs
		phase := math.Mod(t, period) - period/2
		out[i] = math.Exp(-(phase * phase) / (2 * width * width))
	}
	return out
}

// Reporter is the part of testing.TB that AssertStatusCode reports through.
type Reporter interface {
	Helper()
	Errorf(format string, args ...any)
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t Reporter, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// Serve sends method path to h, with body JSON-encoded when non-nil.
func Serve(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// DecodeJSON decodes the recorder body into a T.
func DecodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}
