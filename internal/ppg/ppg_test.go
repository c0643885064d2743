package ppg

import (
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pulse.report/internal/testutil"
)

var sine = testutil.Sine

func peakAbs(v []float64) float64 {
	m := 0.0
	for _, x := range v {
		m = math.Max(m, math.Abs(x))
	}
	return m
}

func TestBandpass_EmptyInput(t *testing.T) {
	out := Bandpass(nil, 50, 0.7, 4.0)
	require.NotNil(t, out)
	assert.Len(t, out, 0)
}

func TestBandpass_PreservesLength(t *testing.T) {
	in := sine(1.2, 50, 3)
	out := Bandpass(in, 50, 0.7, 4.0)
	assert.Len(t, out, len(in))
}

func TestBandpass_Passband(t *testing.T) {
	t.Parallel()

	in := sine(1.2, 50, 30)
	out := Bandpass(in, 50, 0.7, 4.0)
	// Measure after the filter has settled.
	amp := peakAbs(out[len(out)-100:])
	assert.InDelta(t, 0.93, amp, 0.12, "1.2 Hz should pass nearly unattenuated")
}

func TestBandpass_Stopbands(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []float64
		max  float64
	}{
		{"dc offset", func() []float64 {
			v := make([]float64, 50*30)
			for i := range v {
				v[i] = 3.0
			}
			return v
		}(), 0.01},
		{"high frequency", sine(15, 50, 30), 0.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Bandpass(tt.in, 50, 0.7, 4.0)
			assert.Less(t, peakAbs(out[len(out)-100:]), tt.max)
		})
	}
}

func TestBandpass_StateResetsPerCall(t *testing.T) {
	in := sine(1.0, 50, 4)
	first := Bandpass(in, 50, 0.7, 4.0)
	second := Bandpass(in, 50, 0.7, 4.0)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("Bandpass is not pure (-first +second):\n%s", diff)
	}
}

func TestInvert(t *testing.T) {
	got := Invert([]float64{1, -2, 0})
	if diff := cmp.Diff([]float64{-1, 2, 0}, got); diff != "" {
		t.Errorf("Invert mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name       string
		in         []float64
		wantMedian float64
		wantMAD    float64
		wantData   []float64
	}{
		{
			name:     "empty",
			in:       nil,
			wantData: []float64{},
		},
		{
			name:       "constant window falls back to unit scale",
			in:         []float64{4, 4, 4, 4},
			wantMedian: 4,
			wantMAD:    0,
			wantData:   []float64{0, 0, 0, 0},
		},
		{
			name:       "odd length",
			in:         []float64{1, 2, 3, 4, 100},
			wantMedian: 3,
			wantMAD:    MADScale,
			wantData:   []float64{-2 / MADScale, -1 / MADScale, 0, 1 / MADScale, 97 / MADScale},
		},
		{
			name:       "even length uses upper middle",
			in:         []float64{4, 1, 3, 2},
			wantMedian: 3,
			wantMAD:    MADScale,
			wantData:   []float64{1 / MADScale, -2 / MADScale, 0, -1 / MADScale},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.in)
			assert.Equal(t, tt.wantMedian, got.Median)
			assert.InDelta(t, tt.wantMAD, got.MAD, 1e-12)
			require.Len(t, got.Data, len(tt.wantData))
			for i := range tt.wantData {
				assert.InDelta(t, tt.wantData[i], got.Data[i], 1e-12, "index %d", i)
			}
		})
	}
}

func TestNormalize_DoesNotMutateInput(t *testing.T) {
	in := []float64{5, 1, 3}
	Normalize(in)
	assert.Equal(t, []float64{5, 1, 3}, in)
}

func TestDetectPeaks_ShortWindows(t *testing.T) {
	for _, in := range [][]float64{nil, {1}} {
		p := DetectPeaks(in, 50, DefaultPeakConfig())
		assert.Empty(t, p.Candidates)
		assert.Empty(t, p.Valid)
	}
}

func TestDetectPeaks_Sine(t *testing.T) {
	cfg := DefaultPeakConfig()
	p := DetectPeaks(sine(1, 50, 8), 50, cfg)

	require.Len(t, p.Valid, 8)
	minDist := int(math.Floor(cfg.MinDistanceSec * 50))
	for i := 1; i < len(p.Valid); i++ {
		gap := p.Valid[i] - p.Valid[i-1]
		assert.GreaterOrEqual(t, gap, minDist)
		assert.InDelta(t, 50, gap, 1)
	}
	assert.Greater(t, p.MAD, 0.0)
}

func TestDetectPeaks_RefractoryDedup(t *testing.T) {
	spikes := func(at map[int]float64) []float64 {
		w := make([]float64, 40)
		for i, v := range at {
			w[i] = v
		}
		return w
	}

	tests := []struct {
		name      string
		window    []float64
		wantCands []int
		wantValid []int
	}{
		{"later higher replaces held", spikes(map[int]float64{10: 5, 14: 8, 35: 6}), []int{10, 14, 35}, []int{14, 35}},
		{"later lower is dropped", spikes(map[int]float64{10: 8, 14: 5, 35: 6}), []int{10, 14, 35}, []int{10, 35}},
		{"conflict with replaced peak", spikes(map[int]float64{10: 5, 14: 8, 30: 6}), []int{10, 14, 30}, []int{14}},
		{"plateau keeps first sample", spikes(map[int]float64{20: 5, 21: 5}), []int{20}, []int{20}},
		{"below threshold", spikes(map[int]float64{20: 0.3}), []int{}, []int{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DetectPeaks(tt.window, 50, DefaultPeakConfig())
			if diff := cmp.Diff(tt.wantCands, p.Candidates); diff != "" {
				t.Errorf("candidates (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantValid, p.Valid); diff != "" {
				t.Errorf("valid (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReadSamples(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    []float64
		wantErr bool
	}{
		{"single column", "1.5\n2.5\n-3\n", []float64{1.5, 2.5, -3}, false},
		{"header and last column", "time,ppg\n0,10\n0.02, 11\n", []float64{10, 11}, false},
		{"comments and blank lines", "# device A\n1\n\n2\n", []float64{1, 2}, false},
		{"bad value after header", "1\nx\n", nil, true},
		{"empty", "", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadSamples(strings.NewReader(tt.in))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ReadSamples (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReadSamples_EmptyIsErrNoSamples(t *testing.T) {
	_, err := ReadSamples(strings.NewReader("# nothing\n"))
	assert.ErrorIs(t, err, ErrNoSamples)
}

func TestDominantBPM(t *testing.T) {
	bpm, ok := DominantBPM(sine(1.25, 50, 8), 50, 0.7, 4)
	require.True(t, ok)
	assert.InDelta(t, 75, bpm, 0.5, "on-bin tone")

	bpm, ok = DominantBPM(sine(1.2, 50, 8), 50, 0.7, 4)
	require.True(t, ok)
	assert.InDelta(t, 72, bpm, 3, "between bins")

	_, ok = DominantBPM(make([]float64, 400), 50, 0.7, 4)
	assert.False(t, ok, "flat window")
	_, ok = DominantBPM([]float64{1, 2}, 50, 0.7, 4)
	assert.False(t, ok)
	_, ok = DominantBPM(sine(1, 50, 8), 0, 0.7, 4)
	assert.False(t, ok)
}
