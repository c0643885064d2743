package hrv

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func TestValidator(t *testing.T) {
	v := DefaultValidator()

	tests := []struct {
		name     string
		ibi      float64
		baseline *float64
		want     bool
	}{
		{"below hard minimum", 250, nil, false},
		{"above hard maximum", 2100, nil, false},
		{"below minimum even near baseline", 250, ptr(260), false},
		{"above maximum even near baseline", 2100, ptr(2050), false},
		{"minimum inclusive", 300, nil, true},
		{"maximum inclusive", 2000, nil, true},
		{"no baseline accepts large jump", 1100, nil, true},
		{"zero baseline is ignored", 1100, ptr(0), true},
		{"more than 30% above baseline", 1100, ptr(800), false},
		{"exactly 30% above baseline", 1040, ptr(800), true},
		{"exactly 30% below baseline", 560, ptr(800), true},
		{"just over 30% below baseline", 559, ptr(800), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, v.Valid(tt.ibi, tt.baseline))
		})
	}
}

func TestCompute_KnownSeries(t *testing.T) {
	m := Compute([]float64{800, 850, 780, 900}, DiscreteMinSamples())

	require.True(t, m.RMSSD.OK)
	require.True(t, m.SDNN.OK)
	require.True(t, m.PNN50.OK)
	assert.InDelta(t, math.Sqrt(21800.0/3), m.RMSSD.V, 1e-9)
	assert.InDelta(t, math.Sqrt(8675.0/3), m.SDNN.V, 1e-9)
	assert.InDelta(t, 200.0/3, m.PNN50.V, 1e-9)
	assert.Equal(t, 4, m.SampleCount)
}

func TestCompute_IdenticalIntervalsAreZeroNotUnavailable(t *testing.T) {
	intervals := make([]float64, 30)
	for i := range intervals {
		intervals[i] = 800
	}
	m := Compute(intervals, WindowedMinSamples())

	assert.Equal(t, Some(0), m.RMSSD)
	assert.Equal(t, Some(0), m.SDNN)
	assert.Equal(t, Some(0), m.PNN50)
}

func TestCompute_Gating(t *testing.T) {
	tests := []struct {
		name      string
		n         int
		wantRMSSD bool
		wantSDNN  bool
		wantPNN50 bool
	}{
		{"empty", 0, false, false, false},
		{"single", 1, false, false, false},
		{"below rmssd gate", 19, false, false, false},
		{"rmssd and pnn50 ready", 20, true, false, true},
		{"all ready", 30, true, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intervals := make([]float64, tt.n)
			for i := range intervals {
				intervals[i] = 800 + float64(i%3)*20
			}
			m := Compute(intervals, WindowedMinSamples())
			assert.Equal(t, tt.wantRMSSD, m.RMSSD.OK, "rmssd")
			assert.Equal(t, tt.wantSDNN, m.SDNN.OK, "sdnn")
			assert.Equal(t, tt.wantPNN50, m.PNN50.OK, "pnn50")
			assert.Equal(t, tt.n, m.SampleCount)
		})
	}
}

func TestHistory_EvictsOldest(t *testing.T) {
	h := NewHistory(3)
	for _, v := range []float64{1, 2, 3, 4, 5} {
		h.Push(v)
	}
	if diff := cmp.Diff([]float64{3, 4, 5}, h.Values()); diff != "" {
		t.Errorf("history (-want +got):\n%s", diff)
	}
	last, ok := h.Last()
	assert.True(t, ok)
	assert.Equal(t, 5.0, last)
	assert.Equal(t, 3, h.Cap())
}

func TestHistory_Median(t *testing.T) {
	h := NewHistory(10)
	assert.Nil(t, h.Median())

	for _, v := range []float64{4, 1, 3, 2} {
		h.Push(v)
	}
	require.NotNil(t, h.Median())
	assert.Equal(t, 3.0, *h.Median())
}

func TestHistory_CloneIsIndependent(t *testing.T) {
	h := NewHistory(4)
	h.Push(800)
	c := h.Clone()
	c.Push(900)
	h.Reset()

	assert.Equal(t, 0, h.Len())
	assert.Equal(t, []float64{800, 900}, c.Values())
}

func TestValue_JSON(t *testing.T) {
	b, err := json.Marshal(Metrics{RMSSD: Some(42.5), SampleCount: 3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"rmssd":42.5,"sdnn":null,"pnn50":null,"sampleCount":3}`, string(b))

	var m Metrics
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, Some(42.5), m.RMSSD)
	assert.Equal(t, Unavailable, m.SDNN)
}

func TestValue_OrAndRound(t *testing.T) {
	assert.Equal(t, 7.0, Unavailable.Or(7))
	assert.Equal(t, 2.0, Some(2).Or(7))
	assert.InDelta(t, 85.2, Some(85.2447).Round(0.1).V, 1e-9)
	assert.Equal(t, Unavailable, Unavailable.Round(0.1))
}

func TestCalculator_AddBeat(t *testing.T) {
	c := NewCalculator(DefaultValidator(), DefaultCalculatorCapacity)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.False(t, c.AddBeat(t0), "first beat only seeds the timestamp")
	assert.True(t, c.AddBeat(t0.Add(800*time.Millisecond)))
	assert.True(t, c.AddBeat(t0.Add(1650*time.Millisecond)))
	// 200 ms is below the hard minimum but still advances the last beat.
	assert.False(t, c.AddBeat(t0.Add(1850*time.Millisecond)))
	assert.True(t, c.AddBeat(t0.Add(2650*time.Millisecond)))

	if diff := cmp.Diff([]float64{800, 850, 800}, c.Intervals()); diff != "" {
		t.Errorf("intervals (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, c.Rejected())
}

func TestCalculator_Metrics(t *testing.T) {
	c := NewCalculator(DefaultValidator(), DefaultCalculatorCapacity)

	c.AddInterval(800)
	m := c.Metrics()
	assert.False(t, m.RMSSD.OK, "one sample is not enough")
	assert.Equal(t, 1, m.SampleCount)

	c.AddInterval(850)
	c.AddInterval(780)
	c.AddInterval(900)
	m = c.Metrics()
	assert.InDelta(t, 85.2, m.RMSSD.V, 1e-9)
	assert.InDelta(t, 53.8, m.SDNN.V, 1e-9)
	assert.InDelta(t, 66.7, m.PNN50.V, 1e-9)
}

func TestCalculator_BoundsAndCapacity(t *testing.T) {
	c := NewCalculator(DefaultValidator(), 4)
	assert.False(t, c.AddInterval(250))
	assert.False(t, c.AddInterval(2100))
	for i := 0; i < 6; i++ {
		c.AddInterval(700 + float64(i))
	}
	if diff := cmp.Diff([]float64{702, 703, 704, 705}, c.Intervals()); diff != "" {
		t.Errorf("intervals (-want +got):\n%s", diff)
	}

	c.Reset()
	assert.Empty(t, c.Intervals())
	assert.Equal(t, 0, c.Rejected())
	assert.False(t, c.AddBeat(time.Now()), "reset clears the last beat")
}
