package session

import (
	"sync"
	"time"

	"github.com/banshee-data/pulse.report/internal/hrv"
)

// mean is a running average of available values only.
type mean struct {
	sum float64
	n   int
}

func (m *mean) add(v hrv.Value) {
	if v.OK {
		m.sum += v.V
		m.n++
	}
}

func (m mean) value() hrv.Value {
	if m.n == 0 {
		return hrv.Unavailable
	}
	return hrv.Some(m.sum / float64(m.n)).Round(0.1)
}

// Accumulator averages the readings published during a session.
type Accumulator struct {
	mu     sync.Mutex
	source string
	start  time.Time
	last   time.Time
	count  int

	bpm, rmssd, sdnn, pnn50 mean
}

// NewAccumulator starts a session at start.
func NewAccumulator(source string, start time.Time) *Accumulator {
	return &Accumulator{source: source, start: start, last: start}
}

// Add folds one reading in. Unavailable values do not count towards their
// average.
func (a *Accumulator) Add(at time.Time, bpm hrv.Value, m hrv.Metrics) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bpm.add(bpm)
	a.rmssd.add(m.RMSSD)
	a.sdnn.add(m.SDNN)
	a.pnn50.add(m.PNN50)
	if at.After(a.last) {
		a.last = at
	}
	a.count++
}

// Count returns the number of readings added.
func (a *Accumulator) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count
}

// Finish summarises the session as ending at end. A zero end uses the time
// of the last reading.
func (a *Accumulator) Finish(end time.Time) Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	if end.IsZero() || end.Before(a.start) {
		end = a.last
	}
	return Record{
		StartTime: a.start,
		EndTime:   end,
		AvgBPM:    a.bpm.value(),
		AvgRMSSD:  a.rmssd.value(),
		AvgSDNN:   a.sdnn.value(),
		AvgPNN50:  a.pnn50.value(),
		Source:    a.source,
	}
}
