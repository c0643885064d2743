// Package live turns a heart rate device's discrete samples into HRV
// metrics and a rolling trend.
package live

import (
	"context"
	"sync"
	"time"

	"github.com/banshee-data/pulse.report/internal/device"
	"github.com/banshee-data/pulse.report/internal/hrv"
	"github.com/banshee-data/pulse.report/internal/monitoring"
	"github.com/banshee-data/pulse.report/internal/timeutil"
)

var logger = monitoring.NewLogger("[live] ")

// DefaultTrendPoints keeps five minutes of one-second samples.
const DefaultTrendPoints = 300

// DefaultReconnectInterval is how often Run checks a dropped device.
const DefaultReconnectInterval = 5 * time.Second

// TrendPoint is one entry of the rolling trend.
type TrendPoint struct {
	Time  time.Time `json:"time"`
	BPM   int       `json:"bpm"`
	RMSSD hrv.Value `json:"rmssd"`
}

// Snapshot is the monitor's current view.
type Snapshot struct {
	Device    string       `json:"device"`
	Mode      device.Mode  `json:"mode"`
	Connected bool         `json:"connected"`
	BPM       hrv.Value    `json:"bpm"`
	Metrics   hrv.Metrics  `json:"metrics"`
	Rejected  int          `json:"rejected"`
	Samples   int          `json:"samples"`
	Updated   time.Time    `json:"updated"`
	Trend     []TrendPoint `json:"trend"`
}

// Config configures a Monitor. Zero values select defaults.
type Config struct {
	Validator         hrv.Validator
	Capacity          int
	TrendPoints       int
	ReconnectInterval time.Duration
	Clock             timeutil.Clock
}

// Monitor is the single consumer of a device.
type Monitor struct {
	dev   device.Device
	cfg   Config
	clock timeutil.Clock

	mu       sync.Mutex
	calc     *hrv.Calculator
	bpm      hrv.Value
	metrics  hrv.Metrics
	trend    []TrendPoint
	samples  int
	updated  time.Time
	onUpdate func(Snapshot)
}

// NewMonitor builds a monitor for dev.
func NewMonitor(dev device.Device, cfg Config) *Monitor {
	if cfg.Validator == (hrv.Validator{}) {
		cfg.Validator = hrv.DefaultValidator()
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = hrv.DefaultCalculatorCapacity
	}
	if cfg.TrendPoints <= 0 {
		cfg.TrendPoints = DefaultTrendPoints
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	m := &Monitor{
		dev:   dev,
		cfg:   cfg,
		clock: cfg.Clock,
		calc:  hrv.NewCalculator(cfg.Validator, cfg.Capacity),
	}
	m.metrics = m.calc.Metrics()
	return m
}

// OnUpdate registers f to receive a snapshot after every sample. f runs on
// the device goroutine and must not block.
func (m *Monitor) OnUpdate(f func(Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpdate = f
}

// Handle folds one sample into the calculator and trend. RR intervals are
// used when the sample carries them; otherwise the timestamp is a beat.
func (m *Monitor) Handle(s device.Sample) {
	m.mu.Lock()
	if len(s.RRIntervals) > 0 {
		for _, rr := range s.RRIntervals {
			if !m.calc.AddInterval(rr) {
				logger.Tracef("rejected rr %.0fms", rr)
			}
		}
	} else {
		m.calc.AddBeat(s.Timestamp)
	}

	m.metrics = m.calc.Metrics()
	m.bpm = hrv.Unavailable
	if s.BPM > 0 {
		m.bpm = hrv.Some(float64(s.BPM))
	}
	m.samples++
	m.updated = s.Timestamp

	m.trend = append(m.trend, TrendPoint{Time: s.Timestamp, BPM: s.BPM, RMSSD: m.metrics.RMSSD})
	if over := len(m.trend) - m.cfg.TrendPoints; over > 0 {
		m.trend = append(m.trend[:0:0], m.trend[over:]...)
	}

	snap := m.snapshotLocked()
	f := m.onUpdate
	m.mu.Unlock()

	if f != nil {
		f(snap)
	}
}

// Snapshot returns a copy of the current view.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Monitor) snapshotLocked() Snapshot {
	return Snapshot{
		Device:    m.dev.Name(),
		Mode:      m.dev.Mode(),
		Connected: m.dev.Connected(),
		BPM:       m.bpm,
		Metrics:   m.metrics,
		Rejected:  m.calc.Rejected(),
		Samples:   m.samples,
		Updated:   m.updated,
		Trend:     append([]TrendPoint{}, m.trend...),
	}
}

// Intervals returns the accepted RR intervals, oldest first.
func (m *Monitor) Intervals() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calc.Intervals()
}

// Reset clears the calculator, the trend and the latest reading.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calc.Reset()
	m.metrics = m.calc.Metrics()
	m.bpm = hrv.Unavailable
	m.trend = nil
	m.samples = 0
	m.updated = time.Time{}
	logger.Diagf("live metrics reset")
}

// Run subscribes to the device, connects it and keeps it connected until
// ctx is done. A failed initial Connect is returned; later drops are retried
// every ReconnectInterval.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.dev.Subscribe(m.Handle); err != nil {
		return err
	}
	defer m.dev.Unsubscribe()

	ticker := m.clock.NewTicker(m.cfg.ReconnectInterval)
	defer ticker.Stop()

	if err := m.dev.Connect(ctx); err != nil {
		return err
	}
	logger.Diagf("monitoring %s (%s)", m.dev.Name(), m.dev.Mode())

	for {
		select {
		case <-ctx.Done():
			if err := m.dev.Disconnect(); err != nil {
				logger.Opsf("disconnect %s: %v", m.dev.Name(), err)
			}
			return ctx.Err()
		case <-ticker.C():
			if m.dev.Connected() {
				continue
			}
			if err := m.dev.Connect(ctx); err != nil {
				logger.Opsf("reconnect %s: %v", m.dev.Name(), err)
				continue
			}
			logger.Opsf("reconnected %s", m.dev.Name())
		}
	}
}
