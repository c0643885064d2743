package device

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/banshee-data/pulse.report/internal/timeutil"
)

// DefaultDemoInterval is the simulator's emit period.
const DefaultDemoInterval = time.Second

// DemoDevice simulates a strap at rest: heart rate drifts on a one minute
// sine around 70 bpm and RR variability swells and fades on a two minute
// cycle.
type DemoDevice struct {
	listener
	runner

	clock    timeutil.Clock
	interval time.Duration
	seed     int64
}

func newDemoDevice(opts Options) *DemoDevice {
	d := &DemoDevice{clock: opts.Clock, interval: opts.Interval, seed: opts.Seed}
	if d.interval <= 0 {
		d.interval = DefaultDemoInterval
	}
	return d
}

func (d *DemoDevice) Name() string              { return "Demo Device" }
func (d *DemoDevice) Mode() Mode                { return ModeDemo }
func (d *DemoDevice) Connected() bool           { return d.running() }
func (d *DemoDevice) Subscribe(h Handler) error { return d.set(h) }
func (d *DemoDevice) Unsubscribe()              { d.clear() }

// Connect starts the simulation clock. Elapsed time restarts at zero on
// every Connect.
func (d *DemoDevice) Connect(ctx context.Context) error {
	if d.running() {
		return ErrAlreadyConnected
	}
	seed := d.seed
	if seed == 0 {
		seed = d.clock.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	start := d.clock.Now()
	ticker := d.clock.NewTicker(d.interval)

	err := d.start(ctx, func(ctx context.Context) {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C():
				now := d.clock.Now()
				bpm, rr := simulate(rng, now.Sub(start).Seconds())
				d.emit(Sample{
					Timestamp:   now,
					BPM:         bpm,
					RRIntervals: []float64{rr},
					Source:      ModeDemo,
				})
			}
		}
	})
	if err != nil {
		ticker.Stop()
		return err
	}
	logger.Diagf("demo device started: interval=%v seed=%d", d.interval, seed)
	return nil
}

func (d *DemoDevice) Disconnect() error {
	d.stop()
	return nil
}

// simulate returns the heart rate and one RR interval at t seconds after
// connect.
func simulate(rng *rand.Rand, t float64) (int, float64) {
	base := 70 + 10*math.Sin(2*math.Pi*t/60)
	bpm := int(math.Round(base + uniform(rng, 2)))
	amplitude := 30 + 20*math.Sin(2*math.Pi*t/120)
	rr := 60000/float64(bpm) + uniform(rng, amplitude)
	return bpm, rr
}

// uniform draws from U(-a, a).
func uniform(rng *rand.Rand, a float64) float64 {
	return (rng.Float64()*2 - 1) * a
}
