// Package playback replays a recorded PPG waveform in real time and derives
// heart rate and HRV from a sliding analysis window.
package playback

import (
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/pulse.report/internal/hrv"
	"github.com/banshee-data/pulse.report/internal/ppg"
)

// State is the playback state.
type State int

const (
	Stopped State = iota
	Playing
)

func (s State) String() string {
	if s == Playing {
		return "playing"
	}
	return "stopped"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "playing":
		*s = Playing
	case "stopped":
		*s = Stopped
	default:
		return fmt.Errorf("unknown playback state %q", b)
	}
	return nil
}

// Debug carries per-pass diagnostics.
type Debug struct {
	WindowSeconds float64 `json:"window"`
	PeaksInView   int     `json:"peaksInView"`
	NNCount       int     `json:"nnCount"`
	MAD           float64 `json:"mad"`
	RejectedCount int     `json:"rejectedCount"`
	LastIBI       float64 `json:"lastIBI"`
	ProcessingMs  float64 `json:"processingMs"`
	Wraps         int     `json:"wraps"`
	Cursor        float64 `json:"cursor"`
	Samples       int     `json:"samples"`

	// SpectralBPM is the FFT estimate over the same window, for comparison
	// with the peak-derived BPM.
	SpectralBPM hrv.Value `json:"spectralBpm"`
}

// Snapshot is the published engine output.
type Snapshot struct {
	Seq      uint64      `json:"seq"`
	State    State       `json:"state"`
	BPM      hrv.Value   `json:"bpm"`
	Metrics  hrv.Metrics `json:"metrics"`
	Debug    Debug       `json:"debug"`
	Waveform []float64   `json:"waveform"`
}

// Scheduler owns the whole windowed-analysis state. It is not safe for
// concurrent use; Engine adds the lock and the tick source.
type Scheduler struct {
	cfg      Config
	raw      []float64
	filtered []float64

	state    State
	cursor   float64
	lastTick time.Time

	nextDisplay time.Time
	nextHRV     time.Time

	history  *hrv.History
	lastPeak int // absolute sample index, -1 until the first batch
	smoothed hrv.Value
	rejected int
	wraps    int

	snap Snapshot
}

// NewScheduler returns a stopped scheduler with no source loaded. cfg is
// assumed valid.
func NewScheduler(cfg Config) *Scheduler {
	s := &Scheduler{cfg: cfg}
	s.history = hrv.NewHistory(cfg.NNTarget)
	s.resetAnalysis()
	s.snap.Waveform = []float64{}
	return s
}

// Config returns the active configuration.
func (s *Scheduler) Config() Config { return s.cfg }

// State returns the playback state.
func (s *Scheduler) State() State { return s.state }

// Load replaces the source signal, refilters it, rewinds the cursor and
// clears all analysis state.
func (s *Scheduler) Load(samples []float64) {
	s.raw = append([]float64(nil), samples...)
	s.refilter()
	s.cursor = 0
	s.rejected = 0
	s.wraps = 0
	s.resetAnalysis()
	s.resetThrottles()
	s.snap = Snapshot{Seq: s.snap.Seq + 1, State: s.state, Waveform: []float64{}}
	diagf("loaded %d samples (%.1fs at %g Hz)", len(s.raw), float64(len(s.raw))/s.cfg.FS, s.cfg.FS)
}

// Reconfigure swaps the configuration. A change to the sample rate, filter
// corners or inversion refilters the source. Analysis state is always reset.
func (s *Scheduler) Reconfigure(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	refilter := s.cfg.filterChanged(cfg)
	s.cfg = cfg
	s.history = hrv.NewHistory(cfg.NNTarget)
	if refilter {
		s.refilter()
		s.cursor = 0
	}
	s.resetAnalysis()
	s.resetThrottles()
	return nil
}

// Start begins advancing the cursor on subsequent ticks. Time spent stopped
// does not count towards the first advance.
func (s *Scheduler) Start() {
	if s.state == Playing {
		return
	}
	s.state = Playing
	s.lastTick = time.Time{}
}

// Stop halts the cursor. History and metrics are kept.
func (s *Scheduler) Stop() {
	s.state = Stopped
}

// Reset clears NNHistory, the last peak index, the smoothed BPM and the
// rejection count. The cursor is left where it is.
func (s *Scheduler) Reset() {
	s.rejected = 0
	s.resetAnalysis()
	s.resetThrottles()
	s.snap.BPM = hrv.Unavailable
	s.snap.Metrics = hrv.Metrics{}
	s.snap.Debug = s.debug(0, 0, 0, 0)
	s.snap.Seq++
}

// Intervals returns a copy of NNHistory, oldest first.
func (s *Scheduler) Intervals() []float64 { return s.history.Values() }

// Snapshot returns the last published snapshot.
func (s *Scheduler) Snapshot() Snapshot {
	snap := s.snap
	snap.State = s.state
	return snap
}

func (s *Scheduler) refilter() {
	src := s.raw
	if s.cfg.Invert {
		src = ppg.Invert(src)
	}
	s.filtered = ppg.Bandpass(src, s.cfg.FS, s.cfg.FcLow, s.cfg.FcHigh)
}

func (s *Scheduler) resetAnalysis() {
	s.history.Reset()
	s.lastPeak = -1
	s.smoothed = hrv.Unavailable
}

func (s *Scheduler) resetThrottles() {
	s.nextDisplay = time.Time{}
	s.nextHRV = time.Time{}
}

// Tick advances the scheduler to now and runs whichever passes are due. It
// reports whether the published snapshot changed.
func (s *Scheduler) Tick(now time.Time) (Snapshot, bool) {
	dt := 0.0
	if !s.lastTick.IsZero() {
		dt = math.Max(0, now.Sub(s.lastTick).Seconds())
	}
	s.lastTick = now

	if len(s.filtered) == 0 || s.state != Playing {
		return s.Snapshot(), false
	}

	changed := false
	s.cursor += dt * s.cfg.FS
	if s.cursor >= float64(len(s.filtered)) {
		s.wrap()
		changed = true
	}

	window, start := s.window()

	if !now.Before(s.nextDisplay) {
		s.snap.Waveform = Downsample(ppg.Normalize(window).Data, s.cfg.MaxDisplayPoints)
		s.nextDisplay = now.Add(s.cfg.DisplayUpdate)
		changed = true
	}

	if !now.Before(s.nextHRV) {
		s.analyse(window, start)
		s.nextHRV = now.Add(s.cfg.HRVUpdate)
		changed = true
	}

	if changed {
		s.snap.Seq++
	}
	s.snap.Debug.Cursor = s.cursor
	return s.Snapshot(), changed
}

// wrap rewinds to the start of the source. Peaks on either side of the
// discontinuity must never be joined into one interval.
func (s *Scheduler) wrap() {
	s.cursor = 0
	s.wraps++
	s.resetAnalysis()
	s.snap.BPM = hrv.Unavailable
	s.snap.Metrics = hrv.Compute(nil, s.cfg.MinSamples)
	s.snap.Debug = s.debug(0, 0, 0, 0)
	diagf("playback wrapped after %d samples (wrap #%d)", len(s.filtered), s.wraps)
}

// window returns the analysis window ending at the cursor and the absolute
// index of its first sample. Indices before zero are padded with zeros.
func (s *Scheduler) window() ([]float64, int) {
	n := s.cfg.WindowLen()
	end := int(math.Floor(s.cursor))
	start := end - n
	w := make([]float64, n)
	for i := range w {
		idx := start + i
		if idx >= 0 && idx < len(s.filtered) {
			w[i] = s.filtered[idx]
		}
	}
	return w, start
}

// analyse runs peak detection over window and commits the resulting history,
// peak index, smoothing and counters together.
func (s *Scheduler) analyse(window []float64, start int) {
	t0 := time.Now()
	fs := s.cfg.FS
	peaks := ppg.DetectPeaks(window, fs, s.cfg.Peaks)

	history := s.history.Clone()
	lastPeak := s.lastPeak
	rejected := s.rejected
	lastIBI := 0.0

	var fresh []int
	for _, idx := range peaks.Valid {
		if abs := start + idx; abs > lastPeak {
			fresh = append(fresh, abs)
		}
	}

	if len(fresh) > 0 {
		if lastPeak < 0 {
			// Cold start: no previous peak, so only intervals between the
			// new peaks themselves are usable, and there is no baseline yet.
			for i := 1; i < len(fresh); i++ {
				ibi := float64(fresh[i]-fresh[i-1]) / fs * 1000
				if s.cfg.Validator.Valid(ibi, nil) {
					history.Push(ibi)
				}
			}
			lastPeak = fresh[len(fresh)-1]
		} else {
			baseline := history.Median()
			prev := lastPeak
			for _, p := range fresh {
				ibi := float64(p-prev) / fs * 1000
				if s.cfg.Validator.Valid(ibi, baseline) {
					history.Push(ibi)
					lastIBI = ibi
				} else {
					rejected++
					tracef("rejected ibi %.0fms (baseline %v)", ibi, fmtBaseline(baseline))
				}
				prev = p
			}
			lastPeak = prev
		}
	}

	smoothed := s.smooth(s.instantBPM(peaks.Valid))
	metrics := hrv.Compute(history.Values(), s.cfg.MinSamples)

	s.history = history
	s.lastPeak = lastPeak
	s.rejected = rejected
	s.smoothed = smoothed
	s.snap.BPM = smoothed
	s.snap.Metrics = metrics
	s.snap.Debug = s.debug(len(peaks.Valid), peaks.MAD, lastIBI, time.Since(t0))
	if bpm, ok := ppg.DominantBPM(window, fs, s.cfg.FcLow, s.cfg.FcHigh); ok {
		s.snap.Debug.SpectralBPM = hrv.Some(bpm)
	}
	tracef("pass: peaks=%d nn=%d rejected=%d bpm=%v", len(peaks.Valid), history.Len(), rejected, smoothed.V)
}

func (s *Scheduler) debug(peaksInView int, mad, lastIBI float64, took time.Duration) Debug {
	return Debug{
		WindowSeconds: s.cfg.WindowSeconds,
		PeaksInView:   peaksInView,
		NNCount:       s.history.Len(),
		MAD:           mad,
		RejectedCount: s.rejected,
		LastIBI:       lastIBI,
		ProcessingMs:  float64(took) / float64(time.Millisecond),
		Wraps:         s.wraps,
		Cursor:        s.cursor,
		Samples:       len(s.filtered),
	}
}

// instantBPM is 60000 over the median in-bounds interval between the
// window's valid peaks. It is independent of NNHistory.
func (s *Scheduler) instantBPM(peaks []int) hrv.Value {
	if len(peaks) < 2 {
		return hrv.Unavailable
	}
	var ibis []float64
	for i := 1; i < len(peaks); i++ {
		ibi := float64(peaks[i]-peaks[i-1]) / s.cfg.FS * 1000
		if s.cfg.Validator.InBounds(ibi) {
			ibis = append(ibis, ibi)
		}
	}
	if len(ibis) == 0 {
		return hrv.Unavailable
	}
	return hrv.Some(60000 / hrv.Median(ibis))
}

// smooth folds instant into the EMA. Missing or out-of-range readings freeze
// the previous value.
func (s *Scheduler) smooth(instant hrv.Value) hrv.Value {
	if !instant.OK || instant.V < s.cfg.BPMMin || instant.V > s.cfg.BPMMax {
		return s.smoothed
	}
	if !s.smoothed.OK {
		return instant
	}
	a := s.cfg.EMAAlpha
	return hrv.Some(s.smoothed.V*(1-a) + instant.V*a)
}

func fmtBaseline(b *float64) interface{} {
	if b == nil {
		return "none"
	}
	return *b
}
