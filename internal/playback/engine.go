package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/pulse.report/internal/timeutil"
)

// DefaultTickInterval approximates a display refresh callback.
const DefaultTickInterval = 16 * time.Millisecond

// ErrAlreadyRunning is returned by Run when a loop is already active.
var ErrAlreadyRunning = errors.New("playback engine already running")

// EngineConfig configures an Engine.
type EngineConfig struct {
	// Pipeline holds the analysis parameters.
	Pipeline Config
	// TickInterval is the tick period of Run (default DefaultTickInterval).
	TickInterval time.Duration
	// Clock is optional; if nil, RealClock is used.
	Clock timeutil.Clock
}

// Engine wraps a Scheduler with a single lock over the whole engine state
// and a ticker that drives it. Published snapshots fan out to subscribers.
type Engine struct {
	mu    sync.Mutex
	sched *Scheduler

	clock    timeutil.Clock
	interval time.Duration

	subMu       sync.Mutex
	subscribers map[string]chan Snapshot
	published   uint64 // highest Seq handed to subscribers

	runMu   sync.Mutex
	running bool
}

// NewEngine validates cfg.Pipeline and returns a stopped engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if err := cfg.Pipeline.Validate(); err != nil {
		return nil, err
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	interval := cfg.TickInterval
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &Engine{
		sched:       NewScheduler(cfg.Pipeline),
		clock:       clock,
		interval:    interval,
		subscribers: make(map[string]chan Snapshot),
	}, nil
}

// Load replaces the source signal and resets all analysis state.
func (e *Engine) Load(samples []float64) {
	e.mu.Lock()
	e.sched.Load(samples)
	snap := e.sched.Snapshot()
	e.mu.Unlock()
	e.publish(snap)
}

// Reconfigure applies a new pipeline configuration.
func (e *Engine) Reconfigure(cfg Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sched.Reconfigure(cfg)
}

// Config returns the active pipeline configuration.
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sched.Config()
}

func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sched.Start()
	diagf("playback started")
}

// Stop halts playback without clearing history or metrics.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sched.Stop()
	diagf("playback stopped")
}

// Reset clears the interval history and smoothed heart rate.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.sched.Reset()
	snap := e.sched.Snapshot()
	e.mu.Unlock()
	e.publish(snap)
	diagf("playback analysis reset")
}

// Snapshot returns the latest published snapshot.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sched.Snapshot()
}

// Intervals returns a copy of the accepted NN intervals.
func (e *Engine) Intervals() []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sched.Intervals()
}

// Tick runs one scheduler tick at the clock's current time. A tick
// completes entirely under the engine lock before the next can begin.
func (e *Engine) Tick() Snapshot {
	e.mu.Lock()
	snap, changed := e.sched.Tick(e.clock.Now())
	e.mu.Unlock()
	if changed {
		e.publish(snap)
	}
	return snap
}

// Run ticks the engine until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.runMu.Lock()
	if e.running {
		e.runMu.Unlock()
		return ErrAlreadyRunning
	}
	e.running = true
	e.runMu.Unlock()
	defer func() {
		e.runMu.Lock()
		e.running = false
		e.runMu.Unlock()
	}()

	ticker := e.clock.NewTicker(e.interval)
	defer ticker.Stop()
	diagf("engine loop started: interval=%v", e.interval)

	for {
		select {
		case <-ctx.Done():
			diagf("engine loop stopping: %v", ctx.Err())
			return ctx.Err()
		case <-ticker.C():
			e.Tick()
		}
	}
}

// Subscribe registers a receiver for published snapshots. Each subscriber
// has a one-slot buffer; a slow subscriber misses intermediate snapshots
// rather than stalling the engine.
func (e *Engine) Subscribe() (string, <-chan Snapshot) {
	id := uuid.NewString()
	ch := make(chan Snapshot, 1)
	e.subMu.Lock()
	e.subscribers[id] = ch
	e.subMu.Unlock()
	return id, ch
}

// Unsubscribe removes and closes a subscriber channel.
func (e *Engine) Unsubscribe(id string) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	if ch, ok := e.subscribers[id]; ok {
		close(ch)
		delete(e.subscribers, id)
	}
}

// Close closes every subscriber channel.
func (e *Engine) Close() {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for id, ch := range e.subscribers {
		close(ch)
		delete(e.subscribers, id)
	}
}

// publish fans snap out unless a newer snapshot has already gone out.
// Snapshots are taken under mu but published after it is released, so a
// Reset racing a Tick can arrive here out of order.
func (e *Engine) publish(snap Snapshot) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	if snap.Seq <= e.published {
		tracef("skipping stale snapshot %d (published %d)", snap.Seq, e.published)
		return
	}
	e.published = snap.Seq
	for id, ch := range e.subscribers {
		select {
		case ch <- snap:
			continue
		default:
		}
		// Replace the stale snapshot with the newest one.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
			opsf("dropping snapshot %d for subscriber %s", snap.Seq, id)
		}
	}
}
