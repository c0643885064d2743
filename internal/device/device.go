// Package device provides heart rate sources that emit discrete beat
// samples: a serial bridge to a Bluetooth heart rate strap, a simulator and
// a disabled placeholder.
package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/pulse.report/internal/serialmux"
	"github.com/banshee-data/pulse.report/internal/timeutil"
)

// Mode selects the device variant.
type Mode string

const (
	ModeLive Mode = "live"
	ModeDemo Mode = "demo"
	ModeNone Mode = "none"
)

var (
	ErrUnknownMode        = errors.New("unknown device mode")
	ErrAlreadySubscribed  = errors.New("device already has a subscriber")
	ErrNoPort             = errors.New("live mode requires a serial port")
	ErrAlreadyConnected   = errors.New("device already connected")
	ErrDeviceDisconnected = errors.New("device disconnected")
)

// ParseMode accepts the mode names used on the command line and in config
// files.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "live", "ble", "ble-real", "serial":
		return ModeLive, nil
	case "demo", "demo-simulated", "sim":
		return ModeDemo, nil
	case "", "none", "off", "disabled":
		return ModeNone, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// Sample is one heart rate notification.
type Sample struct {
	Timestamp   time.Time `json:"timestamp"`
	BPM         int       `json:"bpm"`
	RRIntervals []float64 `json:"rrIntervals,omitempty"`
	Source      Mode      `json:"source"`
}

// Handler receives samples. It is called from the device's own goroutine.
type Handler func(Sample)

// Device is a heart rate source with a single subscriber.
type Device interface {
	Name() string
	Mode() Mode
	Connected() bool
	// Connect starts emitting samples until Disconnect or ctx is done.
	Connect(ctx context.Context) error
	Disconnect() error
	// Subscribe installs the one handler. A second Subscribe without an
	// Unsubscribe returns ErrAlreadySubscribed.
	Subscribe(Handler) error
	Unsubscribe()
}

// Options configures New. Zero values select defaults.
type Options struct {
	Port        string
	PortOptions serialmux.PortOptions
	Open        serialmux.Opener
	Clock       timeutil.Clock
	// Seed fixes the simulator's noise; 0 seeds from the clock.
	Seed int64
	// Interval is the simulator's emit period.
	Interval time.Duration
}

// New constructs the device for mode.
func New(mode Mode, opts Options) (Device, error) {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	switch mode {
	case ModeLive:
		if opts.Port == "" {
			return nil, ErrNoPort
		}
		if opts.Open == nil {
			opts.Open = serialmux.Open
		}
		return newSerialDevice(opts), nil
	case ModeDemo:
		return newDemoDevice(opts), nil
	case ModeNone:
		return NewDisabled(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
}

// listener holds the single subscriber.
type listener struct {
	mu sync.Mutex
	h  Handler
}

func (l *listener) set(h Handler) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.h != nil {
		return ErrAlreadySubscribed
	}
	l.h = h
	return nil
}

func (l *listener) clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.h = nil
}

func (l *listener) emit(s Sample) {
	l.mu.Lock()
	h := l.h
	l.mu.Unlock()
	if h != nil {
		h(s)
	}
}

// runner tracks the goroutine behind a connected device.
type runner struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (r *runner) running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}

// start launches fn under a context derived from ctx. fn's return marks the
// device disconnected.
func (r *runner) start(ctx context.Context, fn func(ctx context.Context)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return ErrAlreadyConnected
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel = cancel
	r.done = done
	go func() {
		defer close(done)
		fn(ctx)
		r.mu.Lock()
		if r.done == done {
			r.cancel = nil
			r.done = nil
		}
		r.mu.Unlock()
		cancel()
	}()
	return nil
}

// stop cancels the goroutine and waits for it.
func (r *runner) stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
