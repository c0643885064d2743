package device

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"tailscale.com/tsweb"

	"github.com/banshee-data/pulse.report/internal/httputil"
	"github.com/banshee-data/pulse.report/internal/serialmux"
)

// InitCommand asks the bridge to (re)subscribe to heart rate notifications.
const InitCommand = "INIT"

// statusDevicePrefix is the bridge status line carrying the strap name.
const statusDevicePrefix = "# device "

// LineStats counts bridge lines by outcome.
type LineStats struct {
	Measurements int `json:"measurements"`
	Status       int `json:"status"`
	Unknown      int `json:"unknown"`
	Malformed    int `json:"malformed"`
}

// SerialDevice reads Heart Rate Measurement notifications forwarded by a
// BLE-to-UART bridge.
type SerialDevice struct {
	listener
	runner

	opts Options

	mu    sync.Mutex
	name  string
	stats LineStats
	admin *http.ServeMux // bridge debug routes of the open port
}

func newSerialDevice(opts Options) *SerialDevice {
	return &SerialDevice{
		opts: opts,
		name: fmt.Sprintf("Heart Rate Bridge (%s)", opts.Port),
	}
}

func (d *SerialDevice) Name() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.name
}

func (d *SerialDevice) Mode() Mode                { return ModeLive }
func (d *SerialDevice) Connected() bool           { return d.running() }
func (d *SerialDevice) Subscribe(h Handler) error { return d.set(h) }
func (d *SerialDevice) Unsubscribe()              { d.clear() }

// Stats returns the line counters since the last Connect.
func (d *SerialDevice) Stats() LineStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Connect opens the port, starts the line monitor and sends InitCommand.
func (d *SerialDevice) Connect(ctx context.Context) error {
	if d.running() {
		return ErrAlreadyConnected
	}
	mux, err := d.opts.Open(d.opts.Port, d.opts.PortOptions)
	if err != nil {
		logger.Opsf("failed to open %s: %v", d.opts.Port, err)
		return fmt.Errorf("open serial port %s: %w", d.opts.Port, err)
	}
	_, lines := mux.Subscribe()
	if err := mux.SendCommand(InitCommand); err != nil {
		mux.Close()
		logger.Opsf("failed to initialise bridge on %s: %v", d.opts.Port, err)
		return fmt.Errorf("initialise bridge: %w", err)
	}

	admin := http.NewServeMux()
	mux.AttachAdminRoutes(admin)

	d.mu.Lock()
	d.stats = LineStats{}
	d.admin = admin
	d.mu.Unlock()

	if err := d.start(ctx, func(ctx context.Context) { d.run(ctx, mux, lines) }); err != nil {
		d.mu.Lock()
		d.admin = nil
		d.mu.Unlock()
		mux.Close()
		return err
	}
	logger.Diagf("connected to bridge on %s", d.opts.Port)
	return nil
}

// Disconnect stops the monitor and closes the port.
func (d *SerialDevice) Disconnect() error {
	d.stop()
	s := d.Stats()
	logger.Diagf("disconnected from %s: %d measurements, %d status, %d unknown, %d malformed",
		d.opts.Port, s.Measurements, s.Status, s.Unknown, s.Malformed)
	return nil
}

func (d *SerialDevice) run(ctx context.Context, mux serialmux.Interface, lines chan string) {
	monitorErr := make(chan error, 1)
	go func() { monitorErr <- mux.Monitor(ctx) }()
	defer func() {
		d.mu.Lock()
		d.admin = nil
		d.mu.Unlock()
		if err := mux.Close(); err != nil {
			logger.Diagf("closing %s: %v", d.opts.Port, err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-monitorErr:
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Opsf("serial monitor on %s stopped: %v", d.opts.Port, err)
			}
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			d.handleLine(line)
		}
	}
}

func (d *SerialDevice) handleLine(line string) {
	switch serialmux.ClassifyLine(line) {
	case serialmux.LineTypeHRM:
		payload, err := serialmux.ParseHRMLine(line)
		if err == nil {
			var m Measurement
			if m, err = DecodeHeartRateMeasurement(payload); err == nil {
				d.count(func(s *LineStats) { s.Measurements++ })
				logger.Tracef("hrm bpm=%d rr=%v", m.BPM, m.DisplayRR())
				d.emit(Sample{
					Timestamp:   d.opts.Clock.Now(),
					BPM:         m.BPM,
					RRIntervals: m.RRIntervals,
					Source:      ModeLive,
				})
				return
			}
		}
		d.count(func(s *LineStats) { s.Malformed++ })
		logger.Diagf("malformed measurement %q: %v", line, err)

	case serialmux.LineTypeStatus:
		d.count(func(s *LineStats) { s.Status++ })
		status := strings.TrimSpace(line)
		if name, ok := strings.CutPrefix(status, statusDevicePrefix); ok && name != "" {
			d.mu.Lock()
			d.name = name
			d.mu.Unlock()
		}
		logger.Diagf("bridge: %s", strings.TrimPrefix(status, "#"))

	default:
		d.count(func(s *LineStats) { s.Unknown++ })
		logger.Tracef("ignoring line %q", line)
	}
}

func (d *SerialDevice) count(f func(*LineStats)) {
	d.mu.Lock()
	f(&d.stats)
	d.mu.Unlock()
}

// AttachAdminRoutes mounts the bridge debug routes on mux. The port is
// reopened on every Connect, so requests are forwarded to whichever port is
// open and answer 503 while disconnected.
func (d *SerialDevice) AttachAdminRoutes(mux *http.ServeMux) {
	forward := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !tsweb.AllowDebugAccess(r) {
			http.Error(w, "debug access denied", http.StatusForbidden)
			return
		}
		d.mu.Lock()
		admin := d.admin
		d.mu.Unlock()
		if admin == nil {
			httputil.WriteJSONError(w, http.StatusServiceUnavailable, "bridge not connected")
			return
		}
		admin.ServeHTTP(w, r)
	})
	for _, path := range serialmux.AdminPaths {
		mux.Handle(path, forward)
	}
}
