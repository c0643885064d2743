// Package serialmux shares the UART of a heart rate bridge between the
// device reader and debug tooling. Every line the bridge prints is fanned out
// to all subscribers and commands from any of them are serialised onto the
// port.
package serialmux

import (
	"bufio"
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"tailscale.com/tsweb"

	"github.com/banshee-data/pulse.report/internal/httputil"
	"github.com/banshee-data/pulse.report/internal/monitoring"
)

var logger = monitoring.NewLogger("[serial] ")

// ErrShortWrite is returned when the port accepts only part of a command.
var ErrShortWrite = errors.New("short write to serial port")

// SubscriberBuffer is the number of lines queued per subscriber. Lines for a
// subscriber whose queue is full are dropped and counted.
const SubscriberBuffer = 64

// MaxLineLength bounds a single bridge line. A measurement line is well
// under 100 bytes; anything longer means the UART settings are wrong.
const MaxLineLength = 4096

// Stats counts lines read from the port.
type Stats struct {
	Lines   int64 `json:"lines"`
	Dropped int64 `json:"dropped"`
}

// Interface is the part of Mux the device reader and tests depend on.
type Interface interface {
	// Subscribe registers a new line channel. The id is passed back to
	// Unsubscribe.
	Subscribe() (id string, lines chan string)
	Unsubscribe(id string)
	// SendCommand writes one newline terminated command.
	SendCommand(command string) error
	// Monitor reads the port until ctx is done or the port fails.
	Monitor(ctx context.Context) error
	Stats() Stats
	// Close closes every subscriber channel and then the port.
	Close() error
	// AttachAdminRoutes mounts the bridge debug endpoints under /debug/.
	AttachAdminRoutes(*http.ServeMux)
}

// Mux multiplexes one bridge port.
type Mux[P Port] struct {
	port    P
	writeMu sync.Mutex

	mu     sync.Mutex
	subs   map[string]chan string
	closed bool
	stats  Stats
}

var _ Interface = (*Mux[Port])(nil)

// New wraps an already opened port.
func New[P Port](port P) *Mux[P] {
	return &Mux[P]{port: port, subs: make(map[string]chan string)}
}

func newID() string {
	var b [8]byte
	_, _ = crand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func (m *Mux[P]) Subscribe() (string, chan string) {
	id := newID()
	ch := make(chan string, SubscriberBuffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		close(ch)
		return id, ch
	}
	m.subs[id] = ch
	return id, ch
}

func (m *Mux[P]) Unsubscribe(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.subs[id]; ok {
		delete(m.subs, id)
		close(ch)
	}
}

func (m *Mux[P]) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *Mux[P]) SendCommand(command string) error {
	line := strings.TrimRight(command, "\r\n") + "\n"
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	n, err := m.port.Write([]byte(line))
	if err != nil {
		return fmt.Errorf("write %q: %w", strings.TrimSpace(line), err)
	}
	if n != len(line) {
		return ErrShortWrite
	}
	logger.Tracef("sent %q", strings.TrimSpace(line))
	return nil
}

// publish hands line to every subscriber without blocking. It reports false
// once the mux is closed.
func (m *Mux[P]) publish(line string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.stats.Lines++
	for _, ch := range m.subs {
		select {
		case ch <- line:
		default:
			m.stats.Dropped++
		}
	}
	return true
}

// Monitor returns ctx.Err() on cancellation, nil when the port reaches EOF
// or the mux is closed, and the read error otherwise. Carriage returns and
// blank lines are stripped.
func (m *Mux[P]) Monitor(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)

	// Scan blocks inside Read, so it gets its own goroutine.
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(m.port)
		sc.Buffer(make([]byte, 0, 256), MaxLineLength)
		for sc.Scan() {
			line := strings.TrimRight(sc.Text(), "\r")
			if strings.TrimSpace(line) == "" {
				continue
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					return err
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if !m.publish(line) {
				return nil
			}
		}
	}
}

func (m *Mux[P]) Close() error {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		for id, ch := range m.subs {
			delete(m.subs, id)
			close(ch)
		}
	}
	m.mu.Unlock()
	return m.port.Close()
}

// AdminPaths are the routes AttachAdminRoutes mounts.
var AdminPaths = []string{"/debug/bridge-command", "/debug/bridge-tail", "/debug/bridge-stats"}

// AttachAdminRoutes mounts:
//
//	/debug/bridge-command  POST command=... writes a command
//	/debug/bridge-tail     server-sent events of every line read
//	/debug/bridge-stats    line counters as JSON
func (m *Mux[P]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleSilentFunc("bridge-command", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httputil.MethodNotAllowed(w, http.MethodPost)
			return
		}
		command := strings.TrimSpace(r.FormValue("command"))
		if command == "" {
			httputil.BadRequest(w, "missing command")
			return
		}
		if err := m.SendCommand(command); err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		fmt.Fprintf(w, "sent %q\n", command)
	})

	debug.HandleSilentFunc("bridge-stats", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, m.Stats())
	})

	debug.HandleFunc("bridge-tail", "Live tail of the heart rate bridge", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			httputil.InternalServerError(w, "streaming unsupported")
			return
		}
		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("X-Accel-Buffering", "no")

		id, lines := m.Subscribe()
		defer m.Unsubscribe(id)

		_, _ = w.Write([]byte(": tailing bridge\n\n"))
		flusher.Flush()

		var buf bytes.Buffer
		for {
			select {
			case <-r.Context().Done():
				return
			case line, ok := <-lines:
				if !ok {
					return
				}
				buf.Reset()
				buf.WriteString("data: ")
				buf.WriteString(line)
				buf.WriteString("\n\n")
				if _, err := w.Write(buf.Bytes()); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	})
}
