// Package api serves the playback and live views over HTTP and a websocket.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/pulse.report/internal/httputil"
	"github.com/banshee-data/pulse.report/internal/live"
	"github.com/banshee-data/pulse.report/internal/monitoring"
	"github.com/banshee-data/pulse.report/internal/playback"
	"github.com/banshee-data/pulse.report/internal/session"
	"github.com/banshee-data/pulse.report/internal/version"
	"github.com/banshee-data/pulse.report/internal/vitals"
)

var logger = monitoring.NewLogger("[api] ")

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// defaultSessionLimit caps GET /api/sessions when no limit is given.
const defaultSessionLimit = 50

const maxSessionBody = 64 << 10

// Player is the playback engine as seen by the API.
type Player interface {
	Snapshot() playback.Snapshot
	Intervals() []float64
	Start()
	Stop()
	Reset()
	Subscribe() (string, <-chan playback.Snapshot)
	Unsubscribe(id string)
}

// LiveView is the live device monitor as seen by the API.
type LiveView interface {
	Snapshot() live.Snapshot
	Intervals() []float64
	Reset()
}

// SessionStore is the session history as seen by the API.
type SessionStore interface {
	Save(ctx context.Context, r *session.Record) error
	List(ctx context.Context, limit int) ([]session.Record, error)
	Get(ctx context.Context, id string) (session.Record, error)
	Delete(ctx context.Context, id string) error
}

var (
	_ Player       = (*playback.Engine)(nil)
	_ LiveView     = (*live.Monitor)(nil)
	_ SessionStore = (*session.Store)(nil)
)

// Options configures a Server. Live and Sessions may be nil; their routes
// then answer 404.
type Options struct {
	Player   Player
	Live     LiveView
	Sessions SessionStore
	Activity vitals.Activity
	Limits   vitals.Limits
}

type Server struct {
	player   Player
	live     LiveView
	sessions SessionStore
	activity vitals.Activity
	limits   vitals.Limits
	hub      *Hub
}

func NewServer(opts Options) *Server {
	if opts.Activity == "" {
		opts.Activity = vitals.Resting
	}
	if opts.Limits == (vitals.Limits{}) {
		opts.Limits = vitals.DefaultLimits()
	}
	return &Server{
		player:   opts.Player,
		live:     opts.Live,
		sessions: opts.Sessions,
		activity: opts.Activity,
		limits:   opts.Limits,
		hub:      NewHub(),
	}
}

// Hub returns the websocket hub fed by Run and BroadcastLive.
func (s *Server) Hub() *Hub { return s.hub }

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Unwrap lets http.ResponseController and the websocket upgrader reach the
// underlying writer.
func (lrw *loggingResponseWriter) Unwrap() http.ResponseWriter {
	return lrw.ResponseWriter
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		logger.Opsf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/metrics", s.showMetrics)
	mux.HandleFunc("/api/playback/start", s.playbackAction(s.player.Start, "playing"))
	mux.HandleFunc("/api/playback/stop", s.playbackAction(s.player.Stop, "stopped"))
	mux.HandleFunc("/api/playback/reset", s.playbackAction(s.player.Reset, "reset"))
	mux.HandleFunc("/api/live", s.showLive)
	mux.HandleFunc("/api/live/reset", s.resetLive)
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/{id}", s.handleSession)
	mux.HandleFunc("/api/version", s.showVersion)
	mux.HandleFunc("/ws", s.hub.ServeWS)
	return mux
}

func (s *Server) showMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	snap := s.player.Snapshot()
	if r.URL.Query().Get("waveform") == "false" {
		snap.Waveform = nil
	}
	httputil.WriteJSONOK(w, snap)
}

func (s *Server) playbackAction(action func(), state string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httputil.MethodNotAllowed(w)
			return
		}
		action()
		logger.Diagf("playback %s", state)
		httputil.WriteJSONOK(w, map[string]string{"status": state})
	}
}

func (s *Server) showLive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.live == nil {
		httputil.NotFound(w, "no live device configured")
		return
	}
	httputil.WriteJSONOK(w, s.live.Snapshot())
}

func (s *Server) resetLive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.live == nil {
		httputil.NotFound(w, "no live device configured")
		return
	}
	s.live.Reset()
	httputil.WriteJSONOK(w, map[string]string{"status": "reset"})
}

type statusResponse struct {
	Source   string          `json:"source"`
	Activity vitals.Activity `json:"activity"`
	Status   vitals.Status   `json:"status"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	activity := s.activity
	if a := r.URL.Query().Get("activity"); a != "" {
		parsed, err := vitals.ParseActivity(a)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		activity = parsed
	}

	resp := statusResponse{Source: r.URL.Query().Get("source"), Activity: activity}
	switch resp.Source {
	case "", "playback":
		resp.Source = "playback"
		snap := s.player.Snapshot()
		resp.Status = vitals.Classify(vitals.Input{
			BPM:      snap.BPM,
			SDNN:     snap.Metrics.SDNN,
			NNCount:  snap.Debug.NNCount,
			Activity: activity,
		}, s.limits)
	case "live":
		if s.live == nil {
			httputil.NotFound(w, "no live device configured")
			return
		}
		snap := s.live.Snapshot()
		resp.Status = vitals.Classify(vitals.Input{
			BPM:      snap.BPM,
			SDNN:     snap.Metrics.SDNN,
			NNCount:  snap.Metrics.SampleCount,
			Activity: activity,
		}, s.limits)
	default:
		httputil.BadRequest(w, fmt.Sprintf("unknown source %q: expected playback or live", resp.Source))
		return
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		httputil.NotFound(w, "session history is disabled")
		return
	}
	switch r.Method {
	case http.MethodGet:
		limit := defaultSessionLimit
		if l := r.URL.Query().Get("limit"); l != "" {
			parsed, err := strconv.Atoi(l)
			if err != nil || parsed < 1 {
				httputil.BadRequest(w, "Invalid 'limit' parameter")
				return
			}
			limit = parsed
		}
		records, err := s.sessions.List(r.Context(), limit)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("Failed to list sessions: %v", err))
			return
		}
		httputil.WriteJSONOK(w, records)

	case http.MethodPost:
		var rec session.Record
		if err := httputil.DecodeJSONBody(w, r, maxSessionBody, &rec); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		if err := s.sessions.Save(r.Context(), &rec); err != nil {
			if errors.Is(err, session.ErrInvalidRecord) {
				httputil.BadRequest(w, err.Error())
				return
			}
			httputil.InternalServerError(w, fmt.Sprintf("Failed to save session: %v", err))
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, rec)

	default:
		httputil.MethodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		httputil.NotFound(w, "session history is disabled")
		return
	}
	id := r.PathValue("id")
	switch r.Method {
	case http.MethodGet:
		rec, err := s.sessions.Get(r.Context(), id)
		if err != nil {
			s.writeSessionError(w, err)
			return
		}
		httputil.WriteJSONOK(w, rec)

	case http.MethodDelete:
		if err := s.sessions.Delete(r.Context(), id); err != nil {
			s.writeSessionError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		httputil.MethodNotAllowed(w, http.MethodGet, http.MethodDelete)
	}
}

func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrNotFound) {
		httputil.NotFound(w, err.Error())
		return
	}
	httputil.InternalServerError(w, err.Error())
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, version.Get())
}
