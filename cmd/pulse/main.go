package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/banshee-data/pulse.report/internal/api"
	"github.com/banshee-data/pulse.report/internal/config"
	"github.com/banshee-data/pulse.report/internal/device"
	"github.com/banshee-data/pulse.report/internal/live"
	"github.com/banshee-data/pulse.report/internal/monitoring"
	"github.com/banshee-data/pulse.report/internal/playback"
	"github.com/banshee-data/pulse.report/internal/ppg"
	"github.com/banshee-data/pulse.report/internal/session"
	"github.com/banshee-data/pulse.report/internal/stream"
	"github.com/banshee-data/pulse.report/internal/version"
)

var (
	listen     = flag.String("listen", ":8080", "HTTP listen address")
	configFile = flag.String("config", "", "Tuning file (.json, .yaml or .yml); built-in defaults when empty")
	ppgFile    = flag.String("ppg", "", "PPG sample file to replay (one value per line)")
	sampleRate = flag.Float64("fs", 0, "Sample rate of the PPG file in Hz; overrides the tuning file when set")
	deviceMode = flag.String("mode", string(device.ModeDemo), "Heart rate device: live, demo or none")
	port       = flag.String("port", "/dev/ttyUSB0", "Serial port of the heart rate bridge (live mode)")
	dbFile     = flag.String("db", "", "Session database path; session history is disabled when empty")
	natsURL    = flag.String("nats", "", "NATS server url; publishing is disabled when empty")
	subject    = flag.String("subject", stream.DefaultPrefix, "NATS subject prefix")
	autoplay   = flag.Bool("autoplay", false, "Start playback as soon as the PPG file is loaded")
	debugLog   = flag.Bool("debug", false, "Enable the diag log stream")
	traceLog   = flag.Bool("trace", false, "Enable the trace log stream (implies -debug)")
)

// logWriters routes the ops stream to stderr always and the diag and trace
// streams only when enabled.
func logWriters(w io.Writer, debug, trace bool) monitoring.LogWriters {
	lw := monitoring.LogWriters{Ops: w}
	if debug || trace {
		lw.Diag = w
	}
	if trace {
		lw.Trace = w
	}
	return lw
}

// loadTuning reads the tuning file, or the built-in defaults when path is
// empty, and applies a sample rate override.
func loadTuning(path string, fs float64) (*config.TuningConfig, error) {
	cfg := config.EmptyTuningConfig()
	if path != "" {
		var err error
		if cfg, err = config.LoadTuningConfig(path); err != nil {
			return nil, err
		}
	}
	if fs > 0 {
		cfg.FS = &fs
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("-fs %g: %w", fs, err)
		}
	}
	return cfg, nil
}

// summarise formats a finished session for the shutdown log.
func summarise(rec session.Record, readings int) string {
	avg := func(v float64, ok bool, unit string) string {
		if !ok {
			return "--"
		}
		return humanize.FormatFloat("#,###.#", v) + unit
	}
	return fmt.Sprintf("%s session over %s: %s readings, bpm %s, rmssd %s, sdnn %s, pnn50 %s",
		rec.Source,
		strings.TrimSpace(humanize.RelTime(rec.StartTime, rec.EndTime, "", "")),
		humanize.Comma(int64(readings)),
		avg(rec.AvgBPM.V, rec.AvgBPM.OK, ""),
		avg(rec.AvgRMSSD.V, rec.AvgRMSSD.OK, " ms"),
		avg(rec.AvgSDNN.V, rec.AvgSDNN.OK, " ms"),
		avg(rec.AvgPNN50.V, rec.AvgPNN50.OK, "%"),
	)
}

func main() {
	flag.Parse()

	monitoring.SetLogWriters(logWriters(os.Stderr, *debugLog, *traceLog))
	log.Printf("pulse %s", version.Get())

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	tuning, err := loadTuning(*configFile, *sampleRate)
	if err != nil {
		log.Fatalf("failed to load tuning: %v", err)
	}

	mode, err := device.ParseMode(*deviceMode)
	if err != nil {
		log.Fatalf("invalid -mode: %v", err)
	}

	engine, err := playback.NewEngine(playback.EngineConfig{
		Pipeline:     tuning.Pipeline(),
		TickInterval: tuning.GetTickInterval(),
	})
	if err != nil {
		log.Fatalf("failed to create playback engine: %v", err)
	}
	defer engine.Close()

	if *ppgFile != "" {
		samples, err := ppg.LoadSamples(*ppgFile)
		if err != nil {
			log.Fatalf("failed to load %s: %v", *ppgFile, err)
		}
		engine.Load(samples)
		log.Printf("loaded %s samples from %s (%.1fs at %g Hz)",
			humanize.Comma(int64(len(samples))), *ppgFile, float64(len(samples))/tuning.GetFS(), tuning.GetFS())
		if *autoplay {
			engine.Start()
		}
	}

	dev, err := device.New(mode, device.Options{
		Port:        *port,
		PortOptions: tuning.GetSerial(),
		Interval:    tuning.GetDemoInterval(),
	})
	if err != nil {
		log.Fatalf("failed to create %s device: %v", mode, err)
	}
	monitor := live.NewMonitor(dev, live.Config{
		Validator:         tuning.Validator(),
		TrendPoints:       tuning.GetTrendPoints(),
		ReconnectInterval: tuning.GetReconnectInterval(),
	})

	var store *session.Store
	if *dbFile != "" {
		store, err = session.Open(*dbFile)
		if err != nil {
			log.Fatalf("failed to open session database: %v", err)
		}
		defer store.Close()
	}

	var publisher *stream.Publisher
	if *natsURL != "" {
		nc, err := stream.Connect(*natsURL, "pulse")
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		defer nc.Drain()
		publisher = stream.NewPublisher(nc, *subject)
	}

	opts := api.Options{Player: engine, Activity: tuning.GetActivity(), Limits: tuning.Limits()}
	if mode != device.ModeNone {
		opts.Live = monitor
	}
	if store != nil {
		opts.Sessions = store
	}
	apiServer := api.NewServer(opts)
	hub := apiServer.Hub()

	// the session follows the live device when there is one, playback otherwise
	source := string(mode)
	if mode == device.ModeNone {
		source = "playback"
	}
	acc := session.NewAccumulator(source, time.Now().UTC())

	monitor.OnUpdate(func(snap live.Snapshot) {
		acc.Add(snap.Updated, snap.BPM, snap.Metrics)
		hub.BroadcastLive(snap)
		if publisher != nil {
			_ = publisher.PublishJSON(stream.SubjectLive, snap)
		}
	})

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// playback ticker
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("playback engine stopped: %v", err)
		}
		log.Print("playback routine terminated")
	}()

	// playback snapshots to the session and the message bus
	wg.Add(1)
	go func() {
		defer wg.Done()
		id, c := engine.Subscribe()
		defer engine.Unsubscribe(id)
		for {
			select {
			case snap, ok := <-c:
				if !ok {
					return
				}
				if mode == device.ModeNone && snap.State == playback.Playing {
					acc.Add(time.Now().UTC(), snap.BPM, snap.Metrics)
				}
				if publisher != nil {
					_ = publisher.PublishJSON(stream.SubjectMetrics, snap)
					if len(snap.Waveform) > 0 {
						_ = publisher.PublishWave(snap.Waveform)
					}
				}
			case <-ctx.Done():
				log.Printf("publish routine terminated")
				return
			}
		}
	}()

	// websocket fan-out
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx, engine)
	}()

	// heart rate device
	if mode != device.ModeNone {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := monitor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("%s device stopped: %v", mode, err)
			}
			log.Printf("device routine terminated")
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := apiServer.ServeMux()
		apiServer.AttachAdminRoutes(mux)
		if bridge, ok := dev.(interface{ AttachAdminRoutes(*http.ServeMux) }); ok {
			bridge.AttachAdminRoutes(mux)
		}
		if store != nil {
			if err := store.AttachAdminRoutes(mux); err != nil {
				log.Printf("failed to attach session admin routes: %v", err)
			}
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")
		hub.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()

	rec := acc.Finish(time.Now().UTC())
	log.Print(summarise(rec, acc.Count()))
	if publisher != nil {
		published, failed := publisher.Stats()
		log.Printf("published %s messages to %s.* (%s failed)",
			humanize.Comma(published), *subject, humanize.Comma(failed))
	}
	if store != nil && acc.Count() > 0 {
		saveCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := store.Save(saveCtx, &rec); err != nil {
			log.Printf("failed to save session: %v", err)
		} else {
			log.Printf("saved session %s", rec.ID)
		}
	}
	log.Printf("Graceful shutdown complete")
}
