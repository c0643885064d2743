package api

import (
	"bytes"
	"fmt"
	"image/color"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"tailscale.com/tsweb"

	"github.com/banshee-data/pulse.report/internal/httputil"
)

// AttachAdminRoutes mounts the waveform and tachogram debug views under
// /debug/.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("waveform", "Filtered waveform in the current playback window", s.handleWaveformChart)
	debug.HandleFunc("tachogram.png", "NN interval history as a PNG", s.handleTachogram)
}

// handleWaveformChart renders the display waveform of the latest playback
// snapshot as an HTML line chart.
func (s *Server) handleWaveformChart(w http.ResponseWriter, r *http.Request) {
	snap := s.player.Snapshot()
	if len(snap.Waveform) == 0 {
		httputil.NotFound(w, "no waveform available yet")
		return
	}

	x := make([]string, len(snap.Waveform))
	y := make([]opts.LineData, len(snap.Waveform))
	for i, v := range snap.Waveform {
		x[i] = strconv.Itoa(i)
		y[i] = opts.LineData{Value: v}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "PPG Waveform", Theme: "dark", Width: "1200px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Filtered PPG",
			Subtitle: fmt.Sprintf("state=%s bpm=%s points=%d", snap.State, formatValue(snap.BPM.V, snap.BPM.OK), len(y)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "point", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "normalised", NameLocation: "middle", NameGap: 30}),
	)
	line.SetXAxis(x).AddSeries("waveform", y)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleTachogram plots the NN history, oldest first. ?source=live plots the
// live monitor's intervals instead of playback's.
func (s *Server) handleTachogram(w http.ResponseWriter, r *http.Request) {
	var intervals []float64
	source := r.URL.Query().Get("source")
	switch source {
	case "", "playback":
		source = "playback"
		intervals = s.player.Intervals()
	case "live":
		if s.live == nil {
			httputil.NotFound(w, "no live device configured")
			return
		}
		intervals = s.live.Intervals()
	default:
		httputil.BadRequest(w, fmt.Sprintf("unknown source %q", source))
		return
	}
	if len(intervals) < 2 {
		httputil.NotFound(w, "not enough intervals to plot")
		return
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Tachogram (%s, %d intervals)", source, len(intervals))
	p.X.Label.Text = "beat"
	p.Y.Label.Text = "NN (ms)"

	pts := make(plotter.XYs, len(intervals))
	for i, v := range intervals {
		pts[i] = plotter.XY{X: float64(i), Y: v}
	}
	l, err := plotter.NewLine(pts)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to build plot: %v", err))
		return
	}
	l.Color = color.RGBA{R: 220, G: 40, B: 60, A: 255}
	l.Width = vg.Points(1)
	p.Add(l)

	wt, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to encode plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}

func formatValue(v float64, ok bool) string {
	if !ok {
		return "--"
	}
	return strconv.FormatFloat(v, 'f', 1, 64)
}
