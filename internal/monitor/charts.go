// Package monitor serves debugging visualisations for gaze sessions: HTML
// chart pages rendered with go-echarts for live inspection, and PNG trace
// plots rendered with gonum/plot from finished session exports. Nothing in
// this package is part of the product API; handlers are mounted only when
// the server runs with debug enabled.
package monitor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/owlet-data/gaze.report/internal/gaze"
	"github.com/owlet-data/gaze.report/internal/session"
)

// echartsAssetsPrefix points generated pages at the public echarts asset
// bundle so chart pages work without a local static file mount.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

type chartServer struct {
	reg *session.Registry
}

// AttachChartRoutes mounts the debug chart pages on mux. All pages accept an
// optional session_id query parameter and default to the active session.
func AttachChartRoutes(mux *http.ServeMux, reg *session.Registry) {
	cs := &chartServer{reg: reg}
	mux.HandleFunc("/debug/charts", cs.handleDashboard)
	mux.HandleFunc("/debug/charts/gaze", cs.handleGazeChart)
	mux.HandleFunc("/debug/charts/dwell", cs.handleDwellChart)
	mux.HandleFunc("/debug/charts/load", cs.handleLoadChart)
}

func (cs *chartServer) writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (cs *chartServer) resolve(r *http.Request) (*session.Session, error) {
	return cs.reg.Resolve(r.URL.Query().Get("session_id"))
}

// handleGazeChart renders gaze hit positions, fixation centroids and AOI
// outlines on one screen-space scatter plot.
// Query params:
//   - session_id (optional; defaults to the active session)
//   - max_points (optional; default 4000) to reduce payload size
func (cs *chartServer) handleGazeChart(w http.ResponseWriter, r *http.Request) {
	sess, err := cs.resolve(r)
	if err != nil {
		cs.writeJSONError(w, http.StatusNotFound, "no session to chart")
		return
	}

	maxPoints := 4000
	if mp := r.URL.Query().Get("max_points"); mp != "" {
		if v, err := strconv.Atoi(mp); err == nil && v > 100 && v <= 50000 {
			maxPoints = v
		}
	}

	hits := sess.HitLog().AllHits()
	fixations := sess.HitLog().AllFixations()
	aois := sess.AOIs()
	if len(hits) == 0 && len(fixations) == 0 && len(aois) == 0 {
		cs.writeJSONError(w, http.StatusNotFound, "no gaze data recorded")
		return
	}

	stride := 1
	if len(hits) > maxPoints {
		stride = (len(hits) + maxPoints - 1) / maxPoints
	}

	maxX, maxY := 0.0, 0.0
	grow := func(x, y float64) {
		if x > maxX {
			maxX = x
		}
		if y > maxY {
			maxY = y
		}
	}

	hitPts := make([]opts.ScatterData, 0, len(hits)/stride+1)
	for i := 0; i < len(hits); i += stride {
		h := hits[i]
		grow(h.GazeX, h.GazeY)
		hitPts = append(hitPts, opts.ScatterData{Value: []interface{}{h.GazeX, h.GazeY}})
	}

	fixPts := make([]opts.ScatterData, 0, len(fixations))
	for _, f := range fixations {
		grow(f.CentroidX, f.CentroidY)
		fixPts = append(fixPts, opts.ScatterData{Value: []interface{}{f.CentroidX, f.CentroidY}})
	}

	vocabPts := make([]opts.ScatterData, 0, len(aois)*16)
	contentPts := make([]opts.ScatterData, 0, len(aois)*16)
	for _, a := range aois {
		grow(a.X+a.W, a.Y+a.H)
		outline := aoiOutline(a, 10)
		if a.Kind == gaze.AOIVocab {
			vocabPts = append(vocabPts, outline...)
		} else {
			contentPts = append(contentPts, outline...)
		}
	}

	// Add a small padding so points at the edges are visible
	padX := maxX * 1.05
	if padX == 0 {
		padX = 1.0
	}
	padY := maxY * 1.05
	if padY == 0 {
		padY = 1.0
	}

	subtitle := fmt.Sprintf("session=%s hits=%d fixations=%d aois=%d stride=%d",
		sess.ID(), len(hits), len(fixations), len(aois), stride)

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Gaze Hits & AOIs", Theme: "dark", Width: "900px", Height: "900px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Gaze Hits & AOIs", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: 0, Max: padX, Name: "Screen X (px)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: padY, Name: "Screen Y (px, down)", NameLocation: "middle", NameGap: 30}),
	)

	scatter.AddSeries("hits", hitPts, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 4}), charts.WithItemStyleOpts(opts.ItemStyle{Color: "#9e9e9e"}))
	scatter.AddSeries("fixations", fixPts, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 10}), charts.WithItemStyleOpts(opts.ItemStyle{Color: "#ff5252"}))
	scatter.AddSeries("vocab AOIs", vocabPts, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}), charts.WithItemStyleOpts(opts.ItemStyle{Color: "#fde725"}))
	scatter.AddSeries("content AOIs", contentPts, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}), charts.WithItemStyleOpts(opts.ItemStyle{Color: "#26828e"}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		cs.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render gaze chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// aoiOutline traces the AOI rectangle perimeter as scatter points so the
// boxes show up on the same axes as the gaze data.
func aoiOutline(a gaze.AOI, step float64) []opts.ScatterData {
	if step <= 0 {
		step = 10
	}
	pts := make([]opts.ScatterData, 0, int((a.W+a.H)/step)*2+8)
	add := func(x, y float64) {
		pts = append(pts, opts.ScatterData{Value: []interface{}{x, y}})
	}
	for x := a.X; x < a.X+a.W; x += step {
		add(x, a.Y)
		add(x, a.Y+a.H)
	}
	for y := a.Y; y < a.Y+a.H; y += step {
		add(a.X, y)
		add(a.X+a.W, y)
	}
	add(a.X+a.W, a.Y+a.H)
	return pts
}

// handleDwellChart renders accumulated per-AOI dwell and hit counts as a bar
// chart, ordered by dwell so the most-read words come first.
func (cs *chartServer) handleDwellChart(w http.ResponseWriter, r *http.Request) {
	sess, err := cs.resolve(r)
	if err != nil {
		cs.writeJSONError(w, http.StatusNotFound, "no session to chart")
		return
	}

	aggs := sess.HitLog().Aggregates()
	if len(aggs) == 0 {
		cs.writeJSONError(w, http.StatusNotFound, "no AOI hits recorded")
		return
	}

	rows := make([]gaze.AOIAggregate, 0, len(aggs))
	for _, agg := range aggs {
		rows = append(rows, agg)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].TotalDwellMS != rows[j].TotalDwellMS {
			return rows[i].TotalDwellMS > rows[j].TotalDwellMS
		}
		return rows[i].Count > rows[j].Count
	})
	if len(rows) > 30 {
		rows = rows[:30]
	}

	x := make([]string, 0, len(rows))
	dwell := make([]opts.BarData, 0, len(rows))
	counts := make([]opts.BarData, 0, len(rows))
	for _, row := range rows {
		label := row.Text
		if label == "" {
			label = row.AOIID
		}
		x = append(x, label)
		dwell = append(dwell, opts.BarData{Value: row.TotalDwellMS})
		counts = append(counts, opts.BarData{Value: row.Count})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "720px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "AOI Dwell", Subtitle: fmt.Sprintf("session=%s aois=%d %s", sess.ID(), len(rows), time.Now().UTC().Format(time.RFC3339))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries("dwell (ms)", dwell,
			charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}),
		).
		AddSeries("hits", counts)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		cs.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render error: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleLoadChart renders the published cognitive-load history as a line
// chart with the score colored through the green/orange/red load bands.
func (cs *chartServer) handleLoadChart(w http.ResponseWriter, r *http.Request) {
	sess, err := cs.resolve(r)
	if err != nil {
		cs.writeJSONError(w, http.StatusNotFound, "no session to chart")
		return
	}

	history := sess.SnapshotNow().LoadHistory
	if len(history) == 0 {
		cs.writeJSONError(w, http.StatusNotFound, "no load history available")
		return
	}

	base := history[0].TimestampNanos
	x := make([]string, 0, len(history))
	score := make([]opts.LineData, 0, len(history))
	dispersion := make([]opts.LineData, 0, len(history))
	velocity := make([]opts.LineData, 0, len(history))
	for _, l := range history {
		x = append(x, fmt.Sprintf("%.1fs", float64(l.TimestampNanos-base)/1e9))
		score = append(score, opts.LineData{Value: l.Score})
		dispersion = append(dispersion, opts.LineData{Value: l.DispersionPx})
		velocity = append(velocity, opts.LineData{Value: l.VelocityPxS})
	}
	current := history[len(history)-1]

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Cognitive Load", Theme: "dark", Width: "1200px", Height: "500px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Cognitive Load", Subtitle: fmt.Sprintf("session=%s score=%.0f level=%s", sess.ID(), current.Score, current.Level)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Window", NameLocation: "middle", NameGap: 25}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        100,
			InRange:    &opts.VisualMapInRange{Color: []string{"#4caf50", "#ff9800", "#f44336"}},
		}),
	)
	line.SetXAxis(x).
		AddSeries("score", score).
		AddSeries("dispersion (px)", dispersion).
		AddSeries("velocity (px/s)", velocity)
	line.SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}))

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		cs.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render load chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleDashboard renders a simple page with iframes to the debug charts.
func (cs *chartServer) handleDashboard(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		if active, ok := cs.reg.Active(); ok {
			sessionID = active.ID()
		}
	}
	safeSessionID := html.EscapeString(sessionID)
	qs := ""
	if sessionID != "" {
		qs = "?session_id=" + url.QueryEscape(sessionID)
	}
	safeQs := html.EscapeString(qs)

	doc := fmt.Sprintf(dashboardHTML, safeSessionID, safeQs)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(doc))
}

const dashboardHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Gaze Debug Dashboard</title>
<style>
body { background: #111; color: #ddd; font-family: sans-serif; margin: 24px; }
h1 { font-size: 20px; }
small { color: #888; }
iframe { border: 1px solid #333; background: #1e1e1e; display: block; margin-bottom: 24px; }
</style>
</head>
<body>
<h1>Gaze Debug Dashboard <small>session %[1]s</small></h1>
<iframe src="/debug/charts/gaze%[2]s" width="940" height="960"></iframe>
<iframe src="/debug/charts/load%[2]s" width="1240" height="540"></iframe>
<iframe src="/debug/charts/dwell%[2]s" width="1240" height="760"></iframe>
</body>
</html>
`
