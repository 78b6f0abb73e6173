package monitor

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/owlet-data/gaze.report/internal/store"
)

// Fixed series colors for the trace plots.
var (
	traceColorX     = color.RGBA{R: 0x42, G: 0xa5, B: 0xf5, A: 255}
	traceColorY     = color.RGBA{R: 0xff, G: 0xa7, B: 0x26, A: 255}
	traceColorScore = color.RGBA{R: 0xef, G: 0x53, B: 0x50, A: 255}
	traceColorDisp  = color.RGBA{R: 0x66, G: 0xbb, B: 0x6a, A: 255}
	traceColorVel   = color.RGBA{R: 0xab, G: 0x47, B: 0xbc, A: 255}
	traceColorFix   = color.RGBA{R: 0x29, G: 0xb6, B: 0xf6, A: 255}
)

// RenderSessionPlots writes PNG time-series plots for a finished session
// export into outputDir: gaze position, cognitive load and fixation
// durations. Plots with no backing data are skipped. Returns the number of
// files written.
func RenderSessionPlots(doc *store.ExportDocument, outputDir string) (int, error) {
	if doc == nil {
		return 0, fmt.Errorf("nil export document")
	}
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return 0, fmt.Errorf("failed to create output dir: %w", err)
	}

	count := 0
	if written, err := renderGazeTrailPlot(doc, filepath.Join(outputDir, "gaze_trail.png")); err != nil {
		return count, err
	} else if written {
		count++
	}
	if written, err := renderLoadPlot(doc, filepath.Join(outputDir, "cognitive_load.png")); err != nil {
		return count, err
	} else if written {
		count++
	}
	if written, err := renderFixationPlot(doc, filepath.Join(outputDir, "fixation_durations.png")); err != nil {
		return count, err
	} else if written {
		count++
	}
	return count, nil
}

// relSeconds converts a session timestamp to seconds since session start.
func relSeconds(doc *store.ExportDocument, ns int64) float64 {
	return float64(ns-doc.StartedAtNanos) / 1e9
}

// renderGazeTrailPlot plots screen X and Y over time. The full trail is only
// present when trail export is enabled; otherwise the hit positions stand in.
func renderGazeTrailPlot(doc *store.ExportDocument, file string) (bool, error) {
	xPts := make(plotter.XYs, 0, len(doc.GazeTrail))
	yPts := make(plotter.XYs, 0, len(doc.GazeTrail))
	source := "trail"

	if len(doc.GazeTrail) > 0 {
		for _, cs := range doc.GazeTrail {
			t := relSeconds(doc, cs.TimestampNanos)
			xPts = append(xPts, plotter.XY{X: t, Y: cs.ScreenX})
			yPts = append(yPts, plotter.XY{X: t, Y: cs.ScreenY})
		}
	} else {
		source = "hits"
		for _, h := range doc.Hits {
			t := relSeconds(doc, h.SampleTS)
			xPts = append(xPts, plotter.XY{X: t, Y: h.GazeX})
			yPts = append(yPts, plotter.XY{X: t, Y: h.GazeY})
		}
	}
	if len(xPts) == 0 {
		return false, nil
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Gaze Position (%s) - %s", source, doc.SessionID)
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Screen position (px)"

	xLine, err := plotter.NewLine(xPts)
	if err != nil {
		return false, err
	}
	xLine.Color = traceColorX
	xLine.Width = vg.Points(1)
	p.Add(xLine)
	p.Legend.Add("screen x", xLine)

	yLine, err := plotter.NewLine(yPts)
	if err != nil {
		return false, err
	}
	yLine.Color = traceColorY
	yLine.Width = vg.Points(1)
	p.Add(yLine)
	p.Legend.Add("screen y", yLine)

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(14*vg.Inch, 6*vg.Inch, file); err != nil {
		return false, fmt.Errorf("save gaze trail plot: %w", err)
	}
	return true, nil
}

// renderLoadPlot plots the cognitive-load score with its dispersion and
// velocity inputs over time.
func renderLoadPlot(doc *store.ExportDocument, file string) (bool, error) {
	if len(doc.LoadHistory) == 0 {
		return false, nil
	}

	scorePts := make(plotter.XYs, 0, len(doc.LoadHistory))
	dispPts := make(plotter.XYs, 0, len(doc.LoadHistory))
	velPts := make(plotter.XYs, 0, len(doc.LoadHistory))
	for _, l := range doc.LoadHistory {
		t := relSeconds(doc, l.TimestampNanos)
		scorePts = append(scorePts, plotter.XY{X: t, Y: l.Score})
		dispPts = append(dispPts, plotter.XY{X: t, Y: l.DispersionPx})
		velPts = append(velPts, plotter.XY{X: t, Y: l.VelocityPxS})
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Cognitive Load - %s", doc.SessionID)
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Score / px / px/s"

	for _, series := range []struct {
		name  string
		pts   plotter.XYs
		color color.RGBA
	}{
		{"score", scorePts, traceColorScore},
		{"dispersion (px)", dispPts, traceColorDisp},
		{"velocity (px/s)", velPts, traceColorVel},
	} {
		line, err := plotter.NewLine(series.pts)
		if err != nil {
			return false, err
		}
		line.Color = series.color
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(series.name, line)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(14*vg.Inch, 6*vg.Inch, file); err != nil {
		return false, fmt.Errorf("save load plot: %w", err)
	}
	return true, nil
}

// renderFixationPlot plots each fixation's duration at its start time.
func renderFixationPlot(doc *store.ExportDocument, file string) (bool, error) {
	if len(doc.Fixations) == 0 {
		return false, nil
	}

	pts := make(plotter.XYs, 0, len(doc.Fixations))
	for _, f := range doc.Fixations {
		pts = append(pts, plotter.XY{X: relSeconds(doc, f.StartNanos), Y: f.DurationMS})
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Fixation Durations - %s", doc.SessionID)
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Duration (ms)"

	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return false, err
	}
	scatter.GlyphStyle.Color = traceColorFix
	scatter.GlyphStyle.Radius = vg.Points(2.5)
	p.Add(scatter)
	p.Legend.Add("fixation", scatter)

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(14*vg.Inch, 6*vg.Inch, file); err != nil {
		return false, fmt.Errorf("save fixation plot: %w", err)
	}
	return true, nil
}
