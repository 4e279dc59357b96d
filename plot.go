package steam

import (
	"fmt"
	"image/color"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// PlotExporter records the cost of every iteration and renders it as a line
// plot when closed. The image format follows the file extension (png, svg,
// pdf, ...).
type PlotExporter struct {
	path     string
	title    string
	costs    plotter.XYs
	rejected plotter.XYs
}

// NewPlotExporter returns an exporter which will write the cost history to
// dir/filename on Close.
func NewPlotExporter(dir, filename, title string) (*PlotExporter, error) {
	if filepath.Ext(filename) == "" {
		return nil, fmt.Errorf("plot file %q has no extension", filename)
	}
	return &PlotExporter{path: filepath.Join(dir, filename), title: title}, nil
}

// Write implements Exporter.
func (e *PlotExporter) Write(it Iteration) error {
	pt := plotter.XY{X: float64(it.Iteration), Y: it.Cost}
	e.costs = append(e.costs, pt)
	if !it.Accepted {
		e.rejected = append(e.rejected, pt)
	}
	return nil
}

// Len returns the number of recorded iterations.
func (e *PlotExporter) Len() int {
	return len(e.costs)
}

// Name returns the path of the plot file.
func (e *PlotExporter) Name() string {
	return e.path
}

// Close renders the plot. Nothing is written when no iteration was recorded.
func (e *PlotExporter) Close() error {
	if len(e.costs) == 0 {
		return nil
	}
	p := plot.New()
	p.Title.Text = e.title
	p.X.Label.Text = "Iteration"
	p.Y.Label.Text = "Cost"

	line, err := plotter.NewLine(e.costs)
	if err != nil {
		return fmt.Errorf("failed to create cost line: %w", err)
	}
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add("cost", line)

	if len(e.rejected) > 0 {
		sc, err := plotter.NewScatter(e.rejected)
		if err != nil {
			return fmt.Errorf("failed to create rejected steps: %w", err)
		}
		sc.Color = color.RGBA{R: 200, A: 255}
		p.Add(sc)
		p.Legend.Add("rejected", sc)
	}

	if err := p.Save(8*vg.Inch, 4*vg.Inch, e.path); err != nil {
		return fmt.Errorf("failed to save plot: %w", err)
	}
	return nil
}
