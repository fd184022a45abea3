package eval

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var curveColors = []color.Color{
	color.RGBA{R: 31, G: 119, B: 180, A: 255},
	color.RGBA{R: 255, G: 127, B: 14, A: 255},
	color.RGBA{R: 44, G: 160, B: 44, A: 255},
	color.RGBA{R: 214, G: 39, B: 40, A: 255},
	color.RGBA{R: 148, G: 103, B: 189, A: 255},
	color.RGBA{R: 140, G: 86, B: 75, A: 255},
}

// PlotPrecisionRecall renders the precision-recall curves of all models to
// path. The image format follows the file extension (png, svg, pdf).
func (e *Evaluator) PlotPrecisionRecall(path string) error {
	if !e.HasResults() {
		return ErrNoResults
	}
	p := plot.New()
	p.Title.Text = "Precision / Recall"
	p.X.Label.Text = "Recall"
	p.Y.Label.Text = "Precision"
	p.X.Min, p.X.Max = 0, 1
	p.Y.Min, p.Y.Max = 0, 1
	p.Add(plotter.NewGrid())

	for i, c := range e.results {
		if len(c.Rows) == 0 {
			continue
		}
		pts := make(plotter.XYs, len(c.Rows))
		for r := range c.Rows {
			pts[r] = plotter.XY{X: c.Recall(r), Y: c.Precision(r)}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("model %d: %w", i, err)
		}
		line.Color = curveColors[i%len(curveColors)]
		line.Width = vg.Points(1.5)
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("%s (AP %.3f)", e.className(i), c.AveragePrecision()), line)
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(6*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save plot %s: %w", path, err)
	}
	return nil
}
