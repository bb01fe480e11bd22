// Package viz renders training diagnostics with gonum/plot. The output
// format follows the file extension (.png, .svg, .pdf, ...).
package viz

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/YuminosukeSato/scihmm/pkg/errors"
)

const (
	width  = 8 * vg.Inch
	height = 4 * vg.Inch
)

// SaveTrainingCurve plots the per-iteration log-likelihood of a training run.
func SaveTrainingCurve(history []float64, file string) error {
	if len(history) == 0 {
		return errors.NewValidationError("history", "must not be empty", 0)
	}

	pts := make(plotter.XYs, len(history))
	for i, ll := range history {
		pts[i].X = float64(i + 1)
		pts[i].Y = ll
	}

	p := plot.New()
	p.Title.Text = "Baum-Welch training"
	p.X.Label.Text = "iteration"
	p.Y.Label.Text = "log-likelihood"
	p.Add(plotter.NewGrid())

	if err := plotutil.AddLinePoints(p, "log-likelihood", pts); err != nil {
		return errors.Wrap(err, "viz: failed to add training curve")
	}
	return save(p, file)
}

// SaveStatePath plots column feature of X over time with each point
// coloured by its decoded state.
func SaveStatePath(X mat.Matrix, feature int, path []int, file string) error {
	rows, cols := X.Dims()
	if feature < 0 || feature >= cols {
		return errors.NewValidationError("feature", "out of range", feature)
	}
	if len(path) != rows {
		return errors.NewDimensionError("viz.SaveStatePath", rows, len(path), 0)
	}
	if rows == 0 {
		return errors.NewValidationError("X", "must not be empty", 0)
	}

	series := make(plotter.XYs, rows)
	byState := map[int]plotter.XYs{}
	nStates := 0
	for t := 0; t < rows; t++ {
		xy := plotter.XY{X: float64(t), Y: X.At(t, feature)}
		series[t] = xy
		byState[path[t]] = append(byState[path[t]], xy)
		if path[t]+1 > nStates {
			nStates = path[t] + 1
		}
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("decoded states, feature %d", feature)
	p.X.Label.Text = "t"
	p.Y.Label.Text = "observation"

	line, err := plotter.NewLine(series)
	if err != nil {
		return errors.Wrap(err, "viz: failed to build observation line")
	}
	line.Color = plotutil.Color(7)
	p.Add(line)

	for j := 0; j < nStates; j++ {
		pts, ok := byState[j]
		if !ok {
			continue
		}
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return errors.Wrapf(err, "viz: failed to build scatter for state %d", j)
		}
		sc.GlyphStyle.Color = plotutil.Color(j)
		sc.GlyphStyle.Shape = draw.CircleGlyph{}
		sc.GlyphStyle.Radius = vg.Points(2)
		p.Add(sc)
		p.Legend.Add(fmt.Sprintf("state %d", j), sc)
	}
	p.Legend.Top = true

	return save(p, file)
}

func save(p *plot.Plot, file string) error {
	if err := p.Save(width, height, file); err != nil {
		return errors.Wrapf(err, "viz: failed to save %s", file)
	}
	return nil
}
