package plots

import (
	"fmt"
	"math"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/wormbehaviour/internal/reduce"
)

// Axes names a figure and its axes.
type Axes struct {
	Title string
	X, Y  string
}

// Embedding draws the first two columns of coords as a scatter with one
// colour per group. Groups are drawn in first-seen order with the control
// first.
func (p *Plotter) Embedding(coords mat.Matrix, labels []string, control string, axes Axes, name string) (string, error) {
	n, c := coords.Dims()
	if c < 2 {
		return "", fmt.Errorf("embedding has %d dimensions, need 2", c)
	}
	if n != len(labels) {
		return "", fmt.Errorf("%d labels for %d rows", len(labels), n)
	}
	groups := uniqueLabels(labels)
	colors := groupColors(groups, control)

	points := make(map[string]plotter.XYs, len(groups))
	for i := 0; i < n; i++ {
		x, y := coords.At(i, 0), coords.At(i, 1)
		if math.IsNaN(x) || math.IsNaN(y) {
			continue
		}
		points[labels[i]] = append(points[labels[i]], plotter.XY{X: x, Y: y})
	}

	pl := newPlot(axes.Title, axes.X, axes.Y)
	order := make([]string, 0, len(groups))
	if _, ok := points[control]; ok {
		order = append(order, control)
	}
	for _, g := range groups {
		if g != control {
			order = append(order, g)
		}
	}
	drawn := 0
	for _, g := range order {
		xys := points[g]
		if len(xys) == 0 {
			continue
		}
		s, err := plotter.NewScatter(xys)
		if err != nil {
			return "", err
		}
		s.GlyphStyle.Color = colors[g]
		s.GlyphStyle.Radius = vg.Points(3)
		s.GlyphStyle.Shape = draw.CircleGlyph{}
		pl.Add(s)
		if len(order) <= p.maxGroups {
			pl.Legend.Add(g, s)
		}
		drawn++
	}
	if drawn == 0 {
		return "", ErrNoData
	}
	return p.save(pl, filepath.Join(PlotsDir, name), 8*vg.Inch, 6*vg.Inch)
}

// PCAScatter draws samples on the first two principal components.
func (p *Plotter) PCAScatter(r *reduce.PCAResult, labels []string, control, name string) (string, error) {
	axes := Axes{Title: "PCA", X: "PC1", Y: "PC2"}
	if len(r.ExplainedRatio) >= 2 {
		axes.X = fmt.Sprintf("PC1 (%.1f%%)", 100*r.ExplainedRatio[0])
		axes.Y = fmt.Sprintf("PC2 (%.1f%%)", 100*r.ExplainedRatio[1])
	}
	return p.Embedding(r.Projected, labels, control, axes, name)
}

// ExplainedVariance draws the cumulative explained variance against the
// number of components.
func (p *Plotter) ExplainedVariance(r *reduce.PCAResult) (string, error) {
	if len(r.Cumulative) == 0 {
		return "", ErrNoData
	}
	xys := make(plotter.XYs, len(r.Cumulative))
	for i, v := range r.Cumulative {
		xys[i] = plotter.XY{X: float64(i + 1), Y: 100 * v}
	}
	pl := newPlot("Cumulative explained variance", "Number of principal components", "Variance explained (%)")
	line, points, err := plotter.NewLinePoints(xys)
	if err != nil {
		return "", err
	}
	line.Color = generateColors(1)[0]
	points.Shape = draw.CircleGlyph{}
	points.Radius = vg.Points(2)
	pl.Add(line, points, plotter.NewGrid())
	pl.Y.Min, pl.Y.Max = 0, 100
	return p.save(pl, filepath.Join(PlotsDir, "pca_explained_variance"), 6*vg.Inch, 4*vg.Inch)
}
