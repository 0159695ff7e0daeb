package plots

import (
	"fmt"
	"image/color"
	"math"
	"path/filepath"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/wormbehaviour/internal/frame"
	"github.com/banshee-data/wormbehaviour/internal/reduce"
)

// maxClusterFeatures bounds the feature axis clustering, which is cubic in
// the number of features. Wider matrices keep their column order.
const maxClusterFeatures = 500

// Clustermap is the group-by-feature matrix behind a clustered heatmap.
type Clustermap struct {
	Groups   []string // row order after clustering
	Features []string // column order after clustering
	Means    *mat.Dense
}

// GroupMeans z-scores f and averages every feature within each group.
// Rows and columns are ordered by hierarchical clustering.
func GroupMeans(f *frame.Features, labels []string, linkage reduce.Linkage) (*Clustermap, error) {
	if len(labels) != f.Len() {
		return nil, fmt.Errorf("%d labels for %d rows", len(labels), f.Len())
	}
	z, _ := reduce.ZScore(f)
	if z.Width() == 0 {
		return nil, ErrNoData
	}
	groups := uniqueLabels(labels)
	index := make(map[string]int, len(groups))
	for i, g := range groups {
		index[g] = i
	}
	sums := mat.NewDense(len(groups), z.Width(), nil)
	counts := make([][]int, len(groups))
	for g := range counts {
		counts[g] = make([]int, z.Width())
	}
	for i := 0; i < z.Len(); i++ {
		g := index[labels[i]]
		for j := 0; j < z.Width(); j++ {
			if v := z.At(i, j); !math.IsNaN(v) {
				sums.Set(g, j, sums.At(g, j)+v)
				counts[g][j]++
			}
		}
	}
	for g := range groups {
		for j := 0; j < z.Width(); j++ {
			if counts[g][j] == 0 {
				sums.Set(g, j, math.NaN())
				continue
			}
			sums.Set(g, j, sums.At(g, j)/float64(counts[g][j]))
		}
	}

	rowOrder := identity(len(groups))
	if len(groups) > 1 {
		rowOrder = reduce.ClusterOrder(sums, linkage)
	}
	colOrder := identity(z.Width())
	if z.Width() > 1 && z.Width() <= maxClusterFeatures {
		colOrder = reduce.ClusterOrder(sums.T(), linkage)
	}

	out := &Clustermap{Means: mat.NewDense(len(groups), z.Width(), nil)}
	for r, gi := range rowOrder {
		out.Groups = append(out.Groups, groups[gi])
		for c, fj := range colOrder {
			out.Means.Set(r, c, sums.At(gi, fj))
		}
	}
	for _, fj := range colOrder {
		out.Features = append(out.Features, z.Names[fj])
	}
	return out, nil
}

func identity(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// grid adapts a Clustermap to plotter.GridXYZ with features along X.
type grid struct{ m *mat.Dense }

func (g grid) Dims() (c, r int) {
	r, c = g.m.Dims()
	return c, r
}
func (g grid) Z(c, r int) float64 { return g.m.At(r, c) }
func (g grid) X(c int) float64    { return float64(c) }
func (g grid) Y(r int) float64    { return float64(r) }

// Clustermap draws the clustered group means as a diverging heatmap.
func (p *Plotter) Clustermap(f *frame.Features, labels []string, linkage reduce.Linkage, name string) (string, error) {
	cm, err := GroupMeans(f, labels, linkage)
	if err != nil {
		return "", err
	}
	limit := 0.0
	r, c := cm.Means.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := math.Abs(cm.Means.At(i, j)); v > limit && !math.IsInf(v, 0) {
				limit = v
			}
		}
	}
	if limit == 0 {
		limit = 1
	}

	hm := plotter.NewHeatMap(grid{cm.Means}, moreland.SmoothBlueRed().Palette(255))
	hm.Min, hm.Max = -limit, limit
	hm.NaN = color.Transparent

	pl := newPlot(fmt.Sprintf("Group means (z-score, ±%.2g)", limit), "", "")
	pl.Add(hm)
	pl.NominalY(cm.Groups...)
	if c <= 60 {
		pl.NominalX(cm.Features...)
		pl.X.Tick.Label.Rotation = math.Pi / 2
		pl.X.Tick.Label.XAlign = -1
	} else {
		pl.X.Label.Text = fmt.Sprintf("%d features", c)
		pl.X.Tick.Marker = plot.ConstantTicks{}
	}
	p.logger.Debug("clustermap", zap.Int("groups", r), zap.Int("features", c))
	height := max(vg.Length(2+r)*vg.Inch/4, 4*vg.Inch)
	return p.save(pl, filepath.Join(PlotsDir, name), 12*vg.Inch, height)
}
