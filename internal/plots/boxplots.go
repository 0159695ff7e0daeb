package plots

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"path/filepath"
	"slices"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/wormbehaviour/internal/compare"
	"github.com/banshee-data/wormbehaviour/internal/frame"
	"github.com/banshee-data/wormbehaviour/internal/security"
	"github.com/banshee-data/wormbehaviour/internal/stats"
)

// PlotsDir is the subdirectory of the save directory holding figures.
const PlotsDir = "Plots"

// ErrNoData is returned when a figure would be empty.
var ErrNoData = errors.New("no finite values to plot")

// BoxplotsTopFeatures draws, for every group, control-versus-group boxplots
// of its n highest ranked significant features. Files are named
// Plots/<group>/<rank>_<feature>.
func (p *Plotter) BoxplotsTopFeatures(f *frame.Features, labels []string, res *compare.Result, n int) ([]string, error) {
	if len(labels) != f.Len() {
		return nil, fmt.Errorf("%d labels for %d rows", len(labels), f.Len())
	}
	colors := groupColors(append([]string{res.Control}, res.Groups...), res.Control)
	var written []string
	for _, g := range res.Groups {
		t, ok := res.Pairwise[g]
		if !ok {
			continue
		}
		top := t.Significant()
		if n > 0 && len(top) > n {
			top = top[:n]
		}
		for rank, feat := range top {
			j := f.ColumnIndex(feat)
			if j < 0 {
				continue
			}
			row, _ := t.Row(feat)
			title := fmt.Sprintf("%s\n%s vs %s: p=%.3g %s", feat, g, res.Control,
				row.PCorrected, stats.SigAsterisk(row.PCorrected))
			pl, err := boxPlot(title, feat, []string{res.Control, g}, groupValues(f.ColAt(j), labels), colors)
			if errors.Is(err, ErrNoData) {
				continue
			}
			if err != nil {
				return written, err
			}
			name := filepath.Join(PlotsDir, security.SanitizeFilename(g),
				fmt.Sprintf("%d_%s", rank+1, security.SanitizeFilename(feat)))
			path, err := p.save(pl, name, 5*vg.Inch, 5*vg.Inch)
			if err != nil {
				return written, err
			}
			written = append(written, path)
		}
	}
	return written, nil
}

// BoxplotsByGroup draws one figure per feature with a box for every group,
// ordered by median. When there are more groups than the Plotter allows,
// the control is kept together with the groups whose medians lie furthest
// from it.
func (p *Plotter) BoxplotsByGroup(f *frame.Features, labels []string, control string, features []string) ([]string, error) {
	if len(labels) != f.Len() {
		return nil, fmt.Errorf("%d labels for %d rows", len(labels), f.Len())
	}
	all := uniqueLabels(labels)
	colors := groupColors(all, control)
	var written []string
	for _, feat := range features {
		j := f.ColumnIndex(feat)
		if j < 0 {
			return written, fmt.Errorf("%w: %s", frame.ErrUnknownColumn, feat)
		}
		vals := groupValues(f.ColAt(j), labels)
		groups := orderByMedian(selectGroups(vals, control, p.maxGroups), vals)
		pl, err := boxPlot(feat, feat, groups, vals, colors)
		if errors.Is(err, ErrNoData) {
			p.logger.Debug("nothing to plot", zap.String("feature", feat))
			continue
		}
		if err != nil {
			return written, err
		}
		if len(groups) > 6 {
			pl.X.Tick.Label.Rotation = math.Pi / 2.5
			pl.X.Tick.Label.XAlign = -1
		}
		width := vg.Length(2+len(groups)) * vg.Inch / 2
		path, err := p.save(pl, filepath.Join(PlotsDir, "all_groups", security.SanitizeFilename(feat)), width, 5*vg.Inch)
		if err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

func boxPlot(title, yLabel string, groups []string, vals map[string][]float64, colors map[string]color.Color) (*plot.Plot, error) {
	pl := newPlot(title, "", yLabel)
	var names []string
	for _, g := range groups {
		v := vals[g]
		if len(v) == 0 {
			continue
		}
		b, err := plotter.NewBoxPlot(vg.Points(20), float64(len(names)), plotter.Values(v))
		if err != nil {
			return nil, err
		}
		if c, ok := colors[g]; ok {
			b.FillColor = c
		}
		pl.Add(b)
		names = append(names, g)
	}
	if len(names) == 0 {
		return nil, ErrNoData
	}
	pl.NominalX(names...)
	return pl, nil
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	s := slices.Clone(xs)
	sort.Float64s(s)
	return stat.Quantile(0.5, stat.Empirical, s, nil)
}

// selectGroups returns the groups with data, capped at n with the control
// always included.
func selectGroups(vals map[string][]float64, control string, n int) []string {
	var others []string
	for g, v := range vals {
		if g != control && len(v) > 0 {
			others = append(others, g)
		}
	}
	sort.Strings(others)
	limit := n
	if _, ok := vals[control]; ok {
		limit--
	}
	if len(others) > limit {
		ref := median(vals[control])
		if math.IsNaN(ref) {
			ref = 0
		}
		sort.SliceStable(others, func(a, b int) bool {
			return math.Abs(median(vals[others[a]])-ref) > math.Abs(median(vals[others[b]])-ref)
		})
		others = others[:max(limit, 0)]
	}
	if _, ok := vals[control]; ok {
		others = append(others, control)
	}
	return others
}

func orderByMedian(groups []string, vals map[string][]float64) []string {
	out := slices.Clone(groups)
	m := make(map[string]float64, len(out))
	for _, g := range out {
		m[g] = median(vals[g])
	}
	sort.SliceStable(out, func(a, b int) bool {
		if m[out[a]] != m[out[b]] {
			return m[out[a]] < m[out[b]]
		}
		return out[a] < out[b]
	})
	return out
}
