package plots

import (
	"path/filepath"
	"sort"

	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/wormbehaviour/internal/compare"
)

// SigfeatsShare is the share of tested features a group differs in.
type SigfeatsShare struct {
	Group   string
	Count   int
	Tested  int
	Percent float64
}

// SigfeatsShares returns one entry per compared group, most significant
// features first.
func SigfeatsShares(res *compare.Result) []SigfeatsShare {
	out := make([]SigfeatsShare, 0, len(res.Groups))
	for _, g := range res.Groups {
		t, ok := res.Pairwise[g]
		if !ok {
			continue
		}
		s := SigfeatsShare{Group: g, Count: t.CountCorrected(), Tested: len(t.Rows)}
		if s.Tested > 0 {
			s.Percent = 100 * float64(s.Count) / float64(s.Tested)
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Count > out[b].Count })
	return out
}

// BarSigfeats draws a horizontal bar per group showing the percentage of
// features that differ significantly from the control.
func (p *Plotter) BarSigfeats(res *compare.Result) (string, error) {
	shares := SigfeatsShares(res)
	if len(shares) == 0 {
		return "", ErrNoData
	}
	// Largest bar at the top.
	values := make(plotter.Values, len(shares))
	names := make([]string, len(shares))
	for i, s := range shares {
		k := len(shares) - 1 - i
		values[k] = s.Percent
		names[k] = s.Group
	}
	pl := newPlot("Significant features vs "+res.Control, "% significant features", "")
	bars, err := plotter.NewBarChart(values, vg.Points(12))
	if err != nil {
		return "", err
	}
	bars.Horizontal = true
	bars.Color = generateColors(1)[0]
	pl.Add(bars)
	pl.NominalY(names...)
	pl.X.Min = 0
	height := vg.Length(2+len(shares)) * vg.Inch / 4
	return p.save(pl, filepath.Join(PlotsDir, "sigfeats_bar"), 6*vg.Inch, max(height, 3*vg.Inch))
}
