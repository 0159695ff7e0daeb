package plots

import (
	"fmt"
	"io"
	"math"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/wormbehaviour/internal/compare"
	"github.com/banshee-data/wormbehaviour/internal/reduce"
)

// PieSigfeats writes an interactive pie chart of the number of significant
// features per group. Groups without significant features are left out.
func (p *Plotter) PieSigfeats(res *compare.Result) (string, error) {
	var data []opts.PieData
	for _, s := range SigfeatsShares(res) {
		if s.Count == 0 {
			continue
		}
		data = append(data, opts.PieData{Name: s.Group, Value: s.Count})
	}
	if len(data) == 0 {
		return "", ErrNoData
	}

	pie := charts.NewPie()
	pie.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Significant features", Width: "900px", Height: "700px"}),
		charts.WithTitleOpts(opts.Title{Title: "Significant features", Subtitle: "vs " + res.Control}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Orient: "vertical", Left: "left", Top: "middle"}),
	)
	pie.AddSeries("sigfeats", data,
		charts.WithPieChartOpts(opts.PieChart{Radius: []string{"30%", "65%"}}),
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Formatter: "{b}: {c} ({d}%)"}),
	)
	return p.out.Write(filepath.Join(PlotsDir, "sigfeats_pie.html"), func(w io.Writer) error {
		return pie.Render(w)
	})
}

// PCAScatterHTML writes an interactive PC1 vs PC2 scatter with one series
// per group, followed by a bar chart of the explained variance per
// component.
func (p *Plotter) PCAScatterHTML(r *reduce.PCAResult, labels []string, control string) (string, error) {
	n, c := r.Projected.Dims()
	if c < 2 {
		return "", fmt.Errorf("embedding has %d dimensions, need 2", c)
	}
	if n != len(labels) {
		return "", fmt.Errorf("%d labels for %d rows", len(labels), n)
	}

	xName, yName := "PC1", "PC2"
	if len(r.ExplainedRatio) >= 2 {
		xName = fmt.Sprintf("PC1 (%.1f%%)", 100*r.ExplainedRatio[0])
		yName = fmt.Sprintf("PC2 (%.1f%%)", 100*r.ExplainedRatio[1])
	}
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "PCA", Width: "900px", Height: "700px"}),
		charts.WithTitleOpts(opts.Title{Title: "PCA", Subtitle: fmt.Sprintf("samples=%d", n)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Type: "scroll", Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Name: xName, NameLocation: "middle", NameGap: 25, Scale: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: yName, NameLocation: "middle", NameGap: 30, Scale: opts.Bool(true)}),
	)

	series := make(map[string][]opts.ScatterData)
	for i := 0; i < n; i++ {
		x, y := r.Projected.At(i, 0), r.Projected.At(i, 1)
		if math.IsNaN(x) || math.IsNaN(y) {
			continue
		}
		point := opts.ScatterData{Value: []interface{}{x, y}, SymbolSize: 6}
		if i < len(r.Keys) {
			point.Name = r.Keys[i]
		}
		series[labels[i]] = append(series[labels[i]], point)
	}
	order := uniqueLabels(labels)
	if _, ok := series[control]; ok {
		scatter.AddSeries(control, series[control])
	}
	for _, g := range order {
		if g != control && len(series[g]) > 0 {
			scatter.AddSeries(g, series[g])
		}
	}

	page := components.NewPage().SetPageTitle("PCA")
	page.AddCharts(scatter)
	if len(r.ExplainedRatio) > 0 {
		bar := charts.NewBar()
		bar.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "400px"}),
			charts.WithTitleOpts(opts.Title{Title: "Explained variance"}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		)
		x := make([]string, len(r.ExplainedRatio))
		y := make([]opts.BarData, len(r.ExplainedRatio))
		for i, v := range r.ExplainedRatio {
			x[i] = fmt.Sprintf("PC%d", i+1)
			y[i] = opts.BarData{Value: math.Round(1000*v) / 10}
		}
		bar.SetXAxis(x).AddSeries("% variance", y)
		page.AddCharts(bar)
	}
	return p.out.Write(filepath.Join(PlotsDir, "pca.html"), func(w io.Writer) error {
		return page.Render(w)
	})
}
