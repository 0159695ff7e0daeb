package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/banshee-data/wormbehaviour/internal/config"
	"github.com/banshee-data/wormbehaviour/internal/frame"
	"github.com/banshee-data/wormbehaviour/internal/plots"
	"github.com/banshee-data/wormbehaviour/internal/reduce"
	"github.com/banshee-data/wormbehaviour/internal/results"
)

// maxSavedComponents bounds the number of projected components written out.
const maxSavedComponents = 10

// Reduce projects the cleaned features with PCA, optionally removing
// Mahalanobis outliers first, writes the projections and loadings, and
// draws the PCA, t-SNE and UMAP figures.
func (p *Pipeline) Reduce(ctx context.Context, d *Data, params *config.Params, out *results.Writer, rep *Report) error {
	var (
		z    *frame.Features
		meta = d.Metadata
		pca  *reduce.PCAResult
		err  error
	)
	if params.GetRemoveOutliers() {
		res, err := reduce.RemoveOutliers(d.Features, d.Metadata, reduce.OutlierOptions{
			NPCs:        params.GetOutlierPCs(),
			Extremeness: params.GetOutlierExtremeness(),
			Logger:      p.logger,
		})
		if err != nil {
			return err
		}
		z, meta, pca = res.Features, res.Metadata, res.PCA
		rep.Outliers = res.Outliers
		if err := rep.add(out.WriteList("PCA/outliers.txt", res.Outliers)); err != nil {
			return err
		}
	} else {
		var dropped []string
		z, dropped = reduce.ZScore(d.Features)
		if len(dropped) > 0 {
			p.logger.Info("dropped features after normalisation", zap.Int("count", len(dropped)))
		}
		if pca, err = reduce.PCA(z, 0); err != nil {
			return err
		}
	}
	rep.PCA = pca
	p.logger.Info("PCA",
		zap.Int("samples", z.Len()),
		zap.Int("components", len(pca.ExplainedRatio)),
		zap.Int("components_for_95pct", pca.ComponentsFor(0.95)))

	if err := p.writePCA(pca, out, rep); err != nil {
		return err
	}

	labels, err := meta.Column(d.GroupBy)
	if err != nil {
		return err
	}
	pl, err := p.plotter(params, out)
	if err != nil {
		return err
	}
	control := params.GetControl()
	p.plotted(rep, "pca scatter")(pl.PCAScatter(pca, labels, control, "pca_scatter"))
	p.plotted(rep, "explained variance")(pl.ExplainedVariance(pca))
	p.plotted(rep, "pca html")(pl.PCAScatterHTML(pca, labels, control))

	seed := params.GetSeed()
	for _, perp := range params.GetTSNEPerplexities() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if perp >= float64(z.Len()) {
			p.logger.Info("skipping t-SNE: perplexity not below the sample count",
				zap.Float64("perplexity", perp), zap.Int("samples", z.Len()))
			continue
		}
		opts := reduce.DefaultTSNEOptions()
		opts.Perplexity, opts.Seed = perp, seed
		emb, err := reduce.TSNE(z.Data, opts)
		if err != nil {
			p.logger.Warn("t-SNE failed", zap.Float64("perplexity", perp), zap.Error(err))
			continue
		}
		axes := plots.Axes{Title: fmt.Sprintf("t-SNE (perplexity %g)", perp), X: "tSNE-1", Y: "tSNE-2"}
		p.plotted(rep, "t-SNE")(pl.Embedding(emb, labels, control, axes, filepath.Join("tSNE", fmt.Sprintf("perplexity_%g", perp))))
	}
	for _, k := range params.GetUMAPNeighbours() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if k >= z.Len() {
			p.logger.Info("skipping UMAP: neighbours not below the sample count",
				zap.Int("neighbours", k), zap.Int("samples", z.Len()))
			continue
		}
		opts := reduce.DefaultUMAPOptions()
		opts.Neighbors, opts.Seed = k, seed
		emb, err := reduce.UMAP(z.Data, opts)
		if err != nil {
			p.logger.Warn("UMAP failed", zap.Int("neighbours", k), zap.Error(err))
			continue
		}
		axes := plots.Axes{Title: fmt.Sprintf("UMAP (%d neighbours)", k), X: "UMAP-1", Y: "UMAP-2"}
		p.plotted(rep, "UMAP")(pl.Embedding(emb, labels, control, axes, filepath.Join("UMAP", fmt.Sprintf("neighbours_%d", k))))
	}
	return nil
}

func (p *Pipeline) writePCA(pca *reduce.PCAResult, out *results.Writer, rep *Report) error {
	_, k := pca.Projected.Dims()
	k = min(k, maxSavedComponents)
	names := make([]string, k)
	for c := range names {
		names[c] = fmt.Sprintf("PC%d", c+1)
	}
	rows := make([][]float64, len(pca.Keys))
	for i := range rows {
		rows[i] = make([]float64, k)
		for c := 0; c < k; c++ {
			rows[i][c] = pca.Projected.At(i, c)
		}
	}
	projected, err := frame.NewFeatures(pca.Keys, names, rows)
	if err != nil {
		return err
	}
	if err := rep.add(out.Write("PCA/projected.csv", writeFeatures(projected, "row_key"))); err != nil {
		return err
	}

	variance := make([][]float64, len(pca.ExplainedRatio))
	components := make([]string, len(pca.ExplainedRatio))
	for c, r := range pca.ExplainedRatio {
		components[c] = fmt.Sprintf("PC%d", c+1)
		variance[c] = []float64{r, pca.Cumulative[c]}
	}
	ev, err := frame.NewFeatures(components, []string{"explained_ratio", "cumulative"}, variance)
	if err != nil {
		return err
	}
	if err := rep.add(out.Write("PCA/explained_variance.csv", writeFeatures(ev, "component"))); err != nil {
		return err
	}

	for c := 0; c < min(2, k); c++ {
		top, err := pca.TopLoadings(c, 20)
		if err != nil {
			return err
		}
		lines := make([]string, len(top))
		for i, l := range top {
			lines[i] = fmt.Sprintf("%s,%s", l.Feature, frame.FormatValue(l.Weight))
		}
		if err := rep.add(out.WriteList(fmt.Sprintf("PCA/top_loadings_PC%d.txt", c+1), lines)); err != nil {
			return err
		}
	}
	return nil
}

// plotStats draws the comparison figures. Failures are logged and skipped.
func (p *Pipeline) plotStats(d *Data, params *config.Params, out *results.Writer, rep *Report) {
	pl, err := p.plotter(params, out)
	if err != nil {
		p.logger.Warn("plots disabled", zap.Error(err))
		return
	}
	labels, err := d.Labels()
	if err != nil {
		p.logger.Warn("plots disabled", zap.Error(err))
		return
	}
	res := rep.Result
	n := params.GetTopNPlots()

	p.plotted(rep, "sigfeats bar")(pl.BarSigfeats(res))
	p.plotted(rep, "sigfeats pie")(pl.PieSigfeats(res))
	p.plottedAll(rep, "top feature boxplots")(pl.BoxplotsTopFeatures(d.Features, labels, res, n))
	top := res.SignificantAny
	if n < len(top) {
		top = top[:n]
	}
	p.plottedAll(rep, "group boxplots")(pl.BoxplotsByGroup(d.Features, labels, res.Control, top))
	p.plotted(rep, "clustermap")(pl.Clustermap(d.Features, labels, reduce.CompleteLinkage, "clustermap"))
}

func (p *Pipeline) plotter(params *config.Params, out *results.Writer) (*plots.Plotter, error) {
	return plots.New(out, plots.Options{
		Format:    params.GetPlotFormat(),
		MaxGroups: params.GetMaxGroupsPlot(),
		Logger:    p.logger,
	})
}

// plotted returns a sink for the result of drawing one figure.
func (p *Pipeline) plotted(rep *Report, what string) func(string, error) {
	return func(path string, err error) {
		if p.plotOK(what, err) {
			rep.Files = append(rep.Files, path)
		}
	}
}

// plottedAll is plotted for functions drawing several figures.
func (p *Pipeline) plottedAll(rep *Report, what string) func([]string, error) {
	return func(paths []string, err error) {
		rep.Files = append(rep.Files, paths...)
		p.plotOK(what, err)
	}
}

func (p *Pipeline) plotOK(what string, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, plots.ErrNoData):
		p.logger.Debug("nothing to plot", zap.String("plot", what))
	default:
		p.logger.Warn("plot failed", zap.String("plot", what), zap.Error(err))
	}
	return false
}

func writeBytes(b []byte) func(io.Writer) error {
	return func(w io.Writer) error {
		_, err := w.Write(b)
		return err
	}
}

func writeFeatures(f *frame.Features, keyCol string) func(io.Writer) error {
	return func(w io.Writer) error { return frame.WriteFeaturesCSV(w, f, keyCol) }
}

func writeMetadata(m *frame.Metadata, keyCol string) func(io.Writer) error {
	return func(w io.Writer) error { return frame.WriteMetadataCSV(w, m, keyCol) }
}
