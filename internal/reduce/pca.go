// Package reduce projects feature matrices into low-dimensional spaces for
// plotting and outlier screening.
package reduce

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/wormbehaviour/internal/frame"
)

// ErrTooFewSamples is returned when there are not enough rows to fit a
// projection.
var ErrTooFewSamples = errors.New("too few samples")

// ZScore standardises every column to zero mean and unit population
// standard deviation. Columns that cannot be standardised (zero variance or
// NaN) are dropped and returned.
func ZScore(f *frame.Features) (*frame.Features, []string) {
	var keep []int
	var dropped []string
	means := make([]float64, f.Width())
	stds := make([]float64, f.Width())
	for j := 0; j < f.Width(); j++ {
		col := f.ColAt(j)
		m, s := stat.PopMeanStdDev(col, nil)
		if s == 0 || math.IsNaN(s) || math.IsNaN(m) {
			dropped = append(dropped, f.Names[j])
			continue
		}
		means[j], stds[j] = m, s
		keep = append(keep, j)
	}
	out := f.SelectIndices(keep)
	for k, j := range keep {
		for i := 0; i < out.Len(); i++ {
			out.Set(i, k, (out.At(i, k)-means[j])/stds[j])
		}
	}
	return out, dropped
}

// PCAResult is a fitted principal components analysis.
type PCAResult struct {
	Keys     []string
	Features []string
	// Projected holds one row per sample and one column per kept component.
	Projected *mat.Dense
	// Loadings holds one row per feature and one column per kept component.
	Loadings *mat.Dense
	// ExplainedRatio is the fraction of total variance per kept component.
	ExplainedRatio []float64
	// Cumulative is the running sum of the explained ratio over all
	// components, not only the kept ones.
	Cumulative []float64
}

// PCA fits principal components to f (which should already be z-scored) and
// keeps the first nKeep components. nKeep <= 0 keeps them all.
func PCA(f *frame.Features, nKeep int) (*PCAResult, error) {
	if f.Len() < 2 {
		return nil, fmt.Errorf("PCA on %d rows: %w", f.Len(), ErrTooFewSamples)
	}
	if f.Width() == 0 {
		return nil, fmt.Errorf("PCA without features")
	}
	if n := f.NaNCount(); n > 0 {
		return nil, fmt.Errorf("PCA input holds %d NaN values", n)
	}

	var pc stat.PC
	if ok := pc.PrincipalComponents(f.Data, nil); !ok {
		return nil, fmt.Errorf("PCA: SVD failed")
	}
	vars := pc.VarsTo(nil)
	var vecs mat.Dense
	pc.VectorsTo(&vecs)

	total := 0.0
	for _, v := range vars {
		total += v
	}
	maxK := len(vars)
	if nKeep <= 0 || nKeep > maxK {
		nKeep = maxK
	}

	res := &PCAResult{
		Keys:           append([]string(nil), f.Keys...),
		Features:       append([]string(nil), f.Names...),
		ExplainedRatio: make([]float64, nKeep),
		Cumulative:     make([]float64, maxK),
	}
	running := 0.0
	for k, v := range vars {
		r := 0.0
		if total > 0 {
			r = v / total
		}
		running += r
		res.Cumulative[k] = running
		if k < nKeep {
			res.ExplainedRatio[k] = r
		}
	}

	d := f.Width()
	loadings := mat.NewDense(d, nKeep, nil)
	loadings.Copy(vecs.Slice(0, d, 0, nKeep))
	orientComponents(loadings)
	res.Loadings = loadings

	centered := center(f.Data)
	res.Projected = mat.NewDense(f.Len(), nKeep, nil)
	res.Projected.Mul(centered, loadings)
	return res, nil
}

// orientComponents flips each component so its largest-magnitude loading is
// positive, which makes the signs reproducible.
func orientComponents(v *mat.Dense) {
	r, c := v.Dims()
	for k := 0; k < c; k++ {
		best := 0.0
		for i := 0; i < r; i++ {
			if x := v.At(i, k); math.Abs(x) > math.Abs(best) {
				best = x
			}
		}
		if best < 0 {
			for i := 0; i < r; i++ {
				v.Set(i, k, -v.At(i, k))
			}
		}
	}
}

func center(a mat.Matrix) *mat.Dense {
	r, c := a.Dims()
	out := mat.DenseCopyOf(a)
	for j := 0; j < c; j++ {
		m := stat.Mean(mat.Col(nil, j, a), nil)
		for i := 0; i < r; i++ {
			out.Set(i, j, out.At(i, j)-m)
		}
	}
	return out
}

// ComponentsFor returns how many components are needed to explain at least
// frac of the variance.
func (r *PCAResult) ComponentsFor(frac float64) int {
	for k, c := range r.Cumulative {
		if c >= frac {
			return k + 1
		}
	}
	return len(r.Cumulative)
}

// Loading is the weight of one feature on a component.
type Loading struct {
	Feature string
	Weight  float64
}

// TopLoadings returns the n features with the largest squared loading on
// component pc (zero-based).
func (r *PCAResult) TopLoadings(pc, n int) ([]Loading, error) {
	d, k := r.Loadings.Dims()
	if pc < 0 || pc >= k {
		return nil, fmt.Errorf("component %d out of range [0,%d)", pc, k)
	}
	out := make([]Loading, d)
	for i := 0; i < d; i++ {
		out[i] = Loading{Feature: r.Features[i], Weight: r.Loadings.At(i, pc)}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Weight*out[a].Weight > out[b].Weight*out[b].Weight
	})
	if n > 0 && n < len(out) {
		out = out[:n]
	}
	return out, nil
}
