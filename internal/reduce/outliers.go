package reduce

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/wormbehaviour/internal/frame"
)

// ErrSingularCovariance is returned when the covariance of the projected
// samples cannot be inverted.
var ErrSingularCovariance = errors.New("singular covariance")

const (
	DefaultOutlierPCs  = 10
	DefaultExtremeness = 2.0
)

// MahalanobisOutliers returns the row indices whose squared Mahalanobis
// distance on the first nPCs columns of projected lies at or beyond
// mean ± extremeness·std of all distances, measured from the RobustLocation
// fit. The distances are returned too.
func MahalanobisOutliers(projected mat.Matrix, nPCs int, extremeness float64) ([]int, []float64, error) {
	n, c := projected.Dims()
	if nPCs <= 0 || nPCs > c {
		nPCs = c
	}
	if n <= nPCs {
		return nil, nil, fmt.Errorf("%d samples for %d components: %w", n, nPCs, ErrTooFewSamples)
	}
	x := mat.DenseCopyOf(projected).Slice(0, n, 0, nPCs)

	mean, chol, err := RobustLocation(x)
	if err != nil {
		return nil, nil, err
	}
	dist := mahalanobisAll(x, mean, chol)

	m, s := stat.PopMeanStdDev(dist, nil)
	k := s * extremeness
	upper, lower := m+k, m-k
	var out []int
	for i, d := range dist {
		if d >= upper || d <= lower {
			out = append(out, i)
		}
	}
	return out, dist, nil
}

// RobustLocation estimates the location and scatter of the rows of x from
// the half of the samples with the smallest covariance determinant it can
// find. Starting from all rows, each concentration step refits the mean and
// covariance on the h = (n+p+1)/2 rows closest under the current fit until
// the support stops changing. The
// scatter is not rescaled for consistency; callers compare distances with
// each other only.
func RobustLocation(x mat.Matrix) (*mat.VecDense, *mat.Cholesky, error) {
	n, p := x.Dims()
	all := make([]int, n)
	for i := range all {
		all[i] = i
	}
	mean, chol, ok := fitRows(x, all)
	if !ok {
		return nil, nil, ErrSingularCovariance
	}

	h := (n + p + 1) / 2
	if h <= p {
		return mean, chol, nil
	}
	var support []int
	for iter := 0; iter < maxConcentrationSteps; iter++ {
		dist := mahalanobisAll(x, mean, chol)
		order := make([]int, n)
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool { return dist[order[a]] < dist[order[b]] })
		next := append([]int(nil), order[:h]...)
		sort.Ints(next)
		if slices.Equal(next, support) {
			break
		}
		m, c, ok := fitRows(x, next)
		if !ok {
			break
		}
		mean, chol, support = m, c, next
	}
	return mean, chol, nil
}

const maxConcentrationSteps = 50

// fitRows returns the mean and the factorised covariance of the given rows.
func fitRows(x mat.Matrix, rows []int) (*mat.VecDense, *mat.Cholesky, bool) {
	_, p := x.Dims()
	sub := mat.NewDense(len(rows), p, nil)
	for k, i := range rows {
		for j := 0; j < p; j++ {
			sub.Set(k, j, x.At(i, j))
		}
	}
	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, sub, nil)
	chol := &mat.Cholesky{}
	if ok := chol.Factorize(&cov); !ok {
		return nil, nil, false
	}
	mean := mat.NewVecDense(p, nil)
	for j := 0; j < p; j++ {
		mean.SetVec(j, stat.Mean(mat.Col(nil, j, sub), nil))
	}
	return mean, chol, true
}

// mahalanobisAll returns the squared distance of every row of x.
func mahalanobisAll(x mat.Matrix, mean *mat.VecDense, chol *mat.Cholesky) []float64 {
	n, p := x.Dims()
	dist := make([]float64, n)
	row := mat.NewVecDense(p, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < p; j++ {
			row.SetVec(j, x.At(i, j))
		}
		d := stat.Mahalanobis(row, mean, chol)
		dist[i] = d * d
	}
	return dist
}

// OutlierOptions configures RemoveOutliers.
type OutlierOptions struct {
	NPCs        int
	Extremeness float64
	Logger      *zap.Logger
}

// OutlierResult is the data after outlier removal, re-standardised and
// re-projected.
type OutlierResult struct {
	Features *frame.Features // z-scored
	Metadata *frame.Metadata
	Outliers []string
	PCA      *PCAResult
}

// RemoveOutliers z-scores f, projects it, drops Mahalanobis outliers from
// features and metadata, then z-scores and projects the remaining rows.
func RemoveOutliers(f *frame.Features, m *frame.Metadata, opts OutlierOptions) (*OutlierResult, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.NPCs <= 0 {
		opts.NPCs = DefaultOutlierPCs
	}
	if opts.Extremeness <= 0 {
		opts.Extremeness = DefaultExtremeness
	}
	f, err := frame.Align(f, m)
	if err != nil {
		return nil, err
	}

	z, _ := ZScore(f)
	first, err := PCA(z, opts.NPCs)
	if err != nil {
		return nil, err
	}
	idx, _, err := MahalanobisOutliers(first.Projected, opts.NPCs, opts.Extremeness)
	if err != nil {
		return nil, err
	}
	drop := make(map[int]bool, len(idx))
	var outliers []string
	for _, i := range idx {
		drop[i] = true
		outliers = append(outliers, f.Keys[i])
	}
	var keep []string
	for i, k := range f.Keys {
		if !drop[i] {
			keep = append(keep, k)
		}
	}
	logger.Info("outliers found", zap.Int("count", len(outliers)))

	meta, err := m.Subset(keep)
	if err != nil {
		return nil, err
	}
	kept, err := f.Rows(keep)
	if err != nil {
		return nil, err
	}
	z, dropped := ZScore(kept)
	if len(dropped) > 0 {
		logger.Info("dropped features with zero variance after outlier removal", zap.Int("count", len(dropped)))
	}
	second, err := PCA(z, 0)
	if err != nil {
		return nil, err
	}
	return &OutlierResult{Features: z, Metadata: meta, Outliers: outliers, PCA: second}, nil
}
