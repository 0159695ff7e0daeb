package reduce

import (
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/wormbehaviour/internal/frame"
)

// blobs returns two well separated gaussian clusters of n rows each.
func blobs(t *testing.T, n, dims int, seed uint64) *frame.Features {
	t.Helper()
	rng := rand.New(rand.NewPCG(seed, 7))
	var keys []string
	var rows [][]float64
	for c := 0; c < 2; c++ {
		for i := 0; i < n; i++ {
			r := make([]float64, dims)
			for d := range r {
				r[d] = rng.NormFloat64() + float64(c)*20
			}
			keys = append(keys, fmt.Sprintf("c%d_%02d", c, i))
			rows = append(rows, r)
		}
	}
	names := make([]string, dims)
	for d := range names {
		names[d] = fmt.Sprintf("feat_%d", d)
	}
	f, err := frame.NewFeatures(keys, names, rows)
	require.NoError(t, err)
	return f
}

func TestZScore(t *testing.T) {
	t.Parallel()

	f, err := frame.NewFeatures([]string{"a", "b", "c"}, []string{"x", "flat"}, [][]float64{{1, 5}, {2, 5}, {3, 5}})
	require.NoError(t, err)

	z, dropped := ZScore(f)
	assert.Equal(t, []string{"flat"}, dropped)
	m, s := stat.PopMeanStdDev(z.ColAt(0), nil)
	assert.InDelta(t, 0, m, 1e-12)
	assert.InDelta(t, 1, s, 1e-12)
}

func TestPCA(t *testing.T) {
	t.Parallel()

	// three features that are exact multiples of one latent variable plus a
	// small independent one
	rng := rand.New(rand.NewPCG(3, 4))
	var keys []string
	var rows [][]float64
	for i := 0; i < 40; i++ {
		l := rng.NormFloat64()
		keys = append(keys, fmt.Sprint(i))
		rows = append(rows, []float64{l, 2 * l, -3 * l, 0.01 * rng.NormFloat64()})
	}
	f, err := frame.NewFeatures(keys, []string{"speed", "speed_x2", "speed_neg", "noise"}, rows)
	require.NoError(t, err)

	res, err := PCA(f, 2)
	require.NoError(t, err)
	r, c := res.Projected.Dims()
	assert.Equal(t, 40, r)
	assert.Equal(t, 2, c)
	assert.Greater(t, res.ExplainedRatio[0], 0.99)
	assert.InDelta(t, 1, res.Cumulative[len(res.Cumulative)-1], 1e-9)
	assert.Equal(t, 1, res.ComponentsFor(0.95))

	top, err := res.TopLoadings(0, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "speed_neg", top[0].Feature)
	assert.Greater(t, top[0].Weight, 0.0, "largest loading oriented positive")

	_, err = res.TopLoadings(5, 1)
	assert.Error(t, err)

	one, err := frame.NewFeatures([]string{"a"}, []string{"x"}, [][]float64{{1}})
	require.NoError(t, err)
	_, err = PCA(one, 1)
	assert.ErrorIs(t, err, ErrTooFewSamples)
}

func TestMahalanobisOutliers(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(11, 12))
	x := mat.NewDense(51, 3, nil)
	for i := 0; i < 50; i++ {
		for j := 0; j < 3; j++ {
			x.Set(i, j, rng.NormFloat64())
		}
	}
	x.SetRow(50, []float64{10, -10, 10})

	out, dist, err := MahalanobisOutliers(x, DefaultOutlierPCs, DefaultExtremeness)
	require.NoError(t, err)
	assert.Len(t, dist, 51)
	assert.Contains(t, out, 50)
	assert.Less(t, len(out), 5)
	// (n-1)²/n bounds any squared distance under the sample covariance.
	assert.Greater(t, dist[50], 50.0)

	_, _, err = MahalanobisOutliers(mat.NewDense(2, 3, nil), 3, 2)
	assert.ErrorIs(t, err, ErrTooFewSamples)

	_, _, err = MahalanobisOutliers(mat.NewDense(10, 2, nil), 2, 2)
	assert.ErrorIs(t, err, ErrSingularCovariance)
}

func TestRobustLocationIgnoresContamination(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(21, 22))
	x := mat.NewDense(50, 3, nil)
	for i := 0; i < 45; i++ {
		for j := 0; j < 3; j++ {
			x.Set(i, j, rng.NormFloat64())
		}
	}
	for i := 45; i < 50; i++ {
		x.SetRow(i, []float64{20, 20, 20})
	}

	mean, chol, err := RobustLocation(x)
	require.NoError(t, err)
	require.NotNil(t, chol)
	for j := 0; j < 3; j++ {
		assert.InDelta(t, 0, mean.AtVec(j), 1, "column %d", j)
	}

	out, _, err := MahalanobisOutliers(x, 3, DefaultExtremeness)
	require.NoError(t, err)
	for i := 45; i < 50; i++ {
		assert.Contains(t, out, i)
	}
}

func TestRemoveOutliers(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(5, 6))
	var keys []string
	var meta [][]string
	var vals [][]float64
	for i := 0; i < 40; i++ {
		r := []float64{rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64(), rng.NormFloat64()}
		if i == 7 {
			r = []float64{15, -15, 15, -15}
		}
		keys = append(keys, fmt.Sprintf("w%02d", i))
		vals = append(vals, r)
		meta = append(meta, []string{"OP50"})
	}
	f, err := frame.NewFeatures(keys, []string{"a", "b", "c", "d"}, vals)
	require.NoError(t, err)
	m, err := frame.NewMetadata(keys, []string{"food_type"}, meta)
	require.NoError(t, err)

	res, err := RemoveOutliers(f, m, OutlierOptions{})
	require.NoError(t, err)
	assert.Contains(t, res.Outliers, "w07")
	assert.NotContains(t, res.Metadata.Keys, "w07")
	assert.Equal(t, res.Metadata.Keys, res.Features.Keys)
	assert.Equal(t, 40-len(res.Outliers), res.Features.Len())
	assert.NotNil(t, res.PCA)
}

// separation returns the mean within-cluster and between-cluster distances
// of an embedding whose first half and second half are the two clusters.
func separation(y *mat.Dense) (within, between float64) {
	n, _ := y.Dims()
	half := n / 2
	var nw, nb int
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := math.Sqrt(sqDist(y.RawRowView(i), y.RawRowView(j)))
			if (i < half) == (j < half) {
				within += d
				nw++
			} else {
				between += d
				nb++
			}
		}
	}
	return within / float64(nw), between / float64(nb)
}

func TestTSNE(t *testing.T) {
	t.Parallel()
	f := blobs(t, 15, 5, 1)
	opts := DefaultTSNEOptions()
	opts.Perplexity = 5
	opts.Iterations = 300
	opts.ExaggerationIters = 100

	y, err := TSNE(f.Data, opts)
	require.NoError(t, err)
	within, between := separation(y)
	assert.Less(t, within, between)

	again, err := TSNE(f.Data, opts)
	require.NoError(t, err)
	assert.True(t, mat.Equal(y, again), "same seed gives the same embedding")

	opts.Perplexity = 100
	_, err = TSNE(f.Data, opts)
	assert.Error(t, err)
}

func TestUMAP(t *testing.T) {
	t.Parallel()
	f := blobs(t, 15, 5, 2)
	opts := DefaultUMAPOptions()
	opts.Neighbors = 5

	y, err := UMAP(f.Data, opts)
	require.NoError(t, err)
	within, between := separation(y)
	assert.Less(t, within, between)

	again, err := UMAP(f.Data, opts)
	require.NoError(t, err)
	assert.True(t, mat.Equal(y, again), "same seed gives the same embedding")

	opts.Neighbors = 30
	_, err = UMAP(f.Data, opts)
	assert.ErrorIs(t, err, ErrTooFewSamples)
}

func TestFitCurve(t *testing.T) {
	t.Parallel()
	a, b, err := fitCurve(1, 0.1)
	require.NoError(t, err)
	// reference values for spread=1, min_dist=0.1
	assert.InDelta(t, 1.577, a, 0.1)
	assert.InDelta(t, 0.895, b, 0.05)
}

func TestClusterOrder(t *testing.T) {
	t.Parallel()
	x := mat.NewDense(5, 1, []float64{0, 10, 0.5, 10.4, 20})

	for _, l := range []Linkage{CompleteLinkage, AverageLinkage, SingleLinkage} {
		order := ClusterOrder(x, l)
		require.Len(t, order, 5)
		pos := make(map[int]int)
		for p, i := range order {
			pos[i] = p
		}
		assert.Equal(t, 1, abs(pos[0]-pos[2]), "linkage %d", l)
		assert.Equal(t, 1, abs(pos[1]-pos[3]), "linkage %d", l)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
