package reduce

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// UMAPOptions configures a UMAP embedding.
type UMAPOptions struct {
	Dims            int
	Neighbors       int
	MinDist         float64
	Spread          float64
	Epochs          int
	LearningRate    float64
	NegativeSamples int
	Seed            uint64
}

// DefaultUMAPOptions returns the usual UMAP settings.
func DefaultUMAPOptions() UMAPOptions {
	return UMAPOptions{
		Dims:            2,
		Neighbors:       15,
		MinDist:         0.1,
		Spread:          1,
		Epochs:          200,
		LearningRate:    1,
		NegativeSamples: 5,
		Seed:            42,
	}
}

type edge struct {
	i, j   int
	weight float64
}

// UMAP embeds the rows of x by building a fuzzy k-nearest-neighbour graph
// and optimising a low-dimensional layout with negative sampling. The same
// seed gives the same embedding.
func UMAP(x mat.Matrix, opts UMAPOptions) (*mat.Dense, error) {
	n, _ := x.Dims()
	if opts.Dims <= 0 {
		opts.Dims = 2
	}
	if opts.Neighbors < 2 || opts.Neighbors >= n {
		return nil, fmt.Errorf("UMAP with %d neighbours on %d rows: %w", opts.Neighbors, n, ErrTooFewSamples)
	}
	if opts.Spread <= 0 {
		opts.Spread = 1
	}
	if opts.MinDist < 0 || opts.MinDist > opts.Spread {
		return nil, fmt.Errorf("min distance %v must be in [0,%v]", opts.MinDist, opts.Spread)
	}
	a, b, err := fitCurve(opts.Spread, opts.MinDist)
	if err != nil {
		return nil, err
	}

	edges := fuzzyGraph(squaredDistances(x), opts.Neighbors)
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))

	dims := opts.Dims
	y := make([][]float64, n)
	for i := range y {
		y[i] = make([]float64, dims)
		for d := range y[i] {
			y[i][d] = rng.Float64()*20 - 10
		}
	}

	maxW := 0.0
	for _, e := range edges {
		maxW = math.Max(maxW, e.weight)
	}
	perSample := make([]float64, len(edges))
	nextSample := make([]float64, len(edges))
	for k, e := range edges {
		perSample[k] = maxW / e.weight
		nextSample[k] = perSample[k]
	}

	for epoch := 1; epoch <= opts.Epochs; epoch++ {
		alpha := opts.LearningRate * (1 - float64(epoch-1)/float64(opts.Epochs))
		for k, e := range edges {
			if nextSample[k] > float64(epoch) {
				continue
			}
			head, tail := y[e.i], y[e.j]
			d2 := sqDist(head, tail)
			if d2 > 0 {
				coef := -2 * a * b * math.Pow(d2, b-1) / (1 + a*math.Pow(d2, b))
				for d := 0; d < dims; d++ {
					g := clip(coef * (head[d] - tail[d]))
					head[d] += g * alpha
					tail[d] -= g * alpha
				}
			}
			nextSample[k] += perSample[k]

			for s := 0; s < opts.NegativeSamples; s++ {
				other := rng.IntN(n)
				if other == e.i {
					continue
				}
				neg := y[other]
				d2 := sqDist(head, neg)
				coef := 0.0
				if d2 > 0 {
					coef = 2 * b / ((0.001 + d2) * (1 + a*math.Pow(d2, b)))
				}
				for d := 0; d < dims; d++ {
					g := 4.0
					if coef > 0 {
						g = clip(coef * (head[d] - neg[d]))
					}
					head[d] += g * alpha
				}
			}
		}
	}

	out := mat.NewDense(n, dims, nil)
	for i := range y {
		out.SetRow(i, y[i])
	}
	return out, nil
}

func sqDist(a, b []float64) float64 {
	var s float64
	for d := range a {
		diff := a[d] - b[d]
		s += diff * diff
	}
	return s
}

func clip(v float64) float64 {
	return math.Max(-4, math.Min(4, v))
}

// fuzzyGraph builds the symmetrised fuzzy simplicial set over the k nearest
// neighbours of every row.
func fuzzyGraph(dist [][]float64, k int) []edge {
	n := len(dist)
	target := math.Log2(float64(k))
	w := make(map[[2]int]float64)
	idx := make([]int, n)
	for i := 0; i < n; i++ {
		for j := range idx {
			idx[j] = j
		}
		sort.SliceStable(idx, func(a, b int) bool { return dist[i][idx[a]] < dist[i][idx[b]] })
		var nbrs []int
		var d []float64
		for _, j := range idx {
			if j == i {
				continue
			}
			nbrs = append(nbrs, j)
			d = append(d, math.Sqrt(dist[i][j]))
			if len(nbrs) == k {
				break
			}
		}
		rho := d[0]
		sigma := smoothKNN(d, rho, target)
		for m, j := range nbrs {
			w[[2]int{i, j}] = math.Exp(-math.Max(0, d[m]-rho) / sigma)
		}
	}

	var edges []edge
	for key, ab := range w {
		i, j := key[0], key[1]
		if i > j {
			if _, ok := w[[2]int{j, i}]; ok {
				continue
			}
		}
		ba := w[[2]int{j, i}]
		v := ab + ba - ab*ba
		if i > j {
			i, j = j, i
		}
		if v > 0 {
			edges = append(edges, edge{i: i, j: j, weight: v})
		}
	}
	sort.Slice(edges, func(a, b int) bool {
		if edges[a].i != edges[b].i {
			return edges[a].i < edges[b].i
		}
		return edges[a].j < edges[b].j
	})
	return edges
}

// smoothKNN finds sigma such that sum(exp(-(d-rho)/sigma)) = target.
func smoothKNN(d []float64, rho, target float64) float64 {
	lo, hi, mid := 0.0, math.Inf(1), 1.0
	for step := 0; step < 64; step++ {
		var s float64
		for _, v := range d {
			s += math.Exp(-math.Max(0, v-rho) / mid)
		}
		if math.Abs(s-target) < 1e-5 {
			break
		}
		if s > target {
			hi = mid
			mid = (lo + hi) / 2
		} else {
			lo = mid
			if math.IsInf(hi, 1) {
				mid *= 2
			} else {
				mid = (lo + hi) / 2
			}
		}
	}
	if mid < 1e-3 {
		mid = 1e-3
	}
	return mid
}

// fitCurve fits 1/(1+a·x^(2b)) to the offset exponential decay defined by
// spread and minDist.
func fitCurve(spread, minDist float64) (a, b float64, err error) {
	const points = 300
	xs := make([]float64, points)
	ys := make([]float64, points)
	for i := range xs {
		x := 3 * spread * float64(i+1) / points
		xs[i] = x
		if x < minDist {
			ys[i] = 1
		} else {
			ys[i] = math.Exp(-(x - minDist) / spread)
		}
	}
	p := optimize.Problem{Func: func(v []float64) float64 {
		if v[0] <= 0 || v[1] <= 0 {
			return 1e12
		}
		var s float64
		for i, x := range xs {
			r := 1/(1+v[0]*math.Pow(x, 2*v[1])) - ys[i]
			s += r * r
		}
		return s
	}}
	res, err := optimize.Minimize(p, []float64{1.5, 0.9}, nil, &optimize.NelderMead{})
	if err != nil {
		return 0, 0, fmt.Errorf("fit UMAP curve: %w", err)
	}
	return res.X[0], res.X[1], nil
}
