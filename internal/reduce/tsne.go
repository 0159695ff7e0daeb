package reduce

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

// TSNEOptions configures an exact t-SNE embedding.
type TSNEOptions struct {
	Dims         int
	Perplexity   float64
	Iterations   int
	LearningRate float64
	// EarlyExaggeration multiplies the affinities for the first
	// ExaggerationIters iterations.
	EarlyExaggeration float64
	ExaggerationIters int
	Seed              uint64
}

// DefaultTSNEOptions returns the usual t-SNE settings.
func DefaultTSNEOptions() TSNEOptions {
	return TSNEOptions{
		Dims:              2,
		Perplexity:        30,
		Iterations:        1000,
		LearningRate:      200,
		EarlyExaggeration: 12,
		ExaggerationIters: 250,
		Seed:              42,
	}
}

// TSNE embeds the rows of x with exact t-SNE. The same seed gives the same
// embedding.
func TSNE(x mat.Matrix, opts TSNEOptions) (*mat.Dense, error) {
	n, _ := x.Dims()
	if opts.Dims <= 0 {
		opts.Dims = 2
	}
	if n < 3 {
		return nil, fmt.Errorf("t-SNE on %d rows: %w", n, ErrTooFewSamples)
	}
	if opts.Perplexity <= 0 || opts.Perplexity >= float64(n) {
		return nil, fmt.Errorf("perplexity %v must be in (0,%d)", opts.Perplexity, n)
	}

	p := jointProbabilities(squaredDistances(x), opts.Perplexity)
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))

	dims := opts.Dims
	y := make([][]float64, n)
	update := make([][]float64, n)
	gains := make([][]float64, n)
	for i := range y {
		y[i] = make([]float64, dims)
		update[i] = make([]float64, dims)
		gains[i] = make([]float64, dims)
		for d := range y[i] {
			y[i][d] = rng.NormFloat64() * 1e-4
			gains[i][d] = 1
		}
	}

	num := make([][]float64, n)
	for i := range num {
		num[i] = make([]float64, n)
	}
	grad := make([]float64, dims)
	for iter := 0; iter < opts.Iterations; iter++ {
		exag := 1.0
		momentum := 0.8
		if iter < opts.ExaggerationIters {
			exag = opts.EarlyExaggeration
			momentum = 0.5
		}

		// Student-t kernel in the embedding
		var sum float64
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				var d2 float64
				for d := 0; d < dims; d++ {
					diff := y[i][d] - y[j][d]
					d2 += diff * diff
				}
				v := 1 / (1 + d2)
				num[i][j], num[j][i] = v, v
				sum += 2 * v
			}
		}

		for i := 0; i < n; i++ {
			for d := range grad {
				grad[d] = 0
			}
			for j := 0; j < n; j++ {
				if i == j {
					continue
				}
				q := math.Max(num[i][j]/sum, 1e-12)
				mult := 4 * (exag*p[i][j] - q) * num[i][j]
				for d := 0; d < dims; d++ {
					grad[d] += mult * (y[i][d] - y[j][d])
				}
			}
			for d := 0; d < dims; d++ {
				if (grad[d] > 0) != (update[i][d] > 0) {
					gains[i][d] += 0.2
				} else {
					gains[i][d] *= 0.8
				}
				gains[i][d] = math.Max(gains[i][d], 0.01)
				update[i][d] = momentum*update[i][d] - opts.LearningRate*gains[i][d]*grad[d]
			}
		}
		for i := 0; i < n; i++ {
			for d := 0; d < dims; d++ {
				y[i][d] += update[i][d]
			}
		}
		recenter(y)
	}

	out := mat.NewDense(n, dims, nil)
	for i := range y {
		out.SetRow(i, y[i])
	}
	return out, nil
}

func recenter(y [][]float64) {
	if len(y) == 0 {
		return
	}
	dims := len(y[0])
	for d := 0; d < dims; d++ {
		var m float64
		for i := range y {
			m += y[i][d]
		}
		m /= float64(len(y))
		for i := range y {
			y[i][d] -= m
		}
	}
}

func squaredDistances(x mat.Matrix) [][]float64 {
	n, c := x.Dims()
	d := make([][]float64, n)
	for i := range d {
		d[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			var s float64
			for k := 0; k < c; k++ {
				diff := x.At(i, k) - x.At(j, k)
				s += diff * diff
			}
			d[i][j], d[j][i] = s, s
		}
	}
	return d
}

// jointProbabilities calibrates a Gaussian kernel per row to the target
// perplexity and returns the symmetrised affinity matrix.
func jointProbabilities(dist [][]float64, perplexity float64) [][]float64 {
	n := len(dist)
	target := math.Log(perplexity)
	cond := make([][]float64, n)
	for i := 0; i < n; i++ {
		cond[i] = make([]float64, n)
		beta, lo, hi := 1.0, 0.0, math.Inf(1)
		for step := 0; step < 100; step++ {
			var sum, dot float64
			for j := 0; j < n; j++ {
				if j == i {
					cond[i][j] = 0
					continue
				}
				v := math.Exp(-dist[i][j] * beta)
				cond[i][j] = v
				sum += v
				dot += dist[i][j] * v
			}
			if sum == 0 {
				sum = 1e-12
			}
			entropy := math.Log(sum) + beta*dot/sum
			for j := range cond[i] {
				cond[i][j] /= sum
			}
			diff := entropy - target
			if math.Abs(diff) < 1e-5 {
				break
			}
			if diff > 0 {
				lo = beta
				if math.IsInf(hi, 1) {
					beta *= 2
				} else {
					beta = (beta + hi) / 2
				}
			} else {
				hi = beta
				beta = (beta + lo) / 2
			}
		}
	}

	p := make([][]float64, n)
	for i := range p {
		p[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i != j {
				p[i][j] = math.Max((cond[i][j]+cond[j][i])/(2*float64(n)), 1e-12)
			}
		}
	}
	return p
}
