package stats

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

var (
	// ErrInsufficientData is returned when a sample is too small for a test.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrZeroVariance is returned when a test statistic is undefined because
	// every observation is identical.
	ErrZeroVariance = errors.New("zero variance")
)

// Result is the outcome of a single hypothesis test.
type Result struct {
	Statistic float64
	P         float64
}

// Run dispatches a two-sample or omnibus test by kind. Two-sample kinds use
// exactly the first two groups.
func Run(kind TestKind, groups ...[]float64) (Result, error) {
	switch kind {
	case TTest, RankSum:
		if len(groups) != 2 {
			return Result{}, fmt.Errorf("%s needs 2 groups, got %d", kind, len(groups))
		}
		if kind == TTest {
			return TTestInd(groups[0], groups[1])
		}
		return RankSums(groups[0], groups[1])
	case ANOVA:
		return OneWayANOVA(groups...)
	case KruskalWallis:
		return KruskalWallisH(groups...)
	case ShapiroWilk:
		if len(groups) != 1 {
			return Result{}, fmt.Errorf("%s needs 1 sample, got %d", kind, len(groups))
		}
		w, p, err := ShapiroWilkTest(groups[0])
		return Result{Statistic: w, P: p}, err
	}
	return Result{}, fmt.Errorf("unsupported test kind %v", kind)
}

// TTestInd performs an independent two-sample Student t-test assuming equal
// population variances. NaN values are ignored.
func TTestInd(a, b []float64) (Result, error) {
	a, b = dropNaN(a), dropNaN(b)
	n1, n2 := float64(len(a)), float64(len(b))
	if len(a) < 2 || len(b) < 2 {
		return nanResult(), fmt.Errorf("t-test with n=%d,%d: %w", len(a), len(b), ErrInsufficientData)
	}

	m1, v1 := stat.MeanVariance(a, nil)
	m2, v2 := stat.MeanVariance(b, nil)
	df := n1 + n2 - 2
	pooled := ((n1-1)*v1 + (n2-1)*v2) / df
	se := math.Sqrt(pooled * (1/n1 + 1/n2))
	if se == 0 {
		return nanResult(), fmt.Errorf("t-test: %w", ErrZeroVariance)
	}

	t := (m1 - m2) / se
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	p := 2 * dist.Survival(math.Abs(t))
	return Result{Statistic: t, P: clampP(p)}, nil
}

// RankSums performs the Wilcoxon rank-sum test using the large-sample normal
// approximation without tie or continuity correction. The statistic is the
// z-score of the rank sum of a.
func RankSums(a, b []float64) (Result, error) {
	a, b = dropNaN(a), dropNaN(b)
	if len(a) == 0 || len(b) == 0 {
		return nanResult(), fmt.Errorf("rank-sum with n=%d,%d: %w", len(a), len(b), ErrInsufficientData)
	}
	n1, n2 := float64(len(a)), float64(len(b))

	all := make([]float64, 0, len(a)+len(b))
	all = append(all, a...)
	all = append(all, b...)
	ranks, _ := rankData(all)

	var s float64
	for _, r := range ranks[:len(a)] {
		s += r
	}
	expected := n1 * (n1 + n2 + 1) / 2
	z := (s - expected) / math.Sqrt(n1*n2*(n1+n2+1)/12)
	p := 2 * distuv.UnitNormal.Survival(math.Abs(z))
	return Result{Statistic: z, P: clampP(p)}, nil
}

// OneWayANOVA performs a one-way analysis of variance across groups.
func OneWayANOVA(groups ...[]float64) (Result, error) {
	clean, total, err := omnibusInput(groups)
	if err != nil {
		return nanResult(), fmt.Errorf("ANOVA: %w", err)
	}
	k := float64(len(clean))
	n := float64(len(total))
	grand := stat.Mean(total, nil)

	var ssb, ssw float64
	for _, g := range clean {
		m := stat.Mean(g, nil)
		ssb += float64(len(g)) * (m - grand) * (m - grand)
		for _, v := range g {
			ssw += (v - m) * (v - m)
		}
	}
	dfb, dfw := k-1, n-k
	if dfw <= 0 {
		return nanResult(), fmt.Errorf("ANOVA with %d observations in %d groups: %w", int(n), int(k), ErrInsufficientData)
	}
	if ssw == 0 {
		if ssb == 0 {
			return nanResult(), fmt.Errorf("ANOVA: %w", ErrZeroVariance)
		}
		// perfectly separated constant groups
		return Result{Statistic: math.Inf(1), P: 0}, nil
	}

	f := (ssb / dfb) / (ssw / dfw)
	dist := distuv.F{D1: dfb, D2: dfw}
	return Result{Statistic: f, P: clampP(dist.Survival(f))}, nil
}

// KruskalWallisH performs the Kruskal-Wallis H-test with tie correction.
func KruskalWallisH(groups ...[]float64) (Result, error) {
	clean, total, err := omnibusInput(groups)
	if err != nil {
		return nanResult(), fmt.Errorf("Kruskal-Wallis: %w", err)
	}
	n := float64(len(total))
	ranks, tieSum := rankData(total)

	var h float64
	offset := 0
	for _, g := range clean {
		var rs float64
		for i := range g {
			rs += ranks[offset+i]
		}
		offset += len(g)
		h += rs * rs / float64(len(g))
	}
	h = 12/(n*(n+1))*h - 3*(n+1)

	c := 1 - tieSum/(n*n*n-n)
	if c == 0 {
		return nanResult(), fmt.Errorf("Kruskal-Wallis: %w", ErrZeroVariance)
	}
	h /= c

	dist := distuv.ChiSquared{K: float64(len(clean) - 1)}
	return Result{Statistic: h, P: clampP(dist.Survival(h))}, nil
}

// omnibusInput drops NaNs and empty groups and returns the cleaned groups
// together with their concatenation in group order.
func omnibusInput(groups [][]float64) ([][]float64, []float64, error) {
	clean := make([][]float64, 0, len(groups))
	var total []float64
	for _, g := range groups {
		g = dropNaN(g)
		if len(g) == 0 {
			continue
		}
		clean = append(clean, g)
		total = append(total, g...)
	}
	if len(clean) < 2 {
		return nil, nil, fmt.Errorf("%d non-empty groups: %w", len(clean), ErrInsufficientData)
	}
	return clean, total, nil
}

func nanResult() Result {
	return Result{Statistic: math.NaN(), P: math.NaN()}
}

func clampP(p float64) float64 {
	switch {
	case math.IsNaN(p):
		return p
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}
