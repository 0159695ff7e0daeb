package stats

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// CohensD returns the standardised mean difference between a and b using the
// pooled sample standard deviation. Returns NaN when undefined.
func CohensD(a, b []float64) float64 {
	a, b = dropNaN(a), dropNaN(b)
	if len(a) < 2 || len(b) < 2 {
		return math.NaN()
	}
	n1, n2 := float64(len(a)), float64(len(b))
	m1, v1 := stat.MeanVariance(a, nil)
	m2, v2 := stat.MeanVariance(b, nil)
	sd := math.Sqrt(((n1-1)*v1 + (n2-1)*v2) / (n1 + n2 - 2))
	if sd == 0 {
		return math.NaN()
	}
	return (m1 - m2) / sd
}

// EtaSquared returns the proportion of total variance explained by group
// membership (between-group sum of squares over total sum of squares).
func EtaSquared(groups ...[]float64) float64 {
	var all []float64
	clean := make([][]float64, 0, len(groups))
	for _, g := range groups {
		g = dropNaN(g)
		clean = append(clean, g)
		all = append(all, g...)
	}
	if len(all) == 0 {
		return math.NaN()
	}
	grand := stat.Mean(all, nil)
	var ssb, sst float64
	for _, v := range all {
		sst += (v - grand) * (v - grand)
	}
	for _, g := range clean {
		if len(g) == 0 {
			continue
		}
		m := stat.Mean(g, nil)
		ssb += float64(len(g)) * (m - grand) * (m - grand)
	}
	if sst == 0 {
		return math.NaN()
	}
	return ssb / sst
}

// EffectSize returns the effect size conventionally reported alongside kind:
// Cohen's d for two-sample tests, eta squared for omnibus tests.
func EffectSize(kind TestKind, groups ...[]float64) float64 {
	if kind.IsOmnibus() {
		return EtaSquared(groups...)
	}
	if len(groups) != 2 {
		return math.NaN()
	}
	return CohensD(groups[0], groups[1])
}

// SigAsterisk maps a p-value to the usual significance marker.
func SigAsterisk(p float64) string {
	switch {
	case math.IsNaN(p):
		return "ns"
	case p < 0.0001:
		return "****"
	case p < 0.001:
		return "***"
	case p < 0.01:
		return "**"
	case p < 0.05:
		return "*"
	}
	return "ns"
}
