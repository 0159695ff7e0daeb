package stats

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Method names a family-wise error or false discovery rate correction.
type Method string

const (
	Bonferroni Method = "bonferroni"
	Holm       Method = "holm"
	FDRBH      Method = "fdr_bh"
	FDRBY      Method = "fdr_by"
)

// Methods lists the supported correction methods.
var Methods = []Method{Bonferroni, Holm, FDRBH, FDRBY}

// ParseMethod validates a correction method name.
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Methods {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown multiple-testing correction %q", s)
}

// Correct adjusts pvals for multiple comparisons and returns a reject mask at
// level alpha together with the corrected p-values, both in input order.
// NaN p-values are excluded from the family, stay NaN and are never rejected.
// Corrected values are clipped to 1 and are never smaller than the raw value.
func Correct(pvals []float64, method Method, alpha float64) (reject []bool, corrected []float64, err error) {
	reject = make([]bool, len(pvals))
	corrected = make([]float64, len(pvals))

	idx := make([]int, 0, len(pvals))
	for i, p := range pvals {
		if math.IsNaN(p) {
			corrected[i] = math.NaN()
			continue
		}
		idx = append(idx, i)
	}
	m := len(idx)
	if m == 0 {
		return reject, corrected, nil
	}

	// ascending by raw p-value; stable keeps input order among ties
	sort.SliceStable(idx, func(a, b int) bool { return pvals[idx[a]] < pvals[idx[b]] })
	sorted := make([]float64, m)
	for r, i := range idx {
		sorted[r] = pvals[i]
	}

	var adj []float64
	switch method {
	case Bonferroni:
		adj = make([]float64, m)
		for r, p := range sorted {
			adj[r] = p * float64(m)
		}
	case Holm:
		adj = make([]float64, m)
		running := 0.0
		for r, p := range sorted {
			v := p * float64(m-r)
			if v > running {
				running = v
			}
			adj[r] = running
		}
	case FDRBH:
		adj = stepUp(sorted, 1)
	case FDRBY:
		var cm float64
		for i := 1; i <= m; i++ {
			cm += 1 / float64(i)
		}
		adj = stepUp(sorted, cm)
	default:
		return nil, nil, fmt.Errorf("unknown multiple-testing correction %q", method)
	}

	for r, i := range idx {
		v := math.Min(adj[r], 1)
		if v < pvals[i] {
			v = pvals[i]
		}
		corrected[i] = v
		reject[i] = v <= alpha
	}
	return reject, corrected, nil
}

// stepUp applies the Benjamini-Hochberg step-up adjustment to ascending
// p-values, scaled by the dependency constant c (1 for BH, sum(1/i) for BY).
func stepUp(sorted []float64, c float64) []float64 {
	m := len(sorted)
	adj := make([]float64, m)
	running := math.Inf(1)
	for r := m - 1; r >= 0; r-- {
		v := sorted[r] * float64(m) * c / float64(r+1)
		if v < running {
			running = v
		}
		adj[r] = running
	}
	return adj
}
