package compare

import (
	"math"
	"sort"

	"github.com/banshee-data/wormbehaviour/internal/stats"
)

// Row is the outcome of one feature test.
type Row struct {
	Feature    string
	Statistic  float64
	EffectSize float64
	P          float64
	PCorrected float64
	Reject     bool
}

// TestTable holds one comparison: either the omnibus test across all groups
// or one group against the control.
type TestTable struct {
	Kind    stats.TestKind
	Method  stats.Method
	Group   string // empty for the omnibus table
	Control string
	Rows    []Row
	// Dropped lists features excluded before testing because they had no
	// variance.
	Dropped []string
}

// less orders rows by corrected p-value, then raw p-value, then name. NaN
// sorts last.
func less(a, b Row) bool {
	if c := cmpNaNLast(a.PCorrected, b.PCorrected); c != 0 {
		return c < 0
	}
	if c := cmpNaNLast(a.P, b.P); c != 0 {
		return c < 0
	}
	return a.Feature < b.Feature
}

func cmpNaNLast(a, b float64) int {
	an, bn := math.IsNaN(a), math.IsNaN(b)
	switch {
	case an && bn:
		return 0
	case an:
		return 1
	case bn:
		return -1
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Ranked returns a copy of the rows sorted by ascending corrected p-value.
func (t *TestTable) Ranked() []Row {
	out := append([]Row(nil), t.Rows...)
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// Significant returns the rejected features ranked by corrected p-value.
func (t *TestTable) Significant() []string {
	var out []string
	for _, r := range t.Ranked() {
		if r.Reject {
			out = append(out, r.Feature)
		}
	}
	return out
}

// CountRaw returns how many features have an uncorrected p-value below alpha.
func (t *TestTable) CountRaw(alpha float64) int {
	n := 0
	for _, r := range t.Rows {
		if r.P < alpha {
			n++
		}
	}
	return n
}

// CountCorrected returns how many features are rejected after correction.
func (t *TestTable) CountCorrected() int {
	n := 0
	for _, r := range t.Rows {
		if r.Reject {
			n++
		}
	}
	return n
}

// Row returns the row for a feature.
func (t *TestTable) Row(feature string) (Row, bool) {
	for _, r := range t.Rows {
		if r.Feature == feature {
			return r, true
		}
	}
	return Row{}, false
}

// Name is the display label of the comparison, e.g. "fepD vs wild_type".
func (t *TestTable) Name() string {
	if t.Group == "" {
		return t.Kind.String()
	}
	return t.Group + " vs " + t.Control
}

// Tables returns the omnibus table, when there is one, followed by the
// pairwise tables in group order.
func (r *Result) Tables() []*TestTable {
	var out []*TestTable
	if r.Omnibus != nil {
		out = append(out, r.Omnibus)
	}
	for _, g := range r.Groups {
		if t, ok := r.Pairwise[g]; ok {
			out = append(out, t)
		}
	}
	return out
}
