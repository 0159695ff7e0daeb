// Package frame holds the two aligned tables every analysis works on: the
// per-well metadata and the per-well feature matrix, keyed by the same row
// keys.
package frame

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrIndexMismatch is returned when feature and metadata row keys differ.
	ErrIndexMismatch = errors.New("feature and metadata row keys differ")
	// ErrUnknownColumn is returned when a named column does not exist.
	ErrUnknownColumn = errors.New("unknown column")
)

// Features is a dense matrix of behavioural features, one row per well and
// one column per feature. Missing values are NaN.
type Features struct {
	Keys  []string
	Names []string
	Data  *mat.Dense
}

// NewFeatures builds a Features table from row-major values.
func NewFeatures(keys, names []string, rows [][]float64) (*Features, error) {
	if len(rows) != len(keys) {
		return nil, fmt.Errorf("%d rows for %d keys", len(rows), len(keys))
	}
	if err := checkUnique(keys, "row key"); err != nil {
		return nil, err
	}
	if err := checkUnique(names, "feature"); err != nil {
		return nil, err
	}
	f := &Features{
		Keys:  append([]string(nil), keys...),
		Names: append([]string(nil), names...),
	}
	if len(keys) == 0 || len(names) == 0 {
		return f, nil
	}
	f.Data = mat.NewDense(len(keys), len(names), nil)
	for i, r := range rows {
		if len(r) != len(names) {
			return nil, fmt.Errorf("row %q has %d values, want %d", keys[i], len(r), len(names))
		}
		f.Data.SetRow(i, r)
	}
	return f, nil
}

func checkUnique(xs []string, what string) error {
	seen := make(map[string]struct{}, len(xs))
	for _, x := range xs {
		if _, dup := seen[x]; dup {
			return fmt.Errorf("duplicate %s %q", what, x)
		}
		seen[x] = struct{}{}
	}
	return nil
}

// Len returns the number of rows.
func (f *Features) Len() int { return len(f.Keys) }

// Width returns the number of feature columns.
func (f *Features) Width() int { return len(f.Names) }

// At returns the value at row i, column j.
func (f *Features) At(i, j int) float64 { return f.Data.At(i, j) }

// ColumnIndex returns the position of a feature, or -1.
func (f *Features) ColumnIndex(name string) int {
	for j, n := range f.Names {
		if n == name {
			return j
		}
	}
	return -1
}

// ColAt returns a copy of column j.
func (f *Features) ColAt(j int) []float64 {
	if f.Len() == 0 {
		return nil
	}
	return mat.Col(nil, j, f.Data)
}

// Col returns a copy of the named column.
func (f *Features) Col(name string) ([]float64, error) {
	j := f.ColumnIndex(name)
	if j < 0 {
		return nil, fmt.Errorf("feature %q: %w", name, ErrUnknownColumn)
	}
	return f.ColAt(j), nil
}

// RowAt returns a copy of row i.
func (f *Features) RowAt(i int) []float64 {
	if f.Width() == 0 {
		return nil
	}
	return mat.Row(nil, i, f.Data)
}

// rows returns a row-major copy of the data.
func (f *Features) rows() [][]float64 {
	out := make([][]float64, f.Len())
	for i := range out {
		out[i] = f.RowAt(i)
	}
	return out
}

// Clone returns a deep copy.
func (f *Features) Clone() *Features {
	out, _ := NewFeatures(f.Keys, f.Names, f.rows())
	return out
}

// SelectIndices returns a new table with the given columns, in order.
func (f *Features) SelectIndices(idx []int) *Features {
	names := make([]string, len(idx))
	for k, j := range idx {
		names[k] = f.Names[j]
	}
	rows := make([][]float64, f.Len())
	for i := range rows {
		r := make([]float64, len(idx))
		for k, j := range idx {
			r[k] = f.Data.At(i, j)
		}
		rows[i] = r
	}
	out, _ := NewFeatures(f.Keys, names, rows)
	return out
}

// Select returns a new table restricted to the named features, in the given
// order.
func (f *Features) Select(names []string) (*Features, error) {
	idx := make([]int, len(names))
	for k, n := range names {
		j := f.ColumnIndex(n)
		if j < 0 {
			return nil, fmt.Errorf("feature %q: %w", n, ErrUnknownColumn)
		}
		idx[k] = j
	}
	return f.SelectIndices(idx), nil
}

// DropColumns returns a new table without the named features. Unknown names
// are ignored.
func (f *Features) DropColumns(names []string) *Features {
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[n] = struct{}{}
	}
	idx := make([]int, 0, f.Width())
	for j, n := range f.Names {
		if _, ok := drop[n]; !ok {
			idx = append(idx, j)
		}
	}
	return f.SelectIndices(idx)
}

// Rows returns a new table with the given row keys, in order.
func (f *Features) Rows(keys []string) (*Features, error) {
	index := keyIndex(f.Keys)
	rows := make([][]float64, len(keys))
	for i, k := range keys {
		src, ok := index[k]
		if !ok {
			return nil, fmt.Errorf("row %q not in features: %w", k, ErrIndexMismatch)
		}
		rows[i] = f.RowAt(src)
	}
	return NewFeatures(keys, f.Names, rows)
}

// Reindex returns a new table with the given row keys, in order. Keys that
// are not present get a row of NaN.
func (f *Features) Reindex(keys []string) (*Features, error) {
	index := keyIndex(f.Keys)
	rows := make([][]float64, len(keys))
	for i, k := range keys {
		if src, ok := index[k]; ok {
			rows[i] = f.RowAt(src)
			continue
		}
		r := make([]float64, f.Width())
		for j := range r {
			r[j] = math.NaN()
		}
		rows[i] = r
	}
	return NewFeatures(keys, f.Names, rows)
}

// NaNCount returns the number of missing values.
func (f *Features) NaNCount() int {
	n := 0
	for i := 0; i < f.Len(); i++ {
		for j := 0; j < f.Width(); j++ {
			if math.IsNaN(f.Data.At(i, j)) {
				n++
			}
		}
	}
	return n
}

// Set writes v at row i, column j.
func (f *Features) Set(i, j int, v float64) { f.Data.Set(i, j, v) }

func keyIndex(keys []string) map[string]int {
	m := make(map[string]int, len(keys))
	for i, k := range keys {
		m[k] = i
	}
	return m
}

// Align checks the invariant that features and metadata cover exactly the
// same row keys, and returns features reordered to metadata order.
func Align(f *Features, m *Metadata) (*Features, error) {
	if f.Len() != m.Len() {
		return nil, fmt.Errorf("%d feature rows vs %d metadata rows: %w", f.Len(), m.Len(), ErrIndexMismatch)
	}
	fk := append([]string(nil), f.Keys...)
	mk := append([]string(nil), m.Keys...)
	sort.Strings(fk)
	sort.Strings(mk)
	for i := range fk {
		if fk[i] != mk[i] {
			return nil, fmt.Errorf("key %q vs %q: %w", fk[i], mk[i], ErrIndexMismatch)
		}
	}
	return f.Rows(m.Keys)
}
