package frame

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// Metadata describes the experimental conditions of each well: strain,
// food, imaging date, run, window and so on. All cells are kept as strings.
type Metadata struct {
	Keys    []string
	Columns []string
	Rows    [][]string
}

// NewMetadata builds a Metadata table. Each row must have one cell per column.
func NewMetadata(keys, columns []string, rows [][]string) (*Metadata, error) {
	if len(rows) != len(keys) {
		return nil, fmt.Errorf("%d rows for %d keys", len(rows), len(keys))
	}
	if err := checkUnique(keys, "row key"); err != nil {
		return nil, err
	}
	if err := checkUnique(columns, "column"); err != nil {
		return nil, err
	}
	m := &Metadata{
		Keys:    append([]string(nil), keys...),
		Columns: append([]string(nil), columns...),
		Rows:    make([][]string, len(rows)),
	}
	for i, r := range rows {
		if len(r) != len(columns) {
			return nil, fmt.Errorf("row %q has %d cells, want %d", keys[i], len(r), len(columns))
		}
		m.Rows[i] = append([]string(nil), r...)
	}
	return m, nil
}

// Len returns the number of rows.
func (m *Metadata) Len() int { return len(m.Keys) }

// ColumnIndex returns the position of a column, or -1.
func (m *Metadata) ColumnIndex(name string) int {
	for j, c := range m.Columns {
		if c == name {
			return j
		}
	}
	return -1
}

// HasColumn reports whether the column exists.
func (m *Metadata) HasColumn(name string) bool { return m.ColumnIndex(name) >= 0 }

// Column returns a copy of the named column.
func (m *Metadata) Column(name string) ([]string, error) {
	j := m.ColumnIndex(name)
	if j < 0 {
		return nil, fmt.Errorf("metadata column %q: %w", name, ErrUnknownColumn)
	}
	out := make([]string, m.Len())
	for i, r := range m.Rows {
		out[i] = r[j]
	}
	return out, nil
}

// Set writes a single cell.
func (m *Metadata) Set(key, col, value string) error {
	j := m.ColumnIndex(col)
	if j < 0 {
		return fmt.Errorf("metadata column %q: %w", col, ErrUnknownColumn)
	}
	for i, k := range m.Keys {
		if k == key {
			m.Rows[i][j] = value
			return nil
		}
	}
	return fmt.Errorf("row %q not in metadata: %w", key, ErrIndexMismatch)
}

// AddColumn appends or replaces a column.
func (m *Metadata) AddColumn(name string, values []string) error {
	if len(values) != m.Len() {
		return fmt.Errorf("column %q has %d values for %d rows", name, len(values), m.Len())
	}
	if j := m.ColumnIndex(name); j >= 0 {
		for i := range m.Rows {
			m.Rows[i][j] = values[i]
		}
		return nil
	}
	m.Columns = append(m.Columns, name)
	for i := range m.Rows {
		m.Rows[i] = append(m.Rows[i], values[i])
	}
	return nil
}

// ConcatColumns derives a new column by joining the given columns with sep,
// e.g. gene_name + "-" + is_dead => "fepD-live".
func (m *Metadata) ConcatColumns(name string, cols []string, sep string) error {
	idx := make([]int, len(cols))
	for k, c := range cols {
		j := m.ColumnIndex(c)
		if j < 0 {
			return fmt.Errorf("metadata column %q: %w", c, ErrUnknownColumn)
		}
		idx[k] = j
	}
	values := make([]string, m.Len())
	parts := make([]string, len(idx))
	for i, r := range m.Rows {
		for k, j := range idx {
			parts[k] = r[j]
		}
		values[i] = strings.Join(parts, sep)
	}
	return m.AddColumn(name, values)
}

// Subset returns a new table with the given row keys, in order.
func (m *Metadata) Subset(keys []string) (*Metadata, error) {
	index := keyIndex(m.Keys)
	rows := make([][]string, len(keys))
	for i, k := range keys {
		src, ok := index[k]
		if !ok {
			return nil, fmt.Errorf("row %q not in metadata: %w", k, ErrIndexMismatch)
		}
		rows[i] = m.Rows[src]
	}
	return NewMetadata(keys, m.Columns, rows)
}

// Filter returns the rows whose value in col satisfies keep.
func (m *Metadata) Filter(col string, keep func(string) bool) (*Metadata, error) {
	j := m.ColumnIndex(col)
	if j < 0 {
		return nil, fmt.Errorf("metadata column %q: %w", col, ErrUnknownColumn)
	}
	var keys []string
	for i, r := range m.Rows {
		if keep(r[j]) {
			keys = append(keys, m.Keys[i])
		}
	}
	return m.Subset(keys)
}

// Unique returns the distinct values of col in first-seen order.
func (m *Metadata) Unique(col string) ([]string, error) {
	values, err := m.Column(col)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	var out []string
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out, nil
}

// CheckCaseUnique fails when two labels of col differ only by case, which
// would silently split one group into two.
func (m *Metadata) CheckCaseUnique(col string) error {
	labels, err := m.Unique(col)
	if err != nil {
		return err
	}
	folder := cases.Fold()
	seen := make(map[string]string, len(labels))
	for _, l := range labels {
		k := folder.String(l)
		if prev, ok := seen[k]; ok {
			return fmt.Errorf("labels %q and %q in column %q differ only by case", prev, l, col)
		}
		seen[k] = l
	}
	return nil
}

// Grouping maps each label of a metadata column to the row keys carrying it.
type Grouping struct {
	Column string
	Labels []string
	Keys   map[string][]string
}

// Groups groups the row keys of m by the value of col. Labels keep
// first-seen order.
func Groups(m *Metadata, col string) (*Grouping, error) {
	values, err := m.Column(col)
	if err != nil {
		return nil, err
	}
	g := &Grouping{Column: col, Keys: make(map[string][]string)}
	for i, v := range values {
		if _, ok := g.Keys[v]; !ok {
			g.Labels = append(g.Labels, v)
		}
		g.Keys[v] = append(g.Keys[v], m.Keys[i])
	}
	return g, nil
}

// LabelOf maps every row key to its label.
func (g *Grouping) LabelOf() map[string]string {
	out := make(map[string]string)
	for _, l := range g.Labels {
		for _, k := range g.Keys[l] {
			out[k] = l
		}
	}
	return out
}

// Sizes returns the number of rows per label.
func (g *Grouping) Sizes() map[string]int {
	out := make(map[string]int, len(g.Labels))
	for _, l := range g.Labels {
		out[l] = len(g.Keys[l])
	}
	return out
}
