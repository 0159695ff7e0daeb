package frame

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// readAll reads a CSV table, skipping '#' comment lines, and returns the
// header and the records.
func readAll(r io.Reader) ([]string, [][]string, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, fmt.Errorf("empty CSV")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	var records [][]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read record %d: %w", len(records)+1, err)
		}
		if len(rec) != len(header) {
			return nil, nil, fmt.Errorf("record %d has %d fields, header has %d", len(records)+1, len(rec), len(header))
		}
		records = append(records, rec)
	}
	return header, records, nil
}

// splitKey removes keyCol from header and records and returns it as row
// keys. An empty keyCol uses the row position as key.
func splitKey(header []string, records [][]string, keyCol string) ([]string, []string, [][]string, error) {
	keys := make([]string, len(records))
	if keyCol == "" {
		for i := range records {
			keys[i] = strconv.Itoa(i)
		}
		return keys, header, records, nil
	}
	kj := -1
	for j, h := range header {
		if h == keyCol {
			kj = j
			break
		}
	}
	if kj < 0 {
		return nil, nil, nil, fmt.Errorf("key column %q: %w", keyCol, ErrUnknownColumn)
	}
	cols := make([]string, 0, len(header)-1)
	cols = append(cols, header[:kj]...)
	cols = append(cols, header[kj+1:]...)
	rows := make([][]string, len(records))
	for i, rec := range records {
		keys[i] = rec[kj]
		r := make([]string, 0, len(rec)-1)
		r = append(r, rec[:kj]...)
		r = append(r, rec[kj+1:]...)
		rows[i] = r
	}
	return keys, cols, rows, nil
}

// ParseValue parses a feature cell. Empty cells and the usual spellings of
// NaN are read as NaN.
func ParseValue(s string) (float64, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "nan", "na", "null", "none":
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

// FormatValue renders a feature value. NaN is written as an empty cell.
func FormatValue(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ReadMetadataCSV reads a metadata table keyed by keyCol. With an empty
// keyCol rows are keyed by position.
func ReadMetadataCSV(r io.Reader, keyCol string) (*Metadata, error) {
	header, records, err := readAll(r)
	if err != nil {
		return nil, err
	}
	keys, cols, rows, err := splitKey(header, records, keyCol)
	if err != nil {
		return nil, err
	}
	return NewMetadata(keys, cols, rows)
}

// ReadFeaturesCSV reads a numeric feature table keyed by keyCol.
func ReadFeaturesCSV(r io.Reader, keyCol string) (*Features, error) {
	header, records, err := readAll(r)
	if err != nil {
		return nil, err
	}
	keys, names, cells, err := splitKey(header, records, keyCol)
	if err != nil {
		return nil, err
	}
	rows, err := parseRows(names, cells)
	if err != nil {
		return nil, err
	}
	return NewFeatures(keys, names, rows)
}

func parseRows(names []string, cells [][]string) ([][]float64, error) {
	rows := make([][]float64, len(cells))
	for i, rec := range cells {
		r := make([]float64, len(rec))
		for j, c := range rec {
			v, err := ParseValue(c)
			if err != nil {
				return nil, fmt.Errorf("row %d feature %q: %w", i+1, names[j], err)
			}
			r[j] = v
		}
		rows[i] = r
	}
	return rows, nil
}

// ReadCombinedCSV reads a table holding metadata and features side by side,
// as written by the tracker's results summaries. Columns listed in metaCols
// go to the metadata table and every other column is parsed as a feature.
func ReadCombinedCSV(r io.Reader, keyCol string, metaCols []string) (*Features, *Metadata, error) {
	header, records, err := readAll(r)
	if err != nil {
		return nil, nil, err
	}
	keys, cols, cells, err := splitKey(header, records, keyCol)
	if err != nil {
		return nil, nil, err
	}
	isMeta := make(map[string]bool, len(metaCols))
	for _, c := range metaCols {
		isMeta[c] = true
	}
	var metaIdx, featIdx []int
	var metaNames, featNames []string
	for j, c := range cols {
		if isMeta[c] {
			metaIdx = append(metaIdx, j)
			metaNames = append(metaNames, c)
		} else {
			featIdx = append(featIdx, j)
			featNames = append(featNames, c)
		}
	}
	metaRows := make([][]string, len(cells))
	featCells := make([][]string, len(cells))
	for i, rec := range cells {
		metaRows[i] = pick(rec, metaIdx)
		featCells[i] = pick(rec, featIdx)
	}
	meta, err := NewMetadata(keys, metaNames, metaRows)
	if err != nil {
		return nil, nil, err
	}
	rows, err := parseRows(featNames, featCells)
	if err != nil {
		return nil, nil, err
	}
	feat, err := NewFeatures(keys, featNames, rows)
	if err != nil {
		return nil, nil, err
	}
	return feat, meta, nil
}

func pick(rec []string, idx []int) []string {
	out := make([]string, len(idx))
	for k, j := range idx {
		out[k] = rec[j]
	}
	return out
}

// WriteFeaturesCSV writes f with its row keys in the first column, named
// keyCol.
func WriteFeaturesCSV(w io.Writer, f *Features, keyCol string) error {
	cw := csv.NewWriter(w)
	header := append([]string{keyCol}, f.Names...)
	if err := cw.Write(header); err != nil {
		return err
	}
	rec := make([]string, f.Width()+1)
	for i, k := range f.Keys {
		rec[0] = k
		for j := 0; j < f.Width(); j++ {
			rec[j+1] = FormatValue(f.At(i, j))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteMetadataCSV writes m with its row keys in the first column, named
// keyCol.
func WriteMetadataCSV(w io.Writer, m *Metadata, keyCol string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{keyCol}, m.Columns...)); err != nil {
		return err
	}
	for i, k := range m.Keys {
		if err := cw.Write(append([]string{k}, m.Rows[i]...)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
