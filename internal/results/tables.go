// Package results writes statistics and cleaning outputs as CSV and text
// files under the save directory.
package results

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"

	"github.com/banshee-data/wormbehaviour/internal/clean"
	"github.com/banshee-data/wormbehaviour/internal/compare"
	"github.com/banshee-data/wormbehaviour/internal/frame"
	"github.com/banshee-data/wormbehaviour/internal/stats"
)

// TestTableHeader is the column layout of a single comparison table.
var TestTableHeader = []string{"feature", "stat", "effect_size", "pval", "pval_corrected", "reject", "significance"}

// EncodeTestTable writes t ranked by corrected p-value.
func EncodeTestTable(w io.Writer, t *compare.TestTable) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(TestTableHeader); err != nil {
		return err
	}
	for _, r := range t.Ranked() {
		rec := []string{
			r.Feature,
			frame.FormatValue(r.Statistic),
			frame.FormatValue(r.EffectSize),
			frame.FormatValue(r.P),
			frame.FormatValue(r.PCorrected),
			strconv.FormatBool(r.Reject),
			stats.SigAsterisk(r.PCorrected),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// DecodeTestTable reads a table written by EncodeTestTable. Rows keep file
// order.
func DecodeTestTable(r io.Reader) (*compare.TestTable, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for j, h := range header {
		col[h] = j
	}
	for _, h := range TestTableHeader[:6] {
		if _, ok := col[h]; !ok {
			return nil, fmt.Errorf("missing column %q", h)
		}
	}

	t := &compare.TestTable{}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		row := compare.Row{Feature: rec[col["feature"]]}
		for _, f := range []struct {
			name string
			dst  *float64
		}{
			{"stat", &row.Statistic},
			{"effect_size", &row.EffectSize},
			{"pval", &row.P},
			{"pval_corrected", &row.PCorrected},
		} {
			if *f.dst, err = frame.ParseValue(rec[col[f.name]]); err != nil {
				return nil, fmt.Errorf("line %d %s: %w", line, f.name, err)
			}
		}
		if row.Reject, err = strconv.ParseBool(rec[col["reject"]]); err != nil {
			return nil, fmt.Errorf("line %d reject: %w", line, err)
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// EncodePairwise writes one row per feature and, for every group, the
// columns stats_<g>, effect_size_<g>, pvals_<g> and reject_<g>. Features are
// ordered by their smallest corrected p-value over all groups.
func EncodePairwise(w io.Writer, res *compare.Result) error {
	best := make(map[string]float64)
	var features []string
	for _, g := range res.Groups {
		for _, r := range res.Pairwise[g].Rows {
			p, seen := best[r.Feature]
			if !seen {
				features = append(features, r.Feature)
				best[r.Feature] = math.NaN()
				p = math.NaN()
			}
			if !math.IsNaN(r.PCorrected) && (math.IsNaN(p) || r.PCorrected < p) {
				best[r.Feature] = r.PCorrected
			}
		}
	}
	sort.SliceStable(features, func(i, j int) bool {
		a, b := best[features[i]], best[features[j]]
		if math.IsNaN(a) || math.IsNaN(b) {
			return !math.IsNaN(a) && math.IsNaN(b)
		}
		return a < b
	})

	cw := csv.NewWriter(w)
	header := []string{"feature"}
	for _, g := range res.Groups {
		header = append(header, "stats_"+g, "effect_size_"+g, "pvals_"+g, "reject_"+g)
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, f := range features {
		rec := []string{f}
		for _, g := range res.Groups {
			r, ok := res.Pairwise[g].Row(f)
			if !ok {
				rec = append(rec, "", "", "", "")
				continue
			}
			rec = append(rec,
				frame.FormatValue(r.Statistic),
				frame.FormatValue(r.EffectSize),
				frame.FormatValue(r.PCorrected),
				strconv.FormatBool(r.Reject))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// EncodeSigfeats writes, per group, how many features were significant
// before and after correction.
func EncodeSigfeats(w io.Writer, res *compare.Result, alpha float64) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"group", "test", "n_tested", "n_dropped", "sigfeats", "sigfeats_corrected"}); err != nil {
		return err
	}
	tables := make([]*compare.TestTable, 0, len(res.Groups)+1)
	if res.Omnibus != nil {
		tables = append(tables, res.Omnibus)
	}
	for _, g := range res.Groups {
		tables = append(tables, res.Pairwise[g])
	}
	for _, t := range tables {
		group := t.Group
		if group == "" {
			group = "all"
		}
		rec := []string{
			group,
			t.Kind.String(),
			strconv.Itoa(len(t.Rows)),
			strconv.Itoa(len(t.Dropped)),
			strconv.Itoa(t.CountRaw(alpha)),
			strconv.Itoa(t.CountCorrected()),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// EncodeDropped writes one row per feature removed during cleaning.
func EncodeDropped(w io.Writer, rep clean.Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"reason", "feature"}); err != nil {
		return err
	}
	for _, reason := range clean.Reasons {
		for _, f := range rep.Dropped[reason] {
			if err := cw.Write([]string{string(reason), f}); err != nil {
				return err
			}
		}
	}
	for _, k := range rep.BadWells {
		if err := cw.Write([]string{"bad_well", k}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
