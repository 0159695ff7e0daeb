package store

import (
	"database/sql"
	"fmt"
	"math"

	"github.com/banshee-data/wormbehaviour/internal/compare"
	"github.com/banshee-data/wormbehaviour/internal/stats"
)

// SaveTestTable stores every row of t under the run. The comparison name is
// t.Name(). Saving the same comparison twice replaces it.
func (db *DB) SaveTestTable(runID string, t *compare.TestTable) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	name := t.Name()
	if _, err := tx.Exec(`DELETE FROM test_results WHERE run_id = ? AND comparison = ?`, runID, name); err != nil {
		return fmt.Errorf("clear %s: %w", name, err)
	}
	stmt, err := tx.Prepare(`
		INSERT INTO test_results
			(run_id, comparison, test, feature, stat, effect_size, pval, pval_corrected, reject)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range t.Rows {
		if _, err := stmt.Exec(runID, name, t.Kind.String(), r.Feature,
			nullable(r.Statistic), nullable(r.EffectSize), nullable(r.P), nullable(r.PCorrected),
			r.Reject); err != nil {
			return fmt.Errorf("insert %s/%s: %w", name, r.Feature, err)
		}
	}
	return tx.Commit()
}

// LoadTestTable reads back a comparison saved by SaveTestTable, ranked by
// corrected p-value. Only Kind and Rows are populated.
func (db *DB) LoadTestTable(runID, comparison string) (*compare.TestTable, error) {
	rows, err := db.Query(`
		SELECT test, feature, stat, effect_size, pval, pval_corrected, reject
		FROM test_results WHERE run_id = ? AND comparison = ?`, runID, comparison)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", comparison, err)
	}
	defer rows.Close()

	t := &compare.TestTable{}
	var kind string
	for rows.Next() {
		var (
			r                        compare.Row
			stat, eff, p, pCorrected sql.NullFloat64
		)
		if err := rows.Scan(&kind, &r.Feature, &stat, &eff, &p, &pCorrected, &r.Reject); err != nil {
			return nil, err
		}
		r.Statistic, r.EffectSize, r.P, r.PCorrected = orNaN(stat), orNaN(eff), orNaN(p), orNaN(pCorrected)
		t.Rows = append(t.Rows, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(t.Rows) == 0 {
		return nil, fmt.Errorf("comparison %q in run %s: %w", comparison, runID, ErrNotFound)
	}
	if t.Kind, err = stats.ParseTestKind(kind); err != nil {
		return nil, err
	}
	t.Rows = t.Ranked()
	return t, nil
}

// Comparisons lists the comparison names saved for a run.
func (db *DB) Comparisons(runID string) ([]string, error) {
	rows, err := db.Query(`
		SELECT DISTINCT comparison FROM test_results WHERE run_id = ? ORDER BY comparison`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SQLite stores NaN as NULL, so it is written that way explicitly.
func nullable(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: !math.IsNaN(v)}
}

func orNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
