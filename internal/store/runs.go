package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Run statuses.
const (
	RunRunning  = "running"
	RunComplete = "complete"
	RunFailed   = "failed"
)

// Run is one invocation of the analysis pipeline.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string
	Version    string
	SaveDir    string
	ParamsYAML string
	NSamples   int
	NFeatures  int
	Error      string
}

// StartRun records a new run and returns it with a fresh ID.
func (db *DB) StartRun(started time.Time, version, saveDir, paramsYAML string) (*Run, error) {
	r := &Run{
		ID:         uuid.NewString(),
		StartedAt:  started.UTC(),
		Status:     RunRunning,
		Version:    version,
		SaveDir:    saveDir,
		ParamsYAML: paramsYAML,
	}
	_, err := db.Exec(`
		INSERT INTO runs (run_id, started_at, status, version, save_dir, params_yaml)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.StartedAt.UnixNano(), r.Status, r.Version, r.SaveDir, r.ParamsYAML)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	db.logger.Debug("run started", zap.String("run_id", r.ID))
	return r, nil
}

// FinishRun marks a run complete, or failed when runErr is non-nil.
func (db *DB) FinishRun(id string, finished time.Time, nSamples, nFeatures int, runErr error) error {
	status, msg := RunComplete, ""
	if runErr != nil {
		status, msg = RunFailed, runErr.Error()
	}
	res, err := db.Exec(`
		UPDATE runs
		SET finished_at = ?, status = ?, n_samples = ?, n_features = ?, error = ?
		WHERE run_id = ?`,
		finished.UTC().UnixNano(), status, nSamples, nFeatures, msg, id)
	if err != nil {
		return fmt.Errorf("update run %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

const runColumns = `run_id, started_at, finished_at, status, version, save_dir, params_yaml,
	n_samples, n_features, error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(s rowScanner) (*Run, error) {
	var (
		r          Run
		started    int64
		finished   sql.NullInt64
		nSamples   sql.NullInt64
		nFeatures  sql.NullInt64
		errMessage sql.NullString
	)
	if err := s.Scan(&r.ID, &started, &finished, &r.Status, &r.Version, &r.SaveDir,
		&r.ParamsYAML, &nSamples, &nFeatures, &errMessage); err != nil {
		return nil, err
	}
	r.StartedAt = time.Unix(0, started).UTC()
	if finished.Valid {
		t := time.Unix(0, finished.Int64).UTC()
		r.FinishedAt = &t
	}
	r.NSamples = int(nSamples.Int64)
	r.NFeatures = int(nFeatures.Int64)
	r.Error = errMessage.String
	return &r, nil
}

// GetRun returns the run with the given ID.
func (db *DB) GetRun(id string) (*Run, error) {
	r, err := scanRun(db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	return r, nil
}

// ListRuns returns up to limit runs, newest first.
func (db *DB) ListRuns(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
