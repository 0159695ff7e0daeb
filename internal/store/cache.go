package store

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// SummaryCacheEntry holds a compiled feature table and its metadata as CSV.
type SummaryCacheEntry struct {
	Key         string
	FeaturesCSV []byte
	MetadataCSV []byte
	NRows       int
	CreatedAt   time.Time
}

// SummaryCacheKey derives a cache key from the source directory and the
// imaging dates it was compiled from. Date order does not matter.
func SummaryCacheKey(dir string, dates []string) string {
	ds := append([]string(nil), dates...)
	sort.Strings(ds)
	sum := sha256.Sum256([]byte(dir + "\x00" + strings.Join(ds, ",")))
	return hex.EncodeToString(sum[:16])
}

// PutSummaryCache stores or replaces an entry.
func (db *DB) PutSummaryCache(e *SummaryCacheEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := db.Exec(`
		INSERT INTO summary_cache (cache_key, features_csv, metadata_csv, n_rows, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			features_csv = excluded.features_csv,
			metadata_csv = excluded.metadata_csv,
			n_rows = excluded.n_rows,
			created_at = excluded.created_at`,
		e.Key, e.FeaturesCSV, e.MetadataCSV, e.NRows, e.CreatedAt.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("put summary cache %s: %w", e.Key, err)
	}
	db.logger.Debug("cached compiled summaries", zap.String("key", e.Key), zap.Int("rows", e.NRows))
	return nil
}

// GetSummaryCache returns the entry for key, or ErrNotFound.
func (db *DB) GetSummaryCache(key string) (*SummaryCacheEntry, error) {
	var (
		e       SummaryCacheEntry
		created int64
	)
	err := db.QueryRow(`
		SELECT cache_key, features_csv, metadata_csv, n_rows, created_at
		FROM summary_cache WHERE cache_key = ?`, key).
		Scan(&e.Key, &e.FeaturesCSV, &e.MetadataCSV, &e.NRows, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("summary cache %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get summary cache %s: %w", key, err)
	}
	e.CreatedAt = time.Unix(0, created).UTC()
	return &e, nil
}

// DeleteSummaryCache removes the entry for key. Deleting a missing entry is
// not an error.
func (db *DB) DeleteSummaryCache(key string) error {
	if _, err := db.Exec(`DELETE FROM summary_cache WHERE cache_key = ?`, key); err != nil {
		return fmt.Errorf("delete summary cache %s: %w", key, err)
	}
	return nil
}
