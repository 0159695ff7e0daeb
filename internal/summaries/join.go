package summaries

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/banshee-data/wormbehaviour/internal/frame"
)

// DefaultMetadataKeyColumns build the row key on the metadata side.
var DefaultMetadataKeyColumns = []string{ColImgstore, ColWell}

// ErrNoMatches is returned when no metadata row matches a feature row.
var ErrNoMatches = errors.New("no metadata rows match the feature summaries")

// JoinMetadata keys each metadata row by its keyCols values joined with
// KeySep and returns the rows present on both sides, in metadata order.
// Unmatched rows on either side are dropped and counted in the log.
func JoinMetadata(features *frame.Features, metadata *frame.Metadata, keyCols []string, logger *zap.Logger) (*frame.Features, *frame.Metadata, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(keyCols) == 0 {
		keyCols = DefaultMetadataKeyColumns
	}
	parts := make([][]string, len(keyCols))
	for k, col := range keyCols {
		values, err := metadata.Column(col)
		if err != nil {
			return nil, nil, err
		}
		parts[k] = values
	}
	keys := make([]string, metadata.Len())
	fields := make([]string, len(keyCols))
	for i := range keys {
		for k := range keyCols {
			fields[k] = parts[k][i]
		}
		keys[i] = strings.Join(fields, KeySep)
	}
	rekeyed, err := frame.NewMetadata(keys, metadata.Columns, metadata.Rows)
	if err != nil {
		return nil, nil, fmt.Errorf("metadata key: %w", err)
	}

	have := make(map[string]bool, features.Len())
	for _, k := range features.Keys {
		have[k] = true
	}
	var shared []string
	for _, k := range keys {
		if have[k] {
			shared = append(shared, k)
		}
	}
	if len(shared) == 0 {
		return nil, nil, ErrNoMatches
	}

	logger.Info("joined features with metadata",
		zap.Int("matched", len(shared)),
		zap.Int("metadata_only", len(keys)-len(shared)),
		zap.Int("features_only", features.Len()-len(shared)))

	f, err := features.Rows(shared)
	if err != nil {
		return nil, nil, err
	}
	m, err := rekeyed.Subset(shared)
	if err != nil {
		return nil, nil, err
	}
	return f, m, nil
}
