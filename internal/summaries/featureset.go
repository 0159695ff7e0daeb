package summaries

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/banshee-data/wormbehaviour/internal/frame"
	"github.com/banshee-data/wormbehaviour/internal/fsutil"
)

// BluelightSuffixes are appended to feature names for the three stimulus
// conditions, in this order.
var BluelightSuffixes = []string{"_prestim", "_bluelight", "_poststim"}

// FeatureSetOptions control LoadFeatureSet.
type FeatureSetOptions struct {
	DropPathCurvature bool
	AppendBluelight   bool
}

// FeatureSetFile is the conventional file name of the curated Tierpsy
// feature set of size n.
func FeatureSetFile(n int) string {
	return fmt.Sprintf("tierpsy_%d.csv", n)
}

// LoadFeatureSet reads a feature list: a CSV whose first column holds
// feature names under a header. With AppendBluelight every name is expanded
// to all bluelight conditions, all _prestim names first.
func LoadFeatureSet(fs fsutil.FileSystem, path string, opts FeatureSetOptions, logger *zap.Logger) ([]string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	m, err := frame.ReadMetadataCSV(f, "")
	if err != nil {
		return nil, fmt.Errorf("read feature set %s: %w", path, err)
	}
	if len(m.Columns) == 0 {
		return nil, fmt.Errorf("feature set %s has no columns", path)
	}
	names, err := m.Column(m.Columns[0])
	if err != nil {
		return nil, err
	}
	n := len(names)
	logger.Info("feature list loaded", zap.String("path", path), zap.Int("features", n))

	if opts.DropPathCurvature {
		kept := names[:0:0]
		for _, name := range names {
			if !strings.Contains(name, "path_curvature") {
				kept = append(kept, name)
			}
		}
		logger.Info("dropped path curvature features", zap.Int("dropped", n-len(kept)))
		names = kept
	}

	if opts.AppendBluelight {
		out := make([]string, 0, len(names)*len(BluelightSuffixes))
		for _, suffix := range BluelightSuffixes {
			for _, name := range names {
				out = append(out, name+suffix)
			}
		}
		names = out
	}
	return names, nil
}

// SelectFeatureSet keeps the columns of f named in set, in set order, and
// reports the names f does not have.
func SelectFeatureSet(f *frame.Features, set []string) (*frame.Features, []string, error) {
	var present, missing []string
	for _, name := range set {
		if f.ColumnIndex(name) >= 0 {
			present = append(present, name)
		} else {
			missing = append(missing, name)
		}
	}
	out, err := f.Select(present)
	if err != nil {
		return nil, nil, err
	}
	return out, missing, nil
}
