// Package testutil provides shared test utilities and fixtures.
//
// Synthetic builds small, deterministic experiments: a metadata table with
// one row per well and a feature table in which chosen groups differ from
// the control in the first few features.
package testutil

import (
	"bytes"
	"fmt"
	"math"
	"math/rand/v2"
	"path/filepath"
	"testing"

	"github.com/banshee-data/wormbehaviour/internal/frame"
	"github.com/banshee-data/wormbehaviour/internal/fsutil"
)

// KeyColumn is the row key column written by Dataset.WriteCSV.
const KeyColumn = "well_id"

// Spec describes a synthetic experiment.
type Spec struct {
	Control  string
	Groups   []string // treated groups
	PerGroup int      // wells per group
	Features int
	Shifted  int     // features 0..Shifted-1 move with the group
	Effect   float64 // shift per treated group, in standard deviations
	GroupBy  string  // metadata column holding the group, default gene_name
	Seed     uint64
	BadWells int // control wells flagged is_bad_well

	// NaNFeature adds a feature that is missing in about 90% of wells.
	NaNFeature bool
}

// Dataset is a matched metadata and feature table.
type Dataset struct {
	Metadata *frame.Metadata
	Features *frame.Features
	Labels   []string
}

// FeatureName is the name of synthetic feature j.
func FeatureName(j int) string {
	return fmt.Sprintf("feature_%02d_50th", j)
}

// Synthetic builds a Dataset from s.
func Synthetic(s Spec) (*Dataset, error) {
	if s.GroupBy == "" {
		s.GroupBy = "gene_name"
	}
	if s.PerGroup <= 0 || s.Features <= 0 {
		return nil, fmt.Errorf("synthetic dataset needs wells and features")
	}
	rng := rand.New(rand.NewPCG(s.Seed, s.Seed^0x9e3779b97f4a7c15))

	groups := append([]string{s.Control}, s.Groups...)
	names := make([]string, s.Features)
	for j := range names {
		names[j] = FeatureName(j)
	}
	if s.NaNFeature {
		names = append(names, "mostly_missing_90th")
	}

	cols := []string{s.GroupBy, "imgstore_name", "well_name", "date_yyyymmdd", "is_bad_well"}
	var keys, labels []string
	var meta [][]string
	var rows [][]float64
	for g, group := range groups {
		for i := 0; i < s.PerGroup; i++ {
			key := fmt.Sprintf("w%03d", len(keys))
			bad := "False"
			if g == 0 && i < s.BadWells {
				bad = "True"
			}
			keys = append(keys, key)
			labels = append(labels, group)
			meta = append(meta, []string{
				group,
				fmt.Sprintf("run1_2021040%d_101010.2295680%d", 1+i%2, g%10),
				fmt.Sprintf("%c%d", 'A'+rune(i%8), 1+g),
				fmt.Sprintf("2021040%d", 1+i%2),
				bad,
			})
			row := make([]float64, len(names))
			for j := 0; j < s.Features; j++ {
				v := 10 + float64(j) + rng.NormFloat64()
				if j < s.Shifted {
					v += s.Effect * float64(g)
				}
				row[j] = v
			}
			if s.NaNFeature {
				row[s.Features] = rngNaN(rng)
			}
			rows = append(rows, row)
		}
	}
	m, err := frame.NewMetadata(keys, cols, meta)
	if err != nil {
		return nil, err
	}
	f, err := frame.NewFeatures(keys, names, rows)
	if err != nil {
		return nil, err
	}
	return &Dataset{Metadata: m, Features: f, Labels: labels}, nil
}

func rngNaN(rng *rand.Rand) float64 {
	if rng.Float64() < 0.9 {
		return math.NaN()
	}
	return rng.Float64()
}

// MustSynthetic is Synthetic for tests.
func MustSynthetic(t testing.TB, s Spec) *Dataset {
	t.Helper()
	d, err := Synthetic(s)
	if err != nil {
		t.Fatalf("synthetic dataset: %v", err)
	}
	return d
}

// WriteCSV stores the metadata and features as CSV files keyed by
// KeyColumn.
func (d *Dataset) WriteCSV(fs fsutil.FileSystem, metadataPath, featuresPath string) error {
	var meta, feats bytes.Buffer
	if err := frame.WriteMetadataCSV(&meta, d.Metadata, KeyColumn); err != nil {
		return err
	}
	if err := frame.WriteFeaturesCSV(&feats, d.Features, KeyColumn); err != nil {
		return err
	}
	for path, data := range map[string][]byte{metadataPath: meta.Bytes(), featuresPath: feats.Bytes()} {
		if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := fs.WriteFile(path, data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
