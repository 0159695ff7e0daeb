package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/wormbehaviour/internal/fsutil"
	"github.com/banshee-data/wormbehaviour/internal/stats"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	p := &Params{}
	assert.Equal(t, "gene_name", p.GetGroupingVariable())
	assert.Equal(t, "wild_type", p.GetControl())
	assert.Equal(t, 0.05, p.GetPvalThreshold())
	assert.Equal(t, stats.FDRBH, p.GetFDRMethod())
	assert.Nil(t, p.GetParametric())
	assert.Equal(t, 0.2, p.GetNaNThreshold())
	assert.True(t, p.GetImputeNaNs())
	assert.True(t, p.GetDropBadWells())
	assert.False(t, p.GetDropSizeFeatures())
	assert.Equal(t, 10, p.GetOutlierPCs())
	assert.Equal(t, 2.0, p.GetOutlierExtremeness())
	assert.Equal(t, []float64{5, 15, 30}, p.GetTSNEPerplexities())
	assert.Equal(t, []int{5, 15, 30}, p.GetUMAPNeighbours())
	assert.Equal(t, "png", p.GetPlotFormat())
	assert.Equal(t, 0, p.GetNTopFeats())

	d := DefaultParams()
	require.NoError(t, d.Validate())
	assert.Equal(t, p.GetControl(), d.GetControl())
	assert.Equal(t, p.GetFDRMethod(), d.GetFDRMethod())
	assert.Equal(t, p.GetSeed(), d.GetSeed())
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "params.json", `{
  "project_dir": "/data/Keio_Screen",
  "grouping_variable": "food_type",
  "control": "OP50",
  "pval_threshold": 0.01,
  "fdr_method": "fdr_by",
  "test": "ranksum",
  "n_top_feats": 256,
  "dates": ["20210406", "20210413"],
  "remove_outliers": true
}`)
	p, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/Keio_Screen", p.ProjectDir)
	assert.Equal(t, "food_type", p.GetGroupingVariable())
	assert.Equal(t, "OP50", p.GetControl())
	assert.Equal(t, 0.01, p.GetPvalThreshold())
	assert.Equal(t, stats.FDRBY, p.GetFDRMethod())
	require.NotNil(t, p.GetParametric())
	assert.False(t, *p.GetParametric())
	assert.Equal(t, 256, p.GetNTopFeats())
	assert.Equal(t, []string{"20210406", "20210413"}, p.Dates)
	assert.True(t, p.GetRemoveOutliers())
	// Omitted fields keep their defaults.
	assert.Equal(t, 0.2, p.GetNaNThreshold())
}

func TestLoadYAMLWithEnvOverride(t *testing.T) {
	path := writeFile(t, "params.yaml", "control: N2\npval_threshold: 0.05\n")
	t.Setenv("WORMBEHAVIOUR_PVAL_THRESHOLD", "0.1")

	p, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "N2", p.GetControl())
	assert.Equal(t, 0.1, p.GetPvalThreshold())
}

func TestLoadWithoutFile(t *testing.T) {
	p, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, "wild_type", p.GetControl())
}

func TestLoadRejects(t *testing.T) {
	t.Run("extension", func(t *testing.T) {
		_, err := LoadFile(writeFile(t, "params.txt", "{}"))
		assert.ErrorContains(t, err, "extension")
	})
	t.Run("too large", func(t *testing.T) {
		big := `{"project_dir": "` + strings.Repeat("x", maxFileSize) + `"}`
		_, err := LoadFile(writeFile(t, "big.json", big))
		assert.ErrorContains(t, err, "too large")
	})
	t.Run("missing", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "nope.json"))
		assert.Error(t, err)
	})
	t.Run("invalid value", func(t *testing.T) {
		_, err := LoadFile(writeFile(t, "p.json", `{"pval_threshold": 1.5}`))
		assert.ErrorIs(t, err, ErrInvalid)
	})
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		p    Params
	}{
		{"nan threshold", Params{NaNThreshold: ptrFloat64(-0.1)}},
		{"fdr method", Params{FDRMethod: ptrString("sidak")}},
		{"test", Params{Test: ptrString("chi2")}},
		{"feature set", Params{NTopFeats: ptrInt(100)}},
		{"outlier pcs", Params{OutlierPCs: ptrInt(0)}},
		{"extremeness", Params{OutlierExtremeness: ptrFloat64(0)}},
		{"plot format", Params{PlotFormat: ptrString("gif")}},
		{"perplexity", Params{TSNEPerplexities: []float64{0}}},
		{"neighbours", Params{UMAPNeighbours: []int{1}}},
		{"timepoints", Params{BluelightTimepoints: []float64{-5}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, tc.p.Validate(), ErrInvalid)
		})
	}
	assert.NoError(t, (&Params{Test: ptrString("auto")}).Validate())
}

func TestGetParametric(t *testing.T) {
	for test, want := range map[string]bool{"t-test": true, "ANOVA": true, "ranksum": false, "kruskal": false} {
		p := Params{Test: ptrString(test)}
		got := p.GetParametric()
		require.NotNil(t, got, test)
		assert.Equal(t, want, *got, test)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	p := DefaultParams()
	p.SaveDir = "/results"
	p.Dates = []string{"20210406"}
	require.NoError(t, p.Save(fs, "/results/params.yaml"))

	data, err := fs.ReadFile("/results/params.yaml")
	require.NoError(t, err)
	assert.Contains(t, string(data), "control: wild_type")
	assert.Contains(t, string(data), "fdr_method: fdr_bh")

	// The saved file loads back to the same values.
	path := writeFile(t, "params.yaml", string(data))
	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, p.GetControl(), loaded.GetControl())
	assert.Equal(t, p.Dates, loaded.Dates)
	assert.Equal(t, p.GetTSNEPerplexities(), loaded.GetTSNEPerplexities())
	assert.Equal(t, p.GetSeed(), loaded.GetSeed())
}

func TestKeysAndDBPath(t *testing.T) {
	keys := Keys()
	assert.Contains(t, keys, "pval_threshold")
	assert.Contains(t, keys, "save_dir")

	p := Params{SaveDir: "/out"}
	assert.Equal(t, filepath.Join("/out", "wormbehaviour.db"), p.GetDBPath())
}
