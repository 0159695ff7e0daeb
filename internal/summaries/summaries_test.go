package summaries

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/banshee-data/wormbehaviour/internal/frame"
	"github.com/banshee-data/wormbehaviour/internal/fsutil"
	"github.com/banshee-data/wormbehaviour/internal/store"
)

const (
	storeA = "run1_20210406_101010.22956805"
	storeB = "run1_20210406_101010.22956806"
	storeC = "run2_20210413_111111.22956805"
)

func resultsFS(t *testing.T) *fsutil.MemoryFileSystem {
	t.Helper()
	fs := fsutil.NewMemoryFileSystem()
	write := func(path, content string) {
		require.NoError(t, fs.WriteFile(path, []byte(content), 0o644))
	}

	write("/res/20210406/features_summary_tierpsy_plate_window_0.csv",
		"# Tierpsy Tracker feature summaries\n"+
			"file_id,well_name,speed_50th,length_50th\n"+
			"0,A1,100.5,1000\n"+
			"0,B1,110,1010\n"+
			"1,A1,90,990\n")
	write("/res/20210406/filenames_summary_tierpsy_plate_window_0.csv",
		"file_id,filename,is_good\n"+
			"0,/data/Results/20210406/"+storeA+"/metadata_featuresN.hdf5,True\n"+
			"1,/data/Results/20210406/"+storeB+"/metadata_featuresN.hdf5,False\n")

	write("/res/20210413/features_summary_tierpsy_plate_window_0.csv",
		"file_id,well_name,speed_50th,curvature_mean\n"+
			"0,C3,95,0.01\n")
	write("/res/20210413/filenames_summary_tierpsy_plate_window_0.csv",
		"file_id,filename,is_good\n"+
			"0,/data/Results/20210413/"+storeC+"/metadata_featuresN.hdf5,1\n")

	// No filenames summary: skipped.
	write("/res/20210420/features_summary_tierpsy_plate_window_0.csv",
		"file_id,well_name,speed_50th\n0,A1,1\n")
	return fs
}

func TestCompile(t *testing.T) {
	c := NewCompiler(resultsFS(t), zaptest.NewLogger(t))
	out, err := c.Compile(context.Background(), "/res", Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{storeA + "__A1", storeA + "__B1", storeC + "__C3"}, out.Features.Keys)
	assert.Equal(t, []string{"speed_50th", "length_50th", "curvature_mean"}, out.Features.Names)
	assert.Equal(t, 100.5, out.Features.At(0, 0))
	assert.True(t, math.IsNaN(out.Features.At(0, 2)))
	assert.True(t, math.IsNaN(out.Features.At(2, 1)))
	assert.Equal(t, 0.01, out.Features.At(2, 2))
	assert.Equal(t, []string{"/res/20210420/features_summary_tierpsy_plate_window_0.csv"}, out.Skipped)

	wells, err := out.Files.Column(ColWell)
	require.NoError(t, err)
	assert.Equal(t, []string{"A1", "B1", "C3"}, wells)
	stores, err := out.Files.Column(ColImgstore)
	require.NoError(t, err)
	assert.Equal(t, storeC, stores[2])
}

func TestCompileDates(t *testing.T) {
	c := NewCompiler(resultsFS(t), zaptest.NewLogger(t))
	out, err := c.Compile(context.Background(), "/res", Options{Dates: []string{"20210413", "20991231"}})
	require.NoError(t, err)
	assert.Equal(t, []string{storeC + "__C3"}, out.Features.Keys)
	assert.Empty(t, out.Skipped)
}

func TestCompileNothingFound(t *testing.T) {
	c := NewCompiler(resultsFS(t), nil)
	_, err := c.Compile(context.Background(), "/res", Options{Dates: []string{"20210420"}})
	assert.ErrorIs(t, err, ErrNoSummaries)

	_, err = c.Compile(context.Background(), "/res", Options{Pattern: "["})
	assert.Error(t, err)
}

func TestCompileCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewCompiler(resultsFS(t), nil).Compile(ctx, "/res", Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

type memCache struct {
	entries map[string]*store.SummaryCacheEntry
	puts    int
}

func (m *memCache) GetSummaryCache(key string) (*store.SummaryCacheEntry, error) {
	e, ok := m.entries[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, store.ErrNotFound)
	}
	return e, nil
}

func (m *memCache) PutSummaryCache(e *store.SummaryCacheEntry) error {
	m.entries[e.Key] = e
	m.puts++
	return nil
}

func TestCompileCached(t *testing.T) {
	c := NewCompiler(resultsFS(t), zaptest.NewLogger(t))
	cache := &memCache{entries: map[string]*store.SummaryCacheEntry{}}
	ctx := context.Background()

	first, hit, err := c.CompileCached(ctx, cache, "/res", Options{}, false)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 1, cache.puts)

	second, hit, err := c.CompileCached(ctx, cache, "/res", Options{}, false)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, first.Features.Keys, second.Features.Keys)
	assert.Equal(t, first.Features.Names, second.Features.Names)
	assert.Equal(t, first.Features.NaNCount(), second.Features.NaNCount())
	assert.Equal(t, first.Files.Rows, second.Files.Rows)

	_, hit, err = c.CompileCached(ctx, cache, "/res", Options{}, true)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, cache.puts)
}

func TestJoinMetadata(t *testing.T) {
	feats, err := frame.NewFeatures(
		[]string{storeA + "__A1", storeA + "__B1", storeC + "__C3"},
		[]string{"speed_50th"},
		[][]float64{{1}, {2}, {3}})
	require.NoError(t, err)
	meta, err := frame.NewMetadata(
		[]string{"0", "1", "2"},
		[]string{ColImgstore, ColWell, "gene_name"},
		[][]string{
			{storeC, "C3", "fepD"},
			{storeA, "A1", "wild_type"},
			{storeA, "H12", "wild_type"},
		})
	require.NoError(t, err)

	f, m, err := JoinMetadata(feats, meta, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, []string{storeC + "__C3", storeA + "__A1"}, f.Keys)
	assert.Equal(t, f.Keys, m.Keys)
	assert.Equal(t, 3.0, f.At(0, 0))
	genes, err := m.Column("gene_name")
	require.NoError(t, err)
	assert.Equal(t, []string{"fepD", "wild_type"}, genes)

	_, _, err = JoinMetadata(feats, meta, []string{"gene_name"}, nil)
	assert.Error(t, err) // duplicate key wild_type

	_, _, err = JoinMetadata(feats, meta, []string{ColWell}, nil)
	assert.ErrorIs(t, err, ErrNoMatches)
}

func TestLoadFeatureSet(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	require.NoError(t, fs.WriteFile("/sets/tierpsy_16.csv",
		[]byte("feature\nspeed_50th\npath_curvature_midbody_abs_90th\nlength_50th\n"), 0o644))

	names, err := LoadFeatureSet(fs, "/sets/"+FeatureSetFile(16), FeatureSetOptions{}, nil)
	require.NoError(t, err)
	assert.Len(t, names, 3)

	names, err = LoadFeatureSet(fs, "/sets/tierpsy_16.csv",
		FeatureSetOptions{DropPathCurvature: true, AppendBluelight: true}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"speed_50th_prestim", "length_50th_prestim",
		"speed_50th_bluelight", "length_50th_bluelight",
		"speed_50th_poststim", "length_50th_poststim",
	}, names)

	_, err = LoadFeatureSet(fs, "/sets/missing.csv", FeatureSetOptions{}, nil)
	assert.Error(t, err)
}

func TestSelectFeatureSet(t *testing.T) {
	feats, err := frame.NewFeatures([]string{"a"}, []string{"x", "y", "z"}, [][]float64{{1, 2, 3}})
	require.NoError(t, err)
	out, missing, err := SelectFeatureSet(feats, []string{"z", "w", "x"})
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "x"}, out.Names)
	assert.Equal(t, []string{"w"}, missing)
	assert.Equal(t, 3.0, out.At(0, 0))
}

func TestBluelightWindows(t *testing.T) {
	w := BluelightWindows([]float64{30, 31})
	assert.Equal(t, []string{"1790:1800, 1805:1815, 1815:1825", "1850:1860, 1865:1875, 1875:1885"}, w.Optimal)
	assert.Equal(t, []string{"1830:1860", "1890:1920"}, w.ThirtySecond)
}
