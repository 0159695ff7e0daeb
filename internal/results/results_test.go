package results

import (
	"bytes"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/wormbehaviour/internal/clean"
	"github.com/banshee-data/wormbehaviour/internal/compare"
	"github.com/banshee-data/wormbehaviour/internal/fsutil"
	"github.com/banshee-data/wormbehaviour/internal/security"
	"github.com/banshee-data/wormbehaviour/internal/stats"
)

func sampleTable() *compare.TestTable {
	nan := math.NaN()
	return &compare.TestTable{
		Kind:    stats.TTest,
		Method:  stats.FDRBH,
		Group:   "unc-80",
		Control: "N2",
		Rows: []compare.Row{
			{Feature: "motion_paused_fraction", Statistic: nan, EffectSize: nan, P: nan, PCorrected: nan},
			{Feature: "length_50th", Statistic: -0.25, EffectSize: -0.5, P: 0.8, PCorrected: 0.8},
			{Feature: "speed_50th", Statistic: 11.5, EffectSize: 7.25, P: 0.0001, PCorrected: 0.0002, Reject: true},
		},
	}
}

func TestEncodeTestTableGolden(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeTestTable(&buf, sampleTable()))

	g := goldie.New(t, goldie.WithFixtureDir("testdata/golden"))
	g.Assert(t, "test_table", buf.Bytes())
}

func TestTestTableRoundTrip(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	w := NewWriter(fs, "/save")

	path, err := w.WriteTestTable("stats/unc-80_ttest_results.csv", sampleTable())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/save", "stats", "unc-80_ttest_results.csv"), path)
	assert.True(t, fs.Exists("/save/stats"))

	got, err := w.ReadTestTable("stats/unc-80_ttest_results.csv")
	require.NoError(t, err)

	want := sampleTable().Ranked()
	if diff := cmp.Diff(want, got.Rows, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeTestTableMissingColumn(t *testing.T) {
	_, err := DecodeTestTable(strings.NewReader("feature,stat\nspeed,1\n"))
	assert.ErrorContains(t, err, "effect_size")
}

func TestWriterRejectsEscape(t *testing.T) {
	w := NewWriter(fsutil.NewMemoryFileSystem(), "/save")
	_, err := w.WriteList("../outside.txt", []string{"a"})
	assert.ErrorIs(t, err, security.ErrPathTraversal)
}

func TestWriteListRoundTrip(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	w := NewWriter(fs, "/save")
	path, err := w.WriteList("top_feats.txt", []string{"speed_50th", "length_50th"})
	require.NoError(t, err)

	got, err := ReadList(fs, path)
	require.NoError(t, err)
	assert.Equal(t, []string{"speed_50th", "length_50th"}, got)
}

func comparisonResult() *compare.Result {
	a := &compare.TestTable{
		Kind:  stats.TTest,
		Group: "A",
		Rows: []compare.Row{
			{Feature: "speed", Statistic: 4, EffectSize: 2, P: 0.001, PCorrected: 0.002, Reject: true},
			{Feature: "length", Statistic: 0.1, EffectSize: 0.05, P: 0.9, PCorrected: 0.9},
		},
	}
	b := &compare.TestTable{
		Kind:    stats.TTest,
		Group:   "B",
		Dropped: []string{"speed"},
		Rows: []compare.Row{
			{Feature: "length", Statistic: 3, EffectSize: 1, P: 0.0005, PCorrected: 0.001, Reject: true},
		},
	}
	return &compare.Result{
		Control:  "N2",
		Groups:   []string{"A", "B"},
		Pairwise: map[string]*compare.TestTable{"A": a, "B": b},
	}
}

func TestEncodePairwise(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodePairwise(&buf, comparisonResult()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "feature,stats_A,effect_size_A,pvals_A,reject_A,stats_B,effect_size_B,pvals_B,reject_B", lines[0])
	// length has the smallest corrected p-value (0.001 vs B).
	assert.Equal(t, "length,0.1,0.05,0.9,false,3,1,0.001,true", lines[1])
	assert.Equal(t, "speed,4,2,0.002,true,,,,", lines[2])
}

func TestEncodeSigfeats(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeSigfeats(&buf, comparisonResult(), 0.05))

	want := "group,test,n_tested,n_dropped,sigfeats,sigfeats_corrected\n" +
		"A,t-test,2,0,1,1\n" +
		"B,t-test,1,1,1,1\n"
	assert.Equal(t, want, buf.String())
}

func TestEncodeDropped(t *testing.T) {
	rep := clean.Report{
		Dropped: map[clean.Reason][]string{
			clean.ReasonSizeRelated: {"length_50th"},
			clean.ReasonNaN:         {"food_edge_distance"},
		},
		BadWells: []string{"plate1__A1"},
	}
	var buf bytes.Buffer
	require.NoError(t, EncodeDropped(&buf, rep))

	want := "reason,feature\n" +
		"nan_threshold,food_edge_distance\n" +
		"size_related,length_50th\n" +
		"bad_well,plate1__A1\n"
	assert.Equal(t, want, buf.String())
}
