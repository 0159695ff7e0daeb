package frame

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFeatures(t *testing.T) *Features {
	t.Helper()
	f, err := NewFeatures(
		[]string{"w1", "w2", "w3"},
		[]string{"speed_50th", "length_50th"},
		[][]float64{{1, 10}, {2, math.NaN()}, {3, 30}},
	)
	require.NoError(t, err)
	return f
}

func sampleMetadata(t *testing.T) *Metadata {
	t.Helper()
	m, err := NewMetadata(
		[]string{"w3", "w1", "w2"},
		[]string{"gene_name", "is_dead"},
		[][]string{{"fepD", "N"}, {"wild_type", "N"}, {"fepD", "Y"}},
	)
	require.NoError(t, err)
	return m
}

func TestNewFeaturesRejectsBadShapes(t *testing.T) {
	t.Parallel()

	_, err := NewFeatures([]string{"a", "a"}, []string{"x"}, [][]float64{{1}, {2}})
	assert.Error(t, err)

	_, err = NewFeatures([]string{"a"}, []string{"x", "y"}, [][]float64{{1}})
	assert.Error(t, err)

	_, err = NewFeatures([]string{"a"}, []string{"x"}, nil)
	assert.Error(t, err)
}

func TestFeaturesColumnOps(t *testing.T) {
	t.Parallel()
	f := sampleFeatures(t)

	col, err := f.Col("length_50th")
	require.NoError(t, err)
	assert.True(t, math.IsNaN(col[1]))
	assert.Equal(t, 1, f.NaNCount())

	_, err = f.Col("nope")
	assert.ErrorIs(t, err, ErrUnknownColumn)

	dropped := f.DropColumns([]string{"length_50th", "unknown"})
	assert.Equal(t, []string{"speed_50th"}, dropped.Names)
	assert.Equal(t, 2, f.Width(), "original untouched")

	sel, err := f.Select([]string{"length_50th", "speed_50th"})
	require.NoError(t, err)
	assert.Equal(t, []float64{30, 3}, sel.RowAt(2))

	clone := f.Clone()
	clone.Set(0, 0, 99)
	assert.Equal(t, 1.0, f.At(0, 0))
}

func TestReindex(t *testing.T) {
	t.Parallel()
	f := sampleFeatures(t)

	got, err := f.Reindex([]string{"w3", "missing"})
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 30}, got.RowAt(0))
	assert.True(t, math.IsNaN(got.At(1, 0)))

	_, err = f.Rows([]string{"missing"})
	assert.ErrorIs(t, err, ErrIndexMismatch)
}

func TestAlign(t *testing.T) {
	t.Parallel()
	f := sampleFeatures(t)
	m := sampleMetadata(t)

	aligned, err := Align(f, m)
	require.NoError(t, err)
	assert.Equal(t, m.Keys, aligned.Keys)
	assert.Equal(t, 3.0, aligned.At(0, 0))

	other, err := m.Subset([]string{"w1", "w2"})
	require.NoError(t, err)
	_, err = Align(f, other)
	assert.ErrorIs(t, err, ErrIndexMismatch)

	renamed, err := NewMetadata([]string{"w1", "w2", "w4"}, []string{"gene_name"}, [][]string{{"a"}, {"b"}, {"c"}})
	require.NoError(t, err)
	_, err = Align(f, renamed)
	assert.ErrorIs(t, err, ErrIndexMismatch)
}

func TestMetadataOps(t *testing.T) {
	t.Parallel()
	m := sampleMetadata(t)

	require.NoError(t, m.ConcatColumns("treatment", []string{"gene_name", "is_dead"}, "-"))
	treatment, err := m.Column("treatment")
	require.NoError(t, err)
	assert.Equal(t, []string{"fepD-N", "wild_type-N", "fepD-Y"}, treatment)

	require.NoError(t, m.Set("w2", "is_dead", "N"))
	assert.ErrorIs(t, m.Set("nope", "is_dead", "N"), ErrIndexMismatch)

	live, err := m.Filter("is_dead", func(v string) bool { return v == "N" })
	require.NoError(t, err)
	assert.Equal(t, []string{"w3", "w1", "w2"}, live.Keys)

	genes, err := m.Unique("gene_name")
	require.NoError(t, err)
	assert.Equal(t, []string{"fepD", "wild_type"}, genes)

	g, err := Groups(m, "gene_name")
	require.NoError(t, err)
	if diff := cmp.Diff(map[string][]string{"fepD": {"w3", "w2"}, "wild_type": {"w1"}}, g.Keys); diff != "" {
		t.Errorf("group keys mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, map[string]int{"fepD": 2, "wild_type": 1}, g.Sizes())
	assert.Equal(t, "fepD", g.LabelOf()["w2"])
}

func TestCheckCaseUnique(t *testing.T) {
	t.Parallel()

	m, err := NewMetadata([]string{"a", "b", "c"}, []string{"food_type"},
		[][]string{{"OP50"}, {"op50"}, {"PA14"}})
	require.NoError(t, err)
	assert.Error(t, m.CheckCaseUnique("food_type"))

	require.NoError(t, m.Set("b", "food_type", "OP50"))
	assert.NoError(t, m.CheckCaseUnique("food_type"))
}

func TestFeaturesCSVRoundTrip(t *testing.T) {
	t.Parallel()
	f := sampleFeatures(t)

	var buf bytes.Buffer
	require.NoError(t, WriteFeaturesCSV(&buf, f, "well_id"))

	got, err := ReadFeaturesCSV(&buf, "well_id")
	require.NoError(t, err)
	assert.Equal(t, f.Keys, got.Keys)
	assert.Equal(t, f.Names, got.Names)
	opt := cmpopts.EquateNaNs()
	for i := range f.Keys {
		if diff := cmp.Diff(f.RowAt(i), got.RowAt(i), opt); diff != "" {
			t.Errorf("row %d mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestReadCombinedCSV(t *testing.T) {
	t.Parallel()

	in := strings.Join([]string{
		"# exported summary",
		"featuresN_filename,well_name,food_type,speed_50th,area_50th",
		"a.hdf5,A1,OP50,120.5,NaN",
		"b.hdf5,A2,PA14,99,",
	}, "\n")
	feat, meta, err := ReadCombinedCSV(strings.NewReader(in), "", []string{"featuresN_filename", "well_name", "food_type"})
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1"}, feat.Keys)
	assert.Equal(t, []string{"speed_50th", "area_50th"}, feat.Names)
	assert.Equal(t, 2, feat.NaNCount())
	food, err := meta.Column("food_type")
	require.NoError(t, err)
	assert.Equal(t, []string{"OP50", "PA14"}, food)
}

func TestReadFeaturesCSVErrors(t *testing.T) {
	t.Parallel()

	_, err := ReadFeaturesCSV(strings.NewReader(""), "")
	assert.Error(t, err)

	_, err = ReadFeaturesCSV(strings.NewReader("id,x\na,notanumber\n"), "id")
	assert.Error(t, err)

	_, err = ReadFeaturesCSV(strings.NewReader("id,x\na,1\n"), "well")
	assert.ErrorIs(t, err, ErrUnknownColumn)
}
