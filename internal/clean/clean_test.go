package clean

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/banshee-data/wormbehaviour/internal/frame"
)

func build(t *testing.T, names []string, rows [][]float64, labels []string) (*frame.Features, *frame.Metadata) {
	t.Helper()
	keys := make([]string, len(rows))
	meta := make([][]string, len(rows))
	for i := range rows {
		keys[i] = string(rune('a' + i))
		meta[i] = []string{labels[i], "False"}
	}
	f, err := frame.NewFeatures(keys, names, rows)
	require.NoError(t, err)
	m, err := frame.NewMetadata(keys, []string{"food_type", BadWellColumn}, meta)
	require.NoError(t, err)
	return f, m
}

func TestCleanDropsAllZeroColumn(t *testing.T) {
	t.Parallel()

	f, m := build(t,
		[]string{"speed_50th", "zeros", "motion_mode_paused_fraction"},
		[][]float64{{1, 0, 0.1}, {2, 0, 0.2}, {3, 0, 0.4}, {4, 0, 0.3}},
		[]string{"OP50", "OP50", "PA14", "PA14"},
	)

	res, err := New(zaptest.NewLogger(t)).Clean(f, m, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Report.DroppedCount())
	assert.Equal(t, []string{"zeros"}, res.Report.Dropped[ReasonZeroStd])
	assert.Equal(t, []string{"speed_50th", "motion_mode_paused_fraction"}, res.Features.Names)
}

func TestCleanIsIdempotent(t *testing.T) {
	t.Parallel()

	nan := math.NaN()
	f, m := build(t,
		[]string{"speed_50th", "curvature_midbody_10th", "curvature_midbody_abs_10th", "mostly_missing", "length_50th"},
		[][]float64{
			{1, 0.1, 0.1, nan, 900},
			{nan, -0.2, 0.2, nan, 950},
			{3, 0.3, 0.3, 1, 1000},
			{4, -0.1, 0.1, nan, 1010},
			{5, 0.2, 0.2, nan, 990},
		},
		[]string{"OP50", "OP50", "OP50", "PA14", "PA14"},
	)
	opts := DefaultOptions()
	opts.DropSizeRelated = true

	first, err := Clean(f, m, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"mostly_missing"}, first.Report.Dropped[ReasonNaN])
	assert.Equal(t, []string{"curvature_midbody_10th"}, first.Report.Dropped[ReasonVentrallySigned])
	assert.Equal(t, []string{"length_50th"}, first.Report.Dropped[ReasonSizeRelated])
	assert.Equal(t, 1, first.Report.Imputed)
	assert.Equal(t, []string{"speed_50th", "curvature_midbody_abs_10th"}, first.Features.Names)
	assert.InDelta(t, 3.25, first.Features.At(1, 0), 1e-12)

	second, err := Clean(first.Features, first.Metadata, opts)
	require.NoError(t, err)
	assert.Zero(t, second.Report.DroppedCount())
	assert.Zero(t, second.Report.Imputed)
	assert.Equal(t, first.Features.Names, second.Features.Names)
}

func TestCleanImputeByGroup(t *testing.T) {
	t.Parallel()

	f, m := build(t,
		[]string{"speed_50th"},
		[][]float64{{1}, {3}, {math.NaN()}, {10}, {20}},
		[]string{"OP50", "OP50", "OP50", "PA14", "PA14"},
	)
	opts := DefaultOptions()
	opts.NaNThreshold = 0.5
	opts.ImputeByGroup = true
	opts.GroupBy = "food_type"

	res, err := Clean(f, m, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Report.Imputed)
	assert.InDelta(t, 2.0, res.Features.At(2, 0), 1e-12)

	opts.GroupBy = "missing_column"
	_, err = Clean(f, m, opts)
	assert.ErrorIs(t, err, frame.ErrUnknownColumn)
}

func TestCleanDropsBadWells(t *testing.T) {
	t.Parallel()

	f, m := build(t,
		[]string{"speed_50th"},
		[][]float64{{1}, {2}, {3}, {4}},
		[]string{"OP50", "OP50", "PA14", "PA14"},
	)
	require.NoError(t, m.Set("b", BadWellColumn, "True"))

	res, err := Clean(f, m, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, res.Report.BadWells)
	assert.Equal(t, []string{"a", "c", "d"}, res.Features.Keys)
	assert.Equal(t, res.Features.Keys, res.Metadata.Keys)
}

func TestCleanIntegrityFailure(t *testing.T) {
	t.Parallel()

	f, m := build(t,
		[]string{"speed_50th"},
		[][]float64{{1}, {math.NaN()}, {3}, {4}},
		[]string{"OP50", "OP50", "PA14", "PA14"},
	)
	opts := DefaultOptions()
	opts.Impute = false
	opts.NaNThreshold = 0.5

	_, err := Clean(f, m, opts)
	require.ErrorIs(t, err, ErrIntegrity)
	assert.Contains(t, err.Error(), "1 NaN values remain")
}

func TestCleanWarnsWhenNothingLeft(t *testing.T) {
	t.Parallel()

	f, m := build(t,
		[]string{"speed_50th", "length_50th"},
		[][]float64{{1, 0}, {1, 0}, {1, 0}, {1, 0}},
		[]string{"OP50", "OP50", "PA14", "PA14"},
	)
	core, logs := observer.New(zap.WarnLevel)

	res, err := New(zap.New(core)).Clean(f, m, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Features.Width())
	assert.Equal(t, 1, logs.FilterMessage("no features left after cleaning").Len())
}

func TestCleanIndexMismatch(t *testing.T) {
	t.Parallel()

	f, m := build(t, []string{"speed_50th"}, [][]float64{{1}, {2}}, []string{"OP50", "PA14"})
	sub, err := m.Subset([]string{"a"})
	require.NoError(t, err)

	_, err = Clean(f, sub, DefaultOptions())
	assert.ErrorIs(t, err, frame.ErrIndexMismatch)
}

func TestFeatureNamePredicates(t *testing.T) {
	t.Parallel()

	assert.True(t, IsVentrallySigned("angular_velocity_head_base_w_forward_50th"))
	assert.False(t, IsVentrallySigned("angular_velocity_head_base_abs_50th"))
	assert.False(t, IsVentrallySigned("speed_50th"))
	assert.True(t, IsSizeRelated("width_midbody_norm_10th"))
	assert.False(t, IsSizeRelated("speed_50th"))
}
