package compare

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/banshee-data/wormbehaviour/internal/frame"
	"github.com/banshee-data/wormbehaviour/internal/stats"
)

// shiftScenario builds three groups of five wells where only group A is
// shifted on "speed_50th", by about six standard deviations.
func shiftScenario(t *testing.T) (*frame.Features, []string) {
	t.Helper()
	columns := map[string][][]float64{
		"A": {{5.3, 2.1, 7}, {4.4, 1.4, 7}, {5.9, 3.3, 7}, {4.8, 2.8, 7}, {5.1, 1.9, 7}},
		"B": {{0, 2.5, 7}, {1, 1.7, 7}, {-1, 3.0, 7}, {0.5, 2.2, 7}, {-0.5, 2.6, 7}},
		"C": {{0.2, 1.8, 7}, {-0.8, 2.9, 7}, {1.1, 2.4, 7}, {-0.4, 3.1, 7}, {0.6, 2.0, 7}},
	}
	var keys, labels []string
	var rows [][]float64
	for _, g := range []string{"A", "B", "C"} {
		for i, r := range columns[g] {
			keys = append(keys, fmt.Sprintf("%s%d", g, i))
			labels = append(labels, g)
			rows = append(rows, r)
		}
	}
	f, err := frame.NewFeatures(keys, []string{"speed_50th", "length_50th", "constant"}, rows)
	require.NoError(t, err)
	return f, labels
}

func TestCompareShiftScenario(t *testing.T) {
	t.Parallel()

	parametric, nonParametric := true, false
	cases := map[string]*bool{
		"parametric":     &parametric,
		"non-parametric": &nonParametric,
		"normality":      nil,
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			f, labels := shiftScenario(t)
			opts := DefaultOptions("B")
			opts.Parametric = p
			opts.Workers = 2

			res, err := New(zaptest.NewLogger(t)).Compare(context.Background(), f, labels, opts)
			require.NoError(t, err)
			assert.Equal(t, []string{"A", "C"}, res.Groups)
			require.NotNil(t, res.Omnibus)
			assert.Equal(t, []string{"constant"}, res.Omnibus.Dropped)

			a := res.Pairwise["A"]
			assert.Equal(t, []string{"speed_50th"}, a.Significant())
			assert.Equal(t, []string{"constant"}, a.Dropped)
			assert.Empty(t, res.Pairwise["C"].Significant())
			assert.Equal(t, []string{"speed_50th"}, res.SignificantAny)

			row, ok := a.Row("speed_50th")
			require.True(t, ok)
			assert.Greater(t, row.EffectSize, 0.0)
			assert.Equal(t, "A vs B", a.Name())
			assert.Equal(t, []*TestTable{res.Omnibus, a, res.Pairwise["C"]}, res.Tables())
		})
	}
}

func TestCompareCorrectedNotBelowRaw(t *testing.T) {
	t.Parallel()
	f, labels := shiftScenario(t)
	opts := DefaultOptions("B")
	opts.Method = stats.FDRBY

	res, err := Compare(context.Background(), f, labels, opts)
	require.NoError(t, err)
	for _, tbl := range append([]*TestTable{res.Omnibus}, res.Pairwise["A"], res.Pairwise["C"]) {
		for _, r := range tbl.Rows {
			assert.GreaterOrEqual(t, r.PCorrected, r.P, "%s %s", tbl.Name(), r.Feature)
		}
	}
}

func TestCompareTwoGroupsSkipsOmnibus(t *testing.T) {
	t.Parallel()
	f, labels := shiftScenario(t)
	sub, err := f.Rows(f.Keys[:10])
	require.NoError(t, err)

	res, err := Compare(context.Background(), sub, labels[:10], DefaultOptions("B"))
	require.NoError(t, err)
	assert.Nil(t, res.Omnibus)
	assert.Len(t, res.Pairwise, 1)
	assert.Len(t, res.Tables(), 1)

	opts := DefaultOptions("B")
	opts.ForceOmnibus = true
	res, err = Compare(context.Background(), sub, labels[:10], opts)
	require.NoError(t, err)
	assert.NotNil(t, res.Omnibus)
}

func TestCompareAllNaNGroupReportsNothing(t *testing.T) {
	t.Parallel()
	f, labels := shiftScenario(t)
	for i, l := range labels {
		if l == "C" {
			f.Set(i, 0, math.NaN())
		}
	}
	res, err := Compare(context.Background(), f, labels, DefaultOptions("B"))
	require.NoError(t, err)
	c := res.Pairwise["C"]
	assert.Contains(t, c.Dropped, "speed_50th")
	assert.Empty(t, c.Significant())
}

func TestCompareErrors(t *testing.T) {
	t.Parallel()
	f, labels := shiftScenario(t)
	ctx := context.Background()

	_, err := Compare(ctx, f, labels, DefaultOptions("OP50"))
	assert.ErrorIs(t, err, ErrUnknownControl)

	same := make([]string, len(labels))
	for i := range same {
		same[i] = "B"
	}
	_, err = Compare(ctx, f, same, DefaultOptions("B"))
	assert.ErrorIs(t, err, ErrTooFewGroups)

	_, err = Compare(ctx, f, labels[:3], DefaultOptions("B"))
	assert.Error(t, err)

	opts := DefaultOptions("B")
	opts.Method = "sidak"
	_, err = Compare(ctx, f, labels, opts)
	assert.Error(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = Compare(cancelled, f, labels, DefaultOptions("B"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRankedPutsNaNLast(t *testing.T) {
	t.Parallel()
	tbl := &TestTable{Rows: []Row{
		{Feature: "c", P: math.NaN(), PCorrected: math.NaN()},
		{Feature: "b", P: 0.02, PCorrected: 0.04, Reject: true},
		{Feature: "a", P: 0.001, PCorrected: 0.003, Reject: true},
		{Feature: "d", P: 0.3, PCorrected: 0.4},
	}}
	var got []string
	for _, r := range tbl.Ranked() {
		got = append(got, r.Feature)
	}
	assert.Equal(t, []string{"a", "b", "d", "c"}, got)
	assert.Equal(t, []string{"a", "b"}, tbl.Significant())
	assert.Equal(t, 2, tbl.CountRaw(0.05))
	assert.Equal(t, 2, tbl.CountCorrected())
}

func TestNormalityCheck(t *testing.T) {
	t.Parallel()
	f, labels := shiftScenario(t)

	res := NormalityCheck(f, labels, 0.05, nil)
	assert.Len(t, res.PropNormal, 3)
	assert.Empty(t, res.Skipped)
	for _, p := range res.PropNormal {
		assert.GreaterOrEqual(t, p, 0.0)
		assert.LessOrEqual(t, p, 1.0)
	}

	small := NormalityCheck(f, append([]string{"X", "X"}, labels[2:]...), 0.05, nil)
	assert.Contains(t, small.Skipped, "X")
}
