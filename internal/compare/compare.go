// Package compare runs the per-feature group comparison: an omnibus test
// across all groups, then each group against a control, with p-values
// corrected across features.
package compare

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/wormbehaviour/internal/frame"
	"github.com/banshee-data/wormbehaviour/internal/stats"
)

var (
	// ErrUnknownControl is returned when the control label is not present.
	ErrUnknownControl = errors.New("control group not found")
	// ErrTooFewGroups is returned when fewer than two groups are present.
	ErrTooFewGroups = errors.New("need at least two groups")
)

// Options configures a comparison.
type Options struct {
	Control string
	Alpha   float64
	Method  stats.Method
	// Parametric forces t-test/ANOVA (true) or rank-sum/Kruskal-Wallis
	// (false). When nil the choice follows NormalityCheck.
	Parametric *bool
	// ForceOmnibus runs the omnibus test even for two groups.
	ForceOmnibus bool
	// Workers bounds the number of features tested concurrently. Zero uses
	// GOMAXPROCS.
	Workers int
}

// DefaultOptions returns alpha 0.05 with Benjamini-Hochberg correction.
func DefaultOptions(control string) Options {
	return Options{Control: control, Alpha: 0.05, Method: stats.FDRBH}
}

// Result gathers every table produced by Compare.
type Result struct {
	Control    string
	Groups     []string // non-control groups, first-seen order
	Parametric bool
	Normality  *Normality // nil when Parametric was given
	Omnibus    *TestTable // nil when skipped
	Pairwise   map[string]*TestTable
	// SignificantAny lists features rejected in at least one pairwise
	// comparison, ranked by their smallest corrected p-value.
	SignificantAny []string
}

// Comparer runs comparisons and logs progress.
type Comparer struct {
	logger *zap.Logger
}

// New returns a Comparer. A nil logger discards output.
func New(logger *zap.Logger) *Comparer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Comparer{logger: logger}
}

// Compare runs a Comparer without logging.
func Compare(ctx context.Context, features *frame.Features, labels []string, opts Options) (*Result, error) {
	return New(nil).Compare(ctx, features, labels, opts)
}

// Compare tests every feature for a difference between groups. labels gives
// the group of each feature row.
func (c *Comparer) Compare(ctx context.Context, features *frame.Features, labels []string, opts Options) (*Result, error) {
	if len(labels) != features.Len() {
		return nil, fmt.Errorf("%d labels for %d rows", len(labels), features.Len())
	}
	if !(opts.Alpha > 0 && opts.Alpha < 1) {
		return nil, fmt.Errorf("alpha %v outside (0,1)", opts.Alpha)
	}
	method, err := stats.ParseMethod(string(opts.Method))
	if err != nil {
		return nil, err
	}
	order, members := groupRows(labels)
	if _, ok := members[opts.Control]; !ok {
		return nil, fmt.Errorf("%q: %w", opts.Control, ErrUnknownControl)
	}
	if len(order) < 2 {
		return nil, fmt.Errorf("%d group(s): %w", len(order), ErrTooFewGroups)
	}

	res := &Result{Control: opts.Control, Pairwise: make(map[string]*TestTable)}
	for _, g := range order {
		if g != opts.Control {
			res.Groups = append(res.Groups, g)
		}
	}

	if opts.Parametric != nil {
		res.Parametric = *opts.Parametric
	} else {
		res.Normality = NormalityCheck(features, labels, opts.Alpha, c.logger)
		res.Parametric = res.Normality.Parametric
	}

	if len(order) > 2 || opts.ForceOmnibus {
		// control first, then the rest in first-seen order
		rowSets := [][]int{members[opts.Control]}
		for _, g := range res.Groups {
			rowSets = append(rowSets, members[g])
		}
		kind := stats.OmnibusFor(res.Parametric)
		t, err := c.runTable(ctx, features, rowSets, kind, method, opts)
		if err != nil {
			return nil, err
		}
		res.Omnibus = t
		c.logger.Info("omnibus test complete",
			zap.String("test", kind.String()),
			zap.Int("groups", len(order)),
			zap.Int("significant", t.CountCorrected()),
			zap.Int("tested", len(t.Rows)))
	}

	kind := stats.PairwiseFor(res.Parametric)
	for _, g := range res.Groups {
		t, err := c.runTable(ctx, features, [][]int{members[g], members[opts.Control]}, kind, method, opts)
		if err != nil {
			return nil, err
		}
		t.Group = g
		res.Pairwise[g] = t
		sig := t.CountCorrected()
		if sig == 0 {
			c.logger.Info("no significant features", zap.String("comparison", t.Name()), zap.String("test", kind.String()))
		} else {
			c.logger.Info("pairwise test complete",
				zap.String("comparison", t.Name()),
				zap.String("test", kind.String()),
				zap.Int("significant", sig),
				zap.Int("tested", len(t.Rows)))
		}
	}

	res.SignificantAny = significantAny(res)
	return res, nil
}

// runTable drops features with no variance within any of rowSets, tests the
// rest concurrently, and corrects across the tested features.
func (c *Comparer) runTable(ctx context.Context, features *frame.Features, rowSets [][]int, kind stats.TestKind, method stats.Method, opts Options) (*TestTable, error) {
	t := &TestTable{Kind: kind, Method: method, Control: opts.Control}

	var cols []int
	for j := 0; j < features.Width(); j++ {
		if constantIn(features, j, rowSets, kind.IsOmnibus()) {
			t.Dropped = append(t.Dropped, features.Names[j])
			continue
		}
		cols = append(cols, j)
	}
	if len(t.Dropped) > 0 {
		c.logger.Info("dropped zero-variance features before testing",
			zap.String("test", kind.String()),
			zap.Int("count", len(t.Dropped)))
	}

	t.Rows = make([]Row, len(cols))
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for k, j := range cols {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			samples := make([][]float64, len(rowSets))
			for s, rows := range rowSets {
				samples[s] = pick(features, j, rows)
			}
			t.Rows[k] = c.testFeature(features.Names[j], kind, samples)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	pvals := make([]float64, len(t.Rows))
	for i, r := range t.Rows {
		pvals[i] = r.P
	}
	reject, corrected, err := stats.Correct(pvals, method, opts.Alpha)
	if err != nil {
		return nil, err
	}
	for i := range t.Rows {
		t.Rows[i].PCorrected = corrected[i]
		t.Rows[i].Reject = reject[i]
	}
	return t, nil
}

// testFeature runs a single test. Failures, including panics, leave NaN
// p-values so the feature is reported but never rejected.
func (c *Comparer) testFeature(name string, kind stats.TestKind, samples [][]float64) (row Row) {
	row = Row{Feature: name, Statistic: math.NaN(), EffectSize: math.NaN(), P: math.NaN()}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("feature test panicked", zap.String("feature", name), zap.Any("panic", r))
			row = Row{Feature: name, Statistic: math.NaN(), EffectSize: math.NaN(), P: math.NaN()}
		}
	}()
	res, err := stats.Run(kind, samples...)
	if err != nil {
		c.logger.Debug("feature test failed",
			zap.String("feature", name),
			zap.String("test", kind.String()),
			zap.Error(err))
		return row
	}
	row.Statistic = res.Statistic
	row.P = res.P
	row.EffectSize = stats.EffectSize(kind, samples...)
	return row
}

// constantIn reports whether feature j has no variance. Pairwise tests drop
// a feature that is constant within either group; omnibus tests drop a
// feature that is constant across all rows.
func constantIn(f *frame.Features, j int, rowSets [][]int, omnibus bool) bool {
	if omnibus {
		var all []int
		for _, rows := range rowSets {
			all = append(all, rows...)
		}
		return stats.IsConstant(pick(f, j, all))
	}
	for _, rows := range rowSets {
		if stats.IsConstant(pick(f, j, rows)) {
			return true
		}
	}
	return false
}

func significantAny(res *Result) []string {
	best := make(map[string]float64)
	for _, g := range res.Groups {
		for _, r := range res.Pairwise[g].Rows {
			if !r.Reject {
				continue
			}
			if p, ok := best[r.Feature]; !ok || r.PCorrected < p {
				best[r.Feature] = r.PCorrected
			}
		}
	}
	out := make([]string, 0, len(best))
	for f := range best {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool {
		if best[out[i]] != best[out[j]] {
			return best[out[i]] < best[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}
