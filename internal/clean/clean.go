// Package clean prepares feature summaries for statistics: it removes bad
// wells and unusable feature columns and imputes the remaining gaps.
package clean

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/wormbehaviour/internal/frame"
)

// ErrIntegrity is returned when cleaned data still holds NaNs or
// zero-variance columns.
var ErrIntegrity = errors.New("cleaned features failed integrity check")

// BadWellColumn is the metadata column flagging wells to exclude.
const BadWellColumn = "is_bad_well"

// Reason names why a feature column was dropped.
type Reason string

const (
	ReasonNaN             Reason = "nan_threshold"
	ReasonZeroStd         Reason = "zero_std"
	ReasonVentrallySigned Reason = "ventrally_signed"
	ReasonSizeRelated     Reason = "size_related"
)

// Reasons lists drop reasons in the order they are applied.
var Reasons = []Reason{ReasonNaN, ReasonZeroStd, ReasonVentrallySigned, ReasonSizeRelated}

var (
	ventralTokens = []string{"curvature", "angular_velocity"}
	sizeTokens    = []string{"blob", "box", "width", "length", "area"}
)

// Options controls which cleaning steps run.
type Options struct {
	// NaNThreshold drops columns whose fraction of NaN/Inf values exceeds it.
	NaNThreshold float64
	// Impute fills remaining NaNs with the column mean.
	Impute bool
	// ImputeByGroup uses the mean within each GroupBy label instead of the
	// global mean.
	ImputeByGroup bool
	GroupBy       string

	DropVentrallySigned bool
	DropSizeRelated     bool
	DropBadWells        bool

	// FeatureColumns restricts cleaning to these features when non-empty.
	FeatureColumns []string
}

// DefaultOptions returns the settings used by the analysis pipeline.
func DefaultOptions() Options {
	return Options{
		NaNThreshold:        0.2,
		Impute:              true,
		DropVentrallySigned: true,
		DropBadWells:        true,
	}
}

// Report records what cleaning removed or filled in.
type Report struct {
	Dropped  map[Reason][]string
	BadWells []string
	Imputed  int
}

// DroppedCount returns the total number of dropped feature columns.
func (r *Report) DroppedCount() int {
	n := 0
	for _, names := range r.Dropped {
		n += len(names)
	}
	return n
}

// Result is the output of Clean.
type Result struct {
	Features *frame.Features
	Metadata *frame.Metadata
	Report   Report
}

// Cleaner runs the cleaning steps and logs what each one did.
type Cleaner struct {
	logger *zap.Logger
}

// New returns a Cleaner. A nil logger discards output.
func New(logger *zap.Logger) *Cleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cleaner{logger: logger}
}

// Clean runs a Cleaner without logging.
func Clean(features *frame.Features, metadata *frame.Metadata, opts Options) (*Result, error) {
	return New(nil).Clean(features, metadata, opts)
}

// Clean applies, in order: bad-well removal, the NaN-fraction filter, the
// zero-variance filter, mean imputation, and the optional ventrally-signed
// and size-related filters. The inputs are not modified.
func (c *Cleaner) Clean(features *frame.Features, metadata *frame.Metadata, opts Options) (*Result, error) {
	if opts.NaNThreshold < 0 || opts.NaNThreshold > 1 {
		return nil, fmt.Errorf("NaN threshold %v outside [0,1]", opts.NaNThreshold)
	}
	feat, err := frame.Align(features, metadata)
	if err != nil {
		return nil, err
	}
	meta := metadata
	if len(opts.FeatureColumns) > 0 {
		if feat, err = feat.Select(opts.FeatureColumns); err != nil {
			return nil, err
		}
	}
	rep := Report{Dropped: make(map[Reason][]string)}

	if opts.DropBadWells {
		if feat, meta, rep.BadWells, err = dropBadWells(feat, meta); err != nil {
			return nil, err
		}
		c.logger.Info("dropped bad wells", zap.Int("count", len(rep.BadWells)))
	}

	replaceInf(feat)

	nan := nanHeavy(feat, opts.NaNThreshold)
	feat = feat.DropColumns(nan)
	rep.Dropped[ReasonNaN] = nan
	c.logger.Info("dropped features with too many NaNs",
		zap.Int("count", len(nan)),
		zap.Float64("threshold_pct", opts.NaNThreshold*100))

	zero := ZeroStd(feat)
	feat = feat.DropColumns(zero)
	rep.Dropped[ReasonZeroStd] = zero
	c.logger.Info("dropped features with zero standard deviation", zap.Int("count", len(zero)))

	if opts.Impute {
		if opts.ImputeByGroup {
			rep.Imputed, err = imputeByGroup(feat, meta, opts.GroupBy)
			if err != nil {
				return nil, err
			}
		} else {
			rep.Imputed = imputeGlobal(feat)
		}
		if rep.Imputed > 0 {
			c.logger.Info("imputed missing values",
				zap.Int("count", rep.Imputed),
				zap.Bool("by_group", opts.ImputeByGroup))
		} else {
			c.logger.Info("no missing values to impute")
		}
	}

	if opts.DropVentrallySigned {
		ventral := matching(feat.Names, IsVentrallySigned)
		feat = feat.DropColumns(ventral)
		rep.Dropped[ReasonVentrallySigned] = ventral
		c.logger.Info("dropped ventrally signed features", zap.Int("count", len(ventral)))
	}
	if opts.DropSizeRelated {
		size := matching(feat.Names, IsSizeRelated)
		feat = feat.DropColumns(size)
		rep.Dropped[ReasonSizeRelated] = size
		c.logger.Info("dropped size-related features", zap.Int("count", len(size)))
	}

	if feat.Width() == 0 {
		c.logger.Warn("no features left after cleaning", zap.Int("samples", feat.Len()))
	}
	if err := CheckIntegrity(feat); err != nil {
		return nil, err
	}
	return &Result{Features: feat, Metadata: meta, Report: rep}, nil
}

// CheckIntegrity returns ErrIntegrity when f still holds a NaN or a
// zero-variance column.
func CheckIntegrity(f *frame.Features) error {
	if n := f.NaNCount(); n > 0 {
		return fmt.Errorf("%d NaN values remain: %w", n, ErrIntegrity)
	}
	if zero := ZeroStd(f); len(zero) > 0 {
		return fmt.Errorf("%d zero-variance columns remain (%s): %w", len(zero), strings.Join(zero, ", "), ErrIntegrity)
	}
	return nil
}

// IsVentrallySigned reports whether a feature carries a sign that depends
// on which side the worm lies on. Only the _abs variants are usable for
// multi-worm tracking.
func IsVentrallySigned(name string) bool {
	if strings.Contains(name, "_abs") {
		return false
	}
	for _, tok := range ventralTokens {
		if strings.Contains(name, tok) {
			return true
		}
	}
	return false
}

// IsSizeRelated reports whether a feature measures body or blob size.
func IsSizeRelated(name string) bool {
	for _, tok := range sizeTokens {
		if strings.Contains(name, tok) {
			return true
		}
	}
	return false
}

func matching(names []string, pred func(string) bool) []string {
	var out []string
	for _, n := range names {
		if pred(n) {
			out = append(out, n)
		}
	}
	return out
}

func isTrue(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "1.0", "yes", "y":
		return true
	}
	return false
}

func dropBadWells(f *frame.Features, m *frame.Metadata) (*frame.Features, *frame.Metadata, []string, error) {
	if !m.HasColumn(BadWellColumn) {
		return f, m, nil, nil
	}
	flags, err := m.Column(BadWellColumn)
	if err != nil {
		return nil, nil, nil, err
	}
	var keep, bad []string
	for i, k := range m.Keys {
		if isTrue(flags[i]) {
			bad = append(bad, k)
		} else {
			keep = append(keep, k)
		}
	}
	if len(bad) == 0 {
		return f, m, nil, nil
	}
	meta, err := m.Subset(keep)
	if err != nil {
		return nil, nil, nil, err
	}
	feat, err := f.Rows(keep)
	if err != nil {
		return nil, nil, nil, err
	}
	return feat, meta, bad, nil
}

func replaceInf(f *frame.Features) {
	for i := 0; i < f.Len(); i++ {
		for j := 0; j < f.Width(); j++ {
			if math.IsInf(f.At(i, j), 0) {
				f.Set(i, j, math.NaN())
			}
		}
	}
}

func nanHeavy(f *frame.Features, threshold float64) []string {
	var out []string
	if f.Len() == 0 {
		return out
	}
	for j, name := range f.Names {
		n := 0
		for _, v := range f.ColAt(j) {
			if math.IsNaN(v) {
				n++
			}
		}
		if float64(n)/float64(f.Len()) > threshold {
			out = append(out, name)
		}
	}
	return out
}

// ZeroStd returns the features whose observed values are all identical,
// ignoring NaNs. Columns with no observed values are included.
func ZeroStd(f *frame.Features) []string {
	var out []string
	for j, name := range f.Names {
		if nonNaNStd(f.ColAt(j)) == 0 {
			out = append(out, name)
		}
	}
	return out
}

func nonNaNStd(xs []float64) float64 {
	obs := observed(xs)
	if len(obs) < 2 {
		return 0
	}
	return stat.PopStdDev(obs, nil)
}

func observed(xs []float64) []float64 {
	out := make([]float64, 0, len(xs))
	for _, v := range xs {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

func fillColumn(f *frame.Features, j int, rows []int, value float64) int {
	n := 0
	for _, i := range rows {
		if math.IsNaN(f.At(i, j)) {
			f.Set(i, j, value)
			n++
		}
	}
	return n
}

func allRows(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func imputeGlobal(f *frame.Features) int {
	rows := allRows(f.Len())
	n := 0
	for j := 0; j < f.Width(); j++ {
		obs := observed(f.ColAt(j))
		if len(obs) == 0 {
			continue
		}
		n += fillColumn(f, j, rows, stat.Mean(obs, nil))
	}
	return n
}

// imputeByGroup fills NaNs with the mean of the row's group, falling back to
// the global mean when the whole group is missing the feature.
func imputeByGroup(f *frame.Features, m *frame.Metadata, col string) (int, error) {
	g, err := frame.Groups(m, col)
	if err != nil {
		return 0, fmt.Errorf("impute by group: %w", err)
	}
	pos := make(map[string]int, f.Len())
	for i, k := range f.Keys {
		pos[k] = i
	}
	n := 0
	for j := 0; j < f.Width(); j++ {
		col := f.ColAt(j)
		global := observed(col)
		for _, label := range g.Labels {
			rows := make([]int, 0, len(g.Keys[label]))
			vals := make([]float64, 0, len(g.Keys[label]))
			for _, k := range g.Keys[label] {
				i := pos[k]
				rows = append(rows, i)
				vals = append(vals, col[i])
			}
			obs := observed(vals)
			switch {
			case len(obs) > 0:
				n += fillColumn(f, j, rows, stat.Mean(obs, nil))
			case len(global) > 0:
				n += fillColumn(f, j, rows, stat.Mean(global, nil))
			}
		}
	}
	return n, nil
}
