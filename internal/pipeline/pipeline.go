// Package pipeline runs the behavioural analysis end to end: load, clean,
// compare, reduce, plot and record.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/banshee-data/wormbehaviour/internal/clean"
	"github.com/banshee-data/wormbehaviour/internal/compare"
	"github.com/banshee-data/wormbehaviour/internal/config"
	"github.com/banshee-data/wormbehaviour/internal/fsutil"
	"github.com/banshee-data/wormbehaviour/internal/reduce"
	"github.com/banshee-data/wormbehaviour/internal/results"
	"github.com/banshee-data/wormbehaviour/internal/security"
	"github.com/banshee-data/wormbehaviour/internal/store"
	"github.com/banshee-data/wormbehaviour/internal/timeutil"
	"github.com/banshee-data/wormbehaviour/internal/version"
)

// Stage is the last step a run executes.
type Stage int

const (
	StageClean Stage = iota
	StageStats
	StagePCA
	StageAll
)

func (s Stage) String() string {
	switch s {
	case StageClean:
		return "clean"
	case StageStats:
		return "stats"
	case StagePCA:
		return "pca"
	}
	return "all"
}

// Deps are the collaborators of a Pipeline. Only FS is required.
type Deps struct {
	FS     fsutil.FileSystem
	Clock  timeutil.Clock
	Logger *zap.Logger
	// DB records runs, caches compiled summaries and stores the test
	// tables. Nil disables all three.
	DB *store.DB
}

// Pipeline executes analysis runs.
type Pipeline struct {
	fs     fsutil.FileSystem
	clock  timeutil.Clock
	logger *zap.Logger
	db     *store.DB
}

// New returns a Pipeline.
func New(deps Deps) *Pipeline {
	p := &Pipeline{fs: deps.FS, clock: deps.Clock, logger: deps.Logger, db: deps.DB}
	if p.fs == nil {
		p.fs = fsutil.OSFileSystem{}
	}
	if p.clock == nil {
		p.clock = timeutil.RealClock{}
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	return p
}

// Report summarises a run.
type Report struct {
	RunID    string
	SaveDir  string
	Stage    Stage
	CacheHit bool
	Samples  int
	Features int
	Cleaning clean.Report
	Result   *compare.Result
	PCA      *reduce.PCAResult
	Outliers []string
	Files    []string
	Elapsed  time.Duration
}

func (r *Report) add(path string, err error) error {
	if err != nil {
		return err
	}
	r.Files = append(r.Files, path)
	return nil
}

// SaveDir returns where a run with params writes its outputs.
func SaveDir(params *config.Params) (string, error) {
	switch {
	case params.SaveDir != "":
		return params.SaveDir, nil
	case params.ProjectDir != "":
		return filepath.Join(params.ProjectDir, AnalysisDir), nil
	}
	return "", fmt.Errorf("%w: save_dir is not set", config.ErrInvalid)
}

// Run executes every step up to and including stage.
func (p *Pipeline) Run(ctx context.Context, params *config.Params, stage Stage) (rep *Report, err error) {
	start := p.clock.Now()
	if err := params.Validate(); err != nil {
		return nil, err
	}
	saveDir, err := SaveDir(params)
	if err != nil {
		return nil, err
	}
	rep = &Report{SaveDir: saveDir, Stage: stage}
	out := results.NewWriter(p.fs, saveDir)

	paramsYAML, err := params.YAML()
	if err != nil {
		return nil, err
	}
	if p.db != nil {
		run, serr := p.db.StartRun(start, version.String(), saveDir, string(paramsYAML))
		if serr != nil {
			return nil, serr
		}
		rep.RunID = run.ID
		p.logger.Info("run started", zap.String("run_id", run.ID), zap.Stringer("stage", stage))
		defer func() {
			if ferr := p.db.FinishRun(run.ID, p.clock.Now(), rep.Samples, rep.Features, err); ferr != nil {
				p.logger.Warn("could not record run result", zap.Error(ferr))
			}
		}()
	}
	if err := rep.add(out.Write("params.yaml", writeBytes(paramsYAML))); err != nil {
		return rep, err
	}

	data, err := p.Load(ctx, params)
	if err != nil {
		return rep, err
	}
	rep.CacheHit = data.CacheHit
	if data, err = p.Prepare(data, params); err != nil {
		return rep, err
	}

	cleaned, err := p.Clean(data, params, out, rep)
	if err != nil {
		return rep, err
	}
	data = &Data{Features: cleaned.Features, Metadata: cleaned.Metadata, GroupBy: data.GroupBy}
	rep.Samples, rep.Features = data.Features.Len(), data.Features.Width()
	if stage == StageClean {
		return p.done(rep, start), nil
	}

	if err := ctx.Err(); err != nil {
		return rep, err
	}
	if err := p.Stats(ctx, data, params, out, rep); err != nil {
		return rep, err
	}
	if stage == StageStats {
		return p.done(rep, start), nil
	}

	if err := ctx.Err(); err != nil {
		return rep, err
	}
	if err := p.Reduce(ctx, data, params, out, rep); err != nil {
		return rep, err
	}
	if stage == StageAll && rep.Result != nil {
		p.plotStats(data, params, out, rep)
	}
	return p.done(rep, start), nil
}

func (p *Pipeline) done(rep *Report, start time.Time) *Report {
	rep.Elapsed = p.clock.Since(start)
	p.logger.Info("Done",
		zap.Stringer("stage", rep.Stage),
		zap.String("save_dir", rep.SaveDir),
		zap.Int("files", len(rep.Files)),
		zap.Float64("seconds", rep.Elapsed.Seconds()))
	return rep
}

// Clean runs the cleaning step and writes its drop lists and the cleaned
// tables.
func (p *Pipeline) Clean(d *Data, params *config.Params, out *results.Writer, rep *Report) (*clean.Result, error) {
	res, err := clean.New(p.logger).Clean(d.Features, d.Metadata, clean.Options{
		NaNThreshold:        params.GetNaNThreshold(),
		Impute:              params.GetImputeNaNs(),
		ImputeByGroup:       params.GetImputeByGroup(),
		GroupBy:             d.GroupBy,
		DropVentrallySigned: params.GetDropVentrallySigned(),
		DropSizeRelated:     params.GetDropSizeFeatures(),
		DropBadWells:        params.GetDropBadWells(),
	})
	if err != nil {
		return nil, err
	}
	rep.Cleaning = res.Report

	keyCol := params.GetKeyColumn()
	if keyCol == "" {
		keyCol = "row_key"
	}
	if err := rep.add(out.WriteDropped("Cleaning/dropped_features.csv", res.Report)); err != nil {
		return nil, err
	}
	if err := rep.add(out.Write("Cleaning/features_clean.csv", writeFeatures(res.Features, keyCol))); err != nil {
		return nil, err
	}
	if err := rep.add(out.Write("Cleaning/metadata_clean.csv", writeMetadata(res.Metadata, keyCol))); err != nil {
		return nil, err
	}
	return res, nil
}

// Stats compares every group with the control, writes the result tables
// and stores them in the database.
func (p *Pipeline) Stats(ctx context.Context, d *Data, params *config.Params, out *results.Writer, rep *Report) error {
	labels, err := d.Labels()
	if err != nil {
		return err
	}
	res, err := compare.New(p.logger).Compare(ctx, d.Features, labels, compare.Options{
		Control:    params.GetControl(),
		Alpha:      params.GetPvalThreshold(),
		Method:     params.GetFDRMethod(),
		Parametric: params.GetParametric(),
		Workers:    params.GetWorkers(),
	})
	if err != nil {
		return err
	}
	rep.Result = res

	tables := res.Tables()
	for _, t := range tables {
		if err := rep.add(out.WriteTestTable(TablePath(t), t)); err != nil {
			return err
		}
	}
	if err := rep.add(out.WritePairwise("Stats/pairwise_results.csv", res)); err != nil {
		return err
	}
	if err := rep.add(out.WriteSigfeatsTable("Stats/sigfeats_counts.csv", res, params.GetPvalThreshold())); err != nil {
		return err
	}
	if err := rep.add(out.WriteList("Stats/sigfeats.txt", res.SignificantAny)); err != nil {
		return err
	}

	if p.db != nil && rep.RunID != "" {
		for _, t := range tables {
			if err := p.db.SaveTestTable(rep.RunID, t); err != nil {
				return fmt.Errorf("store %s: %w", t.Name(), err)
			}
		}
	}
	p.logger.Info("significant features",
		zap.Int("any_group", len(res.SignificantAny)),
		zap.Int("groups", len(res.Groups)))
	return nil
}

// TablePath is where a test table is written, relative to the save
// directory.
func TablePath(t *compare.TestTable) string {
	if t.Group == "" {
		return filepath.Join("Stats", fmt.Sprintf("%s_results.csv", t.Kind))
	}
	return filepath.Join("Stats", "pairwise", fmt.Sprintf("%s_%s_results.csv", t.Kind, sanitizedName(t)))
}

func sanitizedName(t *compare.TestTable) string {
	return security.SanitizeFilename(t.Group + "_vs_" + t.Control)
}
