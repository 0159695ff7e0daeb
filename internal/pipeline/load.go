package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"

	"go.uber.org/zap"

	"github.com/banshee-data/wormbehaviour/internal/config"
	"github.com/banshee-data/wormbehaviour/internal/frame"
	"github.com/banshee-data/wormbehaviour/internal/summaries"
)

// Project directory layout.
const (
	ResultsDir   = "Results"
	AuxDir       = "AuxiliaryFiles"
	MetadataFile = "metadata.csv"
	AnalysisDir  = "Analysis"
	DateColumn   = "date_yyyymmdd"
	TreatmentCol = "treatment"
)

// ErrNoInput is returned when neither a feature table nor a project
// directory is configured.
var ErrNoInput = errors.New("no input: set features_path or project_dir")

// Data is a matched feature and metadata table plus the column defining
// the groups.
type Data struct {
	Features *frame.Features
	Metadata *frame.Metadata
	GroupBy  string
	CacheHit bool
}

// Labels returns the group label of every row.
func (d *Data) Labels() ([]string, error) {
	return d.Metadata.Column(d.GroupBy)
}

// Load reads the inputs named in params: either a features CSV with its
// metadata CSV, or the feature summaries of a project's Results directory
// joined with the project metadata.
func (p *Pipeline) Load(ctx context.Context, params *config.Params) (*Data, error) {
	switch {
	case params.FeaturesPath != "":
		return p.loadTables(params)
	case params.ProjectDir != "":
		return p.loadProject(ctx, params)
	}
	return nil, ErrNoInput
}

func (p *Pipeline) readMetadata(path, keyCol string) (*frame.Metadata, error) {
	f, err := p.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open metadata: %w", err)
	}
	defer f.Close()
	m, err := frame.ReadMetadataCSV(f, keyCol)
	if err != nil {
		return nil, fmt.Errorf("read metadata %s: %w", path, err)
	}
	return m, nil
}

func (p *Pipeline) loadTables(params *config.Params) (*Data, error) {
	if params.MetadataPath == "" {
		return nil, fmt.Errorf("features_path needs metadata_path")
	}
	keyCol := params.GetKeyColumn()
	m, err := p.readMetadata(params.MetadataPath, keyCol)
	if err != nil {
		return nil, err
	}
	f, err := p.fs.Open(params.FeaturesPath)
	if err != nil {
		return nil, fmt.Errorf("open features: %w", err)
	}
	defer f.Close()
	feats, err := frame.ReadFeaturesCSV(f, keyCol)
	if err != nil {
		return nil, fmt.Errorf("read features %s: %w", params.FeaturesPath, err)
	}
	feats, err = frame.Align(feats, m)
	if err != nil {
		return nil, err
	}
	p.logger.Info("loaded feature table",
		zap.String("path", params.FeaturesPath),
		zap.Int("samples", feats.Len()),
		zap.Int("features", feats.Width()))
	return &Data{Features: feats, Metadata: m, GroupBy: params.GetGroupingVariable()}, nil
}

func (p *Pipeline) loadProject(ctx context.Context, params *config.Params) (*Data, error) {
	metaPath := params.MetadataPath
	if metaPath == "" {
		metaPath = filepath.Join(params.ProjectDir, AuxDir, MetadataFile)
	}
	m, err := p.readMetadata(metaPath, params.GetKeyColumn())
	if err != nil {
		return nil, err
	}

	compiler := summaries.NewCompiler(p.fs, p.logger)
	opts := summaries.Options{Dates: params.Dates, Workers: params.GetWorkers()}
	dir := filepath.Join(params.ProjectDir, ResultsDir)
	var compiled *summaries.Compiled
	hit := false
	if p.db != nil {
		compiled, hit, err = compiler.CompileCached(ctx, p.db, dir, opts, params.GetRecompute())
	} else {
		compiled, err = compiler.Compile(ctx, dir, opts)
	}
	if err != nil {
		return nil, err
	}

	feats, meta, err := summaries.JoinMetadata(compiled.Features, m, nil, p.logger)
	if err != nil {
		return nil, err
	}
	return &Data{Features: feats, Metadata: meta, GroupBy: params.GetGroupingVariable(), CacheHit: hit}, nil
}

// Prepare applies the row and column selections of params to d: imaging
// dates, omitted groups, the curated feature set, and the derived
// treatment column.
func (p *Pipeline) Prepare(d *Data, params *config.Params) (*Data, error) {
	m := d.Metadata
	var err error

	if len(params.Dates) > 0 && m.HasColumn(DateColumn) {
		if m, err = m.Filter(DateColumn, func(v string) bool { return slices.Contains(params.Dates, v) }); err != nil {
			return nil, err
		}
		p.logger.Info("restricted to imaging dates", zap.Strings("dates", params.Dates), zap.Int("samples", m.Len()))
	}

	groupBy := d.GroupBy
	if len(params.TreatmentColumns) > 0 {
		m = cloneMetadata(m)
		if err := m.ConcatColumns(TreatmentCol, params.TreatmentColumns, "-"); err != nil {
			return nil, err
		}
		groupBy = TreatmentCol
	}
	if !m.HasColumn(groupBy) {
		return nil, fmt.Errorf("grouping variable %q: %w", groupBy, frame.ErrUnknownColumn)
	}

	if len(params.OmitGroups) > 0 {
		if m, err = m.Filter(groupBy, func(v string) bool { return !slices.Contains(params.OmitGroups, v) }); err != nil {
			return nil, err
		}
		p.logger.Info("omitted groups", zap.Strings("groups", params.OmitGroups), zap.Int("samples", m.Len()))
	}
	if err := m.CheckCaseUnique(groupBy); err != nil {
		return nil, err
	}

	feats, err := d.Features.Rows(m.Keys)
	if err != nil {
		return nil, err
	}

	if set := p.featureSetPath(params); set != "" {
		names, err := summaries.LoadFeatureSet(p.fs, set, summaries.FeatureSetOptions{
			DropPathCurvature: params.GetDropPathCurvature(),
			AppendBluelight:   params.GetAppendBluelight(),
		}, p.logger)
		if err != nil {
			return nil, err
		}
		var missing []string
		feats, missing, err = summaries.SelectFeatureSet(feats, names)
		if err != nil {
			return nil, err
		}
		if len(missing) > 0 {
			p.logger.Warn("feature set names not found in the data", zap.Int("missing", len(missing)))
		}
	}
	return &Data{Features: feats, Metadata: m, GroupBy: groupBy, CacheHit: d.CacheHit}, nil
}

func (p *Pipeline) featureSetPath(params *config.Params) string {
	if params.FeatureSetPath != "" {
		return params.FeatureSetPath
	}
	if n := params.GetNTopFeats(); n > 0 && params.ProjectDir != "" {
		return filepath.Join(params.ProjectDir, AuxDir, summaries.FeatureSetFile(n))
	}
	return ""
}

func cloneMetadata(m *frame.Metadata) *frame.Metadata {
	out, err := frame.NewMetadata(m.Keys, m.Columns, m.Rows)
	if err != nil {
		// m already satisfied NewMetadata's checks.
		panic(err)
	}
	return out
}
