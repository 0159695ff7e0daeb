package config

import (
	"path/filepath"
	"strings"

	"github.com/banshee-data/wormbehaviour/internal/stats"
)

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrUint64(v uint64) *uint64    { return &v }

// DefaultParams returns Params with every optional field set to its
// default.
func DefaultParams() *Params {
	return &Params{
		KeyColumn:          ptrString(""),
		AppendBluelight:    ptrBool(false),
		DropPathCurv:       ptrBool(true),
		Recompute:          ptrBool(false),
		GroupingVariable:   ptrString("gene_name"),
		Control:            ptrString("wild_type"),
		NaNThreshold:       ptrFloat64(0.2),
		ImputeNaNs:         ptrBool(true),
		ImputeByGroup:      ptrBool(false),
		DropSizeFeatures:   ptrBool(false),
		DropVentralSigned:  ptrBool(true),
		DropBadWells:       ptrBool(true),
		PvalThreshold:      ptrFloat64(0.05),
		FDRMethod:          ptrString(string(stats.FDRBH)),
		Test:               ptrString("auto"),
		Workers:            ptrInt(0),
		RemoveOutliers:     ptrBool(false),
		OutlierPCs:         ptrInt(10),
		OutlierExtremeness: ptrFloat64(2),
		TSNEPerplexities:   []float64{5, 15, 30},
		UMAPNeighbours:     []int{5, 15, 30},
		Seed:               ptrUint64(42),
		PlotFormat:         ptrString("png"),
		TopNPlots:          ptrInt(10),
		MaxGroupsPlot:      ptrInt(20),
	}
}

// GetKeyColumn returns the row key column, or "" to key rows by position.
func (p *Params) GetKeyColumn() string {
	if p.KeyColumn == nil {
		return ""
	}
	return *p.KeyColumn
}

// GetNTopFeats returns the feature set size, or 0 for all features.
func (p *Params) GetNTopFeats() int {
	if p.NTopFeats == nil {
		return 0
	}
	return *p.NTopFeats
}

func (p *Params) GetAppendBluelight() bool   { return boolOr(p.AppendBluelight, false) }
func (p *Params) GetDropPathCurvature() bool { return boolOr(p.DropPathCurv, true) }
func (p *Params) GetRecompute() bool         { return boolOr(p.Recompute, false) }

// GetGroupingVariable returns the metadata column that defines the groups.
func (p *Params) GetGroupingVariable() string {
	if p.GroupingVariable == nil || *p.GroupingVariable == "" {
		return "gene_name"
	}
	return *p.GroupingVariable
}

// GetControl returns the control group label.
func (p *Params) GetControl() string {
	if p.Control == nil || *p.Control == "" {
		return "wild_type"
	}
	return *p.Control
}

// GetNaNThreshold returns the maximum NaN fraction a feature may have.
func (p *Params) GetNaNThreshold() float64 {
	if p.NaNThreshold == nil {
		return 0.2
	}
	return *p.NaNThreshold
}

func (p *Params) GetImputeNaNs() bool          { return boolOr(p.ImputeNaNs, true) }
func (p *Params) GetImputeByGroup() bool       { return boolOr(p.ImputeByGroup, false) }
func (p *Params) GetDropSizeFeatures() bool    { return boolOr(p.DropSizeFeatures, false) }
func (p *Params) GetDropVentrallySigned() bool { return boolOr(p.DropVentralSigned, true) }
func (p *Params) GetDropBadWells() bool        { return boolOr(p.DropBadWells, true) }
func (p *Params) GetRemoveOutliers() bool      { return boolOr(p.RemoveOutliers, false) }

// GetPvalThreshold returns the significance level.
func (p *Params) GetPvalThreshold() float64 {
	if p.PvalThreshold == nil {
		return 0.05
	}
	return *p.PvalThreshold
}

// GetFDRMethod returns the multiple-testing correction. Validate has already
// rejected unknown names, so a parse failure falls back to the default.
func (p *Params) GetFDRMethod() stats.Method {
	if p.FDRMethod == nil {
		return stats.FDRBH
	}
	m, err := stats.ParseMethod(*p.FDRMethod)
	if err != nil {
		return stats.FDRBH
	}
	return m
}

// GetParametric reports whether parametric tests were requested. nil means
// the choice is left to the normality check.
func (p *Params) GetParametric() *bool {
	if p.Test == nil {
		return nil
	}
	switch s := strings.ToLower(strings.TrimSpace(*p.Test)); s {
	case "", "auto":
		return nil
	default:
		kind, err := stats.ParseTestKind(s)
		if err != nil {
			return nil
		}
		return ptrBool(kind == stats.TTest || kind == stats.ANOVA)
	}
}

// GetWorkers returns the per-feature test concurrency; 0 lets the caller
// choose.
func (p *Params) GetWorkers() int {
	if p.Workers == nil {
		return 0
	}
	return *p.Workers
}

// GetOutlierPCs returns the number of principal components used for
// outlier detection.
func (p *Params) GetOutlierPCs() int {
	if p.OutlierPCs == nil {
		return 10
	}
	return *p.OutlierPCs
}

// GetOutlierExtremeness returns the outlier cut-off in standard deviations.
func (p *Params) GetOutlierExtremeness() float64 {
	if p.OutlierExtremeness == nil {
		return 2
	}
	return *p.OutlierExtremeness
}

// GetTSNEPerplexities returns the perplexities to embed with.
func (p *Params) GetTSNEPerplexities() []float64 {
	if len(p.TSNEPerplexities) == 0 {
		return []float64{5, 15, 30}
	}
	return p.TSNEPerplexities
}

// GetUMAPNeighbours returns the neighbourhood sizes to embed with.
func (p *Params) GetUMAPNeighbours() []int {
	if len(p.UMAPNeighbours) == 0 {
		return []int{5, 15, 30}
	}
	return p.UMAPNeighbours
}

// GetSeed returns the random seed for t-SNE and UMAP.
func (p *Params) GetSeed() uint64 {
	if p.Seed == nil {
		return 42
	}
	return *p.Seed
}

// GetDBPath returns the database path, defaulting to a file in the save
// directory.
func (p *Params) GetDBPath() string {
	if p.DBPath == nil || *p.DBPath == "" {
		return filepath.Join(p.SaveDir, "wormbehaviour.db")
	}
	return *p.DBPath
}

// GetPlotFormat returns the static figure file extension.
func (p *Params) GetPlotFormat() string {
	if p.PlotFormat == nil || *p.PlotFormat == "" {
		return "png"
	}
	return strings.ToLower(*p.PlotFormat)
}

// GetTopNPlots returns how many top features get box plots.
func (p *Params) GetTopNPlots() int {
	if p.TopNPlots == nil {
		return 10
	}
	return *p.TopNPlots
}

// GetMaxGroupsPlot caps the number of groups drawn on one figure.
func (p *Params) GetMaxGroupsPlot() int {
	if p.MaxGroupsPlot == nil {
		return 20
	}
	return *p.MaxGroupsPlot
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
