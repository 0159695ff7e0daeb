// Package config loads analysis parameters from a JSON or YAML file,
// WORMBEHAVIOUR_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/wormbehaviour/internal/fsutil"
	"github.com/banshee-data/wormbehaviour/internal/stats"
)

// EnvPrefix is prepended to every environment override, e.g.
// WORMBEHAVIOUR_PVAL_THRESHOLD.
const EnvPrefix = "WORMBEHAVIOUR"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid parameters")

// FeatureSetSizes are the curated Tierpsy feature set sizes.
var FeatureSetSizes = []int{16, 256, 3000}

// PlotFormats are the accepted static figure formats.
var PlotFormats = []string{"png", "eps", "pdf", "svg"}

// Params are the analysis parameters. Every optional field is a pointer;
// the Get* accessors supply the default when it is nil.
type Params struct {
	// Inputs
	ProjectDir      string   `mapstructure:"project_dir" yaml:"project_dir,omitempty"`
	MetadataPath    string   `mapstructure:"metadata_path" yaml:"metadata_path,omitempty"`
	FeaturesPath    string   `mapstructure:"features_path" yaml:"features_path,omitempty"`
	FeatureSetPath  string   `mapstructure:"feature_set_path" yaml:"feature_set_path,omitempty"`
	Dates           []string `mapstructure:"dates" yaml:"dates,omitempty"`
	KeyColumn       *string  `mapstructure:"key_column" yaml:"key_column,omitempty"`
	NTopFeats       *int     `mapstructure:"n_top_feats" yaml:"n_top_feats,omitempty"`
	AppendBluelight *bool    `mapstructure:"append_bluelight" yaml:"append_bluelight,omitempty"`
	DropPathCurv    *bool    `mapstructure:"drop_path_curvature" yaml:"drop_path_curvature,omitempty"`
	Recompute       *bool    `mapstructure:"recompute" yaml:"recompute,omitempty"`

	// Grouping
	GroupingVariable *string  `mapstructure:"grouping_variable" yaml:"grouping_variable,omitempty"`
	TreatmentColumns []string `mapstructure:"treatment_columns" yaml:"treatment_columns,omitempty"`
	Control          *string  `mapstructure:"control" yaml:"control,omitempty"`
	OmitGroups       []string `mapstructure:"omit_groups" yaml:"omit_groups,omitempty"`

	// Cleaning
	NaNThreshold      *float64 `mapstructure:"nan_threshold" yaml:"nan_threshold,omitempty"`
	ImputeNaNs        *bool    `mapstructure:"impute_nans" yaml:"impute_nans,omitempty"`
	ImputeByGroup     *bool    `mapstructure:"impute_by_group" yaml:"impute_by_group,omitempty"`
	DropSizeFeatures  *bool    `mapstructure:"drop_size_features" yaml:"drop_size_features,omitempty"`
	DropVentralSigned *bool    `mapstructure:"drop_ventrally_signed" yaml:"drop_ventrally_signed,omitempty"`
	DropBadWells      *bool    `mapstructure:"add_well_annotations" yaml:"add_well_annotations,omitempty"`

	// Statistics
	PvalThreshold *float64 `mapstructure:"pval_threshold" yaml:"pval_threshold,omitempty"`
	FDRMethod     *string  `mapstructure:"fdr_method" yaml:"fdr_method,omitempty"`
	Test          *string  `mapstructure:"test" yaml:"test,omitempty"`
	Workers       *int     `mapstructure:"workers" yaml:"workers,omitempty"`

	// Dimensionality reduction
	RemoveOutliers      *bool     `mapstructure:"remove_outliers" yaml:"remove_outliers,omitempty"`
	OutlierPCs          *int      `mapstructure:"outlier_pcs" yaml:"outlier_pcs,omitempty"`
	OutlierExtremeness  *float64  `mapstructure:"outlier_extremeness" yaml:"outlier_extremeness,omitempty"`
	TSNEPerplexities    []float64 `mapstructure:"tsne_perplexities" yaml:"tsne_perplexities,omitempty"`
	UMAPNeighbours      []int     `mapstructure:"umap_neighbours" yaml:"umap_neighbours,omitempty"`
	Seed                *uint64   `mapstructure:"seed" yaml:"seed,omitempty"`
	BluelightTimepoints []float64 `mapstructure:"bluelight_timepoints" yaml:"bluelight_timepoints,omitempty"`

	// Outputs
	SaveDir       string  `mapstructure:"save_dir" yaml:"save_dir,omitempty"`
	DBPath        *string `mapstructure:"db_path" yaml:"db_path,omitempty"`
	PlotFormat    *string `mapstructure:"plot_format" yaml:"plot_format,omitempty"`
	TopNPlots     *int    `mapstructure:"top_n_plots" yaml:"top_n_plots,omitempty"`
	MaxGroupsPlot *int    `mapstructure:"max_groups_plot" yaml:"max_groups_plot,omitempty"`
}

// Keys returns every parameter key, in declaration order.
func Keys() []string {
	t := reflect.TypeOf(Params{})
	keys := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		if k := t.Field(i).Tag.Get("mapstructure"); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// NewViper returns a viper instance with the environment bindings set.
// Callers may bind command-line flags to it before calling Load.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, k := range Keys() {
		_ = v.BindEnv(k)
	}
	return v
}

// Load reads the parameters file at path (which may be empty) into v and
// decodes the merged result. The file must be .json, .yaml or .yml and no
// larger than 1MB.
func Load(v *viper.Viper, path string) (*Params, error) {
	if v == nil {
		v = NewViper()
	}
	if path != "" {
		cleanPath := filepath.Clean(path)
		switch ext := strings.ToLower(filepath.Ext(cleanPath)); ext {
		case ".json", ".yaml", ".yml":
		default:
			return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
		}
		fileInfo, err := os.Stat(cleanPath)
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if fileInfo.Size() > maxFileSize {
			return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
		}
		v.SetConfigFile(cleanPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	p := &Params{}
	if err := v.Unmarshal(p); err != nil {
		return nil, fmt.Errorf("failed to decode parameters: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadFile is Load with a fresh viper instance.
func LoadFile(path string) (*Params, error) {
	return Load(nil, path)
}

// Save writes the parameters as YAML.
func (p *Params) Save(fs fsutil.FileSystem, path string) error {
	data, err := p.YAML()
	if err != nil {
		return err
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return fs.WriteFile(path, data, 0o644)
}

// YAML renders the parameters.
func (p *Params) YAML() ([]byte, error) {
	data, err := yaml.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode parameters: %w", err)
	}
	return data, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks the value ranges.
func (p *Params) Validate() error {
	if p.PvalThreshold != nil && (*p.PvalThreshold <= 0 || *p.PvalThreshold >= 1) {
		return invalid("pval_threshold must be in (0, 1), got %g", *p.PvalThreshold)
	}
	if p.NaNThreshold != nil && (*p.NaNThreshold < 0 || *p.NaNThreshold > 1) {
		return invalid("nan_threshold must be in [0, 1], got %g", *p.NaNThreshold)
	}
	if p.FDRMethod != nil {
		if _, err := stats.ParseMethod(*p.FDRMethod); err != nil {
			return invalid("fdr_method: %v", err)
		}
	}
	if p.Test != nil && *p.Test != "" && *p.Test != "auto" {
		if _, err := stats.ParseTestKind(*p.Test); err != nil {
			return invalid("test: %v", err)
		}
	}
	if p.NTopFeats != nil && !slices.Contains(FeatureSetSizes, *p.NTopFeats) {
		return invalid("n_top_feats must be one of %v, got %d", FeatureSetSizes, *p.NTopFeats)
	}
	if p.OutlierPCs != nil && *p.OutlierPCs < 1 {
		return invalid("outlier_pcs must be at least 1, got %d", *p.OutlierPCs)
	}
	if p.OutlierExtremeness != nil && *p.OutlierExtremeness <= 0 {
		return invalid("outlier_extremeness must be positive, got %g", *p.OutlierExtremeness)
	}
	if p.Workers != nil && *p.Workers < 0 {
		return invalid("workers must be non-negative, got %d", *p.Workers)
	}
	if p.PlotFormat != nil && !slices.Contains(PlotFormats, strings.ToLower(*p.PlotFormat)) {
		return invalid("plot_format must be one of %v, got %q", PlotFormats, *p.PlotFormat)
	}
	if p.TopNPlots != nil && *p.TopNPlots < 0 {
		return invalid("top_n_plots must be non-negative, got %d", *p.TopNPlots)
	}
	if p.MaxGroupsPlot != nil && *p.MaxGroupsPlot < 1 {
		return invalid("max_groups_plot must be at least 1, got %d", *p.MaxGroupsPlot)
	}
	for _, perp := range p.TSNEPerplexities {
		if perp <= 0 {
			return invalid("tsne_perplexities must be positive, got %g", perp)
		}
	}
	for _, k := range p.UMAPNeighbours {
		if k < 2 {
			return invalid("umap_neighbours must be at least 2, got %d", k)
		}
	}
	for _, tp := range p.BluelightTimepoints {
		if tp < 0 {
			return invalid("bluelight_timepoints must be non-negative, got %g", tp)
		}
	}
	return nil
}
