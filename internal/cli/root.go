// Package cli implements the wormbehaviour command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/banshee-data/wormbehaviour/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool

	// Logger overrides the logger built from Verbose. Used by tests.
	Logger *zap.Logger

	flags *pflag.FlagSet
}

// flagKeys maps parameter flags to their config keys.
var flagKeys = map[string]string{
	"project-dir":     "project_dir",
	"metadata":        "metadata_path",
	"features":        "features_path",
	"feature-set":     "feature_set_path",
	"key-column":      "key_column",
	"dates":           "dates",
	"n-top-feats":     "n_top_feats",
	"group-by":        "grouping_variable",
	"control":         "control",
	"omit":            "omit_groups",
	"alpha":           "pval_threshold",
	"fdr-method":      "fdr_method",
	"test":            "test",
	"workers":         "workers",
	"save-dir":        "save_dir",
	"db":              "db_path",
	"plot-format":     "plot_format",
	"recompute":       "recompute",
	"remove-outliers": "remove_outliers",
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wormbehaviour",
		Short: "Behavioural feature analysis for C. elegans screens",
		Long: `Clean Tierpsy feature summaries, compare every strain or treatment with
a control, rank the significant features, and project the samples with
PCA, t-SNE and UMAP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "parameters file (.yaml, .yml or .json)")
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	pf.String("project-dir", "", "project directory with Results/ and AuxiliaryFiles/")
	pf.String("metadata", "", "metadata CSV")
	pf.String("features", "", "compiled features CSV (requires --metadata)")
	pf.String("feature-set", "", "file listing the features to analyse")
	pf.String("key-column", "", "column joining metadata and feature rows")
	pf.StringSlice("dates", nil, "imaging dates to include (yyyymmdd)")
	pf.Int("n-top-feats", 0, "Tierpsy feature set size (16, 256 or 3000)")
	pf.String("group-by", "", "metadata column defining the groups")
	pf.String("control", "", "control group label")
	pf.StringSlice("omit", nil, "groups to leave out")
	pf.Float64("alpha", 0, "significance threshold on corrected p-values")
	pf.String("fdr-method", "", "multiple testing correction (fdr_bh, fdr_by, bonferroni, holm)")
	pf.String("test", "", "auto, t-test, ranksum, ANOVA or Kruskal-Wallis")
	pf.Int("workers", 0, "concurrent feature tests")
	pf.String("save-dir", "", "output directory")
	pf.String("db", "", "sqlite database recording runs (default <save-dir>/wormbehaviour.db)")
	pf.String("plot-format", "", "figure format (png, eps, pdf, svg)")
	pf.Bool("recompute", false, "ignore cached compiled summaries")
	pf.Bool("remove-outliers", false, "drop Mahalanobis outliers before projecting")
	opts.flags = pf

	cmd.AddCommand(newStageCommands(opts)...)
	cmd.AddCommand(NewWindowsCommand())
	cmd.AddCommand(NewTimeSeriesCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewVersionCommand())
	return cmd
}

// params merges the parameters file, WORMBEHAVIOUR_* environment variables
// and the flags given on the command line, in increasing precedence.
func (o *RootOptions) params() (*config.Params, error) {
	v := config.NewViper()
	var bindErr error
	// Only flags set explicitly override the file; unset flags would
	// otherwise replace its values with zero defaults.
	o.flags.VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || !f.Changed || bindErr != nil {
			return
		}
		if err := v.BindPFlag(key, f); err != nil {
			bindErr = fmt.Errorf("bind --%s: %w", f.Name, err)
		}
	})
	if bindErr != nil {
		return nil, bindErr
	}
	return config.Load(v, o.ConfigPath)
}

func (o *RootOptions) logger() (*zap.Logger, error) {
	if o.Logger != nil {
		return o.Logger, nil
	}
	if o.Verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true
	return cfg.Build()
}
