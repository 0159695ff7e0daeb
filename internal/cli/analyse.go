package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/banshee-data/wormbehaviour/internal/config"
	"github.com/banshee-data/wormbehaviour/internal/fsutil"
	"github.com/banshee-data/wormbehaviour/internal/pipeline"
	"github.com/banshee-data/wormbehaviour/internal/store"
	"github.com/banshee-data/wormbehaviour/internal/timeutil"
)

var stageCommands = []struct {
	use   string
	stage pipeline.Stage
	short string
}{
	{"run", pipeline.StageAll, "Run the full analysis: clean, compare, project and plot"},
	{"clean", pipeline.StageClean, "Clean and impute the feature summaries"},
	{"stats", pipeline.StageStats, "Clean, then compare every group with the control"},
	{"pca", pipeline.StagePCA, "Clean, compare, then project with PCA, t-SNE and UMAP"},
}

func newStageCommands(rootOpts *RootOptions) []*cobra.Command {
	cmds := make([]*cobra.Command, 0, len(stageCommands))
	for _, sc := range stageCommands {
		var noDB bool
		cmd := &cobra.Command{
			Use:   sc.use,
			Short: sc.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runStage(cmd, rootOpts, sc.stage, noDB)
			},
		}
		cmd.Flags().BoolVar(&noDB, "no-db", false, "do not record the run or cache summaries")
		cmds = append(cmds, cmd)
	}
	return cmds
}

func runStage(cmd *cobra.Command, rootOpts *RootOptions, stage pipeline.Stage, noDB bool) error {
	params, err := rootOpts.params()
	if err != nil {
		return err
	}
	if params.SaveDir, err = pipeline.SaveDir(params); err != nil {
		return err
	}
	logger, err := rootOpts.logger()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	deps := pipeline.Deps{FS: fsutil.OSFileSystem{}, Clock: timeutil.RealClock{}, Logger: logger}
	if !noDB {
		db, err := openDB(params, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		deps.DB = db
	}

	rep, err := pipeline.New(deps).Run(cmd.Context(), params, stage)
	if err != nil {
		return err
	}
	printReport(cmd.OutOrStdout(), rep)
	return nil
}

func openDB(params *config.Params, logger *zap.Logger) (*store.DB, error) {
	path := params.GetDBPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	return store.NewDB(path, logger)
}

func printReport(w io.Writer, rep *pipeline.Report) {
	if rep.RunID != "" {
		fmt.Fprintf(w, "Run %s\n", rep.RunID)
	}
	fmt.Fprintf(w, "Samples: %d, features: %d\n", rep.Samples, rep.Features)
	if n := rep.Cleaning.DroppedCount(); n > 0 {
		fmt.Fprintf(w, "Dropped features: %d\n", n)
	}
	if len(rep.Cleaning.BadWells) > 0 {
		fmt.Fprintf(w, "Dropped bad wells: %d\n", len(rep.Cleaning.BadWells))
	}
	if res := rep.Result; res != nil {
		test := "non-parametric"
		if res.Parametric {
			test = "parametric"
		}
		fmt.Fprintf(w, "Groups compared with %s: %d (%s tests)\n", res.Control, len(res.Groups), test)
		fmt.Fprintf(w, "Significant features: %d\n", len(res.SignificantAny))
	}
	if rep.PCA != nil && len(rep.PCA.Cumulative) > 0 {
		fmt.Fprintf(w, "Components for 95%% variance: %d\n", rep.PCA.ComponentsFor(0.95))
	}
	if len(rep.Outliers) > 0 {
		fmt.Fprintf(w, "Outliers removed: %d\n", len(rep.Outliers))
	}
	fmt.Fprintf(w, "Wrote %d files to %s (%.1fs)\n", len(rep.Files), rep.SaveDir, rep.Elapsed.Seconds())
}
