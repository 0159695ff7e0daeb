package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/banshee-data/wormbehaviour/internal/fsutil"
	"github.com/banshee-data/wormbehaviour/internal/plots"
	"github.com/banshee-data/wormbehaviour/internal/results"
)

// TimeSeriesOptions configure the timeseries command.
type TimeSeriesOptions struct {
	Columns    plots.TraceColumns
	BinSeconds float64
	Stimuli    []float64 // onsets, seconds
}

// NewTimeSeriesCommand creates the timeseries command.
func NewTimeSeriesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TimeSeriesOptions{}
	cmd := &cobra.Command{
		Use:   "timeseries <traces.csv>",
		Short: "Plot a feature's mean and SEM over time for every group",
		Long: `Read a long-format table with one row per sample and timestamp, average
each sample within time bins, and plot the group means with their
standard errors. Bluelight pulses given with --stimuli are shaded.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTimeSeries(cmd, rootOpts, opts, args[0])
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.Columns.Sample, "sample-col", "well_name", "column identifying the sample")
	f.StringVar(&opts.Columns.Group, "group-col", "gene_name", "column holding the group")
	f.StringVar(&opts.Columns.Time, "time-col", "time", "column holding the time in seconds")
	f.StringVar(&opts.Columns.Value, "feature", "speed", "feature column to plot")
	f.Float64Var(&opts.BinSeconds, "bin", 1, "bin width in seconds")
	f.Float64SliceVar(&opts.Stimuli, "stimuli", nil, "bluelight pulse onsets in seconds")
	return cmd
}

func runTimeSeries(cmd *cobra.Command, rootOpts *RootOptions, opts *TimeSeriesOptions, path string) error {
	params, err := rootOpts.params()
	if err != nil {
		return err
	}
	if params.SaveDir == "" {
		return fmt.Errorf("timeseries needs --save-dir")
	}
	logger, err := rootOpts.logger()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	traces, err := plots.ReadTraces(f, opts.Columns)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	bands, err := plots.MeanSEM(traces, opts.BinSeconds)
	if err != nil {
		return err
	}
	logger.Info("binned traces",
		zap.Int("samples", len(traces)),
		zap.Int("groups", len(bands)),
		zap.Float64("bin_seconds", opts.BinSeconds))

	pl, err := plots.New(results.NewWriter(fsutil.OSFileSystem{}, params.SaveDir), plots.Options{
		Format:    params.GetPlotFormat(),
		MaxGroups: params.GetMaxGroupsPlot(),
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	out, err := pl.TimeSeries(opts.Columns.Value, bands, params.GetControl(), opts.Stimuli)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", out)
	return nil
}
