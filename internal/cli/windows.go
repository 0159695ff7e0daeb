package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/banshee-data/wormbehaviour/internal/summaries"
)

// NewWindowsCommand creates the windows command.
func NewWindowsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "windows <minutes>...",
		Short: "Print Tierpsy summary windows around bluelight stimuli",
		Long: `Print the feature summary windows, in seconds, for bluelight stimuli
delivered at the given times in minutes. The optimal windows cover 10 s
before each pulse and 5-15 s and 15-25 s after its onset; the 30 s windows
cover 30-60 s after its onset.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			minutes := make([]float64, len(args))
			for i, a := range args {
				m, err := strconv.ParseFloat(a, 64)
				if err != nil || m < 0 {
					return fmt.Errorf("invalid timepoint %q: want minutes >= 0", a)
				}
				minutes[i] = m
			}
			w := summaries.BluelightWindows(minutes)
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Optimal windows:")
			for _, s := range w.Optimal {
				fmt.Fprintf(out, "  %s\n", s)
			}
			fmt.Fprintln(out, "30 s windows:")
			for _, s := range w.ThirtySecond {
				fmt.Fprintf(out, "  %s\n", s)
			}
			return nil
		},
	}
}
