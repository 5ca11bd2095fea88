package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/thruflo/autodrive/internal/record"
)

var replayEvents bool

var replayCmd = &cobra.Command{
	Use:   "replay <file>",
	Short: "Summarize a recorded run",
	Long: `Reads a telemetry recording written with "autodrive run --record" and
prints a summary: frames covered, simulated time, distance driven and speeds.

With --events, also lists every record that carries an event.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().BoolVar(&replayEvents, "events", false, "list the records that carry an event")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	records, err := record.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read recording: %w", err)
	}
	out := cmd.OutOrStdout()

	fmt.Fprint(out, record.Summarize(records).String())

	if replayEvents {
		fmt.Fprintln(out)
		for _, r := range records {
			if r.Event == "" {
				continue
			}
			fmt.Fprintf(out, "frame %-8d %-12s (%.1f, %.1f)\n", r.Frame, r.Event, r.Location.X, r.Location.Y)
		}
	}
	return nil
}
