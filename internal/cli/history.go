package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/thruflo/autodrive/internal/state"
	"github.com/thruflo/autodrive/internal/tui"
)

// RunReader abstracts run history storage for testability.
type RunReader interface {
	ListRuns() ([]*state.Run, error)
	GetRun(id string) (*state.Run, error)
	LoadEvents(id string) ([]state.Event, error)
	DeleteRun(id string) error
}

// historyStore is the run reader used by the history command.
// It can be overridden in tests.
var historyStore RunReader

var historyDelete bool

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show past runs",
	Long: `Shows the runs recorded under .autodrive/runs.

Without arguments, lists all runs, newest first. With a run id, shows the
details and events of that run.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().BoolVar(&historyDelete, "delete", false, "delete the given run")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	store := historyStore
	if store == nil {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get current directory: %w", err)
		}
		store = state.NewStore(cwd)
	}
	out := cmd.OutOrStdout()

	if len(args) == 0 {
		if historyDelete {
			return fmt.Errorf("--delete requires a run id")
		}
		return listRuns(out, store)
	}
	if historyDelete {
		if _, err := store.GetRun(args[0]); err != nil {
			return err
		}
		if err := store.DeleteRun(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(out, "Deleted run %s\n", args[0])
		return nil
	}
	return showRun(out, store, args[0])
}

func listRuns(out io.Writer, store RunReader) error {
	runs, err := store.ListRuns()
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs found.")
		return nil
	}

	// Calculate column widths
	idWidth := len("ID")
	statusWidth := len("STATUS")
	agentWidth := len("AGENT")
	for _, r := range runs {
		idWidth = max(idWidth, len(r.ID))
		statusWidth = max(statusWidth, len(r.Status))
		agentWidth = max(agentWidth, len(agentLabel(r)))
	}

	fmt.Fprintf(out, "%-*s  %-*s  %-*s  %-8s  %s\n", idWidth, "ID", statusWidth, "STATUS", agentWidth, "AGENT", "MAP", "CYCLES")
	fmt.Fprintf(out, "%s  %s  %s  %s  %s\n",
		strings.Repeat("-", idWidth), strings.Repeat("-", statusWidth), strings.Repeat("-", agentWidth), "--------", "------")

	for _, r := range runs {
		fmt.Fprintf(out, "%-*s  %-*s  %-*s  %-8s  %d\n",
			idWidth, r.ID, statusWidth, r.Status, agentWidth, agentLabel(r), r.Map, r.Cycles)
	}
	return nil
}

func showRun(out io.Writer, store RunReader, id string) error {
	run, err := store.GetRun(id)
	if err != nil {
		return fmt.Errorf("failed to get run: %w", err)
	}
	events, err := store.LoadEvents(id)
	if err != nil {
		return fmt.Errorf("failed to load events: %w", err)
	}

	fmt.Fprintf(out, "Run:          %s\n", run.ID)
	fmt.Fprintf(out, "Status:       %s\n", tui.FormatStatus(run.Status))
	fmt.Fprintf(out, "Map:          %s\n", run.Map)
	fmt.Fprintf(out, "Agent:        %s\n", agentLabel(run))
	if run.Seed != nil {
		fmt.Fprintf(out, "Seed:         %d\n", *run.Seed)
	}
	mode := "asynchronous"
	if run.Synchronous {
		mode = "synchronous"
	}
	fmt.Fprintf(out, "Mode:         %s\n", mode)
	fmt.Fprintf(out, "Loop:         %t\n", run.Loop)
	fmt.Fprintf(out, "Started:      %s\n", run.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "Duration:     %s\n", run.Duration(time.Now()).Round(time.Second))
	fmt.Fprintf(out, "Cycles:       %d\n", run.Cycles)
	fmt.Fprintf(out, "Destinations: %d\n", run.Destinations)
	if run.Recording != "" {
		fmt.Fprintf(out, "Recording:    %s\n", run.Recording)
	}
	if run.Error != "" {
		fmt.Fprintf(out, "Error:        %s\n", run.Error)
	}

	if len(events) > 0 {
		fmt.Fprintln(out, "\nEvents:")
		for _, ev := range events {
			line := fmt.Sprintf("  cycle %-6d %-12s (%.1f, %.1f)", ev.Cycle, ev.Kind, ev.X, ev.Y)
			if ev.Message != "" {
				line += "  " + ev.Message
			}
			fmt.Fprintln(out, line)
		}
	}
	return nil
}

func agentLabel(r *state.Run) string {
	if r.Behavior != "" {
		return r.Agent + "/" + r.Behavior
	}
	return r.Agent
}
