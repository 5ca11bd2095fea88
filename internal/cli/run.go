package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/thruflo/autodrive/internal/config"
	"github.com/thruflo/autodrive/internal/logging"
	"github.com/thruflo/autodrive/internal/loop"
	"github.com/thruflo/autodrive/internal/state"
	"github.com/thruflo/autodrive/internal/tui"
)

var (
	runHost        string
	runPort        int
	runSeed        int64
	runSync        bool
	runFixedDelta  float64
	runTimeout     float64
	runTickTimeout float64
	runRes         string
	runAgent       string
	runBehavior    string
	runLoop        bool
	runVerbose     bool
	runHeadless    bool
	runTargetSpeed float64
	runFilter      string
	runMaxFrames   int
	runRecord      string
	runKeepHistory bool
	runJSON        bool
)

// Overridable in tests.
var (
	runStore *state.Store
	runDial  loop.DialFunc
)

// logFileName is where logs go while the HUD owns the terminal.
const logFileName = "autodrive.log"

// RunResult is the JSON output of a run with --json.
type RunResult struct {
	Reason       string `json:"reason"`
	Cycles       int    `json:"cycles"`
	Destinations int    `json:"destinations"`
	Frame        uint64 `json:"frame"`
	Error        string `json:"error,omitempty"`
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Drive a vehicle on the simulator",
	Long: `Connects to the simulator, spawns a vehicle and lets the configured
agent drive it to a random destination.

Values come from the config file; flags given on the command line override
them. Press ESC, q, Ctrl+C or Ctrl+Q to stop. In the HUD, i toggles the info
panel and h the key help.

Example:
  autodrive run
  autodrive run --agent Basic --loop
  autodrive run --sync --seed 7 --max-frames 2000 --headless --json`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	defaults := config.DefaultConfig()
	f := runCmd.Flags()
	f.StringVar(&runHost, "host", defaults.Host, "IP of the host server")
	f.IntVarP(&runPort, "port", "p", defaults.Port, "TCP port to listen to")
	f.Int64Var(&runSeed, "seed", 0, "random seed for spawn and destination choice")
	f.BoolVar(&runSync, "sync", defaults.Sync, "run the simulation in synchronous mode")
	f.Float64Var(&runFixedDelta, "fixed-delta", defaults.FixedDeltaSeconds, "simulated seconds per tick in synchronous mode")
	f.Float64Var(&runTimeout, "timeout", defaults.TimeoutSeconds, "per-request timeout in seconds")
	f.Float64Var(&runTickTimeout, "tick-timeout", defaults.TickTimeoutSeconds, "bound on waiting for an asynchronous tick in seconds (0 waits forever)")
	f.StringVar(&runRes, "res", fmt.Sprintf("%dx%d", defaults.Resolution.Width, defaults.Resolution.Height), "window resolution WIDTHxHEIGHT")
	f.StringVarP(&runAgent, "agent", "a", defaults.Agent, "agent: "+strings.Join(config.Agents, ", "))
	f.StringVarP(&runBehavior, "behavior", "b", defaults.Behavior, "behavior of the Behavior agent: "+strings.Join(config.Behaviors, ", "))
	f.BoolVarP(&runLoop, "loop", "l", defaults.Loop, "pick a new destination whenever one is reached")
	f.BoolVarP(&runVerbose, "verbose", "v", defaults.Verbose, "print debug information")
	f.BoolVar(&runHeadless, "headless", defaults.Headless, "run without HUD or keyboard input")
	f.Float64Var(&runTargetSpeed, "target-speed", defaults.TargetSpeed, "target speed of the Basic and Constant agents in km/h")
	f.StringVar(&runFilter, "filter", defaults.VehicleFilter, "vehicle blueprint filter")
	f.IntVar(&runMaxFrames, "max-frames", defaults.MaxFrames, "stop after this many frames (0 means no limit)")
	f.StringVar(&runRecord, "record", defaults.Record, "write per-cycle telemetry to this file")
	f.BoolVar(&runKeepHistory, "history", defaults.History, "keep a record of the run under .autodrive/runs")
	f.BoolVar(&runJSON, "json", false, "print the result as JSON")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadRunConfig(cmd)
	if err != nil {
		return err
	}
	logging.SetVerbose(cfg.Verbose)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}
	store := runStore
	if store == nil {
		store = state.NewStore(cwd)
	}

	deps := loop.Deps{
		Dial:   runDial,
		Store:  store,
		Out:    cmd.OutOrStdout(),
		Logger: logging.Default(),
	}
	if runJSON {
		deps.Out = cmd.ErrOrStderr()
	}

	cleanup := func() {}
	if !cfg.Headless {
		terminal := tui.NewTerminal(os.Stdout)
		if terminal.IsTerminal() {
			cleanup, err = startHUD(cfg, terminal, filepath.Join(cwd, ".autodrive"), &deps)
			if err != nil {
				return err
			}
		} else {
			logging.Warn("stdin is not a terminal, running headless")
		}
	}

	res := loop.Execute(ctx, cfg, deps)
	cleanup()

	return report(cmd, res)
}

// loadRunConfig reads the config file, overlays the flags given on the
// command line and validates the result.
func loadRunConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.ReadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := applyRunFlags(cmd, cfg); err != nil {
		return nil, err
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	changed := cmd.Flags().Changed

	if changed("host") {
		cfg.Host = runHost
	}
	if changed("port") {
		cfg.Port = runPort
	}
	if changed("seed") {
		seed := runSeed
		cfg.Seed = &seed
	}
	if changed("sync") {
		cfg.Sync = runSync
	}
	if changed("fixed-delta") {
		cfg.FixedDeltaSeconds = runFixedDelta
	}
	if changed("timeout") {
		cfg.TimeoutSeconds = runTimeout
	}
	if changed("tick-timeout") {
		cfg.TickTimeoutSeconds = runTickTimeout
	}
	if changed("res") {
		width, height, err := parseResolution(runRes)
		if err != nil {
			return err
		}
		cfg.Resolution = config.Resolution{Width: width, Height: height}
	}
	if changed("agent") {
		cfg.Agent = runAgent
	}
	if changed("behavior") {
		cfg.Behavior = runBehavior
	}
	if changed("loop") {
		cfg.Loop = runLoop
	}
	if changed("verbose") {
		cfg.Verbose = runVerbose
	}
	if changed("headless") {
		cfg.Headless = runHeadless
	}
	if changed("target-speed") {
		cfg.TargetSpeed = runTargetSpeed
	}
	if changed("filter") {
		cfg.VehicleFilter = runFilter
	}
	if changed("max-frames") {
		cfg.MaxFrames = runMaxFrames
	}
	if changed("record") {
		cfg.Record = runRecord
	}
	if changed("history") {
		cfg.History = runKeepHistory
	}
	return nil
}

// parseResolution parses WIDTHxHEIGHT.
func parseResolution(s string) (width, height int, err error) {
	w, h, ok := strings.Cut(strings.ToLower(s), "x")
	if ok {
		width, err = strconv.Atoi(w)
		if err == nil {
			height, err = strconv.Atoi(h)
		}
	}
	if !ok || err != nil || width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("invalid resolution %q (want WIDTHxHEIGHT)", s)
	}
	return width, height, nil
}

// startHUD takes over the terminal for the HUD and keyboard. Logs and user
// messages go to a file under dir until the returned cleanup runs.
func startHUD(cfg *config.Config, terminal *tui.Terminal, dir string, deps *loop.Deps) (func(), error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	logPath := filepath.Join(dir, logFileName)
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	if err := terminal.EnterRaw(); err != nil {
		_ = logFile.Close()
		return nil, err
	}
	logging.SetOutput(log.New(logFile, "", log.LstdFlags))

	hud := tui.NewHUD(terminal, cfg.Resolution.Width, cfg.Resolution.Height)
	hud.Start()
	deps.Display = hud
	deps.Input = tui.NewKeyboard(terminal, hud)
	deps.Out = logFile

	return func() {
		if err := terminal.ExitRaw(); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
		logging.SetOutput(log.New(os.Stderr, "", log.LstdFlags))
		_ = logFile.Close()
	}, nil
}

// report prints the outcome of a run and turns faults into an error.
func report(cmd *cobra.Command, res loop.Result) error {
	out := cmd.OutOrStdout()

	if runJSON {
		result := RunResult{
			Reason:       res.Reason.String(),
			Cycles:       res.Cycles,
			Destinations: res.Destinations,
			Frame:        res.Frame,
		}
		if res.Error != nil {
			result.Error = res.Error.Error()
		}
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		fmt.Fprintln(out, string(data))
	} else if res.Reason == loop.ExitReasonInterrupted {
		fmt.Fprintln(out, loop.MsgCancelled)
	}

	if res.Reason == loop.ExitReasonFaulted {
		return describeFault(res.Error)
	}
	return nil
}

// describeFault adds a hint to the errors a user can act on.
func describeFault(err error) error {
	switch {
	case errors.Is(err, loop.ErrConnection):
		return fmt.Errorf("%w (is the simulator running?)", err)
	case err == nil:
		return errors.New("run faulted")
	default:
		return err
	}
}
