package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thruflo/autodrive/internal/config"
	"github.com/thruflo/autodrive/internal/loop"
	"github.com/thruflo/autodrive/internal/sim"
	"github.com/thruflo/autodrive/internal/state"
	"github.com/thruflo/autodrive/internal/testutil"
)

// resetFlags restores every flag of cmd to its default and clears Changed.
func resetFlags(t *testing.T, cmd *cobra.Command) {
	t.Helper()
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		require.NoError(t, f.Value.Set(f.DefValue))
		f.Changed = false
	})
}

func setFlags(t *testing.T, cmd *cobra.Command, kv ...string) {
	t.Helper()
	require.Zero(t, len(kv)%2)
	for i := 0; i < len(kv); i += 2 {
		require.NoError(t, cmd.Flags().Set(kv[i], kv[i+1]))
	}
}

// chdir switches to dir for the duration of the test.
func chdir(t *testing.T, dir string) {
	t.Helper()
	orig, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(orig) })
}

func TestRunCommand_Flags(t *testing.T) {
	flags := []struct {
		name      string
		shorthand string
	}{
		{"host", ""},
		{"port", "p"},
		{"seed", ""},
		{"sync", ""},
		{"fixed-delta", ""},
		{"timeout", ""},
		{"tick-timeout", ""},
		{"res", ""},
		{"agent", "a"},
		{"behavior", "b"},
		{"loop", "l"},
		{"verbose", "v"},
		{"headless", ""},
		{"target-speed", ""},
		{"filter", ""},
		{"max-frames", ""},
		{"record", ""},
		{"history", ""},
		{"json", ""},
	}

	for _, tt := range flags {
		t.Run(tt.name, func(t *testing.T) {
			f := runCmd.Flags().Lookup(tt.name)
			require.NotNil(t, f, "flag %s not registered", tt.name)
			assert.Equal(t, tt.shorthand, f.Shorthand)
		})
	}

	assert.Equal(t, "2000", runCmd.Flags().Lookup("port").DefValue)
	assert.Equal(t, "127.0.0.1", runCmd.Flags().Lookup("host").DefValue)
	assert.Equal(t, "1280x720", runCmd.Flags().Lookup("res").DefValue)
	assert.Equal(t, config.AgentBehavior, runCmd.Flags().Lookup("agent").DefValue)
	assert.Equal(t, config.BehaviorNormal, runCmd.Flags().Lookup("behavior").DefValue)
}

func TestApplyRunFlags(t *testing.T) {
	t.Run("only changed flags override the config", func(t *testing.T) {
		resetFlags(t, runCmd)
		t.Cleanup(func() { resetFlags(t, runCmd) })

		cfg := config.DefaultConfig()
		cfg.Host = "sim.local"
		cfg.Loop = true
		setFlags(t, runCmd, "port", "2100", "agent", "Constant", "seed", "7", "res", "800x600")

		require.NoError(t, applyRunFlags(runCmd, &cfg))

		assert.Equal(t, "sim.local", cfg.Host, "unchanged flag keeps the file value")
		assert.True(t, cfg.Loop)
		assert.Equal(t, 2100, cfg.Port)
		assert.Equal(t, config.AgentConstant, cfg.Agent)
		require.NotNil(t, cfg.Seed)
		assert.Equal(t, int64(7), *cfg.Seed)
		assert.Equal(t, config.Resolution{Width: 800, Height: 600}, cfg.Resolution)
	})

	t.Run("explicit false overrides a true config value", func(t *testing.T) {
		resetFlags(t, runCmd)
		t.Cleanup(func() { resetFlags(t, runCmd) })

		cfg := config.DefaultConfig()
		cfg.Sync = true
		setFlags(t, runCmd, "sync", "false", "history", "false")

		require.NoError(t, applyRunFlags(runCmd, &cfg))
		assert.False(t, cfg.Sync)
		assert.False(t, cfg.History)
	})

	t.Run("bad resolution", func(t *testing.T) {
		resetFlags(t, runCmd)
		t.Cleanup(func() { resetFlags(t, runCmd) })

		cfg := config.DefaultConfig()
		setFlags(t, runCmd, "res", "wide")
		assert.Error(t, applyRunFlags(runCmd, &cfg))
	})
}

func TestParseResolution(t *testing.T) {
	tests := []struct {
		in      string
		width   int
		height  int
		wantErr bool
	}{
		{in: "1280x720", width: 1280, height: 720},
		{in: "800X600", width: 800, height: 600},
		{in: "1280", wantErr: true},
		{in: "x720", wantErr: true},
		{in: "0x720", wantErr: true},
		{in: "1280x-1", wantErr: true},
		{in: "axb", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			w, h, err := parseResolution(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.width, w)
			assert.Equal(t, tt.height, h)
		})
	}
}

func TestReport(t *testing.T) {
	errDial := errors.New("dial tcp: connection refused")

	tests := []struct {
		name    string
		res     loop.Result
		wantOut string
		wantErr string
	}{
		{
			name:    "interrupted prints goodbye",
			res:     loop.Result{Reason: loop.ExitReasonInterrupted},
			wantOut: loop.MsgCancelled + "\n",
		},
		{
			name: "completed is silent",
			res:  loop.Result{Reason: loop.ExitReasonCompleted, Cycles: 10},
		},
		{
			name:    "connection fault gets a hint",
			res:     loop.Result{Reason: loop.ExitReasonFaulted, Error: errors.Join(loop.ErrConnection, errDial)},
			wantErr: "is the simulator running?",
		},
		{
			name:    "other faults pass through",
			res:     loop.Result{Reason: loop.ExitReasonFaulted, Error: errors.New("agent exploded")},
			wantErr: "agent exploded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			runCmd.SetOut(&out)
			t.Cleanup(func() { runCmd.SetOut(nil) })

			err := report(runCmd, tt.res)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantOut, out.String())
		})
	}
}

func TestReport_JSON(t *testing.T) {
	runJSON = true
	t.Cleanup(func() { runJSON = false })

	var out bytes.Buffer
	runCmd.SetOut(&out)
	t.Cleanup(func() { runCmd.SetOut(nil) })

	err := report(runCmd, loop.Result{
		Reason:       loop.ExitReasonFaulted,
		Cycles:       3,
		Destinations: 1,
		Frame:        42,
		Error:        errors.New("boom"),
	})
	require.Error(t, err)

	var got RunResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, RunResult{Reason: "faulted", Cycles: 3, Destinations: 1, Frame: 42, Error: "boom"}, got)
}

// runWithMock runs the run command in a fresh test directory against a
// mock simulator.
func runWithMock(t *testing.T, m *sim.MockClient, dialErr error, kv ...string) (*state.Store, string, error) {
	t.Helper()

	dir, store := testutil.SetupTestDir(t)
	chdir(t, dir)

	resetFlags(t, runCmd)
	t.Cleanup(func() { resetFlags(t, runCmd) })
	setFlags(t, runCmd, kv...)

	runStore = store
	runDial = func(ctx context.Context, cfg *config.Config) (sim.Client, error) {
		if dialErr != nil {
			return nil, dialErr
		}
		return m, nil
	}
	t.Cleanup(func() {
		runStore = nil
		runDial = nil
	})

	var out bytes.Buffer
	runCmd.SetOut(&out)
	runCmd.SetContext(context.Background())
	t.Cleanup(func() { runCmd.SetOut(nil) })

	err := runRun(runCmd, nil)
	return store, out.String(), err
}

func TestRunCommand_FrameLimit(t *testing.T) {
	m := sim.NewMockClient()
	store, out, err := runWithMock(t, m, nil, "loop", "true", "max-frames", "6", "json", "true")
	require.NoError(t, err)

	var got RunResult
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "frame_limit", got.Reason)
	assert.Positive(t, got.Cycles)
	assert.GreaterOrEqual(t, got.Destinations, 1)

	runs, err := store.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, state.StatusFrameLimit, runs[0].Status)
	assert.Equal(t, config.AgentBasic, runs[0].Agent, "agent comes from the config file")

	assert.Empty(t, m.LiveActors())
	assert.True(t, m.IsClosed())
	testutil.AssertNoManualGearShift(t, m.Controls())
}

func TestRunCommand_ConnectionFailure(t *testing.T) {
	_, _, err := runWithMock(t, nil, errors.New("connection refused"), "history", "false")
	require.Error(t, err)
	assert.ErrorIs(t, err, loop.ErrConnection)
	assert.Contains(t, err.Error(), "is the simulator running?")
}

func TestRunCommand_InvalidFlagValue(t *testing.T) {
	m := sim.NewMockClient()
	_, _, err := runWithMock(t, m, nil, "agent", "Racer")
	require.Error(t, err)
	assert.True(t, config.IsValidationError(err))
	assert.Empty(t, m.Calls(), "nothing is sent to the simulator")
}

func TestLoadRunConfig_FlagsFixInvalidFileValues(t *testing.T) {
	dir, _ := testutil.SetupTestDir(t)
	chdir(t, dir)
	require.NoError(t, os.WriteFile(config.DefaultPath, []byte("agent: Foo\nport: 0\n"), 0o644))

	resetFlags(t, runCmd)
	t.Cleanup(func() { resetFlags(t, runCmd) })

	_, err := loadRunConfig(runCmd)
	require.Error(t, err, "invalid file values are rejected without overrides")
	assert.True(t, config.IsValidationError(err))

	setFlags(t, runCmd, "agent", config.AgentBasic, "port", "2000")
	cfg, err := loadRunConfig(runCmd)
	require.NoError(t, err)
	assert.Equal(t, config.AgentBasic, cfg.Agent)
	assert.Equal(t, 2000, cfg.Port)
}
