//go:build integration

// run_test.go drives complete runs against the in-process websocket
// simulator and checks what the server is left with afterwards.
package integration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thruflo/autodrive/internal/config"
	"github.com/thruflo/autodrive/internal/loop"
	"github.com/thruflo/autodrive/internal/record"
	"github.com/thruflo/autodrive/internal/sim"
	"github.com/thruflo/autodrive/internal/simserver"
	"github.com/thruflo/autodrive/internal/state"
	"github.com/thruflo/autodrive/internal/testutil"
)

// dialURL returns a DialFunc connecting to a fixed websocket URL.
func dialURL(url string) loop.DialFunc {
	return func(ctx context.Context, cfg *config.Config) (sim.Client, error) {
		c, err := sim.DialURL(ctx, url, sim.WithTimeout(cfg.Timeout()))
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// pollInput runs fn on the nth poll and optionally asks to quit then.
type pollInput struct {
	n     int
	polls int
	quit  bool
	fn    func()
}

func (p *pollInput) Poll() bool {
	p.polls++
	if p.polls != p.n {
		return false
	}
	if p.fn != nil {
		p.fn()
	}
	return p.quit
}

func assertServerClean(t *testing.T, srv *simserver.Server) {
	t.Helper()
	w := srv.World()
	assert.Zero(t, w.ActorCount(), "every spawned actor is destroyed")
	assert.False(t, w.Settings().SynchronousMode, "asynchronous mode restored")
	assert.Nil(t, w.Settings().FixedDeltaSeconds, "variable time step restored")
	assert.False(t, w.TrafficManagerSync())
}

func TestRun_SynchronousFrameLimit(t *testing.T) {
	srv, url := testutil.StartSimServer(t, simserver.Config{})
	ctx, cancel := testutil.RunContext(t)
	defer cancel()

	cfg := testutil.SampleConfig()
	cfg.Agent = config.AgentBasic
	cfg.Loop = true
	cfg.MaxFrames = 40

	res := loop.Execute(ctx, &cfg, loop.Deps{Dial: dialURL(url), Logger: testutil.QuietLogger()})

	require.NoError(t, res.Error)
	assert.Equal(t, loop.ExitReasonFrameLimit, res.Reason)
	assert.Positive(t, res.Cycles)
	assertServerClean(t, srv)
}

func TestRun_AsynchronousFrameLimit(t *testing.T) {
	srv, url := testutil.StartSimServer(t, simserver.Config{TickInterval: 5 * time.Millisecond})
	testutil.StartSimClock(t, srv)
	ctx, cancel := testutil.RunContext(t)
	defer cancel()

	cfg := testutil.SampleConfig()
	cfg.Sync = false
	cfg.Loop = true
	cfg.MaxFrames = 30
	cfg.TickTimeoutSeconds = 2

	res := loop.Execute(ctx, &cfg, loop.Deps{Dial: dialURL(url), Logger: testutil.QuietLogger()})

	require.NoError(t, res.Error)
	assert.Equal(t, loop.ExitReasonFrameLimit, res.Reason)
	assertServerClean(t, srv)
}

func TestRun_CompletesAtDestination(t *testing.T) {
	srv, url := testutil.StartSimServer(t, simserver.Config{
		SpawnPoints: []sim.Transform{{Location: sim.Location{X: 10, Y: 10, Z: 0.5}}},
	})
	ctx, cancel := testutil.RunContext(t)
	defer cancel()

	cfg := testutil.SampleConfig()

	res := loop.Execute(ctx, &cfg, loop.Deps{Dial: dialURL(url), Logger: testutil.QuietLogger()})

	require.NoError(t, res.Error)
	assert.Equal(t, loop.ExitReasonCompleted, res.Reason)
	assert.Equal(t, 1, res.Destinations)
	assertServerClean(t, srv)
}

func TestRun_QuitFromInput(t *testing.T) {
	srv, url := testutil.StartSimServer(t, simserver.Config{})
	ctx, cancel := testutil.RunContext(t)
	defer cancel()

	cfg := testutil.SampleConfig()
	cfg.Loop = true

	input := &pollInput{n: 5, quit: true}
	res := loop.Execute(ctx, &cfg, loop.Deps{Dial: dialURL(url), Input: input, Logger: testutil.QuietLogger()})

	assert.Equal(t, loop.ExitReasonInterrupted, res.Reason)
	assert.Equal(t, 5, res.Cycles)
	assertServerClean(t, srv)
}

func TestRun_SignalMidRunRestoresServer(t *testing.T) {
	for _, sync := range []bool{true, false} {
		t.Run(fmt.Sprintf("sync=%t", sync), func(t *testing.T) {
			srv, url := testutil.StartSimServer(t, simserver.Config{TickInterval: 5 * time.Millisecond})
			if !sync {
				testutil.StartSimClock(t, srv)
			}
			ctx, cancel := testutil.RunContext(t)
			defer cancel()

			cfg := testutil.SampleConfig()
			cfg.Sync = sync
			cfg.Loop = true

			input := &pollInput{n: 4, fn: cancel}
			res := loop.Execute(ctx, &cfg, loop.Deps{Dial: dialURL(url), Input: input, Logger: testutil.QuietLogger()})

			assert.Equal(t, loop.ExitReasonInterrupted, res.Reason)
			assert.NoError(t, res.Error)
			assert.Equal(t, 4, res.Cycles)
			assertServerClean(t, srv)
		})
	}
}

func TestRun_ServerDropIsAFault(t *testing.T) {
	srv, url := testutil.StartSimServer(t, simserver.Config{})
	ctx, cancel := testutil.RunContext(t)
	defer cancel()

	cfg := testutil.SampleConfig()
	cfg.Loop = true

	log, logs := testutil.CaptureLogger()
	input := &pollInput{n: 3, fn: srv.CloseSessions}
	res := loop.Execute(ctx, &cfg, loop.Deps{Dial: dialURL(url), Input: input, Logger: log})

	assert.Equal(t, loop.ExitReasonFaulted, res.Reason)
	require.Error(t, res.Error)
	assert.Contains(t, logs.String(), "failed to restore world settings")
}

func TestRun_ConsecutiveRunsShareServer(t *testing.T) {
	srv, url := testutil.StartSimServer(t, simserver.Config{})
	ctx, cancel := testutil.RunContext(t)
	defer cancel()

	cfg := testutil.SampleConfig()
	cfg.Loop = true
	cfg.MaxFrames = 10

	for i := range 3 {
		res := loop.Execute(ctx, &cfg, loop.Deps{Dial: dialURL(url), Logger: testutil.QuietLogger()})
		require.NoError(t, res.Error, "run %d", i)
		assert.Equal(t, loop.ExitReasonFrameLimit, res.Reason, "run %d", i)
		assertServerClean(t, srv)
	}
}

func TestRun_RecordingAndHistory(t *testing.T) {
	dir, store := testutil.SetupTestDir(t)
	_, url := testutil.StartSimServer(t, simserver.Config{})
	ctx, cancel := testutil.RunContext(t)
	defer cancel()

	cfg := testutil.SampleConfig()
	cfg.Loop = true
	cfg.MaxFrames = 25
	cfg.History = true
	cfg.Record = dir + "/recordings/drive" + record.Extension

	res := loop.Execute(ctx, &cfg, loop.Deps{Dial: dialURL(url), Store: store, Logger: testutil.QuietLogger()})
	require.NoError(t, res.Error)

	records, err := record.ReadFile(cfg.Record)
	require.NoError(t, err)
	assert.Len(t, records, res.Cycles)
	assert.Equal(t, state.EventDestination, records[0].Event)
	for i, r := range records {
		assert.Equal(t, i+1, r.Cycle)
		assert.False(t, r.Control.ManualGearShift)
	}

	run, err := store.LatestRun()
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, state.StatusFrameLimit, run.Status)
	assert.Equal(t, "Town01", run.Map)
	assert.Equal(t, res.Cycles, run.Cycles)
	assert.Equal(t, cfg.Record, run.Recording)
	assert.NotNil(t, run.EndedAt)

	events, err := store.LoadEvents(run.ID)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, state.EventDestination, events[0].Kind)
}
