package loop

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/thruflo/autodrive/internal/agent"
	"github.com/thruflo/autodrive/internal/config"
	"github.com/thruflo/autodrive/internal/logging"
	"github.com/thruflo/autodrive/internal/record"
	"github.com/thruflo/autodrive/internal/sim"
	"github.com/thruflo/autodrive/internal/state"
	"github.com/thruflo/autodrive/internal/tui"
	"github.com/thruflo/autodrive/internal/world"
)

// Error classes of a faulted run. A classified error matches both its class
// and its cause with errors.Is.
var (
	// ErrConnection means the simulator could not be reached or refused the
	// session setup.
	ErrConnection = errors.New("simulator connection failed")

	// ErrSpawn means the player vehicle or its agent could not be built.
	ErrSpawn = errors.New("player setup failed")

	// ErrAgentComputation means the agent failed to compute a control.
	ErrAgentComputation = errors.New("agent computation failed")
)

// defaultStuckCycles is the stuck warning threshold used by Execute.
const defaultStuckCycles = 200

// maxRunIDAttempts bounds the suffixes tried when a run id is taken.
const maxRunIDAttempts = 10

// DialFunc opens the simulation connection for cfg.
type DialFunc func(ctx context.Context, cfg *config.Config) (sim.Client, error)

// Dial connects to the simulator at cfg's host and port over a websocket.
func Dial(ctx context.Context, cfg *config.Config) (sim.Client, error) {
	c, err := sim.Dial(ctx, cfg.Host, cfg.Port, sim.WithTimeout(cfg.Timeout()))
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Deps are the collaborators of Execute. Zero values select the production
// websocket dialer, no input, no display and no history.
type Deps struct {
	Dial    DialFunc
	Input   Input
	Display Display
	Store   *state.Store
	Out     io.Writer
	Logger  *logging.Logger
	Now     func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Dial == nil {
		d.Dial = Dial
	}
	if d.Input == nil {
		d.Input = tui.NopInput{}
	}
	if d.Display == nil {
		d.Display = tui.NopHUD{}
	}
	if d.Out == nil {
		d.Out = io.Discard
	}
	if d.Logger == nil {
		d.Logger = logging.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// Execute performs one complete run described by cfg.
//
// Once the world handle exists, teardown runs on every exit path: timing
// is restored, then actors are destroyed. The display is closed last in
// all cases. A connection failure returns before any world handle exists
// and skips the world teardown.
func Execute(ctx context.Context, cfg *config.Config, deps Deps) (res Result) {
	deps = deps.withDefaults()
	log := deps.Logger

	defer func() {
		if err := deps.Display.Close(); err != nil {
			log.Warn("failed to release display", "error", err)
		}
	}()

	// fail classifies an initialization failure. Cancellation during setup
	// is an interrupt, not a fault.
	fail := func(class error, err error) Result {
		if ctx.Err() != nil {
			return Result{Reason: ExitReasonInterrupted}
		}
		if class != nil {
			err = fmt.Errorf("%w: %w", class, err)
		}
		return Result{Reason: ExitReasonFaulted, Error: err}
	}

	log.Info("listening to server " + cfg.Address())

	client, err := deps.Dial(ctx, cfg)
	if err != nil {
		return fail(ErrConnection, err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Debug("failed to close connection", "error", err)
		}
	}()

	w, err := world.New(ctx, client, world.Options{
		Synchronous:       cfg.Sync,
		FixedDeltaSeconds: cfg.FixedDeltaSeconds,
		TickTimeout:       cfg.TickTimeout(),
		VehicleFilter:     cfg.VehicleFilter,
		Logger:            log,
	})
	if err != nil {
		return fail(ErrConnection, err)
	}

	h := startHistory(deps, cfg, w.MapName())
	defer func() { h.finish(res) }()

	defer teardown(ctx, w, log)

	if err := w.ConfigureTiming(ctx); err != nil {
		return fail(ErrConnection, err)
	}

	rng := NewRand(cfg.Seed)
	if err := w.SpawnPlayer(ctx, rng); err != nil {
		return fail(ErrSpawn, err)
	}

	variant, err := agent.ParseVariant(cfg.Agent)
	if err != nil {
		return fail(ErrSpawn, err)
	}
	if variant == agent.Constant {
		if err := w.SnapToGround(ctx); err != nil {
			return fail(ErrSpawn, err)
		}
	}
	ag, err := agent.New(variant, w, agent.Options{
		TargetSpeed: cfg.TargetSpeed,
		Behavior:    cfg.Behavior,
		Logger:      log,
	})
	if err != nil {
		return fail(ErrSpawn, err)
	}

	var recorder Recorder
	if cfg.Record != "" {
		rw, err := record.Create(cfg.Record)
		if err != nil {
			return fail(nil, err)
		}
		defer func() {
			if err := rw.Close(); err != nil {
				log.Warn("failed to close recording", "path", cfg.Record, "error", err)
				return
			}
			log.Info("recording saved", "path", cfg.Record, "records", rw.Count())
		}()
		recorder = rw
	}

	l := NewLoopWithOptions(LoopOptions{
		World:          w,
		Agent:          ag,
		Input:          deps.Input,
		Display:        deps.Display,
		Rand:           rng,
		AgentName:      cfg.Agent,
		Loop:           cfg.Loop,
		MaxFrames:      cfg.MaxFrames,
		StuckThreshold: defaultStuckCycles,
		Recorder:       recorder,
		Store:          h.store,
		RunID:          h.id,
		Out:            deps.Out,
		Logger:         log,
		Now:            deps.Now,
	})
	if _, err := l.NextDestination(); err != nil {
		return fail(ErrSpawn, err)
	}

	res = l.Run(ctx)
	log.Info("run finished", "reason", res.Reason.String(), "cycles", res.Cycles, "destinations", res.Destinations)
	return res
}

// teardown restores the world settings and then releases the actors.
// Failures are logged and never returned.
func teardown(ctx context.Context, w *world.World, log *logging.Logger) {
	if err := w.RestoreTiming(ctx); err != nil {
		log.Warn("failed to restore world settings", "error", err)
	}
	if err := w.DestroyActors(ctx); err != nil {
		log.Warn("failed to destroy actors", "error", err)
	}
	log.Debug("teardown complete")
}

// history records the run in the local store when enabled.
type history struct {
	store *state.Store
	id    string
	now   func() time.Time
	log   *logging.Logger
}

func startHistory(deps Deps, cfg *config.Config, mapName string) *history {
	h := &history{now: deps.Now, log: deps.Logger}
	if deps.Store == nil || !cfg.History {
		return h
	}

	started := deps.Now()
	run := &state.Run{
		ID:          state.NewRunID(started),
		Map:         mapName,
		Agent:       cfg.Agent,
		Seed:        cfg.Seed,
		Synchronous: cfg.Sync,
		Loop:        cfg.Loop,
		StartedAt:   started,
		Status:      state.StatusRunning,
		Recording:   cfg.Record,
	}
	if cfg.Agent == config.AgentBehavior {
		run.Behavior = cfg.Behavior
	}
	base := run.ID
	for n := 2; ; n++ {
		err := deps.Store.CreateRun(run)
		if err == nil {
			break
		}
		if !errors.Is(err, state.ErrRunExists) || n > maxRunIDAttempts {
			h.log.Warn("failed to record run", "error", err)
			return h
		}
		run.ID = fmt.Sprintf("%s-%d", base, n)
	}
	h.store = deps.Store
	h.id = run.ID
	return h
}

func (h *history) finish(res Result) {
	if h.store == nil {
		return
	}
	ended := h.now()
	err := h.store.UpdateRun(h.id, func(r *state.Run) {
		r.EndedAt = &ended
		r.Status = res.Reason.String()
		r.Cycles = res.Cycles
		r.Destinations = res.Destinations
		if res.Error != nil {
			r.Error = res.Error.Error()
		}
	})
	if err != nil {
		h.log.Warn("failed to update run", "id", h.id, "error", err)
	}
}
