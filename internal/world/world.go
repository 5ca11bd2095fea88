// Package world is the adapter between the control loop and the simulation
// connection. A World owns the player vehicle and its sensors, applies and
// restores the server timing settings and advances simulated time.
package world

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/thruflo/autodrive/internal/logging"
	"github.com/thruflo/autodrive/internal/sim"
)

// Sensor blueprints attached to the player.
const (
	CollisionSensor    = "sensor.other.collision"
	LaneInvasionSensor = "sensor.other.lane_invasion"
	GNSSSensor         = "sensor.other.gnss"
)

// DefaultRoleName tags the player vehicle.
const DefaultRoleName = "hero"

// groundSearchDistance bounds the downward search in SnapToGround, in meters.
const groundSearchDistance = 5.0

// nearbyRadius is the range within which other vehicles count as nearby.
const nearbyRadius = 200.0

var (
	// ErrTickTimeout is returned by Advance when an asynchronous tick does
	// not arrive within Options.TickTimeout.
	ErrTickTimeout = errors.New("timed out waiting for simulation tick")

	// ErrNoSpawnPoint is returned when every spawn point is occupied.
	ErrNoSpawnPoint = errors.New("no free spawn point")

	// ErrNoPlayer is returned by operations that need a spawned player.
	ErrNoPlayer = errors.New("player not spawned")
)

// Options configure a World.
type Options struct {
	Synchronous       bool
	FixedDeltaSeconds float64
	TickTimeout       time.Duration // zero waits for asynchronous ticks indefinitely
	VehicleFilter     string
	RoleName          string
	Logger            *logging.Logger
}

// World wraps a simulation connection for one run.
type World struct {
	client sim.Client
	opts   Options
	log    *logging.Logger

	spawnPoints []sim.Transform

	player  sim.ActorID
	sensors []sim.ActorID

	snapshot      sim.Snapshot
	state         sim.ActorState
	collisions    int
	laneInvasions int
	lastCollision float64
	gnss          *sim.SensorEvent

	timingApplied bool
	restored      bool
	destroyed     bool
}

// New creates a World over client and reads the map's spawn points, which
// stay fixed for the lifetime of the run.
func New(ctx context.Context, client sim.Client, opts Options) (*World, error) {
	if opts.VehicleFilter == "" {
		opts.VehicleFilter = "vehicle.*"
	}
	if opts.RoleName == "" {
		opts.RoleName = DefaultRoleName
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}

	points, err := client.SpawnPoints(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read spawn points: %w", err)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("map %s has no spawn points", client.MapName())
	}

	return &World{
		client:        client,
		opts:          opts,
		log:           opts.Logger.With("map", client.MapName()),
		spawnPoints:   points,
		lastCollision: math.Inf(-1),
	}, nil
}

// MapName returns the name of the loaded map.
func (w *World) MapName() string {
	return w.client.MapName()
}

// SpawnPoints returns a copy of the map's spawn points.
func (w *World) SpawnPoints() []sim.Transform {
	out := make([]sim.Transform, len(w.spawnPoints))
	copy(out, w.spawnPoints)
	return out
}

// Synchronous reports whether the world is driven by explicit ticks.
func (w *World) Synchronous() bool {
	return w.opts.Synchronous
}

// ConfigureTiming applies the synchronous mode and fixed delta from Options
// and makes the traffic manager follow the same mode.
func (w *World) ConfigureTiming(ctx context.Context) error {
	settings, err := w.client.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("failed to read world settings: %w", err)
	}

	settings.SynchronousMode = w.opts.Synchronous
	settings.FixedDeltaSeconds = nil
	if w.opts.Synchronous {
		delta := w.opts.FixedDeltaSeconds
		settings.FixedDeltaSeconds = &delta
	}

	w.timingApplied = true
	if _, err := w.client.ApplySettings(ctx, settings); err != nil {
		return fmt.Errorf("failed to apply world settings: %w", err)
	}
	if err := w.client.SetTrafficManagerSync(ctx, w.opts.Synchronous); err != nil {
		return fmt.Errorf("failed to set traffic manager mode: %w", err)
	}

	w.log.Debug("timing configured", "sync", w.opts.Synchronous, "fixed_delta", w.opts.FixedDeltaSeconds)
	return nil
}

// RestoreTiming resets the server to asynchronous mode with a variable time
// step and disables traffic manager synchronous mode. It does nothing if
// ConfigureTiming never got as far as applying settings, and only the first
// call has an effect. It ignores cancellation of ctx so that it still runs
// after an interrupt.
func (w *World) RestoreTiming(ctx context.Context) error {
	if w.restored || !w.timingApplied {
		return nil
	}
	w.restored = true
	ctx = context.WithoutCancel(ctx)

	var errs []error
	settings, err := w.client.GetSettings(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("failed to read world settings: %w", err))
	}
	settings.SynchronousMode = false
	settings.FixedDeltaSeconds = nil
	if _, err := w.client.ApplySettings(ctx, settings); err != nil {
		errs = append(errs, fmt.Errorf("failed to restore world settings: %w", err))
	}
	if err := w.client.SetTrafficManagerSync(ctx, false); err != nil {
		errs = append(errs, fmt.Errorf("failed to restore traffic manager mode: %w", err))
	}
	return errors.Join(errs...)
}

// Advance moves simulated time forward by one tick. In synchronous mode it
// requests the step and waits for the server to finish it; cancelling ctx
// does not cut a step short. In asynchronous mode it waits for the next
// server tick, bounded by ctx and Options.TickTimeout.
func (w *World) Advance(ctx context.Context) (sim.Snapshot, error) {
	var (
		snap sim.Snapshot
		err  error
	)
	if w.opts.Synchronous {
		snap, err = w.client.Tick(context.WithoutCancel(ctx))
	} else {
		snap, err = w.waitForTick(ctx)
	}
	if err != nil {
		return sim.Snapshot{}, err
	}
	w.observe(snap)
	return snap, nil
}

func (w *World) waitForTick(ctx context.Context) (sim.Snapshot, error) {
	if w.opts.TickTimeout <= 0 {
		return w.client.WaitForTick(ctx)
	}

	tctx, cancel := context.WithTimeout(ctx, w.opts.TickTimeout)
	defer cancel()
	snap, err := w.client.WaitForTick(tctx)
	if err != nil && ctx.Err() == nil && errors.Is(tctx.Err(), context.DeadlineExceeded) {
		return sim.Snapshot{}, fmt.Errorf("%w after %s", ErrTickTimeout, w.opts.TickTimeout)
	}
	return snap, err
}

// observe updates the player view from a new snapshot.
func (w *World) observe(snap sim.Snapshot) {
	w.snapshot = snap
	if w.player == 0 {
		return
	}
	if st, ok := snap.Find(w.player); ok {
		w.state = st
	}
	for i := range snap.Events {
		ev := snap.Events[i]
		if ev.Parent != w.player {
			continue
		}
		switch ev.Kind {
		case sim.EventCollision:
			w.collisions++
			w.lastCollision = snap.ElapsedSeconds
			w.log.Info("collision", "other", ev.Other, "intensity", ev.Intensity, "frame", snap.Frame)
		case sim.EventLaneInvasion:
			w.laneInvasions++
		case sim.EventGNSS:
			w.gnss = &ev
		}
	}
}

// SpawnPlayer spawns a random vehicle matching Options.VehicleFilter at a
// random spawn point, trying the remaining points in random order while the
// chosen one is occupied. The collision, lane invasion and GNSS sensors are
// attached to it.
func (w *World) SpawnPlayer(ctx context.Context, rng *rand.Rand) error {
	blueprints, err := w.client.Blueprints(ctx, w.opts.VehicleFilter)
	if err != nil {
		return fmt.Errorf("failed to list blueprints: %w", err)
	}
	if len(blueprints) == 0 {
		return fmt.Errorf("no blueprint matches %q", w.opts.VehicleFilter)
	}
	blueprint := blueprints[rng.IntN(len(blueprints))]

	var id sim.ActorID
	var at sim.Transform
	for _, i := range rng.Perm(len(w.spawnPoints)) {
		at = w.spawnPoints[i]
		id, err = w.client.SpawnActor(ctx, sim.SpawnParams{
			Blueprint: blueprint,
			Transform: at,
			RoleName:  w.opts.RoleName,
		})
		if err == nil {
			break
		}
		if !sim.HasCode(err, sim.ErrCodeSpawnCollision) {
			return fmt.Errorf("failed to spawn %s: %w", blueprint, err)
		}
		w.log.Debug("spawn point occupied", "x", at.Location.X, "y", at.Location.Y)
	}
	if id == 0 {
		return fmt.Errorf("failed to spawn %s: %w", blueprint, ErrNoSpawnPoint)
	}

	w.player = id
	w.state = sim.ActorState{ID: id, TypeID: blueprint, Transform: at}
	w.log.Info("player spawned", "id", int64(id), "blueprint", blueprint)

	for _, sensor := range []string{CollisionSensor, LaneInvasionSensor, GNSSSensor} {
		sid, err := w.client.SpawnActor(ctx, sim.SpawnParams{Blueprint: sensor, AttachTo: id})
		if err != nil {
			return fmt.Errorf("failed to attach %s: %w", sensor, err)
		}
		w.sensors = append(w.sensors, sid)
	}
	return nil
}

// SnapToGround moves the player onto the ground below it, 1 cm above the
// surface. It does nothing when the server finds no ground.
func (w *World) SnapToGround(ctx context.Context) error {
	if w.player == 0 {
		return ErrNoPlayer
	}
	ground, found, err := w.client.GroundProjection(ctx, w.state.Transform.Location, groundSearchDistance)
	if err != nil {
		return fmt.Errorf("failed to project player to ground: %w", err)
	}
	if !found {
		return nil
	}
	ground.Z += 0.01
	if err := w.client.SetLocation(ctx, w.player, ground); err != nil {
		return fmt.Errorf("failed to move player: %w", err)
	}
	w.state.Transform.Location = ground
	return nil
}

// ApplyControl sends a control command to the player.
func (w *World) ApplyControl(ctx context.Context, control sim.VehicleControl) error {
	if w.player == 0 {
		return ErrNoPlayer
	}
	if err := w.client.ApplyControl(ctx, w.player, control); err != nil {
		return fmt.Errorf("failed to apply control: %w", err)
	}
	return nil
}

// DestroyActors destroys the sensors and then the player. Only the first
// call has an effect. It ignores cancellation of ctx so that it still runs
// after an interrupt.
func (w *World) DestroyActors(ctx context.Context) error {
	if w.destroyed {
		return nil
	}
	w.destroyed = true
	ctx = context.WithoutCancel(ctx)

	var errs []error
	for i := len(w.sensors) - 1; i >= 0; i-- {
		if err := w.client.DestroyActor(ctx, w.sensors[i]); err != nil {
			errs = append(errs, fmt.Errorf("failed to destroy sensor %d: %w", w.sensors[i], err))
		}
	}
	if w.player != 0 {
		if err := w.client.DestroyActor(ctx, w.player); err != nil {
			errs = append(errs, fmt.Errorf("failed to destroy player %d: %w", w.player, err))
		}
	}
	w.sensors = nil
	w.player = 0
	return errors.Join(errs...)
}

// Player returns the player actor id, or 0 before SpawnPlayer.
func (w *World) Player() sim.ActorID {
	return w.player
}

// Snapshot returns the last observed snapshot.
func (w *World) Snapshot() sim.Snapshot {
	return w.snapshot
}

// State returns the player's latest state.
func (w *World) State() sim.ActorState {
	return w.state
}

// ElapsedSeconds returns the simulated time of the last observed tick.
func (w *World) ElapsedSeconds() float64 {
	return w.snapshot.ElapsedSeconds
}

// CollisionCount returns the number of collisions the player has had.
func (w *World) CollisionCount() int {
	return w.collisions
}

// LastCollision returns the simulated time of the most recent collision, or
// -Inf if there was none.
func (w *World) LastCollision() float64 {
	return w.lastCollision
}

// LaneInvasions returns the number of lane invasions reported for the player.
func (w *World) LaneInvasions() int {
	return w.laneInvasions
}

// GNSS returns the last GNSS fix of the player, if any.
func (w *World) GNSS() (lat, lon float64, ok bool) {
	if w.gnss == nil {
		return 0, 0, false
	}
	return w.gnss.Lat, w.gnss.Lon, true
}

// Neighbors returns the other vehicles within 200 m of the player.
func (w *World) Neighbors() []sim.ActorState {
	var out []sim.ActorState
	here := w.state.Transform.Location
	for _, a := range w.snapshot.Actors {
		if a.ID == w.player || a.Parent != 0 || !isVehicle(a.TypeID) {
			continue
		}
		if a.Transform.Location.Distance(here) <= nearbyRadius {
			out = append(out, a)
		}
	}
	return out
}

func isVehicle(typeID string) bool {
	return strings.HasPrefix(typeID, "vehicle.")
}
