package simserver

import (
	"fmt"
	"math"
	"path"
	"strings"
	"sync"

	"github.com/thruflo/autodrive/internal/sim"
)

// Vehicle model constants.
const (
	wheelBase     = 2.8  // m
	maxSteerAngle = 35.0 // degrees at steer=1
	maxAccel      = 4.0  // m/s² at throttle=1
	maxDecel      = 8.0  // m/s² at brake=1
	dragCoeff     = 0.05 // 1/s
	vehicleRadius = 2.0  // m, used for spawn and collision checks
	gnssRefLat    = 49.0
	gnssRefLon    = 8.0
)

type actor struct {
	state   sim.ActorState
	speed   float64 // m/s along heading, vehicles only
	control sim.VehicleControl
	touched map[sim.ActorID]bool
}

func (a *actor) isVehicle() bool {
	return strings.HasPrefix(a.state.TypeID, "vehicle.")
}

func (a *actor) isSensor() bool {
	return strings.HasPrefix(a.state.TypeID, "sensor.")
}

// World is the simulated state: settings, actors and the frame clock.
// All methods are safe for concurrent use.
type World struct {
	mu sync.Mutex

	settings    sim.WorldSettings
	tmSync      bool
	spawnPoints []sim.Transform
	blueprints  []string
	speedLimit  float64

	frame   uint64
	elapsed float64
	nextID  sim.ActorID
	actors  map[sim.ActorID]*actor
	order   []sim.ActorID
}

// NewWorld creates a world with the given map data.
func NewWorld(spawnPoints []sim.Transform, blueprints []string, speedLimit float64) *World {
	return &World{
		spawnPoints: spawnPoints,
		blueprints:  blueprints,
		speedLimit:  speedLimit,
		nextID:      1,
		actors:      make(map[sim.ActorID]*actor),
	}
}

// Settings returns the current world settings.
func (w *World) Settings() sim.WorldSettings {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.settings
}

// ApplySettings replaces the world settings.
func (w *World) ApplySettings(s sim.WorldSettings) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.settings = s
	return w.frame
}

// Synchronous reports whether the world only advances on explicit ticks.
func (w *World) Synchronous() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.settings.SynchronousMode
}

// SetTrafficManagerSync records the traffic manager mode.
func (w *World) SetTrafficManagerSync(enabled bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tmSync = enabled
}

// TrafficManagerSync reports the traffic manager mode.
func (w *World) TrafficManagerSync() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.tmSync
}

// SpawnPoints returns the map spawn points.
func (w *World) SpawnPoints() []sim.Transform {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]sim.Transform, len(w.spawnPoints))
	copy(out, w.spawnPoints)
	return out
}

// Blueprints returns the blueprint ids matching filter.
func (w *World) Blueprints(filter string) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []string
	for _, id := range w.blueprints {
		if ok, _ := path.Match(filter, id); ok {
			out = append(out, id)
		}
	}
	return out
}

// ActorCount returns the number of live actors.
func (w *World) ActorCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.actors)
}

// GroundProjection projects loc onto the flat ground plane at z=0.
func (w *World) GroundProjection(loc sim.Location, searchDistance float64) (sim.Location, bool) {
	if loc.Z < 0 || loc.Z-searchDistance > 0 {
		return sim.Location{}, false
	}
	return sim.Location{X: loc.X, Y: loc.Y, Z: 0}, true
}

// Spawn adds an actor. Vehicles fail on spawn collision; sensors must attach
// to a live parent.
func (w *World) Spawn(p sim.SpawnParams) (sim.ActorID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	a := &actor{state: sim.ActorState{TypeID: p.Blueprint, Transform: p.Transform, Parent: p.AttachTo}}
	switch {
	case a.isVehicle():
		for _, other := range w.actors {
			if other.isVehicle() && other.state.Transform.Location.Distance2D(p.Transform.Location) < 2*vehicleRadius {
				return 0, &sim.Error{Code: sim.ErrCodeSpawnCollision, Message: fmt.Sprintf("spawn point occupied by actor %d", other.state.ID)}
			}
		}
		a.state.SpeedLimit = w.speedLimit
		a.touched = make(map[sim.ActorID]bool)
	case a.isSensor():
		parent, ok := w.actors[p.AttachTo]
		if !ok {
			return 0, &sim.Error{Code: sim.ErrCodeNotFound, Message: fmt.Sprintf("parent actor %d not found", p.AttachTo)}
		}
		a.state.Transform = parent.state.Transform
	default:
		return 0, &sim.Error{Code: sim.ErrCodeBadRequest, Message: fmt.Sprintf("unknown blueprint %q", p.Blueprint)}
	}

	id := w.nextID
	w.nextID++
	a.state.ID = id
	w.actors[id] = a
	w.order = append(w.order, id)
	return id, nil
}

// Destroy removes an actor.
func (w *World) Destroy(id sim.ActorID) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.actors[id]; !ok {
		return &sim.Error{Code: sim.ErrCodeNotFound, Message: fmt.Sprintf("actor %d not found", id)}
	}
	delete(w.actors, id)
	for i, oid := range w.order {
		if oid == id {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
	return nil
}

// SetLocation teleports an actor.
func (w *World) SetLocation(id sim.ActorID, loc sim.Location) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	a, ok := w.actors[id]
	if !ok {
		return &sim.Error{Code: sim.ErrCodeNotFound, Message: fmt.Sprintf("actor %d not found", id)}
	}
	a.state.Transform.Location = loc
	return nil
}

// ApplyControl stores the control used on the next step.
func (w *World) ApplyControl(id sim.ActorID, c sim.VehicleControl) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	a, ok := w.actors[id]
	if !ok || !a.isVehicle() {
		return &sim.Error{Code: sim.ErrCodeNotFound, Message: fmt.Sprintf("vehicle %d not found", id)}
	}
	a.control = c
	return nil
}

// Step advances the world by dt seconds and returns the new snapshot.
func (w *World) Step(dt float64) sim.Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.frame++
	w.elapsed += dt

	for _, id := range w.order {
		a := w.actors[id]
		if a.isVehicle() {
			integrate(a, dt)
		}
	}

	var events []sim.SensorEvent
	for _, id := range w.order {
		a := w.actors[id]
		if !a.isSensor() {
			continue
		}
		parent, ok := w.actors[a.state.Parent]
		if !ok {
			continue
		}
		a.state.Transform = parent.state.Transform
		switch a.state.TypeID {
		case "sensor.other.collision":
			events = append(events, w.collisionsLocked(a, parent)...)
		case "sensor.other.gnss":
			loc := parent.state.Transform.Location
			events = append(events, sim.SensorEvent{
				Sensor: id,
				Parent: parent.state.ID,
				Kind:   sim.EventGNSS,
				Lat:    gnssRefLat + loc.Y/111320.0,
				Lon:    gnssRefLon + loc.X/(111320.0*math.Cos(gnssRefLat*math.Pi/180)),
			})
		}
	}

	snap := sim.Snapshot{
		Frame:          w.frame,
		ElapsedSeconds: w.elapsed,
		DeltaSeconds:   dt,
		Events:         events,
	}
	for _, id := range w.order {
		snap.Actors = append(snap.Actors, w.actors[id].state)
	}
	return snap
}

// collisionsLocked reports new contacts between parent and other vehicles.
func (w *World) collisionsLocked(sensor, parent *actor) []sim.SensorEvent {
	var events []sim.SensorEvent
	for _, id := range w.order {
		other := w.actors[id]
		if other == parent || !other.isVehicle() {
			continue
		}
		near := other.state.Transform.Location.Distance2D(parent.state.Transform.Location) < vehicleRadius
		if near && !parent.touched[id] {
			events = append(events, sim.SensorEvent{
				Sensor:    sensor.state.ID,
				Parent:    parent.state.ID,
				Kind:      sim.EventCollision,
				Other:     other.state.TypeID,
				Intensity: math.Abs(parent.speed-other.speed) * 1500,
			})
		}
		parent.touched[id] = near
	}
	return events
}

// integrate advances a vehicle with a kinematic bicycle model.
func integrate(a *actor, dt float64) {
	c := a.control
	accel := c.Throttle*maxAccel - c.Brake*maxDecel - dragCoeff*a.speed
	if c.HandBrake {
		accel -= maxDecel
	}
	if c.Reverse {
		accel = -accel
	}
	a.speed += accel * dt
	if !c.Reverse && a.speed < 0 {
		a.speed = 0
	}

	yaw := a.state.Transform.Rotation.Yaw * math.Pi / 180
	delta := clamp(c.Steer, -1, 1) * maxSteerAngle * math.Pi / 180
	yaw += a.speed / wheelBase * math.Tan(delta) * dt

	loc := &a.state.Transform.Location
	loc.X += a.speed * math.Cos(yaw) * dt
	loc.Y += a.speed * math.Sin(yaw) * dt

	a.state.Transform.Rotation.Yaw = normalizeDegrees(yaw * 180 / math.Pi)
	a.state.Velocity = sim.Vector3D{X: a.speed * math.Cos(yaw), Y: a.speed * math.Sin(yaw)}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func normalizeDegrees(d float64) float64 {
	d = math.Mod(d+180, 360)
	if d < 0 {
		d += 360
	}
	return d - 180
}
