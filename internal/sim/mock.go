package sim

import (
	"context"
	"fmt"
	"path"
	"sync"
)

// MockMethodWaitForTick is the call name MockClient records for WaitForTick,
// which has no RPC method of its own.
const MockMethodWaitForTick = "world.wait_for_tick"

// MockCall records one Client method invocation.
type MockCall struct {
	Method string
	Args   any
}

// MockClient is an in-memory Client for tests. It keeps a minimal world
// (settings, actors, frame counter), records every call in order and lets
// tests inject per-method errors.
// This mock is exported for use by tests in other packages.
type MockClient struct {
	mu sync.Mutex

	mapName     string
	settings    WorldSettings
	spawnPoints []Transform
	blueprints  []string
	ground      *Location

	frame   uint64
	elapsed float64
	nextID  ActorID
	actors  map[ActorID]*ActorState
	order   []ActorID

	errs      map[string]error
	spawnErrs []error
	closed    bool

	calls    []MockCall
	controls []VehicleControl
}

// NewMockClient creates a MockClient with a three-point map and one vehicle blueprint.
func NewMockClient() *MockClient {
	return &MockClient{
		mapName: "Town01",
		spawnPoints: []Transform{
			{Location: Location{X: 0, Y: 0, Z: 0.5}},
			{Location: Location{X: 100, Y: 0, Z: 0.5}, Rotation: Rotation{Yaw: 90}},
			{Location: Location{X: 100, Y: 100, Z: 0.5}, Rotation: Rotation{Yaw: 180}},
		},
		blueprints: []string{"vehicle.tesla.model3"},
		nextID:     100,
		actors:     make(map[ActorID]*ActorState),
		errs:       make(map[string]error),
	}
}

// SetSpawnPoints replaces the map spawn points.
func (m *MockClient) SetSpawnPoints(points []Transform) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spawnPoints = points
}

// SetBlueprints replaces the blueprint library.
func (m *MockClient) SetBlueprints(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blueprints = ids
}

// SetGround makes GroundProjection report the given point.
func (m *MockClient) SetGround(loc Location) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ground = &loc
}

// SetSettings replaces the world settings without recording a call.
func (m *MockClient) SetSettings(s WorldSettings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = s
}

// SetError makes every call to method fail with err. A nil err clears it.
func (m *MockClient) SetError(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errs, method)
		return
	}
	m.errs[method] = err
}

// QueueSpawnErrors makes the next SpawnActor calls fail with errs in order.
func (m *MockClient) QueueSpawnErrors(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spawnErrs = append(m.spawnErrs, errs...)
}

// Calls returns a copy of the recorded calls.
func (m *MockClient) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallMethods returns the method names of the recorded calls in order.
func (m *MockClient) CallMethods() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	for i, c := range m.calls {
		out[i] = c.Method
	}
	return out
}

// CountCalls returns how many times method was called.
func (m *MockClient) CountCalls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Controls returns the controls applied so far.
func (m *MockClient) Controls() []VehicleControl {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]VehicleControl, len(m.controls))
	copy(out, m.controls)
	return out
}

// Settings returns the current world settings.
func (m *MockClient) Settings() WorldSettings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

// LiveActors returns the ids of actors not yet destroyed, in spawn order.
func (m *MockClient) LiveActors() []ActorID {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []ActorID
	for _, id := range m.order {
		if _, ok := m.actors[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// IsClosed reports whether Close was called.
func (m *MockClient) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// record appends a call and returns the injected error for method, if any.
// Callers must hold m.mu.
// record notes a call and returns the error it should fail with: ErrClosed
// after Close, ctx.Err() once ctx is done, else any error set for method.
func (m *MockClient) record(ctx context.Context, method string, args any) error {
	m.calls = append(m.calls, MockCall{Method: method, Args: args})
	if m.closed {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.errs[method]
}

// MapName returns the mock map name.
func (m *MockClient) MapName() string {
	return m.mapName
}

// GetSettings returns the current settings.
func (m *MockClient) GetSettings(ctx context.Context) (WorldSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(ctx, MethodGetSettings, nil); err != nil {
		return WorldSettings{}, err
	}
	return m.settings, nil
}

// ApplySettings stores the settings.
func (m *MockClient) ApplySettings(ctx context.Context, settings WorldSettings) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(ctx, MethodApplySettings, settings); err != nil {
		return 0, err
	}
	m.settings = settings
	return m.frame, nil
}

// SetTrafficManagerSync records the call.
func (m *MockClient) SetTrafficManagerSync(ctx context.Context, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record(ctx, MethodTrafficManager, enabled)
}

// Tick advances the frame counter.
func (m *MockClient) Tick(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(ctx, MethodTick, nil); err != nil {
		return Snapshot{}, err
	}
	if !m.settings.SynchronousMode {
		return Snapshot{}, &Error{Code: ErrCodeNotSynchronous, Message: "world is not in synchronous mode"}
	}
	return m.stepLocked(), nil
}

// WaitForTick advances the frame counter as if the server ticked on its own.
func (m *MockClient) WaitForTick(ctx context.Context) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(ctx, MockMethodWaitForTick, nil); err != nil {
		return Snapshot{}, err
	}
	return m.stepLocked(), nil
}

func (m *MockClient) stepLocked() Snapshot {
	dt := 0.05
	if m.settings.FixedDeltaSeconds != nil {
		dt = *m.settings.FixedDeltaSeconds
	}
	m.frame++
	m.elapsed += dt

	snap := Snapshot{Frame: m.frame, ElapsedSeconds: m.elapsed, DeltaSeconds: dt}
	for _, id := range m.order {
		if a, ok := m.actors[id]; ok {
			snap.Actors = append(snap.Actors, *a)
		}
	}
	return snap
}

// SpawnPoints returns the configured spawn points.
func (m *MockClient) SpawnPoints(ctx context.Context) ([]Transform, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(ctx, MethodSpawnPoints, nil); err != nil {
		return nil, err
	}
	out := make([]Transform, len(m.spawnPoints))
	copy(out, m.spawnPoints)
	return out, nil
}

// Blueprints returns the configured blueprints matching filter.
func (m *MockClient) Blueprints(ctx context.Context, filter string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(ctx, MethodBlueprints, filter); err != nil {
		return nil, err
	}
	var out []string
	for _, id := range m.blueprints {
		if ok, _ := path.Match(filter, id); ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// GroundProjection returns the configured ground point, if any.
func (m *MockClient) GroundProjection(ctx context.Context, loc Location, searchDistance float64) (Location, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(ctx, MethodGroundProjection, loc); err != nil {
		return Location{}, false, err
	}
	if m.ground == nil {
		return Location{}, false, nil
	}
	return *m.ground, true, nil
}

// SpawnActor adds an actor, failing with queued spawn errors first.
func (m *MockClient) SpawnActor(ctx context.Context, params SpawnParams) (ActorID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(ctx, MethodSpawnActor, params); err != nil {
		return 0, err
	}
	if len(m.spawnErrs) > 0 {
		err := m.spawnErrs[0]
		m.spawnErrs = m.spawnErrs[1:]
		if err != nil {
			return 0, err
		}
	}
	if params.AttachTo != 0 {
		if _, ok := m.actors[params.AttachTo]; !ok {
			return 0, &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("parent actor %d not found", params.AttachTo)}
		}
	}
	m.nextID++
	id := m.nextID
	m.actors[id] = &ActorState{
		ID:         id,
		TypeID:     params.Blueprint,
		Parent:     params.AttachTo,
		Transform:  params.Transform,
		SpeedLimit: 30,
	}
	m.order = append(m.order, id)
	return id, nil
}

// DestroyActor removes an actor.
func (m *MockClient) DestroyActor(ctx context.Context, id ActorID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(ctx, MethodDestroyActor, id); err != nil {
		return err
	}
	if _, ok := m.actors[id]; !ok {
		return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("actor %d not found", id)}
	}
	delete(m.actors, id)
	return nil
}

// SetLocation moves an actor.
func (m *MockClient) SetLocation(ctx context.Context, id ActorID, loc Location) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(ctx, MethodSetLocation, loc); err != nil {
		return err
	}
	a, ok := m.actors[id]
	if !ok {
		return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("actor %d not found", id)}
	}
	a.Transform.Location = loc
	return nil
}

// ApplyControl records the control.
func (m *MockClient) ApplyControl(ctx context.Context, id ActorID, control VehicleControl) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.record(ctx, MethodApplyControl, control); err != nil {
		return err
	}
	if _, ok := m.actors[id]; !ok {
		return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("actor %d not found", id)}
	}
	m.controls = append(m.controls, control)
	return nil
}

// Close marks the client closed.
func (m *MockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
