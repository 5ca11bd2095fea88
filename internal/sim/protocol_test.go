package sim_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thruflo/autodrive/internal/sim"
)

func compileSchema(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()
	s, err := jsonschema.Compile(filepath.Join("..", "..", "schemas", name))
	require.NoError(t, err, "compile %s", name)
	return s
}

// toDoc round-trips v through JSON so the validator sees what goes on the wire.
func toDoc(t *testing.T, v any) any {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	var doc any
	require.NoError(t, json.Unmarshal(b, &doc))
	return doc
}

func TestSchemas_ValidateMessages(t *testing.T) {
	delta := 0.05
	params, err := json.Marshal(sim.WorldSettings{SynchronousMode: true, FixedDeltaSeconds: &delta})
	require.NoError(t, err)
	result, err := json.Marshal(sim.SpawnResult{ID: 12})
	require.NoError(t, err)

	snapshot := sim.Snapshot{
		Frame:          42,
		ElapsedSeconds: 2.1,
		DeltaSeconds:   0.05,
		Actors: []sim.ActorState{
			{ID: 12, TypeID: "vehicle.tesla.model3", SpeedLimit: 30, Velocity: sim.Vector3D{X: 3}},
			{ID: 13, TypeID: "sensor.other.gnss", Parent: 12},
		},
		Events: []sim.SensorEvent{{Sensor: 13, Parent: 12, Kind: sim.EventGNSS, Lat: 49, Lon: 8}},
	}

	tests := []struct {
		schema string
		msg    any
	}{
		{"hello.schema.json", sim.HelloMsg{Type: sim.TypeHello, ProtocolVersion: sim.ProtocolVersion, ClientName: "autodrive"}},
		{"welcome.schema.json", sim.WelcomeMsg{Type: sim.TypeWelcome, ProtocolVersion: sim.ProtocolVersion, ServerVersion: "sim-stub/1", MapName: "Town01"}},
		{"request.schema.json", sim.RequestMsg{Type: sim.TypeRequest, ID: 1, Method: sim.MethodApplySettings, Params: params}},
		{"request.schema.json", sim.RequestMsg{Type: sim.TypeRequest, ID: 2, Method: sim.MethodTick}},
		{"response.schema.json", sim.ResponseMsg{Type: sim.TypeResponse, ID: 1, Result: result}},
		{"response.schema.json", sim.ResponseMsg{Type: sim.TypeResponse, ID: 2, Error: &sim.Error{Code: sim.ErrCodeNotFound, Message: "actor 9 not found"}}},
		{"snapshot.schema.json", snapshot},
		{"snapshot.schema.json", sim.Snapshot{Frame: 1}},
		{"tick.schema.json", sim.TickMsg{Type: sim.TypeTick, Snapshot: snapshot}},
	}

	for i, tt := range tests {
		t.Run(fmt.Sprintf("%d_%s", i, tt.schema), func(t *testing.T) {
			s := compileSchema(t, tt.schema)
			assert.NoError(t, s.Validate(toDoc(t, tt.msg)))
		})
	}
}

func TestSchemas_RejectInvalid(t *testing.T) {
	request := compileSchema(t, "request.schema.json")
	assert.Error(t, request.Validate(toDoc(t, sim.RequestMsg{Type: sim.TypeRequest, ID: 1, Method: "world.explode"})))

	response := compileSchema(t, "response.schema.json")
	both := map[string]any{
		"type":   sim.TypeResponse,
		"id":     3,
		"result": map[string]any{},
		"error":  map[string]any{"code": sim.ErrCodeInternal, "message": "x"},
	}
	assert.Error(t, response.Validate(toDoc(t, both)))

	hello := compileSchema(t, "hello.schema.json")
	assert.Error(t, hello.Validate(toDoc(t, sim.WelcomeMsg{Type: sim.TypeWelcome})))
}

func TestDecodeBase(t *testing.T) {
	base, err := sim.DecodeBase([]byte(`{"type":"TICK","snapshot":{}}`))
	require.NoError(t, err)
	assert.Equal(t, sim.TypeTick, base.Type)

	_, err = sim.DecodeBase([]byte(`not json`))
	assert.Error(t, err)
}

func TestHasCode(t *testing.T) {
	err := fmt.Errorf("spawn: %w", &sim.Error{Code: sim.ErrCodeSpawnCollision, Message: "occupied"})

	assert.True(t, sim.HasCode(err, sim.ErrCodeSpawnCollision))
	assert.False(t, sim.HasCode(err, sim.ErrCodeNotFound))
	assert.False(t, sim.HasCode(errors.New("plain"), sim.ErrCodeSpawnCollision))
	assert.Equal(t, "E_SPAWN_COLLISION: occupied", (&sim.Error{Code: sim.ErrCodeSpawnCollision, Message: "occupied"}).Error())
}

func TestWorldSettingsNullDelta(t *testing.T) {
	b, err := json.Marshal(sim.WorldSettings{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"synchronous_mode":false,"fixed_delta_seconds":null,"no_rendering_mode":false}`, string(b))
}

func TestSnapshotFind(t *testing.T) {
	snap := sim.Snapshot{Actors: []sim.ActorState{{ID: 1}, {ID: 2, TypeID: "vehicle.audi.tt"}}}

	a, ok := snap.Find(2)
	require.True(t, ok)
	assert.Equal(t, "vehicle.audi.tt", a.TypeID)

	_, ok = snap.Find(3)
	assert.False(t, ok)
}

func TestGeometry(t *testing.T) {
	a := sim.Location{X: 0, Y: 0, Z: 0}
	b := sim.Location{X: 3, Y: 4, Z: 12}

	assert.InDelta(t, 13.0, a.Distance(b), 1e-9)
	assert.InDelta(t, 5.0, a.Distance2D(b), 1e-9)
	assert.InDelta(t, 36.0, sim.ActorState{Velocity: sim.Vector3D{X: 6, Y: 8}}.SpeedKmh(), 1e-9)
}
