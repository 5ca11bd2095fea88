package sim

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ProtocolVersion is the wire protocol spoken by client and server.
const ProtocolVersion = "1.0"

// Message types.
const (
	TypeHello    = "HELLO"
	TypeWelcome  = "WELCOME"
	TypeRequest  = "REQUEST"
	TypeResponse = "RESPONSE"
	TypeTick     = "TICK"
)

// RPC methods.
const (
	MethodGetSettings      = "world.get_settings"
	MethodApplySettings    = "world.apply_settings"
	MethodTick             = "world.tick"
	MethodSpawnPoints      = "world.spawn_points"
	MethodBlueprints       = "world.blueprints"
	MethodGroundProjection = "world.ground_projection"
	MethodSpawnActor       = "actor.spawn"
	MethodDestroyActor     = "actor.destroy"
	MethodSetLocation      = "actor.set_location"
	MethodApplyControl     = "vehicle.apply_control"
	MethodTrafficManager   = "traffic_manager.set_synchronous_mode"
)

// Error codes returned by the server.
const (
	ErrCodeBadRequest     = "E_BAD_REQUEST"
	ErrCodeUnknownMethod  = "E_UNKNOWN_METHOD"
	ErrCodeNotFound       = "E_NOT_FOUND"
	ErrCodeSpawnCollision = "E_SPAWN_COLLISION"
	ErrCodeNotSynchronous = "E_NOT_SYNCHRONOUS"
	ErrCodeInternal       = "E_INTERNAL"
)

// ErrClosed is returned when the connection is closed or lost.
var ErrClosed = errors.New("simulation connection closed")

// Error is an error reported by the simulation server.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// HasCode reports whether err is a server error with the given code.
func HasCode(err error, code string) bool {
	var se *Error
	return errors.As(err, &se) && se.Code == code
}

// BaseMessage lets both ends route JSON frames by type.
type BaseMessage struct {
	Type string `json:"type"`
}

// DecodeBase extracts the message type from a raw frame.
func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// HelloMsg opens a session.
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name"`
}

// WelcomeMsg acknowledges a HELLO.
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ServerVersion   string `json:"server_version"`
	MapName         string `json:"map_name"`
}

// RequestMsg is a client call.
type RequestMsg struct {
	Type   string          `json:"type"`
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ResponseMsg answers a RequestMsg with the same ID.
type ResponseMsg struct {
	Type   string          `json:"type"`
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// TickMsg is broadcast after every world step.
type TickMsg struct {
	Type     string   `json:"type"`
	Snapshot Snapshot `json:"snapshot"`
}

// SpawnParams are the params of actor.spawn.
type SpawnParams struct {
	Blueprint string    `json:"blueprint"`
	Transform Transform `json:"transform"`
	AttachTo  ActorID   `json:"attach_to,omitempty"`
	RoleName  string    `json:"role_name,omitempty"`
}

// SpawnResult is the result of actor.spawn.
type SpawnResult struct {
	ID ActorID `json:"id"`
}

// ActorParams address a single actor.
type ActorParams struct {
	ID ActorID `json:"id"`
}

// SetLocationParams are the params of actor.set_location.
type SetLocationParams struct {
	ID       ActorID  `json:"id"`
	Location Location `json:"location"`
}

// ApplyControlParams are the params of vehicle.apply_control.
type ApplyControlParams struct {
	ID      ActorID        `json:"id"`
	Control VehicleControl `json:"control"`
}

// BlueprintsParams filter the blueprint library with a wildcard pattern.
type BlueprintsParams struct {
	Filter string `json:"filter"`
}

// GroundProjectionParams are the params of world.ground_projection.
type GroundProjectionParams struct {
	Location       Location `json:"location"`
	SearchDistance float64  `json:"search_distance"`
}

// GroundProjectionResult reports the ground point below a location, if any.
type GroundProjectionResult struct {
	Found    bool     `json:"found"`
	Location Location `json:"location"`
}

// TrafficManagerParams are the params of traffic_manager.set_synchronous_mode.
type TrafficManagerParams struct {
	Enabled bool `json:"enabled"`
}

// ApplySettingsResult reports the frame at which settings took effect.
type ApplySettingsResult struct {
	Frame uint64 `json:"frame"`
}
