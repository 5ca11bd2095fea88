package sim

import "math"

// ActorID identifies an actor inside the simulated world.
type ActorID int64

// Location is a point in world coordinates, in meters.
type Location struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Distance returns the euclidean distance between two locations.
func (l Location) Distance(o Location) float64 {
	dx, dy, dz := l.X-o.X, l.Y-o.Y, l.Z-o.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Distance2D returns the distance on the ground plane, ignoring height.
func (l Location) Distance2D(o Location) float64 {
	return math.Hypot(l.X-o.X, l.Y-o.Y)
}

// Rotation is an orientation in degrees.
type Rotation struct {
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
	Roll  float64 `json:"roll"`
}

// Transform places an actor in the world.
type Transform struct {
	Location Location `json:"location"`
	Rotation Rotation `json:"rotation"`
}

// Vector3D is a velocity or acceleration in m/s or m/s².
type Vector3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Length returns the magnitude of the vector.
func (v Vector3D) Length() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// WorldSettings are the server-side timing settings.
// A nil FixedDeltaSeconds means variable time-step.
type WorldSettings struct {
	SynchronousMode   bool     `json:"synchronous_mode"`
	FixedDeltaSeconds *float64 `json:"fixed_delta_seconds"`
	NoRenderingMode   bool     `json:"no_rendering_mode"`
}

// VehicleControl is the per-cycle command applied to a vehicle.
type VehicleControl struct {
	Throttle        float64 `json:"throttle"`
	Steer           float64 `json:"steer"`
	Brake           float64 `json:"brake"`
	HandBrake       bool    `json:"hand_brake"`
	Reverse         bool    `json:"reverse"`
	ManualGearShift bool    `json:"manual_gear_shift"`
	Gear            int     `json:"gear"`
}

// ActorState is the state of one actor at a given frame.
type ActorState struct {
	ID         ActorID   `json:"id"`
	TypeID     string    `json:"type_id"`
	Parent     ActorID   `json:"parent,omitempty"`
	Transform  Transform `json:"transform"`
	Velocity   Vector3D  `json:"velocity"`
	SpeedLimit float64   `json:"speed_limit,omitempty"` // km/h, vehicles only
}

// SpeedKmh returns the actor speed in km/h.
func (a ActorState) SpeedKmh() float64 {
	return 3.6 * a.Velocity.Length()
}

// Sensor event kinds.
const (
	EventCollision    = "collision"
	EventLaneInvasion = "lane_invasion"
	EventGNSS         = "gnss"
)

// SensorEvent is a measurement produced by a sensor during a frame.
type SensorEvent struct {
	Sensor    ActorID `json:"sensor"`
	Parent    ActorID `json:"parent"`
	Kind      string  `json:"kind"`
	Other     string  `json:"other,omitempty"`     // collision: other actor type
	Intensity float64 `json:"intensity,omitempty"` // collision: impulse magnitude
	Lat       float64 `json:"lat,omitempty"`
	Lon       float64 `json:"lon,omitempty"`
}

// Snapshot is the world state after one step of simulated time.
type Snapshot struct {
	Frame          uint64        `json:"frame"`
	ElapsedSeconds float64       `json:"elapsed_seconds"`
	DeltaSeconds   float64       `json:"delta_seconds"`
	Actors         []ActorState  `json:"actors"`
	Events         []SensorEvent `json:"events,omitempty"`
}

// Find returns the state of the given actor in the snapshot.
func (s Snapshot) Find(id ActorID) (ActorState, bool) {
	for _, a := range s.Actors {
		if a.ID == id {
			return a, true
		}
	}
	return ActorState{}, false
}
