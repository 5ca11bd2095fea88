// Package agent provides the driving policies that steer the player vehicle
// toward a destination. Every policy satisfies Agent; Basic and Constant
// additionally follow posted speed limits.
package agent

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/thruflo/autodrive/internal/logging"
	"github.com/thruflo/autodrive/internal/sim"
)

// Agent computes one control command per cycle toward its destination.
type Agent interface {
	// SetDestination replaces the current target and clears Done.
	SetDestination(loc sim.Location)
	// RunStep computes the control for the current cycle.
	RunStep() (sim.VehicleControl, error)
	// Done reports whether the current destination has been reached. It
	// stays true until SetDestination is called again.
	Done() bool
}

// SpeedLimitFollower is implemented by agents that can cap their target
// speed at the road's speed limit.
type SpeedLimitFollower interface {
	FollowSpeedLimits(enabled bool)
}

// Vehicle is the agent's read-only view of the controlled vehicle.
type Vehicle interface {
	State() sim.ActorState
	ElapsedSeconds() float64
	LastCollision() float64
	Neighbors() []sim.ActorState
}

// Variant selects a driving policy.
type Variant string

// Driving policies.
const (
	Basic    Variant = "Basic"
	Constant Variant = "Constant"
	Behavior Variant = "Behavior"
)

// Variants lists every driving policy.
var Variants = []Variant{Basic, Constant, Behavior}

// ParseVariant returns the variant named s.
func ParseVariant(s string) (Variant, error) {
	for _, v := range Variants {
		if string(v) == s {
			return v, nil
		}
	}
	return "", fmt.Errorf("unknown agent %q", s)
}

// FollowsSpeedLimits reports whether agents of this variant are told to
// follow speed limits at construction. Behavior manages speed itself.
func (v Variant) FollowsSpeedLimits() bool {
	return v == Basic || v == Constant
}

var (
	// ErrNoVehicle is returned by RunStep when the vehicle has no state yet.
	ErrNoVehicle = errors.New("vehicle state unavailable")

	// ErrInvalidControl is returned when a computed control is not finite.
	ErrInvalidControl = errors.New("computed control is not finite")
)

// Defaults for Options.
const (
	DefaultTargetSpeed = 30.0 // km/h
	DefaultReachRadius = 3.0  // m
)

// Options configure an agent.
type Options struct {
	TargetSpeed float64 // km/h, Basic and Constant
	Behavior    string  // profile name, Behavior only
	// RestartSeconds is how long a Constant agent stays stopped after a
	// collision. Zero means forever.
	RestartSeconds float64
	ReachRadius    float64
	Logger         *logging.Logger
}

// New builds the agent for variant v driving vehicle. Variants that follow
// speed limits are switched on here.
func New(v Variant, vehicle Vehicle, opts Options) (Agent, error) {
	if vehicle == nil {
		return nil, errors.New("vehicle is required")
	}
	if opts.TargetSpeed <= 0 {
		opts.TargetSpeed = DefaultTargetSpeed
	}
	if opts.ReachRadius <= 0 {
		opts.ReachRadius = DefaultReachRadius
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	log := opts.Logger.With("agent", string(v))

	var a Agent
	switch v {
	case Basic:
		a = newBasicAgent(vehicle, opts, log)
	case Constant:
		a = newConstantAgent(vehicle, opts, log)
	case Behavior:
		p, err := ProfileByName(opts.Behavior)
		if err != nil {
			return nil, err
		}
		a = newBehaviorAgent(vehicle, p, opts, log)
	default:
		return nil, fmt.Errorf("unknown agent %q", v)
	}

	if v.FollowsSpeedLimits() {
		f, ok := a.(SpeedLimitFollower)
		if !ok {
			return nil, fmt.Errorf("agent %q cannot follow speed limits", v)
		}
		f.FollowSpeedLimits(true)
	}
	return a, nil
}

// navigator holds the destination state shared by every policy.
type navigator struct {
	vehicle     Vehicle
	destination *sim.Location
	done        bool
	reachRadius float64
	lastElapsed float64
	log         *logging.Logger
}

// SetDestination records loc as the new target.
func (n *navigator) SetDestination(loc sim.Location) {
	n.destination = &loc
	n.done = false
	n.log.Debug("destination set", "x", loc.X, "y", loc.Y)
}

// Done latches once the vehicle is within the reach radius of the
// destination. An agent without a destination is done.
func (n *navigator) Done() bool {
	if n.done || n.destination == nil {
		return true
	}
	here := n.vehicle.State().Transform.Location
	if here.Distance2D(*n.destination) <= n.reachRadius {
		n.done = true
	}
	return n.done
}

// delta returns the simulated time since the previous call.
func (n *navigator) delta() float64 {
	now := n.vehicle.ElapsedSeconds()
	dt := now - n.lastElapsed
	n.lastElapsed = now
	if dt <= 0 || dt > 1 {
		return defaultDelta
	}
	return dt
}

// state returns the vehicle state, failing before the vehicle is spawned.
func (n *navigator) state() (sim.ActorState, error) {
	st := n.vehicle.State()
	if st.ID == 0 {
		return sim.ActorState{}, ErrNoVehicle
	}
	return st, nil
}

// approachSpeed scales speed down linearly inside slowdown meters of the
// destination so the vehicle does not overshoot it.
func approachSpeed(speed, distance, slowdown float64) float64 {
	const floor = 8.0
	if distance >= slowdown {
		return speed
	}
	return math.Max(math.Min(speed, floor), speed*distance/slowdown)
}

// vehicleAhead returns the closest neighbor within maxDistance in a 30
// degree cone in front of st.
func vehicleAhead(st sim.ActorState, neighbors []sim.ActorState, maxDistance float64) (sim.ActorState, float64, bool) {
	var (
		best  sim.ActorState
		bestD = math.Inf(1)
	)
	for _, other := range neighbors {
		d := other.Transform.Location.Distance2D(st.Transform.Location)
		if d > maxDistance || d >= bestD {
			continue
		}
		if math.Abs(headingError(st.Transform, other.Transform.Location)) > math.Pi/6 {
			continue
		}
		best, bestD = other, d
	}
	return best, bestD, !math.IsInf(bestD, 1)
}

func finite(c sim.VehicleControl) bool {
	for _, v := range []float64{c.Throttle, c.Steer, c.Brake} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// checked returns c, or ErrInvalidControl if c has non-finite fields.
func checked(c sim.VehicleControl) (sim.VehicleControl, error) {
	if !finite(c) {
		return sim.VehicleControl{}, fmt.Errorf("%w: %+v", ErrInvalidControl, c)
	}
	return c, nil
}

// normalizeProfile lowercases and trims a profile name.
func normalizeProfile(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
