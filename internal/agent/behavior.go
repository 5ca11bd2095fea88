package agent

import (
	"fmt"
	"math"
	"strings"

	"github.com/thruflo/autodrive/internal/logging"
	"github.com/thruflo/autodrive/internal/sim"
)

// Profile tunes the Behavior agent.
type Profile struct {
	Name             string
	MaxSpeed         float64 // km/h
	SpeedLimitMargin float64 // km/h kept below the speed limit
	SpeedDecrease    float64 // km/h below a close leader's speed
	SafetyTime       float64 // s, time to collision that triggers slowing down
	MinProximity     float64 // m, range for detecting vehicles ahead
	BrakingDistance  float64 // m, gap that triggers an emergency stop
}

// Behavior profiles.
var (
	Cautious   = Profile{Name: "cautious", MaxSpeed: 40, SpeedLimitMargin: 6, SpeedDecrease: 12, SafetyTime: 3, MinProximity: 12, BrakingDistance: 6}
	Normal     = Profile{Name: "normal", MaxSpeed: 50, SpeedLimitMargin: 3, SpeedDecrease: 10, SafetyTime: 3, MinProximity: 10, BrakingDistance: 5}
	Aggressive = Profile{Name: "aggressive", MaxSpeed: 70, SpeedLimitMargin: 1, SpeedDecrease: 8, SafetyTime: 3, MinProximity: 8, BrakingDistance: 4}
)

// Profiles lists the behavior profiles.
var Profiles = []Profile{Cautious, Normal, Aggressive}

// ProfileByName returns the named profile. An empty name selects Normal.
func ProfileByName(name string) (Profile, error) {
	name = normalizeProfile(name)
	if name == "" {
		return Normal, nil
	}
	names := make([]string, 0, len(Profiles))
	for _, p := range Profiles {
		if p.Name == name {
			return p, nil
		}
		names = append(names, p.Name)
	}
	return Profile{}, fmt.Errorf("unknown behavior %q (want one of %s)", name, strings.Join(names, ", "))
}

const (
	minSpeed = 5.0 // km/h
	// vehicleLength approximates the bumper-to-bumper offset between two
	// vehicle centers.
	vehicleLength = 4.0
)

// behaviorAgent adapts its speed to the speed limit and to the vehicle in
// front of it according to a Profile.
type behaviorAgent struct {
	navigator
	ctl     *controller
	profile Profile
}

func newBehaviorAgent(vehicle Vehicle, p Profile, opts Options, log *logging.Logger) *behaviorAgent {
	return &behaviorAgent{
		navigator: navigator{vehicle: vehicle, reachRadius: opts.ReachRadius, log: log.With("behavior", p.Name)},
		ctl:       newController(DefaultLongitudinal, DefaultLateral, defaultMaxThrottle),
		profile:   p,
	}
}

// Profile returns the agent's behavior profile.
func (a *behaviorAgent) Profile() Profile {
	return a.profile
}

// RunStep computes the control for the current cycle.
func (a *behaviorAgent) RunStep() (sim.VehicleControl, error) {
	st, err := a.state()
	if err != nil {
		return sim.VehicleControl{}, err
	}
	dt := a.delta()

	if a.Done() {
		return a.ctl.emergencyStop(), nil
	}

	cruise := a.cruiseSpeed(st.SpeedLimit)
	speed := cruise

	detect := math.Max(a.profile.MinProximity, st.SpeedLimit/2)
	if other, d, ok := vehicleAhead(st, a.vehicle.Neighbors(), detect); ok {
		gap := d - vehicleLength
		if gap < a.profile.BrakingDistance {
			a.log.Debug("vehicle too close, stopping", "other", int64(other.ID), "gap", gap)
			return a.ctl.emergencyStop(), nil
		}
		speed = a.followSpeed(st.SpeedKmh(), other.SpeedKmh(), gap, cruise)
	}

	dest := *a.destination
	speed = approachSpeed(speed, st.Transform.Location.Distance2D(dest), slowdownDistance)
	return checked(a.ctl.step(st, dest, speed, dt))
}

// cruiseSpeed is the free-road target: the profile's maximum, kept a margin
// below the speed limit when one is posted.
func (a *behaviorAgent) cruiseSpeed(limit float64) float64 {
	if limit <= 0 {
		return a.profile.MaxSpeed
	}
	return math.Max(minSpeed, math.Min(a.profile.MaxSpeed, limit-a.profile.SpeedLimitMargin))
}

// followSpeed adapts the target speed to a leader gap meters ahead, based on
// the time to collision.
func (a *behaviorAgent) followSpeed(ego, leader, gap, cruise float64) float64 {
	dv := math.Max(1, (ego-leader)/3.6)
	ttc := gap / dv

	switch {
	case ttc < a.profile.SafetyTime:
		return math.Min(math.Max(0, leader-a.profile.SpeedDecrease), cruise)
	case ttc < 2*a.profile.SafetyTime:
		return math.Min(math.Max(minSpeed, leader), cruise)
	default:
		return cruise
	}
}
