package agent

import (
	"github.com/thruflo/autodrive/internal/logging"
	"github.com/thruflo/autodrive/internal/sim"
)

const (
	// baseVehicleThreshold is the hazard range at standstill, in meters. It
	// grows by one meter per m/s of speed.
	baseVehicleThreshold = 5.0
	slowdownDistance     = 20.0
)

// basicAgent drives toward its destination at a fixed target speed and
// stops for vehicles in its path.
type basicAgent struct {
	navigator
	ctl          *controller
	targetSpeed  float64
	followLimits bool
}

func newBasicAgent(vehicle Vehicle, opts Options, log *logging.Logger) *basicAgent {
	return &basicAgent{
		navigator:   navigator{vehicle: vehicle, reachRadius: opts.ReachRadius, log: log},
		ctl:         newController(DefaultLongitudinal, DefaultLateral, defaultMaxThrottle),
		targetSpeed: opts.TargetSpeed,
	}
}

// FollowSpeedLimits makes the agent drive at the road speed limit instead
// of its target speed.
func (a *basicAgent) FollowSpeedLimits(enabled bool) {
	a.followLimits = enabled
}

// RunStep computes the control for the current cycle.
func (a *basicAgent) RunStep() (sim.VehicleControl, error) {
	st, err := a.state()
	if err != nil {
		return sim.VehicleControl{}, err
	}
	dt := a.delta()

	if a.Done() {
		return a.ctl.emergencyStop(), nil
	}

	threshold := baseVehicleThreshold + st.SpeedKmh()/3.6
	if other, d, ok := vehicleAhead(st, a.vehicle.Neighbors(), threshold); ok {
		a.log.Debug("vehicle ahead, stopping", "other", int64(other.ID), "distance", d)
		return a.ctl.emergencyStop(), nil
	}

	speed := a.targetSpeed
	if a.followLimits && st.SpeedLimit > 0 {
		speed = st.SpeedLimit
	}
	dest := *a.destination
	speed = approachSpeed(speed, st.Transform.Location.Distance2D(dest), slowdownDistance)
	return checked(a.ctl.step(st, dest, speed, dt))
}
