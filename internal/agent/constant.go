package agent

import (
	"math"

	"github.com/thruflo/autodrive/internal/logging"
	"github.com/thruflo/autodrive/internal/sim"
)

// constantGains make the longitudinal controller reach and hold the target
// speed quickly.
var constantGains = PIDGains{Kp: 3.0, Ki: 0, Kd: 0}

// constantAgent holds a constant speed toward its destination. After a
// collision it stops for RestartSeconds, or for good when that is zero.
type constantAgent struct {
	navigator
	ctl          *controller
	targetSpeed  float64
	followLimits bool
	restart      float64

	handled float64 // time of the last collision already acted on
	stopped bool
}

func newConstantAgent(vehicle Vehicle, opts Options, log *logging.Logger) *constantAgent {
	restart := opts.RestartSeconds
	if restart <= 0 {
		restart = math.Inf(1)
	}
	return &constantAgent{
		navigator:   navigator{vehicle: vehicle, reachRadius: opts.ReachRadius, log: log},
		ctl:         newController(constantGains, DefaultLateral, 1.0),
		targetSpeed: opts.TargetSpeed,
		restart:     restart,
		handled:     math.Inf(-1),
	}
}

// FollowSpeedLimits makes the agent hold the road speed limit instead of
// its target speed.
func (a *constantAgent) FollowSpeedLimits(enabled bool) {
	a.followLimits = enabled
}

// RunStep computes the control for the current cycle.
func (a *constantAgent) RunStep() (sim.VehicleControl, error) {
	st, err := a.state()
	if err != nil {
		return sim.VehicleControl{}, err
	}
	dt := a.delta()

	if last := a.vehicle.LastCollision(); last > a.handled {
		a.handled = last
		a.stopped = true
		a.log.Info("collision detected, stopping", "restart_seconds", a.restart)
	}
	if a.stopped {
		if a.vehicle.ElapsedSeconds()-a.handled < a.restart {
			return a.ctl.emergencyStop(), nil
		}
		a.stopped = false
		a.ctl.reset()
	}

	if a.Done() {
		return a.ctl.emergencyStop(), nil
	}

	threshold := baseVehicleThreshold + st.SpeedKmh()/3.6
	if _, _, ok := vehicleAhead(st, a.vehicle.Neighbors(), threshold); ok {
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
