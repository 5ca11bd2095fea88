package agent

import (
	"math"

	"github.com/thruflo/autodrive/internal/sim"
)

// PIDGains are the coefficients of one PID controller.
type PIDGains struct {
	Kp, Ki, Kd float64
}

// Controller gains and output limits.
var (
	DefaultLongitudinal = PIDGains{Kp: 1.0, Ki: 0.05, Kd: 0}
	DefaultLateral      = PIDGains{Kp: 1.95, Ki: 0.05, Kd: 0.2}
)

const (
	defaultMaxThrottle = 0.75
	defaultMaxBrake    = 0.3
	defaultMaxSteer    = 0.8
	maxSteerChange     = 0.1
	defaultDelta       = 0.05
	errorWindow        = 10
)

// pid is a discrete PID controller over a sliding error window.
type pid struct {
	gains  PIDGains
	errors []float64
}

func newPID(g PIDGains) *pid {
	return &pid{gains: g}
}

// step returns the controller output for the current error, clipped to [-1, 1].
func (p *pid) step(err, dt float64) float64 {
	if dt <= 0 {
		dt = defaultDelta
	}
	p.errors = append(p.errors, err)
	if len(p.errors) > errorWindow {
		p.errors = p.errors[len(p.errors)-errorWindow:]
	}

	var de, ie float64
	if n := len(p.errors); n >= 2 {
		de = (p.errors[n-1] - p.errors[n-2]) / dt
		for _, e := range p.errors {
			ie += e
		}
		ie *= dt
	}
	return clamp(p.gains.Kp*err+p.gains.Kd*de+p.gains.Ki*ie, -1, 1)
}

func (p *pid) reset() {
	p.errors = p.errors[:0]
}

// controller turns a target speed and a target location into a vehicle
// control, combining a longitudinal and a lateral PID.
type controller struct {
	long, lat   *pid
	maxThrottle float64
	maxBrake    float64
	maxSteer    float64
	lastSteer   float64
}

func newController(long, lat PIDGains, maxThrottle float64) *controller {
	return &controller{
		long:        newPID(long),
		lat:         newPID(lat),
		maxThrottle: maxThrottle,
		maxBrake:    defaultMaxBrake,
		maxSteer:    defaultMaxSteer,
	}
}

// step computes the control for one cycle. targetSpeed is in km/h.
func (c *controller) step(state sim.ActorState, target sim.Location, targetSpeed, dt float64) sim.VehicleControl {
	// Speed error is normalised so that the gains work on km/h.
	accel := c.long.step((targetSpeed-state.SpeedKmh())/10, dt)
	steer := c.lat.step(headingError(state.Transform, target)/math.Pi, dt)

	var control sim.VehicleControl
	if accel >= 0 {
		control.Throttle = math.Min(accel, c.maxThrottle)
	} else {
		control.Brake = math.Min(-accel, c.maxBrake)
	}

	steer = clamp(steer, c.lastSteer-maxSteerChange, c.lastSteer+maxSteerChange)
	steer = clamp(steer, -c.maxSteer, c.maxSteer)
	c.lastSteer = steer
	control.Steer = steer
	return control
}

// emergencyStop returns a full stop, keeping the wheels where they are.
func (c *controller) emergencyStop() sim.VehicleControl {
	return sim.VehicleControl{Brake: c.maxBrake, Steer: c.lastSteer}
}

func (c *controller) reset() {
	c.long.reset()
	c.lat.reset()
	c.lastSteer = 0
}

// headingError returns the signed angle in radians between the vehicle's
// forward direction and the direction to target. Positive means target is
// towards increasing yaw.
func headingError(from sim.Transform, target sim.Location) float64 {
	dx := target.X - from.Location.X
	dy := target.Y - from.Location.Y
	if dx == 0 && dy == 0 {
		return 0
	}
	want := math.Atan2(dy, dx)
	have := from.Rotation.Yaw * math.Pi / 180
	return normalizeRadians(want - have)
}

func normalizeRadians(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
