package loop

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/thruflo/autodrive/internal/agent"
	"github.com/thruflo/autodrive/internal/logging"
	"github.com/thruflo/autodrive/internal/record"
	"github.com/thruflo/autodrive/internal/sim"
	"github.com/thruflo/autodrive/internal/state"
	"github.com/thruflo/autodrive/internal/tui"
	"github.com/thruflo/autodrive/internal/world"
)

// ExitReason indicates why the loop exited.
type ExitReason int

const (
	ExitReasonUnknown     ExitReason = iota
	ExitReasonCompleted              // destination reached and looping disabled
	ExitReasonInterrupted            // exit key or process interrupt
	ExitReasonFaulted                // connection, spawn or agent failure
	ExitReasonFrameLimit             // MaxFrames cycles ran
)

// String returns the run status recorded for the reason.
func (r ExitReason) String() string {
	switch r {
	case ExitReasonCompleted:
		return state.StatusCompleted
	case ExitReasonInterrupted:
		return state.StatusInterrupted
	case ExitReasonFaulted:
		return state.StatusFaulted
	case ExitReasonFrameLimit:
		return state.StatusFrameLimit
	default:
		return "unknown"
	}
}

// Success reports whether the run ended deliberately.
func (r ExitReason) Success() bool {
	return r == ExitReasonCompleted || r == ExitReasonFrameLimit
}

// Result contains the outcome of a run.
type Result struct {
	Reason       ExitReason
	Cycles       int
	Destinations int    // including the first one
	Frame        uint64 // last observed frame
	Error        error
}

// Messages printed to the user.
const (
	MsgSearching = "The target has been reached, searching for another target"
	MsgStopping  = "The target has been reached, stopping the simulation"
	MsgCancelled = "Cancelled by user. Bye!"
)

const (
	noticeTargetReached = "Target reached"
	noticeStuck         = "Vehicle stuck"
	noticeDuration      = 4 * time.Second
)

// World is the part of the world adapter the loop drives each cycle.
type World interface {
	MapName() string
	SpawnPoints() []sim.Transform
	Advance(ctx context.Context) (sim.Snapshot, error)
	ApplyControl(ctx context.Context, control sim.VehicleControl) error
	State() sim.ActorState
	CollisionCount() int
	LaneInvasions() int
	GNSS() (lat, lon float64, ok bool)
	Neighbors() []sim.ActorState
}

var _ World = (*world.World)(nil)

// Input is polled once per cycle. A true result asks the loop to exit.
type Input interface {
	Poll() bool
}

// Display shows the state of each cycle. Update and Notify must not block.
type Display interface {
	Update(t tui.Telemetry)
	Notify(text string, d time.Duration)
	Close() error
}

// Recorder receives one record per applied control.
type Recorder interface {
	Write(r record.Record) error
}

// Loop runs the Running state of a simulation run.
type Loop struct {
	world   World
	agent   agent.Agent
	input   Input
	display Display
	rng     *rand.Rand
	opts    LoopOptions
	log     *logging.Logger

	cycle        int
	frame        uint64
	destinations int
	destination  *sim.Location
	lastControl  sim.VehicleControl
	collisions   int

	// progress toward the current destination, one distance per cycle
	distances     []float64
	stuckReported bool

	pendingEvent   string
	recordDisabled bool
}

// LoopOptions holds the dependencies of a Loop. Only World and Agent are
// required.
type LoopOptions struct {
	World   World
	Agent   agent.Agent
	Input   Input
	Display Display
	// Rand draws destinations. It defaults to an unseeded source.
	Rand *rand.Rand

	AgentName string
	// Loop picks a new destination whenever the current one is reached
	// instead of completing the run.
	Loop bool
	// MaxFrames ends the run after that many cycles. Zero means no limit.
	MaxFrames int
	// StuckThreshold is the number of cycles without progress toward the
	// destination after which a warning is shown. Zero disables it.
	StuckThreshold int

	Recorder Recorder
	Store    *state.Store
	RunID    string
	Out      io.Writer
	Logger   *logging.Logger
	Now      func() time.Time
}

// NewLoopWithOptions creates a Loop from opts.
func NewLoopWithOptions(opts LoopOptions) *Loop {
	if opts.Input == nil {
		opts.Input = tui.NopInput{}
	}
	if opts.Display == nil {
		opts.Display = tui.NopHUD{}
	}
	if opts.Rand == nil {
		opts.Rand = NewRand(nil)
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Loop{
		world:   opts.World,
		agent:   opts.Agent,
		input:   opts.Input,
		display: opts.Display,
		rng:     opts.Rand,
		opts:    opts,
		log:     opts.Logger,
	}
}

// NewRand returns the source used to draw destinations. A nil seed yields
// a different sequence on every call.
func NewRand(seed *int64) *rand.Rand {
	if seed == nil {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	s := uint64(*seed)
	return rand.New(rand.NewPCG(s, s))
}

// NextDestination draws a destination uniformly from the spawn points and
// hands it to the agent.
func (l *Loop) NextDestination() (sim.Location, error) {
	points := l.world.SpawnPoints()
	if len(points) == 0 {
		return sim.Location{}, errors.New("no spawn points to pick a destination from")
	}
	loc := points[l.rng.IntN(len(points))].Location
	l.agent.SetDestination(loc)

	l.destination = &loc
	l.destinations++
	l.distances = l.distances[:0]
	l.stuckReported = false
	l.pendingEvent = state.EventDestination
	l.log.Info("destination set", "x", loc.X, "y", loc.Y, "count", l.destinations)
	l.appendEvent(state.EventDestination, "", loc)
	return loc, nil
}

// Destination returns the current destination, if one was set.
func (l *Loop) Destination() (sim.Location, bool) {
	if l.destination == nil {
		return sim.Location{}, false
	}
	return *l.destination, true
}

// Run executes cycles until the run completes, is interrupted, faults or
// reaches MaxFrames. A destination is drawn first if none was set.
//
// Each cycle advances simulated time, polls the input, updates the display,
// handles a reached destination and finally applies the agent's control.
// An exit decided during a cycle happens before its control is applied.
// Cancelling ctx is treated like the exit key.
func (l *Loop) Run(ctx context.Context) Result {
	if l.destination == nil {
		if _, err := l.NextDestination(); err != nil {
			return l.result(ExitReasonFaulted, err)
		}
	}

	for {
		if l.opts.MaxFrames > 0 && l.cycle >= l.opts.MaxFrames {
			l.log.Info("frame limit reached", "cycles", l.cycle)
			return l.result(ExitReasonFrameLimit, nil)
		}
		if ctx.Err() != nil {
			return l.result(ExitReasonInterrupted, nil)
		}

		snap, err := l.world.Advance(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return l.result(ExitReasonInterrupted, nil)
			}
			return l.result(ExitReasonFaulted, fmt.Errorf("failed to advance simulation: %w", err))
		}
		l.cycle++
		l.frame = snap.Frame

		if l.input.Poll() || ctx.Err() != nil {
			l.log.Info("exit requested", "cycle", l.cycle)
			return l.result(ExitReasonInterrupted, nil)
		}

		l.observe(snap)

		if l.agent.Done() {
			if !l.opts.Loop {
				fmt.Fprintln(l.opts.Out, MsgStopping)
				l.appendEvent(state.EventCompleted, MsgStopping, l.world.State().Transform.Location)
				return l.result(ExitReasonCompleted, nil)
			}
			fmt.Fprintln(l.opts.Out, MsgSearching)
			l.display.Notify(noticeTargetReached, noticeDuration)
			if _, err := l.NextDestination(); err != nil {
				return l.result(ExitReasonFaulted, err)
			}
		}

		control, err := l.agent.RunStep()
		if err != nil {
			return l.result(ExitReasonFaulted, fmt.Errorf("%w: %w", ErrAgentComputation, err))
		}
		control.ManualGearShift = false
		if err := l.world.ApplyControl(ctx, control); err != nil {
			if ctx.Err() != nil {
				return l.result(ExitReasonInterrupted, nil)
			}
			return l.result(ExitReasonFaulted, err)
		}
		l.lastControl = control
		l.record(snap, control)
	}
}

func (l *Loop) result(reason ExitReason, err error) Result {
	return Result{
		Reason:       reason,
		Cycles:       l.cycle,
		Destinations: l.destinations,
		Frame:        l.frame,
		Error:        err,
	}
}

// observe notes new collisions, tracks progress and redraws the display.
func (l *Loop) observe(snap sim.Snapshot) {
	st := l.world.State()
	if n := l.world.CollisionCount(); n > l.collisions {
		l.collisions = n
		l.pendingEvent = state.EventCollision
		l.log.Debug("collision", "cycle", l.cycle, "count", n)
		l.appendEvent(state.EventCollision, "", st.Transform.Location)
	}
	l.trackProgress(st.Transform.Location)
	l.display.Update(l.telemetry(snap, st))
}

func (l *Loop) telemetry(snap sim.Snapshot, st sim.ActorState) tui.Telemetry {
	t := tui.Telemetry{
		Cycle:         l.cycle,
		Frame:         snap.Frame,
		SimSeconds:    snap.ElapsedSeconds,
		Map:           l.world.MapName(),
		Agent:         l.opts.AgentName,
		Vehicle:       st.TypeID,
		Status:        state.StatusRunning,
		Speed:         st.SpeedKmh(),
		Heading:       st.Transform.Rotation.Yaw,
		Location:      st.Transform.Location,
		Control:       l.lastControl,
		Collisions:    l.world.CollisionCount(),
		LaneInvasions: l.world.LaneInvasions(),
	}
	t.Lat, t.Lon, t.HasGNSS = l.world.GNSS()
	if l.destination != nil {
		dest := *l.destination
		t.Destination = &dest
	}
	for _, n := range l.world.Neighbors() {
		t.Nearby = append(t.Nearby, tui.Nearby{
			Distance: n.Transform.Location.Distance(st.Transform.Location),
			TypeID:   n.TypeID,
		})
	}
	slices.SortFunc(t.Nearby, func(a, b tui.Nearby) int {
		return cmp.Compare(a.Distance, b.Distance)
	})
	return t
}

func (l *Loop) trackProgress(at sim.Location) {
	threshold := l.opts.StuckThreshold
	if threshold <= 0 || l.destination == nil {
		return
	}
	l.distances = append(l.distances, l.destination.Distance2D(at))
	if len(l.distances) > 2*threshold {
		l.distances = append(l.distances[:0], l.distances[len(l.distances)-threshold:]...)
	}
	if l.stuckReported || !DetectStuck(l.distances, threshold) {
		return
	}
	l.stuckReported = true
	l.log.Warn("vehicle is not getting closer to its destination",
		"cycles", threshold, "rate", ProgressRate(l.distances, threshold))
	l.display.Notify(noticeStuck, noticeDuration)
}

// record writes the cycle to the recorder. A failed write disables
// recording for the rest of the run.
func (l *Loop) record(snap sim.Snapshot, control sim.VehicleControl) {
	if l.opts.Recorder == nil || l.recordDisabled {
		return
	}
	st := l.world.State()
	r := record.Record{
		Cycle:          l.cycle,
		Frame:          snap.Frame,
		ElapsedSeconds: snap.ElapsedSeconds,
		Location:       st.Transform.Location,
		SpeedKmh:       st.SpeedKmh(),
		Control:        control,
		Event:          l.pendingEvent,
	}
	if l.destination != nil {
		dest := *l.destination
		r.Destination = &dest
	}
	l.pendingEvent = ""
	if err := l.opts.Recorder.Write(r); err != nil {
		l.recordDisabled = true
		l.log.Warn("recording stopped", "cycle", l.cycle, "error", err)
	}
}

// appendEvent adds an event to the run history. Failures are logged.
func (l *Loop) appendEvent(kind, message string, at sim.Location) {
	if l.opts.Store == nil || l.opts.RunID == "" {
		return
	}
	ev := state.Event{
		Cycle:   l.cycle,
		Frame:   l.frame,
		Kind:    kind,
		Message: message,
		X:       at.X,
		Y:       at.Y,
		At:      l.opts.Now(),
	}
	if err := l.opts.Store.AppendEvent(l.opts.RunID, ev); err != nil {
		l.log.Warn("failed to record event", "kind", kind, "error", err)
	}
}
