package state

import "time"

// Run is the persisted record of one control-loop run, stored as run.yaml.
type Run struct {
	ID           string     `yaml:"id" json:"id"`
	Map          string     `yaml:"map" json:"map"`
	Agent        string     `yaml:"agent" json:"agent"`
	Behavior     string     `yaml:"behavior,omitempty" json:"behavior,omitempty"`
	Seed         *int64     `yaml:"seed,omitempty" json:"seed,omitempty"`
	Synchronous  bool       `yaml:"synchronous" json:"synchronous"`
	Loop         bool       `yaml:"loop" json:"loop"`
	StartedAt    time.Time  `yaml:"started_at" json:"started_at"`
	EndedAt      *time.Time `yaml:"ended_at,omitempty" json:"ended_at,omitempty"`
	Status       string     `yaml:"status" json:"status"`
	Cycles       int        `yaml:"cycles" json:"cycles"`
	Destinations int        `yaml:"destinations" json:"destinations"`
	Error        string     `yaml:"error,omitempty" json:"error,omitempty"`
	Recording    string     `yaml:"recording,omitempty" json:"recording,omitempty"`
}

// Duration returns how long the run lasted, or has lasted so far.
func (r *Run) Duration(now time.Time) time.Duration {
	if r.EndedAt != nil {
		return r.EndedAt.Sub(r.StartedAt)
	}
	return now.Sub(r.StartedAt)
}

// Event is a notable moment within a run, appended to events.json.
type Event struct {
	Cycle   int       `json:"cycle"`
	Frame   uint64    `json:"frame"`
	Kind    string    `json:"kind"`
	Message string    `json:"message,omitempty"`
	X       float64   `json:"x"`
	Y       float64   `json:"y"`
	At      time.Time `json:"at"`
}

// Run status values. Terminal values match the loop exit reasons.
const (
	StatusRunning     = "running"
	StatusCompleted   = "completed"
	StatusInterrupted = "interrupted"
	StatusFaulted     = "faulted"
	StatusFrameLimit  = "frame_limit"
)

// Event kinds.
const (
	EventDestination = "destination"
	EventCollision   = "collision"
	EventCompleted   = "completed"
)
