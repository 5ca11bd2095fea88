package testutil

import (
	"time"

	"github.com/thruflo/autodrive/internal/config"
	"github.com/thruflo/autodrive/internal/sim"
	"github.com/thruflo/autodrive/internal/state"
)

// SampleConfig returns a valid headless synchronous config with seed 1.
func SampleConfig() config.Config {
	cfg := config.DefaultConfig()
	seed := int64(1)
	cfg.Seed = &seed
	cfg.Sync = true
	cfg.Headless = true
	cfg.History = false
	return cfg
}

// SampleSpawnPoints returns three spawn points A, B and C, 100 m apart.
// Returns a new slice each time to prevent test interference.
func SampleSpawnPoints() []sim.Transform {
	return []sim.Transform{
		{Location: sim.Location{X: 0, Y: 0, Z: 0.5}},
		{Location: sim.Location{X: 100, Y: 0, Z: 0.5}, Rotation: sim.Rotation{Yaw: 90}},
		{Location: sim.Location{X: 100, Y: 100, Z: 0.5}, Rotation: sim.Rotation{Yaw: 180}},
	}
}

// SampleRun returns a completed run record.
func SampleRun() *state.Run {
	started := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	ended := started.Add(95 * time.Second)
	seed := int64(1)
	return &state.Run{
		ID:           state.NewRunID(started),
		Map:          "Town01",
		Agent:        config.AgentBehavior,
		Behavior:     config.BehaviorNormal,
		Seed:         &seed,
		Synchronous:  true,
		StartedAt:    started,
		EndedAt:      &ended,
		Status:       state.StatusCompleted,
		Cycles:       1900,
		Destinations: 1,
	}
}
