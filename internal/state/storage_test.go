package state

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64Ptr(v int64) *int64 { return &v }

func sampleRun(id string, started time.Time) *Run {
	return &Run{
		ID:          id,
		Map:         "Town01",
		Agent:       "Behavior",
		Behavior:    "normal",
		Seed:        int64Ptr(42),
		Synchronous: true,
		StartedAt:   started,
		Status:      StatusRunning,
	}
}

func TestSanitizeID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		id   string
		want string
	}{
		{"plain", "20261019-103000.000", "20261019-103000.000"},
		{"slash", "a/b", "a-b"},
		{"traversal", "../etc", "--etc"},
		{"backslash", `a\b`, "a-b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, sanitizeID(tt.id))
		})
	}
}

func TestNewRunID(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 10, 19, 10, 30, 0, 123_000_000, time.UTC)
	assert.Equal(t, "20261019-103000.123", NewRunID(at))
}

func TestStore_CreateAndGetRun(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	store := NewStore(tmpDir)
	started := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	run := sampleRun("run-1", started)

	require.NoError(t, store.CreateRun(run))

	_, err := os.Stat(filepath.Join(tmpDir, ".autodrive", "runs", "run-1", "run.yaml"))
	require.NoError(t, err)
	assert.True(t, store.RunExists("run-1"))

	got, err := store.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, run.Map, got.Map)
	assert.Equal(t, run.Agent, got.Agent)
	assert.Equal(t, run.Behavior, got.Behavior)
	require.NotNil(t, got.Seed)
	assert.Equal(t, int64(42), *got.Seed)
	assert.True(t, got.Synchronous)
	assert.True(t, run.StartedAt.Equal(got.StartedAt))
	assert.Equal(t, StatusRunning, got.Status)
	assert.Nil(t, got.EndedAt)
}

func TestStore_CreateRun_RequiresID(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())
	err := store.CreateRun(&Run{})
	assert.ErrorContains(t, err, "run id is required")
}

func TestStore_CreateRun_ExistingIDIsKept(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())
	started := time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)
	first := sampleRun("run-1", started)
	require.NoError(t, store.CreateRun(first))
	require.NoError(t, store.AppendEvent(first.ID, Event{Cycle: 1, Kind: EventDestination}))

	second := sampleRun("run-1", started.Add(time.Minute))
	second.Map = "Town03"
	err := store.CreateRun(second)
	require.ErrorIs(t, err, ErrRunExists)

	got, err := store.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, "Town01", got.Map)
	events, err := store.LoadEvents("run-1")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestStore_GetRun_NotFound(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())
	_, err := store.GetRun("missing")
	assert.ErrorContains(t, err, "run not found: missing")
	assert.False(t, store.RunExists("missing"))
}

func TestStore_GetRun_Invalid(t *testing.T) {
	t.Parallel()

	tmpDir := t.TempDir()
	store := NewStore(tmpDir)
	dir := filepath.Join(tmpDir, ".autodrive", "runs", "bad")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run.yaml"), []byte("id: [unclosed"), 0o644))

	_, err := store.GetRun("bad")
	assert.ErrorContains(t, err, "failed to parse run file")
}

func TestStore_ListRuns(t *testing.T) {
	t.Parallel()

	t.Run("empty when directory is missing", func(t *testing.T) {
		t.Parallel()
		runs, err := NewStore(t.TempDir()).ListRuns()
		require.NoError(t, err)
		assert.Empty(t, runs)
	})

	t.Run("newest first and skips junk", func(t *testing.T) {
		t.Parallel()
		tmpDir := t.TempDir()
		store := NewStore(tmpDir)
		base := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

		require.NoError(t, store.CreateRun(sampleRun("old", base)))
		require.NoError(t, store.CreateRun(sampleRun("new", base.Add(2*time.Hour))))
		require.NoError(t, store.CreateRun(sampleRun("mid", base.Add(time.Hour))))
		require.NoError(t, os.MkdirAll(filepath.Join(tmpDir, ".autodrive", "runs", "empty"), 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".autodrive", "runs", "stray.txt"), nil, 0o644))

		runs, err := store.ListRuns()
		require.NoError(t, err)
		require.Len(t, runs, 3)
		assert.Equal(t, []string{"new", "mid", "old"}, []string{runs[0].ID, runs[1].ID, runs[2].ID})

		latest, err := store.LatestRun()
		require.NoError(t, err)
		assert.Equal(t, "new", latest.ID)
	})
}

func TestStore_LatestRun_None(t *testing.T) {
	t.Parallel()

	latest, err := NewStore(t.TempDir()).LatestRun()
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestStore_UpdateRun(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())
	started := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.CreateRun(sampleRun("run-1", started)))

	ended := started.Add(90 * time.Second)
	err := store.UpdateRun("run-1", func(r *Run) {
		r.Status = StatusCompleted
		r.Cycles = 1800
		r.Destinations = 1
		r.EndedAt = &ended
		r.ID = "tampered"
	})
	require.NoError(t, err)

	got, err := store.GetRun("run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.ID)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 1800, got.Cycles)
	assert.Equal(t, 90*time.Second, got.Duration(time.Now()))

	assert.Error(t, store.UpdateRun("missing", func(*Run) {}))
}

func TestStore_Events(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())
	require.NoError(t, store.CreateRun(sampleRun("run-1", time.Now())))

	events, err := store.LoadEvents("run-1")
	require.NoError(t, err)
	assert.Nil(t, events)

	at := time.Date(2026, 10, 19, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.AppendEvent("run-1", Event{Cycle: 1, Frame: 10, Kind: EventDestination, X: 100, At: at}))
	require.NoError(t, store.AppendEvent("run-1", Event{Cycle: 50, Frame: 59, Kind: EventCompleted, Message: "target reached", At: at}))

	events, err = store.LoadEvents("run-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventDestination, events[0].Kind)
	assert.Equal(t, 100.0, events[0].X)
	assert.Equal(t, "target reached", events[1].Message)
}

func TestStore_DeleteRun(t *testing.T) {
	t.Parallel()

	store := NewStore(t.TempDir())
	require.NoError(t, store.CreateRun(sampleRun("run-1", time.Now())))
	require.NoError(t, store.DeleteRun("run-1"))
	assert.False(t, store.RunExists("run-1"))
	require.NoError(t, store.DeleteRun("run-1"))
}
