package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrRunExists is returned by CreateRun when the run id is already taken.
var ErrRunExists = errors.New("run already exists")

// Store handles local run history under <base>/.autodrive/runs/<id>/.
type Store struct {
	basePath string
}

// NewStore creates a new Store rooted at basePath.
func NewStore(basePath string) *Store {
	return &Store{basePath: basePath}
}

// NewRunID returns a sortable run id for a run started at t.
func NewRunID(t time.Time) string {
	return t.UTC().Format("20060102-150405.000")
}

func (s *Store) runsDir() string {
	return filepath.Join(s.basePath, ".autodrive", "runs")
}

func (s *Store) runDir(id string) string {
	return filepath.Join(s.runsDir(), sanitizeID(id))
}

// sanitizeID keeps run ids inside the runs directory.
func sanitizeID(id string) string {
	return strings.NewReplacer("/", "-", "\\", "-", "..", "-").Replace(id)
}

// RunDir returns the directory holding the run's files.
func (s *Store) RunDir(id string) string {
	return s.runDir(id)
}

// CreateRun creates the run directory and writes run.yaml. An existing run
// with the same id is left alone and ErrRunExists is returned.
func (s *Store) CreateRun(run *Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(s.runsDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create runs directory: %w", err)
	}
	if err := os.Mkdir(s.runDir(run.ID), 0o755); err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %s", ErrRunExists, run.ID)
		}
		return fmt.Errorf("failed to create run directory: %w", err)
	}
	return s.writeRun(run)
}

func (s *Store) writeRun(run *Run) error {
	data, err := yaml.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.runDir(run.ID), "run.yaml"), data, 0o644); err != nil {
		return fmt.Errorf("failed to write run file: %w", err)
	}
	return nil
}

// GetRun reads run.yaml for id.
func (s *Store) GetRun(id string) (*Run, error) {
	data, err := os.ReadFile(filepath.Join(s.runDir(id), "run.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("run not found: %s", id)
		}
		return nil, fmt.Errorf("failed to read run file: %w", err)
	}

	var run Run
	if err := yaml.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to parse run file: %w", err)
	}
	return &run, nil
}

// ListRuns returns all readable runs, newest first.
func (s *Store) ListRuns() ([]*Run, error) {
	entries, err := os.ReadDir(s.runsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return []*Run{}, nil
		}
		return nil, fmt.Errorf("failed to read runs directory: %w", err)
	}

	runs := []*Run{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		run, err := s.GetRun(entry.Name())
		if err != nil {
			continue // skip partial or foreign directories
		}
		runs = append(runs, run)
	}

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	return runs, nil
}

// LatestRun returns the most recently started run, or nil if there are none.
func (s *Store) LatestRun() (*Run, error) {
	runs, err := s.ListRuns()
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return runs[0], nil
}

// UpdateRun applies updateFn to the stored run and writes it back.
func (s *Store) UpdateRun(id string, updateFn func(*Run)) error {
	run, err := s.GetRun(id)
	if err != nil {
		return err
	}
	updateFn(run)
	run.ID = id
	return s.writeRun(run)
}

// LoadEvents reads events.json for a run. A run without events returns nil.
func (s *Store) LoadEvents(id string) ([]Event, error) {
	data, err := os.ReadFile(filepath.Join(s.runDir(id), "events.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read events file: %w", err)
	}

	var events []Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("failed to parse events file: %w", err)
	}
	return events, nil
}

// AppendEvent adds an event to events.json.
func (s *Store) AppendEvent(id string, event Event) error {
	events, err := s.LoadEvents(id)
	if err != nil {
		return err
	}
	events = append(events, event)

	if err := os.MkdirAll(s.runDir(id), 0o755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}
	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal events: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.runDir(id), "events.json"), data, 0o644); err != nil {
		return fmt.Errorf("failed to write events file: %w", err)
	}
	return nil
}

// DeleteRun removes the run directory and all its contents.
func (s *Store) DeleteRun(id string) error {
	if err := os.RemoveAll(s.runDir(id)); err != nil {
		return fmt.Errorf("failed to delete run directory: %w", err)
	}
	return nil
}

// RunExists checks if a run has a run.yaml.
func (s *Store) RunExists(id string) bool {
	_, err := os.Stat(filepath.Join(s.runDir(id), "run.yaml"))
	return err == nil
}
