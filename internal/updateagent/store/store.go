// Package store keeps the on-device registry of update records and which one is launched.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/otapolicy/internal/pkg/metrics"
	"github.com/autopeer-io/otapolicy/pkg/log"
	"github.com/autopeer-io/otapolicy/pkg/selectionpolicy"
)

const (
	stateFileName = "state.json"
	bundleDirName = "bundles"
)

var (
	ErrNotFound = errors.New("update not found")
	ErrNotReady = errors.New("update is not ready")
)

type state struct {
	LaunchedID string                          `json:"launchedId,omitempty"`
	Updates    []*selectionpolicy.UpdateRecord `json:"updates"`
	SavedAt    time.Time                       `json:"savedAt"`
}

// Store is a registry persisted as a JSON state file under its data directory.
// Downloaded bundles live next to it. Records handed out are copies.
type Store struct {
	dir   string
	clock clock.PassiveClock

	mu    sync.RWMutex
	state state
}

// Open loads the registry in dir, creating the directory layout on first use.
func Open(dir string, clk clock.PassiveClock) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, bundleDirName), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	s := &Store{dir: dir, clock: clk}

	data, err := os.ReadFile(s.statePath())
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read state file: %w", err)
	default:
		if err := json.Unmarshal(data, &s.state); err != nil {
			return nil, fmt.Errorf("failed to decode state file %s: %w", s.statePath(), err)
		}
	}

	metrics.StoredUpdates.Set(float64(len(s.state.Updates)))
	log.Info("Opened update store", "dir", dir, "updates", len(s.state.Updates), "launched", s.state.LaunchedID)
	return s, nil
}

// BundlePath is where the bundle of update id is kept.
func (s *Store) BundlePath(id string) string {
	return filepath.Join(s.dir, bundleDirName, url.PathEscape(id)+".bundle")
}

// Updates returns copies of every record, oldest insertion first.
func (s *Store) Updates() []*selectionpolicy.UpdateRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*selectionpolicy.UpdateRecord, 0, len(s.state.Updates))
	for _, r := range s.state.Updates {
		out = append(out, clone(r))
	}
	return out
}

func (s *Store) Get(id string) (*selectionpolicy.UpdateRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := s.index(id); i >= 0 {
		return clone(s.state.Updates[i]), true
	}
	return nil, false
}

// Launched returns the launched record, or nil before the first launch.
func (s *Store) Launched() *selectionpolicy.UpdateRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := s.index(s.state.LaunchedID); i >= 0 {
		return clone(s.state.Updates[i])
	}
	return nil
}

// Put inserts r or replaces the record with the same ID.
func (s *Store) Put(r *selectionpolicy.UpdateRecord) error {
	if r == nil || r.ID == "" {
		return fmt.Errorf("%w: record without id", selectionpolicy.ErrMalformedRecord)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if i := s.index(r.ID); i >= 0 {
		s.state.Updates[i] = clone(r)
	} else {
		s.state.Updates = append(s.state.Updates, clone(r))
	}
	return s.save()
}

// SetLaunched marks the ready update id as launched.
func (s *Store) SetLaunched(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.setLaunched(id)
}

// SelectLaunch asks policy which stored update to launch and records the choice.
// It returns nil when nothing is launchable; the current launch is then left untouched.
func (s *Store) SelectLaunch(policy selectionpolicy.LauncherSelectionPolicy, filters selectionpolicy.FilterSet) (*selectionpolicy.UpdateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chosen := policy.SelectUpdateToLaunch(s.snapshot(), filters)
	if chosen == nil {
		return nil, nil
	}
	if chosen.ID == s.state.LaunchedID {
		return chosen, nil
	}
	if err := s.setLaunched(chosen.ID); err != nil {
		return nil, err
	}
	return chosen, nil
}

// Reap removes the records policy selects, together with their bundles.
// The launched record is never removed.
func (s *Store) Reap(policy selectionpolicy.ReaperSelectionPolicy, filters selectionpolicy.FilterSet) ([]*selectionpolicy.UpdateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.index(s.state.LaunchedID)
	if i < 0 {
		return nil, nil
	}

	victims := policy.SelectUpdatesToDelete(s.snapshot(), clone(s.state.Updates[i]), filters)
	if len(victims) == 0 {
		return nil, nil
	}

	doomed := make(map[string]bool, len(victims))
	for _, v := range victims {
		if v.ID != s.state.LaunchedID {
			doomed[v.ID] = true
		}
	}

	var removed []*selectionpolicy.UpdateRecord
	s.state.Updates = slices.DeleteFunc(s.state.Updates, func(r *selectionpolicy.UpdateRecord) bool {
		if !doomed[r.ID] {
			return false
		}
		removed = append(removed, clone(r))
		return true
	})

	for _, r := range removed {
		if err := os.Remove(s.BundlePath(r.ID)); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("Failed to remove bundle", "id", r.ID, "error", err)
		}
	}

	if err := s.save(); err != nil {
		return nil, err
	}
	metrics.ReapedUpdatesTotal.Add(float64(len(removed)))
	return removed, nil
}

func (s *Store) setLaunched(id string) error {
	i := s.index(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if s.state.Updates[i].Status != selectionpolicy.StatusReady {
		return fmt.Errorf("%w: %s is %s", ErrNotReady, id, s.state.Updates[i].Status)
	}
	s.state.LaunchedID = id
	return s.save()
}

func (s *Store) snapshot() []*selectionpolicy.UpdateRecord {
	out := make([]*selectionpolicy.UpdateRecord, 0, len(s.state.Updates))
	for _, r := range s.state.Updates {
		out = append(out, clone(r))
	}
	return out
}

func (s *Store) index(id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(s.state.Updates, func(r *selectionpolicy.UpdateRecord) bool { return r.ID == id })
}

func (s *Store) statePath() string {
	return filepath.Join(s.dir, stateFileName)
}

// save writes the state through a temporary file so a crash never leaves a torn state file.
func (s *Store) save() error {
	s.state.SavedAt = s.clock.Now().UTC()

	data, err := json.MarshalIndent(&s.state, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.dir, stateFileName+".*")
	if err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.statePath()); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	metrics.StoredUpdates.Set(float64(len(s.state.Updates)))
	return nil
}

func clone(r *selectionpolicy.UpdateRecord) *selectionpolicy.UpdateRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Metadata = maps.Clone(r.Metadata)
	return &c
}
