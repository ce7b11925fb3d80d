// Package loader is the agent module that decides which announced updates to download.
//
// Every offered manifest runs through a small state machine:
//
//	idle -> evaluating -> downloading -> ready
//	            |              |
//	            v              v
//	        rejected         failed
//
// and every state entered is published as a core.StatusReport.
package loader

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/otapolicy/internal/updateagent/core"
	"github.com/autopeer-io/otapolicy/internal/updateagent/storage"
	"github.com/autopeer-io/otapolicy/pkg/log"
	"github.com/autopeer-io/otapolicy/pkg/manifest"
	"github.com/autopeer-io/otapolicy/pkg/selectionpolicy"
)

var ErrNilManifest = errors.New("manifest is required")

// Store is the on-device update registry.
type Store interface {
	Get(id string) (*selectionpolicy.UpdateRecord, bool)
	Launched() *selectionpolicy.UpdateRecord
	Put(r *selectionpolicy.UpdateRecord) error
	SetLaunched(id string) error
	SelectLaunch(policy selectionpolicy.LauncherSelectionPolicy, filters selectionpolicy.FilterSet) (*selectionpolicy.UpdateRecord, error)
	Reap(policy selectionpolicy.ReaperSelectionPolicy, filters selectionpolicy.FilterSet) ([]*selectionpolicy.UpdateRecord, error)
	BundlePath(id string) string
}

// Fetcher downloads update bundles.
type Fetcher interface {
	Fetch(ctx context.Context, objectKey, dst string) (storage.ObjectInfo, error)
}

type Config struct {
	DeviceID string

	// Filters apply to every decision and override manifest filters with the same key.
	Filters selectionpolicy.FilterSet

	// ActivateOnLoad launches a ready update immediately.
	ActivateOnLoad bool

	// Reap deletes obsolete updates after every launch change.
	Reap bool

	// RequireChecksum fails downloads of manifests without a bundle checksum.
	RequireChecksum bool
}

// Result describes what happened to one offered manifest.
type Result struct {
	RequestID string
	Record    *selectionpolicy.UpdateRecord
	Decision  selectionpolicy.Decision
	State     string
	Activated bool
	Reaped    []*selectionpolicy.UpdateRecord
}

type Loader struct {
	cfg     Config
	policy  *selectionpolicy.SelectionPolicy
	store   Store
	fetcher Fetcher
	clock   clock.PassiveClock
	newID   func() string

	sender core.Sender

	// mu serializes offers so the launched record cannot change between decision and commit.
	mu sync.Mutex
}

var _ core.Module = (*Loader)(nil)

func New(cfg Config, policy *selectionpolicy.SelectionPolicy, store Store, fetcher Fetcher, clk clock.PassiveClock) *Loader {
	return &Loader{
		cfg:     cfg,
		policy:  policy,
		store:   store,
		fetcher: fetcher,
		clock:   clk,
		newID:   uuid.NewString,
	}
}

func (l *Loader) Name() string {
	return "loader"
}

func (l *Loader) Setup(ctx context.Context, sender core.Sender) error {
	l.sender = sender
	return nil
}

func (l *Loader) Routes() map[core.EventType]core.HandlerFunc {
	return map[core.EventType]core.HandlerFunc{
		core.EventAnnounce:  core.JSONAdapter(l.HandleAnnounce),
		core.EventBroadcast: core.JSONAdapter(l.HandleAnnounce),
	}
}

// HandleAnnounce offers a manifest received from the update server.
func (l *Loader) HandleAnnounce(ctx context.Context, m *manifest.Manifest) error {
	// Only the watcher may offer embedded updates.
	m.IsEmbedded = false
	_, err := l.Offer(ctx, m)
	return err
}

// Offer runs m through the lifecycle. A rejection is a normal outcome and returns no error;
// the error reports a failed download or store write.
func (l *Loader) Offer(ctx context.Context, m *manifest.Manifest) (*Result, error) {
	if m == nil {
		return nil, ErrNilManifest
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	a := &attempt{
		requestID: l.newID(),
		manifest:  m,
		record:    m.ToRecord(),
		launched:  l.store.Launched(),
		filters:   selectionpolicy.MergeFilters(m.Filters, l.cfg.Filters),
	}
	ctx = log.WithContext(ctx, log.WithValues("requestID", a.requestID, "updateID", a.record.ID))

	lc := l.newLifecycle()
	if err := lc.Event(ctx, EventEvaluate, a); err != nil {
		return nil, fmt.Errorf("failed to evaluate update %s: %w", a.record.ID, err)
	}

	if !a.decision.Load {
		if err := lc.Event(ctx, EventReject, a); err != nil {
			return nil, err
		}
		return l.result(a, lc.Current()), nil
	}

	if err := lc.Event(ctx, EventDownload, a); err != nil {
		return l.fail(ctx, lc, a, err)
	}
	if err := lc.Event(ctx, EventComplete, a); err != nil {
		// An error after entering ready comes from activation; the download itself succeeded.
		if lc.Current() != StateReady {
			return l.fail(ctx, lc, a, err)
		}
		return l.result(a, lc.Current()), fmt.Errorf("update %s is ready but was not activated: %w", a.record.ID, err)
	}

	return l.result(a, lc.Current()), nil
}

// Preview evaluates candidate as Offer would, without side effects. A nil launched is
// replaced by the launched record of the store. Request filters override manifest filters,
// and configured filters override both.
func (l *Loader) Preview(candidate, launched *manifest.Manifest, filters selectionpolicy.FilterSet) selectionpolicy.Decision {
	var cand, current *selectionpolicy.UpdateRecord
	var manifestFilters selectionpolicy.FilterSet
	if candidate != nil {
		cand = candidate.ToRecord()
		manifestFilters = candidate.Filters
	}

	if launched != nil {
		current = launched.ToRecord()
	} else {
		current = l.store.Launched()
	}

	return l.decide(cand, current, selectionpolicy.MergeFilters(manifestFilters, filters, l.cfg.Filters))
}

// LaunchOnStartup selects the update to run from the stored ones and reaps what it makes
// obsolete. It returns nil when nothing is launchable.
func (l *Loader) LaunchOnStartup(ctx context.Context) (*selectionpolicy.UpdateRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	previous := l.store.Launched()
	chosen, err := l.store.SelectLaunch(l.policy.Launcher, l.cfg.Filters)
	if err != nil {
		return nil, fmt.Errorf("failed to select update to launch: %w", err)
	}
	if chosen == nil {
		log.Info("No stored update is launchable")
		return nil, nil
	}

	if previous == nil || previous.ID != chosen.ID {
		log.Info("Launching update", "updateID", chosen.ID, "previous", idOf(previous))
		l.publishLaunched(ctx, chosen)
	}

	if _, err := l.reap(); err != nil {
		return chosen, err
	}
	return chosen, nil
}

func (l *Loader) reap() ([]*selectionpolicy.UpdateRecord, error) {
	if !l.cfg.Reap {
		return nil, nil
	}

	reaped, err := l.store.Reap(l.policy.Reaper, l.cfg.Filters)
	if err != nil {
		return nil, fmt.Errorf("failed to reap updates: %w", err)
	}
	for _, r := range reaped {
		log.Info("Reaped update", "updateID", r.ID)
	}
	return reaped, nil
}

func (l *Loader) fail(ctx context.Context, lc *fsm.FSM, a *attempt, cause error) (*Result, error) {
	a.err = cause
	if err := lc.Event(ctx, EventFail, a); err != nil {
		log.FromContext(ctx).Error(err, "Failed to record update failure")
	}
	return l.result(a, lc.Current()), fmt.Errorf("failed to load update %s: %w", a.record.ID, cause)
}

func (l *Loader) publishLaunched(ctx context.Context, r *selectionpolicy.UpdateRecord) {
	if l.sender == nil {
		return
	}
	status := core.StatusReport{
		RequestID: l.newID(),
		DeviceID:  l.cfg.DeviceID,
		UpdateID:  r.ID,
		Phase:     core.PhaseLaunched,
		Timestamp: l.clock.Now().UTC(),
	}
	if err := l.sender.SendJSON(ctx, core.EventStatus, status); err != nil {
		log.Warn("Failed to publish launch status", "updateID", r.ID, "error", err)
	}
}

func (l *Loader) result(a *attempt, state string) *Result {
	return &Result{
		RequestID: a.requestID,
		Record:    a.record,
		Decision:  a.decision,
		State:     state,
		Activated: a.activated,
		Reaped:    a.reaped,
	}
}

func idOf(r *selectionpolicy.UpdateRecord) string {
	if r == nil {
		return ""
	}
	return r.ID
}
