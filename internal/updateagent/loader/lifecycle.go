package loader

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/looplab/fsm"

	"github.com/autopeer-io/otapolicy/internal/pkg/metrics"
	fsmutil "github.com/autopeer-io/otapolicy/internal/pkg/util/fsm"
	"github.com/autopeer-io/otapolicy/internal/updateagent/core"
	"github.com/autopeer-io/otapolicy/pkg/log"
	"github.com/autopeer-io/otapolicy/pkg/manifest"
	"github.com/autopeer-io/otapolicy/pkg/selectionpolicy"
)

// Lifecycle states of one offered update.
const (
	StateIdle        = "idle"
	StateEvaluating  = string(core.PhaseEvaluating)
	StateDownloading = string(core.PhaseDownloading)
	StateReady       = string(core.PhaseReady)
	StateRejected    = string(core.PhaseRejected)
	StateFailed      = string(core.PhaseFailed)
)

// Lifecycle events.
const (
	EventEvaluate = "evaluate"
	EventReject   = "reject"
	EventDownload = "download"
	EventComplete = "complete"
	EventFail     = "fail"
)

var (
	ErrAlreadyStored    = errors.New("update already stored")
	ErrNoBundle         = errors.New("manifest has no bundle key")
	ErrNoChecksum       = errors.New("manifest has no bundle checksum")
	ErrChecksumMismatch = errors.New("bundle checksum mismatch")
)

// attempt carries one offer through the lifecycle callbacks.
type attempt struct {
	requestID string
	manifest  *manifest.Manifest
	record    *selectionpolicy.UpdateRecord
	launched  *selectionpolicy.UpdateRecord
	filters   selectionpolicy.FilterSet

	decision    selectionpolicy.Decision
	err         error
	activated   bool
	reaped      []*selectionpolicy.UpdateRecord
	fetchedSize int64
}

func attemptOf(e *fsm.Event) *attempt {
	return e.Args[0].(*attempt)
}

func (l *Loader) newLifecycle() *fsm.FSM {
	events := fsm.Events{
		{Name: EventEvaluate, Src: []string{StateIdle}, Dst: StateEvaluating},
		{Name: EventReject, Src: []string{StateEvaluating}, Dst: StateRejected},
		{Name: EventDownload, Src: []string{StateEvaluating}, Dst: StateDownloading},
		{Name: EventComplete, Src: []string{StateDownloading}, Dst: StateReady},
		{Name: EventFail, Src: []string{StateEvaluating, StateDownloading}, Dst: StateFailed},
	}

	callbacks := fsm.Callbacks{
		// Guards (before_...): a returned error cancels the transition.
		"before_" + EventDownload: fsmutil.CancelOnError(l.guardLoad),
		"before_" + EventComplete: fsmutil.CancelOnError(l.guardCommit),

		// Side-Effects (enter_...): a returned error is reported by Event.
		"enter_" + StateEvaluating:  fsmutil.WrapEvent(l.actionEvaluate),
		"enter_" + StateDownloading: fsmutil.WrapEvent(l.actionDownload),
		"enter_" + StateReady:       fsmutil.WrapEvent(l.actionActivate),
		"enter_" + StateFailed:      fsmutil.WrapEvent(l.actionFail),

		"enter_state": l.report,
	}

	return fsm.NewFSM(StateIdle, events, callbacks)
}

// actionEvaluate asks the loader policy for a decision.
func (l *Loader) actionEvaluate(ctx context.Context, e *fsm.Event) error {
	a := attemptOf(e)
	a.decision = l.decide(a.record, a.launched, a.filters)

	metrics.ObserveDecision(a.decision.Load, string(a.decision.Check))
	return nil
}

// decide evaluates candidate against launched. A candidate already downloaded is skipped
// even when it would be preferred over the launched update.
func (l *Loader) decide(candidate, launched *selectionpolicy.UpdateRecord, filters selectionpolicy.FilterSet) selectionpolicy.Decision {
	d := l.policy.Evaluate(candidate, launched, filters)
	if !d.Load {
		return d
	}

	if existing, ok := l.store.Get(candidate.ID); ok && existing.Status == selectionpolicy.StatusReady {
		return selectionpolicy.Decision{
			Check:  selectionpolicy.CheckIdentity,
			Reason: fmt.Errorf("%w: %s", ErrAlreadyStored, candidate.ID),
		}
	}
	return d
}

func (l *Loader) guardLoad(ctx context.Context, e *fsm.Event) error {
	if a := attemptOf(e); !a.decision.Load {
		return fmt.Errorf("update %s was not selected: %s", a.record.ID, a.decision)
	}
	return nil
}

// actionDownload registers the record as pending, fetches its bundle and verifies it against
// the manifest checksum. Embedded updates ship with the application and need no download.
func (l *Loader) actionDownload(ctx context.Context, e *fsm.Event) error {
	a := attemptOf(e)

	if err := l.store.Put(a.record); err != nil {
		return err
	}

	if a.record.IsEmbedded {
		return nil
	}
	if a.manifest.BundleKey == "" {
		return fmt.Errorf("%w: %s", ErrNoBundle, a.record.ID)
	}
	if a.manifest.Checksum == "" && l.cfg.RequireChecksum {
		return fmt.Errorf("%w: %s", ErrNoChecksum, a.record.ID)
	}

	path := l.store.BundlePath(a.record.ID)
	info, err := l.fetcher.Fetch(ctx, a.manifest.BundleKey, path)
	if err != nil {
		return err
	}
	a.fetchedSize = info.Size

	if a.manifest.Checksum == "" {
		return nil
	}
	return verifyChecksum(path, a.manifest.Checksum)
}

// verifyChecksum compares the SHA-256 of the file at path with want.
func verifyChecksum(path, want string) error {
	want = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(want)), "sha256:")
	expected, err := hex.DecodeString(want)
	if err != nil || len(expected) != sha256.Size {
		return fmt.Errorf("invalid sha256 checksum %q", want)
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("failed to hash bundle: %w", err)
	}
	if got := h.Sum(nil); !bytes.Equal(got, expected) {
		return fmt.Errorf("%w: got sha256:%x, want sha256:%s", ErrChecksumMismatch, got, want)
	}
	return nil
}

func (l *Loader) guardCommit(ctx context.Context, e *fsm.Event) error {
	a := attemptOf(e)

	ready := *a.record
	ready.Status = selectionpolicy.StatusReady
	if err := l.store.Put(&ready); err != nil {
		return err
	}
	a.record = &ready
	return nil
}

// actionActivate launches the new update right away when configured to, and reaps what the
// new launch made obsolete.
func (l *Loader) actionActivate(ctx context.Context, e *fsm.Event) error {
	a := attemptOf(e)

	if !l.cfg.ActivateOnLoad {
		return nil
	}
	if err := l.store.SetLaunched(a.record.ID); err != nil {
		return err
	}
	a.activated = true
	l.publishLaunched(ctx, a.record)

	reaped, err := l.reap()
	a.reaped = reaped
	return err
}

// actionFail marks a registered record as failed and drops its partial bundle.
func (l *Loader) actionFail(ctx context.Context, e *fsm.Event) error {
	a := attemptOf(e)

	if _, ok := l.store.Get(a.record.ID); !ok {
		return nil
	}

	failed := *a.record
	failed.Status = selectionpolicy.StatusFailed
	a.record = &failed

	if err := os.Remove(l.store.BundlePath(failed.ID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.FromContext(ctx).Warn("Failed to remove partial bundle", "error", err)
	}
	return l.store.Put(&failed)
}

// report publishes every state entered. Publishing failures never affect the lifecycle.
func (l *Loader) report(ctx context.Context, e *fsm.Event) {
	a := attemptOf(e)

	status := core.StatusReport{
		RequestID: a.requestID,
		DeviceID:  l.cfg.DeviceID,
		UpdateID:  a.record.ID,
		Phase:     core.Phase(e.Dst),
		Timestamp: l.clock.Now().UTC(),
	}
	switch e.Dst {
	case StateRejected:
		status.Check = string(a.decision.Check)
		if a.decision.Reason != nil {
			status.Message = a.decision.Reason.Error()
		}
	case StateFailed:
		if a.err != nil {
			status.Message = a.err.Error()
		}
	}

	logger := log.FromContext(ctx)
	logger.Info("Update lifecycle", "from", e.Src, "to", e.Dst, "check", status.Check, "message", status.Message)

	if l.sender == nil {
		return
	}
	if err := l.sender.SendJSON(ctx, core.EventStatus, status); err != nil {
		logger.Warn("Failed to publish update status", "error", err)
	}
}
