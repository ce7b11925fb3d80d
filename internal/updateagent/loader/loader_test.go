package loader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/autopeer-io/otapolicy/internal/updateagent/core"
	"github.com/autopeer-io/otapolicy/internal/updateagent/storage"
	"github.com/autopeer-io/otapolicy/internal/updateagent/store"
	"github.com/autopeer-io/otapolicy/pkg/manifest"
	"github.com/autopeer-io/otapolicy/pkg/selectionpolicy"
)

const runtimeVersion = "45.0"

var epoch = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

type fakeFetcher struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeFetcher) Fetch(_ context.Context, key, dst string) (storage.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, key)
	if f.err != nil {
		return storage.ObjectInfo{}, f.err
	}
	if err := os.WriteFile(dst, []byte(key), 0o600); err != nil {
		return storage.ObjectInfo{}, err
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(key))}, nil
}

type fakeSender struct {
	mu      sync.Mutex
	reports []core.StatusReport
}

func (f *fakeSender) Send(context.Context, core.EventType, []byte) error { return nil }

func (f *fakeSender) SendJSON(_ context.Context, event core.EventType, msg any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := msg.(core.StatusReport); ok && event == core.EventStatus {
		f.reports = append(f.reports, r)
	}
	return nil
}

func (f *fakeSender) phases() []core.Phase {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.Phase, 0, len(f.reports))
	for _, r := range f.reports {
		out = append(out, r.Phase)
	}
	return out
}

func (f *fakeSender) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = nil
}

type fixture struct {
	loader  *Loader
	store   *store.Store
	fetcher *fakeFetcher
	sender  *fakeSender
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	clk := clocktesting.NewFakeClock(epoch)
	st, err := store.Open(t.TempDir(), clk)
	require.NoError(t, err)

	policy, err := selectionpolicy.New(selectionpolicy.StrategyNewest, selectionpolicy.Config{RuntimeVersion: runtimeVersion})
	require.NoError(t, err)

	f := &fixture{
		store:   st,
		fetcher: &fakeFetcher{},
		sender:  &fakeSender{},
	}
	cfg.DeviceID = "dev-1"
	f.loader = New(cfg, selectionpolicy.NewSelectionPolicy(runtimeVersion, policy), st, f.fetcher, clk)

	n := 0
	f.loader.newID = func() string {
		n++
		return fmt.Sprintf("req-%d", n)
	}
	require.NoError(t, f.loader.Setup(context.Background(), f.sender))
	return f
}

func announce(id string, minutes int, meta map[string]any) *manifest.Manifest {
	return &manifest.Manifest{
		ID:             id,
		CreatedAt:      manifest.Timestamp{Time: epoch.Add(time.Duration(minutes) * time.Minute)},
		RuntimeVersion: runtimeVersion,
		Metadata:       meta,
		BundleKey:      "bundles/" + id,
	}
}

func TestOfferFirstRunLoads(t *testing.T) {
	f := newFixture(t, Config{})

	res, err := f.loader.Offer(context.Background(), announce("A", 0, nil))
	require.NoError(t, err)

	assert.Equal(t, StateReady, res.State)
	assert.True(t, res.Decision.Load)
	assert.Equal(t, "req-1", res.RequestID)
	assert.False(t, res.Activated)
	assert.Equal(t, []string{"bundles/A"}, f.fetcher.calls)
	assert.Equal(t, []core.Phase{core.PhaseEvaluating, core.PhaseDownloading, core.PhaseReady}, f.sender.phases())

	stored, ok := f.store.Get("A")
	require.True(t, ok)
	assert.Equal(t, selectionpolicy.StatusReady, stored.Status)
	assert.FileExists(t, f.store.BundlePath("A"))
	assert.Nil(t, f.store.Launched())
}

func TestOfferRejectsIncompatibleRuntime(t *testing.T) {
	f := newFixture(t, Config{})

	m := announce("A", 0, nil)
	m.RuntimeVersion = "44.0"
	res, err := f.loader.Offer(context.Background(), m)
	require.NoError(t, err)

	assert.Equal(t, StateRejected, res.State)
	assert.Equal(t, selectionpolicy.CheckRuntime, res.Decision.Check)
	assert.Empty(t, f.fetcher.calls)
	assert.Equal(t, []core.Phase{core.PhaseEvaluating, core.PhaseRejected}, f.sender.phases())

	f.sender.mu.Lock()
	last := f.sender.reports[len(f.sender.reports)-1]
	f.sender.mu.Unlock()
	assert.Equal(t, "runtime", last.Check)
	assert.NotEmpty(t, last.Message)
	assert.Equal(t, "dev-1", last.DeviceID)

	_, ok := f.store.Get("A")
	assert.False(t, ok)
}

func TestOfferActivatesAndRejectsLaunchedAgain(t *testing.T) {
	f := newFixture(t, Config{ActivateOnLoad: true})

	res, err := f.loader.Offer(context.Background(), announce("A", 0, nil))
	require.NoError(t, err)
	assert.True(t, res.Activated)
	require.NotNil(t, f.store.Launched())
	assert.Equal(t, "A", f.store.Launched().ID)
	assert.Contains(t, f.sender.phases(), core.PhaseLaunched)

	res, err = f.loader.Offer(context.Background(), announce("A", 0, nil))
	require.NoError(t, err)
	assert.Equal(t, StateRejected, res.State)
	assert.Equal(t, selectionpolicy.CheckIdentity, res.Decision.Check)
	assert.ErrorIs(t, res.Decision.Reason, selectionpolicy.ErrAlreadyLaunched)
}

func TestOfferSkipsAlreadyStoredUpdate(t *testing.T) {
	f := newFixture(t, Config{})

	_, err := f.loader.Offer(context.Background(), announce("A", 0, nil))
	require.NoError(t, err)

	res, err := f.loader.Offer(context.Background(), announce("A", 0, nil))
	require.NoError(t, err)
	assert.Equal(t, StateRejected, res.State)
	assert.ErrorIs(t, res.Decision.Reason, ErrAlreadyStored)
	assert.Len(t, f.fetcher.calls, 1)
}

func TestOfferRejectsOlderThanLaunched(t *testing.T) {
	f := newFixture(t, Config{ActivateOnLoad: true})

	_, err := f.loader.Offer(context.Background(), announce("B", 10, nil))
	require.NoError(t, err)

	res, err := f.loader.Offer(context.Background(), announce("A", 0, nil))
	require.NoError(t, err)
	assert.Equal(t, selectionpolicy.CheckPrecedence, res.Decision.Check)
}

func TestOfferFetchFailure(t *testing.T) {
	f := newFixture(t, Config{})
	f.fetcher.err = errors.New("connection reset")

	res, err := f.loader.Offer(context.Background(), announce("A", 0, nil))
	require.Error(t, err)
	assert.ErrorContains(t, err, "connection reset")
	require.NotNil(t, res)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, []core.Phase{core.PhaseEvaluating, core.PhaseDownloading, core.PhaseFailed}, f.sender.phases())

	stored, ok := f.store.Get("A")
	require.True(t, ok)
	assert.Equal(t, selectionpolicy.StatusFailed, stored.Status)
}

func TestOfferWithoutBundleKeyFails(t *testing.T) {
	f := newFixture(t, Config{})

	m := announce("A", 0, nil)
	m.BundleKey = ""
	_, err := f.loader.Offer(context.Background(), m)
	assert.ErrorIs(t, err, ErrNoBundle)
}

// sha256Of is the checksum of the bundle fakeFetcher writes for key.
func sha256Of(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func TestOfferVerifiesChecksum(t *testing.T) {
	f := newFixture(t, Config{})

	m := announce("A", 0, nil)
	m.Checksum = "sha256:" + sha256Of(m.BundleKey)
	res, err := f.loader.Offer(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, StateReady, res.State)

	m = announce("B", 1, nil)
	m.Checksum = sha256Of(m.BundleKey)
	res, err = f.loader.Offer(context.Background(), m)
	require.NoError(t, err, "a bare hex digest is accepted")
	assert.Equal(t, StateReady, res.State)
}

func TestOfferChecksumMismatchFails(t *testing.T) {
	f := newFixture(t, Config{ActivateOnLoad: true})

	m := announce("A", 0, nil)
	m.Checksum = sha256Of("tampered")
	res, err := f.loader.Offer(context.Background(), m)
	require.ErrorIs(t, err, ErrChecksumMismatch)
	require.NotNil(t, res)
	assert.Equal(t, StateFailed, res.State)
	assert.False(t, res.Activated)
	assert.Equal(t, []core.Phase{core.PhaseEvaluating, core.PhaseDownloading, core.PhaseFailed}, f.sender.phases())

	stored, ok := f.store.Get("A")
	require.True(t, ok)
	assert.Equal(t, selectionpolicy.StatusFailed, stored.Status)
	assert.NoFileExists(t, f.store.BundlePath("A"))
	assert.Nil(t, f.store.Launched())
}

func TestOfferMalformedChecksumFails(t *testing.T) {
	f := newFixture(t, Config{})

	m := announce("A", 0, nil)
	m.Checksum = "md5:abc"
	res, err := f.loader.Offer(context.Background(), m)
	require.ErrorContains(t, err, "invalid sha256 checksum")
	assert.Equal(t, StateFailed, res.State)
}

func TestOfferRequireChecksum(t *testing.T) {
	f := newFixture(t, Config{RequireChecksum: true})

	res, err := f.loader.Offer(context.Background(), announce("A", 0, nil))
	require.ErrorIs(t, err, ErrNoChecksum)
	assert.Equal(t, StateFailed, res.State)
	assert.Empty(t, f.fetcher.calls)

	m := announce("E", 1, nil)
	m.IsEmbedded = true
	res, err = f.loader.Offer(context.Background(), m)
	require.NoError(t, err, "embedded updates are not downloaded")
	assert.Equal(t, StateReady, res.State)
}

func TestOfferEmbeddedSkipsDownload(t *testing.T) {
	f := newFixture(t, Config{})

	m := announce("E", 0, nil)
	m.IsEmbedded = true
	res, err := f.loader.Offer(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, StateReady, res.State)
	assert.Empty(t, f.fetcher.calls)
	assert.True(t, res.Record.IsEmbedded)
}

func TestOfferNilManifest(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.loader.Offer(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNilManifest)
}

func TestConfigFiltersOverrideManifestFilters(t *testing.T) {
	f := newFixture(t, Config{Filters: selectionpolicy.FilterSet{"channel": "stable"}})

	m := announce("A", 0, map[string]any{"channel": "stable"})
	m.Filters = map[string]string{"channel": "beta"}
	res, err := f.loader.Offer(context.Background(), m)
	require.NoError(t, err)
	assert.True(t, res.Decision.Load)

	m = announce("B", 1, map[string]any{"channel": "beta"})
	res, err = f.loader.Offer(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, selectionpolicy.CheckFilter, res.Decision.Check)
}

func TestHandleAnnounceViaRoutes(t *testing.T) {
	f := newFixture(t, Config{})

	routes := f.loader.Routes()
	require.Contains(t, routes, core.EventAnnounce)
	require.Contains(t, routes, core.EventBroadcast)

	payload := []byte(`{"id":"A","createdAt":"2025-03-01T10:00:00Z","runtimeVersion":"45.0","isEmbedded":true,"bundleKey":"bundles/A"}`)
	require.NoError(t, routes[core.EventAnnounce](context.Background(), payload))

	stored, ok := f.store.Get("A")
	require.True(t, ok)
	assert.False(t, stored.IsEmbedded, "remote announcements are never embedded")
	assert.Equal(t, []string{"bundles/A"}, f.fetcher.calls)
}

func TestPreviewHasNoSideEffects(t *testing.T) {
	f := newFixture(t, Config{})

	d := f.loader.Preview(announce("A", 0, nil), nil, nil)
	assert.True(t, d.Load)

	d = f.loader.Preview(announce("A", 0, nil), announce("B", 5, nil), nil)
	assert.False(t, d.Load)
	assert.Equal(t, selectionpolicy.CheckPrecedence, d.Check)

	d = f.loader.Preview(announce("A", 0, map[string]any{"channel": "beta"}), nil, selectionpolicy.FilterSet{"channel": "stable"})
	assert.Equal(t, selectionpolicy.CheckFilter, d.Check)

	d = f.loader.Preview(nil, nil, nil)
	assert.Equal(t, selectionpolicy.CheckWellFormed, d.Check)

	assert.Empty(t, f.fetcher.calls)
	assert.Empty(t, f.sender.phases())
	_, ok := f.store.Get("A")
	assert.False(t, ok)
}

func TestPreviewMatchesOffer(t *testing.T) {
	f := newFixture(t, Config{Filters: selectionpolicy.FilterSet{"channel": "stable"}})

	_, err := f.loader.Offer(context.Background(), announce("A", 0, map[string]any{"channel": "stable"}))
	require.NoError(t, err)

	d := f.loader.Preview(announce("A", 0, map[string]any{"channel": "stable"}), nil, nil)
	assert.False(t, d.Load)
	assert.Equal(t, selectionpolicy.CheckIdentity, d.Check)
	assert.ErrorIs(t, d.Reason, ErrAlreadyStored)

	d = f.loader.Preview(announce("B", 1, map[string]any{"channel": "beta"}), nil, selectionpolicy.FilterSet{"channel": "beta"})
	assert.False(t, d.Load, "configured filters win over request filters")
	assert.Equal(t, selectionpolicy.CheckFilter, d.Check)

	d = f.loader.Preview(announce("B", 1, map[string]any{"channel": "stable", "ring": "2"}), nil, selectionpolicy.FilterSet{"ring": "2"})
	assert.True(t, d.Load)
}

func TestLaunchOnStartupReaps(t *testing.T) {
	f := newFixture(t, Config{Reap: true})

	for i, id := range []string{"A", "B", "C"} {
		_, err := f.loader.Offer(context.Background(), announce(id, i, nil))
		require.NoError(t, err)
	}
	f.sender.reset()

	launched, err := f.loader.LaunchOnStartup(context.Background())
	require.NoError(t, err)
	require.NotNil(t, launched)
	assert.Equal(t, "C", launched.ID)
	assert.Equal(t, []core.Phase{core.PhaseLaunched}, f.sender.phases())

	_, ok := f.store.Get("A")
	assert.False(t, ok, "A is older than the rollback target B")
	_, ok = f.store.Get("B")
	assert.True(t, ok)

	f.sender.reset()
	_, err = f.loader.LaunchOnStartup(context.Background())
	require.NoError(t, err)
	assert.Empty(t, f.sender.phases(), "an unchanged launch is not reported again")
}

func TestLaunchOnStartupWithNothingStored(t *testing.T) {
	f := newFixture(t, Config{Reap: true})

	launched, err := f.loader.LaunchOnStartup(context.Background())
	require.NoError(t, err)
	assert.Nil(t, launched)
}
