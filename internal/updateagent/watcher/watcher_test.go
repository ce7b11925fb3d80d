package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/otapolicy/internal/updateagent/loader"
	"github.com/autopeer-io/otapolicy/pkg/manifest"
)

type recordingOfferer struct {
	mu     sync.Mutex
	offers []*manifest.Manifest
}

func (r *recordingOfferer) Offer(_ context.Context, m *manifest.Manifest) (*loader.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offers = append(r.offers, m)
	return &loader.Result{State: loader.StateReady}, nil
}

func (r *recordingOfferer) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, m := range r.offers {
		out = append(out, m.ID)
	}
	return out
}

func write(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestScanOffersManifestFiles(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "a.json", `{"id":"A","createdAt":"2025-03-01T10:00:00Z","runtimeVersion":"45.0"}`)
	write(t, dir, "b.yaml", "- id: B\n  createdAt: 2025-03-01T11:00:00Z\n  runtimeVersion: \"45.0\"\n- id: C\n  createdAt: 1740830400000\n  runtimeVersion: \"45.0\"\n")
	write(t, dir, "notes.txt", "ignored")
	write(t, dir, ".hidden.json", `{"id":"H"}`)
	write(t, dir, "broken.yml", "id: [unterminated")

	o := &recordingOfferer{}
	require.NoError(t, New(dir, o).Scan(context.Background()))

	assert.Equal(t, []string{"A", "B", "C"}, o.ids())
	for _, m := range o.offers {
		assert.True(t, m.IsEmbedded)
	}
}

func TestScanMissingDir(t *testing.T) {
	o := &recordingOfferer{}
	assert.Error(t, New(filepath.Join(t.TempDir(), "missing"), o).Scan(context.Background()))
}

func TestRunOffersNewFiles(t *testing.T) {
	dir := t.TempDir()
	o := &recordingOfferer{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(dir, o).Run(ctx) }()

	// Give the watcher time to register before the file appears.
	time.Sleep(100 * time.Millisecond)
	write(t, dir, "late.json", `{"id":"L","createdAt":"2025-03-01T10:00:00Z","runtimeVersion":"45.0"}`)

	assert.Eventually(t, func() bool {
		for _, id := range o.ids() {
			if id == "L" {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestIsManifest(t *testing.T) {
	assert.True(t, isManifest("/x/a.JSON"))
	assert.True(t, isManifest("/x/a.yml"))
	assert.False(t, isManifest("/x/.a.json"))
	assert.False(t, isManifest("/x/a.json.swp"))
}
