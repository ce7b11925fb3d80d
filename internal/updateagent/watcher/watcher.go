// Package watcher feeds manifests of embedded updates to the loader as they appear on disk.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/autopeer-io/otapolicy/internal/updateagent/loader"
	"github.com/autopeer-io/otapolicy/pkg/log"
	"github.com/autopeer-io/otapolicy/pkg/manifest"
)

var manifestExts = []string{".json", ".yaml", ".yml"}

// Offerer accepts manifests for evaluation.
type Offerer interface {
	Offer(ctx context.Context, m *manifest.Manifest) (*loader.Result, error)
}

// Watcher offers every manifest file in dir once at start and again whenever it is written.
type Watcher struct {
	dir     string
	offerer Offerer
}

func New(dir string, offerer Offerer) *Watcher {
	return &Watcher{dir: dir, offerer: offerer}
}

// Run blocks until ctx ends or the underlying watcher fails.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}
	log.Info("Watching embedded manifests", "dir", w.dir)

	if err := w.Scan(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				w.offerFile(ctx, event.Name)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Error(err, "File watcher error", "dir", w.dir)
		}
	}
}

// Scan offers every manifest file currently in the directory, in name order.
func (w *Watcher) Scan(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", w.dir, err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		w.offerFile(ctx, filepath.Join(w.dir, e.Name()))
	}
	return nil
}

func (w *Watcher) offerFile(ctx context.Context, path string) {
	if !isManifest(path) {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn("Failed to read manifest", "path", path, "error", err)
		return
	}

	manifests, err := manifest.DecodeAll(data)
	if err != nil {
		log.Warn("Skipping undecodable manifest", "path", path, "error", err)
		return
	}

	for _, m := range manifests {
		if m == nil {
			continue
		}
		m.IsEmbedded = true
		res, err := w.offerer.Offer(ctx, m)
		if err != nil {
			log.Error(err, "Failed to offer embedded update", "path", path, "updateID", m.ID)
			continue
		}
		log.Debug("Offered embedded update", "path", path, "updateID", m.ID, "state", res.State)
	}
}

func isManifest(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return slices.Contains(manifestExts, strings.ToLower(filepath.Ext(base)))
}
