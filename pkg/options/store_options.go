package options

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/pflag"
)

var _ IOptions = (*StoreOptions)(nil)

// StoreOptions locates the on-device update registry and the embedded manifests.
type StoreOptions struct {
	// DataDir holds the registry state file and downloaded bundles.
	DataDir string `json:"data-dir" mapstructure:"data-dir"`

	// EmbeddedDir is watched for manifests of updates shipped with the application binary.
	// Empty disables the watcher.
	EmbeddedDir string `json:"embedded-dir" mapstructure:"embedded-dir"`

	// Reap deletes updates the reaper policy no longer needs after each launch change.
	Reap bool `json:"reap" mapstructure:"reap"`

	// RequireChecksum fails downloads of manifests that carry no bundle checksum.
	RequireChecksum bool `json:"require-checksum" mapstructure:"require-checksum"`
}

func NewStoreOptions() *StoreOptions {
	return &StoreOptions{
		DataDir: "/var/lib/otapolicy",
		Reap:    true,
	}
}

func (o *StoreOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.DataDir == "" {
		errors = append(errors, fmt.Errorf("--store.data-dir is required"))
	} else if !filepath.IsAbs(o.DataDir) {
		errors = append(errors, fmt.Errorf("--store.data-dir must be an absolute path, got %q", o.DataDir))
	}

	if o.EmbeddedDir != "" && !filepath.IsAbs(o.EmbeddedDir) {
		errors = append(errors, fmt.Errorf("--store.embedded-dir must be an absolute path, got %q", o.EmbeddedDir))
	}

	return errors
}

func (o *StoreOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.DataDir, "store.data-dir", o.DataDir, "Directory holding the update registry and downloaded bundles.")
	fs.StringVar(&o.EmbeddedDir, "store.embedded-dir", o.EmbeddedDir, "Directory of embedded update manifests to watch (empty disables).")
	fs.BoolVar(&o.Reap, "store.reap", o.Reap, "Delete updates that are no longer needed after a launch change.")
	fs.BoolVar(&o.RequireChecksum, "store.require-checksum", o.RequireChecksum, "Refuse bundles whose manifest carries no sha256 checksum.")
}
