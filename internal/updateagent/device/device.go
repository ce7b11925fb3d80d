// Package device discovers the identity of the device the agent runs on.
//
// A privileged init step (systemd unit or init container) is expected to write the device ID
// and the running runtime version to files or inject them as environment variables, so the
// agent itself never talks to hardware.
package device

import (
	"errors"
	"os"
	"strings"

	"github.com/autopeer-io/otapolicy/pkg/log"
)

const (
	EnvDeviceID       = "OTAPOLICY_DEVICE_ID"
	EnvRuntimeVersion = "OTAPOLICY_RUNTIME_VERSION"
)

var ErrNoDeviceID = errors.New("unable to discover device id")

// Info is what the agent knows about its device.
type Info struct {
	ID             string
	RuntimeVersion string
}

// Discoverer looks up Info from the environment first, then from files.
type Discoverer struct {
	Getenv   func(string) string
	ReadFile func(string) ([]byte, error)

	IDFiles      []string
	RuntimeFiles []string
}

func NewDiscoverer() *Discoverer {
	return &Discoverer{
		Getenv:       os.Getenv,
		ReadFile:     os.ReadFile,
		IDFiles:      []string{"/etc/otapolicy/device-id", "/etc/machine-id"},
		RuntimeFiles: []string{"/etc/otapolicy/runtime-version"},
	}
}

// Discover returns ErrNoDeviceID when no source yields an ID. An unknown runtime version is
// left empty; the loader policy then rejects every candidate.
func (d *Discoverer) Discover() (Info, error) {
	info := Info{
		ID:             d.lookup(EnvDeviceID, d.IDFiles),
		RuntimeVersion: d.lookup(EnvRuntimeVersion, d.RuntimeFiles),
	}
	if info.ID == "" {
		return info, ErrNoDeviceID
	}
	if info.RuntimeVersion == "" {
		log.Warn("Runtime version not discovered, every update will be rejected", "deviceID", info.ID)
	}
	return info, nil
}

func (d *Discoverer) lookup(env string, files []string) string {
	if v := strings.TrimSpace(d.Getenv(env)); v != "" {
		log.Debug("Device value detected from env", "env", env, "value", v)
		return v
	}

	for _, f := range files {
		content, err := d.ReadFile(f)
		if err != nil {
			continue
		}
		if v := strings.TrimSpace(string(content)); v != "" {
			log.Debug("Device value detected from file", "file", f, "value", v)
			return v
		}
	}

	return ""
}
