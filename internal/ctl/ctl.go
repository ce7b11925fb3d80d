// Package ctl implements otapolicyctl, an offline front end to the selection policies over
// manifest files.
package ctl

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/autopeer-io/otapolicy/pkg/manifest"
	"github.com/autopeer-io/otapolicy/pkg/options"
	"github.com/autopeer-io/otapolicy/pkg/selectionpolicy"
)

const (
	OutputTable = "table"
	OutputJSON  = "json"
	OutputYAML  = "yaml"
)

var outputs = []string{OutputTable, OutputJSON, OutputYAML}

// IOStreams are the streams commands print to.
type IOStreams struct {
	Out io.Writer
}

// policyFlags are shared by every subcommand.
type policyFlags struct {
	runtimeVersion string
	strategy       string
	channelKey     string
	channel        string
	filters        map[string]string
	output         string
}

func (f *policyFlags) addFlags(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.runtimeVersion, "runtime-version", "", "Runtime version of the running application (required).")
	fs.StringVar(&f.strategy, "strategy", selectionpolicy.StrategyNewest, fmt.Sprintf("Loader strategy, one of %v.", selectionpolicy.Strategies()))
	fs.StringVar(&f.channelKey, "channel-key", selectionpolicy.DefaultChannelKey, "Metadata key holding the release channel.")
	fs.StringVar(&f.channel, "channel", "", "Release channel pinned by the channel strategy.")
	fs.StringToStringVar(&f.filters, "filter", nil, "Filter (key=value, value may use eq:, re: or cel: prefixes). Repeatable.")
	fs.StringVarP(&f.output, "output", "o", OutputTable, fmt.Sprintf("Output format, one of %v.", outputs))
	_ = cmd.MarkFlagRequired("runtime-version")
}

func (f *policyFlags) policy() (*selectionpolicy.SelectionPolicy, error) {
	if !slices.Contains(outputs, f.output) {
		return nil, fmt.Errorf("--output %q is not one of %v", f.output, outputs)
	}

	o := &options.PolicyOptions{
		Strategy:   f.strategy,
		ChannelKey: f.channelKey,
		Channel:    f.channel,
	}
	if err := utilerrors.NewAggregate(o.Validate()); err != nil {
		return nil, err
	}
	return o.NewSelectionPolicy(f.runtimeVersion)
}

func (f *policyFlags) filterSet() selectionpolicy.FilterSet {
	return selectionpolicy.FilterSet(f.filters)
}

// NewCommands returns the otapolicyctl subcommands.
func NewCommands(streams IOStreams) []*cobra.Command {
	return []*cobra.Command{
		NewCmdEvaluate(streams),
		NewCmdLaunch(streams),
		NewCmdReap(streams),
	}
}

// readManifests reads one manifest or a list from a JSON or YAML file.
func readManifests(path string) ([]*manifest.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	ms, err := manifest.DecodeAll(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ms, nil
}

func readManifest(path string) (*manifest.Manifest, error) {
	ms, err := readManifests(path)
	if err != nil {
		return nil, err
	}
	if len(ms) != 1 || ms[0] == nil {
		return nil, fmt.Errorf("%s: expected exactly one manifest, found %d", path, len(ms))
	}
	return ms[0], nil
}

// readRecords reads stored updates; records from files are ready unless marked otherwise.
func readRecords(path string) ([]*selectionpolicy.UpdateRecord, error) {
	ms, err := readManifests(path)
	if err != nil {
		return nil, err
	}
	records := make([]*selectionpolicy.UpdateRecord, 0, len(ms))
	for _, m := range ms {
		if m == nil {
			continue
		}
		r := m.ToRecord()
		r.Status = selectionpolicy.StatusReady
		records = append(records, r)
	}
	return records, nil
}

func printStructured(out io.Writer, format string, v any) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case OutputYAML:
		enc := yaml.NewEncoder(out)
		defer enc.Close()
		return enc.Encode(v)
	}
	return fmt.Errorf("unsupported output %q", format)
}
