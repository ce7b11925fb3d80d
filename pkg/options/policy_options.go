package options

import (
	"fmt"
	"slices"

	"github.com/spf13/pflag"

	"github.com/autopeer-io/otapolicy/pkg/selectionpolicy"
)

var _ IOptions = (*PolicyOptions)(nil)

// PolicyOptions selects and configures the update-selection strategy.
type PolicyOptions struct {
	// Strategy is the loader strategy name, see selectionpolicy.Strategies.
	Strategy string `json:"strategy" mapstructure:"strategy"`

	// RuntimeVersion overrides the runtime version discovered from the device.
	RuntimeVersion string `json:"runtime-version" mapstructure:"runtime-version"`

	// ChannelKey is the metadata key holding the release channel.
	ChannelKey string `json:"channel-key" mapstructure:"channel-key"`

	// Channel is the release channel pinned by the "channel" strategy.
	Channel string `json:"channel" mapstructure:"channel"`

	// Filters are applied to every decision in addition to the filters carried by a manifest.
	Filters map[string]string `json:"filters" mapstructure:"filters"`

	// ActivateOnLoad marks a freshly loaded update as launched instead of waiting for the
	// next start of the agent.
	ActivateOnLoad bool `json:"activate-on-load" mapstructure:"activate-on-load"`
}

func NewPolicyOptions() *PolicyOptions {
	return &PolicyOptions{
		Strategy:   selectionpolicy.StrategyNewest,
		ChannelKey: selectionpolicy.DefaultChannelKey,
		Filters:    map[string]string{},
	}
}

func (o *PolicyOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if !slices.Contains(selectionpolicy.Strategies(), o.Strategy) {
		errors = append(errors, fmt.Errorf("--policy.strategy %q is not one of %v", o.Strategy, selectionpolicy.Strategies()))
	}

	if o.Strategy == selectionpolicy.StrategyChannel && o.Channel == "" {
		errors = append(errors, fmt.Errorf("--policy.channel is required by the %q strategy", o.Strategy))
	}

	if o.ChannelKey == "" {
		errors = append(errors, fmt.Errorf("--policy.channel-key must not be empty"))
	}

	return errors
}

func (o *PolicyOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Strategy, "policy.strategy", o.Strategy, fmt.Sprintf("Update selection strategy, one of %v.", selectionpolicy.Strategies()))
	fs.StringVar(&o.RuntimeVersion, "policy.runtime-version", o.RuntimeVersion, "Running runtime version (defaults to the one reported by the device).")
	fs.StringVar(&o.ChannelKey, "policy.channel-key", o.ChannelKey, "Metadata key holding the release channel.")
	fs.StringVar(&o.Channel, "policy.channel", o.Channel, "Release channel pinned by the channel strategy.")
	fs.StringToStringVar(&o.Filters, "policy.filter", o.Filters, "Filters applied to every decision (key=value, value may use eq:, re: or cel: prefixes).")
	fs.BoolVar(&o.ActivateOnLoad, "policy.activate-on-load", o.ActivateOnLoad, "Launch a loaded update immediately instead of on next start.")
}

// NewSelectionPolicy builds the configured policy bundle for the given running runtime version.
func (o *PolicyOptions) NewSelectionPolicy(runtimeVersion string) (*selectionpolicy.SelectionPolicy, error) {
	if o.RuntimeVersion != "" {
		runtimeVersion = o.RuntimeVersion
	}

	loader, err := selectionpolicy.New(o.Strategy, selectionpolicy.Config{
		RuntimeVersion: runtimeVersion,
		ChannelKey:     o.ChannelKey,
		Channel:        o.Channel,
	})
	if err != nil {
		return nil, err
	}

	return selectionpolicy.NewSelectionPolicy(runtimeVersion, loader), nil
}
