// Package selectionpolicy decides which over-the-air updates a device loads, launches and
// deletes. Every policy here is a pure function of its arguments: no I/O, no logging and no
// mutation, so a policy value may be shared between goroutines and called speculatively.
// Any input the policy cannot judge resolves to the non-acting answer.
package selectionpolicy

import (
	"fmt"
)

// LoaderSelectionPolicy decides whether a newly discovered candidate update should be loaded
// (fetched remotely or copied from an embedded location) given the currently launched update.
// A nil launched update means nothing has launched yet.
type LoaderSelectionPolicy interface {
	ShouldLoadNewUpdate(candidate, launched *UpdateRecord, filters FilterSet) bool
}

// Evaluator is a LoaderSelectionPolicy that can also explain its answer.
type Evaluator interface {
	LoaderSelectionPolicy

	// Evaluate returns the decision together with the check that rejected the candidate.
	Evaluate(candidate, launched *UpdateRecord, filters FilterSet) Decision
}

// Strategy names accepted by New.
const (
	StrategyNewest  = "newest"
	StrategyChannel = "channel"
)

// DefaultChannelKey is the metadata key carrying the release channel.
const DefaultChannelKey = "channel"

// Config configures the strategies built by New.
type Config struct {
	// RuntimeVersion is the runtime version of the running application.
	RuntimeVersion string

	// ChannelKey and Channel are used by the channel strategy.
	ChannelKey string
	Channel    string
}

// Strategies lists the names New understands.
func Strategies() []string {
	return []string{StrategyNewest, StrategyChannel}
}

// New builds the loader strategy registered under name.
func New(name string, cfg Config) (Evaluator, error) {
	switch name {
	case StrategyNewest:
		return NewNewestWins(cfg.RuntimeVersion), nil
	case StrategyChannel:
		if cfg.Channel == "" {
			return nil, fmt.Errorf("strategy %q requires a channel", name)
		}
		key := cfg.ChannelKey
		if key == "" {
			key = DefaultChannelKey
		}
		return NewChannelPinned(NewNewestWins(cfg.RuntimeVersion), key, cfg.Channel), nil
	default:
		return nil, fmt.Errorf("unknown selection strategy %q", name)
	}
}

var (
	_ Evaluator = (*NewestWins)(nil)
	_ Evaluator = (*ChannelPinned)(nil)
)

// NewestWins loads a runtime-compatible candidate that matches the filters and takes
// precedence over the launched update (newer CreatedAt unless DirectiveOrderBy says otherwise).
type NewestWins struct {
	runtimeVersion string
}

func NewNewestWins(runtimeVersion string) *NewestWins {
	return &NewestWins{runtimeVersion: runtimeVersion}
}

// RuntimeVersion returns the runtime version candidates are checked against.
func (p *NewestWins) RuntimeVersion() string {
	return p.runtimeVersion
}

func (p *NewestWins) ShouldLoadNewUpdate(candidate, launched *UpdateRecord, filters FilterSet) bool {
	return p.Evaluate(candidate, launched, filters).Load
}

func (p *NewestWins) Evaluate(candidate, launched *UpdateRecord, filters FilterSet) (d Decision) {
	defer recoverDecision(&d)

	if err := candidate.validate(); err != nil {
		return reject(CheckWellFormed, err)
	}
	if launched != nil {
		if err := launched.validate(); err != nil {
			return reject(CheckWellFormed, fmt.Errorf("launched update: %w", err))
		}
	}

	if err := checkRuntime(p.runtimeVersion, candidate.RuntimeVersion, filters); err != nil {
		return reject(CheckRuntime, err)
	}

	if launched != nil {
		if candidate.ID == launched.ID {
			return reject(CheckIdentity, fmt.Errorf("%w: %s", ErrAlreadyLaunched, candidate.ID))
		}

		c, err := compareRecords(candidate, launched, filters)
		if err != nil {
			return reject(CheckPrecedence, err)
		}
		if c <= 0 {
			return reject(CheckPrecedence, fmt.Errorf("%w: %s vs %s", ErrNotPreferred, candidate.ID, launched.ID))
		}
	}

	if err := matchFilters(candidate.Metadata, filters); err != nil {
		return reject(CheckFilter, err)
	}

	return accept()
}

// ChannelPinned restricts another policy to a single release channel. The pinned channel
// overrides any value the caller passes for the same key.
type ChannelPinned struct {
	base    Evaluator
	key     string
	channel string
}

func NewChannelPinned(base Evaluator, key, channel string) *ChannelPinned {
	return &ChannelPinned{base: base, key: key, channel: channel}
}

func (p *ChannelPinned) ShouldLoadNewUpdate(candidate, launched *UpdateRecord, filters FilterSet) bool {
	return p.Evaluate(candidate, launched, filters).Load
}

func (p *ChannelPinned) Evaluate(candidate, launched *UpdateRecord, filters FilterSet) Decision {
	return p.base.Evaluate(candidate, launched, filters.With(p.key, PrefixExact+p.channel))
}
