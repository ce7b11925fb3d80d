package selectionpolicy

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"
)

// UpdateStatus is the load status of an update stored on the device.
type UpdateStatus string

const (
	StatusPending UpdateStatus = "pending"
	StatusReady   UpdateStatus = "ready"
	StatusFailed  UpdateStatus = "failed"
)

// UpdateRecord describes one deployed or candidate update bundle.
// Records are treated as immutable; policies never modify them.
type UpdateRecord struct {
	// ID is unique within a device's update history.
	ID string `json:"id"`

	// CreatedAt is the publication time. The zero time marks a malformed record.
	CreatedAt time.Time `json:"createdAt"`

	// RuntimeVersion names the native runtime the update was built against.
	RuntimeVersion string `json:"runtimeVersion"`

	// Metadata carries manifest attributes such as channel, branch or rollout.
	Metadata map[string]string `json:"metadata,omitempty"`

	// IsEmbedded is true for updates shipped inside the application binary.
	IsEmbedded bool `json:"isEmbedded"`

	// Status is only consulted by the launcher policy.
	Status UpdateStatus `json:"status,omitempty"`
}

func (r *UpdateRecord) validate() error {
	switch {
	case r == nil:
		return ErrNilCandidate
	case strings.TrimSpace(r.ID) == "":
		return fmt.Errorf("%w: empty id", ErrMalformedRecord)
	case r.CreatedAt.IsZero():
		return fmt.Errorf("%w: %s has no creation time", ErrMalformedRecord, r.ID)
	}
	return nil
}

// Directive keys are filter entries that steer the policy instead of matching metadata.
const (
	// DirectiveOrderBy names a metadata key that replaces CreatedAt as the precedence key.
	// Values that both parse as numbers compare numerically, so "1.9" is above "1.10".
	// Prefix the key with OrderBySemver to compare such values as versions.
	DirectiveOrderBy = "@orderBy"

	// DirectiveRuntimeVersionRange replaces exact runtime matching with a semantic-version
	// range, e.g. ">=45.0.0 <46.0.0".
	DirectiveRuntimeVersionRange = "@runtimeVersionRange"

	directivePrefix = "@"
)

// OrderBySemver prefixes a DirectiveOrderBy key whose values always compare as semantic
// versions, e.g. "semver:appVersion". A record whose value is not a version is malformed.
const OrderBySemver = "semver:"

var knownDirectives = map[string]struct{}{
	DirectiveOrderBy:             {},
	DirectiveRuntimeVersionRange: {},
}

// FilterSet maps a metadata key (or directive) to the value the candidate must satisfy.
type FilterSet map[string]string

// With returns a copy of f where key is set to value.
func (f FilterSet) With(key, value string) FilterSet {
	out := make(FilterSet, len(f)+1)
	maps.Copy(out, f)
	out[key] = value
	return out
}

// MergeFilters combines filter sets; later sets win on conflicting keys.
func MergeFilters(sets ...FilterSet) FilterSet {
	out := FilterSet{}
	for _, s := range sets {
		maps.Copy(out, s)
	}
	return out
}

// predicateKeys returns the metadata keys to match, sorted for deterministic reasons.
func (f FilterSet) predicateKeys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		if !strings.HasPrefix(k, directivePrefix) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

func (f FilterSet) checkDirectives() error {
	for k := range f {
		if !strings.HasPrefix(k, directivePrefix) {
			continue
		}
		if _, ok := knownDirectives[k]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownDirective, k)
		}
	}
	return nil
}
