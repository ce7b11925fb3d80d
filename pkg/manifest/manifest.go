// Package manifest holds the wire form of update announcements and its lenient conversion
// into selection policy records.
package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/autopeer-io/otapolicy/pkg/selectionpolicy"
)

// Manifest announces an update. It is published over MQTT as JSON and stored as JSON or
// YAML for embedded updates and CLI input.
type Manifest struct {
	ID             string         `json:"id" yaml:"id"`
	CreatedAt      Timestamp      `json:"createdAt" yaml:"createdAt"`
	RuntimeVersion string         `json:"runtimeVersion" yaml:"runtimeVersion"`
	Metadata       map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	IsEmbedded     bool           `json:"isEmbedded,omitempty" yaml:"isEmbedded,omitempty"`

	// BundleKey is the object key of the bundle in the update bucket.
	BundleKey string `json:"bundleKey,omitempty" yaml:"bundleKey,omitempty"`

	// Checksum is the hex SHA-256 of the bundle, optionally prefixed with "sha256:".
	Checksum string `json:"checksum,omitempty" yaml:"checksum,omitempty"`

	// Filters are manifest filters sent by the update server alongside the update.
	Filters map[string]string `json:"filters,omitempty" yaml:"filters,omitempty"`
}

// Timestamp accepts RFC 3339 strings and integer epoch milliseconds. Anything else decodes
// to the zero time instead of failing, so a malformed timestamp reaches the policy and is
// rejected there.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	t.Time = time.Time{}

	var raw any
	if err := decodeJSON(b, &raw); err != nil {
		return nil
	}
	t.Time = parseTime(raw)
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalYAML(node *yaml.Node) error {
	t.Time = time.Time{}

	var raw any
	if err := node.Decode(&raw); err != nil {
		return nil
	}
	t.Time = parseTime(raw)
	return nil
}

func (t Timestamp) MarshalYAML() (any, error) {
	if t.IsZero() {
		return "", nil
	}
	return t.UTC().Format(time.RFC3339Nano), nil
}

func parseTime(raw any) time.Time {
	switch v := raw.(type) {
	case time.Time:
		return v
	case string:
		s := strings.TrimSpace(v)
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 0 {
			return time.UnixMilli(ms).UTC()
		}
	case json.Number:
		if ms, err := v.Int64(); err == nil && ms > 0 {
			return time.UnixMilli(ms).UTC()
		}
	case float64:
		if v > 0 && v == float64(int64(v)) {
			return time.UnixMilli(int64(v)).UTC()
		}
	case int:
		if v > 0 {
			return time.UnixMilli(int64(v)).UTC()
		}
	}
	return time.Time{}
}

// ToRecord converts the manifest into a policy record with status pending. Scalar metadata
// values are stringified; nested values are dropped.
func (m *Manifest) ToRecord() *selectionpolicy.UpdateRecord {
	return &selectionpolicy.UpdateRecord{
		ID:             strings.TrimSpace(m.ID),
		CreatedAt:      m.CreatedAt.Time,
		RuntimeVersion: strings.TrimSpace(m.RuntimeVersion),
		Metadata:       flattenMetadata(m.Metadata),
		IsEmbedded:     m.IsEmbedded,
		Status:         selectionpolicy.StatusPending,
	}
}

func flattenMetadata(in map[string]any) map[string]string {
	if len(in) == 0 {
		return nil
	}

	out := make(map[string]string, len(in))
	for k, v := range in {
		switch val := v.(type) {
		case string:
			out[k] = val
		case bool:
			out[k] = strconv.FormatBool(val)
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		case int:
			out[k] = strconv.Itoa(val)
		case int64:
			out[k] = strconv.FormatInt(val, 10)
		case uint64:
			out[k] = strconv.FormatUint(val, 10)
		case json.Number:
			out[k] = val.String()
		}
	}
	return out
}

// FromRecord builds the wire form of a record.
func FromRecord(r *selectionpolicy.UpdateRecord) *Manifest {
	m := &Manifest{
		ID:             r.ID,
		CreatedAt:      Timestamp{r.CreatedAt},
		RuntimeVersion: r.RuntimeVersion,
		IsEmbedded:     r.IsEmbedded,
	}
	if len(r.Metadata) > 0 {
		m.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			m.Metadata[k] = v
		}
	}
	return m
}

// DecodeJSON decodes a single manifest. Numeric metadata keeps its literal digits.
func DecodeJSON(b []byte) (*Manifest, error) {
	var m Manifest
	if err := decodeJSON(b, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return &m, nil
}

func decodeJSON(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after JSON value")
	}
	return nil
}

// DecodeAll decodes one manifest or a list of manifests from JSON or YAML.
func DecodeAll(b []byte) ([]*Manifest, error) {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty manifest document")
	}

	var list []*Manifest
	if err := yaml.Unmarshal(trimmed, &list); err == nil {
		return list, nil
	}

	var single Manifest
	if err := yaml.Unmarshal(trimmed, &single); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return []*Manifest{&single}, nil
}
