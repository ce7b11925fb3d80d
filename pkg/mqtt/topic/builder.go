package topic

import (
	"strings"
)

// Topic segments shared by the update publisher and the device agents.
// Changing these values breaks compatibility with deployed agents.
const (
	// SuffixAnnounce carries update manifests (Cloud -> Edge).
	// Structure: {root}/update/announce/{deviceID}
	SuffixAnnounce = "update/announce"

	// SuffixStatus carries load decisions and progress (Edge -> Cloud).
	// Structure: {root}/update/status/{deviceID}
	SuffixStatus = "update/status"

	// SuffixRegister announces a device and its runtime version (Edge -> Cloud).
	// Structure: {root}/register/{deviceID}
	SuffixRegister = "register"

	// SuffixOnline carries the retained online flag and the last will (Edge -> Cloud).
	// Structure: {root}/online/{deviceID}
	SuffixOnline = "online"
)

// Broadcast is the identifier segment addressing every device at once.
const Broadcast = "all"

// TopicBuilder constructs MQTT topic strings under a root namespace.
type TopicBuilder struct {
	// root is the base namespace for all topics (e.g., "ota/v1").
	root string
}

// NewTopicBuilder creates a new instance of TopicBuilder with the specified root namespace.
func NewTopicBuilder(root string) *TopicBuilder {
	return &TopicBuilder{root: strings.TrimSuffix(root, "/")}
}

// Root returns the namespace the builder was created with.
func (b *TopicBuilder) Root() string {
	return b.root
}

// Build returns {root}/{segment}/{id}.
func (b *TopicBuilder) Build(segment, id string) string {
	return b.root + "/" + segment + "/" + id
}

// Announce returns the topic on which updates for one device are announced.
func (b *TopicBuilder) Announce(deviceID string) string {
	return b.Build(SuffixAnnounce, deviceID)
}

// AnnounceBroadcast returns the topic on which updates for every device are announced.
func (b *TopicBuilder) AnnounceBroadcast() string {
	return b.Build(SuffixAnnounce, Broadcast)
}

// Status returns the topic a device reports load progress on.
func (b *TopicBuilder) Status(deviceID string) string {
	return b.Build(SuffixStatus, deviceID)
}

// StatusWildcard returns the topic the publisher subscribes to for every device's status.
// Result: {root}/update/status/+
func (b *TopicBuilder) StatusWildcard() string {
	return b.Build(SuffixStatus, Wildcard)
}

// Register returns the topic a device registers itself on.
func (b *TopicBuilder) Register(deviceID string) string {
	return b.Build(SuffixRegister, deviceID)
}

// Online returns the topic carrying a device's online flag.
func (b *TopicBuilder) Online(deviceID string) string {
	return b.Build(SuffixOnline, deviceID)
}

// DeviceID extracts the trailing identifier from a topic built by this builder.
// It reports false when the topic is outside the root or has no identifier.
func (b *TopicBuilder) DeviceID(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, b.root+"/")
	if !ok {
		return "", false
	}
	i := strings.LastIndexByte(rest, '/')
	if i < 0 || i == len(rest)-1 {
		return "", false
	}
	return rest[i+1:], true
}
