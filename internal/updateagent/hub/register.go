package hub

import (
	"fmt"

	"github.com/autopeer-io/otapolicy/internal/updateagent/core"
	mqtttopic "github.com/autopeer-io/otapolicy/pkg/mqtt/topic"
)

var (
	// events maps every event to its topic segment.
	events = map[core.EventType]string{
		core.EventRegister:  mqtttopic.SuffixRegister,
		core.EventOnline:    mqtttopic.SuffixOnline,
		core.EventAnnounce:  mqtttopic.SuffixAnnounce,
		core.EventBroadcast: mqtttopic.SuffixAnnounce,
		core.EventStatus:    mqtttopic.SuffixStatus,
	}

	// retained events keep their last value on the broker.
	retained = map[core.EventType]bool{
		core.EventRegister: true,
		core.EventOnline:   true,
	}
)

// Register routes the messages of a downstream event to handler.
func (h *Hub) Register(event core.EventType, handler core.HandlerFunc) error {
	topic, err := h.topicFor(event)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.routes[topic] = handler
	return nil
}

func (h *Hub) topicFor(event core.EventType) (string, error) {
	segment, ok := events[event]
	if !ok {
		return "", fmt.Errorf("unmapped event: %s", event)
	}
	if event == core.EventBroadcast {
		return h.topics.Build(segment, mqtttopic.Broadcast), nil
	}
	return h.topics.Build(segment, h.deviceID), nil
}
