package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/autopeer-io/otapolicy/internal/pkg/metrics"
	"github.com/autopeer-io/otapolicy/internal/updateagent/core"
	"github.com/autopeer-io/otapolicy/pkg/log"
	"github.com/autopeer-io/otapolicy/pkg/mqtt"
	mqtttopic "github.com/autopeer-io/otapolicy/pkg/mqtt/topic"
)

// Hub is the agent's MQTT transport: it publishes events on their topics and dispatches
// subscribed topics to module handlers.
type Hub struct {
	deviceID string

	mc     mqtt.Client
	topics *mqtttopic.TopicBuilder

	mu     sync.Mutex
	routes map[string]core.HandlerFunc

	ready     chan struct{}
	readyOnce sync.Once
}

var _ core.Sender = (*Hub)(nil)

func New(deviceID string, client mqtt.Client, topicBuilder *mqtttopic.TopicBuilder) *Hub {
	return &Hub{
		deviceID: deviceID,
		mc:       client,
		topics:   topicBuilder,
		routes:   make(map[string]core.HandlerFunc),
		ready:    make(chan struct{}),
	}
}

func (h *Hub) Send(ctx context.Context, event core.EventType, payload []byte) error {
	topic, err := h.topicFor(event)
	if err != nil {
		return err
	}
	return h.mc.Publish(ctx, topic, mqtt.AtLeastOnce, retained[event], payload)
}

func (h *Hub) SendJSON(ctx context.Context, event core.EventType, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return h.Send(ctx, event, payload)
}

func (h *Hub) IsConnected() bool {
	return h.mc.IsConnected()
}

// Ready is closed once Start has connected, subscribed and announced the device.
func (h *Hub) Ready() <-chan struct{} {
	return h.ready
}

// Start connects, subscribes every registered route and marks the device online.
func (h *Hub) Start(ctx context.Context) error {
	if err := h.mc.Start(ctx); err != nil {
		return err
	}

	if err := h.mc.AwaitConnection(ctx); err != nil {
		return err
	}

	h.mu.Lock()
	routes := make(map[string]core.HandlerFunc, len(h.routes))
	for topic, handler := range h.routes {
		routes[topic] = handler
	}
	h.mu.Unlock()

	for topic, handler := range routes {
		err := h.mc.Subscribe(ctx, topic, mqtt.AtLeastOnce, func(c context.Context, t string, p []byte) {
			if handleErr := handler(c, p); handleErr != nil {
				log.Error(handleErr, "Handler execution failed", "topic", t)
			}
		})
		if err != nil {
			return err
		}
	}

	if err := h.SendJSON(ctx, core.EventOnline, core.OnlineStatus{DeviceID: h.deviceID, Online: true}); err != nil {
		return err
	}

	h.readyOnce.Do(func() { close(h.ready) })
	return nil
}

// Stop marks the device offline and disconnects.
func (h *Hub) Stop() {
	log.Info("Disconnecting MQTT client...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if h.mc.IsConnected() {
		offline := core.OnlineStatus{DeviceID: h.deviceID, Online: false, Reason: "Shutdown"}
		if err := h.SendJSON(ctx, core.EventOnline, offline); err != nil {
			log.Warn("Failed to publish offline status", "error", err)
		}
	}
	h.mc.Disconnect(ctx)
	metrics.BrokerConnectivityStatus.Set(0)
}

// Run starts the hub and keeps the connectivity gauge current until ctx ends.
func (h *Hub) Run(ctx context.Context) error {
	if err := h.Start(ctx); err != nil {
		return err
	}
	defer h.Stop()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		h.observeConnectivity()
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (h *Hub) observeConnectivity() {
	if h.mc.IsConnected() {
		metrics.BrokerConnectivityStatus.Set(1)
		return
	}
	metrics.BrokerConnectivityStatus.Set(0)
}

// OfflineWill returns the payload the broker publishes on the online topic when the device
// disappears without a clean disconnect.
func OfflineWill(topics *mqtttopic.TopicBuilder, deviceID string) (topic string, payload []byte) {
	payload, _ = json.Marshal(core.OnlineStatus{
		DeviceID: deviceID,
		Online:   false,
		Reason:   "UnexpectedDisconnect",
	})
	return topics.Online(deviceID), payload
}
