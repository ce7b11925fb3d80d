package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/autopeer-io/otapolicy/pkg/log"
	"github.com/autopeer-io/otapolicy/pkg/mqtt/topic"
)

const (
	reconnectBackoff = 3 * time.Second
	sharedPrefix     = "$share/"
)

var tlsSchemes = []string{"ssl", "tls", "mqtts", "wss"}

type pahoClient struct {
	cfg *ClientConfig

	// cm is set once by Start while other goroutines may already publish.
	cm atomic.Pointer[autopaho.ConnectionManager]

	mu   sync.RWMutex
	subs map[string]subscription

	connected atomic.Bool
}

type subscription struct {
	qos     byte
	handler MessageHandler
}

// NewClient validates cfg, fills in defaults and returns an unstarted client.
func NewClient(cfg *ClientConfig) (Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("mqtt config is required")
	}

	setDefaultConfig(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mqtt config: %w", err)
	}

	return &pahoClient{
		cfg:  cfg,
		subs: map[string]subscription{},
	}, nil
}

func (c *pahoClient) Start(ctx context.Context) error {
	broker, err := url.Parse(c.cfg.BrokerURL)
	if err != nil {
		return err
	}

	cm, err := autopaho.NewConnection(ctx, autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{broker},
		KeepAlive:                     c.cfg.KeepAlive,
		CleanStartOnInitialConnection: c.cfg.CleanStart,
		SessionExpiryInterval:         c.cfg.SessionExpiry,
		ReconnectBackoff:              autopaho.NewConstantBackoff(reconnectBackoff),
		ConnectTimeout:                c.cfg.ConnectTimeout,
		ConnectUsername:               c.cfg.Username,
		ConnectPassword:               []byte(c.cfg.Password),
		TlsCfg:                        c.tlsConfig(broker),
		WillMessage:                   c.willMessage(),
		OnConnectionUp:                c.onConnectionUp,
		OnConnectError:                c.onConnectError,
		ClientConfig: paho.ClientConfig{
			ClientID:           c.cfg.ClientID,
			OnClientError:      c.onClientError,
			OnServerDisconnect: c.onServerDisconnect,
			OnPublishReceived:  []func(paho.PublishReceived) (bool, error){c.dispatch},
		},
	})
	if err != nil {
		return err
	}

	log.Info("Connecting to MQTT broker", "broker", c.cfg.BrokerURL, "clientID", c.cfg.ClientID)
	c.cm.Store(cm)
	return nil
}

func (c *pahoClient) manager() (*autopaho.ConnectionManager, error) {
	cm := c.cm.Load()
	if cm == nil {
		return nil, ErrNotStarted
	}
	return cm, nil
}

func (c *pahoClient) Disconnect(ctx context.Context) {
	cm, err := c.manager()
	if err != nil {
		return
	}
	if err := cm.Disconnect(ctx); err != nil {
		log.Warn("MQTT disconnect was not clean", "error", err)
	}
	c.connected.Store(false)
}

func (c *pahoClient) Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error {
	cm, err := c.manager()
	if err != nil {
		return err
	}

	_, err = cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     byte(qos),
		Retain:  retain,
		Payload: payload,
	})
	return err
}

func (c *pahoClient) Subscribe(ctx context.Context, topic string, qos int, handler MessageHandler) error {
	cm, err := c.manager()
	if err != nil {
		return err
	}

	// Recorded before the packet goes out so a reconnect in between still restores it.
	c.mu.Lock()
	c.subs[topic] = subscription{qos: byte(qos), handler: handler}
	c.mu.Unlock()

	if _, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: topic, QoS: byte(qos)}},
	}); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	log.Debug("Subscribed", "topic", topic, "qos", qos)
	return nil
}

func (c *pahoClient) Unsubscribe(ctx context.Context, topic string) error {
	cm, err := c.manager()
	if err != nil {
		return err
	}

	c.mu.Lock()
	delete(c.subs, topic)
	c.mu.Unlock()

	_, err = cm.Unsubscribe(ctx, &paho.Unsubscribe{Topics: []string{topic}})
	return err
}

func (c *pahoClient) AwaitConnection(ctx context.Context) error {
	cm, err := c.manager()
	if err != nil {
		return err
	}
	return cm.AwaitConnection(ctx)
}

func (c *pahoClient) IsConnected() bool {
	return c.connected.Load()
}

func (c *pahoClient) onConnectionUp(cm *autopaho.ConnectionManager, _ *paho.Connack) {
	c.connected.Store(true)
	log.Info("MQTT connection up", "broker", c.cfg.BrokerURL)

	sub := c.resubscription()
	if sub == nil {
		return
	}
	if _, err := cm.Subscribe(context.Background(), sub); err != nil {
		log.Error(err, "Failed to restore subscriptions", "count", len(sub.Subscriptions))
	}
}

// resubscription batches every known subscription into one packet, nil when there is none.
func (c *pahoClient) resubscription() *paho.Subscribe {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.subs) == 0 {
		return nil
	}

	opts := make([]paho.SubscribeOptions, 0, len(c.subs))
	for t, s := range c.subs {
		opts = append(opts, paho.SubscribeOptions{Topic: t, QoS: s.qos})
	}
	slices.SortFunc(opts, func(a, b paho.SubscribeOptions) int { return strings.Compare(a.Topic, b.Topic) })
	return &paho.Subscribe{Subscriptions: opts}
}

func (c *pahoClient) onConnectError(err error) {
	c.connected.Store(false)
	log.Error(err, "MQTT connect failed, retrying", "backoff", reconnectBackoff)
}

func (c *pahoClient) onClientError(err error) {
	c.connected.Store(false)
	log.Error(err, "MQTT client error")
}

func (c *pahoClient) onServerDisconnect(d *paho.Disconnect) {
	c.connected.Store(false)
	reason := ""
	if d.Properties != nil {
		reason = d.Properties.ReasonString
	}
	log.Warn("MQTT broker closed the session", "reasonCode", d.ReasonCode, "reason", reason)
}

// dispatch hands a received message to every matching handler and always acknowledges it.
func (c *pahoClient) dispatch(p paho.PublishReceived) (bool, error) {
	t, payload := p.Packet.Topic, p.Packet.Payload

	for _, h := range c.handlersFor(t) {
		go h(context.Background(), t, payload)
	}
	return true, nil
}

func (c *pahoClient) handlersFor(t string) []MessageHandler {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var handlers []MessageHandler
	for filter, s := range c.subs {
		if topicsMatch(topicFilter(filter), t) {
			handlers = append(handlers, s.handler)
		}
	}
	if len(handlers) == 0 {
		log.Debug("No handler for topic", "topic", t)
	}
	return handlers
}

func (c *pahoClient) willMessage() *paho.WillMessage {
	if c.cfg.WillTopic == "" {
		return nil
	}
	return &paho.WillMessage{
		Topic:   c.cfg.WillTopic,
		Payload: c.cfg.WillPayload,
		QoS:     c.cfg.WillQoS,
		Retain:  c.cfg.WillRetain,
	}
}

func (c *pahoClient) tlsConfig(broker *url.URL) *tls.Config {
	if !slices.Contains(tlsSchemes, broker.Scheme) {
		return nil
	}
	return &tls.Config{InsecureSkipVerify: c.cfg.InsecureSkipVerify}
}

// topicsMatch reports whether topic matches filter, honouring "+" and "#".
func topicsMatch(filter, t string) bool {
	if filter == t {
		return true
	}
	if !strings.ContainsAny(filter, topic.Wildcard+topic.MultiWildcard) {
		return false
	}

	fp := strings.Split(filter, "/")
	tp := strings.Split(t, "/")
	for i, part := range fp {
		switch {
		case part == topic.MultiWildcard:
			return true
		case i >= len(tp):
			return false
		case part != topic.Wildcard && part != tp[i]:
			return false
		}
	}
	return len(fp) == len(tp)
}

// topicFilter strips the "$share/<group>/" prefix of a shared subscription.
func topicFilter(filter string) string {
	if !strings.HasPrefix(filter, sharedPrefix) {
		return filter
	}
	if parts := strings.SplitN(filter, "/", 3); len(parts) == 3 {
		return parts[2]
	}
	return filter
}
