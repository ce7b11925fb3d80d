package mqtt

import (
	"context"
	"errors"
)

// Delivery guarantees, as passed to Publish and Subscribe.
const (
	AtMostOnce  = 0
	AtLeastOnce = 1
	ExactlyOnce = 2
)

// ErrNotStarted is returned by operations issued before Start.
var ErrNotStarted = errors.New("mqtt client not started")

// MessageHandler processes one received message. Handlers run on their own goroutine.
type MessageHandler func(ctx context.Context, topic string, payload []byte)

// Client is the MQTT session used by the update agent.
type Client interface {
	// Start connects in the background and keeps reconnecting until ctx ends.
	// Use AwaitConnection to block until the first connection is up.
	Start(ctx context.Context) error

	Disconnect(ctx context.Context)

	Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error

	// Subscribe routes messages matching the filter to handler. Subscriptions survive
	// reconnects.
	Subscribe(ctx context.Context, topic string, qos int, handler MessageHandler) error

	Unsubscribe(ctx context.Context, topic string) error

	AwaitConnection(ctx context.Context) error

	IsConnected() bool
}
