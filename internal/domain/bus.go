package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels or NATS.
// All methods are scoped by sessionID so sessions never see each other's events.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, sessionID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, sessionID string, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	SessionID string            `json:"sessionId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `toml:"type"`

	// Channel settings
	ChannelBufferSize int `toml:"channel_buffer_size"`

	// NATS settings
	NATSUrl           string `toml:"nats_url"`
	NATSToken         string `toml:"nats_token"`
	NATSMaxReconnects int    `toml:"nats_max_reconnects"`
	NATSReconnectWait int    `toml:"nats_reconnect_wait"` // seconds
}

// Standard topic names for the live monitoring pipeline.
const (
	TopicBatchStreamed = "sentinel.batch.streamed"
	TopicBatchScored   = "sentinel.batch.scored"
	TopicIncident      = "sentinel.incident"
)
