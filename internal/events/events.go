// Package events provides best-effort event distribution between the
// services. Delivery is at-most-once: a publish that fails after the
// originating mutation is logged and dropped, never rolled back, and
// consumers acknowledge only after their handler succeeds.
package events

import (
	"context"
	"errors"
	"time"
)

// Exchange is the shared topic exchange all services publish to.
const Exchange = "social.events"

// Routing keys for the events the platform emits.
const (
	// RoutingKeyPostCreated is published after a post is durably stored.
	RoutingKeyPostCreated = "post.created"

	// RoutingKeyPostDeleted is published after a post is removed from
	// storage. Media and search consume it to release derived state.
	RoutingKeyPostDeleted = "post.deleted"
)

// Common broker errors.
var (
	// ErrBrokerClosed indicates the broker connection has been closed.
	ErrBrokerClosed = errors.New("event broker closed")

	// ErrNotConnected indicates the broker has no live connection.
	ErrNotConnected = errors.New("event broker not connected")
)

// PostCreatedEvent is the payload for RoutingKeyPostCreated.
type PostCreatedEvent struct {
	PostID    string    `json:"postId"`
	UserID    string    `json:"userId"`
	Content   string    `json:"content"`
	MediaIDs  []string  `json:"mediaIds,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// PostDeletedEvent is the payload for RoutingKeyPostDeleted.
type PostDeletedEvent struct {
	PostID   string   `json:"postId"`
	UserID   string   `json:"userId"`
	MediaIDs []string `json:"mediaIds,omitempty"`
}

// Publisher emits events to the fabric.
type Publisher interface {
	// Publish sends the payload under the given routing key. The
	// payload is JSON-encoded on the wire.
	Publish(ctx context.Context, routingKey string, payload any) error
}

// HandlerFunc processes one delivered event. Returning an error leaves
// the delivery unacknowledged; the broker may redeliver it or drop it
// per its own policy.
type HandlerFunc func(ctx context.Context, routingKey string, body []byte) error

// Consumer subscribes to events matching a binding pattern.
type Consumer interface {
	// Consume binds an anonymous queue to the pattern and invokes the
	// handler for each delivery until ctx is cancelled. Patterns use
	// topic semantics: "*" matches one word, "#" matches zero or more.
	Consume(ctx context.Context, pattern string, handler HandlerFunc) error
}

// Broker is the full publish/subscribe surface plus lifecycle.
type Broker interface {
	Publisher
	Consumer

	// Close tears down the connection. Pending consumers stop.
	Close() error
}
