package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/avelis/socialmesh/internal/observability"
)

// memorySubscriber is one bound consumer on the in-process bus.
type memorySubscriber struct {
	pattern string
	handler HandlerFunc
}

// MemoryBus is an in-process Broker with the same topic-matching
// semantics as the real exchange. It backs tests and single-binary
// development setups; deliveries are synchronous.
type MemoryBus struct {
	logger observability.Logger

	mu          sync.RWMutex
	subscribers []*memorySubscriber
	closed      bool
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus(logger observability.Logger) *MemoryBus {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &MemoryBus{logger: logger}
}

// Publish implements Publisher. Handler errors are logged and swallowed
// so one failing subscriber cannot fail the publish, matching the
// at-most-once contract of the real fabric.
func (b *MemoryBus) Publish(ctx context.Context, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode event %q: %w", routingKey, err)
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBrokerClosed
	}
	subscribers := make([]*memorySubscriber, len(b.subscribers))
	copy(subscribers, b.subscribers)
	b.mu.RUnlock()

	for _, sub := range subscribers {
		if !topicMatch(sub.pattern, routingKey) {
			continue
		}
		if err := sub.handler(ctx, routingKey, body); err != nil {
			handlerErrorsTotal.WithLabelValues(routingKey).Inc()
			b.logger.Error("event handler failed",
				observability.String("routingKey", routingKey),
				observability.Error(err))
			continue
		}
		consumedTotal.WithLabelValues(routingKey).Inc()
	}

	publishedTotal.WithLabelValues(routingKey).Inc()
	return nil
}

// Consume implements Consumer. The handler is registered immediately
// and the call blocks until ctx is cancelled, mirroring the AMQP
// consumer loop.
func (b *MemoryBus) Consume(ctx context.Context, pattern string, handler HandlerFunc) error {
	sub := &memorySubscriber{pattern: pattern, handler: handler}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrBrokerClosed
	}
	b.subscribers = append(b.subscribers, sub)
	b.mu.Unlock()

	<-ctx.Done()

	b.mu.Lock()
	for i, s := range b.subscribers {
		if s == sub {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			break
		}
	}
	b.mu.Unlock()
	return ctx.Err()
}

// Subscribe registers a handler without blocking. Test helper.
func (b *MemoryBus) Subscribe(pattern string, handler HandlerFunc) {
	b.mu.Lock()
	b.subscribers = append(b.subscribers, &memorySubscriber{pattern: pattern, handler: handler})
	b.mu.Unlock()
}

// Close implements Broker.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.subscribers = nil
	b.mu.Unlock()
	return nil
}

// topicMatch reports whether a routing key matches a binding pattern
// under topic-exchange rules: words are dot-separated, "*" matches
// exactly one word and "#" matches zero or more words.
func topicMatch(pattern, routingKey string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(routingKey, "."))
}

func matchWords(pattern, key []string) bool {
	if len(pattern) == 0 {
		return len(key) == 0
	}

	switch pattern[0] {
	case "#":
		for i := 0; i <= len(key); i++ {
			if matchWords(pattern[1:], key[i:]) {
				return true
			}
		}
		return false
	case "*":
		return len(key) > 0 && matchWords(pattern[1:], key[1:])
	default:
		return len(key) > 0 && pattern[0] == key[0] && matchWords(pattern[1:], key[1:])
	}
}
