package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicMatch(t *testing.T) {
	tests := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"post.created", "post.created", true},
		{"post.created", "post.deleted", false},
		{"post.*", "post.created", true},
		{"post.*", "post.created.v2", false},
		{"post.*", "post", false},
		{"*.created", "post.created", true},
		{"*.created", "user.created", true},
		{"#", "post.created", true},
		{"#", "post", true},
		{"post.#", "post.created", true},
		{"post.#", "post", true},
		{"post.#", "post.created.v2", true},
		{"post.#", "user.created", false},
		{"#.created", "post.created", true},
		{"#.created", "created", true},
		{"#.created", "post.deleted", false},
		{"*", "post", true},
		{"*", "post.created", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, topicMatch(tt.pattern, tt.key))
		})
	}
}

func TestMemoryBusDeliversMatchingEvents(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()

	var got []string
	bus.Subscribe("post.*", func(_ context.Context, routingKey string, body []byte) error {
		var event PostCreatedEvent
		if err := json.Unmarshal(body, &event); err != nil {
			return err
		}
		got = append(got, routingKey+":"+event.PostID)
		return nil
	})

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, RoutingKeyPostCreated, PostCreatedEvent{
		PostID:    "p1",
		UserID:    "u1",
		Content:   "hello",
		CreatedAt: time.Now(),
	}))
	require.NoError(t, bus.Publish(ctx, "user.registered", map[string]string{"userId": "u2"}))

	assert.Equal(t, []string{"post.created:p1"}, got)
}

func TestMemoryBusHandlerErrorDoesNotFailPublish(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()

	var healthyCalls int
	bus.Subscribe("post.deleted", func(context.Context, string, []byte) error {
		return errors.New("boom")
	})
	bus.Subscribe("post.deleted", func(context.Context, string, []byte) error {
		healthyCalls++
		return nil
	})

	err := bus.Publish(context.Background(), RoutingKeyPostDeleted, PostDeletedEvent{PostID: "p1"})
	require.NoError(t, err, "a failing subscriber must not fail the publish")
	assert.Equal(t, 1, healthyCalls)
}

func TestMemoryBusAtMostOnce(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()

	var deliveries int
	bus.Subscribe("post.created", func(context.Context, string, []byte) error {
		deliveries++
		return errors.New("handler failure")
	})

	require.NoError(t, bus.Publish(context.Background(), RoutingKeyPostCreated, PostCreatedEvent{PostID: "p1"}))

	// No retry loop: a failed delivery is not replayed by the bus.
	assert.Equal(t, 1, deliveries)
}

func TestMemoryBusConsumeUnbindsOnCancel(t *testing.T) {
	bus := NewMemoryBus(nil)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	bound := make(chan struct{})

	go func() {
		done <- bus.Consume(ctx, "post.*", func(context.Context, string, []byte) error {
			return nil
		})
	}()

	// Wait for the subscriber to register.
	go func() {
		for {
			bus.mu.RLock()
			n := len(bus.subscribers)
			bus.mu.RUnlock()
			if n > 0 {
				close(bound)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	select {
	case <-bound:
	case <-time.After(time.Second):
		t.Fatal("consumer never bound")
	}

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("consume did not return after cancel")
	}

	bus.mu.RLock()
	remaining := len(bus.subscribers)
	bus.mu.RUnlock()
	assert.Zero(t, remaining)
}

func TestMemoryBusClosed(t *testing.T) {
	bus := NewMemoryBus(nil)
	require.NoError(t, bus.Close())

	err := bus.Publish(context.Background(), RoutingKeyPostCreated, PostCreatedEvent{})
	assert.ErrorIs(t, err, ErrBrokerClosed)

	err = bus.Consume(context.Background(), "#", func(context.Context, string, []byte) error { return nil })
	assert.ErrorIs(t, err, ErrBrokerClosed)
}

func TestEventPayloadFieldNames(t *testing.T) {
	created := PostCreatedEvent{
		PostID:    "p1",
		UserID:    "u1",
		Content:   "hi",
		MediaIDs:  []string{"m1"},
		CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	body, err := json.Marshal(created)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(body, &raw))
	for _, field := range []string{"postId", "userId", "content", "mediaIds", "createdAt"} {
		assert.Contains(t, raw, field)
	}
}
