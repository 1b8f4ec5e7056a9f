package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/avelis/socialmesh/internal/observability"
)

// AMQPBroker connects the service to the shared topic exchange. The
// broker owns its connection and channel; services share one broker
// instance rather than dialing per operation.
type AMQPBroker struct {
	url    string
	logger observability.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  bool
}

// AMQPOption is a functional option for the AMQP broker.
type AMQPOption func(*AMQPBroker)

// WithBrokerLogger sets the logger.
func WithBrokerLogger(logger observability.Logger) AMQPOption {
	return func(b *AMQPBroker) {
		b.logger = logger
	}
}

// DialAMQP connects to the broker and declares the topic exchange.
// Services call this once at boot and treat failure as fatal.
func DialAMQP(url string, opts ...AMQPOption) (*AMQPBroker, error) {
	b := &AMQPBroker{
		url:    url,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}

	if err := b.connect(); err != nil {
		return nil, err
	}
	return b, nil
}

// connect dials the broker and declares the exchange. Caller must not
// hold the mutex.
func (b *AMQPBroker) connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connectLocked()
}

func (b *AMQPBroker) connectLocked() error {
	if b.closed {
		return ErrBrokerClosed
	}

	conn, err := amqp.Dial(b.url)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	// Non-durable: the fabric is best-effort and events are worthless
	// after a broker restart anyway.
	if err := channel.ExchangeDeclare(
		Exchange,
		amqp.ExchangeTopic,
		false, // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return fmt.Errorf("declare exchange %q: %w", Exchange, err)
	}

	b.conn = conn
	b.channel = channel
	b.logger.Info("event broker connected",
		observability.String("exchange", Exchange))
	return nil
}

// Publish implements Publisher. A failed publish is retried once on a
// fresh connection; if that also fails the error is returned for the
// caller to log and drop.
func (b *AMQPBroker) Publish(ctx context.Context, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode event %q: %w", routingKey, err)
	}

	if err := b.publishOnce(ctx, routingKey, body); err == nil {
		publishedTotal.WithLabelValues(routingKey).Inc()
		return nil
	}

	// One redial attempt covers the common broker-restart case.
	b.mu.Lock()
	b.teardownLocked()
	redialErr := b.connectLocked()
	b.mu.Unlock()
	if redialErr != nil {
		publishErrorsTotal.WithLabelValues(routingKey).Inc()
		return fmt.Errorf("publish %q: %w", routingKey, redialErr)
	}

	if err := b.publishOnce(ctx, routingKey, body); err != nil {
		publishErrorsTotal.WithLabelValues(routingKey).Inc()
		return fmt.Errorf("publish %q: %w", routingKey, err)
	}
	publishedTotal.WithLabelValues(routingKey).Inc()
	return nil
}

func (b *AMQPBroker) publishOnce(ctx context.Context, routingKey string, body []byte) error {
	b.mu.Lock()
	channel := b.channel
	b.mu.Unlock()

	if channel == nil {
		return ErrNotConnected
	}

	return channel.PublishWithContext(ctx,
		Exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
}

// Consume implements Consumer. Each call gets its own exclusive
// anonymous queue, so every subscriber sees every matching event and
// queues disappear with their consumer.
func (b *AMQPBroker) Consume(ctx context.Context, pattern string, handler HandlerFunc) error {
	b.mu.Lock()
	channel := b.channel
	b.mu.Unlock()

	if channel == nil {
		return ErrNotConnected
	}

	queue, err := channel.QueueDeclare(
		"",    // server-generated name
		false, // durable
		true,  // auto-delete
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	if err := channel.QueueBind(queue.Name, pattern, Exchange, false, nil); err != nil {
		return fmt.Errorf("bind %q to %q: %w", queue.Name, pattern, err)
	}

	deliveries, err := channel.Consume(
		queue.Name,
		"",    // consumer tag
		false, // manual ack: only after the handler succeeds
		true,  // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume %q: %w", queue.Name, err)
	}

	b.logger.Info("event consumer bound",
		observability.String("queue", queue.Name),
		observability.String("pattern", pattern))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return ErrBrokerClosed
			}
			b.dispatch(ctx, delivery, handler)
		}
	}
}

// dispatch runs the handler and acknowledges on success only. On
// failure the delivery is left unacked; redelivery is the broker's
// decision, not ours.
func (b *AMQPBroker) dispatch(ctx context.Context, delivery amqp.Delivery, handler HandlerFunc) {
	if err := handler(ctx, delivery.RoutingKey, delivery.Body); err != nil {
		handlerErrorsTotal.WithLabelValues(delivery.RoutingKey).Inc()
		b.logger.Error("event handler failed",
			observability.String("routingKey", delivery.RoutingKey),
			observability.Error(err))
		return
	}

	consumedTotal.WithLabelValues(delivery.RoutingKey).Inc()
	if err := delivery.Ack(false); err != nil {
		b.logger.Warn("event ack failed",
			observability.String("routingKey", delivery.RoutingKey),
			observability.Error(err))
	}
}

// Close implements Broker.
func (b *AMQPBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	b.teardownLocked()
	return nil
}

func (b *AMQPBroker) teardownLocked() {
	if b.channel != nil {
		_ = b.channel.Close()
		b.channel = nil
	}
	if b.conn != nil {
		_ = b.conn.Close()
		b.conn = nil
	}
}
