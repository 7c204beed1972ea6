// Package rabbitmq implements the Broker Gateway (C3): durable queue
// declaration, persistent publish, manual-ack consume, and passive
// depth inspection against RabbitMQ via amqp091-go.
package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/openlora/gpu-fleet/internal/domain"
	"github.com/openlora/gpu-fleet/internal/retry"
)

// Config addresses a RabbitMQ broker.
type Config struct {
	Host         string
	DefaultUser  string
	DefaultPass  string
	DefaultVHost string
}

// URI builds the amqp091 connection URI for Config.
func (c Config) URI() string {
	vhost := c.DefaultVHost
	if vhost == "" {
		vhost = "/"
	}
	return fmt.Sprintf("amqp://%s:%s@%s/%s",
		url.QueryEscape(c.DefaultUser), url.QueryEscape(c.DefaultPass),
		c.Host, url.QueryEscape(vhost))
}

// Broker is a domain.BrokerQueue backed by a single AMQP connection
// and channel, reconnected with exponential backoff both at startup
// and whenever the live connection drops mid-run.
type Broker struct {
	cfg       Config
	reconnect retry.Config

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// Dial opens the AMQP connection and channel, retrying with backoff
// until it succeeds or ctx is cancelled, then starts a background
// watcher that re-dials on every subsequent disconnect.
func Dial(ctx context.Context, cfg Config, reconnect retry.Config) (*Broker, error) {
	b := &Broker{cfg: cfg, reconnect: reconnect}
	if err := retry.Reconnect(ctx, reconnect, "rabbitmq", b.connect); err != nil {
		return nil, fmt.Errorf("op=rabbitmq.dial: %w", err)
	}
	go b.watchReconnect(ctx)
	return b, nil
}

func (b *Broker) connect() error {
	conn, err := amqp.Dial(b.cfg.URI())
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("channel: %w", err)
	}
	b.mu.Lock()
	b.conn, b.ch = conn, ch
	b.mu.Unlock()
	return nil
}

// watchReconnect blocks on the current connection's close notification
// and re-dials with backoff each time it fires, until ctx is
// cancelled. It is the runtime counterpart to Dial's startup connect.
func (b *Broker) watchReconnect(ctx context.Context) {
	for {
		b.mu.Lock()
		conn := b.conn
		b.mu.Unlock()
		if conn == nil {
			return
		}
		closed := conn.NotifyClose(make(chan *amqp.Error, 1))

		select {
		case <-ctx.Done():
			return
		case err, ok := <-closed:
			if !ok || err == nil {
				return
			}
			slog.Warn("rabbitmq connection closed, reconnecting", slog.Any("error", err))
			if rErr := retry.Reconnect(ctx, b.reconnect, "rabbitmq", b.connect); rErr != nil {
				slog.Error("rabbitmq reconnect abandoned", slog.Any("error", rErr))
				return
			}
		}
	}
}

func (b *Broker) channel() *amqp.Channel {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ch
}

// DeclareQueue declares a durable, non-exclusive, non-auto-delete
// queue, idempotent across repeated calls.
func (b *Broker) DeclareQueue(ctx context.Context, name string) error {
	tracer := otel.Tracer("broker.rabbitmq")
	_, span := tracer.Start(ctx, "rabbitmq.DeclareQueue")
	defer span.End()
	span.SetAttributes(attribute.String("messaging.destination", name))

	_, err := b.channel().QueueDeclare(name, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("op=rabbitmq.declare_queue: %w", err)
	}
	return nil
}

// Publish sends body to name with persistent delivery mode and the
// given message id, so a broker restart does not silently drop it.
func (b *Broker) Publish(ctx context.Context, name string, body []byte, messageID string) error {
	tracer := otel.Tracer("broker.rabbitmq")
	ctx, span := tracer.Start(ctx, "rabbitmq.Publish")
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.destination", name),
		attribute.String("messaging.message_id", messageID),
	)

	err := b.channel().PublishWithContext(ctx, "", name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		MessageId:    messageID,
		DeliveryMode: amqp.Persistent,
	})
	if err != nil {
		return fmt.Errorf("op=rabbitmq.publish: %w", err)
	}
	return nil
}

// Subscribe consumes name with manual ack and invokes handler once
// per delivery; handler is responsible for Ack/Nack on the Delivery it
// receives. Subscribe blocks until ctx is cancelled or the delivery
// channel closes.
func (b *Broker) Subscribe(ctx context.Context, name string, handler func(context.Context, domain.Delivery) error) error {
	deliveries, err := b.channel().Consume(name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("op=rabbitmq.subscribe: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("op=rabbitmq.subscribe: delivery channel closed: %w", domain.ErrInternal)
			}
			if err := handler(ctx, wrapDelivery(d)); err != nil {
				slog.Error("delivery handler returned error", slog.String("queue", name), slog.Any("error", err))
			}
		}
	}
}

// Depth passively inspects name's current message count without
// creating it, used by the filler to enforce its backpressure ceiling.
func (b *Broker) Depth(ctx context.Context, name string) (int, error) {
	tracer := otel.Tracer("broker.rabbitmq")
	_, span := tracer.Start(ctx, "rabbitmq.Depth")
	defer span.End()
	span.SetAttributes(attribute.String("messaging.destination", name))

	q, err := b.channel().QueueDeclarePassive(name, true, false, false, false, nil)
	if err != nil {
		return 0, fmt.Errorf("op=rabbitmq.depth: %w", err)
	}
	return q.Messages, nil
}

// Close shuts down the channel and connection.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var firstErr error
	if b.ch != nil {
		if err := b.ch.Close(); err != nil {
			firstErr = err
		}
	}
	if b.conn != nil {
		if err := b.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return fmt.Errorf("op=rabbitmq.close: %w", firstErr)
	}
	return nil
}

type delivery struct{ d amqp.Delivery }

func wrapDelivery(d amqp.Delivery) domain.Delivery { return delivery{d: d} }

func (d delivery) Body() []byte { return d.d.Body }

func (d delivery) Ack() error { return d.d.Ack(false) }

func (d delivery) Nack(requeue bool) error { return d.d.Nack(false, requeue) }
