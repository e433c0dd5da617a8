// ABOUTME: RabbitMQ publisher for conversation lifecycle events
// ABOUTME: Declares a durable topic exchange and publishes persistent JSON envelopes

package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/2389/livechat-gateway/internal/conversation"
)

// RoutingKeyPrefix is prepended to the event type to form the routing key.
const RoutingKeyPrefix = "livechat."

// ErrClosed is returned when publishing after Close.
var ErrClosed = errors.New("publisher closed")

// Config holds broker connection settings.
type Config struct {
	URL      string
	Exchange string
	Producer string
}

// channel is the subset of *amqp.Channel the publisher uses.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher publishes lifecycle events over a single AMQP channel.
type Publisher struct {
	cfg    Config
	conn   *amqp.Connection
	mu     sync.Mutex // guards ch; amqp channels are not safe for concurrent publishing
	ch     channel
	closed bool
	done   chan struct{} // closed by Close; ends watch
	logger *slog.Logger
}

// Dial connects to the broker and declares the exchange. ctx bounds the
// TCP dial only; the connection outlives it until Close.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Publisher, error) {
	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{
		Heartbeat: 10 * time.Second,
		Properties: amqp.Table{
			"connection_name": cfg.Producer,
		},
		Dial: func(network, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, addr)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	p, err := newPublisher(ch, cfg, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.conn = conn

	go p.watch(conn.NotifyClose(make(chan *amqp.Error, 1)))
	return p, nil
}

func newPublisher(ch channel, cfg Config, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}
	return &Publisher{
		cfg:    cfg,
		ch:     ch,
		done:   make(chan struct{}),
		logger: logger.With("component", "eventbus", "exchange", cfg.Exchange),
	}, nil
}

// watch logs unexpected connection loss until the publisher is closed.
func (p *Publisher) watch(closes <-chan *amqp.Error) {
	select {
	case err, ok := <-closes:
		if ok && err != nil {
			p.logger.Error("broker connection lost", "error", err)
		}
	case <-p.done:
	}
}

// PublishLifecycle implements conversation.EventPublisher.
func (p *Publisher) PublishLifecycle(ctx context.Context, evt conversation.LifecycleEvent) error {
	correlation := evt.ConversationID
	return p.Publish(ctx, evt.Type, &correlation, evt)
}

// Publish sends data as an envelope of the given type.
func (p *Publisher) Publish(ctx context.Context, eventType string, correlationID *string, data any) error {
	producer := p.cfg.Producer
	env := Envelope{
		Meta: Meta{
			CorrelationID: correlationID,
			ID:            uuid.New().String(),
			Producer:      &producer,
			Time:          time.Now().UTC(),
			Type:          eventType,
		},
		Data: data,
	}

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		MessageId:    env.Meta.ID,
		Type:         env.Meta.Type,
		Timestamp:    env.Meta.Time,
		AppId:        producer,
	}
	if correlationID != nil {
		msg.CorrelationId = *correlationID
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if err := p.ch.PublishWithContext(ctx, p.cfg.Exchange, RoutingKeyPrefix+eventType, false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", eventType, err)
	}

	p.logger.Debug("event published", "type", eventType, "id", env.Meta.ID)
	return nil
}

// Close closes the channel and connection. It is safe to call multiple times.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	close(p.done)

	var errs []error
	if err := p.ch.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close channel: %w", err))
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}
	return errors.Join(errs...)
}
