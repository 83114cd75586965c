package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/teamsquad/eventbus-go/contracts"
	"github.com/teamsquad/eventbus-go/internal/rabbitmq"
	"github.com/teamsquad/eventbus-go/metrics"
	"github.com/teamsquad/eventbus-go/serialization"
)

// Broker is the transport the Bus runs on. *rabbitmq.Connection implements it.
type Broker interface {
	Publish(ctx context.Context, exchange, routingKey string, message any, opts rabbitmq.PublishOptions) error
	CreateTemporaryQueue(ctx context.Context, exchange string) (string, error)
	Consume(ctx context.Context, queue, consumerTag string, opts rabbitmq.ConsumeOptions) (<-chan amqp.Delivery, error)
	Cancel(ctx context.Context, consumerTag string) error
}

var _ Broker = (*rabbitmq.Connection)(nil)

// Bus publishes events and performs request/reply calls.
type Bus struct {
	broker     Broker
	encrypter  contracts.StringEncrypt
	clock      Clock
	logger     *slog.Logger
	metrics    *metrics.Collector
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// BusOption configures the Bus
type BusOption func(*Bus)

// WithBusLogger sets the logger
func WithBusLogger(logger *slog.Logger) BusOption {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithEncrypter encrypts protected fields before publishing.
func WithEncrypter(enc contracts.StringEncrypt) BusOption {
	return func(b *Bus) {
		b.encrypter = enc
	}
}

// WithClock sets the clock used for the published_at header.
func WithClock(clock Clock) BusOption {
	return func(b *Bus) {
		if clock != nil {
			b.clock = clock
		}
	}
}

// WithBusMetrics records RPC latency.
func WithBusMetrics(m *metrics.Collector) BusOption {
	return func(b *Bus) {
		b.metrics = m
	}
}

// WithTracerProvider sets the provider for publish and RPC spans.
func WithTracerProvider(tp trace.TracerProvider) BusOption {
	return func(b *Bus) {
		if tp != nil {
			b.tracer = tp.Tracer(instrumentationName)
		}
	}
}

// WithPropagator sets how trace context is written into message headers.
func WithPropagator(p propagation.TextMapPropagator) BusOption {
	return func(b *Bus) {
		if p != nil {
			b.propagator = p
		}
	}
}

// NewBus creates a Bus on broker.
func NewBus(broker Broker, options ...BusOption) *Bus {
	b := &Bus{
		broker:     broker,
		clock:      SystemClock{},
		logger:     slog.Default(),
		tracer:     otel.GetTracerProvider().Tracer(instrumentationName),
		propagator: otel.GetTextMapPropagator(),
	}

	for _, opt := range options {
		opt(b)
	}

	return b
}

// PublishOptions are per-message publish settings.
type PublishOptions struct {
	// RoutingKey overrides the event name.
	RoutingKey string
	// Expiration is the message TTL; negative values are rejected by the broker layer.
	Expiration time.Duration
	Headers    map[string]any

	replyTo       string
	correlationID string
}

// PublishOption configures publish behavior
type PublishOption func(*PublishOptions)

// WithRoutingKey sets the routing key
func WithRoutingKey(routingKey string) PublishOption {
	return func(opts *PublishOptions) {
		opts.RoutingKey = routingKey
	}
}

// WithExpiration sets the message time-to-live
func WithExpiration(ttl time.Duration) PublishOption {
	return func(opts *PublishOptions) {
		opts.Expiration = ttl
	}
}

// WithHeaders sets custom headers
func WithHeaders(headers map[string]any) PublishOption {
	return func(opts *PublishOptions) {
		if opts.Headers == nil {
			opts.Headers = make(map[string]any, len(headers))
		}
		for k, v := range headers {
			opts.Headers[k] = v
		}
	}
}

// Publish sends ev to exchange under its name. Protected fields are encrypted
// and a published_at header is added unless the caller supplied one.
func (b *Bus) Publish(ctx context.Context, exchange string, ev contracts.Event, options ...PublishOption) error {
	opts := PublishOptions{}
	for _, opt := range options {
		opt(&opts)
	}
	return b.publish(ctx, exchange, ev, opts)
}

// PublishAll publishes events in order on one channel, stopping at the first
// failure.
func (b *Bus) PublishAll(ctx context.Context, exchange string, events []contracts.Event, options ...PublishOption) error {
	for i, ev := range events {
		if err := b.Publish(ctx, exchange, ev, options...); err != nil {
			return fmt.Errorf("publish %d of %d: %w", i+1, len(events), err)
		}
	}
	return nil
}

func (b *Bus) publish(ctx context.Context, exchange string, ev contracts.Event, opts PublishOptions) (err error) {
	if ev == nil {
		return ErrNilEvent
	}

	routingKey := opts.RoutingKey
	if routingKey == "" {
		routingKey = ev.EventName()
	}

	ctx, span := b.tracer.Start(ctx, "publish "+routingKey,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(messagingAttributes(exchange, routingKey)...))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	fields, err := serialization.EncryptProtected(ev, b.encrypter)
	if err != nil {
		return fmt.Errorf("encrypt %s: %w", routingKey, err)
	}

	headers := make(map[string]any, len(opts.Headers)+3)
	for k, v := range opts.Headers {
		headers[k] = v
	}
	if _, ok := headers[HeaderPublishedAt]; !ok {
		headers[HeaderPublishedAt] = FormatPublishedAt(b.clock.Now())
	}
	b.propagator.Inject(ctx, headerCarrier(headers))

	return b.broker.Publish(ctx, exchange, routingKey, fields, rabbitmq.PublishOptions{
		Expiration:    opts.Expiration,
		Headers:       headers,
		ReplyTo:       opts.replyTo,
		CorrelationID: opts.correlationID,
	})
}
