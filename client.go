// Copyright 2024 Mmate Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package eventbus

import (
	"context"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/trace"

	"github.com/teamsquad/eventbus-go/config"
	"github.com/teamsquad/eventbus-go/contracts"
	"github.com/teamsquad/eventbus-go/health"
	"github.com/teamsquad/eventbus-go/internal/rabbitmq"
	"github.com/teamsquad/eventbus-go/messaging"
	"github.com/teamsquad/eventbus-go/metrics"
	"github.com/teamsquad/eventbus-go/reliability"
	"github.com/teamsquad/eventbus-go/serialization"
)

// DefaultExchange is the event bus exchange used when none is configured.
const DefaultExchange = "my_company.event_bus"

// Credentials identify a RabbitMQ broker.
type Credentials = rabbitmq.Credentials

// Client provides the main entry point for the event bus: one broker
// connection shared by the Bus, the Dispatcher and the dead letter router.
type Client struct {
	conn        *rabbitmq.Connection
	bus         *messaging.Bus
	dispatcher  *messaging.Dispatcher
	failures    *reliability.FailureHandler
	deadLetters *reliability.DeadLetterRouter
	exchange    string
	logger      *slog.Logger
}

// NewClient creates a client for creds. The broker is contacted on first use.
func NewClient(creds Credentials, options ...ClientOption) (*Client, error) {
	cfg := &clientConfig{
		logger:   slog.Default(),
		exchange: DefaultExchange,
	}

	for _, opt := range options {
		opt(cfg)
	}

	connOpts := []rabbitmq.ConnectionOption{
		rabbitmq.WithLogger(cfg.logger),
		rabbitmq.WithMetrics(cfg.metrics),
	}
	if cfg.dialer != nil {
		connOpts = append(connOpts, rabbitmq.WithDialer(cfg.dialer))
	}
	conn := rabbitmq.NewConnection(creds, connOpts...)

	c := &Client{
		conn:     conn,
		exchange: cfg.exchange,
		logger:   cfg.logger,
	}

	busOpts := []messaging.BusOption{
		messaging.WithBusLogger(cfg.logger),
		messaging.WithEncrypter(cfg.encrypter),
		messaging.WithBusMetrics(cfg.metrics),
		messaging.WithTracerProvider(cfg.tracerProvider),
	}
	if cfg.clock != nil {
		busOpts = append(busOpts, messaging.WithClock(cfg.clock))
	}
	c.bus = messaging.NewBus(conn, busOpts...)

	failureOpts := []reliability.FailureOption{
		reliability.WithFailureLogger(cfg.logger),
		reliability.WithFailureMetrics(cfg.metrics),
	}
	if cfg.deadLetters {
		c.deadLetters = reliability.NewDeadLetterRouter(conn,
			reliability.WithDLQLogger(cfg.logger),
			reliability.WithDeadLetterExchange(cfg.deadLetterExchange),
			reliability.WithDeadLetterQueue(cfg.deadLetterQueue),
			reliability.WithDLQEncrypter(cfg.encrypter),
			reliability.WithDLQMetrics(cfg.metrics))
		failureOpts = append(failureOpts, reliability.WithDeadLetterRouter(c.deadLetters))
	}
	c.failures = reliability.NewFailureHandler(cfg.retryPolicy, failureOpts...)

	events := cfg.events
	if events == nil {
		var err error
		events, err = serialization.NewStaticEventMap(nil,
			serialization.WithEncrypter(cfg.encrypter),
			serialization.WithLogger(cfg.logger))
		if err != nil {
			return nil, fmt.Errorf("failed to create event map: %w", err)
		}
	}

	dispatcherOpts := []messaging.DispatcherOption{
		messaging.WithDispatcherLogger(cfg.logger),
		messaging.WithDispatcherEncrypter(cfg.encrypter),
		messaging.WithFailureHandler(c.failures),
		messaging.WithDispatcherTracerProvider(cfg.tracerProvider),
	}
	if cfg.delayedRetries {
		dispatcherOpts = append(dispatcherOpts, messaging.WithRetryScheduler(
			reliability.NewRetryScheduler(conn, reliability.WithSchedulerLogger(cfg.logger))))
	}
	if cfg.clock != nil {
		dispatcherOpts = append(dispatcherOpts, messaging.WithDispatcherClock(cfg.clock))
	}
	c.dispatcher = messaging.NewDispatcher(events, dispatcherOpts...)

	return c, nil
}

// NewClientFromURL creates a client for an AMQP URI.
func NewClientFromURL(url string, options ...ClientOption) (*Client, error) {
	creds, err := rabbitmq.CredentialsFromURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid broker url: %w", err)
	}
	return NewClient(creds, options...)
}

// NewClientFromSecrets creates a client from the rabbit_* secrets.
func NewClientFromSecrets(secrets config.Secrets, options ...ClientOption) (*Client, error) {
	broker, err := config.LoadBroker(secrets)
	if err != nil {
		return nil, fmt.Errorf("failed to load broker secrets: %w", err)
	}
	return NewClient(Credentials{
		Host:     broker.Host,
		Port:     broker.Port,
		User:     broker.User,
		Password: broker.Password,
		VHost:    broker.VHost,
	}, options...)
}

// Connect opens the broker connection now instead of on first use and
// declares the dead letter topology when one is configured.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.conn.Connect(); err != nil {
		return err
	}
	if c.deadLetters != nil {
		if err := c.deadLetters.Setup(ctx); err != nil {
			return fmt.Errorf("failed to set up dead letter queue: %w", err)
		}
	}
	return nil
}

// Exchange returns the exchange events are published to.
func (c *Client) Exchange() string {
	return c.exchange
}

// Bus returns the publisher and RPC caller
func (c *Client) Bus() *messaging.Bus {
	return c.bus
}

// Dispatcher returns the per-message handler entry point
func (c *Client) Dispatcher() *messaging.Dispatcher {
	return c.dispatcher
}

// Failures returns the failure handler
func (c *Client) Failures() *reliability.FailureHandler {
	return c.failures
}

// DeadLetters returns the dead letter router, or nil when none is configured.
func (c *Client) DeadLetters() *reliability.DeadLetterRouter {
	return c.deadLetters
}

// Publish publishes ev to the client's exchange.
func (c *Client) Publish(ctx context.Context, ev contracts.Event, opts ...messaging.PublishOption) error {
	return c.bus.Publish(ctx, c.exchange, ev, opts...)
}

// Call sends cmd and waits for its reply.
func (c *Client) Call(ctx context.Context, cmd contracts.Command, opts ...messaging.PublishOption) (string, error) {
	return c.bus.Call(ctx, c.exchange, cmd, opts...)
}

// CallAsync sends cmd and returns without waiting for the reply.
func (c *Client) CallAsync(ctx context.Context, cmd contracts.Command, opts ...messaging.PublishOption) (*messaging.PendingReply, error) {
	return c.bus.CallAsync(ctx, c.exchange, cmd, opts...)
}

// Reply answers cmd on its reply queue.
func (c *Client) Reply(ctx context.Context, cmd contracts.Command, body string) error {
	return c.bus.ReplyTo(ctx, c.exchange, cmd, body)
}

// Handle dispatches a delivery consumed from queue to controller's method and
// settles it on the broker according to the outcome.
func (c *Client) Handle(ctx context.Context, controller any, method, queue string, d amqp.Delivery) (messaging.Outcome, error) {
	out := c.dispatcher.DispatchDelivery(ctx, controller, method, queue, d)

	var err error
	if out.Ack() {
		err = c.conn.Ack(ctx, d.DeliveryTag)
	} else {
		err = c.conn.Nack(ctx, d.DeliveryTag, true)
	}
	if err != nil {
		return out, fmt.Errorf("failed to settle delivery %d: %w", d.DeliveryTag, err)
	}
	return out, nil
}

// Ping connects when needed and verifies the channel is usable.
func (c *Client) Ping(ctx context.Context) error {
	return c.conn.Execute(ctx, func(ch rabbitmq.Channel) error {
		if ch.IsClosed() {
			return amqp.ErrClosed
		}
		return nil
	})
}

// Health checks the broker and, when configured, the dead letter queue depth.
func (c *Client) Health(ctx context.Context, warnDepth int) health.Report {
	checkers := []health.Checker{health.NewBrokerChecker(c)}
	if c.deadLetters != nil {
		checkers = append(checkers, health.NewQueueDepthChecker(c.deadLetters.Queue(), c.deadLetters, warnDepth))
	}
	return health.Run(ctx, checkers...)
}

// Close closes the broker connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// clientConfig holds client configuration
type clientConfig struct {
	logger             *slog.Logger
	exchange           string
	encrypter          contracts.StringEncrypt
	retryPolicy        reliability.RetryPolicy
	deadLetters        bool
	deadLetterExchange string
	deadLetterQueue    string
	delayedRetries     bool
	metrics            *metrics.Collector
	tracerProvider     trace.TracerProvider
	events             *serialization.EventMap
	clock              messaging.Clock
	dialer             rabbitmq.Dialer
}

// ClientOption configures the client
type ClientOption func(*clientConfig)

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithExchange sets the exchange Publish and Call use.
func WithExchange(name string) ClientOption {
	return func(cfg *clientConfig) {
		if name != "" {
			cfg.exchange = name
		}
	}
}

// WithEncrypter encrypts protected fields on publish and decrypts them on dispatch.
func WithEncrypter(enc contracts.StringEncrypt) ClientOption {
	return func(cfg *clientConfig) {
		cfg.encrypter = enc
	}
}

// WithRetryPolicy sets the policy applied to failed deliveries.
func WithRetryPolicy(policy reliability.RetryPolicy) ClientOption {
	return func(cfg *clientConfig) {
		cfg.retryPolicy = policy
	}
}

// WithDeadLetterQueue routes exhausted deliveries to a dead letter queue.
// Empty names use the reliability package defaults. Without this option
// exhausted deliveries are logged and dropped.
func WithDeadLetterQueue(exchange, queue string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.deadLetters = true
		cfg.deadLetterExchange = exchange
		cfg.deadLetterQueue = queue
	}
}

// WithDelayedRetries parks retried deliveries in per-delay holding queues
// instead of requeueing them immediately.
func WithDelayedRetries() ClientOption {
	return func(cfg *clientConfig) {
		cfg.delayedRetries = true
	}
}

// WithMetrics records connection, publish, RPC and failure metrics.
func WithMetrics(m *metrics.Collector) ClientOption {
	return func(cfg *clientConfig) {
		cfg.metrics = m
	}
}

// WithTracerProvider sets the provider for publish, RPC and consumer spans.
func WithTracerProvider(tp trace.TracerProvider) ClientOption {
	return func(cfg *clientConfig) {
		cfg.tracerProvider = tp
	}
}

// WithEventMap sets the routing table used to decode deliveries.
func WithEventMap(events *serialization.EventMap) ClientOption {
	return func(cfg *clientConfig) {
		cfg.events = events
	}
}

// WithClock sets the clock used for published_at.
func WithClock(clock messaging.Clock) ClientOption {
	return func(cfg *clientConfig) {
		cfg.clock = clock
	}
}

func withDialer(dial rabbitmq.Dialer) ClientOption {
	return func(cfg *clientConfig) {
		cfg.dialer = dial
	}
}
