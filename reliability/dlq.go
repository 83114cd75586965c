package reliability

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/teamsquad/eventbus-go/contracts"
	"github.com/teamsquad/eventbus-go/internal/rabbitmq"
	"github.com/teamsquad/eventbus-go/metrics"
	"github.com/teamsquad/eventbus-go/serialization"
)

const (
	DefaultDeadLetterExchange = "dlx"
	DefaultDeadLetterQueue    = "dead_letter_queue"

	HeaderReason             = "x-dead-letter-reason"
	HeaderOriginalQueue      = "x-original-queue"
	HeaderErrorMessage       = "x-error-message"
	HeaderRetryCount         = "x-retry-count"
	HeaderFailedAt           = "x-failed-at"
	HeaderOriginalRoutingKey = "x-original-routing-key"
	HeaderReplayedFrom       = "x-replayed-from"

	ReasonMaxRetriesExceeded = "max-retries-exceeded"

	deadLetterTTL       = int64(86400000)
	deadLetterMaxLength = int64(10000)
	defaultPeekLimit    = 10
)

// DeadLetterBroker is what the router needs from the broker connection.
type DeadLetterBroker interface {
	Publish(ctx context.Context, exchange, routingKey string, message any, opts rabbitmq.PublishOptions) error
	DeclareExchange(ctx context.Context, exchange rabbitmq.ExchangeDeclaration) error
	DeclareQueue(ctx context.Context, queue rabbitmq.QueueDeclaration) (amqp.Queue, error)
	BindQueue(ctx context.Context, binding rabbitmq.Binding) error
	Get(ctx context.Context, queue string) (amqp.Delivery, bool, error)
	Ack(ctx context.Context, tag uint64) error
	Nack(ctx context.Context, tag uint64, requeue bool) error
	Purge(ctx context.Context, queue string) (int, error)
	Inspect(ctx context.Context, queue string) (rabbitmq.QueueStats, error)
}

// DeadLetterRouter publishes exhausted messages to a durable dead-letter
// queue with failure metadata, and exposes operator actions on that queue.
type DeadLetterRouter struct {
	broker    DeadLetterBroker
	exchange  string
	queue     string
	encrypter contracts.StringEncrypt
	logger    *slog.Logger
	metrics   *metrics.Collector
	now       func() time.Time
}

// DLQOption configures the router
type DLQOption func(*DeadLetterRouter)

// WithDLQLogger sets the logger
func WithDLQLogger(logger *slog.Logger) DLQOption {
	return func(r *DeadLetterRouter) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithDeadLetterExchange overrides the dead-letter exchange name.
func WithDeadLetterExchange(name string) DLQOption {
	return func(r *DeadLetterRouter) {
		if name != "" {
			r.exchange = name
		}
	}
}

// WithDeadLetterQueue overrides the dead-letter queue name.
func WithDeadLetterQueue(name string) DLQOption {
	return func(r *DeadLetterRouter) {
		if name != "" {
			r.queue = name
		}
	}
}

// WithDLQEncrypter encrypts protected fields of dead-lettered events.
func WithDLQEncrypter(enc contracts.StringEncrypt) DLQOption {
	return func(r *DeadLetterRouter) {
		r.encrypter = enc
	}
}

// WithDLQMetrics records dead-letter traffic.
func WithDLQMetrics(m *metrics.Collector) DLQOption {
	return func(r *DeadLetterRouter) {
		r.metrics = m
	}
}

// NewDeadLetterRouter creates a router using the dlx / dead_letter_queue defaults.
func NewDeadLetterRouter(broker DeadLetterBroker, options ...DLQOption) *DeadLetterRouter {
	r := &DeadLetterRouter{
		broker:   broker,
		exchange: DefaultDeadLetterExchange,
		queue:    DefaultDeadLetterQueue,
		logger:   slog.Default(),
		now:      time.Now,
	}

	for _, opt := range options {
		opt(r)
	}

	return r
}

// Exchange returns the dead-letter exchange name.
func (r *DeadLetterRouter) Exchange() string { return r.exchange }

// Queue returns the dead-letter queue name.
func (r *DeadLetterRouter) Queue() string { return r.queue }

// Setup declares the durable direct exchange and the bounded, TTL-limited
// queue, bound under the queue name. It is idempotent.
func (r *DeadLetterRouter) Setup(ctx context.Context) error {
	if err := r.broker.DeclareExchange(ctx, rabbitmq.ExchangeDeclaration{
		Name:    r.exchange,
		Type:    amqp.ExchangeDirect,
		Durable: true,
	}); err != nil {
		return r.opError("setup", "", err)
	}

	if _, err := r.broker.DeclareQueue(ctx, rabbitmq.QueueDeclaration{
		Name:    r.queue,
		Durable: true,
		Arguments: amqp.Table{
			"x-message-ttl": deadLetterTTL,
			"x-max-length":  deadLetterMaxLength,
		},
	}); err != nil {
		return r.opError("setup", "", err)
	}

	if err := r.broker.BindQueue(ctx, rabbitmq.Binding{
		Queue:      r.queue,
		Exchange:   r.exchange,
		RoutingKey: r.queue,
	}); err != nil {
		return r.opError("setup", "", err)
	}

	r.logger.Info("dead letter infrastructure ready",
		"exchange", r.exchange,
		"queue", r.queue)
	return nil
}

// Send dead-letters an event with its failure metadata. Caller headers are
// kept; the dead-letter headers take precedence.
func (r *DeadLetterRouter) Send(ctx context.Context, ev contracts.Event, originalQueue, errMsg string, retryCount int, headers map[string]any) error {
	fields, err := serialization.EncryptProtected(ev, r.encrypter)
	if err != nil {
		return r.opError("send", "", err)
	}
	return r.publish(ctx, fields, ev.EventName(), originalQueue, errMsg, retryCount, headers)
}

// SendRaw dead-letters a body that could not be decoded into an event.
func (r *DeadLetterRouter) SendRaw(ctx context.Context, routingKey string, body []byte, originalQueue, errMsg string, retryCount int, headers map[string]any) error {
	if len(body) == 0 {
		return r.opError("send", "", ErrInvalidDLQMessage)
	}
	return r.publish(ctx, body, routingKey, originalQueue, errMsg, retryCount, headers)
}

func (r *DeadLetterRouter) publish(ctx context.Context, payload any, routingKey, originalQueue, errMsg string, retryCount int, headers map[string]any) error {
	merged := make(map[string]any, len(headers)+6)
	for k, v := range headers {
		merged[k] = v
	}
	merged[HeaderReason] = ReasonMaxRetriesExceeded
	merged[HeaderOriginalQueue] = originalQueue
	merged[HeaderErrorMessage] = errMsg
	merged[HeaderRetryCount] = int64(retryCount)
	merged[HeaderFailedAt] = r.now().UTC().Format(time.RFC3339)
	merged[HeaderOriginalRoutingKey] = routingKey

	if err := r.broker.Publish(ctx, r.exchange, r.queue, payload, rabbitmq.PublishOptions{Headers: merged}); err != nil {
		return r.opError("send", "", err)
	}

	r.metrics.DeadLettered(originalQueue)
	r.logger.Warn("message dead-lettered",
		"routingKey", routingKey,
		"originalQueue", originalQueue,
		"retryCount", retryCount,
		"error", errMsg)
	return nil
}

// DeadLetter is a message read from the dead-letter queue.
type DeadLetter struct {
	DeliveryTag        uint64
	MessageID          string
	Body               []byte
	Headers            map[string]any
	Reason             string
	OriginalQueue      string
	OriginalRoutingKey string
	ErrorMessage       string
	RetryCount         int
	FailedAt           time.Time
}

// Peek reads up to limit messages without acknowledging them. They stay
// reserved until acknowledged, released or the connection closes.
func (r *DeadLetterRouter) Peek(ctx context.Context, limit int) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = defaultPeekLimit
	}

	out := make([]DeadLetter, 0, limit)
	for len(out) < limit {
		msg, ok, err := r.broker.Get(ctx, r.queue)
		if err != nil {
			return out, r.opError("peek", "", err)
		}
		if !ok {
			break
		}
		out = append(out, toDeadLetter(msg))
	}
	r.metrics.DeadLetterOp("peek")
	return out, nil
}

// Acknowledge removes a peeked message.
func (r *DeadLetterRouter) Acknowledge(ctx context.Context, tag uint64) error {
	if err := r.broker.Ack(ctx, tag); err != nil {
		return r.opError("acknowledge", fmt.Sprint(tag), err)
	}
	r.metrics.DeadLetterOp("ack")
	return nil
}

// Release returns a peeked message to the queue.
func (r *DeadLetterRouter) Release(ctx context.Context, tag uint64) error {
	if err := r.broker.Nack(ctx, tag, true); err != nil {
		return r.opError("release", fmt.Sprint(tag), err)
	}
	r.metrics.DeadLetterOp("release")
	return nil
}

// Replay republishes a peeked message to exchange under its original routing
// key and acknowledges it.
func (r *DeadLetterRouter) Replay(ctx context.Context, dl DeadLetter, exchange string) error {
	if dl.OriginalRoutingKey == "" {
		return r.opError("replay", dl.MessageID, ErrInvalidDLQMessage)
	}

	headers := make(map[string]any, len(dl.Headers)+1)
	for k, v := range dl.Headers {
		if isDeadLetterHeader(k) {
			continue
		}
		headers[k] = v
	}
	headers[HeaderReplayedFrom] = r.queue

	if err := r.broker.Publish(ctx, exchange, dl.OriginalRoutingKey, dl.Body, rabbitmq.PublishOptions{Headers: headers}); err != nil {
		return r.opError("replay", dl.MessageID, err)
	}
	if err := r.broker.Ack(ctx, dl.DeliveryTag); err != nil {
		return r.opError("replay", dl.MessageID, err)
	}

	r.metrics.DeadLetterOp("replay")
	r.logger.Info("dead letter replayed",
		"messageId", dl.MessageID,
		"exchange", exchange,
		"routingKey", dl.OriginalRoutingKey)
	return nil
}

// Purge drops every message in the dead-letter queue.
func (r *DeadLetterRouter) Purge(ctx context.Context) (int, error) {
	n, err := r.broker.Purge(ctx, r.queue)
	if err != nil {
		return 0, r.opError("purge", "", err)
	}
	r.metrics.DeadLetterOp("purge")
	return n, nil
}

// Stats returns the message and consumer counts of the dead-letter queue.
func (r *DeadLetterRouter) Stats(ctx context.Context) (rabbitmq.QueueStats, error) {
	stats, err := r.broker.Inspect(ctx, r.queue)
	if err != nil {
		return rabbitmq.QueueStats{}, r.opError("stats", "", err)
	}
	return stats, nil
}

func (r *DeadLetterRouter) opError(op, messageID string, err error) error {
	return &DLQError{
		Queue:     r.queue,
		MessageID: messageID,
		Op:        op,
		Err:       err,
		Timestamp: r.now(),
	}
}

func toDeadLetter(msg amqp.Delivery) DeadLetter {
	dl := DeadLetter{
		DeliveryTag:        msg.DeliveryTag,
		MessageID:          msg.MessageId,
		Body:               msg.Body,
		Headers:            map[string]any(msg.Headers),
		Reason:             headerString(msg.Headers, HeaderReason),
		OriginalQueue:      headerString(msg.Headers, HeaderOriginalQueue),
		OriginalRoutingKey: headerString(msg.Headers, HeaderOriginalRoutingKey),
		ErrorMessage:       headerString(msg.Headers, HeaderErrorMessage),
		RetryCount:         headerInt(msg.Headers, HeaderRetryCount),
	}
	if ts := headerString(msg.Headers, HeaderFailedAt); ts != "" {
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			dl.FailedAt = t
		}
	}
	return dl
}

func isDeadLetterHeader(key string) bool {
	switch key {
	case HeaderReason, HeaderOriginalQueue, HeaderErrorMessage, HeaderRetryCount, HeaderFailedAt, HeaderOriginalRoutingKey:
		return true
	}
	return strings.HasPrefix(key, "x-death")
}

func headerString(headers amqp.Table, key string) string {
	if headers == nil {
		return ""
	}
	if val, ok := headers[key].(string); ok {
		return val
	}
	return ""
}

func headerInt(headers amqp.Table, key string) int {
	if headers == nil {
		return 0
	}
	switch val := headers[key].(type) {
	case int:
		return val
	case int32:
		return int(val)
	case int64:
		return int(val)
	case float64:
		return int(val)
	}
	return 0
}
