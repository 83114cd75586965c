package reliability

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/teamsquad/eventbus-go/contracts"
	"github.com/teamsquad/eventbus-go/internal/rabbitmq"
	"github.com/teamsquad/eventbus-go/metrics"
)

// DefaultDeadLetterAttempts is how many extra deliveries a message gets when
// publishing it to the dead-letter queue fails.
const DefaultDeadLetterAttempts = 3

// Action is what the consumer runtime must do with a message.
type Action int

const (
	// ActionAck: the handler succeeded.
	ActionAck Action = iota
	// ActionRetry: redeliver after Decision.Delay.
	ActionRetry
	// ActionDeadLetter: the message was published to the dead-letter queue; ack the original.
	ActionDeadLetter
	// ActionDrop: retries are exhausted and no dead-letter queue exists; ack the original.
	ActionDrop
)

func (a Action) String() string {
	switch a {
	case ActionAck:
		return "ack"
	case ActionRetry:
		return "retry"
	case ActionDeadLetter:
		return "dead_letter"
	case ActionDrop:
		return "drop"
	}
	return "unknown"
}

// Decision is the outcome for one delivery.
type Decision struct {
	Action  Action
	Delay   time.Duration
	Attempt int
	Err     error
}

// Failure describes a failed delivery. Event is nil when the body could not
// be decoded; RoutingKey and Body are then used for dead-lettering.
type Failure struct {
	MessageID  string
	Queue      string
	RoutingKey string
	Event      contracts.Event
	Body       []byte
	Headers    map[string]any
	Err        error
}

// DeadLetterSender is the part of DeadLetterRouter the handler uses.
type DeadLetterSender interface {
	Send(ctx context.Context, ev contracts.Event, originalQueue, errMsg string, retryCount int, headers map[string]any) error
	SendRaw(ctx context.Context, routingKey string, body []byte, originalQueue, errMsg string, retryCount int, headers map[string]any) error
}

// FailureHandler owns the retry state of in-flight messages and turns each
// failure into a Decision.
type FailureHandler struct {
	policy     RetryPolicy
	store      AttemptStore
	router     DeadLetterSender
	dlAttempts int
	logger     *slog.Logger
	metrics    *metrics.Collector
}

// FailureOption configures the FailureHandler
type FailureOption func(*FailureHandler)

// WithDeadLetterRouter routes exhausted messages to router instead of dropping them.
func WithDeadLetterRouter(router DeadLetterSender) FailureOption {
	return func(h *FailureHandler) {
		h.router = router
	}
}

// WithDeadLetterAttempts bounds the redeliveries spent retrying a failed
// dead-letter publish. After that the message is dropped.
func WithDeadLetterAttempts(n int) FailureOption {
	return func(h *FailureHandler) {
		if n >= 0 {
			h.dlAttempts = n
		}
	}
}

// WithAttemptStore replaces the in-memory attempt store.
func WithAttemptStore(store AttemptStore) FailureOption {
	return func(h *FailureHandler) {
		if store != nil {
			h.store = store
		}
	}
}

// WithFailureLogger sets the logger
func WithFailureLogger(logger *slog.Logger) FailureOption {
	return func(h *FailureHandler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithFailureMetrics records decisions.
func WithFailureMetrics(m *metrics.Collector) FailureOption {
	return func(h *FailureHandler) {
		h.metrics = m
	}
}

// NewFailureHandler creates a handler applying policy, ExponentialBackoff
// defaults when nil.
func NewFailureHandler(policy RetryPolicy, options ...FailureOption) *FailureHandler {
	if policy == nil {
		policy = NewExponentialBackoff()
	}
	h := &FailureHandler{
		policy:     policy,
		store:      NewInMemoryAttemptStore(),
		dlAttempts: DefaultDeadLetterAttempts,
		logger:     slog.Default(),
	}

	for _, opt := range options {
		opt(h)
	}

	return h
}

// Policy returns the retry policy in use.
func (h *FailureHandler) Policy() RetryPolicy {
	return h.policy
}

// Succeeded clears retry state for messageID.
func (h *FailureHandler) Succeeded(ctx context.Context, messageID string) Decision {
	if messageID != "" {
		if err := h.store.Clear(ctx, messageID); err != nil {
			h.logger.Warn("failed to clear retry state", "messageId", messageID, "error", err)
		}
	}
	h.metrics.FailureDecision(ActionAck.String())
	return Decision{Action: ActionAck}
}

// Failed records the attempt and decides between retry, dead-letter and drop.
// Messages without an identity get a single attempt.
func (h *FailureHandler) Failed(ctx context.Context, f Failure) Decision {
	attempt := 1
	if f.MessageID != "" {
		rec, err := h.store.Record(ctx, f.MessageID, f.Queue, f.Err)
		if err != nil {
			h.logger.Warn("failed to record attempt", "messageId", f.MessageID, "error", err)
		} else {
			attempt = rec.Attempts
		}
	}

	if f.MessageID != "" && h.policy.ShouldRetry(attempt, f.Err) {
		d := Decision{Action: ActionRetry, Delay: h.policy.Delay(attempt), Attempt: attempt, Err: f.Err}
		h.logger.Info("message will be retried",
			"messageId", f.MessageID,
			"queue", f.Queue,
			"attempt", attempt,
			"maxAttempts", h.policy.MaxAttempts(),
			"delay", d.Delay,
			"error", f.Err)
		h.metrics.FailureDecision(d.Action.String())
		return d
	}

	d := h.exhausted(ctx, f, attempt)
	h.metrics.FailureDecision(d.Action.String())
	return d
}

func (h *FailureHandler) exhausted(ctx context.Context, f Failure, attempt int) Decision {
	errMsg := ""
	if f.Err != nil {
		errMsg = f.Err.Error()
	}

	if h.router == nil {
		h.logger.Error("message dropped: no dead letter queue configured",
			"messageId", f.MessageID,
			"queue", f.Queue,
			"routingKey", f.RoutingKey,
			"attempt", attempt,
			"error", f.Err)
		h.clear(ctx, f.MessageID)
		return Decision{Action: ActionDrop, Attempt: attempt, Err: f.Err}
	}

	var err error
	if f.Event != nil {
		err = h.router.Send(ctx, f.Event, f.Queue, errMsg, attempt, f.Headers)
	} else {
		err = h.router.SendRaw(ctx, f.RoutingKey, f.Body, f.Queue, errMsg, attempt, f.Headers)
	}
	if err != nil {
		if f.MessageID != "" && !permanentDeadLetterError(err) && attempt < h.policy.MaxAttempts()+h.dlAttempts {
			// Keep the message on the broker; the next failure tries the router again.
			h.logger.Error("dead lettering failed, message will be redelivered",
				"messageId", f.MessageID,
				"queue", f.Queue,
				"attempt", attempt,
				"error", err)
			return Decision{Action: ActionRetry, Delay: h.policy.Delay(attempt), Attempt: attempt, Err: err}
		}
		h.logger.Error("message dropped: dead lettering failed",
			"messageId", f.MessageID,
			"queue", f.Queue,
			"routingKey", f.RoutingKey,
			"attempt", attempt,
			"error", err,
			"cause", f.Err)
		h.clear(ctx, f.MessageID)
		return Decision{Action: ActionDrop, Attempt: attempt, Err: errors.Join(f.Err, err)}
	}

	h.clear(ctx, f.MessageID)
	return Decision{Action: ActionDeadLetter, Attempt: attempt, Err: f.Err}
}

// permanentDeadLetterError reports whether publishing the same message to the
// dead-letter queue again would fail the same way.
func permanentDeadLetterError(err error) bool {
	var encErr *rabbitmq.EncodingError
	return errors.Is(err, ErrInvalidDLQMessage) ||
		errors.Is(err, rabbitmq.ErrEmptyPayload) ||
		errors.As(err, &encErr)
}

func (h *FailureHandler) clear(ctx context.Context, messageID string) {
	if messageID == "" {
		return
	}
	if err := h.store.Clear(ctx, messageID); err != nil {
		h.logger.Warn("failed to clear retry state", "messageId", messageID, "error", err)
	}
}
