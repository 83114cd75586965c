package reliability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/teamsquad/eventbus-go/internal/rabbitmq"
)

const (
	HeaderRetryAttempt = "x-retry-attempt"
	HeaderRetryAt      = "x-retry-at"

	// delay queues outlive their TTL by five minutes so bursts reuse them
	delayQueueGrace = 5 * time.Minute
)

// SchedulerBroker is what the scheduler needs from the broker connection.
type SchedulerBroker interface {
	Publish(ctx context.Context, exchange, routingKey string, message any, opts rabbitmq.PublishOptions) error
	DeclareQueue(ctx context.Context, queue rabbitmq.QueueDeclaration) (amqp.Queue, error)
}

// Redelivery is a failed delivery to be handed back to its queue later.
type Redelivery struct {
	MessageID string
	Queue     string
	Body      []byte
	Headers   map[string]any
	Attempt   int
	Delay     time.Duration
}

// RetryScheduler delays redeliveries with per-delay holding queues. A message
// waits in "<queue>.retry.<ms>ms" until its TTL expires and the broker
// dead-letters it through the default exchange back to <queue>, so only the
// failing consumer sees it again.
type RetryScheduler struct {
	broker SchedulerBroker
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	declared map[string]bool
}

// SchedulerOption configures the RetryScheduler
type SchedulerOption func(*RetryScheduler)

// WithSchedulerLogger sets the logger
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(s *RetryScheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewRetryScheduler creates a scheduler publishing through broker.
func NewRetryScheduler(broker SchedulerBroker, options ...SchedulerOption) *RetryScheduler {
	s := &RetryScheduler{
		broker:   broker,
		logger:   slog.Default(),
		now:      time.Now,
		declared: make(map[string]bool),
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

// DelayQueueName returns the holding queue for queue and delay.
func DelayQueueName(queue string, delay time.Duration) string {
	return fmt.Sprintf("%s.retry.%dms", queue, delay.Milliseconds())
}

// Schedule parks r in its holding queue. The message keeps its id so attempt
// counting continues when it comes back.
func (s *RetryScheduler) Schedule(ctx context.Context, r Redelivery) error {
	if r.Queue == "" || len(r.Body) == 0 {
		return fmt.Errorf("%w: redelivery needs a queue and a body", ErrInvalidArgument)
	}
	if r.Delay <= 0 {
		return s.publish(ctx, r.Queue, r)
	}

	name := DelayQueueName(r.Queue, r.Delay)
	if err := s.ensureDelayQueue(ctx, name, r.Queue, r.Delay); err != nil {
		return err
	}
	if err := s.publish(ctx, name, r); err != nil {
		return err
	}

	s.logger.Info("message scheduled for retry",
		"messageId", r.MessageID,
		"queue", r.Queue,
		"attempt", r.Attempt,
		"delay", r.Delay)
	return nil
}

func (s *RetryScheduler) ensureDelayQueue(ctx context.Context, name, target string, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.declared[name] {
		return nil
	}

	ttl := delay.Milliseconds()
	_, err := s.broker.DeclareQueue(ctx, rabbitmq.QueueDeclaration{
		Name:    name,
		Durable: true,
		Arguments: amqp.Table{
			"x-message-ttl":             ttl,
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": target,
			"x-expires":                 ttl + delayQueueGrace.Milliseconds(),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to declare delay queue %s: %w", name, err)
	}

	s.declared[name] = true
	s.logger.Debug("created delay queue", "queue", name, "delay", delay, "targetQueue", target)
	return nil
}

func (s *RetryScheduler) publish(ctx context.Context, routingKey string, r Redelivery) error {
	headers := make(map[string]any, len(r.Headers)+2)
	for k, v := range r.Headers {
		headers[k] = v
	}
	headers[HeaderRetryAttempt] = int64(r.Attempt)
	headers[HeaderRetryAt] = s.now().Add(r.Delay).UTC().Format(time.RFC3339)

	err := s.broker.Publish(ctx, "", routingKey, r.Body, rabbitmq.PublishOptions{
		MessageID: r.MessageID,
		Headers:   headers,
	})
	if err != nil {
		return fmt.Errorf("failed to schedule retry of %s: %w", r.MessageID, err)
	}
	return nil
}
