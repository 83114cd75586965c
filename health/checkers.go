package health

import (
	"context"
	"fmt"
	"time"

	"github.com/teamsquad/eventbus-go/internal/rabbitmq"
)

// DefaultWarnDepth is the queue depth above which a QueueDepthChecker reports
// degraded.
const DefaultWarnDepth = 1000

// Pinger verifies a broker connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// QueueStatter reports the depth of a queue.
type QueueStatter interface {
	Stats(ctx context.Context) (rabbitmq.QueueStats, error)
}

// BrokerChecker checks RabbitMQ connection health
type BrokerChecker struct {
	broker Pinger
}

// NewBrokerChecker creates a new RabbitMQ health checker
func NewBrokerChecker(broker Pinger) *BrokerChecker {
	return &BrokerChecker{broker: broker}
}

func (c *BrokerChecker) Name() string {
	return "rabbitmq"
}

func (c *BrokerChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]any),
	}

	if err := c.broker.Ping(ctx); err != nil {
		result.Status = StatusUnhealthy
		result.Message = "Broker unreachable"
		result.Error = err.Error()
	} else {
		result.Status = StatusHealthy
		result.Message = "Connection is healthy"
	}

	result.Duration = time.Since(start)
	result.Details["response_time_ms"] = result.Duration.Milliseconds()
	return result
}

// QueueDepthChecker reports degraded once a queue holds more than WarnDepth
// messages. It is meant for the dead letter queue, which should stay empty.
type QueueDepthChecker struct {
	name      string
	queue     QueueStatter
	warnDepth int
}

// NewQueueDepthChecker creates a checker named name. A warnDepth below one
// uses DefaultWarnDepth.
func NewQueueDepthChecker(name string, queue QueueStatter, warnDepth int) *QueueDepthChecker {
	if warnDepth < 1 {
		warnDepth = DefaultWarnDepth
	}
	return &QueueDepthChecker{name: name, queue: queue, warnDepth: warnDepth}
}

func (c *QueueDepthChecker) Name() string {
	return c.name
}

func (c *QueueDepthChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]any),
	}

	stats, err := c.queue.Stats(ctx)
	result.Duration = time.Since(start)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = "Queue not accessible"
		result.Error = err.Error()
		return result
	}

	result.Details["queue_name"] = stats.Name
	result.Details["message_count"] = stats.Messages
	result.Details["consumer_count"] = stats.Consumers

	if stats.Messages > c.warnDepth {
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("Queue %s holds %d messages (limit %d)", stats.Name, stats.Messages, c.warnDepth)
		return result
	}
	result.Status = StatusHealthy
	result.Message = fmt.Sprintf("Queue %s is accessible", stats.Name)
	return result
}
