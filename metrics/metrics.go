// Package metrics exposes Prometheus collectors for the event bus. Every
// method is safe on a nil *Collector so components can run without metrics.
package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "eventbus"

// Collector groups the event bus collectors.
type Collector struct {
	connectionRetries prometheus.Counter
	connectionErrors  prometheus.Counter
	published         *prometheus.CounterVec
	rpcDuration       *prometheus.HistogramVec
	retryDecisions    *prometheus.CounterVec
	deadLetters       *prometheus.CounterVec
	deadLetterOps     *prometheus.CounterVec

	registerer prometheus.Registerer
	registered bool
	mu         sync.Mutex
}

// NewCollector creates the collectors and registers them with registerer,
// prometheus.DefaultRegisterer when nil.
func NewCollector(registerer prometheus.Registerer) (*Collector, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	c := &Collector{
		registerer: registerer,
		connectionRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "retries_total",
			Help:      "Connection attempts that failed and were retried",
		}),
		connectionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "errors_total",
			Help:      "Connections abandoned after exhausting every attempt",
		}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "messages_total",
			Help:      "Messages published by exchange and outcome",
		}, []string{"exchange", "outcome"}),
		rpcDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "duration_seconds",
			Help:      "Time from command publish to reply",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"mode", "outcome"}),
		retryDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "consumer",
			Name:      "failure_decisions_total",
			Help:      "Decisions taken for failed messages",
		}, []string{"action"}),
		deadLetters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dlq",
			Name:      "messages_total",
			Help:      "Messages routed to the dead letter queue by original queue",
		}, []string{"queue"}),
		deadLetterOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dlq",
			Name:      "operations_total",
			Help:      "Operator actions on the dead letter queue",
		}, []string{"op"}),
	}
	if err := c.register(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Collector) register() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.registered {
		return nil
	}

	register := func(col prometheus.Collector) (prometheus.Collector, error) {
		err := c.registerer.Register(col)
		if err == nil {
			return col, nil
		}
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector, nil
		}
		return nil, err
	}

	var err error
	var col prometheus.Collector
	if col, err = register(c.connectionRetries); err != nil {
		return err
	}
	c.connectionRetries = col.(prometheus.Counter)
	if col, err = register(c.connectionErrors); err != nil {
		return err
	}
	c.connectionErrors = col.(prometheus.Counter)
	if col, err = register(c.published); err != nil {
		return err
	}
	c.published = col.(*prometheus.CounterVec)
	if col, err = register(c.rpcDuration); err != nil {
		return err
	}
	c.rpcDuration = col.(*prometheus.HistogramVec)
	if col, err = register(c.retryDecisions); err != nil {
		return err
	}
	c.retryDecisions = col.(*prometheus.CounterVec)
	if col, err = register(c.deadLetters); err != nil {
		return err
	}
	c.deadLetters = col.(*prometheus.CounterVec)
	if col, err = register(c.deadLetterOps); err != nil {
		return err
	}
	c.deadLetterOps = col.(*prometheus.CounterVec)

	c.registered = true
	return nil
}

func (c *Collector) ConnectionRetry() {
	if c == nil {
		return
	}
	c.connectionRetries.Inc()
}

func (c *Collector) ConnectionFailed() {
	if c == nil {
		return
	}
	c.connectionErrors.Inc()
}

func (c *Collector) Published(exchange string, err error) {
	if c == nil {
		return
	}
	c.published.WithLabelValues(exchange, outcome(err)).Inc()
}

func (c *Collector) RPC(mode string, started time.Time, err error) {
	if c == nil {
		return
	}
	c.rpcDuration.WithLabelValues(mode, outcome(err)).Observe(time.Since(started).Seconds())
}

func (c *Collector) FailureDecision(action string) {
	if c == nil {
		return
	}
	c.retryDecisions.WithLabelValues(action).Inc()
}

func (c *Collector) DeadLettered(originalQueue string) {
	if c == nil {
		return
	}
	c.deadLetters.WithLabelValues(originalQueue).Inc()
}

func (c *Collector) DeadLetterOp(op string) {
	if c == nil {
		return
	}
	c.deadLetterOps.WithLabelValues(op).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
