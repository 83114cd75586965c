package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/teamsquad/eventbus-go/metrics"
)

const (
	// DefaultMaxAttempts is the number of connection attempts before giving up.
	DefaultMaxAttempts = 5
	// DefaultPrefetch is the per-consumer unacknowledged message limit.
	DefaultPrefetch = 1
)

// Connection owns one broker connection and one channel. It connects lazily
// on first use and serializes every channel operation.
type Connection struct {
	url         string
	dial        Dialer
	maxAttempts int
	prefetch    int
	logger      *slog.Logger
	metrics     *metrics.Collector

	mu   sync.Mutex
	conn Conn
	ch   Channel
}

// ConnectionOption configures the Connection
type ConnectionOption func(*Connection)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ConnectionOption {
	return func(c *Connection) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDialer replaces the amqp091 dialer.
func WithDialer(dial Dialer) ConnectionOption {
	return func(c *Connection) {
		if dial != nil {
			c.dial = dial
		}
	}
}

// WithMaxAttempts sets the number of connection attempts.
func WithMaxAttempts(attempts int) ConnectionOption {
	return func(c *Connection) {
		if attempts > 0 {
			c.maxAttempts = attempts
		}
	}
}

// WithPrefetch sets the channel QoS prefetch count.
func WithPrefetch(count int) ConnectionOption {
	return func(c *Connection) {
		if count > 0 {
			c.prefetch = count
		}
	}
}

// WithMetrics records connection retries and failures.
func WithMetrics(m *metrics.Collector) ConnectionOption {
	return func(c *Connection) {
		c.metrics = m
	}
}

// NewConnection creates an unconnected Connection for creds.
func NewConnection(creds Credentials, options ...ConnectionOption) *Connection {
	return NewConnectionURL(creds.URL(), options...)
}

// NewConnectionURL creates an unconnected Connection for an AMQP URI.
func NewConnectionURL(url string, options ...ConnectionOption) *Connection {
	c := &Connection{
		url:         url,
		dial:        DefaultDialer,
		maxAttempts: DefaultMaxAttempts,
		prefetch:    DefaultPrefetch,
		logger:      slog.Default(),
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

// Connect opens the connection and channel if they are not open. Attempts are
// made back to back; the call returns a *ConnectionError after maxAttempts
// failures.
func (c *Connection) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectLocked()
}

func (c *Connection) connectLocked() error {
	if c.readyLocked() {
		return nil
	}
	c.closeLocked()

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		conn, ch, err := c.open()
		if err == nil {
			c.conn = conn
			c.ch = ch
			c.logger.Info("connected to RabbitMQ",
				"url", SanitizeURL(c.url),
				"attempt", attempt,
				"prefetch", c.prefetch)
			return nil
		}

		lastErr = err
		c.logger.Warn("connection attempt failed",
			"url", SanitizeURL(c.url),
			"attempt", attempt,
			"maxAttempts", c.maxAttempts,
			"error", err)
		if attempt < c.maxAttempts {
			c.metrics.ConnectionRetry()
		}
	}

	c.metrics.ConnectionFailed()
	return &ConnectionError{
		Op:        "connect",
		URL:       SanitizeURL(c.url),
		Err:       lastErr,
		Timestamp: time.Now(),
		Attempts:  c.maxAttempts,
	}
}

func (c *Connection) open() (Conn, Channel, error) {
	conn, err := c.dial(c.url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("set qos: %w", err)
	}
	return conn, ch, nil
}

func (c *Connection) readyLocked() bool {
	return c.conn != nil && !c.conn.IsClosed() && c.ch != nil && !c.ch.IsClosed()
}

// IsConnected reports whether the connection and channel are open.
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readyLocked()
}

// Execute runs fn with the channel while holding the connection lock,
// connecting first when needed. A closed channel is dropped so the next call
// reconnects.
func (c *Connection) Execute(ctx context.Context, fn func(Channel) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.connectLocked(); err != nil {
		return err
	}

	// Run function with panic recovery
	var execErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				execErr = fmt.Errorf("panic in channel execution: %v", r)
			}
		}()
		execErr = fn(c.ch)
	}()

	if errors.Is(execErr, amqp.ErrClosed) || c.ch.IsClosed() {
		c.logger.Warn("channel closed, will reconnect on next use", "error", execErr)
		c.closeLocked()
	}
	return execErr
}

// Close closes the channel and the connection.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Connection) closeLocked() error {
	var errs []error
	if c.ch != nil && !c.ch.IsClosed() {
		errs = append(errs, c.ch.Close())
	}
	if c.conn != nil && !c.conn.IsClosed() {
		errs = append(errs, c.conn.Close())
	}
	c.ch = nil
	c.conn = nil
	return errors.Join(errs...)
}
