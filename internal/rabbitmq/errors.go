package rabbitmq

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

var (
	ErrConnectionClosed   = errors.New("rabbitmq: connection is closed")
	ErrConnectionNotReady = errors.New("rabbitmq: connection not ready")
	ErrMaxRetriesExceeded = errors.New("rabbitmq: maximum connection attempts exceeded")

	ErrChannelClosed = errors.New("rabbitmq: channel is closed")

	ErrInvalidArgument = errors.New("rabbitmq: invalid argument")
	ErrEmptyPayload    = errors.New("rabbitmq: payload encodes to nothing")

	ErrTemporaryQueue = errors.New("rabbitmq: could not create temporary queue")

	ErrTopologyDeclarationFailed = errors.New("rabbitmq: topology declaration failed")
)

// ConnectionError is returned once every connection attempt has failed.
type ConnectionError struct {
	Op        string    // Operation that failed
	URL       string    // Connection URL (sanitized)
	Err       error     // Last underlying error
	Timestamp time.Time // When the error occurred
	Attempts  int       // Number of attempts made
}

func (e *ConnectionError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("rabbitmq connection error: %s to %s failed after %d attempts: %v", e.Op, e.URL, e.Attempts, e.Err)
	}
	return fmt.Sprintf("rabbitmq connection error: %s to %s failed: %v", e.Op, e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() []error {
	return []error{ErrMaxRetriesExceeded, e.Err}
}

// PublishError represents a publish operation error
type PublishError struct {
	Exchange   string    // Target exchange
	RoutingKey string    // Routing key used
	Err        error     // Underlying error
	Timestamp  time.Time // When the error occurred
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("rabbitmq publish error: failed to publish to %s/%s: %v",
		e.Exchange, e.RoutingKey, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// EncodingError is returned when a payload cannot be turned into a body.
// Stack holds the goroutine stack at the failure point.
type EncodingError struct {
	Exchange   string
	RoutingKey string
	Stack      string
	Err        error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("rabbitmq encoding error: payload for %s/%s: %v", e.Exchange, e.RoutingKey, e.Err)
}

func (e *EncodingError) Unwrap() error {
	return e.Err
}

// IsRetryable reports false: the same payload fails the same way.
func (e *EncodingError) IsRetryable() bool {
	return false
}

// ConsumerError represents a consumer-related error
type ConsumerError struct {
	Queue       string    // Queue name
	ConsumerTag string    // Consumer tag
	Op          string    // Operation that failed
	Err         error     // Underlying error
	Timestamp   time.Time // When the error occurred
}

func (e *ConsumerError) Error() string {
	return fmt.Sprintf("rabbitmq consumer error: %s failed for consumer %s on queue %s: %v",
		e.Op, e.ConsumerTag, e.Queue, e.Err)
}

func (e *ConsumerError) Unwrap() error {
	return e.Err
}

// TopologyError represents a topology-related error
type TopologyError struct {
	Component string    // Component type (exchange, queue, binding)
	Name      string    // Component name
	Op        string    // Operation that failed
	Err       error     // Underlying error
	Timestamp time.Time // When the error occurred
}

func (e *TopologyError) Error() string {
	return fmt.Sprintf("rabbitmq topology error: failed to %s %s '%s': %v",
		e.Op, e.Component, e.Name, e.Err)
}

func (e *TopologyError) Unwrap() error {
	return e.Err
}

// SanitizeURL hides the password of a connection URL.
func SanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	return u.Redacted()
}
