package serialization

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownEvent        = errors.New("serialization: unknown event")
	ErrNotEvent            = errors.New("serialization: type does not implement contracts.Event")
	ErrDuplicateRoutingKey = errors.New("serialization: routing key already mapped")
	ErrMalformedPayload    = errors.New("serialization: malformed payload")
)

// UnknownEventError is returned when no type is mapped to a routing key.
type UnknownEventError struct {
	RoutingKey string
}

func (e *UnknownEventError) Error() string {
	return fmt.Sprintf("serialization: no event mapped to routing key %q", e.RoutingKey)
}

func (e *UnknownEventError) Unwrap() error {
	return ErrUnknownEvent
}

func (e *UnknownEventError) IsRetryable() bool {
	return false
}

// DecodeError wraps a failure to turn a payload into an event.
type DecodeError struct {
	RoutingKey string
	Err        error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("serialization: decode %q: %v", e.RoutingKey, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsRetryable reports false: the same bytes will fail the same way.
func (e *DecodeError) IsRetryable() bool {
	return false
}
