package reliability

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"time"
)

var (
	// Retry errors
	ErrMaxRetriesExceeded = errors.New("retry: maximum attempts exceeded")
	ErrNonRetryable       = errors.New("retry: error is not retryable")

	// Permanent failure categories
	ErrInvalidArgument = errors.New("invalid argument")
	ErrMalformedInput  = errors.New("malformed input")
	ErrProgramming     = errors.New("programming error")

	// Dead letter queue errors
	ErrDLQNotConfigured    = errors.New("dlq: dead letter queue not configured")
	ErrDLQProcessingFailed = errors.New("dlq: failed to process dead letter")
	ErrInvalidDLQMessage   = errors.New("dlq: invalid dead letter message")
)

// DLQError represents a dead letter queue error
type DLQError struct {
	Queue     string
	MessageID string
	Op        string
	Err       error
	Timestamp time.Time
}

func (e *DLQError) Error() string {
	if e.MessageID != "" {
		return fmt.Sprintf("dlq error: %s failed for message %s on queue %s: %v", e.Op, e.MessageID, e.Queue, e.Err)
	}
	return fmt.Sprintf("dlq error: %s failed on queue %s: %v", e.Op, e.Queue, e.Err)
}

func (e *DLQError) Unwrap() error {
	return e.Err
}

// RetryableError wraps an error to indicate whether it's retryable
type RetryableError struct {
	Err       error
	Retryable bool
}

func (r RetryableError) Error() string {
	return r.Err.Error()
}

// IsRetryable indicates if the error is retryable
func (r RetryableError) IsRetryable() bool {
	return r.Retryable
}

func (r RetryableError) Unwrap() error {
	return r.Err
}

// Permanent marks err as never retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return RetryableError{Err: err, Retryable: false}
}

// Transient marks err as retryable regardless of its category.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return RetryableError{Err: err, Retryable: true}
}

// IsRetryable classifies err. Invalid arguments, malformed input, decoding
// failures and programming errors are permanent; anything else is transient
// unless it says otherwise through an IsRetryable method.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	type retryable interface {
		IsRetryable() bool
	}
	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	switch {
	case errors.Is(err, ErrNonRetryable),
		errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrMalformedInput),
		errors.Is(err, ErrProgramming):
		return false
	}

	var (
		syntaxErr  *json.SyntaxError
		typeErr    *json.UnmarshalTypeError
		runtimeErr runtime.Error
	)
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.As(err, &runtimeErr) {
		return false
	}

	return true
}

// PanicError is a recovered handler panic. It is a programming error.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.Value)
}

func (e *PanicError) Unwrap() error {
	return ErrProgramming
}
