package messaging

import (
	"errors"
	"fmt"
)

var (
	ErrNilEvent        = errors.New("messaging: event cannot be nil")
	ErrNoReply         = errors.New("messaging: reply queue closed before a reply arrived")
	ErrNoReplyQueue    = errors.New("messaging: command has no reply queue")
	ErrHandlerNotFound = errors.New("messaging: handler method not found")
	ErrInvalidHandler  = errors.New("messaging: unsupported handler signature")
)

// HandlerError describes a handler that cannot be invoked. It is never
// retryable.
type HandlerError struct {
	Controller string
	Method     string
	Err        error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s::%s: %v", e.Controller, e.Method, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

func (e *HandlerError) IsRetryable() bool {
	return false
}
