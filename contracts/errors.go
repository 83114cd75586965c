package contracts

import (
	"errors"
	"fmt"
)

var (
	ErrFieldMissing  = errors.New("contracts: field missing")
	ErrFieldType     = errors.New("contracts: unexpected field type")
	ErrInvalidFields = errors.New("contracts: payload is not a JSON object")
)

// FieldError reports a payload field that could not be read.
type FieldError struct {
	Key string
	Err error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("contracts: field %q: %v", e.Key, e.Err)
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

// IsRetryable reports false: a malformed payload never becomes valid on redelivery.
func (e *FieldError) IsRetryable() bool {
	return false
}
