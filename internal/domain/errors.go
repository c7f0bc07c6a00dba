package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Package errors wrap one of these so callers can match
// either the specific error or its kind with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid state")
	ErrInvalidInput = errors.New("invalid input")
	ErrStorage      = errors.New("storage failure")
)

// StorageError wraps a persistence failure with the operation that failed
func StorageError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}
