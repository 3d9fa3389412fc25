package crud

import (
	"errors"
	"fmt"

	"github.com/conduit-lang/entrymap/internal/backend"
	"github.com/conduit-lang/entrymap/internal/orm/schema"
)

// Common manager error types
var (
	// ErrNotFound is returned when an entry is not found
	ErrNotFound = backend.ErrEntryNotFound

	// ErrEntryExists is returned when persisting over an existing entry
	ErrEntryExists = backend.ErrEntryExists

	// ErrNilEntry is returned when a nil entry is passed to the manager
	ErrNilEntry = errors.New("entry is nil")

	// ErrNotAddressable is returned when an operation that assigns fields gets a non-pointer entry
	ErrNotAddressable = errors.New("entry must be a pointer to a struct")

	// ErrNoPersistenceExtension is returned by Authenticate without a configured extension
	ErrNoPersistenceExtension = errors.New("no persistence extension configured")
)

// OperationError records the failed manager operation and entry key
type OperationError struct {
	Op  Operation
	Key string
	Err error
}

// Error implements the error interface
func (e *OperationError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("failed to %s entry: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("failed to %s entry %s: %v", e.Op, e.Key, e.Err)
}

// Unwrap returns the underlying error
func (e *OperationError) Unwrap() error {
	return e.Err
}

func wrapError(op Operation, key string, err error) error {
	if err == nil {
		return nil
	}
	var opErr *OperationError
	if errors.As(err, &opErr) {
		return err
	}
	return &OperationError{Op: op, Key: key, Err: err}
}

// IsNotFound returns true if the error is or wraps ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsEntryExists returns true if the error is or wraps ErrEntryExists
func IsEntryExists(err error) bool {
	return errors.Is(err, ErrEntryExists)
}

// IsMappingError returns true if the error is or wraps a mapping error
func IsMappingError(err error) bool {
	return schema.IsMappingError(err)
}
