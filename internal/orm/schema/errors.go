package schema

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMapping is the sentinel matched by every MappingError
var ErrMapping = errors.New("mapping error")

// MappingError reports a malformed entry type declaration or a value that
// cannot be mapped to or from its attribute form. It is never retried.
type MappingError struct {
	Type     string
	Property string
	Reason   string
	Err      error
}

// NewMappingError creates a MappingError with a formatted reason
func NewMappingError(typeName, property, format string, args ...any) *MappingError {
	return &MappingError{
		Type:     typeName,
		Property: property,
		Reason:   fmt.Sprintf(format, args...),
	}
}

// Error implements the error interface
func (e *MappingError) Error() string {
	var b strings.Builder
	b.WriteString("mapping error")
	if e.Type != "" {
		b.WriteString(": ")
		b.WriteString(e.Type)
		if e.Property != "" {
			b.WriteString(".")
			b.WriteString(e.Property)
		}
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause
func (e *MappingError) Unwrap() error {
	return e.Err
}

// Is matches ErrMapping
func (e *MappingError) Is(target error) bool {
	return target == ErrMapping
}

// IsMappingError returns true if the error is a MappingError
func IsMappingError(err error) bool {
	return errors.Is(err, ErrMapping)
}
