package crud

import (
	"time"
)

// Operation represents a manager operation type
type Operation int

const (
	// OperationPersist represents a persist operation
	OperationPersist Operation = iota
	// OperationMerge represents a merge operation
	OperationMerge
	// OperationFind represents a single-entry read
	OperationFind
	// OperationSearch represents a multi-entry read
	OperationSearch
	// OperationCount represents a count operation
	OperationCount
	// OperationContains represents an existence check
	OperationContains
	// OperationRemove represents a delete operation
	OperationRemove
	// OperationImport represents a raw attribute import
	OperationImport
	// OperationAuthenticate represents a password check
	OperationAuthenticate
)

// String returns the string representation of the operation
func (o Operation) String() string {
	switch o {
	case OperationPersist:
		return "persist"
	case OperationMerge:
		return "merge"
	case OperationFind:
		return "find"
	case OperationSearch:
		return "search"
	case OperationCount:
		return "count"
	case OperationContains:
		return "contains"
	case OperationRemove:
		return "remove"
	case OperationImport:
		return "import"
	case OperationAuthenticate:
		return "authenticate"
	default:
		return "unknown"
	}
}

// Observer is notified after every manager operation
type Observer interface {
	ObserveOperation(op Operation, entryType string, duration time.Duration, err error)
}

// PersistenceExtension hashes and verifies password attribute values
type PersistenceExtension interface {
	// CreateHash returns the stored form of a password
	CreateHash(password string) (string, error)
	// CompareHash reports whether password matches the stored form
	CompareHash(password, stored string) bool
	// IsHashed reports whether a value is already in stored form
	IsHashed(value string) bool
}
