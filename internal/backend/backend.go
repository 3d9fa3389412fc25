// Package backend defines the contract between the entry manager and the
// stores that persist attribute sets.
package backend

import (
	"context"
	"errors"
	"time"

	"github.com/conduit-lang/entrymap/internal/orm/attribute"
	"github.com/conduit-lang/entrymap/internal/orm/query"
	"github.com/conduit-lang/entrymap/internal/orm/schema"
)

var (
	// ErrEntryNotFound is returned (possibly wrapped) when a key is absent
	ErrEntryNotFound = errors.New("entry not found")
	// ErrEntryExists is returned when persisting over an existing key
	ErrEntryExists = errors.New("entry already exists")
)

// Backend stores attribute sets keyed by entry identifier.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Persist writes a new entry
	Persist(ctx context.Context, key string, objectClasses []string, attrs []*attribute.Data, ttl int) error
	// Merge applies modifications to an existing entry
	Merge(ctx context.Context, key string, objectClasses []string, mods []attribute.Modification, ttl int) error
	// Find reads one entry, limited to attrs when given. types maps lower-cased
	// attribute names to their declared properties.
	Find(ctx context.Context, key string, objectClasses []string, types map[string]*schema.Property, attrs ...string) ([]*attribute.Data, error)
	// Search returns the entries within scope of baseKey matching filter,
	// keyed by identifier
	Search(ctx context.Context, baseKey string, scope Scope, objectClasses []string, filter *query.Filter, attrs []string, limit int) (map[string][]*attribute.Data, error)
	// Contains reports whether any entry under baseKey matches filter
	Contains(ctx context.Context, baseKey string, objectClasses []string, filter *query.Filter) (bool, error)
	// RemoveByKey deletes one entry
	RemoveByKey(ctx context.Context, key string, objectClasses []string) error
	// RemoveRecursively deletes an entry and every entry below it
	RemoveRecursively(ctx context.Context, key string, objectClasses []string) error

	EncodeTime(t time.Time) string
	DecodeTime(s string) (time.Time, error)

	// StoreFullEntry reports whether the backend persists whole rows
	StoreFullEntry() bool
	// SupportsForceUpdate reports whether entries may be rewritten in full on merge
	SupportsForceUpdate() bool
}

// IsNotFound returns true if the error is or wraps ErrEntryNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEntryNotFound)
}
