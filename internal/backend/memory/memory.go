// Package memory provides an in-process backend. It is used by tests and by
// the CLI for dry runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/conduit-lang/entrymap/internal/backend"
	"github.com/conduit-lang/entrymap/internal/backend/filtermatch"
	"github.com/conduit-lang/entrymap/internal/orm/attribute"
	"github.com/conduit-lang/entrymap/internal/orm/codec"
	"github.com/conduit-lang/entrymap/internal/orm/query"
	"github.com/conduit-lang/entrymap/internal/orm/schema"
)

type stored struct {
	entry     *backend.Entry
	expiresAt time.Time
}

// Backend keeps entries in a map guarded by a RWMutex
type Backend struct {
	mu      sync.RWMutex
	entries map[string]*stored
	now     func() time.Time
}

// New creates an empty in-memory backend
func New() *Backend {
	return &Backend{
		entries: make(map[string]*stored),
		now:     time.Now,
	}
}

// SetClock replaces the clock used for expiration (tests)
func (b *Backend) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// Len returns the number of live entries
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, s := range b.entries {
		if b.live(s) {
			n++
		}
	}
	return n
}

func (b *Backend) live(s *stored) bool {
	return s.expiresAt.IsZero() || b.now().Before(s.expiresAt)
}

func (b *Backend) expiry(ttl int) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return b.now().Add(time.Duration(ttl) * time.Second)
}

// get returns a live entry; the caller holds the lock
func (b *Backend) get(key string) (*stored, bool) {
	s, ok := b.entries[backend.NormalizeKey(key)]
	if !ok || !b.live(s) {
		return nil, false
	}
	return s, true
}

// Persist implements backend.Backend
func (b *Backend) Persist(ctx context.Context, key string, objectClasses []string, attrs []*attribute.Data, ttl int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.get(key); ok {
		return fmt.Errorf("failed to persist entry %s: %w", key, backend.ErrEntryExists)
	}
	b.entries[backend.NormalizeKey(key)] = &stored{
		entry:     backend.NewEntry(key, objectClasses, attrs),
		expiresAt: b.expiry(ttl),
	}
	return nil
}

// Merge implements backend.Backend
func (b *Backend) Merge(ctx context.Context, key string, objectClasses []string, mods []attribute.Modification, ttl int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.get(key)
	if !ok {
		return fmt.Errorf("failed to merge entry %s: %w", key, backend.ErrEntryNotFound)
	}
	s.entry.Apply(mods)
	if ttl > 0 {
		s.expiresAt = b.expiry(ttl)
	}
	return nil
}

// Find implements backend.Backend
func (b *Backend) Find(ctx context.Context, key string, objectClasses []string, types map[string]*schema.Property, attrs ...string) ([]*attribute.Data, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s, ok := b.get(key)
	if !ok {
		return nil, fmt.Errorf("failed to find entry %s: %w", key, backend.ErrEntryNotFound)
	}
	return s.entry.Data(attrs...), nil
}

// Search implements backend.Backend
func (b *Backend) Search(ctx context.Context, baseKey string, scope backend.Scope, objectClasses []string, filter *query.Filter, attrs []string, limit int) (map[string][]*attribute.Data, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make(map[string][]*attribute.Data)
	for _, s := range b.matching(baseKey, scope, objectClasses, filter) {
		if limit > 0 && len(result) >= limit {
			break
		}
		result[s.entry.Key] = s.entry.Data(attrs...)
	}
	return result, nil
}

// Contains implements backend.Backend
func (b *Backend) Contains(ctx context.Context, baseKey string, objectClasses []string, filter *query.Filter) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.matching(baseKey, backend.ScopeSubtree, objectClasses, filter)) > 0, nil
}

// matching returns live entries in scope ordered by key; the caller holds the lock
func (b *Backend) matching(baseKey string, scope backend.Scope, objectClasses []string, filter *query.Filter) []*stored {
	keys := make([]string, 0, len(b.entries))
	for k := range b.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var result []*stored
	for _, k := range keys {
		s := b.entries[k]
		if !b.live(s) || !scope.Includes(k, baseKey) {
			continue
		}
		if !s.entry.HasObjectClasses(objectClasses) || !filtermatch.Match(filter, s.entry) {
			continue
		}
		result = append(result, s)
	}
	return result
}

// RemoveByKey implements backend.Backend
func (b *Backend) RemoveByKey(ctx context.Context, key string, objectClasses []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.get(key); !ok {
		return fmt.Errorf("failed to remove entry %s: %w", key, backend.ErrEntryNotFound)
	}
	delete(b.entries, backend.NormalizeKey(key))
	return nil
}

// RemoveRecursively implements backend.Backend
func (b *Backend) RemoveRecursively(ctx context.Context, key string, objectClasses []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for k := range b.entries {
		if backend.InScope(k, key) {
			delete(b.entries, k)
		}
	}
	return nil
}

// EncodeTime implements backend.Backend
func (b *Backend) EncodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// DecodeTime implements backend.Backend
func (b *Backend) DecodeTime(s string) (time.Time, error) {
	return codec.ParseTime(s)
}

// StoreFullEntry implements backend.Backend
func (b *Backend) StoreFullEntry() bool { return false }

// SupportsForceUpdate implements backend.Backend
func (b *Backend) SupportsForceUpdate() bool { return false }

var _ backend.Backend = (*Backend)(nil)
