package crud

import (
	"context"
	"reflect"
	"time"

	"github.com/conduit-lang/entrymap/internal/backend"
	"github.com/conduit-lang/entrymap/internal/orm/attribute"
	"github.com/conduit-lang/entrymap/internal/orm/query"
	"github.com/conduit-lang/entrymap/internal/orm/schema"
)

// Find reads the entry stored under key. attrs limits the attributes read;
// by default every mapped attribute is read.
func Find[T any](ctx context.Context, m *Manager, key string, attrs ...string) (result *T, err error) {
	defer m.track(OperationFind, (*T)(nil), time.Now(), &err)

	if key == "" {
		return nil, wrapError(OperationFind, "", schema.NewMappingError(schema.TypeOf((*T)(nil)).String(), "", "dn to find entry is empty"))
	}
	sch, err := m.registry.Schema((*T)(nil))
	if err != nil {
		return nil, wrapError(OperationFind, key, err)
	}
	types, err := m.registry.PropertyTypes(sch.Type)
	if err != nil {
		return nil, wrapError(OperationFind, key, err)
	}
	if len(attrs) == 0 {
		attrs = m.returnAttributes(sch, reflect.Value{})
	}

	data, err := m.backend.Find(ctx, key, sch.Options.ObjectClasses, types, attrs...)
	if err != nil {
		return nil, wrapError(OperationFind, key, err)
	}
	entries, err := Build[T](m.registry, m.codec, map[string][]*attribute.Data{key: data})
	if err != nil {
		return nil, wrapError(OperationFind, key, err)
	}
	return entries[0], nil
}

// FindEntries returns the entries below the sample's dn that have the
// sample's non-empty attribute values and object classes
func FindEntries[T any](ctx context.Context, m *Manager, sample *T, limit int) ([]*T, error) {
	baseKey, filter, err := m.sampleFilter(sample)
	if err != nil {
		return nil, wrapError(OperationSearch, "", err)
	}
	return FindEntriesByFilter[T](ctx, m, baseKey, filter, limit)
}

// FindEntriesByFilter returns the entries of type T at or below baseKey
// matching filter. A limit of 0 returns every match.
func FindEntriesByFilter[T any](ctx context.Context, m *Manager, baseKey string, filter *query.Filter, limit int, attrs ...string) ([]*T, error) {
	return FindEntriesInScope[T](ctx, m, baseKey, backend.ScopeSubtree, filter, limit, attrs...)
}

// FindEntriesInScope is FindEntriesByFilter with an explicit search scope
func FindEntriesInScope[T any](ctx context.Context, m *Manager, baseKey string, scope backend.Scope, filter *query.Filter, limit int, attrs ...string) (result []*T, err error) {
	defer m.track(OperationSearch, (*T)(nil), time.Now(), &err)

	sch, err := m.registry.Schema((*T)(nil))
	if err != nil {
		return nil, wrapError(OperationSearch, baseKey, err)
	}
	if len(attrs) == 0 {
		attrs = m.returnAttributes(sch, reflect.Value{})
	}

	entries, err := m.backend.Search(ctx, baseKey, scope, sch.Options.ObjectClasses, filter, attrs, limit)
	if err != nil {
		return nil, wrapError(OperationSearch, baseKey, err)
	}
	result, err = Build[T](m.registry, m.codec, entries)
	if err != nil {
		return nil, wrapError(OperationSearch, baseKey, err)
	}
	return result, nil
}

// CountEntries counts the entries matched by FindEntries for the sample
func (m *Manager) CountEntries(ctx context.Context, sample any) (int, error) {
	baseKey, filter, err := m.sampleFilter(sample)
	if err != nil {
		return 0, wrapError(OperationCount, "", err)
	}
	return m.CountEntriesByFilter(ctx, sample, baseKey, filter)
}

// CountEntriesByFilter counts the entries of the sample's type below baseKey
// matching filter
func (m *Manager) CountEntriesByFilter(ctx context.Context, sample any, baseKey string, filter *query.Filter) (int, error) {
	return m.CountEntriesInScope(ctx, sample, baseKey, backend.ScopeSubtree, filter)
}

// CountEntriesInScope is CountEntriesByFilter with an explicit search scope
func (m *Manager) CountEntriesInScope(ctx context.Context, sample any, baseKey string, scope backend.Scope, filter *query.Filter) (count int, err error) {
	defer m.track(OperationCount, sample, time.Now(), &err)

	sch, err := m.registry.Schema(sample)
	if err != nil {
		return 0, wrapError(OperationCount, baseKey, err)
	}
	entries, err := m.backend.Search(ctx, baseKey, scope, sch.Options.ObjectClasses, filter, []string{attribute.ObjectClass}, 0)
	if err != nil {
		return 0, wrapError(OperationCount, baseKey, err)
	}
	return len(entries), nil
}

// Contains reports whether an entry of the sample's type is stored under key
func (m *Manager) Contains(ctx context.Context, sample any, key string) (found bool, err error) {
	defer m.track(OperationContains, sample, time.Now(), &err)

	if key == "" {
		return false, wrapError(OperationContains, "", schema.NewMappingError("", "", "dn to find entry is empty"))
	}
	sch, err := m.registry.Schema(sample)
	if err != nil {
		return false, wrapError(OperationContains, key, err)
	}
	types, err := m.registry.PropertyTypes(sch.Type)
	if err != nil {
		return false, wrapError(OperationContains, key, err)
	}

	_, err = m.backend.Find(ctx, key, sch.Options.ObjectClasses, types, m.returnAttributes(sch, reflect.Value{})...)
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, wrapError(OperationContains, key, err)
	}
	return true, nil
}

// ContainsEntry reports whether an entry with the values of entry exists at
// or below its dn
func (m *Manager) ContainsEntry(ctx context.Context, entry any) (found bool, err error) {
	defer m.track(OperationContains, entry, time.Now(), &err)

	baseKey, filter, err := m.sampleFilter(entry)
	if err != nil {
		return false, wrapError(OperationContains, "", err)
	}
	sch, err := m.registry.Schema(entry)
	if err != nil {
		return false, wrapError(OperationContains, baseKey, err)
	}
	found, err = m.backend.Contains(ctx, baseKey, sch.Options.ObjectClasses, filter)
	if err != nil {
		return false, wrapError(OperationContains, baseKey, err)
	}
	return found, nil
}

// sampleFilter returns the dn of a sample entry and the filter matching its
// non-empty attribute values and object classes
func (m *Manager) sampleFilter(sample any) (string, *query.Filter, error) {
	sch, v, err := m.resolve(sample)
	if err != nil {
		return "", nil, err
	}
	dn, err := m.dnOf(sch, v)
	if err != nil {
		return "", nil, err
	}
	all, err := m.attributesOf(sch, v)
	if err != nil {
		return "", nil, err
	}
	attrs := make([]*attribute.Data, 0, len(all))
	for _, a := range all {
		if !a.IsEmpty() {
			attrs = append(attrs, a)
		}
	}
	classes, _, err := m.objectClassesOf(sch, v)
	if err != nil {
		return "", nil, err
	}
	return dn, query.EntryFilter(attrs, classes), nil
}
