package crud

import (
	"context"
	"time"

	"github.com/conduit-lang/entrymap/internal/orm/attribute"
	"github.com/conduit-lang/entrymap/internal/orm/schema"
)

// Remove deletes a stored entry. Schema entries are removed attribute by
// attribute with MergeSchema.
func (m *Manager) Remove(ctx context.Context, entry any) (err error) {
	sch, v, err := m.resolve(entry)
	if err != nil {
		return wrapError(OperationRemove, "", err)
	}
	if sch.IsSchemaEntry() {
		return m.MergeSchema(ctx, entry, attribute.ModificationRemove)
	}

	defer m.track(OperationRemove, entry, time.Now(), &err)
	dn, err := m.dnOf(sch, v)
	if err != nil {
		return wrapError(OperationRemove, "", err)
	}
	if err := m.backend.RemoveByKey(ctx, dn, sch.Options.ObjectClasses); err != nil {
		return wrapError(OperationRemove, dn, err)
	}
	return nil
}

// RemoveByKey deletes the entry of the sample's type stored under key
func (m *Manager) RemoveByKey(ctx context.Context, sample any, key string) (err error) {
	defer m.track(OperationRemove, sample, time.Now(), &err)

	if key == "" {
		return wrapError(OperationRemove, "", schema.NewMappingError("", "", "dn to remove entry is empty"))
	}
	sch, err := m.registry.Schema(sample)
	if err != nil {
		return wrapError(OperationRemove, key, err)
	}
	if err := m.backend.RemoveByKey(ctx, key, sch.Options.ObjectClasses); err != nil {
		return wrapError(OperationRemove, key, err)
	}
	return nil
}

// RemoveRecursively deletes the entry under key and every entry below it
func (m *Manager) RemoveRecursively(ctx context.Context, sample any, key string) (err error) {
	defer m.track(OperationRemove, sample, time.Now(), &err)

	if key == "" {
		return wrapError(OperationRemove, "", schema.NewMappingError("", "", "dn to remove entries is empty"))
	}
	sch, err := m.registry.Schema(sample)
	if err != nil {
		return wrapError(OperationRemove, key, err)
	}
	if err := m.backend.RemoveRecursively(ctx, key, sch.Options.ObjectClasses); err != nil {
		return wrapError(OperationRemove, key, err)
	}
	return nil
}
