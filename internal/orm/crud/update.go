package crud

import (
	"context"
	"reflect"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/entrymap/internal/orm/attribute"
	"github.com/conduit-lang/entrymap/internal/orm/merge"
	"github.com/conduit-lang/entrymap/internal/orm/schema"
)

// Merge updates a stored entry to match entry. The stored attributes are
// read first, except for schema entries, which are applied as additions, and
// force-update entries, which are rewritten in full.
// Configuration entries are merged without reading objectClass.
func (m *Manager) Merge(ctx context.Context, entry any) (err error) {
	defer m.track(OperationMerge, entry, time.Now(), &err)

	sch, v, err := m.resolve(entry)
	if err != nil {
		return wrapError(OperationMerge, "", err)
	}

	mode := merge.ModeData
	switch {
	case sch.IsSchemaEntry():
		mode = merge.ModeSchema
	case sch.Options.Configuration:
		mode = merge.ModeConfiguration
	}
	return m.merge(ctx, sch, v, mode, attribute.ModificationAdd)
}

// MergeSchema applies a schema entry without reading the stored state.
// kind is ModificationAdd or ModificationRemove.
func (m *Manager) MergeSchema(ctx context.Context, entry any, kind attribute.ModificationType) (err error) {
	defer m.track(OperationMerge, entry, time.Now(), &err)

	sch, v, err := m.resolve(entry)
	if err != nil {
		return wrapError(OperationMerge, "", err)
	}
	if kind != attribute.ModificationAdd && kind != attribute.ModificationRemove {
		return wrapError(OperationMerge, "", schema.NewMappingError(sch.Name(), "",
			"schema modification should be %s or %s, got %s",
			attribute.ModificationAdd, attribute.ModificationRemove, kind))
	}
	return m.merge(ctx, sch, v, merge.ModeSchema, kind)
}

func (m *Manager) merge(ctx context.Context, sch *schema.EntrySchema, v reflect.Value, mode merge.Mode, kind attribute.ModificationType) error {
	dn, err := m.dnOf(sch, v)
	if err != nil {
		return wrapError(OperationMerge, "", err)
	}

	attrs, err := m.attributesOf(sch, v)
	if err != nil {
		return wrapError(OperationMerge, dn, err)
	}
	classes, custom, err := m.objectClassesOf(sch, v)
	if err != nil {
		return wrapError(OperationMerge, dn, err)
	}

	// Forced updates rewrite the whole entry, so the stored state is not read.
	forceUpdate := sch.Options.ForceUpdate && m.backend.SupportsForceUpdate()

	current := map[string]*attribute.Data{}
	if mode != merge.ModeSchema && !forceUpdate {
		returnAttrs := m.returnAttributes(sch, v)
		if mode == merge.ModeData && returnAttrs != nil {
			returnAttrs = appendName(returnAttrs, attribute.ObjectClass)
		}
		types, err := m.registry.PropertyTypes(sch.Type)
		if err != nil {
			return wrapError(OperationMerge, dn, err)
		}
		stored, err := m.backend.Find(ctx, dn, sch.Options.ObjectClasses, types, returnAttrs...)
		if err != nil {
			return wrapError(OperationMerge, dn, err)
		}
		current = attribute.Map(stored)
	}

	mods := merge.CollectModifications(sch.Properties, sch.Options.DynamicAttributeOptions(),
		attribute.Map(attrs), current, merge.Options{
			Mode:               mode,
			SchemaModification: kind,
			ForceUpdate:        forceUpdate,
			StoreFullEntry:     m.backend.StoreFullEntry(),
		})

	if mode == merge.ModeData && !forceUpdate {
		stored := current[strings.ToLower(attribute.ObjectClass)]
		computed := objectClassAttribute(classes)
		if (stored != nil && !stored.Equal(computed)) || (stored == nil && len(custom) > 0) {
			mods = append(mods, attribute.Modification{
				Type:         attribute.ModificationReplace,
				Attribute:    computed,
				OldAttribute: stored,
			})
		}
	}

	if mods, err = m.hashModifications(mods); err != nil {
		return wrapError(OperationMerge, dn, err)
	}

	ttlProp, ttl, err := m.ttlOf(sch, v)
	if err != nil {
		return wrapError(OperationMerge, dn, err)
	}
	if ttlProp != nil && ttlProp.IgnoreDuringUpdate {
		ttl = 0
	}

	m.logger.Debug("merging entry",
		zap.String("dn", dn),
		zap.String("type", sch.Name()),
		zap.Stringer("mode", mode),
		zap.Strings("modifications", modificationStrings(mods)),
		zap.Int("ttl", ttl))

	if err := m.backend.Merge(ctx, dn, classes, mods, ttl); err != nil {
		return wrapError(OperationMerge, dn, err)
	}
	return nil
}

func modificationStrings(mods []attribute.Modification) []string {
	result := make([]string, 0, len(mods))
	for _, mod := range mods {
		result = append(result, mod.String())
	}
	return result
}
