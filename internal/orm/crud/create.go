package crud

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/entrymap/internal/orm/attribute"
	"github.com/conduit-lang/entrymap/internal/orm/schema"
)

// Persist writes a new entry. The stored attributes are the non-empty
// property values plus an objectClass attribute holding the static and
// custom object classes.
func (m *Manager) Persist(ctx context.Context, entry any) (err error) {
	defer m.track(OperationPersist, entry, time.Now(), &err)

	sch, v, err := m.resolve(entry)
	if err != nil {
		return wrapError(OperationPersist, "", err)
	}
	dn, err := m.dnOf(sch, v)
	if err != nil {
		return wrapError(OperationPersist, "", err)
	}

	all, err := m.attributesOf(sch, v)
	if err != nil {
		return wrapError(OperationPersist, dn, err)
	}
	attrs := make([]*attribute.Data, 0, len(all)+1)
	for _, a := range all {
		if !a.IsEmpty() {
			attrs = append(attrs, a)
		}
	}
	if attrs, err = m.hashPasswords(attrs); err != nil {
		return wrapError(OperationPersist, dn, err)
	}

	classes, _, err := m.objectClassesOf(sch, v)
	if err != nil {
		return wrapError(OperationPersist, dn, err)
	}
	if len(classes) > 0 {
		attrs = append(attrs, objectClassAttribute(classes))
	}

	_, ttl, err := m.ttlOf(sch, v)
	if err != nil {
		return wrapError(OperationPersist, dn, err)
	}

	m.logger.Debug("persisting entry",
		zap.String("dn", dn),
		zap.String("type", sch.Name()),
		zap.Strings("attributes", attributeStrings(attrs)),
		zap.Int("ttl", ttl))

	if err := m.backend.Persist(ctx, dn, classes, attrs, ttl); err != nil {
		return wrapError(OperationPersist, dn, err)
	}
	return nil
}

// ImportEntry persists raw attributes under key with the object classes of
// the sample's type
func (m *Manager) ImportEntry(ctx context.Context, key string, sample any, attrs []*attribute.Data) (err error) {
	defer m.track(OperationImport, sample, time.Now(), &err)

	if key == "" {
		return wrapError(OperationImport, "", schema.NewMappingError("", "", "dn to import entry is empty"))
	}
	sch, err := m.registry.Schema(sample)
	if err != nil {
		return wrapError(OperationImport, key, err)
	}

	classes := sch.Options.ObjectClasses
	toPersist := make([]*attribute.Data, 0, len(attrs)+1)
	for _, a := range attrs {
		if a != nil && !a.IsEmpty() {
			toPersist = append(toPersist, a.Clone())
		}
	}
	if attribute.Find(toPersist, attribute.ObjectClass) == nil && len(classes) > 0 {
		toPersist = append(toPersist, objectClassAttribute(classes))
	}

	m.logger.Debug("importing entry",
		zap.String("dn", key),
		zap.Strings("attributes", attributeStrings(toPersist)))

	if err := m.backend.Persist(ctx, key, classes, toPersist, 0); err != nil {
		return wrapError(OperationImport, key, err)
	}
	return nil
}

func attributeStrings(attrs []*attribute.Data) []string {
	result := make([]string, 0, len(attrs))
	for _, a := range attrs {
		result = append(result, a.String())
	}
	return result
}
