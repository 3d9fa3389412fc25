package crud

import (
	"context"
	"time"

	"github.com/conduit-lang/entrymap/internal/orm/attribute"
)

// Authenticate compares password with the stored userPassword of the entry
// under key. A missing entry or password attribute fails authentication
// without an error.
func (m *Manager) Authenticate(ctx context.Context, sample any, key, password string) (ok bool, err error) {
	defer m.track(OperationAuthenticate, sample, time.Now(), &err)

	if m.extension == nil {
		return false, wrapError(OperationAuthenticate, key, ErrNoPersistenceExtension)
	}
	sch, err := m.registry.Schema(sample)
	if err != nil {
		return false, wrapError(OperationAuthenticate, key, err)
	}
	types, err := m.registry.PropertyTypes(sch.Type)
	if err != nil {
		return false, wrapError(OperationAuthenticate, key, err)
	}

	data, err := m.backend.Find(ctx, key, sch.Options.ObjectClasses, types, PasswordAttribute)
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, wrapError(OperationAuthenticate, key, err)
	}

	stored := attribute.Find(data, PasswordAttribute)
	if stored == nil {
		return false, nil
	}
	for _, v := range stored.StringValues() {
		if m.extension.CompareHash(password, v) {
			return true, nil
		}
	}
	return false, nil
}
