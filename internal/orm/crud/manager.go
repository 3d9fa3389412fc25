// Package crud implements the entry manager: it maps registered entry types
// to attribute sets, computes merge modifications and delegates storage to a
// backend.
package crud

import (
	"errors"
	"reflect"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/entrymap/internal/backend"
	"github.com/conduit-lang/entrymap/internal/orm/codec"
	"github.com/conduit-lang/entrymap/internal/orm/schema"
)

// PasswordAttribute is the attribute handled by the persistence extension
const PasswordAttribute = "userPassword"

// Manager provides persistence operations for registered entry types
type Manager struct {
	registry  *schema.Registry
	backend   backend.Backend
	codec     *codec.Codec
	logger    *zap.Logger
	observer  Observer
	extension PersistenceExtension
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the logger used for debug dumps of persisted attributes
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithObserver sets the observer notified after every operation
func WithObserver(observer Observer) Option {
	return func(m *Manager) {
		m.observer = observer
	}
}

// WithExtension sets the password hashing extension
func WithExtension(extension PersistenceExtension) Option {
	return func(m *Manager) {
		m.extension = extension
	}
}

// NewManager creates a manager for the types of registry stored in b.
// Time values are decoded by the backend, and encoded by it too when it
// implements codec.TimeEncoder.
func NewManager(registry *schema.Registry, b backend.Backend, opts ...Option) *Manager {
	m := &Manager{
		registry: registry,
		backend:  b,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}

	codecOpts := []codec.Option{codec.WithTimeDecoder(b)}
	if encoder, ok := b.(codec.TimeEncoder); ok {
		codecOpts = append(codecOpts, codec.WithTimeEncoder(encoder))
	}
	m.codec = codec.New(registry, codecOpts...)
	return m
}

// Registry returns the metadata registry
func (m *Manager) Registry() *schema.Registry {
	return m.registry
}

// Codec returns the attribute codec
func (m *Manager) Codec() *codec.Codec {
	return m.codec
}

// Backend returns the storage backend
func (m *Manager) Backend() backend.Backend {
	return m.backend
}

// track reports a finished operation to the observer
func (m *Manager) track(op Operation, entry any, start time.Time, err *error) {
	if m.observer == nil {
		return
	}
	name := "unknown"
	if t := schema.TypeOf(entry); t != nil {
		name = t.String()
	}
	m.observer.ObserveOperation(op, name, time.Since(start), *err)
}

// resolve returns the schema and struct value of an entry
func (m *Manager) resolve(entry any) (*schema.EntrySchema, reflect.Value, error) {
	if entry == nil {
		return nil, reflect.Value{}, ErrNilEntry
	}
	v := reflect.ValueOf(entry)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, reflect.Value{}, ErrNilEntry
		}
		v = v.Elem()
	}
	sch, err := m.registry.Schema(entry)
	if err != nil {
		return nil, reflect.Value{}, err
	}
	return sch, v, nil
}

// withType fills in the entry type of mapping errors raised by the codec
func withType(sch *schema.EntrySchema, err error) error {
	var me *schema.MappingError
	if errors.As(err, &me) && me.Type == "" {
		me.Type = sch.Name()
	}
	return err
}
