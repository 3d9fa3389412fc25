package schema

import (
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/conduit-lang/entrymap/internal/orm/attribute"
)

// Registry manages the entry types known to the mapping engine
type Registry struct {
	schemas   map[reflect.Type]*EntrySchema
	validator *SchemaValidator
	mu        sync.RWMutex

	attributeProps   *viewCache[reflect.Type, []*Property]
	listProps        *viewCache[reflect.Type, []*Property]
	objectClassProps *viewCache[reflect.Type, []*Property]
	identifierProps  *viewCache[reflect.Type, *Property]
	ttlProps         *viewCache[reflect.Type, *Property]
	propertyTypes    *viewCache[reflect.Type, map[string]*Property]

	getters *viewCache[accessorKey, *Getter]
	setters *viewCache[accessorKey, *Setter]

	enums   map[reflect.Type]map[string]attribute.Enum
	enumsMu sync.RWMutex
}

// NewRegistry creates a new, empty registry
func NewRegistry() *Registry {
	return &Registry{
		schemas:          make(map[reflect.Type]*EntrySchema),
		validator:        NewSchemaValidator(),
		attributeProps:   newViewCache[reflect.Type, []*Property](),
		listProps:        newViewCache[reflect.Type, []*Property](),
		objectClassProps: newViewCache[reflect.Type, []*Property](),
		identifierProps:  newViewCache[reflect.Type, *Property](),
		ttlProps:         newViewCache[reflect.Type, *Property](),
		propertyTypes:    newViewCache[reflect.Type, map[string]*Property](),
		getters:          newViewCache[accessorKey, *Getter](),
		setters:          newViewCache[accessorKey, *Setter](),
		enums:            make(map[reflect.Type]map[string]attribute.Enum),
	}
}

// TypeOf returns the struct type of an entry value, dereferencing pointers
func TypeOf(entry any) reflect.Type {
	if t, ok := entry.(reflect.Type); ok {
		return indirect(t)
	}
	t := reflect.TypeOf(entry)
	if t == nil {
		return nil
	}
	return indirect(t)
}

// Register parses and validates the declaration of an entry type.
// sample is a value or pointer of the type.
func (r *Registry) Register(sample any, opts EntryOptions) error {
	t := TypeOf(sample)
	if t == nil {
		return NewMappingError("", "", "cannot register a nil entry")
	}

	properties, err := NewBuilder().Build(t)
	if err != nil {
		return err
	}

	schema := &EntrySchema{
		Type:       t,
		Options:    opts,
		Properties: properties,
	}
	if err := r.validator.Validate(schema); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.schemas[t]; exists {
		return NewMappingError(t.String(), "", "entry type is already registered")
	}
	r.schemas[t] = schema
	return nil
}

// Schema returns the registered description of an entry type
func (r *Registry) Schema(entry any) (*EntrySchema, error) {
	t := TypeOf(entry)
	if t == nil {
		return nil, NewMappingError("", "", "entry type is nil")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	schema, ok := r.schemas[t]
	if !ok {
		return nil, NewMappingError(t.String(), "", "entry type is not registered")
	}
	return schema, nil
}

// Types returns the registered entry types sorted by name
func (r *Registry) Types() []reflect.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]reflect.Type, 0, len(r.schemas))
	for t := range r.schemas {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i].String() < types[j].String() })
	return types
}

// Describe returns every mapped property of a type in declaration order
func (r *Registry) Describe(entry any) ([]*Property, error) {
	schema, err := r.Schema(entry)
	if err != nil {
		return nil, err
	}
	return schema.Properties, nil
}

// AttributeProperties returns the properties mapped to a fixed attribute
func (r *Registry) AttributeProperties(entry any) ([]*Property, error) {
	return r.filtered(r.attributeProps, entry, DirectiveAttribute)
}

// ListProperties returns the dynamic attribute list properties
func (r *Registry) ListProperties(entry any) ([]*Property, error) {
	return r.filtered(r.listProps, entry, DirectiveAttributesList)
}

// ObjectClassProperties returns the custom object class properties
func (r *Registry) ObjectClassProperties(entry any) ([]*Property, error) {
	return r.filtered(r.objectClassProps, entry, DirectiveObjectClasses)
}

// IdentifierProperty returns the dn property of a type
func (r *Registry) IdentifierProperty(entry any) (*Property, error) {
	return r.single(r.identifierProps, entry, DirectiveDN)
}

// TTLProperty returns the expiration property of a type, or nil when it has none
func (r *Registry) TTLProperty(entry any) (*Property, error) {
	return r.single(r.ttlProps, entry, DirectiveTTL)
}

// PropertyTypes maps lower-cased attribute names to their properties.
// Backends use it to decode stored values into the declared Go types.
func (r *Registry) PropertyTypes(entry any) (map[string]*Property, error) {
	schema, err := r.Schema(entry)
	if err != nil {
		return nil, err
	}
	return r.propertyTypes.get(schema.Type, func() (map[string]*Property, error) {
		result := make(map[string]*Property)
		for _, p := range schema.Properties {
			if p.Has(DirectiveAttribute) {
				result[strings.ToLower(p.AttributeName)] = p
			}
		}
		return result, nil
	})
}

func (r *Registry) filtered(cache *viewCache[reflect.Type, []*Property], entry any, d Directive) ([]*Property, error) {
	schema, err := r.Schema(entry)
	if err != nil {
		return nil, err
	}
	return cache.get(schema.Type, func() ([]*Property, error) {
		var result []*Property
		for _, p := range schema.Properties {
			if p.Has(d) {
				result = append(result, p)
			}
		}
		return result, nil
	})
}

func (r *Registry) single(cache *viewCache[reflect.Type, *Property], entry any, d Directive) (*Property, error) {
	schema, err := r.Schema(entry)
	if err != nil {
		return nil, err
	}
	return cache.get(schema.Type, func() (*Property, error) {
		for _, p := range schema.Properties {
			if p.Has(d) {
				return p, nil
			}
		}
		return nil, nil
	})
}

// RegisterEnum indexes the values of one enum type by their attribute value
func (r *Registry) RegisterEnum(values ...attribute.Enum) error {
	if len(values) == 0 {
		return nil
	}

	t := reflect.TypeOf(values[0])
	if t.Kind() == reflect.Ptr {
		return NewMappingError(t.String(), "", "enum values should not be pointers")
	}
	r.enumsMu.Lock()
	defer r.enumsMu.Unlock()

	index, ok := r.enums[t]
	if !ok {
		index = make(map[string]attribute.Enum, len(values))
	}
	for _, v := range values {
		if reflect.TypeOf(v) != t {
			return NewMappingError(t.String(), "", "enum values have mixed types: %s", reflect.TypeOf(v))
		}
		key := v.AttributeValue()
		if existing, dup := index[key]; dup && !reflect.DeepEqual(existing, v) {
			return NewMappingError(t.String(), "", "ambiguous enum value %q", key)
		}
		index[key] = v
	}
	r.enums[t] = index
	return nil
}

// ResolveEnum finds the enum value of a type by its attribute value
func (r *Registry) ResolveEnum(t reflect.Type, value string) (attribute.Enum, error) {
	r.enumsMu.RLock()
	defer r.enumsMu.RUnlock()

	index, ok := r.enums[t]
	if !ok {
		return nil, NewMappingError(t.String(), "", "enum type is not registered")
	}
	v, ok := index[value]
	if !ok {
		return nil, NewMappingError(t.String(), "", "unknown enum value %q", value)
	}
	return v, nil
}
