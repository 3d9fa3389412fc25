package schema

import (
	"reflect"
	"time"

	"github.com/conduit-lang/entrymap/internal/orm/attribute"
)

var (
	timeType            = reflect.TypeOf(time.Time{})
	enumType            = reflect.TypeOf((*attribute.Enum)(nil)).Elem()
	customAttributeType = reflect.TypeOf(attribute.CustomAttribute{})
	localizedType       = reflect.TypeOf(attribute.LocalizedString{})
)

// SchemaValidator validates parsed entry declarations
type SchemaValidator struct{}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{}
}

// Validate checks the structural rules of an entry declaration
func (v *SchemaValidator) Validate(schema *EntrySchema) error {
	name := schema.Name()

	var dn, ttl []*Property
	for _, p := range schema.Properties {
		if p.Has(DirectiveDN) {
			dn = append(dn, p)
		}
		if p.Has(DirectiveTTL) {
			ttl = append(ttl, p)
		}
		if err := v.validateProperty(name, p); err != nil {
			return err
		}
	}

	if len(dn) == 0 {
		return NewMappingError(name, "", "entry should have a property with the dn directive")
	}
	if len(dn) > 1 {
		return NewMappingError(name, "", "entry should have only one property with the dn directive")
	}
	if len(ttl) > 1 {
		return NewMappingError(name, "", "entry should have only one property with the ttl directive")
	}

	return nil
}

// validateProperty checks that the field type fits every declared directive
func (v *SchemaValidator) validateProperty(typeName string, p *Property) error {
	if p.Has(DirectiveDN) && indirect(p.Type).Kind() != reflect.String {
		return NewMappingError(typeName, p.Name, "dn property should have string type, got %s", p.Type)
	}

	if p.Has(DirectiveTTL) {
		switch indirect(p.Type).Kind() {
		case reflect.Int, reflect.Int32, reflect.Int64:
		default:
			return NewMappingError(typeName, p.Name, "ttl property should have integer type, got %s", p.Type)
		}
	}

	if p.Has(DirectiveObjectClasses) {
		if p.Type.Kind() != reflect.Slice || p.Type.Elem().Kind() != reflect.String {
			return NewMappingError(typeName, p.Name, "objectclasses property should have []string type, got %s", p.Type)
		}
	}

	if p.Has(DirectiveAttributesList) {
		if p.Type.Kind() != reflect.Slice || p.Type.Elem() != customAttributeType {
			return NewMappingError(typeName, p.Name, "attrs property should have []attribute.CustomAttribute type, got %s", p.Type)
		}
	}

	if p.Has(DirectiveAttribute) {
		if p.Localized {
			if indirect(p.Type) != localizedType {
				return NewMappingError(typeName, p.Name, "lang property should have attribute.LocalizedString type, got %s", p.Type)
			}
			return nil
		}
		if p.JSON {
			return nil
		}
		if et := scalarType(p.Type); !et.Implements(enumType) && reflect.PointerTo(et).Implements(enumType) {
			return NewMappingError(typeName, p.Name, "enum type %s should implement attribute.Enum on a value receiver", et)
		}
		if !SupportedAttributeType(p.Type) {
			return NewMappingError(typeName, p.Name,
				"property should have string, bool, int, int32, int64, time.Time, attribute.Enum type or a slice of them, or the json option; got %s",
				p.Type)
		}
	}

	return nil
}

// SupportedAttributeType reports whether a type can be encoded without the json option
func SupportedAttributeType(t reflect.Type) bool {
	t = indirect(t)
	if (t.Kind() == reflect.Slice || t.Kind() == reflect.Array) && t.Elem().Kind() == reflect.Uint8 {
		return false
	}
	return supportedScalar(scalarType(t))
}

// scalarType unwraps pointers and one level of slice or array
func scalarType(t reflect.Type) reflect.Type {
	t = indirect(t)
	if t.Kind() == reflect.Slice || t.Kind() == reflect.Array {
		return indirect(t.Elem())
	}
	return t
}

func supportedScalar(t reflect.Type) bool {
	if t == timeType || t.Implements(enumType) {
		return true
	}
	switch t.Kind() {
	case reflect.String, reflect.Bool, reflect.Int, reflect.Int32, reflect.Int64:
		return true
	default:
		return false
	}
}

// IsEnumType reports whether values of the type implement attribute.Enum
func IsEnumType(t reflect.Type) bool {
	return t.Implements(enumType)
}

// IsTimeType reports whether the type is time.Time
func IsTimeType(t reflect.Type) bool {
	return t == timeType
}

func indirect(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}
