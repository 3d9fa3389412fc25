// Package schema provides the metadata registry of the mapping engine. Entry
// types describe their attribute mapping with `entry` struct tags and are
// registered once at startup; the registry caches the parsed descriptors and
// their filtered per-category views for the lifetime of the process.
package schema

import (
	"reflect"
	"strings"
)

// Directive is a mapping directive declared on a struct field
type Directive int

const (
	// DirectiveAttribute maps the field to a single named attribute
	DirectiveAttribute Directive = 1 << iota
	// DirectiveAttributesList maps the field to a dynamic bag of attributes
	DirectiveAttributesList
	// DirectiveDN marks the identifier property
	DirectiveDN
	// DirectiveTTL marks the expiration property
	DirectiveTTL
	// DirectiveObjectClasses marks the custom object class property
	DirectiveObjectClasses
)

// String returns the tag spelling of the directive
func (d Directive) String() string {
	switch d {
	case DirectiveAttribute:
		return "attr"
	case DirectiveAttributesList:
		return "attrs"
	case DirectiveDN:
		return "dn"
	case DirectiveTTL:
		return "ttl"
	case DirectiveObjectClasses:
		return "objectclasses"
	default:
		return "unknown"
	}
}

// ParseDirective converts a tag spelling to a Directive
func ParseDirective(s string) (Directive, bool) {
	switch strings.ToLower(s) {
	case "attr":
		return DirectiveAttribute, true
	case "attrs":
		return DirectiveAttributesList, true
	case "dn":
		return DirectiveDN, true
	case "ttl":
		return DirectiveTTL, true
	case "objectclasses":
		return DirectiveObjectClasses, true
	default:
		return 0, false
	}
}

// EntryKind distinguishes ordinary data entries from schema entries
type EntryKind int

const (
	KindData EntryKind = iota
	KindSchema
)

// String returns the string representation of the entry kind
func (k EntryKind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindSchema:
		return "schema"
	default:
		return "unknown"
	}
}

// AttributeOptions configures update policies for one attribute name
type AttributeOptions struct {
	Name               string
	IgnoreDuringRead   bool
	IgnoreDuringUpdate bool
	UpdateOnly         bool
}

// EntryOptions is the type-level part of an entry declaration
type EntryOptions struct {
	// ObjectClasses are the static object classes of every entry of the type
	ObjectClasses []string
	Kind          EntryKind
	// ForceUpdate rewrites every declared attribute on merge (full rows)
	ForceUpdate bool
	// Configuration entries merge without loading objectClass first
	Configuration bool
	// SortBy lists property paths used to sort search results
	SortBy []string
	// DynamicAttributes configures items of the dynamic attribute list by name
	DynamicAttributes []AttributeOptions
	// SortDynamicByName sorts dynamic attribute list items by name on read
	SortDynamicByName bool
}

// DynamicAttributeOptions indexes DynamicAttributes by name
func (o EntryOptions) DynamicAttributeOptions() map[string]AttributeOptions {
	result := make(map[string]AttributeOptions, len(o.DynamicAttributes))
	for _, opt := range o.DynamicAttributes {
		result[strings.ToLower(opt.Name)] = opt
	}
	return result
}

// Property is the parsed mapping of one struct field
type Property struct {
	// Name is the Go field name
	Name string
	// AttributeName is the wire attribute name for attr properties
	AttributeName string
	Index         []int
	Type          reflect.Type
	Directives    Directive

	JSON               bool
	Localized          bool
	IgnoreDuringRead   bool
	IgnoreDuringUpdate bool
	UpdateOnly         bool
}

// Has reports whether the property declares the directive
func (p *Property) Has(d Directive) bool {
	return p.Directives&d != 0
}

// MultiValued reports whether values of the property map to a multi-valued
// attribute: slices and arrays, including enum slices.
func (p *Property) MultiValued() bool {
	return IsMultiValuedType(p.Type)
}

// Policy returns the attribute options of the property
func (p *Property) Policy() AttributeOptions {
	return AttributeOptions{
		Name:               p.AttributeName,
		IgnoreDuringRead:   p.IgnoreDuringRead,
		IgnoreDuringUpdate: p.IgnoreDuringUpdate,
		UpdateOnly:         p.UpdateOnly,
	}
}

// IsMultiValuedType reports whether a Go type is persisted as a multi-valued attribute
func IsMultiValuedType(t reflect.Type) bool {
	if t == nil {
		return false
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Slice, reflect.Array:
		return t.Elem().Kind() != reflect.Uint8
	default:
		return false
	}
}

// EntrySchema is the registered description of an entry type
type EntrySchema struct {
	Type       reflect.Type
	Options    EntryOptions
	Properties []*Property
}

// Name returns the Go type name
func (s *EntrySchema) Name() string {
	return s.Type.String()
}

// IsSchemaEntry reports whether the type is a schema entry
func (s *EntrySchema) IsSchemaEntry() bool {
	return s.Options.Kind == KindSchema
}
