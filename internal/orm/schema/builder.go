package schema

import (
	"reflect"
	"strings"
	"unicode"
	"unicode/utf8"
)

// TagName is the struct tag key holding mapping directives
const TagName = "entry"

// Builder parses `entry` struct tags into properties.
//
// Tag grammar: directive groups separated by ';', each group a directive
// followed by comma-separated options:
//
//	entry:"dn"
//	entry:"attr=mail"
//	entry:"attr=jansConf,json,ignoreUpdate"
//	entry:"ttl;attr=exp"
type Builder struct {
	typeName string
}

// NewBuilder creates a new property builder
func NewBuilder() *Builder {
	return &Builder{}
}

// Build parses every tagged field of a struct type in declaration order
func (b *Builder) Build(t reflect.Type) ([]*Property, error) {
	b.typeName = t.String()
	if t.Kind() != reflect.Struct {
		return nil, NewMappingError(b.typeName, "", "entry type must be a struct, got %s", t.Kind())
	}

	properties := make([]*Property, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag, ok := field.Tag.Lookup(TagName)
		if !ok || tag == "-" {
			continue
		}
		if !field.IsExported() {
			return nil, NewMappingError(b.typeName, field.Name, "mapped field must be exported")
		}

		property, err := b.buildProperty(field, tag)
		if err != nil {
			return nil, err
		}
		properties = append(properties, property)
	}

	return properties, nil
}

// buildProperty parses the tag of a single field
func (b *Builder) buildProperty(field reflect.StructField, tag string) (*Property, error) {
	property := &Property{
		Name:  field.Name,
		Index: field.Index,
		Type:  field.Type,
	}

	for _, group := range strings.Split(tag, ";") {
		parts := strings.Split(group, ",")
		head := strings.TrimSpace(parts[0])
		if head == "" {
			return nil, NewMappingError(b.typeName, field.Name, "empty directive in tag %q", tag)
		}

		name, value, _ := strings.Cut(head, "=")
		directive, ok := ParseDirective(strings.TrimSpace(name))
		if !ok {
			return nil, NewMappingError(b.typeName, field.Name, "unknown directive %q", name)
		}
		property.Directives |= directive

		if directive == DirectiveAttribute {
			property.AttributeName = strings.TrimSpace(value)
			if property.AttributeName == "" {
				property.AttributeName = lowerFirst(field.Name)
			}
		}

		for _, option := range parts[1:] {
			if err := b.applyOption(property, strings.TrimSpace(option)); err != nil {
				return nil, err
			}
		}
	}

	return property, nil
}

// applyOption applies a single tag option to a property
func (b *Builder) applyOption(property *Property, option string) error {
	switch strings.ToLower(option) {
	case "":
		return nil
	case "json":
		property.JSON = true
	case "lang":
		property.Localized = true
	case "ignoreread":
		property.IgnoreDuringRead = true
	case "ignoreupdate":
		property.IgnoreDuringUpdate = true
	case "updateonly":
		property.UpdateOnly = true
	default:
		return NewMappingError(b.typeName, property.Name, "unknown option %q", option)
	}
	return nil
}

// lowerFirst converts the first rune to lower case: "DisplayName" -> "displayName"
func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}
