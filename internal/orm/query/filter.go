// Package query builds backend-neutral search filters. Filters are plain
// trees; every backend translates or evaluates them in its own way.
package query

import (
	"fmt"
	"strings"

	"github.com/conduit-lang/entrymap/internal/orm/attribute"
)

// FilterType represents the type of filter operation
type FilterType int

const (
	FilterAnd FilterType = iota
	FilterOr
	FilterNot
	FilterEquality
	FilterSubstring
	FilterGreaterOrEqual
	FilterLessOrEqual
	FilterPresent
)

// String returns the string representation of the FilterType
func (ft FilterType) String() string {
	switch ft {
	case FilterAnd:
		return "AND"
	case FilterOr:
		return "OR"
	case FilterNot:
		return "NOT"
	case FilterEquality:
		return "EQUALITY"
	case FilterSubstring:
		return "SUBSTRING"
	case FilterGreaterOrEqual:
		return "GREATER_OR_EQUAL"
	case FilterLessOrEqual:
		return "LESS_OR_EQUAL"
	case FilterPresent:
		return "PRESENT"
	default:
		return "UNKNOWN"
	}
}

// Substring holds the components of a substring match: initial*any*final
type Substring struct {
	Initial string
	Any     []string
	Final   string
}

// Filter is a node of a search filter tree
type Filter struct {
	Type      FilterType
	Attribute string
	Value     any
	Substring *Substring
	Children  []*Filter
	// MultiValued marks assertions against multi-valued attributes so that
	// backends storing arrays can use membership tests
	MultiValued bool
}

// Equality creates an attribute=value filter
func Equality(attr string, value any) *Filter {
	return &Filter{Type: FilterEquality, Attribute: attr, Value: value}
}

// Present creates an attribute=* filter
func Present(attr string) *Filter {
	return &Filter{Type: FilterPresent, Attribute: attr}
}

// GreaterOrEqual creates an attribute>=value filter
func GreaterOrEqual(attr string, value any) *Filter {
	return &Filter{Type: FilterGreaterOrEqual, Attribute: attr, Value: value}
}

// LessOrEqual creates an attribute<=value filter
func LessOrEqual(attr string, value any) *Filter {
	return &Filter{Type: FilterLessOrEqual, Attribute: attr, Value: value}
}

// SubstringMatch creates an attribute=initial*any*final filter
func SubstringMatch(attr, initial string, middle []string, final string) *Filter {
	return &Filter{
		Type:      FilterSubstring,
		Attribute: attr,
		Substring: &Substring{Initial: initial, Any: middle, Final: final},
	}
}

// And combines filters; nil children are dropped
func And(children ...*Filter) *Filter {
	return &Filter{Type: FilterAnd, Children: compact(children)}
}

// Or combines filters; nil children are dropped
func Or(children ...*Filter) *Filter {
	return &Filter{Type: FilterOr, Children: compact(children)}
}

// Not negates a filter
func Not(child *Filter) *Filter {
	return &Filter{Type: FilterNot, Children: []*Filter{child}}
}

// WithMultiValued marks the filter as targeting a multi-valued attribute
func (f *Filter) WithMultiValued(multiValued bool) *Filter {
	f.MultiValued = multiValued
	return f
}

// String renders the filter in LDAP notation
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	var b strings.Builder
	f.write(&b)
	return b.String()
}

func (f *Filter) write(b *strings.Builder) {
	b.WriteByte('(')
	switch f.Type {
	case FilterAnd, FilterOr, FilterNot:
		switch f.Type {
		case FilterAnd:
			b.WriteByte('&')
		case FilterOr:
			b.WriteByte('|')
		default:
			b.WriteByte('!')
		}
		for _, child := range f.Children {
			child.write(b)
		}
	case FilterEquality:
		fmt.Fprintf(b, "%s=%s", f.Attribute, attribute.ValueString(f.Value))
	case FilterGreaterOrEqual:
		fmt.Fprintf(b, "%s>=%s", f.Attribute, attribute.ValueString(f.Value))
	case FilterLessOrEqual:
		fmt.Fprintf(b, "%s<=%s", f.Attribute, attribute.ValueString(f.Value))
	case FilterPresent:
		fmt.Fprintf(b, "%s=*", f.Attribute)
	case FilterSubstring:
		b.WriteString(f.Attribute)
		b.WriteByte('=')
		b.WriteString(f.Substring.Initial)
		b.WriteByte('*')
		for _, part := range f.Substring.Any {
			b.WriteString(part)
			b.WriteByte('*')
		}
		b.WriteString(f.Substring.Final)
	}
	b.WriteByte(')')
}

// Attributes returns the attribute names referenced by the filter
func (f *Filter) Attributes() []string {
	seen := make(map[string]bool)
	var names []string
	var walk func(*Filter)
	walk = func(n *Filter) {
		if n == nil {
			return
		}
		if n.Attribute != "" && !seen[strings.ToLower(n.Attribute)] {
			seen[strings.ToLower(n.Attribute)] = true
			names = append(names, n.Attribute)
		}
		for _, child := range n.Children {
			walk(child)
		}
	}
	walk(f)
	return names
}

func compact(filters []*Filter) []*Filter {
	result := make([]*Filter, 0, len(filters))
	for _, f := range filters {
		if f != nil {
			result = append(result, f)
		}
	}
	return result
}
