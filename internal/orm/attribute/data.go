// Package attribute defines the wire-level shapes exchanged between the mapping
// engine and persistence backends: named multi-valued attributes, the
// modifications computed by the merge engine, dynamic attribute list items,
// localized string bundles and the enum contract.
package attribute

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ObjectClass is the name of the attribute carrying object class markers
const ObjectClass = "objectClass"

// Data is a named attribute holding one or more values.
// Values is never nil; a single-valued attribute holds exactly one element.
type Data struct {
	Name        string
	Values      []any
	MultiValued *bool
}

// New creates an attribute with the given values
func New(name string, values ...any) *Data {
	if values == nil {
		values = []any{}
	}
	return &Data{Name: name, Values: values}
}

// NewMultiValued creates an attribute and marks it with the given multi-valued flag
func NewMultiValued(name string, multiValued bool, values ...any) *Data {
	d := New(name, values...)
	d.SetMultiValued(multiValued)
	return d
}

// NewStrings creates an attribute from string values
func NewStrings(name string, values ...string) *Data {
	vals := make([]any, len(values))
	for i, v := range values {
		vals[i] = v
	}
	return &Data{Name: name, Values: vals}
}

// SetMultiValued sets the multi-valued flag
func (d *Data) SetMultiValued(multiValued bool) {
	d.MultiValued = &multiValued
}

// IsMultiValued reports whether the attribute is flagged multi-valued
func (d *Data) IsMultiValued() bool {
	return d.MultiValued != nil && *d.MultiValued
}

// Value returns the first value or nil
func (d *Data) Value() any {
	if d == nil || len(d.Values) == 0 {
		return nil
	}
	return d.Values[0]
}

// StringValues returns every value in its string form
func (d *Data) StringValues() []string {
	if d == nil {
		return nil
	}
	result := make([]string, 0, len(d.Values))
	for _, v := range d.Values {
		if v == nil {
			continue
		}
		result = append(result, ValueString(v))
	}
	return result
}

// IsEmpty reports whether the attribute carries no meaningful value: no values
// at all, or a single value whose string form is empty.
func (d *Data) IsEmpty() bool {
	if d == nil || len(d.Values) == 0 {
		return true
	}
	return len(d.Values) == 1 && ValueString(d.Values[0]) == ""
}

// Equal compares two attributes by name (case-insensitive) and values.
// Multi-valued attributes compare as value sets regardless of order.
func (d *Data) Equal(other *Data) bool {
	if d == nil || other == nil {
		return d == other
	}
	if !strings.EqualFold(d.Name, other.Name) {
		return false
	}
	if len(d.Values) != len(other.Values) {
		return false
	}

	left := stringsOf(d.Values)
	right := stringsOf(other.Values)
	if d.IsMultiValued() || other.IsMultiValued() || len(left) > 1 {
		sort.Strings(left)
		sort.Strings(right)
	}
	for i := range left {
		if left[i] != right[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy that shares no slices with the receiver
func (d *Data) Clone() *Data {
	if d == nil {
		return nil
	}
	values := make([]any, len(d.Values))
	copy(values, d.Values)
	c := &Data{Name: d.Name, Values: values}
	if d.MultiValued != nil {
		c.SetMultiValued(*d.MultiValued)
	}
	return c
}

// String returns a debug representation
func (d *Data) String() string {
	if d == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s=%v", d.Name, d.Values)
}

// ValueString returns the canonical string form of a scalar value
func ValueString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

func stringsOf(values []any) []string {
	result := make([]string, len(values))
	for i, v := range values {
		result[i] = ValueString(v)
	}
	return result
}

// Map indexes attributes by lower-cased name. Later duplicates win.
func Map(attrs []*Data) map[string]*Data {
	result := make(map[string]*Data, len(attrs))
	for _, a := range attrs {
		if a == nil {
			continue
		}
		result[strings.ToLower(a.Name)] = a
	}
	return result
}

// Find returns the attribute with the given name (case-insensitive)
func Find(attrs []*Data, name string) *Data {
	for _, a := range attrs {
		if a != nil && strings.EqualFold(a.Name, name) {
			return a
		}
	}
	return nil
}
