package attribute

// CustomAttribute is an item of a dynamic attribute list: an ad hoc attribute
// that is not declared as a field on the entry type.
type CustomAttribute struct {
	Name        string
	Values      []any
	MultiValued bool
}

// NewCustomAttribute creates a custom attribute; more than one value marks it multi-valued
func NewCustomAttribute(name string, values ...any) CustomAttribute {
	if values == nil {
		values = []any{}
	}
	return CustomAttribute{
		Name:        name,
		Values:      values,
		MultiValued: len(values) > 1,
	}
}

// Value returns the first value or nil
func (c CustomAttribute) Value() any {
	if len(c.Values) == 0 {
		return nil
	}
	return c.Values[0]
}

// StringValues returns every value in its string form
func (c CustomAttribute) StringValues() []string {
	result := make([]string, 0, len(c.Values))
	for _, v := range c.Values {
		if v != nil {
			result = append(result, ValueString(v))
		}
	}
	return result
}

// Enum is implemented by enum-like value types persisted by a canonical string
type Enum interface {
	AttributeValue() string
}
