package attribute

import "fmt"

// ModificationType represents the kind of change applied to a stored attribute
type ModificationType int

const (
	ModificationAdd ModificationType = iota
	ModificationReplace
	ModificationRemove
	ModificationForceUpdate
)

// String returns the string representation of the modification type
func (m ModificationType) String() string {
	switch m {
	case ModificationAdd:
		return "add"
	case ModificationReplace:
		return "replace"
	case ModificationRemove:
		return "remove"
	case ModificationForceUpdate:
		return "force_update"
	default:
		return "unknown"
	}
}

// ParseModificationType converts a string to a ModificationType
func ParseModificationType(s string) (ModificationType, error) {
	switch s {
	case "add":
		return ModificationAdd, nil
	case "replace":
		return ModificationReplace, nil
	case "remove":
		return ModificationRemove, nil
	case "force_update":
		return ModificationForceUpdate, nil
	default:
		return 0, fmt.Errorf("unknown modification type: %s", s)
	}
}

// Modification is a single attribute change produced by the merge engine.
// Attribute holds the new state (nil for removals), OldAttribute the stored one.
type Modification struct {
	Type         ModificationType
	Attribute    *Data
	OldAttribute *Data
}

// Target returns the attribute the modification applies to
func (m Modification) Target() *Data {
	if m.Attribute != nil {
		return m.Attribute
	}
	return m.OldAttribute
}

// Name returns the name of the modified attribute
func (m Modification) Name() string {
	if t := m.Target(); t != nil {
		return t.Name
	}
	return ""
}

// String returns a debug representation
func (m Modification) String() string {
	var oldValues, newValues []any
	if m.OldAttribute != nil {
		oldValues = m.OldAttribute.Values
	}
	if m.Attribute != nil {
		newValues = m.Attribute.Values
	}
	return fmt.Sprintf("%s %s %v -> %v", m.Type, m.Name(), oldValues, newValues)
}
