package query

import "github.com/conduit-lang/entrymap/internal/orm/attribute"

// AttributesFilter creates one equality assertion per attribute value.
// It returns nil when there is nothing to assert.
func AttributesFilter(attrs []*attribute.Data) []*Filter {
	var result []*Filter
	for _, a := range attrs {
		if a == nil {
			continue
		}
		for _, v := range a.Values {
			result = append(result, Equality(a.Name, v).WithMultiValued(a.IsMultiValued()))
		}
	}
	return result
}

// ObjectClassFilter asserts every object class
func ObjectClassFilter(objectClasses []string) *Filter {
	if len(objectClasses) == 0 {
		return nil
	}
	children := make([]*Filter, len(objectClasses))
	for i, oc := range objectClasses {
		children[i] = Equality(attribute.ObjectClass, oc).WithMultiValued(true)
	}
	return And(children...)
}

// AddObjectClassFilter restricts a filter to entries having the object classes
func AddObjectClassFilter(filter *Filter, objectClasses []string) *Filter {
	ocFilter := ObjectClassFilter(objectClasses)
	if ocFilter == nil {
		return filter
	}
	if filter == nil {
		return ocFilter
	}
	return And(ocFilter, filter)
}

// EntryFilter builds the filter matching entries with the same attribute
// values and object classes as a sample entry
func EntryFilter(attrs []*attribute.Data, objectClasses []string) *Filter {
	var filter *Filter
	if assertions := AttributesFilter(attrs); len(assertions) > 0 {
		filter = And(assertions...)
	}
	return AddObjectClassFilter(filter, objectClasses)
}
