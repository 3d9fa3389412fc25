package schema

import (
	"reflect"
	"strings"
)

type accessorKey struct {
	typ  reflect.Type
	path string
}

// Getter reads a possibly nested field addressed by a dotted path
type Getter struct {
	Path  string
	Type  reflect.Type
	index [][]int
}

// Get returns the field value. ok is false when an intermediate pointer is nil.
func (g *Getter) Get(entry reflect.Value) (reflect.Value, bool) {
	v := entry
	for _, idx := range g.index {
		for v.Kind() == reflect.Ptr {
			if v.IsNil() {
				return reflect.Value{}, false
			}
			v = v.Elem()
		}
		v = v.FieldByIndex(idx)
	}
	return v, true
}

// Setter writes a possibly nested field addressed by a dotted path
type Setter struct {
	Path  string
	Type  reflect.Type
	index [][]int
}

// Set assigns value to the field, allocating nil intermediate pointers.
// entry must be addressable.
func (s *Setter) Set(entry reflect.Value, value reflect.Value) error {
	v := entry
	for _, idx := range s.index {
		for v.Kind() == reflect.Ptr {
			if v.IsNil() {
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.FieldByIndex(idx)
	}
	if !v.CanSet() {
		return NewMappingError(entry.Type().String(), s.Path, "field is not settable")
	}
	if !value.IsValid() {
		v.Set(reflect.Zero(v.Type()))
		return nil
	}
	if !value.Type().AssignableTo(v.Type()) {
		if !value.Type().ConvertibleTo(v.Type()) {
			return NewMappingError(entry.Type().String(), s.Path, "cannot assign %s to %s", value.Type(), v.Type())
		}
		value = value.Convert(v.Type())
	}
	v.Set(value)
	return nil
}

// Getter returns the cached getter for a dotted property path
func (r *Registry) Getter(entry any, path string) (*Getter, error) {
	t := TypeOf(entry)
	if t == nil {
		return nil, NewMappingError("", path, "entry type is nil")
	}
	return r.getters.get(accessorKey{typ: t, path: path}, func() (*Getter, error) {
		index, leaf, err := resolvePath(t, path)
		if err != nil {
			return nil, err
		}
		return &Getter{Path: path, Type: leaf, index: index}, nil
	})
}

// Setter returns the cached setter for a dotted property path
func (r *Registry) Setter(entry any, path string) (*Setter, error) {
	t := TypeOf(entry)
	if t == nil {
		return nil, NewMappingError("", path, "entry type is nil")
	}
	return r.setters.get(accessorKey{typ: t, path: path}, func() (*Setter, error) {
		index, leaf, err := resolvePath(t, path)
		if err != nil {
			return nil, err
		}
		return &Setter{Path: path, Type: leaf, index: index}, nil
	})
}

// resolvePath walks a dotted field path ("Address.City") through nested
// structs and pointers to structs.
func resolvePath(t reflect.Type, path string) ([][]int, reflect.Type, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil, NewMappingError(t.String(), path, "empty property path")
	}

	current := t
	var index [][]int
	for _, name := range strings.Split(path, ".") {
		current = indirect(current)
		if current.Kind() != reflect.Struct {
			return nil, nil, NewMappingError(t.String(), path, "%s is not a struct", current)
		}
		field, ok := current.FieldByName(strings.TrimSpace(name))
		if !ok || !field.IsExported() {
			return nil, nil, NewMappingError(t.String(), path, "unknown property %q", name)
		}
		index = append(index, field.Index)
		current = field.Type
	}
	return index, current, nil
}
