package crud

import (
	"reflect"
	"sort"
	"strings"

	"github.com/conduit-lang/entrymap/internal/orm/attribute"
	"github.com/conduit-lang/entrymap/internal/orm/codec"
	"github.com/conduit-lang/entrymap/internal/orm/schema"
	"github.com/conduit-lang/entrymap/internal/orm/sorting"
)

// dnAttribute is dropped from read attributes before properties are decoded
const dnAttribute = "dn"

// Build creates one entity of type T per entry, ordered by key. Types
// declaring SortBy are sorted by those properties afterwards.
func Build[T any](registry *schema.Registry, c *codec.Codec, entries map[string][]*attribute.Data) ([]*T, error) {
	sch, err := registry.Schema((*T)(nil))
	if err != nil {
		return nil, err
	}
	values, err := build(registry, c, sch, entries)
	if err != nil {
		return nil, err
	}

	result := make([]*T, len(values))
	for i, v := range values {
		result[i] = v.Interface().(*T)
	}
	if len(sch.Options.SortBy) > 0 {
		if err := sorting.SortByProperties(registry, result, false, sch.Options.SortBy...); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// CreateEntities creates entities of the sample's type, ordered by key.
// Each element is a pointer to a new struct.
func (m *Manager) CreateEntities(sample any, entries map[string][]*attribute.Data) ([]any, error) {
	sch, err := m.registry.Schema(sample)
	if err != nil {
		return nil, err
	}
	values, err := build(m.registry, m.codec, sch, entries)
	if err != nil {
		return nil, err
	}
	result := make([]any, len(values))
	for i, v := range values {
		result[i] = v.Interface()
	}
	return result, nil
}

func build(registry *schema.Registry, c *codec.Codec, sch *schema.EntrySchema, entries map[string][]*attribute.Data) ([]reflect.Value, error) {
	dnProp, err := registry.IdentifierProperty(sch.Type)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]reflect.Value, 0, len(keys))
	for _, key := range keys {
		ptr := reflect.New(sch.Type)
		if err := buildEntry(c, sch, dnProp, ptr.Elem(), key, entries[key]); err != nil {
			return nil, withType(sch, err)
		}
		result = append(result, ptr)
	}
	return result, nil
}

func buildEntry(c *codec.Codec, sch *schema.EntrySchema, dnProp *schema.Property, v reflect.Value, key string, attrs []*attribute.Data) error {
	if dnProp != nil {
		setValue(v.FieldByIndex(dnProp.Index), reflect.ValueOf(key))
	}

	working := attribute.Map(attrs)
	delete(working, dnAttribute)

	var custom []string
	if oc, ok := working[strings.ToLower(attribute.ObjectClass)]; ok {
		custom = customClasses(oc.StringValues(), sch.Options.ObjectClasses)
		delete(working, strings.ToLower(attribute.ObjectClass))
	}

	for _, p := range sch.Properties {
		if !p.Has(schema.DirectiveAttribute) {
			continue
		}
		if p.Localized {
			ls, matched, err := c.LoadLocalized(p, working)
			if err != nil {
				return err
			}
			for _, k := range matched {
				delete(working, k)
			}
			if p.IgnoreDuringRead || ls.IsEmpty() {
				continue
			}
			setValue(v.FieldByIndex(p.Index), reflect.ValueOf(ls))
			continue
		}

		name := strings.ToLower(p.AttributeName)
		data, ok := working[name]
		delete(working, name)
		if !ok || p.IgnoreDuringRead {
			continue
		}
		if err := c.FromAttribute(p, data, v.FieldByIndex(p.Index)); err != nil {
			return err
		}
	}

	listOpts := sch.Options.DynamicAttributeOptions()
	for _, p := range sch.Properties {
		if !p.Has(schema.DirectiveAttributesList) {
			continue
		}
		var items []attribute.CustomAttribute
		for _, a := range attrs {
			if a == nil {
				continue
			}
			name := strings.ToLower(a.Name)
			if _, ok := working[name]; !ok || listOpts[name].IgnoreDuringRead {
				continue
			}
			items = append(items, c.CustomAttributeFromData(a))
			delete(working, name)
		}
		if sch.Options.SortDynamicByName {
			sort.SliceStable(items, func(i, j int) bool {
				return strings.ToLower(items[i].Name) < strings.ToLower(items[j].Name)
			})
		}
		if len(items) > 0 {
			v.FieldByIndex(p.Index).Set(reflect.ValueOf(items))
		}
	}

	if len(custom) > 0 {
		for _, p := range sch.Properties {
			if p.Has(schema.DirectiveObjectClasses) {
				v.FieldByIndex(p.Index).Set(reflect.ValueOf(append([]string(nil), custom...)))
			}
		}
	}
	return nil
}

// customClasses returns the sorted classes not among the static ones, ignoring case
func customClasses(classes, static []string) []string {
	skip := make(map[string]bool, len(static)+len(classes))
	for _, s := range static {
		skip[strings.ToLower(s)] = true
	}
	var result []string
	for _, c := range classes {
		if skip[strings.ToLower(c)] {
			continue
		}
		skip[strings.ToLower(c)] = true
		result = append(result, c)
	}
	sort.Strings(result)
	return result
}

// setValue assigns val to field, allocating pointer fields
func setValue(field, val reflect.Value) {
	if field.Kind() == reflect.Ptr {
		ptr := reflect.New(field.Type().Elem())
		ptr.Elem().Set(val.Convert(field.Type().Elem()))
		field.Set(ptr)
		return
	}
	field.Set(val.Convert(field.Type()))
}
