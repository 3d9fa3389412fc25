package crud

import (
	"reflect"
	"sort"
	"strings"

	"github.com/conduit-lang/entrymap/internal/backend"
	"github.com/conduit-lang/entrymap/internal/orm/attribute"
	"github.com/conduit-lang/entrymap/internal/orm/schema"
)

// dnOf returns the identifier of an entry value
func (m *Manager) dnOf(sch *schema.EntrySchema, v reflect.Value) (string, error) {
	p, err := m.registry.IdentifierProperty(sch.Type)
	if err != nil {
		return "", err
	}
	if p == nil {
		return "", schema.NewMappingError(sch.Name(), "", "entry type has no dn property")
	}
	field := reflect.Indirect(v.FieldByIndex(p.Index))
	if !field.IsValid() || field.String() == "" {
		return "", schema.NewMappingError(sch.Name(), p.Name, "dn of entry is empty")
	}
	return field.String(), nil
}

// attributesOf converts fixed and dynamic list properties to attributes in
// declaration order. Dynamic items without values are kept so merge can
// remove them.
func (m *Manager) attributesOf(sch *schema.EntrySchema, v reflect.Value) ([]*attribute.Data, error) {
	var attrs []*attribute.Data
	for _, p := range sch.Properties {
		switch {
		case p.Has(schema.DirectiveAttribute):
			data, err := m.codec.ToAttribute(p, v.FieldByIndex(p.Index))
			if err != nil {
				return nil, withType(sch, err)
			}
			if data != nil {
				attrs = append(attrs, data)
			}
		case p.Has(schema.DirectiveAttributesList):
			items, _ := v.FieldByIndex(p.Index).Interface().([]attribute.CustomAttribute)
			for _, item := range items {
				if item.Name == "" {
					continue
				}
				attrs = append(attrs, m.codec.CustomAttributeToData(item))
			}
		}
	}
	return attrs, nil
}

// customObjectClasses collects the values of the objectclasses properties
func (m *Manager) customObjectClasses(sch *schema.EntrySchema, v reflect.Value) ([]string, error) {
	props, err := m.registry.ObjectClassProperties(sch.Type)
	if err != nil {
		return nil, err
	}
	var classes []string
	for _, p := range props {
		if values, ok := v.FieldByIndex(p.Index).Interface().([]string); ok {
			classes = append(classes, values...)
		}
	}
	return classes, nil
}

// objectClassesOf returns static classes followed by custom classes, deduplicated
func (m *Manager) objectClassesOf(sch *schema.EntrySchema, v reflect.Value) ([]string, []string, error) {
	custom, err := m.customObjectClasses(sch, v)
	if err != nil {
		return nil, nil, err
	}
	classes := append(append([]string{}, sch.Options.ObjectClasses...), custom...)
	return backend.MergeObjectClasses(classes), custom, nil
}

// ObjectClasses returns the object classes an entry is stored with
func (m *Manager) ObjectClasses(entry any) ([]string, error) {
	sch, v, err := m.resolve(entry)
	if err != nil {
		return nil, err
	}
	classes, _, err := m.objectClassesOf(sch, v)
	return classes, err
}

// ttlOf returns the expiration in seconds. Negative values are clamped to 0.
func (m *Manager) ttlOf(sch *schema.EntrySchema, v reflect.Value) (*schema.Property, int, error) {
	p, err := m.registry.TTLProperty(sch.Type)
	if err != nil || p == nil {
		return nil, 0, err
	}
	field := reflect.Indirect(v.FieldByIndex(p.Index))
	if !field.IsValid() {
		return p, 0, nil
	}
	ttl := int(field.Int())
	if ttl < 0 {
		ttl = 0
	}
	return p, ttl, nil
}

// returnAttributes lists the attribute names read for an entry type. It
// returns nil, meaning every attribute, when the type has a dynamic list and
// no entry value is given; with an entry the list holds the names of its
// dynamic items.
func (m *Manager) returnAttributes(sch *schema.EntrySchema, v reflect.Value) []string {
	var names []string
	for _, p := range sch.Properties {
		if p.Has(schema.DirectiveAttribute) {
			names = appendName(names, p.AttributeName)
		}
		if p.Has(schema.DirectiveObjectClasses) {
			names = appendName(names, attribute.ObjectClass)
		}
		if p.Has(schema.DirectiveAttributesList) {
			if !v.IsValid() {
				return nil
			}
			items, _ := v.FieldByIndex(p.Index).Interface().([]attribute.CustomAttribute)
			for _, item := range items {
				if item.Name != "" {
					names = appendName(names, item.Name)
				}
			}
		}
	}
	return names
}

func appendName(names []string, name string) []string {
	for _, n := range names {
		if strings.EqualFold(n, name) {
			return names
		}
	}
	return append(names, name)
}

// HashKey builds a stable key over the identifier and attribute values of an
// entry: _HASH__dn__:attr=v1;v2 with multi-values sorted, fixed attributes
// in declaration order followed by dynamic ones, all lower-cased.
func (m *Manager) HashKey(entry any) (string, error) {
	sch, v, err := m.resolve(entry)
	if err != nil {
		return "", err
	}
	dn, err := m.dnOf(sch, v)
	if err != nil {
		return "", err
	}
	attrs, err := m.attributesOf(sch, v)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("_HASH__")
	b.WriteString(dn)
	b.WriteString("__")

	processed := make(map[string]bool)
	for _, p := range sch.Properties {
		if !p.Has(schema.DirectiveAttribute) {
			continue
		}
		processed[strings.ToLower(p.AttributeName)] = true
		writeHashAttribute(&b, p.AttributeName, attribute.Find(attrs, p.AttributeName))
	}
	for _, a := range attrs {
		if processed[strings.ToLower(a.Name)] {
			continue
		}
		writeHashAttribute(&b, a.Name, a)
	}
	return strings.ToLower(b.String()), nil
}

func writeHashAttribute(b *strings.Builder, name string, data *attribute.Data) {
	b.WriteString(":")
	b.WriteString(name)
	b.WriteString("=")

	if data.IsEmpty() {
		b.WriteString("null")
		return
	}
	values := data.StringValues()
	if len(values) > 1 {
		sort.Strings(values)
	}
	b.WriteString(strings.Join(values, ";"))
}

// hashPasswords replaces plain password values with their stored form
func (m *Manager) hashPasswords(attrs []*attribute.Data) ([]*attribute.Data, error) {
	if m.extension == nil {
		return attrs, nil
	}
	for i, a := range attrs {
		if a == nil || !strings.EqualFold(a.Name, PasswordAttribute) {
			continue
		}
		hashed, err := m.hashAttribute(a)
		if err != nil {
			return nil, err
		}
		attrs[i] = hashed
	}
	return attrs, nil
}

// hashModifications applies hashPasswords to the new state of modifications
func (m *Manager) hashModifications(mods []attribute.Modification) ([]attribute.Modification, error) {
	if m.extension == nil {
		return mods, nil
	}
	for i, mod := range mods {
		if mod.Attribute == nil || !strings.EqualFold(mod.Attribute.Name, PasswordAttribute) {
			continue
		}
		hashed, err := m.hashAttribute(mod.Attribute)
		if err != nil {
			return nil, err
		}
		mods[i].Attribute = hashed
	}
	return mods, nil
}

func (m *Manager) hashAttribute(a *attribute.Data) (*attribute.Data, error) {
	hashed := a.Clone()
	for i, v := range hashed.Values {
		s, ok := v.(string)
		if !ok || s == "" || m.extension.IsHashed(s) {
			continue
		}
		h, err := m.extension.CreateHash(s)
		if err != nil {
			return nil, err
		}
		hashed.Values[i] = h
	}
	return hashed, nil
}

func objectClassAttribute(classes []string) *attribute.Data {
	a := attribute.NewStrings(attribute.ObjectClass, classes...)
	a.SetMultiValued(true)
	return a
}
