package backend

import (
	"fmt"
	"sort"
	"strings"

	"github.com/conduit-lang/entrymap/internal/orm/attribute"
)

// NormalizeKey lower-cases an identifier and strips blanks around segments
func NormalizeKey(key string) string {
	parts := strings.Split(key, ",")
	for i, p := range parts {
		name, value, ok := strings.Cut(p, "=")
		if !ok {
			parts[i] = strings.ToLower(strings.TrimSpace(p))
			continue
		}
		parts[i] = strings.ToLower(strings.TrimSpace(name)) + "=" + strings.ToLower(strings.TrimSpace(value))
	}
	return strings.Join(parts, ",")
}

// Scope selects which entries relative to a base key a search visits
type Scope int

const (
	// ScopeSubtree visits the base entry and everything below it
	ScopeSubtree Scope = iota
	// ScopeOneLevel visits the direct children of the base entry
	ScopeOneLevel
	// ScopeBase visits the base entry only
	ScopeBase
)

// ParseScope accepts base, one and sub along with their long forms
func ParseScope(s string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sub", "subtree":
		return ScopeSubtree, nil
	case "one", "onelevel", "one-level":
		return ScopeOneLevel, nil
	case "base":
		return ScopeBase, nil
	default:
		return ScopeSubtree, fmt.Errorf("unknown search scope %q", s)
	}
}

func (s Scope) String() string {
	switch s {
	case ScopeOneLevel:
		return "one"
	case ScopeBase:
		return "base"
	default:
		return "sub"
	}
}

// Includes reports whether key lies within the scope of baseKey.
// An empty baseKey is the root of every key.
func (s Scope) Includes(key, baseKey string) bool {
	key, baseKey = NormalizeKey(key), NormalizeKey(baseKey)
	switch s {
	case ScopeBase:
		return key == baseKey
	case ScopeOneLevel:
		if baseKey == "" {
			return key != "" && !strings.Contains(key, ",")
		}
		rdn, ok := strings.CutSuffix(key, ","+baseKey)
		return ok && rdn != "" && !strings.Contains(rdn, ",")
	default:
		return baseKey == "" || key == baseKey || strings.HasSuffix(key, ","+baseKey)
	}
}

// InScope reports whether key equals baseKey or lies below it
func InScope(key, baseKey string) bool {
	return ScopeSubtree.Includes(key, baseKey)
}

// Entry is the in-process form of a stored entry shared by the document
// style backends
type Entry struct {
	Key           string
	ObjectClasses []string
	Attributes    map[string]*attribute.Data
}

// NewEntry creates an entry from persisted attributes. An objectClass
// attribute among attrs is folded into ObjectClasses.
func NewEntry(key string, objectClasses []string, attrs []*attribute.Data) *Entry {
	e := &Entry{
		Key:        key,
		Attributes: make(map[string]*attribute.Data, len(attrs)),
	}
	classes := append([]string(nil), objectClasses...)
	for _, a := range attrs {
		if a == nil {
			continue
		}
		if strings.EqualFold(a.Name, attribute.ObjectClass) {
			classes = append(classes, a.StringValues()...)
			continue
		}
		e.Attributes[strings.ToLower(a.Name)] = a.Clone()
	}
	e.ObjectClasses = MergeObjectClasses(classes)
	return e
}

// Apply applies merge modifications in order
func (e *Entry) Apply(mods []attribute.Modification) {
	for _, m := range mods {
		target := m.Target()
		if target == nil {
			continue
		}
		name := strings.ToLower(target.Name)

		if name == strings.ToLower(attribute.ObjectClass) {
			switch m.Type {
			case attribute.ModificationRemove:
				e.ObjectClasses = removeClasses(e.ObjectClasses, target.StringValues())
			case attribute.ModificationAdd:
				e.ObjectClasses = MergeObjectClasses(append(e.ObjectClasses, target.StringValues()...))
			default:
				e.ObjectClasses = MergeObjectClasses(target.StringValues())
			}
			continue
		}

		switch m.Type {
		case attribute.ModificationAdd:
			if m.Attribute == nil {
				continue
			}
			if existing, ok := e.Attributes[name]; ok {
				merged := existing.Clone()
				merged.Values = append(merged.Values, m.Attribute.Values...)
				e.Attributes[name] = merged
				continue
			}
			e.Attributes[name] = m.Attribute.Clone()
		case attribute.ModificationReplace, attribute.ModificationForceUpdate:
			e.Attributes[name] = m.Attribute.Clone()
		case attribute.ModificationRemove:
			e.removeValues(name, target)
		}
	}
}

// removeValues drops the listed values of an attribute, or the whole
// attribute when no values are listed or none remain
func (e *Entry) removeValues(name string, target *attribute.Data) {
	existing, ok := e.Attributes[name]
	if !ok {
		return
	}
	drop := make(map[string]bool, len(target.Values))
	for _, v := range target.Values {
		if v != nil {
			drop[strings.ToLower(attribute.ValueString(v))] = true
		}
	}
	if len(drop) == 0 {
		delete(e.Attributes, name)
		return
	}

	kept := existing.Clone()
	kept.Values = kept.Values[:0]
	for _, v := range existing.Values {
		if !drop[strings.ToLower(attribute.ValueString(v))] {
			kept.Values = append(kept.Values, v)
		}
	}
	if len(kept.Values) == 0 {
		delete(e.Attributes, name)
		return
	}
	e.Attributes[name] = kept
}

// Data returns the stored attributes, including objectClass, limited to
// names when given. Attributes are sorted by name.
func (e *Entry) Data(names ...string) []*attribute.Data {
	var wanted map[string]bool
	if len(names) > 0 {
		wanted = make(map[string]bool, len(names))
		for _, n := range names {
			wanted[strings.ToLower(n)] = true
		}
	}

	result := make([]*attribute.Data, 0, len(e.Attributes)+1)
	for name, a := range e.Attributes {
		if wanted != nil && !wanted[name] {
			continue
		}
		result = append(result, a.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return strings.ToLower(result[i].Name) < strings.ToLower(result[j].Name)
	})

	if len(e.ObjectClasses) > 0 && (wanted == nil || wanted[strings.ToLower(attribute.ObjectClass)]) {
		result = append(result, attribute.NewMultiValued(attribute.ObjectClass, true, stringsToAny(e.ObjectClasses)...))
	}
	return result
}

// HasObjectClasses reports whether the entry carries every class (case-insensitive)
func (e *Entry) HasObjectClasses(classes []string) bool {
	for _, want := range classes {
		found := false
		for _, have := range e.ObjectClasses {
			if strings.EqualFold(have, want) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// MergeObjectClasses removes case-insensitive duplicates keeping first occurrence order
func MergeObjectClasses(classes []string) []string {
	seen := make(map[string]bool, len(classes))
	result := make([]string, 0, len(classes))
	for _, c := range classes {
		c = strings.TrimSpace(c)
		if c == "" || seen[strings.ToLower(c)] {
			continue
		}
		seen[strings.ToLower(c)] = true
		result = append(result, c)
	}
	return result
}

func removeClasses(classes, remove []string) []string {
	drop := make(map[string]bool, len(remove))
	for _, r := range remove {
		drop[strings.ToLower(r)] = true
	}
	result := classes[:0:0]
	for _, c := range classes {
		if !drop[strings.ToLower(c)] {
			result = append(result, c)
		}
	}
	return result
}

func stringsToAny(values []string) []any {
	result := make([]any, len(values))
	for i, v := range values {
		result[i] = v
	}
	return result
}
