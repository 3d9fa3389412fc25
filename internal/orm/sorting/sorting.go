// Package sorting orders and groups entities by property values
package sorting

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/conduit-lang/entrymap/internal/orm/attribute"
	"github.com/conduit-lang/entrymap/internal/orm/schema"
)

// ErrInvalidArgument is returned for empty or malformed property lists
var ErrInvalidArgument = errors.New("invalid argument")

var timeType = reflect.TypeOf(time.Time{})

// sortKey is a resolved property path with its direction
type sortKey struct {
	getter     *schema.Getter
	descending bool
}

// SortByProperties sorts entries in place by the given property paths.
// A path may be dotted ("Address.City") and prefixed with '-' to sort
// descending. Nil entries and nil values sort first. The sort is stable.
func SortByProperties[T any](registry *schema.Registry, entries []*T, caseSensitive bool, props ...string) error {
	if len(props) == 0 {
		return fmt.Errorf("%w: no sort properties", ErrInvalidArgument)
	}

	keys := make([]sortKey, 0, len(props))
	for _, path := range props {
		path = strings.TrimSpace(path)
		descending := strings.HasPrefix(path, "-")
		path = strings.TrimPrefix(path, "-")

		getter, err := resolveGetter[T](registry, path, isComparableType)
		if err != nil {
			return err
		}
		keys = append(keys, sortKey{getter: getter, descending: descending})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return compareEntries(entries[i], entries[j], keys, caseSensitive) < 0
	})
	return nil
}

func compareEntries[T any](a, b *T, keys []sortKey, caseSensitive bool) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	va := reflect.ValueOf(a)
	vb := reflect.ValueOf(b)
	for _, key := range keys {
		result := compareValues(value(key.getter, va), value(key.getter, vb), caseSensitive)
		if key.descending {
			result = -result
		}
		if result != 0 {
			return result
		}
	}
	return 0
}

// value returns the dereferenced property value or an invalid Value for nil
func value(g *schema.Getter, entry reflect.Value) reflect.Value {
	v, ok := g.Get(entry)
	if !ok {
		return reflect.Value{}
	}
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func compareValues(a, b reflect.Value, caseSensitive bool) int {
	switch {
	case !a.IsValid() && !b.IsValid():
		return 0
	case !a.IsValid():
		return -1
	case !b.IsValid():
		return 1
	}

	if a.Type() == timeType {
		return a.Interface().(time.Time).Compare(b.Interface().(time.Time))
	}

	switch a.Kind() {
	case reflect.String:
		sa, sb := a.String(), b.String()
		if !caseSensitive {
			sa, sb = strings.ToLower(sa), strings.ToLower(sb)
		}
		return strings.Compare(sa, sb)
	case reflect.Int, reflect.Int32, reflect.Int64:
		switch ia, ib := a.Int(), b.Int(); {
		case ia < ib:
			return -1
		case ia > ib:
			return 1
		}
	}
	return 0
}

// GroupByProperties groups entries by the comma-separated groupBy properties.
// Each group is keyed by a new entity holding the group values; when sumBy
// is set its numeric properties accumulate the totals of the group.
func GroupByProperties[T any](registry *schema.Registry, entries []*T, caseSensitive bool, groupBy, sumBy string) (map[*T][]*T, error) {
	groupPaths := splitProperties(groupBy)
	if len(groupPaths) == 0 {
		return nil, fmt.Errorf("%w: no group properties", ErrInvalidArgument)
	}

	groupGetters := make([]*schema.Getter, len(groupPaths))
	groupSetters := make([]*schema.Setter, len(groupPaths))
	for i, path := range groupPaths {
		getter, err := resolveGetter[T](registry, path, isComparableType)
		if err != nil {
			return nil, err
		}
		setter, err := registry.Setter(new(T), path)
		if err != nil {
			return nil, err
		}
		groupGetters[i], groupSetters[i] = getter, setter
	}

	sumPaths := splitProperties(sumBy)
	sumGetters := make([]*schema.Getter, len(sumPaths))
	sumSetters := make([]*schema.Setter, len(sumPaths))
	for i, path := range sumPaths {
		getter, err := resolveGetter[T](registry, path, isNumericType)
		if err != nil {
			return nil, err
		}
		setter, err := registry.Setter(new(T), path)
		if err != nil {
			return nil, err
		}
		sumGetters[i], sumSetters[i] = getter, setter
	}

	keys := make(map[string]*T)
	groups := make(map[*T][]*T)
	for _, entry := range entries {
		if entry == nil {
			continue
		}
		ev := reflect.ValueOf(entry)

		key := groupKey(ev, groupGetters, caseSensitive)
		keyEntry, ok := keys[key]
		if !ok {
			keyEntry = new(T)
			kv := reflect.ValueOf(keyEntry)
			for i, getter := range groupGetters {
				v, ok := getter.Get(ev)
				if !ok {
					continue
				}
				if err := groupSetters[i].Set(kv, v); err != nil {
					return nil, err
				}
			}
			keys[key] = keyEntry
		}

		kv := reflect.ValueOf(keyEntry)
		for i, getter := range sumGetters {
			if err := accumulate(kv, ev, getter, sumSetters[i]); err != nil {
				return nil, err
			}
		}

		groups[keyEntry] = append(groups[keyEntry], entry)
	}

	return groups, nil
}

// groupKey builds the "key__v1__v2" identity of an entry's group
func groupKey(entry reflect.Value, getters []*schema.Getter, caseSensitive bool) string {
	var b strings.Builder
	b.WriteString("key")
	for _, g := range getters {
		b.WriteString("__")
		v := value(g, entry)
		if !v.IsValid() {
			b.WriteString("null")
			continue
		}
		b.WriteString(attribute.ValueString(v.Interface()))
	}
	if caseSensitive {
		return b.String()
	}
	return strings.ToLower(b.String())
}

func accumulate(target, entry reflect.Value, getter *schema.Getter, setter *schema.Setter) error {
	add := value(getter, entry)
	if !add.IsValid() {
		return nil
	}
	current := value(getter, target)

	var sum reflect.Value
	switch add.Kind() {
	case reflect.Float32, reflect.Float64:
		total := add.Float()
		if current.IsValid() {
			total += current.Float()
		}
		sum = reflect.ValueOf(total).Convert(add.Type())
	default:
		total := add.Int()
		if current.IsValid() {
			total += current.Int()
		}
		sum = reflect.ValueOf(total).Convert(add.Type())
	}
	return setter.Set(target, sum)
}

func resolveGetter[T any](registry *schema.Registry, path string, allowed func(reflect.Type) bool) (*schema.Getter, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty property name", ErrInvalidArgument)
	}
	getter, err := registry.Getter(new(T), path)
	if err != nil {
		return nil, err
	}
	if !allowed(getter.Type) {
		return nil, schema.NewMappingError(getter.Type.String(), path, "property type %s is not supported", getter.Type)
	}
	return getter, nil
}

func splitProperties(list string) []string {
	var result []string
	for _, p := range strings.Split(list, ",") {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}

func isComparableType(t reflect.Type) bool {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == timeType {
		return true
	}
	switch t.Kind() {
	case reflect.String, reflect.Int, reflect.Int32, reflect.Int64:
		return true
	default:
		return false
	}
}

func isNumericType(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Int, reflect.Int32, reflect.Int64, reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}
