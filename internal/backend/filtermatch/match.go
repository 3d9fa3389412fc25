// Package filtermatch evaluates search filters against entries held in
// process, for backends that cannot push filters down to the store.
package filtermatch

import (
	"strconv"
	"strings"

	"github.com/conduit-lang/entrymap/internal/backend"
	"github.com/conduit-lang/entrymap/internal/orm/attribute"
	"github.com/conduit-lang/entrymap/internal/orm/codec"
	"github.com/conduit-lang/entrymap/internal/orm/query"
)

// Match reports whether an entry satisfies the filter. A nil filter matches
// every entry. String comparisons are case-insensitive.
func Match(f *query.Filter, e *backend.Entry) bool {
	if f == nil {
		return true
	}

	switch f.Type {
	case query.FilterAnd:
		for _, child := range f.Children {
			if !Match(child, e) {
				return false
			}
		}
		return true
	case query.FilterOr:
		for _, child := range f.Children {
			if Match(child, e) {
				return true
			}
		}
		return false
	case query.FilterNot:
		if len(f.Children) == 0 {
			return true
		}
		return !Match(f.Children[0], e)
	}

	values := valuesOf(e, f.Attribute)
	switch f.Type {
	case query.FilterPresent:
		return len(values) > 0
	case query.FilterEquality:
		want := attribute.ValueString(f.Value)
		for _, v := range values {
			if strings.EqualFold(v, want) {
				return true
			}
		}
	case query.FilterSubstring:
		for _, v := range values {
			if matchSubstring(v, f.Substring) {
				return true
			}
		}
	case query.FilterGreaterOrEqual:
		want := attribute.ValueString(f.Value)
		for _, v := range values {
			if compare(v, want) >= 0 {
				return true
			}
		}
	case query.FilterLessOrEqual:
		want := attribute.ValueString(f.Value)
		for _, v := range values {
			if compare(v, want) <= 0 {
				return true
			}
		}
	}
	return false
}

func valuesOf(e *backend.Entry, name string) []string {
	if strings.EqualFold(name, attribute.ObjectClass) {
		return e.ObjectClasses
	}
	a, ok := e.Attributes[strings.ToLower(name)]
	if !ok {
		return nil
	}
	return a.StringValues()
}

// matchSubstring checks initial*any*final case-insensitively
func matchSubstring(value string, s *query.Substring) bool {
	if s == nil {
		return false
	}
	value = strings.ToLower(value)
	pos := 0

	if s.Initial != "" {
		initial := strings.ToLower(s.Initial)
		if !strings.HasPrefix(value, initial) {
			return false
		}
		pos = len(initial)
	}

	for _, part := range s.Any {
		if part == "" {
			continue
		}
		part = strings.ToLower(part)
		idx := strings.Index(value[pos:], part)
		if idx < 0 {
			return false
		}
		pos += idx + len(part)
	}

	if s.Final != "" {
		return strings.HasSuffix(value[pos:], strings.ToLower(s.Final))
	}
	return true
}

// compare orders two values numerically, as times, or lexicographically
// ignoring case, in that order of preference
func compare(a, b string) int {
	if ia, err := strconv.ParseInt(a, 10, 64); err == nil {
		if ib, err := strconv.ParseInt(b, 10, 64); err == nil {
			switch {
			case ia < ib:
				return -1
			case ia > ib:
				return 1
			default:
				return 0
			}
		}
	}
	if ta, err := codec.ParseTime(a); err == nil {
		if tb, err := codec.ParseTime(b); err == nil {
			return ta.Compare(tb)
		}
	}
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}
