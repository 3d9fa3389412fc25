package sql

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/conduit-lang/entrymap/internal/backend"
	"github.com/conduit-lang/entrymap/internal/orm/attribute"
	"github.com/conduit-lang/entrymap/internal/orm/query"
	"github.com/lib/pq"
	"github.com/segmentio/encoding/json"
)

// ErrUnsupportedFilter is returned for filter nodes with no SQL translation
var ErrUnsupportedFilter = errors.New("unsupported filter")

// whereBuilder accumulates bind arguments while translating filters
type whereBuilder struct {
	dialect      Dialect
	paramCounter int
	args         []any
}

func newWhereBuilder(d Dialect) *whereBuilder {
	return &whereBuilder{dialect: d, paramCounter: 1}
}

func (w *whereBuilder) bind(v any) string {
	w.args = append(w.args, v)
	p := w.dialect.Placeholder(w.paramCounter)
	w.paramCounter++
	return p
}

// scope restricts rows to those baseKey reaches under the search scope
func (w *whereBuilder) scope(baseKey string, scope backend.Scope) string {
	dn := pq.QuoteIdentifier(columnDN)
	switch scope {
	case backend.ScopeBase:
		return fmt.Sprintf("%s = %s", dn, w.bind(baseKey))
	case backend.ScopeOneLevel:
		if baseKey == "" {
			return fmt.Sprintf("(%s <> '' AND %s NOT LIKE %s)", dn, dn, w.bind("%,%"))
		}
		return fmt.Sprintf("(%s LIKE %s AND %s NOT LIKE %s)", dn, w.bind("_%,"+baseKey), dn, w.bind("%,%,"+baseKey))
	default:
		return fmt.Sprintf("(%s = %s OR %s LIKE %s)", dn, w.bind(baseKey), dn, w.bind("%,"+baseKey))
	}
}

// filter converts a filter tree to a parameterized condition.
// A nil filter yields an empty condition.
func (w *whereBuilder) filter(f *query.Filter) (string, error) {
	if f == nil {
		return "", nil
	}

	switch f.Type {
	case query.FilterAnd, query.FilterOr:
		parts := make([]string, 0, len(f.Children))
		for _, child := range f.Children {
			sql, err := w.filter(child)
			if err != nil {
				return "", err
			}
			if sql != "" {
				parts = append(parts, sql)
			}
		}
		if len(parts) == 0 {
			return "", nil
		}
		if len(parts) == 1 {
			return parts[0], nil
		}
		connector := " AND "
		if f.Type == query.FilterOr {
			connector = " OR "
		}
		return "(" + strings.Join(parts, connector) + ")", nil

	case query.FilterNot:
		if len(f.Children) == 0 {
			return "", nil
		}
		sql, err := w.filter(f.Children[0])
		if err != nil || sql == "" {
			return sql, err
		}
		return fmt.Sprintf("NOT (%s)", sql), nil
	}

	col := pq.QuoteIdentifier(f.Attribute)
	switch f.Type {
	case query.FilterPresent:
		return fmt.Sprintf("%s IS NOT NULL", col), nil

	case query.FilterEquality:
		if f.MultiValued {
			// multi-valued columns hold JSON arrays
			quoted, err := json.Marshal(strings.ToLower(attribute.ValueString(f.Value)))
			if err != nil {
				return "", fmt.Errorf("failed to encode filter value: %w", err)
			}
			return fmt.Sprintf("LOWER(%s) LIKE %s", col, w.bind("%"+string(quoted)+"%")), nil
		}
		if s, ok := f.Value.(string); ok {
			return fmt.Sprintf("LOWER(%s) = %s", col, w.bind(strings.ToLower(s))), nil
		}
		return fmt.Sprintf("%s = %s", col, w.bind(bindValue(f.Value))), nil

	case query.FilterSubstring:
		if f.Substring == nil {
			return "", fmt.Errorf("%w: substring without parts on %s", ErrUnsupportedFilter, f.Attribute)
		}
		return fmt.Sprintf("LOWER(%s) LIKE %s", col, w.bind(likePattern(f.Substring))), nil

	case query.FilterGreaterOrEqual:
		return fmt.Sprintf("%s >= %s", col, w.bind(bindValue(f.Value))), nil

	case query.FilterLessOrEqual:
		return fmt.Sprintf("%s <= %s", col, w.bind(bindValue(f.Value))), nil

	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFilter, f.Type)
	}
}

func likePattern(s *query.Substring) string {
	var b strings.Builder
	b.WriteString(strings.ToLower(s.Initial))
	b.WriteString("%")
	for _, part := range s.Any {
		if part == "" {
			continue
		}
		b.WriteString(strings.ToLower(part))
		b.WriteString("%")
	}
	b.WriteString(strings.ToLower(s.Final))
	return b.String()
}

func bindValue(v any) any {
	switch tv := v.(type) {
	case time.Time:
		return tv.UTC()
	case int:
		return int64(tv)
	case int32:
		return int64(tv)
	case attribute.Enum:
		return tv.AttributeValue()
	default:
		return v
	}
}
