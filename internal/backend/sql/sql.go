// Package sql stores entries in relational tables, one table per structural
// object class. Every table has the columns doc_id, dn, objectClass and exp
// followed by one column per attribute. Multi-valued attributes are stored as
// JSON arrays.
package sql

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/conduit-lang/entrymap/internal/backend"
	"github.com/conduit-lang/entrymap/internal/orm/attribute"
	"github.com/conduit-lang/entrymap/internal/orm/codec"
	"github.com/conduit-lang/entrymap/internal/orm/keys"
	"github.com/conduit-lang/entrymap/internal/orm/query"
	"github.com/conduit-lang/entrymap/internal/orm/schema"
	"github.com/lib/pq"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
)

const (
	columnDocID       = "doc_id"
	columnDN          = "dn"
	columnObjectClass = attribute.ObjectClass
	columnExpiration  = "exp"
)

// Backend implements backend.Backend over database/sql
type Backend struct {
	db      *stdsql.DB
	dialect Dialect
	keys    *keys.Converter
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures a Backend
type Option func(*Backend)

// WithLogger sets the logger used for statement tracing
func WithLogger(logger *zap.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

// WithClock replaces the clock used to compute expirations
func WithClock(now func() time.Time) Option {
	return func(b *Backend) {
		b.now = now
	}
}

// New creates a SQL backend
func New(db *stdsql.DB, dialect Dialect, opts ...Option) *Backend {
	b := &Backend{
		db:      db,
		dialect: dialect,
		keys:    keys.NewConverter(true),
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func table(objectClasses []string) (string, error) {
	if len(objectClasses) == 0 || objectClasses[0] == "" {
		return "", ErrNoObjectClass
	}
	return pq.QuoteIdentifier(objectClasses[0]), nil
}

// Persist inserts a row
func (b *Backend) Persist(ctx context.Context, key string, objectClasses []string, attrs []*attribute.Data, ttl int) error {
	tbl, err := table(objectClasses)
	if err != nil {
		return fmt.Errorf("failed to persist entry %s: %w", key, err)
	}
	dn := backend.NormalizeKey(key)
	docID, err := b.keys.FlatKey(dn)
	if err != nil {
		return fmt.Errorf("failed to persist entry %s: %w", key, err)
	}

	classes := append([]string(nil), objectClasses...)
	columns := []string{columnDocID, columnDN, columnObjectClass}
	values := []any{docID, dn, nil}
	for _, a := range attrs {
		if a == nil || len(a.Values) == 0 {
			continue
		}
		if strings.EqualFold(a.Name, attribute.ObjectClass) {
			classes = append(classes, a.StringValues()...)
			continue
		}
		v, err := columnValue(a)
		if err != nil {
			return fmt.Errorf("failed to persist entry %s: %w", key, err)
		}
		columns = append(columns, a.Name)
		values = append(values, v)
	}
	encodedClasses, err := encodeClasses(backend.MergeObjectClasses(classes))
	if err != nil {
		return fmt.Errorf("failed to persist entry %s: %w", key, err)
	}
	values[2] = encodedClasses

	if ttl > 0 {
		columns = append(columns, columnExpiration)
		values = append(values, b.expiry(ttl))
	}

	w := newWhereBuilder(b.dialect)
	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, col := range columns {
		quoted[i] = pq.QuoteIdentifier(col)
		placeholders[i] = w.bind(values[i])
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", tbl, strings.Join(quoted, ", "), strings.Join(placeholders, ", "))

	err = b.withTx(ctx, func(tx *stdsql.Tx) error {
		b.logger.Debug("persist", zap.String("key", key), zap.String("sql", stmt))
		_, err := tx.ExecContext(ctx, stmt, w.args...)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to persist entry %s: %w", key, convertDBError(err))
	}
	return nil
}

// Merge updates the columns touched by the modifications
func (b *Backend) Merge(ctx context.Context, key string, objectClasses []string, mods []attribute.Modification, ttl int) error {
	tbl, err := table(objectClasses)
	if err != nil {
		return fmt.Errorf("failed to merge entry %s: %w", key, err)
	}

	var columns []string
	values := make(map[string]any)
	for _, m := range mods {
		target := m.Target()
		if target == nil {
			continue
		}
		col := target.Name
		if strings.EqualFold(col, attribute.ObjectClass) {
			col = columnObjectClass
		}

		var v any
		switch {
		case m.Type == attribute.ModificationRemove && col == columnObjectClass:
			v = "[]"
		case m.Type == attribute.ModificationRemove:
			v = nil
		case col == columnObjectClass:
			v, err = encodeClasses(backend.MergeObjectClasses(m.Attribute.StringValues()))
		default:
			v, err = columnValue(m.Attribute)
		}
		if err != nil {
			return fmt.Errorf("failed to merge entry %s: %w", key, err)
		}

		if _, seen := values[col]; !seen {
			columns = append(columns, col)
		}
		values[col] = v
	}
	if ttl > 0 {
		columns = append(columns, columnExpiration)
		values[columnExpiration] = b.expiry(ttl)
	}
	if len(columns) == 0 {
		return nil
	}

	w := newWhereBuilder(b.dialect)
	sets := make([]string, len(columns))
	for i, col := range columns {
		sets[i] = fmt.Sprintf("%s = %s", pq.QuoteIdentifier(col), w.bind(values[col]))
	}
	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		tbl, strings.Join(sets, ", "), pq.QuoteIdentifier(columnDN), w.bind(backend.NormalizeKey(key)))

	err = b.withTx(ctx, func(tx *stdsql.Tx) error {
		b.logger.Debug("merge", zap.String("key", key), zap.String("sql", stmt))
		res, err := tx.ExecContext(ctx, stmt, w.args...)
		if err != nil {
			return err
		}
		return expectRows(res)
	})
	if err != nil {
		return fmt.Errorf("failed to merge entry %s: %w", key, convertDBError(err))
	}
	return nil
}

// Find reads one row
func (b *Backend) Find(ctx context.Context, key string, objectClasses []string, types map[string]*schema.Property, attrs ...string) ([]*attribute.Data, error) {
	tbl, err := table(objectClasses)
	if err != nil {
		return nil, fmt.Errorf("failed to find entry %s: %w", key, err)
	}

	w := newWhereBuilder(b.dialect)
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		selectList(attrs), tbl, pq.QuoteIdentifier(columnDN), w.bind(backend.NormalizeKey(key)))

	rows, err := b.query(ctx, stmt, w.args, types)
	if err != nil {
		return nil, fmt.Errorf("failed to find entry %s: %w", key, convertDBError(err))
	}
	for _, data := range rows {
		return data, nil
	}
	return nil, fmt.Errorf("failed to find entry %s: %w", key, backend.ErrEntryNotFound)
}

// Search returns the rows within scope of baseKey matching filter
func (b *Backend) Search(ctx context.Context, baseKey string, scope backend.Scope, objectClasses []string, filter *query.Filter, attrs []string, limit int) (map[string][]*attribute.Data, error) {
	tbl, err := table(objectClasses)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", baseKey, err)
	}

	w := newWhereBuilder(b.dialect)
	where, err := b.where(w, baseKey, scope, objectClasses, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", baseKey, err)
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s", selectList(attrs), tbl, where, pq.QuoteIdentifier(columnDN))
	if limit > 0 {
		stmt += fmt.Sprintf(" LIMIT %d", limit)
	}

	result, err := b.query(ctx, stmt, w.args, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", baseKey, convertDBError(err))
	}
	return result, nil
}

// Contains reports whether any row below baseKey matches filter
func (b *Backend) Contains(ctx context.Context, baseKey string, objectClasses []string, filter *query.Filter) (bool, error) {
	tbl, err := table(objectClasses)
	if err != nil {
		return false, fmt.Errorf("failed to search %s: %w", baseKey, err)
	}

	w := newWhereBuilder(b.dialect)
	where, err := b.where(w, baseKey, backend.ScopeSubtree, objectClasses, filter)
	if err != nil {
		return false, fmt.Errorf("failed to search %s: %w", baseKey, err)
	}
	stmt := fmt.Sprintf("SELECT 1 FROM %s%s LIMIT 1", tbl, where)

	b.logger.Debug("contains", zap.String("sql", stmt))
	rows, err := b.db.QueryContext(ctx, stmt, w.args...)
	if err != nil {
		return false, fmt.Errorf("failed to search %s: %w", baseKey, convertDBError(err))
	}
	defer rows.Close()

	found := rows.Next()
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("failed to search %s: %w", baseKey, err)
	}
	return found, nil
}

// RemoveByKey deletes one row
func (b *Backend) RemoveByKey(ctx context.Context, key string, objectClasses []string) error {
	tbl, err := table(objectClasses)
	if err != nil {
		return fmt.Errorf("failed to remove entry %s: %w", key, err)
	}

	w := newWhereBuilder(b.dialect)
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", tbl, pq.QuoteIdentifier(columnDN), w.bind(backend.NormalizeKey(key)))

	err = b.withTx(ctx, func(tx *stdsql.Tx) error {
		b.logger.Debug("remove", zap.String("key", key), zap.String("sql", stmt))
		res, err := tx.ExecContext(ctx, stmt, w.args...)
		if err != nil {
			return err
		}
		return expectRows(res)
	})
	if err != nil {
		return fmt.Errorf("failed to remove entry %s: %w", key, convertDBError(err))
	}
	return nil
}

// RemoveRecursively deletes the row and every row below it in the same table
func (b *Backend) RemoveRecursively(ctx context.Context, key string, objectClasses []string) error {
	tbl, err := table(objectClasses)
	if err != nil {
		return fmt.Errorf("failed to remove entry %s: %w", key, err)
	}

	w := newWhereBuilder(b.dialect)
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s", tbl, w.scope(backend.NormalizeKey(key), backend.ScopeSubtree))

	err = b.withTx(ctx, func(tx *stdsql.Tx) error {
		b.logger.Debug("remove recursively", zap.String("key", key), zap.String("sql", stmt))
		_, err := tx.ExecContext(ctx, stmt, w.args...)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to remove entry %s: %w", key, convertDBError(err))
	}
	return nil
}

// RemoveExpired deletes rows of one object class table whose expiration passed
func (b *Backend) RemoveExpired(ctx context.Context, objectClass string) (int64, error) {
	tbl, err := table([]string{objectClass})
	if err != nil {
		return 0, err
	}

	w := newWhereBuilder(b.dialect)
	exp := pq.QuoteIdentifier(columnExpiration)
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s IS NOT NULL AND %s < %s", tbl, exp, exp, w.bind(b.now().UTC()))

	res, err := b.db.ExecContext(ctx, stmt, w.args...)
	if err != nil {
		return 0, fmt.Errorf("failed to remove expired entries: %w", convertDBError(err))
	}
	return res.RowsAffected()
}

// EncodeTime formats times the way filter values are compared
func (b *Backend) EncodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// DecodeTime parses stored time strings
func (b *Backend) DecodeTime(s string) (time.Time, error) {
	return codec.ParseTime(s)
}

// NativeTimeValue keeps single times native for the driver; multi-valued
// times end up in JSON arrays and are stored as strings
func (b *Backend) NativeTimeValue(t time.Time, multiValued bool) any {
	if multiValued {
		return b.EncodeTime(t)
	}
	return t.UTC()
}

// StoreFullEntry implements backend.Backend
func (b *Backend) StoreFullEntry() bool { return true }

// SupportsForceUpdate implements backend.Backend
func (b *Backend) SupportsForceUpdate() bool { return true }

func (b *Backend) expiry(ttl int) time.Time {
	return b.now().UTC().Add(time.Duration(ttl) * time.Second)
}

func (b *Backend) where(w *whereBuilder, baseKey string, scope backend.Scope, objectClasses []string, filter *query.Filter) (string, error) {
	var parts []string
	if baseKey != "" || scope != backend.ScopeSubtree {
		parts = append(parts, w.scope(backend.NormalizeKey(baseKey), scope))
	}
	if len(objectClasses) > 1 {
		filter = query.AddObjectClassFilter(filter, objectClasses[1:])
	}
	cond, err := w.filter(filter)
	if err != nil {
		return "", err
	}
	if cond != "" {
		parts = append(parts, cond)
	}
	if len(parts) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(parts, " AND "), nil
}

func (b *Backend) withTx(ctx context.Context, fn func(tx *stdsql.Tx) error) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// query runs a select and converts rows to attribute sets keyed by dn
func (b *Backend) query(ctx context.Context, stmt string, args []any, types map[string]*schema.Property) (map[string][]*attribute.Data, error) {
	b.logger.Debug("query", zap.String("sql", stmt))
	rows, err := b.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := make(map[string][]*attribute.Data)
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		dn, data, err := rowData(columns, values, types)
		if err != nil {
			return nil, err
		}
		result[dn] = data
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func rowData(columns []string, values []any, types map[string]*schema.Property) (string, []*attribute.Data, error) {
	var dn string
	var classes *attribute.Data
	data := make([]*attribute.Data, 0, len(columns))

	for i, col := range columns {
		v := values[i]
		if raw, ok := v.([]byte); ok {
			v = string(raw)
		}
		switch {
		case v == nil:
			continue
		case col == columnDN:
			dn = attribute.ValueString(v)
			continue
		case col == columnDocID || col == columnExpiration:
			continue
		case strings.EqualFold(col, attribute.ObjectClass):
			list, err := decodeArray(v)
			if err != nil {
				return "", nil, fmt.Errorf("failed to decode %s: %w", col, err)
			}
			classes = attribute.NewMultiValued(attribute.ObjectClass, true, list...)
			continue
		}

		multiValued := false
		if p, ok := types[strings.ToLower(col)]; ok {
			multiValued = p.MultiValued()
		} else if s, ok := v.(string); ok && strings.HasPrefix(s, "[") {
			multiValued = json.Valid([]byte(s))
		}

		if !multiValued {
			data = append(data, attribute.NewMultiValued(col, false, v))
			continue
		}
		list, err := decodeArray(v)
		if err != nil {
			return "", nil, fmt.Errorf("failed to decode %s: %w", col, err)
		}
		data = append(data, attribute.NewMultiValued(col, true, list...))
	}

	sort.Slice(data, func(i, j int) bool {
		return strings.ToLower(data[i].Name) < strings.ToLower(data[j].Name)
	})
	if classes != nil && len(classes.Values) > 0 {
		data = append(data, classes)
	}
	return dn, data, nil
}

func selectList(attrs []string) string {
	if len(attrs) == 0 {
		return "*"
	}
	cols := []string{pq.QuoteIdentifier(columnDN)}
	for _, a := range attrs {
		if strings.EqualFold(a, attribute.ObjectClass) {
			a = columnObjectClass
		}
		cols = append(cols, pq.QuoteIdentifier(a))
	}
	return strings.Join(cols, ", ")
}

func columnValue(a *attribute.Data) (any, error) {
	if a == nil || len(a.Values) == 0 {
		return nil, nil
	}
	if a.IsMultiValued() || len(a.Values) > 1 {
		encoded, err := json.Marshal(a.Values)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", a.Name, err)
		}
		return string(encoded), nil
	}
	return bindValue(a.Values[0]), nil
}

func encodeClasses(classes []string) (string, error) {
	if classes == nil {
		classes = []string{}
	}
	encoded, err := json.Marshal(classes)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func decodeArray(v any) ([]any, error) {
	s, ok := v.(string)
	if !ok {
		return []any{v}, nil
	}
	if !strings.HasPrefix(s, "[") {
		return []any{s}, nil
	}
	var list []any
	if err := json.Unmarshal([]byte(s), &list); err != nil {
		return nil, err
	}
	for i, item := range list {
		// whole JSON numbers come back as int64
		if f, ok := item.(float64); ok && f == float64(int64(f)) {
			list[i] = int64(f)
		}
	}
	return list, nil
}

func expectRows(res stdsql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return backend.ErrEntryNotFound
	}
	return nil
}

var (
	_ backend.Backend   = (*Backend)(nil)
	_ codec.TimeEncoder = (*Backend)(nil)
)
