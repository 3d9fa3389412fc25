// Package redis stores each entry as a Redis hash under its flat key.
// Expiration uses native key TTLs.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/conduit-lang/entrymap/internal/backend"
	"github.com/conduit-lang/entrymap/internal/backend/filtermatch"
	"github.com/conduit-lang/entrymap/internal/orm/attribute"
	"github.com/conduit-lang/entrymap/internal/orm/codec"
	"github.com/conduit-lang/entrymap/internal/orm/keys"
	"github.com/conduit-lang/entrymap/internal/orm/query"
	"github.com/conduit-lang/entrymap/internal/orm/schema"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/encoding/json"
)

const (
	fieldDN            = "_dn"
	fieldObjectClasses = "_objectClasses"
)

// Config holds Redis connection settings
type Config struct {
	// Addr is the Redis server address (host:port)
	Addr string
	// Password is the Redis password (optional)
	Password string
	// DB is the Redis database number
	DB int
	// Prefix is prepended to every key
	Prefix string
}

// DefaultConfig returns a default Redis configuration
func DefaultConfig() Config {
	return Config{
		Addr:   "localhost:6379",
		Prefix: "entrymap:",
	}
}

// Backend implements backend.Backend over Redis hashes
type Backend struct {
	client *redis.Client
	prefix string
	keys   *keys.Converter
}

// NewWithConfig connects to Redis and verifies the connection
func NewWithConfig(config Config) (*Backend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", config.Addr, err)
	}
	return NewWithClient(client, config.Prefix), nil
}

// NewWithClient creates a backend with an existing client
func NewWithClient(client *redis.Client, prefix string) *Backend {
	return &Backend{
		client: client,
		prefix: prefix,
		keys:   keys.NewConverter(true),
	}
}

// SetKeyConverter replaces the identifier converter used to build storage keys
func (b *Backend) SetKeyConverter(c *keys.Converter) {
	b.keys = c
}

// Close closes the Redis connection
func (b *Backend) Close() error {
	return b.client.Close()
}

// redisKey maps an identifier to prefix[scope:]flatKey
func (b *Backend) redisKey(key string) (string, error) {
	parsed, err := b.keys.Parse(backend.NormalizeKey(key))
	if err != nil {
		return "", err
	}
	if parsed.OrgScope != "" {
		return b.prefix + parsed.OrgScope + ":" + parsed.Key, nil
	}
	return b.prefix + parsed.Key, nil
}

func encodeEntry(e *backend.Entry) (map[string]any, error) {
	classes, err := json.Marshal(e.ObjectClasses)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{
		fieldDN:            backend.NormalizeKey(e.Key),
		fieldObjectClasses: string(classes),
	}
	for name, a := range e.Attributes {
		encoded, err := json.Marshal(backend.NewDocumentAttribute(a))
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s: %w", a.Name, err)
		}
		fields[name] = string(encoded)
	}
	return fields, nil
}

func decodeEntry(fields map[string]string) (*backend.Entry, error) {
	var classes []string
	if raw := fields[fieldObjectClasses]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &classes); err != nil {
			return nil, fmt.Errorf("failed to decode object classes: %w", err)
		}
	}

	attrs := make([]*attribute.Data, 0, len(fields))
	for name, raw := range fields {
		if name == fieldDN || name == fieldObjectClasses {
			continue
		}
		var a backend.DocumentAttribute
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", name, err)
		}
		attrs = append(attrs, a.Data())
	}
	return backend.NewEntry(fields[fieldDN], classes, attrs), nil
}

// Persist writes a new hash
func (b *Backend) Persist(ctx context.Context, key string, objectClasses []string, attrs []*attribute.Data, ttl int) error {
	rk, err := b.redisKey(key)
	if err != nil {
		return fmt.Errorf("failed to persist entry %s: %w", key, err)
	}
	fields, err := encodeEntry(backend.NewEntry(key, objectClasses, attrs))
	if err != nil {
		return fmt.Errorf("failed to persist entry %s: %w", key, err)
	}

	created, err := b.client.HSetNX(ctx, rk, fieldDN, fields[fieldDN]).Result()
	if err != nil {
		return fmt.Errorf("failed to persist entry %s: %w", key, err)
	}
	if !created {
		return fmt.Errorf("failed to persist entry %s: %w", key, backend.ErrEntryExists)
	}

	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, rk, fields)
		if ttl > 0 {
			pipe.Expire(ctx, rk, time.Duration(ttl)*time.Second)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to persist entry %s: %w", key, err)
	}
	return nil
}

// Merge applies modifications with a read-modify-write of the hash
func (b *Backend) Merge(ctx context.Context, key string, objectClasses []string, mods []attribute.Modification, ttl int) error {
	rk, err := b.redisKey(key)
	if err != nil {
		return fmt.Errorf("failed to merge entry %s: %w", key, err)
	}
	entry, err := b.load(ctx, rk)
	if err != nil {
		return fmt.Errorf("failed to merge entry %s: %w", key, err)
	}

	entry.Apply(mods)
	fields, err := encodeEntry(entry)
	if err != nil {
		return fmt.Errorf("failed to merge entry %s: %w", key, err)
	}

	var removed []string
	for _, m := range mods {
		name := strings.ToLower(m.Name())
		if _, ok := fields[name]; !ok && name != "" && name != strings.ToLower(attribute.ObjectClass) {
			removed = append(removed, name)
		}
	}

	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(removed) > 0 {
			pipe.HDel(ctx, rk, removed...)
		}
		pipe.HSet(ctx, rk, fields)
		if ttl > 0 {
			pipe.Expire(ctx, rk, time.Duration(ttl)*time.Second)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to merge entry %s: %w", key, err)
	}
	return nil
}

func (b *Backend) load(ctx context.Context, rk string) (*backend.Entry, error) {
	fields, err := b.client.HGetAll(ctx, rk).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, backend.ErrEntryNotFound
		}
		return nil, err
	}
	if len(fields) == 0 {
		return nil, backend.ErrEntryNotFound
	}
	return decodeEntry(fields)
}

// Find reads one hash
func (b *Backend) Find(ctx context.Context, key string, objectClasses []string, types map[string]*schema.Property, attrs ...string) ([]*attribute.Data, error) {
	rk, err := b.redisKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to find entry %s: %w", key, err)
	}
	entry, err := b.load(ctx, rk)
	if err != nil {
		return nil, fmt.Errorf("failed to find entry %s: %w", key, err)
	}
	return entry.Data(attrs...), nil
}

// Search scans the key space and evaluates the filter in process
func (b *Backend) Search(ctx context.Context, baseKey string, scope backend.Scope, objectClasses []string, filter *query.Filter, attrs []string, limit int) (map[string][]*attribute.Data, error) {
	entries, err := b.scan(ctx, baseKey, scope, objectClasses, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", baseKey, err)
	}

	result := make(map[string][]*attribute.Data)
	for _, e := range entries {
		if limit > 0 && len(result) >= limit {
			break
		}
		result[e.Key] = e.Data(attrs...)
	}
	return result, nil
}

// Contains reports whether any entry below baseKey matches filter
func (b *Backend) Contains(ctx context.Context, baseKey string, objectClasses []string, filter *query.Filter) (bool, error) {
	entries, err := b.scan(ctx, baseKey, backend.ScopeSubtree, objectClasses, filter)
	if err != nil {
		return false, fmt.Errorf("failed to search %s: %w", baseKey, err)
	}
	return len(entries) > 0, nil
}

// scan returns matching entries ordered by identifier
func (b *Backend) scan(ctx context.Context, baseKey string, scope backend.Scope, objectClasses []string, filter *query.Filter) ([]*backend.Entry, error) {
	var result []*backend.Entry
	iter := b.client.Scan(ctx, 0, b.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		entry, err := b.load(ctx, iter.Val())
		if err != nil {
			if backend.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		if !scope.Includes(entry.Key, baseKey) || !entry.HasObjectClasses(objectClasses) {
			continue
		}
		if filtermatch.Match(filter, entry) {
			result = append(result, entry)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result, nil
}

// RemoveByKey deletes one hash
func (b *Backend) RemoveByKey(ctx context.Context, key string, objectClasses []string) error {
	rk, err := b.redisKey(key)
	if err != nil {
		return fmt.Errorf("failed to remove entry %s: %w", key, err)
	}
	n, err := b.client.Del(ctx, rk).Result()
	if err != nil {
		return fmt.Errorf("failed to remove entry %s: %w", key, err)
	}
	if n == 0 {
		return fmt.Errorf("failed to remove entry %s: %w", key, backend.ErrEntryNotFound)
	}
	return nil
}

// RemoveRecursively deletes every hash whose identifier lies at or below key
func (b *Backend) RemoveRecursively(ctx context.Context, key string, objectClasses []string) error {
	iter := b.client.Scan(ctx, 0, b.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		dn, err := b.client.HGet(ctx, iter.Val(), fieldDN).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return fmt.Errorf("failed to remove entry %s: %w", key, err)
		}
		if !backend.InScope(dn, key) {
			continue
		}
		if err := b.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to remove entry %s: %w", key, err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to remove entry %s: %w", key, err)
	}
	return nil
}

// EncodeTime implements backend.Backend
func (b *Backend) EncodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// DecodeTime implements backend.Backend
func (b *Backend) DecodeTime(s string) (time.Time, error) {
	return codec.ParseTime(s)
}

// StoreFullEntry implements backend.Backend
func (b *Backend) StoreFullEntry() bool { return false }

// SupportsForceUpdate implements backend.Backend
func (b *Backend) SupportsForceUpdate() bool { return false }

var _ backend.Backend = (*Backend)(nil)
