package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/conduit-lang/entrymap/internal/backend"
	"github.com/conduit-lang/entrymap/internal/orm/attribute"
	"github.com/conduit-lang/entrymap/internal/orm/keys"
	"github.com/conduit-lang/entrymap/internal/orm/query"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*Backend, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := NewWithClient(client, "test:")
	t.Cleanup(func() { b.Close() })
	return b, mr
}

func seed(t *testing.T, b *Backend) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, b.Persist(ctx, "uid=bob,ou=people,o=jans", []string{"jansPerson"}, []*attribute.Data{
		attribute.New("uid", "bob"),
		attribute.NewMultiValued("mail", true, "bob@x.org", "b@x.org"),
		attribute.New("age", int64(42)),
	}, 0))
	require.NoError(t, b.Persist(ctx, "uid=ann,ou=people,o=jans", []string{"jansPerson"}, []*attribute.Data{
		attribute.New("uid", "ann"),
	}, 0))
	require.NoError(t, b.Persist(ctx, "inum=1,ou=groups,o=jans", []string{"jansGroup"}, []*attribute.Data{
		attribute.New("inum", "1"),
	}, 0))
}

func TestNewWithConfig(t *testing.T) {
	mr := miniredis.RunT(t)
	config := DefaultConfig()
	config.Addr = mr.Addr()

	b, err := NewWithConfig(config)
	require.NoError(t, err)
	defer b.Close()

	_, err = NewWithConfig(Config{Addr: "localhost:99999"})
	assert.Error(t, err)
}

func TestPersistAndFind(t *testing.T) {
	ctx := context.Background()
	b, mr := setupTestRedis(t)
	seed(t, b)

	assert.True(t, mr.Exists("test:people_bob"))
	assert.Equal(t, "uid=bob,ou=people,o=jans", mr.HGet("test:people_bob", "_dn"))

	data, err := b.Find(ctx, "uid=bob,ou=people,o=jans", []string{"jansPerson"}, nil)
	require.NoError(t, err)
	require.Len(t, data, 4)
	assert.Equal(t, "age=[42]", data[0].String())
	assert.Equal(t, "mail=[bob@x.org b@x.org]", data[1].String())
	assert.True(t, data[1].IsMultiValued())
	assert.Equal(t, "uid=[bob]", data[2].String())
	assert.Equal(t, "objectClass=[jansPerson]", data[3].String())

	err = b.Persist(ctx, "uid=bob,ou=people,o=jans", []string{"jansPerson"}, nil, 0)
	assert.ErrorIs(t, err, backend.ErrEntryExists)

	_, err = b.Find(ctx, "uid=none,ou=people,o=jans", nil, nil)
	assert.True(t, backend.IsNotFound(err))
}

func TestOrganizationScopedKey(t *testing.T) {
	b, mr := setupTestRedis(t)
	require.NoError(t, b.Persist(context.Background(), "uid=bob,ou=people,o=acme", []string{"jansPerson"}, nil, 0))
	assert.True(t, mr.Exists("test:acme:people_bob"))
}

func TestMerge(t *testing.T) {
	ctx := context.Background()
	b, mr := setupTestRedis(t)
	seed(t, b)

	err := b.Merge(ctx, "uid=bob,ou=people,o=jans", []string{"jansPerson"}, []attribute.Modification{
		{Type: attribute.ModificationReplace, Attribute: attribute.New("uid", "robert"), OldAttribute: attribute.New("uid", "bob")},
		{Type: attribute.ModificationRemove, OldAttribute: attribute.New("age", int64(42))},
		{Type: attribute.ModificationReplace, Attribute: attribute.NewStrings("objectClass", "jansPerson", "custom")},
	}, 30)
	require.NoError(t, err)

	data, err := b.Find(ctx, "uid=bob,ou=people,o=jans", nil, nil)
	require.NoError(t, err)
	require.Len(t, data, 3)
	assert.Equal(t, "uid=[robert]", data[1].String())
	assert.Equal(t, "objectClass=[jansPerson custom]", data[2].String())
	assert.Equal(t, "", mr.HGet("test:people_bob", "age"))
	assert.Equal(t, 30*time.Second, mr.TTL("test:people_bob"))

	err = b.Merge(ctx, "uid=none,ou=people,o=jans", nil, nil, 0)
	assert.True(t, backend.IsNotFound(err))
}

func TestSearchAndContains(t *testing.T) {
	ctx := context.Background()
	b, _ := setupTestRedis(t)
	seed(t, b)

	result, err := b.Search(ctx, "ou=people,o=jans", backend.ScopeSubtree, []string{"jansPerson"}, nil, []string{"uid"}, 0)
	require.NoError(t, err)
	require.Len(t, result, 2)
	assert.Equal(t, "uid=[ann]", result["uid=ann,ou=people,o=jans"][0].String())

	result, err = b.Search(ctx, "o=jans", backend.ScopeSubtree, nil, query.GreaterOrEqual("age", 18), nil, 0)
	require.NoError(t, err)
	assert.Len(t, result, 1)

	result, err = b.Search(ctx, "o=jans", backend.ScopeSubtree, nil, nil, nil, 1)
	require.NoError(t, err)
	assert.Len(t, result, 1)

	found, err := b.Contains(ctx, "ou=groups,o=jans", []string{"jansGroup"}, query.Equality("inum", "1"))
	require.NoError(t, err)
	assert.True(t, found)

	found, err = b.Contains(ctx, "ou=groups,o=jans", nil, query.Equality("uid", "bob"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestExpiration(t *testing.T) {
	ctx := context.Background()
	b, mr := setupTestRedis(t)

	require.NoError(t, b.Persist(ctx, "jansId=1,ou=sessions,o=jans", nil, []*attribute.Data{attribute.New("jansId", "1")}, 60))
	assert.Equal(t, time.Minute, mr.TTL("test:sessions_1"))

	mr.FastForward(2 * time.Minute)
	_, err := b.Find(ctx, "jansId=1,ou=sessions,o=jans", nil, nil)
	assert.True(t, backend.IsNotFound(err))
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	b, mr := setupTestRedis(t)
	seed(t, b)

	require.NoError(t, b.RemoveByKey(ctx, "uid=ann,ou=people,o=jans", nil))
	assert.False(t, mr.Exists("test:people_ann"))
	assert.True(t, backend.IsNotFound(b.RemoveByKey(ctx, "uid=ann,ou=people,o=jans", nil)))

	require.NoError(t, b.RemoveRecursively(ctx, "ou=people,o=jans", nil))
	assert.False(t, mr.Exists("test:people_bob"))
	assert.True(t, mr.Exists("test:groups_1"))
}

func TestLeafOnlyKeys(t *testing.T) {
	b, mr := setupTestRedis(t)
	b.SetKeyConverter(keys.NewConverter(false))

	require.NoError(t, b.Persist(context.Background(), "uid=bob,ou=people,o=jans", nil, nil, 0))
	assert.True(t, mr.Exists("test:bob"))
}
