package s3

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/conduit-lang/entrymap/internal/backend"
	"github.com/conduit-lang/entrymap/internal/orm/attribute"
	"github.com/conduit-lang/entrymap/internal/orm/keys"
	"github.com/conduit-lang/entrymap/internal/orm/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 is an in-memory ObjectAPI
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(params.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(params.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(params.Prefix)) {
			names = append(names, k)
		}
	}
	sort.Strings(names)

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, k := range names {
		out.Contents = append(out.Contents, s3types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func (f *fakeS3) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

func setup(t *testing.T) (*Backend, *fakeS3) {
	t.Helper()
	fake := newFakeS3()
	b := NewWithClient(fake, "entries", "dev")
	ctx := context.Background()
	require.NoError(t, b.Persist(ctx, "uid=bob,ou=people,o=jans", []string{"jansPerson"}, []*attribute.Data{
		attribute.New("uid", "bob"),
		attribute.NewMultiValued("mail", true, "bob@x.org"),
	}, 0))
	require.NoError(t, b.Persist(ctx, "uid=ann,ou=people,o=acme", []string{"jansPerson"}, []*attribute.Data{
		attribute.New("uid", "ann"),
	}, 0))
	return b, fake
}

func TestPersistAndFind(t *testing.T) {
	ctx := context.Background()
	b, fake := setup(t)

	assert.True(t, fake.has("dev/people_bob.json"))
	assert.True(t, fake.has("dev/acme/people_ann.json"))

	data, err := b.Find(ctx, "uid=bob,ou=people,o=jans", nil, nil)
	require.NoError(t, err)
	require.Len(t, data, 3)
	assert.Equal(t, "mail=[bob@x.org]", data[0].String())
	assert.True(t, data[0].IsMultiValued())
	assert.Equal(t, "objectClass=[jansPerson]", data[2].String())

	err = b.Persist(ctx, "uid=bob,ou=people,o=jans", nil, nil, 0)
	assert.ErrorIs(t, err, backend.ErrEntryExists)

	_, err = b.Find(ctx, "uid=none,o=jans", nil, nil)
	assert.True(t, backend.IsNotFound(err))
}

func TestMerge(t *testing.T) {
	ctx := context.Background()
	b, _ := setup(t)

	err := b.Merge(ctx, "uid=bob,ou=people,o=jans", nil, []attribute.Modification{
		{Type: attribute.ModificationAdd, Attribute: attribute.New("phone", "555")},
		{Type: attribute.ModificationRemove, OldAttribute: attribute.New("mail", "bob@x.org")},
	}, 0)
	require.NoError(t, err)

	data, err := b.Find(ctx, "uid=bob,ou=people,o=jans", nil, nil, "phone", "mail")
	require.NoError(t, err)
	require.Len(t, data, 1)
	assert.Equal(t, "phone=[555]", data[0].String())

	err = b.Merge(ctx, "uid=none,o=jans", nil, nil, 0)
	assert.True(t, backend.IsNotFound(err))
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	b, _ := setup(t)

	result, err := b.Search(ctx, "", backend.ScopeSubtree, []string{"jansPerson"}, nil, []string{"uid"}, 0)
	require.NoError(t, err)
	assert.Len(t, result, 2)

	result, err = b.Search(ctx, "o=acme", backend.ScopeSubtree, nil, query.Equality("uid", "ann"), nil, 0)
	require.NoError(t, err)
	require.Len(t, result, 1)
	assert.Contains(t, result, "uid=ann,ou=people,o=acme")

	found, err := b.Contains(ctx, "o=jans", nil, query.Equality("uid", "ann"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestExpiration(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewWithClient(newFakeS3(), "entries", "")
	b.SetClock(func() time.Time { return now })

	require.NoError(t, b.Persist(ctx, "jansId=1,ou=sessions,o=jans", nil, nil, 60))
	_, err := b.Find(ctx, "jansId=1,ou=sessions,o=jans", nil, nil)
	require.NoError(t, err)

	now = now.Add(time.Hour)
	_, err = b.Find(ctx, "jansId=1,ou=sessions,o=jans", nil, nil)
	assert.True(t, backend.IsNotFound(err))
	require.NoError(t, b.Persist(ctx, "jansId=1,ou=sessions,o=jans", nil, nil, 0))
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	b, fake := setup(t)

	require.NoError(t, b.RemoveByKey(ctx, "uid=bob,ou=people,o=jans", nil))
	assert.False(t, fake.has("dev/people_bob.json"))
	assert.True(t, backend.IsNotFound(b.RemoveByKey(ctx, "uid=bob,ou=people,o=jans", nil)))

	require.NoError(t, b.RemoveRecursively(ctx, "o=acme", nil))
	assert.False(t, fake.has("dev/acme/people_ann.json"))
}

func TestNewWithConfigRequiresBucket(t *testing.T) {
	_, err := NewWithConfig(context.Background(), Config{})
	assert.Error(t, err)
}

func TestLeafOnlyKeys(t *testing.T) {
	fake := newFakeS3()
	b := NewWithClient(fake, "entries", "")
	b.SetKeyConverter(keys.NewConverter(false))

	require.NoError(t, b.Persist(context.Background(), "uid=bob,ou=people,o=acme", nil, nil, 0))
	assert.True(t, fake.has("acme/bob.json"))
}
