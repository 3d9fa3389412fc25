package crud

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/conduit-lang/entrymap/internal/backend/memory"
	"github.com/conduit-lang/entrymap/internal/orm/attribute"
	"github.com/conduit-lang/entrymap/internal/orm/password"
	"github.com/conduit-lang/entrymap/internal/orm/query"
	"github.com/conduit-lang/entrymap/internal/orm/schema"
)

type person struct {
	DN       string                      `entry:"dn"`
	UID      string                      `entry:"attr=uid"`
	Mail     []string                    `entry:"attr=mail"`
	Age      *int                        `entry:"attr=age"`
	Password string                      `entry:"attr=userPassword"`
	Display  attribute.LocalizedString   `entry:"attr=displayName,lang"`
	Custom   []attribute.CustomAttribute `entry:"attrs"`
	Classes  []string                    `entry:"objectclasses"`
}

type session struct {
	DN    string `entry:"dn"`
	ID    string `entry:"attr=jansId"`
	State string `entry:"attr=jansState"`
	Exp   int    `entry:"ttl;attr=exp,ignoreUpdate"`
}

type subschema struct {
	DN    string   `entry:"dn"`
	Types []string `entry:"attr=attributeTypes"`
}

type appConfig struct {
	DN       string `entry:"dn"`
	Revision int    `entry:"attr=jansRevision"`
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []string
}

func (o *recordingObserver) ObserveOperation(op Operation, entryType string, d time.Duration, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, fmt.Sprintf("%s %s %t", op, entryType, err == nil))
}

func intPtr(i int) *int { return &i }

func setupManager(t *testing.T, opts ...Option) (*Manager, *memory.Backend) {
	t.Helper()
	registry := schema.NewRegistry()
	require.NoError(t, registry.Register(person{}, schema.EntryOptions{
		ObjectClasses: []string{"jansPerson"},
		SortBy:        []string{"-UID"},
	}))
	require.NoError(t, registry.Register(session{}, schema.EntryOptions{
		ObjectClasses: []string{"jansSessId"},
	}))
	require.NoError(t, registry.Register(subschema{}, schema.EntryOptions{
		ObjectClasses: []string{"subschema"},
		Kind:          schema.KindSchema,
	}))
	require.NoError(t, registry.Register(appConfig{}, schema.EntryOptions{
		ObjectClasses: []string{"jansAppConf"},
		Configuration: true,
	}))

	b := memory.New()
	return NewManager(registry, b, opts...), b
}

func bob() *person {
	display := attribute.NewLocalizedString("Bob")
	display.SetValue("Robert", "fr")
	return &person{
		DN:      "uid=bob,ou=people,o=jans",
		UID:     "bob",
		Mail:    []string{"bob@x.org", "b@x.org"},
		Age:     intPtr(42),
		Display: display,
		Custom:  []attribute.CustomAttribute{attribute.NewCustomAttribute("jansExtra", "x")},
	}
}

func TestPersistAndFind(t *testing.T) {
	ctx := context.Background()
	m, b := setupManager(t)

	require.NoError(t, m.Persist(ctx, bob()))
	assert.Equal(t, 1, b.Len())

	found, err := Find[person](ctx, m, "uid=bob,ou=people,o=jans")
	require.NoError(t, err)
	assert.Equal(t, "uid=bob,ou=people,o=jans", found.DN)
	assert.Equal(t, "bob", found.UID)
	assert.ElementsMatch(t, []string{"bob@x.org", "b@x.org"}, found.Mail)
	require.NotNil(t, found.Age)
	assert.Equal(t, 42, *found.Age)
	assert.Equal(t, "Bob", found.Display.DefaultValue())
	fr, ok := found.Display.Value("fr")
	assert.True(t, ok)
	assert.Equal(t, "Robert", fr)
	require.Len(t, found.Custom, 1)
	assert.Equal(t, "jansExtra", found.Custom[0].Name)
	assert.Equal(t, []any{"x"}, found.Custom[0].Values)
	assert.Empty(t, found.Classes)

	err = m.Persist(ctx, bob())
	assert.True(t, IsEntryExists(err))
}

func TestPersistErrors(t *testing.T) {
	ctx := context.Background()
	m, _ := setupManager(t)

	tests := []struct {
		name  string
		entry any
		check func(error) bool
	}{
		{name: "nil entry", entry: nil, check: func(err error) bool { return errors.Is(err, ErrNilEntry) }},
		{name: "nil pointer", entry: (*person)(nil), check: func(err error) bool { return errors.Is(err, ErrNilEntry) }},
		{name: "empty dn", entry: &person{UID: "x"}, check: IsMappingError},
		{name: "unregistered type", entry: &struct{ DN string }{DN: "o=x"}, check: IsMappingError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.Persist(ctx, tt.entry)
			require.Error(t, err)
			assert.True(t, tt.check(err), err.Error())
		})
	}
}

func TestFindNotFound(t *testing.T) {
	m, _ := setupManager(t)

	_, err := Find[person](context.Background(), m, "uid=none,ou=people,o=jans")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	var opErr *OperationError
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, OperationFind, opErr.Op)
	assert.Equal(t, "uid=none,ou=people,o=jans", opErr.Key)

	_, err = Find[person](context.Background(), m, "")
	assert.True(t, IsMappingError(err))
}

func TestMerge(t *testing.T) {
	ctx := context.Background()
	m, b := setupManager(t)
	require.NoError(t, m.Persist(ctx, bob()))

	entry, err := Find[person](ctx, m, "uid=bob,ou=people,o=jans")
	require.NoError(t, err)
	entry.Mail = []string{"bob@x.org"}
	entry.Age = nil
	entry.Custom = []attribute.CustomAttribute{
		attribute.NewCustomAttribute("jansExtra"),
		attribute.NewCustomAttribute("jansOther", "y", "z"),
	}
	require.NoError(t, m.Merge(ctx, entry))

	stored, err := b.Find(ctx, "uid=bob,ou=people,o=jans", nil, nil)
	require.NoError(t, err)
	assert.Nil(t, attribute.Find(stored, "age"))
	assert.Nil(t, attribute.Find(stored, "jansExtra"))
	assert.Equal(t, []any{"bob@x.org"}, attribute.Find(stored, "mail").Values)
	assert.Equal(t, []any{"y", "z"}, attribute.Find(stored, "jansOther").Values)
	assert.Equal(t, []any{"jansPerson"}, attribute.Find(stored, attribute.ObjectClass).Values)

	err = m.Merge(ctx, &person{DN: "uid=none,ou=people,o=jans", UID: "none"})
	assert.True(t, IsNotFound(err))
}

func TestMergeCustomObjectClasses(t *testing.T) {
	ctx := context.Background()
	m, _ := setupManager(t)
	require.NoError(t, m.Persist(ctx, bob()))

	entry := bob()
	entry.Classes = []string{"jansCustomPerson"}
	require.NoError(t, m.Merge(ctx, entry))

	found, err := Find[person](ctx, m, entry.DN)
	require.NoError(t, err)
	assert.Equal(t, []string{"jansCustomPerson"}, found.Classes)

	classes, err := m.ObjectClasses(found)
	require.NoError(t, err)
	assert.Equal(t, []string{"jansPerson", "jansCustomPerson"}, classes)
}

func TestMergeConfigurationEntry(t *testing.T) {
	ctx := context.Background()
	m, b := setupManager(t)
	conf := &appConfig{DN: "ou=configuration,o=jans", Revision: 1}
	require.NoError(t, m.Persist(ctx, conf))

	conf.Revision = 2
	require.NoError(t, m.Merge(ctx, conf))

	stored, err := b.Find(ctx, conf.DN, nil, nil, "jansRevision")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, []any{int64(2)}, stored[0].Values)
}

func TestSchemaEntry(t *testing.T) {
	ctx := context.Background()
	m, b := setupManager(t)
	require.NoError(t, m.Persist(ctx, &subschema{DN: "cn=schema"}))

	require.NoError(t, m.Merge(ctx, &subschema{DN: "cn=schema", Types: []string{"a"}}))
	require.NoError(t, m.MergeSchema(ctx, &subschema{DN: "cn=schema", Types: []string{"b", "c"}}, attribute.ModificationAdd))

	stored, err := b.Find(ctx, "cn=schema", nil, nil, "attributeTypes")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, []any{"a", "b", "c"}, stored[0].Values)

	require.NoError(t, m.Remove(ctx, &subschema{DN: "cn=schema", Types: []string{"b"}}))
	stored, err = b.Find(ctx, "cn=schema", nil, nil, "attributeTypes")
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "c"}, stored[0].Values)

	err = m.MergeSchema(ctx, &subschema{DN: "cn=schema"}, attribute.ModificationReplace)
	assert.True(t, IsMappingError(err))
}

func TestTTL(t *testing.T) {
	ctx := context.Background()
	m, b := setupManager(t)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b.SetClock(func() time.Time { return now })

	key := "jansId=" + uuid.NewString() + ",ou=sessions,o=jans"
	s := &session{DN: key, ID: "1", State: "new", Exp: 60}
	require.NoError(t, m.Persist(ctx, s))

	now = now.Add(30 * time.Second)
	s.State = "authenticated"
	s.Exp = 3600
	require.NoError(t, m.Merge(ctx, s))

	now = now.Add(45 * time.Second)
	found, err := m.Contains(ctx, session{}, key)
	require.NoError(t, err)
	assert.False(t, found, "ttl of ignoreUpdate property must not be extended on merge")

	negative := &session{DN: "jansId=2,ou=sessions,o=jans", ID: "2", Exp: -5}
	require.NoError(t, m.Persist(ctx, negative))
	now = now.Add(24 * time.Hour)
	found, err = m.Contains(ctx, session{}, negative.DN)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestFindEntries(t *testing.T) {
	ctx := context.Background()
	m, _ := setupManager(t)
	for _, uid := range []string{"ann", "bob", "carl"} {
		require.NoError(t, m.Persist(ctx, &person{
			DN:   "uid=" + uid + ",ou=people,o=jans",
			UID:  uid,
			Mail: []string{uid + "@x.org", "team@x.org"},
		}))
	}

	all, err := FindEntriesByFilter[person](ctx, m, "ou=people,o=jans", nil, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "carl", all[0].UID)
	assert.Equal(t, "ann", all[2].UID)

	matched, err := FindEntries(ctx, m, &person{DN: "ou=people,o=jans", Mail: []string{"team@x.org"}}, 0)
	require.NoError(t, err)
	assert.Len(t, matched, 3)

	matched, err = FindEntries(ctx, m, &person{DN: "ou=people,o=jans", UID: "BOB"}, 0)
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, "uid=bob,ou=people,o=jans", matched[0].DN)

	limited, err := FindEntriesByFilter[person](ctx, m, "ou=people,o=jans", query.Present("mail"), 2, "uid")
	require.NoError(t, err)
	assert.Len(t, limited, 2)
	assert.Empty(t, limited[0].Mail)

	count, err := m.CountEntries(ctx, &person{DN: "o=jans", Mail: []string{"team@x.org"}})
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	count, err = m.CountEntriesByFilter(ctx, person{}, "o=jans", query.SubstringMatch("uid", "c", nil, ""))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestContains(t *testing.T) {
	ctx := context.Background()
	m, _ := setupManager(t)
	require.NoError(t, m.Persist(ctx, bob()))

	found, err := m.Contains(ctx, person{}, "uid=bob,ou=people,o=jans")
	require.NoError(t, err)
	assert.True(t, found)

	found, err = m.Contains(ctx, person{}, "uid=ann,ou=people,o=jans")
	require.NoError(t, err)
	assert.False(t, found)

	found, err = m.ContainsEntry(ctx, &person{DN: "ou=people,o=jans", UID: "bob"})
	require.NoError(t, err)
	assert.True(t, found)

	found, err = m.ContainsEntry(ctx, &person{DN: "ou=people,o=jans", UID: "bob", Classes: []string{"missing"}})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	m, b := setupManager(t)
	require.NoError(t, m.Persist(ctx, bob()))
	require.NoError(t, m.Persist(ctx, &person{DN: "uid=ann,ou=people,o=jans", UID: "ann"}))
	require.NoError(t, m.Persist(ctx, &session{DN: "jansId=1,ou=sessions,o=jans", ID: "1"}))

	require.NoError(t, m.Remove(ctx, bob()))
	assert.True(t, IsNotFound(m.Remove(ctx, bob())))

	require.NoError(t, m.RemoveRecursively(ctx, person{}, "ou=people,o=jans"))
	assert.Equal(t, 1, b.Len())

	require.NoError(t, m.RemoveByKey(ctx, session{}, "jansId=1,ou=sessions,o=jans"))
	assert.Equal(t, 0, b.Len())
}

func TestImportEntry(t *testing.T) {
	ctx := context.Background()
	m, _ := setupManager(t)

	require.NoError(t, m.ImportEntry(ctx, "uid=imp,ou=people,o=jans", person{}, []*attribute.Data{
		attribute.New("uid", "imp"),
		attribute.New("jansLegacy", "1"),
		attribute.NewStrings("empty"),
	}))

	found, err := Find[person](ctx, m, "uid=imp,ou=people,o=jans")
	require.NoError(t, err)
	assert.Equal(t, "imp", found.UID)
	require.Len(t, found.Custom, 1)
	assert.Equal(t, "jansLegacy", found.Custom[0].Name)

	err = m.ImportEntry(ctx, "", person{}, nil)
	assert.True(t, IsMappingError(err))
}

func TestPasswordExtension(t *testing.T) {
	ctx := context.Background()
	m, b := setupManager(t, WithExtension(password.New(bcrypt.MinCost)))

	entry := bob()
	entry.Password = "secret"
	require.NoError(t, m.Persist(ctx, entry))

	stored, err := b.Find(ctx, entry.DN, nil, nil, PasswordAttribute)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	hashed := attribute.ValueString(stored[0].Values[0])
	assert.True(t, strings.HasPrefix(hashed, password.Prefix))

	ok, err := m.Authenticate(ctx, person{}, entry.DN, "secret")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Authenticate(ctx, person{}, entry.DN, "wrong")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = m.Authenticate(ctx, person{}, "uid=none,o=jans", "secret")
	require.NoError(t, err)
	assert.False(t, ok)

	found, err := Find[person](ctx, m, entry.DN)
	require.NoError(t, err)
	require.NoError(t, m.Merge(ctx, found))
	stored, err = b.Find(ctx, entry.DN, nil, nil, PasswordAttribute)
	require.NoError(t, err)
	assert.Equal(t, hashed, attribute.ValueString(stored[0].Values[0]))

	found.Password = "changed"
	require.NoError(t, m.Merge(ctx, found))
	ok, err = m.Authenticate(ctx, person{}, entry.DN, "changed")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAuthenticateWithoutExtension(t *testing.T) {
	m, _ := setupManager(t)
	_, err := m.Authenticate(context.Background(), person{}, "uid=bob,o=jans", "secret")
	assert.ErrorIs(t, err, ErrNoPersistenceExtension)
}

func TestHashKey(t *testing.T) {
	m, _ := setupManager(t)
	entry := &person{
		DN:     "uid=Bob,ou=people,o=jans",
		UID:    "Bob",
		Mail:   []string{"b@x", "a@x"},
		Custom: []attribute.CustomAttribute{attribute.NewCustomAttribute("Extra", "1")},
	}

	key, err := m.HashKey(entry)
	require.NoError(t, err)
	assert.Equal(t, "_hash__uid=bob,ou=people,o=jans__:uid=bob:mail=a@x;b@x:age=null:userpassword=null:displayname=null:extra=1", key)

	entry.Mail = []string{"a@x", "b@x"}
	again, err := m.HashKey(entry)
	require.NoError(t, err)
	assert.Equal(t, key, again)
}

func TestCreateEntities(t *testing.T) {
	m, _ := setupManager(t)
	entities, err := m.CreateEntities(session{}, map[string][]*attribute.Data{
		"jansId=2,ou=sessions,o=jans": {attribute.New("jansId", "2"), attribute.New("dn", "ignored")},
		"jansId=1,ou=sessions,o=jans": {attribute.New("jansId", "1"), attribute.NewStrings(attribute.ObjectClass, "jansSessId")},
	})
	require.NoError(t, err)
	require.Len(t, entities, 2)

	first, ok := entities[0].(*session)
	require.True(t, ok)
	assert.Equal(t, "jansId=1,ou=sessions,o=jans", first.DN)
	assert.Equal(t, "1", first.ID)
	assert.Equal(t, "2", entities[1].(*session).ID)
}

func TestBuildDecodeError(t *testing.T) {
	m, _ := setupManager(t)
	_, err := Build[person](m.Registry(), m.Codec(), map[string][]*attribute.Data{
		"uid=x,o=jans": {attribute.New("age", "not a number")},
	})
	require.Error(t, err)
	assert.True(t, IsMappingError(err))
	assert.Contains(t, err.Error(), "crud.person")
}

func TestObserver(t *testing.T) {
	ctx := context.Background()
	observer := &recordingObserver{}
	m, _ := setupManager(t, WithObserver(observer))

	require.NoError(t, m.Persist(ctx, bob()))
	_, _ = Find[person](ctx, m, "uid=none,o=jans")

	assert.Equal(t, []string{
		"persist crud.person true",
		"find crud.person false",
	}, observer.calls)
}

func TestOperationString(t *testing.T) {
	tests := []struct {
		op   Operation
		want string
	}{
		{OperationPersist, "persist"},
		{OperationMerge, "merge"},
		{OperationFind, "find"},
		{OperationSearch, "search"},
		{OperationCount, "count"},
		{OperationContains, "contains"},
		{OperationRemove, "remove"},
		{OperationImport, "import"},
		{OperationAuthenticate, "authenticate"},
		{Operation(99), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.op.String())
	}
}

type device struct {
	DN          string   `entry:"dn"`
	ID          string   `entry:"attr=jansId"`
	Mail        []string `entry:"attr=mail"`
	Description string   `entry:"attr=description"`
}

// fullRowBackend rewrites whole rows on merge and records what it is asked to do
type fullRowBackend struct {
	*memory.Backend
	finds int
	mods  []attribute.Modification
}

func (b *fullRowBackend) Find(ctx context.Context, key string, objectClasses []string, types map[string]*schema.Property, attrs ...string) ([]*attribute.Data, error) {
	b.finds++
	return b.Backend.Find(ctx, key, objectClasses, types, attrs...)
}

func (b *fullRowBackend) Merge(ctx context.Context, key string, objectClasses []string, mods []attribute.Modification, ttl int) error {
	b.mods = mods
	return b.Backend.Merge(ctx, key, objectClasses, mods, ttl)
}

func (b *fullRowBackend) StoreFullEntry() bool      { return true }
func (b *fullRowBackend) SupportsForceUpdate() bool { return true }

func TestMergeForceUpdate(t *testing.T) {
	ctx := context.Background()
	registry := schema.NewRegistry()
	require.NoError(t, registry.Register(device{}, schema.EntryOptions{
		ObjectClasses: []string{"jansDevice"},
		ForceUpdate:   true,
	}))
	b := &fullRowBackend{Backend: memory.New()}
	m := NewManager(registry, b)

	d := &device{DN: "jansId=d1,ou=devices,o=jans", ID: "d1", Mail: []string{"d@x.org"}}
	require.NoError(t, m.Persist(ctx, d))
	require.NoError(t, m.Merge(ctx, d))

	assert.Equal(t, 0, b.finds, "forced merges must not read the stored entry")
	require.Len(t, b.mods, 3)

	assert.Equal(t, attribute.ModificationForceUpdate, b.mods[0].Type)
	assert.Equal(t, "jansId", b.mods[0].Name())
	assert.Equal(t, attribute.ModificationForceUpdate, b.mods[1].Type)
	assert.Equal(t, "mail", b.mods[1].Name())
	assert.True(t, b.mods[1].Attribute.IsMultiValued())

	assert.Equal(t, attribute.ModificationRemove, b.mods[2].Type)
	assert.Equal(t, "description", b.mods[2].Name())
	assert.Equal(t, []any{nil}, b.mods[2].OldAttribute.Values)

	found, err := Find[device](ctx, m, d.DN)
	require.NoError(t, err)
	assert.Equal(t, []string{"d@x.org"}, found.Mail)
}

func TestMergeForceUpdateUnsupported(t *testing.T) {
	ctx := context.Background()
	registry := schema.NewRegistry()
	require.NoError(t, registry.Register(device{}, schema.EntryOptions{
		ObjectClasses: []string{"jansDevice"},
		ForceUpdate:   true,
	}))
	m := NewManager(registry, memory.New())

	d := &device{DN: "jansId=d1,ou=devices,o=jans", ID: "d1"}
	require.NoError(t, m.Persist(ctx, d))

	d.Description = "lobby"
	require.NoError(t, m.Merge(ctx, d))

	found, err := Find[device](ctx, m, d.DN)
	require.NoError(t, err)
	assert.Equal(t, "lobby", found.Description)
}
