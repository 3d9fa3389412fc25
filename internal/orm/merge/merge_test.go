package merge

import (
	"reflect"
	"testing"

	"github.com/conduit-lang/entrymap/internal/orm/attribute"
	"github.com/conduit-lang/entrymap/internal/orm/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func prop(name string, mutate ...func(*schema.Property)) *schema.Property {
	p := &schema.Property{
		Name:          name,
		AttributeName: name,
		Type:          reflect.TypeOf(""),
		Directives:    schema.DirectiveAttribute,
	}
	for _, m := range mutate {
		m(p)
	}
	return p
}

func listProp() *schema.Property {
	return &schema.Property{
		Name:       "Custom",
		Type:       reflect.TypeOf([]attribute.CustomAttribute{}),
		Directives: schema.DirectiveAttributesList,
	}
}

func attrs(list ...*attribute.Data) map[string]*attribute.Data {
	return attribute.Map(list)
}

type modView struct {
	Type   attribute.ModificationType
	Name   string
	Values []any
}

func view(mods []attribute.Modification) []modView {
	result := make([]modView, len(mods))
	for i, m := range mods {
		result[i] = modView{Type: m.Type, Name: m.Name(), Values: m.Target().Values}
	}
	return result
}

func TestCollectModificationsFixed(t *testing.T) {
	tests := []struct {
		name    string
		props   []*schema.Property
		desired map[string]*attribute.Data
		current map[string]*attribute.Data
		opts    Options
		want    []modView
	}{
		{
			name:    "replace changed value",
			props:   []*schema.Property{prop("mail")},
			desired: attrs(attribute.New("mail", "a@x")),
			current: attrs(attribute.New("mail", "b@x")),
			want:    []modView{{attribute.ModificationReplace, "mail", []any{"a@x"}}},
		},
		{
			name:    "remove when desired empty",
			props:   []*schema.Property{prop("mail")},
			desired: attrs(attribute.New("mail", "")),
			current: attrs(attribute.New("mail", "b@x")),
			want:    []modView{{attribute.ModificationRemove, "mail", []any{"b@x"}}},
		},
		{
			name:    "update only replaces with empty",
			props:   []*schema.Property{prop("mail", func(p *schema.Property) { p.UpdateOnly = true })},
			desired: attrs(attribute.New("mail", "")),
			current: attrs(attribute.New("mail", "b@x")),
			want:    []modView{{attribute.ModificationReplace, "mail", []any{""}}},
		},
		{
			name:    "equal values",
			props:   []*schema.Property{prop("mail")},
			desired: attrs(attribute.New("mail", "a@x")),
			current: attrs(attribute.New("mail", "a@x")),
		},
		{
			name:    "multi-valued order is ignored",
			props:   []*schema.Property{prop("mail")},
			desired: attrs(attribute.NewMultiValued("mail", true, "a", "b")),
			current: attrs(attribute.NewMultiValued("mail", true, "b", "a")),
		},
		{
			name:    "ignore update",
			props:   []*schema.Property{prop("mail", func(p *schema.Property) { p.IgnoreDuringUpdate = true })},
			desired: attrs(attribute.New("mail", "a@x")),
			current: attrs(attribute.New("mail", "b@x")),
		},
		{
			name:    "add new",
			props:   []*schema.Property{prop("mail")},
			desired: attrs(attribute.New("mail", "a@x")),
			want:    []modView{{attribute.ModificationAdd, "mail", []any{"a@x"}}},
		},
		{
			name:    "add suppressed for empty",
			props:   []*schema.Property{prop("mail")},
			desired: attrs(attribute.New("mail", "")),
		},
		{
			name:    "force update empty becomes remove",
			props:   []*schema.Property{prop("mail")},
			desired: attrs(attribute.New("mail", "")),
			opts:    Options{ForceUpdate: true},
			want:    []modView{{attribute.ModificationRemove, "mail", []any{""}}},
		},
		{
			name:    "force update new value",
			props:   []*schema.Property{prop("mail")},
			desired: attrs(attribute.New("mail", "a@x")),
			opts:    Options{ForceUpdate: true},
			want:    []modView{{attribute.ModificationForceUpdate, "mail", []any{"a@x"}}},
		},
		{
			name:    "force update placeholder",
			props:   []*schema.Property{prop("mail")},
			opts:    Options{ForceUpdate: true},
			want:    []modView{{attribute.ModificationRemove, "mail", []any{nil}}},
		},
		{
			name:    "remove stored",
			props:   []*schema.Property{prop("mail")},
			current: attrs(attribute.New("mail", "b@x")),
			want:    []modView{{attribute.ModificationRemove, "mail", []any{"b@x"}}},
		},
		{
			name:    "stored kept when ignore read",
			props:   []*schema.Property{prop("mail", func(p *schema.Property) { p.IgnoreDuringRead = true })},
			current: attrs(attribute.New("mail", "b@x")),
		},
		{
			name:    "stored kept when update only",
			props:   []*schema.Property{prop("mail", func(p *schema.Property) { p.UpdateOnly = true })},
			current: attrs(attribute.New("mail", "b@x")),
		},
		{
			name:    "full row empty cell",
			props:   []*schema.Property{prop("mail")},
			current: attrs(attribute.New("mail")),
			opts:    Options{StoreFullEntry: true},
		},
		{
			name:    "schema mode skips null values",
			props:   []*schema.Property{prop("attributeTypes")},
			desired: attrs(attribute.New("attributeTypes", nil)),
			opts:    Options{Mode: ModeSchema, SchemaModification: attribute.ModificationAdd},
		},
		{
			name:    "schema add",
			props:   []*schema.Property{prop("attributeTypes")},
			desired: attrs(attribute.New("attributeTypes", "( 1.2 NAME 'x' )")),
			opts:    Options{Mode: ModeSchema, SchemaModification: attribute.ModificationAdd},
			want:    []modView{{attribute.ModificationAdd, "attributeTypes", []any{"( 1.2 NAME 'x' )"}}},
		},
		{
			name:    "schema remove",
			props:   []*schema.Property{prop("attributeTypes")},
			desired: attrs(attribute.New("attributeTypes", "( 1.2 NAME 'x' )")),
			opts:    Options{Mode: ModeSchema, SchemaModification: attribute.ModificationRemove},
			want:    []modView{{attribute.ModificationRemove, "attributeTypes", []any{"( 1.2 NAME 'x' )"}}},
		},
		{
			name:    "declaration order",
			props:   []*schema.Property{prop("sn"), prop("cn"), prop("uid")},
			desired: attrs(attribute.New("cn", "c"), attribute.New("sn", "s"), attribute.New("uid", "u")),
			want: []modView{
				{attribute.ModificationAdd, "sn", []any{"s"}},
				{attribute.ModificationAdd, "cn", []any{"c"}},
				{attribute.ModificationAdd, "uid", []any{"u"}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mods := CollectModifications(tt.props, nil, tt.desired, tt.current, tt.opts)
			if tt.want == nil {
				assert.Empty(t, mods)
				return
			}
			assert.Equal(t, tt.want, view(mods))
		})
	}
}

func TestCollectModificationsReplaceCarriesOld(t *testing.T) {
	desired := attrs(attribute.New("mail", "a@x"))
	current := attrs(attribute.New("mail", "b@x"))

	mods := CollectModifications([]*schema.Property{prop("mail")}, nil, desired, current, Options{})
	require.Len(t, mods, 1)
	assert.Equal(t, []any{"a@x"}, mods[0].Attribute.Values)
	assert.Equal(t, []any{"b@x"}, mods[0].OldAttribute.Values)

	// inputs untouched
	assert.Len(t, desired, 1)
	assert.Len(t, current, 1)
}

func TestCollectModificationsDynamic(t *testing.T) {
	props := []*schema.Property{prop("uid"), listProp()}

	t.Run("add remove replace sorted by name", func(t *testing.T) {
		desired := attrs(
			attribute.New("uid", "bob"),
			attribute.New("zeta", "z"),
			attribute.New("Alpha", "a2"),
			attribute.New("empty", ""),
		)
		current := attrs(
			attribute.New("uid", "bob"),
			attribute.New("alpha", "a1"),
			attribute.New("gone", "g"),
			attribute.New("empty", "e"),
			attribute.NewStrings(attribute.ObjectClass, "top", "person"),
		)

		mods := CollectModifications(props, nil, desired, current, Options{})
		assert.Equal(t, []modView{
			{attribute.ModificationReplace, "Alpha", []any{"a2"}},
			{attribute.ModificationRemove, "empty", []any{"e"}},
			{attribute.ModificationRemove, "gone", []any{"g"}},
			{attribute.ModificationAdd, "zeta", []any{"z"}},
		}, view(mods))
	})

	t.Run("configured policies", func(t *testing.T) {
		listOpts := map[string]schema.AttributeOptions{
			"kept":    {Name: "kept", IgnoreDuringRead: true},
			"frozen":  {Name: "frozen", IgnoreDuringUpdate: true},
			"partial": {Name: "partial", UpdateOnly: true},
		}
		desired := attrs(
			attribute.New("frozen", "new"),
			attribute.New("partial", ""),
		)
		current := attrs(
			attribute.New("kept", "k"),
			attribute.New("frozen", "old"),
			attribute.New("partial", "p"),
		)

		mods := CollectModifications(props, listOpts, desired, current, Options{})
		assert.Equal(t, []modView{
			{attribute.ModificationReplace, "partial", []any{""}},
		}, view(mods))
	})

	t.Run("full row suppression", func(t *testing.T) {
		desired := attrs(attribute.New("note"))
		current := attrs(attribute.New("note"), attribute.New("other", ""))

		mods := CollectModifications(props, nil, desired, current, Options{StoreFullEntry: true})
		assert.Equal(t, []modView{
			{attribute.ModificationRemove, "other", []any{""}},
		}, view(mods))
	})

	t.Run("schema remove of dynamic", func(t *testing.T) {
		desired := attrs(attribute.New("objectClasses", "( 1.3 NAME 'y' )"))
		mods := CollectModifications(props, nil, desired, nil, Options{
			Mode:               ModeSchema,
			SchemaModification: attribute.ModificationRemove,
		})
		assert.Equal(t, []modView{
			{attribute.ModificationRemove, "objectClasses", []any{"( 1.3 NAME 'y' )"}},
		}, view(mods))
	})

	t.Run("fixed before dynamic", func(t *testing.T) {
		desired := attrs(attribute.New("uid", "alice"), attribute.New("aaa", "1"))
		current := attrs(attribute.New("uid", "bob"))

		mods := CollectModifications(props, nil, desired, current, Options{})
		assert.Equal(t, []modView{
			{attribute.ModificationReplace, "uid", []any{"alice"}},
			{attribute.ModificationAdd, "aaa", []any{"1"}},
		}, view(mods))
	})

	t.Run("without list property extra attributes are ignored", func(t *testing.T) {
		desired := attrs(attribute.New("uid", "bob"), attribute.New("extra", "x"))
		current := attrs(attribute.New("uid", "bob"), attribute.New("stale", "s"))

		mods := CollectModifications([]*schema.Property{prop("uid")}, nil, desired, current, Options{})
		assert.Empty(t, mods)
	})
}

func TestCollectModificationsIdempotent(t *testing.T) {
	props := []*schema.Property{prop("uid"), prop("mail"), listProp()}
	state := attrs(
		attribute.New("uid", "bob"),
		attribute.NewMultiValued("mail", true, "a@x", "b@x"),
		attribute.New("phone", "123"),
		attribute.New("age", int64(40)),
	)
	stored := attrs(
		attribute.New("uid", "bob"),
		attribute.NewMultiValued("mail", true, "b@x", "a@x"),
		attribute.New("phone", "123"),
		attribute.New("age", "40"),
	)

	assert.Empty(t, CollectModifications(props, nil, state, stored, Options{}))
	assert.Empty(t, CollectModifications(props, nil, state, state, Options{StoreFullEntry: true}))
}
