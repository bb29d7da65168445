package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"data-engine/internal/common/errors"
)

func userPostDescription() *Description {
	return &Description{
		Models: []ModelDescription{
			{
				Name: "User",
				Fields: []FieldDescription{
					{Name: "id", Type: "string", PrimaryKey: true, Default: &DefaultDescription{Kind: "cuid"}},
					{Name: "email", Type: "string", Unique: true, Required: true},
					{Name: "name", Type: "string", Nullable: true},
					{Name: "age", Type: "int", Nullable: true},
					{Name: "createdAt", Type: "datetime", Default: &DefaultDescription{Kind: "now"}},
				},
				Relations: []RelationDescription{
					{Name: "posts", Target: "Post", Cardinality: "many", ForeignKey: "authorId"},
				},
			},
			{
				Name:       "Post",
				StorageKey: "posts",
				Fields: []FieldDescription{
					{Name: "id", Type: "string", PrimaryKey: true, Default: &DefaultDescription{Kind: "uuid"}},
					{Name: "title", Type: "string", Required: true},
					{Name: "authorId", Type: "string"},
					{Name: "slug", Type: "string"},
					{Name: "locale", Type: "string", Default: &DefaultDescription{Kind: "literal", Value: "en"}},
				},
				Relations: []RelationDescription{
					{Name: "author", Target: "User", Cardinality: "one", ForeignKey: "authorId"},
				},
				CompositeUnique: [][]string{{"slug", "locale"}},
				Pipelines: []PipelineBinding{
					{Event: "before-save", Steps: []StepDescription{
						{Name: "slugify", Kind: "transform"},
						{Name: "audit", Kind: "notify", OnError: "continue"},
					}},
				},
			},
		},
	}
}

func TestNewRegistry_Valid(t *testing.T) {
	reg, err := NewRegistry(userPostDescription())
	require.NoError(t, err)
	require.NotNil(t, reg)

	assert.Equal(t, []string{"User", "Post"}, reg.Models())

	user, err := reg.Resolve("User")
	require.NoError(t, err)
	assert.Equal(t, "User", user.Name())
	assert.Equal(t, "user", user.StorageKey())
	assert.Equal(t, "id", user.PrimaryKey().Name)

	post, err := reg.Resolve("Post")
	require.NoError(t, err)
	assert.Equal(t, "posts", post.StorageKey())

	email, ok := user.Field("email")
	require.True(t, ok)
	assert.True(t, email.Unique)
	assert.True(t, email.Required)

	_, ok = user.Field("missing")
	assert.False(t, ok)
}

func TestNewRegistry_ResolvesRelationReferences(t *testing.T) {
	reg, err := NewRegistry(userPostDescription())
	require.NoError(t, err)

	user, _ := reg.Resolve("User")
	posts, ok := user.Relation("posts")
	require.True(t, ok)
	assert.Equal(t, CardinalityMany, posts.Cardinality)
	assert.Equal(t, "authorId", posts.ForeignKey)
	assert.Equal(t, "id", posts.References)

	post, _ := reg.Resolve("Post")
	author, ok := post.Relation("author")
	require.True(t, ok)
	assert.Equal(t, CardinalityOne, author.Cardinality)
	assert.Equal(t, "id", author.References)
}

func TestNewRegistry_DerivesConstraints(t *testing.T) {
	reg, err := NewRegistry(userPostDescription())
	require.NoError(t, err)

	post, _ := reg.Resolve("Post")
	constraints := post.Constraints()

	var uniqueSets [][]string
	for _, c := range constraints {
		if c.Kind == ConstraintUnique {
			uniqueSets = append(uniqueSets, c.Fields)
		}
	}
	assert.Contains(t, uniqueSets, []string{"id"})
	assert.Contains(t, uniqueSets, []string{"slug", "locale"})
}

func TestNewRegistry_Pipelines(t *testing.T) {
	reg, err := NewRegistry(userPostDescription())
	require.NoError(t, err)

	post, _ := reg.Resolve("Post")
	assert.True(t, post.HasPipeline(EventBeforeSave))
	assert.False(t, post.HasPipeline(EventAfterSave))

	steps := post.Pipeline(EventBeforeSave)
	require.Len(t, steps, 2)
	assert.Equal(t, "slugify", steps[0].Name)
	assert.Equal(t, OnErrorStop, steps[0].OnError)
	assert.Equal(t, OnErrorContinue, steps[1].OnError)
}

func TestNewRegistry_Failures(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Description)
		errorMsg string
	}{
		{
			name: "duplicate model",
			mutate: func(d *Description) {
				d.Models = append(d.Models, d.Models[0])
			},
			errorMsg: `duplicate model "User"`,
		},
		{
			name: "duplicate field",
			mutate: func(d *Description) {
				d.Models[0].Fields = append(d.Models[0].Fields, FieldDescription{Name: "email", Type: "string"})
			},
			errorMsg: `declares field "email" twice`,
		},
		{
			name: "no primary key",
			mutate: func(d *Description) {
				d.Models[0].Fields[0].PrimaryKey = false
			},
			errorMsg: "has no primary key",
		},
		{
			name: "two primary keys",
			mutate: func(d *Description) {
				d.Models[0].Fields[1].PrimaryKey = true
			},
			errorMsg: "more than one primary key",
		},
		{
			name: "nullable primary key",
			mutate: func(d *Description) {
				d.Models[0].Fields[0].Nullable = true
			},
			errorMsg: "must not be nullable",
		},
		{
			name: "float primary key",
			mutate: func(d *Description) {
				d.Models[0].Fields[0].Type = "float"
				d.Models[0].Fields[0].Default = nil
			},
			errorMsg: "must be string or int",
		},
		{
			name: "relation targets unknown model",
			mutate: func(d *Description) {
				d.Models[1].Relations[0].Target = "Ghost"
			},
			errorMsg: `targets unknown model "Ghost"`,
		},
		{
			name: "one relation foreign key missing on self",
			mutate: func(d *Description) {
				d.Models[1].Relations[0].ForeignKey = "ownerId"
			},
			errorMsg: `foreign key "ownerId" is not a field of "Post"`,
		},
		{
			name: "many relation foreign key missing on target",
			mutate: func(d *Description) {
				d.Models[0].Relations[0].ForeignKey = "ownerId"
			},
			errorMsg: `foreign key "ownerId" is not a field of "Post"`,
		},
		{
			name: "relation references unknown field",
			mutate: func(d *Description) {
				d.Models[1].Relations[0].References = "handle"
			},
			errorMsg: `references unknown field "handle"`,
		},
		{
			name: "relation name collides with field",
			mutate: func(d *Description) {
				d.Models[1].Relations[0].Name = "title"
			},
			errorMsg: "collides with a field name",
		},
		{
			name: "composite unique unknown field",
			mutate: func(d *Description) {
				d.Models[1].CompositeUnique = [][]string{{"slug", "region"}}
			},
			errorMsg: `composite unique references unknown field "region"`,
		},
		{
			name: "composite unique single field",
			mutate: func(d *Description) {
				d.Models[1].CompositeUnique = [][]string{{"slug"}}
			},
			errorMsg: "at least two fields",
		},
		{
			name: "unknown pipeline event",
			mutate: func(d *Description) {
				d.Models[1].Pipelines[0].Event = "on-save"
			},
			errorMsg: `unknown event "on-save"`,
		},
		{
			name: "validate event is reserved",
			mutate: func(d *Description) {
				d.Models[1].Pipelines[0].Event = "validate"
			},
			errorMsg: "reserved for built-in constraint validation",
		},
		{
			name: "event bound twice",
			mutate: func(d *Description) {
				d.Models[1].Pipelines = append(d.Models[1].Pipelines, d.Models[1].Pipelines[0])
			},
			errorMsg: `binds event "before-save" twice`,
		},
		{
			name: "step declared twice",
			mutate: func(d *Description) {
				steps := d.Models[1].Pipelines[0].Steps
				d.Models[1].Pipelines[0].Steps = append(steps, steps[0])
			},
			errorMsg: `declares step "slugify" twice`,
		},
		{
			name: "literal default without value",
			mutate: func(d *Description) {
				d.Models[1].Fields[4].Default = &DefaultDescription{Kind: "literal"}
			},
			errorMsg: "literal default has no value",
		},
		{
			name: "literal default type mismatch",
			mutate: func(d *Description) {
				d.Models[1].Fields[4].Default = &DefaultDescription{Kind: "literal", Value: 42}
			},
			errorMsg: "default does not match type string",
		},
		{
			name: "cuid default on int field",
			mutate: func(d *Description) {
				d.Models[0].Fields[3].Default = &DefaultDescription{Kind: "cuid"}
			},
			errorMsg: "cuid defaults require a string field",
		},
		{
			name: "now default on string field",
			mutate: func(d *Description) {
				d.Models[0].Fields[2].Default = &DefaultDescription{Kind: "now"}
			},
			errorMsg: "now defaults require a datetime field",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc := userPostDescription()
			tt.mutate(desc)

			reg, err := NewRegistry(desc)
			require.Error(t, err)
			assert.Nil(t, reg)
			assert.Contains(t, err.Error(), tt.errorMsg)
			assert.True(t, errors.IsType(err, errors.ErrTypeConfiguration))
		})
	}
}

func TestNewRegistry_StorageKeyConflict(t *testing.T) {
	desc := &Description{
		Models: []ModelDescription{
			{
				Name:       "Account",
				StorageKey: "accounts",
				Fields: []FieldDescription{
					{Name: "id", Type: "string", PrimaryKey: true},
					{Name: "email", Type: "string", Unique: true},
				},
			},
			{
				Name:       "LegacyAccount",
				StorageKey: "accounts",
				Fields: []FieldDescription{
					{Name: "id", Type: "string", PrimaryKey: true},
					{Name: "email", Type: "string"},
				},
			},
		},
	}

	reg, err := NewRegistry(desc)
	require.Error(t, err)
	assert.Nil(t, reg)
	assert.Contains(t, err.Error(), `conflicting constraints on storage key "accounts"`)

	// identical constraint sets on a shared key are allowed
	desc.Models[1].Fields[1].Unique = true
	reg, err = NewRegistry(desc)
	require.NoError(t, err)
	assert.NotNil(t, reg)
}

func TestNewRegistry_MalformedDescription(t *testing.T) {
	tests := []struct {
		name string
		desc *Description
	}{
		{name: "nil description", desc: nil},
		{name: "no models", desc: &Description{}},
		{
			name: "field without type",
			desc: &Description{Models: []ModelDescription{{
				Name:   "User",
				Fields: []FieldDescription{{Name: "id", PrimaryKey: true}},
			}}},
		},
		{
			name: "unknown field type",
			desc: &Description{Models: []ModelDescription{{
				Name:   "User",
				Fields: []FieldDescription{{Name: "id", Type: "decimal", PrimaryKey: true}},
			}}},
		},
		{
			name: "unknown default kind",
			desc: &Description{Models: []ModelDescription{{
				Name: "User",
				Fields: []FieldDescription{{
					Name: "id", Type: "string", PrimaryKey: true,
					Default: &DefaultDescription{Kind: "sequence"},
				}},
			}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, err := NewRegistry(tt.desc)
			require.Error(t, err)
			assert.Nil(t, reg)
			assert.True(t, errors.IsType(err, errors.ErrTypeConfiguration))
		})
	}
}

func TestRegistry_ResolveNotFound(t *testing.T) {
	reg, err := NewRegistry(userPostDescription())
	require.NoError(t, err)

	model, err := reg.Resolve("Comment")
	require.Error(t, err)
	assert.Nil(t, model)
	assert.True(t, errors.IsNotFound(err))
	assert.Contains(t, err.Error(), `model "Comment" not found`)
}

func TestModel_AccessorsReturnCopies(t *testing.T) {
	reg, err := NewRegistry(userPostDescription())
	require.NoError(t, err)

	user, _ := reg.Resolve("User")

	fields := user.Fields()
	fields[0].Name = "mutated"
	again := user.Fields()
	assert.Equal(t, "id", again[0].Name)

	steps := mustModel(t, reg, "Post").Pipeline(EventBeforeSave)
	steps[0].Name = "mutated"
	assert.Equal(t, "slugify", mustModel(t, reg, "Post").Pipeline(EventBeforeSave)[0].Name)
}

func mustModel(t *testing.T, reg *Registry, name string) *Model {
	t.Helper()
	model, err := reg.Resolve(name)
	require.NoError(t, err)
	return model
}
