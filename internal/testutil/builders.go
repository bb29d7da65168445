// Package testutil provides schema builders, canonical fixtures and an
// error-injecting connector for package tests.
package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"data-engine/internal/schema"
)

// SchemaBuilder assembles a schema description from model builders
type SchemaBuilder struct {
	desc *schema.Description
}

// NewSchemaBuilder creates an empty schema builder
func NewSchemaBuilder() *SchemaBuilder {
	return &SchemaBuilder{desc: &schema.Description{}}
}

// WithModel appends a model
func (b *SchemaBuilder) WithModel(m *ModelBuilder) *SchemaBuilder {
	b.desc.Models = append(b.desc.Models, m.Build())
	return b
}

// Description returns the assembled description
func (b *SchemaBuilder) Description() *schema.Description {
	return b.desc
}

// Registry compiles the description, failing the test on any schema error
func (b *SchemaBuilder) Registry(t testing.TB) *schema.Registry {
	t.Helper()
	reg, err := schema.NewRegistry(b.desc)
	require.NoError(t, err)
	return reg
}

// ModelBuilder assembles one model description
type ModelBuilder struct {
	model schema.ModelDescription
}

// NewModelBuilder creates a model builder with no fields
func NewModelBuilder(name string) *ModelBuilder {
	return &ModelBuilder{model: schema.ModelDescription{Name: name}}
}

func (b *ModelBuilder) WithStorageKey(key string) *ModelBuilder {
	b.model.StorageKey = key
	return b
}

// WithIDField adds a string primary key named id
func (b *ModelBuilder) WithIDField() *ModelBuilder {
	b.model.Fields = append(b.model.Fields, schema.FieldDescription{
		Name: "id", Type: "string", PrimaryKey: true,
	})
	return b
}

// WithGeneratedID adds a cuid-defaulted string primary key named id
func (b *ModelBuilder) WithGeneratedID() *ModelBuilder {
	b.model.Fields = append(b.model.Fields, schema.FieldDescription{
		Name: "id", Type: "string", PrimaryKey: true,
		Default: &schema.DefaultDescription{Kind: "cuid"},
	})
	return b
}

func (b *ModelBuilder) WithField(name, fieldType string) *ModelBuilder {
	b.model.Fields = append(b.model.Fields, schema.FieldDescription{Name: name, Type: fieldType})
	return b
}

func (b *ModelBuilder) WithNullableField(name, fieldType string) *ModelBuilder {
	b.model.Fields = append(b.model.Fields, schema.FieldDescription{Name: name, Type: fieldType, Nullable: true})
	return b
}

func (b *ModelBuilder) WithUniqueField(name, fieldType string) *ModelBuilder {
	b.model.Fields = append(b.model.Fields, schema.FieldDescription{Name: name, Type: fieldType, Unique: true})
	return b
}

func (b *ModelBuilder) WithRequiredField(name, fieldType string) *ModelBuilder {
	b.model.Fields = append(b.model.Fields, schema.FieldDescription{Name: name, Type: fieldType, Required: true})
	return b
}

func (b *ModelBuilder) WithFieldDefault(name, fieldType, kind string, value interface{}) *ModelBuilder {
	b.model.Fields = append(b.model.Fields, schema.FieldDescription{
		Name: name, Type: fieldType,
		Default: &schema.DefaultDescription{Kind: kind, Value: value},
	})
	return b
}

func (b *ModelBuilder) WithRelation(name, target, cardinality, foreignKey string) *ModelBuilder {
	b.model.Relations = append(b.model.Relations, schema.RelationDescription{
		Name: name, Target: target, Cardinality: cardinality, ForeignKey: foreignKey,
	})
	return b
}

func (b *ModelBuilder) WithCompositeUnique(fields ...string) *ModelBuilder {
	b.model.CompositeUnique = append(b.model.CompositeUnique, fields)
	return b
}

func (b *ModelBuilder) WithPipeline(event string, steps ...schema.StepDescription) *ModelBuilder {
	b.model.Pipelines = append(b.model.Pipelines, schema.PipelineBinding{Event: event, Steps: steps})
	return b
}

// Build returns the assembled model description
func (b *ModelBuilder) Build() schema.ModelDescription {
	return b.model
}

// Step creates a step description for pipeline bindings
func Step(name, kind string, config map[string]interface{}) schema.StepDescription {
	return schema.StepDescription{Name: name, Kind: kind, Config: config}
}
