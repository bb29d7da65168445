package schema

// Description is the root of the schema description document produced by the
// external schema compiler. The engine consumes it as JSON; see Load.
type Description struct {
	Models []ModelDescription `json:"models" validate:"required,min=1,dive"`
}

// ModelDescription declares one model
type ModelDescription struct {
	Name            string                `json:"name" validate:"required"`
	StorageKey      string                `json:"storageKey,omitempty"`
	Fields          []FieldDescription    `json:"fields" validate:"required,min=1,dive"`
	Relations       []RelationDescription `json:"relations,omitempty" validate:"dive"`
	CompositeUnique [][]string            `json:"compositeUnique,omitempty"`
	Pipelines       []PipelineBinding     `json:"pipelines,omitempty" validate:"dive"`
}

// FieldDescription declares one scalar field
type FieldDescription struct {
	Name       string              `json:"name" validate:"required"`
	Type       string              `json:"type" validate:"required,oneof=string int float bool datetime bytes json"`
	Nullable   bool                `json:"nullable,omitempty"`
	PrimaryKey bool                `json:"primaryKey,omitempty"`
	Unique     bool                `json:"unique,omitempty"`
	Required   bool                `json:"required,omitempty"`
	Default    *DefaultDescription `json:"default,omitempty"`
}

// DefaultDescription declares a field default policy
type DefaultDescription struct {
	Kind  string      `json:"kind" validate:"required,oneof=literal cuid uuid now"`
	Value interface{} `json:"value,omitempty"`
}

// RelationDescription declares one relation
type RelationDescription struct {
	Name        string `json:"name" validate:"required"`
	Target      string `json:"target" validate:"required"`
	Cardinality string `json:"cardinality" validate:"required,oneof=one many"`
	ForeignKey  string `json:"foreignKey" validate:"required"`
	References  string `json:"references,omitempty"`
}

// PipelineBinding declares the ordered steps bound to one lifecycle event
type PipelineBinding struct {
	Event string            `json:"event" validate:"required"`
	Steps []StepDescription `json:"steps" validate:"required,min=1,dive"`
}

// StepDescription declares one pipeline step
type StepDescription struct {
	Name     string                 `json:"name" validate:"required"`
	Kind     string                 `json:"kind" validate:"required"`
	Config   map[string]interface{} `json:"config,omitempty"`
	OnError  string                 `json:"onError,omitempty" validate:"omitempty,oneof=stop continue"`
	Isolated bool                   `json:"isolated,omitempty"`
}
