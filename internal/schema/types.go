// Package schema holds the immutable model metadata the engine executes
// against: models, fields, relations, constraints, and pipeline bindings.
// A Registry is built once at startup from a validated schema description
// and is read-only afterwards.
package schema

import "time"

// FieldType is the scalar type of a model field
type FieldType string

const (
	FieldTypeString   FieldType = "string"
	FieldTypeInt      FieldType = "int"
	FieldTypeFloat    FieldType = "float"
	FieldTypeBool     FieldType = "bool"
	FieldTypeDateTime FieldType = "datetime"
	FieldTypeBytes    FieldType = "bytes"
	FieldTypeJSON     FieldType = "json"
)

// Textual reports whether substring operators apply to this type
func (t FieldType) Textual() bool {
	return t == FieldTypeString
}

// Orderable reports whether sort and range operators apply to this type
func (t FieldType) Orderable() bool {
	switch t {
	case FieldTypeString, FieldTypeInt, FieldTypeFloat, FieldTypeDateTime:
		return true
	default:
		return false
	}
}

// Accepts reports whether a runtime value is assignable to this type.
// Numeric types accept the common widths decoded from JSON and drivers.
func (t FieldType) Accepts(v interface{}) bool {
	if v == nil {
		return false
	}
	switch t {
	case FieldTypeString:
		_, ok := v.(string)
		return ok
	case FieldTypeInt:
		switch v.(type) {
		case int, int32, int64:
			return true
		case float64:
			f := v.(float64)
			return f == float64(int64(f))
		default:
			return false
		}
	case FieldTypeFloat:
		switch v.(type) {
		case float32, float64, int, int64:
			return true
		default:
			return false
		}
	case FieldTypeBool:
		_, ok := v.(bool)
		return ok
	case FieldTypeDateTime:
		switch v.(type) {
		case time.Time:
			return true
		case string:
			_, err := time.Parse(time.RFC3339, v.(string))
			return err == nil
		default:
			return false
		}
	case FieldTypeBytes:
		_, ok := v.([]byte)
		return ok
	case FieldTypeJSON:
		return true
	default:
		return false
	}
}

// Normalize converts an accepted runtime value to the canonical in-memory
// representation for this type: int64 for int, float64 for float, time.Time
// for datetime. Returns false when the value is not assignable.
func (t FieldType) Normalize(v interface{}) (interface{}, bool) {
	if !t.Accepts(v) {
		return nil, false
	}
	switch t {
	case FieldTypeInt:
		switch n := v.(type) {
		case int:
			return int64(n), true
		case int32:
			return int64(n), true
		case int64:
			return n, true
		case float64:
			return int64(n), true
		}
	case FieldTypeFloat:
		switch n := v.(type) {
		case float32:
			return float64(n), true
		case float64:
			return n, true
		case int:
			return float64(n), true
		case int64:
			return float64(n), true
		}
	case FieldTypeDateTime:
		switch d := v.(type) {
		case time.Time:
			return d, true
		case string:
			parsed, err := time.Parse(time.RFC3339, d)
			if err != nil {
				return nil, false
			}
			return parsed, true
		}
	}
	return v, true
}

// DefaultKind selects how a field default is produced
type DefaultKind string

const (
	DefaultLiteral DefaultKind = "literal"
	DefaultCUID    DefaultKind = "cuid"
	DefaultUUID    DefaultKind = "uuid"
	DefaultNow     DefaultKind = "now"
)

// Default is a field's default-value policy
type Default struct {
	Kind  DefaultKind
	Value interface{}
}

// Field is one scalar column of a model
type Field struct {
	Name       string
	Type       FieldType
	Nullable   bool
	PrimaryKey bool
	Unique     bool
	Required   bool
	Default    *Default
}

// Cardinality is the arity of a relation
type Cardinality string

const (
	CardinalityOne  Cardinality = "one"
	CardinalityMany Cardinality = "many"
)

// Relation links a model to a target model BY NAME; the target is resolved
// lazily through the registry so models may reference each other without
// cyclic structural references.
//
// For CardinalityOne the foreign key lives on this model and references a
// field on the target. For CardinalityMany the foreign key lives on the
// target model and references a field on this model.
type Relation struct {
	Name        string
	Target      string
	Cardinality Cardinality
	ForeignKey  string
	References  string
}

// ConstraintKind classifies a model constraint
type ConstraintKind string

const (
	ConstraintUnique   ConstraintKind = "unique"
	ConstraintRequired ConstraintKind = "required"
	ConstraintDefault  ConstraintKind = "default"
)

// Constraint is one validation rule over one or more fields
type Constraint struct {
	Kind   ConstraintKind
	Fields []string
}

// Event is a named point in a model's lifecycle at which pipeline steps run
type Event string

const (
	EventBeforeValidate Event = "before-validate"
	EventValidate       Event = "validate"
	EventBeforeSave     Event = "before-save"
	EventAfterSave      Event = "after-save"
	EventBeforeDelete   Event = "before-delete"
	EventAfterDelete    Event = "after-delete"
	EventBeforeResponse Event = "before-response"
)

// Events lists all lifecycle events in firing order around a write
var Events = []Event{
	EventBeforeValidate,
	EventValidate,
	EventBeforeSave,
	EventAfterSave,
	EventBeforeDelete,
	EventAfterDelete,
	EventBeforeResponse,
}

// ValidEvent reports whether e names a known lifecycle event
func ValidEvent(e Event) bool {
	for _, known := range Events {
		if e == known {
			return true
		}
	}
	return false
}

// OnError selects how the executor treats a failing step
const (
	OnErrorStop     = "stop"
	OnErrorContinue = "continue"
)

// StepDef is one pipeline step binding from the schema description.
// Kind names a registered step factory; Config is its typed configuration.
type StepDef struct {
	Name     string
	Kind     string
	Config   map[string]interface{}
	OnError  string
	Isolated bool
}
