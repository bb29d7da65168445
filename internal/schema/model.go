package schema

// Model is one named entity type with its fields, relations, constraints,
// and pipeline bindings. Models are immutable once the registry is built;
// all fields are unexported and reachable only through accessors.
type Model struct {
	name          string
	storageKey    string
	fields        []Field
	fieldIndex    map[string]int
	relations     []Relation
	relationIndex map[string]int
	primaryKey    string
	constraints   []Constraint
	pipelines     map[Event][]StepDef
}

// Name returns the model name
func (m *Model) Name() string {
	return m.name
}

// StorageKey returns the table or collection name backing this model
func (m *Model) StorageKey() string {
	return m.storageKey
}

// Fields returns the ordered field list
func (m *Model) Fields() []Field {
	out := make([]Field, len(m.fields))
	copy(out, m.fields)
	return out
}

// Field looks up one field by name
func (m *Model) Field(name string) (Field, bool) {
	idx, ok := m.fieldIndex[name]
	if !ok {
		return Field{}, false
	}
	return m.fields[idx], true
}

// Relations returns the ordered relation list
func (m *Model) Relations() []Relation {
	out := make([]Relation, len(m.relations))
	copy(out, m.relations)
	return out
}

// Relation looks up one relation by name
func (m *Model) Relation(name string) (Relation, bool) {
	idx, ok := m.relationIndex[name]
	if !ok {
		return Relation{}, false
	}
	return m.relations[idx], true
}

// PrimaryKey returns the primary key field
func (m *Model) PrimaryKey() Field {
	f, _ := m.Field(m.primaryKey)
	return f
}

// Constraints returns the constraints derived from fields plus any
// composite constraints declared on the model
func (m *Model) Constraints() []Constraint {
	out := make([]Constraint, len(m.constraints))
	copy(out, m.constraints)
	return out
}

// Pipeline returns the ordered step definitions bound to one event
func (m *Model) Pipeline(event Event) []StepDef {
	steps := m.pipelines[event]
	out := make([]StepDef, len(steps))
	copy(out, steps)
	return out
}

// HasPipeline reports whether any steps are bound to the event
func (m *Model) HasPipeline(event Event) bool {
	return len(m.pipelines[event]) > 0
}
