package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"data-engine/internal/common/errors"
)

var descValidate = validator.New()

// Registry is the process-wide, read-only lookup structure mapping model
// names to their metadata. Building it fails fast on any inconsistency;
// after construction there is no mutation API.
type Registry struct {
	models map[string]*Model
	order  []string
}

// NewRegistry builds a registry from a schema description. Every returned
// error is a ConfigurationError: the process must not start with a schema
// the engine cannot fully resolve.
func NewRegistry(desc *Description) (*Registry, error) {
	if desc == nil {
		return nil, errors.ConfigurationError("schema description is nil")
	}
	if err := descValidate.Struct(desc); err != nil {
		return nil, errors.ConfigurationError("malformed schema description").WithContext("detail", err.Error())
	}

	reg := &Registry{
		models: make(map[string]*Model, len(desc.Models)),
		order:  make([]string, 0, len(desc.Models)),
	}

	for i := range desc.Models {
		model, err := buildModel(&desc.Models[i])
		if err != nil {
			return nil, err
		}
		if _, exists := reg.models[model.name]; exists {
			return nil, errors.ConfigurationErrorf("duplicate model %q", model.name)
		}
		reg.models[model.name] = model
		reg.order = append(reg.order, model.name)
	}

	if err := reg.resolveRelations(); err != nil {
		return nil, err
	}
	if err := reg.checkStorageKeys(); err != nil {
		return nil, err
	}

	return reg, nil
}

// Resolve looks up a model by name
func (r *Registry) Resolve(name string) (*Model, error) {
	model, ok := r.models[name]
	if !ok {
		return nil, errors.NotFoundError(fmt.Sprintf("model %q", name))
	}
	return model, nil
}

// Models returns all model names in declaration order
func (r *Registry) Models() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

func buildModel(md *ModelDescription) (*Model, error) {
	model := &Model{
		name:          md.Name,
		storageKey:    md.StorageKey,
		fields:        make([]Field, 0, len(md.Fields)),
		fieldIndex:    make(map[string]int, len(md.Fields)),
		relations:     make([]Relation, 0, len(md.Relations)),
		relationIndex: make(map[string]int, len(md.Relations)),
		pipelines:     make(map[Event][]StepDef),
	}
	if model.storageKey == "" {
		model.storageKey = strings.ToLower(md.Name)
	}

	for _, fd := range md.Fields {
		if _, dup := model.fieldIndex[fd.Name]; dup {
			return nil, errors.ConfigurationErrorf("model %q declares field %q twice", md.Name, fd.Name)
		}

		field := Field{
			Name:       fd.Name,
			Type:       FieldType(fd.Type),
			Nullable:   fd.Nullable,
			PrimaryKey: fd.PrimaryKey,
			Unique:     fd.Unique,
			Required:   fd.Required,
		}
		if fd.Default != nil {
			def, err := buildDefault(md.Name, fd)
			if err != nil {
				return nil, err
			}
			field.Default = def
		}

		if field.PrimaryKey {
			if model.primaryKey != "" {
				return nil, errors.ConfigurationErrorf("model %q declares more than one primary key", md.Name)
			}
			if field.Nullable {
				return nil, errors.ConfigurationErrorf("model %q primary key %q must not be nullable", md.Name, field.Name)
			}
			if field.Type != FieldTypeString && field.Type != FieldTypeInt {
				return nil, errors.ConfigurationErrorf("model %q primary key %q must be string or int", md.Name, field.Name)
			}
			model.primaryKey = field.Name
		}

		model.fieldIndex[field.Name] = len(model.fields)
		model.fields = append(model.fields, field)
	}

	if model.primaryKey == "" {
		return nil, errors.ConfigurationErrorf("model %q has no primary key", md.Name)
	}

	for _, rd := range md.Relations {
		if _, clash := model.fieldIndex[rd.Name]; clash {
			return nil, errors.ConfigurationErrorf("model %q relation %q collides with a field name", md.Name, rd.Name)
		}
		if _, dup := model.relationIndex[rd.Name]; dup {
			return nil, errors.ConfigurationErrorf("model %q declares relation %q twice", md.Name, rd.Name)
		}
		model.relationIndex[rd.Name] = len(model.relations)
		model.relations = append(model.relations, Relation{
			Name:        rd.Name,
			Target:      rd.Target,
			Cardinality: Cardinality(rd.Cardinality),
			ForeignKey:  rd.ForeignKey,
			References:  rd.References,
		})
	}

	for _, group := range md.CompositeUnique {
		if len(group) < 2 {
			return nil, errors.ConfigurationErrorf("model %q composite unique needs at least two fields", md.Name)
		}
		for _, name := range group {
			if _, ok := model.fieldIndex[name]; !ok {
				return nil, errors.ConfigurationErrorf("model %q composite unique references unknown field %q", md.Name, name)
			}
		}
	}

	model.constraints = deriveConstraints(model, md.CompositeUnique)

	seenEvents := make(map[Event]bool)
	for _, binding := range md.Pipelines {
		event := Event(binding.Event)
		if !ValidEvent(event) {
			return nil, errors.ConfigurationErrorf("model %q binds steps to unknown event %q", md.Name, binding.Event)
		}
		if event == EventValidate {
			return nil, errors.ConfigurationErrorf("model %q: event %q is reserved for built-in constraint validation", md.Name, EventValidate)
		}
		if seenEvents[event] {
			return nil, errors.ConfigurationErrorf("model %q binds event %q twice", md.Name, binding.Event)
		}
		seenEvents[event] = true

		seenSteps := make(map[string]bool)
		steps := make([]StepDef, 0, len(binding.Steps))
		for _, sd := range binding.Steps {
			if seenSteps[sd.Name] {
				return nil, errors.ConfigurationErrorf("model %q event %q declares step %q twice", md.Name, binding.Event, sd.Name)
			}
			seenSteps[sd.Name] = true

			onError := sd.OnError
			if onError == "" {
				onError = OnErrorStop
			}
			steps = append(steps, StepDef{
				Name:     sd.Name,
				Kind:     sd.Kind,
				Config:   sd.Config,
				OnError:  onError,
				Isolated: sd.Isolated,
			})
		}
		model.pipelines[event] = steps
	}

	return model, nil
}

func buildDefault(modelName string, fd FieldDescription) (*Default, error) {
	kind := DefaultKind(fd.Default.Kind)
	fieldType := FieldType(fd.Type)

	switch kind {
	case DefaultLiteral:
		if fd.Default.Value == nil {
			return nil, errors.ConfigurationErrorf("model %q field %q literal default has no value", modelName, fd.Name)
		}
		if !fieldType.Accepts(fd.Default.Value) {
			return nil, errors.ConfigurationErrorf("model %q field %q default does not match type %s", modelName, fd.Name, fd.Type)
		}
	case DefaultCUID, DefaultUUID:
		if fieldType != FieldTypeString {
			return nil, errors.ConfigurationErrorf("model %q field %q: %s defaults require a string field", modelName, fd.Name, kind)
		}
	case DefaultNow:
		if fieldType != FieldTypeDateTime {
			return nil, errors.ConfigurationErrorf("model %q field %q: now defaults require a datetime field", modelName, fd.Name)
		}
	}

	return &Default{Kind: kind, Value: fd.Default.Value}, nil
}

func deriveConstraints(model *Model, compositeUnique [][]string) []Constraint {
	var out []Constraint
	for _, f := range model.fields {
		if f.Unique || f.PrimaryKey {
			out = append(out, Constraint{Kind: ConstraintUnique, Fields: []string{f.Name}})
		}
		if f.Required {
			out = append(out, Constraint{Kind: ConstraintRequired, Fields: []string{f.Name}})
		}
		if f.Default != nil {
			out = append(out, Constraint{Kind: ConstraintDefault, Fields: []string{f.Name}})
		}
	}
	for _, group := range compositeUnique {
		fields := make([]string, len(group))
		copy(fields, group)
		out = append(out, Constraint{Kind: ConstraintUnique, Fields: fields})
	}
	return out
}

// resolveRelations runs after all models exist so targets can point both ways
func (r *Registry) resolveRelations() error {
	for _, name := range r.order {
		model := r.models[name]
		for i, rel := range model.relations {
			target, ok := r.models[rel.Target]
			if !ok {
				return errors.ConfigurationErrorf("model %q relation %q targets unknown model %q", name, rel.Name, rel.Target)
			}

			switch rel.Cardinality {
			case CardinalityOne:
				if _, ok := model.fieldIndex[rel.ForeignKey]; !ok {
					return errors.ConfigurationErrorf("model %q relation %q: foreign key %q is not a field of %q", name, rel.Name, rel.ForeignKey, name)
				}
				if rel.References == "" {
					model.relations[i].References = target.primaryKey
				} else if _, ok := target.fieldIndex[rel.References]; !ok {
					return errors.ConfigurationErrorf("model %q relation %q references unknown field %q on %q", name, rel.Name, rel.References, rel.Target)
				}
			case CardinalityMany:
				if _, ok := target.fieldIndex[rel.ForeignKey]; !ok {
					return errors.ConfigurationErrorf("model %q relation %q: foreign key %q is not a field of %q", name, rel.Name, rel.ForeignKey, rel.Target)
				}
				if rel.References == "" {
					model.relations[i].References = model.primaryKey
				} else if _, ok := model.fieldIndex[rel.References]; !ok {
					return errors.ConfigurationErrorf("model %q relation %q references unknown field %q on %q", name, rel.Name, rel.References, name)
				}
			}
		}
	}
	return nil
}

// checkStorageKeys rejects two models claiming the same storage key with
// different constraint sets
func (r *Registry) checkStorageKeys() error {
	byKey := make(map[string]string)
	for _, name := range r.order {
		model := r.models[name]
		other, shared := byKey[model.storageKey]
		if !shared {
			byKey[model.storageKey] = name
			continue
		}
		if constraintSignature(r.models[other]) != constraintSignature(model) {
			return errors.ConfigurationErrorf("models %q and %q declare conflicting constraints on storage key %q", other, name, model.storageKey)
		}
	}
	return nil
}

func constraintSignature(m *Model) string {
	parts := make([]string, 0, len(m.constraints))
	for _, c := range m.constraints {
		parts = append(parts, fmt.Sprintf("%s(%s)", c.Kind, strings.Join(c.Fields, ",")))
	}
	sort.Strings(parts)
	return strings.Join(parts, ";")
}
