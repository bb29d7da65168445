package steps

import (
	"context"
	"fmt"
	"strings"

	"data-engine/internal/common/errors"
	"data-engine/internal/pipeline"
	"data-engine/internal/query"
	"data-engine/internal/schema"
)

// ValidateStep is the built-in constraint validation run at the validate
// event of every write. It checks types, required fields, nullability and
// unique constraints; unique probes go through the live transaction so
// they see the request's own uncommitted writes.
type ValidateStep struct {
	name string
}

// NewValidator returns the built-in validation step. The engine runs one
// instance for all models; the step reads the model off the execution
// context.
func NewValidator() *ValidateStep {
	return &ValidateStep{name: "validate"}
}

func newValidateStep(model *schema.Model, name string, config map[string]interface{}) (pipeline.Step, error) {
	return &ValidateStep{name: name}, nil
}

func (s *ValidateStep) Name() string { return s.name }
func (s *ValidateStep) Kind() string { return "validate" }

func (s *ValidateStep) Run(ctx context.Context, ec *pipeline.ExecutionContext) (pipeline.Outcome, error) {
	if ec.Purpose == pipeline.PurposeDelete || ec.Purpose == pipeline.PurposeRead {
		return pipeline.Continue, nil
	}

	model := ec.Model
	verr := errors.ValidationError("value failed constraint validation")
	violations := 0
	invalid := func(field, msg string) {
		verr = verr.WithField(field, msg)
		violations++
	}

	for name := range ec.Value {
		if _, ok := model.Field(name); !ok {
			invalid(name, "unknown field")
		}
	}

	creating := ec.Purpose == pipeline.PurposeCreate || ec.Purpose == pipeline.PurposeUpsert
	for _, field := range model.Fields() {
		value, present := ec.Value[field.Name]
		if !present {
			required := field.Required || (field.PrimaryKey && creating)
			if creating && required && field.Default == nil {
				invalid(field.Name, "is required")
			}
			continue
		}
		if value == nil {
			if !field.Nullable {
				invalid(field.Name, "is not nullable")
			}
			continue
		}
		normalized, ok := field.Type.Normalize(value)
		if !ok {
			invalid(field.Name, fmt.Sprintf("expected a %s value", field.Type))
			continue
		}
		ec.Value[field.Name] = normalized
	}

	if violations > 0 {
		return pipeline.Continue, verr
	}

	if err := s.probeUniques(ctx, ec, invalid); err != nil {
		return pipeline.Continue, err
	}
	if violations > 0 {
		return pipeline.Continue, verr
	}
	return pipeline.Continue, nil
}

// probeUniques checks every unique constraint whose fields the request
// touches. For updates the probe fills untouched constraint fields from
// the original value and excludes the row being updated.
func (s *ValidateStep) probeUniques(ctx context.Context, ec *pipeline.ExecutionContext, invalid func(field, msg string)) error {
	if ec.Runtime == nil {
		return nil
	}

	model := ec.Model
	pk := model.PrimaryKey()
	for _, constraint := range model.Constraints() {
		if constraint.Kind != schema.ConstraintUnique {
			continue
		}

		values, touched, complete := s.constraintValues(ec, constraint.Fields)
		if !touched || !complete {
			continue
		}

		filters := make([]*query.Filter, 0, len(constraint.Fields)+1)
		for _, field := range constraint.Fields {
			filters = append(filters, query.FieldEquals(field, values[field]))
		}
		if ownPK := s.ownPrimaryKey(ec, pk.Name); ownPK != nil {
			filters = append(filters, &query.Filter{
				Condition: &query.Condition{Field: pk.Name, Op: query.OpNot, Value: ownPK},
			})
		}

		rows, err := ec.Runtime.Query(ctx, &query.Query{
			Model:      model.Name(),
			StorageKey: model.StorageKey(),
			Filter:     query.AllOf(filters...),
			Pagination: query.Pagination{Limit: 1},
		})
		if err != nil {
			return err
		}
		if len(rows) > 0 {
			joined := strings.Join(constraint.Fields, ", ")
			for _, field := range constraint.Fields {
				invalid(field, fmt.Sprintf("violates unique constraint on %q", joined))
			}
		}
	}
	return nil
}

// constraintValues assembles the probe values for one constraint. A
// constraint is probed only when the request sets at least one of its
// fields; untouched fields fall back to the original value.
func (s *ValidateStep) constraintValues(ec *pipeline.ExecutionContext, fields []string) (map[string]interface{}, bool, bool) {
	values := make(map[string]interface{}, len(fields))
	touched := false
	for _, field := range fields {
		if v, ok := ec.Value[field]; ok {
			values[field] = v
			touched = true
			continue
		}
		if v, ok := ec.Original[field]; ok {
			values[field] = v
			continue
		}
		return nil, touched, false
	}
	return values, touched, true
}

// ownPrimaryKey returns the row's own key so update probes do not match
// the row being updated
func (s *ValidateStep) ownPrimaryKey(ec *pipeline.ExecutionContext, pkField string) interface{} {
	if ec.Purpose == pipeline.PurposeCreate {
		return nil
	}
	if v, ok := ec.Original[pkField]; ok {
		return v
	}
	return nil
}
