package steps

import (
	"context"

	"golang.org/x/crypto/bcrypt"

	"data-engine/internal/common/errors"
	"data-engine/internal/pipeline"
	"data-engine/internal/schema"
)

// BcryptStep hashes a field's value before it reaches storage. Absent
// fields are skipped so update requests that do not touch the password
// keep the stored hash.
type BcryptStep struct {
	name   string
	config bcryptConfig
}

type bcryptConfig struct {
	Field string `json:"field"`
	Cost  int    `json:"cost"`
}

func newBcryptStep(model *schema.Model, name string, config map[string]interface{}) (pipeline.Step, error) {
	step := &BcryptStep{name: name}
	if err := decodeConfig("bcrypt", config, &step.config); err != nil {
		return nil, err
	}
	if _, err := requireStringField(model, "bcrypt", step.config.Field); err != nil {
		return nil, err
	}
	if step.config.Cost == 0 {
		step.config.Cost = bcrypt.DefaultCost
	}
	if step.config.Cost < bcrypt.MinCost || step.config.Cost > bcrypt.MaxCost {
		return nil, errors.ConfigurationErrorf("bcrypt cost must be between %d and %d, got %d",
			bcrypt.MinCost, bcrypt.MaxCost, step.config.Cost)
	}
	return step, nil
}

func (s *BcryptStep) Name() string { return s.name }
func (s *BcryptStep) Kind() string { return "bcrypt" }

func (s *BcryptStep) Run(ctx context.Context, ec *pipeline.ExecutionContext) (pipeline.Outcome, error) {
	raw, present := ec.Get(s.config.Field)
	if !present || raw == nil {
		return pipeline.Continue, nil
	}
	value, ok := raw.(string)
	if !ok {
		return pipeline.Continue, errors.FieldValidationError(s.config.Field, "expected a string value")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(value), s.config.Cost)
	if err != nil {
		return pipeline.Continue, err
	}
	ec.Set(s.config.Field, string(hashed))
	return pipeline.Continue, nil
}
