package steps

import (
	"context"
	"time"

	"data-engine/internal/common/errors"
	"data-engine/internal/common/utils"
	"data-engine/internal/pipeline"
	"data-engine/internal/schema"
)

// DefaultStep sets literal values on fields the request left absent
type DefaultStep struct {
	name   string
	config defaultConfig
}

type defaultConfig struct {
	Values map[string]interface{} `json:"values"`
}

func newDefaultStep(model *schema.Model, name string, config map[string]interface{}) (pipeline.Step, error) {
	step := &DefaultStep{name: name}
	if err := decodeConfig("default", config, &step.config); err != nil {
		return nil, err
	}
	if len(step.config.Values) == 0 {
		return nil, errors.ConfigurationError("default step requires values")
	}
	for field, value := range step.config.Values {
		f, err := requireField(model, "default", field)
		if err != nil {
			return nil, err
		}
		if _, ok := f.Type.Normalize(value); !ok {
			return nil, errors.ConfigurationErrorf(
				"default step value for %s.%s is not a %s", model.Name(), field, f.Type)
		}
	}
	return step, nil
}

func (s *DefaultStep) Name() string { return s.name }
func (s *DefaultStep) Kind() string { return "default" }

func (s *DefaultStep) Run(ctx context.Context, ec *pipeline.ExecutionContext) (pipeline.Outcome, error) {
	for field, value := range s.config.Values {
		if _, present := ec.Get(field); present {
			continue
		}
		ec.Set(field, value)
	}
	return pipeline.Continue, nil
}

// ApplyDefaults fills the schema-declared default policies of every
// absent field. The engine runs it on creates before validation so
// generated ids and timestamps exist when constraints are checked.
func ApplyDefaults(model *schema.Model, value map[string]interface{}) {
	for _, field := range model.Fields() {
		if field.Default == nil {
			continue
		}
		if _, present := value[field.Name]; present {
			continue
		}
		switch field.Default.Kind {
		case schema.DefaultLiteral:
			value[field.Name] = field.Default.Value
		case schema.DefaultCUID:
			value[field.Name] = utils.NewEntityID()
		case schema.DefaultUUID:
			value[field.Name] = utils.NewUUID()
		case schema.DefaultNow:
			value[field.Name] = time.Now().UTC()
		}
	}
}
