package steps

import (
	"context"

	"data-engine/internal/common/utils"
	"data-engine/internal/pipeline"
	"data-engine/internal/schema"
)

// IDStep generates an identifier into a field the request left absent
type IDStep struct {
	name     string
	kind     string
	field    string
	generate func() string
}

type idConfig struct {
	Field string `json:"field"`
}

func newCUIDStep(model *schema.Model, name string, config map[string]interface{}) (pipeline.Step, error) {
	return newIDStep(model, name, "cuid", config, utils.NewEntityID)
}

func newUUIDStep(model *schema.Model, name string, config map[string]interface{}) (pipeline.Step, error) {
	return newIDStep(model, name, "uuid", config, utils.NewUUID)
}

func newIDStep(model *schema.Model, name, kind string, config map[string]interface{}, generate func() string) (pipeline.Step, error) {
	var cfg idConfig
	if err := decodeConfig(kind, config, &cfg); err != nil {
		return nil, err
	}
	if _, err := requireStringField(model, kind, cfg.Field); err != nil {
		return nil, err
	}
	return &IDStep{name: name, kind: kind, field: cfg.Field, generate: generate}, nil
}

func (s *IDStep) Name() string { return s.name }
func (s *IDStep) Kind() string { return s.kind }

func (s *IDStep) Run(ctx context.Context, ec *pipeline.ExecutionContext) (pipeline.Outcome, error) {
	if _, present := ec.Get(s.field); present {
		return pipeline.Continue, nil
	}
	ec.Set(s.field, s.generate())
	return pipeline.Continue, nil
}
