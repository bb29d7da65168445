package steps

import (
	"context"
	"regexp"
	"strings"

	"data-engine/internal/common/errors"
	"data-engine/internal/pipeline"
	"data-engine/internal/schema"
)

// TransformStep applies one string operation to one field
type TransformStep struct {
	name   string
	config transformConfig
}

type transformConfig struct {
	Field     string `json:"field"`
	Operation string `json:"operation"`
	Value     string `json:"value"`
	NewValue  string `json:"newValue"`
}

var transformOps = map[string]bool{
	"lowercase":  true,
	"uppercase":  true,
	"trim":       true,
	"trimPrefix": true,
	"trimSuffix": true,
	"prefix":     true,
	"suffix":     true,
	"replace":    true,
	"slug":       true,
}

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

func newTransformStep(model *schema.Model, name string, config map[string]interface{}) (pipeline.Step, error) {
	step := &TransformStep{name: name}
	if err := decodeConfig("transform", config, &step.config); err != nil {
		return nil, err
	}
	if !transformOps[step.config.Operation] {
		return nil, errors.ConfigurationErrorf("unsupported transform operation: %s", step.config.Operation)
	}
	if _, err := requireStringField(model, "transform", step.config.Field); err != nil {
		return nil, err
	}
	return step, nil
}

func (s *TransformStep) Name() string { return s.name }
func (s *TransformStep) Kind() string { return "transform" }

// Run transforms the field in place. An absent field or a non-string
// value is left untouched; type violations are the validate step's job.
func (s *TransformStep) Run(ctx context.Context, ec *pipeline.ExecutionContext) (pipeline.Outcome, error) {
	raw, present := ec.Get(s.config.Field)
	if !present {
		return pipeline.Continue, nil
	}
	value, ok := raw.(string)
	if !ok {
		return pipeline.Continue, nil
	}

	switch s.config.Operation {
	case "lowercase":
		value = strings.ToLower(value)
	case "uppercase":
		value = strings.ToUpper(value)
	case "trim":
		value = strings.TrimSpace(value)
	case "trimPrefix":
		value = strings.TrimPrefix(value, s.config.Value)
	case "trimSuffix":
		value = strings.TrimSuffix(value, s.config.Value)
	case "prefix":
		value = s.config.Value + value
	case "suffix":
		value = value + s.config.Value
	case "replace":
		value = strings.ReplaceAll(value, s.config.Value, s.config.NewValue)
	case "slug":
		value = slugify(value)
	}

	ec.Set(s.config.Field, value)
	return pipeline.Continue, nil
}

func slugify(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	value = slugStrip.ReplaceAllString(value, "-")
	return strings.Trim(value, "-")
}
