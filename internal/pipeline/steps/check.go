package steps

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"data-engine/internal/common/errors"
	"data-engine/internal/pipeline"
	"data-engine/internal/schema"
)

// CheckStep evaluates a boolean expression over the current value and
// caller identity; false fails the request with a ValidationError
type CheckStep struct {
	name    string
	config  checkConfig
	program *vm.Program
}

type checkConfig struct {
	Expression string `json:"expression"`
	Message    string `json:"message"`
}

func newCheckStep(model *schema.Model, name string, config map[string]interface{}) (pipeline.Step, error) {
	step := &CheckStep{name: name}
	if err := decodeConfig("check", config, &step.config); err != nil {
		return nil, err
	}
	if step.config.Expression == "" {
		return nil, errors.ConfigurationError("check step requires an expression")
	}

	program, err := expr.Compile(step.config.Expression,
		expr.Env(map[string]interface{}{}),
		expr.AsBool(),
	)
	if err != nil {
		return nil, errors.ConfigurationErrorf("failed to compile check expression: %v", err)
	}
	step.program = program
	return step, nil
}

func (s *CheckStep) Name() string { return s.name }
func (s *CheckStep) Kind() string { return "check" }

func (s *CheckStep) Run(ctx context.Context, ec *pipeline.ExecutionContext) (pipeline.Outcome, error) {
	env := map[string]interface{}{
		"value":   ec.Value,
		"purpose": string(ec.Purpose),
	}
	if ec.Identity != nil {
		env["identity"] = map[string]interface{}{
			"subject": ec.Identity.Subject,
			"claims":  ec.Identity.Claims,
		}
	} else {
		env["identity"] = nil
	}

	result, err := expr.Run(s.program, env)
	if err != nil {
		return pipeline.Continue, fmt.Errorf("check expression failed: %w", err)
	}

	passed, ok := result.(bool)
	if !ok {
		return pipeline.Continue, fmt.Errorf("check expression did not return a boolean")
	}
	if !passed {
		message := s.config.Message
		if message == "" {
			message = fmt.Sprintf("check %q failed", s.name)
		}
		return pipeline.Continue, errors.ValidationError(message)
	}
	return pipeline.Continue, nil
}
