package steps

import (
	"context"
	"fmt"

	"data-engine/internal/common/errors"
	"data-engine/internal/pipeline"
	"data-engine/internal/schema"
)

// ConnectIdentityStep stamps the authenticated caller into a field,
// typically the owning foreign key of a created row
type ConnectIdentityStep struct {
	name   string
	config connectIdentityConfig
}

type connectIdentityConfig struct {
	Field string `json:"field"`
	Claim string `json:"claim"`
}

func newConnectIdentityStep(model *schema.Model, name string, config map[string]interface{}) (pipeline.Step, error) {
	step := &ConnectIdentityStep{name: name}
	if err := decodeConfig("connectIdentity", config, &step.config); err != nil {
		return nil, err
	}
	if _, err := requireField(model, "connectIdentity", step.config.Field); err != nil {
		return nil, err
	}
	return step, nil
}

func (s *ConnectIdentityStep) Name() string { return s.name }
func (s *ConnectIdentityStep) Kind() string { return "connectIdentity" }

func (s *ConnectIdentityStep) Run(ctx context.Context, ec *pipeline.ExecutionContext) (pipeline.Outcome, error) {
	if ec.Identity == nil {
		return pipeline.Continue, errors.ValidationError("request has no authenticated identity")
	}

	if s.config.Claim == "" {
		ec.Set(s.config.Field, ec.Identity.Subject)
		return pipeline.Continue, nil
	}

	claim, ok := ec.Identity.Claims[s.config.Claim]
	if !ok {
		return pipeline.Continue, errors.ValidationError(
			fmt.Sprintf("identity carries no %q claim", s.config.Claim))
	}
	ec.Set(s.config.Field, claim)
	return pipeline.Continue, nil
}
