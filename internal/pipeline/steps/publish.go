package steps

import (
	"context"

	"data-engine/internal/common/errors"
	"data-engine/internal/pipeline"
	"data-engine/internal/schema"
)

// PublishStep emits the current value to the change-event bus under a
// configured topic. It is the explicit, user-bound counterpart of the
// engine's automatic post-commit change events.
type PublishStep struct {
	name      string
	config    publishConfig
	publisher Publisher
}

type publishConfig struct {
	Topic string `json:"topic"`
}

func newPublishFactory(publisher Publisher) func(*schema.Model, string, map[string]interface{}) (pipeline.Step, error) {
	return func(model *schema.Model, name string, config map[string]interface{}) (pipeline.Step, error) {
		if publisher == nil {
			return nil, errors.ConfigurationError("publish step requires a configured event bus")
		}
		step := &PublishStep{name: name, publisher: publisher}
		if err := decodeConfig("publish", config, &step.config); err != nil {
			return nil, err
		}
		if step.config.Topic == "" {
			return nil, errors.ConfigurationError("publish step requires a topic")
		}
		return step, nil
	}
}

func (s *PublishStep) Name() string { return s.name }
func (s *PublishStep) Kind() string { return "publish" }

func (s *PublishStep) Run(ctx context.Context, ec *pipeline.ExecutionContext) (pipeline.Outcome, error) {
	payload := map[string]interface{}{
		"model":   ec.Model.Name(),
		"purpose": string(ec.Purpose),
		"value":   ec.Value,
	}
	if err := s.publisher.Publish(ctx, s.config.Topic, payload); err != nil {
		return pipeline.Continue, err
	}
	return pipeline.Continue, nil
}
