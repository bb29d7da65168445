package pipeline

import (
	"context"

	"data-engine/internal/common/errors"
	"data-engine/internal/common/logging"
	"data-engine/internal/schema"
)

// boundStep is one resolved step with its per-binding options
type boundStep struct {
	step     Step
	onError  string
	isolated bool
}

// chain is the resolved step list for one (model, event)
type chain struct {
	model string
	event schema.Event
	steps []boundStep
}

// Executor holds the chains resolved from every model's pipeline
// bindings. Resolution happens once in NewExecutor so a malformed step
// reference is a startup failure, never a request-time surprise.
type Executor struct {
	chains map[string]map[schema.Event]*chain
	logger logging.Logger
}

// NewExecutor resolves every pipeline binding in the registry against the
// given step factories
func NewExecutor(registry *schema.Registry, steps *Registry) (*Executor, error) {
	if registry == nil {
		return nil, errors.ConfigurationError("executor requires a schema registry")
	}
	if steps == nil {
		return nil, errors.ConfigurationError("executor requires a step registry")
	}

	e := &Executor{
		chains: make(map[string]map[schema.Event]*chain),
		logger: logging.Component("pipeline"),
	}

	for _, model := range registry.Models() {
		for _, event := range schema.Events {
			defs := model.Pipeline(event)
			if len(defs) == 0 {
				continue
			}

			resolved := &chain{model: model.Name(), event: event, steps: make([]boundStep, 0, len(defs))}
			for _, def := range defs {
				step, err := steps.Create(model, def)
				if err != nil {
					return nil, err
				}
				resolved.steps = append(resolved.steps, boundStep{
					step:     step,
					onError:  def.OnError,
					isolated: def.Isolated,
				})
			}

			if e.chains[model.Name()] == nil {
				e.chains[model.Name()] = make(map[schema.Event]*chain)
			}
			e.chains[model.Name()][event] = resolved
		}
	}
	return e, nil
}

// HasChain reports whether any steps are bound to (model, event)
func (e *Executor) HasChain(model string, event schema.Event) bool {
	return e.chains[model][event] != nil
}

// Run executes the chain bound to (ec.Model, event). Steps run strictly
// in declaration order; cancellation is checked between steps. A step
// failure aborts the chain unless the binding declared onError continue,
// in which case the failure is logged, the value mutation of the failed
// step is discarded, and the chain moves on.
func (e *Executor) Run(ctx context.Context, event schema.Event, ec *ExecutionContext) error {
	c := e.chains[ec.Model.Name()][event]
	if c == nil {
		return nil
	}

	for _, bound := range c.steps {
		if err := ctx.Err(); err != nil {
			return err
		}

		outcome, err := e.runStep(ctx, bound, ec)
		if err != nil {
			if bound.onError == schema.OnErrorContinue {
				e.logger.Warn("pipeline step failed, chain continues",
					logging.String("model", c.model),
					logging.String("event", string(event)),
					logging.String("step", bound.step.Name()),
					logging.Err(err))
				continue
			}
			return stepError(bound.step.Name(), err)
		}

		if outcome == Terminate {
			e.logger.Debug("pipeline chain terminated by step",
				logging.String("model", c.model),
				logging.String("event", string(event)),
				logging.String("step", bound.step.Name()))
			return nil
		}
	}
	return nil
}

// runStep executes one step, inside a savepoint when the binding asked
// for isolation and the request has a live transaction to nest into.
// The value snapshot makes onError continue safe: a failed step never
// leaves half its mutations behind.
func (e *Executor) runStep(ctx context.Context, bound boundStep, ec *ExecutionContext) (Outcome, error) {
	snapshot := ec.snapshotValue()

	var outcome Outcome
	var err error
	if bound.isolated && ec.Runtime != nil {
		err = ec.Runtime.Isolated(ctx, func(ctx context.Context) error {
			var stepErr error
			outcome, stepErr = bound.step.Run(ctx, ec)
			return stepErr
		})
	} else {
		outcome, err = bound.step.Run(ctx, ec)
	}

	if err != nil {
		ec.Value = snapshot
		return Continue, err
	}
	return outcome, nil
}

// stepError types a step failure. Validation failures pass through with
// their field detail intact; anything else is wrapped with the
// originating step identified.
func stepError(step string, err error) error {
	if errors.IsValidation(err) || errors.IsType(err, errors.ErrTypePipeline) {
		return err
	}
	return errors.PipelineError(step, err)
}
