// Package engine ties the schema registry, query builder, pipeline
// executor, transaction coordinator and connectors together into the data
// operations callers use. One Engine serves concurrent requests; each
// request gets its own transaction and pipeline execution context, and
// every unhandled error while a transaction is open rolls it back.
package engine

import (
	"context"
	"net/http"
	"sort"

	"github.com/samber/lo"

	"data-engine/internal/assemble"
	"data-engine/internal/cache"
	"data-engine/internal/circuitbreaker"
	"data-engine/internal/common/errors"
	"data-engine/internal/common/logging"
	"data-engine/internal/connector"
	"data-engine/internal/events"
	"data-engine/internal/pipeline"
	"data-engine/internal/pipeline/steps"
	"data-engine/internal/query"
	"data-engine/internal/schema"
	"data-engine/internal/txn"
)

// Options configures one engine instance. Registry and Connector are
// required; everything else falls back to defaults or stays off.
type Options struct {
	Registry  *schema.Registry
	Connector connector.Connector

	// Routes overrides the backend per model; unrouted models use the
	// default connector.
	Routes map[string]connector.Connector

	Builder query.BuilderConfig
	Txn     txn.Config

	// Cache enables the read-through result cache when non-nil.
	Cache *cache.Results

	// Bus receives change events after committed writes and backs the
	// publish step when non-nil.
	Bus *events.Bus

	// HTTPClient backs the notify step.
	HTTPClient *http.Client
}

// Result is the outcome of a list read or aggregation.
type Result struct {
	Data     []connector.Row
	Warnings []query.Warning
}

// Record is the outcome of a single-instance operation.
type Record struct {
	Data     connector.Row
	Warnings []query.Warning
}

// Engine executes the data operations of a compiled schema.
type Engine struct {
	registry    *schema.Registry
	builder     *query.Builder
	executor    *pipeline.Executor
	validator   pipeline.Step
	coordinator *txn.Coordinator
	assembler   *assemble.Assembler

	defaultConn connector.Connector
	routes      map[string]connector.Connector

	// dependents maps a model to every model whose cached reads can
	// embed it through a relation path.
	dependents map[string][]string

	cache  *cache.Results
	bus    *events.Bus
	logger logging.Logger
}

// New wires an engine. Pipeline chains are resolved here, so an invalid
// step binding fails construction instead of the first request.
func New(opts Options) (*Engine, error) {
	if opts.Registry == nil {
		return nil, errors.ConfigurationError("engine requires a schema registry")
	}
	if opts.Connector == nil {
		return nil, errors.ConfigurationError("engine requires a default connector")
	}

	builderConfig := opts.Builder
	if builderConfig == (query.BuilderConfig{}) {
		builderConfig = query.DefaultBuilderConfig()
	}
	builder, err := query.NewBuilder(opts.Registry, builderConfig)
	if err != nil {
		return nil, err
	}

	deps := steps.Deps{HTTPClient: opts.HTTPClient}
	if opts.Bus != nil {
		deps.Publisher = opts.Bus
	}
	executor, err := pipeline.NewExecutor(opts.Registry, steps.NewRegistry(deps))
	if err != nil {
		return nil, err
	}

	txnConfig := opts.Txn
	if txnConfig.Breaker.MaxFailures == 0 {
		txnConfig.Breaker = circuitbreaker.DefaultConfig()
	}

	routes := make(map[string]connector.Connector, len(opts.Routes))
	for model, conn := range opts.Routes {
		if conn == nil {
			return nil, errors.ConfigurationErrorf("route for model %q carries no connector", model)
		}
		if _, err := opts.Registry.Resolve(model); err != nil {
			return nil, errors.ConfigurationErrorf("route for unknown model %q", model)
		}
		routes[model] = conn
	}

	return &Engine{
		registry:    opts.Registry,
		builder:     builder,
		executor:    executor,
		validator:   steps.NewValidator(),
		coordinator: txn.NewCoordinator(txnConfig),
		assembler:   assemble.New(),
		defaultConn: opts.Connector,
		routes:      routes,
		dependents:  dependents(opts.Registry),
		cache:       opts.Cache,
		bus:         opts.Bus,
		logger:      logging.Component("engine"),
	}, nil
}

// conn returns the backend serving a model.
func (e *Engine) conn(model string) connector.Connector {
	if c, ok := e.routes[model]; ok {
		return c
	}
	return e.defaultConn
}

// connectors returns every distinct backend the engine can touch.
func (e *Engine) connectors() []connector.Connector {
	byName := map[string]connector.Connector{e.defaultConn.Name(): e.defaultConn}
	for _, c := range e.routes {
		byName[c.Name()] = c
	}

	names := lo.Keys(byName)
	sort.Strings(names)

	out := make([]connector.Connector, 0, len(names))
	for _, name := range names {
		out = append(out, byName[name])
	}
	return out
}

// invalidate strands cached reads for a written model and for every model
// that can embed it through includes.
func (e *Engine) invalidate(ctx context.Context, model string) {
	if e.cache == nil {
		return
	}
	e.cache.Invalidate(ctx, model)
	for _, dependent := range e.dependents[model] {
		e.cache.Invalidate(ctx, dependent)
	}
}

// Health pings every configured backend and returns the first failure.
func (e *Engine) Health(ctx context.Context) error {
	for _, conn := range e.connectors() {
		if err := conn.Health(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close shuts down the event bus and every configured backend. The first
// failure is returned; later ones are logged.
func (e *Engine) Close() error {
	var firstErr error

	if err := e.bus.Close(); err != nil {
		firstErr = err
	}
	for _, conn := range e.connectors() {
		if err := conn.Close(); err != nil {
			if firstErr == nil {
				firstErr = err
			} else {
				e.logger.Error("connector close failed", err,
					logging.String("connector", conn.Name()))
			}
		}
	}
	return firstErr
}

// dependents inverts the relation graph: for each model, the models from
// which it is reachable. A committed write must invalidate all of them,
// since any of their cached result sets can carry the written rows.
func dependents(registry *schema.Registry) map[string][]string {
	out := make(map[string][]string)
	for _, name := range registry.Models() {
		for _, target := range reachable(registry, name) {
			if target != name {
				out[target] = append(out[target], name)
			}
		}
	}
	return out
}

func reachable(registry *schema.Registry, from string) []string {
	seen := map[string]bool{from: true}
	stack := []string{from}
	var out []string

	for len(stack) > 0 {
		name := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, name)

		model, err := registry.Resolve(name)
		if err != nil {
			continue
		}
		for _, rel := range model.Relations() {
			if !seen[rel.Target] {
				seen[rel.Target] = true
				stack = append(stack, rel.Target)
			}
		}
	}
	return out
}
