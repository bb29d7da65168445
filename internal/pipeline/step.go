package pipeline

import (
	"context"
	"sort"
	"sync"

	"data-engine/internal/common/errors"
	"data-engine/internal/schema"
)

// Outcome is what a step tells the chain to do next
type Outcome int

const (
	// Continue runs the remaining steps of the chain
	Continue Outcome = iota
	// Terminate skips the remaining steps; the chain ends successfully
	// with whatever value the terminating step produced
	Terminate
)

// Step is one configured unit of a pipeline chain. Run may transform
// ec.Value in place, terminate the chain, or fail with an error that
// aborts the chain and rolls back the surrounding transaction.
type Step interface {
	Name() string
	Kind() string
	Run(ctx context.Context, ec *ExecutionContext) (Outcome, error)
}

// Factory builds a configured step from its schema binding. Create runs
// at engine build time with the owning model in hand, so bad field
// references and malformed configs fail startup instead of live requests.
type Factory interface {
	Kind() string
	Create(model *schema.Model, name string, config map[string]interface{}) (Step, error)
}

// Registry maps step kinds to their factories
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty step registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under its kind
func (r *Registry) Register(factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kind := factory.Kind()
	if _, exists := r.factories[kind]; exists {
		return errors.ConfigurationErrorf("step kind %q already registered", kind)
	}
	r.factories[kind] = factory
	return nil
}

// Create builds a step from its schema definition
func (r *Registry) Create(model *schema.Model, def schema.StepDef) (Step, error) {
	r.mu.RLock()
	factory, exists := r.factories[def.Kind]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.ConfigurationErrorf("step kind %q not registered", def.Kind).
			WithContext("model", model.Name()).
			WithContext("step", def.Name)
	}
	return factory.Create(model, def.Name, def.Config)
}

// Kinds returns the registered kinds sorted for stable output
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Merge copies every factory from other into r, skipping kinds already
// present. It lets a caller overlay custom registrations onto the
// built-in set.
func (r *Registry) Merge(other *Registry) {
	if other == nil {
		return
	}
	other.mu.RLock()
	defer other.mu.RUnlock()

	for _, factory := range other.factories {
		_ = r.Register(factory)
	}
}
