package connector

import (
	"sync"

	"data-engine/internal/common/errors"
)

// Registry maps connector type names to factories. Adapters register
// themselves at init time; the engine resolves configured backends through
// the default registry at startup.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
	}
}

func (r *Registry) Register(connectorType string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[connectorType] = factory
}

func (r *Registry) Create(connectorType string, config Config) (Connector, error) {
	r.mu.RLock()
	factory, exists := r.factories[connectorType]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.ConfigurationErrorf("connector type %q not registered", connectorType)
	}

	return factory.Create(config)
}

func (r *Registry) GetAvailableTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for connectorType := range r.factories {
		types = append(types, connectorType)
	}
	return types
}

func (r *Registry) IsRegistered(connectorType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.factories[connectorType]
	return exists
}

var DefaultRegistry = NewRegistry()

func Register(connectorType string, factory Factory) {
	DefaultRegistry.Register(connectorType, factory)
}

func Create(connectorType string, config Config) (Connector, error) {
	return DefaultRegistry.Create(connectorType, config)
}

func GetAvailableTypes() []string {
	return DefaultRegistry.GetAvailableTypes()
}
