package events

import (
	"data-engine/internal/common/factory"
)

var defaultRegistry = factory.NewRegistry[Emitter]()

// Register adds an emitter factory to the package registry. Emitter
// packages call this from init; duplicate types fail.
func Register(f factory.FactoryInterface[Emitter]) error {
	return defaultRegistry.Register(f)
}

// Create builds an emitter of the named type from its config
func Create(emitterType string, config interface{}) (Emitter, error) {
	return defaultRegistry.Create(emitterType, config)
}

// Types lists the registered emitter types
func Types() []string {
	return defaultRegistry.GetTypes()
}
