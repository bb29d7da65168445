// Package steps implements the built-in pipeline step kinds. Each kind
// carries its own typed configuration decoded from the schema binding at
// engine build time.
package steps

import (
	"context"
	"encoding/json"
	"net/http"

	"data-engine/internal/common/errors"
	"data-engine/internal/pipeline"
	"data-engine/internal/schema"
)

// Publisher is the change-event sink the publish step emits to
type Publisher interface {
	Publish(ctx context.Context, topic string, payload map[string]interface{}) error
}

// Deps are the runtime dependencies built-in steps close over
type Deps struct {
	Publisher  Publisher
	HTTPClient *http.Client
}

// DefaultRegistry is where custom step kinds register themselves.
// NewRegistry overlays it onto the built-in set.
var DefaultRegistry = pipeline.NewRegistry()

// NewRegistry builds a step registry holding every built-in kind plus
// whatever custom kinds were added to DefaultRegistry
func NewRegistry(deps Deps) *pipeline.Registry {
	registry := pipeline.NewRegistry()
	for _, factory := range builtinFactories(deps) {
		// kinds are distinct by construction
		_ = registry.Register(factory)
	}
	registry.Merge(DefaultRegistry)
	return registry
}

func builtinFactories(deps Deps) []pipeline.Factory {
	return []pipeline.Factory{
		factoryFunc{kind: "validate", create: newValidateStep},
		factoryFunc{kind: "transform", create: newTransformStep},
		factoryFunc{kind: "default", create: newDefaultStep},
		factoryFunc{kind: "cuid", create: newCUIDStep},
		factoryFunc{kind: "uuid", create: newUUIDStep},
		factoryFunc{kind: "bcrypt", create: newBcryptStep},
		factoryFunc{kind: "check", create: newCheckStep},
		factoryFunc{kind: "js", create: newJSStep},
		factoryFunc{kind: "connectIdentity", create: newConnectIdentityStep},
		factoryFunc{kind: "notify", create: newNotifyFactory(deps.HTTPClient)},
		factoryFunc{kind: "publish", create: newPublishFactory(deps.Publisher)},
	}
}

// factoryFunc adapts a constructor function to pipeline.Factory
type factoryFunc struct {
	kind   string
	create func(model *schema.Model, name string, config map[string]interface{}) (pipeline.Step, error)
}

func (f factoryFunc) Kind() string { return f.kind }

func (f factoryFunc) Create(model *schema.Model, name string, config map[string]interface{}) (pipeline.Step, error) {
	return f.create(model, name, config)
}

// decodeConfig converts the raw binding config into the step's typed
// configuration struct
func decodeConfig(kind string, raw map[string]interface{}, dst interface{}) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return errors.InternalError("failed to marshal step config", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return errors.ConfigurationErrorf("invalid %s step config: %v", kind, err)
	}
	return nil
}

// requireStringField checks at build time that the configured field
// exists on the model and holds strings
func requireStringField(model *schema.Model, kind, field string) (schema.Field, error) {
	f, err := requireField(model, kind, field)
	if err != nil {
		return schema.Field{}, err
	}
	if f.Type != schema.FieldTypeString {
		return schema.Field{}, errors.ConfigurationErrorf(
			"%s step requires a string field, %s.%s is %s", kind, model.Name(), field, f.Type)
	}
	return f, nil
}

// requireField checks at build time that the configured field exists on
// the model
func requireField(model *schema.Model, kind, field string) (schema.Field, error) {
	if field == "" {
		return schema.Field{}, errors.ConfigurationErrorf("%s step requires a field", kind)
	}
	f, ok := model.Field(field)
	if !ok {
		return schema.Field{}, errors.ConfigurationErrorf(
			"%s step references unknown field %q on model %q", kind, field, model.Name())
	}
	return f, nil
}
