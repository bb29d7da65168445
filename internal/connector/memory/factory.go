package memory

import (
	"data-engine/internal/common/factory"
	"data-engine/internal/connector"
)

// GetFactory returns an in-memory connector factory using the generic factory pattern
func GetFactory() connector.Factory {
	return factory.NewConnectorFactory[*Config](
		"memory",
		func(config *Config) (connector.Connector, error) {
			return NewConnector(config)
		},
	)
}

func init() {
	connector.Register("memory", GetFactory())
}
