package postgres

import (
	"data-engine/internal/common/factory"
	"data-engine/internal/connector"
)

// GetFactory returns a PostgreSQL connector factory using the generic factory pattern
func GetFactory() connector.Factory {
	return factory.NewConnectorFactory[*Config](
		"postgres",
		func(config *Config) (connector.Connector, error) {
			return NewConnector(config)
		},
	)
}

func init() {
	connector.Register("postgres", GetFactory())
}
