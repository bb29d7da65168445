package factory

import (
	"data-engine/internal/connector"
)

// ConnectorFactoryAdapter adapts the generic factory to the connector.Factory interface
type ConnectorFactoryAdapter[C connector.Config] struct {
	*Factory[C, connector.Connector]
}

// NewConnectorFactory creates a connector factory that implements connector.Factory
func NewConnectorFactory[C connector.Config](typeName string, creator func(C) (connector.Connector, error)) connector.Factory {
	genericFactory := NewFactory[C, connector.Connector](typeName, creator)
	return &ConnectorFactoryAdapter[C]{genericFactory}
}

// Create implements connector.Factory
func (a *ConnectorFactoryAdapter[C]) Create(config connector.Config) (connector.Connector, error) {
	return a.Factory.Create(config)
}
