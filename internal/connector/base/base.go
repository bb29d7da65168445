// Package base provides common infrastructure for connector adapters:
// validated configuration, per-connector logging, and capability
// declaration.
package base

import (
	"fmt"

	"data-engine/internal/common/errors"
	"data-engine/internal/common/logging"
	"data-engine/internal/connector"
)

// BaseConnector carries the shared state of every adapter. Capabilities
// are declared once at construction and never change for the lifetime of
// the instance.
type BaseConnector struct {
	name   string
	caps   connector.Capabilities
	logger logging.Logger
	config connector.Config
}

// NewBaseConnector validates the configuration and sets up structured
// logging for an adapter.
func NewBaseConnector(name string, caps connector.Capabilities, config connector.Config) (*BaseConnector, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(fmt.Sprintf("invalid %s config: %v", name, err))
	}

	logger := logging.GetGlobalLogger().WithFields(
		logging.String("connector", name),
	)

	return &BaseConnector{
		name:   name,
		caps:   caps,
		config: config,
		logger: logger,
	}, nil
}

// Name returns the connector type name
func (b *BaseConnector) Name() string {
	return b.name
}

// Capabilities returns the declared capability set
func (b *BaseConnector) Capabilities() connector.Capabilities {
	return b.caps
}

// GetLogger returns the configured logger instance
func (b *BaseConnector) GetLogger() logging.Logger {
	return b.logger
}

// GetConfig returns the connector configuration
func (b *BaseConnector) GetConfig() connector.Config {
	return b.config
}
