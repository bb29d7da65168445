package circuitbreaker

import (
	"context"
	"sync"

	"data-engine/internal/common/logging"
)

// Manager holds one breaker per backend name
type Manager struct {
	breakers map[string]*Breaker
	config   Config
	logger   logging.Logger
	mu       sync.RWMutex
}

// NewManager creates a manager applying the same configuration to every
// backend it guards
func NewManager(config Config, logger logging.Logger) *Manager {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Manager{
		breakers: make(map[string]*Breaker),
		config:   config,
		logger:   logger,
	}
}

// GetOrCreate gets an existing circuit breaker or creates a new one
func (m *Manager) GetOrCreate(name string) *Breaker {
	m.mu.RLock()
	breaker, exists := m.breakers[name]
	m.mu.RUnlock()
	if exists {
		return breaker
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if breaker, exists = m.breakers[name]; exists {
		return breaker
	}
	breaker = NewBreaker(name, m.config, m.logger)
	m.breakers[name] = breaker
	return breaker
}

// Execute runs fn behind the named backend's breaker
func (m *Manager) Execute(ctx context.Context, name string, fn func() error) error {
	return m.GetOrCreate(name).Execute(ctx, fn)
}

// IsOpen checks if a circuit breaker is in open state
func (m *Manager) IsOpen(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if breaker, exists := m.breakers[name]; exists {
		return breaker.IsOpen()
	}
	return false
}

// AllStats returns statistics for all circuit breakers
func (m *Manager) AllStats() []Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make([]Stats, 0, len(m.breakers))
	for _, breaker := range m.breakers {
		stats = append(stats, breaker.Stats())
	}
	return stats
}
