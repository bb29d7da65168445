package testutil

import (
	"context"
	"sync"

	"data-engine/internal/connector"
	"data-engine/internal/connector/memory"
	"data-engine/internal/query"
)

// MockConnector wraps a real in-memory connector with a controllable name,
// capability set, per-method error injection and call recording.
type MockConnector struct {
	inner *memory.Connector
	name  string
	caps  connector.Capabilities

	mu    sync.Mutex
	calls []string

	// ErrorOnMethod makes the named method fail with the given error
	ErrorOnMethod map[string]error
}

// NewMockConnector creates a mock with the memory connector's capabilities
func NewMockConnector(name string) (*MockConnector, error) {
	inner, err := memory.NewConnector(&memory.Config{})
	if err != nil {
		return nil, err
	}
	return &MockConnector{
		inner:         inner,
		name:          name,
		caps:          inner.Capabilities(),
		ErrorOnMethod: make(map[string]error),
	}, nil
}

// WithCapabilities overrides the declared capability set
func (m *MockConnector) WithCapabilities(caps connector.Capabilities) *MockConnector {
	m.caps = caps
	return m
}

// Calls returns the method names invoked so far, in order
func (m *MockConnector) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *MockConnector) record(method string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, method)
	return m.ErrorOnMethod[method]
}

func (m *MockConnector) Name() string {
	return m.name
}

func (m *MockConnector) Capabilities() connector.Capabilities {
	return m.caps
}

func (m *MockConnector) Execute(ctx context.Context, q *query.Query, session connector.Session) (connector.RowStream, error) {
	if err := m.record("Execute"); err != nil {
		return nil, err
	}
	return m.inner.Execute(ctx, q, session)
}

func (m *MockConnector) Write(ctx context.Context, op *query.WriteOperation, session connector.Session) (*connector.WriteResult, error) {
	if err := m.record("Write"); err != nil {
		return nil, err
	}
	return m.inner.Write(ctx, op, session)
}

func (m *MockConnector) Begin(ctx context.Context) (connector.Session, error) {
	if err := m.record("Begin"); err != nil {
		return nil, err
	}
	return m.inner.Begin(ctx)
}

func (m *MockConnector) Health(ctx context.Context) error {
	if err := m.record("Health"); err != nil {
		return err
	}
	return m.inner.Health(ctx)
}

func (m *MockConnector) Close() error {
	if err := m.record("Close"); err != nil {
		return err
	}
	return m.inner.Close()
}

var _ connector.Connector = (*MockConnector)(nil)
