// Package txn coordinates logical transactions spanning one or more
// storage backends, with bounded retry for transient failures and a
// circuit breaker per backend.
package txn

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"data-engine/internal/circuitbreaker"
	"data-engine/internal/common/errors"
	"data-engine/internal/common/logging"
	"data-engine/internal/common/utils"
	"data-engine/internal/connector"
	"data-engine/internal/query"
)

// State is the lifecycle state of a transaction
type State string

const (
	StateOpen       State = "open"
	StateCommitted  State = "committed"
	StateRolledBack State = "rolled_back"
)

// Transaction wraps one connector session per distinct backend touched
// during a request. Sessions open lazily on first use. The state machine
// is Open → {Committed, RolledBack}, both terminal.
//
// Cross-backend atomicity is best-effort only: commits run in
// deterministic order and a failure after the first successful commit
// does not undo sessions already committed.
type Transaction struct {
	id          string
	coordinator *Coordinator
	logger      logging.Logger

	mu       sync.Mutex
	state    State
	sessions map[string]connector.Session
	conns    map[string]connector.Connector
}

// ID returns the transaction identifier used in logs
func (t *Transaction) ID() string {
	return t.id
}

// State returns the current lifecycle state
func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transaction) requireOpen() error {
	if t.state != StateOpen {
		return errors.InternalError(fmt.Sprintf("transaction %s is %s", t.id, t.state), nil)
	}
	return nil
}

// session returns the backend's session, opening one lazily. Backends
// without the Transactions capability run auto-committed and get a nil
// session.
func (t *Transaction) session(ctx context.Context, conn connector.Connector) (connector.Session, error) {
	name := conn.Name()
	if session, ok := t.sessions[name]; ok {
		return session, nil
	}

	t.conns[name] = conn
	if !conn.Capabilities().Transactions {
		t.sessions[name] = nil
		t.logger.Debug("backend runs auto-committed inside transaction",
			logging.String("txn", t.id),
			logging.String("connector", name))
		return nil, nil
	}

	var session connector.Session
	err := t.coordinator.protect(ctx, name, true, func() error {
		opened, beginErr := conn.Begin(ctx)
		if beginErr != nil {
			return beginErr
		}
		session = opened
		return nil
	})
	if err != nil {
		return nil, err
	}

	t.sessions[name] = session
	return session, nil
}

// Execute runs a read inside the transaction. Reads are idempotent, so
// transient backend failures are retried with backoff.
func (t *Transaction) Execute(ctx context.Context, conn connector.Connector, q *query.Query) (connector.RowStream, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.requireOpen(); err != nil {
		return nil, err
	}
	session, err := t.session(ctx, conn)
	if err != nil {
		return nil, err
	}

	var stream connector.RowStream
	err = t.coordinator.protect(ctx, conn.Name(), true, func() error {
		opened, execErr := conn.Execute(ctx, q, session)
		if execErr != nil {
			return execErr
		}
		stream = opened
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// Write runs a mutation inside the transaction. Only writes explicitly
// marked retriable are re-issued after transient failures.
func (t *Transaction) Write(ctx context.Context, conn connector.Connector, op *query.WriteOperation) (*connector.WriteResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.requireOpen(); err != nil {
		return nil, err
	}
	session, err := t.session(ctx, conn)
	if err != nil {
		return nil, err
	}

	var result *connector.WriteResult
	err = t.coordinator.protect(ctx, conn.Name(), op.Retriable, func() error {
		written, writeErr := conn.Write(ctx, op, session)
		if writeErr != nil {
			return writeErr
		}
		result = written
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Savepoint creates a nested rollback point on the backend. Fails with
// UnsupportedOperation when the backend does not declare
// NestedTransactions.
func (t *Transaction) Savepoint(ctx context.Context, conn connector.Connector) (connector.Savepoint, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.savepoint(ctx, conn)
}

func (t *Transaction) savepoint(ctx context.Context, conn connector.Connector) (connector.Savepoint, error) {
	if err := t.requireOpen(); err != nil {
		return nil, err
	}
	if !conn.Capabilities().NestedTransactions {
		return nil, errors.UnsupportedError(conn.Name(), "NestedTransactions")
	}
	session, err := t.session(ctx, conn)
	if err != nil {
		return nil, err
	}

	var savepoint connector.Savepoint
	err = t.coordinator.protect(ctx, conn.Name(), true, func() error {
		created, spErr := session.Savepoint(ctx)
		if spErr != nil {
			return spErr
		}
		savepoint = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return savepoint, nil
}

// RunIsolated executes fn inside a savepoint so its writes can be rolled
// back without aborting the whole transaction. Backends without nested
// transactions run fn directly; isolation degrades with a warning rather
// than failing the request.
func (t *Transaction) RunIsolated(ctx context.Context, conn connector.Connector, fn func(ctx context.Context) error) error {
	t.mu.Lock()

	if err := t.requireOpen(); err != nil {
		t.mu.Unlock()
		return err
	}

	if !conn.Capabilities().NestedTransactions {
		t.logger.Warn("backend lacks nested transactions, running step without isolation",
			logging.String("txn", t.id),
			logging.String("connector", conn.Name()))
		t.mu.Unlock()
		return fn(ctx)
	}

	savepoint, err := t.savepoint(ctx, conn)
	t.mu.Unlock()
	if err != nil {
		return err
	}

	if err := fn(ctx); err != nil {
		if rbErr := savepoint.Rollback(ctx); rbErr != nil {
			t.logger.Error("savepoint rollback failed", rbErr,
				logging.String("txn", t.id),
				logging.String("connector", conn.Name()))
		}
		return err
	}
	return savepoint.Release(ctx)
}

// Commit commits every open session in deterministic order (sorted by
// connector name). If the first commit fails, remaining sessions are
// rolled back and the transaction ends RolledBack. If a later commit
// fails, already-committed sessions stay committed; the error reports the
// partial outcome.
func (t *Transaction) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.requireOpen(); err != nil {
		return err
	}

	names := make([]string, 0, len(t.sessions))
	for name, session := range t.sessions {
		if session != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var committed []string
	for _, name := range names {
		if err := t.sessions[name].Commit(ctx); err != nil {
			if len(committed) == 0 {
				t.rollbackSessions(ctx, remaining(names, name))
				t.state = StateRolledBack
				return errors.ConnectorError(name, err)
			}

			t.state = StateCommitted
			t.logger.Error("partial multi-backend commit", err,
				logging.String("txn", t.id),
				logging.String("failed", name),
				logging.Any("committed", committed))
			return errors.ConnectorError(name, err).
				WithCode("partial_commit").
				WithContext("committed", committed)
		}
		committed = append(committed, name)
	}

	t.state = StateCommitted
	t.logger.Debug("transaction committed",
		logging.String("txn", t.id),
		logging.Int("backends", len(names)))
	return nil
}

// remaining returns the names at and after the failed one
func remaining(names []string, failed string) []string {
	for i, name := range names {
		if name == failed {
			return names[i:]
		}
	}
	return nil
}

// Rollback rolls back every open session. It is a no-op on a transaction
// that already reached a terminal state, so callers can run it in a defer
// unconditionally.
func (t *Transaction) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateOpen {
		return nil
	}

	names := make([]string, 0, len(t.sessions))
	for name, session := range t.sessions {
		if session != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	err := t.rollbackSessions(ctx, names)
	t.state = StateRolledBack
	return err
}

func (t *Transaction) rollbackSessions(ctx context.Context, names []string) error {
	var firstErr error
	for _, name := range names {
		session := t.sessions[name]
		if session == nil {
			continue
		}
		if err := session.Rollback(ctx); err != nil {
			t.logger.Error("session rollback failed", err,
				logging.String("txn", t.id),
				logging.String("connector", name))
			if firstErr == nil {
				firstErr = errors.ConnectorError(name, err)
			}
		}
	}
	return firstErr
}

// Coordinator opens transactions and owns the retry policy and circuit
// breakers shared by all of them.
type Coordinator struct {
	config   Config
	breakers *circuitbreaker.Manager
	logger   logging.Logger
}

// Config bounds the coordinator's failure handling
type Config struct {
	Retry   utils.RetryConfig
	Breaker circuitbreaker.Config
}

// DefaultConfig returns the coordinator defaults
func DefaultConfig() Config {
	return Config{
		Retry:   utils.DefaultRetryConfig(),
		Breaker: circuitbreaker.DefaultConfig(),
	}
}

// NewCoordinator creates a coordinator. Transient connector errors are
// the only retryable class; everything else propagates immediately.
func NewCoordinator(config Config) *Coordinator {
	if config.Retry.MaxAttempts == 0 {
		config.Retry = utils.DefaultRetryConfig()
	}
	config.Retry.RetryableErrors = errors.IsTransient

	logger := logging.Component("txn")
	return &Coordinator{
		config:   config,
		breakers: circuitbreaker.NewManager(config.Breaker, logger),
		logger:   logger,
	}
}

// Begin opens a new logical transaction with no sessions; sessions are
// opened lazily as backends are touched.
func (c *Coordinator) Begin(ctx context.Context) (*Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t := &Transaction{
		id:          utils.NewTransactionID(),
		coordinator: c,
		logger:      c.logger,
		state:       StateOpen,
		sessions:    make(map[string]connector.Session),
		conns:       make(map[string]connector.Connector),
	}
	c.logger.Debug("transaction opened", logging.String("txn", t.id))
	return t, nil
}

// BreakerStats exposes breaker state for operational introspection
func (c *Coordinator) BreakerStats() []circuitbreaker.Stats {
	return c.breakers.AllStats()
}

// protect runs a connector call behind the backend's circuit breaker,
// retrying transient failures when the operation is idempotent.
func (c *Coordinator) protect(ctx context.Context, name string, retriable bool, fn func() error) error {
	guarded := func() error {
		return c.breakers.Execute(ctx, name, fn)
	}
	if !retriable {
		return guarded()
	}
	return utils.RetryWithBackoff(ctx, c.config.Retry, guarded)
}
