package sqlgen

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"data-engine/internal/connector"
)

// Session wraps one *sql.Tx as a connector session. SQLite and PostgreSQL
// share the SAVEPOINT / RELEASE / ROLLBACK TO syntax, so nesting lives
// here. Savepoint names come from a counter that never resets within the
// transaction, keeping them unique under re-entry.
type Session struct {
	tx     *sql.Tx
	mapErr ErrorMapper

	mu   sync.Mutex
	seq  int
	done bool
}

// NewSession adopts an open transaction.
func NewSession(tx *sql.Tx, mapErr ErrorMapper) *Session {
	return &Session{tx: tx, mapErr: mapErr}
}

// Tx exposes the wrapped transaction for statement execution.
func (s *Session) Tx() *sql.Tx {
	return s.tx
}

func (s *Session) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return fmt.Errorf("session already closed")
	}
	s.done = true
	if err := s.tx.Commit(); err != nil {
		return s.mapErr(err)
	}
	return nil
}

func (s *Session) Rollback(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil
	}
	s.done = true
	if err := s.tx.Rollback(); err != nil {
		return s.mapErr(err)
	}
	return nil
}

func (s *Session) Savepoint(ctx context.Context) (connector.Savepoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil, fmt.Errorf("session already closed")
	}

	s.seq++
	name := fmt.Sprintf("sp_%d", s.seq)
	if _, err := s.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return nil, s.mapErr(err)
	}
	return &savepoint{session: s, name: name}, nil
}

type savepoint struct {
	session *Session
	name    string
	done    bool
}

func (sp *savepoint) Release(ctx context.Context) error {
	if sp.done {
		return fmt.Errorf("savepoint already closed")
	}
	sp.done = true
	if _, err := sp.session.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+sp.name); err != nil {
		return sp.session.mapErr(err)
	}
	return nil
}

// Rollback restores the savepoint state and discards the savepoint, so a
// later session commit keeps only the work outside it.
func (sp *savepoint) Rollback(ctx context.Context) error {
	if sp.done {
		return fmt.Errorf("savepoint already closed")
	}
	sp.done = true
	if _, err := sp.session.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+sp.name); err != nil {
		return sp.session.mapErr(err)
	}
	if _, err := sp.session.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+sp.name); err != nil {
		return sp.session.mapErr(err)
	}
	return nil
}

var _ connector.Session = (*Session)(nil)
