// Package postgres provides a PostgreSQL connector over the pgx stdlib
// bridge. Like the SQLite adapter it declares every capability; the schema
// migration runs at connect.
package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"data-engine/internal/common/errors"
	"data-engine/internal/connector"
	"data-engine/internal/connector/base"
	"data-engine/internal/connector/sqlgen"
	"data-engine/internal/query"
	"data-engine/internal/schema"
)

// Connector executes query IR against a PostgreSQL database.
type Connector struct {
	*base.BaseConnector
	db     *sql.DB
	runner *sqlgen.Runner
}

// NewConnector opens the pool, verifies connectivity and applies the
// schema migration.
func NewConnector(config *Config) (*Connector, error) {
	db, err := sql.Open("pgx", config.DSN)
	if err != nil {
		return nil, errors.ConnectorError("postgres", fmt.Errorf("opening pool: %w", err))
	}
	c, err := newWithDB(db, config)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.ConnectorError("postgres", fmt.Errorf("pinging database: %w", err))
	}
	if err := c.runner.Migrate(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// newWithDB wires an already-open handle, which is also how the tests
// inject a mock.
func newWithDB(db *sql.DB, config *Config) (*Connector, error) {
	baseConnector, err := base.NewBaseConnector("postgres", connector.Capabilities{
		Transactions:       true,
		NestedTransactions: true,
		JoinedIncludes:     true,
		Aggregation:        true,
	}, config)
	if err != nil {
		return nil, err
	}

	compiler, err := sqlgen.NewCompiler(dialect{}, config.Models)
	if err != nil {
		return nil, err
	}

	return &Connector{
		BaseConnector: baseConnector,
		db:            db,
		runner:        &sqlgen.Runner{Compiler: compiler, MapError: mapError},
	}, nil
}

func (c *Connector) Execute(ctx context.Context, q *query.Query, session connector.Session) (connector.RowStream, error) {
	run, err := c.querier(session)
	if err != nil {
		return nil, err
	}
	return c.runner.Execute(ctx, run, q)
}

func (c *Connector) Write(ctx context.Context, op *query.WriteOperation, session connector.Session) (*connector.WriteResult, error) {
	run, err := c.querier(session)
	if err != nil {
		return nil, err
	}
	return c.runner.Write(ctx, run, op)
}

func (c *Connector) Begin(ctx context.Context) (connector.Session, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mapError(err)
	}
	return sqlgen.NewSession(tx, mapError), nil
}

func (c *Connector) Health(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return errors.ConnectorError("postgres", err)
	}
	return nil
}

func (c *Connector) Close() error {
	return c.db.Close()
}

func (c *Connector) querier(session connector.Session) (sqlgen.Querier, error) {
	if session == nil {
		return c.db, nil
	}
	s, ok := session.(*sqlgen.Session)
	if !ok {
		return nil, errors.ConnectorError("postgres", fmt.Errorf("foreign session type %T", session))
	}
	return s.Tx(), nil
}

// mapError translates SQLSTATE classes: unique violations stay
// recognizable for the engine, serialization failures and deadlocks are
// retriable.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return errors.ConnectorError("postgres", err).WithCode("duplicate_key")
		case "40001", "40P01":
			return errors.TransientConnectorError("postgres", err)
		}
		if len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08" {
			return errors.TransientConnectorError("postgres", err)
		}
	}
	return errors.ConnectorError("postgres", err)
}

type dialect struct{}

func (dialect) Name() string {
	return "postgres"
}

func (dialect) Placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func (dialect) ColumnType(t schema.FieldType) string {
	switch t {
	case schema.FieldTypeInt:
		return "BIGINT"
	case schema.FieldTypeFloat:
		return "DOUBLE PRECISION"
	case schema.FieldTypeBool:
		return "BOOLEAN"
	case schema.FieldTypeDateTime:
		return "TIMESTAMPTZ"
	case schema.FieldTypeBytes:
		return "BYTEA"
	case schema.FieldTypeJSON:
		return "JSONB"
	default:
		return "TEXT"
	}
}

// OrderDirection pins the null ordering: PostgreSQL puts NULL last on
// ascending sorts by default, the evaluator sorts nil first.
func (dialect) OrderDirection(d query.Direction) string {
	if d == query.Descending {
		return "DESC NULLS LAST"
	}
	return "ASC NULLS FIRST"
}

func (dialect) LimitOffset(limit, offset int) string {
	switch {
	case limit > 0 && offset > 0:
		return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	case limit > 0:
		return fmt.Sprintf(" LIMIT %d", limit)
	case offset > 0:
		return fmt.Sprintf(" OFFSET %d", offset)
	default:
		return ""
	}
}

func (dialect) LikeMatch(col, placeholder string, caseInsensitive bool) string {
	if caseInsensitive {
		return col + " ILIKE " + placeholder + ` ESCAPE '\'`
	}
	return col + " LIKE " + placeholder + ` ESCAPE '\'`
}

func (dialect) RegexpMatch(col, placeholder string, caseInsensitive bool) string {
	if caseInsensitive {
		return col + " ~* " + placeholder
	}
	return col + " ~ " + placeholder
}

// RegexpArg passes patterns through untouched; the operator variant
// carries the case switch.
func (dialect) RegexpArg(pattern string, _ bool) string {
	return pattern
}

var _ connector.Connector = (*Connector)(nil)
var _ sqlgen.Dialect = dialect{}
