// Package sqlite provides a file or in-memory SQLite connector. It
// declares every capability: transactions with SAVEPOINT nesting, joined
// includes folded adapter-side, and SQL aggregation.
package sqlite

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"net/url"
	"regexp"

	sqlite3 "github.com/mattn/go-sqlite3"

	"data-engine/internal/common/errors"
	"data-engine/internal/connector"
	"data-engine/internal/connector/base"
	"data-engine/internal/connector/sqlgen"
	"data-engine/internal/query"
	"data-engine/internal/schema"
)

// driverName registers a driver variant carrying a REGEXP implementation,
// which stock SQLite builds lack. SQLite rewrites `x REGEXP y` into
// `regexp(y, x)`, so the pattern arrives first.
const driverName = "sqlite3_regexp"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("regexp", func(pattern, value string) (bool, error) {
				re, err := regexp.Compile(pattern)
				if err != nil {
					return false, err
				}
				return re.MatchString(value), nil
			}, true)
		},
	})
}

// Connector executes query IR against a SQLite database.
type Connector struct {
	*base.BaseConnector
	db     *sql.DB
	runner *sqlgen.Runner
}

// NewConnector opens the database, applies the schema migration and
// prepares the statement compiler.
func NewConnector(config *Config) (*Connector, error) {
	baseConnector, err := base.NewBaseConnector("sqlite", connector.Capabilities{
		Transactions:       true,
		NestedTransactions: true,
		JoinedIncludes:     true,
		Aggregation:        true,
	}, config)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn(config.Path))
	if err != nil {
		return nil, errors.ConnectorError("sqlite", fmt.Errorf("opening database: %w", err))
	}
	if config.Path == ":memory:" {
		// the pool would otherwise hand each connection its own empty database
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.ConnectorError("sqlite", fmt.Errorf("pinging database: %w", err))
	}

	compiler, err := sqlgen.NewCompiler(dialect{}, config.Models)
	if err != nil {
		db.Close()
		return nil, err
	}

	c := &Connector{
		BaseConnector: baseConnector,
		db:            db,
		runner:        &sqlgen.Runner{Compiler: compiler, MapError: mapError},
	}
	if err := c.runner.Migrate(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// dsn enables foreign keys, a lock wait and case-sensitive LIKE so the
// operators behave like the in-memory evaluator.
func dsn(path string) string {
	params := url.Values{}
	params.Set("_fk", "1")
	params.Set("_busy_timeout", "5000")
	params.Set("_case_sensitive_like", "1")
	return "file:" + path + "?" + params.Encode()
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
		return errors.ConnectorError("sqlite", err)
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
		return nil, errors.ConnectorError("sqlite", fmt.Errorf("foreign session type %T", session))
	}
	return s.Tx(), nil
}

// mapError keeps constraint violations and lock contention recognizable
// once they cross the connector boundary.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if stderrors.As(err, &se) {
		switch {
		case se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
			return errors.ConnectorError("sqlite", err).WithCode("duplicate_key")
		case se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked:
			return errors.TransientConnectorError("sqlite", err)
		}
	}
	return errors.ConnectorError("sqlite", err)
}

type dialect struct{}

func (dialect) Name() string {
	return "sqlite"
}

func (dialect) Placeholder(int) string {
	return "?"
}

func (dialect) ColumnType(t schema.FieldType) string {
	switch t {
	case schema.FieldTypeInt:
		return "INTEGER"
	case schema.FieldTypeFloat:
		return "REAL"
	case schema.FieldTypeBool:
		return "BOOLEAN"
	case schema.FieldTypeDateTime:
		return "DATETIME"
	case schema.FieldTypeBytes:
		return "BLOB"
	default:
		return "TEXT"
	}
}

// OrderDirection needs no null qualifier: SQLite sorts NULL first
// ascending and last descending, which is what the evaluator does.
func (dialect) OrderDirection(d query.Direction) string {
	if d == query.Descending {
		return "DESC"
	}
	return "ASC"
}

func (dialect) LimitOffset(limit, offset int) string {
	switch {
	case limit > 0 && offset > 0:
		return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
	case limit > 0:
		return fmt.Sprintf(" LIMIT %d", limit)
	case offset > 0:
		return fmt.Sprintf(" LIMIT -1 OFFSET %d", offset)
	default:
		return ""
	}
}

func (dialect) LikeMatch(col, placeholder string, caseInsensitive bool) string {
	if caseInsensitive {
		return "LOWER(" + col + ") LIKE LOWER(" + placeholder + `) ESCAPE '\'`
	}
	return col + " LIKE " + placeholder + ` ESCAPE '\'`
}

func (dialect) RegexpMatch(col, placeholder string, _ bool) string {
	return col + " REGEXP " + placeholder
}

// RegexpArg folds case insensitivity into the pattern since the registered
// Go function has no separate switch for it.
func (dialect) RegexpArg(pattern string, caseInsensitive bool) string {
	if caseInsensitive {
		return "(?i)" + pattern
	}
	return pattern
}

var _ connector.Connector = (*Connector)(nil)
var _ sqlgen.Dialect = dialect{}
