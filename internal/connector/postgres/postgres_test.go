package postgres

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"data-engine/internal/common/errors"
	"data-engine/internal/connector"
	"data-engine/internal/query"
	"data-engine/internal/schema"
)

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg, err := schema.NewRegistry(&schema.Description{
		Models: []schema.ModelDescription{
			{
				Name: "User",
				Fields: []schema.FieldDescription{
					{Name: "id", Type: "string", PrimaryKey: true},
					{Name: "email", Type: "string", Unique: true},
					{Name: "age", Type: "int"},
					{Name: "active", Type: "bool"},
				},
				Relations: []schema.RelationDescription{
					{Name: "posts", Target: "Post", Cardinality: "many", ForeignKey: "authorId"},
				},
			},
			{
				Name: "Post",
				Fields: []schema.FieldDescription{
					{Name: "id", Type: "string", PrimaryKey: true},
					{Name: "title", Type: "string"},
					{Name: "authorId", Type: "string", Nullable: true},
				},
				Relations: []schema.RelationDescription{
					{Name: "author", Target: "User", Cardinality: "one", ForeignKey: "authorId"},
				},
			},
		},
	})
	require.NoError(t, err)
	return reg
}

func newMockConnector(t *testing.T) (*Connector, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	c, err := newWithDB(db, &Config{DSN: "postgres://mock", Models: testRegistry(t)})
	require.NoError(t, err)
	return c, mock
}

func userCols() []string {
	return []string{"id", "email", "age", "active"}
}

func userQuery() *query.Query {
	return &query.Query{
		Model:      "User",
		StorageKey: "user",
		Sort:       []query.SortField{{Field: "id", Direction: query.Ascending}},
	}
}

func TestExecute_CompilesSelect(t *testing.T) {
	c, mock := newMockConnector(t)

	mock.ExpectQuery(`SELECT "id", "email", "age", "active" FROM "user" `+
		`WHERE \("email" ILIKE \$1 ESCAPE '\\' AND "age" >= \$2\) `+
		`ORDER BY "id" ASC NULLS FIRST LIMIT 10 OFFSET 5`).
		WithArgs("%ada%", int64(18)).
		WillReturnRows(sqlmock.NewRows(userCols()).AddRow("a", "Ada@x.io", int64(30), true))

	q := userQuery()
	q.Filter = &query.Filter{And: []*query.Filter{
		{Condition: &query.Condition{Field: "email", Op: query.OpContains, Value: "ada", CaseInsensitive: true}},
		{Condition: &query.Condition{Field: "age", Op: query.OpGte, Value: int64(18)}},
	}}
	q.Pagination = query.Pagination{Limit: 10, Offset: 5}

	stream, err := c.Execute(context.Background(), q, nil)
	require.NoError(t, err)
	rows, err := connector.Collect(stream)
	require.NoError(t, err)

	require.Len(t, rows, 1)
	assert.Equal(t, int64(30), rows[0]["age"])
	assert.Equal(t, true, rows[0]["active"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecute_CursorCompilesToSubquery(t *testing.T) {
	c, mock := newMockConnector(t)

	mock.ExpectQuery(`SELECT "id", "email", "age", "active" FROM "user" `+
		`WHERE "id" > \(SELECT "id" FROM "user" WHERE "id" = \$1\) `+
		`ORDER BY "id" ASC NULLS FIRST LIMIT 2`).
		WithArgs("a").
		WillReturnRows(sqlmock.NewRows(userCols()).
			AddRow("b", "b@x.io", int64(1), true).
			AddRow("c", "c@x.io", int64(2), true))

	q := userQuery()
	q.Pagination = query.Pagination{Limit: 2, Cursor: &query.Cursor{Field: "id", Value: "a"}}

	stream, err := c.Execute(context.Background(), q, nil)
	require.NoError(t, err)
	rows, err := connector.Collect(stream)
	require.NoError(t, err)

	require.Len(t, rows, 2)
	assert.Equal(t, "b", rows[0]["id"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWrite_InsertReturnsStoredRow(t *testing.T) {
	c, mock := newMockConnector(t)

	mock.ExpectQuery(`INSERT INTO "user" \("id", "email", "age", "active"\) `+
		`VALUES \(\$1, \$2, \$3, \$4\) RETURNING "id", "email", "age", "active"`).
		WithArgs("a", "a@x.io", int64(30), true).
		WillReturnRows(sqlmock.NewRows(userCols()).AddRow("a", "a@x.io", int64(30), true))

	result, err := c.Write(context.Background(), &query.WriteOperation{
		Kind:       query.WriteCreate,
		Model:      "User",
		StorageKey: "user",
		PrimaryKey: "id",
		Values: map[string]interface{}{
			"id": "a", "email": "a@x.io", "age": int64(30), "active": true,
		},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(1), result.Affected)
	assert.Equal(t, "a@x.io", result.Row["email"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWrite_UpsertFallsBackToInsert(t *testing.T) {
	c, mock := newMockConnector(t)

	mock.ExpectQuery(`UPDATE "user" SET .+ WHERE "id" = \$5 RETURNING`).
		WillReturnRows(sqlmock.NewRows(userCols()))
	mock.ExpectQuery(`INSERT INTO "user"`).
		WillReturnRows(sqlmock.NewRows(userCols()).AddRow("a", "a@x.io", int64(30), true))

	result, err := c.Write(context.Background(), &query.WriteOperation{
		Kind:       query.WriteUpsert,
		StorageKey: "user",
		PrimaryKey: "id",
		Filter:     query.FieldEquals("id", "a"),
		Values: map[string]interface{}{
			"id": "a", "email": "a@x.io", "age": int64(30), "active": true,
		},
	}, nil)
	require.NoError(t, err)

	assert.True(t, result.Created)
	assert.Equal(t, int64(1), result.Affected)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWrite_DeleteUsesExec(t *testing.T) {
	c, mock := newMockConnector(t)

	mock.ExpectExec(`DELETE FROM "user" WHERE "id" = \$1`).
		WithArgs("a").
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := c.Write(context.Background(), &query.WriteOperation{
		Kind:       query.WriteDelete,
		StorageKey: "user",
		Filter:     query.FieldEquals("id", "a"),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Affected)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecute_FoldsIncludesWithWindow(t *testing.T) {
	c, mock := newMockConnector(t)

	mock.ExpectQuery(`SELECT "id", "email", "age", "active" FROM "user" ORDER BY "id" ASC NULLS FIRST`).
		WillReturnRows(sqlmock.NewRows(userCols()).
			AddRow("u1", "a@x.io", int64(1), true).
			AddRow("u2", "b@x.io", int64(2), true))

	mock.ExpectQuery(`SELECT "id", "title", "authorId" FROM \(`+
		`SELECT "id", "title", "authorId", ROW_NUMBER\(\) OVER \(PARTITION BY "authorId" `+
		`ORDER BY "id" ASC NULLS FIRST\) AS rn FROM "post" WHERE "authorId" IN \(\$1, \$2\)`+
		`\) AS w WHERE rn <= 2 ORDER BY rn`).
		WithArgs("u1", "u2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "authorId"}).
			AddRow("p1", "one", "u1").
			AddRow("p2", "two", "u1"))

	reg := testRegistry(t)
	user, err := reg.Resolve("User")
	require.NoError(t, err)
	rel, ok := user.Relation("posts")
	require.True(t, ok)

	q := userQuery()
	q.Includes = []query.Include{{
		Relation: rel,
		Query: &query.Query{
			Model:      "Post",
			StorageKey: "post",
			Sort:       []query.SortField{{Field: "id", Direction: query.Ascending}},
			Pagination: query.Pagination{Limit: 2},
		},
	}}

	stream, err := c.Execute(context.Background(), q, nil)
	require.NoError(t, err)
	rows, err := connector.Collect(stream)
	require.NoError(t, err)

	require.Len(t, rows, 2)
	posts, ok := rows[0]["posts"].([]connector.Row)
	require.True(t, ok)
	require.Len(t, posts, 2)
	assert.Equal(t, "one", posts[0]["title"])

	empty, ok := rows[1]["posts"].([]connector.Row)
	require.True(t, ok)
	assert.Empty(t, empty)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecute_AggregateCastsAndGroups(t *testing.T) {
	c, mock := newMockConnector(t)

	mock.ExpectQuery(`SELECT "active", COUNT\(\*\) AS "count", `+
		`CAST\(AVG\("age"\) AS DOUBLE PRECISION\) AS "avg.age" FROM "user" `+
		`GROUP BY "active" HAVING COUNT\(\*\) > \$1 ORDER BY "active" ASC NULLS FIRST`).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"active", "count", "avg.age"}).
			AddRow(true, int64(2), 35.5))

	q := userQuery()
	q.Sort = nil
	q.Aggregation = &query.Aggregation{
		Count:   true,
		Avg:     []string{"age"},
		GroupBy: []string{"active"},
		Having:  &query.Filter{Condition: &query.Condition{Field: "count", Op: query.OpGt, Value: int64(1)}},
	}

	stream, err := c.Execute(context.Background(), q, nil)
	require.NoError(t, err)
	rows, err := connector.Collect(stream)
	require.NoError(t, err)

	require.Len(t, rows, 1)
	assert.Equal(t, int64(2), rows[0]["count"])
	assert.Equal(t, 35.5, rows[0]["avg.age"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSession_SavepointsUseSQL(t *testing.T) {
	c, mock := newMockConnector(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec("SAVEPOINT sp_1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("ROLLBACK TO SAVEPOINT sp_1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("RELEASE SAVEPOINT sp_1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	session, err := c.Begin(ctx)
	require.NoError(t, err)

	sp, err := session.Savepoint(ctx)
	require.NoError(t, err)
	require.NoError(t, sp.Rollback(ctx))
	require.NoError(t, session.Commit(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrate_CreatesTablesAndIndexes(t *testing.T) {
	c, mock := newMockConnector(t)

	mock.ExpectExec(`(?s)CREATE TABLE IF NOT EXISTS "post".+"title" TEXT`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`(?s)CREATE TABLE IF NOT EXISTS "user".+"age" BIGINT.+UNIQUE \("email"\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS "idx_post_authorId" ON "post"\("authorId"\)`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, c.runner.Migrate(context.Background(), c.db))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMapError_TranslatesSQLStates(t *testing.T) {
	c, mock := newMockConnector(t)

	mock.ExpectQuery(`INSERT INTO "user"`).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value"})

	_, err := c.Write(context.Background(), &query.WriteOperation{
		Kind:       query.WriteCreate,
		StorageKey: "user",
		PrimaryKey: "id",
		Values:     map[string]interface{}{"id": "a"},
	}, nil)
	require.Error(t, err)

	var engineErr *errors.EngineError
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, "duplicate_key", engineErr.Code)

	assert.True(t, errors.IsTransient(mapError(&pgconn.PgError{Code: "40001"})))
	assert.True(t, errors.IsTransient(mapError(&pgconn.PgError{Code: "08006"})))
	assert.False(t, errors.IsTransient(mapError(&pgconn.PgError{Code: "22001"})))
	require.NoError(t, mock.ExpectationsWereMet())
}
