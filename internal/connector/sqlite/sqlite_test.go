package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"data-engine/internal/common/errors"
	"data-engine/internal/connector"
	"data-engine/internal/query"
	"data-engine/internal/schema"
)

func blogRegistry(t *testing.T) *schema.Registry {
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
					{Name: "profile", Type: "json", Nullable: true},
					{Name: "joined", Type: "datetime", Nullable: true},
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
					{Name: "views", Type: "int"},
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

func newTestConnector(t *testing.T) *Connector {
	t.Helper()
	c, err := NewConnector(&Config{Path: ":memory:", Models: blogRegistry(t)})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func createUser(t *testing.T, c *Connector, session connector.Session, values map[string]interface{}) {
	t.Helper()
	_, err := c.Write(context.Background(), &query.WriteOperation{
		Kind:       query.WriteCreate,
		Model:      "User",
		StorageKey: "user",
		PrimaryKey: "id",
		Values:     values,
	}, session)
	require.NoError(t, err)
}

func createPost(t *testing.T, c *Connector, id, title string, views int64, authorID interface{}) {
	t.Helper()
	_, err := c.Write(context.Background(), &query.WriteOperation{
		Kind:       query.WriteCreate,
		Model:      "Post",
		StorageKey: "post",
		PrimaryKey: "id",
		Values:     map[string]interface{}{"id": id, "title": title, "views": views, "authorId": authorID},
	}, nil)
	require.NoError(t, err)
}

func userQuery() *query.Query {
	return &query.Query{
		Model:      "User",
		StorageKey: "user",
		Sort:       []query.SortField{{Field: "id", Direction: query.Ascending}},
	}
}

func collect(t *testing.T, c *Connector, q *query.Query, session connector.Session) []connector.Row {
	t.Helper()
	stream, err := c.Execute(context.Background(), q, session)
	require.NoError(t, err)
	rows, err := connector.Collect(stream)
	require.NoError(t, err)
	return rows
}

func TestConnector_Capabilities(t *testing.T) {
	c := newTestConnector(t)

	caps := c.Capabilities()
	assert.True(t, caps.Transactions)
	assert.True(t, caps.NestedTransactions)
	assert.True(t, caps.JoinedIncludes)
	assert.True(t, caps.Aggregation)
	assert.Equal(t, "sqlite", c.Name())
}

func TestConnector_RoundTripTypes(t *testing.T) {
	c := newTestConnector(t)
	joined := time.Date(2024, 5, 4, 12, 30, 0, 0, time.UTC)

	createUser(t, c, nil, map[string]interface{}{
		"id":      "a",
		"email":   "a@x.io",
		"age":     int64(30),
		"active":  true,
		"profile": map[string]interface{}{"plan": "pro"},
		"joined":  joined,
	})

	rows := collect(t, c, userQuery(), nil)
	require.Len(t, rows, 1)
	row := rows[0]

	assert.Equal(t, "a", row["id"])
	assert.Equal(t, int64(30), row["age"])
	assert.Equal(t, true, row["active"])
	assert.Equal(t, map[string]interface{}{"plan": "pro"}, row["profile"])
	got, ok := row["joined"].(time.Time)
	require.True(t, ok)
	assert.True(t, got.Equal(joined))
}

func TestConnector_StringOperators(t *testing.T) {
	c := newTestConnector(t)

	createUser(t, c, nil, map[string]interface{}{"id": "a", "email": "Ada@x.io", "age": int64(1), "active": true})
	createUser(t, c, nil, map[string]interface{}{"id": "b", "email": "bob@y.io", "age": int64(2), "active": true})
	createUser(t, c, nil, map[string]interface{}{"id": "c", "email": "carol_50%@z.io", "age": int64(3), "active": true})

	q := userQuery()
	q.Filter = &query.Filter{Condition: &query.Condition{Field: "email", Op: query.OpContains, Value: "ada"}}
	assert.Empty(t, collect(t, c, q, nil), "LIKE stays case sensitive")

	q.Filter = &query.Filter{Condition: &query.Condition{Field: "email", Op: query.OpContains, Value: "ada", CaseInsensitive: true}}
	rows := collect(t, c, q, nil)
	require.Len(t, rows, 1)
	assert.Equal(t, "a", rows[0]["id"])

	// wildcard characters in the needle only match themselves
	q.Filter = &query.Filter{Condition: &query.Condition{Field: "email", Op: query.OpContains, Value: "50%"}}
	rows = collect(t, c, q, nil)
	require.Len(t, rows, 1)
	assert.Equal(t, "c", rows[0]["id"])

	q.Filter = &query.Filter{Condition: &query.Condition{Field: "email", Op: query.OpMatches, Value: "^[ab].*\\.io$", CaseInsensitive: true}}
	rows = collect(t, c, q, nil)
	require.Len(t, rows, 2)
}

func TestConnector_NullSemantics(t *testing.T) {
	c := newTestConnector(t)

	createPost(t, c, "p1", "one", 1, "a")
	createPost(t, c, "p2", "two", 2, nil)

	q := &query.Query{
		Model:      "Post",
		StorageKey: "post",
		Sort:       []query.SortField{{Field: "id", Direction: query.Ascending}},
		Filter:     &query.Filter{Condition: &query.Condition{Field: "authorId", Op: query.OpNot, Value: "zz"}},
	}
	// a NULL author is "not zz", same as the evaluator
	rows := collect(t, c, q, nil)
	require.Len(t, rows, 2)

	q.Filter = &query.Filter{Condition: &query.Condition{Field: "authorId", Op: query.OpNotIn, Value: []interface{}{"a"}}}
	rows = collect(t, c, q, nil)
	require.Len(t, rows, 1)
	assert.Equal(t, "p2", rows[0]["id"])

	q.Filter = &query.Filter{Condition: &query.Condition{Field: "authorId", Op: query.OpEquals, Value: nil}}
	rows = collect(t, c, q, nil)
	require.Len(t, rows, 1)
	assert.Equal(t, "p2", rows[0]["id"])
}

func TestConnector_SortAndWindow(t *testing.T) {
	c := newTestConnector(t)

	createUser(t, c, nil, map[string]interface{}{"id": "a", "email": "a@x.io", "age": int64(30), "active": true})
	createUser(t, c, nil, map[string]interface{}{"id": "b", "email": "b@x.io", "age": int64(20), "active": true})
	createUser(t, c, nil, map[string]interface{}{"id": "c", "email": "c@x.io", "age": int64(40), "active": true})
	createUser(t, c, nil, map[string]interface{}{"id": "d", "email": "d@x.io", "age": int64(10), "active": true})

	q := userQuery()
	q.Sort = []query.SortField{
		{Field: "age", Direction: query.Descending},
		{Field: "id", Direction: query.Ascending},
	}
	q.Pagination = query.Pagination{Limit: 2, Offset: 1}

	rows := collect(t, c, q, nil)
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0]["id"])
	assert.Equal(t, "b", rows[1]["id"])
}

func TestConnector_CursorPagination(t *testing.T) {
	c := newTestConnector(t)

	createUser(t, c, nil, map[string]interface{}{"id": "a", "email": "a@x.io", "age": int64(1), "active": true})
	createUser(t, c, nil, map[string]interface{}{"id": "b", "email": "b@x.io", "age": int64(2), "active": true})
	createUser(t, c, nil, map[string]interface{}{"id": "c", "email": "c@x.io", "age": int64(3), "active": true})

	q := userQuery()
	q.Pagination = query.Pagination{Limit: 2, Cursor: &query.Cursor{Field: "id", Value: "a"}}

	rows := collect(t, c, q, nil)
	require.Len(t, rows, 2)
	assert.Equal(t, "b", rows[0]["id"])
	assert.Equal(t, "c", rows[1]["id"])

	// the row-comparison subquery turns a vanished cursor into an empty page
	q.Pagination.Cursor = &query.Cursor{Field: "id", Value: "zz"}
	assert.Empty(t, collect(t, c, q, nil))
}

func TestConnector_WriteLifecycle(t *testing.T) {
	c := newTestConnector(t)
	ctx := context.Background()

	createUser(t, c, nil, map[string]interface{}{"id": "a", "email": "a@x.io", "age": int64(30), "active": true})

	result, err := c.Write(ctx, &query.WriteOperation{
		Kind:       query.WriteUpdate,
		StorageKey: "user",
		PrimaryKey: "id",
		Filter:     query.FieldEquals("id", "a"),
		Values:     map[string]interface{}{"age": int64(31)},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Affected)
	assert.Equal(t, int64(31), result.Row["age"])
	assert.Equal(t, "a@x.io", result.Row["email"], "update returns the whole row")

	result, err = c.Write(ctx, &query.WriteOperation{
		Kind:       query.WriteDelete,
		StorageKey: "user",
		Filter:     query.FieldEquals("id", "a"),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Affected)
	assert.Empty(t, collect(t, c, userQuery(), nil))
}

func TestConnector_Upsert(t *testing.T) {
	c := newTestConnector(t)
	ctx := context.Background()

	op := &query.WriteOperation{
		Kind:       query.WriteUpsert,
		StorageKey: "user",
		PrimaryKey: "id",
		Filter:     query.FieldEquals("id", "a"),
		Values:     map[string]interface{}{"id": "a", "email": "a@x.io", "age": int64(30), "active": true},
	}

	result, err := c.Write(ctx, op, nil)
	require.NoError(t, err)
	assert.True(t, result.Created)

	op.Values["age"] = int64(31)
	result, err = c.Write(ctx, op, nil)
	require.NoError(t, err)
	assert.False(t, result.Created)
	assert.Equal(t, int64(31), result.Row["age"])
}

func TestConnector_UniqueViolation(t *testing.T) {
	c := newTestConnector(t)

	createUser(t, c, nil, map[string]interface{}{"id": "a", "email": "a@x.io", "age": int64(1), "active": true})
	_, err := c.Write(context.Background(), &query.WriteOperation{
		Kind:       query.WriteCreate,
		StorageKey: "user",
		PrimaryKey: "id",
		Values:     map[string]interface{}{"id": "b", "email": "a@x.io"},
	}, nil)
	require.Error(t, err)

	var engineErr *errors.EngineError
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, "duplicate_key", engineErr.Code)
}

func TestConnector_TransactionsAndSavepoints(t *testing.T) {
	c := newTestConnector(t)
	ctx := context.Background()

	session, err := c.Begin(ctx)
	require.NoError(t, err)
	createUser(t, c, session, map[string]interface{}{"id": "a", "email": "a@x.io", "age": int64(1), "active": true})

	sp, err := session.Savepoint(ctx)
	require.NoError(t, err)
	createUser(t, c, session, map[string]interface{}{"id": "b", "email": "b@x.io", "age": int64(2), "active": true})
	require.NoError(t, sp.Rollback(ctx))

	require.NoError(t, session.Commit(ctx))

	rows := collect(t, c, userQuery(), nil)
	require.Len(t, rows, 1)
	assert.Equal(t, "a", rows[0]["id"])
}

func TestConnector_RollbackDiscardsWrites(t *testing.T) {
	c := newTestConnector(t)
	ctx := context.Background()

	session, err := c.Begin(ctx)
	require.NoError(t, err)
	createUser(t, c, session, map[string]interface{}{"id": "a", "email": "a@x.io", "age": int64(1), "active": true})
	require.NoError(t, session.Rollback(ctx))

	assert.Empty(t, collect(t, c, userQuery(), nil))
}

func TestConnector_JoinedIncludes(t *testing.T) {
	c := newTestConnector(t)

	createUser(t, c, nil, map[string]interface{}{"id": "u1", "email": "a@x.io", "age": int64(1), "active": true})
	createUser(t, c, nil, map[string]interface{}{"id": "u2", "email": "b@x.io", "age": int64(2), "active": true})
	for i, title := range []string{"one", "two", "three"} {
		createPost(t, c, "p"+title, title, int64(i), "u1")
	}
	createPost(t, c, "orphan", "stray", 9, nil)

	reg := blogRegistry(t)
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

	rows := collect(t, c, q, nil)
	require.Len(t, rows, 2)

	posts, ok := rows[0]["posts"].([]connector.Row)
	require.True(t, ok)
	require.Len(t, posts, 2, "nested window bounds each parent")
	assert.Equal(t, "pone", posts[0]["id"])
	assert.Equal(t, int64(0), posts[0]["views"], "windowed rows keep their scan types")

	empty, ok := rows[1]["posts"].([]connector.Row)
	require.True(t, ok)
	assert.Empty(t, empty, "childless parent folds an empty list")
}

func TestConnector_IncludeToOne(t *testing.T) {
	c := newTestConnector(t)

	createUser(t, c, nil, map[string]interface{}{"id": "u1", "email": "a@x.io", "age": int64(1), "active": true})
	createPost(t, c, "p1", "one", 1, "u1")
	createPost(t, c, "p2", "two", 2, nil)

	reg := blogRegistry(t)
	post, err := reg.Resolve("Post")
	require.NoError(t, err)
	rel, ok := post.Relation("author")
	require.True(t, ok)

	q := &query.Query{
		Model:      "Post",
		StorageKey: "post",
		Sort:       []query.SortField{{Field: "id", Direction: query.Ascending}},
		Includes: []query.Include{{
			Relation: rel,
			Query:    &query.Query{Model: "User", StorageKey: "user"},
		}},
	}

	rows := collect(t, c, q, nil)
	require.Len(t, rows, 2)

	author, ok := rows[0]["author"].(connector.Row)
	require.True(t, ok)
	assert.Equal(t, "a@x.io", author["email"])
	assert.Nil(t, rows[1]["author"])
}

func TestConnector_Aggregation(t *testing.T) {
	c := newTestConnector(t)

	createUser(t, c, nil, map[string]interface{}{"id": "a", "email": "a@x.io", "age": int64(20), "active": true})
	createUser(t, c, nil, map[string]interface{}{"id": "b", "email": "b@x.io", "age": int64(40), "active": true})
	createUser(t, c, nil, map[string]interface{}{"id": "c", "email": "c@x.io", "age": int64(30), "active": false})

	q := userQuery()
	q.Sort = nil
	q.Aggregation = &query.Aggregation{
		Count:   true,
		Avg:     []string{"age"},
		Sum:     []string{"age"},
		GroupBy: []string{"active"},
	}

	rows := collect(t, c, q, nil)
	require.Len(t, rows, 2)

	assert.Equal(t, false, rows[0]["active"])
	assert.Equal(t, int64(1), rows[0]["count"])
	assert.Equal(t, true, rows[1]["active"])
	assert.Equal(t, int64(2), rows[1]["count"])
	assert.Equal(t, float64(30), rows[1]["avg.age"])
	assert.Equal(t, int64(60), rows[1]["sum.age"])
}

func TestConnector_AggregationHaving(t *testing.T) {
	c := newTestConnector(t)

	createUser(t, c, nil, map[string]interface{}{"id": "a", "email": "a@x.io", "age": int64(20), "active": true})
	createUser(t, c, nil, map[string]interface{}{"id": "b", "email": "b@x.io", "age": int64(40), "active": true})
	createUser(t, c, nil, map[string]interface{}{"id": "c", "email": "c@x.io", "age": int64(30), "active": false})

	q := userQuery()
	q.Sort = nil
	q.Aggregation = &query.Aggregation{
		Count:   true,
		GroupBy: []string{"active"},
		Having:  &query.Filter{Condition: &query.Condition{Field: "count", Op: query.OpGt, Value: int64(1)}},
	}

	rows := collect(t, c, q, nil)
	require.Len(t, rows, 1)
	assert.Equal(t, true, rows[0]["active"])
	assert.Equal(t, int64(2), rows[0]["count"])
}

func TestConnector_ContextCancelled(t *testing.T) {
	c := newTestConnector(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Execute(ctx, userQuery(), nil)
	assert.ErrorIs(t, err, context.Canceled)
}
