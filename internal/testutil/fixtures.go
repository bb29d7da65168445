package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"data-engine/internal/connector"
	"data-engine/internal/connector/memory"
	"data-engine/internal/query"
	"data-engine/internal/schema"
)

// BlogDescription is the canonical two-model schema used across tests:
// users with unique emails and their posts.
func BlogDescription() *schema.Description {
	return NewSchemaBuilder().
		WithModel(NewModelBuilder("User").
			WithIDField().
			WithUniqueField("email", "string").
			WithField("age", "int").
			WithField("active", "bool").
			WithNullableField("joined", "datetime").
			WithRelation("posts", "Post", "many", "authorId")).
		WithModel(NewModelBuilder("Post").
			WithIDField().
			WithField("title", "string").
			WithField("views", "int").
			WithNullableField("authorId", "string").
			WithRelation("author", "User", "one", "authorId")).
		Description()
}

// BlogRegistry compiles the canonical schema
func BlogRegistry(t testing.TB) *schema.Registry {
	t.Helper()
	reg, err := schema.NewRegistry(BlogDescription())
	require.NoError(t, err)
	return reg
}

// SeedUsers returns three deterministic user rows
func SeedUsers() []connector.Row {
	joined := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	return []connector.Row{
		{"id": "u1", "email": "ada@example.com", "age": int64(36), "active": true, "joined": joined},
		{"id": "u2", "email": "grace@example.com", "age": int64(45), "active": true, "joined": joined.AddDate(0, 1, 0)},
		{"id": "u3", "email": "edsger@example.com", "age": int64(72), "active": false, "joined": nil},
	}
}

// SeedPosts returns post rows referencing the seed users; one is orphaned
func SeedPosts() []connector.Row {
	return []connector.Row{
		{"id": "p1", "title": "On Compilers", "views": int64(120), "authorId": "u1"},
		{"id": "p2", "title": "On Debugging", "views": int64(80), "authorId": "u1"},
		{"id": "p3", "title": "On Structure", "views": int64(200), "authorId": "u2"},
		{"id": "p4", "title": "Unattributed", "views": int64(5), "authorId": nil},
	}
}

// SeedConnector returns a memory connector loaded with the canonical rows
func SeedConnector(t testing.TB) *memory.Connector {
	t.Helper()
	conn, err := memory.NewConnector(&memory.Config{})
	require.NoError(t, err)

	seed := func(storageKey string, rows []connector.Row) {
		for _, row := range rows {
			_, err := conn.Write(context.Background(), &query.WriteOperation{
				Kind:       query.WriteCreate,
				StorageKey: storageKey,
				PrimaryKey: "id",
				Values:     row,
			}, nil)
			require.NoError(t, err)
		}
	}
	seed("user", SeedUsers())
	seed("post", SeedPosts())
	return conn
}
