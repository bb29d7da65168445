package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"data-engine/internal/connector"
	"data-engine/internal/query"
	"data-engine/internal/testutil"
)

func newMockEngine(t *testing.T, mock *testutil.MockConnector) *Engine {
	t.Helper()
	eng, err := New(Options{Registry: testutil.BlogRegistry(t), Connector: mock})
	require.NoError(t, err)
	return eng
}

func TestConnectorWriteFailureAbortsCreate(t *testing.T) {
	mock, err := testutil.NewMockConnector("flaky")
	require.NoError(t, err)
	eng := newMockEngine(t, mock)

	mock.ErrorOnMethod["Write"] = fmt.Errorf("disk full")

	_, err = eng.Create(context.Background(), "User", map[string]interface{}{
		"email": "ada@example.com",
		"age":   36,
	})
	require.Error(t, err)
	assert.ErrorContains(t, err, "disk full")

	calls := mock.Calls()
	assert.Contains(t, calls, "Begin")
	assert.Contains(t, calls, "Write")

	// nothing persisted once the injection is lifted
	delete(mock.ErrorOnMethod, "Write")
	count, err := eng.Count(context.Background(), "User", query.RawQuery{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestConnectorExecuteFailureAbortsRead(t *testing.T) {
	mock, err := testutil.NewMockConnector("flaky")
	require.NoError(t, err)
	eng := newMockEngine(t, mock)

	mock.ErrorOnMethod["Execute"] = fmt.Errorf("socket reset")

	_, err = eng.FindMany(context.Background(), "User", query.RawQuery{})
	require.Error(t, err)
	assert.ErrorContains(t, err, "socket reset")
}

func TestAutoCommitBackendSkipsBegin(t *testing.T) {
	mock, err := testutil.NewMockConnector("plain")
	require.NoError(t, err)
	mock.WithCapabilities(connector.Capabilities{})
	eng := newMockEngine(t, mock)

	rec, err := eng.Create(context.Background(), "User", map[string]interface{}{
		"email": "grace@example.com",
		"age":   45,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.Data["id"])

	assert.NotContains(t, mock.Calls(), "Begin")

	count, err := eng.Count(context.Background(), "User", query.RawQuery{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestSeededFixtureServesRelationTrees(t *testing.T) {
	eng, err := New(Options{Registry: testutil.BlogRegistry(t), Connector: testutil.SeedConnector(t)})
	require.NoError(t, err)

	result, err := eng.FindMany(context.Background(), "User", query.RawQuery{
		Sort:    []map[string]string{{"id": "asc"}},
		Include: map[string]interface{}{"posts": true},
	})
	require.NoError(t, err)
	require.Len(t, result.Data, len(testutil.SeedUsers()))

	perUser := map[string]int{}
	for _, row := range result.Data {
		posts, ok := row["posts"].([]connector.Row)
		require.True(t, ok, "posts should assemble as a row list")
		perUser[row["id"].(string)] = len(posts)
	}
	assert.Equal(t, map[string]int{"u1": 2, "u2": 1, "u3": 0}, perUser)

	orphan, err := eng.FindUnique(context.Background(), "Post", query.RawQuery{
		Filter:  map[string]interface{}{"id": "p4"},
		Include: map[string]interface{}{"author": true},
	})
	require.NoError(t, err)
	assert.Nil(t, orphan.Data["author"])
}

func TestConcurrentRequestsStayIsolated(t *testing.T) {
	eng := newBlogEngine(t, nil)

	const writers = 16
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < writers; i++ {
		email := fmt.Sprintf("writer-%02d@example.com", i)
		g.Go(func() error {
			rec, err := eng.Create(ctx, "User", map[string]interface{}{
				"email": email,
				"name":  "load test",
			})
			if err != nil {
				return err
			}
			read, err := eng.FindUnique(ctx, "User", query.RawQuery{
				Filter: map[string]interface{}{"email": email},
			})
			if err != nil {
				return err
			}
			if read.Data["id"] != rec.Data["id"] {
				return fmt.Errorf("read back %v after creating %v", read.Data["id"], rec.Data["id"])
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	// every committed write survives its neighbours
	count, err := eng.Count(context.Background(), "User", query.RawQuery{})
	require.NoError(t, err)
	assert.Equal(t, int64(writers), count)
}

func TestHealthFailurePropagates(t *testing.T) {
	mock, err := testutil.NewMockConnector("down")
	require.NoError(t, err)
	eng := newMockEngine(t, mock)

	mock.ErrorOnMethod["Health"] = fmt.Errorf("connection refused")
	assert.ErrorContains(t, eng.Health(context.Background()), "connection refused")
}