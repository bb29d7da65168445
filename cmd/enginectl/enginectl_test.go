package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"data-engine/internal/schema"
	"data-engine/internal/testutil"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func writeSchemaFile(t *testing.T, desc *schema.Description) string {
	t.Helper()
	data, err := json.Marshal(desc)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "schema.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	names := map[string]bool{}
	for _, sub := range newRootCmd().Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"schema", "migrate", "smoke"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestSchemaValidateReportsModels(t *testing.T) {
	path := writeSchemaFile(t, testutil.BlogDescription())

	out, err := runCommand(t, "schema", "validate", path)
	require.NoError(t, err)

	assert.Contains(t, out, "2 models")
	assert.Contains(t, out, "User")
	assert.Contains(t, out, "relation posts -> Post (many)")
	assert.Contains(t, out, "Schema is valid")
}

func TestSchemaValidatePrintsPipelines(t *testing.T) {
	desc := testutil.NewSchemaBuilder().
		WithModel(testutil.NewModelBuilder("Account").
			WithGeneratedID().
			WithRequiredField("email", "string").
			WithPipeline("before-save", testutil.Step("fold", "transform", map[string]interface{}{
				"field": "email", "operation": "lowercase",
			}))).
		Description()
	path := writeSchemaFile(t, desc)

	out, err := runCommand(t, "schema", "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "pipeline before-save: 1 steps")
}

func TestSchemaValidateRejectsBrokenDescription(t *testing.T) {
	desc := testutil.NewSchemaBuilder().
		WithModel(testutil.NewModelBuilder("User").
			WithIDField().
			WithRelation("posts", "Ghost", "many", "authorId")).
		Description()
	path := writeSchemaFile(t, desc)

	_, err := runCommand(t, "schema", "validate", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown model "Ghost"`)
}

func TestSchemaValidateMissingFile(t *testing.T) {
	_, err := runCommand(t, "schema", "validate", filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open schema file")
}

func TestSmokeRunsCleanly(t *testing.T) {
	out, err := runCommand(t, "smoke", "--tickets", "10", "--writers", "2")
	require.NoError(t, err)

	assert.Contains(t, out, "count: 10")
	assert.Contains(t, out, "upsert: created then updated the probe row")
	assert.Contains(t, out, "Smoke exercise passed")
}

func TestSmokeRejectsBadFlags(t *testing.T) {
	_, err := runCommand(t, "smoke", "--tickets", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be positive")
}

func TestMigrateSqlite(t *testing.T) {
	path := writeSchemaFile(t, testutil.BlogDescription())
	t.Setenv("ENGINE_SCHEMA_PATH", path)
	t.Setenv("ENGINE_SQLITE_PATH", filepath.Join(t.TempDir(), "engine.db"))

	out, err := runCommand(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, `User -> table "user"`)
	assert.Contains(t, out, "Migrated 2 models on sqlite")

	// statements are IF NOT EXISTS, a second run is a no-op
	_, err = runCommand(t, "migrate")
	require.NoError(t, err)
}

func TestMigrateUnknownBackend(t *testing.T) {
	_, err := runCommand(t, "migrate", "--backend", "mysql")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend")
}