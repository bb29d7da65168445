package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"data-engine/internal/config"
	"data-engine/internal/connector"
	"data-engine/internal/connector/postgres"
	"data-engine/internal/connector/sqlite"
	"data-engine/internal/schema"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema DDL to the configured SQL backend",
		Long: `Compile the schema description named by ENGINE_SCHEMA_PATH and create
its tables and indexes on the chosen backend. The statements are
idempotent, so re-running against an already migrated database is safe.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			backend, err := cmd.Flags().GetString("backend")
			if err != nil {
				return err
			}
			return runMigrate(cmd, backend)
		},
	}

	cmd.Flags().String("backend", "sqlite", "SQL backend to migrate (sqlite|postgres)")

	return cmd
}

func runMigrate(cmd *cobra.Command, backend string) error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}

	registry, err := schema.LoadRegistry(cfg.SchemaPath)
	if err != nil {
		return err
	}

	// both constructors apply the DDL before returning
	var conn connector.Connector
	switch backend {
	case "sqlite":
		conn, err = sqlite.NewConnector(&sqlite.Config{Path: cfg.SQLitePath, Models: registry})
	case "postgres":
		if cfg.PostgresDSN == "" {
			return fmt.Errorf("migrating postgres requires ENGINE_POSTGRES_DSN")
		}
		conn, err = postgres.NewConnector(&postgres.Config{DSN: cfg.PostgresDSN, Models: registry})
	default:
		return fmt.Errorf("unknown backend %q, want sqlite or postgres", backend)
	}
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.Health(cmd.Context()); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	names := registry.Models()
	sort.Strings(names)
	for _, name := range names {
		model, err := registry.Resolve(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "  %s -> table %q\n", name, model.StorageKey())
	}
	fmt.Fprintf(out, "Migrated %d models on %s\n", len(names), backend)
	return nil
}
