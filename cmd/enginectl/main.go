// Package main provides enginectl, the operator CLI for the data engine.
// It validates schema descriptions, applies SQL migrations and runs an
// end-to-end smoke exercise against an in-memory backend.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"data-engine/internal/common/logging"
	"data-engine/internal/config"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "enginectl",
		Short: "Operator tooling for the data engine",
		Long: `enginectl works against the same schema descriptions and backends the
engine serves. Configuration comes from ENGINE_* environment variables,
with an optional .env file in the working directory.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newSchemaCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newSmokeCmd())

	return root
}

func main() {
	// missing .env is fine, the environment may carry everything
	_ = godotenv.Load()

	cfg := config.Load()

	logger, err := logging.NewZapLogger(logging.LogConfig{Level: logging.ParseLevel(cfg.LogLevel)})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobalLogger(logger)
	defer logging.MustSync()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
