package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"data-engine/internal/schema"
)

func newSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect and validate schema descriptions",
	}
	cmd.AddCommand(newSchemaValidateCmd())
	return cmd
}

func newSchemaValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Compile a schema description and report what it declares",
		Long: `Load a JSON schema description, run the full compilation the engine
runs at startup and print the resolved models. A description that fails
here would fail engine startup with the same error.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchemaValidate(cmd, args[0])
		},
	}
}

var pipelineEvents = []schema.Event{
	schema.EventBeforeValidate,
	schema.EventValidate,
	schema.EventBeforeSave,
	schema.EventAfterSave,
	schema.EventBeforeDelete,
	schema.EventAfterDelete,
	schema.EventBeforeResponse,
}

func runSchemaValidate(cmd *cobra.Command, path string) error {
	registry, err := schema.LoadRegistry(path)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	names := registry.Models()
	sort.Strings(names)

	fmt.Fprintf(out, "%s: %d models\n", path, len(names))
	for _, name := range names {
		model, err := registry.Resolve(name)
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "  %s (storage key %q)\n", model.Name(), model.StorageKey())
		fmt.Fprintf(out, "    primary key: %s\n", model.PrimaryKey().Name)
		fmt.Fprintf(out, "    fields: %d\n", len(model.Fields()))
		if relations := model.Relations(); len(relations) > 0 {
			for _, rel := range relations {
				fmt.Fprintf(out, "    relation %s -> %s (%s)\n", rel.Name, rel.Target, rel.Cardinality)
			}
		}
		for _, event := range pipelineEvents {
			if steps := model.Pipeline(event); len(steps) > 0 {
				fmt.Fprintf(out, "    pipeline %s: %d steps\n", event, len(steps))
			}
		}
	}

	fmt.Fprintln(out, "Schema is valid")
	return nil
}
