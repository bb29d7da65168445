package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"data-engine/internal/connector/memory"
	"data-engine/internal/engine"
	"data-engine/internal/query"
	"data-engine/internal/schema"
)

func newSmokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Run an end-to-end exercise against an in-memory backend",
		Long: `Create, query, update, aggregate and delete rows through the full
engine stack backed by the in-memory connector. The create phase fans out
over concurrent writers, so the run also exercises transaction isolation.
A non-zero exit means some step returned the wrong result.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tickets, err := cmd.Flags().GetInt("tickets")
			if err != nil {
				return err
			}
			writers, err := cmd.Flags().GetInt("writers")
			if err != nil {
				return err
			}
			if tickets < 1 || writers < 1 {
				return fmt.Errorf("tickets and writers must be positive")
			}
			return runSmoke(cmd, tickets, writers)
		},
	}

	cmd.Flags().Int("tickets", 24, "rows to create during the fan-out phase")
	cmd.Flags().Int("writers", 4, "concurrent writers during the fan-out phase")

	return cmd
}

// smokeDescription is a self-contained schema so the command needs no
// schema file on disk.
func smokeDescription() *schema.Description {
	return &schema.Description{
		Models: []schema.ModelDescription{
			{
				Name: "Ticket",
				Fields: []schema.FieldDescription{
					{Name: "id", Type: "string", PrimaryKey: true, Default: &schema.DefaultDescription{Kind: "cuid"}},
					{Name: "subject", Type: "string", Required: true},
					{Name: "priority", Type: "int"},
					{Name: "open", Type: "bool"},
				},
			},
		},
	}
}

func runSmoke(cmd *cobra.Command, tickets, writers int) error {
	out := cmd.OutOrStdout()
	ctx := cmd.Context()
	start := time.Now()

	registry, err := schema.NewRegistry(smokeDescription())
	if err != nil {
		return err
	}
	conn, err := memory.NewConnector(memory.DefaultConfig())
	if err != nil {
		return err
	}
	eng, err := engine.New(engine.Options{Registry: registry, Connector: conn})
	if err != nil {
		return err
	}
	defer eng.Close()

	fmt.Fprintln(out, "Running smoke exercise against the in-memory backend")

	ids, err := smokeCreate(ctx, eng, tickets, writers)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "  created %d tickets with %d writers\n", len(ids), writers)

	total, err := eng.Count(ctx, "Ticket", query.RawQuery{})
	if err != nil {
		return err
	}
	if total != int64(tickets) {
		return fmt.Errorf("count after create: want %d, got %d", tickets, total)
	}
	fmt.Fprintf(out, "  count: %d\n", total)

	if err := smokeQuery(ctx, eng, out); err != nil {
		return err
	}
	if err := smokeUpdate(ctx, eng, out, ids[0]); err != nil {
		return err
	}
	if err := smokeUpsert(ctx, eng, out); err != nil {
		return err
	}
	if err := smokeAggregate(ctx, eng, out); err != nil {
		return err
	}
	if err := smokeDelete(ctx, eng, out, ids); err != nil {
		return err
	}

	fmt.Fprintf(out, "Smoke exercise passed in %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}

func smokeCreate(ctx context.Context, eng *engine.Engine, tickets, writers int) ([]string, error) {
	ids := make([]string, tickets)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(writers)
	for i := 0; i < tickets; i++ {
		g.Go(func() error {
			record, err := eng.Create(ctx, "Ticket", map[string]interface{}{
				"subject":  fmt.Sprintf("ticket-%03d", i),
				"priority": i % 5,
				"open":     i%2 == 0,
			})
			if err != nil {
				return err
			}
			id, ok := record.Data["id"].(string)
			if !ok || id == "" {
				return fmt.Errorf("create returned no generated id: %v", record.Data["id"])
			}
			ids[i] = id
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ids, nil
}

func smokeQuery(ctx context.Context, eng *engine.Engine, out io.Writer) error {
	take := 10
	result, err := eng.FindMany(ctx, "Ticket", query.RawQuery{
		Filter: map[string]interface{}{"priority": map[string]interface{}{"gte": 3}},
		Sort:   []map[string]string{{"priority": "desc"}},
		Take:   &take,
	})
	if err != nil {
		return err
	}
	if len(result.Data) == 0 {
		return fmt.Errorf("filtered query returned no rows")
	}
	first, _ := result.Data[0]["priority"].(int64)
	last, _ := result.Data[len(result.Data)-1]["priority"].(int64)
	if first < last {
		return fmt.Errorf("sort order broken: first priority %d before %d", first, last)
	}
	fmt.Fprintf(out, "  priority >= 3: %d rows, sorted descending\n", len(result.Data))
	return nil
}

func smokeUpdate(ctx context.Context, eng *engine.Engine, out io.Writer, id string) error {
	updated, err := eng.Update(ctx, "Ticket", map[string]interface{}{"id": id}, map[string]interface{}{"open": false})
	if err != nil {
		return err
	}
	if open, _ := updated.Data["open"].(bool); open {
		return fmt.Errorf("update did not close ticket %s", id)
	}

	fetched, err := eng.FindUnique(ctx, "Ticket", query.RawQuery{
		Filter: map[string]interface{}{"id": id},
	})
	if err != nil {
		return err
	}
	if open, _ := fetched.Data["open"].(bool); open {
		return fmt.Errorf("read after update still shows ticket %s open", id)
	}
	fmt.Fprintf(out, "  updated %s: open=false\n", id)
	return nil
}

func smokeUpsert(ctx context.Context, eng *engine.Engine, out io.Writer) error {
	where := map[string]interface{}{"id": "smoke-probe"}
	create := map[string]interface{}{
		"id":       "smoke-probe",
		"subject":  "probe",
		"priority": 1,
		"open":     true,
	}
	update := map[string]interface{}{"priority": 9}

	if _, err := eng.Upsert(ctx, "Ticket", where, create, update); err != nil {
		return err
	}
	second, err := eng.Upsert(ctx, "Ticket", where, create, update)
	if err != nil {
		return err
	}
	if priority, _ := second.Data["priority"].(int64); priority != 9 {
		return fmt.Errorf("second upsert should update priority to 9, got %v", second.Data["priority"])
	}
	fmt.Fprintln(out, "  upsert: created then updated the probe row")
	return nil
}

func smokeAggregate(ctx context.Context, eng *engine.Engine, out io.Writer) error {
	result, err := eng.Aggregate(ctx, "Ticket", query.RawQuery{
		Aggregate: &query.RawAggregation{
			Count:   true,
			Avg:     []string{"priority"},
			GroupBy: []string{"open"},
		},
	})
	if err != nil {
		return err
	}
	if len(result.Data) == 0 || len(result.Data) > 2 {
		return fmt.Errorf("grouping by a boolean should yield one or two groups, got %d", len(result.Data))
	}
	for _, group := range result.Data {
		fmt.Fprintf(out, "  open=%v: count=%v avg(priority)=%v\n", group["open"], group["count"], group["avg.priority"])
	}
	return nil
}

func smokeDelete(ctx context.Context, eng *engine.Engine, out io.Writer, ids []string) error {
	deleted := 0
	for _, id := range append(ids, "smoke-probe") {
		if _, err := eng.Delete(ctx, "Ticket", map[string]interface{}{"id": id}); err != nil {
			return err
		}
		deleted++
	}

	remaining, err := eng.Count(ctx, "Ticket", query.RawQuery{})
	if err != nil {
		return err
	}
	if remaining != 0 {
		return fmt.Errorf("%d rows survived the delete phase", remaining)
	}
	fmt.Fprintf(out, "  deleted %d rows, none remain\n", deleted)
	return nil
}
