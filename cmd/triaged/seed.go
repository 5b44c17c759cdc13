package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/triaged/internal/logsource"
)

var (
	seedDriver string
	seedDSN    string
	seedTable  string
	seedSample bool
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create the warehouse schema for local testing",
	Long: `Create the error log table and its index in a local warehouse.
With --sample, one ERROR event with a Node stack trace is inserted so a
single "triaged once" has something to work on.

Examples:
  triaged seed --dsn ./logs.db --sample
  triaged seed --driver duckdb --dsn ./logs.duckdb`,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().StringVar(&seedDriver, "driver", "sqlite", "Warehouse driver (sqlite or duckdb)")
	seedCmd.Flags().StringVar(&seedDSN, "dsn", "", "Warehouse data source name")
	seedCmd.Flags().StringVar(&seedTable, "table", "error_logs", "Events table name")
	seedCmd.Flags().BoolVar(&seedSample, "sample", false, "Insert a sample error event")
	_ = seedCmd.MarkFlagRequired("dsn")
}

func runSeed(cmd *cobra.Command, args []string) error {
	if seedDriver != "sqlite" && seedDriver != "duckdb" {
		return fmt.Errorf("unsupported driver %q", seedDriver)
	}
	db, err := sql.Open(seedDriver, seedDSN)
	if err != nil {
		return fmt.Errorf("failed to open warehouse: %w", err)
	}
	defer db.Close()

	if err := seedWarehouse(cmd.Context(), db, seedTable, seedSample, time.Now()); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Seeded %s table %s\n", seedDriver, seedTable)
	return nil
}

// sampleEvent is a typical Node crash, trimmed to the first frames.
func sampleEvent(now time.Time) logsource.ErrorEvent {
	return logsource.ErrorEvent{
		Timestamp: now.UTC(),
		Service:   "api",
		Severity:  logsource.SeverityError,
		Message: "TypeError: Cannot read properties of undefined (reading 'id')\n" +
			"    at getUser (/app/src/users/service.ts:42:18)\n" +
			"    at handler (/app/src/users/routes.ts:17:9)",
		Metadata: map[string]any{"request_id": "req-123", "route": "/users/:id"},
	}
}

func seedWarehouse(ctx context.Context, db *sql.DB, table string, sample bool, now time.Time) error {
	wh, err := logsource.NewSQLWarehouse(db, table)
	if err != nil {
		return err
	}
	if err := wh.EnsureSchema(ctx); err != nil {
		return err
	}
	if !sample {
		return nil
	}
	return wh.Insert(ctx, sampleEvent(now))
}
