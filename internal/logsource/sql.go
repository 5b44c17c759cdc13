package logsource

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// SQLWarehouse reads events from a table with the columns
// "timestamp" (unix microseconds), service, severity, message,
// metadata (JSON text) and signature (nullable).
//
// Any database/sql driver that accepts ? placeholders works; the binary
// registers sqlite (modernc.org/sqlite) and duckdb.
type SQLWarehouse struct {
	db    *sql.DB
	table string
}

// NewSQLWarehouse wraps db. The table name is validated because it is
// interpolated into the query text.
func NewSQLWarehouse(db *sql.DB, table string) (*SQLWarehouse, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid warehouse table name %q", table)
	}
	return &SQLWarehouse{db: db, table: table}, nil
}

// EnsureSchema creates the events table and its timestamp index.
func (w *SQLWarehouse) EnsureSchema(ctx context.Context) error {
	index := strings.ReplaceAll(w.table, ".", "_") + "_severity_ts"
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			"timestamp" BIGINT NOT NULL,
			service     TEXT NOT NULL,
			severity    TEXT NOT NULL,
			message     TEXT NOT NULL,
			metadata    TEXT,
			signature   TEXT
		)`, w.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (severity, "timestamp")`, index, w.table),
	}
	for _, stmt := range stmts {
		if _, err := w.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating warehouse schema: %w", err)
		}
	}
	return nil
}

// Insert writes one event. Used by the seed command and tests.
func (w *SQLWarehouse) Insert(ctx context.Context, e ErrorEvent) error {
	var meta any
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("encoding metadata: %w", err)
		}
		meta = string(b)
	}
	var sig any
	if e.Signature != "" {
		sig = e.Signature
	}
	_, err := w.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s ("timestamp", service, severity, message, metadata, signature) VALUES (?, ?, ?, ?, ?, ?)`, w.table),
		e.Timestamp.UnixMicro(), e.Service, string(e.Severity), e.Message, meta, sig,
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

// Query implements Warehouse.
func (w *SQLWarehouse) Query(ctx context.Context, q Query) ([]ErrorEvent, error) {
	if len(q.Severities) == 0 {
		q.Severities = DefaultSeverities
	}
	if q.Limit <= 0 {
		q.Limit = DefaultBatchSize
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(q.Severities)), ", ")
	query := fmt.Sprintf(
		`SELECT "timestamp", service, severity, message, metadata, signature FROM %s `+
			`WHERE severity IN (%s) AND "timestamp" > ? ORDER BY "timestamp" DESC LIMIT ?`,
		w.table, placeholders,
	)

	args := make([]any, 0, len(q.Severities)+2)
	for _, s := range q.Severities {
		args = append(args, string(s))
	}
	args = append(args, q.After.UnixMicro(), q.Limit)

	rows, err := w.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", w.table, err)
	}
	defer rows.Close()

	var events []ErrorEvent
	for rows.Next() {
		var (
			micros    int64
			e         ErrorEvent
			severity  string
			metadata  sql.NullString
			signature sql.NullString
		)
		if err := rows.Scan(&micros, &e.Service, &severity, &e.Message, &metadata, &signature); err != nil {
			return nil, fmt.Errorf("scan %s: %w", w.table, err)
		}
		e.Timestamp = time.UnixMicro(micros).UTC()
		e.Severity = Severity(severity)
		e.Signature = signature.String
		e.Metadata = decodeMetadata(metadata)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", w.table, err)
	}
	return events, nil
}

// decodeMetadata parses the metadata column. Text that is not a JSON
// object is kept under "_raw".
func decodeMetadata(s sql.NullString) map[string]any {
	if !s.Valid || strings.TrimSpace(s.String) == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return map[string]any{"_raw": s.String}
	}
	return m
}
