package logsource

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/triaged/internal/logging"
)

const (
	// DefaultBatchSize caps each fetch.
	DefaultBatchSize = 10

	signaturePrefixLen = 80
)

// Adapter fetches new events and owns the cursor.
type Adapter struct {
	warehouse  Warehouse
	cursor     CursorStore
	batchSize  int
	severities []Severity
	logger     *logging.Logger
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithBatchSize overrides DefaultBatchSize.
func WithBatchSize(n int) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.batchSize = n
		}
	}
}

// WithSeverities overrides DefaultSeverities.
func WithSeverities(s ...Severity) Option {
	return func(a *Adapter) {
		if len(s) > 0 {
			a.severities = s
		}
	}
}

// WithLogger sets the adapter logger.
func WithLogger(l *logging.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAdapter creates an Adapter over warehouse and cursor.
func NewAdapter(warehouse Warehouse, cursor CursorStore, opts ...Option) *Adapter {
	a := &Adapter{
		warehouse:  warehouse,
		cursor:     cursor,
		batchSize:  DefaultBatchSize,
		severities: DefaultSeverities,
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// FetchRecentEvents returns up to the batch size of events newer than the
// cursor, newest first, and advances the cursor to the newest timestamp in
// the batch. The cursor never moves backwards. On a query error the cursor
// is unchanged.
func (a *Adapter) FetchRecentEvents(ctx context.Context) ([]ErrorEvent, error) {
	after, err := a.cursor.GetCursor(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading cursor: %w", err)
	}

	events, err := a.warehouse.Query(ctx, Query{
		After:      after,
		Severities: a.severities,
		Limit:      a.batchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("querying warehouse after %s: %w", after.Format(time.RFC3339Nano), err)
	}
	if len(events) == 0 {
		return nil, nil
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.After(events[j].Timestamp)
	})
	if len(events) > a.batchSize {
		events = events[:a.batchSize]
	}

	newest := events[0].Timestamp
	if newest.After(after) {
		if err := a.cursor.SetCursor(ctx, newest); err != nil {
			return nil, fmt.Errorf("advancing cursor: %w", err)
		}
	}

	for i := range events {
		if events[i].Signature == "" {
			events[i].Signature = DeriveSignature(events[i].Service, events[i].Message)
		}
	}

	a.logger.Debug(ctx, "fetched events",
		zap.Int("count", len(events)),
		zap.Time("cursor.previous", after),
		zap.Time("cursor.current", newest),
	)
	return events, nil
}

// DeriveSignature builds a display signature from the service name and the
// first line of the message, truncated to a fixed number of runes.
func DeriveSignature(service, message string) string {
	line := strings.TrimSpace(message)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	if utf8.RuneCountInString(line) > signaturePrefixLen {
		runes := []rune(line)
		line = string(runes[:signaturePrefixLen])
	}
	if service == "" {
		service = "unknown"
	}
	return service + ": " + line
}
