package logsource

import (
	"context"
	"time"
)

// Severity is the warehouse severity level of an event.
type Severity string

const (
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// DefaultSeverities are the levels the pipeline triages.
var DefaultSeverities = []Severity{SeverityError, SeverityCritical}

// ErrorEvent is one reported error occurrence. It is immutable once
// returned by the Adapter.
type ErrorEvent struct {
	// Signature is a display identity; it does not guarantee uniqueness.
	Signature string         `json:"signature"`
	Timestamp time.Time      `json:"timestamp"`
	Service   string         `json:"service"`
	Severity  Severity       `json:"severity"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Query selects events from the warehouse.
type Query struct {
	After      time.Time // exclusive
	Severities []Severity
	Limit      int
}

// Warehouse is a read-only source of error events. Implementations return
// events newest first and at most q.Limit of them.
type Warehouse interface {
	Query(ctx context.Context, q Query) ([]ErrorEvent, error)
}

// CursorStore persists the fetch watermark.
type CursorStore interface {
	GetCursor(ctx context.Context) (time.Time, error)
	SetCursor(ctx context.Context, t time.Time) error
}
