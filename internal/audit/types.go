// Package audit records the outcome of every remediation attempt.
//
// A Sink never reports failure to its caller. The Recorder stamps each
// record, hands it to a Store and logs any storage error. Stores exist for
// tests (MemoryStore), the local trail (BadgerStore, FileStore) and
// downstream consumers (NATSStore). Multi fans a record out to several.
package audit

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/triaged/internal/logsource"
)

// Kind classifies an audit record.
type Kind string

const (
	KindNoAction    Kind = "no_action"
	KindPolicyBlock Kind = "policy_block"
	KindPRCreated   Kind = "pr_created"
	KindPRFailed    Kind = "pr_failed"
)

// Kinds lists every record kind.
var Kinds = []Kind{KindNoAction, KindPolicyBlock, KindPRCreated, KindPRFailed}

// Record is one persisted audit entry.
type Record struct {
	ID        string               `json:"id"`
	Kind      Kind                 `json:"kind"`
	Event     logsource.ErrorEvent `json:"event"`
	Extra     map[string]any       `json:"extra,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// Sink accepts audit records. Implementations swallow their own errors.
type Sink interface {
	Record(ctx context.Context, kind Kind, event logsource.ErrorEvent, extra map[string]any)
}

// Store persists records.
type Store interface {
	Append(ctx context.Context, rec Record) error
}

// Lister is implemented by stores that can read back recent records.
type Lister interface {
	List(ctx context.Context, limit int) ([]Record, error)
}
