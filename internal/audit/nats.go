package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSStore publishes each record to <prefix>.<kind>.
type NATSStore struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSStore returns a store publishing on nc.
func NewNATSStore(nc *nats.Conn, prefix string) *NATSStore {
	if prefix == "" {
		prefix = "triaged.audit"
	}
	return &NATSStore{nc: nc, prefix: prefix}
}

// Subject returns the subject records of kind are published to.
func (n *NATSStore) Subject(kind Kind) string {
	return n.prefix + "." + string(kind)
}

func (n *NATSStore) Append(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	if err := n.nc.Publish(n.Subject(rec.Kind), data); err != nil {
		return fmt.Errorf("publish audit record: %w", err)
	}
	return nil
}
