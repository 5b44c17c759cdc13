package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// BadgerStore appends records under <collection>/<ts-nanos>-<uuid>.
// Keys sort by time, so a reverse prefix scan yields newest first.
type BadgerStore struct {
	db     *badger.DB
	prefix []byte
}

// NewBadgerStore returns a store writing to db in the named collection.
func NewBadgerStore(db *badger.DB, collection string) *BadgerStore {
	if collection == "" {
		collection = "triage_audit"
	}
	return &BadgerStore{db: db, prefix: []byte(collection + "/")}
}

func (b *BadgerStore) key(rec Record) []byte {
	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	// Zero-padded so lexical order matches numeric order.
	return []byte(fmt.Sprintf("%s%020d-%s", b.prefix, rec.Timestamp.UnixNano(), id))
}

// Append writes rec. Existing keys are never overwritten.
func (b *BadgerStore) Append(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	key := b.key(rec)
	return b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("audit key %s already exists", key)
		}
		return txn.Set(key, data)
	})
}

// List returns up to limit records, newest first. A limit <= 0 returns all.
func (b *BadgerStore) List(ctx context.Context, limit int) ([]Record, error) {
	var out []Record
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = b.prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts at the last key with the prefix.
		seek := append(append([]byte{}, b.prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(b.prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec Record
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &rec)
			}); err != nil {
				return fmt.Errorf("decode audit record %s: %w", it.Item().Key(), err)
			}
			out = append(out, rec)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out, err
}
