package logsource

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// MemoryCursor keeps the cursor in process memory.
type MemoryCursor struct {
	mu sync.Mutex
	t  time.Time
}

// NewMemoryCursor returns a cursor seeded with start.
func NewMemoryCursor(start time.Time) *MemoryCursor {
	return &MemoryCursor{t: start}
}

func (m *MemoryCursor) GetCursor(context.Context) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t, nil
}

func (m *MemoryCursor) SetCursor(_ context.Context, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t = t
	return nil
}

// BadgerCursor persists the cursor under cursor/<source>.
type BadgerCursor struct {
	db  *badger.DB
	key []byte
}

// NewBadgerCursor returns a cursor stored in db for the named source.
func NewBadgerCursor(db *badger.DB, source string) *BadgerCursor {
	if source == "" {
		source = "default"
	}
	return &BadgerCursor{db: db, key: []byte("cursor/" + source)}
}

// GetCursor returns the stored cursor, or the zero time if none is stored.
func (b *BadgerCursor) GetCursor(context.Context) (time.Time, error) {
	var t time.Time
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(b.key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			parsed, err := time.Parse(time.RFC3339Nano, string(v))
			if err != nil {
				return fmt.Errorf("corrupt cursor value %q: %w", v, err)
			}
			t = parsed
			return nil
		})
	})
	return t, err
}

// SetCursor stores t.
func (b *BadgerCursor) SetCursor(_ context.Context, t time.Time) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(b.key, []byte(t.UTC().Format(time.RFC3339Nano)))
	})
}
