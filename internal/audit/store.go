package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// MemoryStore keeps records in memory.
type MemoryStore struct {
	mu      sync.Mutex
	records []Record
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Append(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

// Records returns a copy of everything appended so far, oldest first.
func (m *MemoryStore) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}

// List returns up to limit records, newest first. A limit <= 0 returns all.
func (m *MemoryStore) List(_ context.Context, limit int) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.records)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Record, 0, n)
	for i := len(m.records) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, m.records[i])
	}
	return out, nil
}

// Multi appends to every store and joins their errors.
type Multi []Store

func (m Multi) Append(ctx context.Context, rec Record) error {
	var errs []error
	for i, s := range m {
		if err := s.Append(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("audit backend %d (%T): %w", i, s, err))
		}
	}
	return errors.Join(errs...)
}

// List reads from the first store that supports listing.
func (m Multi) List(ctx context.Context, limit int) ([]Record, error) {
	for _, s := range m {
		if l, ok := s.(Lister); ok {
			return l.List(ctx, limit)
		}
	}
	return nil, ErrListUnsupported
}

// ErrListUnsupported is returned when no configured store can list records.
var ErrListUnsupported = errors.New("audit store does not support listing")
