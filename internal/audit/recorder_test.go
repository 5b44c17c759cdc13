package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/triaged/internal/badgerdb"
	"github.com/fyrsmithlabs/triaged/internal/logging"
	"github.com/fyrsmithlabs/triaged/internal/logsource"
)

type failingStore struct{ err error }

func (f failingStore) Append(context.Context, Record) error { return f.err }

func testEvent() logsource.ErrorEvent {
	return logsource.ErrorEvent{
		Signature: "crew-api: TypeError: x is undefined",
		Timestamp: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Service:   "crew-api",
		Severity:  logsource.SeverityError,
		Message:   "TypeError: x is undefined",
	}
}

func TestRecorder_StampsAndStores(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2025, 3, 2, 9, 30, 0, 0, time.UTC)
	reg := prometheus.NewRegistry()
	r := NewRecorder(store, WithClock(func() time.Time { return now }), WithRegisterer(reg))

	r.Record(context.Background(), KindPRCreated, testEvent(), map[string]any{"pr_url": "https://example.test/pr/1"})

	recs := store.Records()
	require.Len(t, recs, 1)
	assert.NotEmpty(t, recs[0].ID)
	assert.Equal(t, KindPRCreated, recs[0].Kind)
	assert.Equal(t, now, recs[0].Timestamp)
	assert.Equal(t, "crew-api", recs[0].Event.Service)
	assert.Equal(t, "https://example.test/pr/1", recs[0].Extra["pr_url"])

	assert.Equal(t, 1.0, testutil.ToFloat64(r.records.WithLabelValues(string(KindPRCreated))))
}

func TestRecorder_SwallowsStoreErrors(t *testing.T) {
	logger := logging.NewTestLogger()
	r := NewRecorder(failingStore{err: errors.New("disk full")},
		WithLogger(logger.Logger), WithRegisterer(prometheus.NewRegistry()))

	assert.NotPanics(t, func() {
		r.Record(context.Background(), KindNoAction, testEvent(), nil)
	})
	logger.AssertLogged(t, zapcore.ErrorLevel, "audit write failed")
	assert.Equal(t, 1.0, testutil.ToFloat64(r.failed))
}

func TestRecorder_SharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := NewRecorder(NewMemoryStore(), WithRegisterer(reg))
	b := NewRecorder(NewMemoryStore(), WithRegisterer(reg))

	a.Record(context.Background(), KindPolicyBlock, testEvent(), nil)
	b.Record(context.Background(), KindPolicyBlock, testEvent(), nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(b.records.WithLabelValues(string(KindPolicyBlock))))
}

func TestMulti_JoinsErrors(t *testing.T) {
	mem := NewMemoryStore()
	m := Multi{mem, failingStore{err: errors.New("broker down")}, failingStore{err: errors.New("disk full")}}

	err := m.Append(context.Background(), Record{ID: "1", Kind: KindNoAction})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Contains(t, err.Error(), "disk full")
	assert.Len(t, mem.Records(), 1, "healthy backends still receive the record")

	recs, err := m.List(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	_, err = Multi{failingStore{}}.List(context.Background(), 1)
	assert.ErrorIs(t, err, ErrListUnsupported)
}

func TestMemoryStore_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Append(ctx, Record{ID: id}))
	}

	recs, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "c", recs[0].ID)
	assert.Equal(t, "b", recs[1].ID)
}

func TestRecorder_WritesAfterCallerCancel(t *testing.T) {
	db, err := badgerdb.Open(badgerdb.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := NewBadgerStore(db, "")
	r := NewRecorder(store, WithRegisterer(prometheus.NewRegistry()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Record(ctx, KindPRCreated, testEvent(), map[string]any{"pr_url": "https://example.test/pr/9"})

	recs, err := store.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, KindPRCreated, recs[0].Kind)
	assert.Zero(t, testutil.ToFloat64(r.failed))
}
