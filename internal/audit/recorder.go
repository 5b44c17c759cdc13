package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/triaged/internal/logging"
	"github.com/fyrsmithlabs/triaged/internal/logsource"
)

// Recorder adapts a Store to the Sink interface.
type Recorder struct {
	store   Store
	logger  *logging.Logger
	now     func() time.Time
	records *prometheus.CounterVec
	failed  prometheus.Counter
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithLogger sets the logger used for storage failures.
func WithLogger(l *logging.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = l }
}

// WithClock overrides the record timestamp source.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// WithRegisterer registers the recorder's counters with reg instead of the
// default registry. Pass a fresh prometheus.NewRegistry() in tests.
func WithRegisterer(reg prometheus.Registerer) RecorderOption {
	return func(r *Recorder) { r.records, r.failed = newCounters(reg) }
}

var (
	defaultRecords *prometheus.CounterVec
	defaultFailed  prometheus.Counter
	countersOnce   sync.Once
)

func newCounters(reg prometheus.Registerer) (*prometheus.CounterVec, prometheus.Counter) {
	records := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "triaged_audit_records_total",
		Help: "Audit records written, by kind",
	}, []string{"kind"})
	failed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "triaged_audit_failures_total",
		Help: "Audit records the store failed to persist",
	})
	if reg != nil {
		records = registerOrExisting(reg, records).(*prometheus.CounterVec)
		failed = registerOrExisting(reg, failed).(prometheus.Counter)
	}
	return records, failed
}

// registerOrExisting avoids duplicate registration panics when several
// recorders share a registry.
func registerOrExisting(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return are.ExistingCollector
		}
	}
	return c
}

// NewRecorder returns a Sink writing to store.
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:  store,
		logger: logging.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.records == nil {
		countersOnce.Do(func() {
			defaultRecords, defaultFailed = newCounters(prometheus.DefaultRegisterer)
		})
		r.records, r.failed = defaultRecords, defaultFailed
	}
	return r
}

// writeTimeout bounds one Append once the caller's context is detached.
const writeTimeout = 10 * time.Second

// Record stamps and stores one record. The write outlives cancellation of
// ctx so an outcome that already happened is never left unrecorded.
// Storage errors are logged, never returned.
func (r *Recorder) Record(ctx context.Context, kind Kind, event logsource.ErrorEvent, extra map[string]any) {
	rec := Record{
		ID:        uuid.NewString(),
		Kind:      kind,
		Event:     event,
		Extra:     extra,
		Timestamp: r.now().UTC(),
	}
	r.records.WithLabelValues(string(kind)).Inc()

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := r.store.Append(wctx, rec); err != nil {
		r.failed.Inc()
		r.logger.Error(ctx, "audit write failed",
			zap.String("audit.id", rec.ID),
			zap.String("audit.kind", string(kind)),
			zap.Error(err),
		)
		return
	}
	r.logger.Debug(ctx, "audit record written",
		zap.String("audit.id", rec.ID),
		zap.String("audit.kind", string(kind)),
	)
}

var _ Sink = (*Recorder)(nil)
