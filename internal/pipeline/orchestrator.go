// Package pipeline runs the triage loop.
//
// Each cycle fetches a batch of error events, syncs the working copy once,
// and then processes the events one at a time: extract context, gather
// source snippets, diagnose, evaluate policy, remediate. Events are never
// processed concurrently because they share a single git working tree.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/triaged/internal/diagnosis"
	"github.com/fyrsmithlabs/triaged/internal/extract"
	"github.com/fyrsmithlabs/triaged/internal/logging"
	"github.com/fyrsmithlabs/triaged/internal/logsource"
	"github.com/fyrsmithlabs/triaged/internal/policy"
	"github.com/fyrsmithlabs/triaged/internal/remediate"
)

const instrumentationName = "github.com/fyrsmithlabs/triaged/internal/pipeline"

// DefaultInterval is the pause between cycles.
const DefaultInterval = 60 * time.Second

// Fetcher returns new events and advances its cursor.
type Fetcher interface {
	FetchRecentEvents(ctx context.Context) ([]logsource.ErrorEvent, error)
}

// WorkingCopy is the local clone used for snippets and patches.
type WorkingCopy interface {
	EnsureSynced(ctx context.Context) error
	ReadFile(path string) ([]byte, error)
}

// Diagnoser produces a diagnosis for one event.
type Diagnoser interface {
	Diagnose(ctx context.Context, event logsource.ErrorEvent, parsed extract.ParsedLogContext, snippets []extract.SourceSnippet) (diagnosis.Diagnosis, error)
}

// PolicyEvaluator decides whether a patch may be applied.
type PolicyEvaluator interface {
	Evaluate(patch diagnosis.Patch) policy.Decision
}

// Remediator turns a diagnosis into an outcome and audits it.
type Remediator interface {
	Remediate(ctx context.Context, event logsource.ErrorEvent, diag diagnosis.Diagnosis, decision policy.Decision) remediate.Outcome
}

// Deps are the collaborators the orchestrator drives.
type Deps struct {
	Fetcher     Fetcher
	WorkingCopy WorkingCopy
	Gatherer    *extract.Gatherer
	Diagnoser   Diagnoser
	Policy      PolicyEvaluator
	Remediator  Remediator

	Logger     *logging.Logger
	Tracer     trace.Tracer
	Registerer prometheus.Registerer
}

// Config holds loop timing.
type Config struct {
	Interval     time.Duration
	FetchTimeout time.Duration
	SyncTimeout  time.Duration
	LLMTimeout   time.Duration
}

// Orchestrator owns the poll loop and the single working copy.
type Orchestrator struct {
	deps    Deps
	cfg     Config
	logger  *logging.Logger
	tracer  trace.Tracer
	metrics *metrics
	now     func() time.Time

	mu     sync.Mutex
	status Status
}

// New validates deps and returns an Orchestrator.
func New(deps Deps, cfg Config) (*Orchestrator, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, errors.New("pipeline: fetcher is required")
	case deps.WorkingCopy == nil:
		return nil, errors.New("pipeline: working copy is required")
	case deps.Diagnoser == nil:
		return nil, errors.New("pipeline: diagnoser is required")
	case deps.Policy == nil:
		return nil, errors.New("pipeline: policy is required")
	case deps.Remediator == nil:
		return nil, errors.New("pipeline: remediator is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}

	o := &Orchestrator{deps: deps, cfg: cfg, logger: deps.Logger, tracer: deps.Tracer, now: time.Now}
	if o.logger == nil {
		o.logger = logging.NewNop()
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(instrumentationName)
	}
	if o.deps.Gatherer == nil {
		o.deps.Gatherer = extract.NewGatherer(extract.WithLogger(o.logger))
	}
	reg := deps.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	o.metrics = newMetrics(reg)
	return o, nil
}

// Run executes cycles until ctx is cancelled, sleeping Interval between
// them. It returns ctx.Err().
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info(ctx, "orchestrator started", zap.Duration("interval", o.cfg.Interval))
	for {
		o.RunCycle(ctx)

		timer := time.NewTimer(o.cfg.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			o.logger.Info(ctx, "orchestrator stopped")
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RunCycle fetches one batch and processes it. Errors are logged and
// reported, never returned.
func (o *Orchestrator) RunCycle(ctx context.Context) (report CycleReport) {
	report = CycleReport{
		ID:        uuid.NewString(),
		StartedAt: o.now().UTC(),
		Outcomes:  make(map[remediate.Kind]int),
	}
	ctx = logging.WithCycleID(ctx, report.ID)
	start := time.Now()
	defer func() {
		report.Duration = time.Since(start)
		o.metrics.cycleDuration.Observe(report.Duration.Seconds())
		o.finish(report)
	}()

	fctx, cancel := withTimeout(ctx, o.cfg.FetchTimeout)
	events, err := o.deps.Fetcher.FetchRecentEvents(fctx)
	cancel()
	if err != nil {
		o.fail(ctx, &report, &StageError{Stage: StageFetch, Err: err})
		return report
	}
	report.Fetched = len(events)
	o.metrics.eventsFetched.Add(float64(len(events)))
	if len(events) == 0 {
		o.logger.Debug(ctx, "no new events")
		return report
	}

	sctx, cancel := withTimeout(ctx, o.cfg.SyncTimeout)
	err = o.deps.WorkingCopy.EnsureSynced(sctx)
	cancel()
	if err != nil {
		report.SyncFailed = true
		o.fail(ctx, &report, &StageError{Stage: StageSync, Err: err})
		o.logger.Warn(ctx, "skipping batch after working copy sync failure", zap.Int("events", len(events)))
		return report
	}

	for i, event := range events {
		if ctx.Err() != nil {
			o.logger.Warn(ctx, "cycle cancelled", zap.Int("unprocessed", len(events)-i))
			break
		}
		out, err := o.ProcessEvent(ctx, event)
		report.Processed++
		if err != nil {
			o.fail(ctx, &report, err)
			continue
		}
		report.Outcomes[out.Kind]++
	}

	o.logger.Info(ctx, "cycle complete",
		zap.Int("fetched", report.Fetched),
		zap.Int("processed", report.Processed),
		zap.Int("errors", len(report.Errors)),
	)
	return report
}

// ProcessEvent runs one event through the pipeline. An error means no
// outcome was produced; diagnosis failures and panics are reported this way.
func (o *Orchestrator) ProcessEvent(ctx context.Context, event logsource.ErrorEvent) (out remediate.Outcome, err error) {
	ctx = logging.WithSignature(ctx, event.Signature)
	ctx, span := o.tracer.Start(ctx, "pipeline.process_event")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.signature", event.Signature),
		attribute.String("event.service", event.Service),
	)

	stage := StageExtract
	defer func() {
		if r := recover(); r != nil {
			err = &StageError{Stage: stage, Signature: event.Signature, Err: fmt.Errorf("panic: %v", r)}
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	parsed := extract.Extract(event)
	snippets := o.deps.Gatherer.GatherSnippets(ctx, parsed, event, o.deps.WorkingCopy)
	span.SetAttributes(attribute.Int("snippets", len(snippets)))

	stage = StageDiagnose
	dctx, cancel := withTimeout(ctx, o.cfg.LLMTimeout)
	diag, err := o.deps.Diagnoser.Diagnose(dctx, event, parsed, snippets)
	cancel()
	if err != nil {
		return remediate.Outcome{}, &StageError{Stage: StageDiagnose, Signature: event.Signature, Err: err}
	}
	ctx = logging.WithDiagnosisID(ctx, diag.ID)
	span.SetAttributes(
		attribute.String("diagnosis.id", diag.ID),
		attribute.Bool("diagnosis.actionable", diag.Actionable),
		attribute.Bool("diagnosis.degraded", diag.Degraded),
	)

	stage = StageRemediate
	var decision policy.Decision
	if !diag.SuggestedPatch.Empty() {
		decision = o.deps.Policy.Evaluate(diag.SuggestedPatch)
	}
	span.SetAttributes(attribute.Bool("policy.blocked", decision.Blocked))

	out = o.deps.Remediator.Remediate(ctx, event, diag, decision)
	span.SetAttributes(attribute.String("outcome", string(out.Kind)))
	o.metrics.outcomes.WithLabelValues(string(out.Kind)).Inc()

	o.logger.Info(ctx, "event processed",
		zap.String("outcome", string(out.Kind)),
		zap.String("url", out.URL),
		zap.String("reason", out.Reason),
	)
	return out, nil
}

// Status returns a snapshot of the last completed cycle.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	s := o.status
	if s.LastCycle != nil {
		last := *s.LastCycle
		last.Outcomes = make(map[remediate.Kind]int, len(s.LastCycle.Outcomes))
		for k, v := range s.LastCycle.Outcomes {
			last.Outcomes[k] = v
		}
		last.Errors = append([]string(nil), s.LastCycle.Errors...)
		s.LastCycle = &last
	}
	return s
}

func (o *Orchestrator) finish(report CycleReport) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status.Cycles++
	o.status.LastCycle = &report
}

func (o *Orchestrator) fail(ctx context.Context, report *CycleReport, err error) {
	stage := Stage("unknown")
	var se *StageError
	if errors.As(err, &se) {
		stage = se.Stage
	}
	o.metrics.cycleErrors.WithLabelValues(string(stage)).Inc()
	report.Errors = append(report.Errors, err.Error())
	o.logger.Error(ctx, "pipeline stage failed", zap.String("stage", string(stage)), zap.Error(err))
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return context.WithCancel(ctx)
}
