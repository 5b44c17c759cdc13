package diagnosis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/triaged/internal/extract"
	"github.com/fyrsmithlabs/triaged/internal/logging"
	"github.com/fyrsmithlabs/triaged/internal/logsource"
	"github.com/fyrsmithlabs/triaged/internal/secrets"
)

// Engine produces a Diagnosis per event.
type Engine struct {
	completer Completer
	redactor  *secrets.Redactor
	logger    *logging.Logger
	now       func() time.Time
	newID     func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithRedactor scrubs prompts before they are sent.
func WithRedactor(r *secrets.Redactor) Option {
	return func(e *Engine) { e.redactor = r }
}

// WithLogger sets the engine logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an Engine over completer.
func NewEngine(completer Completer, opts ...Option) *Engine {
	e := &Engine{
		completer: completer,
		logger:    logging.NewNop(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Diagnose renders the prompt, calls the model and validates its answer.
//
// The returned error is non-nil only when the completer fails. Output that
// cannot be decoded or validated yields a degraded, non-actionable
// Diagnosis whose IssueBody is the raw model text.
func (e *Engine) Diagnose(ctx context.Context, event logsource.ErrorEvent, parsed extract.ParsedLogContext, snippets []extract.SourceSnippet) (Diagnosis, error) {
	prompt, err := BuildPrompt(event, parsed, snippets)
	if err != nil {
		return Diagnosis{}, err
	}

	if e.redactor != nil {
		res := e.redactor.Redact(prompt)
		if len(res.Findings) > 0 {
			e.logger.Info(ctx, "redacted secrets from diagnosis prompt",
				zap.Int("findings", len(res.Findings)),
				zap.Any("rules", res.RuleCounts()))
		}
		prompt = res.Content
	}

	raw, err := e.completer.Complete(ctx, prompt)
	if err != nil {
		return Diagnosis{}, fmt.Errorf("completing diagnosis: %w", err)
	}

	d := Diagnosis{ID: e.newID(), GeneratedAt: e.now().UTC()}

	resp, err := parseResponse(raw)
	if err != nil {
		e.logger.Warn(ctx, "degrading unusable diagnosis response",
			zap.String("diagnosis.id", d.ID),
			zap.Int("response_bytes", len(raw)),
			zap.Error(err))
		d.Actionable = false
		d.Category = CategoryOther
		d.ProbableRootCause = DegradedRootCause
		d.Confidence = 0
		d.IssueBody = raw
		d.Degraded = true
		return d, nil
	}

	d.Actionable = resp.Actionable
	d.Category = resp.category()
	d.ProbableRootCause = resp.ProbableRootCause
	d.Confidence = resp.Confidence
	d.SuggestedPatch = resp.patch()
	d.IssueTitle = resp.QuickIssueTitle
	d.IssueBody = resp.QuickIssueBody

	e.logger.Debug(ctx, "diagnosis complete",
		zap.String("diagnosis.id", d.ID),
		zap.Bool("actionable", d.Actionable),
		zap.String("category", string(d.Category)),
		zap.Float64("confidence", d.Confidence),
		zap.Int("patched_files", len(d.SuggestedPatch)))
	return d, nil
}
