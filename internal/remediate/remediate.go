// Package remediate turns a diagnosis and policy decision into exactly one
// outcome: an opened pull request, a filed issue, or a failure.
package remediate

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/triaged/internal/audit"
	"github.com/fyrsmithlabs/triaged/internal/diagnosis"
	"github.com/fyrsmithlabs/triaged/internal/logging"
	"github.com/fyrsmithlabs/triaged/internal/logsource"
	"github.com/fyrsmithlabs/triaged/internal/policy"
)

// PolicyBlockedLabel is added to issues filed because the gate blocked a patch.
const PolicyBlockedLabel = "policy-blocked"

// ReviewNote closes every generated pull request body.
const ReviewNote = "This pull request was generated automatically by triaged. Review it carefully before merging."

// Config tunes naming and per-call timeouts.
type Config struct {
	IssueLabels    []string
	BranchPrefix   string
	GitTimeout     time.Duration
	TrackerTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if len(c.IssueLabels) == 0 {
		c.IssueLabels = []string{"triage"}
	}
	if c.BranchPrefix == "" {
		c.BranchPrefix = "triage/"
	}
}

// Remediator runs the remediation state machine.
type Remediator struct {
	ws      Workspace
	tracker Tracker
	sink    audit.Sink
	cfg     Config
	logger  *logging.Logger
}

// Option configures a Remediator.
type Option func(*Remediator)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Remediator) { r.logger = l }
}

// New returns a Remediator. ws may be nil when only issues are filed.
func New(ws Workspace, tracker Tracker, sink audit.Sink, cfg Config, opts ...Option) *Remediator {
	cfg.applyDefaults()
	r := &Remediator{ws: ws, tracker: tracker, sink: sink, cfg: cfg, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Remediate produces exactly one Outcome and writes exactly one audit record.
func (r *Remediator) Remediate(ctx context.Context, event logsource.ErrorEvent, diag diagnosis.Diagnosis, decision policy.Decision) Outcome {
	ctx = logging.WithDiagnosisID(ctx, diag.ID)
	if !diag.Actionable || diag.SuggestedPatch.Empty() || decision.Blocked {
		return r.fileIssue(ctx, event, diag, decision)
	}
	return r.openPullRequest(ctx, event, diag)
}

func (r *Remediator) fileIssue(ctx context.Context, event logsource.ErrorEvent, diag diagnosis.Diagnosis, decision policy.Decision) Outcome {
	kind := audit.KindNoAction
	labels := append([]string{}, r.cfg.IssueLabels...)
	extra := map[string]any{
		"diagnosis_id": diag.ID,
		"actionable":   diag.Actionable,
		"category":     string(diag.Category),
		"confidence":   diag.Confidence,
	}
	if diag.Degraded {
		extra["degraded"] = true
	}
	if decision.Blocked {
		kind = audit.KindPolicyBlock
		labels = append(labels, PolicyBlockedLabel)
		extra["matched_rule"] = decision.MatchedRule
		extra["matched_path"] = decision.MatchedPath
	}

	title := diag.IssueTitle
	if strings.TrimSpace(title) == "" {
		title = event.Signature
	}
	body := diag.IssueBody
	if strings.TrimSpace(body) == "" {
		body = summaryBody(event, diag, decision)
	}

	tctx, cancel := r.trackerContext(ctx)
	defer cancel()
	issue, err := r.tracker.CreateIssue(tctx, title, body, labels)
	if err != nil {
		reason := fmt.Sprintf("create issue: %v", err)
		extra["error"] = reason
		r.logger.Error(ctx, "issue creation failed", zap.String("audit.kind", string(kind)), zap.Error(err))
		r.record(ctx, kind, event, extra)
		return Failed(reason)
	}

	extra["issue_id"] = issue.ID
	extra["issue_url"] = issue.URL
	r.logger.Info(ctx, "issue filed",
		zap.String("issue.id", issue.ID),
		zap.String("issue.url", issue.URL),
		zap.Bool("policy.blocked", decision.Blocked),
	)
	r.record(ctx, kind, event, extra)
	return IssueFiled(issue.ID, issue.URL)
}

func (r *Remediator) openPullRequest(ctx context.Context, event logsource.ErrorEvent, diag diagnosis.Diagnosis) Outcome {
	extra := map[string]any{
		"diagnosis_id": diag.ID,
		"category":     string(diag.Category),
		"confidence":   diag.Confidence,
		"files":        diag.SuggestedPatch.Paths(),
	}
	if r.ws == nil {
		return r.failPR(ctx, event, extra, "", "workspace", fmt.Errorf("no working copy configured"))
	}

	branch := BranchName(r.cfg.BranchPrefix, event.Signature, diag.ID)
	base := r.ws.DefaultBranch()
	title := prTitle(event, diag)
	extra["branch"] = branch

	gctx, cancel := r.gitContext(ctx)
	defer cancel()

	if err := r.ws.CreateBranch(gctx, branch); err != nil {
		return r.failPR(ctx, event, extra, branch, "branch", err)
	}
	for _, path := range diag.SuggestedPatch.Paths() {
		if err := r.ws.WriteFile(gctx, path, diag.SuggestedPatch[path]); err != nil {
			return r.failPR(ctx, event, extra, branch, "write", err)
		}
	}
	commit, err := r.ws.Commit(gctx, fmt.Sprintf("fix: %s [diagnosis %s]", title, diag.ID))
	if err != nil {
		return r.failPR(ctx, event, extra, branch, "commit", err)
	}
	extra["commit"] = commit
	if err := r.ws.Push(gctx, branch); err != nil {
		return r.failPR(ctx, event, extra, branch, "push", err)
	}

	tctx, tcancel := r.trackerContext(ctx)
	defer tcancel()
	pr, err := r.tracker.CreatePullRequest(tctx, title, branch, base, prBody(event, diag))
	if err != nil {
		return r.failPR(ctx, event, extra, branch, "pull_request", err)
	}

	r.reset(ctx, branch)
	extra["pr_url"] = pr.URL
	extra["pr_number"] = pr.Number
	r.logger.Info(ctx, "pull request opened",
		zap.String("pr.url", pr.URL),
		zap.String("branch", branch),
		zap.String("commit", commit),
	)
	r.record(ctx, audit.KindPRCreated, event, extra)
	return PullRequestOpened(pr.URL, branch)
}

// failPR resets the working copy and records pr_failed. It does not fall
// back to filing an issue.
func (r *Remediator) failPR(ctx context.Context, event logsource.ErrorEvent, extra map[string]any, branch, step string, err error) Outcome {
	reason := fmt.Sprintf("%s: %v", step, err)
	r.logger.Error(ctx, "automated fix failed",
		zap.String("step", step),
		zap.String("branch", branch),
		zap.Error(err),
	)
	if r.ws != nil {
		r.reset(ctx, branch)
	}
	extra["step"] = step
	extra["error"] = reason
	r.record(ctx, audit.KindPRFailed, event, extra)
	return Failed(reason)
}

// record writes the audit entry for an outcome even if ctx is done.
func (r *Remediator) record(ctx context.Context, kind audit.Kind, event logsource.ErrorEvent, extra map[string]any) {
	r.sink.Record(context.WithoutCancel(ctx), kind, event, extra)
}

// reset returns the working copy to the default branch even if ctx is done.
func (r *Remediator) reset(ctx context.Context, branch string) {
	rctx, cancel := r.gitContext(context.WithoutCancel(ctx))
	defer cancel()
	if err := r.ws.Reset(rctx, branch); err != nil {
		r.logger.Warn(ctx, "working copy reset failed", zap.String("branch", branch), zap.Error(err))
	}
}

func (r *Remediator) gitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.GitTimeout > 0 {
		return context.WithTimeout(ctx, r.cfg.GitTimeout)
	}
	return context.WithCancel(ctx)
}

func (r *Remediator) trackerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.TrackerTimeout > 0 {
		return context.WithTimeout(ctx, r.cfg.TrackerTimeout)
	}
	return context.WithCancel(ctx)
}

var nonBranchChars = regexp.MustCompile(`[^a-z0-9]+`)

const maxSlugLen = 48

// BranchName returns <prefix><slug>-<first 8 of id>, where slug is the
// lowercased signature reduced to [a-z0-9-].
func BranchName(prefix, signature, id string) string {
	slug := nonBranchChars.ReplaceAllString(strings.ToLower(signature), "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > maxSlugLen {
		slug = strings.TrimRight(slug[:maxSlugLen], "-")
	}
	if slug == "" {
		slug = "event"
	}
	short := strings.ReplaceAll(id, "-", "")
	if len(short) > 8 {
		short = short[:8]
	}
	if short == "" {
		return prefix + slug
	}
	return prefix + slug + "-" + short
}

func prTitle(event logsource.ErrorEvent, diag diagnosis.Diagnosis) string {
	if t := strings.TrimSpace(diag.IssueTitle); t != "" {
		return t
	}
	return event.Signature
}

func prBody(event logsource.ErrorEvent, diag diagnosis.Diagnosis) string {
	var b strings.Builder
	b.WriteString("## Root cause\n\n")
	b.WriteString(diag.ProbableRootCause)
	b.WriteString("\n\n## Event\n\n")
	fmt.Fprintf(&b, "- Signature: `%s`\n", event.Signature)
	fmt.Fprintf(&b, "- Service: %s\n", event.Service)
	fmt.Fprintf(&b, "- Seen at: %s\n", event.Timestamp.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Confidence: %.2f\n", diag.Confidence)
	fmt.Fprintf(&b, "- Diagnosis: %s\n", diag.ID)
	b.WriteString("\n## Files\n\n")
	for _, p := range diag.SuggestedPatch.Paths() {
		fmt.Fprintf(&b, "- `%s`\n", p)
	}
	b.WriteString("\n")
	b.WriteString(ReviewNote)
	b.WriteString("\n")
	return b.String()
}

func summaryBody(event logsource.ErrorEvent, diag diagnosis.Diagnosis, decision policy.Decision) string {
	var b strings.Builder
	b.WriteString("## Root cause\n\n")
	if diag.ProbableRootCause != "" {
		b.WriteString(diag.ProbableRootCause)
	} else {
		b.WriteString("Unknown.")
	}
	b.WriteString("\n\n## Event\n\n")
	fmt.Fprintf(&b, "- Signature: `%s`\n", event.Signature)
	fmt.Fprintf(&b, "- Service: %s\n", event.Service)
	fmt.Fprintf(&b, "- Seen at: %s\n", event.Timestamp.UTC().Format(time.RFC3339))
	if paths := diag.SuggestedPatch.Paths(); len(paths) > 0 {
		b.WriteString("\n## Touched files\n\n")
		for _, p := range paths {
			fmt.Fprintf(&b, "- `%s`\n", p)
		}
	}
	if decision.Blocked {
		fmt.Fprintf(&b, "\nAutomatic fix blocked: `%s` matches protected rule `%s`.\n", decision.MatchedPath, decision.MatchedRule)
	}
	return b.String()
}
