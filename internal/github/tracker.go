package github

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	gogithub "github.com/google/go-github/v57/github"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/triaged/internal/logging"
	"github.com/fyrsmithlabs/triaged/internal/remediate"
)

// Tracker files issues and opens pull requests in one repository.
type Tracker struct {
	client *gogithub.Client
	owner  string
	repo   string
	retry  *RetryConfig
	logger *logging.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithRetryConfig overrides DefaultRetryConfig.
func WithRetryConfig(c *RetryConfig) Option {
	return func(t *Tracker) { t.retry = c }
}

// WithLogger sets the tracker logger.
func WithLogger(l *logging.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTracker creates a Tracker for owner/repo.
func NewTracker(client *gogithub.Client, owner, repo string, opts ...Option) (*Tracker, error) {
	if client == nil {
		return nil, errors.New("github client is required")
	}
	if owner == "" || repo == "" {
		return nil, fmt.Errorf("repository owner and name are required, got %q/%q", owner, repo)
	}
	t := &Tracker{
		client: client,
		owner:  owner,
		repo:   repo,
		retry:  DefaultRetryConfig(),
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// CreateIssue files an issue with labels.
func (t *Tracker) CreateIssue(ctx context.Context, title, body string, labels []string) (remediate.Issue, error) {
	req := &gogithub.IssueRequest{
		Title: gogithub.String(title),
		Body:  gogithub.String(body),
	}
	if len(labels) > 0 {
		req.Labels = &labels
	}

	var issue *gogithub.Issue
	started := time.Now()
	attempt := 0
	_, err := retryOperation(ctx, t.retry, t.logger, "create_issue", func() (*gogithub.Response, error) {
		attempt++
		// A failed POST may still have created the issue.
		if attempt > 1 {
			if existing := t.findIssue(ctx, title, started); existing != nil {
				issue = existing
				return nil, nil
			}
		}
		var resp *gogithub.Response
		var err error
		issue, resp, err = t.client.Issues.Create(ctx, t.owner, t.repo, req)
		return resp, err
	})
	if err != nil {
		return remediate.Issue{}, fmt.Errorf("creating issue in %s/%s: %w", t.owner, t.repo, err)
	}

	t.logger.Info(ctx, "issue created",
		zap.Int("issue.number", issue.GetNumber()),
		zap.String("issue.url", issue.GetHTMLURL()))
	return remediate.Issue{ID: strconv.Itoa(issue.GetNumber()), URL: issue.GetHTMLURL()}, nil
}

// findIssue returns an open issue titled title that was touched since
// shortly before since, or nil. Lookup errors count as not found.
func (t *Tracker) findIssue(ctx context.Context, title string, since time.Time) *gogithub.Issue {
	issues, _, err := t.client.Issues.ListByRepo(ctx, t.owner, t.repo, &gogithub.IssueListByRepoOptions{
		State:       "open",
		Sort:        "created",
		Direction:   "desc",
		Since:       since.Add(-time.Minute),
		ListOptions: gogithub.ListOptions{PerPage: 50},
	})
	if err != nil {
		t.logger.Debug(ctx, "existing issue lookup failed", zap.Error(err))
		return nil
	}
	for _, is := range issues {
		if is.GetTitle() == title && !is.IsPullRequest() {
			t.logger.Info(ctx, "issue already created by an earlier attempt",
				zap.Int("issue.number", is.GetNumber()))
			return is
		}
	}
	return nil
}

// CreatePullRequest opens a pull request from head into base.
func (t *Tracker) CreatePullRequest(ctx context.Context, title, head, base, body string) (remediate.PullRequest, error) {
	req := &gogithub.NewPullRequest{
		Title:               gogithub.String(title),
		Head:                gogithub.String(head),
		Base:                gogithub.String(base),
		Body:                gogithub.String(body),
		MaintainerCanModify: gogithub.Bool(true),
	}

	var pr *gogithub.PullRequest
	_, err := retryOperation(ctx, t.retry, t.logger, "create_pull_request", func() (*gogithub.Response, error) {
		var resp *gogithub.Response
		var err error
		pr, resp, err = t.client.PullRequests.Create(ctx, t.owner, t.repo, req)
		return resp, err
	})
	if err != nil {
		return remediate.PullRequest{}, fmt.Errorf("creating pull request %s -> %s in %s/%s: %w", head, base, t.owner, t.repo, err)
	}

	t.logger.Info(ctx, "pull request created",
		zap.Int("pr.number", pr.GetNumber()),
		zap.String("pr.url", pr.GetHTMLURL()))
	return remediate.PullRequest{Number: pr.GetNumber(), URL: pr.GetHTMLURL()}, nil
}

var _ remediate.Tracker = (*Tracker)(nil)
