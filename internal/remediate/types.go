package remediate

import (
	"context"
)

// Kind identifies which branch of the remediation state machine ran.
type Kind string

const (
	KindPullRequestOpened Kind = "pull_request_opened"
	KindIssueFiled        Kind = "issue_filed"
	KindFailed            Kind = "failed"
)

// Outcome is the single result of remediating one event. Build it with
// PullRequestOpened, IssueFiled or Failed.
type Outcome struct {
	Kind    Kind   `json:"kind"`
	URL     string `json:"url,omitempty"`
	Branch  string `json:"branch,omitempty"`
	IssueID string `json:"issue_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// PullRequestOpened reports a pushed branch with an open pull request.
func PullRequestOpened(url, branch string) Outcome {
	return Outcome{Kind: KindPullRequestOpened, URL: url, Branch: branch}
}

// IssueFiled reports a tracking issue.
func IssueFiled(id, url string) Outcome {
	return Outcome{Kind: KindIssueFiled, IssueID: id, URL: url}
}

// Failed reports that neither a pull request nor an issue was created.
func Failed(reason string) Outcome {
	return Outcome{Kind: KindFailed, Reason: reason}
}

// Issue is a created tracking issue.
type Issue struct {
	ID  string
	URL string
}

// PullRequest is a created pull request.
type PullRequest struct {
	Number int
	URL    string
}

// Tracker creates issues and pull requests in the hosting service.
type Tracker interface {
	CreateIssue(ctx context.Context, title, body string, labels []string) (Issue, error)
	CreatePullRequest(ctx context.Context, title, head, base, body string) (PullRequest, error)
}

// Workspace applies a patch on a branch of the working copy.
type Workspace interface {
	DefaultBranch() string
	CreateBranch(ctx context.Context, name string) error
	WriteFile(ctx context.Context, path, content string) error
	Commit(ctx context.Context, message string) (string, error)
	Push(ctx context.Context, branch string) error
	Reset(ctx context.Context, branch string) error
}
