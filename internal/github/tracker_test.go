package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	gogithub "github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/triaged/internal/config"
)

func newTestTracker(t *testing.T, handler http.Handler) *Tracker {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := gogithub.NewClient(nil)
	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	client.BaseURL = base

	tr, err := NewTracker(client, "acme", "crew", WithRetryConfig(fastRetry()))
	require.NoError(t, err)
	return tr
}

func TestTracker_CreateIssue(t *testing.T) {
	var got map[string]any
	tr := newTestTracker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/repos/acme/crew/issues", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"number": 42, "html_url": "https://github.com/acme/crew/issues/42"}`))
	}))

	issue, err := tr.CreateIssue(context.Background(), "Button crash", "details", []string{"triage", "policy-blocked"})
	require.NoError(t, err)
	assert.Equal(t, "42", issue.ID)
	assert.Equal(t, "https://github.com/acme/crew/issues/42", issue.URL)

	assert.Equal(t, "Button crash", got["title"])
	assert.Equal(t, "details", got["body"])
	assert.Equal(t, []any{"triage", "policy-blocked"}, got["labels"])
}

func TestTracker_CreatePullRequest(t *testing.T) {
	var got map[string]any
	tr := newTestTracker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/crew/pulls", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"number": 7, "html_url": "https://github.com/acme/crew/pull/7"}`))
	}))

	pr, err := tr.CreatePullRequest(context.Background(), "fix: guard label", "triage/x-1234abcd", "main", "body")
	require.NoError(t, err)
	assert.Equal(t, 7, pr.Number)
	assert.Equal(t, "https://github.com/acme/crew/pull/7", pr.URL)
	assert.Equal(t, "triage/x-1234abcd", got["head"])
	assert.Equal(t, "main", got["base"])
}

func TestTracker_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	tr := newTestTracker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"number": 1, "html_url": "https://github.com/acme/crew/issues/1"}`))
	}))

	issue, err := tr.CreateIssue(context.Background(), "t", "b", nil)
	require.NoError(t, err)
	assert.Equal(t, "1", issue.ID)
	assert.Equal(t, int32(2), calls.Load())
}

func TestTracker_CreateIssueReusesIssueFromFailedAttempt(t *testing.T) {
	var posts atomic.Int32
	tr := newTestTracker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/crew/issues", r.URL.Path)
		if r.Method == http.MethodGet {
			assert.Equal(t, "open", r.URL.Query().Get("state"))
			_, _ = w.Write([]byte(`[
				{"number": 8, "title": "Other crash", "html_url": "https://github.com/acme/crew/issues/8"},
				{"number": 9, "title": "Button crash", "html_url": "https://github.com/acme/crew/pull/9", "pull_request": {"url": "x"}},
				{"number": 10, "title": "Button crash", "html_url": "https://github.com/acme/crew/issues/10"}
			]`))
			return
		}
		// The issue is stored but the gateway reports failure.
		posts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))

	issue, err := tr.CreateIssue(context.Background(), "Button crash", "details", nil)
	require.NoError(t, err)
	assert.Equal(t, "10", issue.ID)
	assert.Equal(t, "https://github.com/acme/crew/issues/10", issue.URL)
	assert.Equal(t, int32(1), posts.Load())
}

func TestTracker_ValidationErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	tr := newTestTracker(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message": "Validation Failed", "errors": [{"resource": "PullRequest", "code": "custom", "message": "No commits between main and x"}]}`))
	}))

	_, err := tr.CreatePullRequest(context.Background(), "t", "x", "main", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Validation Failed")
	assert.Equal(t, int32(1), calls.Load())
}

func TestNewTracker_Validation(t *testing.T) {
	_, err := NewTracker(nil, "acme", "crew")
	assert.Error(t, err)
	_, err = NewTracker(gogithub.NewClient(nil), "", "crew")
	assert.Error(t, err)
}

func TestNewClient(t *testing.T) {
	_, err := NewClient(context.Background(), config.Secret(""), "")
	assert.Error(t, err)

	c, err := NewClient(context.Background(), config.Secret("ghp_x"), "")
	require.NoError(t, err)
	assert.Equal(t, "https://api.github.com/", c.BaseURL.String())

	c, err = NewClient(context.Background(), config.Secret("ghp_x"), "https://ghe.example.com/")
	require.NoError(t, err)
	assert.Equal(t, "https://ghe.example.com/api/v3/", c.BaseURL.String())
}
