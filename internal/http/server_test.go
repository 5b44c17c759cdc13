package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/triaged/internal/audit"
	"github.com/fyrsmithlabs/triaged/internal/logging"
	"github.com/fyrsmithlabs/triaged/internal/logsource"
	"github.com/fyrsmithlabs/triaged/internal/pipeline"
	"github.com/fyrsmithlabs/triaged/internal/policy"
	"github.com/fyrsmithlabs/triaged/internal/remediate"
	"github.com/fyrsmithlabs/triaged/internal/telemetry"
)

type stubStatus struct{ st pipeline.Status }

func (s stubStatus) Status() pipeline.Status { return s.st }

type failingLister struct{}

func (failingLister) List(context.Context, int) ([]audit.Record, error) {
	return nil, errors.New("badger closed")
}

func setupTestServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	if deps.Pipeline == nil {
		deps.Pipeline = stubStatus{}
	}
	server, err := NewServer(deps, logging.NewNop(), &Config{Host: "localhost", Port: 9464, Version: "1.2.3"})
	require.NoError(t, err)
	return server
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func TestNewServer(t *testing.T) {
	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, err := NewServer(Deps{Pipeline: stubStatus{}}, logging.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "localhost", server.config.Host)
		assert.Equal(t, 9464, server.config.Port)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(Deps{Pipeline: stubStatus{}}, nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when pipeline is nil", func(t *testing.T) {
		_, err := NewServer(Deps{}, logging.NewNop(), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "pipeline status source")
	})
}

func TestHandleHealth(t *testing.T) {
	rec := do(t, setupTestServer(t, Deps{}), http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestHandleMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "triaged_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Add(3)

	rec := do(t, setupTestServer(t, Deps{Gatherer: reg}), http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "triaged_test_total 3")
}

func TestHandleStatus(t *testing.T) {
	t.Run("reports last cycle and policy", func(t *testing.T) {
		report := &pipeline.CycleReport{
			ID:        "cycle-1",
			StartedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
			Fetched:   2,
			Processed: 2,
			Outcomes:  map[remediate.Kind]int{remediate.KindIssueFiled: 2},
		}
		store := policy.NewStore([]string{".github/", "config/secrets"}, nil)
		s := setupTestServer(t, Deps{
			Pipeline:  stubStatus{st: pipeline.Status{Cycles: 4, LastCycle: report}},
			Policy:    store,
			Telemetry: telemetry.NewTestTelemetry().Telemetry,
		})

		rec := do(t, s, http.MethodGet, "/api/v1/status", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp StatusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, "1.2.3", resp.Version)
		assert.Equal(t, int64(4), resp.Cycles)
		require.NotNil(t, resp.LastCycle)
		assert.Equal(t, "cycle-1", resp.LastCycle.ID)
		assert.Equal(t, 2, resp.LastCycle.Outcomes[remediate.KindIssueFiled])
		require.NotNil(t, resp.Policy)
		assert.Equal(t, []string{".github/", "config/secrets"}, resp.Policy.ProtectedPaths)
		assert.NotNil(t, resp.Telemetry)
	})

	t.Run("degraded after cycle errors", func(t *testing.T) {
		report := &pipeline.CycleReport{ID: "c", SyncFailed: true, Errors: []string{"sync: auth failed"}}
		s := setupTestServer(t, Deps{Pipeline: stubStatus{st: pipeline.Status{Cycles: 1, LastCycle: report}}})

		rec := do(t, s, http.MethodGet, "/api/v1/status", "")
		var resp StatusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "degraded", resp.Status)
		assert.Nil(t, resp.Policy)
	})
}

func TestHandleAudit(t *testing.T) {
	store := audit.NewMemoryStore()
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Append(ctx, audit.Record{
			ID:    id,
			Kind:  audit.KindNoAction,
			Event: logsource.ErrorEvent{Signature: "web: boom"},
		}))
	}

	t.Run("lists newest first", func(t *testing.T) {
		rec := do(t, setupTestServer(t, Deps{Audit: store}), http.MethodGet, "/api/v1/audit?limit=2", "")
		require.Equal(t, http.StatusOK, rec.Code)

		var resp AuditResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Records, 2)
		assert.Equal(t, "c", resp.Records[0].ID)
		assert.Equal(t, "b", resp.Records[1].ID)
	})

	tests := []struct {
		name string
		deps Deps
		url  string
		code int
	}{
		{"bad limit", Deps{Audit: store}, "/api/v1/audit?limit=abc", http.StatusBadRequest},
		{"limit too large", Deps{Audit: store}, "/api/v1/audit?limit=100000", http.StatusBadRequest},
		{"not configured", Deps{}, "/api/v1/audit", http.StatusNotImplemented},
		{"multi with file store", Deps{Audit: audit.Multi{audit.NewFileStore(t.TempDir() + "/a.jsonl")}}, "/api/v1/audit", http.StatusOK},
		{"no lister in multi", Deps{Audit: audit.Multi{}}, "/api/v1/audit", http.StatusNotImplemented},
		{"store failure", Deps{Audit: failingLister{}}, "/api/v1/audit", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, setupTestServer(t, tt.deps), http.MethodGet, tt.url, "")
			assert.Equal(t, tt.code, rec.Code)
		})
	}
}

func TestHandlePolicyCheck(t *testing.T) {
	store := policy.NewStore([]string{".github/", "config/secrets", ".env"}, nil)
	s := setupTestServer(t, Deps{Policy: store})

	t.Run("blocked and allowed paths", func(t *testing.T) {
		body, _ := json.Marshal(PolicyCheckRequest{Paths: []string{"src/widgets/button.ts", "config/secrets.yaml"}})
		rec := do(t, s, http.MethodPost, "/api/v1/policy/check", string(body))
		require.Equal(t, http.StatusOK, rec.Code)

		var resp PolicyCheckResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Decision.Blocked)
		assert.Equal(t, "config/secrets", resp.Decision.MatchedRule)
		require.Len(t, resp.Results, 2)
		assert.False(t, resp.Results[0].Blocked)
		assert.True(t, resp.Results[1].Blocked)
	})

	t.Run("empty paths", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/api/v1/policy/check", `{"paths":[]}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid json", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/api/v1/policy/check", `{"paths":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("no policy configured", func(t *testing.T) {
		rec := do(t, setupTestServer(t, Deps{}), http.MethodPost, "/api/v1/policy/check", `{"paths":["a"]}`)
		assert.Equal(t, http.StatusNotImplemented, rec.Code)
	})
}

func TestServer_StartShutdown(t *testing.T) {
	server, err := NewServer(Deps{Pipeline: stubStatus{}}, logging.NewNop(), &Config{Host: "127.0.0.1", Port: 0})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	require.Eventually(t, func() bool { return server.echo.ListenerAddr() != nil }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(ctx))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
