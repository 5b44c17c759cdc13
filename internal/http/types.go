package http

import (
	"github.com/fyrsmithlabs/triaged/internal/audit"
	"github.com/fyrsmithlabs/triaged/internal/pipeline"
	"github.com/fyrsmithlabs/triaged/internal/policy"
	"github.com/fyrsmithlabs/triaged/internal/telemetry"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	Status    string                  `json:"status"` // ok or degraded
	Version   string                  `json:"version,omitempty"`
	Cycles    int64                   `json:"cycles"`
	LastCycle *pipeline.CycleReport   `json:"last_cycle,omitempty"`
	Policy    *PolicyStatus           `json:"policy,omitempty"`
	Telemetry *telemetry.HealthStatus `json:"telemetry,omitempty"`
}

// PolicyStatus describes the rules currently in force.
type PolicyStatus struct {
	ProtectedPaths []string `json:"protected_paths"`
	Reloads        int64    `json:"reloads"`
}

// AuditResponse is the response body for GET /api/v1/audit.
type AuditResponse struct {
	Records []audit.Record `json:"records"`
}

// PolicyCheckRequest is the request body for POST /api/v1/policy/check.
type PolicyCheckRequest struct {
	Paths []string `json:"paths"`
}

// PolicyCheckResponse is the response body for POST /api/v1/policy/check.
type PolicyCheckResponse struct {
	Decision policy.Decision `json:"decision"`
	Results  []PathResult    `json:"results"`
}

// PathResult is the verdict for one path.
type PathResult struct {
	Path        string `json:"path"`
	Blocked     bool   `json:"blocked"`
	MatchedRule string `json:"matched_rule,omitempty"`
}
