package pipeline

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/triaged/internal/remediate"
)

// Stage names the pipeline step an error came from.
type Stage string

const (
	StageFetch     Stage = "fetch"
	StageSync      Stage = "sync"
	StageExtract   Stage = "extract"
	StageDiagnose  Stage = "diagnose"
	StageRemediate Stage = "remediate"
)

// StageError tags an error with the stage and event it belongs to.
type StageError struct {
	Stage     Stage
	Signature string
	Err       error
}

func (e *StageError) Error() string {
	if e.Signature == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Stage, e.Signature, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// CycleReport summarizes one RunCycle.
type CycleReport struct {
	ID         string                 `json:"id"`
	StartedAt  time.Time              `json:"started_at"`
	Duration   time.Duration          `json:"duration"`
	Fetched    int                    `json:"fetched"`
	Processed  int                    `json:"processed"`
	Outcomes   map[remediate.Kind]int `json:"outcomes"`
	Errors     []string               `json:"errors,omitempty"`
	SyncFailed bool                   `json:"sync_failed,omitempty"`
}

// Status is a snapshot of orchestrator progress.
type Status struct {
	Cycles    int64        `json:"cycles"`
	LastCycle *CycleReport `json:"last_cycle,omitempty"`
}
