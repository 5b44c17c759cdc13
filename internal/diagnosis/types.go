package diagnosis

import (
	"sort"
	"time"
)

// Category classifies the failure.
type Category string

const (
	CategoryCrash       Category = "crash"
	CategoryPerformance Category = "performance"
	CategoryConflict    Category = "conflict"
	CategoryConfig      Category = "config"
	CategoryMemory      Category = "memory"
	CategoryOther       Category = "other"
)

// Categories lists every valid category in prompt order.
var Categories = []Category{
	CategoryCrash, CategoryPerformance, CategoryConflict,
	CategoryConfig, CategoryMemory, CategoryOther,
}

// Patch maps repository-relative paths to complete new file contents.
type Patch map[string]string

// Empty reports whether the patch touches no files.
func (p Patch) Empty() bool { return len(p) == 0 }

// Paths returns the patched paths in sorted order.
func (p Patch) Paths() []string {
	paths := make([]string, 0, len(p))
	for path := range p {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Diagnosis is the validated model verdict for one event.
type Diagnosis struct {
	ID                string    `json:"id"`
	GeneratedAt       time.Time `json:"generated_at"`
	Actionable        bool      `json:"actionable"`
	Category          Category  `json:"category"`
	ProbableRootCause string    `json:"probable_root_cause"`
	Confidence        float64   `json:"confidence"`
	SuggestedPatch    Patch     `json:"suggested_patch,omitempty"`
	IssueTitle        string    `json:"issue_title,omitempty"`
	IssueBody         string    `json:"issue_body,omitempty"`

	// Degraded is set when the model output failed to decode or validate.
	Degraded bool `json:"degraded,omitempty"`
}
