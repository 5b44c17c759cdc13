package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// Finding describes one redacted secret. The secret value is not kept.
type Finding struct {
	RuleID string
	Line   int
	Length int
}

// Result is the outcome of a Redact call.
type Result struct {
	Content  string
	Findings []Finding
}

// RuleCounts aggregates findings by rule for logging.
func (r Result) RuleCounts() map[string]int {
	counts := make(map[string]int, len(r.Findings))
	for _, f := range r.Findings {
		counts[f.RuleID]++
	}
	return counts
}

// Redactor replaces secrets found by the gitleaks default rule set with
// [REDACTED:<rule-id>] markers.
type Redactor struct {
	mu        sync.Mutex
	detector  *detect.Detector
	stopWords []string
}

// NewRedactor builds a Redactor with the default gitleaks rules plus the
// given allowlist. allowlist may be nil.
func NewRedactor(allowlist *Allowlist) (*Redactor, error) {
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating gitleaks detector: %w", err)
	}
	r := &Redactor{detector: detector}
	if allowlist != nil {
		if len(allowlist.Regexes) > 0 {
			applyAllowlist(&detector.Config, allowlist)
		}
		for _, w := range allowlist.StopWords {
			r.stopWords = append(r.stopWords, strings.ToLower(w))
		}
	}
	return r, nil
}

// Redact returns content with every detected secret replaced.
func (r *Redactor) Redact(content string) Result {
	if content == "" {
		return Result{Content: content}
	}

	r.mu.Lock()
	found := r.detector.DetectString(content)
	r.mu.Unlock()

	if len(found) == 0 {
		return Result{Content: content}
	}

	// Longest secrets first so a secret containing another is replaced whole.
	sort.SliceStable(found, func(i, j int) bool {
		return len(found[i].Secret) > len(found[j].Secret)
	})

	findings := make([]Finding, 0, len(found))
	redacted := content
	for _, f := range found {
		if f.Secret == "" || r.isStopWord(f.Secret) {
			continue
		}
		findings = append(findings, Finding{RuleID: f.RuleID, Line: f.StartLine, Length: len(f.Secret)})
		redacted = strings.ReplaceAll(redacted, f.Secret, "[REDACTED:"+f.RuleID+"]")
	}
	return Result{Content: redacted, Findings: findings}
}

func (r *Redactor) isStopWord(secret string) bool {
	lower := strings.ToLower(secret)
	for _, w := range r.stopWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// applyAllowlist appends a global allowlist entry to the gitleaks config.
// Patterns were validated by LoadAllowlist.
func applyAllowlist(cfg *gitleaksConfig.Config, allowlist *Allowlist) {
	entry := &gitleaksConfig.Allowlist{Description: "triaged allowlist"}
	for _, pattern := range allowlist.Regexes {
		re := regexp.MustCompile(pattern)
		entry.Regexes = append(entry.Regexes, (*gitleaksRegexp.Regexp)(re))
	}
	cfg.Allowlists = append(cfg.Allowlists, entry)
}
