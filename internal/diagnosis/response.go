package diagnosis

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/go-playground/validator/v10"
)

// DegradedRootCause is the root cause recorded when model output is unusable.
const DegradedRootCause = "diagnosis response was not valid structured output"

const fixKindCodePatch = "code_patch"

// response is the JSON contract requested from the model.
type response struct {
	Actionable        bool           `json:"actionable"`
	Category          string         `json:"category" validate:"omitempty,oneof=crash performance conflict config memory other"`
	ProbableRootCause string         `json:"probable_root_cause" validate:"required"`
	SuggestedFixes    []suggestedFix `json:"suggested_fixes" validate:"dive"`
	Confidence        float64        `json:"confidence" validate:"gte=0,lte=1"`
	QuickIssueTitle   string         `json:"quick_issue_title" validate:"max=256"`
	QuickIssueBody    string         `json:"quick_issue_body"`
}

type suggestedFix struct {
	Kind        string       `json:"kind" validate:"required,oneof=code_patch config_change manual other"`
	Description string       `json:"description"`
	Files       []fileChange `json:"files" validate:"dive"`
}

type fileChange struct {
	Path    string `json:"path" validate:"required,repopath"`
	Content string `json:"content"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	if err := v.RegisterValidation("repopath", validateRepoPath); err != nil {
		panic(fmt.Sprintf("registering repopath validator: %v", err))
	}
	return v
}

// validateRepoPath accepts relative paths that stay inside the repository.
func validateRepoPath(fl validator.FieldLevel) bool {
	p := fl.Field().String()
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return false
	}
	clean := path.Clean(p)
	return clean != "." && clean != ".." && !strings.HasPrefix(clean, "../")
}

var (
	errEmptyResponse = errors.New("empty model response")
	errTrailingData  = errors.New("model response has data after the JSON object")
)

// parseResponse decodes and validates raw model output.
func parseResponse(raw string) (response, error) {
	body := stripFence(strings.TrimSpace(raw))
	if body == "" {
		return response{}, errEmptyResponse
	}

	var r response
	dec := json.NewDecoder(bytes.NewReader([]byte(body)))
	if err := dec.Decode(&r); err != nil {
		return response{}, fmt.Errorf("decoding model response: %w", err)
	}
	// The object must be the whole reply.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return response{}, errTrailingData
	}
	if err := validate.Struct(r); err != nil {
		return response{}, fmt.Errorf("validating model response: %w", err)
	}
	return r, nil
}

// stripFence removes one surrounding markdown code fence.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") || !strings.HasSuffix(s, "```") || len(s) < 6 {
		return s
	}
	inner := strings.TrimSuffix(s, "```")
	if nl := strings.IndexByte(inner, '\n'); nl >= 0 {
		inner = inner[nl+1:]
	} else {
		inner = strings.TrimPrefix(inner, "```")
	}
	return strings.TrimSpace(inner)
}

// patch returns the files of the first code_patch fix that has any.
// A path listed twice keeps its last content.
func (r response) patch() Patch {
	for _, fix := range r.SuggestedFixes {
		if fix.Kind != fixKindCodePatch || len(fix.Files) == 0 {
			continue
		}
		p := make(Patch, len(fix.Files))
		for _, f := range fix.Files {
			p[path.Clean(f.Path)] = f.Content
		}
		return p
	}
	return nil
}

func (r response) category() Category {
	if r.Category == "" {
		return CategoryOther
	}
	return Category(r.Category)
}
