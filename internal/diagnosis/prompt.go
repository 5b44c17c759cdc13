package diagnosis

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/fyrsmithlabs/triaged/internal/extract"
	"github.com/fyrsmithlabs/triaged/internal/logsource"
)

const responseSchema = `{
  "actionable": true | false,
{{- if .Structured}}
  "category": one of {{.CategoryList}},
{{- end}}
  "probable_root_cause": "one or two sentences",
  "suggested_fixes": [
    {
      "kind": "code_patch" | "config_change" | "manual" | "other",
      "description": "what the fix does",
      "files": [ { "path": "repository-relative path", "content": "the COMPLETE new file content" } ]
    }
  ],
  "confidence": number between 0 and 1,
  "quick_issue_title": "short title for a tracking issue",
  "quick_issue_body": "markdown body for a tracking issue"
}`

const sharedTail = `
{{- if .Metadata}}

Event metadata:
{{- range .Metadata}}
- {{.Key}}: {{.Value}}
{{- end}}
{{- end}}
{{- if .Snippets}}

Source files from the repository at the default branch:
{{- range .Snippets}}
----- FILE: {{.Path}} -----
{{.Content}}
----- END FILE -----
{{- end}}
{{- end}}

Rules:
- Set "actionable" to true only if a code change in the files above fixes the error.
- A "code_patch" fix must contain whole files, never diffs or fragments.
- Only patch files that appear above unless a new file is required.
- If you are unsure, set "actionable" to false and explain in "quick_issue_body".

Respond with a single JSON object and nothing else, in this shape:
` + responseSchema + "\n"

var structuredTemplate = template.Must(template.New("structured").
	Funcs(template.FuncMap{"join": strings.Join}).
	Parse(`You are an on-call engineer triaging a production error.

Service: {{.Event.Service}}
Severity: {{.Event.Severity}}
Time: {{.Timestamp}}
Signature: {{.Event.Signature}}

The error matched a known runtime crash format.
Out of memory: {{.Parsed.OutOfMemory}}
{{- if .Parsed.PluginNames}}
Plugins involved: {{join .Parsed.PluginNames ", "}}
{{- end}}

First lines of the message:
{{- range .Parsed.FirstNLines}}
{{.}}
{{- end}}
{{- if .Parsed.StackTrace}}

Stack trace:
{{.Parsed.StackTrace}}
{{- end}}` + sharedTail))

var genericTemplate = template.Must(template.New("generic").Parse(`You are an on-call engineer triaging a production error.

Service: {{.Event.Service}}
Severity: {{.Event.Severity}}
Time: {{.Timestamp}}
Signature: {{.Event.Signature}}

Message:
{{.Event.Message}}` + sharedTail))

type metadataEntry struct {
	Key   string
	Value string
}

type promptData struct {
	Event        logsource.ErrorEvent
	Parsed       extract.ParsedLogContext
	Snippets     []extract.SourceSnippet
	Metadata     []metadataEntry
	Timestamp    string
	Structured   bool
	CategoryList string
}

// BuildPrompt renders the diagnosis prompt. Known formats get the
// structured template which also asks for a category.
func BuildPrompt(event logsource.ErrorEvent, parsed extract.ParsedLogContext, snippets []extract.SourceSnippet) (string, error) {
	data := promptData{
		Event:        event,
		Parsed:       parsed,
		Snippets:     snippets,
		Metadata:     sortedMetadata(event.Metadata),
		Timestamp:    event.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Structured:   parsed.KnownFormat,
		CategoryList: categoryList(),
	}

	tmpl := genericTemplate
	if parsed.KnownFormat {
		tmpl = structuredTemplate
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("rendering %s prompt: %w", tmpl.Name(), err)
	}
	return b.String(), nil
}

func sortedMetadata(meta map[string]any) []metadataEntry {
	if len(meta) == 0 {
		return nil
	}
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]metadataEntry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, metadataEntry{Key: k, Value: metadataValue(meta[k])})
	}
	return entries
}

func metadataValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return "null"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func categoryList() string {
	quoted := make([]string, len(Categories))
	for i, c := range Categories {
		quoted[i] = fmt.Sprintf("%q", c)
	}
	return strings.Join(quoted, " | ")
}
