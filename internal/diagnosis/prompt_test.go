package diagnosis

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/triaged/internal/extract"
	"github.com/fyrsmithlabs/triaged/internal/logsource"
)

func TestBuildPrompt_Structured(t *testing.T) {
	event := testEvent()
	event.Metadata = map[string]any{"route": "/shifts", "attempt": 3, "build": nil}
	parsed := extract.Extract(event)
	parsed.PluginNames = []string{"analytics-bridge", "@acme/widgets"}
	require.True(t, parsed.KnownFormat)

	prompt, err := BuildPrompt(event, parsed, []extract.SourceSnippet{
		{Path: "src/widgets/button.ts", Content: "export function render() {}"},
	})
	require.NoError(t, err)

	assert.Contains(t, prompt, "Service: web")
	assert.Contains(t, prompt, "Stack trace:\n    at Button.render")
	assert.Contains(t, prompt, "Plugins involved: analytics-bridge, @acme/widgets")
	assert.Contains(t, prompt, `"category": one of "crash" | "performance"`)
	assert.Contains(t, prompt, "----- FILE: src/widgets/button.ts -----\nexport function render() {}\n----- END FILE -----")

	// Metadata keys are sorted.
	attempt := strings.Index(prompt, "- attempt: 3")
	build := strings.Index(prompt, "- build: null")
	route := strings.Index(prompt, "- route: /shifts")
	assert.True(t, attempt >= 0 && attempt < build && build < route, prompt)
}

func TestBuildPrompt_Generic(t *testing.T) {
	event := logsource.ErrorEvent{Service: "billing", Severity: logsource.SeverityCritical, Message: "ledger mismatch for invoice 42"}
	parsed := extract.Extract(event)
	require.False(t, parsed.KnownFormat)

	prompt, err := BuildPrompt(event, parsed, nil)
	require.NoError(t, err)

	assert.Contains(t, prompt, "Message:\nledger mismatch for invoice 42")
	assert.NotContains(t, prompt, `"category"`)
	assert.NotContains(t, prompt, "----- FILE:")
	assert.NotContains(t, prompt, "Event metadata:")
	assert.Contains(t, prompt, "Respond with a single JSON object")
}
