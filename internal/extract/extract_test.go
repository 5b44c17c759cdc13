package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/triaged/internal/logsource"
)

const nodeCrash = `TypeError: Cannot read properties of undefined (reading 'label')
    at Button.render (/app/src/widgets/button.ts:42:17)
    at renderWithHooks (/app/node_modules/react-dom/cjs/react-dom.development.js:14985:18)
    at mountIndeterminateComponent (./src/widgets/panel.tsx:9:3)

Additional context: plugin="analytics-bridge"`

func TestExtract_NodeStackTrace(t *testing.T) {
	parsed := Extract(logsource.ErrorEvent{Service: "web", Message: nodeCrash})

	assert.True(t, parsed.KnownFormat)
	assert.False(t, parsed.OutOfMemory)
	lines := strings.Split(parsed.StackTrace, "\n")
	assert.Len(t, lines, 3)
	assert.Contains(t, lines[0], "Button.render")
	assert.Equal(t, []string{"analytics-bridge"}, parsed.PluginNames)
	assert.Len(t, parsed.FirstNLines, 5)
	assert.Equal(t, "TypeError: Cannot read properties of undefined (reading 'label')", parsed.FirstNLines[0])
}

func TestExtract_Formats(t *testing.T) {
	tests := []struct {
		name      string
		message   string
		known     bool
		oom       bool
		wantTrace bool
	}{
		{"plain message", "connection refused to db:5432", false, false, false},
		{"v8 oom banner", "FATAL ERROR: Reached heap limit Allocation failed - JavaScript heap out of memory\n<--- JS stacktrace --->", true, true, false},
		{"error head without parens", "RangeError: Maximum call stack size exceeded\n    at loop\n    at loop", true, false, true},
		{"java oom", "java.lang.OutOfMemoryError: Java heap space", false, true, false},
		{"empty", "", false, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed := Extract(logsource.ErrorEvent{Message: tt.message})
			assert.Equal(t, tt.known, parsed.KnownFormat)
			assert.Equal(t, tt.oom, parsed.OutOfMemory)
			assert.Equal(t, tt.wantTrace, parsed.StackTrace != "")
		})
	}
}

func TestExtract_StackTraceFirstRunOnly(t *testing.T) {
	msg := "Error: outer\n    at a (src/a.ts:1:1)\n    at b (src/b.ts:2:2)\nCaused by: inner\n    at c (src/c.ts:3:3)"
	parsed := Extract(logsource.ErrorEvent{Message: msg})
	assert.NotContains(t, parsed.StackTrace, "src/c.ts")
	assert.Contains(t, parsed.StackTrace, "src/b.ts")
}

func TestExtract_StackTraceCapped(t *testing.T) {
	var b strings.Builder
	b.WriteString("Error: deep\n")
	for i := 0; i < 200; i++ {
		b.WriteString("    at recurse (/app/src/lib/recurse.ts:10:5)\n")
	}
	parsed := Extract(logsource.ErrorEvent{Message: b.String()})
	assert.LessOrEqual(t, len(parsed.StackTrace), MaxStackTraceLen)
	assert.NotEmpty(t, parsed.StackTrace)
}

func TestExtract_PluginNames(t *testing.T) {
	msg := `[auth-plugin] token refresh failed
loading plugin: payments-v2
require failed for @acme/widgets at boot, retry @acme/widgets
[auth-plugin] giving up`
	parsed := Extract(logsource.ErrorEvent{Message: msg})
	assert.Equal(t, []string{"auth-plugin", "payments-v2", "@acme/widgets"}, parsed.PluginNames)
}

func TestExtract_FirstLinesCapped(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 50; i++ {
		b.WriteString("line\n\n")
	}
	parsed := Extract(logsource.ErrorEvent{Message: b.String()})
	assert.Len(t, parsed.FirstNLines, FirstLinesLimit)
}
