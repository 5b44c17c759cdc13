package extract

import (
	"context"
	"errors"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/triaged/internal/logging"
	"github.com/fyrsmithlabs/triaged/internal/logsource"
)

type mapReader struct {
	files map[string]string
	reads []string
}

func (m *mapReader) ReadFile(p string) ([]byte, error) {
	m.reads = append(m.reads, p)
	content, ok := m.files[p]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return []byte(content), nil
}

func TestCandidatePaths(t *testing.T) {
	g := NewGatherer()
	event := logsource.ErrorEvent{Message: nodeCrash}
	paths := g.CandidatePaths(Extract(event), event)
	assert.Equal(t, []string{"src/widgets/button.ts", "src/widgets/panel.tsx"}, paths)
}

func TestCandidatePaths_FallsBackToMessage(t *testing.T) {
	g := NewGatherer()
	event := logsource.ErrorEvent{Message: "config load failed in ./src/config/load.js:3, see src/config/load.js."}
	paths := g.CandidatePaths(Extract(event), event)
	assert.Equal(t, []string{"src/config/load.js"}, paths)
}

func TestCandidatePaths_CustomMarker(t *testing.T) {
	g := NewGatherer(WithSourceRootMarker("lib/"))
	event := logsource.ErrorEvent{Message: "Error: x\n    at f (/srv/app/lib/x.rb:1:1)\n    at g (/srv/app/src/y.ts:1:1)"}
	paths := g.CandidatePaths(Extract(event), event)
	assert.Equal(t, []string{"lib/x.rb"}, paths)
}

func TestGatherSnippets_CapsAtThree(t *testing.T) {
	msg := "Error: boom\n" +
		"    at a (src/a.ts:1:1)\n" +
		"    at b (src/b.ts:1:1)\n" +
		"    at a2 (src/a.ts:9:9)\n" +
		"    at c (src/c.ts:1:1)\n" +
		"    at d (src/d.ts:1:1)\n" +
		"    at e (src/e.ts:1:1)"
	reader := &mapReader{files: map[string]string{
		"src/a.ts": "a", "src/b.ts": "b", "src/c.ts": "c", "src/d.ts": "d", "src/e.ts": "e",
	}}
	event := logsource.ErrorEvent{Message: msg}

	snippets := NewGatherer().GatherSnippets(context.Background(), Extract(event), event, reader)
	require.Len(t, snippets, MaxSnippets)
	assert.Equal(t, "src/a.ts", snippets[0].Path)
	assert.Equal(t, "src/c.ts", snippets[2].Path)
	assert.Len(t, reader.reads, 3)
}

func TestGatherSnippets_SkipsUnreadable(t *testing.T) {
	logger := logging.NewTestLogger()
	msg := "Error: boom\n    at a (src/missing.ts:1:1)\n    at b (src/b.ts:1:1)"
	reader := &mapReader{files: map[string]string{"src/b.ts": "export const b = 1\n"}}
	event := logsource.ErrorEvent{Message: msg}

	snippets := NewGatherer(WithLogger(logger.Logger)).GatherSnippets(context.Background(), Extract(event), event, reader)
	require.Len(t, snippets, 1)
	assert.Equal(t, "src/b.ts", snippets[0].Path)
	assert.Equal(t, "export const b = 1\n", snippets[0].Content)
	logger.AssertLogged(t, zapcore.WarnLevel, "skipping unreadable source file")
}

type errReader struct{}

func (errReader) ReadFile(string) ([]byte, error) { return nil, errors.New("no working copy") }

func TestGatherSnippets_NoPathsOrNoReads(t *testing.T) {
	event := logsource.ErrorEvent{Message: "timeout talking to redis"}
	assert.Empty(t, NewGatherer().GatherSnippets(context.Background(), Extract(event), event, errReader{}))

	event = logsource.ErrorEvent{Message: nodeCrash}
	assert.Empty(t, NewGatherer().GatherSnippets(context.Background(), Extract(event), event, errReader{}))
}
