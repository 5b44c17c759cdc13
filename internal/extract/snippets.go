package extract

import (
	"context"
	"path"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/triaged/internal/logging"
	"github.com/fyrsmithlabs/triaged/internal/logsource"
)

var (
	sourcePathPattern = regexp.MustCompile(`[\w./@~-]+\.[A-Za-z0-9]+(?::\d+(?::\d+)?)?`)
	lineSuffixPattern = regexp.MustCompile(`:\d+(?::\d+)?$`)
)

// Gatherer resolves trace paths to source snippets.
type Gatherer struct {
	marker string
	logger *logging.Logger
}

// GathererOption configures a Gatherer.
type GathererOption func(*Gatherer)

// WithSourceRootMarker overrides DefaultSourceRootMarker.
func WithSourceRootMarker(marker string) GathererOption {
	return func(g *Gatherer) {
		if marker != "" {
			g.marker = marker
		}
	}
}

// WithLogger sets the logger used for unreadable files.
func WithLogger(l *logging.Logger) GathererOption {
	return func(g *Gatherer) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGatherer creates a Gatherer.
func NewGatherer(opts ...GathererOption) *Gatherer {
	g := &Gatherer{marker: DefaultSourceRootMarker, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CandidatePaths lists the repository-relative paths referenced by the
// stack trace, or by the message when there is no trace. Order is first
// appearance; duplicates are removed.
func (g *Gatherer) CandidatePaths(parsed ParsedLogContext, event logsource.ErrorEvent) []string {
	text := parsed.StackTrace
	if text == "" {
		text = event.Message
	}

	seen := make(map[string]bool)
	var paths []string
	for _, raw := range sourcePathPattern.FindAllString(text, -1) {
		p, ok := g.normalize(raw)
		if !ok || seen[p] {
			continue
		}
		seen[p] = true
		paths = append(paths, p)
	}
	return paths
}

func (g *Gatherer) normalize(raw string) (string, bool) {
	p := lineSuffixPattern.ReplaceAllString(raw, "")
	p = strings.TrimPrefix(p, "./")
	idx := strings.Index(p, g.marker)
	if idx < 0 {
		return "", false
	}
	p = path.Clean(p[idx:])
	if p == "." || strings.HasPrefix(p, "../") {
		return "", false
	}
	return p, true
}

// GatherSnippets reads up to MaxSnippets of the candidate paths. Paths that
// cannot be read are logged and skipped.
func (g *Gatherer) GatherSnippets(ctx context.Context, parsed ParsedLogContext, event logsource.ErrorEvent, reader FileReader) []SourceSnippet {
	var snippets []SourceSnippet
	for _, p := range g.CandidatePaths(parsed, event) {
		if len(snippets) == MaxSnippets || ctx.Err() != nil {
			break
		}
		data, err := reader.ReadFile(p)
		if err != nil {
			g.logger.Warn(ctx, "skipping unreadable source file",
				zap.String("path", p),
				zap.Error(err))
			continue
		}
		snippets = append(snippets, SourceSnippet{
			Path:    p,
			Content: truncate(string(data), MaxSnippetBytes),
		})
	}
	return snippets
}
