package extract

const (
	// MaxSnippets caps the number of files attached to one diagnosis.
	MaxSnippets = 3

	// MaxStackTraceLen caps ParsedLogContext.StackTrace in bytes.
	MaxStackTraceLen = 2000

	// FirstLinesLimit is the number of non-empty message lines kept.
	FirstLinesLimit = 20

	// MaxSnippetBytes truncates very large source files.
	MaxSnippetBytes = 64 << 10

	// DefaultSourceRootMarker is the path segment that starts a
	// repository-relative source path.
	DefaultSourceRootMarker = "src/"
)

// ParsedLogContext is the structured view of one event message.
type ParsedLogContext struct {
	KnownFormat bool     `json:"known_format"`
	StackTrace  string   `json:"stack_trace,omitempty"`
	PluginNames []string `json:"plugin_names,omitempty"`
	OutOfMemory bool     `json:"out_of_memory"`
	FirstNLines []string `json:"first_n_lines,omitempty"`
}

// SourceSnippet is the content of one repository file.
type SourceSnippet struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// FileReader reads repository-relative files from the working copy.
type FileReader interface {
	ReadFile(path string) ([]byte, error)
}
