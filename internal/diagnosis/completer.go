package diagnosis

import (
	"context"
	"fmt"
	"net/http"

	"github.com/fyrsmithlabs/triaged/internal/config"
)

// Completer sends a prompt to a language model and returns its text.
// Transport failures and non-2xx responses are errors.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, prompt string) (string, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

const systemPrompt = "You diagnose production errors and reply with a single JSON object."

// CompleterOption configures provider construction.
type CompleterOption func(*completerOptions)

type completerOptions struct {
	httpClient *http.Client
}

// WithHTTPClient sets the HTTP client used by every provider.
func WithHTTPClient(c *http.Client) CompleterOption {
	return func(o *completerOptions) { o.httpClient = c }
}

// NewCompleter builds the Completer named by cfg.Provider.
func NewCompleter(cfg config.LLMConfig, opts ...CompleterOption) (Completer, error) {
	o := completerOptions{httpClient: http.DefaultClient}
	for _, opt := range opts {
		opt(&o)
	}

	switch cfg.Provider {
	case "openai":
		return newOpenAICompleter(cfg, o.httpClient)
	case "anthropic":
		return newAnthropicCompleter(cfg, o.httpClient)
	case "ollama":
		return newOllamaCompleter(cfg, o.httpClient)
	case "http":
		return newHTTPCompleter(cfg, o.httpClient)
	default:
		return nil, fmt.Errorf("unknown llm provider: %q", cfg.Provider)
	}
}
