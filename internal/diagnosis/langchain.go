package diagnosis

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/fyrsmithlabs/triaged/internal/config"
)

// langchainCompleter drives any langchaingo model with a single prompt.
type langchainCompleter struct {
	name    string
	model   llms.Model
	options []llms.CallOption
}

// callOptions builds per-call options. JSON mode is only requested from
// providers that honor it; the rest rely on strict response parsing.
func callOptions(cfg config.LLMConfig, jsonMode bool) []llms.CallOption {
	opts := []llms.CallOption{llms.WithTemperature(cfg.Temperature)}
	if jsonMode {
		opts = append(opts, llms.WithJSONMode())
	}
	if cfg.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(cfg.MaxTokens))
	}
	return opts
}

func newAnthropicCompleter(cfg config.LLMConfig, httpClient *http.Client) (*langchainCompleter, error) {
	opts := []anthropic.Option{
		anthropic.WithModel(cfg.Model),
		anthropic.WithHTTPClient(httpClient),
	}
	if cfg.APIKey.IsSet() {
		opts = append(opts, anthropic.WithToken(cfg.APIKey.Value()))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
	}

	model, err := anthropic.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating anthropic client: %w", err)
	}
	return &langchainCompleter{name: "anthropic", model: model, options: callOptions(cfg, false)}, nil
}

func newOllamaCompleter(cfg config.LLMConfig, httpClient *http.Client) (*langchainCompleter, error) {
	opts := []ollama.Option{
		ollama.WithModel(cfg.Model),
		ollama.WithFormat("json"),
		ollama.WithHTTPClient(httpClient),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
	}

	model, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating ollama client: %w", err)
	}
	return &langchainCompleter{name: "ollama", model: model, options: callOptions(cfg, true)}, nil
}

// Complete sends prompt as a single human message.
func (l *langchainCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	out, err := llms.GenerateFromSinglePrompt(ctx, l.model, prompt, l.options...)
	if err != nil {
		return "", fmt.Errorf("%s completion: %w", l.name, err)
	}
	return out, nil
}
