package diagnosis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/triaged/internal/config"
)

const (
	defaultBaseBackoff = time.Second
	defaultBurst       = 1
	maxErrorBodyBytes  = 512
)

// httpCompleter posts prompts to a plain JSON endpoint:
//
//	request:  {"model": "...", "system": "...", "prompt": "...", "temperature": 0.1, "max_tokens": 4096}
//	response: {"text": "..."}
type httpCompleter struct {
	url         string
	apiKey      config.Secret
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxRetries  int
	baseBackoff time.Duration
}

type httpCompletionRequest struct {
	Model       string  `json:"model,omitempty"`
	System      string  `json:"system"`
	Prompt      string  `json:"prompt"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

type httpCompletionResponse struct {
	Text string `json:"text"`
}

func newHTTPCompleter(cfg config.LLMConfig, httpClient *http.Client) (*httpCompleter, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("http completer requires llm.base_url")
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}

	return &httpCompleter{
		url:         cfg.BaseURL,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		httpClient:  httpClient,
		limiter:     rate.NewLimiter(limit, defaultBurst),
		maxRetries:  retries,
		baseBackoff: defaultBaseBackoff,
	}, nil
}

// Complete waits for the rate limiter and retries transient failures with
// exponential backoff.
func (h *httpCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	if err := h.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter error: %w", err)
	}

	payload, err := json.Marshal(httpCompletionRequest{
		Model:       h.model,
		System:      systemPrompt,
		Prompt:      prompt,
		Temperature: h.temperature,
		MaxTokens:   h.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= h.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := h.baseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		text, err := h.doRequest(ctx, payload)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !isRetryableError(err) {
			return "", err
		}
	}
	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (h *httpCompleter) doRequest(ctx context.Context, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.apiKey.IsSet() {
		req.Header.Set("Authorization", "Bearer "+h.apiKey.Value())
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &retryableError{err: fmt.Errorf("completion request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", &retryableError{err: errors.New("rate limited (429)")}
	case resp.StatusCode >= 500:
		return "", &retryableError{err: fmt.Errorf("server error (%d): %s", resp.StatusCode, clip(body))}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return "", fmt.Errorf("completion API error (%d): %s", resp.StatusCode, clip(body))
	}

	var out httpCompletionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	return out.Text, nil
}

func clip(body []byte) string {
	if len(body) > maxErrorBodyBytes {
		body = body[:maxErrorBodyBytes]
	}
	return string(body)
}

// retryableError marks transient failures.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func isRetryableError(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
