// Package assistant – llm.go implements the text-generation collaborator
// client. Uses the OpenAI-compatible chat completions format, which works
// with OpenAI, Anthropic proxies, and any compatible endpoint.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/soulpath/soulbot/pkg/soulbot/session"
)

// Generator is the text-generation collaborator. The production
// implementation is LLMClient; tests substitute a fake.
type Generator interface {
	Generate(ctx context.Context, systemPrompt string, turns []session.Turn, params GenerationParams) (string, error)
}

// ---------- Error Classification ----------

// LLMErrorKind classifies provider errors for retry decisions.
type LLMErrorKind int

const (
	LLMErrorRetryable  LLMErrorKind = iota // transient 5xx
	LLMErrorRateLimit                      // 429 — rate limited
	LLMErrorOverloaded                     // 529 or "overloaded" in body
	LLMErrorTimeout                        // request timeout / deadline exceeded
	LLMErrorAuth                           // 401, 403 — invalid/expired API key
	LLMErrorFatal                          // everything else
)

// String returns a human-readable label for the error kind.
func (k LLMErrorKind) String() string {
	switch k {
	case LLMErrorRetryable:
		return "retryable"
	case LLMErrorRateLimit:
		return "rate_limit"
	case LLMErrorOverloaded:
		return "overloaded"
	case LLMErrorTimeout:
		return "timeout"
	case LLMErrorAuth:
		return "auth"
	case LLMErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Retryable reports whether the error kind warrants the single automatic
// retry.
func (k LLMErrorKind) Retryable() bool {
	return k == LLMErrorRetryable || k == LLMErrorRateLimit || k == LLMErrorOverloaded || k == LLMErrorTimeout
}

// LLMError is a classified failure of the text-generation collaborator.
type LLMError struct {
	Kind       LLMErrorKind
	StatusCode int
	Message    string
}

func (e *LLMError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("llm %s: API returned %d: %s", e.Kind, e.StatusCode, truncate(e.Message, 200))
	}
	return fmt.Sprintf("llm %s: %s", e.Kind, truncate(e.Message, 200))
}

// classifyAPIError determines the error kind from status code and body.
func classifyAPIError(statusCode int, body string) LLMErrorKind {
	bodyLower := strings.ToLower(body)

	if statusCode == 429 ||
		strings.Contains(bodyLower, "rate_limit") ||
		strings.Contains(bodyLower, "rate limit") ||
		strings.Contains(bodyLower, "too many requests") {
		return LLMErrorRateLimit
	}

	if statusCode == 529 ||
		strings.Contains(bodyLower, "overloaded") ||
		strings.Contains(bodyLower, "capacity") {
		return LLMErrorOverloaded
	}

	if strings.Contains(bodyLower, "timeout") ||
		strings.Contains(bodyLower, "deadline") ||
		strings.Contains(bodyLower, "timed out") {
		return LLMErrorTimeout
	}

	switch statusCode {
	case 401, 403:
		return LLMErrorAuth
	case 500, 502, 503, 521, 522, 523, 524:
		return LLMErrorRetryable
	default:
		if statusCode >= 500 {
			return LLMErrorRetryable
		}
		return LLMErrorFatal
	}
}

// ---------- Client ----------

// LLMClient handles communication with the LLM provider API.
type LLMClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewLLMClient creates a new LLM client from config.
func NewLLMClient(cfg *Config, logger *slog.Logger) *LLMClient {
	baseURL := cfg.API.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	return &LLMClient{
		baseURL: baseURL,
		apiKey:  cfg.API.APIKey,
		model:   cfg.Model,
		httpClient: &http.Client{
			// No global timeout here — each call carries its own context
			// deadline from the conversation engine.
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     120 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		logger: logger.With("component", "llm"),
	}
}

// Generate sends a chat completion request and returns the reply text.
// Retryable failures (transient 5xx, rate limit, timeout) get exactly
// one automatic retry; everything else fails immediately.
func (c *LLMClient) Generate(ctx context.Context, systemPrompt string, turns []session.Turn, params GenerationParams) (string, error) {
	text, err := c.completeOnce(ctx, systemPrompt, turns, params)
	if err == nil {
		return text, nil
	}

	var llmErr *LLMError
	if !errors.As(err, &llmErr) || !llmErr.Kind.Retryable() || ctx.Err() != nil {
		return "", err
	}

	c.logger.Warn("generation failed, retrying once", "kind", llmErr.Kind.String(), "err", err)
	select {
	case <-ctx.Done():
		return "", err
	case <-time.After(time.Second):
	}
	return c.completeOnce(ctx, systemPrompt, turns, params)
}

// chatMessage is one message in the chat completions request.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// completeOnce performs a single chat completion call.
func (c *LLMClient) completeOnce(ctx context.Context, systemPrompt string, turns []session.Turn, params GenerationParams) (string, error) {
	messages := make([]chatMessage, 0, len(turns)+1)
	if systemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	for _, t := range turns {
		messages = append(messages, chatMessage{Role: string(t.Role), Content: t.Content})
	}

	payload := map[string]any{
		"model":       c.model,
		"messages":    messages,
		"max_tokens":  params.MaxTokens,
		"temperature": params.Temperature,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		kind := LLMErrorRetryable
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			kind = LLMErrorTimeout
		}
		return "", &LLMError{Kind: kind, Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &LLMError{Kind: LLMErrorRetryable, Message: "reading response: " + err.Error()}
	}

	if resp.StatusCode != http.StatusOK {
		kind := classifyAPIError(resp.StatusCode, string(respBody))
		llmErr := &LLMError{Kind: kind, StatusCode: resp.StatusCode, Message: string(respBody)}
		if kind == LLMErrorRateLimit {
			if after := resp.Header.Get("Retry-After"); after != "" {
				if secs, err := strconv.Atoi(after); err == nil {
					c.logger.Warn("rate limited", "retry_after_s", secs)
				}
			}
		}
		return "", llmErr
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", &LLMError{Kind: LLMErrorFatal, Message: "decoding response: " + err.Error()}
	}
	if len(result.Choices) == 0 {
		return "", &LLMError{Kind: LLMErrorFatal, Message: "empty choices in response"}
	}

	return strings.TrimSpace(result.Choices[0].Message.Content), nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

var _ Generator = (*LLMClient)(nil)
