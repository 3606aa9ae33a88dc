package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/soulpath/soulbot/pkg/soulbot/session"
)

func TestClassifyAPIError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   LLMErrorKind
	}{
		{"rate limit status", 429, "", LLMErrorRateLimit},
		{"rate limit body", 400, `{"error":"rate_limit_exceeded"}`, LLMErrorRateLimit},
		{"overloaded status", 529, "", LLMErrorOverloaded},
		{"overloaded body", 500, "server overloaded", LLMErrorOverloaded},
		{"timeout body", 504, "upstream timed out", LLMErrorTimeout},
		{"auth", 401, "", LLMErrorAuth},
		{"forbidden", 403, "", LLMErrorAuth},
		{"server error", 500, "", LLMErrorRetryable},
		{"bad gateway", 502, "", LLMErrorRetryable},
		{"unknown 5xx", 599, "", LLMErrorRetryable},
		{"client error", 400, "bad request", LLMErrorFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyAPIError(tt.status, tt.body); got != tt.want {
				t.Errorf("classifyAPIError(%d, %q) = %s, want %s", tt.status, tt.body, got, tt.want)
			}
		})
	}
}

func TestKindRetryable(t *testing.T) {
	retryable := []LLMErrorKind{LLMErrorRetryable, LLMErrorRateLimit, LLMErrorOverloaded, LLMErrorTimeout}
	for _, k := range retryable {
		if !k.Retryable() {
			t.Errorf("%s should be retryable", k)
		}
	}
	for _, k := range []LLMErrorKind{LLMErrorAuth, LLMErrorFatal} {
		if k.Retryable() {
			t.Errorf("%s should not be retryable", k)
		}
	}
}

func newTestClient(url string) *LLMClient {
	cfg := DefaultConfig()
	cfg.API.BaseURL = url
	cfg.API.APIKey = "test-key"
	cfg.Model = "test-model"
	return NewLLMClient(cfg, testLogger())
}

func completionJSON(text string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"content": text}},
		},
	})
	return string(b)
}

// A transient 5xx gets exactly one retry; the second success is returned.
func TestGenerateRetriesTransientFailureOnce(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(completionJSON("recovered")))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	got, err := client.Generate(context.Background(), "system", []session.Turn{
		{Role: session.RoleUser, Content: "hi"},
	}, defaultParams)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got != "recovered" {
		t.Errorf("reply = %q, want %q", got, "recovered")
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("server saw %d calls, want 2", n)
	}
}

func TestGenerateDoesNotRetryFatal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("bad request"))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.Generate(context.Background(), "system", nil, defaultParams)

	var llmErr *LLMError
	if !errors.As(err, &llmErr) || llmErr.Kind != LLMErrorFatal {
		t.Fatalf("error = %v, want fatal LLMError", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("server saw %d calls, want 1 (no retry)", n)
	}
}

// A persistent failure surfaces after the single retry, never loops.
func TestGenerateGivesUpAfterOneRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.Generate(context.Background(), "system", nil, defaultParams)

	var llmErr *LLMError
	if !errors.As(err, &llmErr) || !llmErr.Kind.Retryable() {
		t.Fatalf("error = %v, want retryable LLMError", err)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("server saw %d calls, want 2", n)
	}
}

func TestGenerateSendsSystemAndTurns(t *testing.T) {
	var got struct {
		Model    string        `json:"model"`
		Messages []chatMessage `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("authorization header = %q", auth)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(completionJSON("ok")))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.Generate(context.Background(), "be kind", []session.Turn{
		{Role: session.RoleUser, Content: "hello"},
		{Role: session.RoleAssistant, Content: "hi"},
	}, defaultParams)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	if got.Model != "test-model" {
		t.Errorf("model = %q", got.Model)
	}
	want := []chatMessage{
		{Role: "system", Content: "be kind"},
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi"},
	}
	if len(got.Messages) != len(want) {
		t.Fatalf("messages = %+v, want %+v", got.Messages, want)
	}
	for i := range want {
		if got.Messages[i] != want[i] {
			t.Errorf("message %d = %+v, want %+v", i, got.Messages[i], want[i])
		}
	}
}
