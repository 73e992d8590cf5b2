// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/jeranaias/rigrun-stream/internal/convert"
	"github.com/jeranaias/rigrun-stream/internal/stream"
)

const testKey = "sk-test-abcdefghijklmnopqrstuvwxyz0123456789"

func noBackoff(int) time.Duration { return time.Millisecond }

func sseServer(t *testing.T, path string, events ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer "+testKey {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, ev := range events {
			io.WriteString(w, ev+"\n\n")
			w.(http.Flusher).Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func drain(t *testing.T, r *stream.Reader[[]byte]) []stream.Event {
	t.Helper()
	ctx := context.Background()
	var evs []stream.Event
	for {
		ev, err := r.Next(ctx)
		if err == io.EOF {
			return evs
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		evs = append(evs, ev)
	}
}

// =============================================================================
// STREAMING TESTS
// =============================================================================

func TestStreamChat(t *testing.T) {
	srv := sseServer(t, "/chat/completions",
		`data: {"object":"chat.completion.chunk","model":"gpt-4o","choices":[{"delta":{"content":"Hi"}}]}`,
		`data: {"object":"chat.completion.chunk","choices":[{"delta":{"content":" there"},"finish_reason":"stop"}]}`,
		`data: {"object":"chat.completion.chunk","choices":[],"usage":{"prompt_tokens":4,"completion_tokens":2,"total_tokens":6}}`,
		`data: [DONE]`,
	)

	client := NewClient(srv.URL, testKey)
	r, err := client.StreamChat(context.Background(), openai.ChatCompletionRequest{
		Model:    "gpt-4o",
		Messages: []openai.ChatCompletionMessage{{Role: "user", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("StreamChat() error = %v", err)
	}
	defer r.Close()

	evs := drain(t, r)
	if len(evs) != 3 {
		t.Fatalf("got %d events, want 3", len(evs))
	}
	if got := evs[0].(stream.Chunk).Content; got != "Hi" {
		t.Errorf("first content = %q, want 'Hi'", got)
	}
	if got := evs[1].(stream.Chunk).FinishReason; got != "stop" {
		t.Errorf("finish = %q, want 'stop'", got)
	}
	if evs[2].(stream.Chunk).Usage == nil {
		t.Error("last chunk should carry usage")
	}
}

func TestStreamChat_RequestsUsage(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	r, err := NewClient(srv.URL, testKey).StreamChat(context.Background(), openai.ChatCompletionRequest{Model: "m"})
	if err != nil {
		t.Fatalf("StreamChat() error = %v", err)
	}
	drain(t, r)

	if body["stream"] != true {
		t.Errorf("stream = %v, want true", body["stream"])
	}
	opts, _ := body["stream_options"].(map[string]any)
	if opts["include_usage"] != true {
		t.Errorf("stream_options = %v, want include_usage", body["stream_options"])
	}
}

func TestStreamResponses(t *testing.T) {
	srv := sseServer(t, "/responses",
		"event: response.created\ndata: {\"type\":\"response.created\",\"response\":{\"model\":\"gpt-4.1\"}}",
		"event: response.output_text.delta\ndata: {\"type\":\"response.output_text.delta\",\"delta\":\"Hel\"}",
		"event: response.output_text.delta\ndata: {\"type\":\"response.output_text.delta\",\"delta\":\"lo\"}",
		"event: response.completed\ndata: {\"type\":\"response.completed\",\"response\":{\"usage\":{\"input_tokens\":3,\"output_tokens\":2}}}",
	)

	client := NewClient(srv.URL, testKey)
	r, err := client.StreamResponses(context.Background(), ResponsesRequest{
		Model: "gpt-4.1",
		Input: []convert.ResponsesInput{{Type: "message", Role: "user", Content: []convert.ResponsesContent{{Type: "input_text", Text: "hi"}}}},
	})
	if err != nil {
		t.Fatalf("StreamResponses() error = %v", err)
	}
	defer r.Close()

	evs := drain(t, r)
	if len(evs) != 4 {
		t.Fatalf("got %d events, want 4", len(evs))
	}
	if _, ok := evs[3].(stream.ResponseCompleted); !ok {
		t.Errorf("last event = %T, want ResponseCompleted", evs[3])
	}
}

func TestStream_PlainTextBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, "just some text\nand more\n")
	}))
	defer srv.Close()

	r, err := NewClient(srv.URL, testKey).StreamChat(context.Background(), openai.ChatCompletionRequest{Model: "m"})
	if err != nil {
		t.Fatalf("StreamChat() error = %v", err)
	}
	defer r.Close()

	ctx := context.Background()
	if _, err := r.Next(ctx); !errors.Is(err, stream.ErrUnexpectedShape) {
		t.Fatalf("Next() error = %v, want ErrUnexpectedShape", err)
	}
	ev, err := r.NextLenient(ctx)
	if err != nil || ev != (stream.Chunk{Content: "just some text"}) {
		t.Errorf("NextLenient() = %#v, %v", ev, err)
	}
}

// =============================================================================
// RETRY TESTS
// =============================================================================

func TestStream_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"},\"finish_reason\":\"stop\"}]}\n\ndata: [DONE]\n\n")
	}))
	defer srv.Close()

	client := NewClient(srv.URL, testKey).WithBackoff(noBackoff)
	r, err := client.StreamChat(context.Background(), openai.ChatCompletionRequest{Model: "m"})
	if err != nil {
		t.Fatalf("StreamChat() error = %v", err)
	}
	defer r.Close()

	if n := calls.Load(); n != 3 {
		t.Errorf("server calls = %d, want 3", n)
	}
	if evs := drain(t, r); len(evs) != 1 {
		t.Errorf("got %d events, want 1", len(evs))
	}
}

func TestStream_MaxRetriesExceeded(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{"error":{"message":"overloaded","code":503}}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, testKey).WithBackoff(noBackoff)
	_, err := client.StreamChat(context.Background(), openai.ChatCompletionRequest{Model: "m"})
	if err == nil || !strings.Contains(err.Error(), "max retries exceeded") {
		t.Fatalf("error = %v, want max retries exceeded", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "overloaded" || apiErr.Code != "503" {
		t.Errorf("error = %#v, want wrapped APIError 'overloaded'", err)
	}
	if n := calls.Load(); n != DefaultMaxRetries {
		t.Errorf("server calls = %d, want %d", n, DefaultMaxRetries)
	}
}

func TestStream_NoRetryOn4xx(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		target error
	}{
		{"unauthorized", http.StatusUnauthorized, `{"error":{"message":"bad key"}}`, ErrAuthFailed},
		{"not found", http.StatusNotFound, ``, ErrModelNotFound},
		{"payment", http.StatusPaymentRequired, `{"error":{"message":"no credits"}}`, ErrInsufficientCredits},
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, ErrRateLimited},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				w.Header().Set("Retry-After", "7")
				w.WriteHeader(tc.status)
				io.WriteString(w, tc.body)
			}))
			defer srv.Close()

			client := NewClient(srv.URL, testKey).WithBackoff(noBackoff)
			_, err := client.StreamChat(context.Background(), openai.ChatCompletionRequest{Model: "m"})
			if !errors.Is(err, tc.target) {
				t.Errorf("error = %v, want %v", err, tc.target)
			}
			if n := calls.Load(); n != 1 {
				t.Errorf("server calls = %d, want 1", n)
			}
		})
	}
}

func TestStream_RateLimitRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, testKey).StreamChat(context.Background(), openai.ChatCompletionRequest{Model: "m"})
	var rl *RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("error = %v, want RateLimitError", err)
	}
	if rl.RetryAfter != 7*time.Second {
		t.Errorf("RetryAfter = %v, want 7s", rl.RetryAfter)
	}
}

func TestStream_CancelDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	client := NewClient(srv.URL, testKey).WithBackoff(func(int) time.Duration {
		cancel()
		return time.Hour
	})
	_, err := client.StreamChat(ctx, openai.ChatCompletionRequest{Model: "m"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestStream_NotConfigured(t *testing.T) {
	_, err := NewClient("http://127.0.0.1:1", "  ").StreamChat(context.Background(), openai.ChatCompletionRequest{})
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("error = %v, want ErrNotConfigured", err)
	}
}

// =============================================================================
// CLIENT TESTS
// =============================================================================

func TestCalculateBackoff(t *testing.T) {
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for i, w := range want {
		if got := calculateBackoff(i + 1); got != w {
			t.Errorf("calculateBackoff(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestAPIKeyMasked(t *testing.T) {
	client := NewClient("", testKey)
	masked := client.APIKeyMasked()
	if strings.Contains(masked, "abcdef") || strings.Contains(masked, "sk-") {
		t.Errorf("APIKeyMasked() leaks key material: %q", masked)
	}
	if len(client.KeyFingerprint()) != 8 {
		t.Errorf("KeyFingerprint() = %q, want 8 hex chars", client.KeyFingerprint())
	}
	if NewClient("", "").APIKeyMasked() != "[not set]" {
		t.Error("empty key should report [not set]")
	}
	if client.BaseURL() != DefaultBaseURL {
		t.Errorf("BaseURL() = %q, want default", client.BaseURL())
	}
}

func TestAPIError(t *testing.T) {
	err := &APIError{Code: "bad_request", Message: "invalid", Status: 400}
	if !strings.Contains(err.Error(), "[bad_request]") || !strings.Contains(err.Error(), "HTTP 400") {
		t.Errorf("Error() = %q", err.Error())
	}
}
