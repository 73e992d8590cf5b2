// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/jeranaias/rigrun-stream/internal/convert"
	"github.com/jeranaias/rigrun-stream/internal/metrics"
	"github.com/jeranaias/rigrun-stream/internal/stream"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// ResponsesRequest is the body of a streaming /responses request.
type ResponsesRequest struct {
	Model       string                   `json:"model"`
	Input       []convert.ResponsesInput `json:"input"`
	Stream      bool                     `json:"stream"`
	Temperature *float32                 `json:"temperature,omitempty"`
	Reasoning   *Reasoning               `json:"reasoning,omitempty"`
	MaxTokens   int                      `json:"max_output_tokens,omitempty"`
}

// Reasoning configures reasoning effort on the responses endpoint.
type Reasoning struct {
	Effort string `json:"effort,omitempty"`
}

// StreamError reports a failure after the stream was established.
type StreamError struct {
	Err error
}

func (e *StreamError) Error() string {
	return "stream interrupted: " + e.Err.Error()
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// =============================================================================
// STREAMING
// =============================================================================

// StreamResponses opens a streaming request against /responses. Events arrive
// in the namespaced "response.*" family.
func (c *Client) StreamResponses(ctx context.Context, req ResponsesRequest) (*stream.Reader[[]byte], error) {
	req.Stream = true
	return c.openStream(ctx, "/responses", req)
}

// StreamChat opens a streaming request against /chat/completions. Events
// arrive as chat-completion chunks; usage is requested on the final chunk.
func (c *Client) StreamChat(ctx context.Context, req openai.ChatCompletionRequest) (*stream.Reader[[]byte], error) {
	req.Stream = true
	if req.StreamOptions == nil {
		req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	return c.openStream(ctx, "/chat/completions", req)
}

// openStream establishes the connection, retrying connection failures and
// 5xx responses with exponential backoff: 1s, 2s, 4s. It never retries 4xx
// responses or cancellation, and never retries once a body is being read.
func (c *Client) openStream(ctx context.Context, path string, body any) (*stream.Reader[[]byte], error) {
	if !c.IsConfigured() {
		return nil, ErrNotConfigured
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, context.Cause(ctx)
			}
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	url := c.baseURL + path
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		// Apply backoff delay after first attempt
		if attempt > 0 {
			metrics.ConnectRetries.WithLabelValues("cloud").Inc()
			delay := c.backoff(attempt)
			c.log.Warn("retrying stream connection", "path", path, "attempt", attempt+1, "delay", delay, "error", lastErr)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, context.Cause(ctx)
			case <-timer.C:
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		c.setHeaders(req)

		start := time.Now()
		resp, err := c.httpClient.Do(req)

		// SECURITY: Clear Authorization header immediately after request to prevent logging
		req.Header.Del("Authorization")

		if err != nil {
			if ctx.Err() != nil {
				return nil, context.Cause(ctx)
			}
			lastErr = err
			continue
		}
		c.log.Debug("stream response", "path", path, "status", resp.StatusCode, "elapsed", time.Since(start))

		// Don't retry on 4xx errors
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			defer resp.Body.Close()
			return nil, handleErrorResponse(resp)
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = handleErrorResponse(resp)
			resp.Body.Close()
			continue
		}

		return NewStreamReader(ctx, resp), nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// NewStreamReader wraps a successful streaming response. Server-sent event
// bodies are read event by event; any other content type is read line by
// line, so a service that answers in plain text still reaches the caller
// through NextLenient.
func NewStreamReader(ctx context.Context, resp *http.Response) *stream.Reader[[]byte] {
	raw := func(b []byte) string { return string(b) }
	if isEventStream(resp.Header.Get("Content-Type")) {
		return stream.NewReader(ctx, readEvents(resp.Body), stream.Decode, raw)
	}
	return stream.NewReader(ctx, readLines(resp.Body), decodeLine, raw)
}

func isEventStream(contentType string) bool {
	if contentType == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "text/event-stream"
}

// readEvents emits the data payload of each server-sent event until [DONE]
// or EOF.
func readEvents(body io.ReadCloser) stream.Producer[[]byte] {
	return func(ctx context.Context, emit func([]byte) bool) error {
		defer body.Close()

		r := stream.NewSSEReader(body)
		for {
			_, data, err := r.ReadEvent()
			if err != nil {
				if errors.Is(err, stream.ErrDone) || errors.Is(err, io.EOF) {
					return nil
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return &StreamError{Err: err}
			}
			if len(data) == 0 {
				continue
			}
			if !emit(data) {
				return ctx.Err()
			}
		}
	}
}

// readLines emits each non-empty line of a non-SSE body.
func readLines(body io.ReadCloser) stream.Producer[[]byte] {
	return func(ctx context.Context, emit func([]byte) bool) error {
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), stream.MaxEventSize)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			if !emit(append([]byte(nil), line...)) {
				return ctx.Err()
			}
		}
		if err := scanner.Err(); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &StreamError{Err: err}
		}
		return nil
	}
}

// decodeLine accepts "data: " framed lines as well as bare JSON.
func decodeLine(line []byte) (stream.Event, error) {
	if bytes.HasPrefix(line, []byte("data:")) || line[0] == ':' {
		ev, err := stream.DecodeSSE(line)
		if errors.Is(err, stream.ErrDone) {
			return nil, stream.ErrSkip
		}
		return ev, err
	}
	return stream.Decode(line)
}
