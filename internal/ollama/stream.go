// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/jeranaias/rigrun-stream/internal/stream"
)

// MaxLineSize is the maximum allowed size of one NDJSON line (1MB).
const MaxLineSize = 1024 * 1024

// =============================================================================
// LINE DECODING
// =============================================================================

// DecodeLine maps one /api/chat NDJSON line onto a chunk-family event.
// Thinking text becomes reasoning, and the final line's prompt_eval_count and
// eval_count become usage.
func DecodeLine(line []byte) (stream.Event, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil, stream.ErrSkip
	}

	var resp ChatResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", stream.ErrUnexpectedShape, err)
	}

	if resp.Error != "" {
		return stream.Chunk{Model: resp.Model, Error: &stream.ProviderError{Message: resp.Error}}, nil
	}

	ch := stream.Chunk{
		Model:     resp.Model,
		Content:   resp.Message.Content,
		Reasoning: resp.Message.Thinking,
	}
	if resp.Done {
		ch.FinishReason = resp.DoneReason
		if ch.FinishReason == "" {
			ch.FinishReason = "stop"
		}
	}
	if resp.PromptEvalCount != nil || resp.EvalCount != nil {
		ch.Usage = &stream.RawUsage{PromptTokens: resp.PromptEvalCount, CompletionTokens: resp.EvalCount}
	}
	return ch, nil
}

// =============================================================================
// STREAM READER
// =============================================================================

// readLines returns a producer that emits each line of body until the final
// done line or EOF, closing body when it returns.
func readLines(body io.ReadCloser) stream.Producer[[]byte] {
	return func(ctx context.Context, emit func([]byte) bool) error {
		defer body.Close()

		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), MaxLineSize)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			// scanner reuses its buffer
			if !emit(append([]byte(nil), line...)) {
				return ctx.Err()
			}
		}
		if err := scanner.Err(); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return ctx.Err()
			}
			return &ClientError{Type: ErrTypeConnection, Message: "stream read failed", Cause: err}
		}
		return nil
	}
}

// NewStreamReader wraps an /api/chat response body as an event reader.
func NewStreamReader(ctx context.Context, body io.ReadCloser) *stream.Reader[[]byte] {
	return stream.NewReader(ctx, readLines(body), DecodeLine, func(b []byte) string { return string(b) })
}
