// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/jeranaias/rigrun-stream/internal/logging"
	"github.com/jeranaias/rigrun-stream/internal/stream"
)

// Client streams chat completions through the go-openai SDK.
type Client struct {
	client  *goopenai.Client
	baseURL string
	log     *logging.Logger
}

// NewClient creates a client for baseURL (empty for the SDK default)
// authenticated with apiKey.
func NewClient(baseURL, apiKey string, log *logging.Logger) *Client {
	cfg := goopenai.DefaultConfig(strings.TrimSpace(apiKey))
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return NewClientWithConfig(cfg, log)
}

// NewClientWithConfig creates a client from a full SDK configuration.
func NewClientWithConfig(cfg goopenai.ClientConfig, log *logging.Logger) *Client {
	return &Client{
		client:  goopenai.NewClientWithConfig(cfg),
		baseURL: cfg.BaseURL,
		log:     logging.OrNop(log).Named("openai"),
	}
}

// BaseURL returns the configured service URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// StreamChat opens a chat-completion stream. The connection is established
// before StreamChat returns, so authentication and model errors surface
// here rather than on the first Next.
func (c *Client) StreamChat(ctx context.Context, req goopenai.ChatCompletionRequest) (*stream.Reader[goopenai.ChatCompletionStreamResponse], error) {
	req.Stream = true
	if req.StreamOptions == nil {
		req.StreamOptions = &goopenai.StreamOptions{IncludeUsage: true}
	}

	s, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		return nil, wrapError(err)
	}
	c.log.Debug("stream opened", "model", req.Model, "messages", len(req.Messages))

	produce := func(ctx context.Context, emit func(goopenai.ChatCompletionStreamResponse) bool) error {
		defer s.Close()
		for {
			resp, err := s.Recv()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return wrapError(err)
			}
			if !emit(resp) {
				return ctx.Err()
			}
		}
	}
	return stream.NewReader(ctx, produce, ToChunk, rawText), nil
}

// ListModels returns the model identifiers the service offers.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	list, err := c.client.ListModels(ctx)
	if err != nil {
		return nil, wrapError(err)
	}
	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// =============================================================================
// EVENT MAPPING
// =============================================================================

// ToChunk maps one SDK stream response onto a chunk-family event.
func ToChunk(resp goopenai.ChatCompletionStreamResponse) (stream.Event, error) {
	ch := stream.Chunk{Model: resp.Model}
	if len(resp.Choices) > 0 {
		c := resp.Choices[0]
		ch.Content = c.Delta.Content
		ch.Reasoning = c.Delta.ReasoningContent
		ch.FinishReason = string(c.FinishReason)
	}
	if u := resp.Usage; u != nil {
		in, out, total := u.PromptTokens, u.CompletionTokens, u.TotalTokens
		ch.Usage = &stream.RawUsage{PromptTokens: &in, CompletionTokens: &out, TotalTokens: &total}
	}
	if ch.Content == "" && ch.Reasoning == "" && ch.FinishReason == "" && ch.Usage == nil {
		return nil, stream.ErrSkip
	}
	return ch, nil
}

func rawText(resp goopenai.ChatCompletionStreamResponse) string {
	if len(resp.Choices) == 0 {
		return ""
	}
	return resp.Choices[0].Delta.Content
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrAuthFailed indicates the service rejected the credential.
var ErrAuthFailed = errors.New("authentication failed")

// wrapError classifies SDK errors, keeping the original in the chain.
func wrapError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%w: %w", ErrAuthFailed, err)
		}
		return fmt.Errorf("chat completion: %w", err)
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}
	return fmt.Errorf("chat completion: %w", err)
}
