// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/jeranaias/rigrun-stream/internal/cloud"
	"github.com/jeranaias/rigrun-stream/internal/completion"
	"github.com/jeranaias/rigrun-stream/internal/convert"
	"github.com/jeranaias/rigrun-stream/internal/model"
	"github.com/jeranaias/rigrun-stream/internal/ollama"
	"github.com/jeranaias/rigrun-stream/internal/openai"
)

// =============================================================================
// CHAT COMPLETIONS (HTTP SSE)
// =============================================================================

// ChatModel streams /chat/completions through the cloud client.
type ChatModel struct {
	client *cloud.Client
	name   string
	system string
}

// NewChatModel creates a chunk-family model.
func NewChatModel(client *cloud.Client, name, systemPrompt string) *ChatModel {
	return &ChatModel{client: client, name: name, system: systemPrompt}
}

// Name returns the model identifier.
func (m *ChatModel) Name() string { return m.name }

// Stream implements completion.Model.
func (m *ChatModel) Stream(ctx context.Context, history []model.Message, opts completion.Options) (completion.Stream, error) {
	r, err := m.client.StreamChat(ctx, chatRequest(m.name, m.system, history, opts))
	if err != nil {
		return nil, err
	}
	return r, nil
}

// chatRequest builds the go-openai request shared by the HTTP and SDK paths.
func chatRequest(name, system string, history []model.Message, opts completion.Options) goopenai.ChatCompletionRequest {
	msgs := convert.ToChatCompletion(history)
	if system != "" {
		msgs = append([]goopenai.ChatCompletionMessage{{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: system,
		}}, msgs...)
	}

	req := goopenai.ChatCompletionRequest{
		Model:           name,
		Messages:        msgs,
		Stream:          true,
		MaxTokens:       opts.MaxTokens,
		ReasoningEffort: opts.ReasoningEffort,
	}
	if opts.Temperature != nil {
		req.Temperature = float32(*opts.Temperature)
	}
	return req
}

// =============================================================================
// RESPONSES (HTTP SSE)
// =============================================================================

// ResponsesModel streams /responses through the cloud client.
type ResponsesModel struct {
	client *cloud.Client
	name   string
	system string
}

// NewResponsesModel creates a responses-family model.
func NewResponsesModel(client *cloud.Client, name, systemPrompt string) *ResponsesModel {
	return &ResponsesModel{client: client, name: name, system: systemPrompt}
}

// Name returns the model identifier.
func (m *ResponsesModel) Name() string { return m.name }

// Stream implements completion.Model.
func (m *ResponsesModel) Stream(ctx context.Context, history []model.Message, opts completion.Options) (completion.Stream, error) {
	input := convert.ToResponsesInput(history)
	if m.system != "" {
		input = append([]convert.ResponsesInput{{
			Type:    "message",
			Role:    string(model.RoleSystem),
			Content: []convert.ResponsesContent{{Type: "input_text", Text: m.system}},
		}}, input...)
	}

	req := cloud.ResponsesRequest{
		Model:     m.name,
		Input:     input,
		Stream:    true,
		MaxTokens: opts.MaxTokens,
	}
	if opts.Temperature != nil {
		t := float32(*opts.Temperature)
		req.Temperature = &t
	}
	if opts.ReasoningEffort != "" {
		req.Reasoning = &cloud.Reasoning{Effort: opts.ReasoningEffort}
	}

	r, err := m.client.StreamResponses(ctx, req)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// =============================================================================
// GO-OPENAI SDK
// =============================================================================

// SDKModel streams chat completions through the go-openai client.
type SDKModel struct {
	client *openai.Client
	name   string
	system string
}

// NewSDKModel creates an SDK-backed chunk-family model.
func NewSDKModel(client *openai.Client, name, systemPrompt string) *SDKModel {
	return &SDKModel{client: client, name: name, system: systemPrompt}
}

// Name returns the model identifier.
func (m *SDKModel) Name() string { return m.name }

// Stream implements completion.Model.
func (m *SDKModel) Stream(ctx context.Context, history []model.Message, opts completion.Options) (completion.Stream, error) {
	r, err := m.client.StreamChat(ctx, chatRequest(m.name, m.system, history, opts))
	if err != nil {
		return nil, err
	}
	return r, nil
}

// =============================================================================
// OLLAMA (NDJSON)
// =============================================================================

// OllamaModel streams /api/chat from a local Ollama server.
type OllamaModel struct {
	client *ollama.Client
	name   string
	system string
}

// NewOllamaModel creates an Ollama-backed model.
func NewOllamaModel(client *ollama.Client, name, systemPrompt string) *OllamaModel {
	return &OllamaModel{client: client, name: name, system: systemPrompt}
}

// Name returns the model identifier.
func (m *OllamaModel) Name() string { return m.name }

// Stream implements completion.Model.
func (m *OllamaModel) Stream(ctx context.Context, history []model.Message, opts completion.Options) (completion.Stream, error) {
	msgs := convert.ToOllama(history)
	if m.system != "" {
		msgs = append([]ollama.Message{{Role: string(model.RoleSystem), Content: m.system}}, msgs...)
	}

	req := ollama.ChatRequest{
		Model:    m.name,
		Messages: msgs,
		Stream:   true,
	}
	if opts.Temperature != nil || opts.MaxTokens > 0 {
		req.Options = &ollama.Options{NumPredict: opts.MaxTokens}
		if opts.Temperature != nil {
			req.Options.Temperature = *opts.Temperature
		}
	}
	if opts.ReasoningEffort != "" {
		think := true
		req.Think = &think
	}

	r, err := m.client.ChatStream(ctx, req)
	if err != nil {
		return nil, err
	}
	return r, nil
}
