// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-stream/internal/completion"
	"github.com/jeranaias/rigrun-stream/internal/config"
	"github.com/jeranaias/rigrun-stream/internal/model"
)

func providerConfig(apiType, url string) config.ProviderConfig {
	return config.ProviderConfig{
		Preset:     "test",
		APIType:    apiType,
		ServiceURL: url,
		Model:      "test-model",
		APIKey:     "sk-test-0123456789abcdef",
		MaxRetries: 1,
	}
}

func send(t *testing.T, p *Provider, input string) completion.Result {
	t.Helper()
	chat := completion.NewChat(p.ChatConfig())
	conv := model.NewConversation()
	res, err := chat.Send(context.Background(), conv, input, nil)
	require.NoError(t, err)
	require.NoError(t, res.Err)
	return res
}

func TestNew_SelectsAdapter(t *testing.T) {
	tests := []struct {
		apiType    string
		want       completion.Model
		credential bool
	}{
		{config.APITypeCompletion, &ChatModel{}, true},
		{config.APITypeResponses, &ResponsesModel{}, true},
		{config.APITypeSDK, &SDKModel{}, true},
		{config.APITypeOllama, &OllamaModel{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.apiType, func(t *testing.T) {
			p, err := New(providerConfig(tt.apiType, "http://127.0.0.1:1"), nil)
			require.NoError(t, err)
			assert.IsType(t, tt.want, p.Model)
			assert.Equal(t, "test-model", p.Model.Name())
			assert.Equal(t, tt.credential, p.CredentialRequired)
			assert.Equal(t, "test", p.Target.Preset)
			assert.NotEmpty(t, p.Target.URL)
		})
	}
}

func TestNew_UnknownAPIType(t *testing.T) {
	_, err := New(providerConfig("carrier-pigeon", ""), nil)
	assert.ErrorIs(t, err, ErrUnknownAPIType)
}

func TestNew_DefaultsCloudURL(t *testing.T) {
	p, err := New(providerConfig(config.APITypeCompletion, ""), nil)
	require.NoError(t, err)
	assert.Equal(t, "https://api.openai.com/v1", p.Target.URL)
}

func TestNew_CarriesOptions(t *testing.T) {
	cfg := providerConfig(config.APITypeCompletion, "http://127.0.0.1:1")
	temp := 0.3
	cfg.Temperature = &temp
	cfg.ReasoningEffort = "low"
	cfg.MaxTokens = 256

	p, err := New(cfg, nil)
	require.NoError(t, err)
	cc := p.ChatConfig()
	require.NotNil(t, cc.Options.Temperature)
	assert.Equal(t, 0.3, *cc.Options.Temperature)
	assert.Equal(t, "low", cc.Options.ReasoningEffort)
	assert.Equal(t, 256, cc.Options.MaxTokens)
	assert.True(t, cc.CredentialRequired)
}

func TestChatModel_EndToEnd(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, `data: {"object":"chat.completion.chunk","model":"test-model","choices":[{"delta":{"content":"Hel"}}]}`+"\n\n")
		io.WriteString(w, `data: {"object":"chat.completion.chunk","model":"test-model","choices":[{"delta":{"content":"lo"},"finish_reason":"stop"}]}`+"\n\n")
		io.WriteString(w, `data: {"object":"chat.completion.chunk","model":"test-model","choices":[],"usage":{"prompt_tokens":4,"completion_tokens":2,"total_tokens":6}}`+"\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	cfg := providerConfig(config.APITypeCompletion, srv.URL)
	cfg.SystemPrompt = "be brief"
	p, err := New(cfg, nil)
	require.NoError(t, err)

	res := send(t, p, "hi")
	assert.Equal(t, "Hello", res.Message.Content.PlainText())
	require.NotNil(t, res.Usage)
	assert.Equal(t, 6, res.Usage.TotalTokens)

	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	first := msgs[0].(map[string]any)
	assert.Equal(t, "system", first["role"])
	assert.Equal(t, "be brief", first["content"])
}

func TestResponsesModel_EndToEnd(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/responses", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "event: response.created\ndata: {\"type\":\"response.created\",\"response\":{\"model\":\"test-model\"}}\n\n")
		io.WriteString(w, "event: response.output_text.delta\ndata: {\"type\":\"response.output_text.delta\",\"delta\":\"Hi \"}\n\n")
		io.WriteString(w, "event: response.output_text.delta\ndata: {\"type\":\"response.output_text.delta\",\"delta\":\"there\"}\n\n")
		io.WriteString(w, "event: response.completed\ndata: {\"type\":\"response.completed\",\"response\":{\"model\":\"test-model\",\"usage\":{\"input_tokens\":3,\"output_tokens\":2}}}\n\n")
	}))
	defer srv.Close()

	cfg := providerConfig(config.APITypeResponses, srv.URL)
	cfg.ReasoningEffort = "high"
	p, err := New(cfg, nil)
	require.NoError(t, err)

	res := send(t, p, "hello")
	assert.Equal(t, "Hi there", res.Message.Content.PlainText())
	require.NotNil(t, res.Usage)
	assert.Equal(t, 3, res.Usage.InputTokens)
	assert.Equal(t, 2, res.Usage.OutputTokens)

	reasoning, ok := body["reasoning"].(map[string]any)
	require.True(t, ok, "reasoning block missing")
	assert.Equal(t, "high", reasoning["effort"])
}

func TestSDKModel_EndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, `data: {"id":"1","object":"chat.completion.chunk","model":"test-model","choices":[{"index":0,"delta":{"content":"sdk "}}]}`+"\n\n")
		io.WriteString(w, `data: {"id":"1","object":"chat.completion.chunk","model":"test-model","choices":[{"index":0,"delta":{"content":"works"},"finish_reason":"stop"}]}`+"\n\n")
		io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p, err := New(providerConfig(config.APITypeSDK, srv.URL), nil)
	require.NoError(t, err)

	res := send(t, p, "go")
	assert.Equal(t, "sdk works", res.Message.Content.PlainText())
}

func TestOllamaModel_EndToEnd(t *testing.T) {
	var req map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/x-ndjson")
		io.WriteString(w, `{"model":"test-model","message":{"role":"assistant","content":"local "},"done":false}`+"\n")
		io.WriteString(w, `{"model":"test-model","message":{"role":"assistant","content":"reply"},"done":false}`+"\n")
		io.WriteString(w, `{"model":"test-model","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":5,"eval_count":2}`+"\n")
	}))
	defer srv.Close()

	cfg := providerConfig(config.APITypeOllama, srv.URL)
	cfg.APIKey = ""
	temp := 0.5
	cfg.Temperature = &temp
	p, err := New(cfg, nil)
	require.NoError(t, err)

	res := send(t, p, "hi")
	assert.Equal(t, "local reply", res.Message.Content.PlainText())
	require.NotNil(t, res.Usage)
	assert.Equal(t, 7, res.Usage.TotalTokens)

	opts, ok := req["options"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 0.5, opts["temperature"])
}

func TestProvider_ListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			io.WriteString(w, `{"models":[{"name":"llama3:8b"},{"name":"qwen2.5:7b"}]}`)
		case "/models":
			io.WriteString(w, `{"object":"list","data":[{"id":"gpt-4o","object":"model"}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	local, err := New(providerConfig(config.APITypeOllama, srv.URL), nil)
	require.NoError(t, err)
	names, err := local.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"llama3:8b", "qwen2.5:7b"}, names)

	remote, err := New(providerConfig(config.APITypeCompletion, srv.URL), nil)
	require.NoError(t, err)
	names, err = remote.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"gpt-4o"}, names)
}

func TestProvider_WithModel(t *testing.T) {
	cfg := providerConfig(config.APITypeCompletion, "http://127.0.0.1:1")
	p, err := New(cfg, nil)
	require.NoError(t, err)

	same, err := p.WithModel(cfg, "", nil)
	require.NoError(t, err)
	assert.Same(t, p, same)

	other, err := p.WithModel(cfg, "other-model", nil)
	require.NoError(t, err)
	assert.Equal(t, "other-model", other.Model.Name())
	assert.Equal(t, "other-model", other.Target.Model)
	assert.Equal(t, "test-model", p.Model.Name())
}
