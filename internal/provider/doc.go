// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider adapts the transport clients to completion.Model.
//
// The api_type in the provider config picks the adapter:
//
//   - completion: ChatModel, /chat/completions over the cloud SSE client
//   - responses:  ResponsesModel, /responses over the cloud SSE client
//   - sdk:        SDKModel, /chat/completions through go-openai
//   - ollama:     OllamaModel, /api/chat NDJSON on a local server
//
// # Usage
//
//	p, err := provider.New(cfg.Provider, log)
//	if err != nil {
//	    return err
//	}
//	chat := completion.NewChat(p.ChatConfig())
package provider
