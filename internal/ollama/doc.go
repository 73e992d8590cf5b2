// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
//
// Streaming chat responses are newline-delimited JSON. Each line is mapped
// onto a chunk-family stream event: message content becomes a content delta,
// thinking becomes reasoning, and the final line's prompt_eval_count and
// eval_count become usage.
//
// # Key Types
//
//   - Client: HTTP client for Ollama API communication
//   - Message: Chat message with role, content, and optional images
//   - ChatRequest: Request structure for chat completions
//   - ChatResponse: One line of the streaming response
//
// # Usage
//
//	client := ollama.NewClient()
//	r, err := client.ChatStream(ctx, ollama.ChatRequest{
//	    Model:    "qwen2.5:7b",
//	    Messages: []ollama.Message{{Role: "user", Content: "Hello"}},
//	})
//	if err != nil {
//	    return err
//	}
//	defer r.Close()
//	for {
//	    ev, err := r.Next(ctx)
//	    if err == io.EOF {
//	        break
//	    }
//	    ...
//	}
package ollama
