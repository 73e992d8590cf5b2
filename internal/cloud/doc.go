// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud streams completions from OpenAI-compatible HTTP services.
//
// Two endpoints are supported. StreamResponses posts to /responses and
// yields the namespaced "response.*" event family; StreamChat posts to
// /chat/completions and yields chat-completion chunks. Both return a
// stream.Reader whose producer reads the body on its own goroutine.
//
// Connection establishment is retried with exponential backoff (1s, 2s, 4s)
// on network errors and 5xx responses. 4xx responses and cancellation are
// never retried, and nothing is retried once the body is being consumed.
//
// SECURITY: API keys are only ever logged as a short SHA-256 fingerprint.
package cloud
