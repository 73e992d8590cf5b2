// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package completion drives streaming attempts against a model and reports
// exactly one terminal outcome per attempt.
//
// An attempt emits an empty assistant placeholder immediately, feeds the
// provider's events through a stream.Parser, and ends with either OnFinish
// (the completed message and its usage) or OnError (an error-role message
// that replaces the placeholder). Cancellation is reported as ErrAborted
// with the text "request aborted"; other failures carry the innermost cause
// of the error chain.
//
// Chat wraps the orchestrator with input validation, message construction,
// version-aware regeneration and success recording.
//
// # Usage
//
//	chat := completion.NewChat(completion.ChatConfig{
//	    Model:    m,
//	    Target:   cache.Target{Preset: "openai", URL: url, APIKey: key},
//	    Recorder: cache.NewRecorder(c),
//	    Callbacks: completion.Callbacks{
//	        OnMessageUpdate: render,
//	    },
//	})
//	res, err := chat.Send(ctx, conv, "Hello", nil)
package completion
