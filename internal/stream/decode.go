// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrSkip marks a well-formed event that carries nothing the parser uses.
	ErrSkip = errors.New("stream: event skipped")

	// ErrUnexpectedShape marks data that matches neither event family.
	// Callers fall back to the plain-text path when they see it.
	ErrUnexpectedShape = errors.New("stream: unexpected event shape")
)

// =============================================================================
// WIRE SHAPES
// =============================================================================

type wireItem struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

type wireError struct {
	Code    json.RawMessage `json:"code"`
	Message string          `json:"message"`
}

func (w *wireError) provider() *ProviderError {
	if w == nil {
		return nil
	}
	msg := w.Message
	if msg == "" {
		msg = "unknown error"
	}
	return &ProviderError{Code: rawString(w.Code), Message: msg}
}

type wireResponse struct {
	Model string     `json:"model"`
	Usage *RawUsage  `json:"usage"`
	Error *wireError `json:"error"`
}

type wireResponsesEvent struct {
	Type     string          `json:"type"`
	Response *wireResponse   `json:"response"`
	Item     *wireItem       `json:"item"`
	Part     *ContentPart    `json:"part"`
	Delta    string          `json:"delta"`
	Text     string          `json:"text"`
	Code     json.RawMessage `json:"code"`
	Message  string          `json:"message"`
	Error    *wireError      `json:"error"`
}

type wireChunk struct {
	Object  string `json:"object"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content          *string `json:"content"`
			ReasoningContent *string `json:"reasoning_content"`
			Reasoning        *string `json:"reasoning"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *RawUsage  `json:"usage"`
	Error *wireError `json:"error"`
}

// =============================================================================
// DECODE
// =============================================================================

// Decode classifies one JSON event payload into an Event.
//
// Payloads whose "type" starts with "response." (or is the bare "error") are
// responses-family events. Anything else must look like a chat-completion
// chunk: object "chat.completion.chunk", a choices array, or an error object.
func Decode(data []byte) (Event, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return nil, ErrUnexpectedShape
	}

	var shape struct {
		Type    string          `json:"type"`
		Object  string          `json:"object"`
		Choices json.RawMessage `json:"choices"`
		Error   json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(data, &shape); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
	}

	switch {
	case strings.HasPrefix(shape.Type, "response.") || shape.Type == "error":
		return decodeResponses(data)
	case shape.Object == "chat.completion.chunk",
		len(shape.Choices) > 0 && shape.Choices[0] == '[',
		isObject(shape.Error):
		return decodeChunk(data)
	default:
		return nil, ErrUnexpectedShape
	}
}

func decodeResponses(data []byte) (Event, error) {
	var w wireResponsesEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
	}

	switch w.Type {
	case "response.created", "response.in_progress":
		if w.Response == nil {
			return nil, ErrSkip
		}
		return ResponseCreated{Model: w.Response.Model}, nil

	case "response.output_item.added":
		if w.Item == nil {
			return OutputItemAdded{}, nil
		}
		return OutputItemAdded{ItemID: w.Item.ID, ItemType: w.Item.Type}, nil

	case "response.content_part.added":
		if w.Part == nil {
			return nil, ErrSkip
		}
		return ContentPartAdded{Part: *w.Part}, nil

	case "response.output_text.delta":
		return TextDelta{Delta: w.Delta}, nil

	case "response.output_text.done":
		return TextDone{Text: w.Text}, nil

	case "response.content_part.done":
		if w.Part == nil {
			return nil, ErrSkip
		}
		return ContentPartDone{Part: *w.Part}, nil

	case "response.reasoning_text.delta", "response.reasoning_summary_text.delta":
		return ReasoningDelta{Delta: w.Delta}, nil

	case "response.output_item.done":
		if w.Item == nil {
			return OutputItemDone{}, nil
		}
		return OutputItemDone{ItemID: w.Item.ID, ItemType: w.Item.Type}, nil

	case "response.completed", "response.incomplete":
		ev := ResponseCompleted{}
		if w.Response != nil {
			ev.Model = w.Response.Model
			ev.Usage = w.Response.Usage
		}
		return ev, nil

	case "response.failed":
		if w.Response != nil && w.Response.Error != nil {
			pe := w.Response.Error.provider()
			return ResponseFailed{Code: pe.Code, Message: pe.Message}, nil
		}
		return ResponseFailed{Message: "response failed"}, nil

	case "error":
		if w.Error != nil {
			pe := w.Error.provider()
			return ResponseFailed{Code: pe.Code, Message: pe.Message}, nil
		}
		msg := w.Message
		if msg == "" {
			msg = "unknown error"
		}
		return ResponseFailed{Code: rawString(w.Code), Message: msg}, nil
	}

	return nil, ErrSkip
}

func decodeChunk(data []byte) (Event, error) {
	var w wireChunk
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
	}

	ev := Chunk{Model: w.Model, Usage: w.Usage, Error: w.Error.provider()}
	if len(w.Choices) > 0 {
		c := w.Choices[0]
		ev.Content = deref(c.Delta.Content)
		ev.Reasoning = deref(c.Delta.ReasoningContent)
		if ev.Reasoning == "" {
			ev.Reasoning = deref(c.Delta.Reasoning)
		}
		ev.FinishReason = deref(c.FinishReason)
	}
	return ev, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

// rawString renders a JSON scalar (string or number) as plain text.
func rawString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
