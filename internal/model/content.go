// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// CONTENT PART TYPES
// =============================================================================

// PartType identifies the kind of a structured content part.
type PartType string

const (
	PartText         PartType = "text"
	PartImageURL     PartType = "image_url"
	PartFunctionCall PartType = "function_call"
	PartToolCall     PartType = "tool_call"
)

// ToolCallType distinguishes plain function tools from MCP server tools.
type ToolCallType string

const (
	ToolCallFunction ToolCallType = "function"
	ToolCallMCP      ToolCallType = "mcp"
)

// ImageURL references an image by URL or data URL.
type ImageURL struct {
	URL string `json:"url"`
}

// FunctionCall describes a function invocation emitted by a model.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// MCPCall describes a tool invocation routed to an MCP server.
type MCPCall struct {
	Server    string `json:"server"`
	Tool      string `json:"tool"`
	Arguments string `json:"arguments"`
}

// ToolCall describes a tool invocation. Exactly one of Function or MCP is
// normally set, matching Type.
type ToolCall struct {
	ID       string        `json:"id"`
	Type     ToolCallType  `json:"type"`
	Function *FunctionCall `json:"function,omitempty"`
	MCP      *MCPCall      `json:"mcp,omitempty"`
}

// Part is one element of structured message content.
type Part struct {
	Type         PartType      `json:"type"`
	Text         string        `json:"text,omitempty"`
	ImageURL     *ImageURL     `json:"image_url,omitempty"`
	FunctionCall *FunctionCall `json:"function_call,omitempty"`
	ToolCall     *ToolCall     `json:"tool_call,omitempty"`
}

// TextPart builds a text part.
func TextPart(text string) Part {
	return Part{Type: PartText, Text: text}
}

// ImagePart builds an image part.
func ImagePart(url string) Part {
	return Part{Type: PartImageURL, ImageURL: &ImageURL{URL: url}}
}

// =============================================================================
// CONTENT
// =============================================================================

// Content is either plain text or an ordered list of typed parts.
// A nil Parts slice means plain text; a non-nil slice (even empty) means
// structured content and Text is ignored.
type Content struct {
	Text  string
	Parts []Part
}

// Text builds plain-text content.
func Text(s string) Content {
	return Content{Text: s}
}

// Parts builds structured content.
func Parts(parts ...Part) Content {
	if parts == nil {
		parts = []Part{}
	}
	return Content{Parts: parts}
}

// IsStructured reports whether the content is a part list.
func (c Content) IsStructured() bool {
	return c.Parts != nil
}

// IsEmpty reports whether the content carries nothing at all.
func (c Content) IsEmpty() bool {
	if c.IsStructured() {
		return len(c.Parts) == 0
	}
	return c.Text == ""
}

// PlainText flattens the content to text. Only text parts contribute;
// image, function-call and tool-call parts are dropped from the result.
func (c Content) PlainText() string {
	if !c.IsStructured() {
		return c.Text
	}
	var sb strings.Builder
	for _, p := range c.Parts {
		if p.Type == PartText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// Describe renders the content for display, replacing non-text parts with
// bracketed placeholders joined by spaces.
func (c Content) Describe() string {
	if !c.IsStructured() {
		return c.Text
	}
	pieces := make([]string, 0, len(c.Parts))
	for _, p := range c.Parts {
		var s string
		switch p.Type {
		case PartText:
			s = p.Text
		case PartImageURL:
			if p.ImageURL != nil {
				s = "[image: " + p.ImageURL.URL + "]"
			}
		case PartFunctionCall:
			if p.FunctionCall != nil {
				s = "[function call: " + p.FunctionCall.Name + "]"
			}
		case PartToolCall:
			if p.ToolCall != nil {
				s = "[tool call: " + p.ToolCall.ID + "]"
			}
		}
		if s != "" {
			pieces = append(pieces, s)
		}
	}
	return strings.Join(pieces, " ")
}

// Validate checks that every text part has text and every image part has a
// URL. Plain text is always valid.
func (c Content) Validate() error {
	for i, p := range c.Parts {
		switch p.Type {
		case PartText:
			// empty text is allowed, matching providers that accept "" parts
		case PartImageURL:
			if p.ImageURL == nil || p.ImageURL.URL == "" {
				return fmt.Errorf("part %d: image_url requires a url", i)
			}
		case PartFunctionCall:
			if p.FunctionCall == nil {
				return fmt.Errorf("part %d: function_call descriptor missing", i)
			}
		case PartToolCall:
			if p.ToolCall == nil {
				return fmt.Errorf("part %d: tool_call descriptor missing", i)
			}
		default:
			return fmt.Errorf("part %d: unknown part type %q", i, p.Type)
		}
	}
	return nil
}

// MarshalJSON encodes plain text as a JSON string and structured content as
// an array of parts.
func (c Content) MarshalJSON() ([]byte, error) {
	if c.IsStructured() {
		return json.Marshal(c.Parts)
	}
	return json.Marshal(c.Text)
}

// UnmarshalJSON accepts either a JSON string or an array of parts.
func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = Content{}
		return nil
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Content{Text: s}
		return nil
	case '[':
		var parts []Part
		if err := json.Unmarshal(data, &parts); err != nil {
			return err
		}
		*c = Parts(parts...)
		return nil
	}
	return errors.New("content must be a string or an array of parts")
}
