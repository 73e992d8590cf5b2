// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package convert

import (
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/jeranaias/rigrun-stream/internal/model"
	"github.com/jeranaias/rigrun-stream/internal/ollama"
)

// =============================================================================
// SHARED
// =============================================================================

// Filter drops error-role messages, which are never sent to a provider.
func Filter(msgs []model.Message) []model.Message {
	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == model.RoleError {
			continue
		}
		out = append(out, m)
	}
	return out
}

// CallLine renders a function-call or tool-call part as a descriptive text
// line for formats that have no native part for it. Other parts return "".
func CallLine(p model.Part) string {
	switch p.Type {
	case model.PartFunctionCall:
		if p.FunctionCall != nil {
			return fmt.Sprintf("Function call: %s(%s)", p.FunctionCall.Name, p.FunctionCall.Arguments)
		}
	case model.PartToolCall:
		if p.ToolCall != nil {
			return fmt.Sprintf("Tool call: %s - %s", p.ToolCall.ID, p.ToolCall.Type)
		}
	}
	return ""
}

// textOf flattens content to text, keeping call parts as descriptive lines
// and dropping images.
func textOf(c model.Content) string {
	if !c.IsStructured() {
		return c.Text
	}
	var sb strings.Builder
	for _, p := range c.Parts {
		switch p.Type {
		case model.PartText:
			sb.WriteString(p.Text)
		case model.PartFunctionCall, model.PartToolCall:
			if line := CallLine(p); line != "" {
				if sb.Len() > 0 {
					sb.WriteString("\n")
				}
				sb.WriteString(line)
			}
		}
	}
	return sb.String()
}

// =============================================================================
// CHAT COMPLETIONS
// =============================================================================

// ToChatCompletion converts history to chat-completion messages. User content
// keeps its parts (text and images); assistant and system content is
// flattened to text.
func ToChatCompletion(msgs []model.Message) []openai.ChatCompletionMessage {
	msgs = Filter(msgs)
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case model.RoleUser:
			out = append(out, userChatMessage(m.Content))
		case model.RoleAssistant:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: textOf(m.Content)})
		case model.RoleSystem:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: textOf(m.Content)})
		}
	}
	return out
}

func userChatMessage(c model.Content) openai.ChatCompletionMessage {
	msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if !c.IsStructured() {
		msg.Content = c.Text
		return msg
	}

	parts := make([]openai.ChatMessagePart, 0, len(c.Parts))
	for _, p := range c.Parts {
		switch p.Type {
		case model.PartText:
			parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: p.Text})
		case model.PartImageURL:
			if p.ImageURL != nil {
				parts = append(parts, openai.ChatMessagePart{
					Type:     openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{URL: p.ImageURL.URL, Detail: openai.ImageURLDetailAuto},
				})
			}
		default:
			if line := CallLine(p); line != "" {
				parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: line})
			}
		}
	}
	if len(parts) == 0 {
		parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: ""})
	}
	msg.MultiContent = parts
	return msg
}

// =============================================================================
// RESPONSES
// =============================================================================

// ResponsesInput is one input message for the responses endpoint.
type ResponsesInput struct {
	Type    string             `json:"type"`
	Role    string             `json:"role"`
	Content []ResponsesContent `json:"content"`
}

// ResponsesContent is one typed content element of a responses input.
type ResponsesContent struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// ToResponsesInput converts history to responses input items. Assistant text
// is typed output_text, everything else input_text; images become
// input_image.
func ToResponsesInput(msgs []model.Message) []ResponsesInput {
	msgs = Filter(msgs)
	out := make([]ResponsesInput, 0, len(msgs))
	for _, m := range msgs {
		textType := "input_text"
		if m.Role == model.RoleAssistant {
			textType = "output_text"
		}
		out = append(out, ResponsesInput{
			Type:    "message",
			Role:    string(m.Role),
			Content: responsesContent(m.Content, textType),
		})
	}
	return out
}

func responsesContent(c model.Content, textType string) []ResponsesContent {
	if !c.IsStructured() {
		return []ResponsesContent{{Type: textType, Text: c.Text}}
	}
	out := make([]ResponsesContent, 0, len(c.Parts))
	for _, p := range c.Parts {
		switch p.Type {
		case model.PartText:
			out = append(out, ResponsesContent{Type: textType, Text: p.Text})
		case model.PartImageURL:
			if p.ImageURL != nil {
				out = append(out, ResponsesContent{Type: "input_image", ImageURL: p.ImageURL.URL, Detail: "auto"})
			}
		default:
			if line := CallLine(p); line != "" {
				out = append(out, ResponsesContent{Type: textType, Text: line})
			}
		}
	}
	if len(out) == 0 {
		out = append(out, ResponsesContent{Type: textType, Text: ""})
	}
	return out
}

// =============================================================================
// OLLAMA
// =============================================================================

// ToOllama converts history to Ollama chat messages. Base64 data-URL images
// are passed natively; remote image URLs, which Ollama cannot fetch, become
// bracketed placeholders in the text.
func ToOllama(msgs []model.Message) []ollama.Message {
	msgs = Filter(msgs)
	out := make([]ollama.Message, 0, len(msgs))
	for _, m := range msgs {
		msg := ollama.Message{Role: string(m.Role)}
		if !m.Content.IsStructured() {
			msg.Content = m.Content.Text
			out = append(out, msg)
			continue
		}

		var sb strings.Builder
		for _, p := range m.Content.Parts {
			switch p.Type {
			case model.PartText:
				sb.WriteString(p.Text)
			case model.PartImageURL:
				if p.ImageURL == nil {
					continue
				}
				if data, ok := dataURLPayload(p.ImageURL.URL); ok && m.Role == model.RoleUser {
					msg.Images = append(msg.Images, data)
					continue
				}
				appendLine(&sb, "[image: "+p.ImageURL.URL+"]")
			default:
				if line := CallLine(p); line != "" {
					appendLine(&sb, line)
				}
			}
		}
		msg.Content = sb.String()
		out = append(out, msg)
	}
	return out
}

func appendLine(sb *strings.Builder, line string) {
	if sb.Len() > 0 {
		sb.WriteString("\n")
	}
	sb.WriteString(line)
}

// dataURLPayload extracts the base64 payload from "data:<mime>;base64,<data>".
func dataURLPayload(url string) (string, bool) {
	if !strings.HasPrefix(url, "data:") {
		return "", false
	}
	_, payload, ok := strings.Cut(url, ";base64,")
	if !ok || payload == "" {
		return "", false
	}
	return payload, true
}

// =============================================================================
// PLAIN TEXT
// =============================================================================

// PlainText flattens history into a readable transcript. Only text parts are
// kept; images and call parts are dropped.
func PlainText(msgs []model.Message) string {
	msgs = Filter(msgs)
	blocks := make([]string, 0, len(msgs))
	for _, m := range msgs {
		blocks = append(blocks, m.Role.DisplayName()+": "+m.Content.PlainText())
	}
	return strings.Join(blocks, "\n\n")
}
