// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxMessages is the maximum number of messages kept in a conversation.
// When exceeded, the oldest non-system messages are pruned.
const MaxMessages = 1000

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds an ordered chat history.
//
// A Conversation is not safe for concurrent mutation; one chat session owns it.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Messages  []Message `json:"messages"`
}

// NewConversation creates an empty conversation with a generated ID.
func NewConversation() *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        "conv_" + uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  make([]Message, 0),
	}
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

// Append adds messages to the end of the conversation.
func (c *Conversation) Append(msgs ...Message) {
	c.Messages = append(c.Messages, msgs...)
	c.UpdatedAt = time.Now()
	c.updateTitle()
	c.pruneOldMessages()
}

// Replace swaps the message with the same ID for m. It returns false when no
// message has that ID.
func (c *Conversation) Replace(m Message) bool {
	for i := range c.Messages {
		if c.Messages[i].ID == m.ID {
			c.Messages[i] = m
			c.UpdatedAt = time.Now()
			return true
		}
	}
	return false
}

// Last returns the most recent message.
func (c *Conversation) Last() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// LastAssistant returns the index of the most recent assistant message, or -1.
func (c *Conversation) LastAssistant() int {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleAssistant {
			return i
		}
	}
	return -1
}

// History returns a copy of the messages with error-role entries removed,
// which is what gets replayed to a provider.
func (c *Conversation) History() []Message {
	out := make([]Message, 0, len(c.Messages))
	for _, m := range c.Messages {
		if m.Role == RoleError {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	return len(c.Messages)
}

// Usage sums the usage recorded on every assistant message.
func (c *Conversation) Usage() Usage {
	var total Usage
	for _, m := range c.Messages {
		if m.Role != RoleAssistant || m.Metadata.Usage == nil {
			continue
		}
		total.InputTokens += m.Metadata.Usage.InputTokens
		total.OutputTokens += m.Metadata.Usage.OutputTokens
		total.TotalTokens += m.Metadata.Usage.TotalTokens
	}
	return total
}

// Preview returns the first user message, truncated for listings.
func (c *Conversation) Preview() string {
	for _, m := range c.Messages {
		if m.Role == RoleUser {
			return truncate(strings.TrimSpace(m.Content.Describe()), 80)
		}
	}
	return ""
}

// Clone returns a copy whose message slice can be mutated independently.
func (c *Conversation) Clone() *Conversation {
	cp := *c
	cp.Messages = make([]Message, len(c.Messages))
	copy(cp.Messages, c.Messages)
	return &cp
}

// updateTitle derives a title from the first user message when unset.
func (c *Conversation) updateTitle() {
	if c.Title != "" {
		return
	}
	for _, m := range c.Messages {
		if m.Role == RoleUser {
			title := strings.ReplaceAll(m.Content.PlainText(), "\n", " ")
			c.Title = truncate(strings.TrimSpace(title), 50)
			return
		}
	}
}

// pruneOldMessages drops the oldest non-system messages above MaxMessages.
func (c *Conversation) pruneOldMessages() {
	excess := len(c.Messages) - MaxMessages
	if excess <= 0 {
		return
	}
	kept := make([]Message, 0, MaxMessages)
	for _, m := range c.Messages {
		if excess > 0 && m.Role != RoleSystem {
			excess--
			continue
		}
		kept = append(kept, m)
	}
	c.Messages = kept
}

// truncate shortens s to max runes, adding "..." when cut.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
