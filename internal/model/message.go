// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleError     Role = "error"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// DisplayName returns a human-friendly name for the role.
func (r Role) DisplayName() string {
	switch r {
	case RoleUser:
		return "You"
	case RoleAssistant:
		return "Assistant"
	case RoleSystem:
		return "System"
	case RoleError:
		return "Error"
	default:
		return string(r)
	}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem, RoleError:
		return true
	}
	return false
}

// ErrReasoningNotAllowed is returned by UpdateReasoning for non-assistant
// messages. The message is returned unchanged alongside it.
var ErrReasoningNotAllowed = errors.New("reasoning can only be set on assistant messages")

// =============================================================================
// METADATA
// =============================================================================

// Usage holds normalized token counts for one response.
type Usage struct {
	InputTokens  int `json:"input_tokens" yaml:"input_tokens"`
	OutputTokens int `json:"output_tokens" yaml:"output_tokens"`
	TotalTokens  int `json:"total_tokens" yaml:"total_tokens"`
}

// Metadata is the optional telemetry bag attached to a message or version.
// Timestamps are Unix milliseconds; zero means unset.
type Metadata struct {
	SentAt       int64    `json:"sentAt,omitempty"`
	FirstTokenAt int64    `json:"firstTokenAt,omitempty"`
	ReceivedAt   int64    `json:"receivedAt,omitempty"`
	Model        string   `json:"model,omitempty"`
	Preset       string   `json:"preset,omitempty"`
	Usage        *Usage   `json:"usage,omitempty"`
	TokenSpeed   *float64 `json:"tokenSpeed,omitempty"`
	Cost         *float64 `json:"cost,omitempty"`
	RetryCount   int      `json:"retryCount,omitempty"`
	Edited       bool     `json:"edited,omitempty"`
}

// Merge returns m with every set field of patch applied on top.
// Zero scalars and nil pointers in patch leave the existing value alone.
func (m Metadata) Merge(patch Metadata) Metadata {
	if patch.SentAt != 0 {
		m.SentAt = patch.SentAt
	}
	if patch.FirstTokenAt != 0 {
		m.FirstTokenAt = patch.FirstTokenAt
	}
	if patch.ReceivedAt != 0 {
		m.ReceivedAt = patch.ReceivedAt
	}
	if patch.Model != "" {
		m.Model = patch.Model
	}
	if patch.Preset != "" {
		m.Preset = patch.Preset
	}
	if patch.Usage != nil {
		u := *patch.Usage
		m.Usage = &u
	}
	if patch.TokenSpeed != nil {
		v := *patch.TokenSpeed
		m.TokenSpeed = &v
	}
	if patch.Cost != nil {
		v := *patch.Cost
		m.Cost = &v
	}
	if patch.RetryCount != 0 {
		m.RetryCount = patch.RetryCount
	}
	if patch.Edited {
		m.Edited = true
	}
	return m
}

// Float returns a pointer to v, for optional metadata fields.
func Float(v float64) *float64 {
	return &v
}

// =============================================================================
// VERSION TYPE
// =============================================================================

// Version is one alternate generation of an assistant turn.
type Version struct {
	ID        string   `json:"id"`
	Content   Content  `json:"content"`
	Reasoning string   `json:"reasoning,omitempty"`
	Metadata  Metadata `json:"metadata"`
	CreatedAt int64    `json:"createdAt"`
}

// VersionInit seeds a new version.
type VersionInit struct {
	Content   Content
	Reasoning string
	Metadata  Metadata
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single turn in a conversation.
//
// For assistant messages Content, Reasoning and Metadata are a materialized
// view of Versions[ActiveVersionIndex]; every function in this package that
// touches them keeps both in sync. Callers must not assign those fields on an
// assistant message directly.
//
// Message values are treated as immutable: the functions below return a new
// Message and never write through to slices shared with their input.
type Message struct {
	ID                 string    `json:"id"`
	Role               Role      `json:"role"`
	Content            Content   `json:"content"`
	Timestamp          int64     `json:"timestamp"`
	Reasoning          string    `json:"reasoning,omitempty"`
	Metadata           Metadata  `json:"metadata"`
	Versions           []Version `json:"versions,omitempty"`
	ActiveVersionIndex int       `json:"activeVersionIndex,omitempty"`
}

// Option configures a message at creation.
type Option func(*Message)

// WithID overrides the generated identifier.
func WithID(id string) Option {
	return func(m *Message) { m.ID = id }
}

// WithTimestamp overrides the creation time (Unix milliseconds).
func WithTimestamp(ms int64) Option {
	return func(m *Message) { m.Timestamp = ms }
}

// WithReasoning seeds the reasoning text.
func WithReasoning(text string) Option {
	return func(m *Message) { m.Reasoning = text }
}

// WithMetadata seeds the metadata bag.
func WithMetadata(md Metadata) Option {
	return func(m *Message) { m.Metadata = md }
}

// New creates a message with a fresh identifier and timestamp. Assistant
// messages get a single initial version built from the seeded fields.
func New(role Role, content Content, opts ...Option) Message {
	m := Message{
		ID:        generateID(),
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	}
	for _, opt := range opts {
		opt(&m)
	}
	if role == RoleAssistant {
		return EnsureVersions(m)
	}
	return m
}

// NewUserMessage creates a user message from plain text.
func NewUserMessage(text string) Message {
	return New(RoleUser, Text(text))
}

// NewAssistantMessage creates an empty assistant placeholder.
func NewAssistantMessage(md Metadata) Message {
	return New(RoleAssistant, Text(""), WithMetadata(md))
}

// NewErrorMessage creates an error-role message carrying a readable cause.
func NewErrorMessage(text string, md Metadata) Message {
	return New(RoleError, Text(text), WithMetadata(md))
}

// ActiveVersion returns the selected version of an assistant message.
func (m Message) ActiveVersion() (Version, bool) {
	if len(m.Versions) == 0 || m.ActiveVersionIndex < 0 || m.ActiveVersionIndex >= len(m.Versions) {
		return Version{}, false
	}
	return m.Versions[m.ActiveVersionIndex], true
}

// IsEmpty reports whether the message has neither content nor reasoning.
func (m Message) IsEmpty() bool {
	return m.Content.IsEmpty() && m.Reasoning == ""
}

// =============================================================================
// VERSION-SYNC OPERATIONS
// =============================================================================

// EnsureVersions gives an assistant message a valid version list.
// A message with no versions gets one built from its top-level fields; an
// out-of-range active index is moved to the last version. Top-level fields
// are then re-materialized from the active version. Other roles pass
// through unchanged.
func EnsureVersions(m Message) Message {
	if m.Role != RoleAssistant {
		return m
	}

	versions := cloneVersions(m.Versions)
	idx := m.ActiveVersionIndex

	if len(versions) == 0 {
		versions = append(versions, Version{
			ID:        generateID(),
			Content:   m.Content,
			Reasoning: m.Reasoning,
			Metadata:  m.Metadata,
			CreatedAt: m.Timestamp,
		})
		idx = 0
	} else if idx < 0 || idx >= len(versions) {
		idx = len(versions) - 1
	}

	m.Versions = versions
	return materialize(m, idx)
}

// UpdateContent replaces the message content. For assistant messages the
// active version is written and mirrored; other versions are untouched.
func UpdateContent(m Message, content Content) Message {
	if m.Role != RoleAssistant {
		m.Content = content
		return m
	}
	m = EnsureVersions(m)
	m.Versions[m.ActiveVersionIndex].Content = content
	m.Content = content
	return m
}

// UpdateReasoning sets or appends reasoning text on an assistant message.
// Any other role gets the message back unchanged with ErrReasoningNotAllowed.
func UpdateReasoning(m Message, text string, appendMode bool) (Message, error) {
	if m.Role != RoleAssistant {
		return m, ErrReasoningNotAllowed
	}
	m = EnsureVersions(m)
	next := text
	if appendMode && m.Reasoning != "" {
		next = m.Reasoning + text
	}
	m.Versions[m.ActiveVersionIndex].Reasoning = next
	m.Reasoning = next
	return m, nil
}

// MergeMetadata shallow-merges patch into the message metadata (the active
// version's, for assistant messages).
func MergeMetadata(m Message, patch Metadata) Message {
	if m.Role != RoleAssistant {
		m.Metadata = m.Metadata.Merge(patch)
		return m
	}
	m = EnsureVersions(m)
	merged := m.Metadata.Merge(patch)
	m.Versions[m.ActiveVersionIndex].Metadata = merged
	m.Metadata = merged
	return m
}

// AddVersion appends a new generation to an assistant message and makes it
// active. Earlier versions remain in place. Other roles pass through.
func AddVersion(m Message, init VersionInit) Message {
	if m.Role != RoleAssistant {
		return m
	}
	m = EnsureVersions(m)
	m.Versions = append(m.Versions, Version{
		ID:        generateID(),
		Content:   init.Content,
		Reasoning: init.Reasoning,
		Metadata:  init.Metadata,
		CreatedAt: time.Now().UnixMilli(),
	})
	return materialize(m, len(m.Versions)-1)
}

// SetActiveVersion switches the visible branch, clamping index into range.
func SetActiveVersion(m Message, index int) Message {
	if m.Role != RoleAssistant {
		return m
	}
	m = EnsureVersions(m)
	if index < 0 {
		index = 0
	}
	if index > len(m.Versions)-1 {
		index = len(m.Versions) - 1
	}
	return materialize(m, index)
}

// Normalize applies EnsureVersions to every message, returning a new slice.
// Use it on history loaded from storage that may predate versioning.
func Normalize(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = EnsureVersions(m)
	}
	return out
}

// InSync reports whether an assistant message satisfies the mirror
// invariant. Non-assistant messages are always in sync.
func InSync(m Message) bool {
	if m.Role != RoleAssistant || len(m.Versions) == 0 {
		return true
	}
	v, ok := m.ActiveVersion()
	if !ok {
		return false
	}
	return contentEqual(v.Content, m.Content) && v.Reasoning == m.Reasoning
}

// =============================================================================
// HELPERS
// =============================================================================

func materialize(m Message, idx int) Message {
	v := m.Versions[idx]
	m.ActiveVersionIndex = idx
	m.Content = v.Content
	m.Reasoning = v.Reasoning
	m.Metadata = v.Metadata
	return m
}

func cloneVersions(vs []Version) []Version {
	if len(vs) == 0 {
		return nil
	}
	out := make([]Version, len(vs))
	copy(out, vs)
	return out
}

func contentEqual(a, b Content) bool {
	if a.IsStructured() != b.IsStructured() {
		return false
	}
	if !a.IsStructured() {
		return a.Text == b.Text
	}
	if len(a.Parts) != len(b.Parts) {
		return false
	}
	for i := range a.Parts {
		if a.Parts[i].Type != b.Parts[i].Type || a.Parts[i].Text != b.Parts[i].Text {
			return false
		}
	}
	return true
}

// generateID creates a unique message or version ID.
func generateID() string {
	return "msg_" + uuid.NewString()
}
