// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import "fmt"

// =============================================================================
// EVENT FAMILIES
// =============================================================================

// Family identifies which wire protocol an event came from.
type Family int

const (
	// FamilyResponses is the namespaced "response.*" event protocol.
	FamilyResponses Family = iota + 1
	// FamilyChunk is the compact chat-completion chunk protocol.
	FamilyChunk
)

// String returns the family name.
func (f Family) String() string {
	switch f {
	case FamilyResponses:
		return "responses"
	case FamilyChunk:
		return "chunk"
	default:
		return "unknown"
	}
}

// Event is one decoded stream event. The set of implementations is closed:
// every variant lives in this file and Step switches over all of them.
type Event interface {
	Family() Family
	isEvent()
}

// =============================================================================
// RESPONSES FAMILY
// =============================================================================

// ContentPart is the part payload carried by content_part events.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// IsText reports whether the part carries model text.
func (p ContentPart) IsText() bool {
	return p.Type == "output_text" || p.Type == "text"
}

// ResponseCreated announces a new response and, usually, its model.
type ResponseCreated struct {
	Model string
}

// OutputItemAdded opens an output item. ItemType is "message" for text
// output and "reasoning" for reasoning items.
type OutputItemAdded struct {
	ItemID   string
	ItemType string
}

// ContentPartAdded carries a text snapshot when a content part opens.
type ContentPartAdded struct {
	Part ContentPart
}

// TextDelta appends text.
type TextDelta struct {
	Delta string
}

// TextDone carries the authoritative final text of a part.
type TextDone struct {
	Text string
}

// ContentPartDone carries the final text snapshot when a part closes.
type ContentPartDone struct {
	Part ContentPart
}

// ReasoningDelta appends reasoning text.
type ReasoningDelta struct {
	Delta string
}

// OutputItemDone closes an output item.
type OutputItemDone struct {
	ItemID   string
	ItemType string
}

// ResponseCompleted ends the response and carries its usage.
type ResponseCompleted struct {
	Model string
	Usage *RawUsage
}

// ResponseFailed is an error the provider reports inside the stream.
type ResponseFailed struct {
	Code    string
	Message string
}

func (ResponseCreated) Family() Family   { return FamilyResponses }
func (OutputItemAdded) Family() Family   { return FamilyResponses }
func (ContentPartAdded) Family() Family  { return FamilyResponses }
func (TextDelta) Family() Family         { return FamilyResponses }
func (TextDone) Family() Family          { return FamilyResponses }
func (ContentPartDone) Family() Family   { return FamilyResponses }
func (ReasoningDelta) Family() Family    { return FamilyResponses }
func (OutputItemDone) Family() Family    { return FamilyResponses }
func (ResponseCompleted) Family() Family { return FamilyResponses }
func (ResponseFailed) Family() Family    { return FamilyResponses }

func (ResponseCreated) isEvent()   {}
func (OutputItemAdded) isEvent()   {}
func (ContentPartAdded) isEvent()  {}
func (TextDelta) isEvent()         {}
func (TextDone) isEvent()          {}
func (ContentPartDone) isEvent()   {}
func (ReasoningDelta) isEvent()    {}
func (OutputItemDone) isEvent()    {}
func (ResponseCompleted) isEvent() {}
func (ResponseFailed) isEvent()    {}

// =============================================================================
// CHUNK FAMILY
// =============================================================================

// Chunk is one chat-completion chunk. Empty strings stand for absent deltas;
// an empty FinishReason means the stream is still running.
type Chunk struct {
	Model        string
	Content      string
	Reasoning    string
	FinishReason string
	Usage        *RawUsage
	Error        *ProviderError
}

func (Chunk) Family() Family { return FamilyChunk }
func (Chunk) isEvent()       {}

// =============================================================================
// PROVIDER ERRORS
// =============================================================================

// ProviderError is an error reported by the provider as stream data rather
// than as a transport failure.
type ProviderError struct {
	Code    string
	Message string
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("provider error [%s]: %s", e.Code, e.Message)
	}
	return "provider error: " + e.Message
}
