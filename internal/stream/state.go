// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"time"

	"github.com/jeranaias/rigrun-stream/internal/model"
)

// =============================================================================
// STATE
// =============================================================================

// State is the transient fold state of one streaming attempt.
//
// The zero value is idle. Opening a message moves it to accumulating, and
// finalization stamps receivedAt. Completed records that the terminal
// MessageCompleted notification has been emitted.
type State struct {
	// Seed, when set, is the message that gets opened instead of a fresh
	// assistant placeholder (a regeneration streams into a new version).
	Seed *model.Message

	// SentAt overrides the sentAt stamp on open (Unix ms).
	SentAt int64

	Message   model.Message
	Open      bool
	Text      string
	Reasoning string
	Model     string

	Usage    model.Usage
	HasUsage bool
	Cost     *float64

	FirstTokenAt int64
	LastTokenAt  int64

	Finalized bool
	Completed bool

	// Failure holds an error the provider reported inside the stream.
	Failure *ProviderError
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

// Notification is an output of Step. The set of implementations is closed.
type Notification interface {
	isNotification()
}

// MessageUpdated carries the in-progress message after a change.
type MessageUpdated struct {
	Message model.Message
}

// MessageCompleted carries the terminal message. It is emitted once per
// attempt, after every MessageUpdated of that attempt.
type MessageCompleted struct {
	Message model.Message
}

// UsageUpdated carries normalized usage whenever it becomes known.
type UsageUpdated struct {
	Usage model.Usage
	Cost  *float64
}

func (MessageUpdated) isNotification()   {}
func (MessageCompleted) isNotification() {}
func (UsageUpdated) isNotification()     {}

// =============================================================================
// TRANSITIONS
// =============================================================================

// Step folds one event into s. It does not modify its input and performs no
// I/O; now is the wall-clock time the event arrived.
func Step(s State, ev Event, now time.Time) (State, []Notification) {
	ms := now.UnixMilli()
	var out []Notification

	switch e := ev.(type) {
	case ResponseCreated:
		if s.Model == "" && e.Model != "" {
			s.Model = e.Model
			if s.Open && s.Message.Metadata.Model == "" {
				s.Message = model.MergeMetadata(s.Message, model.Metadata{Model: e.Model})
				out = append(out, updated(s))
			}
		}

	case OutputItemAdded:
		if !s.Open {
			s = open(s, ms)
			out = append(out, updated(s))
		}

	case ContentPartAdded:
		if e.Part.IsText() && !s.Finalized {
			s = open(s, ms)
			s = setText(s, e.Part.Text)
			out = append(out, updated(s))
		}

	case TextDelta:
		if !s.Finalized {
			s = open(s, ms)
			s = appendText(s, e.Delta, ms)
			out = append(out, updated(s))
		}

	case TextDone:
		if !s.Finalized {
			s = open(s, ms)
			s = setText(s, e.Text)
			out = append(out, updated(s))
		}

	case ContentPartDone:
		if e.Part.IsText() && !s.Finalized {
			s = open(s, ms)
			s = setText(s, e.Part.Text)
			out = append(out, updated(s))
		}

	case ReasoningDelta:
		if !s.Finalized && e.Delta != "" {
			s = open(s, ms)
			s = appendReasoning(s, e.Delta, ms)
			out = append(out, updated(s))
		}

	case OutputItemDone:
		// Reasoning items close before the message item does.
		if e.ItemType == "" || e.ItemType == "message" {
			if s.Open && !s.Finalized {
				s = finalize(s, ms)
				out = append(out, updated(s))
			}
		}

	case ResponseCompleted:
		if s.Completed {
			// Duplicate terminal event: usage may still be new.
			if e.Usage != nil {
				s = recordUsage(s, *e.Usage)
				out = append(out, usageUpdated(s))
			}
			break
		}
		if s.Model == "" && e.Model != "" {
			s.Model = e.Model
		}
		s = open(s, ms)
		if e.Usage != nil {
			s = recordUsage(s, *e.Usage)
			s.Message = model.MergeMetadata(s.Message, usagePatch(s, ms))
			out = append(out, updated(s), usageUpdated(s))
		}
		if !s.Finalized {
			s = finalize(s, ms)
		}
		s, out = complete(s, out)

	case ResponseFailed:
		s.Failure = &ProviderError{Code: e.Code, Message: e.Message}

	case Chunk:
		s, out = stepChunk(s, e, ms)
	}

	return s, out
}

// Finish forces the attempt to a terminal state at end of stream: it opens
// an empty message if nothing arrived, finalizes, and emits MessageCompleted
// unless that already happened. Calling it again is a no-op.
func Finish(s State, now time.Time) (State, []Notification) {
	if s.Completed {
		return s, nil
	}
	ms := now.UnixMilli()
	s = open(s, ms)
	if !s.Finalized {
		s = finalize(s, ms)
	}
	return complete(s, nil)
}

// Replay folds a sequence of events from s, stamping each with now().
func Replay(s State, events []Event, now func() time.Time) (State, []Notification) {
	var all []Notification
	for _, ev := range events {
		var out []Notification
		s, out = Step(s, ev, now())
		all = append(all, out...)
	}
	return s, all
}

func stepChunk(s State, e Chunk, ms int64) (State, []Notification) {
	var out []Notification

	if e.Error != nil {
		s.Failure = e.Error
		return s, nil
	}
	if s.Model == "" && e.Model != "" {
		s.Model = e.Model
	}

	changed := false
	if !s.Open {
		s = open(s, ms)
		changed = true
	}
	if !s.Finalized {
		if e.Content != "" {
			s = appendText(s, e.Content, ms)
			changed = true
		}
		if e.Reasoning != "" {
			s = appendReasoning(s, e.Reasoning, ms)
			changed = true
		}
	}

	var usageNote Notification
	if e.Usage != nil {
		s = recordUsage(s, *e.Usage)
		usageNote = usageUpdated(s)
		// Some providers send usage before the finish signal.
		if !s.Finalized {
			s.Message = model.MergeMetadata(s.Message, usagePatch(s, ms))
			changed = true
		}
	}

	if changed && !s.Completed {
		out = append(out, updated(s))
	}
	if usageNote != nil {
		out = append(out, usageNote)
	}

	if e.FinishReason != "" && !s.Finalized {
		s = finalize(s, ms)
		s, out = complete(s, out)
	}
	return s, out
}

// open creates the in-progress message if it does not exist yet.
func open(s State, ms int64) State {
	if s.Open {
		return s
	}
	var msg model.Message
	if s.Seed != nil {
		msg = *s.Seed
	} else {
		msg = model.New(model.RoleAssistant, model.Text(""))
	}
	sentAt := s.SentAt
	if sentAt == 0 {
		sentAt = msg.Metadata.SentAt
	}
	if sentAt == 0 {
		sentAt = ms
	}
	msg = model.MergeMetadata(msg, model.Metadata{SentAt: sentAt, Model: s.Model})
	s.Message = msg
	s.Open = true
	return s
}

func setText(s State, text string) State {
	s.Text = text
	s.Message = model.UpdateContent(s.Message, model.Text(text))
	return s
}

func appendText(s State, delta string, ms int64) State {
	if s.FirstTokenAt == 0 {
		s.FirstTokenAt = ms
		s.Message = model.MergeMetadata(s.Message, model.Metadata{FirstTokenAt: ms})
	}
	s.LastTokenAt = ms
	return setText(s, s.Text+delta)
}

func appendReasoning(s State, delta string, ms int64) State {
	s.LastTokenAt = ms
	s.Reasoning += delta
	// Open always yields an assistant message, so this cannot fail.
	s.Message, _ = model.UpdateReasoning(s.Message, s.Reasoning, false)
	return s
}

func recordUsage(s State, raw RawUsage) State {
	s.Usage = NormalizeUsage(raw)
	s.HasUsage = true
	if raw.Cost != nil {
		c := *raw.Cost
		s.Cost = &c
	}
	return s
}

// usagePatch builds the usage/cost/speed metadata for the current state.
// The speed window ends at receivedAt once finalized, else at the last token.
func usagePatch(s State, ms int64) model.Metadata {
	var patch model.Metadata
	if s.HasUsage {
		u := s.Usage
		patch.Usage = &u
		end := s.Message.Metadata.ReceivedAt
		if end == 0 {
			end = s.LastTokenAt
		}
		patch.TokenSpeed = TokenSpeed(u.OutputTokens, s.FirstTokenAt, end)
	}
	if s.Cost != nil {
		patch.Cost = model.Float(*s.Cost)
	}
	return patch
}

func finalize(s State, ms int64) State {
	s.Finalized = true
	s.Message = model.MergeMetadata(s.Message, model.Metadata{ReceivedAt: ms})
	s.Message = model.MergeMetadata(s.Message, usagePatch(s, ms))
	return s
}

func complete(s State, out []Notification) (State, []Notification) {
	if s.Completed {
		return s, out
	}
	s.Completed = true
	return s, append(out, MessageCompleted{Message: s.Message})
}

func updated(s State) Notification {
	return MessageUpdated{Message: s.Message}
}

func usageUpdated(s State) Notification {
	n := UsageUpdated{Usage: s.Usage}
	if s.Cost != nil {
		n.Cost = model.Float(*s.Cost)
	}
	return n
}
