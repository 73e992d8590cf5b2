// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"time"

	"github.com/jeranaias/rigrun-stream/internal/model"
)

// =============================================================================
// CALLBACKS
// =============================================================================

// Callbacks receive parser notifications. Nil fields are skipped.
type Callbacks struct {
	OnMessageUpdate   func(model.Message)
	OnMessageComplete func(model.Message)
	OnUsageUpdate     func(model.Usage)
}

// =============================================================================
// PARSER
// =============================================================================

// Parser folds events of either family into one assistant message and
// forwards the resulting notifications to its callbacks, in order.
//
// A Parser serves one attempt at a time and is not safe for concurrent use.
// Call Reset between attempts.
type Parser struct {
	state State
	cb    Callbacks
	now   func() time.Time
}

// ParserOption configures a Parser.
type ParserOption func(*Parser)

// WithClock overrides the time source used to stamp events.
func WithClock(now func() time.Time) ParserOption {
	return func(p *Parser) { p.now = now }
}

// NewParser creates an idle parser.
func NewParser(cb Callbacks, opts ...ParserOption) *Parser {
	p := &Parser{cb: cb, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle folds ev and dispatches the notifications it produced.
func (p *Parser) Handle(ev Event) {
	var out []Notification
	p.state, out = Step(p.state, ev, p.now())
	p.dispatch(out)
}

// Finish drives the attempt to its terminal notification. It is idempotent.
func (p *Parser) Finish() {
	var out []Notification
	p.state, out = Finish(p.state, p.now())
	p.dispatch(out)
}

// Reset clears all transient state, including any seed and sent time.
func (p *Parser) Reset() {
	p.state = State{}
}

// SetSentTime fixes the sentAt stamp used when the message opens.
func (p *Parser) SetSentTime(ms int64) {
	p.state.SentAt = ms
}

// Seed makes the next opened message continue m instead of a fresh one.
func (p *Parser) Seed(m model.Message) {
	p.state.Seed = &m
}

// State returns a copy of the current fold state.
func (p *Parser) State() State {
	return p.state
}

// Message returns the in-progress message, if one has been opened.
func (p *Parser) Message() (model.Message, bool) {
	return p.state.Message, p.state.Open
}

// Usage returns the last normalized usage, if any arrived.
func (p *Parser) Usage() (model.Usage, bool) {
	return p.state.Usage, p.state.HasUsage
}

// Completed reports whether MessageCompleted has been dispatched.
func (p *Parser) Completed() bool {
	return p.state.Completed
}

// Err returns the error the provider reported inside the stream, if any.
func (p *Parser) Err() error {
	if p.state.Failure == nil {
		return nil
	}
	return p.state.Failure
}

func (p *Parser) dispatch(out []Notification) {
	for _, n := range out {
		switch v := n.(type) {
		case MessageUpdated:
			if p.cb.OnMessageUpdate != nil {
				p.cb.OnMessageUpdate(v.Message)
			}
		case MessageCompleted:
			if p.cb.OnMessageComplete != nil {
				p.cb.OnMessageComplete(v.Message)
			}
		case UsageUpdated:
			if p.cb.OnUsageUpdate != nil {
				p.cb.OnUsageUpdate(v.Usage)
			}
		}
	}
}
