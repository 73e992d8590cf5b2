// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/rigrun-stream/internal/cache"
	"github.com/jeranaias/rigrun-stream/internal/completion"
	"github.com/jeranaias/rigrun-stream/internal/model"
	"github.com/jeranaias/rigrun-stream/internal/provider"
	"github.com/jeranaias/rigrun-stream/internal/storage"
	"github.com/jeranaias/rigrun-stream/internal/telemetry"
)

// =============================================================================
// RUNTIME
// =============================================================================

// runtime bundles what a sending command needs beyond the provider.
type runtime struct {
	a        *app
	recorder *cache.Recorder
	tracker  *telemetry.Tracker
	store    *storage.ConversationStore
	closers  []func()
}

func (a *app) openRuntime(ctx context.Context) (*runtime, error) {
	c, closeCache, err := a.openCache(ctx)
	if err != nil {
		return nil, err
	}
	rt := &runtime{a: a, closers: []func(){closeCache}}
	if a.cfg.Cache.Enabled {
		rt.recorder = cache.NewRecorder(c)
	}

	if rt.tracker, err = a.tracker(); err != nil {
		rt.close()
		return nil, NewCommandError("usage", "open usage storage", err)
	}
	if rt.store, err = a.conversations(); err != nil {
		rt.close()
		return nil, NewCommandError("history", "open conversation storage", err)
	}
	return rt, nil
}

// close waits for pending cache writes, persists the usage session and
// releases the cache backend.
func (rt *runtime) close() {
	if rt.recorder != nil {
		rt.recorder.Wait()
	}
	if rt.tracker != nil {
		if err := rt.tracker.EndSession(); err != nil {
			rt.a.log.Warn("failed to save usage session", "error", err)
		}
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
}

// chat builds a Chat for p that streams into cb.
func (rt *runtime) chat(p *provider.Provider, cb completion.Callbacks) *completion.Chat {
	cfg := p.ChatConfig()
	cfg.Callbacks = cb
	if rt.recorder != nil {
		cfg.Recorder = rt.recorder
	}
	cfg.Logger = rt.a.log
	return completion.NewChat(cfg)
}

// conversation loads id, or starts a new conversation when id is empty.
func (rt *runtime) conversation(id string) (*model.Conversation, error) {
	if id == "" {
		return model.NewConversation(), nil
	}
	return rt.store.Load(id)
}

func (rt *runtime) save(conv *model.Conversation) {
	if _, err := rt.store.Save(conv); err != nil {
		rt.a.log.Warn("failed to save conversation", "id", conv.ID, "error", err)
	}
}

// summaryTimeout bounds a title request.
const summaryTimeout = 30 * time.Second

// retitle replaces the derived title of a new conversation with a summary
// written by the model, when storage.summarize_titles is on.
func (rt *runtime) retitle(ctx context.Context, chat *completion.Chat, conv *model.Conversation, res completion.Result) {
	if !rt.a.cfg.Storage.SummarizeTitles || res.Err != nil {
		return
	}
	first, turns := "", 0
	for _, m := range conv.Messages {
		if m.Role == model.RoleUser {
			if turns == 0 {
				first = m.Content.PlainText()
			}
			turns++
		}
	}
	if turns != 1 {
		return
	}
	if _, err := summarizeInto(ctx, chat, conv, first); err != nil {
		rt.a.log.Warn("failed to summarize conversation title", "id", conv.ID, "error", err)
	}
}

// summarizeInto sets conv's title to a model summary of text. An empty
// summary leaves the title unchanged.
func summarizeInto(ctx context.Context, chat *completion.Chat, conv *model.Conversation, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, summaryTimeout)
	defer cancel()

	title, err := chat.Summarize(ctx, text)
	if err != nil {
		return "", err
	}
	if title != "" {
		conv.Title = title
	}
	return conv.Title, nil
}

// =============================================================================
// STREAM PRINTER
// =============================================================================

// streamPrinter writes the text a message gained since the last update.
type streamPrinter struct {
	mu      sync.Mutex
	w       io.Writer
	printed string
}

func newStreamPrinter(w io.Writer) *streamPrinter {
	return &streamPrinter{w: w}
}

func (p *streamPrinter) update(m model.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	text := m.Content.PlainText()
	if !strings.HasPrefix(text, p.printed) {
		// Content was replaced rather than extended.
		fmt.Fprintln(p.w)
		p.printed = ""
	}
	if delta := text[len(p.printed):]; delta != "" {
		io.WriteString(p.w, delta)
		p.printed = text
	}
}

// finish ends the streamed line.
func (p *streamPrinter) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.printed != "" && !strings.HasSuffix(p.printed, "\n") {
		fmt.Fprintln(p.w)
	}
	p.printed = ""
}

func (p *streamPrinter) callbacks() completion.Callbacks {
	return completion.Callbacks{OnMessageUpdate: p.update}
}

// =============================================================================
// ANSWERS
// =============================================================================

// answer is the machine-readable view of one completed attempt.
type answer struct {
	Model          string       `json:"model" yaml:"model"`
	ConversationID string       `json:"conversation_id,omitempty" yaml:"conversation_id,omitempty"`
	Content        string       `json:"content" yaml:"content"`
	Reasoning      string       `json:"reasoning,omitempty" yaml:"reasoning,omitempty"`
	Usage          *model.Usage `json:"usage,omitempty" yaml:"usage,omitempty"`
	TokenSpeed     *float64     `json:"token_speed,omitempty" yaml:"token_speed,omitempty"`
	Versions       int          `json:"versions,omitempty" yaml:"versions,omitempty"`
	Fallback       bool         `json:"fallback,omitempty" yaml:"fallback,omitempty"`
	Aborted        bool         `json:"aborted,omitempty" yaml:"aborted,omitempty"`
	Error          string       `json:"error,omitempty" yaml:"error,omitempty"`
}

func answerOf(modelName, convID string, res completion.Result) answer {
	m := res.Message
	ans := answer{
		Model:          modelName,
		ConversationID: convID,
		Content:        m.Content.PlainText(),
		Reasoning:      m.Reasoning,
		Usage:          res.Usage,
		TokenSpeed:     m.Metadata.TokenSpeed,
		Versions:       len(m.Versions),
		Fallback:       res.Fallback,
		Aborted:        res.Aborted,
	}
	if res.Err != nil && !res.Aborted {
		ans.Error = res.Err.Error()
	}
	return ans
}

// stats renders a one-line summary of an answer.
func (ans answer) stats() string {
	parts := []string{ans.Model}
	if ans.Usage != nil {
		parts = append(parts, fmt.Sprintf("%d tokens", ans.Usage.TotalTokens))
	}
	if ans.TokenSpeed != nil {
		parts = append(parts, fmt.Sprintf("%.1f tok/s", *ans.TokenSpeed))
	}
	if ans.Versions > 1 {
		parts = append(parts, fmt.Sprintf("%d versions", ans.Versions))
	}
	if ans.Fallback {
		parts = append(parts, "text fallback")
	}
	if ans.Aborted {
		parts = append(parts, "aborted")
	}
	return "[" + strings.Join(parts, " | ") + "]"
}

// resultErr turns a failed attempt into the command's error.
func resultErr(res completion.Result) error {
	switch {
	case res.Aborted:
		return completion.ErrAborted
	case res.Err != nil:
		return res.Err
	}
	return nil
}

// firstErr returns the first failure among answers, preferring real errors
// over aborts.
func firstErr(errs []error) error {
	var aborted error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if errors.Is(err, completion.ErrAborted) {
			aborted = err
			continue
		}
		return err
	}
	return aborted
}
