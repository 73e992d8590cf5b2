// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package completion

import (
	"context"
	"fmt"
	"strings"

	"github.com/jeranaias/rigrun-stream/internal/cache"
	"github.com/jeranaias/rigrun-stream/internal/logging"
	"github.com/jeranaias/rigrun-stream/internal/model"
)

// =============================================================================
// CHAT
// =============================================================================

// ChatConfig configures a Chat.
type ChatConfig struct {
	Model Model

	// Target describes the provider configuration, for cache records and
	// message metadata. Target.Model falls back to Model.Name().
	Target cache.Target

	// CredentialRequired rejects sends while Target.APIKey is empty.
	CredentialRequired bool

	Options   Options
	Callbacks Callbacks

	// Recorder is told about every successful attempt. Optional.
	Recorder SuccessRecorder

	Orchestrator *Orchestrator
	Logger       *logging.Logger
}

// Chat is the send-level front door: it validates input, builds the user
// message and assistant placeholder, runs an attempt and writes the outcome
// back into the conversation.
//
// A Chat may be shared, but each conversation must only have one Send or
// Regenerate in flight.
type Chat struct {
	cfg  ChatConfig
	orch *Orchestrator
	log  *logging.Logger
}

// NewChat creates a Chat.
func NewChat(cfg ChatConfig) *Chat {
	orch := cfg.Orchestrator
	if orch == nil {
		orch = NewOrchestrator(WithLogger(cfg.Logger))
	}
	if cfg.Model != nil && cfg.Target.Model == "" {
		cfg.Target.Model = cfg.Model.Name()
	}
	return &Chat{
		cfg:  cfg,
		orch: orch,
		log:  logging.OrNop(cfg.Logger).Named("chat"),
	}
}

// Target returns the provider configuration sends go to.
func (c *Chat) Target() cache.Target {
	return c.cfg.Target
}

// validate performs the synchronous checks that run before any attempt.
func (c *Chat) validate() error {
	if c.cfg.Model == nil || c.cfg.Model.Name() == "" {
		return ErrNoModel
	}
	if c.cfg.CredentialRequired && strings.TrimSpace(c.cfg.Target.APIKey) == "" {
		return ErrNoCredential
	}
	return nil
}

// Send appends a user turn built from input and images, streams the
// assistant reply into conv and returns the outcome.
//
// ErrEmptyInput, ErrNoModel, ErrNoCredential and invalid image URLs are
// returned as the error before anything is appended. Every other failure is
// reported through the Result, whose Message has already replaced the
// placeholder in conv.
func (c *Chat) Send(ctx context.Context, conv *model.Conversation, input string, images []string) (Result, error) {
	if strings.TrimSpace(input) == "" && len(images) == 0 {
		return Result{}, ErrEmptyInput
	}
	if err := c.validate(); err != nil {
		return Result{}, err
	}

	user, err := buildUserMessage(input, images)
	if err != nil {
		return Result{}, err
	}

	conv.Append(user)
	if conv.Model == "" {
		conv.Model = c.cfg.Target.Model
	}
	history := conv.History()

	placeholder := model.NewAssistantMessage(model.Metadata{
		Model:  c.cfg.Target.Model,
		Preset: c.cfg.Target.Preset,
	})
	conv.Append(placeholder)

	res := c.orch.Run(ctx, Request{
		Model:       c.cfg.Model,
		History:     history,
		Placeholder: placeholder,
		Options:     c.cfg.Options,
		Callbacks:   c.cfg.Callbacks,
	})
	conv.Replace(res.Message)

	if res.Err == nil {
		c.record()
	}
	return res, nil
}

// Regenerate streams a new version of the last assistant turn. Earlier
// versions stay on the message; on failure the message is restored and the
// error is appended after it.
func (c *Chat) Regenerate(ctx context.Context, conv *model.Conversation) (Result, error) {
	if err := c.validate(); err != nil {
		return Result{}, err
	}
	idx := conv.LastAssistant()
	if idx < 0 {
		return Result{}, ErrNothingToRegenerate
	}

	original := conv.Messages[idx]
	history := make([]model.Message, 0, idx)
	for _, m := range conv.Messages[:idx] {
		if m.Role != model.RoleError {
			history = append(history, m)
		}
	}

	seeded := model.AddVersion(original, model.VersionInit{
		Content: model.Text(""),
		Metadata: model.Metadata{
			Model:      c.cfg.Target.Model,
			Preset:     c.cfg.Target.Preset,
			RetryCount: original.Metadata.RetryCount + 1,
		},
	})
	conv.Replace(seeded)

	res := c.orch.Run(ctx, Request{
		Model:       c.cfg.Model,
		History:     history,
		Placeholder: seeded,
		Options:     c.cfg.Options,
		Callbacks:   c.cfg.Callbacks,
	})

	if res.Err != nil {
		conv.Replace(original)
		errMsg := model.New(model.RoleError, res.Message.Content, model.WithMetadata(res.Message.Metadata))
		res.Message = errMsg
		conv.Messages = append(conv.Messages[:idx+1], append([]model.Message{errMsg}, conv.Messages[idx+1:]...)...)
		return res, nil
	}

	conv.Replace(res.Message)
	c.record()
	return res, nil
}

// =============================================================================
// SUMMARY
// =============================================================================

const summaryPrompt = "Summarize the user's text as a title of fewer than four words. " +
	"Use the language of the text. Return only the title, without punctuation or any other information."

// maxTitleLen bounds a generated title, in runes.
const maxTitleLen = 60

// Summarize asks the model for a short title for text. It runs a normal
// attempt without callbacks and records the target on success, like a send.
func (c *Chat) Summarize(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyInput
	}
	if err := c.validate(); err != nil {
		return "", err
	}

	history := []model.Message{
		model.New(model.RoleSystem, model.Text(summaryPrompt)),
		model.NewUserMessage("Summarize the following text in fewer than four words: " + text),
	}
	res := c.orch.Run(ctx, Request{
		Model:   c.cfg.Model,
		History: history,
		Options: c.cfg.Options,
	})
	if res.Err != nil {
		return "", res.Err
	}
	c.record()

	title := cleanTitle(res.Message.Content.PlainText())
	c.log.Debug("summary generated", "title", title)
	return title, nil
}

// cleanTitle keeps the first line of a model-written title and strips quotes
// and trailing punctuation.
func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, " \t\"'`*#")
	s = strings.TrimRight(s, ".!?:;,")
	if r := []rune(s); len(r) > maxTitleLen {
		s = string(r[:maxTitleLen])
	}
	return strings.TrimSpace(s)
}

// buildUserMessage returns plain text content, or a text part followed by
// one image part per URL.
func buildUserMessage(input string, images []string) (model.Message, error) {
	if len(images) == 0 {
		return model.NewUserMessage(input), nil
	}
	parts := make([]model.Part, 0, len(images)+1)
	if strings.TrimSpace(input) != "" {
		parts = append(parts, model.TextPart(input))
	}
	for _, url := range images {
		parts = append(parts, model.ImagePart(url))
	}
	content := model.Parts(parts...)
	if err := content.Validate(); err != nil {
		return model.Message{}, fmt.Errorf("invalid message content: %w", err)
	}
	return model.New(model.RoleUser, content), nil
}

func (c *Chat) record() {
	if c.cfg.Recorder != nil {
		c.cfg.Recorder.Record(c.cfg.Target)
	}
}
