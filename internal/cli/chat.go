// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat and regeneration of saved replies.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-stream/internal/completion"
	"github.com/jeranaias/rigrun-stream/internal/config"
	"github.com/jeranaias/rigrun-stream/internal/model"
	"github.com/jeranaias/rigrun-stream/internal/provider"
)

const chatHelp = `Commands:
  /regen   regenerate the last reply
  /model   show the active model
  /help    show this help
  /quit    leave the chat
Ctrl+C stops the reply in progress.`

// =============================================================================
// CHAT
// =============================================================================

func newChatCmd(a *app) *cobra.Command {
	var convID string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat",
		Long: `Chat reads one message per line and streams each reply.

The config file is watched while the chat runs; saving a new provider or
model takes effect on the next message.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runChat(cmd, convID)
		},
	}
	cmd.Flags().StringVarP(&convID, "continue", "c", "", "continue a saved conversation by ID")
	return cmd
}

// liveProvider holds the provider for the next turn. The config watcher
// swaps it.
type liveProvider struct {
	mu sync.RWMutex
	p  *provider.Provider
}

func (l *liveProvider) get() *provider.Provider {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.p
}

func (l *liveProvider) set(p *provider.Provider) {
	l.mu.Lock()
	l.p = p
	l.mu.Unlock()
}

func (a *app) runChat(cmd *cobra.Command, convID string) error {
	ctx := cmd.Context()
	a.serveMetrics(ctx)

	p, err := provider.New(a.cfg.Provider, a.log)
	if err != nil {
		return err
	}
	live := &liveProvider{p: p}

	rt, err := a.openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	conv, err := rt.conversation(convID)
	if err != nil {
		return err
	}

	if w := a.watchConfig(ctx, live); w != nil {
		defer w.Close()
	}

	out := cmd.OutOrStdout()
	printer := newStreamPrinter(out)
	fmt.Fprintf(out, "Chatting with %s. Type /help for commands.\n", p.Model.Name())

	input := newLineReader(cmd.InOrStdin(), out)
	defer func() {
		if err := input.Close(); err != nil {
			a.log.Debug("failed to save chat history", "error", err)
		}
	}()

	for {
		raw, err := input.ReadLine(chatPrompt)
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(out)
			return nil
		}
		if err != nil {
			return err
		}
		line := strings.TrimSpace(raw)

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			fmt.Fprintln(out)
			return nil
		case "/help":
			fmt.Fprintln(out, chatHelp)
			continue
		case "/model":
			fmt.Fprintln(out, live.get().Model.Name())
			continue
		}

		regen := line == "/regen"
		p := live.get()
		chat := rt.chat(p, printer.callbacks())
		res, err := a.chatTurn(ctx, chat, conv, line, regen)
		if err != nil {
			if errors.Is(err, completion.ErrEmptyInput) || errors.Is(err, completion.ErrNothingToRegenerate) {
				fmt.Fprintf(out, "%v\n", err)
				continue
			}
			return err
		}

		printer.finish()
		if res.Err != nil && !res.Aborted {
			fmt.Fprintf(out, "Error: %s\n", res.Message.Content.PlainText())
		}
		fmt.Fprintln(cmd.ErrOrStderr(), answerOf(p.Model.Name(), conv.ID, res).stats())
		rt.tracker.RecordResult(line, res)
		if !regen {
			rt.retitle(ctx, chat, conv, res)
		}
		rt.save(conv)
	}
}

// chatTurn runs one send or regenerate. Ctrl+C during the turn aborts only
// that attempt.
func (a *app) chatTurn(ctx context.Context, chat *completion.Chat, conv *model.Conversation, input string, regen bool) (completion.Result, error) {
	turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	if regen {
		return chat.Regenerate(turnCtx, conv)
	}
	return chat.Send(turnCtx, conv, input, nil)
}

// watchConfig reloads the provider when the config file changes. It returns
// nil when the file cannot be watched.
func (a *app) watchConfig(ctx context.Context, live *liveProvider) *config.Watcher {
	path, err := a.path()
	if err != nil {
		return nil
	}
	w, err := config.NewWatcher(path, func(cfg *config.Config) {
		p, err := provider.New(cfg.Provider, a.log)
		if err != nil {
			a.log.Warn("ignoring reloaded config", "error", err)
			return
		}
		live.set(p)
		config.SetGlobal(cfg)
		a.log.Info("configuration reloaded", "model", p.Model.Name())
	}, config.WithErrorHandler(func(err error) {
		a.log.Warn("config reload failed", "error", err)
	}))
	if err != nil {
		a.log.Debug("config watch unavailable", "path", path, "error", err)
		return nil
	}
	w.Start(ctx)
	return w
}

// =============================================================================
// REGENERATE
// =============================================================================

func newRegenerateCmd(a *app) *cobra.Command {
	var modelName string
	cmd := &cobra.Command{
		Use:   "regenerate <conversation-id>",
		Short: "Stream a new version of a saved conversation's last reply",
		Long: `Regenerate asks again for the last assistant reply of a saved
conversation. The new reply is kept as another version of the message;
earlier versions are preserved.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runRegenerate(cmd, args[0], modelName)
		},
	}
	cmd.Flags().StringVarP(&modelName, "model", "m", "", "model to use for the new version")
	return cmd
}

func (a *app) runRegenerate(cmd *cobra.Command, id, modelName string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	base, err := provider.New(a.cfg.Provider, a.log)
	if err != nil {
		return err
	}
	p, err := base.WithModel(a.cfg.Provider, modelName, a.log)
	if err != nil {
		return err
	}

	rt, err := a.openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	conv, err := rt.store.Load(id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	streaming := a.format == "" || a.format == formatText
	printer := newStreamPrinter(out)
	cb := printer.callbacks()
	if !streaming {
		cb.OnMessageUpdate = nil
	}

	res, err := rt.chat(p, cb).Regenerate(ctx, conv)
	if err != nil {
		return err
	}
	rt.tracker.RecordResult("regenerate "+conv.Title, res)
	rt.save(conv)

	ans := answerOf(p.Model.Name(), conv.ID, res)
	if streaming {
		printer.finish()
		fmt.Fprintln(cmd.ErrOrStderr(), ans.stats())
		return resultErr(res)
	}
	if err := render(out, a.format, "regenerate", ans, func(io.Writer) error { return nil }); err != nil {
		return err
	}
	return resultErr(res)
}
