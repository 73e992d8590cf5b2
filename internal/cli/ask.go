// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - One-shot questions, optionally fanned out to several models.

package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/rigrun-stream/internal/model"
	"github.com/jeranaias/rigrun-stream/internal/provider"
)

type askOptions struct {
	models       []string
	images       []string
	conversation string
	noSave       bool
}

func newAskCmd(a *app) *cobra.Command {
	opts := &askOptions{}
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question and stream the answer",
		Long: `Ask sends one question and streams the reply as it arrives.

Pass "-" as the question to read it from stdin. Repeat --model to ask
several models at once; their answers are printed when all have finished
and each is saved as its own conversation.`,
		Example: `  rigstream ask "what does errgroup do?"
  rigstream ask -m llama3:8b -m qwen2.5:7b "compare these"
  git diff | rigstream ask -`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			if question == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return NewCommandError("ask", "read stdin", err)
				}
				question = string(data)
			}
			return a.runAsk(cmd, opts, question)
		},
	}
	cmd.Flags().StringArrayVarP(&opts.models, "model", "m", nil, "model to ask (repeat to compare models)")
	cmd.Flags().StringArrayVar(&opts.images, "image", nil, "image URL or data URL to attach")
	cmd.Flags().StringVarP(&opts.conversation, "continue", "c", "", "continue a saved conversation by ID")
	cmd.Flags().BoolVar(&opts.noSave, "no-save", false, "do not save the conversation")
	return cmd
}

func (a *app) runAsk(cmd *cobra.Command, opts *askOptions, question string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a.serveMetrics(ctx)

	base, err := provider.New(a.cfg.Provider, a.log)
	if err != nil {
		return err
	}
	rt, err := a.openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	conv, err := rt.conversation(opts.conversation)
	if err != nil {
		return err
	}

	models := opts.models
	if len(models) == 0 {
		models = []string{""}
	}
	single := len(models) == 1
	streaming := single && (a.format == "" || a.format == formatText)
	out := cmd.OutOrStdout()

	answers := make([]answer, len(models))
	errs := make([]error, len(models))
	convs := make([]*model.Conversation, len(models))

	// Attempts run side by side; a failed attempt does not cancel the others.
	var g errgroup.Group
	for i, name := range models {
		i, name := i, name
		g.Go(func() error {
			p, err := base.WithModel(a.cfg.Provider, name, a.log)
			if err != nil {
				return err
			}

			c := conv
			if !single {
				c = conv.Clone()
				if i > 0 {
					c.ID = "conv_" + uuid.NewString()
				}
			}
			convs[i] = c

			printer := newStreamPrinter(out)
			cb := printer.callbacks()
			if !streaming {
				cb.OnMessageUpdate = nil
			}

			chat := rt.chat(p, cb)
			res, err := chat.Send(ctx, c, question, opts.images)
			if err != nil {
				return err
			}
			if streaming {
				printer.finish()
			}
			if !opts.noSave {
				rt.retitle(ctx, chat, c, res)
			}

			rt.tracker.RecordResult(question, res)
			answers[i] = answerOf(p.Model.Name(), c.ID, res)
			errs[i] = resultErr(res)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if !opts.noSave {
		for _, c := range convs {
			rt.save(c)
		}
	}

	if streaming {
		fmt.Fprintln(cmd.ErrOrStderr(), answers[0].stats())
		return firstErr(errs)
	}

	var data interface{} = answers
	if single {
		data = answers[0]
	}
	if err := render(out, a.format, "ask", data, func(w io.Writer) error {
		for i, ans := range answers {
			if i > 0 {
				fmt.Fprintln(w)
			}
			fmt.Fprintf(w, "=== %s ===\n%s\n%s\n", ans.Model, ans.Content, ans.stats())
		}
		return nil
	}); err != nil {
		return err
	}
	return firstErr(errs)
}
