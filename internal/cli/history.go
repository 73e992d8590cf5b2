// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-stream/internal/completion"
	"github.com/jeranaias/rigrun-stream/internal/model"
	"github.com/jeranaias/rigrun-stream/internal/provider"
	"github.com/jeranaias/rigrun-stream/internal/storage"
	"github.com/jeranaias/rigrun-stream/internal/util"
)

// messageView is a flattened message for json and yaml output.
type messageView struct {
	ID        string       `json:"id" yaml:"id"`
	Role      string       `json:"role" yaml:"role"`
	Content   string       `json:"content" yaml:"content"`
	Reasoning string       `json:"reasoning,omitempty" yaml:"reasoning,omitempty"`
	Model     string       `json:"model,omitempty" yaml:"model,omitempty"`
	Usage     *model.Usage `json:"usage,omitempty" yaml:"usage,omitempty"`
	Version   int          `json:"version,omitempty" yaml:"version,omitempty"`
	Versions  int          `json:"versions,omitempty" yaml:"versions,omitempty"`
}

type conversationView struct {
	storage.ConversationMeta `yaml:",inline"`
	Messages                 []messageView `json:"messages" yaml:"messages"`
}

func viewOf(conv *model.Conversation, meta storage.ConversationMeta) conversationView {
	v := conversationView{ConversationMeta: meta, Messages: make([]messageView, 0, len(conv.Messages))}
	for _, m := range conv.Messages {
		mv := messageView{
			ID:        m.ID,
			Role:      m.Role.String(),
			Content:   m.Content.PlainText(),
			Reasoning: m.Reasoning,
			Model:     m.Metadata.Model,
			Usage:     m.Metadata.Usage,
		}
		if len(m.Versions) > 1 {
			mv.Version = m.ActiveVersionIndex + 1
			mv.Versions = len(m.Versions)
		}
		v.Messages = append(v.Messages, mv)
	}
	return v
}

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "history",
		Aliases: []string{"hist"},
		Short:   "Browse saved conversations",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List saved conversations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.conversations()
			if err != nil {
				return err
			}
			metas, err := store.List()
			if err != nil {
				return err
			}
			return a.renderMetas(cmd, "history list", metas)
		},
	}

	search := &cobra.Command{
		Use:   "search <query>",
		Short: "Find conversations whose title or messages contain query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.conversations()
			if err != nil {
				return err
			}
			metas, err := store.Search(strings.Join(args, " "))
			if err != nil {
				return err
			}
			return a.renderMetas(cmd, "history search", metas)
		},
	}

	show := &cobra.Command{
		Use:   "show <id|index>",
		Short: "Print a conversation",
		Long:  "Show prints a saved conversation. The argument is an ID or a 1-based index from \"history list\".",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conv, err := a.loadConversation(args[0])
			if err != nil {
				return err
			}
			view := viewOf(conv, storage.MetaOf(conv))
			return render(cmd.OutOrStdout(), a.format, "history show", view, func(w io.Writer) error {
				_, err := io.WriteString(w, storage.ExportMarkdown(conv))
				return err
			})
		},
	}

	var outPath string
	export := &cobra.Command{
		Use:   "export <id|index>",
		Short: "Export a conversation as Markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conv, err := a.loadConversation(args[0])
			if err != nil {
				return err
			}
			md := storage.ExportMarkdown(conv)
			if outPath == "" {
				_, err := io.WriteString(cmd.OutOrStdout(), md)
				return err
			}
			if err := util.WritePrivateFile(outPath, []byte(md)); err != nil {
				return NewCommandError("history export", "write file", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Exported %s to %s\n", conv.ID, outPath)
			return nil
		},
	}
	export.Flags().StringVarP(&outPath, "output", "o", "", "write to a file instead of stdout")

	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a saved conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.conversations()
			if err != nil {
				return err
			}
			if err := store.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}

	retitle := &cobra.Command{
		Use:   "retitle <id|index>",
		Short: "Ask the model for a short title for a conversation",
		Long:  "Retitle summarizes the first user message with the configured model and saves the result as the title.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conv, err := a.loadConversation(args[0])
			if err != nil {
				return err
			}
			var first string
			for _, m := range conv.Messages {
				if m.Role == model.RoleUser {
					first = m.Content.PlainText()
					break
				}
			}
			if strings.TrimSpace(first) == "" {
				return &UsageError{Field: "conversation", Value: args[0], Reason: "has no user message to summarize"}
			}

			p, err := provider.New(a.cfg.Provider, a.log)
			if err != nil {
				return err
			}
			rt, err := a.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			title, err := summarizeInto(cmd.Context(), rt.chat(p, completion.Callbacks{}), conv, first)
			if err != nil {
				return NewCommandError("history retitle", "summarize", err)
			}
			if _, err := rt.store.Save(conv); err != nil {
				return NewCommandError("history retitle", "save", err)
			}
			data := map[string]string{"id": conv.ID, "title": title}
			return render(cmd.OutOrStdout(), a.format, "history retitle", data, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, title)
				return err
			})
		},
	}

	var yes bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every saved conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return &UsageError{Field: "confirmation", Reason: "pass --yes to delete all conversations"}
			}
			store, err := a.conversations()
			if err != nil {
				return err
			}
			if err := store.Clear(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "All conversations deleted.")
			return nil
		},
	}
	clearCmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm deletion")

	cmd.AddCommand(list, search, show, export, retitle, del, clearCmd)
	return cmd
}

func (a *app) renderMetas(cmd *cobra.Command, command string, metas []storage.ConversationMeta) error {
	if metas == nil {
		metas = []storage.ConversationMeta{}
	}
	return render(cmd.OutOrStdout(), a.format, command, metas, func(w io.Writer) error {
		_, err := fmt.Fprintln(w, strings.TrimRight(storage.FormatList(metas), "\n"))
		return err
	})
}

// loadConversation resolves ref as a 1-based list index when it is a number,
// otherwise as an ID.
func (a *app) loadConversation(ref string) (*model.Conversation, error) {
	store, err := a.conversations()
	if err != nil {
		return nil, err
	}
	if n, err := strconv.Atoi(ref); err == nil && n > 0 {
		return store.LoadByIndex(n - 1)
	}
	return store.Load(ref)
}
