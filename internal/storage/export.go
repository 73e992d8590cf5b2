// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/rigrun-stream/internal/model"
	"github.com/jeranaias/rigrun-stream/internal/util"
)

// =============================================================================
// SESSION LIST FORMATTING
// =============================================================================

// FormatList formats conversation metadata as a fixed-width table.
func FormatList(metas []ConversationMeta) string {
	if len(metas) == 0 {
		return "No conversations found."
	}

	var sb strings.Builder
	sb.WriteString(util.PadRight("ID", 14) + " " + util.PadRight("Updated", 16) + " " +
		util.PadRight("Msgs", 5) + " " + util.PadRight("Tokens", 7) + " Preview\n")
	sb.WriteString(strings.Repeat("-", 72) + "\n")

	for _, m := range metas {
		id := strings.TrimPrefix(m.ID, "conv_")
		sb.WriteString(util.PadRight(util.TruncateRunesNoEllipsis(id, 14), 14) + " " +
			util.PadRight(m.UpdatedAt.Format("2006-01-02 15:04"), 16) + " " +
			util.PadRight(fmt.Sprint(m.MessageCount), 5) + " " +
			util.PadRight(fmt.Sprint(m.Usage.TotalTokens), 7) + " " +
			util.TruncateWidth(m.Preview, 30) + "\n")
	}
	return sb.String()
}

// =============================================================================
// EXPORT
// =============================================================================

// ExportMarkdown renders the conversation with the active version of each
// message. Assistant turns with several versions note which one is shown.
func ExportMarkdown(conv *model.Conversation) string {
	var sb strings.Builder
	title := conv.Title
	if title == "" {
		title = conv.ID
	}
	sb.WriteString("# " + title + "\n\n")
	sb.WriteString("Created: " + conv.CreatedAt.Format(time.RFC3339) + "\n\n")
	sb.WriteString("---\n\n")

	for _, msg := range conv.Messages {
		header := "**" + msg.Role.DisplayName() + "**"
		if msg.Timestamp > 0 {
			header += " (" + time.UnixMilli(msg.Timestamp).Format("15:04") + ")"
		}
		if n := len(msg.Versions); n > 1 {
			header += fmt.Sprintf(" [version %d of %d]", msg.ActiveVersionIndex+1, n)
		}
		sb.WriteString(header + ":\n\n")
		if msg.Reasoning != "" {
			sb.WriteString("> " + strings.ReplaceAll(msg.Reasoning, "\n", "\n> ") + "\n\n")
		}
		sb.WriteString(msg.Content.Describe())
		sb.WriteString("\n\n---\n\n")
	}
	return sb.String()
}
