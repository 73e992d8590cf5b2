// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// replay.go - Fold a captured event stream offline.

package cli

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-stream/internal/model"
	"github.com/jeranaias/rigrun-stream/internal/ollama"
	"github.com/jeranaias/rigrun-stream/internal/stream"
)

// replayResult is what a captured stream folds into.
type replayResult struct {
	Events        int          `json:"events" yaml:"events"`
	Skipped       int          `json:"skipped" yaml:"skipped"`
	Notifications int          `json:"notifications" yaml:"notifications"`
	Completed     bool         `json:"completed" yaml:"completed"`
	Model         string       `json:"model,omitempty" yaml:"model,omitempty"`
	Content       string       `json:"content" yaml:"content"`
	Reasoning     string       `json:"reasoning,omitempty" yaml:"reasoning,omitempty"`
	Usage         *model.Usage `json:"usage,omitempty" yaml:"usage,omitempty"`
	Error         string       `json:"error,omitempty" yaml:"error,omitempty"`
}

func newReplayCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <file>",
		Short: "Fold a captured provider stream into its final message",
		Long: `Replay reads a captured stream and prints the message it produces.

The file may hold Server-Sent Events ("data: {...}" lines) from either
the responses or chat-completions protocol, or Ollama NDJSON lines.
Use "-" to read from stdin.`,
		Example: `  curl -sN .../chat/completions -d @req.json > capture.sse
  rigstream replay capture.sse --format yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return NewCommandError("replay", "open capture", err)
				}
				defer f.Close()
				r = f
			}

			res, err := replayStream(r)
			if err != nil {
				return NewCommandError("replay", "read capture", err)
			}
			return render(cmd.OutOrStdout(), a.format, "replay", res, func(w io.Writer) error {
				fmt.Fprintln(w, res.Content)
				fmt.Fprintf(w, "[%d events, %d skipped, completed=%t]\n", res.Events, res.Skipped, res.Completed)
				if res.Error != "" {
					fmt.Fprintf(w, "provider error: %s\n", res.Error)
				}
				return nil
			})
		},
	}
}

// replayStream decodes every line of r and folds the events in order.
func replayStream(r io.Reader) (replayResult, error) {
	var (
		events []stream.Event
		res    replayResult
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), stream.MaxEventSize)
	for scanner.Scan() {
		ev, err := decodeCaptured(scanner.Bytes())
		switch {
		case err == nil:
			events = append(events, ev)
		case errors.Is(err, stream.ErrDone):
		case errors.Is(err, stream.ErrSkip):
			if len(bytes.TrimSpace(scanner.Bytes())) > 0 {
				res.Skipped++
			}
		default:
			res.Skipped++
		}
	}
	if err := scanner.Err(); err != nil {
		return res, err
	}

	state, notes := stream.Replay(stream.State{}, events, time.Now)
	state, tail := stream.Finish(state, time.Now())

	res.Events = len(events)
	res.Notifications = len(notes) + len(tail)
	res.Completed = state.Completed
	res.Model = state.Model
	res.Content = state.Message.Content.PlainText()
	res.Reasoning = state.Message.Reasoning
	if state.HasUsage {
		u := state.Usage
		res.Usage = &u
	}
	if state.Failure != nil {
		res.Error = state.Failure.Error()
	}
	return res, nil
}

// decodeCaptured classifies one captured line: an SSE field, a raw JSON
// event of either family, or an Ollama NDJSON chunk.
func decodeCaptured(line []byte) (stream.Event, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return stream.DecodeSSE(line)
	}
	ev, err := stream.Decode(line)
	if errors.Is(err, stream.ErrUnexpectedShape) {
		return ollama.DecodeLine(line)
	}
	return ev, err
}
