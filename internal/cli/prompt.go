// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// prompt.go - Line input for the interactive chat.

package cli

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"golang.org/x/term"

	"github.com/jeranaias/rigrun-stream/internal/config"
	"github.com/jeranaias/rigrun-stream/internal/util"
)

const (
	chatPrompt      = "> "
	historyFileName = "chat_history"
	maxLineBytes    = 1024 * 1024
)

// lineReader reads one chat line at a time. ReadLine returns io.EOF when the
// user is done, including after Ctrl+C at an empty prompt.
type lineReader interface {
	ReadLine(prompt string) (string, error)
	Close() error
}

// newLineReader uses line editing with history when in is the terminal and
// plain line scanning otherwise, so piped input and tests behave the same.
func newLineReader(in io.Reader, out io.Writer) lineReader {
	if f, ok := in.(*os.File); ok && f == os.Stdin && term.IsTerminal(int(f.Fd())) {
		return newLinerReader()
	}
	s := bufio.NewScanner(in)
	s.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &scanReader{scanner: s, out: out}
}

// =============================================================================
// TERMINAL
// =============================================================================

// linerReader provides arrow-key history and line editing.
type linerReader struct {
	line        *liner.State
	historyFile string
}

func newLinerReader() *linerReader {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.ConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	r := &linerReader{line: line, historyFile: filepath.Join(dir, historyFileName)}
	if f, err := os.Open(r.historyFile); err == nil {
		r.line.ReadHistory(f)
		f.Close()
	}
	return r
}

func (r *linerReader) ReadLine(prompt string) (string, error) {
	input, err := r.line.Prompt(prompt)
	if errors.Is(err, liner.ErrPromptAborted) {
		return "", io.EOF
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

// Close saves history with owner-only permissions and restores the terminal.
func (r *linerReader) Close() error {
	defer r.line.Close()

	var buf bytes.Buffer
	if _, err := r.line.WriteHistory(&buf); err != nil {
		return err
	}
	return util.WritePrivateFile(r.historyFile, buf.Bytes())
}

// =============================================================================
// PIPED INPUT
// =============================================================================

type scanReader struct {
	scanner *bufio.Scanner
	out     io.Writer
}

func (r *scanReader) ReadLine(prompt string) (string, error) {
	fmt.Fprint(r.out, prompt)
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return r.scanner.Text(), nil
}

func (r *scanReader) Close() error { return nil }
