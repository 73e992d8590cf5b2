// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Error types and exit codes shared by every command.
//
// PATTERN:
//   - RunE always returns the error; nothing prints and returns nil
//   - Execute decides how the error is displayed and which exit code to use

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jeranaias/rigrun-stream/internal/completion"
	"github.com/jeranaias/rigrun-stream/internal/config"
	"github.com/jeranaias/rigrun-stream/internal/provider"
	"github.com/jeranaias/rigrun-stream/internal/storage"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess       = 0
	ExitGeneralError  = 1
	ExitUsageError    = 2
	ExitConfigError   = 3
	ExitAuthError     = 4
	ExitNetworkError  = 5
	ExitNotFoundError = 7
	ExitAborted       = 130
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// CommandError represents a failed command step with context.
type CommandError struct {
	Command string
	Action  string
	Err     error
}

func (e *CommandError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s failed", e.Command, e.Action)
	}
	return fmt.Sprintf("%s: %s: %v", e.Command, e.Action, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// UsageError is returned for bad flag values or arguments.
type UsageError struct {
	Field  string
	Value  string
	Reason string
}

func (e *UsageError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// NewCommandError wraps err with the command and the step that failed.
func NewCommandError(command, action string, err error) error {
	return &CommandError{Command: command, Action: action, Err: err}
}

// ErrUnsupportedFormat reports an output format outside supported.
func ErrUnsupportedFormat(format string, supported []string) error {
	return &UsageError{
		Field:  "format",
		Value:  format,
		Reason: "supported formats are " + strings.Join(supported, ", "),
	}
}

// =============================================================================
// DISPLAY
// =============================================================================

// DisplayError writes err to w, as a JSON envelope when jsonMode is set.
func DisplayError(w io.Writer, command string, err error, jsonMode bool) {
	if err == nil {
		return
	}
	if jsonMode {
		_ = writeJSON(w, NewJSONErrorResponse(command, err))
		return
	}
	fmt.Fprintf(w, "Error: %v\n", err)
}

// GetExitCode maps err to a process exit code.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var usageErr *UsageError
	var cfgErr config.ValidateErrors
	switch {
	case errors.Is(err, completion.ErrAborted), errors.Is(err, context.Canceled):
		return ExitAborted
	case errors.As(err, &usageErr), errors.Is(err, completion.ErrEmptyInput):
		return ExitUsageError
	case errors.As(err, &cfgErr), errors.Is(err, provider.ErrUnknownAPIType), errors.Is(err, completion.ErrNoModel):
		return ExitConfigError
	case errors.Is(err, completion.ErrNoCredential):
		return ExitAuthError
	case errors.Is(err, storage.ErrConversationNotFound):
		return ExitNotFoundError
	case errors.Is(err, context.DeadlineExceeded):
		return ExitNetworkError
	}

	lower := strings.ToLower(err.Error())
	if strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host") {
		return ExitNetworkError
	}
	return ExitGeneralError
}
