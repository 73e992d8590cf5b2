// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package completion

import "errors"

// AbortedText is the content of the error message reported for a cancelled
// attempt.
const AbortedText = "request aborted"

// Sentinel errors.
var (
	// ErrAborted marks an attempt the caller cancelled.
	ErrAborted = errors.New(AbortedText)

	// ErrEventsUnavailable is returned by a Stream whose provider cannot
	// produce structured events; the orchestrator then reads plain text.
	ErrEventsUnavailable = errors.New("structured events unavailable")

	// ErrEmptyInput rejects a send with neither text nor images.
	ErrEmptyInput = errors.New("input is empty")

	// ErrNoModel rejects a send when no model is selected.
	ErrNoModel = errors.New("no model selected")

	// ErrNoCredential rejects a send to a provider that needs an API key
	// when none is configured.
	ErrNoCredential = errors.New("no API key configured")

	// ErrNothingToRegenerate is returned by Regenerate when the
	// conversation has no assistant turn.
	ErrNothingToRegenerate = errors.New("no assistant message to regenerate")
)

// RootCause returns the innermost error of err's chain. Single-error wrappers
// are followed through Unwrap; for joined errors the last element is taken,
// since transports that retry append the most recent failure last.
func RootCause(err error) error {
	for err != nil {
		switch x := err.(type) {
		case interface{ Unwrap() []error }:
			errs := x.Unwrap()
			if len(errs) == 0 || errs[len(errs)-1] == nil {
				return err
			}
			err = errs[len(errs)-1]
		case interface{ Unwrap() error }:
			next := x.Unwrap()
			if next == nil {
				return err
			}
			err = next
		default:
			return err
		}
	}
	return err
}
