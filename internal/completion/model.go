// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package completion

import (
	"context"

	"github.com/jeranaias/rigrun-stream/internal/cache"
	"github.com/jeranaias/rigrun-stream/internal/model"
	"github.com/jeranaias/rigrun-stream/internal/stream"
)

// Options are provider-neutral generation settings. Zero values leave the
// provider default in place.
type Options struct {
	Temperature     *float64
	ReasoningEffort string
	MaxTokens       int
}

// Model is a handle on one provider model.
type Model interface {
	// Name identifies the model, for metadata and metrics.
	Name() string

	// Stream starts a completion over history. Connection errors are
	// returned here; errors after the stream is established arrive through
	// the Stream.
	Stream(ctx context.Context, history []model.Message, opts Options) (Stream, error)
}

// Stream is an open provider stream.
//
// Next returns io.EOF after the last event. A Stream that meets an item it
// cannot decode returns stream.ErrUnexpectedShape or ErrEventsUnavailable
// from Next; NextLenient then continues from that item, yielding decoded
// events unchanged and plain text as content chunks.
type Stream interface {
	Next(ctx context.Context) (stream.Event, error)
	NextLenient(ctx context.Context) (stream.Event, error)
	// Err reports an error that ended the stream without being returned
	// by Next, if the implementation has such a side channel.
	Err() error
	Close() error
}

// SuccessRecorder is notified of the configuration behind each successful
// attempt. Record must not block.
type SuccessRecorder interface {
	Record(target cache.Target)
}
