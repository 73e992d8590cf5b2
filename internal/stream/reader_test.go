// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lines(items ...string) Producer[string] {
	return func(ctx context.Context, emit func(string) bool) error {
		for _, it := range items {
			if !emit(it) {
				return ctx.Err()
			}
		}
		return nil
	}
}

func decodeString(s string) (Event, error) {
	return DecodeSSE([]byte(s))
}

func TestReader_NextSkipsAndEnds(t *testing.T) {
	ctx := context.Background()
	r := NewReader(ctx, lines(
		": ping",
		`data: {"choices":[{"delta":{"content":"a"}}]}`,
		`data: {"choices":[{"delta":{"content":"b"},"finish_reason":"stop"}]}`,
	), decodeString, nil)
	defer r.Close()

	ev, err := r.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, Chunk{Content: "a"}, ev)

	ev, err = r.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "stop", ev.(Chunk).FinishReason)

	_, err = r.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
	assert.NoError(t, r.Err())
}

func TestReader_UnexpectedShapeFallsBackToText(t *testing.T) {
	ctx := context.Background()
	raw := func(s string) string { return s }
	decode := func(s string) (Event, error) {
		if s == "" {
			return nil, ErrSkip
		}
		if s[0] == '{' {
			return Decode([]byte(s))
		}
		return nil, ErrUnexpectedShape
	}
	r := NewReader(ctx, lines("plain one", "", "plain two"), decode, raw)
	defer r.Close()

	_, err := r.Next(ctx)
	require.ErrorIs(t, err, ErrUnexpectedShape)

	ev, err := r.NextLenient(ctx)
	require.NoError(t, err)
	assert.Equal(t, Chunk{Content: "plain one"}, ev)

	ev, err = r.NextLenient(ctx)
	require.NoError(t, err)
	assert.Equal(t, Chunk{Content: "plain two"}, ev)

	_, err = r.NextLenient(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReader_LenientKeepsEventsAndDropsUnknownJSON(t *testing.T) {
	ctx := context.Background()
	raw := func(s string) string { return s }
	r := NewReader(ctx, lines(
		`{"choices":[{"delta":{"content":"Hel"}}]}`,
		`{"id":"weird"}`,
		`plain`,
		`{"error":{"message":"upstream exploded"}}`,
	), func(s string) (Event, error) { return Decode([]byte(s)) }, raw)
	defer r.Close()

	ev, err := r.NextLenient(ctx)
	require.NoError(t, err)
	assert.Equal(t, Chunk{Content: "Hel"}, ev)

	// the unknown object is dropped rather than shown as content
	ev, err = r.NextLenient(ctx)
	require.NoError(t, err)
	assert.Equal(t, Chunk{Content: "plain"}, ev)

	ev, err = r.NextLenient(ctx)
	require.NoError(t, err)
	ch, ok := ev.(Chunk)
	require.True(t, ok)
	require.NotNil(t, ch.Error)

	_, err = r.NextLenient(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReader_ProducerError(t *testing.T) {
	boom := errors.New("connection reset")
	ctx := context.Background()
	r := NewReader(ctx, func(ctx context.Context, emit func(string) bool) error {
		emit(`data: {"choices":[{"delta":{"content":"x"}}]}`)
		return boom
	}, decodeString, nil)
	defer r.Close()

	_, err := r.Next(ctx)
	require.NoError(t, err)
	_, err = r.Next(ctx)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, r.Err(), boom)
}

func TestPump_CancelInterruptsRecv(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	p := NewPump(context.Background(), func(ctx context.Context, emit func(int) bool) error {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return ctx.Err()
	})
	defer p.Close()

	stop := errors.New("stopped by user")
	ctx, cancel := context.WithCancelCause(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel(stop)
	}()

	_, err := p.Recv(ctx)
	assert.ErrorIs(t, err, stop)
}
