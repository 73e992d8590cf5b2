// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// =============================================================================
// PUMP
// =============================================================================

// Producer reads from a provider connection and hands each item to emit.
// emit returns false once the consumer has gone away; the producer should
// then return. Returning nil or io.EOF ends the stream normally.
type Producer[T any] func(ctx context.Context, emit func(T) bool) error

// Pump runs a Producer on its own goroutine so that a pending receive can be
// interrupted by context cancellation instead of waiting on a blocked read.
//
// A Pump has exactly one consumer.
type Pump[T any] struct {
	items    chan T
	cancel   context.CancelFunc
	err      error
	finished bool
}

// NewPump starts produce. Cancelling ctx or calling Close stops it.
func NewPump[T any](ctx context.Context, produce Producer[T]) *Pump[T] {
	ctx, cancel := context.WithCancel(ctx)
	p := &Pump[T]{
		items:  make(chan T, 64),
		cancel: cancel,
	}
	go func() {
		defer close(p.items)
		p.err = produce(ctx, func(v T) bool {
			select {
			case p.items <- v:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()
	return p
}

// Recv returns the next item, io.EOF at normal end, the producer's error on
// abnormal end, or the cancellation cause of ctx.
func (p *Pump[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	if p.finished {
		return zero, p.endErr()
	}
	select {
	case v, ok := <-p.items:
		if !ok {
			p.finished = true
			return zero, p.endErr()
		}
		return v, nil
	case <-ctx.Done():
		return zero, context.Cause(ctx)
	}
}

// Err returns the producer's terminal error once the stream has ended.
func (p *Pump[T]) Err() error {
	if !p.finished {
		return nil
	}
	if p.err == nil || errors.Is(p.err, io.EOF) {
		return nil
	}
	return p.err
}

// Close stops the producer. It is safe to call more than once.
func (p *Pump[T]) Close() error {
	p.cancel()
	return nil
}

func (p *Pump[T]) endErr() error {
	if err := p.Err(); err != nil {
		return err
	}
	return io.EOF
}

// =============================================================================
// READER
// =============================================================================

// Reader decodes pumped items into events, with a lenient mode that also
// passes plain text through as content.
type Reader[T any] struct {
	pump    *Pump[T]
	decode  func(T) (Event, error)
	raw     func(T) string
	pending []T
}

// NewReader creates a Reader. decode maps an item to an event (ErrSkip to
// ignore it); raw renders an undecodable item as text for NextLenient.
func NewReader[T any](ctx context.Context, produce Producer[T], decode func(T) (Event, error), raw func(T) string) *Reader[T] {
	return &Reader[T]{
		pump:   NewPump(ctx, produce),
		decode: decode,
		raw:    raw,
	}
}

// Next returns the next decoded event, skipping ErrSkip items. An item that
// does not decode is kept for NextLenient and its error is returned.
func (r *Reader[T]) Next(ctx context.Context) (Event, error) {
	for {
		item, err := r.pump.Recv(ctx)
		if err != nil {
			return nil, err
		}
		ev, err := r.decode(item)
		switch {
		case err == nil:
			return ev, nil
		case errors.Is(err, ErrSkip):
			continue
		default:
			r.pending = append(r.pending, item)
			return nil, err
		}
	}
}

// NextLenient continues a stream that Next could not decode. Decodable items
// yield their events unchanged, so provider errors and completion still
// reach the fold. Other items yield a Chunk carrying their raw text, except
// JSON values, which matched no known shape and are dropped.
func (r *Reader[T]) NextLenient(ctx context.Context) (Event, error) {
	for {
		var item T
		if len(r.pending) > 0 {
			item, r.pending = r.pending[0], r.pending[1:]
		} else {
			var err error
			if item, err = r.pump.Recv(ctx); err != nil {
				return nil, err
			}
		}

		ev, err := r.decode(item)
		if err == nil {
			return ev, nil
		}
		if errors.Is(err, ErrSkip) || r.raw == nil {
			continue
		}
		if text := r.raw(item); text != "" && !isJSON(text) {
			return Chunk{Content: text}, nil
		}
	}
}

func isJSON(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" || (t[0] != '{' && t[0] != '[') {
		return false
	}
	return json.Valid([]byte(t))
}

// Err returns the transport error that ended the stream, if any.
func (r *Reader[T]) Err() error {
	return r.pump.Err()
}

// Close stops the underlying producer.
func (r *Reader[T]) Close() error {
	return r.pump.Close()
}

// TextOf returns the content text an event appends, or "".
func TextOf(ev Event) string {
	switch e := ev.(type) {
	case TextDelta:
		return e.Delta
	case Chunk:
		return e.Content
	}
	return ""
}
