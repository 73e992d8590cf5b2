// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package completion

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeranaias/rigrun-stream/internal/logging"
	"github.com/jeranaias/rigrun-stream/internal/metrics"
	"github.com/jeranaias/rigrun-stream/internal/model"
	"github.com/jeranaias/rigrun-stream/internal/stream"
)

// =============================================================================
// REQUEST AND RESULT
// =============================================================================

// Callbacks receive the progress of one attempt. Nil fields are skipped.
//
// Updates arrive on the attempt's goroutine, in order. OnMessageComplete is
// held back until the stream has ended cleanly and then fires once, right
// before OnFinish, with the terminal message. Exactly one of OnError and
// OnFinish is called per attempt, and an attempt that reports an error never
// reports a completed message.
type Callbacks struct {
	OnMessageUpdate   func(model.Message)
	OnMessageComplete func(model.Message)
	OnUsageUpdate     func(model.Usage)
	OnError           func(msg model.Message, err error)
	OnFinish          func(msg model.Message, usage *model.Usage)
}

// Request describes one streaming attempt.
type Request struct {
	Model   Model
	History []model.Message

	// Placeholder is the assistant message the attempt streams into. When
	// its ID is empty a fresh placeholder is created.
	Placeholder model.Message

	Options   Options
	Callbacks Callbacks
}

// Result is the terminal outcome of an attempt. Message is either the
// completed assistant message (Err nil) or an error-role message carrying
// the placeholder's ID.
type Result struct {
	Message model.Message
	Usage   *model.Usage
	Err     error

	// Aborted is set when the attempt was cancelled; Err is then ErrAborted.
	Aborted bool

	// Fallback is set when the attempt degraded to the plain-text path.
	Fallback bool
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator drives streaming attempts. It holds no per-attempt state and
// may start any number of attempts concurrently.
type Orchestrator struct {
	log *logging.Logger
	now func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the orchestrator's logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) { o.log = logging.OrNop(l) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(opts ...Option) *Orchestrator {
	o := &Orchestrator{log: logging.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.Named("completion")
	return o
}

// Attempt is a running streaming attempt.
type Attempt struct {
	cancel  context.CancelCauseFunc
	done    chan struct{}
	result  Result
	stopped atomic.Bool

	// mu serializes callback delivery with Cancel.
	mu         sync.Mutex
	inCallback atomic.Bool
}

// Cancel aborts the attempt. Once Cancel returns no further callback starts,
// and unless the attempt had already settled its outcome the result reports
// ErrAborted. Cancel may be called from inside a callback. Cancelling a
// finished attempt has no effect.
func (a *Attempt) Cancel() {
	a.stopped.Store(true)
	a.cancel(ErrAborted)
	if a.inCallback.Load() {
		return
	}
	// Wait out a delivery that passed its check before stopped was set.
	a.mu.Lock()
	a.mu.Unlock()
}

// deliver runs fn unless the attempt has been cancelled and reports whether
// it ran.
func (a *Attempt) deliver(ctx context.Context, fn func()) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped.Load() || ctx.Err() != nil {
		return false
	}
	a.callback(fn)
	return true
}

// callback runs fn with the delivery lock held (must hold lock).
func (a *Attempt) callback(fn func()) {
	a.inCallback.Store(true)
	defer a.inCallback.Store(false)
	fn()
}

// Done is closed when the attempt has reported its result.
func (a *Attempt) Done() <-chan struct{} {
	return a.done
}

// Wait blocks until the attempt ends and returns its result.
func (a *Attempt) Wait() Result {
	<-a.done
	return a.result
}

// Start launches an attempt on its own goroutine.
func (o *Orchestrator) Start(ctx context.Context, req Request) *Attempt {
	ctx, cancel := context.WithCancelCause(ctx)
	a := &Attempt{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(a.done)
		defer cancel(nil)
		a.result = o.run(ctx, a, req)
	}()
	return a
}

// Run starts an attempt and waits for it. Cancelling ctx aborts it.
func (o *Orchestrator) Run(ctx context.Context, req Request) Result {
	return o.Start(ctx, req).Wait()
}

// =============================================================================
// ATTEMPT LIFECYCLE
// =============================================================================

func (o *Orchestrator) run(ctx context.Context, a *Attempt, req Request) Result {
	start := o.now()
	cb := req.Callbacks

	name := ""
	if req.Model != nil {
		name = req.Model.Name()
	}
	metrics.StreamsStarted.WithLabelValues(name).Inc()
	log := o.log.With("model", name)

	placeholder := req.Placeholder
	if placeholder.ID == "" {
		placeholder = model.NewAssistantMessage(model.Metadata{Model: name})
	}
	placeholder = model.MergeMetadata(placeholder, model.Metadata{SentAt: start.UnixMilli()})

	if cb.OnMessageUpdate != nil {
		a.deliver(ctx, func() { cb.OnMessageUpdate(placeholder) })
	}

	// The chunk family completes at finish_reason, before trailing usage and
	// before the transport has ended, so completion is only recorded here.
	var completed bool
	parser := stream.NewParser(stream.Callbacks{
		OnMessageUpdate: func(m model.Message) {
			if cb.OnMessageUpdate != nil {
				a.deliver(ctx, func() { cb.OnMessageUpdate(m) })
			}
		},
		OnMessageComplete: func(model.Message) { completed = true },
		OnUsageUpdate: func(u model.Usage) {
			if cb.OnUsageUpdate != nil {
				a.deliver(ctx, func() { cb.OnUsageUpdate(u) })
			}
		},
	}, stream.WithClock(o.now))
	parser.Seed(placeholder)
	parser.SetSentTime(placeholder.Metadata.SentAt)

	var fallback bool
	err := ErrNoModel
	if req.Model != nil {
		err = o.consume(ctx, req, parser, &fallback, log)
	}
	if err == nil {
		err = parser.Err()
	}
	if err == nil && (a.stopped.Load() || ctx.Err() != nil) {
		err = context.Cause(ctx)
	}

	end := o.now()
	metrics.StreamDuration.WithLabelValues(name).Observe(end.Sub(start).Seconds())

	if err != nil {
		return o.fail(ctx, a, req, name, placeholder, err, fallback, end, log)
	}

	parser.Finish()
	msg, _ := parser.Message()

	res := Result{Message: msg, Fallback: fallback}
	if u, ok := parser.Usage(); ok {
		res.Usage = &u
	}

	// A Cancel that lands before this point turns the attempt into an abort;
	// one that lands after it has no effect.
	settled := a.deliver(ctx, func() {
		if completed && cb.OnMessageComplete != nil {
			cb.OnMessageComplete(msg)
		}
		if cb.OnFinish != nil {
			cb.OnFinish(msg, res.Usage)
		}
	})
	if !settled {
		err = context.Cause(ctx)
		if err == nil {
			err = ErrAborted
		}
		return o.fail(ctx, a, req, name, placeholder, err, fallback, end, log)
	}

	if res.Usage != nil {
		metrics.ObserveTokens(name, res.Usage.InputTokens, res.Usage.OutputTokens)
	}
	if md := msg.Metadata; md.FirstTokenAt > 0 && md.SentAt > 0 && md.FirstTokenAt >= md.SentAt {
		metrics.TimeToFirstToken.WithLabelValues(name).Observe(float64(md.FirstTokenAt-md.SentAt) / 1000)
	}
	metrics.StreamsEnded.WithLabelValues(name, metrics.OutcomeSuccess).Inc()

	kv := []interface{}{"duration", end.Sub(start), "fallback", fallback}
	if res.Usage != nil {
		kv = append(kv, "input_tokens", res.Usage.InputTokens, "output_tokens", res.Usage.OutputTokens)
	}
	log.Info("stream finished", kv...)
	return res
}

// consume opens the model stream and feeds it to the parser, switching to
// the lenient path when an item arrives that is not a structured event.
func (o *Orchestrator) consume(ctx context.Context, req Request, p *stream.Parser, fallback *bool, log *logging.Logger) error {
	s, err := req.Model.Stream(ctx, req.History, req.Options)
	if err != nil {
		return err
	}
	defer s.Close()

	for {
		ev, err := s.Next(ctx)
		switch {
		case err == nil:
			p.Handle(ev)
			continue
		case errors.Is(err, io.EOF):
			return s.Err()
		case errors.Is(err, stream.ErrSkip):
			continue
		case errors.Is(err, stream.ErrUnexpectedShape), errors.Is(err, ErrEventsUnavailable):
			log.Warn("structured events unavailable, reading plain text", "error", err)
			metrics.StreamFallbacks.WithLabelValues(req.Model.Name()).Inc()
			*fallback = true
			return consumeLenient(ctx, s, p)
		default:
			return err
		}
	}
}

// consumeLenient keeps folding events, including provider errors, while plain
// text arrives as content.
func consumeLenient(ctx context.Context, s Stream, p *stream.Parser) error {
	for {
		ev, err := s.NextLenient(ctx)
		if errors.Is(err, io.EOF) {
			return s.Err()
		}
		if err != nil {
			return err
		}
		p.Handle(ev)
	}
}

// fail builds the error outcome. Cancellation is reported as ErrAborted with
// a fixed text; anything else carries the innermost cause.
func (o *Orchestrator) fail(ctx context.Context, a *Attempt, req Request, name string, placeholder model.Message, err error, fallback bool, end time.Time, log *logging.Logger) Result {
	a.mu.Lock()
	defer a.mu.Unlock()

	aborted := a.stopped.Load() ||
		errors.Is(err, ErrAborted) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(ctx.Err(), context.Canceled)

	md := model.Metadata{
		SentAt:     placeholder.Metadata.SentAt,
		ReceivedAt: end.UnixMilli(),
		Model:      name,
		Preset:     placeholder.Metadata.Preset,
	}

	var text string
	outcome := metrics.OutcomeError
	if aborted {
		text = AbortedText
		outcome = metrics.OutcomeAborted
		log.Info("stream aborted")
		err = ErrAborted
	} else {
		text = RootCause(err).Error()
		log.Error("stream failed", "error", err)
	}
	metrics.StreamsEnded.WithLabelValues(name, outcome).Inc()

	msg := model.New(model.RoleError, model.Text(text), model.WithID(placeholder.ID), model.WithMetadata(md))
	if req.Callbacks.OnError != nil {
		a.callback(func() { req.Callbacks.OnError(msg, err) })
	}
	return Result{Message: msg, Err: err, Aborted: aborted, Fallback: fallback}
}
