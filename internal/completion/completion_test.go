// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package completion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/rigrun-stream/internal/cache"
	"github.com/jeranaias/rigrun-stream/internal/model"
	"github.com/jeranaias/rigrun-stream/internal/stream"
)

// =============================================================================
// FAKES
// =============================================================================

type fakeModel struct {
	name string
	open func(ctx context.Context) (Stream, error)

	mu      sync.Mutex
	history []model.Message
}

func (m *fakeModel) Name() string { return m.name }

func (m *fakeModel) Stream(ctx context.Context, history []model.Message, _ Options) (Stream, error) {
	m.mu.Lock()
	m.history = history
	m.mu.Unlock()
	return m.open(ctx)
}

func identity(e stream.Event) (stream.Event, error) { return e, nil }

// eventsModel streams evs and then ends with tail (nil for a clean end).
func eventsModel(tail error, evs ...stream.Event) *fakeModel {
	return &fakeModel{name: "test-model", open: func(ctx context.Context) (Stream, error) {
		return stream.NewReader(ctx, func(ctx context.Context, emit func(stream.Event) bool) error {
			for _, e := range evs {
				if !emit(e) {
					return ctx.Err()
				}
			}
			return tail
		}, identity, stream.TextOf), nil
	}}
}

// rawModel streams raw payloads through the wire decoder.
func rawModel(items ...string) *fakeModel {
	return &fakeModel{name: "raw-model", open: func(ctx context.Context) (Stream, error) {
		return stream.NewReader(ctx, func(ctx context.Context, emit func([]byte) bool) error {
			for _, it := range items {
				if !emit([]byte(it)) {
					return ctx.Err()
				}
			}
			return nil
		}, stream.Decode, func(b []byte) string { return string(b) }), nil
	}}
}

// blockingModel emits first and then waits for cancellation.
func blockingModel(first ...stream.Event) *fakeModel {
	return &fakeModel{name: "slow-model", open: func(ctx context.Context) (Stream, error) {
		return stream.NewReader(ctx, func(ctx context.Context, emit func(stream.Event) bool) error {
			for _, e := range first {
				emit(e)
			}
			<-ctx.Done()
			return ctx.Err()
		}, identity, stream.TextOf), nil
	}}
}

func failingModel(err error) *fakeModel {
	return &fakeModel{name: "down-model", open: func(context.Context) (Stream, error) {
		return nil, err
	}}
}

type events struct {
	mu        sync.Mutex
	order     []string
	updates   []model.Message
	completes []model.Message
	finished  []model.Message
	usage     *model.Usage
	errMsgs   []model.Message
	errs      []error
}

func (e *events) callbacks() Callbacks {
	return Callbacks{
		OnMessageUpdate: func(m model.Message) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.updates = append(e.updates, m)
			e.order = append(e.order, "update")
		},
		OnMessageComplete: func(m model.Message) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.completes = append(e.completes, m)
			e.order = append(e.order, "complete")
		},
		OnError: func(m model.Message, err error) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.errMsgs = append(e.errMsgs, m)
			e.errs = append(e.errs, err)
			e.order = append(e.order, "error")
		},
		OnFinish: func(m model.Message, u *model.Usage) {
			e.mu.Lock()
			defer e.mu.Unlock()
			e.finished = append(e.finished, m)
			e.usage = u
			e.order = append(e.order, "finish")
		},
	}
}

func chunkEvents(parts ...string) []stream.Event {
	var evs []stream.Event
	for _, p := range parts {
		evs = append(evs, stream.Chunk{Content: p})
	}
	evs = append(evs,
		stream.Chunk{FinishReason: "stop"},
		stream.Chunk{Usage: stream.Ints(10, 20, 30)},
	)
	return evs
}

// =============================================================================
// ORCHESTRATOR TESTS
// =============================================================================

func TestRun_ChunkFamilySuccess(t *testing.T) {
	rec := &events{}
	o := NewOrchestrator()

	res := o.Run(context.Background(), Request{
		Model:     eventsModel(nil, chunkEvents("Hel", "lo")...),
		Callbacks: rec.callbacks(),
	})

	require.NoError(t, res.Err)
	assert.False(t, res.Aborted)
	assert.False(t, res.Fallback)
	assert.Equal(t, model.RoleAssistant, res.Message.Role)
	assert.Equal(t, "Hello", res.Message.Content.PlainText())
	require.NotNil(t, res.Usage)
	assert.Equal(t, model.Usage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30}, *res.Usage)

	// the placeholder is the first update, before any token
	require.NotEmpty(t, rec.updates)
	assert.Equal(t, "", rec.updates[0].Content.PlainText())
	assert.Equal(t, rec.updates[0].ID, res.Message.ID)

	assert.Len(t, rec.completes, 1)
	require.Len(t, rec.finished, 1)
	assert.Empty(t, rec.errs)
	assert.Equal(t, "finish", rec.order[len(rec.order)-1])
	assert.True(t, model.InSync(res.Message))
}

func TestRun_ResponsesFamilySuccess(t *testing.T) {
	rec := &events{}
	res := NewOrchestrator().Run(context.Background(), Request{
		Model: eventsModel(nil,
			stream.ResponseCreated{Model: "gpt-4.1"},
			stream.OutputItemAdded{ItemID: "m1", ItemType: "message"},
			stream.TextDelta{Delta: "Hi "},
			stream.TextDelta{Delta: "there"},
			stream.OutputItemDone{ItemID: "m1", ItemType: "message"},
			stream.ResponseCompleted{Usage: stream.Ints(3, 2, 5)},
		),
		Callbacks: rec.callbacks(),
	})

	require.NoError(t, res.Err)
	assert.Equal(t, "Hi there", res.Message.Content.PlainText())
	md := res.Message.Metadata
	assert.LessOrEqual(t, md.FirstTokenAt, md.ReceivedAt)
	assert.Len(t, rec.completes, 1)
	require.NotNil(t, rec.usage)
	assert.Equal(t, 5, rec.usage.TotalTokens)
}

func TestStart_CancelBeforeFirstToken(t *testing.T) {
	rec := &events{}
	placeholderSeen := make(chan struct{}, 1)
	cb := rec.callbacks()
	onUpdate := cb.OnMessageUpdate
	cb.OnMessageUpdate = func(m model.Message) {
		onUpdate(m)
		select {
		case placeholderSeen <- struct{}{}:
		default:
		}
	}

	a := NewOrchestrator().Start(context.Background(), Request{
		Model:     blockingModel(),
		Callbacks: cb,
	})

	select {
	case <-placeholderSeen:
	case <-time.After(2 * time.Second):
		t.Fatal("placeholder was not emitted")
	}
	rec.mu.Lock()
	updatesBefore := len(rec.updates)
	rec.mu.Unlock()

	a.Cancel()
	res := a.Wait()

	assert.True(t, res.Aborted)
	assert.ErrorIs(t, res.Err, ErrAborted)
	assert.Equal(t, model.RoleError, res.Message.Role)
	assert.Equal(t, AbortedText, res.Message.Content.PlainText())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, updatesBefore, len(rec.updates), "no updates after cancel")
	assert.Empty(t, rec.finished)
	assert.Len(t, rec.errs, 1)
}

func TestStart_CancelMidStream(t *testing.T) {
	rec := &events{}
	a := NewOrchestrator().Start(context.Background(), Request{
		Model:     blockingModel(stream.Chunk{Content: "partial"}),
		Callbacks: rec.callbacks(),
	})

	time.Sleep(20 * time.Millisecond)
	a.Cancel()

	select {
	case <-a.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("attempt did not stop after cancel")
	}
	res := a.Wait()
	assert.True(t, res.Aborted)
	assert.Empty(t, rec.completes)
}

func TestRun_ParentContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	res := NewOrchestrator().Run(ctx, Request{Model: blockingModel()})
	assert.True(t, res.Aborted)
	assert.ErrorIs(t, res.Err, ErrAborted)
}

func TestRun_DeadlineIsAnError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	res := NewOrchestrator().Run(ctx, Request{Model: blockingModel()})
	assert.False(t, res.Aborted)
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
	assert.Equal(t, model.RoleError, res.Message.Role)
}

func TestRun_SideChannelErrorFailsAttempt(t *testing.T) {
	rec := &events{}
	res := NewOrchestrator().Run(context.Background(), Request{
		Model:     eventsModel(errors.New("connection reset by peer"), stream.Chunk{Content: "par"}),
		Callbacks: rec.callbacks(),
	})

	require.Error(t, res.Err)
	assert.False(t, res.Aborted)
	assert.Equal(t, model.RoleError, res.Message.Role)
	assert.Equal(t, "connection reset by peer", res.Message.Content.PlainText())
	assert.Empty(t, rec.finished)
	assert.Len(t, rec.errs, 1)
}

func TestRun_ProviderErrorEventFailsAttempt(t *testing.T) {
	res := NewOrchestrator().Run(context.Background(), Request{
		Model: eventsModel(nil,
			stream.TextDelta{Delta: "so far"},
			stream.ResponseFailed{Code: "server_error", Message: "model overloaded"},
		),
	})

	require.Error(t, res.Err)
	assert.Contains(t, res.Message.Content.PlainText(), "model overloaded")
}

func TestRun_InnermostCauseSurfaced(t *testing.T) {
	inner := errors.New("dial tcp 10.0.0.1:443: connect: connection refused")
	wrapped := fmt.Errorf("max retries exceeded: %w", errors.Join(errors.New("first failure"), inner))

	placeholder := model.NewAssistantMessage(model.Metadata{Preset: "openai"})
	res := NewOrchestrator().Run(context.Background(), Request{
		Model:       failingModel(wrapped),
		Placeholder: placeholder,
	})

	assert.Equal(t, inner.Error(), res.Message.Content.PlainText())
	assert.Equal(t, placeholder.ID, res.Message.ID)
	assert.Equal(t, "openai", res.Message.Metadata.Preset)
	assert.ErrorIs(t, res.Err, inner)
}

func TestRun_TextFallback(t *testing.T) {
	rec := &events{}
	res := NewOrchestrator().Run(context.Background(), Request{
		Model:     rawModel("plain words", " and more"),
		Callbacks: rec.callbacks(),
	})

	require.NoError(t, res.Err)
	assert.True(t, res.Fallback)
	assert.Equal(t, "plain words and more", res.Message.Content.PlainText())
	assert.NotZero(t, res.Message.Metadata.FirstTokenAt)
	assert.Len(t, rec.completes, 1)
	assert.Len(t, rec.finished, 1)
}

func TestRun_ErrorAfterFallbackFailsAttempt(t *testing.T) {
	rec := &events{}
	res := NewOrchestrator().Run(context.Background(), Request{
		Model: rawModel(
			`{"choices":[{"delta":{"content":"Hel"}}]}`,
			`{"id":"weird"}`,
			`{"choices":[{"delta":{"content":"lo"}}]}`,
			`{"error":{"message":"upstream exploded"}}`,
		),
		Callbacks: rec.callbacks(),
	})

	require.Error(t, res.Err)
	assert.True(t, res.Fallback)
	assert.Equal(t, model.RoleError, res.Message.Role)
	assert.Contains(t, res.Message.Content.PlainText(), "upstream exploded")
	for _, u := range rec.updates {
		assert.NotContains(t, u.Content.PlainText(), "weird")
	}
	assert.Empty(t, rec.completes)
	assert.Empty(t, rec.finished)
	assert.Len(t, rec.errs, 1)
}

func TestRun_FallbackKeepsStructuredEvents(t *testing.T) {
	res := NewOrchestrator().Run(context.Background(), Request{
		Model: rawModel(
			`{"choices":[{"delta":{"content":"Hel"}}]}`,
			`{"id":"weird"}`,
			`{"choices":[{"delta":{"content":"lo"},"finish_reason":"stop"}]}`,
			`{"choices":[],"usage":{"prompt_tokens":4,"completion_tokens":2,"total_tokens":6}}`,
		),
	})

	require.NoError(t, res.Err)
	assert.True(t, res.Fallback)
	assert.Equal(t, "Hello", res.Message.Content.PlainText())
	require.NotNil(t, res.Usage)
	assert.Equal(t, 6, res.Usage.TotalTokens)
}

func TestRun_TransportErrorAfterFinishReason(t *testing.T) {
	rec := &events{}
	res := NewOrchestrator().Run(context.Background(), Request{
		Model: eventsModel(errors.New("connection reset"),
			stream.Chunk{Content: "hi"},
			stream.Chunk{FinishReason: "stop"},
		),
		Callbacks: rec.callbacks(),
	})

	require.Error(t, res.Err)
	assert.Equal(t, model.RoleError, res.Message.Role)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Empty(t, rec.completes, "a failed attempt never reports completion")
	assert.Empty(t, rec.finished)
	assert.Len(t, rec.errs, 1)
	assert.Equal(t, "error", rec.order[len(rec.order)-1])
}

func TestRun_CompletionCarriesTrailingUsage(t *testing.T) {
	rec := &events{}
	res := NewOrchestrator().Run(context.Background(), Request{
		Model:     eventsModel(nil, chunkEvents("a", "b")...),
		Callbacks: rec.callbacks(),
	})
	require.NoError(t, res.Err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.completes, 1)
	assert.Equal(t, res.Message, rec.completes[0])
	n := len(rec.order)
	assert.Equal(t, []string{"complete", "finish"}, rec.order[n-2:])
}

func TestStart_CancelFromCallback(t *testing.T) {
	rec := &events{}
	var a *Attempt
	started := make(chan struct{})
	cb := rec.callbacks()
	onUpdate := cb.OnMessageUpdate
	cb.OnMessageUpdate = func(m model.Message) {
		onUpdate(m)
		if m.Content.PlainText() != "" {
			<-started
			a.Cancel()
		}
	}

	a = NewOrchestrator().Start(context.Background(), Request{
		Model:     eventsModel(nil, chunkEvents("one", "two", "three")...),
		Callbacks: cb,
	})
	close(started)

	select {
	case <-a.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("cancel from a callback did not stop the attempt")
	}
	res := a.Wait()

	assert.True(t, res.Aborted)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for _, u := range rec.updates {
		assert.NotContains(t, u.Content.PlainText(), "two", "no update after cancel")
	}
	assert.Empty(t, rec.completes)
	assert.Empty(t, rec.finished)
	assert.Len(t, rec.errs, 1)
}

func TestStart_CancelAfterFinishHasNoEffect(t *testing.T) {
	rec := &events{}
	a := NewOrchestrator().Start(context.Background(), Request{
		Model:     eventsModel(nil, chunkEvents("done")...),
		Callbacks: rec.callbacks(),
	})
	res := a.Wait()
	a.Cancel()

	require.NoError(t, res.Err)
	assert.False(t, a.Wait().Aborted)
	assert.Len(t, rec.finished, 1)
	assert.Empty(t, rec.errs)
}

func TestRun_EventsUnavailableFallback(t *testing.T) {
	m := &fakeModel{name: "text-only", open: func(ctx context.Context) (Stream, error) {
		return &textOnlyStream{chunks: []string{"a", "b"}}, nil
	}}
	res := NewOrchestrator().Run(context.Background(), Request{Model: m})

	require.NoError(t, res.Err)
	assert.True(t, res.Fallback)
	assert.Equal(t, "ab", res.Message.Content.PlainText())
}

type textOnlyStream struct {
	chunks []string
}

func (s *textOnlyStream) Next(context.Context) (stream.Event, error) {
	return nil, ErrEventsUnavailable
}

func (s *textOnlyStream) NextLenient(context.Context) (stream.Event, error) {
	if len(s.chunks) == 0 {
		return nil, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return stream.Chunk{Content: c}, nil
}

func (s *textOnlyStream) Err() error   { return nil }
func (s *textOnlyStream) Close() error { return nil }

func TestRun_ConcurrentAttemptsAreIndependent(t *testing.T) {
	o := NewOrchestrator()
	var wg sync.WaitGroup
	results := make([]Result, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = o.Run(context.Background(), Request{
				Model: eventsModel(nil, chunkEvents(fmt.Sprintf("reply-%d", i))...),
			})
		}(i)
	}
	wg.Wait()

	for i, r := range results {
		require.NoError(t, r.Err)
		assert.Equal(t, fmt.Sprintf("reply-%d", i), r.Message.Content.PlainText())
	}
}

// =============================================================================
// ROOT CAUSE TESTS
// =============================================================================

func TestRootCause(t *testing.T) {
	base := errors.New("base")
	last := errors.New("last")

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"nil", nil, nil},
		{"plain", base, base},
		{"wrapped", fmt.Errorf("outer: %w", fmt.Errorf("middle: %w", base)), base},
		{"joined takes last", errors.Join(base, last), last},
		{"wrapped join", fmt.Errorf("max retries exceeded: %w", errors.Join(base, last)), last},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, RootCause(tc.err))
		})
	}
}

// =============================================================================
// CHAT TESTS
// =============================================================================

type fakeRecorder struct {
	mu      sync.Mutex
	targets []cache.Target
}

func (r *fakeRecorder) Record(t cache.Target) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets = append(r.targets, t)
}

func (r *fakeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.targets)
}

func TestChat_SendRejectsSynchronously(t *testing.T) {
	tests := []struct {
		name  string
		cfg   ChatConfig
		input string
		want  error
	}{
		{"empty input", ChatConfig{Model: eventsModel(nil)}, "   ", ErrEmptyInput},
		{"no model", ChatConfig{}, "hi", ErrNoModel},
		{"no credential", ChatConfig{Model: eventsModel(nil), CredentialRequired: true}, "hi", ErrNoCredential},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			conv := model.NewConversation()
			_, err := NewChat(tc.cfg).Send(context.Background(), conv, tc.input, nil)
			assert.ErrorIs(t, err, tc.want)
			assert.Zero(t, conv.Len(), "nothing appended on rejection")
		})
	}
}

func TestChat_SendSuccessRecords(t *testing.T) {
	rec := &fakeRecorder{}
	m := eventsModel(nil, chunkEvents("Hi!")...)
	chat := NewChat(ChatConfig{
		Model:              m,
		Target:             cache.Target{Preset: "openai", URL: "https://api.example.com/v1", APIKey: "sk-x"},
		CredentialRequired: true,
		Recorder:           rec,
	})
	conv := model.NewConversation()

	res, err := chat.Send(context.Background(), conv, "Hello", nil)
	require.NoError(t, err)
	require.NoError(t, res.Err)

	require.Equal(t, 2, conv.Len())
	assert.Equal(t, model.RoleUser, conv.Messages[0].Role)
	assert.Equal(t, "Hello", conv.Messages[0].Content.PlainText())
	assert.Equal(t, "Hi!", conv.Messages[1].Content.PlainText())
	assert.Equal(t, "openai", conv.Messages[1].Metadata.Preset)
	assert.Equal(t, "test-model", conv.Messages[1].Metadata.Model)

	// the placeholder is not part of the replayed history
	require.Len(t, m.history, 1)
	assert.Equal(t, model.RoleUser, m.history[0].Role)

	require.Equal(t, 1, rec.count())
	assert.Equal(t, "test-model", rec.targets[0].Model)
}

func TestChat_SendFailureDoesNotRecord(t *testing.T) {
	rec := &fakeRecorder{}
	chat := NewChat(ChatConfig{Model: failingModel(errors.New("boom")), Recorder: rec})
	conv := model.NewConversation()

	res, err := chat.Send(context.Background(), conv, "Hello", nil)
	require.NoError(t, err)
	require.Error(t, res.Err)

	require.Equal(t, 2, conv.Len())
	assert.Equal(t, model.RoleError, conv.Messages[1].Role)
	assert.Equal(t, "boom", conv.Messages[1].Content.PlainText())
	assert.Zero(t, rec.count())
	assert.Empty(t, conv.History()[1:], "error messages are not replayed")
}

func TestChat_SendWithImages(t *testing.T) {
	m := eventsModel(nil, chunkEvents("A cat.")...)
	conv := model.NewConversation()

	_, err := NewChat(ChatConfig{Model: m}).Send(context.Background(), conv, "What is this?", []string{"data:image/png;base64,AAAA"})
	require.NoError(t, err)

	user := conv.Messages[0]
	require.True(t, user.Content.IsStructured())
	require.Len(t, user.Content.Parts, 2)
	assert.Equal(t, model.PartText, user.Content.Parts[0].Type)
	assert.Equal(t, model.PartImageURL, user.Content.Parts[1].Type)

	_, err = NewChat(ChatConfig{Model: m}).Send(context.Background(), model.NewConversation(), "", []string{""})
	assert.Error(t, err)
}

func TestChat_RegenerateAddsVersion(t *testing.T) {
	first := eventsModel(nil, chunkEvents("first answer")...)
	conv := model.NewConversation()
	_, err := NewChat(ChatConfig{Model: first}).Send(context.Background(), conv, "Question", nil)
	require.NoError(t, err)

	second := eventsModel(nil, chunkEvents("second answer")...)
	res, err := NewChat(ChatConfig{Model: second}).Regenerate(context.Background(), conv)
	require.NoError(t, err)
	require.NoError(t, res.Err)

	require.Equal(t, 2, conv.Len())
	msg := conv.Messages[1]
	require.Len(t, msg.Versions, 2)
	assert.Equal(t, 1, msg.ActiveVersionIndex)
	assert.Equal(t, "second answer", msg.Content.PlainText())
	assert.Equal(t, "first answer", msg.Versions[0].Content.PlainText())
	assert.Equal(t, 1, msg.Metadata.RetryCount)
	assert.True(t, model.InSync(msg))

	require.Len(t, second.history, 1)
	assert.Equal(t, "Question", second.history[0].Content.PlainText())
}

func TestChat_RegenerateFailureKeepsVersions(t *testing.T) {
	conv := model.NewConversation()
	_, err := NewChat(ChatConfig{Model: eventsModel(nil, chunkEvents("kept")...)}).Send(context.Background(), conv, "Q", nil)
	require.NoError(t, err)

	res, err := NewChat(ChatConfig{Model: failingModel(errors.New("offline"))}).Regenerate(context.Background(), conv)
	require.NoError(t, err)
	require.Error(t, res.Err)

	require.Equal(t, 3, conv.Len())
	assert.Equal(t, "kept", conv.Messages[1].Content.PlainText())
	assert.Len(t, conv.Messages[1].Versions, 1)
	assert.Equal(t, model.RoleError, conv.Messages[2].Role)
	assert.Equal(t, "offline", conv.Messages[2].Content.PlainText())
}

func TestChat_RegenerateNothing(t *testing.T) {
	_, err := NewChat(ChatConfig{Model: eventsModel(nil)}).Regenerate(context.Background(), model.NewConversation())
	assert.ErrorIs(t, err, ErrNothingToRegenerate)
}

func TestChat_SummarizeRecordsAndCleansTitle(t *testing.T) {
	rec := &fakeRecorder{}
	m := eventsModel(nil, chunkEvents("\"Goroutine ", "Basics.\"\nextra line")...)
	chat := NewChat(ChatConfig{Model: m, Recorder: rec})

	title, err := chat.Summarize(context.Background(), "how do goroutines get scheduled?")
	require.NoError(t, err)
	assert.Equal(t, "Goroutine Basics", title)
	assert.Equal(t, 1, rec.count())

	require.Len(t, m.history, 2)
	assert.Equal(t, model.RoleSystem, m.history[0].Role)
	assert.Contains(t, m.history[1].Content.PlainText(), "how do goroutines get scheduled?")
}

func TestChat_SummarizeFailure(t *testing.T) {
	rec := &fakeRecorder{}
	chat := NewChat(ChatConfig{Model: failingModel(errors.New("boom")), Recorder: rec})

	_, err := chat.Summarize(context.Background(), "anything")
	require.Error(t, err)
	assert.Zero(t, rec.count())

	_, err = chat.Summarize(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestCleanTitle(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Go Channels", "Go Channels"},
		{"  **Go Channels.**  ", "Go Channels"},
		{"'Quoted'\nsecond", "Quoted"},
		{strings.Repeat("é", 80), strings.Repeat("é", maxTitleLen)},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, cleanTitle(tc.in), tc.in)
	}
}
