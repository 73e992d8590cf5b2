// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jeranaias/rigrun-stream/internal/completion"
	"github.com/jeranaias/rigrun-stream/internal/metrics"
	"github.com/jeranaias/rigrun-stream/internal/model"
)

func result(modelName string, in, out int, sent, first, received int64) completion.Result {
	msg := model.NewAssistantMessage(model.Metadata{
		Model:        modelName,
		SentAt:       sent,
		FirstTokenAt: first,
		ReceivedAt:   received,
	})
	u := &model.Usage{InputTokens: in, OutputTokens: out, TotalTokens: in + out}
	return completion.Result{Message: msg, Usage: u}
}

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	tracker, err := NewTracker(t.TempDir())
	if err != nil {
		t.Fatalf("NewTracker failed: %v", err)
	}
	return tracker
}

func TestTracker_NewTracker(t *testing.T) {
	tracker := newTestTracker(t)

	session := tracker.CurrentSession()
	if session.ID == "" {
		t.Error("session ID should not be empty")
	}
	if len(session.ByModel) != 0 || len(session.TopQueries) != 0 {
		t.Errorf("new session should be empty: %+v", session)
	}
}

func TestTracker_RecordResult(t *testing.T) {
	tracker := newTestTracker(t)

	tracker.RecordResult("first question", result("gpt-4o", 100, 50, 1000, 1200, 2000))
	tracker.RecordResult("second question", result("gpt-4o", 10, 5, 5000, 5400, 5600))
	tracker.RecordResult("local question", result("llama3", 20, 30, 0, 0, 0))

	s := tracker.CurrentSession()
	if s.Totals.InputTokens != 130 || s.Totals.OutputTokens != 85 || s.Totals.TotalTokens != 215 {
		t.Errorf("Totals = %+v", s.Totals)
	}
	if s.Outcomes[metrics.OutcomeSuccess] != 3 {
		t.Errorf("success outcomes = %d, want 3", s.Outcomes[metrics.OutcomeSuccess])
	}

	gpt := s.ByModel["gpt-4o"]
	if gpt == nil || gpt.Attempts != 2 {
		t.Fatalf("gpt-4o usage = %+v", gpt)
	}
	if got := gpt.MeanTTFT(); got != 300*time.Millisecond {
		t.Errorf("MeanTTFT() = %v, want 300ms", got)
	}
	if llama := s.ByModel["llama3"]; llama == nil || llama.TTFTSamples != 0 {
		t.Errorf("llama3 usage = %+v", llama)
	}

	if len(s.TopQueries) != 3 || s.TopQueries[0].Prompt != "first question" {
		t.Errorf("TopQueries not ordered by tokens: %+v", s.TopQueries)
	}
	if s.TopQueries[0].Duration != time.Second {
		t.Errorf("Duration = %v, want 1s", s.TopQueries[0].Duration)
	}
}

func TestTracker_Outcomes(t *testing.T) {
	tracker := newTestTracker(t)

	failed := result("m", 0, 0, 0, 0, 0)
	failed.Usage = nil
	failed.Err = errors.New("boom")
	tracker.RecordResult("x", failed)

	aborted := result("m", 0, 0, 0, 0, 0)
	aborted.Usage = nil
	aborted.Err = completion.ErrAborted
	aborted.Aborted = true
	tracker.RecordResult("y", aborted)

	s := tracker.CurrentSession()
	if s.Outcomes[metrics.OutcomeError] != 1 || s.Outcomes[metrics.OutcomeAborted] != 1 {
		t.Errorf("Outcomes = %v", s.Outcomes)
	}
	if s.ByModel["m"].Attempts != 2 {
		t.Errorf("attempts = %d, want 2", s.ByModel["m"].Attempts)
	}
}

func TestTracker_TopQueriesBounded(t *testing.T) {
	tracker := newTestTracker(t)
	for i := 0; i < maxTopQueries+5; i++ {
		tracker.RecordResult(strings.Repeat("p", 200), result("m", i, i, 0, 0, 0))
	}

	s := tracker.CurrentSession()
	if len(s.TopQueries) != maxTopQueries {
		t.Fatalf("TopQueries = %d, want %d", len(s.TopQueries), maxTopQueries)
	}
	if s.TopQueries[0].InputTokens != maxTopQueries+4 {
		t.Errorf("heaviest query = %d input tokens", s.TopQueries[0].InputTokens)
	}
	if n := len([]rune(s.TopQueries[0].Prompt)); n != 100 {
		t.Errorf("prompt length = %d, want 100", n)
	}
}

func TestTracker_ProviderCost(t *testing.T) {
	tracker := newTestTracker(t)
	res := result("m", 1, 1, 0, 0, 0)
	res.Message = model.MergeMetadata(res.Message, model.Metadata{Cost: model.Float(0.25)})
	tracker.RecordResult("q", res)
	tracker.RecordResult("q", res)

	if got := tracker.CurrentSession().Cost; got != 0.5 {
		t.Errorf("Cost = %v, want 0.5", got)
	}
}

func TestTracker_CurrentSessionIsCopy(t *testing.T) {
	tracker := newTestTracker(t)
	tracker.RecordResult("q", result("m", 1, 1, 0, 0, 0))

	s := tracker.CurrentSession()
	s.ByModel["m"].Attempts = 99
	s.Outcomes["success"] = 99

	again := tracker.CurrentSession()
	if again.ByModel["m"].Attempts != 1 || again.Outcomes["success"] != 1 {
		t.Error("CurrentSession() shares state with the tracker")
	}
}

func TestTracker_EndSessionAndTrends(t *testing.T) {
	tracker := newTestTracker(t)

	tracker.RecordResult("q1", result("gpt-4o", 10, 20, 0, 0, 0))
	first := tracker.CurrentSession().ID
	if err := tracker.EndSession(); err != nil {
		t.Fatalf("EndSession failed: %v", err)
	}
	if tracker.CurrentSession().ID == first {
		t.Error("EndSession should start a new session")
	}

	tracker.RecordResult("q2", result("llama3", 5, 5, 0, 0, 0))
	if err := tracker.EndSession(); err != nil {
		t.Fatal(err)
	}

	// An empty session is not stored.
	if err := tracker.EndSession(); err != nil {
		t.Fatal(err)
	}
	n, err := tracker.Storage().Count()
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("stored sessions = %d, want 2", n)
	}

	trends := tracker.Trends(1)
	if trends.Totals.TotalTokens != 40 {
		t.Errorf("Trends totals = %+v", trends.Totals)
	}
	if trends.ModelBreakdown["gpt-4o"] != 30 || trends.ModelBreakdown["llama3"] != 10 {
		t.Errorf("ModelBreakdown = %v", trends.ModelBreakdown)
	}
	if len(trends.DailyBreakdown) != 1 || trends.DailyBreakdown[0].Attempts != 2 {
		t.Errorf("DailyBreakdown = %+v", trends.DailyBreakdown)
	}
}

func TestStorage_ListAndDeleteBefore(t *testing.T) {
	storage, err := NewStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	old := time.Now().AddDate(0, 0, -10)
	recent := time.Now().Add(-time.Minute)
	for _, s := range []*SessionUsage{newSession(old), newSession(recent)} {
		if err := storage.Save(s); err != nil {
			t.Fatal(err)
		}
	}

	ids, err := storage.List(time.Now().AddDate(0, 0, -1), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 {
		t.Errorf("List(last day) = %v, want one session", ids)
	}

	if err := storage.DeleteBefore(time.Now().AddDate(0, 0, -1)); err != nil {
		t.Fatal(err)
	}
	if n, _ := storage.Count(); n != 1 {
		t.Errorf("Count() after DeleteBefore = %d, want 1", n)
	}
}

func TestParseSessionTime(t *testing.T) {
	tests := []struct {
		id string
		ok bool
	}{
		{"20250301-120000-1", true},
		{"20250301-120000", true},
		{"notes", false},
		{"2025-bad", false},
	}
	for _, tt := range tests {
		if _, ok := parseSessionTime(tt.id); ok != tt.ok {
			t.Errorf("parseSessionTime(%q) ok = %v, want %v", tt.id, ok, tt.ok)
		}
	}
}
