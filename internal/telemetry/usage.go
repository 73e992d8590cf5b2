// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jeranaias/rigrun-stream/internal/completion"
	"github.com/jeranaias/rigrun-stream/internal/metrics"
	"github.com/jeranaias/rigrun-stream/internal/model"
	"github.com/jeranaias/rigrun-stream/internal/util"
)

// maxTopQueries bounds the per-session list of heaviest queries.
const maxTopQueries = 10

// sessionIDCounter ensures unique session IDs even when created rapidly
var sessionIDCounter uint64

// =============================================================================
// TYPES
// =============================================================================

// Tracker accumulates token usage across finished attempts.
type Tracker struct {
	mu      sync.RWMutex
	current *SessionUsage
	storage *Storage
	now     func() time.Time
}

// SessionUsage is the usage recorded during one process lifetime (or until
// EndSession).
type SessionUsage struct {
	ID        string    `json:"id" yaml:"id"`
	StartTime time.Time `json:"start_time" yaml:"start_time"`
	EndTime   time.Time `json:"end_time,omitempty" yaml:"end_time,omitempty"`

	Totals   model.Usage            `json:"totals" yaml:"totals"`
	ByModel  map[string]*ModelUsage `json:"by_model" yaml:"by_model"`
	Outcomes map[string]int         `json:"outcomes" yaml:"outcomes"`

	// Cost is the sum of provider-reported costs; zero when none reported.
	Cost float64 `json:"cost,omitempty" yaml:"cost,omitempty"`

	TopQueries []QueryUsage `json:"top_queries" yaml:"top_queries"`
}

// ModelUsage aggregates attempts against one model.
type ModelUsage struct {
	Attempts     int   `json:"attempts" yaml:"attempts"`
	InputTokens  int   `json:"input_tokens" yaml:"input_tokens"`
	OutputTokens int   `json:"output_tokens" yaml:"output_tokens"`
	TTFTMsTotal  int64 `json:"ttft_ms_total" yaml:"ttft_ms_total"`
	TTFTSamples  int   `json:"ttft_samples" yaml:"ttft_samples"`
}

// MeanTTFT returns the average time to first token.
func (m ModelUsage) MeanTTFT() time.Duration {
	if m.TTFTSamples == 0 {
		return 0
	}
	return time.Duration(m.TTFTMsTotal/int64(m.TTFTSamples)) * time.Millisecond
}

// QueryUsage describes one finished attempt.
type QueryUsage struct {
	Timestamp    time.Time     `json:"timestamp" yaml:"timestamp"`
	Prompt       string        `json:"prompt" yaml:"prompt"` // First 100 chars
	Model        string        `json:"model" yaml:"model"`
	Outcome      string        `json:"outcome" yaml:"outcome"`
	InputTokens  int           `json:"input_tokens" yaml:"input_tokens"`
	OutputTokens int           `json:"output_tokens" yaml:"output_tokens"`
	TTFT         time.Duration `json:"ttft" yaml:"ttft"`
	Duration     time.Duration `json:"duration" yaml:"duration"`
	TokenSpeed   float64       `json:"token_speed,omitempty" yaml:"token_speed,omitempty"`
}

// Trends aggregates stored sessions over a number of days.
type Trends struct {
	Days           int            `json:"days" yaml:"days"`
	Totals         model.Usage    `json:"totals" yaml:"totals"`
	Cost           float64        `json:"cost" yaml:"cost"`
	DailyBreakdown []DailyUsage   `json:"daily_breakdown" yaml:"daily_breakdown"`
	ModelBreakdown map[string]int `json:"model_breakdown" yaml:"model_breakdown"` // total tokens
}

// DailyUsage is one day of Trends.
type DailyUsage struct {
	Date     time.Time `json:"date" yaml:"date"`
	Tokens   int       `json:"tokens" yaml:"tokens"`
	Attempts int       `json:"attempts" yaml:"attempts"`
}

// =============================================================================
// CONSTRUCTOR
// =============================================================================

// NewTracker creates a tracker persisting sessions under dir (the default
// location when empty).
func NewTracker(dir string) (*Tracker, error) {
	storage, err := NewStorage(dir)
	if err != nil {
		return nil, err
	}
	t := &Tracker{storage: storage, now: time.Now}
	t.current = newSession(t.now())
	return t, nil
}

func newSession(now time.Time) *SessionUsage {
	return &SessionUsage{
		ID:         generateSessionID(now),
		StartTime:  now,
		ByModel:    make(map[string]*ModelUsage),
		Outcomes:   make(map[string]int),
		TopQueries: make([]QueryUsage, 0),
	}
}

// =============================================================================
// RECORDING
// =============================================================================

// RecordResult folds a finished attempt into the current session.
func (t *Tracker) RecordResult(prompt string, res completion.Result) {
	md := res.Message.Metadata

	q := QueryUsage{
		Timestamp: t.now(),
		Prompt:    util.TruncateRunes(prompt, 100),
		Model:     md.Model,
		Outcome:   outcomeOf(res),
	}
	if res.Usage != nil {
		q.InputTokens = res.Usage.InputTokens
		q.OutputTokens = res.Usage.OutputTokens
	}
	if md.SentAt > 0 && md.FirstTokenAt >= md.SentAt {
		q.TTFT = time.Duration(md.FirstTokenAt-md.SentAt) * time.Millisecond
	}
	if md.SentAt > 0 && md.ReceivedAt >= md.SentAt {
		q.Duration = time.Duration(md.ReceivedAt-md.SentAt) * time.Millisecond
	}
	if md.TokenSpeed != nil {
		q.TokenSpeed = *md.TokenSpeed
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.current
	s.Outcomes[q.Outcome]++
	s.Totals.InputTokens += q.InputTokens
	s.Totals.OutputTokens += q.OutputTokens
	if res.Usage != nil {
		s.Totals.TotalTokens += res.Usage.TotalTokens
	}
	if md.Cost != nil {
		s.Cost += *md.Cost
	}

	name := q.Model
	if name == "" {
		name = "unknown"
	}
	mu := s.ByModel[name]
	if mu == nil {
		mu = &ModelUsage{}
		s.ByModel[name] = mu
	}
	mu.Attempts++
	mu.InputTokens += q.InputTokens
	mu.OutputTokens += q.OutputTokens
	if q.TTFT > 0 {
		mu.TTFTMsTotal += q.TTFT.Milliseconds()
		mu.TTFTSamples++
	}

	s.TopQueries = append(s.TopQueries, q)
	sort.SliceStable(s.TopQueries, func(i, j int) bool {
		return weight(s.TopQueries[i]) > weight(s.TopQueries[j])
	})
	if len(s.TopQueries) > maxTopQueries {
		s.TopQueries = s.TopQueries[:maxTopQueries]
	}
}

func weight(q QueryUsage) int {
	return q.InputTokens + q.OutputTokens
}

func outcomeOf(res completion.Result) string {
	switch {
	case res.Aborted || errors.Is(res.Err, completion.ErrAborted):
		return metrics.OutcomeAborted
	case res.Err != nil:
		return metrics.OutcomeError
	default:
		return metrics.OutcomeSuccess
	}
}

// =============================================================================
// RETRIEVAL
// =============================================================================

// CurrentSession returns a copy of the current session.
func (t *Tracker) CurrentSession() *SessionUsage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return copySession(t.current)
}

// History returns stored sessions that started within [from, to].
func (t *Tracker) History(from, to time.Time) []*SessionUsage {
	ids, err := t.storage.List(from, to)
	if err != nil {
		return nil
	}
	sessions := make([]*SessionUsage, 0, len(ids))
	for _, id := range ids {
		s, err := t.storage.Load(id)
		if err != nil {
			continue
		}
		sessions = append(sessions, s)
	}
	return sessions
}

// Trends aggregates stored sessions from the last days days.
func (t *Tracker) Trends(days int) *Trends {
	to := t.now()
	from := to.AddDate(0, 0, -days)

	trends := &Trends{
		Days:           days,
		DailyBreakdown: make([]DailyUsage, 0),
		ModelBreakdown: make(map[string]int),
	}

	daily := make(map[string]*DailyUsage)
	for _, s := range t.History(from, to) {
		key := s.StartTime.Format("2006-01-02")
		d, ok := daily[key]
		if !ok {
			y, m, dd := s.StartTime.Date()
			d = &DailyUsage{Date: time.Date(y, m, dd, 0, 0, 0, 0, s.StartTime.Location())}
			daily[key] = d
		}
		attempts := 0
		for _, n := range s.Outcomes {
			attempts += n
		}
		d.Tokens += s.Totals.TotalTokens
		d.Attempts += attempts

		trends.Totals.InputTokens += s.Totals.InputTokens
		trends.Totals.OutputTokens += s.Totals.OutputTokens
		trends.Totals.TotalTokens += s.Totals.TotalTokens
		trends.Cost += s.Cost
		for name, mu := range s.ByModel {
			trends.ModelBreakdown[name] += mu.InputTokens + mu.OutputTokens
		}
	}

	for _, d := range daily {
		trends.DailyBreakdown = append(trends.DailyBreakdown, *d)
	}
	sort.Slice(trends.DailyBreakdown, func(i, j int) bool {
		return trends.DailyBreakdown[i].Date.Before(trends.DailyBreakdown[j].Date)
	})
	return trends
}

// =============================================================================
// SESSION MANAGEMENT
// =============================================================================

// EndSession stores the current session and starts a new one. A session
// with no recorded attempts is not stored.
func (t *Tracker) EndSession() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.current
	s.EndTime = t.now()
	var err error
	if len(s.Outcomes) > 0 {
		err = t.storage.Save(s)
	}
	t.current = newSession(t.now())
	return err
}

// Save writes the current session without ending it.
func (t *Tracker) Save() error {
	t.mu.RLock()
	s := copySession(t.current)
	t.mu.RUnlock()
	return t.storage.Save(s)
}

// Storage exposes the underlying session store.
func (t *Tracker) Storage() *Storage {
	return t.storage
}

// =============================================================================
// HELPERS
// =============================================================================

// copySession creates a deep copy of a session.
func copySession(src *SessionUsage) *SessionUsage {
	dst := *src
	dst.ByModel = make(map[string]*ModelUsage, len(src.ByModel))
	for k, v := range src.ByModel {
		mu := *v
		dst.ByModel[k] = &mu
	}
	dst.Outcomes = make(map[string]int, len(src.Outcomes))
	for k, v := range src.Outcomes {
		dst.Outcomes[k] = v
	}
	dst.TopQueries = make([]QueryUsage, len(src.TopQueries))
	copy(dst.TopQueries, src.TopQueries)
	return &dst
}

// generateSessionID generates a unique, time-sortable session ID.
func generateSessionID(now time.Time) string {
	counter := atomic.AddUint64(&sessionIDCounter, 1)
	return now.Format(sessionTimeLayout) + "-" + fmt.Sprintf("%d", counter)
}
