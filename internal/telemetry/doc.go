// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry accumulates token usage across finished attempts.
//
// A Tracker keeps one session in memory, fed with completion.Result values,
// and stores it as JSON when the session ends. Trends aggregates stored
// sessions by day and by model.
//
// # Usage
//
//	tracker, err := telemetry.NewTracker("")
//	res := attempt.Wait()
//	tracker.RecordResult(prompt, res)
//	defer tracker.EndSession()
//
// # Privacy
//
// Usage data is local-only. Only the first 100 characters of each prompt
// are kept, in the top-queries list.
package telemetry
