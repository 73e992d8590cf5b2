// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/jeranaias/rigrun-stream/internal/model"
)

// =============================================================================
// RAW USAGE
// =============================================================================

// RawUsage is a provider usage block before normalization. Nil fields were
// absent on the wire.
type RawUsage struct {
	InputTokens      *int
	OutputTokens     *int
	TotalTokens      *int
	PromptTokens     *int
	CompletionTokens *int
	Cost             *float64
}

// Ints builds a RawUsage from the responses-style names, for tests and
// adapters that already hold plain integers.
func Ints(input, output, total int) *RawUsage {
	return &RawUsage{InputTokens: &input, OutputTokens: &output, TotalTokens: &total}
}

// UnmarshalJSON accepts numbers, numeric strings and floats for every field,
// since providers disagree on the encoding.
func (u *RawUsage) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*u = RawUsage{
		InputTokens:      intField(raw, "input_tokens"),
		OutputTokens:     intField(raw, "output_tokens"),
		TotalTokens:      intField(raw, "total_tokens"),
		PromptTokens:     intField(raw, "prompt_tokens"),
		CompletionTokens: intField(raw, "completion_tokens"),
		Cost:             floatField(raw, "cost"),
	}
	return nil
}

// =============================================================================
// NORMALIZATION
// =============================================================================

// NormalizeUsage maps either naming scheme onto model.Usage.
//
// Fallback order:
//   - input:  input_tokens, then prompt_tokens, then 0
//   - output: output_tokens, then completion_tokens, then 0
//   - total:  total_tokens when present, else input + output
func NormalizeUsage(raw RawUsage) model.Usage {
	in := firstOf(raw.InputTokens, raw.PromptTokens)
	out := firstOf(raw.OutputTokens, raw.CompletionTokens)
	total := in + out
	if raw.TotalTokens != nil {
		total = *raw.TotalTokens
	}
	return model.Usage{InputTokens: in, OutputTokens: out, TotalTokens: total}
}

// TokenSpeed returns output tokens per second between firstTokenAt and end
// (both Unix milliseconds). It returns nil whenever the result would not be
// a finite positive rate.
func TokenSpeed(outputTokens int, firstTokenAt, end int64) *float64 {
	if outputTokens <= 0 || firstTokenAt <= 0 || end <= firstTokenAt {
		return nil
	}
	v := float64(outputTokens) / (float64(end-firstTokenAt) / 1000)
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return nil
	}
	return &v
}

func firstOf(vals ...*int) int {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return 0
}

func intField(raw map[string]any, key string) *int {
	v, ok := raw[key]
	if !ok || v == nil {
		return nil
	}
	var n int
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			n = int(i)
		} else if f, err := t.Float64(); err == nil {
			n = int(f)
		} else {
			return nil
		}
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return nil
		}
		n = i
	case float64:
		n = int(t)
	default:
		return nil
	}
	return &n
}

func floatField(raw map[string]any, key string) *float64 {
	v, ok := raw[key]
	if !ok || v == nil {
		return nil
	}
	var f float64
	switch t := v.(type) {
	case json.Number:
		x, err := t.Float64()
		if err != nil {
			return nil
		}
		f = x
	case string:
		x, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return nil
		}
		f = x
	case float64:
		f = t
	default:
		return nil
	}
	return &f
}
