// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// =============================================================================
// TARGET
// =============================================================================

// Target identifies a provider configuration that a request was sent to.
type Target struct {
	Preset string
	URL    string
	Model  string
	APIKey string
}

// KeyFragment returns a short, irreversible tag for the credential: the first
// four bytes of its SHA-256 digest in hex, or "none" when there is no key.
func KeyFragment(apiKey string) string {
	if apiKey == "" {
		return "none"
	}
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:4])
}

// Fingerprint joins the target into the cache key "preset:url:model:keyfrag".
func Fingerprint(t Target) string {
	return strings.Join([]string{t.Preset, t.URL, t.Model, KeyFragment(t.APIKey)}, ":")
}

// =============================================================================
// ENTRY
// =============================================================================

// Entry records that a target recently succeeded. It never holds the
// credential itself.
type Entry struct {
	Fingerprint  string    `json:"fingerprint" yaml:"fingerprint"`
	Preset       string    `json:"preset" yaml:"preset"`
	URL          string    `json:"url" yaml:"url"`
	Model        string    `json:"model" yaml:"model"`
	KeyFragment  string    `json:"key_fragment" yaml:"key_fragment"`
	Success      bool      `json:"success" yaml:"success"`
	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" yaml:"updated_at"`
	LastAccessed time.Time `json:"last_accessed" yaml:"last_accessed"`
	AccessCount  int       `json:"access_count" yaml:"access_count"`
	Seq          uint64    `json:"seq" yaml:"-"`
}

func newEntry(t Target, now time.Time, seq uint64) *Entry {
	return &Entry{
		Fingerprint:  Fingerprint(t),
		Preset:       t.Preset,
		URL:          t.URL,
		Model:        t.Model,
		KeyFragment:  KeyFragment(t.APIKey),
		Success:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
		LastAccessed: now,
		AccessCount:  1,
		Seq:          seq,
	}
}

// expired reports whether the entry is older than ttl. CreatedAt restarts on
// every recorded success; lookups do not move it.
func (e *Entry) expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.CreatedAt) > ttl
}
