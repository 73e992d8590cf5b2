// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jeranaias/rigrun-stream/internal/util"
)

const sessionTimeLayout = "20060102-150405"

// =============================================================================
// USAGE STORAGE
// =============================================================================

// Storage persists session usage as one JSON file per session.
type Storage struct {
	dir string
}

// NewStorage creates a storage manager in dir (default ~/.rigrun-stream/usage).
func NewStorage(dir string) (*Storage, error) {
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(homeDir, ".rigrun-stream", "usage")
	}

	if err := util.EnsurePrivateDir(dir); err != nil {
		return nil, err
	}
	return &Storage{dir: dir}, nil
}

// Save persists a session.
// RELIABILITY: Atomic write with fsync prevents data loss on crash
func (s *Storage) Save(session *SessionUsage) error {
	if session == nil {
		return nil
	}
	data, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return err
	}
	return util.WritePrivateFile(s.path(session.ID), data)
}

// Load retrieves a session by ID.
func (s *Storage) Load(sessionID string) (*SessionUsage, error) {
	data, err := os.ReadFile(s.path(sessionID))
	if err != nil {
		return nil, err
	}
	var session SessionUsage
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// List returns the IDs of sessions started within [from, to], oldest first.
func (s *Storage) List(from, to time.Time) ([]string, error) {
	var ids []string
	err := s.each(func(id string, started time.Time) {
		if started.Before(from) || started.After(to) {
			return
		}
		ids = append(ids, id)
	})
	sort.Strings(ids)
	return ids, err
}

// DeleteBefore removes sessions started before the given time.
func (s *Storage) DeleteBefore(before time.Time) error {
	var errs []error
	err := s.each(func(id string, started time.Time) {
		if started.Before(before) {
			if err := os.Remove(s.path(id)); err != nil {
				errs = append(errs, err)
			}
		}
	})
	if err != nil {
		return err
	}
	return errors.Join(errs...)
}

// Count returns the number of stored sessions.
func (s *Storage) Count() (int, error) {
	n := 0
	err := s.each(func(string, time.Time) { n++ })
	return n, err
}

// each calls fn for every file whose name parses as a session ID.
func (s *Storage) each(fn func(id string, started time.Time)) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		started, ok := parseSessionTime(id)
		if !ok {
			continue
		}
		fn(id, started)
	}
	return nil
}

// parseSessionTime reads the timestamp prefix (YYYYMMDD-HHMMSS-counter).
func parseSessionTime(id string) (time.Time, bool) {
	parts := strings.SplitN(id, "-", 3)
	if len(parts) < 2 {
		return time.Time{}, false
	}
	ts, err := time.ParseInLocation(sessionTimeLayout, parts[0]+"-"+parts[1], time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

func (s *Storage) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}
