// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// =============================================================================
// PERMISSIONS
// =============================================================================

// Everything rigrun-stream persists (config with API keys, conversations,
// usage sessions, the cache database, chat history) is owner-only.
const (
	PrivateFileMode os.FileMode = 0600
	PrivateDirMode  os.FileMode = 0700
)

// EnsurePrivateDir creates dir and its parents with PrivateDirMode.
func EnsurePrivateDir(dir string) error {
	if err := os.MkdirAll(dir, PrivateDirMode); err != nil {
		return &WriteError{Path: dir, Op: "create directory", Err: err}
	}
	return nil
}

// =============================================================================
// ATOMIC WRITES
// =============================================================================

// WriteError reports which step of a file write failed.
type WriteError struct {
	Path string
	Op   string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// WritePrivateFile atomically replaces path with data, owner-only.
func WritePrivateFile(path string, data []byte) error {
	return AtomicWriteFile(path, data, PrivateFileMode, PrivateDirMode)
}

// AtomicWriteFile replaces path with data so that readers see either the old
// file or the complete new one. The data goes to a temp file in the same
// directory, is fsynced and chmodded, and is then renamed over path. Missing
// parent directories are created with dirPerm.
func AtomicWriteFile(path string, data []byte, filePerm, dirPerm os.FileMode) (err error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return &WriteError{Path: path, Op: "resolve", Err: err}
	}
	dir := filepath.Dir(absPath)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return &WriteError{Path: dir, Op: "create directory", Err: err}
	}

	f, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(absPath)+"-")
	if err != nil {
		return &WriteError{Path: absPath, Op: "create temp file for", Err: err}
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			// Close may already have run; only the removal matters here.
			err = errors.Join(err, removeIfExists(tmp))
		}
	}()

	step := func(op string, e error) error {
		if e == nil {
			return nil
		}
		return &WriteError{Path: absPath, Op: op, Err: e}
	}
	if _, werr := f.Write(data); werr != nil {
		f.Close()
		return step("write", werr)
	}
	if serr := f.Sync(); serr != nil {
		f.Close()
		return step("sync", serr)
	}
	if err := step("close", f.Close()); err != nil {
		return err
	}
	if err := step("chmod", os.Chmod(tmp, filePerm)); err != nil {
		return err
	}
	return step("rename onto", os.Rename(tmp, absPath))
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
