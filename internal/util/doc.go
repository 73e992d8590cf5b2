// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across rigrun-stream.
//
// # Key Functions
//
// String Utilities:
//   - TruncateRunes, TruncateRunesNoEllipsis: UTF-8 safe truncation
//   - TruncateWidth, StringWidth, PadRight: display-width aware helpers for
//     CLI tables
//
// File Operations:
//   - WritePrivateFile, AtomicWriteFile: crash-safe writes with fsync
//   - EnsurePrivateDir: owner-only directories
//
// # Usage
//
//	err := util.WritePrivateFile(path, data)
package util
