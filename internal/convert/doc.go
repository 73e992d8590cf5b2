// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package convert maps message history onto provider request formats.
//
// Every converter filters out error-role messages first. Formats without a
// native part for function or tool calls receive them as descriptive text
// lines ("Function call: name(args)", "Tool call: id - type").
package convert
