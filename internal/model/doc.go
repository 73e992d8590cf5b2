// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// # Key Types
//
//   - Message: one turn, with role, content, reasoning, metadata and (for
//     assistant turns) a list of alternate versions
//   - Content: plain text or an ordered list of typed parts
//   - Version: one generation of an assistant turn
//   - Conversation: an ordered message history
//
// # Version Sync
//
// An assistant message always mirrors its active version. Use UpdateContent,
// UpdateReasoning, MergeMetadata, AddVersion and SetActiveVersion rather than
// assigning fields:
//
//	msg := model.NewAssistantMessage(model.Metadata{Model: "gpt-4o"})
//	msg = model.UpdateContent(msg, model.Text("Hello"))
//	msg = model.AddVersion(msg, model.VersionInit{Content: model.Text("")})
//	msg = model.SetActiveVersion(msg, 0) // back to "Hello"
//
// Messages loaded from storage go through Normalize first.
package model
