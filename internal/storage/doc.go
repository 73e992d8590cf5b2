// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists conversations as JSON files.
//
// Each conversation is one file named after its ID, written atomically with
// 0600 permissions. Loading runs every message through model.Normalize, so
// assistant messages saved before versioning come back with a single version
// mirroring their content.
//
// # Usage
//
//	store, err := storage.NewConversationStore(cfg.Storage.Dir, log)
//	id, err := store.Save(conv)
//	conv, err = store.Load(id)
//
//	metas, err := store.Search("retry")
//	fmt.Print(storage.FormatList(metas))
//
// # Storage Location
//
// Conversations are stored in ~/.rigrun-stream/conversations/ unless a
// directory is configured.
package storage
