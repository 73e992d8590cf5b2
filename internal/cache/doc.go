// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cache remembers which provider configurations recently succeeded.
//
// Entries are keyed by a fingerprint of (preset, service URL, model, key
// fragment); the key fragment is a short SHA-256 prefix, so the credential
// never reaches the cache or its store. Entries expire a fixed time after
// creation and the least recently accessed are evicted past capacity.
//
// # Backends
//
//   - MemoryStore: process memory (default)
//   - SQLiteStore: a local WAL-mode database
//   - RedisStore: one hash under a configurable key prefix
//
// # Usage
//
//	store, _ := cache.OpenSQLite(path)
//	c := cache.New(cache.WithStore(store), cache.WithTTL(30*time.Minute))
//	c.RecordSuccess(ctx, cache.Target{Preset: "openai", URL: url, Model: "gpt-4o", APIKey: key})
//	recent := c.RecentSuccesses(ctx, 10)
package cache
