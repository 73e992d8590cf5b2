// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for
// rigrun-stream.
//
// Configuration is TOML, validated with struct tags, and can be overridden
// from the environment.
//
// # Configuration Precedence
//
//   - Environment variables (RIGSTREAM_*, OPENAI_API_KEY)
//   - ~/.rigrun-stream/config.toml
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Provider.Model)
//
// Dot-notation access, as used by "rigstream config get/set":
//
//	v, _ := cfg.Get("cache.capacity")
//	_ = cfg.Set("provider.model", "gpt-4o-mini")
//
// A Watcher reloads the file after edits, debounced:
//
//	w, _ := config.NewWatcher(path, func(c *config.Config) { config.SetGlobal(c) })
//	w.Start(ctx)
//	defer w.Close()
//
// # Security
//
// Config files are written with 0600 permissions and String redacts the API
// key.
package config
