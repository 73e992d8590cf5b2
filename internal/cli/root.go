// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jeranaias/rigrun-stream/internal/cache"
	"github.com/jeranaias/rigrun-stream/internal/config"
	"github.com/jeranaias/rigrun-stream/internal/logging"
	"github.com/jeranaias/rigrun-stream/internal/metrics"
	"github.com/jeranaias/rigrun-stream/internal/storage"
	"github.com/jeranaias/rigrun-stream/internal/telemetry"
)

// Version information, set by main from build flags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// =============================================================================
// APP
// =============================================================================

// app carries state shared by every command of one invocation.
type app struct {
	configPath string
	format     string
	logLevel   string

	cfg *config.Config
	log *logging.Logger
}

// setup loads configuration and builds the logger. It runs before every
// command.
func (a *app) setup() error {
	if err := validFormat(a.format); err != nil {
		return err
	}

	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	a.cfg = cfg
	config.SetGlobal(cfg)

	level := cfg.Logging.Level
	if a.logLevel != "" {
		level = a.logLevel
	}
	log, err := logging.New(cfg.Logging.Mode, level)
	if err != nil {
		return &UsageError{Field: "log level", Value: level, Reason: err.Error()}
	}
	a.log = log
	return nil
}

// loadConfig reads --config when given, otherwise the default location.
// A --config path that does not exist yet yields defaults so that
// "config set" can create it.
func (a *app) loadConfig() (*config.Config, error) {
	if a.configPath == "" {
		return config.Load()
	}
	if _, err := os.Stat(a.configPath); errors.Is(err, os.ErrNotExist) {
		cfg := config.Default()
		cfg.ApplyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return cfg, nil
	}
	return config.LoadFromPath(a.configPath)
}

// path returns the config file this invocation reads and writes.
func (a *app) path() (string, error) {
	if a.configPath != "" {
		return a.configPath, nil
	}
	return config.ConfigPathTOML()
}

func (a *app) dataDir(sub string) string {
	if a.cfg.Storage.Dir == "" {
		return ""
	}
	return filepath.Join(a.cfg.Storage.Dir, sub)
}

func (a *app) conversations() (*storage.ConversationStore, error) {
	store, err := storage.NewConversationStore(a.dataDir("conversations"), a.log)
	if err != nil {
		return nil, err
	}
	if a.cfg.Storage.MaxConversations > 0 {
		store.MaxConversations = a.cfg.Storage.MaxConversations
	}
	return store, nil
}

func (a *app) tracker() (*telemetry.Tracker, error) {
	return telemetry.NewTracker(a.dataDir("usage"))
}

// openCache builds the success cache on the configured backend. The
// returned close func releases the backend.
func (a *app) openCache(ctx context.Context) (*cache.Cache, func(), error) {
	cc := a.cfg.Cache
	opts := []cache.Option{
		cache.WithCapacity(cc.Capacity),
		cache.WithTTL(cc.TTL()),
		cache.WithLogger(a.log),
	}
	closeFn := func() {}

	switch cc.Backend {
	case config.CacheBackendSQLite:
		path := cc.Path
		if path == "" {
			dir, err := config.ConfigDir()
			if err != nil {
				return nil, nil, err
			}
			path = filepath.Join(dir, "cache.db")
		}
		store, err := cache.OpenSQLite(path)
		if err != nil {
			return nil, nil, NewCommandError("cache", "open sqlite", err)
		}
		opts = append(opts, cache.WithStore(store))
		closeFn = func() { store.Close() }

	case config.CacheBackendRedis:
		client, err := cache.DialRedis(ctx, cc.RedisAddr)
		if err != nil {
			return nil, nil, NewCommandError("cache", "connect redis", err)
		}
		opts = append(opts, cache.WithStore(cache.NewRedisStore(client, cc.RedisPrefix)))
		closeFn = func() { client.Close() }
	}

	return cache.New(opts...), closeFn, nil
}

// serveMetrics exposes Prometheus metrics for the life of ctx when enabled.
func (a *app) serveMetrics(ctx context.Context) {
	if !a.cfg.Metrics.Enabled {
		return
	}
	addr := a.cfg.Metrics.Addr
	go func() {
		if err := metrics.Serve(ctx, addr); err != nil {
			a.log.Warn("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	a.log.Debug("serving metrics", "addr", addr)
}

// =============================================================================
// ROOT COMMAND
// =============================================================================

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "rigstream",
		Short: "Stream chat completions from local and cloud models",
		Long: `rigstream sends prompts to Ollama or an OpenAI-compatible service,
streams the reply to the terminal and keeps the conversation on disk.

Configuration lives in ~/.rigrun-stream/config.toml and can be
overridden with RIGSTREAM_* environment variables.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				a.log.Sync()
			}
		},
	}
	root.SetVersionTemplate(fmt.Sprintf("rigstream %s (commit %s, built %s)\n", Version, GitCommit, BuildDate))

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default ~/.rigrun-stream/config.toml)")
	root.PersistentFlags().StringVarP(&a.format, "format", "f", formatText, "output format: text, json or yaml")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newAskCmd(a),
		newChatCmd(a),
		newRegenerateCmd(a),
		newReplayCmd(a),
		newCacheCmd(a),
		newHistoryCmd(a),
		newConfigCmd(a),
		newModelsCmd(a),
		newUsageCmd(a),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	root := NewRootCmd()
	cmd, err := root.ExecuteC()
	if err != nil {
		format, _ := root.PersistentFlags().GetString("format")
		name := root.Name()
		if cmd != nil {
			name = cmd.Name()
		}
		DisplayError(root.ErrOrStderr(), name, err, format == formatJSON)
		return GetExitCode(err)
	}
	return ExitSuccess
}
