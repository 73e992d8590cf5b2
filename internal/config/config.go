// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"

	"github.com/jeranaias/rigrun-stream/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// API types understood by the provider factory.
const (
	APITypeCompletion = "completion" // /chat/completions over HTTP SSE
	APITypeResponses  = "responses"  // /responses over HTTP SSE
	APITypeSDK        = "sdk"        // /chat/completions through go-openai
	APITypeOllama     = "ollama"     // Ollama /api/chat NDJSON
)

// Cache backends.
const (
	CacheBackendMemory = "memory"
	CacheBackendSQLite = "sqlite"
	CacheBackendRedis  = "redis"
)

// Config represents the complete rigrun-stream configuration.
type Config struct {
	Version string `toml:"version" json:"version" yaml:"version"`

	Provider ProviderConfig `toml:"provider" json:"provider" yaml:"provider"`
	Cache    CacheConfig    `toml:"cache" json:"cache" yaml:"cache"`
	Logging  LoggingConfig  `toml:"logging" json:"logging" yaml:"logging"`
	Metrics  MetricsConfig  `toml:"metrics" json:"metrics" yaml:"metrics"`
	Storage  StorageConfig  `toml:"storage" json:"storage" yaml:"storage"`
}

// ProviderConfig selects the model endpoint requests are sent to.
type ProviderConfig struct {
	// Preset is a user-facing label for this configuration ("openai", "local").
	Preset string `toml:"preset" json:"preset" yaml:"preset" validate:"required"`

	// APIType is one of completion, responses, sdk or ollama.
	APIType string `toml:"api_type" json:"api_type" yaml:"api_type" validate:"oneof=completion responses sdk ollama"`

	ServiceURL string `toml:"service_url" json:"service_url" yaml:"service_url" validate:"omitempty,url"`
	Model      string `toml:"model" json:"model" yaml:"model" validate:"required"`

	// SECURITY: Never logged; only a SHA-256 fragment leaves this struct.
	APIKey string `toml:"api_key" json:"api_key" yaml:"api_key"`

	SystemPrompt    string   `toml:"system_prompt,omitempty" json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	Temperature     *float64 `toml:"temperature,omitempty" json:"temperature,omitempty" yaml:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	ReasoningEffort string   `toml:"reasoning_effort,omitempty" json:"reasoning_effort,omitempty" yaml:"reasoning_effort,omitempty" validate:"omitempty,oneof=minimal low medium high"`
	MaxTokens       int      `toml:"max_tokens,omitempty" json:"max_tokens,omitempty" yaml:"max_tokens,omitempty" validate:"gte=0"`

	// MaxRetries bounds connection attempts on the HTTP transports.
	MaxRetries int `toml:"max_retries" json:"max_retries" yaml:"max_retries" validate:"gte=1,lte=10"`

	// RequestsPerSecond paces outgoing requests; 0 disables pacing.
	RequestsPerSecond float64 `toml:"requests_per_second" json:"requests_per_second" yaml:"requests_per_second" validate:"gte=0"`
}

// CacheConfig controls the request outcome cache.
type CacheConfig struct {
	Enabled     bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Backend     string `toml:"backend" json:"backend" yaml:"backend" validate:"oneof=memory sqlite redis"`
	Capacity    int    `toml:"capacity" json:"capacity" yaml:"capacity" validate:"gte=1"`
	TTLMinutes  int    `toml:"ttl_minutes" json:"ttl_minutes" yaml:"ttl_minutes" validate:"gte=1"`
	Path        string `toml:"path,omitempty" json:"path,omitempty" yaml:"path,omitempty"`
	RedisAddr   string `toml:"redis_addr,omitempty" json:"redis_addr,omitempty" yaml:"redis_addr,omitempty" validate:"required_if=Backend redis"`
	RedisPrefix string `toml:"redis_prefix,omitempty" json:"redis_prefix,omitempty" yaml:"redis_prefix,omitempty"`
}

// TTL returns the entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLMinutes) * time.Minute
}

// LoggingConfig selects the logger flavour.
type LoggingConfig struct {
	Mode  string `toml:"mode" json:"mode" yaml:"mode" validate:"oneof=production development"`
	Level string `toml:"level" json:"level" yaml:"level" validate:"oneof=debug info warn error"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Addr    string `toml:"addr" json:"addr" yaml:"addr" validate:"omitempty,hostname_port"`
}

// StorageConfig controls where conversations are persisted.
type StorageConfig struct {
	Dir              string `toml:"dir,omitempty" json:"dir,omitempty" yaml:"dir,omitempty"`
	MaxConversations int    `toml:"max_conversations" json:"max_conversations" yaml:"max_conversations" validate:"gte=0"`

	// SummarizeTitles asks the model for a short title after the first reply
	// of a new conversation.
	SummarizeTitles bool `toml:"summarize_titles" json:"summarize_titles" yaml:"summarize_titles"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a new Config with default values.
func Default() *Config {
	return &Config{
		Version: "1",
		Provider: ProviderConfig{
			Preset:     "local",
			APIType:    APITypeOllama,
			ServiceURL: "http://127.0.0.1:11434",
			Model:      "qwen2.5-coder:14b",
			MaxRetries: 3,
		},
		Cache: CacheConfig{
			Enabled:     true,
			Backend:     CacheBackendMemory,
			Capacity:    100,
			TTLMinutes:  30,
			RedisPrefix: "rigstream:cache",
		},
		Logging: LoggingConfig{
			Mode:  "production",
			Level: "info",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
		Storage: StorageConfig{
			MaxConversations: 500,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the rigrun-stream configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".rigrun-stream"), nil
}

// ConfigPathTOML returns the path to the TOML config file.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return util.EnsurePrivateDir(dir)
}

// ensureSecurePermissions checks and fixes permissions on config files.
// SECURITY: Config files should be 0600 (owner read/write only) to protect API keys.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	mode := info.Mode().Perm()
	if mode != util.PrivateFileMode {
		if err := os.Chmod(path, util.PrivateFileMode); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from ~/.rigrun-stream/config.toml, falling back to
// defaults when the file does not exist. Environment overrides are applied
// last, then the result is validated.
func Load() (*Config, error) {
	path, err := ConfigPathTOML()
	if err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadFromPath(path)
		}
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadTOML decodes a TOML file over cfg and fills unset fields with defaults.
// SECURITY: Checks and fixes file permissions on load.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil {
		// Permissions might not be fixable on all systems
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		fmt.Fprintf(os.Stderr, "Warning: unknown config keys in %s: %v\n", path, undecoded)
	}
	return fillDefaults(cfg)
}

// LoadFromPath loads configuration from a specific file path with full validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := &Config{}
	if err := LoadTOML(cfg, path); err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// fillDefaults fills in any missing values with defaults.
func fillDefaults(cfg *Config) error {
	defaults := Default()

	if cfg.Version == "" {
		cfg.Version = defaults.Version
	}

	// Provider
	if cfg.Provider.Preset == "" {
		cfg.Provider.Preset = defaults.Provider.Preset
	}
	if cfg.Provider.APIType == "" {
		cfg.Provider.APIType = defaults.Provider.APIType
	}
	if cfg.Provider.ServiceURL == "" && cfg.Provider.APIType == APITypeOllama {
		cfg.Provider.ServiceURL = defaults.Provider.ServiceURL
	}
	if cfg.Provider.Model == "" {
		cfg.Provider.Model = defaults.Provider.Model
	}
	if cfg.Provider.MaxRetries == 0 {
		cfg.Provider.MaxRetries = defaults.Provider.MaxRetries
	}

	// Cache
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = defaults.Cache.Backend
	}
	if cfg.Cache.Capacity == 0 {
		cfg.Cache.Capacity = defaults.Cache.Capacity
	}
	if cfg.Cache.TTLMinutes == 0 {
		cfg.Cache.TTLMinutes = defaults.Cache.TTLMinutes
	}
	if cfg.Cache.RedisPrefix == "" {
		cfg.Cache.RedisPrefix = defaults.Cache.RedisPrefix
	}

	// Logging
	if cfg.Logging.Mode == "" {
		cfg.Logging.Mode = defaults.Logging.Mode
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}

	// Metrics
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = defaults.Metrics.Addr
	}

	// Storage
	if cfg.Storage.MaxConversations == 0 {
		cfg.Storage.MaxConversations = defaults.Storage.MaxConversations
	}

	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file.
// SECURITY: Writes with 0600 permissions (owner read/write only).
// RELIABILITY: Atomic write with fsync prevents data loss on crash
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# rigrun-stream configuration file\n")
	buf.WriteString("# Generated by rigrun-stream - edit with care\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := util.WritePrivateFile(path, buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// structValidator returns the shared validator, reporting fields by their
// TOML key.
func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("toml"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate validates the configuration and returns ValidateErrors listing
// every problem found.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if err := structValidator().Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return err
		}
		for _, fe := range fieldErrs {
			errs = append(errs, ValidationError{
				Field:   fieldPath(fe.Namespace()),
				Message: describe(fe),
			})
		}
	}

	// Metrics cannot be served without an address.
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, ValidationError{Field: "metrics.addr", Message: "is required when metrics are enabled"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// fieldPath turns "Config.provider.api_type" into "provider.api_type".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_if":
		return fmt.Sprintf("is required when %s", strings.Replace(fe.Param(), " ", " is ", 1))
	case "oneof":
		return fmt.Sprintf("invalid value '%v', must be one of: %s", fe.Value(), strings.ReplaceAll(fe.Param(), " ", ", "))
	case "url":
		return fmt.Sprintf("invalid URL '%v'", fe.Value())
	case "hostname_port":
		return fmt.Sprintf("invalid address '%v', want host:port", fe.Value())
	case "gte":
		return fmt.Sprintf("must be >= %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be <= %s", fe.Param())
	}
	return fmt.Sprintf("failed %s validation", fe.Tag())
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - RIGSTREAM_PRESET: overrides provider.preset
//   - RIGSTREAM_API_TYPE: overrides provider.api_type
//   - RIGSTREAM_SERVICE_URL: overrides provider.service_url
//   - RIGSTREAM_MODEL: overrides provider.model
//   - RIGSTREAM_API_KEY: overrides provider.api_key (OPENAI_API_KEY is used
//     when neither is set)
//   - RIGSTREAM_CACHE_BACKEND: overrides cache.backend
//   - RIGSTREAM_REDIS_ADDR: overrides cache.redis_addr
//   - RIGSTREAM_LOG_LEVEL: overrides logging.level
//   - RIGSTREAM_LOG_MODE: overrides logging.mode
//   - RIGSTREAM_METRICS_ADDR: overrides metrics.addr and enables metrics
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("RIGSTREAM_PRESET"); v != "" {
		c.Provider.Preset = v
	}
	if v := os.Getenv("RIGSTREAM_API_TYPE"); v != "" {
		c.Provider.APIType = strings.ToLower(v)
	}
	if v := os.Getenv("RIGSTREAM_SERVICE_URL"); v != "" {
		c.Provider.ServiceURL = v
	}
	if v := os.Getenv("RIGSTREAM_MODEL"); v != "" {
		c.Provider.Model = v
	}
	if v := os.Getenv("RIGSTREAM_API_KEY"); v != "" {
		c.Provider.APIKey = v
	} else if c.Provider.APIKey == "" {
		c.Provider.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if v := os.Getenv("RIGSTREAM_CACHE_BACKEND"); v != "" {
		c.Cache.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("RIGSTREAM_REDIS_ADDR"); v != "" {
		c.Cache.RedisAddr = v
	}
	if v := os.Getenv("RIGSTREAM_LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("RIGSTREAM_LOG_MODE"); v != "" {
		c.Logging.Mode = strings.ToLower(v)
	}
	if v := os.Getenv("RIGSTREAM_METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
		c.Metrics.Enabled = true
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "cache.capacity").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	if field.Kind() == reflect.Ptr {
		if field.IsNil() {
			return nil, nil
		}
		return field.Elem().Interface(), nil
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation (e.g., "cache.capacity").
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

func (c *Config) lookup(key string) (reflect.Value, error) {
	if key == "" {
		return reflect.Value{}, errors.New("empty key")
	}
	parts := strings.Split(key, ".")

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go field
// equivalent. Acronym fields (ServiceURL, APIKey, TTLMinutes) still match
// because lookup compares case-insensitively.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(string(part[0])))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}
	return result.String()
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if field.Kind() == reflect.Ptr {
		if s, ok := value.(string); ok && s == "" {
			field.Set(reflect.Zero(field.Type()))
			return nil
		}
		elem := reflect.New(field.Type().Elem())
		if err := setFieldValue(elem.Elem(), value); err != nil {
			return err
		}
		field.Set(elem)
		return nil
	}

	// Handle string input with type conversion
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			lower := strings.ToLower(strVal)
			field.SetBool(lower == "1" || lower == "true" || lower == "yes")
			return nil
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return fmt.Errorf("cannot assign nil to %s", field.Type())
	}
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// GetAllKeys returns all configuration keys in dot notation.
func GetAllKeys() []string {
	return []string{
		"version",
		"provider.preset",
		"provider.api_type",
		"provider.service_url",
		"provider.model",
		"provider.api_key",
		"provider.system_prompt",
		"provider.temperature",
		"provider.reasoning_effort",
		"provider.max_tokens",
		"provider.max_retries",
		"provider.requests_per_second",
		"cache.enabled",
		"cache.backend",
		"cache.capacity",
		"cache.ttl_minutes",
		"cache.path",
		"cache.redis_addr",
		"cache.redis_prefix",
		"logging.mode",
		"logging.level",
		"metrics.enabled",
		"metrics.addr",
		"storage.dir",
		"storage.max_conversations",
		"storage.summarize_titles",
	}
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Provider.Temperature != nil {
		t := *c.Provider.Temperature
		clone.Provider.Temperature = &t
	}
	return &clone
}

// String returns a string representation of the config for debugging.
// SECURITY: Redacts the API key so the output is safe to log or display.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Provider.APIKey != "" {
		safe.Provider.APIKey = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}

// =============================================================================
// SINGLETON PATTERN (THREAD-SAFE)
// =============================================================================

var (
	globalConfig     *Config
	globalConfigOnce sync.Once
	globalConfigMu   sync.RWMutex
)

// Global returns the global configuration instance.
// Loads configuration on first access. Thread-safe.
func Global() *Config {
	globalConfigOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			// Log but don't fail - use defaults
			fmt.Fprintf(os.Stderr, "Warning: %v (using defaults)\n", err)
			cfg = Default()
		}
		globalConfigMu.Lock()
		globalConfig = cfg
		globalConfigMu.Unlock()
	})

	globalConfigMu.RLock()
	defer globalConfigMu.RUnlock()
	return globalConfig
}

// ReloadGlobal reloads the global configuration from disk. Thread-safe.
func ReloadGlobal() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	SetGlobal(cfg)
	return nil
}

// SetGlobal sets the global configuration instance. Thread-safe.
func SetGlobal(cfg *Config) {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = cfg
}

// ResetGlobalForTesting resets the global config state for testing.
// This should only be used in tests to reset state between test runs.
func ResetGlobalForTesting() {
	globalConfigMu.Lock()
	defer globalConfigMu.Unlock()
	globalConfig = nil
	globalConfigOnce = sync.Once{}
}
