// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/agentchat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete agentchat configuration.
type Config struct {
	Backend BackendConfig `toml:"backend" json:"backend"`
	Stream  StreamConfig  `toml:"stream" json:"stream"`
	Cache   CacheConfig   `toml:"cache" json:"cache"`
	Log     LogConfig     `toml:"log" json:"log"`
	UI      UIConfig      `toml:"ui" json:"ui"`
}

// BackendConfig contains the agent backend connection settings.
type BackendConfig struct {
	// BaseURL is the server root, e.g. http://localhost:8000
	BaseURL string `toml:"base_url" json:"base_url"`

	// AgentID selects the agent exchanges are sent to.
	AgentID string `toml:"agent_id" json:"agent_id"`

	// Token is sent as a bearer token when set.
	Token string `toml:"token" json:"token,omitempty"`

	// RequestTimeout bounds non-streaming requests. Streams are bounded by
	// cancellation only.
	RequestTimeout Duration `toml:"request_timeout" json:"request_timeout"`

	// MaxRetries bounds retries of idempotent requests.
	MaxRetries int `toml:"max_retries" json:"max_retries"`
}

// StreamConfig contains response stream settings.
type StreamConfig struct {
	// RenderInterval is the minimum time between visible refreshes.
	RenderInterval Duration `toml:"render_interval" json:"render_interval"`

	// MaxRecordSize caps a single stream record in bytes.
	MaxRecordSize int `toml:"max_record_size" json:"max_record_size"`
}

// CacheConfig contains local chat cache configuration.
type CacheConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled"`
	Path    string `toml:"path" json:"path"`
}

// LogConfig contains logger configuration.
type LogConfig struct {
	Level  string `toml:"level" json:"level"`
	Format string `toml:"format" json:"format"`
	// Output is "stderr" or "file".
	Output string `toml:"output" json:"output"`
	File   string `toml:"file" json:"file"`
}

// UIConfig contains UI configuration.
type UIConfig struct {
	Theme    string `toml:"theme" json:"theme"`
	WordWrap bool   `toml:"word_wrap" json:"word_wrap"`
}

// Duration is a time.Duration written as a string ("30s") in config files.
type Duration struct {
	time.Duration
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

const (
	DefaultBaseURL        = "http://localhost:8000"
	DefaultRequestTimeout = 30 * time.Second
	DefaultMaxRetries     = 3
	DefaultRenderInterval = 33 * time.Millisecond
	DefaultMaxRecordSize  = 1 << 20
)

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL:        DefaultBaseURL,
			RequestTimeout: Duration{DefaultRequestTimeout},
			MaxRetries:     DefaultMaxRetries,
		},
		Stream: StreamConfig{
			RenderInterval: Duration{DefaultRenderInterval},
			MaxRecordSize:  DefaultMaxRecordSize,
		},
		Cache: CacheConfig{
			Enabled: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		UI: UIConfig{
			Theme:    "dark",
			WordWrap: true,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// Dir returns the agentchat configuration directory path.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".agentchat"), nil
}

// Path returns the path to the TOML config file.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// inDir resolves name inside the config directory.
func inDir(name string) string {
	dir, err := Dir()
	if err != nil {
		return name
	}
	return filepath.Join(dir, name)
}

// ensureSecurePermissions tightens a config file that holds a token.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		if err := os.Chmod(path, 0o600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads ~/.agentchat/config.toml, falling back to defaults when the file
// does not exist. Environment overrides are applied last.
func Load() (*Config, error) {
	if path, err := Path(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return LoadFromPath(path)
		}
	}

	cfg := Default()
	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file with full validation.
// Keys missing from the file keep their default values.
func LoadFromPath(path string) (*Config, error) {
	cfg, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	if cfg.Backend.Token != "" {
		_ = ensureSecurePermissions(path)
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ReadFile decodes path over the defaults without environment overrides or
// derived defaults, which is what an editor of the file wants. A missing file
// yields the defaults.
func ReadFile(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save writes cfg to the default config file.
func Save(cfg *Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	return SaveTo(cfg, path)
}

// SaveTo writes cfg as TOML to path with owner-only permissions.
func SaveTo(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# agentchat configuration file\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.WriteFileAtomic(path, buf.Bytes(), 0o600, 0o700); err != nil {
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
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

var (
	validLevels  = []string{"debug", "info", "warn", "error"}
	validFormats = []string{"text", "json", "logfmt"}
	validOutputs = []string{"stderr", "file"}
	validThemes  = []string{"dark", "light", "auto", "notty"}
)

// Validate validates the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if u, err := url.Parse(c.Backend.BaseURL); err != nil || u.Host == "" {
		add("backend.base_url", "invalid URL %q", c.Backend.BaseURL)
	} else if u.Scheme != "http" && u.Scheme != "https" {
		add("backend.base_url", "scheme must be http or https, got %q", u.Scheme)
	}
	if c.Backend.RequestTimeout.Duration < 0 {
		add("backend.request_timeout", "must not be negative")
	}
	if c.Backend.MaxRetries < 0 || c.Backend.MaxRetries > 10 {
		add("backend.max_retries", "must be between 0 and 10, got %d", c.Backend.MaxRetries)
	}

	if c.Stream.RenderInterval.Duration < time.Millisecond || c.Stream.RenderInterval.Duration > time.Second {
		add("stream.render_interval", "must be between 1ms and 1s, got %s", c.Stream.RenderInterval)
	}
	if c.Stream.MaxRecordSize < 1024 {
		add("stream.max_record_size", "must be at least 1024 bytes, got %d", c.Stream.MaxRecordSize)
	}

	if !oneOf(c.Log.Level, validLevels) {
		add("log.level", "must be one of %s", strings.Join(validLevels, ", "))
	}
	if !oneOf(c.Log.Format, validFormats) {
		add("log.format", "must be one of %s", strings.Join(validFormats, ", "))
	}
	if !oneOf(c.Log.Output, validOutputs) {
		add("log.output", "must be one of %s", strings.Join(validOutputs, ", "))
	}
	if !oneOf(c.UI.Theme, validThemes) {
		add("ui.theme", "must be one of %s", strings.Join(validThemes, ", "))
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func oneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(v, a) {
			return true
		}
	}
	return false
}

// SetDefaults fills zero-value fields with defaults and normalizes values.
func (c *Config) SetDefaults() {
	d := Default()

	c.Backend.BaseURL = strings.TrimRight(strings.TrimSpace(c.Backend.BaseURL), "/")
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = d.Backend.BaseURL
	}
	c.Backend.AgentID = strings.TrimSpace(c.Backend.AgentID)
	if c.Backend.RequestTimeout.Duration == 0 {
		c.Backend.RequestTimeout = d.Backend.RequestTimeout
	}
	if c.Stream.RenderInterval.Duration == 0 {
		c.Stream.RenderInterval = d.Stream.RenderInterval
	}
	if c.Stream.MaxRecordSize == 0 {
		c.Stream.MaxRecordSize = d.Stream.MaxRecordSize
	}
	if c.Cache.Path == "" {
		c.Cache.Path = inDir("cache.db")
	}

	c.Log.Level = strings.ToLower(c.Log.Level)
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = d.Log.Format
	}
	if c.Log.Output == "" {
		c.Log.Output = d.Log.Output
	}
	if c.Log.File == "" {
		c.Log.File = inDir("agentchat.log")
	}
	if c.UI.Theme == "" {
		c.UI.Theme = d.UI.Theme
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - AGENTCHAT_URL: overrides backend.base_url
//   - AGENTCHAT_AGENT: overrides backend.agent_id
//   - AGENTCHAT_TOKEN: overrides backend.token
//   - AGENTCHAT_LOG_LEVEL: overrides log.level
//   - AGENTCHAT_NO_CACHE: set to "1" or "true" to disable the local cache
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("AGENTCHAT_URL"); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv("AGENTCHAT_AGENT"); v != "" {
		c.Backend.AgentID = v
	}
	if v := os.Getenv("AGENTCHAT_TOKEN"); v != "" {
		c.Backend.Token = v
	}
	if v := os.Getenv("AGENTCHAT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("AGENTCHAT_NO_CACHE"); v == "1" || strings.EqualFold(v, "true") {
		c.Cache.Enabled = false
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value by its file key, e.g. "backend.agent_id".
func (c *Config) Get(key string) (any, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	if d, ok := field.Interface().(Duration); ok {
		return d.String(), nil
	}
	return field.Interface(), nil
}

// Set sets a configuration value by its file key from its string form.
func (c *Config) Set(key, value string) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

// lookup walks the struct by toml tag names.
func (c *Config) lookup(key string) (reflect.Value, error) {
	parts := strings.Split(strings.TrimSpace(key), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return reflect.Value{}, fmt.Errorf("invalid key %q: want section.name", key)
	}

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		field, ok := fieldByTag(v, part)
		if !ok {
			return reflect.Value{}, fmt.Errorf("unknown key: %s", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	if v.Kind() == reflect.Struct && v.Type() != reflect.TypeOf(Duration{}) {
		return reflect.Value{}, fmt.Errorf("key %s is a section", key)
	}
	return v, nil
}

func fieldByTag(v reflect.Value, name string) (reflect.Value, bool) {
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, false
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag, _, _ := strings.Cut(t.Field(i).Tag.Get("toml"), ",")
		if tag == name {
			return v.Field(i), true
		}
	}
	return reflect.Value{}, false
}

// setFieldValue parses value into field according to the field's type.
func setFieldValue(field reflect.Value, value string) error {
	if field.Type() == reflect.TypeOf(Duration{}) {
		var d Duration
		if err := d.UnmarshalText([]byte(value)); err != nil {
			return fmt.Errorf("invalid duration value: %w", err)
		}
		field.Set(reflect.ValueOf(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer value: %w", err)
		}
		field.SetInt(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value: %w", err)
		}
		field.SetBool(b)
	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}

// Keys returns all configuration keys in dot notation.
func Keys() []string {
	var keys []string
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		section := t.Field(i)
		sname, _, _ := strings.Cut(section.Tag.Get("toml"), ",")
		for j := 0; j < section.Type.NumField(); j++ {
			name, _, _ := strings.Cut(section.Type.Field(j).Tag.Get("toml"), ",")
			keys = append(keys, sname+"."+name)
		}
	}
	return keys
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Clone creates a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String returns the config as indented JSON with the token redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Backend.Token != "" {
		safe.Backend.Token = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}
