// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"AGENTCHAT_URL", "AGENTCHAT_AGENT", "AGENTCHAT_TOKEN", "AGENTCHAT_LOG_LEVEL", "AGENTCHAT_NO_CACHE"} {
		t.Setenv(k, "")
	}
}

func TestConfig_Default(t *testing.T) {
	cfg := Default()
	cfg.SetDefaults()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultBaseURL, cfg.Backend.BaseURL)
	assert.Equal(t, DefaultRenderInterval, cfg.Stream.RenderInterval.Duration)
	assert.Equal(t, DefaultMaxRecordSize, cfg.Stream.MaxRecordSize)
	assert.True(t, cfg.Cache.Enabled)
	assert.True(t, strings.HasSuffix(cfg.Cache.Path, "cache.db"))
	assert.True(t, strings.HasSuffix(cfg.Log.File, "agentchat.log"))
}

func TestConfig_LoadFromPath(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
[backend]
base_url = "https://agents.example.com/"
agent_id = "finance-agent"
request_timeout = "45s"

[stream]
render_interval = "50ms"

[log]
level = "DEBUG"
`)

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "https://agents.example.com", cfg.Backend.BaseURL)
	assert.Equal(t, "finance-agent", cfg.Backend.AgentID)
	assert.Equal(t, 45*time.Second, cfg.Backend.RequestTimeout.Duration)
	assert.Equal(t, 50*time.Millisecond, cfg.Stream.RenderInterval.Duration)
	assert.Equal(t, "debug", cfg.Log.Level)

	// Untouched keys keep their defaults.
	assert.Equal(t, DefaultMaxRetries, cfg.Backend.MaxRetries)
	assert.True(t, cfg.UI.WordWrap)
}

func TestConfig_LoadRejectsUnknownKeys(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "[backend]\nbase_url = \"http://x\"\nagent = \"typo\"\n")

	_, err := LoadFromPath(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend.agent")
}

func TestConfig_LoadRejectsBadDuration(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "[stream]\nrender_interval = \"soon\"\n")

	_, err := LoadFromPath(path)
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"bad url", func(c *Config) { c.Backend.BaseURL = "not a url" }, "backend.base_url"},
		{"bad scheme", func(c *Config) { c.Backend.BaseURL = "ftp://host" }, "backend.base_url"},
		{"retries", func(c *Config) { c.Backend.MaxRetries = 99 }, "backend.max_retries"},
		{"interval too long", func(c *Config) { c.Stream.RenderInterval = Duration{5 * time.Second} }, "stream.render_interval"},
		{"record size", func(c *Config) { c.Stream.MaxRecordSize = 10 }, "stream.max_record_size"},
		{"level", func(c *Config) { c.Log.Level = "verbose" }, "log.level"},
		{"format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"output", func(c *Config) { c.Log.Output = "syslog" }, "log.output"},
		{"theme", func(c *Config) { c.UI.Theme = "neon" }, "ui.theme"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			var verrs ValidateErrors
			require.ErrorAs(t, err, &verrs)
			require.Len(t, verrs, 1)
			assert.Equal(t, tt.field, verrs[0].Field)
		})
	}
}

func TestConfig_ValidateCollectsAll(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "loud"
	cfg.UI.Theme = "neon"

	var verrs ValidateErrors
	require.ErrorAs(t, cfg.Validate(), &verrs)
	assert.Len(t, verrs, 2)
	assert.Contains(t, verrs.Error(), "log.level")
	assert.Contains(t, verrs.Error(), "ui.theme")
}

func TestConfig_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("AGENTCHAT_URL", "http://override:9000")
	t.Setenv("AGENTCHAT_AGENT", "env-agent")
	t.Setenv("AGENTCHAT_TOKEN", "secret")
	t.Setenv("AGENTCHAT_LOG_LEVEL", "warn")
	t.Setenv("AGENTCHAT_NO_CACHE", "true")

	path := writeConfig(t, "[backend]\nagent_id = \"file-agent\"\n")
	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, "http://override:9000", cfg.Backend.BaseURL)
	assert.Equal(t, "env-agent", cfg.Backend.AgentID)
	assert.Equal(t, "secret", cfg.Backend.Token)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.False(t, cfg.Cache.Enabled)
}

func TestReadFile_SkipsEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("AGENTCHAT_AGENT", "from-env")

	cfg, err := ReadFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	path := writeConfig(t, "[backend]\nagent_id = \"from-file\"\n")
	cfg, err = ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Backend.AgentID)
	assert.Empty(t, cfg.Cache.Path)

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", loaded.Backend.AgentID)
}

func TestConfig_SaveRoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := Default()
	cfg.Backend.AgentID = "saved-agent"
	cfg.Backend.Token = "tok"
	cfg.Stream.RenderInterval = Duration{20 * time.Millisecond}
	cfg.SetDefaults()
	require.NoError(t, SaveTo(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestConfig_GetSet(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Set("backend.agent_id", "a1"))
	require.NoError(t, cfg.Set("backend.max_retries", "5"))
	require.NoError(t, cfg.Set("stream.render_interval", "16ms"))
	require.NoError(t, cfg.Set("ui.word_wrap", "false"))

	v, err := cfg.Get("backend.agent_id")
	require.NoError(t, err)
	assert.Equal(t, "a1", v)
	v, err = cfg.Get("stream.render_interval")
	require.NoError(t, err)
	assert.Equal(t, "16ms", v)
	assert.Equal(t, 5, cfg.Backend.MaxRetries)
	assert.False(t, cfg.UI.WordWrap)

	assert.Error(t, cfg.Set("backend.nope", "x"))
	assert.Error(t, cfg.Set("backend", "x"))
	assert.Error(t, cfg.Set("backend.max_retries", "many"))
	_, err = cfg.Get("ui")
	assert.Error(t, err)
}

func TestConfig_Keys(t *testing.T) {
	keys := Keys()
	assert.Contains(t, keys, "backend.base_url")
	assert.Contains(t, keys, "stream.render_interval")
	assert.Contains(t, keys, "ui.word_wrap")

	cfg := Default()
	for _, k := range keys {
		_, err := cfg.Get(k)
		assert.NoError(t, err, k)
	}
}

func TestConfig_StringRedactsToken(t *testing.T) {
	cfg := Default()
	cfg.Backend.Token = "super-secret"

	s := cfg.String()
	assert.NotContains(t, s, "super-secret")
	assert.Contains(t, s, "[REDACTED]")
	assert.Equal(t, "super-secret", cfg.Backend.Token)
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "[backend]\nagent_id = \"before\"\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	logger := log.NewWithOptions(&strings.Builder{}, log.Options{Level: log.FatalLevel})
	require.NoError(t, Watch(ctx, path, logger, func(cfg *Config) { changes <- cfg }))

	// Invalid content is skipped.
	require.NoError(t, os.WriteFile(path, []byte("[backend\n"), 0o600))
	time.Sleep(3 * watchDebounce)
	require.NoError(t, os.WriteFile(path, []byte("[backend]\nagent_id = \"after\"\n"), 0o600))

	select {
	case cfg := <-changes:
		assert.Equal(t, "after", cfg.Backend.AgentID)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload observed")
	}
}
