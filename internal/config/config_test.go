package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "fieldsync.db", cfg.DB)
	assert.Equal(t, "retain", cfg.Sync.RejectionPolicy)
	assert.Equal(t, time.Second, cfg.Realtime.BaseDelay.Std())
	assert.Equal(t, 5, cfg.Realtime.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.API.Timeout.Std())
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
db: /var/lib/fieldsync/queue.db
api:
  base_url: https://api.example.test
  timeout: 5s
sync:
  rejection_policy: dead-letter
  flush_interval: 1m
  probe_address: api.example.test:443
realtime:
  url: wss://push.example.test/ws
  identity: op-17
  base_delay: 500ms
  max_attempts: 3
log:
  level: debug
  format: json
`)
	t.Setenv(EnvDB, "")
	t.Setenv(EnvToken, "")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/fieldsync/queue.db", cfg.DB)
	assert.Equal(t, "https://api.example.test", cfg.API.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.API.Timeout.Std())
	assert.Equal(t, "dead-letter", cfg.Sync.RejectionPolicy)
	assert.Equal(t, time.Minute, cfg.Sync.FlushInterval.Std())
	assert.Equal(t, "api.example.test:443", cfg.Sync.ProbeAddress)
	assert.Equal(t, 15*time.Second, cfg.Sync.ProbeInterval.Std(), "unset keys keep defaults")
	assert.Equal(t, "wss://push.example.test/ws", cfg.Realtime.URL)
	assert.Equal(t, "op-17", cfg.Realtime.Identity)
	assert.Equal(t, 500*time.Millisecond, cfg.Realtime.BaseDelay.Std())
	assert.Equal(t, 3, cfg.Realtime.MaxAttempts)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_SchemaViolations(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown policy", "sync:\n  rejection_policy: retry\n", "rejection_policy"},
		{"unknown field", "colour: blue\n", "colour"},
		{"bad duration", "api:\n  timeout: soon\n", "timeout"},
		{"bad url scheme", "realtime:\n  url: http://push.example.test\n", "url"},
		{"attempts out of range", "realtime:\n  max_attempts: 99\n", "max_attempts"},
		{"wrong type", "db: 42\n", "db"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)

			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Contains(t, ve.Details, tt.want)
		})
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "db: [unterminated\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestLoad_EmptyFileUsesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default().Sync, cfg.Sync)
}

func TestLoad_ExplicitPathMustExist(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_DefaultPathMissingFallsBack(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv(EnvDB, "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().DB, cfg.DB)
}

func TestLoad_DefaultPathUsedWhenPresent(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv(EnvDB, "")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "fieldsync"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "fieldsync", "config.yaml"), []byte("db: from-xdg.db\n"), 0o600))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-xdg.db", cfg.DB)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvDB:          "/tmp/env.db",
		EnvToken:       "secret-token",
		EnvAPIURL:      "https://env.example.test",
		EnvRealtimeURL: "wss://env.example.test/ws",
		EnvIdentity:    "op-env",
	}
	cfg := Default()
	cfg.ApplyEnv(func(k string) string { return env[k] })

	assert.Equal(t, "/tmp/env.db", cfg.DB)
	assert.Equal(t, "secret-token", cfg.Token)
	assert.Equal(t, "https://env.example.test", cfg.API.BaseURL)
	assert.Equal(t, "wss://env.example.test/ws", cfg.Realtime.URL)
	assert.Equal(t, "op-env", cfg.Realtime.Identity)
}

func TestApplyEnv_EmptyLeavesValues(t *testing.T) {
	cfg := Default()
	cfg.ApplyEnv(func(string) string { return "" })
	assert.Equal(t, Default(), cfg)
}

func TestString_OmitsToken(t *testing.T) {
	cfg := Default()
	cfg.Token = "secret-token"

	out := cfg.String()
	assert.NotContains(t, out, "secret-token")
	assert.Contains(t, out, "rejection_policy: retain")
	assert.Contains(t, out, "base_delay: 1s")
}

func TestSlogLevel_Unknown(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "chatty"
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}
