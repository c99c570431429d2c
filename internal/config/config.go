// Package config loads fieldsync settings.
//
// Settings come from, in increasing precedence: built-in defaults, a YAML
// file validated against an embedded CUE schema, and environment
// variables. Command-line flags are applied on top by the caller.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Environment variables read by ApplyEnv.
const (
	EnvDB          = "FIELDSYNC_DB"
	EnvToken       = "FIELDSYNC_TOKEN"
	EnvAPIURL      = "FIELDSYNC_API_URL"
	EnvRealtimeURL = "FIELDSYNC_REALTIME_URL"
	EnvIdentity    = "FIELDSYNC_IDENTITY"
)

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration string.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the complete settings tree.
type Config struct {
	DB       string         `yaml:"db"`
	API      APIConfig      `yaml:"api"`
	Sync     SyncConfig     `yaml:"sync"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Log      LogConfig      `yaml:"log"`

	// Token is the bearer credential. It is only read from the
	// environment, never from the file.
	Token string `yaml:"-"`
}

// APIConfig configures the HTTP transport.
type APIConfig struct {
	BaseURL string   `yaml:"base_url"`
	Timeout Duration `yaml:"timeout"`
}

// SyncConfig configures the sync engine and the connectivity prober.
type SyncConfig struct {
	RejectionPolicy string   `yaml:"rejection_policy"`
	FlushInterval   Duration `yaml:"flush_interval"`
	ProbeAddress    string   `yaml:"probe_address"`
	ProbeInterval   Duration `yaml:"probe_interval"`
}

// RealtimeConfig configures the push channel.
type RealtimeConfig struct {
	URL         string   `yaml:"url"`
	Identity    string   `yaml:"identity"`
	BaseDelay   Duration `yaml:"base_delay"`
	MaxAttempts int      `yaml:"max_attempts"`
	DialTimeout Duration `yaml:"dial_timeout"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		DB: "fieldsync.db",
		API: APIConfig{
			Timeout: Duration(30 * time.Second),
		},
		Sync: SyncConfig{
			RejectionPolicy: "retain",
			ProbeInterval:   Duration(15 * time.Second),
		},
		Realtime: RealtimeConfig{
			BaseDelay:   Duration(time.Second),
			MaxAttempts: 5,
			DialTimeout: Duration(10 * time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// ValidationError reports a config file that does not match the schema.
type ValidationError struct {
	Path    string
	Details string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Path, e.Details)
}

// DefaultPath returns $XDG_CONFIG_HOME/fieldsync/config.yaml (or the
// platform equivalent).
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(dir, "fieldsync", "config.yaml"), nil
}

// Load reads settings. An explicit path must exist. An empty path tries
// DefaultPath and falls back to defaults when there is no file there.
// Environment overrides are applied either way.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err == nil {
			path = p
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := Parse(path, data, cfg); err != nil {
				return nil, err
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
			// No user config: defaults apply.
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg.ApplyEnv(os.Getenv)
	return cfg, nil
}

// Parse validates YAML data against the schema and decodes it over cfg.
// name is used in error messages.
func Parse(name string, data []byte, cfg *Config) error {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse config %s: %w", name, err)
	}
	if raw == nil {
		return nil
	}

	if err := validate(raw); err != nil {
		return &ValidationError{Path: name, Details: err.Error()}
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("decode config %s: %w", name, err)
	}
	return nil
}

// validate checks raw against #Config.
func validate(raw map[string]any) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	v := ctx.Encode(raw)
	if err := v.Err(); err != nil {
		return errors.New(cueerrors.Details(err, nil))
	}

	if err := def.Unify(v).Validate(cue.Concrete(true)); err != nil {
		return errors.New(cueerrors.Details(err, nil))
	}
	return nil
}

// ApplyEnv overrides settings from environment variables. Unset or empty
// variables leave the current value.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvDB); v != "" {
		c.DB = v
	}
	if v := getenv(EnvToken); v != "" {
		c.Token = v
	}
	if v := getenv(EnvAPIURL); v != "" {
		c.API.BaseURL = v
	}
	if v := getenv(EnvRealtimeURL); v != "" {
		c.Realtime.URL = v
	}
	if v := getenv(EnvIdentity); v != "" {
		c.Realtime.Identity = v
	}
}

// SlogLevel maps Log.Level to a slog.Level. Unknown values mean info.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// String renders the settings as YAML. Token is never included.
func (c *Config) String() string {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "config: " + strconv.Quote(err.Error())
	}
	return string(out)
}
