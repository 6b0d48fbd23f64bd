package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// NOTE: the YAML file is the source of truth. TIMETABLE_* environment
// variables (a .env file included) override it at startup but are never
// written back by Save.

const (
	DefaultPath = "/etc/timetable/config.yaml"

	defaultListen         = "127.0.0.1:8080"
	defaultTimezone       = "UTC"
	defaultRefresh        = "*/30 * * * *"
	defaultLogLevel       = "info"
	defaultDatabase       = "/var/lib/timetable/timetable.db"
	defaultTimeoutSeconds = 15
	defaultUserAgent      = "timetable/0.1"
	defaultExportWeeks    = 8
)

// ProviderConfig points at the institution's timetable site.
type ProviderConfig struct {
	// BaseURL is the site root, e.g. "https://timetable.example.edu".
	BaseURL        string `yaml:"base_url" json:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
	UserAgent      string `yaml:"user_agent" json:"user_agent"`
}

// Timeout returns TimeoutSeconds as a duration.
func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone "today" and lesson times are read in
	// (e.g. "Europe/Berlin").
	Timezone string `yaml:"timezone" json:"timezone"`

	// Refresh is a five-field cron schedule for the background refresh of
	// the picked group and teacher. Empty disables it.
	Refresh string `yaml:"refresh" json:"refresh"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// Database is the sqlite file of the schedule cache.
	Database string `yaml:"database" json:"database"`

	Provider ProviderConfig `yaml:"provider" json:"provider"`

	// ExportWeeks is how many times each lesson repeats in the calendar
	// export, every other week.
	ExportWeeks int `yaml:"export_weeks" json:"export_weeks"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   defaultListen,
		Timezone: defaultTimezone,
		Refresh:  defaultRefresh,
		LogLevel: defaultLogLevel,
		Database: defaultDatabase,
		Provider: ProviderConfig{
			TimeoutSeconds: defaultTimeoutSeconds,
			UserAgent:      defaultUserAgent,
		},
		ExportWeeks: defaultExportWeeks,
	}
}

// Normalize fills in missing/zero values with defaults so that
// partially-filled configs still behave.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	switch c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel)); c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		c.LogLevel = defaultLogLevel
	}
	if c.Database == "" {
		c.Database = defaultDatabase
	}
	c.Provider.BaseURL = strings.TrimSpace(c.Provider.BaseURL)
	if c.Provider.TimeoutSeconds <= 0 {
		c.Provider.TimeoutSeconds = defaultTimeoutSeconds
	}
	if c.Provider.UserAgent == "" {
		c.Provider.UserAgent = defaultUserAgent
	}
	if c.ExportWeeks <= 0 {
		c.ExportWeeks = defaultExportWeeks
	}
	// Half-filled credentials would lock everyone out.
	if c.BasicAuth != nil && (c.BasicAuth.Username == "" || c.BasicAuth.Password == "") {
		c.BasicAuth = nil
	}
}

// Validate reports settings the program cannot run with. Call it after
// Normalize and ApplyEnv.
func (c *Config) Validate() error {
	var errs []error
	if c.Provider.BaseURL == "" {
		errs = append(errs, errors.New("provider.base_url is required"))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	if c.Refresh != "" {
		if _, err := cron.ParseStandard(c.Refresh); err != nil {
			errs = append(errs, fmt.Errorf("refresh %q: %w", c.Refresh, err))
		}
	}
	return errors.Join(errs...)
}

// Location loads the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.Normalize()

	return cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".timetable-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}

// Environment variables read by ApplyEnv.
const (
	EnvListen          = "TIMETABLE_LISTEN"
	EnvTimezone        = "TIMETABLE_TIMEZONE"
	EnvRefresh         = "TIMETABLE_REFRESH"
	EnvLogLevel        = "TIMETABLE_LOG_LEVEL"
	EnvDatabase        = "TIMETABLE_DATABASE"
	EnvProviderBaseURL = "TIMETABLE_PROVIDER_BASE_URL"
	EnvProviderTimeout = "TIMETABLE_PROVIDER_TIMEOUT_SECONDS"
	EnvProviderAgent   = "TIMETABLE_PROVIDER_USER_AGENT"
	EnvExportWeeks     = "TIMETABLE_EXPORT_WEEKS"
	EnvAuthUsername    = "TIMETABLE_BASIC_AUTH_USERNAME"
	EnvAuthPassword    = "TIMETABLE_BASIC_AUTH_PASSWORD"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides fields whose variable is set. Unparsable numbers are
// ignored. Both credentials must be set to enable Basic Auth this way.
func (c *Config) ApplyEnv(lookup LookupFunc) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}

	str(EnvListen, &c.Listen)
	str(EnvTimezone, &c.Timezone)
	str(EnvRefresh, &c.Refresh)
	str(EnvLogLevel, &c.LogLevel)
	str(EnvDatabase, &c.Database)
	str(EnvProviderBaseURL, &c.Provider.BaseURL)
	num(EnvProviderTimeout, &c.Provider.TimeoutSeconds)
	str(EnvProviderAgent, &c.Provider.UserAgent)
	num(EnvExportWeeks, &c.ExportWeeks)

	user, uok := lookup(EnvAuthUsername)
	pass, pok := lookup(EnvAuthPassword)
	if uok && pok {
		c.BasicAuth = &BasicAuthConfig{Username: user, Password: pass}
	}

	c.Normalize()
}

// MapLookup adapts a map, such as the one godotenv.Read returns, to a
// LookupFunc.
func MapLookup(m map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}
