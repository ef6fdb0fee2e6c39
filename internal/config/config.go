package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"unical/internal/model"
)

// UpstreamConfig controls requests to the timetable provider.
type UpstreamConfig struct {
	// TimeoutSeconds bounds each per-year request. Expiry counts as an
	// ordinary fetch failure.
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`

	UserAgent string `yaml:"user_agent" json:"user_agent"`

	// RequestsPerSecond / Burst rate-limit outbound requests. 0 disables.
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int     `yaml:"burst" json:"burst"`

	// MaxConcurrent caps year fetches in flight per aggregation. 0 means
	// no cap.
	MaxConcurrent int `yaml:"max_concurrent" json:"max_concurrent"`

	// CacheDir holds per-URL response bodies used when upstream is down.
	// Empty disables the cache.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
}

// Timeout returns TimeoutSeconds as a duration.
func (u UpstreamConfig) Timeout() time.Duration {
	return time.Duration(u.TimeoutSeconds) * time.Second
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API and feeds.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone of upstream timestamps without an offset
	// and of exported feeds.
	Timezone string `yaml:"timezone" json:"timezone"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// RefreshCron is a cron-style schedule string (e.g. "0 */6 * * *")
	// for warming the upstream cache of every stored profile. Empty
	// disables background refresh.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	Upstream UpstreamConfig `yaml:"upstream" json:"upstream"`

	// StorePath is the profile database directory. Empty keeps profiles
	// in memory only.
	StorePath string `yaml:"store_path" json:"store_path"`

	// ProgramYears overrides the detected number of years, keyed by
	// program name.
	ProgramYears map[string]int `yaml:"program_years" json:"program_years"`

	// Timetables is used when a request names neither a profile nor URLs.
	Timetables []model.Timetable `yaml:"timetables" json:"timetables"`

	// CORSOrigins lists allowed browser origins; empty allows any.
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health and /calendar.ics.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      "127.0.0.1:3001",
		Timezone:    "Europe/Rome",
		LogLevel:    "info",
		RefreshCron: "0 */6 * * *",
		Upstream: UpstreamConfig{
			TimeoutSeconds:    10,
			RequestsPerSecond: 10,
			Burst:             10,
			MaxConcurrent:     8,
		},
		ProgramYears: map[string]int{},
		Timetables:   []model.Timetable{},
		CORSOrigins:  []string{},
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:3001"
	}
	if c.Timezone == "" {
		c.Timezone = "Europe/Rome"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Upstream.TimeoutSeconds <= 0 {
		c.Upstream.TimeoutSeconds = 10
	}
	if c.Upstream.RequestsPerSecond < 0 {
		c.Upstream.RequestsPerSecond = 0
	}
	if c.Upstream.MaxConcurrent < 0 {
		c.Upstream.MaxConcurrent = 0
	}
	if c.Upstream.RequestsPerSecond > 0 && c.Upstream.Burst <= 0 {
		c.Upstream.Burst = 1
	}
	if c.ProgramYears == nil {
		c.ProgramYears = map[string]int{}
	}
	for name, n := range c.ProgramYears {
		// Years are bounded by the longest program type.
		if n <= 0 || n > 6 {
			delete(c.ProgramYears, name)
		}
	}
	if c.Timetables == nil {
		c.Timetables = []model.Timetable{}
	}
	if c.CORSOrigins == nil {
		c.CORSOrigins = []string{}
	}
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
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
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path atomically
// (temp file + rename) with 0600 permissions.
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

	tmp, err := os.CreateTemp(dir, ".unical-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
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
