/*
Package config loads the service configuration.

SOURCES (later wins):
  1. Built-in defaults (Default)
  2. YAML file, when a path is given
  3. .env file in the working directory, if present
  4. TIMESLOTS_* environment variables

EXAMPLE FILE:
  env: production
  log_level: info
  http:
    port: 8080
    write_timeout: 15s
  store:
    path: timeslots.db
  seed:
    enabled: true
    start: "2016-01-01T07:00:00+11:00"
    end: "2016-01-01T07:24:00+11:00"
    interval: 6m

SEE ALSO:
  - watch.go: Hot reload of the file
  - cmd/server/main.go: Flag overrides on top of Load
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/warp/timeslots/timeslot"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultPort            = 8080
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultStorePath       = ":memory:"
	DefaultSeedStart       = "2016-01-01T07:00:00+11:00"
	DefaultSeedEnd         = "2016-01-01T07:24:00+11:00"
	DefaultSeedInterval    = 6 * time.Minute
)

// Environment variables read after the file.
const (
	EnvEnv      = "TIMESLOTS_ENV"
	EnvLogLevel = "TIMESLOTS_LOG_LEVEL"
	EnvPort     = "TIMESLOTS_PORT"
	EnvDB       = "TIMESLOTS_DB"
)

// Config is the top-level configuration.
type Config struct {
	// Env selects the logger flavor: "production" or anything else.
	Env      string      `yaml:"env"`
	LogLevel string      `yaml:"log_level"`
	HTTP     HTTPConfig  `yaml:"http"`
	Store    StoreConfig `yaml:"store"`
	Seed     SeedConfig  `yaml:"seed"`
}

// HTTPConfig holds listener settings.
type HTTPConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// AllowedOrigins feeds the CORS middleware. Empty disables CORS headers.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// StoreConfig points at the SQLite database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// SeedConfig describes the slots inserted at startup.
type SeedConfig struct {
	Enabled  *bool         `yaml:"enabled"`
	Start    string        `yaml:"start"`
	End      string        `yaml:"end"`
	Interval time.Duration `yaml:"interval"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads path (optional), then overlays .env and the environment.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// A missing .env is normal.
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvEnv); v != "" {
		c.Env = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvDB); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPort, err)
		}
		c.HTTP.Port = port
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Env == "" {
		c.Env = DefaultEnv
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = DefaultPort
	}
	if c.HTTP.ReadTimeout == 0 {
		c.HTTP.ReadTimeout = DefaultReadTimeout
	}
	if c.HTTP.WriteTimeout == 0 {
		c.HTTP.WriteTimeout = DefaultWriteTimeout
	}
	if c.HTTP.IdleTimeout == 0 {
		c.HTTP.IdleTimeout = DefaultIdleTimeout
	}
	if c.HTTP.ShutdownTimeout == 0 {
		c.HTTP.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Store.Path == "" {
		c.Store.Path = DefaultStorePath
	}
	if c.Seed.Enabled == nil {
		enabled := true
		c.Seed.Enabled = &enabled
	}
	if c.Seed.Start == "" {
		c.Seed.Start = DefaultSeedStart
	}
	if c.Seed.End == "" {
		c.Seed.End = DefaultSeedEnd
	}
	if c.Seed.Interval == 0 {
		c.Seed.Interval = DefaultSeedInterval
	}
}

// Validate checks values that defaults cannot fix.
func (c *Config) Validate() error {
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port %d out of range", c.HTTP.Port)
	}
	if c.Store.Path == "" {
		return errors.New("store.path is required")
	}
	if _, err := c.SeedRange(); err != nil {
		return err
	}
	return nil
}

// SeedEnabled reports whether the store is seeded at startup.
func (c *Config) SeedEnabled() bool {
	return c.Seed.Enabled == nil || *c.Seed.Enabled
}

// SeedRange parses the seed bounds into a validated range.
func (c *Config) SeedRange() (timeslot.Range, error) {
	start, err := timeslot.Parse(c.Seed.Start)
	if err != nil {
		return timeslot.Range{}, fmt.Errorf("seed.start: %w", err)
	}
	end, err := timeslot.Parse(c.Seed.End)
	if err != nil {
		return timeslot.Range{}, fmt.Errorf("seed.end: %w", err)
	}
	r, err := timeslot.NewRange(start, end, c.Seed.Interval)
	if err != nil {
		return timeslot.Range{}, fmt.Errorf("seed.interval: %w", err)
	}
	return r, nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTP.Port)
}
