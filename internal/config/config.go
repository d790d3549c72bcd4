package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sydlexius/bucketscope/internal/logging"
	"github.com/sydlexius/bucketscope/internal/storage"
	"github.com/sydlexius/bucketscope/internal/webhook"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig      `yaml:"server"`
	Logging    logging.Config    `yaml:"logging"`
	FolderSize FolderSizeConfig  `yaml:"folder_size"`
	Buckets    []storage.Bucket  `yaml:"buckets"`
	Webhooks   []webhook.Webhook `yaml:"webhooks"`
	CORS       CORSConfig        `yaml:"cors"`
	RateLimit  RateLimitConfig   `yaml:"rate_limit"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	BasePath string `yaml:"base_path"`
}

// Addr returns the host:port the server listens on.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// FolderSizeConfig holds scan job settings. Zero caps are unlimited.
type FolderSizeConfig struct {
	MaxParallelJobs      int           `yaml:"max_parallel_jobs"`
	ProgressPageInterval int           `yaml:"progress_page_interval"`
	MaxObjects           uint64        `yaml:"max_objects"`
	MaxRuntime           time.Duration `yaml:"max_runtime"`
	Retention            time.Duration `yaml:"retention"`
	SweepInterval        time.Duration `yaml:"sweep_interval"`
	CancelOnDisconnect   bool          `yaml:"cancel_on_disconnect"`
}

// normalize replaces out-of-range values instead of rejecting them. A
// negative cap means unbounded; other non-positive values take defaults.
func (f *FolderSizeConfig) normalize() {
	def := Default().FolderSize
	if f.MaxParallelJobs < 1 {
		f.MaxParallelJobs = def.MaxParallelJobs
	}
	if f.ProgressPageInterval < 1 {
		f.ProgressPageInterval = def.ProgressPageInterval
	}
	if f.MaxRuntime < 0 {
		f.MaxRuntime = 0
	}
	if f.Retention <= 0 {
		f.Retention = def.Retention
	}
	if f.SweepInterval <= 0 {
		f.SweepInterval = def.SweepInterval
	}
}

// CORSConfig holds the origins allowed to open websocket subscriptions.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// RateLimitConfig limits job launches per client IP. Zero Burst disables it.
type RateLimitConfig struct {
	Every time.Duration `yaml:"every"`
	Burst int           `yaml:"burst"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     9080,
			BasePath: "/",
		},
		Logging: logging.DefaultConfig(),
		FolderSize: FolderSizeConfig{
			MaxParallelJobs:      2,
			ProgressPageInterval: 1,
			Retention:            10 * time.Minute,
			SweepInterval:        time.Minute,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"http://localhost:9071", "http://localhost:9080"},
		},
		RateLimit: RateLimitConfig{
			Every: 6 * time.Second,
			Burst: 10,
		},
	}
}

// Load reads config from a YAML file (if it exists) and overrides with
// environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, c)
}

// envVar binds one BS_* variable to a setter.
type envVar struct {
	name string
	set  func(v string) error
}

func (c *Config) envVars() []envVar {
	str := func(dst *string) func(string) error {
		return func(v string) error { *dst = v; return nil }
	}
	integer := func(dst *int) func(string) error {
		return func(v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return err
			}
			*dst = n
			return nil
		}
	}
	duration := func(dst *time.Duration) func(string) error {
		return func(v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return err
			}
			*dst = d
			return nil
		}
	}

	return []envVar{
		{"BS_HOST", str(&c.Server.Host)},
		{"BS_PORT", integer(&c.Server.Port)},
		{"BS_BASE_PATH", str(&c.Server.BasePath)},
		{"BS_LOG_LEVEL", str(&c.Logging.Level)},
		{"BS_LOG_FORMAT", str(&c.Logging.Format)},
		{"BS_LOG_FILE", str(&c.Logging.FilePath)},
		{"BS_MAX_PARALLEL_JOBS", integer(&c.FolderSize.MaxParallelJobs)},
		{"BS_PROGRESS_PAGE_INTERVAL", integer(&c.FolderSize.ProgressPageInterval)},
		{"BS_MAX_OBJECTS", func(v string) error {
			n, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return err
			}
			c.FolderSize.MaxObjects = n
			return nil
		}},
		{"BS_MAX_RUNTIME", duration(&c.FolderSize.MaxRuntime)},
		{"BS_JOB_RETENTION", duration(&c.FolderSize.Retention)},
		{"BS_CANCEL_ON_DISCONNECT", func(v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return err
			}
			c.FolderSize.CancelOnDisconnect = b
			return nil
		}},
		{"BS_CORS_ALLOWED_ORIGINS", func(v string) error {
			var origins []string
			for _, o := range strings.Split(v, ",") {
				if o = strings.TrimSpace(o); o != "" {
					origins = append(origins, o)
				}
			}
			c.CORS.AllowedOrigins = origins
			return nil
		}},
	}
}

func (c *Config) loadFromEnv() error {
	var errs []error
	for _, ev := range c.envVars() {
		v := os.Getenv(ev.name)
		if v == "" {
			continue
		}
		if err := ev.set(v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ev.name, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	c.Server.BasePath = strings.TrimRight(c.Server.BasePath, "/")
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("base_path must start with /: %q", c.Server.BasePath)
	}

	if err := c.Logging.Validate(); err != nil {
		return err
	}

	c.FolderSize.normalize()

	for _, o := range c.CORS.AllowedOrigins {
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			return fmt.Errorf("cors.allowed_origins: invalid origin %q", o)
		}
	}

	if c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit.burst must not be negative")
	}
	if c.RateLimit.Burst > 0 && c.RateLimit.Every <= 0 {
		return fmt.Errorf("rate_limit.every must be positive when burst is set")
	}

	// Bucket and webhook rules live with their owners.
	if err := storage.ValidateBuckets(c.Buckets); err != nil {
		return err
	}
	hooks, err := webhook.Validate(c.Webhooks)
	if err != nil {
		return err
	}
	c.Webhooks = hooks
	return nil
}
