// Package config provides configuration loading and management for the KPI sync server.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment variables that override
// application-level settings (e.g., GB_KPI_SYNC_LOG_LEVEL)
const EnvPrefix = "GB_KPI_SYNC"

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		// Validate the path to prevent path traversal attacks
		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Sync     SyncConfig     `yaml:"sync"`
	Server   ServerConfig   `yaml:"server,omitempty"`
}

// DatabaseConfig defines database connection settings
type DatabaseConfig struct {
	// Host is the database server hostname or IP address
	Host string `yaml:"host"`

	// Port is the database server port
	Port int `yaml:"port"`

	// User is the database username
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password
	// This is the recommended approach for production deployments
	// The file should contain only the password with optional trailing whitespace
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Database is the database name
	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`

	// MaxOpenConns is the maximum number of open connections to the database
	MaxOpenConns int32 `yaml:"maxOpenConns,omitempty"`
}

// RedisConfig defines Redis connection settings. Redis backs the task queue,
// the progress counters, and the result store.
type RedisConfig struct {
	// Addr is the Redis server address in host:port form
	Addr string `yaml:"addr"`

	// DB is the logical Redis database number
	DB int `yaml:"db,omitempty"`

	// PasswordFile is the path to a file containing the Redis password
	PasswordFile string `yaml:"passwordFile,omitempty"`
}

// SyncConfig defines the scheduler settings for KPI sync runs
type SyncConfig struct {
	// BatchSize is the number of tenants per batch task
	BatchSize int `yaml:"batchSize,omitempty"`

	// Schedule is the cron expression for the daily full run
	Schedule string `yaml:"schedule,omitempty"`

	// Concurrency is the number of batch tasks one worker process handles
	// in parallel
	Concurrency int `yaml:"concurrency,omitempty"`

	// StaleAfter is how long a run may stay running before the watchdog
	// marks it stalled (e.g., "6h")
	StaleAfter string `yaml:"staleAfter,omitempty"`
}

// ServerConfig defines the HTTP server settings for health and metrics
type ServerConfig struct {
	// Address is the listen address in host:port form
	Address string `yaml:"address,omitempty"`
}

// GetPassword returns the database password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from GB_DATABASE_PASSWORD environment variable
//
// The password from file will have leading/trailing whitespace trimmed.
func (d *DatabaseConfig) GetPassword() (string, error) {
	if d.PasswordFile != "" {
		// Use filepath.Clean to prevent path traversal attacks
		cleanPath := filepath.Clean(d.PasswordFile)

		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", d.PasswordFile, err)
		}

		return strings.TrimSpace(string(data)), nil
	}

	if envPassword := os.Getenv("GB_DATABASE_PASSWORD"); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf(
		"no database password configured: set passwordFile or GB_DATABASE_PASSWORD environment variable",
	)
}

// GetConnectionString builds a PostgreSQL connection string with proper password handling.
// The password is URL-escaped to handle special characters safely.
func (d *DatabaseConfig) GetConnectionString() (string, error) {
	password, err := d.GetPassword()
	if err != nil {
		return "", err
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	escapedPassword := url.QueryEscape(password)

	connString := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User,
		escapedPassword,
		d.Host,
		d.Port,
		d.Database,
		sslMode,
	)

	return connString, nil
}

// GetPassword returns the Redis password from PasswordFile or the
// GB_REDIS_PASSWORD environment variable. An unauthenticated Redis is
// common in development, so no password configured is not an error.
func (r *RedisConfig) GetPassword() (string, error) {
	if r.PasswordFile != "" {
		cleanPath := filepath.Clean(r.PasswordFile)

		data, err := os.ReadFile(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", r.PasswordFile, err)
		}

		return strings.TrimSpace(string(data)), nil
	}

	return os.Getenv("GB_REDIS_PASSWORD"), nil
}

// GetBatchSize returns the configured batch size, using 20 if not specified
func (s *SyncConfig) GetBatchSize() int {
	if s.BatchSize <= 0 {
		return 20
	}
	return s.BatchSize
}

// GetSchedule returns the cron schedule for the daily full run, defaulting
// to 02:00 UTC
func (s *SyncConfig) GetSchedule() string {
	if s.Schedule == "" {
		return "0 2 * * *"
	}
	return s.Schedule
}

// GetConcurrency returns the worker concurrency, using 4 if not specified
func (s *SyncConfig) GetConcurrency() int {
	if s.Concurrency <= 0 {
		return 4
	}
	return s.Concurrency
}

// GetStaleAfter returns the parsed stale-run deadline, using 6h if not
// specified
func (s *SyncConfig) GetStaleAfter() time.Duration {
	if s.StaleAfter == "" {
		return 6 * time.Hour
	}
	d, err := time.ParseDuration(s.StaleAfter)
	if err != nil {
		return 6 * time.Hour
	}
	return d
}

// GetAddress returns the HTTP listen address, using ":8080" if not specified
func (s *ServerConfig) GetAddress() string {
	if s.Address == "" {
		return ":8080"
	}
	return s.Address
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	// As of now, this is required because there's no other options to load
	// configuration. Once we add more options, we can remove this check.
	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateRedis(); err != nil {
		return err
	}
	return c.validateSync()
}

func (c *Config) validateDatabase() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("database.port must be between 1 and 65535, got %d", c.Database.Port)
	}
	if c.Database.User == "" {
		return fmt.Errorf("database.user is required")
	}
	if c.Database.Database == "" {
		return fmt.Errorf("database.database is required")
	}
	return nil
}

func (c *Config) validateRedis() error {
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("redis.db must be non-negative, got %d", c.Redis.DB)
	}
	return nil
}

func (c *Config) validateSync() error {
	if c.Sync.BatchSize < 0 {
		return fmt.Errorf("sync.batchSize must be positive, got %d", c.Sync.BatchSize)
	}
	if c.Sync.StaleAfter != "" {
		if _, err := time.ParseDuration(c.Sync.StaleAfter); err != nil {
			return fmt.Errorf("sync.staleAfter must be a valid duration (e.g., '6h'): %w", err)
		}
	}
	return nil
}
