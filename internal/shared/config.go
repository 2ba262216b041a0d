package shared

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

const (
	// MaxBatchSize is the KV store's bulk write/delete item limit.
	MaxBatchSize = 10000
	// MaxListPageSize is the KV store's key listing page limit.
	MaxListPageSize = 1000
)

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Database DatabaseConfig `toml:"database"`
	Server   ServerConfig   `toml:"server"`
	KV       KVConfig       `toml:"kv"`
	Log      LogConfig      `toml:"log"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	ReadTimeout  int    `toml:"read_timeout"`
	WriteTimeout int    `toml:"write_timeout"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Timeouts returns the read and write timeouts as durations.
func (s ServerConfig) Timeouts() (time.Duration, time.Duration) {
	return time.Duration(s.ReadTimeout) * time.Second, time.Duration(s.WriteTimeout) * time.Second
}

// KVConfig contains the external KV store connection settings.
//
// An empty AccountID selects the in-memory store.
type KVConfig struct {
	BaseURL      string  `toml:"base_url"`
	AccountID    string  `toml:"account_id"`
	APIToken     string  `toml:"api_token"`
	RateLimit    float64 `toml:"rate_limit"`
	ListPageSize int     `toml:"list_page_size"`
	BatchSize    int     `toml:"batch_size"`
}

// LocalDev reports whether no remote account is configured.
func (k KVConfig) LocalDev() bool {
	return k.AccountID == ""
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level      string `toml:"level"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Environment overrides are applied before validation.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.ApplyEnv()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// ApplyEnv overrides KV credentials from KVX_KV_ACCOUNT_ID and KVX_KV_API_TOKEN when set.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("KVX_KV_ACCOUNT_ID"); v != "" {
		c.KV.AccountID = v
	}
	if v := os.Getenv("KVX_KV_API_TOKEN"); v != "" {
		c.KV.APIToken = v
	}
}

// Validate clamps batch and page sizes to the store limits and checks required fields.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("%w: database.path is required", ErrInvalidConfig)
	}
	if c.KV.BatchSize <= 0 || c.KV.BatchSize > MaxBatchSize {
		c.KV.BatchSize = MaxBatchSize
	}
	if c.KV.ListPageSize <= 0 || c.KV.ListPageSize > MaxListPageSize {
		c.KV.ListPageSize = MaxListPageSize
	}
	if !c.KV.LocalDev() && c.KV.APIToken == "" {
		return fmt.Errorf("%w: kv.api_token is required when kv.account_id is set", ErrMissingCredentials)
	}
	return nil
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
