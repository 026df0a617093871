package aqgeval

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// Store kinds
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

// Config is the process-level configuration shared by the binaries
type Config struct {
	DataDir     string `yaml:"data_dir"`
	Store       string `yaml:"store"`
	SQLitePath  string `yaml:"sqlite_path"`
	GuidanceDir string `yaml:"guidance_dir"`
	LLMLogDir   string `yaml:"llm_log_dir"`

	RequestDelay     time.Duration `yaml:"request_delay"`
	TransientRetries int           `yaml:"transient_retries"`
	TransientBackoff time.Duration `yaml:"transient_backoff"`

	// APIKeys and BaseURLs are keyed by provider name ("openai", "together", ...)
	APIKeys  map[string]string `yaml:"api_keys"`
	BaseURLs map[string]string `yaml:"base_urls"`

	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`
}

// DefaultRequestDelay throttles every model request
const DefaultRequestDelay = 250 * time.Millisecond

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() *Config {
	cfg := &Config{
		DataDir:          "Projects",
		Store:            StoreFile,
		SQLitePath:       "aqgeval.db",
		LLMLogDir:        "log",
		RequestDelay:     DefaultRequestDelay,
		TransientRetries: 3,
		TransientBackoff: 2 * time.Second,
	}
	cfg.Log.Level = "info"
	return cfg
}

// LoadConfig reads path when it is non-empty and applies environment
// overrides on top.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.DataDir = getEnvOrDefault("AQG_DATA_DIR", c.DataDir)
	c.Store = getEnvOrDefault("AQG_STORE", c.Store)
	c.SQLitePath = getEnvOrDefault("AQG_SQLITE_PATH", c.SQLitePath)
	c.GuidanceDir = getEnvOrDefault("AQG_GUIDANCE_DIR", c.GuidanceDir)
	c.LLMLogDir = getEnvOrDefault("AQG_LLM_LOG_DIR", c.LLMLogDir)
	c.Log.Level = getEnvOrDefault("AQG_LOG_LEVEL", c.Log.Level)

	if v := os.Getenv("AQG_REQUEST_DELAY"); v != "" {
		d, err := cast.ToDurationE(v)
		if err != nil {
			return fmt.Errorf("invalid AQG_REQUEST_DELAY %q: %w", v, err)
		}
		c.RequestDelay = d
	}
	if v := os.Getenv("AQG_TRANSIENT_RETRIES"); v != "" {
		n, err := cast.ToIntE(v)
		if err != nil {
			return fmt.Errorf("invalid AQG_TRANSIENT_RETRIES %q: %w", v, err)
		}
		c.TransientRetries = n
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Validate reports every problem at once
func (c *Config) Validate() error {
	var errors []string

	if strings.TrimSpace(c.DataDir) == "" {
		errors = append(errors, "data_dir is required")
	}
	switch c.Store {
	case StoreFile:
	case StoreSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			errors = append(errors, "sqlite_path is required for the sqlite store")
		}
	default:
		errors = append(errors, fmt.Sprintf("store must be %q or %q, got %q", StoreFile, StoreSQLite, c.Store))
	}
	if c.RequestDelay < 0 {
		errors = append(errors, "request_delay must not be negative")
	}
	if c.TransientRetries < 0 {
		errors = append(errors, "transient_retries must not be negative")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}
	return nil
}

// GatewayOptions returns the gateway settings carried by c
func (c *Config) GatewayOptions() GatewayOptions {
	return GatewayOptions{
		APIKeys:          c.APIKeys,
		BaseURLs:         c.BaseURLs,
		RequestDelay:     c.RequestDelay,
		TransientRetries: c.TransientRetries,
		TransientBackoff: c.TransientBackoff,
	}
}

// LogConfig returns the logger settings carried by c
func (c *Config) LogConfig() LogConfig {
	return LogConfig{Level: c.Log.Level, Pretty: c.Log.Pretty}
}
