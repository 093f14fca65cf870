package connectors

import (
	"os"
	"time"

	"github.com/lysyi3m/feedgate/app/ratelimit"
)

// Config is one connector's settings, read from <connector>.yml.
type Config struct {
	Name      string          `yaml:"-"`
	BaseURL   string          `yaml:"base_url"`
	APIKeyEnv string          `yaml:"api_key_env"`
	Disabled  bool            `yaml:"disabled"`
	Settings  Settings        `yaml:"settings"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type Settings struct {
	Timeout   int `yaml:"timeout"` // seconds
	PageSize  int `yaml:"page_size"`
	MaxPages  int `yaml:"max_pages"`
	BatchSize int `yaml:"batch_size"`
}

// RateLimitConfig sets the upstream ceilings. Zero disables a window.
type RateLimitConfig struct {
	Global   int `yaml:"global"`
	Endpoint int `yaml:"endpoint"`
	Interval int `yaml:"interval"` // seconds
	BufferMs int `yaml:"buffer_ms"`
}

func (c *Config) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Settings.Timeout) * time.Second
}

func (c *Config) LimiterConfig() ratelimit.Config {
	return ratelimit.Config{
		GlobalLimit:   c.RateLimit.Global,
		EndpointLimit: c.RateLimit.Endpoint,
		Interval:      time.Duration(c.RateLimit.Interval) * time.Second,
		Buffer:        time.Duration(c.RateLimit.BufferMs) * time.Millisecond,
	}
}
