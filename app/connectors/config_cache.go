package connectors

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/lysyi3m/feedgate/app/connectors/bluesky"
	"github.com/lysyi3m/feedgate/app/connectors/farcaster"
	"github.com/lysyi3m/feedgate/app/connectors/git"
	"github.com/lysyi3m/feedgate/app/connectors/rss"
	"github.com/lysyi3m/feedgate/app/feed"
)

// providerQuotas are the limits each provider publishes for its API. RSS
// hosts publish none.
var providerQuotas = map[string]RateLimitConfig{
	farcaster.Name: {Global: 500, Endpoint: 300, Interval: 60},
	bluesky.Name:   {Global: 3000, Endpoint: 3000, Interval: 300},
	git.Name:       {Global: 60, Endpoint: 60, Interval: 3600},
}

// defaults holds the built-in settings of every known connector. A YAML file
// only needs the keys it overrides. Ceilings stay at or below 85% of the
// matching provider quota.
var defaults = map[string]Config{
	farcaster.Name: {
		BaseURL:   farcaster.DefaultBaseURL,
		APIKeyEnv: "NEYNAR_API_KEY",
		RateLimit: RateLimitConfig{Global: 425, Endpoint: 250, Interval: 60, BufferMs: 100},
	},
	bluesky.Name: {
		BaseURL:   bluesky.DefaultBaseURL,
		RateLimit: RateLimitConfig{Global: 2550, Endpoint: 1000, Interval: 300, BufferMs: 100},
	},
	rss.Name: {
		RateLimit: RateLimitConfig{Global: 120, Endpoint: 10, Interval: 60, BufferMs: 100},
	},
	git.Name: {
		BaseURL:   git.DefaultBaseURL,
		APIKeyEnv: "GITHUB_TOKEN",
		RateLimit: RateLimitConfig{Global: 50, Interval: 3600, BufferMs: 100},
	},
}

type ConfigCache struct {
	connectorsDir string
	cache         map[string]*Config
	mu            sync.RWMutex
}

func NewConfigCache(connectorsDir string) *ConfigCache {
	return &ConfigCache{
		connectorsDir: connectorsDir,
		cache:         make(map[string]*Config),
	}
}

// Run loads every known connector, applying <name>.yml from the connectors
// directory when present. Files for unknown connectors are an error.
func (cc *ConfigCache) Run() error {
	if cc.connectorsDir != "" {
		files, err := filepath.Glob(filepath.Join(cc.connectorsDir, "*.yml"))
		if err != nil {
			return fmt.Errorf("failed to find YML files: %w", err)
		}
		for _, file := range files {
			fileName := filepath.Base(file)
			name := fileName[:len(fileName)-4]
			if _, known := defaults[name]; !known {
				return fmt.Errorf("error loading %s: unknown connector %q", file, name)
			}
		}
	}

	for name := range defaults {
		config, err := cc.LoadConfig(name)
		if err != nil {
			return err
		}

		slog.Debug("Connector configuration loaded", "connector", name, "disabled", config.Disabled,
			"base_url", config.BaseURL, "global_limit", config.RateLimit.Global, "endpoint_limit", config.RateLimit.Endpoint)
	}

	return nil
}

func (cc *ConfigCache) LoadConfig(name string) (*Config, error) {
	base, known := defaults[name]
	if !known {
		return nil, fmt.Errorf("%w: connector %q", feed.ErrNotFound, name)
	}

	config := base
	configFile := cc.getConfigFilePath(name)
	if configFile != "" {
		if err := cc.parseConfig(configFile, &config); err != nil {
			return nil, fmt.Errorf("error loading %s: %w", configFile, err)
		}
	}
	config.Name = name
	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config for %s: %w", name, err)
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.cache[name] = &config

	return &config, nil
}

func (cc *ConfigCache) GetConfig(name string) (*Config, error) {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	config, ok := cc.cache[name]
	if !ok {
		return nil, fmt.Errorf("%w: connector %q", feed.ErrNotFound, name)
	}
	return config, nil
}

// GetEnabledConfigs returns the loaded configs that are not disabled, by name.
func (cc *ConfigCache) GetEnabledConfigs() []*Config {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	enabled := make([]*Config, 0, len(cc.cache))
	for _, config := range cc.cache {
		if !config.Disabled {
			enabled = append(enabled, config)
		}
	}
	sort.Slice(enabled, func(i, j int) bool { return enabled[i].Name < enabled[j].Name })
	return enabled
}

func (cc *ConfigCache) GetConfigCount() int {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return len(cc.cache)
}

// parseConfig overlays the YAML file onto config. A missing file is not an error.
func (cc *ConfigCache) parseConfig(configFile string, config *Config) error {
	data, err := os.ReadFile(configFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

func applyDefaults(config *Config) {
	if config.Settings.Timeout == 0 {
		config.Settings.Timeout = 30
	}
	if config.Settings.MaxPages == 0 {
		config.Settings.MaxPages = feed.DefaultMaxPages
	}
	if config.Settings.BatchSize == 0 {
		config.Settings.BatchSize = feed.DefaultBatchSize
	}
	if config.RateLimit.Interval == 0 {
		config.RateLimit.Interval = 60
	}
}

func validateConfig(config *Config) error {
	if config == nil {
		return fmt.Errorf("config is nil")
	}

	if config.Name != rss.Name && config.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}

	nonNegativeFields := map[string]int{
		"timeout":             config.Settings.Timeout,
		"page size":           config.Settings.PageSize,
		"max pages":           config.Settings.MaxPages,
		"batch size":          config.Settings.BatchSize,
		"global rate limit":   config.RateLimit.Global,
		"endpoint rate limit": config.RateLimit.Endpoint,
		"rate limit interval": config.RateLimit.Interval,
		"rate limit buffer":   config.RateLimit.BufferMs,
	}

	for fieldName, fieldValue := range nonNegativeFields {
		if fieldValue < 0 {
			return fmt.Errorf("%s must be non-negative", fieldName)
		}
	}

	return nil
}

func (cc *ConfigCache) getConfigFilePath(name string) string {
	if cc.connectorsDir == "" {
		return ""
	}
	return filepath.Join(cc.connectorsDir, name+".yml")
}
