package connectors

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lysyi3m/feedgate/app/connectors/upstream"
	"github.com/lysyi3m/feedgate/app/feed"
)

func TestConfigCacheDefaults(t *testing.T) {
	configCache := NewConfigCache("")
	if err := configCache.Run(); err != nil {
		t.Fatal(err)
	}

	if configCache.GetConfigCount() != 4 {
		t.Errorf("Expected 4 connector configs, got %d", configCache.GetConfigCount())
	}

	config, err := configCache.GetConfig("farcaster")
	if err != nil {
		t.Fatal(err)
	}
	if config.BaseURL != "https://api.neynar.com" {
		t.Errorf("Expected Neynar base URL, got '%s'", config.BaseURL)
	}
	if config.Settings.Timeout != 30 {
		t.Errorf("Expected default timeout 30, got %d", config.Settings.Timeout)
	}
	if config.Settings.BatchSize != feed.DefaultBatchSize {
		t.Errorf("Expected default batch size %d, got %d", feed.DefaultBatchSize, config.Settings.BatchSize)
	}
	if config.RateLimit.Endpoint != 250 {
		t.Errorf("Expected endpoint limit 250, got %d", config.RateLimit.Endpoint)
	}
}

func TestConfigCacheLoadOverride(t *testing.T) {
	tempDir := t.TempDir()

	content := `
base_url: "https://neynar.internal"
api_key_env: "TEST_NEYNAR_KEY"

settings:
  timeout: 5
  batch_size: 10

rate_limit:
  global: 50
  endpoint: 20
  interval: 30
  buffer_ms: 250
`
	if err := os.WriteFile(filepath.Join(tempDir, "farcaster.yml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(tempDir, "git.yml"), []byte("disabled: true\n"), 0644); err != nil {
		t.Fatal(err)
	}

	configCache := NewConfigCache(tempDir)
	if err := configCache.Run(); err != nil {
		t.Fatal(err)
	}

	config, err := configCache.GetConfig("farcaster")
	if err != nil {
		t.Fatal(err)
	}
	if config.Name != "farcaster" {
		t.Errorf("Expected name 'farcaster', got '%s'", config.Name)
	}
	if config.BaseURL != "https://neynar.internal" {
		t.Errorf("Expected overridden base URL, got '%s'", config.BaseURL)
	}
	if config.Settings.MaxPages != feed.DefaultMaxPages {
		t.Errorf("Expected default max pages, got %d", config.Settings.MaxPages)
	}

	limits := config.LimiterConfig()
	if limits.GlobalLimit != 50 || limits.EndpointLimit != 20 {
		t.Errorf("Unexpected limits: %+v", limits)
	}
	if limits.Interval != 30*time.Second || limits.Buffer != 250*time.Millisecond {
		t.Errorf("Unexpected interval or buffer: %+v", limits)
	}
	if config.Timeout() != 5*time.Second {
		t.Errorf("Expected 5s timeout, got %v", config.Timeout())
	}

	t.Setenv("TEST_NEYNAR_KEY", "k")
	if config.APIKey() != "k" {
		t.Errorf("Expected API key from env, got '%s'", config.APIKey())
	}

	enabled := configCache.GetEnabledConfigs()
	names := make([]string, 0, len(enabled))
	for _, c := range enabled {
		names = append(names, c.Name)
	}
	if strings.Join(names, ",") != "bluesky,farcaster,rss" {
		t.Errorf("Expected git to be disabled, got %v", names)
	}
}

func TestConfigCacheInvalidConfig(t *testing.T) {
	tests := map[string]string{
		"bluesky.yml": "settings:\n  timeout: -1\n",
		"git.yml":     "base_url: \"\"\n",
		"nostr.yml":   "base_url: \"wss://relay\"\n",
		"rss.yml":     "rate_limit: [1, 2]\n",
	}

	for file, content := range tests {
		t.Run(file, func(t *testing.T) {
			tempDir := t.TempDir()
			if err := os.WriteFile(filepath.Join(tempDir, file), []byte(content), 0644); err != nil {
				t.Fatal(err)
			}

			if err := NewConfigCache(tempDir).Run(); err == nil {
				t.Errorf("Expected error for %s", file)
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	tempDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tempDir, "rss.yml"), []byte("disabled: true\n"), 0644); err != nil {
		t.Fatal(err)
	}

	configCache := NewConfigCache(tempDir)
	if err := configCache.Run(); err != nil {
		t.Fatal(err)
	}

	registry, err := NewRegistry(configCache, "feedgate/test", upstream.WithBaseURL("http://127.0.0.1:1"))
	if err != nil {
		t.Fatal(err)
	}

	if strings.Join(registry.Names(), ",") != "bluesky,farcaster,git" {
		t.Errorf("Unexpected connectors: %v", registry.Names())
	}

	entry, err := registry.Get("bluesky")
	if err != nil {
		t.Fatal(err)
	}
	if entry.Connector.Name() != "bluesky" {
		t.Errorf("Expected bluesky connector, got %s", entry.Connector.Name())
	}
	if entry.Aggregator == nil || entry.Limiter == nil {
		t.Error("Expected aggregator and limiter to be built")
	}

	if _, err := registry.Get("rss"); !errors.Is(err, feed.ErrNotFound) {
		t.Errorf("Expected disabled connector to be not found, got %v", err)
	}

	stats := registry.Stats()
	if stats["git"].GlobalLimit != 50 {
		t.Errorf("Expected git global limit 50, got %d", stats["git"].GlobalLimit)
	}
}

func TestDefaultCeilingsBelowProviderQuotas(t *testing.T) {
	for name, quota := range providerQuotas {
		config, ok := defaults[name]
		if !ok {
			t.Errorf("Expected defaults for %s", name)
			continue
		}
		limits := config.RateLimit

		if limits.Interval != quota.Interval {
			t.Errorf("%s: expected interval %d to match quota, got %d", name, quota.Interval, limits.Interval)
		}
		if limits.Global <= 0 || limits.Global*100 > quota.Global*85 {
			t.Errorf("%s: expected global ceiling within 85%% of %d, got %d", name, quota.Global, limits.Global)
		}
		if limits.Endpoint*100 > quota.Endpoint*85 {
			t.Errorf("%s: expected endpoint ceiling within 85%% of %d, got %d", name, quota.Endpoint, limits.Endpoint)
		}
		if limits.Endpoint > limits.Global {
			t.Errorf("%s: expected endpoint ceiling %d not above global %d", name, limits.Endpoint, limits.Global)
		}
	}
}
