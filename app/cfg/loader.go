package cfg

import (
	"cmp"
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Server configuration
	Port    string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	BaseUrl string `long:"base-url" env:"BASE_URL" description:"Public base URL for the service (e.g., https://feeds.example.com)"`

	// Storage configuration
	DBPath        string `long:"db-path" env:"DB_PATH" default:"./data/feedgate.db" description:"SQLite database file"`
	RedisAddr     string `long:"redis-addr" env:"REDIS_ADDR" description:"Redis address for the shared estimate cache (optional)"`
	RedisPassword string `long:"redis-password" env:"REDIS_PASSWORD" description:"Redis password"`
	RedisDB       int    `long:"redis-db" env:"REDIS_DB" default:"0" description:"Redis database number"`

	// Connector and pricing configuration
	ConnectorsDir  string `long:"connectors-dir" env:"CONNECTORS_DIR" default:"./connectors" description:"Directory containing connector override files"`
	PricingFile    string `long:"pricing-file" env:"PRICING_FILE" description:"Pricing rules file (built-in rules when empty)"`
	RequestTimeout int    `long:"request-timeout" env:"REQUEST_TIMEOUT" default:"60" description:"Overall feed request timeout in seconds"`
	IdentityTTL    int    `long:"identity-ttl" env:"IDENTITY_TTL" default:"86400" description:"Identity cache lifetime in seconds"`
	EstimateTTL    int    `long:"estimate-ttl" env:"ESTIMATE_TTL" default:"300" description:"Estimate cache lifetime in seconds"`
	CacheSize      int    `long:"cache-size" env:"CACHE_SIZE" default:"10000" description:"Maximum entries per in-process cache"`

	// Payment configuration
	PaymentSecret string `long:"payment-secret" env:"PAYMENT_SECRET" description:"Secret used to seal payment challenges"`
	PayTo         string `long:"pay-to" env:"PAY_TO" description:"Address that receives payments"`
	PaymentAsset  string `long:"payment-asset" env:"PAYMENT_ASSET" default:"USDC" description:"Asset payments are denominated in"`
	ChallengeTTL  int    `long:"challenge-ttl" env:"CHALLENGE_TTL" default:"300" description:"Payment challenge lifetime in seconds"`

	// Inbound rate limiting
	ClientRate  float64 `long:"client-rate" env:"CLIENT_RATE" default:"5" description:"Requests per second allowed per client IP on feed routes (0 disables)"`
	ClientBurst int     `long:"client-burst" env:"CLIENT_BURST" default:"20" description:"Burst size per client IP"`

	// Maintenance
	WorkerCount       int `long:"worker-count" env:"WORKER_COUNT" default:"2" description:"Number of background maintenance workers"`
	SchedulerInterval int `long:"scheduler-interval" env:"SCHEDULER_INTERVAL" default:"300" description:"Scheduler interval in seconds"`
	RetentionDays     int `long:"retention-days" env:"RETENTION_DAYS" default:"30" description:"Days to keep redeemed payments and resolved identities"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"feedgate/1.0" description:"User agent string for upstream requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, America/New_York)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

// Load parses command-line flags and environment variables. It returns nil,
// nil when help was requested.
func Load() (*Cfg, error) {
	return parse(os.Args[1:])
}

func parse(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.ParseArgs(args); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		Port:              raw.Port,
		BaseUrl:           cmp.Or(raw.BaseUrl, "http://localhost:"+raw.Port),
		DBPath:            raw.DBPath,
		RedisAddr:         raw.RedisAddr,
		RedisPassword:     raw.RedisPassword,
		RedisDB:           raw.RedisDB,
		ConnectorsDir:     raw.ConnectorsDir,
		PricingFile:       raw.PricingFile,
		RequestTimeout:    seconds(raw.RequestTimeout),
		IdentityTTL:       seconds(raw.IdentityTTL),
		EstimateTTL:       seconds(raw.EstimateTTL),
		CacheSize:         raw.CacheSize,
		PaymentSecret:     raw.PaymentSecret,
		PayTo:             raw.PayTo,
		PaymentAsset:      raw.PaymentAsset,
		ChallengeTTL:      seconds(raw.ChallengeTTL),
		ClientRate:        raw.ClientRate,
		ClientBurst:       raw.ClientBurst,
		WorkerCount:       raw.WorkerCount,
		SchedulerInterval: raw.SchedulerInterval,
		RetentionDays:     raw.RetentionDays,
		UserAgent:         raw.UserAgent,
		Timezone:          raw.Timezone,
		Debug:             raw.Debug,
		Version:           GetVersion(),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	return cfg, nil
}

func (c *Cfg) validate() error {
	if c.WorkerCount < 1 {
		return fmt.Errorf("worker count must be at least 1, got %d", c.WorkerCount)
	}
	if c.SchedulerInterval < 1 {
		return fmt.Errorf("scheduler interval must be at least 1 second, got %d", c.SchedulerInterval)
	}
	if c.RequestTimeout <= 0 || c.IdentityTTL <= 0 || c.EstimateTTL <= 0 || c.ChallengeTTL <= 0 {
		return fmt.Errorf("timeouts and cache lifetimes must be positive")
	}
	if c.ClientRate < 0 || c.ClientBurst < 0 {
		return fmt.Errorf("client rate limit must not be negative")
	}
	if (c.PaymentSecret == "") != (c.PayTo == "") {
		return fmt.Errorf("payment secret and pay-to address must be set together")
	}
	return nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
			fmt.Printf("Timezone configured: %s\n", timezone)
		}
	}
	return nil
}
