package cfg

import "time"

type Cfg struct {
	// Server configuration
	Port    string
	BaseUrl string

	// Storage configuration
	DBPath        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Connector and pricing configuration
	ConnectorsDir  string
	PricingFile    string
	RequestTimeout time.Duration
	IdentityTTL    time.Duration
	EstimateTTL    time.Duration
	CacheSize      int

	// Payment configuration
	PaymentSecret string
	PayTo         string
	PaymentAsset  string
	ChallengeTTL  time.Duration

	// Inbound rate limiting
	ClientRate  float64
	ClientBurst int

	// Maintenance
	WorkerCount       int
	SchedulerInterval int
	RetentionDays     int

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}

// PaymentsEnabled reports whether paid requests are gated.
func (c *Cfg) PaymentsEnabled() bool {
	return c.PaymentSecret != "" && c.PayTo != ""
}

// Retention is how long redeemed payments and resolved identities are kept.
func (c *Cfg) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}
