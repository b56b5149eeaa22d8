package config

import "time"

// Config holds runtime settings for the ledgersync console.
//
// Intervals and timeouts are time.Duration values; zero sync settings fall
// back to the reconciler defaults.
type Config struct {
	ServerEndpointAddr  string
	OnlineCheckInterval time.Duration

	DBPath  string
	APIKey  string
	LogFile string

	SyncInterval   time.Duration
	BatchSize      int
	PushTimeout    time.Duration
	PullTimeout    time.Duration
	BackoffMin     time.Duration
	BackoffMax     time.Duration
	ResyncInterval time.Duration

	S3Endpoint  string
	S3Region    string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.OnlineCheckInterval = 3 * time.Second
	c.DBPath = "ledgersync.db"
	c.LogFile = "ledgersync.log"
	c.SyncInterval = 5 * time.Second
	c.BatchSize = 50
	c.PushTimeout = 10 * time.Second
	c.PullTimeout = 30 * time.Second
	c.BackoffMin = time.Second
	c.BackoffMax = time.Minute
	c.S3Region = "us-east-1"
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
