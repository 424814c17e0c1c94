// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Export backends.
const (
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendMemory = "memory"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Export    ExportConfig    `mapstructure:"export"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	API       APIConfig       `mapstructure:"api"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DatabaseConfig selects and tunes the catalog store.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	WaitTimeout     time.Duration `mapstructure:"wait_timeout"`
	WaitInterval    time.Duration `mapstructure:"wait_interval"`
}

// PipelineConfig governs ingestion.
type PipelineConfig struct {
	// SnapshotRetention is how many snapshots are kept per book.
	SnapshotRetention int `mapstructure:"snapshot_retention"`
	QueueCapacity     int `mapstructure:"queue_capacity"`
}

// CrawlerConfig governs the catalog spider.
type CrawlerConfig struct {
	StartURLs        []string      `mapstructure:"start_urls"`
	AllowedDomains   []string      `mapstructure:"allowed_domains"`
	UserAgent        string        `mapstructure:"user_agent"`
	RespectRobots    bool          `mapstructure:"respect_robots"`
	DownloadDelay    time.Duration `mapstructure:"download_delay"`
	RandomDelay      time.Duration `mapstructure:"random_delay"`
	Parallelism      int           `mapstructure:"parallelism"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxRetries       int           `mapstructure:"max_retries"`
	RetryStatusCodes []int         `mapstructure:"retry_status_codes"`
	MaxDepth         int           `mapstructure:"max_depth"`
}

// ScheduleConfig controls the periodic runner.
type ScheduleConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// ExportConfig controls where CSV exports are written.
type ExportConfig struct {
	Backend string `mapstructure:"backend"`
	Prefix  string `mapstructure:"prefix"`
}

// StorageConfig locates the export backends.
type StorageConfig struct {
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
}

// PubSubConfig holds metadata for run notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// Enabled reports whether notifications go to Pub/Sub.
func (c PubSubConfig) Enabled() bool {
	return c.ProjectID != "" && c.TopicName != ""
}

// RedisConfig configures the analytics cache. An empty Addr selects the
// in-process cache.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// RateLimitConfig sets the per-client token bucket. RPS 0 disables limiting.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// APIConfig tunes the read API.
type APIConfig struct {
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	// CacheSize caps the in-process analytics cache entries.
	CacheSize int `mapstructure:"cache_size"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BOOKCATALOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// setDefaults also registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")

	v.SetDefault("logging.development", true)

	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", "30m")
	v.SetDefault("database.wait_timeout", "30s")
	v.SetDefault("database.wait_interval", "1s")

	v.SetDefault("pipeline.snapshot_retention", 5)
	v.SetDefault("pipeline.queue_capacity", 256)

	v.SetDefault("crawler.start_urls", []string{"https://books.toscrape.com/"})
	v.SetDefault("crawler.allowed_domains", []string{"books.toscrape.com"})
	v.SetDefault("crawler.user_agent", "")
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.download_delay", "500ms")
	v.SetDefault("crawler.random_delay", "0s")
	v.SetDefault("crawler.parallelism", 8)
	v.SetDefault("crawler.timeout", "15s")
	v.SetDefault("crawler.max_retries", 2)
	v.SetDefault("crawler.retry_status_codes", []int{408, 500, 502, 503, 504, 522, 524})
	v.SetDefault("crawler.max_depth", 0)

	v.SetDefault("schedule.interval", "15m")

	v.SetDefault("export.backend", BackendLocal)
	v.SetDefault("export.prefix", "exports")
	v.SetDefault("storage.local_dir", "data")
	v.SetDefault("storage.gcs_bucket", "")

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")

	v.SetDefault("rate_limit.rps", 20)
	v.SetDefault("rate_limit.burst", 40)

	v.SetDefault("api.request_timeout", "10s")
	v.SetDefault("api.cache_ttl", "5m")
	v.SetDefault("api.cache_size", 1024)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("database.driver must be %q or %q", DriverPostgres, DriverMemory)
	}
	if c.Pipeline.SnapshotRetention < 1 {
		return fmt.Errorf("pipeline.snapshot_retention must be >= 1")
	}
	if c.Pipeline.QueueCapacity < 0 {
		return fmt.Errorf("pipeline.queue_capacity must be >= 0")
	}
	if len(c.Crawler.StartURLs) == 0 {
		return fmt.Errorf("crawler.start_urls must not be empty")
	}
	if c.Crawler.Parallelism <= 0 {
		return fmt.Errorf("crawler.parallelism must be > 0")
	}
	if c.Crawler.Timeout <= 0 {
		return fmt.Errorf("crawler.timeout must be > 0")
	}
	if c.Crawler.MaxRetries < 0 {
		return fmt.Errorf("crawler.max_retries must be >= 0")
	}
	if c.Schedule.Interval <= 0 {
		return fmt.Errorf("schedule.interval must be > 0")
	}
	switch c.Export.Backend {
	case BackendLocal:
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir is required for the local export backend")
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs export backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("export.backend must be one of %q, %q, %q", BackendLocal, BackendGCS, BackendMemory)
	}
	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("rate_limit.rps must be >= 0")
	}
	return nil
}
