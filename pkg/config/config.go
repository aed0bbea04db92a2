// Package config loads crawler configuration from defaults, an optional
// YAML file and CRAWLER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/search-crawler/pkg/client"
	"github.com/Sternrassler/search-crawler/pkg/logging"
	"github.com/Sternrassler/search-crawler/pkg/pagination"
	"github.com/Sternrassler/search-crawler/pkg/ratelimit"
	"github.com/Sternrassler/search-crawler/pkg/store"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment override, e.g.
// CRAWLER_CRAWL_CONCURRENCY.
const EnvPrefix = "CRAWLER"

// Config represents the complete crawler configuration.
type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Store     StoreConfig     `mapstructure:"store"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// APIConfig contains search API and transport settings.
type APIConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	PageSize        int           `mapstructure:"page_size"`
	UserAgent       string        `mapstructure:"user_agent"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	MaxConnsPerHost int           `mapstructure:"max_conns_per_host"`
	IdleConnTimeout time.Duration `mapstructure:"idle_conn_timeout"`
	ConnLifetime    time.Duration `mapstructure:"conn_lifetime"`
}

// CrawlConfig contains scheduling and output settings.
type CrawlConfig struct {
	Concurrency   int           `mapstructure:"concurrency"`
	PageTimeout   time.Duration `mapstructure:"page_timeout"`
	Mode          string        `mapstructure:"mode"`
	Output        string        `mapstructure:"output"`
	SummaryPath   string        `mapstructure:"summary_path"`
	FailOnPartial bool          `mapstructure:"fail_on_partial"`
}

// StoreConfig selects the intermediate page store.
type StoreConfig struct {
	Backend string      `mapstructure:"backend"`
	Dir     string      `mapstructure:"dir"`
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig contains Redis connection settings for the redis backend.
type RedisConfig struct {
	Address     string        `mapstructure:"address"`
	Password    string        `mapstructure:"password"`
	Database    int           `mapstructure:"database"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	TTL         time.Duration `mapstructure:"ttl"`
}

// RateLimitConfig contains request pacing settings.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// MetricsConfig contains the metrics endpoint settings. An empty address
// disables the endpoint.
type MetricsConfig struct {
	Address string `mapstructure:"address"`
}

// NewViper returns a viper instance with defaults and environment binding.
// Callers may bind flags to it before calling Load.
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Load reads the optional config file into v, unmarshals and validates.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	crawl := pagination.DefaultConfig()
	api := client.DefaultConfig("search-crawler/1.0")

	// API defaults
	v.SetDefault("api.base_url", crawl.BaseURL)
	v.SetDefault("api.page_size", crawl.PageSize)
	v.SetDefault("api.user_agent", api.UserAgent)
	v.SetDefault("api.request_timeout", api.RequestTimeout)
	v.SetDefault("api.max_conns_per_host", api.MaxConnsPerHost)
	v.SetDefault("api.idle_conn_timeout", api.IdleConnTimeout)
	v.SetDefault("api.conn_lifetime", api.ConnLifetime)

	// Crawl defaults
	v.SetDefault("crawl.concurrency", crawl.Batch.Concurrency)
	v.SetDefault("crawl.page_timeout", "0s")
	v.SetDefault("crawl.mode", string(crawl.Mode))
	v.SetDefault("crawl.output", crawl.Output)
	v.SetDefault("crawl.summary_path", "")
	v.SetDefault("crawl.fail_on_partial", false)

	// Store defaults
	v.SetDefault("store.backend", string(store.BackendMemory))
	v.SetDefault("store.dir", "")
	v.SetDefault("store.redis.address", "localhost:6379")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("store.redis.database", 0)
	v.SetDefault("store.redis.dial_timeout", "5s")
	v.SetDefault("store.redis.ttl", store.DefaultRedisTTL)

	// Rate limit defaults (0 = unpaced)
	v.SetDefault("rate_limit.requests_per_second", 0)
	v.SetDefault("rate_limit.burst", 1)

	// Log defaults
	v.SetDefault("log.level", string(logging.LevelInfo))
	v.SetDefault("log.pretty", false)

	// Metrics defaults
	v.SetDefault("metrics.address", "")
}

// Validate checks values that the package constructors cannot check on
// their own, and everything a run would otherwise fail on late.
func (c *Config) Validate() error {
	var errs []error

	if c.API.BaseURL == "" {
		errs = append(errs, errors.New("api.base_url is required"))
	}
	if c.API.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("api.page_size must be > 0 (got %d)", c.API.PageSize))
	}
	if c.API.UserAgent == "" {
		errs = append(errs, errors.New("api.user_agent is required"))
	}
	if c.API.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("api.request_timeout must be > 0 (got %s)", c.API.RequestTimeout))
	}
	if c.API.MaxConnsPerHost <= 0 {
		errs = append(errs, fmt.Errorf("api.max_conns_per_host must be > 0 (got %d)", c.API.MaxConnsPerHost))
	}

	if c.Crawl.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("crawl.concurrency must be > 0 (got %d)", c.Crawl.Concurrency))
	}
	if c.Crawl.PageTimeout < 0 {
		errs = append(errs, fmt.Errorf("crawl.page_timeout must be >= 0 (got %s)", c.Crawl.PageTimeout))
	}
	if _, err := pagination.ParseMode(c.Crawl.Mode); err != nil {
		errs = append(errs, fmt.Errorf("crawl.mode: %w", err))
	}
	if c.Crawl.Output == "" {
		errs = append(errs, errors.New("crawl.output is required"))
	}

	switch store.Backend(c.Store.Backend) {
	case store.BackendMemory, store.BackendDisk:
	case store.BackendRedis:
		if c.Store.Redis.Address == "" {
			errs = append(errs, errors.New("store.redis.address is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend must be one of memory, disk, redis (got %q)", c.Store.Backend))
	}

	if c.RateLimit.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("rate_limit.requests_per_second must be >= 0 (got %v)", c.RateLimit.RequestsPerSecond))
	}

	if err := logging.ValidateLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// ClientConfig converts to the API client configuration.
func (c *Config) ClientConfig(limiter *ratelimit.Limiter) client.Config {
	cfg := client.DefaultConfig(c.API.UserAgent)
	cfg.RequestTimeout = c.API.RequestTimeout
	cfg.MaxConnsPerHost = c.API.MaxConnsPerHost
	cfg.MaxIdleConnsPerHost = c.API.MaxConnsPerHost
	cfg.IdleConnTimeout = c.API.IdleConnTimeout
	cfg.ConnLifetime = c.API.ConnLifetime
	cfg.Limiter = limiter
	return cfg
}

// CrawlConfig converts to the crawler configuration. rdb is only used by
// the redis backend.
func (c *Config) CrawlConfig(rdb *redis.Client) pagination.Config {
	return pagination.Config{
		BaseURL:  c.API.BaseURL,
		PageSize: c.API.PageSize,
		Batch: pagination.BatchConfig{
			Concurrency: c.Crawl.Concurrency,
			PageTimeout: c.Crawl.PageTimeout,
		},
		Mode: pagination.Mode(c.Crawl.Mode),
		Store: store.Config{
			Backend: store.Backend(c.Store.Backend),
			Dir:     c.Store.Dir,
			Redis:   rdb,
			TTL:     c.Store.Redis.TTL,
		},
		Output:      c.Crawl.Output,
		SummaryPath: c.Crawl.SummaryPath,
	}
}

// RateLimitConfig converts to the request pacer configuration.
func (c *Config) RateLimitConfig() ratelimit.Config {
	return ratelimit.Config{
		RequestsPerSecond: c.RateLimit.RequestsPerSecond,
		Burst:             c.RateLimit.Burst,
	}
}

// LoggingConfig converts to the logger configuration.
func (c *Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(c.Log.Level)
	cfg.Pretty = c.Log.Pretty
	return cfg
}

// RedisOptions returns connection options for the redis backend.
func (c *Config) RedisOptions() *redis.Options {
	return &redis.Options{
		Addr:        c.Store.Redis.Address,
		Password:    c.Store.Redis.Password,
		DB:          c.Store.Redis.Database,
		DialTimeout: c.Store.Redis.DialTimeout,
	}
}

// UsesRedis reports whether the redis backend is selected.
func (c *Config) UsesRedis() bool {
	return store.Backend(c.Store.Backend) == store.BackendRedis
}
