// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/classifieds-crawler/internal/catalog"
)

// Provider names accepted by the pluggable sections.
const (
	ProviderMemory   = "memory"
	ProviderPostgres = "postgres"
	ProviderLocal    = "local"
	ProviderRedis    = "redis"
	ProviderLog      = "log"
	ProviderPubSub   = "pubsub"
	ProviderNone     = "none"
	ProviderGCS      = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Search     SearchConfig     `mapstructure:"search"`
	Store      StoreConfig      `mapstructure:"store"`
	Lock       LockConfig       `mapstructure:"lock"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Categories []CategoryConfig `mapstructure:"categories"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// HTTPConfig configures page fetching and politeness.
type HTTPConfig struct {
	UserAgent            string        `mapstructure:"user_agent"`
	RespectRobots        bool          `mapstructure:"respect_robots"`
	RequestTimeout       time.Duration `mapstructure:"request_timeout"`
	ParallelismPerDomain int           `mapstructure:"parallelism_per_domain"`
	Delay                time.Duration `mapstructure:"delay"`
	RPSPerDomain         float64       `mapstructure:"rps_per_domain"`
	Burst                int           `mapstructure:"burst"`
}

// SearchConfig bounds a category run.
type SearchConfig struct {
	PageConcurrency    int           `mapstructure:"page_concurrency"`
	AddressConcurrency int           `mapstructure:"address_concurrency"`
	MaxPages           int           `mapstructure:"max_pages"`
	RunTimeout         time.Duration `mapstructure:"run_timeout"`
}

// StoreConfig selects and tunes the catalog store.
type StoreConfig struct {
	Provider        string        `mapstructure:"provider"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MigrateOnStart  bool          `mapstructure:"migrate_on_start"`
}

// LockConfig selects the item URL locker.
type LockConfig struct {
	Provider      string        `mapstructure:"provider"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	TTL           time.Duration `mapstructure:"ttl"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// NotifyConfig selects where run notifications go.
type NotifyConfig struct {
	Provider    string `mapstructure:"provider"`
	ProjectID   string `mapstructure:"project_id"`
	TopicID     string `mapstructure:"topic_id"`
	CategoryURL string `mapstructure:"category_url"`
}

// ArchiveConfig selects where fetched pages are archived.
type ArchiveConfig struct {
	Provider string `mapstructure:"provider"`
	Dir      string `mapstructure:"dir"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
}

// SchedulerConfig sizes the run queue and worker pool.
type SchedulerConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	QueueDepth int  `mapstructure:"queue_depth"`
	Workers    int  `mapstructure:"workers"`
}

// CategoryConfig declares a category for the seed command.
type CategoryConfig struct {
	Name            string          `mapstructure:"name"`
	SearchFrequency time.Duration   `mapstructure:"search_frequency"`
	Addresses       []AddressConfig `mapstructure:"addresses"`
}

// AddressConfig declares one listing URL of a category.
type AddressConfig struct {
	Name string `mapstructure:"name"`
	Site string `mapstructure:"site"`
	URL  string `mapstructure:"url"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CLASSIFIEDS")
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

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("http.user_agent", "classifieds-crawler/0.1")
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("http.request_timeout", 15*time.Second)
	v.SetDefault("http.parallelism_per_domain", 2)
	v.SetDefault("http.delay", 500*time.Millisecond)
	v.SetDefault("http.rps_per_domain", 2.0)
	v.SetDefault("http.burst", 2)
	v.SetDefault("search.page_concurrency", 4)
	v.SetDefault("search.address_concurrency", 1)
	v.SetDefault("search.max_pages", 25)
	v.SetDefault("search.run_timeout", 10*time.Minute)
	v.SetDefault("store.provider", ProviderMemory)
	v.SetDefault("store.max_conns", 8)
	v.SetDefault("store.migrate_on_start", false)
	v.SetDefault("lock.provider", ProviderLocal)
	v.SetDefault("lock.ttl", 2*time.Minute)
	v.SetDefault("lock.retry_interval", 50*time.Millisecond)
	v.SetDefault("notify.provider", ProviderLog)
	v.SetDefault("archive.provider", ProviderNone)
	v.SetDefault("archive.dir", "pages")
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.queue_depth", 64)
	v.SetDefault("scheduler.workers", 2)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.HTTP.RequestTimeout <= 0 {
		return fmt.Errorf("http.request_timeout must be > 0")
	}
	if c.Search.PageConcurrency <= 0 {
		return fmt.Errorf("search.page_concurrency must be > 0")
	}
	if c.Search.AddressConcurrency <= 0 {
		return fmt.Errorf("search.address_concurrency must be > 0")
	}
	if c.Search.MaxPages < 0 {
		return fmt.Errorf("search.max_pages must be >= 0")
	}
	if err := oneOf("store.provider", c.Store.Provider, ProviderMemory, ProviderPostgres); err != nil {
		return err
	}
	if c.Store.Provider == ProviderPostgres && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn must be set when store.provider is postgres")
	}
	if err := oneOf("lock.provider", c.Lock.Provider, ProviderLocal, ProviderRedis); err != nil {
		return err
	}
	if c.Lock.Provider == ProviderRedis && c.Lock.RedisAddr == "" {
		return fmt.Errorf("lock.redis_addr must be set when lock.provider is redis")
	}
	if err := oneOf("notify.provider", c.Notify.Provider, ProviderLog, ProviderMemory, ProviderPubSub); err != nil {
		return err
	}
	if c.Notify.Provider == ProviderPubSub && (c.Notify.ProjectID == "" || c.Notify.TopicID == "") {
		return fmt.Errorf("notify.project_id and notify.topic_id must be set when notify.provider is pubsub")
	}
	if err := oneOf("archive.provider", c.Archive.Provider, ProviderNone, ProviderMemory, ProviderLocal, ProviderGCS); err != nil {
		return err
	}
	if c.Archive.Provider == ProviderGCS && c.Archive.Bucket == "" {
		return fmt.Errorf("archive.bucket must be set when archive.provider is gcs")
	}
	if c.Scheduler.QueueDepth <= 0 || c.Scheduler.Workers <= 0 {
		return fmt.Errorf("scheduler.queue_depth and scheduler.workers must be > 0")
	}
	for i, cat := range c.Categories {
		if cat.Name == "" {
			return fmt.Errorf("categories[%d].name is required", i)
		}
		for j, addr := range cat.Addresses {
			switch catalog.SiteKind(strings.ToUpper(addr.Site)) {
			case catalog.SiteOLX, catalog.SiteGumtree, catalog.SiteVinted:
			default:
				return fmt.Errorf("categories[%d].addresses[%d].site %q is not supported", i, j, addr.Site)
			}
			if addr.URL == "" {
				return fmt.Errorf("categories[%d].addresses[%d].url is required", i, j)
			}
		}
	}
	return nil
}

func oneOf(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", key, strings.Join(allowed, "|"), value)
}
