// Package config loads and validates sitemapper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/finploy/sitemap-crawler/internal/crawler"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Headless HeadlessConfig `mapstructure:"headless"`
	DB       DBConfig       `mapstructure:"db"`
	Sitemap  SitemapConfig  `mapstructure:"sitemap"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`

	// PatternRules overrides the built-in listing-page classification
	// rules when non-empty.
	PatternRules []crawler.PatternRule `mapstructure:"pattern_rules"`
}

// CrawlerConfig governs the BFS crawl loop.
type CrawlerConfig struct {
	Seeds          []string `mapstructure:"seeds"`
	AllowedDomains []string `mapstructure:"allowed_domains"`
	MaxDepth       int      `mapstructure:"max_depth"`
	Concurrency    int      `mapstructure:"concurrency"`
	BatchSize      int      `mapstructure:"batch_size"`
	DelayMs        int      `mapstructure:"delay_ms"`
	MaxURLs        int      `mapstructure:"max_urls"`
	UserAgent      string   `mapstructure:"user_agent"`
	RespectRobots  bool     `mapstructure:"respect_robots"`
	DiscoverSeeds  bool     `mapstructure:"discover_seeds"`
	SkipPatterns   []string `mapstructure:"skip_patterns"`
	DynamicPaths   []string `mapstructure:"dynamic_paths"`
}

// HTTPConfig configures the static fetcher and retry behavior.
type HTTPConfig struct {
	TimeoutSeconds   int `mapstructure:"timeout_seconds"`
	MaxRetries       int `mapstructure:"max_retries"`
	BackoffInitialMs int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int `mapstructure:"backoff_max_ms"`
}

// HeadlessConfig configures the browser rendering subsystem.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	MaxInteractions int  `mapstructure:"max_interactions"`
}

// DBConfig controls the durable frontier. An empty DSN selects the
// in-memory frontier.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	Table           string `mapstructure:"table"`
	MaxConns        int    `mapstructure:"max_conns"`
	ConnLifetimeSec int    `mapstructure:"conn_lifetime_seconds"`
}

// SitemapConfig sets XML output behavior.
type SitemapConfig struct {
	OutputDir  string `mapstructure:"output_dir"`
	MaxPerFile int    `mapstructure:"max_per_file"`
	Compress   bool   `mapstructure:"compress"`
}

// ServerConfig controls the status/metrics HTTP listener.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig selects the zap level and development features.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load builds a Config from disk/environment. Environment variables use
// the SITEMAPPER_ prefix with dots replaced by underscores.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SITEMAPPER")
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
	v.SetDefault("crawler.max_depth", 5)
	v.SetDefault("crawler.concurrency", 8)
	v.SetDefault("crawler.batch_size", 50)
	v.SetDefault("crawler.delay_ms", 100)
	v.SetDefault("crawler.max_urls", 0)
	v.SetDefault("crawler.user_agent", "sitemapper-bot/1.0")
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.discover_seeds", false)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 5000)
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout_seconds", 30)
	v.SetDefault("headless.max_interactions", 5)
	v.SetDefault("db.table", "frontier")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.conn_lifetime_seconds", 1800)
	v.SetDefault("sitemap.output_dir", "out")
	v.SetDefault("sitemap.max_per_file", 50000)
	v.SetDefault("sitemap.compress", false)
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if len(c.Crawler.Seeds) == 0 {
		return fmt.Errorf("%w: crawler.seeds must not be empty", crawler.ErrConfiguration)
	}
	if c.Crawler.Concurrency <= 0 {
		return fmt.Errorf("%w: crawler.concurrency must be > 0", crawler.ErrConfiguration)
	}
	if c.Crawler.MaxDepth < 0 {
		return fmt.Errorf("%w: crawler.max_depth must be >= 0", crawler.ErrConfiguration)
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("%w: http.timeout_seconds must be > 0", crawler.ErrConfiguration)
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("%w: headless.max_parallel must be > 0 when headless is enabled", crawler.ErrConfiguration)
	}
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("%w: server.port must be > 0 when the server is enabled", crawler.ErrConfiguration)
	}
	return nil
}

// Delay converts the politeness delay into a duration.
func (c Config) Delay() time.Duration {
	return time.Duration(c.Crawler.DelayMs) * time.Millisecond
}

// HTTPTimeout converts the fetch timeout into a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// NavTimeout converts the headless navigation timeout into a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}
