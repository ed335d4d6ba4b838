// Package config loads pipeline configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrMissingDSN is returned when an import is attempted without a connection
// string from either the --dsn flag or the environment.
var ErrMissingDSN = errors.New("postgres dsn is not configured: pass --dsn or set POSTGRES_DSN")

// Config captures all pipeline configuration knobs loaded via Viper.
type Config struct {
	Paths   PathsConfig   `mapstructure:"paths"`
	DB      DBConfig      `mapstructure:"db"`
	Import  ImportConfig  `mapstructure:"import"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// PathsConfig locates the JSONL and report directories.
type PathsConfig struct {
	EnrichedDir string `mapstructure:"enriched_dir"`
	ReportDir   string `mapstructure:"report_dir"`
}

// DBConfig controls access to the relational store.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// ImportConfig governs staging retention.
type ImportConfig struct {
	KeepDays int `mapstructure:"keep_days"`
}

// CrawlerConfig governs the Colly collectors.
type CrawlerConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	UserAgent     string `mapstructure:"user_agent"`
	DelaySeconds  int    `mapstructure:"delay_seconds"`
	MaxSeries     int    `mapstructure:"max_series"`
	RespectRobots bool   `mapstructure:"respect_robots"`
	MetricsListen string `mapstructure:"metrics_listen"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk and environment. path may be empty, in
// which case defaults and environment variables apply.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PIPELINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The DSN also honors the conventional unprefixed variable.
	if err := v.BindEnv("db.dsn", "PIPELINE_DB_DSN", "POSTGRES_DSN"); err != nil {
		return Config{}, fmt.Errorf("bind dsn env: %w", err)
	}

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
	v.SetDefault("paths.enriched_dir", "data/enriched")
	v.SetDefault("paths.report_dir", "reports")
	v.SetDefault("import.keep_days", 30)
	v.SetDefault("crawler.base_url", "https://www.manga-news.com")
	v.SetDefault("crawler.user_agent", "manganews-pipeline/1.0")
	v.SetDefault("crawler.delay_seconds", 1)
	v.SetDefault("crawler.max_series", 0)
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("crawler.metrics_listen", "")
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Paths.EnrichedDir == "" {
		return fmt.Errorf("paths.enriched_dir must be set")
	}
	if c.Paths.ReportDir == "" {
		return fmt.Errorf("paths.report_dir must be set")
	}
	if c.Import.KeepDays <= 0 {
		return fmt.Errorf("import.keep_days must be > 0")
	}
	if c.Crawler.BaseURL == "" {
		return fmt.Errorf("crawler.base_url must be set")
	}
	return nil
}

// CrawlDelay converts the configured delay into a duration.
func (c Config) CrawlDelay() time.Duration {
	return time.Duration(c.Crawler.DelaySeconds) * time.Second
}

// ResolveDSN picks the effective connection string: explicit flag value
// first, then configuration/environment. An empty result is a configuration
// error because the caller is about to touch the database.
func (c Config) ResolveDSN(flagDSN string) (string, error) {
	if flagDSN != "" {
		return flagDSN, nil
	}
	if c.DB.DSN != "" {
		return c.DB.DSN, nil
	}
	return "", ErrMissingDSN
}
