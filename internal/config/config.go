package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the application configuration loaded from files and environment variables.
type Config struct {
	AppName   string `mapstructure:"app_name"`
	Env       string `mapstructure:"app_env"`
	LogLevel  string `mapstructure:"log_level"`
	BaseURL   string `mapstructure:"api_base_url"`
	Locale    string `mapstructure:"locale"`
	UserAgent string `mapstructure:"user_agent"`
	OutputDir string `mapstructure:"output_dir"`
	Countries string `mapstructure:"countries"`

	MaxWorkers         int           `mapstructure:"max_workers"`
	HTTPTimeoutSeconds int64         `mapstructure:"http_timeout_seconds"`
	RetryAttempts      int           `mapstructure:"retry_attempts"`
	RetryBaseDelayMs   int64         `mapstructure:"retry_base_delay_ms"`
	PageDelayMs        int64         `mapstructure:"page_delay_ms"`
	HTTPTimeout        time.Duration `mapstructure:"-"`
	RetryBaseDelay     time.Duration `mapstructure:"-"`
	PageDelay          time.Duration `mapstructure:"-"`

	PublishersFile string `mapstructure:"publishers_file"`
	MetricsFile    string `mapstructure:"metrics_file"`

	StorageType            string        `mapstructure:"storage_type"`
	BBoltPath              string        `mapstructure:"bbolt_path"`
	StorageTTLSeconds      int64         `mapstructure:"storage_ttl_seconds"`
	StorageCleanupSeconds  int64         `mapstructure:"storage_cleanup_interval_seconds"`
	StorageTTL             time.Duration `mapstructure:"-"`
	StorageCleanupInterval time.Duration `mapstructure:"-"`
}

const (
	DefaultBaseURL   = "https://esimdb.com/api/client"
	DefaultUserAgent = "esimdb-scraper/1.0 (+https://github.com/georgenavi/esimdb_scraper)"
)

// Load reads configuration from environment variables and config files.
func Load() (*Config, error) {
	_ = godotenv.Load("configs/.env")

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.resolveDurations()
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "esimdb-scraper")
	v.SetDefault("app_env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("api_base_url", DefaultBaseURL)
	v.SetDefault("locale", "en")
	v.SetDefault("user_agent", DefaultUserAgent)
	v.SetDefault("output_dir", "./esimdb_data")
	v.SetDefault("countries", "")
	v.SetDefault("max_workers", 5)
	v.SetDefault("http_timeout_seconds", 30)
	v.SetDefault("retry_attempts", 3)
	v.SetDefault("retry_base_delay_ms", 1000)
	v.SetDefault("page_delay_ms", 200)
	v.SetDefault("publishers_file", "")
	v.SetDefault("metrics_file", "./data/esimdb_scraper.prom")
	v.SetDefault("storage_type", "bbolt")
	v.SetDefault("bbolt_path", "./data/runs.db")
	v.SetDefault("storage_ttl_seconds", int64((30*24*time.Hour)/time.Second))
	v.SetDefault("storage_cleanup_interval_seconds", int64((12*time.Hour)/time.Second))
}

// Validate checks value ranges; it does not touch the derived duration fields.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("invalid api_base_url (must not be empty)")
	}
	if strings.TrimSpace(c.Locale) == "" {
		return errors.New("invalid locale (must not be empty)")
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		return errors.New("invalid output_dir (must not be empty)")
	}
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("invalid max_workers %d (must be positive)", c.MaxWorkers)
	}
	if c.HTTPTimeoutSeconds <= 0 {
		return errors.New("invalid http_timeout_seconds (must be positive seconds)")
	}
	if c.RetryAttempts <= 0 {
		return fmt.Errorf("invalid retry_attempts %d (must be positive)", c.RetryAttempts)
	}
	if c.RetryBaseDelayMs < 0 {
		return errors.New("invalid retry_base_delay_ms (must not be negative)")
	}
	if c.PageDelayMs < 0 {
		return errors.New("invalid page_delay_ms (must not be negative)")
	}
	if c.StorageTTLSeconds <= 0 {
		return errors.New("invalid storage_ttl_seconds (must be positive seconds)")
	}
	if c.StorageCleanupSeconds <= 0 {
		return errors.New("invalid storage_cleanup_interval_seconds (must be positive seconds)")
	}
	return nil
}

func (c *Config) resolveDurations() {
	c.HTTPTimeout = time.Duration(c.HTTPTimeoutSeconds) * time.Second
	c.RetryBaseDelay = time.Duration(c.RetryBaseDelayMs) * time.Millisecond
	c.PageDelay = time.Duration(c.PageDelayMs) * time.Millisecond
	c.StorageTTL = time.Duration(c.StorageTTLSeconds) * time.Second
	c.StorageCleanupInterval = time.Duration(c.StorageCleanupSeconds) * time.Second
}

// CountrySlugs returns the trimmed, lowercased allow-list from the countries key.
func (c *Config) CountrySlugs() []string {
	if c == nil || strings.TrimSpace(c.Countries) == "" {
		return nil
	}
	parts := strings.Split(c.Countries, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.ToLower(strings.TrimSpace(p)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
