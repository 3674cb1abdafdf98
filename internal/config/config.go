// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig          `mapstructure:"server"`
	Auth      AuthConfig            `mapstructure:"auth"`
	Logging   LoggingConfig         `mapstructure:"logging"`
	Fetch     FetchConfig           `mapstructure:"fetch"`
	Database  DatabaseConfig        `mapstructure:"database"`
	Cache     CacheConfig           `mapstructure:"cache"`
	Scheduler SchedulerConfig       `mapstructure:"scheduler"`
	Notify    NotifyConfig          `mapstructure:"notify"`
	Sources   SourcesConfig         `mapstructure:"sources"`
	Tasks     map[string]TaskConfig `mapstructure:"tasks"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig guards the mutating ops endpoints.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// FetchConfig governs every outbound request.
type FetchConfig struct {
	// MaxConcurrentRequests caps in-flight requests process-wide. 0 means
	// four per available CPU.
	MaxConcurrentRequests int             `mapstructure:"max_concurrent_requests"`
	TimeoutSeconds        int             `mapstructure:"timeout_seconds"`
	UserAgent             string          `mapstructure:"user_agent"`
	RateLimit             RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-host token buckets.
type RateLimitConfig struct {
	Enabled      bool            `mapstructure:"enabled"`
	DefaultRPS   float64         `mapstructure:"default_rps"`
	DefaultBurst int             `mapstructure:"default_burst"`
	Hosts        []HostRateLimit `mapstructure:"hosts"`
}

// HostRateLimit overrides the default bucket for one host. Hosts are listed
// rather than keyed because Viper splits map keys on dots.
type HostRateLimit struct {
	Host  string  `mapstructure:"host"`
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// DatabaseConfig controls access to Postgres. An empty DSN selects the
// in-memory stores.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

// CacheConfig selects the sentinel backend.
type CacheConfig struct {
	Backend  string `mapstructure:"backend"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// SchedulerConfig controls trigger evaluation.
type SchedulerConfig struct {
	Timezone string `mapstructure:"timezone"`
	// Singleton skips a fire while the previous fire of the same trigger is
	// still running.
	Singleton bool `mapstructure:"singleton"`
}

// NotifyConfig holds operator notification channels.
type NotifyConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig holds Bot API credentials.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BaseURL  string `mapstructure:"base_url"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// SourcesConfig configures the provider adapters.
type SourcesConfig struct {
	FinancialStatement FinancialStatementSource `mapstructure:"financial_statement"`
	Quote              QuoteSource              `mapstructure:"quote"`
	Holiday            HolidaySource            `mapstructure:"holiday"`
}

// FinancialStatementSource configures the JSON statement endpoint.
type FinancialStatementSource struct {
	URLTemplate string `mapstructure:"url_template"`
	Charset     string `mapstructure:"charset"`
	RequireStat bool   `mapstructure:"require_stat"`
}

// QuoteSource lists the HTML quote pages, tried in order.
type QuoteSource struct {
	Providers []QuoteProvider `mapstructure:"providers"`
}

// QuoteProvider describes one quote page layout.
type QuoteProvider struct {
	Name         string `mapstructure:"name"`
	URLTemplate  string `mapstructure:"url_template"`
	Selector     string `mapstructure:"selector"`
	Element      string `mapstructure:"element"`
	DateSelector string `mapstructure:"date_selector"`
	DateLayout   string `mapstructure:"date_layout"`
}

// HolidaySource configures the exchange holiday schedule endpoint.
type HolidaySource struct {
	URLTemplate string `mapstructure:"url_template"`
}

// TaskConfig tunes one backfill task.
type TaskConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Schedule    string        `mapstructure:"schedule"`
	TTL         time.Duration `mapstructure:"ttl"`
	MarkPolicy  string        `mapstructure:"mark_policy"`
	Parallelism int           `mapstructure:"parallelism"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STOCKCRAWLER")
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

	v.SetDefault("fetch.max_concurrent_requests", 0)
	v.SetDefault("fetch.timeout_seconds", 60)
	v.SetDefault("fetch.user_agent", "stockcrawler/1.0")
	v.SetDefault("fetch.rate_limit.enabled", true)
	v.SetDefault("fetch.rate_limit.default_rps", 3)
	v.SetDefault("fetch.rate_limit.default_burst", 3)

	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", time.Hour)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.prefix", "stockcrawler:")

	v.SetDefault("scheduler.timezone", "UTC")
	v.SetDefault("scheduler.singleton", false)

	v.SetDefault("notify.telegram.enabled", false)
	v.SetDefault("notify.telegram.base_url", "https://api.telegram.org")

	v.SetDefault("sources.financial_statement.charset", "")
	v.SetDefault("sources.financial_statement.require_stat", true)
	v.SetDefault("sources.quote.providers", []map[string]any{
		{
			"name":         "histock",
			"url_template": "https://histock.tw/stock/{code}",
			"selector":     "#Price1_lbTPrice",
			"element":      "span",
		},
		{
			"name":         "cmoney",
			"url_template": "https://www.cmoney.tw/forum/stock/{code}",
			"selector":     "section > div",
			"element":      "div.stockData__info > div",
		},
	})
	v.SetDefault("sources.holiday.url_template",
		"https://www.twse.com.tw/rwd/zh/holidaySchedule/holidaySchedule?date={year}&response=json&_={ts}")

	v.SetDefault("tasks.financial_statement_quarter.enabled", true)
	v.SetDefault("tasks.financial_statement_quarter.schedule", "0 0 17 * * *")
	v.SetDefault("tasks.financial_statement_quarter.ttl", 7*24*time.Hour)
	v.SetDefault("tasks.financial_statement_quarter.mark_policy", "attempted")
	v.SetDefault("tasks.financial_statement_annual.enabled", true)
	v.SetDefault("tasks.financial_statement_annual.schedule", "0 0 19 * * *")
	v.SetDefault("tasks.financial_statement_annual.ttl", 7*24*time.Hour)
	v.SetDefault("tasks.financial_statement_annual.mark_policy", "attempted")
	v.SetDefault("tasks.daily_quote.enabled", true)
	v.SetDefault("tasks.daily_quote.schedule", "0 1 7 * * *")
	v.SetDefault("tasks.daily_quote.ttl", 12*time.Hour)
	v.SetDefault("tasks.daily_quote.mark_policy", "attempted")
	v.SetDefault("tasks.daily_quote.parallelism", 4)
}

// Validate performs semantic validation on the loaded configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Fetch.MaxConcurrentRequests < 0 {
		return fmt.Errorf("fetch.max_concurrent_requests must be >= 0")
	}
	if c.Fetch.TimeoutSeconds <= 0 {
		return fmt.Errorf("fetch.timeout_seconds must be > 0")
	}
	for i, h := range c.Fetch.RateLimit.Hosts {
		if h.Host == "" {
			return fmt.Errorf("fetch.rate_limit.hosts[%d].host must be set", i)
		}
	}
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.Addr == "" {
			return fmt.Errorf("cache.addr must be set when cache.backend is redis")
		}
	default:
		return fmt.Errorf("cache.backend must be memory or redis, got %q", c.Cache.Backend)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("scheduler.timezone: %w", err)
	}
	if c.Notify.Telegram.Enabled && (c.Notify.Telegram.BotToken == "" || c.Notify.Telegram.ChatID == "") {
		return fmt.Errorf("notify.telegram.bot_token and chat_id must be set when telegram is enabled")
	}
	for name, task := range c.Tasks {
		if !task.Enabled {
			continue
		}
		if task.Schedule == "" {
			return fmt.Errorf("tasks.%s.schedule must be set", name)
		}
		if task.TTL <= 0 {
			return fmt.Errorf("tasks.%s.ttl must be > 0", name)
		}
		if task.Parallelism < 0 {
			return fmt.Errorf("tasks.%s.parallelism must be >= 0", name)
		}
		switch task.MarkPolicy {
		case "", "attempted", "full_success":
		default:
			return fmt.Errorf("tasks.%s.mark_policy must be attempted or full_success", name)
		}
	}
	return nil
}

// Location returns the scheduler time zone.
func (c Config) Location() (*time.Location, error) {
	if c.Scheduler.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load location %q: %w", c.Scheduler.Timezone, err)
	}
	return loc, nil
}

// FetchTimeout converts fetch.timeout_seconds to a Duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutSeconds) * time.Second
}
