package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, "stockcrawler:", cfg.Cache.Prefix)
	assert.Equal(t, 60*time.Second, cfg.FetchTimeout())
	assert.Equal(t, 0, cfg.Fetch.MaxConcurrentRequests)
	require.Len(t, cfg.Sources.Quote.Providers, 2)
	assert.Equal(t, "histock", cfg.Sources.Quote.Providers[0].Name)
	assert.Equal(t, "#Price1_lbTPrice", cfg.Sources.Quote.Providers[0].Selector)

	quarter, ok := cfg.Tasks["financial_statement_quarter"]
	require.True(t, ok)
	assert.True(t, quarter.Enabled)
	assert.Equal(t, "0 0 17 * * *", quarter.Schedule)
	assert.Equal(t, 7*24*time.Hour, quarter.TTL)
	assert.Equal(t, "attempted", quarter.MarkPolicy)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestLoadFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  port: 9090
fetch:
  max_concurrent_requests: 8
  rate_limit:
    hosts:
      - host: www.twse.com.tw
        rps: 1
        burst: 2
cache:
  backend: redis
  addr: redis:6379
scheduler:
  timezone: Asia/Taipei
  singleton: true
tasks:
  daily_quote:
    enabled: true
    schedule: "0 30 8 * * *"
    ttl: 6h
    mark_policy: full_success
    parallelism: 2
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Fetch.MaxConcurrentRequests)
	require.Len(t, cfg.Fetch.RateLimit.Hosts, 1)
	assert.Equal(t, HostRateLimit{Host: "www.twse.com.tw", RPS: 1, Burst: 2}, cfg.Fetch.RateLimit.Hosts[0])
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, "redis:6379", cfg.Cache.Addr)
	assert.True(t, cfg.Scheduler.Singleton)

	daily := cfg.Tasks["daily_quote"]
	assert.Equal(t, "0 30 8 * * *", daily.Schedule)
	assert.Equal(t, 6*time.Hour, daily.TTL)
	assert.Equal(t, "full_success", daily.MarkPolicy)
	assert.Equal(t, 2, daily.Parallelism)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Taipei", loc.String())
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("STOCKCRAWLER_SERVER_PORT", "7070")
	t.Setenv("STOCKCRAWLER_FETCH_MAX_CONCURRENT_REQUESTS", "3")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Fetch.MaxConcurrentRequests)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Server: ServerConfig{Port: 8080},
			Fetch:  FetchConfig{TimeoutSeconds: 60},
			Cache:  CacheConfig{Backend: "memory"},
			Tasks: map[string]TaskConfig{
				"daily_quote": {Enabled: true, Schedule: "0 1 7 * * *", TTL: time.Hour},
			},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "auth key", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
		{name: "negative concurrency", mutate: func(c *Config) { c.Fetch.MaxConcurrentRequests = -1 }, want: "fetch.max_concurrent_requests"},
		{name: "timeout", mutate: func(c *Config) { c.Fetch.TimeoutSeconds = 0 }, want: "fetch.timeout_seconds"},
		{name: "rate limit host", mutate: func(c *Config) {
			c.Fetch.RateLimit.Hosts = []HostRateLimit{{RPS: 1}}
		}, want: "fetch.rate_limit.hosts[0].host"},
		{name: "cache backend", mutate: func(c *Config) { c.Cache.Backend = "memcached" }, want: "cache.backend"},
		{name: "redis addr", mutate: func(c *Config) { c.Cache.Backend = "redis" }, want: "cache.addr"},
		{name: "timezone", mutate: func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }, want: "scheduler.timezone"},
		{name: "telegram creds", mutate: func(c *Config) { c.Notify.Telegram.Enabled = true }, want: "notify.telegram"},
		{name: "task schedule", mutate: func(c *Config) {
			c.Tasks["daily_quote"] = TaskConfig{Enabled: true, TTL: time.Hour}
		}, want: "tasks.daily_quote.schedule"},
		{name: "task ttl", mutate: func(c *Config) {
			c.Tasks["daily_quote"] = TaskConfig{Enabled: true, Schedule: "* * * * * *"}
		}, want: "tasks.daily_quote.ttl"},
		{name: "task mark policy", mutate: func(c *Config) {
			c.Tasks["daily_quote"] = TaskConfig{Enabled: true, Schedule: "* * * * * *", TTL: time.Hour, MarkPolicy: "never"}
		}, want: "tasks.daily_quote.mark_policy"},
		{name: "disabled task ignored", mutate: func(c *Config) {
			c.Tasks["daily_quote"] = TaskConfig{Enabled: false}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
