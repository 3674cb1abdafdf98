// Package ratelimit paces outbound requests per source host with token buckets.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/stockcrawler/internal/metrics"
)

// HostLimit overrides the default bucket for one host.
type HostLimit struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// Config holds rate limiter configuration.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
	Hosts        map[string]HostLimit
}

// Limiter manages per-host rate limits. A nil *Limiter never waits.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	def      HostLimit
	hosts    map[string]HostLimit
}

// New creates a new Limiter. A non-positive RPS means unlimited.
func New(cfg Config) *Limiter {
	hosts := make(map[string]HostLimit, len(cfg.Hosts))
	for h, lim := range cfg.Hosts {
		hosts[strings.ToLower(h)] = lim
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		def:      HostLimit{RPS: cfg.DefaultRPS, Burst: cfg.DefaultBurst},
		hosts:    hosts,
	}
}

func newBucket(l HostLimit) *rate.Limiter {
	r := rate.Limit(l.RPS)
	if l.RPS <= 0 {
		r = rate.Inf
	}
	burst := l.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(r, burst)
}

func (l *Limiter) bucket(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.limiters[host]
	if !ok {
		lim, found := l.hosts[host]
		if !found {
			lim = l.def
		}
		b = newBucket(lim)
		l.limiters[host] = b
	}
	return b
}

// Wait blocks until a token is available for the host of rawURL, respecting the context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	if l == nil {
		return nil
	}
	host := metrics.SanitizeSite(rawURL)
	start := time.Now()
	if err := l.bucket(host).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait %s: %w", host, err)
	}
	// Immediate grants are not interesting.
	if d := time.Since(start); d > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, d)
	}
	return nil
}
