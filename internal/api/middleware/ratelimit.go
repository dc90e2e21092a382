package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/djesus888/Tapclic-sub000/internal/metrics"
)

// RateLimiterConfig holds configuration for the ingress rate limiter.
type RateLimiterConfig struct {
	PerMinute int      // request budget per producer per rolling minute
	Whitelist []string // IPs or CIDRs exempt from rate limiting
}

// RateLimiter caps ingress emits per producer IP over a rolling window.
// With Redis configured it uses a sliding window over a sorted set; without
// it, a per-process fixed window keeps the budget enforced in development.
type RateLimiter struct {
	client       *redis.Client
	logger       zerolog.Logger
	limit        int
	window       time.Duration
	whitelist    []*net.IPNet
	whitelistIPs map[string]bool

	mu      sync.Mutex
	buckets map[string]*localBucket
}

type localBucket struct {
	windowStart time.Time
	count       int
}

// NewRateLimiter creates the ingress rate limiter. client may be nil.
func NewRateLimiter(client *redis.Client, logger zerolog.Logger, cfg RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		client:       client,
		logger:       logger,
		limit:        cfg.PerMinute,
		window:       time.Minute,
		whitelistIPs: make(map[string]bool),
		buckets:      make(map[string]*localBucket),
	}

	// Parse whitelist entries
	for _, entry := range cfg.Whitelist {
		if strings.Contains(entry, "/") {
			_, ipNet, err := net.ParseCIDR(entry)
			if err != nil {
				logger.Warn().Str("entry", entry).Err(err).Msg("invalid CIDR in whitelist")
				continue
			}
			rl.whitelist = append(rl.whitelist, ipNet)
		} else {
			rl.whitelistIPs[entry] = true
		}
	}

	if len(cfg.Whitelist) > 0 {
		logger.Info().
			Int("ips", len(rl.whitelistIPs)).
			Int("cidrs", len(rl.whitelist)).
			Msg("rate limit whitelist configured")
	}

	return rl
}

// isWhitelisted checks if an IP is in the whitelist.
func (rl *RateLimiter) isWhitelisted(ipStr string) bool {
	if rl.whitelistIPs[ipStr] {
		return true
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, ipNet := range rl.whitelist {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// RealIP extracts the real client IP from headers or connection.
func RealIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return strings.TrimSpace(strings.Split(ip, ",")[0])
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// checkAndIncrement checks the budget and counts the request.
// Returns (allowed, remaining, resetAt).
func (rl *RateLimiter) checkAndIncrement(ctx context.Context, ip string) (bool, int, time.Time) {
	if rl.client == nil {
		return rl.checkLocal(ip)
	}

	now := time.Now()
	windowStart := now.Add(-rl.window)
	key := fmt.Sprintf("ratelimit:ip:%s:%d", ip, now.Unix()/int64(rl.window.Seconds()))

	pipe := rl.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", windowStart.UnixMilli()))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: fmt.Sprintf("%d", now.UnixNano()),
	})
	pipe.Expire(ctx, key, rl.window*2)
	_, _ = pipe.Exec(ctx)

	count := int(countCmd.Val())
	remaining := rl.limit - count - 1
	if remaining < 0 {
		remaining = 0
	}
	return count < rl.limit, remaining, now.Add(rl.window)
}

// checkLocal is the in-memory fixed-window fallback.
func (rl *RateLimiter) checkLocal(ip string) (bool, int, time.Time) {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	b := rl.buckets[ip]
	if b == nil || now.Sub(b.windowStart) >= rl.window {
		b = &localBucket{windowStart: now}
		rl.buckets[ip] = b
	}
	b.count++

	remaining := rl.limit - b.count
	if remaining < 0 {
		remaining = 0
	}
	return b.count <= rl.limit, remaining, b.windowStart.Add(rl.window)
}

// Middleware returns the rate limiting middleware. Excess requests receive
// 429 and never reach the dispatcher.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := RealIP(r)

		if rl.isWhitelisted(ip) {
			next.ServeHTTP(w, r)
			return
		}

		allowed, remaining, resetAt := rl.checkAndIncrement(r.Context(), ip)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(time.Until(resetAt).Seconds())))
			metrics.RateLimitHits.WithLabelValues(r.URL.Path).Inc()

			rl.logger.Warn().
				Str("type", "security").
				Str("event", "rate_limit_exceeded").
				Str("ip", ip).
				Str("endpoint", r.URL.Path).
				Msg("rate limit exceeded")

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}
