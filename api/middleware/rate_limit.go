package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/angelmondragon/akua-anchor/api/responses"
	pkgerrors "github.com/angelmondragon/akua-anchor/pkg/errors"
	"github.com/angelmondragon/akua-anchor/pkg/logger"
	"golang.org/x/time/rate"
)

// FixedWindowStore counts requests per scope in fixed windows.
type FixedWindowStore interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// RateLimitPolicy caps requests per client IP within a window.
type RateLimitPolicy struct {
	name   string
	window time.Duration
	limit  int
}

// NewRateLimitPolicy builds a policy with the supplied window and limit.
func NewRateLimitPolicy(name string, window time.Duration, limit int) RateLimitPolicy {
	return RateLimitPolicy{
		name:   strings.ToLower(strings.TrimSpace(name)),
		window: window,
		limit:  limit,
	}
}

func (p RateLimitPolicy) enabled() bool {
	return p.window > 0 && p.limit > 0
}

func (p RateLimitPolicy) normalizedName() string {
	if p.name == "" {
		return "default"
	}
	return p.name
}

func (p RateLimitPolicy) scope(ip string) string {
	return p.normalizedName() + ":ip:" + ip
}

// RateLimit enforces the policy with a Redis fixed window when store is set.
// Without a store, or when Redis fails, the in-process limiter decides.
func RateLimit(policy RateLimitPolicy, store FixedWindowStore, fallback *LocalLimiter, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() {
			return next
		}
		if fallback == nil {
			fallback = NewLocalLimiter(policy.window, policy.limit, defaultLimiterEntries)
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip := clientIP(r)

			allowed := false
			var count int64
			if store != nil {
				var err error
				allowed, count, err = store.FixedWindowAllow(ctx, policy.scope(ip), int64(policy.limit), policy.window)
				if err != nil {
					if logg != nil {
						logg.Error(logg.WithField(ctx, "policy", policy.normalizedName()), "rate_limit.store_failed", err)
					}
					allowed = fallback.Allow(ip)
				}
			} else {
				allowed = fallback.Allow(ip)
			}

			if !allowed {
				respondRateLimited(ctx, logg, w, policy, ip, count)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func respondRateLimited(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, policy RateLimitPolicy, ip string, count int64) {
	if logg != nil {
		logCtx := logg.WithFields(ctx, map[string]any{
			"policy":         policy.normalizedName(),
			"ip":             ip,
			"attempts":       count,
			"limit":          policy.limit,
			"window_seconds": int(policy.window.Seconds()),
		})
		logg.Warn(logCtx, "rate_limit.blocked")
	}
	responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded"))
}

const defaultLimiterEntries = 10_000

// LocalLimiter is a bounded per-key token bucket limiter. Idle keys are swept
// once per window, and when the table is full before a new key is admitted.
type LocalLimiter struct {
	mu         sync.Mutex
	every      rate.Limit
	burst      int
	idle       time.Duration
	maxEntries int
	entries    map[string]*limiterEntry
	lastSweep  time.Time
	now        func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewLocalLimiter(window time.Duration, limit, maxEntries int) *LocalLimiter {
	if maxEntries <= 0 {
		maxEntries = defaultLimiterEntries
	}
	if limit <= 0 {
		limit = 1
	}
	return &LocalLimiter{
		every:      rate.Every(window / time.Duration(limit)),
		burst:      limit,
		idle:       window,
		maxEntries: maxEntries,
		entries:    map[string]*limiterEntry{},
		now:        time.Now,
	}
}

func (l *LocalLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= l.idle {
		l.sweepLocked(now)
	}

	entry, ok := l.entries[key]
	if !ok {
		if len(l.entries) >= l.maxEntries {
			l.sweepLocked(now)
			if len(l.entries) >= l.maxEntries {
				return false
			}
		}
		entry = &limiterEntry{limiter: rate.NewLimiter(l.every, l.burst)}
		l.entries[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// Len reports the number of tracked keys.
func (l *LocalLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *LocalLimiter) sweepLocked(now time.Time) {
	for key, entry := range l.entries {
		if now.Sub(entry.lastSeen) >= l.idle {
			delete(l.entries, key)
		}
	}
	l.lastSweep = now
}

func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if header := r.Header.Get("X-Forwarded-For"); header != "" {
		for _, part := range strings.Split(header, ",") {
			if ip := strings.TrimSpace(part); ip != "" {
				return ip
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
