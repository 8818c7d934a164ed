package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	burstMultiplier = 2

	limiterCleanupInterval = 5 * time.Minute
	limiterIdleTimeout     = time.Hour
)

// Limiter decides whether a request may proceed. The principal is empty
// for unauthenticated requests.
type Limiter interface {
	Allow(principal string) bool
}

// RateLimitConfig tunes the in-memory limiter. Burst capacities default
// to twice the sustained rate.
type RateLimitConfig struct {
	GlobalRPS    int
	PrincipalRPS int
	AnonymousRPS int
}

// InMemoryLimiter is a token-bucket limiter with a global tier, a
// per-principal tier and an anonymous tier. Idle principal buckets are
// dropped by a background sweep.
type InMemoryLimiter struct {
	global    *rate.Limiter
	anonymous *rate.Limiter

	mu         sync.Mutex
	principals map[string]*principalLimiter

	principalRPS int
	done         chan struct{}
	ticker       *time.Ticker
}

type principalLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewInMemoryLimiter creates the limiter and starts its cleanup sweep.
func NewInMemoryLimiter(config RateLimitConfig) *InMemoryLimiter {
	l := &InMemoryLimiter{
		global:       rate.NewLimiter(rate.Limit(config.GlobalRPS), config.GlobalRPS*burstMultiplier),
		anonymous:    rate.NewLimiter(rate.Limit(config.AnonymousRPS), config.AnonymousRPS*burstMultiplier),
		principals:   make(map[string]*principalLimiter),
		principalRPS: config.PrincipalRPS,
		done:         make(chan struct{}),
		ticker:       time.NewTicker(limiterCleanupInterval),
	}

	go l.sweep()

	return l
}

// Allow implements Limiter.
func (l *InMemoryLimiter) Allow(principal string) bool {
	if !l.global.Allow() {
		return false
	}

	if principal == "" {
		return l.anonymous.Allow()
	}

	l.mu.Lock()

	pl, ok := l.principals[principal]
	if !ok {
		pl = &principalLimiter{
			limiter: rate.NewLimiter(rate.Limit(l.principalRPS), l.principalRPS*burstMultiplier),
		}
		l.principals[principal] = pl
	}

	pl.lastAccess = time.Now()
	l.mu.Unlock()

	return pl.limiter.Allow()
}

// Close stops the cleanup sweep.
func (l *InMemoryLimiter) Close() error {
	l.ticker.Stop()
	close(l.done)

	return nil
}

func (l *InMemoryLimiter) sweep() {
	for {
		select {
		case <-l.ticker.C:
			cutoff := time.Now().Add(-limiterIdleTimeout)

			l.mu.Lock()

			for principal, pl := range l.principals {
				if pl.lastAccess.Before(cutoff) {
					delete(l.principals, principal)
				}
			}

			l.mu.Unlock()
		case <-l.done:
			return
		}
	}
}

// RateLimit creates middleware that rejects requests over the limit with
// a 429 problem response. It must run after authentication so the
// per-principal tier sees the resolved identity.
func RateLimit(limiter Limiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetIdentity(r.Context()).Principal

			if !limiter.Allow(principal) {
				correlationID := GetCorrelationID(r.Context())
				detail := "Rate limit exceeded. Retry later."

				if err := writeProblem(w, r, http.StatusTooManyRequests,
					"Too Many Requests", detail, correlationID); err != nil {
					logger.Error("Failed to write rate limit response",
						slog.String("correlation_id", correlationID),
						slog.String("error", err.Error()),
					)
					http.Error(w, detail, http.StatusTooManyRequests)
				}

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
