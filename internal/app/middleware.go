package app

import (
	"fmt"
	"net/http"
	"time"

	"xuesigner/internal/utility"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/hlog"
)

// ContentLengthValidator validates Content-Length header for requests with bodies.
// It rejects requests without Content-Length or with excessive Content-Length,
// and caps the body reader at maxSize.
func ContentLengthValidator(maxSize int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost || r.Method == http.MethodPut ||
				r.Method == http.MethodPatch {
				// r.ContentLength is -1 if not specified or chunked encoding
				if r.ContentLength < 0 {
					utility.PlainError(w, http.StatusLengthRequired,
						"Content-Length header is required")
					return
				}
				if r.ContentLength > maxSize {
					utility.PlainError(w, http.StatusRequestEntityTooLarge,
						"Content-Length exceeds maximum allowed size")
					return
				}
				r.Body = http.MaxBytesReader(w, r.Body, maxSize)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SecurityHeaders adds security-related HTTP headers to responses. The
// service only returns text and JSON, so nothing may be framed or loaded.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Cache-Control", "no-store")

		next.ServeHTTP(w, r)
	})
}

// RateLimitConfig holds configuration for rate limiting.
type RateLimitConfig struct {
	Limit  int           // max requests per window and client IP
	Window time.Duration // time window for rate limiting
}

// DefaultRateLimitConfig allows 30 signing attempts per minute.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Limit:  30,
		Window: time.Minute,
	}
}

// RateLimiterMiddleware uses Redis for distributed rate limiting.
type RateLimiterMiddleware struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
}

// NewRateLimiter creates a new Redis-based rate limiter middleware.
func NewRateLimiter(rdb *redis.Client, cfg RateLimitConfig) *RateLimiterMiddleware {
	return &RateLimiterMiddleware{
		rdb:    rdb,
		limit:  cfg.Limit,
		window: cfg.Window,
	}
}

// Handler returns the HTTP middleware handler. Requests pass through
// untouched when Redis is not configured or the limit is zero.
func (m *RateLimiterMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.rdb == nil || m.limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		// RealIP has already rewritten RemoteAddr from the proxy headers.
		key := fmt.Sprintf("ratelimit:%s:%s", remoteIP(r), r.URL.Path)

		// Use a pipeline to atomically increment and set expiry.
		// This avoids a race condition where the process could crash between
		// INCR and EXPIRE, leaving a key without TTL.
		pipe := m.rdb.TxPipeline()
		incr := pipe.Incr(r.Context(), key)
		pipe.Expire(r.Context(), key, m.window)
		_, err := pipe.Exec(r.Context())
		if err != nil {
			hlog.FromRequest(r).Warn().Err(err).Msg("rate limit redis error")
			next.ServeHTTP(w, r)
			return
		}

		if int(incr.Val()) > m.limit {
			utility.PlainError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}
