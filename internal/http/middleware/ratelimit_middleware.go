package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/breakroom-labs/sentinel/internal/http/response"
	"github.com/breakroom-labs/sentinel/internal/observability"
	"github.com/breakroom-labs/sentinel/internal/ratelimit"
)

// FailureMode decides what happens when the limiter backend errors.
type FailureMode string

const (
	// FailOpen admits traffic when the limiter is unavailable.
	FailOpen FailureMode = "fail_open"
	// FailClosed rejects traffic when the limiter is unavailable.
	FailClosed FailureMode = "fail_closed"
)

// RateLimiter throttles one class of sensitive action per request key.
type RateLimiter struct {
	limiter ratelimit.Limiter
	class   ratelimit.Class
	mode    FailureMode
	keyFunc func(r *http.Request) string
	logger  *slog.Logger
}

func NewRateLimiter(limiter ratelimit.Limiter, class ratelimit.Class, mode FailureMode, keyFunc func(r *http.Request) string, logger *slog.Logger) *RateLimiter {
	if keyFunc == nil {
		keyFunc = ClientIPKey
	}
	return &RateLimiter{limiter: limiter, class: class, mode: mode, keyFunc: keyFunc, logger: logger}
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			key := rl.keyFunc(r)

			allowed, err := rl.limiter.Allow(ctx, key, rl.class)
			if err != nil {
				observability.RecordRateLimitDecision(ctx, rl.class.Name, "backend_error")
				if rl.mode == FailOpen {
					rl.logger.WarnContext(ctx, "rate limiter unavailable, admitting request",
						"class", rl.class.Name, "error", err)
					next.ServeHTTP(w, r)
					return
				}
				rl.logger.ErrorContext(ctx, "rate limiter unavailable, rejecting request",
					"class", rl.class.Name, "error", err)
				w.Header().Set("Retry-After", retryAfterHeader(rl.class.Window))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "service is throttling requests", nil)
				return
			}
			if !allowed {
				observability.RecordRateLimitDecision(ctx, rl.class.Name, "deny")
				retry, rerr := rl.limiter.RemainingTime(ctx, key, rl.class)
				if rerr != nil || retry <= 0 {
					retry = rl.class.Window
				}
				w.Header().Set("Retry-After", retryAfterHeader(retry))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests",
					map[string]any{"retry_after": ceilSeconds(retry)})
				return
			}
			observability.RecordRateLimitDecision(ctx, rl.class.Name, "allow")
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIPKey keys the limiter by remote address. RealIP runs earlier in the
// chain, so RemoteAddr already reflects trusted forwarding headers.
func ClientIPKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// IdentityOrIPKey keys the limiter by authenticated user when available,
// falling back to the client IP for anonymous traffic.
func IdentityOrIPKey(r *http.Request) string {
	if identity, ok := IdentityFromContext(r.Context()); ok {
		return "user:" + strconv.FormatUint(uint64(identity.UserID), 10)
	}
	return ClientIPKey(r)
}

// retryAfterHeader renders a duration as whole seconds, never below one.
func retryAfterHeader(d time.Duration) string {
	return strconv.FormatInt(ceilSeconds(d), 10)
}

func ceilSeconds(d time.Duration) int64 {
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
