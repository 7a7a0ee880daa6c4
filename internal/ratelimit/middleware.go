package ratelimit

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/tripwire/internal/ctxutil"
	"github.com/ashita-ai/tripwire/internal/model"
	"github.com/ashita-ai/tripwire/internal/telemetry"
)

// KeyFunc extracts the rate limit key from a request. An empty key skips
// rate limiting for the request.
type KeyFunc func(r *http.Request) string

// Middleware enforces limiter per client key on the wrapped routes. Over
// the limit, the caller gets 429 with Retry-After and the standard error
// envelope. Limiter errors fail open: evaluation must stay reachable when
// the limiter misbehaves, and checks still fail closed on their own limits.
func Middleware(limiter Limiter, keyFunc KeyFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	rejected, _ := telemetry.Meter("tripwire/ratelimit").Int64Counter("tripwire.http.rate_limited",
		metric.WithDescription("HTTP requests rejected by the per-client rate limit"),
	)

	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowed, err := limiter.Allow(r.Context(), key)
			if err != nil {
				if logger != nil {
					logger.WarnContext(r.Context(), "ratelimit: limiter failed, allowing request",
						"error", err, "request_id", ctxutil.RequestIDFromContext(r.Context()))
				}
				next.ServeHTTP(w, r)
				return
			}

			retryAfter := time.Second
			if wl, ok := limiter.(*WindowLimiter); ok {
				remaining, resetAt := wl.Remaining(key)
				h := w.Header()
				h.Set("X-RateLimit-Limit", strconv.Itoa(wl.Limit()))
				h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
				h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
				retryAfter = time.Until(resetAt)
			}
			if allowed {
				next.ServeHTTP(w, r)
				return
			}

			if rejected != nil {
				rejected.Add(r.Context(), 1, metric.WithAttributes(attribute.String("route", r.Pattern)))
			}
			writeRateLimitError(w, r, retryAfter)
		})
	}
}

func writeRateLimitError(w http.ResponseWriter, r *http.Request, retryAfter time.Duration) {
	secs := int((retryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(model.APIError{
		Error: model.ErrorDetail{
			Code:    model.ErrCodeRateLimited,
			Message: "too many requests",
		},
		Meta: model.ResponseMeta{
			RequestID: ctxutil.RequestIDFromContext(r.Context()),
			Timestamp: time.Now().UTC(),
		},
	})
}

// IPKeyFunc keys requests by the connection's remote IP. X-Forwarded-For is
// ignored because any client can set it.
func IPKeyFunc(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if host == "" {
		return ""
	}
	return "ip:" + host
}
