package ratelimiter

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"relay/internal/modules/metrics"
)

// Middleware enforces the limiter per client, keyed by originating IP.
// Denied requests get 429 with a Retry-After hint.
func Middleware(next http.Handler, limiter Limiter, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := ClientKey(r)

		if !limiter.Allow(client) {
			metrics.RateLimitedTotal.Inc()
			logger.Debug("rate limit exceeded",
				zap.String("client", client),
				zap.String("path", r.URL.Path))

			st := limiter.Status(client)
			if st.RetryAfter > 0 {
				seconds := int(math.Ceil(st.RetryAfter.Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(seconds))
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{
				"error": "rate limit exceeded",
			})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ClientKey extracts the client identity from a request: the first
// X-Forwarded-For hop when present, otherwise the peer address.
func ClientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
