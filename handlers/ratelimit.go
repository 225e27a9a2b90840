package handlers

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/kova98/changealert.api/metrics"
	"github.com/kova98/changealert.api/ratelimit"
)

type RateLimiter struct {
	logger     *slog.Logger
	limiter    ratelimit.Limiter
	trustProxy bool
}

// NewRateLimiter builds the middleware. With trustProxy set, the last
// X-Forwarded-For hop replaces the socket address for anonymous callers.
func NewRateLimiter(logger *slog.Logger, limiter ratelimit.Limiter, trustProxy bool) *RateLimiter {
	return &RateLimiter{logger: logger, limiter: limiter, trustProxy: trustProxy}
}

// Wrap rejects requests over the client's budget. Limiter errors let the request through.
func (rl *RateLimiter) Wrap(next Handler) Handler {
	return func(w http.ResponseWriter, r *http.Request) Result {
		allowed, err := rl.limiter.Allow(r.Context(), clientKey(r, rl.trustProxy))
		if err != nil {
			rl.logger.Warn("rate limiter unavailable", "error", err)
			return next(w, r)
		}
		if !allowed {
			metrics.RateLimited.Inc()
			w.Header().Set("Retry-After", "1")
			return TooManyRequests("Too many requests, try again later.")
		}
		return next(w, r)
	}
}

// clientKey identifies the caller by authenticated principal, else by address.
// Request headers are only trusted once authentication has checked them.
func clientKey(r *http.Request, trustProxy bool) string {
	if p, ok := PrincipalFrom(r.Context()); ok {
		sum := sha256.Sum256([]byte(p.Method + ":" + p.Subject))
		return "principal:" + hex.EncodeToString(sum[:8])
	}
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			hops := strings.Split(fwd, ",")
			if last := strings.TrimSpace(hops[len(hops)-1]); last != "" {
				return "ip:" + last
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}
