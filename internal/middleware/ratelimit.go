package middleware

import (
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/technosupport/firewatch/internal/ratelimit"
	"go.uber.org/zap"
)

type RateLimitMiddleware struct {
	limiter *ratelimit.Limiter
	cfg     ratelimit.LimitConfig
	scope   string
	logger  *zap.Logger
}

func NewRateLimitMiddleware(l *ratelimit.Limiter, scope string, cfg ratelimit.LimitConfig, logger *zap.Logger) *RateLimitMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimitMiddleware{limiter: l, cfg: cfg, scope: scope, logger: logger}
}

// PerIP limits requests per client address. A Redis outage fails closed so
// credential guessing cannot bypass the limit.
func (m *RateLimitMiddleware) PerIP(next http.Handler) http.Handler {
	if m == nil || m.limiter == nil || !m.cfg.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := m.scope + ":" + m.limiter.HashIP(clientIP(r))
		d, err := m.limiter.Check(r.Context(), key, m.cfg)
		if errors.Is(err, ratelimit.ErrRedisUnavailable) {
			RecordRateLimit("error")
			m.logger.Warn("rate limiter unavailable", zap.String("scope", m.scope))
			writeError(w, http.StatusServiceUnavailable, "unavailable", "rate limiter unavailable")
			return
		}
		if err != nil {
			RecordRateLimit("error")
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.Allowed {
			RecordRateLimit("blocked")
			w.Header().Set("Retry-After", strconv.Itoa(int(d.RetryAfter.Seconds())+1))
			writeError(w, http.StatusTooManyRequests, "rate_limited", ratelimit.ErrRateLimitExceeded.Error())
			return
		}
		RecordRateLimit("allowed")
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
