package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/technosupport/firewatch/internal/alarms"
	"github.com/technosupport/firewatch/internal/auth"
	"github.com/technosupport/firewatch/internal/tokens"
	"go.uber.org/zap"
)

type TokenValidator interface {
	ValidateToken(tokenString string) (*tokens.Claims, error)
}

type JWTAuth struct {
	tokens    TokenValidator
	blacklist auth.TokenBlacklist
	logger    *zap.Logger
}

func NewJWTAuth(t TokenValidator, b auth.TokenBlacklist, logger *zap.Logger) *JWTAuth {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JWTAuth{tokens: t, blacklist: b, logger: logger}
}

// Middleware requires an Authorization: Bearer header.
func (m *JWTAuth) Middleware(next http.Handler) http.Handler {
	return m.handler(next, false)
}

// AllowQueryToken also accepts ?token= for clients that cannot set headers
// (websocket upgrades and <img> MJPEG sources).
func (m *JWTAuth) AllowQueryToken(next http.Handler) http.Handler {
	return m.handler(next, true)
}

func (m *JWTAuth) handler(next http.Handler, allowQuery bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearerToken(r)
		if raw == "" && allowQuery {
			raw = r.URL.Query().Get("token")
		}
		if raw == "" {
			unauthorized(w)
			return
		}

		claims, err := m.tokens.ValidateToken(raw)
		if err != nil {
			unauthorized(w)
			return
		}
		principal, err := claims.Principal()
		if err != nil {
			unauthorized(w)
			return
		}

		if m.blacklist != nil {
			revoked, err := m.blacklist.IsBlacklisted(r.Context(), claims.ID)
			if err != nil {
				// fail closed
				m.logger.Warn("blacklist lookup failed", zap.Error(err))
				unauthorized(w)
				return
			}
			if revoked {
				unauthorized(w)
				return
			}
		}

		ctx := WithAuthContext(r.Context(), &AuthContext{Principal: *principal, Claims: claims})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin rejects authenticated non-admin callers with 403.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r.Context())
		if !ok {
			unauthorized(w)
			return
		}
		if !p.IsAdmin() {
			writeError(w, http.StatusForbidden, "forbidden", alarms.ErrForbidden.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="firewatch"`)
	writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": msg})
}
