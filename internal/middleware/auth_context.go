package middleware

import (
	"context"

	"github.com/technosupport/firewatch/internal/alarms"
	"github.com/technosupport/firewatch/internal/tokens"
)

type contextKey string

const authContextKey contextKey = "auth_context"

// AuthContext holds the authenticated caller and the token that proved it.
type AuthContext struct {
	Principal alarms.Principal
	Claims    *tokens.Claims
}

func GetAuthContext(ctx context.Context) (*AuthContext, bool) {
	val, ok := ctx.Value(authContextKey).(*AuthContext)
	return val, ok
}

func WithAuthContext(ctx context.Context, ac *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey, ac)
}

// PrincipalFrom returns the caller, or the zero Principal when unauthenticated.
func PrincipalFrom(ctx context.Context) (alarms.Principal, bool) {
	ac, ok := GetAuthContext(ctx)
	if !ok {
		return alarms.Principal{}, false
	}
	return ac.Principal, true
}
