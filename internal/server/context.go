package server

import (
	"context"

	"github.com/cardinal-bot/panel/internal/auth"
)

type contextKey int

const (
	ctxKeySession contextKey = iota
	ctxKeyCSRFToken
	ctxKeyRequestID
)

func withSession(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, ctxKeySession, claims)
}

// SessionFromContext returns the authenticated session, or nil.
func SessionFromContext(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(ctxKeySession).(*auth.Claims)
	return c
}

// ActorFromContext names whoever is acting in ctx, for audit entries.
func ActorFromContext(ctx context.Context) string {
	if c := SessionFromContext(ctx); c != nil && c.Username != "" {
		return c.Username
	}
	return "anonymous"
}

func withCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, ctxKeyCSRFToken, token)
}
