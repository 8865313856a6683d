package auth

import (
	"context"
)

// ctxKey is a private type for context keys to prevent collisions.
type ctxKey int

const (
	principalKey ctxKey = iota // stores *Principal
)

// WithPrincipal attaches the authenticated principal to ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext returns the authenticated principal, or nil.
func PrincipalFromContext(ctx context.Context) *Principal {
	if v := ctx.Value(principalKey); v != nil {
		if p, ok := v.(*Principal); ok {
			return p
		}
	}
	return nil
}

// IsAdminFromContext reports whether the request carries an authenticated principal.
func IsAdminFromContext(ctx context.Context) bool {
	return PrincipalFromContext(ctx) != nil
}
