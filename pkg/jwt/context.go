package jwt

import "context"

type contextKey struct{ name string }

var claimsContextKey = contextKey{"jwt_claims"}

// SetClaimsToContext stores parsed claims for downstream handlers.
func SetClaimsToContext(ctx context.Context, claims any) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// GetClaimsFromContext retrieves claims previously stored by the middleware.
func GetClaimsFromContext[T any](ctx context.Context) (T, bool) {
	claims, ok := ctx.Value(claimsContextKey).(T)
	return claims, ok
}
