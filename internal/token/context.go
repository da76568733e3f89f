package token

import "context"

type contextKey struct{}

// WithClaims stores verified claims on ctx.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, contextKey{}, claims)
}

// FromContext returns the claims stored by the auth middleware.
func FromContext(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(contextKey{}).(*Claims)
	return claims, ok && claims != nil
}

// SubjectFromContext returns the numeric subject of the authenticated caller.
func SubjectFromContext(ctx context.Context) (int64, bool) {
	claims, ok := FromContext(ctx)
	if !ok {
		return 0, false
	}
	id, err := claims.SubjectID()
	if err != nil {
		return 0, false
	}
	return id, true
}
