// Package authmw provides HTTP middleware for bearer token authentication.
package authmw

import (
	"context"
	"net/http"
	"strings"
)

type analystKey struct{}

// TokenLookup resolves a bearer token to an analyst name. Implementations
// must compare tokens in constant time.
type TokenLookup interface {
	Lookup(token string) (string, bool)
}

// BearerAnalyst returns middleware that requires an Authorization header of
// the form "Bearer <token>", resolves the token through dir and stores the
// analyst name in the request context.
func BearerAnalyst(dir TokenLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")

			if !strings.HasPrefix(auth, "Bearer ") {
				http.Error(w, `{"error":"missing or malformed authorization header"}`, http.StatusUnauthorized)
				return
			}

			analyst, ok := dir.Lookup(auth[len("Bearer "):])
			if !ok {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAnalyst(r.Context(), analyst)))
		})
	}
}

// WithAnalyst returns a copy of ctx carrying analyst.
func WithAnalyst(ctx context.Context, analyst string) context.Context {
	return context.WithValue(ctx, analystKey{}, analyst)
}

// AnalystFromContext returns the authenticated analyst, or "" if none.
func AnalystFromContext(ctx context.Context) string {
	a, _ := ctx.Value(analystKey{}).(string)
	return a
}
