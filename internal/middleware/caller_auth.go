package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/agelabs/escrow/internal/models"
)

type contextKey string

const ctxCallerKey contextKey = "caller"

// TokenValidator resolves a bearer token to the caller address it was
// issued for.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (models.Address, error)
}

// CallerAuth authenticates requests by validating the Bearer token and
// setting the resolved caller address into request context. The ledger
// trusts that address the way a chain trusts msg.sender.
func CallerAuth(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				http.Error(w, `{"error":"missing or malformed Authorization header"}`, http.StatusUnauthorized)
				return
			}

			caller, err := tokens.ValidateToken(r.Context(), raw)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ctxCallerKey, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CallerFromCtx returns the authenticated caller address. The second
// return is false when the request never went through CallerAuth.
func CallerFromCtx(ctx context.Context) (models.Address, bool) {
	caller, ok := ctx.Value(ctxCallerKey).(models.Address)
	return caller, ok
}

// WithCaller returns a context carrying the given caller address.
func WithCaller(ctx context.Context, caller models.Address) context.Context {
	return context.WithValue(ctx, ctxCallerKey, caller)
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
