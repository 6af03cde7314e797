package router

import (
	"net/http"

	"github.com/agelabs/escrow/internal/auth"
	"github.com/agelabs/escrow/internal/dashboard"
)

// New returns an http.Handler that serves the account API under /api/v1.
// The /v1 escrow routes are registered separately by cmd/api.
func New(authHandler *auth.Handler, dashHandler *dashboard.Handler, authMW func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()
	base := "/api/v1"
	mux.HandleFunc(base+"/auth/register", methodPOST(authHandler.Register))
	mux.HandleFunc(base+"/auth/login", methodPOST(authHandler.Login))
	mux.Handle(base+"/account/me", authMW(methodGET(dashHandler.GetMe)))
	mux.HandleFunc(base+"/healthz", methodGET(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	return mux
}

func methodGET(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func methodPOST(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}
