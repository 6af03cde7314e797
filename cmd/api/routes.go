package main

import (
	"net/http"

	"github.com/agelabs/escrow/internal/handlers"
)

// RegisterV1Routes adds the /v1/ escrow endpoints to the given mux.
// Middleware chain: CallerAuth -> handler. Reads are public.
func RegisterV1Routes(mux *http.ServeMux, th *handlers.TaskHandler, authMW func(http.Handler) http.Handler) {
	mux.Handle("POST /v1/tasks", authMW(http.HandlerFunc(th.CreateTask)))
	mux.Handle("POST /v1/tasks/{id}/fund", authMW(http.HandlerFunc(th.FundTask)))
	mux.Handle("POST /v1/tasks/{id}/work", authMW(http.HandlerFunc(th.SubmitWork)))
	mux.Handle("POST /v1/tasks/{id}/release", authMW(http.HandlerFunc(th.ReleasePayment)))
	mux.Handle("POST /v1/tasks/{id}/refund", authMW(http.HandlerFunc(th.Refund)))

	mux.HandleFunc("GET /v1/tasks/{id}", th.GetTask)
	mux.HandleFunc("GET /v1/tasks", th.ListTasks)
	mux.HandleFunc("GET /v1/attestations/{uid}/preview", th.PreviewAttestation)
}
