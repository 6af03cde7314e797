package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/agelabs/escrow/internal/models"
)

type RegisterRequest struct {
	Address string `json:"address"`
	Secret  string `json:"secret"`
}

type LoginRequest struct {
	Address string `json:"address"`
	Secret  string `json:"secret"`
}

type AccountResponse struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

type Handler struct {
	svc Service
	log *slog.Logger
}

func NewHandler(svc Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	address, err := models.ParseAddress(req.Address)
	if err != nil {
		http.Error(w, "invalid address", http.StatusBadRequest)
		return
	}
	if req.Secret == "" {
		http.Error(w, "missing secret", http.StatusBadRequest)
		return
	}
	acc, err := h.svc.Register(r.Context(), address, req.Secret)
	if err != nil {
		if errors.Is(err, ErrDuplicateAddress) {
			http.Error(w, "address already registered", http.StatusConflict)
			return
		}
		h.log.Error("register failed", "error", err)
		http.Error(w, "registration failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(AccountResponse{ID: acc.ID.String(), Address: acc.Address.String()})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	address, err := models.ParseAddress(req.Address)
	if err != nil {
		http.Error(w, "invalid address", http.StatusBadRequest)
		return
	}
	token, err := h.svc.Login(r.Context(), address, req.Secret)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		h.log.Error("login failed", "error", err)
		http.Error(w, "login failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(LoginResponse{Token: token})
}
