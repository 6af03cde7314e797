// Package dashboard serves the account-facing overview endpoints.
package dashboard

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/agelabs/escrow/internal/assets"
	"github.com/agelabs/escrow/internal/middleware"
	"github.com/agelabs/escrow/internal/models"
)

// TaskLister is the ledger view the dashboard reads.
type TaskLister interface {
	ListTasks(ctx context.Context) ([]*models.Task, error)
}

type Handler struct {
	ledger TaskLister
	bank   assets.Bank
	log    *slog.Logger
}

func NewHandler(ledger TaskLister, bank assets.Bank, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{ledger: ledger, bank: bank, log: log}
}

type overviewResponse struct {
	Address       string `json:"address"`
	NativeBalance string `json:"native_balance"`
	AsClient      int    `json:"as_client"`
	AsWorker      int    `json:"as_worker"`
	OpenTasks     int    `json:"open_tasks"`
	LockedAmount  string `json:"locked_amount"`
}

// GetMe handles GET /api/v1/account/me: the caller's task counts and the
// total native amount currently locked in their open escrows.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromCtx(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	tasks, err := h.ledger.ListTasks(r.Context())
	if err != nil {
		h.log.Error("list tasks", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	resp := overviewResponse{Address: caller.String()}
	locked := new(big.Int)
	for _, t := range tasks {
		mine := false
		if t.Client == caller {
			resp.AsClient++
			mine = true
		}
		if t.Worker == caller {
			resp.AsWorker++
			mine = true
		}
		if !mine {
			continue
		}
		if !t.Status.Terminal() {
			resp.OpenTasks++
			if t.Funded && t.Asset.IsNative() {
				locked.Add(locked, t.Amount)
			}
		}
	}
	resp.LockedAmount = locked.String()

	bal, err := h.bank.BalanceOf(r.Context(), caller)
	if err != nil {
		h.log.Error("balance lookup", "address", caller.String(), "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	resp.NativeBalance = bal.String()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
