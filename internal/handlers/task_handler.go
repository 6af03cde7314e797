package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/agelabs/escrow/internal/attestation"
	"github.com/agelabs/escrow/internal/escrow"
	"github.com/agelabs/escrow/internal/middleware"
	"github.com/agelabs/escrow/internal/models"
)

// Ledger abstracts the escrow operations needed by the handler.
type Ledger interface {
	CreateTask(ctx context.Context, caller models.Address, p escrow.CreateTaskParams) (*models.Task, error)
	FundTask(ctx context.Context, caller models.Address, id uint64, value *big.Int) error
	SubmitWork(ctx context.Context, caller models.Address, id uint64, workURI string) error
	ReleasePayment(ctx context.Context, caller models.Address, id uint64, attestationUID models.UID) error
	Refund(ctx context.Context, caller models.Address, id uint64) error
	ReadTask(ctx context.Context, id uint64) (*models.Task, error)
	ListTasks(ctx context.Context) ([]*models.Task, error)
}

// TaskHandler serves /v1/tasks and /v1/attestations endpoints.
type TaskHandler struct {
	Ledger    Ledger
	Registry  attestation.Registry
	Verifier  escrow.Verifier
	Validator *Validator
	Logger    *slog.Logger
}

type taskResponse struct {
	ID             uint64 `json:"id"`
	Client         string `json:"client"`
	Worker         string `json:"worker"`
	Attestor       string `json:"attestor"`
	AssetKind      string `json:"asset_kind"`
	Token          string `json:"token,omitempty"`
	Amount         string `json:"amount"`
	Deadline       string `json:"deadline"`
	Status         string `json:"status"`
	Funded         bool   `json:"funded"`
	WorkURI        string `json:"work_uri,omitempty"`
	AttestationUID string `json:"attestation_uid,omitempty"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

func toTaskResponse(t *models.Task) taskResponse {
	resp := taskResponse{
		ID:        t.ID,
		Client:    t.Client.String(),
		Worker:    t.Worker.String(),
		Attestor:  t.Attestor.String(),
		AssetKind: t.Asset.Kind.String(),
		Amount:    t.Amount.String(),
		Deadline:  t.Deadline.UTC().Format(time.RFC3339),
		Status:    t.Status.String(),
		Funded:    t.Funded,
		WorkURI:   t.WorkURI,
		CreatedAt: t.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: t.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if !t.Asset.IsNative() {
		resp.Token = t.Asset.Token.String()
	}
	if t.AttestationUID != models.ZeroUID {
		resp.AttestationUID = t.AttestationUID.String()
	}
	return resp
}

// --- POST /v1/tasks ---

type createTaskRequest struct {
	ID       uint64 `json:"id"`
	Worker   string `json:"worker"`
	Attestor string `json:"attestor"`
	Token    string `json:"token"`
	Amount   string `json:"amount"`
	Deadline string `json:"deadline"`
}

// CreateTask handles POST /v1/tasks.
// Auth (via middleware) -> Validate Body -> Ledger.CreateTask -> 201.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromCtx(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	body, req, ok := decodeBody[createTaskRequest](w, r)
	if !ok {
		return
	}
	if !h.validateBody(w, "create_task", body) {
		return
	}

	worker, err := models.ParseAddress(req.Worker)
	if err != nil {
		http.Error(w, `{"error":"invalid worker address"}`, http.StatusBadRequest)
		return
	}
	attestor, err := models.ParseAddress(req.Attestor)
	if err != nil {
		http.Error(w, `{"error":"invalid attestor address"}`, http.StatusBadRequest)
		return
	}
	asset := models.NativeAsset()
	if req.Token != "" {
		token, err := models.ParseAddress(req.Token)
		if err != nil {
			http.Error(w, `{"error":"invalid token address"}`, http.StatusBadRequest)
			return
		}
		asset = models.TokenAsset(token)
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		http.Error(w, `{"error":"invalid amount"}`, http.StatusBadRequest)
		return
	}
	deadline, err := time.Parse(time.RFC3339, req.Deadline)
	if err != nil {
		http.Error(w, `{"error":"invalid deadline"}`, http.StatusBadRequest)
		return
	}

	task, err := h.Ledger.CreateTask(r.Context(), caller, escrow.CreateTaskParams{
		ID:       req.ID,
		Worker:   worker,
		Attestor: attestor,
		Asset:    asset,
		Amount:   amount,
		Deadline: deadline,
	})
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toTaskResponse(task))
}

// --- POST /v1/tasks/{id}/fund ---

type fundTaskRequest struct {
	Value string `json:"value"`
}

// FundTask handles POST /v1/tasks/{id}/fund. For native tasks `value`
// must match the escrow amount; for token tasks it must be absent and
// the custody allowance covers the pull instead.
func (h *TaskHandler) FundTask(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromCtx(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	id, ok := extractTaskID(r)
	if !ok {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return
	}

	body, req, ok := decodeBody[fundTaskRequest](w, r)
	if !ok {
		return
	}
	if !h.validateBody(w, "fund_task", body) {
		return
	}

	var value *big.Int
	if req.Value != "" {
		value, ok = new(big.Int).SetString(req.Value, 10)
		if !ok {
			http.Error(w, `{"error":"invalid value"}`, http.StatusBadRequest)
			return
		}
	}

	if err := h.Ledger.FundTask(r.Context(), caller, id, value); err != nil {
		h.writeLedgerError(w, err)
		return
	}
	h.readBack(w, r, id)
}

// --- POST /v1/tasks/{id}/work ---

type submitWorkRequest struct {
	WorkURI string `json:"work_uri"`
}

// SubmitWork handles POST /v1/tasks/{id}/work, the worker deliverable.
func (h *TaskHandler) SubmitWork(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromCtx(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	id, ok := extractTaskID(r)
	if !ok {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return
	}

	body, req, ok := decodeBody[submitWorkRequest](w, r)
	if !ok {
		return
	}
	if !h.validateBody(w, "submit_work", body) {
		return
	}

	if err := h.Ledger.SubmitWork(r.Context(), caller, id, req.WorkURI); err != nil {
		h.writeLedgerError(w, err)
		return
	}
	h.readBack(w, r, id)
}

// --- POST /v1/tasks/{id}/release ---

type releasePaymentRequest struct {
	AttestationUID string `json:"attestation_uid"`
}

// ReleasePayment handles POST /v1/tasks/{id}/release. Any authenticated
// caller may release; the attestation decides, not the caller identity.
func (h *TaskHandler) ReleasePayment(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromCtx(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	id, ok := extractTaskID(r)
	if !ok {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return
	}

	body, req, ok := decodeBody[releasePaymentRequest](w, r)
	if !ok {
		return
	}
	if !h.validateBody(w, "release_payment", body) {
		return
	}

	uid, err := models.ParseUID(req.AttestationUID)
	if err != nil {
		http.Error(w, `{"error":"invalid attestation_uid"}`, http.StatusBadRequest)
		return
	}

	if err := h.Ledger.ReleasePayment(r.Context(), caller, id, uid); err != nil {
		h.writeLedgerError(w, err)
		return
	}
	h.readBack(w, r, id)
}

// --- POST /v1/tasks/{id}/refund ---

// Refund handles POST /v1/tasks/{id}/refund.
func (h *TaskHandler) Refund(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.CallerFromCtx(r.Context())
	if !ok {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	id, ok := extractTaskID(r)
	if !ok {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return
	}

	if err := h.Ledger.Refund(r.Context(), caller, id); err != nil {
		h.writeLedgerError(w, err)
		return
	}
	h.readBack(w, r, id)
}

// --- GET /v1/tasks/{id} ---

// GetTask handles GET /v1/tasks/{id}.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := extractTaskID(r)
	if !ok {
		http.Error(w, `{"error":"invalid task id"}`, http.StatusBadRequest)
		return
	}
	task, err := h.Ledger.ReadTask(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(task))
}

// --- GET /v1/tasks ---

// ListTasks handles GET /v1/tasks, newest first.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.Ledger.ListTasks(r.Context())
	if err != nil {
		h.Logger.Error("list tasks", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	out := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, toTaskResponse(t))
	}
	writeJSON(w, http.StatusOK, out)
}

// --- GET /v1/attestations/{uid}/preview ---

type attestationPreview struct {
	UID            string `json:"uid"`
	Schema         string `json:"schema"`
	Attester       string `json:"attester"`
	Recipient      string `json:"recipient"`
	Time           uint64 `json:"time"`
	ExpirationTime uint64 `json:"expiration_time,omitempty"`
	Revoked        bool   `json:"revoked"`
	TaskID         uint64 `json:"task_id"`
	QualityScore   uint8  `json:"quality_score"`
	Comment        string `json:"comment"`
	Worker         string `json:"worker"`
	Client         string `json:"client"`
	ValidForTask   *bool  `json:"valid_for_task,omitempty"`
}

// PreviewAttestation handles GET /v1/attestations/{uid}/preview. It
// fetches and decodes the attestation so a client can inspect what a
// release call would present. With ?task_id= it also runs the verifier
// speculatively and reports a bare pass/fail; the release path re-runs
// the full check and never trusts a preview.
func (h *TaskHandler) PreviewAttestation(w http.ResponseWriter, r *http.Request) {
	uid, err := models.ParseUID(r.PathValue("uid"))
	if err != nil {
		http.Error(w, `{"error":"invalid attestation uid"}`, http.StatusBadRequest)
		return
	}

	att, err := h.Registry.GetAttestation(r.Context(), uid)
	if err != nil {
		if errors.Is(err, attestation.ErrAttestationNotFound) {
			http.Error(w, `{"error":"attestation not found"}`, http.StatusNotFound)
			return
		}
		h.Logger.Error("fetch attestation", "uid", uid.String(), "error", err)
		http.Error(w, `{"error":"registry unavailable"}`, http.StatusBadGateway)
		return
	}

	claim, err := attestation.DecodeTaskClaim(att.Data)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "attestation payload does not decode as a task claim"})
		return
	}

	var validForTask *bool
	if rawID := r.URL.Query().Get("task_id"); rawID != "" {
		taskID, err := strconv.ParseUint(rawID, 10, 64)
		if err != nil {
			http.Error(w, `{"error":"invalid task_id"}`, http.StatusBadRequest)
			return
		}
		task, err := h.Ledger.ReadTask(r.Context(), taskID)
		if err != nil {
			h.writeLedgerError(w, err)
			return
		}
		valid := h.Verifier.Validate(r.Context(), uid, task.Attestor, task.Worker, task.Client, task.ID) == nil
		validForTask = &valid
	}

	writeJSON(w, http.StatusOK, attestationPreview{
		UID:            att.UID.String(),
		Schema:         att.Schema.String(),
		Attester:       att.Attester.String(),
		Recipient:      att.Recipient.String(),
		Time:           att.Time,
		ExpirationTime: att.ExpirationTime,
		Revoked:        att.RevocationTime != 0,
		TaskID:         claim.TaskID,
		QualityScore:   claim.QualityScore,
		Comment:        claim.Comment,
		Worker:         claim.Worker.String(),
		Client:         claim.Client.String(),
		ValidForTask:   validForTask,
	})
}

// --- helpers ---

// readBack returns the post-transition task record so callers see the
// new status without a second request.
func (h *TaskHandler) readBack(w http.ResponseWriter, r *http.Request, id uint64) {
	task, err := h.Ledger.ReadTask(r.Context(), id)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTaskResponse(task))
}

func (h *TaskHandler) validateBody(w http.ResponseWriter, schema string, body []byte) bool {
	if err := h.Validator.Validate(schema, body); err != nil {
		if errors.Is(err, ErrValidation) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return false
		}
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return false
	}
	return true
}

// writeLedgerError maps ledger sentinels onto HTTP statuses. Attestation
// rejections stay coarse on purpose; the body never says which check failed.
func (h *TaskHandler) writeLedgerError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, escrow.ErrTaskNotFound):
		status = http.StatusNotFound
	case errors.Is(err, escrow.ErrTaskExists):
		status = http.StatusConflict
	case errors.Is(err, escrow.ErrNotClient), errors.Is(err, escrow.ErrNotWorker):
		status = http.StatusForbidden
	case errors.Is(err, escrow.ErrInvalidWorker),
		errors.Is(err, escrow.ErrInvalidAttestor),
		errors.Is(err, escrow.ErrInvalidAmount),
		errors.Is(err, escrow.ErrInvalidDeadline),
		errors.Is(err, escrow.ErrInvalidAttestation):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, escrow.ErrAlreadyFunded),
		errors.Is(err, escrow.ErrNotFunded),
		errors.Is(err, escrow.ErrWrongAmount),
		errors.Is(err, escrow.ErrBadStatus),
		errors.Is(err, escrow.ErrDeadlinePassed),
		errors.Is(err, escrow.ErrDeadlineNotPassed):
		status = http.StatusConflict
	case errors.Is(err, escrow.ErrTransferFailed):
		status = http.StatusBadGateway
	default:
		h.Logger.Error("ledger operation failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// decodeBody reads the full body once so it can be schema-validated and
// decoded from the same bytes. An empty body decodes as the zero request.
func decodeBody[T any](w http.ResponseWriter, r *http.Request) ([]byte, T, bool) {
	var req T
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, `{"error":"invalid body"}`, http.StatusBadRequest)
		return nil, req, false
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return nil, req, false
	}
	return body, req, true
}

// extractTaskID parses the numeric {id} wildcard of the matched route.
func extractTaskID(r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
