package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/agelabs/escrow/internal/assets"
	"github.com/agelabs/escrow/internal/attestation"
	"github.com/agelabs/escrow/internal/escrow"
	"github.com/agelabs/escrow/internal/middleware"
	"github.com/agelabs/escrow/internal/models"
)

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

var (
	testClient   = models.MustAddress("0x00000000000000000000000000000000000000c1")
	testWorker   = models.MustAddress("0x00000000000000000000000000000000000000c2")
	testAttestor = models.MustAddress("0x00000000000000000000000000000000000000c3")
	testCustody  = models.MustAddress("0x00000000000000000000000000000000000000ff")
	testSchema   = models.MustUID("0x1111111111111111111111111111111111111111111111111111111111111111")
)

type fixture struct {
	handler  *TaskHandler
	registry *attestation.MemoryRegistry
	bank     *assets.MemoryBank
	now      time.Time
}

// newFixture wires the handler onto a real ledger over in-memory stores
// so requests exercise the full escrow path.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := escrow.NewMemoryStore()
	registry := attestation.NewMemoryRegistry()
	verifier, err := attestation.NewVerifier(registry, testSchema)
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	bank := assets.NewMemoryBank()
	bank.Mint(testClient, big.NewInt(1_000_000))
	tokens := assets.NewMemoryTokenResolver()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledger := escrow.NewLedger(store, verifier, bank, tokens, testCustody, nil, logger)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ledger.SetClock(func() time.Time { return now })
	verifier.SetClock(func() time.Time { return now })

	validator, err := NewValidator()
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}

	return &fixture{
		handler: &TaskHandler{
			Ledger:    ledger,
			Registry:  registry,
			Verifier:  verifier,
			Validator: validator,
			Logger:    logger,
		},
		registry: registry,
		bank:     bank,
		now:      now,
	}
}

// do runs a request through the handler func with the caller injected the
// way the auth middleware would.
func (f *fixture) do(h http.HandlerFunc, method, path string, caller models.Address, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	// Fill in the wildcards the mux patterns would bind.
	if parts := strings.Split(strings.Trim(req.URL.Path, "/"), "/"); len(parts) >= 3 {
		switch parts[1] {
		case "tasks":
			req.SetPathValue("id", parts[2])
		case "attestations":
			req.SetPathValue("uid", parts[2])
		}
	}
	if !caller.IsZero() {
		req = req.WithContext(middleware.WithCaller(req.Context(), caller))
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func (f *fixture) createTask(t *testing.T, id uint64) {
	t.Helper()
	rec := f.do(f.handler.CreateTask, http.MethodPost, "/v1/tasks", testClient, map[string]any{
		"id":       id,
		"worker":   testWorker.String(),
		"attestor": testAttestor.String(),
		"amount":   "1000",
		"deadline": f.now.Add(72 * time.Hour).Format(time.RFC3339),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create task: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
}

func (f *fixture) fundTask(t *testing.T, id uint64) {
	t.Helper()
	rec := f.do(f.handler.FundTask, http.MethodPost, fmt.Sprintf("/v1/tasks/%d/fund", id), testClient, map[string]any{"value": "1000"})
	if rec.Code != http.StatusOK {
		t.Fatalf("fund task: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func (f *fixture) submitWork(t *testing.T, id uint64) {
	t.Helper()
	rec := f.do(f.handler.SubmitWork, http.MethodPost, fmt.Sprintf("/v1/tasks/%d/work", id), testWorker, map[string]any{"work_uri": "ipfs://deliverable"})
	if rec.Code != http.StatusOK {
		t.Fatalf("submit work: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

// seedAttestation registers a valid attestation binding the given task.
func (f *fixture) seedAttestation(uid models.UID, taskID uint64) {
	f.registry.Set(&models.Attestation{
		UID:       uid,
		Schema:    testSchema,
		Time:      uint64(f.now.Unix()),
		Recipient: testWorker,
		Attester:  testAttestor,
		Data: attestation.EncodeTaskClaim(&models.TaskClaim{
			TaskID:       taskID,
			QualityScore: 92,
			Comment:      "solid work",
			Worker:       testWorker,
			Client:       testClient,
		}),
	})
}

func decodeTask(t *testing.T, rec *httptest.ResponseRecorder) taskResponse {
	t.Helper()
	var resp taskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode task response: %v: %s", err, rec.Body.String())
	}
	return resp
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestCreateTaskEndpoint(t *testing.T) {
	f := newFixture(t)
	f.createTask(t, 1)

	rec := f.do(f.handler.GetTask, http.MethodGet, "/v1/tasks/1", models.ZeroAddress, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeTask(t, rec)
	if resp.Status != "open" || resp.Funded {
		t.Errorf("expected open unfunded task, got status=%q funded=%v", resp.Status, resp.Funded)
	}
	if resp.Client != testClient.String() || resp.Worker != testWorker.String() {
		t.Errorf("unexpected parties: client=%q worker=%q", resp.Client, resp.Worker)
	}
	if resp.AssetKind != "native" || resp.Amount != "1000" {
		t.Errorf("unexpected asset: kind=%q amount=%q", resp.AssetKind, resp.Amount)
	}
}

func TestCreateTaskEndpointUnauthorized(t *testing.T) {
	f := newFixture(t)
	rec := f.do(f.handler.CreateTask, http.MethodPost, "/v1/tasks", models.ZeroAddress, map[string]any{"id": 1})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestCreateTaskEndpointSchemaViolations(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name string
		body map[string]any
	}{
		{"missing worker", map[string]any{
			"id": 1, "attestor": testAttestor.String(), "amount": "1000",
			"deadline": f.now.Add(time.Hour).Format(time.RFC3339),
		}},
		{"malformed address", map[string]any{
			"id": 1, "worker": "0x1234", "attestor": testAttestor.String(),
			"amount": "1000", "deadline": f.now.Add(time.Hour).Format(time.RFC3339),
		}},
		{"non-decimal amount", map[string]any{
			"id": 1, "worker": testWorker.String(), "attestor": testAttestor.String(),
			"amount": "12abc", "deadline": f.now.Add(time.Hour).Format(time.RFC3339),
		}},
		{"unknown field", map[string]any{
			"id": 1, "worker": testWorker.String(), "attestor": testAttestor.String(),
			"amount": "1000", "deadline": f.now.Add(time.Hour).Format(time.RFC3339),
			"bounty": true,
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(f.handler.CreateTask, http.MethodPost, "/v1/tasks", testClient, tc.body)
			if rec.Code != http.StatusUnprocessableEntity {
				t.Errorf("expected 422, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestCreateTaskEndpointDuplicate(t *testing.T) {
	f := newFixture(t)
	f.createTask(t, 1)

	rec := f.do(f.handler.CreateTask, http.MethodPost, "/v1/tasks", testClient, map[string]any{
		"id":       1,
		"worker":   testWorker.String(),
		"attestor": testAttestor.String(),
		"amount":   "500",
		"deadline": f.now.Add(time.Hour).Format(time.RFC3339),
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 on duplicate id, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestFundTaskEndpoint(t *testing.T) {
	f := newFixture(t)
	f.createTask(t, 1)

	rec := f.do(f.handler.FundTask, http.MethodPost, "/v1/tasks/1/fund", testClient, map[string]any{"value": "1000"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp := decodeTask(t, rec); !resp.Funded {
		t.Error("expected funded task in response")
	}
}

func TestFundTaskEndpointWrongCaller(t *testing.T) {
	f := newFixture(t)
	f.createTask(t, 1)

	rec := f.do(f.handler.FundTask, http.MethodPost, "/v1/tasks/1/fund", testWorker, map[string]any{"value": "1000"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestFundTaskEndpointWrongValue(t *testing.T) {
	f := newFixture(t)
	f.createTask(t, 1)

	rec := f.do(f.handler.FundTask, http.MethodPost, "/v1/tasks/1/fund", testClient, map[string]any{"value": "999"})
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSubmitWorkEndpoint(t *testing.T) {
	f := newFixture(t)
	f.createTask(t, 1)
	f.fundTask(t, 1)

	rec := f.do(f.handler.SubmitWork, http.MethodPost, "/v1/tasks/1/work", testWorker, map[string]any{"work_uri": "ipfs://deliverable"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeTask(t, rec)
	if resp.Status != "submitted" || resp.WorkURI != "ipfs://deliverable" {
		t.Errorf("unexpected response: status=%q work_uri=%q", resp.Status, resp.WorkURI)
	}
}

func TestSubmitWorkEndpointRequiresURI(t *testing.T) {
	f := newFixture(t)
	f.createTask(t, 1)
	f.fundTask(t, 1)

	rec := f.do(f.handler.SubmitWork, http.MethodPost, "/v1/tasks/1/work", testWorker, map[string]any{})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestReleasePaymentEndpoint(t *testing.T) {
	f := newFixture(t)
	f.createTask(t, 1)
	f.fundTask(t, 1)
	f.submitWork(t, 1)

	uid := models.MustUID("0x2222222222222222222222222222222222222222222222222222222222222222")
	f.seedAttestation(uid, 1)

	// A third party may trigger release; the attestation carries the authority.
	stranger := models.MustAddress("0x00000000000000000000000000000000000000dd")
	rec := f.do(f.handler.ReleasePayment, http.MethodPost, "/v1/tasks/1/release", stranger, map[string]any{"attestation_uid": uid.String()})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeTask(t, rec)
	if resp.Status != "paid" || resp.AttestationUID != uid.String() {
		t.Errorf("unexpected response: status=%q uid=%q", resp.Status, resp.AttestationUID)
	}

	bal, err := f.bank.BalanceOf(context.Background(), testWorker)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("expected worker paid 1000, got %s", bal)
	}
}

func TestReleasePaymentEndpointInvalidAttestation(t *testing.T) {
	f := newFixture(t)
	f.createTask(t, 1)
	f.fundTask(t, 1)
	f.submitWork(t, 1)

	// Unknown uid: the response stays coarse, no check detail leaks.
	uid := models.MustUID("0x3333333333333333333333333333333333333333333333333333333333333333")
	rec := f.do(f.handler.ReleasePayment, http.MethodPost, "/v1/tasks/1/release", testClient, map[string]any{"attestation_uid": uid.String()})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
	var errResp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if errResp["error"] != escrow.ErrInvalidAttestation.Error() {
		t.Errorf("expected coarse attestation error, got %q", errResp["error"])
	}
}

func TestRefundEndpoint(t *testing.T) {
	f := newFixture(t)
	f.createTask(t, 1)
	f.fundTask(t, 1)

	// Too early.
	rec := f.do(f.handler.Refund, http.MethodPost, "/v1/tasks/1/refund", testClient, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 before deadline, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGetTaskEndpointNotFound(t *testing.T) {
	f := newFixture(t)
	rec := f.do(f.handler.GetTask, http.MethodGet, "/v1/tasks/42", models.ZeroAddress, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}

	rec = f.do(f.handler.GetTask, http.MethodGet, "/v1/tasks/not-a-number", models.ZeroAddress, nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad id, got %d", rec.Code)
	}
}

func TestListTasksEndpoint(t *testing.T) {
	f := newFixture(t)
	f.createTask(t, 1)
	f.createTask(t, 2)

	rec := f.do(f.handler.ListTasks, http.MethodGet, "/v1/tasks", models.ZeroAddress, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp []taskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(resp) != 2 || resp[0].ID != 2 || resp[1].ID != 1 {
		t.Errorf("expected newest-first [2 1], got %+v", resp)
	}
}

func TestPreviewAttestationEndpoint(t *testing.T) {
	f := newFixture(t)
	uid := models.MustUID("0x4444444444444444444444444444444444444444444444444444444444444444")
	f.seedAttestation(uid, 7)

	rec := f.do(f.handler.PreviewAttestation, http.MethodGet, "/v1/attestations/"+uid.String()+"/preview", models.ZeroAddress, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp attestationPreview
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode preview: %v", err)
	}
	if resp.TaskID != 7 || resp.QualityScore != 92 || resp.Comment != "solid work" {
		t.Errorf("unexpected claim: %+v", resp)
	}
	if resp.Worker != testWorker.String() || resp.Attester != testAttestor.String() {
		t.Errorf("unexpected parties: %+v", resp)
	}
}

func TestPreviewAttestationEndpointWithTaskBinding(t *testing.T) {
	f := newFixture(t)
	f.createTask(t, 9)
	uid := models.MustUID("0x6666666666666666666666666666666666666666666666666666666666666666")
	f.seedAttestation(uid, 9)

	rec := f.do(f.handler.PreviewAttestation, http.MethodGet, "/v1/attestations/"+uid.String()+"/preview?task_id=9", models.ZeroAddress, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp attestationPreview
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode preview: %v", err)
	}
	if resp.ValidForTask == nil || !*resp.ValidForTask {
		t.Errorf("expected attestation valid for task 9, got %+v", resp.ValidForTask)
	}

	// Bound to the wrong task the preview flags invalid, nothing more.
	f.createTask(t, 10)
	rec = f.do(f.handler.PreviewAttestation, http.MethodGet, "/v1/attestations/"+uid.String()+"/preview?task_id=10", models.ZeroAddress, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp = attestationPreview{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode preview: %v", err)
	}
	if resp.ValidForTask == nil || *resp.ValidForTask {
		t.Errorf("expected attestation invalid for task 10, got %+v", resp.ValidForTask)
	}
}

func TestPreviewAttestationEndpointNotFound(t *testing.T) {
	f := newFixture(t)
	uid := models.MustUID("0x5555555555555555555555555555555555555555555555555555555555555555")

	rec := f.do(f.handler.PreviewAttestation, http.MethodGet, "/v1/attestations/"+uid.String()+"/preview", models.ZeroAddress, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}
