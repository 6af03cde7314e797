// Package escrow implements the attestation-gated escrow ledger: task
// lifecycle, fund custody, and payout/refund settlement. All operations are
// serialized; each either fully succeeds and emits its event, or fails and
// changes nothing.
package escrow

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agelabs/escrow/internal/assets"
	"github.com/agelabs/escrow/internal/models"
)

// Verifier validates one attestation against a task's recorded identities.
// Implemented by attestation.Verifier; stubbed in tests.
type Verifier interface {
	Validate(ctx context.Context, uid models.UID, attestor, worker, client models.Address, taskID uint64) error
}

// CreateTaskParams are the caller-supplied fields of a new task. The caller
// becomes the client.
type CreateTaskParams struct {
	ID       uint64
	Worker   models.Address
	Attestor models.Address
	Asset    models.Asset
	Amount   *big.Int
	Deadline time.Time
}

// Ledger owns the task table and custodies funds per task. One mutex
// serializes all mutating operations; external transfers run after the state
// flip is durable so a reentrant call observes the new status and fails its
// own precondition check. Tasks with a transfer in flight are additionally
// marked in inflight: a rollback restores exactly the record the failed
// operation flipped, so no other mutation may land inside the window.
type Ledger struct {
	store    Store
	verifier Verifier
	bank     assets.Bank
	tokens   assets.TokenResolver
	custody  models.Address
	sink     Sink
	logger   *slog.Logger

	mu       sync.Mutex
	inflight map[uint64]bool
	now      func() time.Time
}

// NewLedger wires the ledger. A nil sink falls back to logging events.
func NewLedger(store Store, verifier Verifier, bank assets.Bank, tokens assets.TokenResolver, custody models.Address, sink Sink, logger *slog.Logger) *Ledger {
	if sink == nil {
		sink = &LogSink{Logger: logger}
	}
	return &Ledger{
		store:    store,
		verifier: verifier,
		bank:     bank,
		tokens:   tokens,
		custody:  custody,
		sink:     sink,
		logger:   logger,
		inflight: make(map[uint64]bool),
		now:      time.Now,
	}
}

// SetClock overrides the time source. Tests only.
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

// CreateTask registers a new task in Open/unfunded state. The caller becomes
// the client and sole funder.
func (l *Ledger) CreateTask(ctx context.Context, caller models.Address, p CreateTaskParams) (*models.Task, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.store.Get(ctx, p.ID); err == nil {
		return nil, ErrTaskExists
	} else if !errors.Is(err, ErrTaskNotFound) {
		return nil, err
	}
	if p.Worker.IsZero() {
		return nil, ErrInvalidWorker
	}
	if p.Attestor.IsZero() {
		return nil, ErrInvalidAttestor
	}
	if p.Amount == nil || p.Amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	now := l.now()
	if !p.Deadline.After(now) {
		return nil, ErrInvalidDeadline
	}

	t := &models.Task{
		ID:        p.ID,
		Client:    caller,
		Worker:    p.Worker,
		Attestor:  p.Attestor,
		Asset:     p.Asset,
		Amount:    new(big.Int).Set(p.Amount),
		Deadline:  p.Deadline,
		Status:    models.TaskStatusOpen,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := l.store.Create(ctx, t); err != nil {
		return nil, err
	}

	deadline := t.Deadline
	l.emit(ctx, Event{
		Type:     EventTaskCreated,
		TaskID:   t.ID,
		Client:   t.Client,
		Worker:   t.Worker,
		Attestor: t.Attestor,
		Asset:    t.Asset.String(),
		Amount:   new(big.Int).Set(t.Amount),
		Deadline: &deadline,
	})
	return t.Clone(), nil
}

// FundTask pulls the task amount into custody, exactly once. Native tasks
// must attach value equal to the amount; token tasks must attach none and are
// pulled through the client's pre-approved allowance.
func (l *Ledger) FundTask(ctx context.Context, caller models.Address, id uint64, value *big.Int) error {
	t, prev, mover, err := l.prepareFund(ctx, caller, id, value)
	if err != nil {
		return err
	}

	// Funded flag is already visible: a reentrant fund attempt during the
	// pull fails with AlreadyFunded, and the in-flight mark keeps submit
	// and refund out until the pull settles.
	if err := mover.ReceiveInto(ctx, l.custody, t.Client, t.Amount); err != nil {
		l.settle(ctx, id, prev)
		return ErrTransferFailed
	}
	l.settle(ctx, id, nil)

	deadline := t.Deadline
	l.emit(ctx, Event{Type: EventTaskFunded, TaskID: t.ID, Client: t.Client, Amount: new(big.Int).Set(t.Amount), Deadline: &deadline})
	return nil
}

func (l *Ledger) prepareFund(ctx context.Context, caller models.Address, id uint64, value *big.Int) (*models.Task, *models.Task, assets.Mover, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	if caller != t.Client {
		return nil, nil, nil, ErrNotClient
	}
	if t.Funded {
		return nil, nil, nil, ErrAlreadyFunded
	}
	if t.Status != models.TaskStatusOpen {
		return nil, nil, nil, ErrBadStatus
	}
	if t.Asset.IsNative() {
		if value == nil || value.Cmp(t.Amount) != 0 {
			return nil, nil, nil, ErrWrongAmount
		}
	} else if value != nil && value.Sign() != 0 {
		// Token tasks take no attached native value.
		return nil, nil, nil, ErrWrongAmount
	}
	mover, err := assets.MoverFor(t.Asset, l.bank, l.tokens)
	if err != nil {
		return nil, nil, nil, ErrTransferFailed
	}

	prev := t.Clone()
	t.Funded = true
	t.UpdatedAt = l.now()
	if err := l.store.Update(ctx, t); err != nil {
		return nil, nil, nil, err
	}
	l.inflight[id] = true
	return t, prev, mover, nil
}

// SubmitWork records the worker's work reference and moves the task to
// Submitted. The reference is opaque; no format validation.
func (l *Ledger) SubmitWork(ctx context.Context, caller models.Address, id uint64, workURI string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, err := l.store.Get(ctx, id)
	if err != nil {
		return err
	}
	// A task whose funding pull is still in flight is not funded yet.
	if !t.Funded || l.inflight[id] {
		return ErrNotFunded
	}
	if caller != t.Worker {
		return ErrNotWorker
	}
	if t.Status != models.TaskStatusOpen {
		return ErrBadStatus
	}
	if l.now().After(t.Deadline) {
		return ErrDeadlinePassed
	}

	t.Status = models.TaskStatusSubmitted
	t.WorkURI = workURI
	t.UpdatedAt = l.now()
	if err := l.store.Update(ctx, t); err != nil {
		return err
	}

	l.emit(ctx, Event{Type: EventWorkSubmitted, TaskID: t.ID, Worker: t.Worker, WorkURI: workURI})
	return nil
}

// ReleasePayment settles the task to the worker if the attestation passes the
// full verification protocol. Any caller may trigger release: value is gated
// by attestation validity, not caller identity.
func (l *Ledger) ReleasePayment(ctx context.Context, _ models.Address, id uint64, attestationUID models.UID) error {
	t, prev, mover, err := l.prepareRelease(ctx, id, attestationUID)
	if err != nil {
		return err
	}

	// Status is already Paid: a reentrant release during the payout fails
	// its Submitted-status precondition.
	if err := mover.SendFromCustody(ctx, l.custody, t.Worker, t.Amount); err != nil {
		l.settle(ctx, id, prev)
		return ErrTransferFailed
	}
	l.settle(ctx, id, nil)

	l.emit(ctx, Event{Type: EventTaskPaid, TaskID: t.ID, Worker: t.Worker, Amount: new(big.Int).Set(t.Amount), AttestationUID: attestationUID.String()})
	return nil
}

func (l *Ledger) prepareRelease(ctx context.Context, id uint64, attestationUID models.UID) (*models.Task, *models.Task, assets.Mover, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	if t.Status != models.TaskStatusSubmitted {
		return nil, nil, nil, ErrBadStatus
	}
	if err := l.verifier.Validate(ctx, attestationUID, t.Attestor, t.Worker, t.Client, t.ID); err != nil {
		l.logger.Debug("attestation rejected", "task_id", t.ID, "uid", attestationUID, "error", err)
		return nil, nil, nil, ErrInvalidAttestation
	}
	mover, err := assets.MoverFor(t.Asset, l.bank, l.tokens)
	if err != nil {
		return nil, nil, nil, ErrTransferFailed
	}

	prev := t.Clone()
	t.Status = models.TaskStatusPaid
	t.AttestationUID = attestationUID
	t.UpdatedAt = l.now()
	if err := l.store.Update(ctx, t); err != nil {
		return nil, nil, nil, err
	}
	l.inflight[id] = true
	return t, prev, mover, nil
}

// Refund returns custodied funds to the client once the deadline has passed
// without a payout. Terminal and mutually exclusive with Paid.
func (l *Ledger) Refund(ctx context.Context, caller models.Address, id uint64) error {
	t, prev, mover, err := l.prepareRefund(ctx, caller, id)
	if err != nil {
		return err
	}

	if err := mover.SendFromCustody(ctx, l.custody, t.Client, t.Amount); err != nil {
		l.settle(ctx, id, prev)
		return ErrTransferFailed
	}
	l.settle(ctx, id, nil)

	l.emit(ctx, Event{Type: EventTaskRefunded, TaskID: t.ID, Client: t.Client, Amount: new(big.Int).Set(t.Amount)})
	return nil
}

func (l *Ledger) prepareRefund(ctx context.Context, caller models.Address, id uint64) (*models.Task, *models.Task, assets.Mover, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	if caller != t.Client {
		return nil, nil, nil, ErrNotClient
	}
	if t.Status.Terminal() {
		return nil, nil, nil, ErrBadStatus
	}
	if !t.Funded || l.inflight[id] {
		return nil, nil, nil, ErrNotFunded
	}
	if !l.now().After(t.Deadline) {
		return nil, nil, nil, ErrDeadlineNotPassed
	}
	mover, err := assets.MoverFor(t.Asset, l.bank, l.tokens)
	if err != nil {
		return nil, nil, nil, ErrTransferFailed
	}

	prev := t.Clone()
	t.Status = models.TaskStatusRefunded
	t.UpdatedAt = l.now()
	if err := l.store.Update(ctx, t); err != nil {
		return nil, nil, nil, err
	}
	l.inflight[id] = true
	return t, prev, mover, nil
}

// ReadTask returns the full record for id, or ErrTaskNotFound.
func (l *Ledger) ReadTask(ctx context.Context, id uint64) (*models.Task, error) {
	return l.store.Get(ctx, id)
}

// ListTasks returns all records, newest first.
func (l *Ledger) ListTasks(ctx context.Context) ([]*models.Task, error) {
	return l.store.List(ctx)
}

// Custody returns the ledger's custody address (the TransferFrom spender
// clients approve for token funding).
func (l *Ledger) Custody() models.Address { return l.custody }

// settle ends a task's transfer window. A non-nil prev means the transfer
// failed and the pre-operation record is restored; the in-flight mark
// guarantees nothing else has written the task in between.
func (l *Ledger) settle(ctx context.Context, id uint64, prev *models.Task) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.inflight, id)
	if prev == nil {
		return
	}
	if err := l.store.Update(ctx, prev); err != nil {
		l.logger.Error("rollback failed", "task_id", prev.ID, "error", err)
	}
}

func (l *Ledger) emit(ctx context.Context, ev Event) {
	ev.ID = uuid.New()
	ev.At = l.now()
	if err := l.sink.Emit(ctx, ev); err != nil {
		l.logger.Error("event emit failed", "type", ev.Type, "task_id", ev.TaskID, "error", err)
	}
}
