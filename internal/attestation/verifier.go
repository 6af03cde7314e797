// Package attestation validates task-completion attestations from an external
// registry: schema match, attestor identity, recipient identity, freshness,
// and payload binding to the task being settled.
package attestation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agelabs/escrow/internal/models"
)

// Construction-time failures.
var (
	ErrInvalidRegistry = errors.New("registry is nil")
	ErrInvalidSchema   = errors.New("schema uid is zero")
)

// Check failures. These stay inside the verifier and its logs; the ledger
// collapses all of them into one coarse error before anything reaches a
// caller.
var (
	errSchemaMismatch   = errors.New("schema mismatch")
	errAttesterMismatch = errors.New("attester mismatch")
	errWrongRecipient   = errors.New("recipient is not the task worker")
	errRevoked          = errors.New("attestation revoked")
	errExpired          = errors.New("attestation expired")
	errBindingMismatch  = errors.New("payload does not bind to task")
)

// Verifier checks attestations against one fixed schema. Read-only: safe to
// call speculatively, and the ledger always re-runs the full check itself
// before paying.
type Verifier struct {
	registry Registry
	schema   models.UID
	now      func() time.Time
}

// NewVerifier builds a verifier bound to a registry and schema uid, both
// immutable thereafter.
func NewVerifier(registry Registry, schema models.UID) (*Verifier, error) {
	if registry == nil {
		return nil, ErrInvalidRegistry
	}
	if schema.IsZero() {
		return nil, ErrInvalidSchema
	}
	return &Verifier{registry: registry, schema: schema, now: time.Now}, nil
}

// SetClock overrides the time source. Tests only.
func (v *Verifier) SetClock(now func() time.Time) { v.now = now }

// Schema returns the fixed schema uid this verifier honors.
func (v *Verifier) Schema() models.UID { return v.schema }

// Validate runs the verification protocol in order, short-circuiting on the
// first failure: fetch, schema, attester, recipient, revocation, expiration,
// payload decode, binding. All checks must pass; there is no partial credit.
func (v *Verifier) Validate(ctx context.Context, uid models.UID, attestor, worker, client models.Address, taskID uint64) error {
	att, err := v.registry.GetAttestation(ctx, uid)
	if err != nil {
		return err
	}
	if att.Schema != v.schema {
		return errSchemaMismatch
	}
	if att.Attester != attestor {
		return errAttesterMismatch
	}
	if att.Recipient != worker {
		return errWrongRecipient
	}
	if att.RevocationTime != 0 {
		return errRevoked
	}
	if att.ExpirationTime != 0 && att.ExpirationTime < uint64(v.now().Unix()) {
		return errExpired
	}
	claim, err := DecodeTaskClaim(att.Data)
	if err != nil {
		return err
	}
	if claim.TaskID != taskID || claim.Worker != worker || claim.Client != client {
		return fmt.Errorf("%w: claim task %d worker %s client %s", errBindingMismatch, claim.TaskID, claim.Worker, claim.Client)
	}
	return nil
}
