package escrow

import "errors"

// Construction-time validation failures.
var (
	ErrTaskExists      = errors.New("task id already exists")
	ErrInvalidWorker   = errors.New("worker is the zero address")
	ErrInvalidAttestor = errors.New("attestor is the zero address")
	ErrInvalidAmount   = errors.New("amount must be positive")
	ErrInvalidDeadline = errors.New("deadline must be in the future")
)

// Lifecycle and authorization failures.
var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrAlreadyFunded     = errors.New("task already funded")
	ErrWrongAmount       = errors.New("attached value does not match task amount")
	ErrNotFunded         = errors.New("task not funded")
	ErrBadStatus         = errors.New("operation not allowed in current status")
	ErrNotClient         = errors.New("caller is not the task client")
	ErrNotWorker         = errors.New("caller is not the task worker")
	ErrDeadlinePassed    = errors.New("task deadline has passed")
	ErrDeadlineNotPassed = errors.New("task deadline has not passed")
)

// ErrInvalidAttestation covers every verifier failure. Deliberately coarse so
// callers cannot learn registry state through error differences.
var ErrInvalidAttestation = errors.New("invalid attestation provided")

// ErrTransferFailed is returned when an asset movement fails; the operation's
// state changes are rolled back before it surfaces.
var ErrTransferFailed = errors.New("asset transfer failed")
