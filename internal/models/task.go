package models

import (
	"math/big"
	"time"
)

// Task status values mirror the on-chain lifecycle: a task is created Open and
// unfunded, collects funding while Open, moves to Submitted when the worker
// posts a work reference, and ends in exactly one of Paid or Refunded.
type TaskStatus uint8

const (
	TaskStatusOpen      TaskStatus = 0
	TaskStatusSubmitted TaskStatus = 1
	TaskStatusPaid      TaskStatus = 2
	TaskStatusRefunded  TaskStatus = 3
)

// String returns the lowercase name used in events and API responses.
func (s TaskStatus) String() string {
	switch s {
	case TaskStatusOpen:
		return "open"
	case TaskStatusSubmitted:
		return "submitted"
	case TaskStatusPaid:
		return "paid"
	case TaskStatusRefunded:
		return "refunded"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status admits no further transitions.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusPaid || s == TaskStatusRefunded
}

// AssetKind discriminates the funding asset of a task.
type AssetKind uint8

const (
	AssetNative AssetKind = iota
	AssetToken
)

func (k AssetKind) String() string {
	switch k {
	case AssetNative:
		return "native"
	case AssetToken:
		return "token"
	default:
		return "unknown"
	}
}

// Asset is the funding-asset reference fixed at task creation: either the
// native currency or a fungible token identified by its contract address.
type Asset struct {
	Kind  AssetKind `json:"kind"`
	Token Address   `json:"token,omitempty"`
}

// NativeAsset returns the native-currency asset.
func NativeAsset() Asset { return Asset{Kind: AssetNative} }

// TokenAsset returns a token asset for the given contract address.
func TokenAsset(token Address) Asset { return Asset{Kind: AssetToken, Token: token} }

// IsNative reports whether the asset is the native currency.
func (a Asset) IsNative() bool { return a.Kind == AssetNative }

// String renders the native sentinel as the zero address, matching the
// on-chain convention of token == address(0).
func (a Asset) String() string {
	if a.IsNative() {
		return ZeroAddress.String()
	}
	return a.Token.String()
}

// Task is one escrow record. Amount is immutable after creation; Funded flips
// true exactly once; Status only ever moves forward.
type Task struct {
	ID             uint64     `json:"id"`
	Client         Address    `json:"client"`
	Worker         Address    `json:"worker"`
	Attestor       Address    `json:"attestor"`
	Asset          Asset      `json:"asset"`
	Amount         *big.Int   `json:"amount"`
	Deadline       time.Time  `json:"deadline"`
	Status         TaskStatus `json:"status"`
	Funded         bool       `json:"funded"`
	WorkURI        string     `json:"work_uri,omitempty"`
	AttestationUID UID        `json:"attestation_uid,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Clone returns a deep copy so stores can hand out records without aliasing
// the ledger's working state.
func (t *Task) Clone() *Task {
	cp := *t
	if t.Amount != nil {
		cp.Amount = new(big.Int).Set(t.Amount)
	}
	return &cp
}
