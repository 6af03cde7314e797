package escrow

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/agelabs/escrow/internal/models"
)

// Event types, one per successful state transition.
const (
	EventTaskCreated   = "task.created"
	EventTaskFunded    = "task.funded"
	EventWorkSubmitted = "task.work_submitted"
	EventTaskPaid      = "task.paid"
	EventTaskRefunded  = "task.refunded"

	// EventDeadlinePassed is emitted by the deadline worker, not by a
	// ledger transition: it flags a funded task whose deadline elapsed
	// without reaching a terminal state.
	EventDeadlinePassed = "task.deadline_passed"
)

// Event is an outward notification for off-chain indexing. Events are
// observability, not correctness: the ledger emits them after the state
// change is durable and ignores sink failures beyond logging.
type Event struct {
	ID             uuid.UUID      `json:"id"`
	Type           string         `json:"type"`
	TaskID         uint64         `json:"task_id"`
	Client         models.Address `json:"client,omitempty"`
	Worker         models.Address `json:"worker,omitempty"`
	Attestor       models.Address `json:"attestor,omitempty"`
	Asset          string         `json:"asset,omitempty"`
	Amount         *big.Int       `json:"amount,omitempty"`
	Deadline       *time.Time     `json:"deadline,omitempty"`
	WorkURI        string         `json:"work_uri,omitempty"`
	AttestationUID string         `json:"attestation_uid,omitempty"`
	At             time.Time      `json:"at"`
}

// Sink receives ledger events.
type Sink interface {
	Emit(ctx context.Context, ev Event) error
}

// LogSink writes events to a slog logger. The default sink.
type LogSink struct {
	Logger *slog.Logger
}

var _ Sink = (*LogSink)(nil)

// Emit logs the event at info level.
func (s *LogSink) Emit(_ context.Context, ev Event) error {
	s.Logger.Info("escrow event",
		"event_id", ev.ID,
		"type", ev.Type,
		"task_id", ev.TaskID,
		"at", ev.At,
	)
	return nil
}
