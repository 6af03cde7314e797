package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agelabs/escrow/internal/escrow"
)

// InsertDeadlineFunc enqueues a deadline job to run at scheduledAt.
// Provided by main as a closure over river.Client.Insert.
type InsertDeadlineFunc func(ctx context.Context, args DeadlineJobArgs, scheduledAt time.Time) error

// DeadlineScheduler is an event sink that turns every funding event into
// a deadline job. Hang it off the ledger's fanout next to the other sinks.
type DeadlineScheduler struct {
	insert InsertDeadlineFunc
	logger *slog.Logger
}

func NewDeadlineScheduler(insert InsertDeadlineFunc, logger *slog.Logger) *DeadlineScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeadlineScheduler{insert: insert, logger: logger}
}

var _ escrow.Sink = (*DeadlineScheduler)(nil)

func (s *DeadlineScheduler) Emit(ctx context.Context, ev escrow.Event) error {
	if ev.Type != escrow.EventTaskFunded || ev.Deadline == nil {
		return nil
	}
	if err := s.insert(ctx, DeadlineJobArgs{TaskID: ev.TaskID}, *ev.Deadline); err != nil {
		return fmt.Errorf("schedule deadline job for task %d: %w", ev.TaskID, err)
	}
	s.logger.Debug("deadline job scheduled", "task_id", ev.TaskID, "scheduled_at", ev.Deadline)
	return nil
}
