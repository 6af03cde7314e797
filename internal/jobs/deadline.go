// Package jobs holds the background work that runs off the request path.
// The only job today is the deadline watch: one river job per funded task,
// scheduled at the task deadline.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/agelabs/escrow/internal/escrow"
	"github.com/agelabs/escrow/internal/models"
)

type DeadlineJobArgs struct {
	TaskID uint64 `json:"task_id"`
}

func (DeadlineJobArgs) Kind() string { return "escrow_deadline" }

// TaskReader is the read-only ledger view the worker needs.
type TaskReader interface {
	ReadTask(ctx context.Context, id uint64) (*models.Task, error)
}

// DeadlineWorker fires once a funded task's deadline has passed. It does
// not refund on its own; refunds stay client-called. It only emits the
// deadline event so clients and dashboards learn the refund window opened.
type DeadlineWorker struct {
	river.WorkerDefaults[DeadlineJobArgs]
	tasks  TaskReader
	sink   escrow.Sink
	logger *slog.Logger
	now    func() time.Time
}

func NewDeadlineWorker(tasks TaskReader, sink escrow.Sink, logger *slog.Logger) *DeadlineWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeadlineWorker{tasks: tasks, sink: sink, logger: logger, now: time.Now}
}

// SetClock overrides the time source, for tests.
func (w *DeadlineWorker) SetClock(now func() time.Time) { w.now = now }

func (w *DeadlineWorker) Work(ctx context.Context, job *river.Job[DeadlineJobArgs]) error {
	task, err := w.tasks.ReadTask(ctx, job.Args.TaskID)
	if err != nil {
		if errors.Is(err, escrow.ErrTaskNotFound) {
			// Task was never persisted or the store was reset; nothing to watch.
			w.logger.Warn("deadline job for unknown task", "task_id", job.Args.TaskID)
			return nil
		}
		return fmt.Errorf("read task %d: %w", job.Args.TaskID, err)
	}

	if task.Status.Terminal() {
		return nil
	}
	if now := w.now(); !now.After(task.Deadline) {
		// Ran early (clock skew or manual insert); retry at the deadline.
		return river.JobSnooze(task.Deadline.Sub(now))
	}

	ev := escrow.Event{
		ID:       uuid.New(),
		At:       w.now(),
		Type:     escrow.EventDeadlinePassed,
		TaskID:   task.ID,
		Client:   task.Client,
		Worker:   task.Worker,
		Deadline: &task.Deadline,
	}
	if err := w.sink.Emit(ctx, ev); err != nil {
		return fmt.Errorf("emit deadline event for task %d: %w", task.ID, err)
	}
	w.logger.Info("task deadline passed", "task_id", task.ID, "status", task.Status.String())
	return nil
}
