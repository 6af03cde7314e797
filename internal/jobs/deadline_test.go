package jobs

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/riverqueue/river"

	"github.com/agelabs/escrow/internal/escrow"
	"github.com/agelabs/escrow/internal/models"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type stubTaskReader struct {
	task *models.Task
	err  error
}

func (s *stubTaskReader) ReadTask(_ context.Context, _ uint64) (*models.Task, error) {
	return s.task, s.err
}

type captureSink struct {
	events []escrow.Event
}

func (c *captureSink) Emit(_ context.Context, ev escrow.Event) error {
	c.events = append(c.events, ev)
	return nil
}

func testTask(status models.TaskStatus, deadline time.Time) *models.Task {
	return &models.Task{
		ID:       7,
		Client:   models.MustAddress("0x00000000000000000000000000000000000000c1"),
		Worker:   models.MustAddress("0x00000000000000000000000000000000000000c2"),
		Attestor: models.MustAddress("0x00000000000000000000000000000000000000c3"),
		Asset:    models.NativeAsset(),
		Amount:   big.NewInt(1000),
		Deadline: deadline,
		Status:   status,
		Funded:   true,
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestDeadlineWorkerEmitsAfterDeadline(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sink := &captureSink{}
	w := NewDeadlineWorker(&stubTaskReader{task: testTask(models.TaskStatusOpen, now.Add(-time.Minute))}, sink, nil)
	w.SetClock(func() time.Time { return now })

	err := w.Work(context.Background(), &river.Job[DeadlineJobArgs]{Args: DeadlineJobArgs{TaskID: 7}})
	if err != nil {
		t.Fatalf("work: %v", err)
	}
	if len(sink.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(sink.events))
	}
	ev := sink.events[0]
	if ev.Type != escrow.EventDeadlinePassed || ev.TaskID != 7 {
		t.Errorf("unexpected event: type=%q task_id=%d", ev.Type, ev.TaskID)
	}
}

func TestDeadlineWorkerSkipsTerminalTask(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sink := &captureSink{}
	w := NewDeadlineWorker(&stubTaskReader{task: testTask(models.TaskStatusPaid, now.Add(-time.Minute))}, sink, nil)
	w.SetClock(func() time.Time { return now })

	if err := w.Work(context.Background(), &river.Job[DeadlineJobArgs]{Args: DeadlineJobArgs{TaskID: 7}}); err != nil {
		t.Fatalf("work: %v", err)
	}
	if len(sink.events) != 0 {
		t.Errorf("expected no events for a paid task, got %d", len(sink.events))
	}
}

func TestDeadlineWorkerSnoozesWhenEarly(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sink := &captureSink{}
	w := NewDeadlineWorker(&stubTaskReader{task: testTask(models.TaskStatusOpen, now.Add(time.Hour))}, sink, nil)
	w.SetClock(func() time.Time { return now })

	err := w.Work(context.Background(), &river.Job[DeadlineJobArgs]{Args: DeadlineJobArgs{TaskID: 7}})
	if err == nil {
		t.Fatal("expected a snooze error when the deadline has not passed")
	}
	if len(sink.events) != 0 {
		t.Errorf("expected no events when snoozing, got %d", len(sink.events))
	}
}

func TestDeadlineWorkerIgnoresUnknownTask(t *testing.T) {
	sink := &captureSink{}
	w := NewDeadlineWorker(&stubTaskReader{err: escrow.ErrTaskNotFound}, sink, nil)

	if err := w.Work(context.Background(), &river.Job[DeadlineJobArgs]{Args: DeadlineJobArgs{TaskID: 404}}); err != nil {
		t.Fatalf("expected nil for a missing task, got %v", err)
	}
	if len(sink.events) != 0 {
		t.Errorf("expected no events, got %d", len(sink.events))
	}
}

func TestDeadlineSchedulerSchedulesOnFund(t *testing.T) {
	deadline := time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)
	var inserted []DeadlineJobArgs
	var at time.Time
	s := NewDeadlineScheduler(func(_ context.Context, args DeadlineJobArgs, scheduledAt time.Time) error {
		inserted = append(inserted, args)
		at = scheduledAt
		return nil
	}, nil)

	// Non-funding events pass through without scheduling anything.
	if err := s.Emit(context.Background(), escrow.Event{Type: escrow.EventTaskCreated, TaskID: 7}); err != nil {
		t.Fatalf("emit created: %v", err)
	}
	if len(inserted) != 0 {
		t.Fatalf("expected no jobs for a created event, got %d", len(inserted))
	}

	if err := s.Emit(context.Background(), escrow.Event{Type: escrow.EventTaskFunded, TaskID: 7, Deadline: &deadline}); err != nil {
		t.Fatalf("emit funded: %v", err)
	}
	if len(inserted) != 1 || inserted[0].TaskID != 7 {
		t.Fatalf("expected one job for task 7, got %+v", inserted)
	}
	if !at.Equal(deadline) {
		t.Errorf("expected job scheduled at %v, got %v", deadline, at)
	}
}
