package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/seantiz/hourglass/internal/model"
)

var epoch = time.Date(2025, 1, 15, 14, 30, 0, 0, time.UTC)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// finishedOperation builds a terminal operation that ran for ran, starting at
// start.
func finishedOperation(kind model.Kind, status string, start time.Time, ran time.Duration) model.Operation {
	op := model.NewOperation(model.NewID(), kind, "archived", start)
	op.Transition(model.StatusRunning, start)
	op.Transition(status, start.Add(ran))
	return op
}

func TestArchiveAndGetOperation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	op := finishedOperation(model.ForDuration(1500*time.Millisecond), model.StatusCompleted, epoch, 1500*time.Millisecond)

	if err := s.ArchiveOperation(ctx, op); err != nil {
		t.Fatalf("ArchiveOperation: %v", err)
	}

	got, err := s.GetOperation(ctx, op.ID)
	if err != nil {
		t.Fatalf("GetOperation: %v", err)
	}

	if got.ID != op.ID {
		t.Errorf("ID = %q, want %q", got.ID, op.ID)
	}
	if got.Status != model.StatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if got.Kind.Type != model.KindDuration || got.Kind.Duration != 1500*time.Millisecond {
		t.Errorf("Kind = %+v, want duration 1.5s", got.Kind)
	}
	if !got.Kind.Deadline.IsZero() {
		t.Errorf("Deadline = %v, want zero", got.Kind.Deadline)
	}
	if got.Message != "archived" {
		t.Errorf("Message = %q, want archived", got.Message)
	}
	if !got.CreatedAt.Equal(epoch) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, epoch)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(epoch) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, epoch)
	}
	if got.EndedAt == nil || !got.EndedAt.Equal(epoch.Add(1500*time.Millisecond)) {
		t.Errorf("EndedAt = %v, want %v", got.EndedAt, epoch.Add(1500*time.Millisecond))
	}
	if !got.ExpectedEndAt.Equal(op.ExpectedEndAt) {
		t.Errorf("ExpectedEndAt = %v, want %v", got.ExpectedEndAt, op.ExpectedEndAt)
	}
}

func TestArchiveDeadlineOperation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	deadline := epoch.Add(time.Minute)
	op := finishedOperation(model.UntilDeadline(deadline), model.StatusCompleted, epoch, time.Minute)

	if err := s.ArchiveOperation(ctx, op); err != nil {
		t.Fatalf("ArchiveOperation: %v", err)
	}

	got, err := s.GetOperation(ctx, op.ID)
	if err != nil {
		t.Fatalf("GetOperation: %v", err)
	}
	if got.Kind.Type != model.KindDeadline || !got.Kind.Deadline.Equal(deadline) {
		t.Errorf("Kind = %+v, want deadline %v", got.Kind, deadline)
	}
}

func TestArchivePendingCancelledOperation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	op := model.NewOperation(model.NewID(), model.ForDuration(time.Second), "", epoch)
	op.Transition(model.StatusCancelled, epoch)

	if err := s.ArchiveOperation(ctx, op); err != nil {
		t.Fatalf("ArchiveOperation: %v", err)
	}

	got, err := s.GetOperation(ctx, op.ID)
	if err != nil {
		t.Fatalf("GetOperation: %v", err)
	}
	if got.StartedAt != nil {
		t.Errorf("StartedAt = %v, want nil", got.StartedAt)
	}
	if got.Status != model.StatusCancelled {
		t.Errorf("Status = %q, want cancelled", got.Status)
	}
}

func TestArchiveRejectsLiveOperation(t *testing.T) {
	s := newTestStore(t)
	op := model.NewOperation(model.NewID(), model.ForDuration(time.Second), "", epoch)
	op.Transition(model.StatusRunning, epoch)

	err := s.ArchiveOperation(context.Background(), op)
	if !errors.Is(err, ErrNotTerminal) {
		t.Errorf("ArchiveOperation error = %v, want ErrNotTerminal", err)
	}
}

func TestArchiveTwice(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	op := finishedOperation(model.ForDuration(time.Second), model.StatusCompleted, epoch, time.Second)

	if err := s.ArchiveOperation(ctx, op); err != nil {
		t.Fatalf("ArchiveOperation: %v", err)
	}
	if err := s.ArchiveOperation(ctx, op); err != ErrAlreadyArchived {
		t.Errorf("second ArchiveOperation error = %v, want ErrAlreadyArchived", err)
	}
}

func TestGetOperationNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetOperation(context.Background(), "nonexistent")
	if err != ErrNotFound {
		t.Errorf("GetOperation error = %v, want ErrNotFound", err)
	}
}

func TestListOperationsPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := range 5 {
		op := finishedOperation(model.ForDuration(time.Second), model.StatusCompleted, epoch.Add(time.Duration(i)*time.Minute), time.Second)
		if err := s.ArchiveOperation(ctx, op); err != nil {
			t.Fatalf("ArchiveOperation: %v", err)
		}
	}

	page, total, err := s.ListOperations(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListOperations: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(page) != 2 {
		t.Errorf("len(page) = %d, want 2", len(page))
	}

	last, _, err := s.ListOperations(ctx, 2, 4)
	if err != nil {
		t.Fatalf("ListOperations: %v", err)
	}
	if len(last) != 1 {
		t.Errorf("len(last page) = %d, want 1", len(last))
	}
}

func TestListOperationsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := finishedOperation(model.ForDuration(time.Second), model.StatusCompleted, epoch, time.Second)
	newer := finishedOperation(model.ForDuration(time.Second), model.StatusCancelled, epoch.Add(time.Hour), time.Second)
	for _, op := range []model.Operation{older, newer} {
		if err := s.ArchiveOperation(ctx, op); err != nil {
			t.Fatalf("ArchiveOperation: %v", err)
		}
	}

	ops, _, err := s.ListOperations(ctx, 10, 0)
	if err != nil {
		t.Fatalf("ListOperations: %v", err)
	}
	if len(ops) != 2 {
		t.Fatalf("len(ops) = %d, want 2", len(ops))
	}
	if ops[0].ID != newer.ID || ops[1].ID != older.ID {
		t.Errorf("order = [%s %s], want [%s %s]", ops[0].ID, ops[1].ID, newer.ID, older.ID)
	}
}

func TestListOperationsEmpty(t *testing.T) {
	s := newTestStore(t)

	ops, total, err := s.ListOperations(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("ListOperations: %v", err)
	}
	if total != 0 || len(ops) != 0 {
		t.Errorf("got %d operations (total %d), want none", len(ops), total)
	}
}

func TestGetOperationStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ops := []model.Operation{
		finishedOperation(model.ForDuration(time.Second), model.StatusCompleted, epoch, time.Second),
		finishedOperation(model.ForDuration(3*time.Second), model.StatusCompleted, epoch, 3*time.Second),
		finishedOperation(model.UntilDeadline(epoch.Add(time.Minute)), model.StatusCancelled, epoch, 2*time.Second),
	}
	for _, op := range ops {
		if err := s.ArchiveOperation(ctx, op); err != nil {
			t.Fatalf("ArchiveOperation: %v", err)
		}
	}

	stats, err := s.GetOperationStats(ctx)
	if err != nil {
		t.Fatalf("GetOperationStats: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("Total = %d, want 3", stats.Total)
	}
	if stats.CountByStatus[model.StatusCompleted] != 2 || stats.CountByStatus[model.StatusCancelled] != 1 {
		t.Errorf("CountByStatus = %v", stats.CountByStatus)
	}
	if stats.CountByKind[model.KindDuration] != 2 || stats.CountByKind[model.KindDeadline] != 1 {
		t.Errorf("CountByKind = %v", stats.CountByKind)
	}
	if stats.AvgElapsedMS != 2000 {
		t.Errorf("AvgElapsedMS = %v, want 2000", stats.AvgElapsedMS)
	}
}

func TestGetOperationStatsEmpty(t *testing.T) {
	s := newTestStore(t)

	stats, err := s.GetOperationStats(context.Background())
	if err != nil {
		t.Fatalf("GetOperationStats: %v", err)
	}
	if stats.Total != 0 || stats.AvgElapsedMS != 0 {
		t.Errorf("stats = %+v, want zero", stats)
	}
	if len(stats.CountByStatus) != 0 || len(stats.CountByKind) != 0 {
		t.Errorf("non-empty counts on empty archive: %+v", stats)
	}
}

func TestMigrationIdempotency(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.db.Exec(createOperationsTable); err != nil {
		t.Fatalf("second migration: %v", err)
	}
	if _, err := s.db.Exec(createOperationsEndedIndex); err != nil {
		t.Fatalf("second index migration: %v", err)
	}
}
