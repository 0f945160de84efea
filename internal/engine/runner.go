package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/seantiz/hourglass/internal/clock"
	"github.com/seantiz/hourglass/internal/model"
	"github.com/seantiz/hourglass/internal/registry"
)

// Archiver stores operations once they reach a terminal state.
type Archiver interface {
	ArchiveOperation(ctx context.Context, op model.Operation) error
}

// tracker records the lifecycle transitions of a single operation. The
// registry is the tracker for background operations; blocking operations use
// a private localTracker that nobody else can see.
type tracker interface {
	MarkRunning(id string) (model.Operation, bool)
	MarkCompleted(id string) (model.Operation, bool)
	MarkCancelled(id string) (model.Operation, bool)
}

// Runner owns the wait of every operation and drives it to a terminal state.
type Runner struct {
	reg     *registry.Registry
	clock   clock.Clock
	logger  *slog.Logger
	broker  *EventBroker
	archive Archiver
	wg      sync.WaitGroup
}

// NewRunner creates a runner that reports transitions to reg.
func NewRunner(reg *registry.Registry, c clock.Clock, broker *EventBroker, logger *slog.Logger) *Runner {
	return &Runner{
		reg:    reg,
		clock:  c,
		logger: logger,
		broker: broker,
	}
}

// Spawn runs op in its own goroutine. Cancelling ctx interrupts the wait;
// release is called once the goroutine finishes so the token's resources are
// freed.
func (r *Runner) Spawn(ctx context.Context, release context.CancelFunc, op model.Operation) {
	r.wg.Go(func() {
		defer release()
		defer r.broker.Close(op.ID)

		if final, ok := r.run(ctx, r.reg, op); ok {
			r.store(final)
		}
	})
}

// Wait blocks until all spawned goroutines have returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// run is the suspend-and-complete routine shared by both start modes. It
// returns the terminal record and whether the tracker still knew the
// operation when it finished.
func (r *Runner) run(ctx context.Context, t tracker, op model.Operation) (model.Operation, bool) {
	// A cancel that landed before we got scheduled skips running entirely.
	if ctx.Err() != nil {
		return r.finish(t.MarkCancelled, op.ID)
	}

	if cur, ok := t.MarkRunning(op.ID); ok {
		op = cur
		r.publish(op)
	}
	runningOperations.Inc()
	defer runningOperations.Dec()

	wait := op.Kind.Duration
	if op.Kind.Type == model.KindDeadline {
		wait = op.ExpectedEndAt.Sub(r.clock.Now())
	}
	if wait <= 0 {
		return r.finish(t.MarkCompleted, op.ID)
	}

	r.logger.Debug("operation waiting", "operation_id", op.ID, "wait_ms", wait.Milliseconds())

	timer := r.clock.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C():
		return r.finish(t.MarkCompleted, op.ID)
	case <-ctx.Done():
		return r.finish(t.MarkCancelled, op.ID)
	}
}

// finish applies a terminal transition and reports it.
func (r *Runner) finish(mark func(string) (model.Operation, bool), id string) (model.Operation, bool) {
	final, ok := mark(id)
	if !ok {
		// Evicted or already terminal. Late signals are harmless.
		r.logger.Debug("terminal transition ignored", "operation_id", id)
		return final, false
	}

	elapsed := final.Elapsed(r.clock.Now())
	operationsFinished.WithLabelValues(final.Status).Inc()
	operationWait.Observe(elapsed.Seconds())
	r.publish(final)

	r.logger.Info("operation finished",
		"operation_id", final.ID,
		"status", final.Status,
		"elapsed_ms", elapsed.Milliseconds(),
	)
	return final, true
}

func (r *Runner) publish(op model.Operation) {
	r.broker.Publish(op.ID, op.Snapshot(r.clock.Now()))
}

// store hands a terminal operation to the archive, if one is configured.
func (r *Runner) store(op model.Operation) {
	if r.archive == nil {
		return
	}
	if err := r.archive.ArchiveOperation(context.Background(), op); err != nil {
		r.logger.Error("failed to archive operation", "operation_id", op.ID, "error", err)
	}
}

// localTracker tracks an operation that lives only on its caller's stack.
// It is used by exactly one goroutine and needs no locking.
type localTracker struct {
	clock clock.Clock
	op    model.Operation
}

func (l *localTracker) MarkRunning(string) (model.Operation, bool) {
	return l.mark(model.StatusRunning)
}

func (l *localTracker) MarkCompleted(string) (model.Operation, bool) {
	return l.mark(model.StatusCompleted)
}

func (l *localTracker) MarkCancelled(string) (model.Operation, bool) {
	return l.mark(model.StatusCancelled)
}

func (l *localTracker) mark(to string) (model.Operation, bool) {
	ok := l.op.Transition(to, l.clock.Now())
	return l.op, ok
}
