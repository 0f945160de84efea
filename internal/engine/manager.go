package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/hourglass/internal/clock"
	"github.com/seantiz/hourglass/internal/model"
	"github.com/seantiz/hourglass/internal/registry"
)

// DefaultMaxDuration is the longest wait accepted when Config.MaxDuration is zero.
const DefaultMaxDuration = 30 * time.Minute

// Config controls validation and housekeeping for a Manager.
type Config struct {
	// MaxDuration is the ceiling for any single wait. Zero means DefaultMaxDuration.
	MaxDuration time.Duration

	// MaxActive limits live non-blocking operations. Zero disables the limit.
	MaxActive int

	// Retention is how long terminal operations stay queryable. When set,
	// a cleanup pass runs before every start. Zero disables that pass.
	Retention time.Duration
}

// StartResult is returned by StartNonBlocking.
type StartResult struct {
	ID            string    `json:"operation_id"`
	Kind          string    `json:"kind"`
	CreatedAt     time.Time `json:"created_at"`
	ExpectedEndAt time.Time `json:"expected_end_at"`
}

// BlockingResult is the outcome of StartBlocking. Status is either
// completed or cancelled; cancellation is a normal result, not an error.
type BlockingResult struct {
	ID        string    `json:"operation_id"`
	Status    string    `json:"status"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	ElapsedMS int64     `json:"elapsed_ms"`
	Message   string    `json:"message,omitempty"`
}

// Cancelled reports whether the wait was interrupted.
func (r BlockingResult) Cancelled() bool {
	return r.Status == model.StatusCancelled
}

// Report is the status of every tracked operation.
type Report struct {
	Operations  []model.Snapshot `json:"operations"`
	ActiveCount int              `json:"active_count"`
}

// CancelOutcome reports what a cancel request affected. Live is meaningful
// only for single-id cancels: false means this request sent no signal, either
// because the operation had already finished or because an earlier cancel
// already signalled it.
type CancelOutcome struct {
	CancelledCount int  `json:"cancelled_count"`
	Live           bool `json:"live"`
}

// Option configures optional Manager collaborators.
type Option func(*Manager)

// WithArchive stores every terminal operation in a.
func WithArchive(a Archiver) Option {
	return func(m *Manager) {
		m.runner.archive = a
	}
}

// Manager is the public surface for starting, inspecting and cancelling
// operations. It is safe for concurrent use.
type Manager struct {
	cfg    Config
	reg    *registry.Registry
	clock  clock.Clock
	runner *Runner
	broker *EventBroker
	logger *slog.Logger

	// startMu makes the MaxActive check and the insert one step.
	startMu sync.Mutex
}

// NewManager composes a manager over reg. The registry and manager must read
// the same clock.
func NewManager(reg *registry.Registry, c clock.Clock, cfg Config, logger *slog.Logger, opts ...Option) *Manager {
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = DefaultMaxDuration
	}
	broker := NewEventBroker()
	m := &Manager{
		cfg:    cfg,
		reg:    reg,
		clock:  c,
		runner: NewRunner(reg, c, broker, logger),
		broker: broker,
		logger: logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Broker returns the manager's event broker for SSE subscription.
func (m *Manager) Broker() *EventBroker {
	return m.broker
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Now reads the manager's clock. Callers converting wall-clock deadlines
// should use it so validation sees the same time.
func (m *Manager) Now() time.Time {
	return m.clock.Now()
}

// StartNonBlocking records a new operation and waits for it in the
// background. It returns as soon as the operation is registered.
func (m *Manager) StartNonBlocking(kind model.Kind, message string) (StartResult, error) {
	if err := m.validate(kind); err != nil {
		return StartResult{}, err
	}
	if m.cfg.Retention > 0 {
		m.Cleanup(m.cfg.Retention)
	}

	ctx, cancel := context.WithCancel(context.Background())

	m.startMu.Lock()
	if m.cfg.MaxActive > 0 && m.reg.ActiveCount() >= m.cfg.MaxActive {
		m.startMu.Unlock()
		cancel()
		operationsRejected.WithLabelValues("too_many_active").Inc()
		return StartResult{}, fmt.Errorf("%w: limit is %d", ErrTooManyActive, m.cfg.MaxActive)
	}
	op := m.reg.Create(kind, message, cancel)
	m.startMu.Unlock()

	operationsStarted.WithLabelValues(kind.Type, modeNonBlocking).Inc()
	m.logger.Info("started background operation",
		"operation_id", op.ID,
		"kind", kind.Type,
		"expected_end_at", op.ExpectedEndAt,
	)

	m.runner.Spawn(ctx, cancel, op)

	return StartResult{
		ID:            op.ID,
		Kind:          kind.Type,
		CreatedAt:     op.CreatedAt,
		ExpectedEndAt: op.ExpectedEndAt,
	}, nil
}

// StartBlocking waits on the caller's goroutine and returns once the wait
// is over. If ctx is cancelled first the result has status cancelled and the
// error is nil. Blocking operations are not visible through Status.
func (m *Manager) StartBlocking(ctx context.Context, kind model.Kind, message string) (BlockingResult, error) {
	if err := m.validate(kind); err != nil {
		return BlockingResult{}, err
	}

	op := model.NewOperation(model.NewID(), kind, message, m.clock.Now())
	operationsStarted.WithLabelValues(kind.Type, modeBlocking).Inc()
	m.logger.Debug("started blocking operation", "operation_id", op.ID, "kind", kind.Type)

	final, _ := m.runner.run(ctx, &localTracker{clock: m.clock, op: op}, op)
	m.runner.store(final)

	res := BlockingResult{
		ID:        final.ID,
		Status:    final.Status,
		StartTime: final.CreatedAt,
		ElapsedMS: final.Elapsed(m.clock.Now()).Milliseconds(),
		Message:   final.Message,
	}
	if final.StartedAt != nil {
		res.StartTime = *final.StartedAt
	}
	if final.EndedAt != nil {
		res.EndTime = *final.EndedAt
	}
	return res, nil
}

// Status returns a snapshot of one operation.
func (m *Manager) Status(id string) (model.Snapshot, error) {
	op, ok := m.reg.Get(id)
	if !ok {
		return model.Snapshot{}, fmt.Errorf("status %s: %w", id, ErrNotFound)
	}
	return op.Snapshot(m.clock.Now()), nil
}

// StatusAll returns snapshots of every tracked operation and the number that
// are not yet terminal.
func (m *Manager) StatusAll() Report {
	ops := m.reg.List()
	now := m.clock.Now()

	report := Report{Operations: make([]model.Snapshot, 0, len(ops))}
	for _, op := range ops {
		report.Operations = append(report.Operations, op.Snapshot(now))
		if !model.IsTerminal(op.Status) {
			report.ActiveCount++
		}
	}
	return report
}

// Cancel signals one operation. It returns as soon as the signal is sent;
// poll Status to observe the cancelled state.
//
// Only the first cancel of an operation reports Live. A repeat cancel sent
// while the runner is still recording the first one gets Live false even
// though Status may briefly still show running.
func (m *Manager) Cancel(id string) (CancelOutcome, error) {
	live, err := m.reg.Signal(id)
	if err != nil {
		return CancelOutcome{}, fmt.Errorf("cancel %s: %w", id, err)
	}
	if !live {
		m.logger.Debug("nothing to cancel", "operation_id", id)
		return CancelOutcome{}, nil
	}

	m.logger.Info("cancelled operation", "operation_id", id)
	return CancelOutcome{CancelledCount: 1, Live: true}, nil
}

// CancelAll signals every live operation.
func (m *Manager) CancelAll() CancelOutcome {
	n := m.reg.SignalAll()
	if n > 0 {
		m.logger.Info("cancelled all active operations", "cancelled_count", n)
	}
	return CancelOutcome{CancelledCount: n, Live: n > 0}
}

// Cleanup evicts terminal operations that ended more than retention ago and
// returns how many were removed.
func (m *Manager) Cleanup(retention time.Duration) int {
	evicted := m.reg.EvictOlderThan(retention)
	for _, id := range evicted {
		m.broker.Forget(id)
	}
	if len(evicted) > 0 {
		operationsEvicted.Add(float64(len(evicted)))
		m.logger.Debug("evicted old operations",
			"evicted", len(evicted),
			"remaining", m.reg.Len(),
		)
	}
	return len(evicted)
}

// Wait blocks until all background operations have finished.
func (m *Manager) Wait() {
	m.runner.Wait()
}

// Shutdown cancels every live operation and waits for their runners to
// record the cancellation, or for ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.CancelAll()

	done := make(chan struct{})
	go func() {
		m.runner.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}

// validate rejects kinds that are malformed or longer than the ceiling.
func (m *Manager) validate(kind model.Kind) error {
	switch kind.Type {
	case model.KindDuration:
		if kind.Duration < 0 {
			operationsRejected.WithLabelValues("invalid").Inc()
			return fmt.Errorf("%w: negative duration %s", ErrInvalidKind, kind.Duration)
		}
	case model.KindDeadline:
		if kind.Deadline.IsZero() {
			operationsRejected.WithLabelValues("invalid").Inc()
			return fmt.Errorf("%w: missing deadline", ErrInvalidKind)
		}
	default:
		operationsRejected.WithLabelValues("invalid").Inc()
		return fmt.Errorf("%w: unknown type %q", ErrInvalidKind, kind.Type)
	}

	if span := kind.Span(m.clock.Now()); span > m.cfg.MaxDuration {
		operationsRejected.WithLabelValues("exceeds_limit").Inc()
		return fmt.Errorf("%w: %s is longer than %s", ErrExceedsLimit, span, m.cfg.MaxDuration)
	}
	return nil
}
