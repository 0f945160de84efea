// Package registry holds the shared, concurrency-safe table of operations.
// It is the only shared mutable state in the system; every method takes a
// single short critical section and never blocks while holding it.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/seantiz/hourglass/internal/clock"
	"github.com/seantiz/hourglass/internal/model"
)

// ErrNotFound is returned when an operation id is not in the registry.
var ErrNotFound = errors.New("operation not found")

type entry struct {
	op model.Operation

	// signal fires the runner's cancellation token. The registry never
	// touches the runner beyond this.
	signal    context.CancelFunc
	signalled bool
}

// Registry maps operation ids to their state records.
type Registry struct {
	mu    sync.RWMutex
	clock clock.Clock
	ops   map[string]*entry
}

// New creates an empty registry reading time from c.
func New(c clock.Clock) *Registry {
	return &Registry{
		clock: c,
		ops:   make(map[string]*entry),
	}
}

// Create inserts a pending operation for kind and returns a copy of it.
// signal is the capability to cancel the operation's runner; it may be nil.
func (r *Registry) Create(kind model.Kind, message string, signal context.CancelFunc) model.Operation {
	id := model.NewID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.ops[id]; ok {
		panic(fmt.Sprintf("registry: duplicate operation id %s", id))
	}
	op := model.NewOperation(id, kind, message, r.clock.Now())
	r.ops[id] = &entry{op: op, signal: signal}
	return op
}

// MarkRunning moves a pending operation to running. Unknown ids and invalid
// transitions are ignored; ok reports whether the transition happened.
func (r *Registry) MarkRunning(id string) (model.Operation, bool) {
	return r.transition(id, model.StatusRunning)
}

// MarkCompleted finishes an operation naturally. An operation whose cancel
// signal was already sent is recorded as cancelled instead, so a cancel that
// reported the operation live always ends in the cancelled state.
func (r *Registry) MarkCompleted(id string) (model.Operation, bool) {
	return r.transition(id, model.StatusCompleted)
}

// MarkCancelled records that an operation observed its cancel signal.
func (r *Registry) MarkCancelled(id string) (model.Operation, bool) {
	return r.transition(id, model.StatusCancelled)
}

func (r *Registry) transition(id, to string) (model.Operation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.ops[id]
	if !ok {
		return model.Operation{}, false
	}
	if to == model.StatusCompleted && e.signalled {
		to = model.StatusCancelled
	}
	if !e.op.Transition(to, r.clock.Now()) {
		return e.op, false
	}
	return e.op, true
}

// Get returns a copy of the operation with the given id.
func (r *Registry) Get(id string) (model.Operation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.ops[id]
	if !ok {
		return model.Operation{}, false
	}
	return e.op, true
}

// List returns copies of all operations in creation order.
func (r *Registry) List() []model.Operation {
	r.mu.RLock()
	ops := make([]model.Operation, 0, len(r.ops))
	for _, e := range r.ops {
		ops = append(ops, e.op)
	}
	r.mu.RUnlock()

	// ULIDs sort lexically by creation time.
	sort.Slice(ops, func(i, j int) bool { return ops[i].ID < ops[j].ID })
	return ops
}

// Len returns the number of operations held, terminal ones included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ops)
}

// ActiveCount returns the number of operations that are not yet terminal.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, e := range r.ops {
		if !model.IsTerminal(e.op.Status) {
			n++
		}
	}
	return n
}

// Signal sends the cancel signal to one operation. live is false when the
// operation is already terminal or was signalled before.
func (r *Registry) Signal(id string) (live bool, err error) {
	r.mu.Lock()
	e, ok := r.ops[id]
	if !ok {
		r.mu.Unlock()
		return false, ErrNotFound
	}
	if model.IsTerminal(e.op.Status) || e.signalled {
		r.mu.Unlock()
		return false, nil
	}
	e.signalled = true
	signal := e.signal
	r.mu.Unlock()

	if signal != nil {
		signal()
	}
	return true, nil
}

// SignalAll sends the cancel signal to every live operation that has not
// been signalled yet and returns how many were signalled.
func (r *Registry) SignalAll() int {
	var signals []context.CancelFunc

	r.mu.Lock()
	n := 0
	for _, e := range r.ops {
		if model.IsTerminal(e.op.Status) || e.signalled {
			continue
		}
		e.signalled = true
		n++
		if e.signal != nil {
			signals = append(signals, e.signal)
		}
	}
	r.mu.Unlock()

	for _, signal := range signals {
		signal()
	}
	return n
}

// EvictOlderThan removes terminal operations that ended more than retention
// ago and returns their ids. It is the only way entries leave the registry.
func (r *Registry) EvictOlderThan(retention time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.clock.Now().Add(-retention)
	var evicted []string
	for id, e := range r.ops {
		if !model.IsTerminal(e.op.Status) || e.op.EndedAt == nil {
			continue
		}
		if e.op.EndedAt.Before(cutoff) {
			delete(r.ops, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}
