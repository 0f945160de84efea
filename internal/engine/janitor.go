package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Janitor runs Manager.Cleanup on a cron schedule such as "@every 1m".
type Janitor struct {
	cron      *cron.Cron
	mgr       *Manager
	retention time.Duration
	logger    *slog.Logger
}

// NewJanitor parses schedule and prepares a janitor. Call Start to begin.
func NewJanitor(m *Manager, schedule string, retention time.Duration, logger *slog.Logger) (*Janitor, error) {
	j := &Janitor{
		cron:      cron.New(),
		mgr:       m,
		retention: retention,
		logger:    logger,
	}
	if _, err := j.cron.AddFunc(schedule, j.Sweep); err != nil {
		return nil, fmt.Errorf("parse cleanup schedule %q: %w", schedule, err)
	}
	return j, nil
}

// Start begins running sweeps in the background.
func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop halts the schedule. The returned context is done once a sweep in
// progress has returned.
func (j *Janitor) Stop() context.Context {
	return j.cron.Stop()
}

// Sweep runs one cleanup pass.
func (j *Janitor) Sweep() {
	if n := j.mgr.Cleanup(j.retention); n > 0 {
		j.logger.Info("janitor evicted operations", "evicted", n, "retention", j.retention.String())
	}
}
