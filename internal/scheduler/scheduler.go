// Package scheduler runs named periodic tasks from a single loop.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"dex-analytics/internal/observability"
)

// Task is one registered job.
type Task struct {
	Name     string
	Interval time.Duration
	Enabled  bool
	Run      func(ctx context.Context) error
}

// TaskStatus is a monitoring view of a task.
type TaskStatus struct {
	Name      string    `json:"name"`
	Interval  string    `json:"interval"`
	Enabled   bool      `json:"enabled"`
	LastRun   time.Time `json:"lastRun"`
	Runs      int       `json:"runs"`
	Failures  int       `json:"failures"`
	LastError string    `json:"lastError,omitempty"`
}

type entry struct {
	task     Task
	lastRun  time.Time
	ran      bool
	runs     int
	failures int
	lastErr  error
}

// Scheduler evaluates every task on each tick and runs the due ones sequentially.
type Scheduler struct {
	mu      sync.Mutex
	entries []*entry
	tick    time.Duration
	// FailFast re-panics after logging, for development.
	failFast bool
	logger   *zap.Logger
}

// New creates a scheduler that ticks every tick.
func New(tick time.Duration, failFast bool, logger *zap.Logger) *Scheduler {
	if tick <= 0 {
		tick = time.Second
	}
	return &Scheduler{tick: tick, failFast: failFast, logger: logger.Named("scheduler")}
}

// Register adds a task. Names must be unique.
func (s *Scheduler) Register(t Task) error {
	if t.Name == "" || t.Run == nil || t.Interval <= 0 {
		return fmt.Errorf("invalid task %q", t.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.task.Name == t.Name {
			return fmt.Errorf("task %q already registered", t.Name)
		}
	}
	s.entries = append(s.entries, &entry{task: t})
	return nil
}

// Tick runs every enabled task whose interval has elapsed since its last run.
// Never-run tasks are due. lastRun is set to now whatever the outcome.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	due := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.task.Enabled && (!e.ran || now.Sub(e.lastRun) >= e.task.Interval) {
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		if ctx.Err() != nil {
			return
		}
		err := s.runOne(ctx, e.task)

		s.mu.Lock()
		e.lastRun, e.ran = now, true
		e.runs++
		e.lastErr = err
		if err != nil {
			e.failures++
		}
		s.mu.Unlock()
	}
}

func (s *Scheduler) runOne(ctx context.Context, t Task) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("task panicked",
				zap.String("task", t.Name),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			observability.RecordTaskRun(t.Name, "panic", time.Since(start).Seconds())
			if s.failFast {
				panic(r)
			}
			err = fmt.Errorf("task %s panicked: %v", t.Name, r)
		}
	}()

	err = t.Run(ctx)
	status := "ok"
	if err != nil {
		status = "error"
		s.logger.Error("task failed", zap.String("task", t.Name), zap.Error(err))
	}
	observability.RecordTaskRun(t.Name, status, time.Since(start).Seconds())
	return err
}

// Run drives Tick from a ticker until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", zap.Int("tasks", len(s.Status())), zap.Duration("tick", s.tick))
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.Tick(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case now := <-ticker.C:
			s.Tick(ctx, now)
		}
	}
}

// Status returns every task in registration order.
func (s *Scheduler) Status() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskStatus, len(s.entries))
	for i, e := range s.entries {
		out[i] = TaskStatus{
			Name:     e.task.Name,
			Interval: e.task.Interval.String(),
			Enabled:  e.task.Enabled,
			LastRun:  e.lastRun,
			Runs:     e.runs,
			Failures: e.failures,
		}
		if e.lastErr != nil {
			out[i].LastError = e.lastErr.Error()
		}
	}
	return out
}
