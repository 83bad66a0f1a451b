package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pentland/scribe/internal/events"
)

// ExecuteFunc carries out a fired task. The error decides whether the
// firing is recorded completed or failed; either way the instant is
// consumed.
type ExecuteFunc func(ctx context.Context, task *Task, firing *Firing) error

// Scheduler scans the task store on a fixed tick and fires whatever is
// due. All trigger state lives in the store, so a restart resumes
// exactly where the ledger says things stand.
type Scheduler struct {
	logger   *slog.Logger
	store    *Store
	execute  ExecuteFunc
	bus      *events.Bus
	interval time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

// New creates a scheduler. interval is the tick period; zero uses 30
// seconds.
func New(logger *slog.Logger, store *Store, execute ExecuteFunc, bus *events.Bus, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		logger:   logger,
		store:    store,
		execute:  execute,
		bus:      bus,
		interval: interval,
	}
}

// Start launches the tick loop in a goroutine. It is an error to start
// a scheduler twice.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})

	go s.run(ctx)
	s.logger.Info("scheduler started", "interval", s.interval)
	return nil
}

// Stop halts the tick loop and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.done
	s.mu.Unlock()

	<-done
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Catch up on anything that came due while we were down.
	s.Tick(ctx, time.Now())

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.Tick(ctx, now)
		}
	}
}

// Tick runs one scan of enabled tasks against the clock. Exposed so
// callers can drive the scheduler deterministically.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) {
	tasks, err := s.store.ListTasks(true)
	if err != nil {
		s.logger.Error("list tasks", "error", err)
		return
	}

	for _, task := range tasks {
		dueAt, due := task.DueAt(now)
		if !due {
			continue
		}
		if err := s.fire(ctx, task, dueAt); err != nil {
			s.logger.Error("fire task", "task", task.ID, "name", task.Name, "error", err)
		}
	}
}

// fire executes one due instant with at-most-once semantics: claim the
// instant in the ledger, execute, record the outcome, then advance the
// task. A ledger row that already exists means the instant was claimed
// before (possibly by a run that crashed mid-execution) and is skipped,
// but the task bookkeeping still advances so the skip is not permanent.
func (s *Scheduler) fire(ctx context.Context, task *Task, dueAt time.Time) error {
	claimed, err := s.store.HasFiring(task.ID, dueAt)
	if err != nil {
		return err
	}
	if claimed {
		s.logger.Debug("firing already claimed", "task", task.ID, "due_at", dueAt)
		return s.advance(task, dueAt)
	}

	now := time.Now().UTC()
	firing := &Firing{
		TaskID:    task.ID,
		DueAt:     dueAt,
		StartedAt: &now,
		Status:    FiringPending,
	}
	if err := s.store.CreateFiring(firing); err != nil {
		// Lost the claim race; the winner executes.
		s.logger.Debug("firing claim lost", "task", task.ID, "due_at", dueAt, "error", err)
		return s.advance(task, dueAt)
	}

	s.bus.Publish(events.Event{
		Source: events.SourceScheduler,
		Kind:   events.KindTaskFired,
		Data: map[string]any{
			"task_id": task.ID,
			"name":    task.Name,
			"due_at":  dueAt,
		},
	})

	execErr := s.execute(ctx, task, firing)

	completed := time.Now().UTC()
	firing.CompletedAt = &completed
	if execErr != nil {
		firing.Status = FiringFailed
		firing.Result = execErr.Error()
		s.logger.Warn("task execution failed", "task", task.ID, "name", task.Name, "error", execErr)
	} else {
		firing.Status = FiringCompleted
		s.logger.Info("task fired", "task", task.ID, "name", task.Name, "due_at", dueAt)
	}
	if err := s.store.UpdateFiring(firing); err != nil {
		return fmt.Errorf("record firing: %w", err)
	}

	s.bus.Publish(events.Event{
		Source: events.SourceScheduler,
		Kind:   events.KindTaskComplete,
		Data: map[string]any{
			"task_id": task.ID,
			"name":    task.Name,
			"status":  string(firing.Status),
		},
	})

	return s.advance(task, dueAt)
}

// advance moves the task's trigger state past the consumed instant:
// LastFiredAt is set, and one-shot reminders disable themselves.
func (s *Scheduler) advance(task *Task, dueAt time.Time) error {
	task.LastFiredAt = &dueAt
	if task.Kind == KindReminder {
		task.Enabled = false
	}
	if err := s.store.UpdateTask(task); err != nil {
		return fmt.Errorf("advance task: %w", err)
	}
	return nil
}

// Store exposes the underlying task store for tool registration.
func (s *Scheduler) Store() *Store {
	return s.store
}
