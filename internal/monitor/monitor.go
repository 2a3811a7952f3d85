// Package monitor reconciles stored job records against the scheduler. A
// polling loop queries every non-terminal monitored job, folds the raw
// scheduler state onto the tracked lifecycle, and fires notifications when a
// job first reaches a terminal state.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/me/slurmproxy/internal/notify"
	"github.com/me/slurmproxy/internal/slurm"
	"github.com/me/slurmproxy/pkg/model"
)

// Config holds loop configuration.
type Config struct {
	PollInterval time.Duration
	// MaxAge bounds how old a non-terminal record may be before the loop
	// stops polling it. Zero means no bound.
	MaxAge time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval: time.Minute,
		MaxAge:       14 * 24 * time.Hour,
	}
}

// Store is the persistence surface the loop needs.
type Store interface {
	GetTask(ctx context.Context, uuid string) (*model.Task, error)
	ListActiveMonitors(ctx context.Context, maxAge time.Duration) ([]*model.Monitor, error)
	UpdateMonitorState(ctx context.Context, id model.JobID, newState model.JobState, polledAt time.Time) (bool, error)
	MarkNotified(ctx context.Context, id model.JobID) error
}

// Querier is the gateway surface the loop needs.
type Querier interface {
	Query(ctx context.Context, id model.JobID) (*model.JobStatus, error)
}

// Notifier dispatches a job outcome over a task's configured methods.
type Notifier interface {
	Dispatch(ctx context.Context, spec *model.NotificationSpec, outcome notify.Outcome) error
}

// Loop polls the scheduler for every tracked non-terminal job.
type Loop struct {
	store    Store
	gateway  Querier
	notifier Notifier
	config   Config
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewLoop creates a reconciliation loop.
func NewLoop(st Store, gw Querier, n Notifier, cfg Config, logger *slog.Logger) *Loop {
	return &Loop{
		store:    st,
		gateway:  gw,
		notifier: n,
		config:   cfg,
		logger:   logger.With("component", "monitor"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the polling loop. Blocks until ctx is cancelled or Stop is called.
func (l *Loop) Start(ctx context.Context) error {
	l.logger.Info("monitor started",
		"poll_interval", l.config.PollInterval, "max_age", l.config.MaxAge)
	ticker := time.NewTicker(l.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("monitor stopping (context cancelled)")
			close(l.doneCh)
			return ctx.Err()
		case <-l.stopCh:
			l.logger.Info("monitor stopping (stop called)")
			close(l.doneCh)
			return nil
		case <-ticker.C:
			if err := l.Tick(ctx); err != nil {
				l.logger.Error("tick error", "error", err)
			}
		}
	}
}

// Stop gracefully shuts down the loop and waits for the current tick to finish.
func (l *Loop) Stop() error {
	close(l.stopCh)
	<-l.doneCh
	return nil
}

// Tick runs a single reconciliation pass. Records are independent; they are
// polled concurrently, bounded by the gateway's in-flight limit.
func (l *Loop) Tick(ctx context.Context) error {
	monitors, err := l.store.ListActiveMonitors(ctx, l.config.MaxAge)
	if err != nil {
		return err
	}
	if len(monitors) == 0 {
		return nil
	}
	l.logger.Debug("polling monitored jobs", "count", len(monitors))

	var wg sync.WaitGroup
	for _, m := range monitors {
		wg.Add(1)
		go func(m *model.Monitor) {
			defer wg.Done()
			l.reconcile(ctx, m)
		}(m)
	}
	wg.Wait()
	return nil
}

// reconcile polls one monitored job and applies the result.
func (l *Loop) reconcile(ctx context.Context, m *model.Monitor) {
	status, err := l.gateway.Query(ctx, m.MainJobID)
	if err != nil {
		if errors.Is(err, slurm.ErrJobNotFound) {
			// A tracked job unknown to sacct is usually accounting lag
			// right after submission. Leave the record alone.
			l.logger.Warn("tracked job not found on scheduler",
				"main_job_id", m.MainJobID, "task_uuid", m.TaskUUID)
			return
		}
		l.logger.Error("poll failed", "main_job_id", m.MainJobID, "error", err)
		return
	}

	newState, ok := model.FromSlurmState(status.RawState)
	if !ok {
		l.logger.Warn("unrecognized scheduler state",
			"main_job_id", m.MainJobID, "raw_state", status.RawState)
		return
	}

	// The guarded update also records the poll when the transition is
	// rejected, so every reconciled record shows liveness.
	applied, err := l.store.UpdateMonitorState(ctx, m.MainJobID, newState, time.Now().UTC())
	if err != nil {
		l.logger.Error("update state", "main_job_id", m.MainJobID, "error", err)
		return
	}

	effective := m.State
	if applied {
		effective = newState
		l.logger.Info("job state changed",
			"main_job_id", m.MainJobID, "task_uuid", m.TaskUUID,
			"from", m.State, "to", newState)
	}

	// Covers both a fresh terminal transition and a terminal record whose
	// earlier dispatch failed and is owed a retry.
	if effective.IsTerminal() && m.NotifiedAt == nil {
		l.notifyOutcome(ctx, m, effective, status)
	}
}

// notifyOutcome dispatches the terminal result and checkpoints delivery.
// A failed dispatch is retried on the next tick; the record stays terminal
// and unnotified until a dispatch succeeds.
func (l *Loop) notifyOutcome(ctx context.Context, m *model.Monitor, state model.JobState, status *model.JobStatus) {
	task, err := l.store.GetTask(ctx, m.TaskUUID)
	if err != nil {
		l.logger.Error("load task for notification", "task_uuid", m.TaskUUID, "error", err)
		return
	}
	if task == nil {
		l.logger.Error("task missing for monitored job", "task_uuid", m.TaskUUID)
		return
	}
	if task.Notification == nil || len(task.Notification.Methods) == 0 {
		if err := l.store.MarkNotified(ctx, m.MainJobID); err != nil {
			l.logger.Error("mark notified", "main_job_id", m.MainJobID, "error", err)
		}
		return
	}

	outcome := notify.Outcome{
		JobID:    m.MainJobID,
		State:    state,
		Elapsed:  status.Elapsed,
		Username: task.Username,
		TaskName: task.Name,
		TaskUUID: task.UUID,
	}
	if err := l.notifier.Dispatch(ctx, task.Notification, outcome); err != nil {
		l.logger.Error("notification dispatch failed, will retry",
			"main_job_id", m.MainJobID, "error", err)
		return
	}
	if err := l.store.MarkNotified(ctx, m.MainJobID); err != nil {
		l.logger.Error("mark notified", "main_job_id", m.MainJobID, "error", err)
	}
}
