package store

import (
	"context"
	"time"

	"github.com/me/slurmproxy/pkg/model"
)

// Store defines the persistence layer for Task and Monitor records.
//
// Tasks are write-once. Monitors carry the per-record monotonic state guard:
// UpdateMonitorState refuses to move a record backward or sideways along
// PENDING, RUNNING, terminal. Monitor records are independent; no
// transaction ever spans more than one of them.
type Store interface {
	// Task operations. Tasks are immutable once inserted.
	InsertTask(ctx context.Context, task *model.Task) error
	GetTask(ctx context.Context, uuid string) (*model.Task, error)
	TaskExists(ctx context.Context, uuid string) (bool, error)

	// InsertTaskAndMonitor writes both records atomically. The submission
	// pipeline uses it as its single commit point: a failed monitor insert
	// must not leave a task row behind.
	InsertTaskAndMonitor(ctx context.Context, task *model.Task, m *model.Monitor) error

	// Monitor operations.
	InsertMonitor(ctx context.Context, m *model.Monitor) error
	GetMonitorByJobID(ctx context.Context, id model.JobID) (*model.Monitor, error)
	GetMonitorByTaskUUID(ctx context.Context, uuid string) (*model.Monitor, error)
	// ListActiveMonitors returns records the reconciliation loop still owes
	// work: non-terminal records, plus terminal ones whose notification has
	// not been delivered yet. maxAge > 0 bounds how far back created_at may
	// lie; older records are abandoned.
	ListActiveMonitors(ctx context.Context, maxAge time.Duration) ([]*model.Monitor, error)
	ListMonitorsByState(ctx context.Context, state model.JobState) ([]*model.Monitor, error)

	// UpdateMonitorState applies the monotonic transition guard. A rejected
	// transition is a logged no-op, not an error; applied reports whether
	// the new state was stored. last_polled_at advances either way.
	UpdateMonitorState(ctx context.Context, id model.JobID, newState model.JobState, polledAt time.Time) (applied bool, err error)

	// MarkNotified sets notified_at once; a second call is a no-op.
	MarkNotified(ctx context.Context, id model.JobID) error

	DeleteMonitor(ctx context.Context, id model.JobID) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
