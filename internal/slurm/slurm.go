// Package slurm provides job-control access to a remote SLURM scheduler
// over interchangeable transport channels. The Gateway wraps a primary and
// an optional secondary channel behind one capability surface with a single
// retry, fallback, and in-flight-limit policy.
package slurm

import (
	"context"
	"time"

	"github.com/me/slurmproxy/pkg/model"
)

// SubmitSpec describes one job to hand to the scheduler. Channels translate
// it into their own wire format (REST payload or sbatch command line).
type SubmitSpec struct {
	Username string
	JobName  string
	Script   string // shell command the job runs
	Cwd      string

	Partition     string
	CPUsPerTask   int
	Nodes         int
	NTasksPerNode int
	MemMB         int
	TimeLimitMin  int
	Environment   string

	Stdout string // absolute path, or /dev/null
	Stderr string
}

// Channel is the uniform job-control capability implemented by each
// transport. dependsOn, when non-nil, makes the submitted job wait for the
// given job to complete successfully before starting.
type Channel interface {
	Name() string
	Submit(ctx context.Context, spec SubmitSpec, dependsOn *model.JobID) (model.JobID, error)
	Query(ctx context.Context, id model.JobID) (*model.JobStatus, error)
	List(ctx context.Context, user string, since time.Time) ([]model.JobID, error)
	Cancel(ctx context.Context, id model.JobID) error
}
