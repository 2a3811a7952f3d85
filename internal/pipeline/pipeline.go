// Package pipeline implements two-stage dependent job submission: a prep job
// creates the task's directory tree, and the main job runs the task command
// with a scheduler-level dependency on the prep job finishing successfully.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/me/slurmproxy/internal/slurm"
	"github.com/me/slurmproxy/pkg/model"
)

// Prep jobs need almost nothing; they run four mkdirs and exit.
const (
	prepMemMB        = 100
	prepTimeLimitMin = 100
	prepCPUs         = 1
)

// PartialFailureError reports a main-job submission failure after the prep
// job was already accepted. The prep job is live on the scheduler; the caller
// decides whether to cancel it or resubmit with a fresh task.
type PartialFailureError struct {
	PrepJobID model.JobID
	Err       error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("main job submission failed after prep job %d was accepted: %v", e.PrepJobID, e.Err)
}

func (e *PartialFailureError) Unwrap() error {
	return e.Err
}

// Submitter is the gateway surface the pipeline needs.
type Submitter interface {
	Submit(ctx context.Context, spec slurm.SubmitSpec, dependsOn *model.JobID) (model.JobID, error)
}

// RecordStore persists the task and its monitor record once both submissions
// have been accepted. The write is atomic; it is the pipeline's only durable
// commit point.
type RecordStore interface {
	InsertTaskAndMonitor(ctx context.Context, task *model.Task, m *model.Monitor) error
}

// Pipeline submits validated tasks to the scheduler and records them for
// monitoring.
type Pipeline struct {
	gateway Submitter
	store   RecordStore
	logger  *slog.Logger
}

// New creates a Pipeline.
func New(gateway Submitter, store RecordStore, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		gateway: gateway,
		store:   store,
		logger:  logger.With("component", "pipeline"),
	}
}

// Run submits the prep and main jobs for task and, only once both are
// accepted, writes the task and its monitor record in one atomic commit.
// Nothing is persisted on
// a prep failure; a main failure after prep acceptance returns
// PartialFailureError and still persists nothing.
func (p *Pipeline) Run(ctx context.Context, task *model.Task) (*model.Monitor, error) {
	prepID, err := p.gateway.Submit(ctx, prepSpec(task), nil)
	if err != nil {
		p.logger.Error("prep job submission failed", "task_uuid", task.UUID, "error", err)
		return nil, fmt.Errorf("submit prep job: %w", err)
	}
	p.logger.Info("prep job accepted", "task_uuid", task.UUID, "prep_job_id", prepID)

	mainID, err := p.gateway.Submit(ctx, mainSpec(task), &prepID)
	if err != nil {
		p.logger.Error("main job submission failed after prep",
			"task_uuid", task.UUID, "prep_job_id", prepID, "error", err)
		return nil, &PartialFailureError{PrepJobID: prepID, Err: err}
	}
	p.logger.Info("main job accepted",
		"task_uuid", task.UUID, "prep_job_id", prepID, "main_job_id", mainID)

	monitor := &model.Monitor{
		TaskUUID:  task.UUID,
		PrepJobID: prepID,
		MainJobID: mainID,
		State:     model.JobStatePending,
		CreatedAt: time.Now().UTC(),
	}
	if err := p.store.InsertTaskAndMonitor(ctx, task, monitor); err != nil {
		return nil, fmt.Errorf("persist task %s with monitor for job %d: %w", task.UUID, mainID, err)
	}
	return monitor, nil
}

// prepSpec builds the directory-creation job. All four directories are
// created with mkdir -p so reruns over existing trees succeed.
func prepSpec(task *model.Task) slurm.SubmitSpec {
	mkdirs := []string{
		"mkdir -p " + task.Dirs.Parent,
		"mkdir -p " + task.Dirs.Input,
		"mkdir -p " + task.Dirs.Output,
		"mkdir -p " + task.Dirs.Error,
	}
	return slurm.SubmitSpec{
		Username:     task.Username,
		JobName:      fmt.Sprintf("hpc-proxy-preliminary-%s-%s-preliminary", task.Name, task.UUID),
		Script:       strings.Join(mkdirs, " ; "),
		Cwd:          task.Cwd,
		Partition:    task.Resources.Partition,
		CPUsPerTask:  prepCPUs,
		MemMB:        prepMemMB,
		TimeLimitMin: prepTimeLimitMin,
		Environment:  model.DefaultEnvironment,
		Stdout:       "/dev/null",
		Stderr:       "/dev/null",
	}
}

// mainSpec builds the task job itself.
func mainSpec(task *model.Task) slurm.SubmitSpec {
	script := task.Cmd
	if len(task.Params) > 0 {
		script += " " + strings.Join(task.Params, " ")
	}
	return slurm.SubmitSpec{
		Username:      task.Username,
		JobName:       fmt.Sprintf("hpc-proxy-%s-%s-main", task.Name, task.UUID),
		Script:        script,
		Cwd:           task.Cwd,
		Partition:     task.Resources.Partition,
		CPUsPerTask:   task.Resources.CPUsPerTask,
		Nodes:         task.Resources.Nodes,
		NTasksPerNode: task.Resources.NTasksPerNode,
		MemMB:         task.Resources.MemMB,
		TimeLimitMin:  task.Resources.TimeLimitMin,
		Environment:   task.Resources.Environment,
		Stdout:        path.Join(task.Dirs.Output, task.Resources.Output),
		Stderr:        path.Join(task.Dirs.Error, task.Resources.Error),
	}
}
