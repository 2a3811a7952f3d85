// Package normalize validates inbound task requests and expands template
// presets into complete, immutable task records.
package normalize

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/slurmproxy/pkg/model"
)

// TaskRequest is the raw task submission body before validation. Field names
// follow the external API vocabulary.
type TaskRequest struct {
	UUID         string                  `json:"uuid"`
	Name         string                  `json:"name"`
	Username     string                  `json:"username"`
	Cwd          string                  `json:"cwd"`
	Cmd          string                  `json:"cmd,omitempty"`
	Params       []string                `json:"params,omitempty"`
	Dirs         model.Dirs              `json:"dirs"`
	Resources    model.ResourceSpec      `json:"resource_spec"`
	Notification *model.NotificationSpec `json:"notification,omitempty"`
}

// TaskChecker is the read-only store surface the normalizer consults for
// duplicate detection.
type TaskChecker interface {
	TaskExists(ctx context.Context, uuid string) (bool, error)
}

// Normalizer turns raw task requests into validated model.Task records.
type Normalizer struct {
	registry *Registry
	tasks    TaskChecker
	logger   *slog.Logger
}

// New creates a Normalizer backed by the given template registry and store.
func New(registry *Registry, tasks TaskChecker, logger *slog.Logger) *Normalizer {
	return &Normalizer{
		registry: registry,
		tasks:    tasks,
		logger:   logger.With("component", "normalize"),
	}
}

// Normalize validates req, merges template defaults under the caller's
// values, and returns the completed task. The returned task is not persisted;
// the submission pipeline owns the durable write.
func (n *Normalizer) Normalize(ctx context.Context, req TaskRequest) (*model.Task, error) {
	var verr model.ValidationError
	reject := func(field, msg string) {
		verr.Fields = append(verr.Fields, model.FieldError{Field: field, Message: msg})
	}

	if req.UUID == "" {
		reject("uuid", "required")
	}
	if req.Name == "" {
		reject("name", "required")
	}
	if req.Username == "" {
		reject("username", "required")
	}
	if req.Cwd == "" {
		reject("cwd", "required")
	}
	if req.Dirs.Parent == "" || req.Dirs.Input == "" || req.Dirs.Output == "" || req.Dirs.Error == "" {
		reject("dirs", "parent, input, output and error paths are all required")
	}
	if len(verr.Fields) > 0 {
		return nil, &verr
	}

	tmpl, ok := n.registry.Get(req.Name)
	if !ok {
		return nil, model.NewValidationError("name", fmt.Sprintf("unknown task template %q", req.Name))
	}

	cmd := req.Cmd
	if cmd == "" {
		cmd = tmpl.Cmd
	}
	if cmd == "" {
		reject("cmd", fmt.Sprintf("template %q defines no command and none was supplied", req.Name))
	}

	// Template defaults lead, caller params follow; matches the preset-then-
	// override order the templates were written for.
	params := make([]string, 0, len(tmpl.DefaultParams)+len(req.Params))
	params = append(params, tmpl.DefaultParams...)
	params = append(params, req.Params...)

	res := req.Resources
	if res.JobName == "" {
		reject("resource_spec.job_name", "required")
	}
	if res.Output == "" {
		reject("resource_spec.output", "required")
	}
	if res.Error == "" {
		reject("resource_spec.error", "required")
	}
	if res.Partition == "" {
		reject("resource_spec.partition", "required")
	}
	if res.MemMB <= 0 {
		reject("resource_spec.mem", "must be positive")
	}
	if res.CPUsPerTask <= 0 {
		reject("resource_spec.cpus_per_task", "must be positive")
	}
	if res.Nodes <= 0 {
		reject("resource_spec.nodes", "must be positive")
	}
	if res.NTasksPerNode <= 0 {
		reject("resource_spec.ntasks_per_node", "must be positive")
	}
	if res.TimeLimitMin <= 0 {
		reject("resource_spec.time", "must be positive")
	}
	if len(verr.Fields) > 0 {
		return nil, &verr
	}

	if res.Environment == "" {
		res.Environment = model.DefaultEnvironment
	}

	notification := req.Notification
	if notification == nil {
		notification = tmpl.Notification
	}

	exists, err := n.tasks.TaskExists(ctx, req.UUID)
	if err != nil {
		return nil, fmt.Errorf("check task uuid %s: %w", req.UUID, err)
	}
	if exists {
		n.logger.Warn("task uuid already tracked", "uuid", req.UUID)
		return nil, model.ErrDuplicateTask
	}

	return &model.Task{
		UUID:         req.UUID,
		Name:         req.Name,
		Username:     req.Username,
		Cwd:          req.Cwd,
		Cmd:          cmd,
		Params:       params,
		Dirs:         req.Dirs,
		Resources:    res,
		Notification: notification,
		CreatedAt:    time.Now().UTC(),
	}, nil
}
