// Package notify delivers terminal-state notifications over pluggable
// transports. Delivery is at-least-once: the reconciliation loop re-runs a
// failed dispatch on its next tick, so every Sender must tolerate repeats.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"text/template"

	"github.com/me/slurmproxy/pkg/model"
)

// Outcome is the terminal result of a monitored job, offered to notification
// parameter templates.
type Outcome struct {
	JobID    model.JobID
	State    model.JobState
	Elapsed  string
	Username string
	TaskName string
	TaskUUID string
}

// Sender delivers one rendered notification payload.
type Sender interface {
	Name() string
	Send(ctx context.Context, params map[string]string) error
}

// Dispatcher fans a job outcome out to the methods named in a task's
// notification spec.
type Dispatcher struct {
	senders map[string]Sender
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher over the given senders.
func NewDispatcher(logger *slog.Logger, senders ...Sender) *Dispatcher {
	m := make(map[string]Sender, len(senders))
	for _, s := range senders {
		m[s.Name()] = s
	}
	return &Dispatcher{
		senders: m,
		logger:  logger.With("component", "notify"),
	}
}

// Dispatch renders and sends the outcome over every method in spec, in
// order. A failing method never blocks the ones after it; the joined error
// reports every failure so the caller can retry the whole dispatch.
func (d *Dispatcher) Dispatch(ctx context.Context, spec *model.NotificationSpec, outcome Outcome) error {
	if spec == nil || len(spec.Methods) == 0 {
		return nil
	}

	var errs []error
	for _, method := range spec.Methods {
		sender, ok := d.senders[method]
		if !ok {
			d.logger.Error("unknown notification method", "method", method, "job_id", outcome.JobID)
			errs = append(errs, fmt.Errorf("unknown notification method %q", method))
			continue
		}
		params, err := renderParams(spec.Params[method], outcome)
		if err != nil {
			errs = append(errs, fmt.Errorf("render %s params: %w", method, err))
			continue
		}
		if err := sender.Send(ctx, params); err != nil {
			d.logger.Error("notification send failed",
				"method", method, "job_id", outcome.JobID, "error", err)
			errs = append(errs, fmt.Errorf("send via %s: %w", method, err))
			continue
		}
		d.logger.Info("notification sent", "method", method, "job_id", outcome.JobID)
	}
	return errors.Join(errs...)
}

// renderParams runs each parameter value through text/template with the
// outcome as data. Literal values pass through unchanged.
func renderParams(params map[string]string, outcome Outcome) (map[string]string, error) {
	out := make(map[string]string, len(params))
	for key, value := range params {
		tmpl, err := template.New(key).Parse(value)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", key, err)
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, outcome); err != nil {
			return nil, fmt.Errorf("execute %s: %w", key, err)
		}
		out[key] = buf.String()
	}
	return out, nil
}

// DefaultMessage is the fallback body used when a method's params carry no
// message of their own.
func DefaultMessage(outcome Outcome) string {
	return fmt.Sprintf("job %d (%s, task %s) finished in state %s after %s",
		outcome.JobID, outcome.TaskName, outcome.TaskUUID, outcome.State, outcome.Elapsed)
}
