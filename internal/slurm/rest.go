package slurm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/me/slurmproxy/pkg/model"
)

// RESTConfig configures the SLURM REST API channel.
// ParserVersion selects the data_parser plugin version used in URL paths,
// e.g. "0.0.42" → /slurm/v0.0.42 and /slurmdb/v0.0.42.
type RESTConfig struct {
	BaseURL       string
	ParserVersion string
	Username      string
	Token         string // X-SLURM-USER-TOKEN
}

// RESTChannel speaks to slurmrestd.
type RESTChannel struct {
	httpClient *http.Client
	config     RESTConfig
	logger     *slog.Logger
}

// NewRESTChannel creates the structured-protocol channel. The per-call
// timeout is enforced by the Gateway's context, not the http.Client.
func NewRESTChannel(cfg RESTConfig, logger *slog.Logger) *RESTChannel {
	return &RESTChannel{
		httpClient: &http.Client{},
		config:     cfg,
		logger:     logger.With("component", "slurm-rest"),
	}
}

// Name implements Channel.
func (c *RESTChannel) Name() string { return "rest" }

func (c *RESTChannel) slurmURL(path string) string {
	return fmt.Sprintf("%s/slurm/v%s/%s", c.config.BaseURL, c.config.ParserVersion, path)
}

func (c *RESTChannel) slurmdbURL(path string) string {
	return fmt.Sprintf("%s/slurmdb/v%s/%s", c.config.BaseURL, c.config.ParserVersion, path)
}

// restJob is the job description object inside a submit payload.
type restJob struct {
	Script       string     `json:"script"`
	Environment  []string   `json:"environment"`
	Cwd          string     `json:"current_working_directory"`
	Name         string     `json:"name"`
	Partition    string     `json:"partition,omitempty"`
	CPUsPerTask  int        `json:"cpus_per_task,omitempty"`
	Nodes        int        `json:"nodes,omitempty"`
	TasksPerNode int        `json:"ntasks_per_node,omitempty"`
	MemoryPerCPU *restValue `json:"memory_per_cpu,omitempty"`
	TimeLimit    *restValue `json:"time_limit,omitempty"`
	Stdout       string     `json:"standard_output"`
	Stderr       string     `json:"standard_error"`
	Dependency   string     `json:"dependency,omitempty"`
}

// restValue is slurmrestd's {set, number} integer wrapper.
type restValue struct {
	Set    bool `json:"set"`
	Number int  `json:"number"`
}

type submitRequest struct {
	Username string  `json:"username,omitempty"`
	Job      restJob `json:"job"`
}

type submitResponse struct {
	JobID  model.JobID `json:"job_id"`
	Errors []restError `json:"errors,omitempty"`
}

type restError struct {
	Error       string `json:"error,omitempty"`
	Description string `json:"description,omitempty"`
	ErrorNumber int    `json:"error_number,omitempty"`
}

func (e restError) String() string {
	if e.Description != "" {
		return e.Description
	}
	return e.Error
}

// Submit implements Channel. The job script is wrapped in a srun shell
// invocation, matching what sbatch --wrap would produce.
func (c *RESTChannel) Submit(ctx context.Context, spec SubmitSpec, dependsOn *model.JobID) (model.JobID, error) {
	env := spec.Environment
	if env == "" {
		env = model.DefaultEnvironment
	}
	job := restJob{
		Script:      fmt.Sprintf("#!/bin/bash\nsrun /bin/bash -c '%s;'", spec.Script),
		Environment: []string{env},
		Cwd:         spec.Cwd,
		Name:        spec.JobName,
		Partition:   spec.Partition,
		CPUsPerTask: spec.CPUsPerTask,
		Stdout:      spec.Stdout,
		Stderr:      spec.Stderr,
	}
	if spec.Nodes > 1 {
		job.Nodes = spec.Nodes
	}
	if spec.NTasksPerNode > 0 {
		job.TasksPerNode = spec.NTasksPerNode
	}
	if spec.MemMB > 0 {
		job.MemoryPerCPU = &restValue{Set: true, Number: spec.MemMB}
	}
	if spec.TimeLimitMin > 0 {
		job.TimeLimit = &restValue{Set: true, Number: spec.TimeLimitMin}
	}
	if dependsOn != nil {
		job.Dependency = fmt.Sprintf("afterok:%d", *dependsOn)
	}

	body, err := json.Marshal(submitRequest{Username: spec.Username, Job: job})
	if err != nil {
		return model.BadJobID, &TransportError{Channel: c.Name(), Op: "submit", Err: err}
	}

	respBody, err := c.doRequest(ctx, http.MethodPost, c.slurmURL("job/submit"), "submit", body)
	if err != nil {
		return model.BadJobID, err
	}

	var resp submitResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return model.BadJobID, &TransportError{Channel: c.Name(), Op: "submit",
			Err: fmt.Errorf("malformed response: %w", err)}
	}
	if len(resp.Errors) > 0 {
		return model.BadJobID, &SchedulerError{Channel: c.Name(), Op: "submit",
			Code: resp.Errors[0].ErrorNumber, Message: resp.Errors[0].String()}
	}
	if resp.JobID <= 0 {
		return model.BadJobID, &SchedulerError{Channel: c.Name(), Op: "submit",
			Message: "no job id in response"}
	}
	c.logger.Debug("job submitted", "job_id", resp.JobID, "name", spec.JobName)
	return resp.JobID, nil
}

// queryResponse is the slurmdb answer for a single-job query.
type queryResponse struct {
	Jobs []struct {
		JobID model.JobID `json:"job_id"`
		Name  string      `json:"name"`
		User  string      `json:"user"`
		State struct {
			Current []string `json:"current"`
		} `json:"state"`
		Time struct {
			Start   int64 `json:"start"`
			End     int64 `json:"end"`
			Elapsed int64 `json:"elapsed"`
		} `json:"time"`
	} `json:"jobs"`
}

// Query implements Channel.
func (c *RESTChannel) Query(ctx context.Context, id model.JobID) (*model.JobStatus, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, c.slurmdbURL(fmt.Sprintf("job/%d", id)), "query", nil)
	if err != nil {
		return nil, err
	}

	var resp queryResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, &TransportError{Channel: c.Name(), Op: "query",
			Err: fmt.Errorf("malformed response: %w", err)}
	}
	if len(resp.Jobs) == 0 {
		return nil, ErrJobNotFound
	}

	j := resp.Jobs[0]
	status := &model.JobStatus{
		JobID: j.JobID,
		Name:  j.Name,
		User:  j.User,
	}
	if len(j.State.Current) > 0 {
		status.RawState = j.State.Current[0]
	}
	if j.Time.Start > 0 {
		status.Start = time.Unix(j.Time.Start, 0).UTC()
	}
	if j.Time.End > 0 {
		status.End = time.Unix(j.Time.End, 0).UTC()
	}
	if j.Time.Elapsed > 0 {
		status.Elapsed = (time.Duration(j.Time.Elapsed) * time.Second).String()
	}
	return status, nil
}

// List implements Channel.
func (c *RESTChannel) List(ctx context.Context, user string, since time.Time) ([]model.JobID, error) {
	url := c.slurmdbURL(fmt.Sprintf("jobs?users=%s&start_time=%d", user, since.Unix()))
	respBody, err := c.doRequest(ctx, http.MethodGet, url, "list", nil)
	if err != nil {
		return nil, err
	}

	var resp queryResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, &TransportError{Channel: c.Name(), Op: "list",
			Err: fmt.Errorf("malformed response: %w", err)}
	}
	ids := make([]model.JobID, 0, len(resp.Jobs))
	for _, j := range resp.Jobs {
		ids = append(ids, j.JobID)
	}
	return ids, nil
}

// Cancel implements Channel.
func (c *RESTChannel) Cancel(ctx context.Context, id model.JobID) error {
	_, err := c.doRequest(ctx, http.MethodDelete, c.slurmURL(fmt.Sprintf("job/%d", id)), "cancel", nil)
	return err
}

// doRequest performs one HTTP exchange and classifies the failure mode:
// connection faults, 5xx and 429 are transport errors; other non-2xx
// statuses are scheduler rejections.
func (c *RESTChannel) doRequest(ctx context.Context, method, url, op string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, &TransportError{Channel: c.Name(), Op: op, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.Username != "" {
		req.Header.Set("X-SLURM-USER-NAME", c.config.Username)
	}
	if c.config.Token != "" {
		req.Header.Set("X-SLURM-USER-TOKEN", c.config.Token)
	}

	c.logger.Debug("request", "method", method, "url", url)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Channel: c.Name(), Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Channel: c.Name(), Op: op, Err: err}
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, &TransportError{Channel: c.Name(), Op: op,
			Err: fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))}
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrJobNotFound
	case resp.StatusCode >= 400:
		return nil, &SchedulerError{Channel: c.Name(), Op: op,
			Code: resp.StatusCode, Message: string(respBody)}
	}
	return respBody, nil
}
