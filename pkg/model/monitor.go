package model

import "time"

// JobID is a scheduler-assigned job identifier.
type JobID int64

// BadJobID marks an absent or failed job identifier.
const BadJobID JobID = -1

// Monitor tracks one submitted job attempt. There is at most one active
// Monitor per task and one per main job id; the reconciliation loop is the
// only writer after creation.
type Monitor struct {
	TaskUUID  string `json:"task_uuid"`
	PrepJobID JobID  `json:"prep_job_id"`
	MainJobID JobID  `json:"slurm_job_id"`

	State JobState `json:"state"`

	CreatedAt    time.Time  `json:"created_at"`
	LastPolledAt *time.Time `json:"last_polled_at,omitempty"`
	NotifiedAt   *time.Time `json:"notified_at,omitempty"`
}

// MonitorSummary is the API view of a monitor merged with the scheduler's
// live answer for the same job.
type MonitorSummary struct {
	Monitor Monitor    `json:"monitor"`
	Task    *Task      `json:"task,omitempty"`
	Live    *JobStatus `json:"slurm,omitempty"`
}

// JobStatus is the scheduler's authoritative answer for a single job.
type JobStatus struct {
	JobID    JobID     `json:"job_id"`
	Name     string    `json:"job_name,omitempty"`
	RawState string    `json:"state"`
	User     string    `json:"user,omitempty"`
	Start    time.Time `json:"start,omitzero"`
	End      time.Time `json:"end,omitzero"`
	Elapsed  string    `json:"elapsed,omitempty"`
}
