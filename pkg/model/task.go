package model

import "time"

// DefaultEnvironment is the minimal PATH handed to scheduler jobs when the
// caller does not supply one.
const DefaultEnvironment = "PATH=/bin/:/usr/bin/:/sbin/"

// Task is a submitted job description. Tasks are immutable after creation:
// the normalizer builds one from an inbound request and the store never
// mutates or deletes it.
type Task struct {
	UUID     string   `json:"uuid"`
	Name     string   `json:"name"`
	Username string   `json:"username"`
	Cwd      string   `json:"cwd"`
	Cmd      string   `json:"cmd,omitempty"`
	Params   []string `json:"params,omitempty"`

	Dirs         Dirs              `json:"dirs"`
	Resources    ResourceSpec      `json:"resource_spec"`
	Notification *NotificationSpec `json:"notification,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Dirs holds the four filesystem paths a job works under. The prep job
// creates all of them before the main job is allowed to start.
type Dirs struct {
	Parent string `json:"parent"`
	Input  string `json:"input"`
	Output string `json:"output"`
	Error  string `json:"error"`
}

// ResourceSpec is the scheduler resource request for the main job.
type ResourceSpec struct {
	JobName       string `json:"job_name"`
	Output        string `json:"output"`
	Error         string `json:"error"`
	MemMB         int    `json:"mem"`
	CPUsPerTask   int    `json:"cpus_per_task"`
	Nodes         int    `json:"nodes"`
	NTasksPerNode int    `json:"ntasks_per_node"`
	Partition     string `json:"partition"`
	TimeLimitMin  int    `json:"time"`
	Environment   string `json:"environment,omitempty"`
}

// NotificationSpec selects the transports notified when a job reaches a
// terminal state. Methods is ordered; Params carries per-method rendering
// parameters keyed by method name.
type NotificationSpec struct {
	Methods []string                     `json:"methods"`
	Params  map[string]map[string]string `json:"params,omitempty"`
}
