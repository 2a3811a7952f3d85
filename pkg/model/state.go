package model

// JobState represents the tracked lifecycle state of a monitored job.
type JobState string

const (
	JobStatePending   JobState = "PENDING"
	JobStateRunning   JobState = "RUNNING"
	JobStateCompleted JobState = "COMPLETED"
	JobStateFailed    JobState = "FAILED"
	JobStateCancelled JobState = "CANCELLED"
	JobStateTimeout   JobState = "TIMEOUT"
)

// String returns the string representation of the job state.
func (s JobState) String() string {
	return string(s)
}

// IsTerminal returns true if the job is in a final state.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateCancelled, JobStateTimeout:
		return true
	}
	return false
}

// rank positions a state along PENDING → RUNNING → terminal. All terminal
// states share one rank: once a terminal result is stored, no later poll may
// replace it with another.
func (s JobState) rank() int {
	switch s {
	case JobStatePending:
		return 0
	case JobStateRunning:
		return 1
	default:
		return 2
	}
}

// CanTransitionTo returns true if moving from the current state to next is a
// strictly forward move. Equal-or-backward transitions are rejected so a
// stale or delayed poll can never overwrite a newer result.
func (s JobState) CanTransitionTo(next JobState) bool {
	return next.rank() > s.rank()
}

// slurmStateMap folds the scheduler's full state vocabulary onto the six
// monitored states. States that describe a job still making progress map to
// RUNNING; states that describe an abnormal end map to FAILED.
var slurmStateMap = map[string]JobState{
	"PENDING":       JobStatePending,
	"RUNNING":       JobStateRunning,
	"COMPLETED":     JobStateCompleted,
	"FAILED":        JobStateFailed,
	"CANCELLED":     JobStateCancelled,
	"TIMEOUT":       JobStateTimeout,
	"COMPLETING":    JobStateRunning,
	"SUSPENDED":     JobStateRunning,
	"STOPPED":       JobStateRunning,
	"RESIZING":      JobStateRunning,
	"SIGNALING":     JobStateRunning,
	"STAGE_OUT":     JobStateRunning,
	"REQUEUED":      JobStatePending,
	"REQUEUE_FED":   JobStatePending,
	"REQUEUE_HOLD":  JobStatePending,
	"RESV_DEL_HOLD": JobStatePending,
	"NODE_FAIL":     JobStateFailed,
	"BOOT_FAIL":     JobStateFailed,
	"OUT_OF_MEMORY": JobStateFailed,
	"DEADLINE":      JobStateFailed,
	"PREEMPTED":     JobStateFailed,
	"SPECIAL_EXIT":  JobStateFailed,
	"REVOKED":       JobStateCancelled,
}

// FromSlurmState maps a raw scheduler state string to a monitored JobState.
// ok is false for states this engine does not track (the caller should leave
// the stored state untouched).
func FromSlurmState(raw string) (JobState, bool) {
	s, ok := slurmStateMap[raw]
	return s, ok
}
