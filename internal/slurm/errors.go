package slurm

import (
	"errors"
	"fmt"
)

// ErrJobNotFound is returned by Query when the scheduler has no record of
// the job id. Callers decide whether that is fatal; the reconciliation loop
// treats it as a transient anomaly.
var ErrJobNotFound = errors.New("job not found in scheduler")

// TransportError is a communication fault: timeout, connection refused,
// malformed response, 5xx. Transport errors are retried with backoff and,
// once the budget is exhausted, eligible for channel fallback.
type TransportError struct {
	Channel string
	Op      string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: transport: %v", e.Channel, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// SchedulerError is a well-formed rejection of the job request itself
// (bad partition, bad resource spec, permission denied). It is surfaced
// immediately: never retried, never falls back.
type SchedulerError struct {
	Channel string
	Op      string
	Code    int // HTTP status or remote exit code, when known
	Message string
}

func (e *SchedulerError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s %s: scheduler rejected request [%d]: %s", e.Channel, e.Op, e.Code, e.Message)
	}
	return fmt.Sprintf("%s %s: scheduler rejected request: %s", e.Channel, e.Op, e.Message)
}

// IsTransport reports whether err is a retryable communication fault.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsRejection reports whether err is a non-retryable scheduler rejection.
func IsRejection(err error) bool {
	var se *SchedulerError
	return errors.As(err, &se)
}
