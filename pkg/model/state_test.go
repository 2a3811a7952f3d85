package model

import "testing"

func TestJobStateIsTerminal(t *testing.T) {
	terminal := []JobState{JobStateCompleted, JobStateFailed, JobStateCancelled, JobStateTimeout}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []JobState{JobStatePending, JobStateRunning} {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to JobState
		want     bool
	}{
		{JobStatePending, JobStateRunning, true},
		{JobStatePending, JobStateCompleted, true},
		{JobStateRunning, JobStateFailed, true},
		{JobStateRunning, JobStatePending, false},
		{JobStateRunning, JobStateRunning, false},
		{JobStateCompleted, JobStatePending, false},
		{JobStateCompleted, JobStateFailed, false},
		{JobStateTimeout, JobStateRunning, false},
		{JobStatePending, JobStatePending, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestFromSlurmState(t *testing.T) {
	tests := []struct {
		raw  string
		want JobState
		ok   bool
	}{
		{"PENDING", JobStatePending, true},
		{"RUNNING", JobStateRunning, true},
		{"COMPLETED", JobStateCompleted, true},
		{"COMPLETING", JobStateRunning, true},
		{"NODE_FAIL", JobStateFailed, true},
		{"OUT_OF_MEMORY", JobStateFailed, true},
		{"DEADLINE", JobStateFailed, true},
		{"REVOKED", JobStateCancelled, true},
		{"REQUEUED", JobStatePending, true},
		{"SOMETHING_ELSE", "", false},
	}
	for _, tt := range tests {
		got, ok := FromSlurmState(tt.raw)
		if ok != tt.ok {
			t.Errorf("FromSlurmState(%q): ok = %v, want %v", tt.raw, ok, tt.ok)
			continue
		}
		if ok && got != tt.want {
			t.Errorf("FromSlurmState(%q) = %s, want %s", tt.raw, got, tt.want)
		}
	}
}
