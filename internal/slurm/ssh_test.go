package slurm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/me/slurmproxy/pkg/model"
)

func testTime(t *testing.T) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, "2025-04-14T08:00:00Z")
	if err != nil {
		t.Fatal(err)
	}
	return ts
}

// fakeRunner records commands and plays back scripted output.
type fakeRunner struct {
	cmds   []string
	stdout string
	stderr string
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, cmd string) (string, string, error) {
	f.cmds = append(f.cmds, cmd)
	return f.stdout, f.stderr, f.err
}

func TestSSHSubmitBuildsSbatchCommand(t *testing.T) {
	runner := &fakeRunner{stdout: "12345\n"}
	ch := NewSSHChannel(runner, testLogger())

	dep := model.JobID(100)
	id, err := ch.Submit(context.Background(), SubmitSpec{
		Username:      "areynolds",
		JobName:       "hpc-proxy-main",
		Script:        "echo hello",
		Cwd:           "/home/areynolds",
		Partition:     "queue1",
		Nodes:         1,
		MemMB:         2000,
		CPUsPerTask:   2,
		NTasksPerNode: 1,
		TimeLimitMin:  30,
		Stdout:        "/data/out/out.txt",
		Stderr:        "/data/err/err.txt",
	}, &dep)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id != 12345 {
		t.Errorf("id = %d, want 12345", id)
	}

	cmd := runner.cmds[0]
	for _, want := range []string{
		"sbatch",
		"--parsable",
		"--job-name=hpc-proxy-main",
		"--partition=queue1",
		"--mem=2000",
		"--cpus-per-task=2",
		"--ntasks-per-node=1",
		"--time=30",
		"--dependency=afterok:100",
		"--wrap='echo hello'",
	} {
		if !strings.Contains(cmd, want) {
			t.Errorf("command missing %q:\n%s", want, cmd)
		}
	}
}

func TestSSHSubmitNoDependency(t *testing.T) {
	runner := &fakeRunner{stdout: "77\n"}
	ch := NewSSHChannel(runner, testLogger())

	if _, err := ch.Submit(context.Background(), SubmitSpec{JobName: "prep"}, nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if strings.Contains(runner.cmds[0], "--dependency") {
		t.Errorf("unexpected dependency flag: %s", runner.cmds[0])
	}
}

func TestSSHSubmitStderrIsRejection(t *testing.T) {
	runner := &fakeRunner{stdout: "", stderr: "sbatch: error: invalid partition specified\n",
		err: &errRemoteExit{code: 1}}
	ch := NewSSHChannel(runner, testLogger())

	_, err := ch.Submit(context.Background(), SubmitSpec{JobName: "j"}, nil)
	if !IsRejection(err) {
		t.Fatalf("want rejection, got %v", err)
	}
}

func TestSSHSubmitConnectionFailureIsTransport(t *testing.T) {
	runner := &fakeRunner{err: errors.New("dial tcp: connection refused")}
	ch := NewSSHChannel(runner, testLogger())

	_, err := ch.Submit(context.Background(), SubmitSpec{JobName: "j"}, nil)
	if !IsTransport(err) {
		t.Fatalf("want transport, got %v", err)
	}
}

func TestSSHQueryParsesSacct(t *testing.T) {
	runner := &fakeRunner{
		stdout: "123|abcd1234|COMPLETED|username|queue1|UNLIMITED|2025-04-14T08:57:46|2025-04-14T11:00:44|02:02:58\n",
	}
	ch := NewSSHChannel(runner, testLogger())

	status, err := ch.Query(context.Background(), 123)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if status.JobID != 123 {
		t.Errorf("JobID = %d", status.JobID)
	}
	if status.RawState != "COMPLETED" {
		t.Errorf("RawState = %q", status.RawState)
	}
	if status.User != "username" {
		t.Errorf("User = %q", status.User)
	}
	if status.Elapsed != "02:02:58" {
		t.Errorf("Elapsed = %q", status.Elapsed)
	}
	if status.Start.IsZero() || status.End.IsZero() {
		t.Error("start/end not parsed")
	}
}

func TestSSHQueryCancelledByUser(t *testing.T) {
	runner := &fakeRunner{
		stdout: "55|job|CANCELLED by 1001|username|queue1|1:00:00|2025-04-14T08:57:46|2025-04-14T09:00:00|00:02:14\n",
	}
	ch := NewSSHChannel(runner, testLogger())

	status, err := ch.Query(context.Background(), 55)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if status.RawState != "CANCELLED" {
		t.Errorf("RawState = %q, want CANCELLED", status.RawState)
	}
}

func TestSSHQueryEmptyIsNotFound(t *testing.T) {
	runner := &fakeRunner{stdout: "\n"}
	ch := NewSSHChannel(runner, testLogger())

	if _, err := ch.Query(context.Background(), 999); err != ErrJobNotFound {
		t.Fatalf("want ErrJobNotFound, got %v", err)
	}
}

func TestSSHList(t *testing.T) {
	runner := &fakeRunner{stdout: "101\n102\n103.batch\n"}
	ch := NewSSHChannel(runner, testLogger())

	ids, err := ch.List(context.Background(), "username", testTime(t))
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 3 || ids[0] != 101 || ids[2] != 103 {
		t.Errorf("ids = %v", ids)
	}
	if !strings.Contains(runner.cmds[0], "-u username") {
		t.Errorf("command = %q", runner.cmds[0])
	}
}

func TestSSHCancel(t *testing.T) {
	runner := &fakeRunner{}
	ch := NewSSHChannel(runner, testLogger())

	if err := ch.Cancel(context.Background(), 123); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if runner.cmds[0] != "scancel 123" {
		t.Errorf("command = %q", runner.cmds[0])
	}
}
