package cli

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/me/slurmproxy/internal/config"
	"github.com/me/slurmproxy/internal/normalize"
	"github.com/me/slurmproxy/internal/server"
	"github.com/me/slurmproxy/internal/store"
	"github.com/me/slurmproxy/pkg/model"
)

type stubPipeline struct {
	store store.Store
}

func (s *stubPipeline) Run(ctx context.Context, task *model.Task) (*model.Monitor, error) {
	m := &model.Monitor{
		TaskUUID:  task.UUID,
		PrepJobID: 100,
		MainJobID: 101,
		State:     model.JobStatePending,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.InsertTaskAndMonitor(ctx, task, m); err != nil {
		return nil, err
	}
	return m, nil
}

type stubGateway struct{}

func (stubGateway) Query(ctx context.Context, id model.JobID) (*model.JobStatus, error) {
	return &model.JobStatus{JobID: id, RawState: "RUNNING"}, nil
}

func (stubGateway) Cancel(ctx context.Context, id model.JobID) error { return nil }

// startTestServer starts a server with an in-memory SQLite store and returns the URL.
func startTestServer(t *testing.T) string {
	t.Helper()
	srvLogger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.NewSQLiteStore(":memory:", srvLogger)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	srv := server.New(config.DefaultServerConfig(), st, normalize.NewRegistry(),
		&stubPipeline{store: st}, stubGateway{}, srvLogger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func runCLI(t *testing.T, serverURL string, args ...string) error {
	t.Helper()
	root := NewRootCmd()
	root.SetArgs(append(args, "--server", serverURL))
	return root.Execute()
}

func writeTaskFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const taskYAML = `
name: echo_hello_world
username: areynolds
cwd: /home/areynolds
dirs:
  parent: /data/j
  input: /data/j/in
  output: /data/j/out
  error: /data/j/err
resource_spec:
  job_name: hello
  output: out.txt
  error: err.txt
  mem: 1000
  cpus_per_task: 1
  nodes: 1
  ntasks_per_node: 1
  partition: queue1
  time: 30
`

func TestReadTaskFileYAML(t *testing.T) {
	path := writeTaskFile(t, "task.yaml", taskYAML)
	task, err := readTaskFile(path)
	if err != nil {
		t.Fatalf("readTaskFile: %v", err)
	}
	if task.Name != "echo_hello_world" || task.Username != "areynolds" {
		t.Errorf("task = %+v", task)
	}
	if task.Resources.MemMB != 1000 || task.Resources.Partition != "queue1" {
		t.Errorf("resources = %+v", task.Resources)
	}
	if task.Dirs.Input != "/data/j/in" {
		t.Errorf("dirs = %+v", task.Dirs)
	}
}

func TestReadTaskFileJSON(t *testing.T) {
	req := normalize.TaskRequest{Name: "generic", Username: "u", Cwd: "/tmp", Cmd: "ls"}
	data, _ := json.Marshal(req)
	path := writeTaskFile(t, "task.json", string(data))

	task, err := readTaskFile(path)
	if err != nil {
		t.Fatalf("readTaskFile: %v", err)
	}
	if task.Name != "generic" || task.Cmd != "ls" {
		t.Errorf("task = %+v", task)
	}
}

func TestReadTaskFileMissing(t *testing.T) {
	if _, err := readTaskFile("/no/such/task.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestSubmitStatusListCancel(t *testing.T) {
	url := startTestServer(t)
	path := writeTaskFile(t, "task.yaml", taskYAML)

	if err := runCLI(t, url, "submit", path, "--uuid", "U1"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := runCLI(t, url, "status", "101"); err != nil {
		t.Fatalf("status: %v", err)
	}
	if err := runCLI(t, url, "status", "--task", "U1"); err != nil {
		t.Fatalf("status by task: %v", err)
	}
	if err := runCLI(t, url, "list"); err != nil {
		t.Fatalf("list: %v", err)
	}
	if err := runCLI(t, url, "list", "--state", "PENDING"); err != nil {
		t.Fatalf("list by state: %v", err)
	}
	if err := runCLI(t, url, "cancel", "101"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	// The record is gone; status now fails.
	if err := runCLI(t, url, "status", "101"); err == nil {
		t.Fatal("status after cancel should fail")
	}
}

func TestSubmitDuplicateFails(t *testing.T) {
	url := startTestServer(t)
	path := writeTaskFile(t, "task.yaml", taskYAML)

	if err := runCLI(t, url, "submit", path, "--uuid", "U1"); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if err := runCLI(t, url, "submit", path, "--uuid", "U1"); err == nil {
		t.Fatal("duplicate submit should fail")
	}
}

func TestTemplatesCommand(t *testing.T) {
	url := startTestServer(t)
	if err := runCLI(t, url, "templates"); err != nil {
		t.Fatalf("templates: %v", err)
	}
}
