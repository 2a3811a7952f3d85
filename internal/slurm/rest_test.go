package slurm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/me/slurmproxy/pkg/model"
)

func testRESTChannel(t *testing.T, handler http.HandlerFunc) *RESTChannel {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewRESTChannel(RESTConfig{
		BaseURL:       srv.URL,
		ParserVersion: "0.0.42",
		Username:      "areynolds",
		Token:         "jwt-token",
	}, testLogger())
}

func TestRESTSubmit(t *testing.T) {
	var gotPath, gotToken string
	var gotBody map[string]any

	ch := testRESTChannel(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get("X-SLURM-USER-TOKEN")
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]any{"job_id": 101})
	})

	dep := model.JobID(100)
	id, err := ch.Submit(context.Background(), SubmitSpec{
		Username:     "areynolds",
		JobName:      "hpc-proxy-main",
		Script:       "echo hello",
		Cwd:          "/home/areynolds",
		Partition:    "queue1",
		CPUsPerTask:  2,
		MemMB:        2000,
		TimeLimitMin: 60,
		Stdout:       "/data/out/out.txt",
		Stderr:       "/data/err/err.txt",
	}, &dep)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id != 101 {
		t.Errorf("id = %d, want 101", id)
	}
	if gotPath != "/slurm/v0.0.42/job/submit" {
		t.Errorf("path = %q", gotPath)
	}
	if gotToken != "jwt-token" {
		t.Errorf("token header = %q", gotToken)
	}

	job := gotBody["job"].(map[string]any)
	if job["dependency"] != "afterok:100" {
		t.Errorf("dependency = %v, want afterok:100", job["dependency"])
	}
	if job["partition"] != "queue1" {
		t.Errorf("partition = %v", job["partition"])
	}
	mem := job["memory_per_cpu"].(map[string]any)
	if mem["set"] != true || mem["number"].(float64) != 2000 {
		t.Errorf("memory_per_cpu = %v", mem)
	}
	env := job["environment"].([]any)
	if len(env) != 1 || env[0] != model.DefaultEnvironment {
		t.Errorf("environment = %v", env)
	}
}

func TestRESTSubmitSchedulerRejection(t *testing.T) {
	ch := testRESTChannel(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"job_id": 0,
			"errors": []map[string]any{{"description": "invalid partition", "error_number": 2015}},
		})
	})

	_, err := ch.Submit(context.Background(), SubmitSpec{JobName: "j"}, nil)
	if !IsRejection(err) {
		t.Fatalf("want rejection, got %v", err)
	}
}

func TestRESTSubmitBadRequestIsRejection(t *testing.T) {
	ch := testRESTChannel(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown field", http.StatusBadRequest)
	})

	_, err := ch.Submit(context.Background(), SubmitSpec{JobName: "j"}, nil)
	if !IsRejection(err) {
		t.Fatalf("400 should be a rejection, got %v", err)
	}
}

func TestRESTServerErrorIsTransport(t *testing.T) {
	ch := testRESTChannel(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slurmrestd overwhelmed", http.StatusBadGateway)
	})

	_, err := ch.Submit(context.Background(), SubmitSpec{JobName: "j"}, nil)
	if !IsTransport(err) {
		t.Fatalf("5xx should be transport, got %v", err)
	}
}

func TestRESTQuery(t *testing.T) {
	ch := testRESTChannel(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/slurmdb/v0.0.42/job/123" {
			t.Errorf("path = %q", r.URL.Path)
		}
		fmt.Fprint(w, `{"jobs":[{
			"job_id": 123,
			"name": "abcd1234",
			"user": "username",
			"state": {"current": ["COMPLETED"]},
			"time": {"start": 1744621066, "end": 1744628444, "elapsed": 7378}
		}]}`)
	})

	status, err := ch.Query(context.Background(), 123)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if status.JobID != 123 || status.RawState != "COMPLETED" || status.User != "username" {
		t.Errorf("status = %+v", status)
	}
	if status.Elapsed == "" {
		t.Error("elapsed not populated")
	}
}

func TestRESTQueryNotFound(t *testing.T) {
	ch := testRESTChannel(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"jobs":[]}`)
	})
	if _, err := ch.Query(context.Background(), 999); err != ErrJobNotFound {
		t.Fatalf("want ErrJobNotFound, got %v", err)
	}
}

func TestRESTQueryMalformedResponseIsTransport(t *testing.T) {
	ch := testRESTChannel(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"jobs": [`)
	})
	_, err := ch.Query(context.Background(), 123)
	if !IsTransport(err) {
		t.Fatalf("malformed body should be transport, got %v", err)
	}
}

func TestRESTList(t *testing.T) {
	ch := testRESTChannel(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("users"); got != "username" {
			t.Errorf("users = %q", got)
		}
		fmt.Fprint(w, `{"jobs":[{"job_id": 1}, {"job_id": 2}]}`)
	})

	ids, err := ch.List(context.Background(), "username", testTime(t))
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Errorf("ids = %v", ids)
	}
}
