package slurm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/me/slurmproxy/pkg/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeChannel scripts per-call results for gateway policy tests.
type fakeChannel struct {
	name string

	mu          sync.Mutex
	submitCalls int
	queryCalls  int
	submitErrs  []error // consumed per call; nil entry = success
	submitID    model.JobID
	queryErr    error
	queryStatus *model.JobStatus
	lastDepends *model.JobID
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Submit(ctx context.Context, spec SubmitSpec, dependsOn *model.JobID) (model.JobID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastDepends = dependsOn
	i := f.submitCalls
	f.submitCalls++
	if i < len(f.submitErrs) && f.submitErrs[i] != nil {
		return model.BadJobID, f.submitErrs[i]
	}
	return f.submitID, nil
}

func (f *fakeChannel) Query(ctx context.Context, id model.JobID) (*model.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryCalls++
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if f.queryStatus != nil {
		return f.queryStatus, nil
	}
	return &model.JobStatus{JobID: id, RawState: "RUNNING"}, nil
}

func (f *fakeChannel) List(ctx context.Context, user string, since time.Time) ([]model.JobID, error) {
	return nil, nil
}

func (f *fakeChannel) Cancel(ctx context.Context, id model.JobID) error {
	return nil
}

func transportErr(ch string) error {
	return &TransportError{Channel: ch, Op: "submit", Err: errors.New("connection refused")}
}

func fastOpts() GatewayOptions {
	return GatewayOptions{
		Timeout:     time.Second,
		MaxRetries:  2,
		RetryDelay:  time.Millisecond,
		MaxInFlight: 4,
	}
}

func TestGatewaySubmitRetriesTransportThenSucceeds(t *testing.T) {
	primary := &fakeChannel{name: "rest", submitID: 42,
		submitErrs: []error{transportErr("rest"), nil}}
	g := NewGateway(primary, nil, fastOpts(), testLogger())

	id, err := g.Submit(context.Background(), SubmitSpec{JobName: "j"}, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id != 42 {
		t.Errorf("id = %d, want 42", id)
	}
	if primary.submitCalls != 2 {
		t.Errorf("submitCalls = %d, want 2", primary.submitCalls)
	}
}

func TestGatewayFallsBackAfterRetryBudget(t *testing.T) {
	primary := &fakeChannel{name: "rest",
		submitErrs: []error{transportErr("rest"), transportErr("rest"), transportErr("rest")}}
	secondary := &fakeChannel{name: "ssh", submitID: 7}
	g := NewGateway(primary, secondary, fastOpts(), testLogger())

	id, err := g.Submit(context.Background(), SubmitSpec{JobName: "j"}, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id != 7 {
		t.Errorf("id = %d, want 7 (from secondary)", id)
	}
	if primary.submitCalls != 3 {
		t.Errorf("primary attempts = %d, want 3 (1 + 2 retries)", primary.submitCalls)
	}
	if secondary.submitCalls != 1 {
		t.Errorf("secondary attempts = %d, want exactly 1", secondary.submitCalls)
	}
}

func TestGatewayRejectionNeverRetriesOrFallsBack(t *testing.T) {
	rejection := &SchedulerError{Channel: "rest", Op: "submit", Code: 400, Message: "invalid partition"}
	primary := &fakeChannel{name: "rest", submitErrs: []error{rejection}}
	secondary := &fakeChannel{name: "ssh", submitID: 7}
	g := NewGateway(primary, secondary, fastOpts(), testLogger())

	_, err := g.Submit(context.Background(), SubmitSpec{JobName: "j"}, nil)
	if !IsRejection(err) {
		t.Fatalf("want scheduler rejection, got %v", err)
	}
	if primary.submitCalls != 1 {
		t.Errorf("primary attempts = %d, want 1", primary.submitCalls)
	}
	if secondary.submitCalls != 0 {
		t.Errorf("secondary attempts = %d, want 0", secondary.submitCalls)
	}
}

func TestGatewayExhaustionWithoutSecondary(t *testing.T) {
	primary := &fakeChannel{name: "rest",
		submitErrs: []error{transportErr("rest"), transportErr("rest"), transportErr("rest")}}
	g := NewGateway(primary, nil, fastOpts(), testLogger())

	_, err := g.Submit(context.Background(), SubmitSpec{JobName: "j"}, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsTransport(err) {
		t.Errorf("exhaustion should classify as transport, got %v", err)
	}
}

func TestGatewayQueryNotFoundPassesThrough(t *testing.T) {
	primary := &fakeChannel{name: "rest", queryErr: ErrJobNotFound}
	secondary := &fakeChannel{name: "ssh"}
	g := NewGateway(primary, secondary, fastOpts(), testLogger())

	_, err := g.Query(context.Background(), 101)
	if !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("want ErrJobNotFound, got %v", err)
	}
	if primary.queryCalls != 1 {
		t.Errorf("queryCalls = %d, want 1 (not found is not retryable)", primary.queryCalls)
	}
	if secondary.queryCalls != 0 {
		t.Errorf("secondary queried %d times, want 0", secondary.queryCalls)
	}
}

func TestGatewayDependencyPassedThrough(t *testing.T) {
	primary := &fakeChannel{name: "rest", submitID: 101}
	g := NewGateway(primary, nil, fastOpts(), testLogger())

	dep := model.JobID(100)
	if _, err := g.Submit(context.Background(), SubmitSpec{JobName: "main"}, &dep); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if primary.lastDepends == nil || *primary.lastDepends != 100 {
		t.Errorf("dependsOn = %v, want 100", primary.lastDepends)
	}
}

func TestGatewayInFlightCap(t *testing.T) {
	opts := fastOpts()
	opts.MaxInFlight = 2

	var mu sync.Mutex
	inFlight, peak := 0, 0

	ch := &countingChannel{onQuery: func() {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
	}}
	g := NewGateway(ch, nil, opts, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			g.Query(context.Background(), model.JobID(i))
		}(i)
	}
	wg.Wait()

	if peak > 2 {
		t.Errorf("peak in-flight = %d, want <= 2", peak)
	}
}

type countingChannel struct {
	onQuery func()
}

func (c *countingChannel) Name() string { return "counting" }

func (c *countingChannel) Submit(ctx context.Context, spec SubmitSpec, dependsOn *model.JobID) (model.JobID, error) {
	return 1, nil
}

func (c *countingChannel) Query(ctx context.Context, id model.JobID) (*model.JobStatus, error) {
	c.onQuery()
	return &model.JobStatus{JobID: id, RawState: "RUNNING"}, nil
}

func (c *countingChannel) List(ctx context.Context, user string, since time.Time) ([]model.JobID, error) {
	return nil, nil
}

func (c *countingChannel) Cancel(ctx context.Context, id model.JobID) error { return nil }

func TestTransportErrorClassification(t *testing.T) {
	te := &TransportError{Channel: "rest", Op: "query", Err: errors.New("timeout")}
	se := &SchedulerError{Channel: "rest", Op: "submit", Message: "bad spec"}

	if !IsTransport(te) || IsTransport(se) {
		t.Error("IsTransport misclassified")
	}
	if !IsRejection(se) || IsRejection(te) {
		t.Error("IsRejection misclassified")
	}
	// Wrapped transport errors keep their class.
	wrapped := fmt.Errorf("all channels exhausted: %w", te)
	if !IsTransport(wrapped) {
		t.Error("wrapped transport error should classify as transport")
	}
}
