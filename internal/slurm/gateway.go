package slurm

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/me/slurmproxy/pkg/model"
)

// GatewayOptions bounds every call the Gateway makes.
type GatewayOptions struct {
	Timeout     time.Duration // per attempt
	MaxRetries  int           // transport retries on the primary channel
	RetryDelay  time.Duration // initial backoff, doubled per attempt
	MaxInFlight int           // global concurrent-call cap, 0 = unlimited
}

// DefaultGatewayOptions returns the standard call budget.
func DefaultGatewayOptions() GatewayOptions {
	return GatewayOptions{
		Timeout:     30 * time.Second,
		MaxRetries:  3,
		RetryDelay:  time.Second,
		MaxInFlight: 8,
	}
}

// Gateway multiplexes job-control calls over a primary channel and an
// optional secondary fallback. Transport failures are retried with
// exponential backoff on the primary; once the budget is exhausted the
// secondary is attempted exactly once. Scheduler rejections pass through
// untouched. A shared semaphore caps in-flight calls across all callers.
type Gateway struct {
	primary   Channel
	secondary Channel
	opts      GatewayOptions
	sem       *semaphore
	logger    *slog.Logger
}

// NewGateway creates a Gateway. secondary may be nil.
func NewGateway(primary, secondary Channel, opts GatewayOptions, logger *slog.Logger) *Gateway {
	return &Gateway{
		primary:   primary,
		secondary: secondary,
		opts:      opts,
		sem:       newSemaphore(opts.MaxInFlight),
		logger:    logger.With("component", "gateway"),
	}
}

// Submit hands a job to the scheduler, optionally dependent on another job.
func (g *Gateway) Submit(ctx context.Context, spec SubmitSpec, dependsOn *model.JobID) (model.JobID, error) {
	var id model.JobID
	err := g.do(ctx, "submit", func(ctx context.Context, ch Channel) error {
		var err error
		id, err = ch.Submit(ctx, spec, dependsOn)
		return err
	})
	if err != nil {
		return model.BadJobID, err
	}
	return id, nil
}

// Query returns the scheduler's authoritative status for one job.
func (g *Gateway) Query(ctx context.Context, id model.JobID) (*model.JobStatus, error) {
	var status *model.JobStatus
	err := g.do(ctx, "query", func(ctx context.Context, ch Channel) error {
		var err error
		status, err = ch.Query(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}

// List returns the ids of the user's jobs started since the given time.
func (g *Gateway) List(ctx context.Context, user string, since time.Time) ([]model.JobID, error) {
	var ids []model.JobID
	err := g.do(ctx, "list", func(ctx context.Context, ch Channel) error {
		var err error
		ids, err = ch.List(ctx, user, since)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Cancel asks the scheduler to terminate a job.
func (g *Gateway) Cancel(ctx context.Context, id model.JobID) error {
	return g.do(ctx, "cancel", func(ctx context.Context, ch Channel) error {
		return ch.Cancel(ctx, id)
	})
}

// do runs one logical call under the in-flight cap and the retry/fallback
// policy. fn is invoked with a per-attempt timeout; only transport errors
// trigger another attempt.
func (g *Gateway) do(ctx context.Context, op string, fn func(context.Context, Channel) error) error {
	if !g.sem.acquire(ctx) {
		return &TransportError{Channel: g.primary.Name(), Op: op, Err: ctx.Err()}
	}
	defer g.sem.release()

	var lastErr error
	for attempt := 0; attempt <= g.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := g.opts.RetryDelay * time.Duration(math.Pow(2, float64(attempt-1)))
			g.logger.Debug("retrying after delay", "op", op, "attempt", attempt, "delay", delay)
			select {
			case <-ctx.Done():
				return &TransportError{Channel: g.primary.Name(), Op: op, Err: ctx.Err()}
			case <-time.After(delay):
			}
		}

		err := g.attempt(ctx, g.primary, fn)
		if err == nil {
			return nil
		}
		if !IsTransport(err) {
			return err
		}
		g.logger.Warn("transport failure on primary channel",
			"op", op, "channel", g.primary.Name(), "attempt", attempt, "error", err)
		lastErr = err
	}

	if g.secondary != nil {
		g.logger.Warn("primary channel exhausted, falling back",
			"op", op, "primary", g.primary.Name(), "secondary", g.secondary.Name())
		err := g.attempt(ctx, g.secondary, fn)
		if err == nil {
			return nil
		}
		if !IsTransport(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("all channels exhausted for %s: %w", op, lastErr)
}

func (g *Gateway) attempt(ctx context.Context, ch Channel, fn func(context.Context, Channel) error) error {
	actx := ctx
	if g.opts.Timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
		defer cancel()
	}
	return fn(actx, ch)
}
