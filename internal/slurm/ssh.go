package slurm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/me/slurmproxy/pkg/model"
)

// Runner executes a shell command on the scheduler's login host. The
// concrete implementation is an SSH session; tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, cmd string) (stdout, stderr string, err error)
}

// errRemoteExit marks a command that ran remotely but exited non-zero.
// It separates scheduler rejections from connection faults.
type errRemoteExit struct {
	code int
}

func (e *errRemoteExit) Error() string {
	return fmt.Sprintf("remote command exited with status %d", e.code)
}

// SSHRunnerConfig configures the SSH connection to the login host.
type SSHRunnerConfig struct {
	Host           string // host[:port], port 22 assumed
	User           string
	PrivateKeyPath string
}

// SSHRunner runs commands over a lazily-dialed, reused SSH connection.
type SSHRunner struct {
	config SSHRunnerConfig
	logger *slog.Logger

	mu     sync.Mutex
	client *ssh.Client
}

// NewSSHRunner creates a runner; the connection is established on first use.
func NewSSHRunner(cfg SSHRunnerConfig, logger *slog.Logger) *SSHRunner {
	return &SSHRunner{
		config: cfg,
		logger: logger.With("component", "ssh-runner"),
	}
}

// connect returns the live client, dialing if needed. Callers hold no lock
// across Run; a broken connection is dropped so the next call redials.
func (r *SSHRunner) connect() (*ssh.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		return r.client, nil
	}

	key, err := os.ReadFile(r.config.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	addr := r.config.Host
	if !strings.Contains(addr, ":") {
		addr += ":22"
	}
	client, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User:            r.config.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	r.logger.Info("ssh connection established", "host", addr, "user", r.config.User)
	r.client = client
	return client, nil
}

func (r *SSHRunner) drop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		r.client.Close()
		r.client = nil
	}
}

// Run implements Runner.
func (r *SSHRunner) Run(ctx context.Context, cmd string) (string, string, error) {
	client, err := r.connect()
	if err != nil {
		return "", "", err
	}

	session, err := client.NewSession()
	if err != nil {
		r.drop()
		return "", "", fmt.Errorf("new session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	r.logger.Debug("exec", "cmd", cmd)

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case <-ctx.Done():
		session.Close()
		r.drop()
		return stdout.String(), stderr.String(), ctx.Err()
	case err := <-done:
		if err != nil {
			var exitErr *ssh.ExitError
			if errors.As(err, &exitErr) {
				return stdout.String(), stderr.String(), &errRemoteExit{code: exitErr.ExitStatus()}
			}
			r.drop()
			return stdout.String(), stderr.String(), err
		}
		return stdout.String(), stderr.String(), nil
	}
}

// SSHChannel is the legacy remote-command channel: it drives sbatch, sacct
// and scancel on the login host through a Runner.
type SSHChannel struct {
	runner Runner
	logger *slog.Logger
}

// NewSSHChannel creates the channel over the given runner.
func NewSSHChannel(runner Runner, logger *slog.Logger) *SSHChannel {
	return &SSHChannel{
		runner: runner,
		logger: logger.With("component", "slurm-ssh"),
	}
}

// Name implements Channel.
func (c *SSHChannel) Name() string { return "ssh" }

// sbatchCmd builds the sbatch command line for a spec. --parsable makes the
// job id the only thing written to stdout.
func sbatchCmd(spec SubmitSpec, dependsOn *model.JobID) string {
	env := spec.Environment
	if env == "" {
		env = model.DefaultEnvironment
	}
	comps := []string{
		"sbatch",
		"--parsable",
		fmt.Sprintf("--job-name=%s", spec.JobName),
		fmt.Sprintf("--output=%s", spec.Stdout),
		fmt.Sprintf("--error=%s", spec.Stderr),
		fmt.Sprintf("--chdir=%s", spec.Cwd),
		fmt.Sprintf("--export=%s", env),
	}
	if spec.Partition != "" {
		comps = append(comps, fmt.Sprintf("--partition=%s", spec.Partition))
	}
	if spec.Nodes > 0 {
		comps = append(comps, fmt.Sprintf("--nodes=%d", spec.Nodes))
	}
	if spec.MemMB > 0 {
		comps = append(comps, fmt.Sprintf("--mem=%d", spec.MemMB))
	}
	if spec.CPUsPerTask > 0 {
		comps = append(comps, fmt.Sprintf("--cpus-per-task=%d", spec.CPUsPerTask))
	}
	if spec.NTasksPerNode > 0 {
		comps = append(comps, fmt.Sprintf("--ntasks-per-node=%d", spec.NTasksPerNode))
	}
	if spec.TimeLimitMin > 0 {
		comps = append(comps, fmt.Sprintf("--time=%d", spec.TimeLimitMin))
	}
	if dependsOn != nil {
		comps = append(comps, fmt.Sprintf("--dependency=afterok:%d", *dependsOn))
	}
	comps = append(comps, fmt.Sprintf("--wrap='%s'", spec.Script))
	return strings.Join(comps, " ")
}

// Submit implements Channel.
func (c *SSHChannel) Submit(ctx context.Context, spec SubmitSpec, dependsOn *model.JobID) (model.JobID, error) {
	cmd := sbatchCmd(spec, dependsOn)
	stdout, stderr, err := c.runner.Run(ctx, cmd)
	if err != nil {
		var exit *errRemoteExit
		if errors.As(err, &exit) {
			return model.BadJobID, &SchedulerError{Channel: c.Name(), Op: "submit",
				Code: exit.code, Message: strings.TrimSpace(stderr)}
		}
		return model.BadJobID, &TransportError{Channel: c.Name(), Op: "submit", Err: err}
	}
	if s := strings.TrimSpace(stderr); s != "" {
		return model.BadJobID, &SchedulerError{Channel: c.Name(), Op: "submit", Message: s}
	}

	id, err := strconv.ParseInt(strings.TrimSpace(stdout), 10, 64)
	if err != nil {
		return model.BadJobID, &TransportError{Channel: c.Name(), Op: "submit",
			Err: fmt.Errorf("unparsable sbatch output %q: %w", stdout, err)}
	}
	c.logger.Debug("job submitted", "job_id", id, "name", spec.JobName)
	return model.JobID(id), nil
}

const sacctFormat = "--format=JobID,Jobname%-128,state,User,partition,time,start,end,elapsed --noheader --parsable2"

// Query implements Channel.
func (c *SSHChannel) Query(ctx context.Context, id model.JobID) (*model.JobStatus, error) {
	cmd := fmt.Sprintf("sacct -j %d -X %s", id, sacctFormat)
	stdout, _, err := c.runner.Run(ctx, cmd)
	if err != nil {
		var exit *errRemoteExit
		if errors.As(err, &exit) {
			return nil, &SchedulerError{Channel: c.Name(), Op: "query", Code: exit.code,
				Message: fmt.Sprintf("sacct exited %d", exit.code)}
		}
		return nil, &TransportError{Channel: c.Name(), Op: "query", Err: err}
	}

	line := strings.TrimSpace(stdout)
	if line == "" {
		return nil, ErrJobNotFound
	}
	status, err := parseSacctLine(strings.Split(line, "\n")[0])
	if err != nil {
		return nil, &TransportError{Channel: c.Name(), Op: "query", Err: err}
	}
	return status, nil
}

// parseSacctLine parses one --parsable2 sacct record.
func parseSacctLine(line string) (*model.JobStatus, error) {
	fields := strings.Split(line, "|")
	if len(fields) < 9 {
		return nil, fmt.Errorf("unparsable sacct record %q", line)
	}
	id, err := strconv.ParseInt(strings.SplitN(fields[0], ".", 2)[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("unparsable job id in sacct record %q", line)
	}
	// CANCELLED shows as "CANCELLED by <uid>".
	rawState := fields[2]
	if f := strings.Fields(rawState); len(f) > 0 {
		rawState = f[0]
	}
	status := &model.JobStatus{
		JobID:    model.JobID(id),
		Name:     fields[1],
		RawState: rawState,
		User:     fields[3],
		Elapsed:  fields[8],
	}
	if t, err := time.Parse("2006-01-02T15:04:05", fields[6]); err == nil {
		status.Start = t
	}
	if t, err := time.Parse("2006-01-02T15:04:05", fields[7]); err == nil {
		status.End = t
	}
	return status, nil
}

// List implements Channel.
func (c *SSHChannel) List(ctx context.Context, user string, since time.Time) ([]model.JobID, error) {
	cmd := fmt.Sprintf("sacct -u %s -S %s -X --format=JobID --noheader --parsable2",
		user, since.Format("2006-01-02T15:04:05"))
	stdout, _, err := c.runner.Run(ctx, cmd)
	if err != nil {
		var exit *errRemoteExit
		if errors.As(err, &exit) {
			return nil, &SchedulerError{Channel: c.Name(), Op: "list", Code: exit.code,
				Message: fmt.Sprintf("sacct exited %d", exit.code)}
		}
		return nil, &TransportError{Channel: c.Name(), Op: "list", Err: err}
	}

	var ids []model.JobID
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		id, err := strconv.ParseInt(strings.SplitN(line, ".", 2)[0], 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, model.JobID(id))
	}
	return ids, nil
}

// Cancel implements Channel.
func (c *SSHChannel) Cancel(ctx context.Context, id model.JobID) error {
	_, stderr, err := c.runner.Run(ctx, fmt.Sprintf("scancel %d", id))
	if err != nil {
		var exit *errRemoteExit
		if errors.As(err, &exit) {
			return &SchedulerError{Channel: c.Name(), Op: "cancel", Code: exit.code,
				Message: strings.TrimSpace(stderr)}
		}
		return &TransportError{Channel: c.Name(), Op: "cancel", Err: err}
	}
	return nil
}
