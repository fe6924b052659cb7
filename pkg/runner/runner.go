// Package runner executes one job's entry script as a subordinate process
// under the queue's limits: a hard wall-clock timeout, a capped combined
// stdout+stderr capture, and a best-effort command policy.
//
// Beyond the timeout and the capture cap, no process isolation is claimed;
// the host platform's own sandboxing is the trust boundary.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/runveil/codeq/pkg/queue"
)

// Outcome is the terminal result of one execution attempt. Job faults are
// reported inside the outcome, never as Go errors: the scheduler maps every
// outcome to a terminal transition.
type Outcome struct {
	// Status is StatusCompleted or StatusFailed.
	Status queue.Status

	// ExitCode is the subordinate process exit status; nil when no process
	// produced one (missing script, blocked command, launch failure).
	ExitCode *int

	// TimedOut marks failures caused by the wall-clock limit.
	TimedOut bool

	// Detail describes the failure; empty on success.
	Detail string
}

// Runner runs a job to a terminal outcome.
type Runner interface {
	Execute(ctx context.Context, job queue.Job) Outcome
}

// Safe is the production Runner. It validates the code package, scans the
// entry script against the command policy, and launches `sh <entry>` in the
// code folder inside its own process group.
type Safe struct {
	entry     string
	timeout   time.Duration
	maxOutput int64
	policy    *Policy
}

var _ Runner = (*Safe)(nil)

// NewSafe builds a runner from the queue configuration. It fails only on an
// invalid command pattern.
func NewSafe(cfg queue.Config) (*Safe, error) {
	cfg = cfg.WithDefaults()
	policy, err := NewPolicy(cfg.CommandAllowlist, cfg.CommandDenylist)
	if err != nil {
		return nil, err
	}
	return &Safe{
		entry:     cfg.EntryScript,
		timeout:   cfg.JobTimeout,
		maxOutput: cfg.MaxOutputSize,
		policy:    policy,
	}, nil
}

// Execute runs the job's entry script. The job's OutputLocation and
// LogsLocation must already be stamped (the scheduler does this on the
// running edge). Logs persist whatever the process managed to say, and
// partial output stays readable, regardless of the outcome.
func (r *Safe) Execute(ctx context.Context, job queue.Job) Outcome {
	entryPath := filepath.Join(job.CodeLocation, r.entry)
	if _, err := os.Stat(entryPath); err != nil {
		return fail(nil, "entry script %q not found in code folder", r.entry)
	}

	if r.policy.Restricted() {
		if err := r.policy.CheckScript(entryPath); err != nil {
			return fail(nil, "%v", err)
		}
	}

	outputDir := job.OutputLocation
	if outputDir == "" {
		return fail(nil, "job has no output location")
	}
	if abs, err := filepath.Abs(outputDir); err == nil {
		outputDir = abs
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fail(nil, "create output dir: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(job.LogsLocation), 0o755); err != nil {
		return fail(nil, "create logs dir: %v", err)
	}
	logFile, err := os.Create(job.LogsLocation)
	if err != nil {
		return fail(nil, "create log file: %v", err)
	}
	defer func() { _ = logFile.Close() }()
	capture := newCappedWriter(logFile, r.maxOutput)

	cmd := exec.Command("sh", r.entry)
	cmd.Dir = job.CodeLocation
	cmd.Stdout = capture
	cmd.Stderr = capture
	cmd.Env = jobEnv(job, outputDir)
	// Own process group, so a timeout can take the whole tree down.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return fail(nil, "launch entry script: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var deadline <-chan time.Time
	if r.timeout > 0 {
		timer := time.NewTimer(r.timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	var out Outcome
	select {
	case waitErr := <-done:
		out = finish(cmd, waitErr)
	case <-deadline:
		killTree(cmd)
		<-done
		code := cmd.ProcessState.ExitCode()
		out = Outcome{
			Status:   queue.StatusFailed,
			ExitCode: &code,
			TimedOut: true,
			Detail:   fmt.Sprintf("timed out after %s", r.timeout),
		}
	case <-ctx.Done():
		killTree(cmd)
		<-done
		code := cmd.ProcessState.ExitCode()
		out = Outcome{
			Status:   queue.StatusFailed,
			ExitCode: &code,
			Detail:   fmt.Sprintf("execution aborted: %v", ctx.Err()),
		}
	}

	if n := capture.Dropped(); n > 0 {
		_, _ = fmt.Fprintf(logFile, "\n[output truncated: %d bytes dropped]\n", n)
	}
	return out
}

// finish maps a completed wait to an outcome, preserving the exit code.
func finish(cmd *exec.Cmd, waitErr error) Outcome {
	code := cmd.ProcessState.ExitCode()
	if waitErr == nil {
		return Outcome{Status: queue.StatusCompleted, ExitCode: &code}
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		return Outcome{
			Status:   queue.StatusFailed,
			ExitCode: &code,
			Detail:   fmt.Sprintf("entry script exited with code %d", code),
		}
	}
	return Outcome{
		Status: queue.StatusFailed,
		Detail: fmt.Sprintf("wait on entry script: %v", waitErr),
	}
}

// killTree force-terminates the process group. The negative pid addresses
// the whole group created by Setpgid.
func killTree(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}

func fail(code *int, format string, args ...any) Outcome {
	return Outcome{
		Status:   queue.StatusFailed,
		ExitCode: code,
		Detail:   fmt.Sprintf(format, args...),
	}
}
