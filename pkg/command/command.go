// Package command provides the single CommandRunner abstraction used
// to invoke external processes (the scheduler's scontrol/sinfo
// equivalents, fabric/GPU topology probes). It replaces ad-hoc
// os/exec calls with an explicit, constructor-injected dependency so
// tests substitute a fake runner instead of monkeypatching a subprocess
// module.
//
// Same timeout-bounded, context-cancellable os/exec.CommandContext
// invocation shape as a typical exec-based health checker, generalized
// from a boolean health result to a generic stdout/stderr/error result
// every caller needs.
package command

import (
	"bytes"
	"context"
	"math/rand"
	"os/exec"
	"time"

	"github.com/cyclecloud/azslurmd/pkg/errs"
)

// Result is the outcome of running one command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner runs external commands. The real implementation shells out
// via os/exec; tests use a fake that records invocations and returns
// canned results.
type Runner interface {
	// Run executes name with args, bounded by ctx's deadline, and
	// returns CommandFailed (wrapping the *exec.ExitError) on a
	// non-zero exit.
	Run(ctx context.Context, name string, args ...string) (Result, error)
}

// ChaosHook, when non-nil, is consulted before every real invocation;
// if it returns a non-nil error that error is returned instead of
// running the command. It exists purely to validate retry paths in
// tests and chaos-mode operation, and is never decorated onto
// production code paths implicitly: it is an explicit field set once
// at construction.
type ChaosHook func() error

// ExecRunner is the production Runner, backed by os/exec.
type ExecRunner struct {
	// Timeout bounds every invocation if the caller's context has no
	// earlier deadline.
	Timeout time.Duration
	Chaos   ChaosHook
}

// NewExecRunner returns an ExecRunner with the default 300s command
// timeout.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{Timeout: 300 * time.Second}
}

func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	if r.Chaos != nil {
		if err := r.Chaos(); err != nil {
			return Result{}, errs.Wrap(errs.Unavailable, "chaos mode fault injection", err)
		}
	}

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return res, nil
	}

	if runCtx.Err() == context.DeadlineExceeded {
		return res, errs.Wrap(errs.Timeout, name+" timed out", err)
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		res.ExitCode = exitErr.ExitCode()
		return res, errs.Wrap(errs.CommandFailed, name+" exited non-zero", err)
	}
	return res, errs.Wrap(errs.Unavailable, name+" failed to start", err)
}

// ChaosProbability returns a ChaosHook that fails with probability p
// (in [0,1]), matching original_source's SubprocessModuleWithChaosMode
// random-failure-injection test hook, ported to an explicit field
// instead of a decorator.
func ChaosProbability(p float64) ChaosHook {
	if p <= 0 {
		return nil
	}
	return func() error {
		if rand.Float64() < p {
			return errs.New(errs.Unavailable, "chaos mode injected failure")
		}
		return nil
	}
}
