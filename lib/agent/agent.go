// Copyright 2026 The Steward Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"
)

// DefaultBinary is the agent executable resolved from PATH when a
// configuration does not name one.
const DefaultBinary = "claude"

// toolPath is prepended to the inherited PATH so an agent launched from
// a bare service environment can still find git, language toolchains,
// and its own helper binaries.
const toolPath = "/opt/homebrew/bin:/usr/local/bin:/usr/bin:/bin:"

// Invocation describes one agent run.
type Invocation struct {
	// Instruction is the complete prompt handed to the agent.
	Instruction string

	// MaxTurns bounds the agent's tool-use loop.
	MaxTurns int

	// Timeout is the wall-clock limit for the run. Zero means no limit.
	Timeout time.Duration

	// WorkingDirectory is the repository checkout the agent operates in.
	WorkingDirectory string
}

// Result captures how an agent run ended.
type Result struct {
	// ExitCode is the agent's exit status, -1 when the run was killed
	// on timeout.
	ExitCode int

	// Stdout and Stderr hold everything the agent wrote, including
	// partial output from runs that timed out.
	Stdout []byte
	Stderr []byte

	// TimedOut reports whether the run was killed for exceeding
	// Invocation.Timeout.
	TimedOut bool

	// Duration is the wall-clock time the run took.
	Duration time.Duration
}

// Runner executes one agent invocation to completion.
//
// Run returns an error only when the agent could not be executed at
// all. An agent that ran and failed — non-zero exit, timeout kill — is
// reported through the Result with a nil error so the caller can treat
// it as a job outcome rather than a fault in the service.
type Runner interface {
	Run(ctx context.Context, invocation Invocation) (Result, error)
}

// CLI runs the Claude Code command-line binary in non-interactive mode.
//
// Each call is one complete agent session: the instruction goes in via
// -p, the agent works in the given directory until it finishes or hits
// its turn or time budget, and the captured output comes back in the
// Result.
type CLI struct {
	binary string
}

// NewCLI returns a runner invoking the given binary, which may be a
// bare name resolved from PATH or an absolute path. An empty string
// selects [DefaultBinary].
func NewCLI(binary string) *CLI {
	if binary == "" {
		binary = DefaultBinary
	}
	return &CLI{binary: binary}
}

// Run invokes the agent and waits for it to finish. The returned error
// is non-nil only when the binary could not be run or ctx was cancelled
// from above; exit codes and timeouts are outcomes recorded in the
// Result.
func (c *CLI) Run(ctx context.Context, invocation Invocation) (Result, error) {
	runCtx := ctx
	if invocation.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, invocation.Timeout)
		defer cancel()
	}

	command := exec.CommandContext(runCtx, c.binary,
		"--dangerously-skip-permissions",
		"--max-turns", strconv.Itoa(invocation.MaxTurns),
		"-p", invocation.Instruction)
	command.Dir = invocation.WorkingDirectory
	command.Env = subprocessEnv()
	// Agent tool calls can leave children sharing our pipes; don't let
	// an orphan pin Wait open after the agent itself is gone.
	command.WaitDelay = 10 * time.Second

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	start := time.Now() //nolint:realclock // wall time of a real subprocess
	runErr := command.Run()
	result := Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start), //nolint:realclock // wall time of a real subprocess
	}
	if runErr == nil {
		return result, nil
	}

	// A deadline kill is an outcome; cancellation from above is not.
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		result.ExitCode = -1
		return result, nil
	}
	if ctx.Err() != nil {
		return result, fmt.Errorf("agent: run cancelled: %w", ctx.Err())
	}

	var exitError *exec.ExitError
	if errors.As(runErr, &exitError) {
		result.ExitCode = exitError.ExitCode()
		return result, nil
	}
	return result, fmt.Errorf("agent: running %s: %w", c.binary, runErr)
}

// subprocessEnv is the service environment with the usual tool
// directories restored to the front of PATH. Later entries win, so the
// appended PATH overrides the inherited one.
func subprocessEnv() []string {
	return append(os.Environ(), "PATH="+toolPath+os.Getenv("PATH"))
}
