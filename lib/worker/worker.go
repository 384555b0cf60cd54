// Copyright 2026 The Steward Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"github.com/steward-works/steward/lib/agent"
	"github.com/steward-works/steward/lib/clock"
	"github.com/steward-works/steward/lib/queue"
	"github.com/steward-works/steward/lib/transcript"
)

// Defaults for the tunable fields of Config.
const (
	DefaultPollInterval    = 5 * time.Second
	DefaultCloneTimeout    = 5 * time.Minute
	DefaultFetchTimeout    = 2 * time.Minute
	DefaultCheckoutTimeout = 30 * time.Second
	DefaultPullTimeout     = 2 * time.Minute
	DefaultJobTimeout      = 30 * time.Minute
	DefaultMaxTurns        = 100
	DefaultAPITimeout      = 30 * time.Second
)

// Config carries the worker's collaborators and tuning. Every
// collaborator field is required; zero tunables take the defaults.
type Config struct {
	Store       *queue.Store
	Repos       RepoResolver
	VCS         VersionControl
	Host        CodeHost
	Agent       agent.Runner
	Transcripts *transcript.Archive
	Clock       clock.Clock
	Logger      *slog.Logger

	// PollInterval is the idle sleep between queue checks.
	PollInterval time.Duration

	// CloneTimeout bounds materializing a missing working copy.
	CloneTimeout time.Duration

	// FetchTimeout, CheckoutTimeout, and PullTimeout bound the branch
	// synchronization steps individually.
	FetchTimeout    time.Duration
	CheckoutTimeout time.Duration
	PullTimeout     time.Duration

	// JobTimeout is the agent's wall-clock budget per job.
	JobTimeout time.Duration

	// MaxTurns is the agent's tool-use budget per job.
	MaxTurns int

	// APITimeout bounds each code-host call (notifications and review
	// text fetches).
	APITimeout time.Duration
}

// Worker drains the job queue sequentially. Construct with New, drive
// with Run.
type Worker struct {
	cfg Config
}

// New validates the configuration and applies defaults.
func New(cfg Config) (*Worker, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("worker: Store is required")
	}
	if cfg.Repos == nil {
		return nil, fmt.Errorf("worker: Repos is required")
	}
	if cfg.VCS == nil {
		return nil, fmt.Errorf("worker: VCS is required")
	}
	if cfg.Host == nil {
		return nil, fmt.Errorf("worker: Host is required")
	}
	if cfg.Agent == nil {
		return nil, fmt.Errorf("worker: Agent is required")
	}
	if cfg.Transcripts == nil {
		return nil, fmt.Errorf("worker: Transcripts is required")
	}
	if cfg.Clock == nil {
		return nil, fmt.Errorf("worker: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("worker: Logger is required")
	}

	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.CloneTimeout <= 0 {
		cfg.CloneTimeout = DefaultCloneTimeout
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.CheckoutTimeout <= 0 {
		cfg.CheckoutTimeout = DefaultCheckoutTimeout
	}
	if cfg.PullTimeout <= 0 {
		cfg.PullTimeout = DefaultPullTimeout
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.APITimeout <= 0 {
		cfg.APITimeout = DefaultAPITimeout
	}
	return &Worker{cfg: cfg}, nil
}

// Run processes jobs until ctx is cancelled. The worker is a single
// goroutine: jobs execute strictly one at a time, in queue order.
func (w *Worker) Run(ctx context.Context) error {
	w.cfg.Logger.Info("worker started",
		"poll_interval", w.cfg.PollInterval,
		"job_timeout", w.cfg.JobTimeout,
		"max_turns", w.cfg.MaxTurns)
	defer w.cfg.Logger.Info("worker stopped")

	for {
		idle := w.cycle(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !idle {
			continue
		}
		select {
		case <-w.cfg.Clock.After(w.cfg.PollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// cycle claims and processes at most one job, reporting whether the
// loop should idle before the next one. A panic anywhere in job
// processing is contained here: the job keeps whatever status the
// store already recorded, and the loop idles before carrying on.
func (w *Worker) cycle(ctx context.Context) (idle bool) {
	defer func() {
		if r := recover(); r != nil {
			w.cfg.Logger.Error("job processing panicked",
				"panic", r,
				"stack", string(debug.Stack()))
			idle = true
		}
	}()

	job, err := w.cfg.Store.NextPending(ctx)
	if err != nil {
		w.cfg.Logger.Error("reading queue", "error", err)
		return true
	}
	if job == nil {
		return true
	}
	w.process(ctx, job)
	return false
}

// process drives one job through resolve, materialize, synchronize,
// dispatch, and finalize. Every failure is terminal for the job and
// produces exactly one notification; only shutdown mid-dispatch leaves
// a job in running for the next startup to report.
func (w *Worker) process(ctx context.Context, job *queue.Job) {
	logger := w.cfg.Logger.With(
		"job_id", job.ID,
		"repo", job.Repo,
		"pr", job.PRNumber,
		"command", job.Command)
	logger.Info("processing job", "branch", job.Branch)

	if err := w.cfg.Store.MarkRunning(ctx, job.ID); err != nil {
		logger.Error("claiming job", "error", err)
		return
	}

	dir, ok := w.cfg.Repos.Resolve(job.Repo)
	if !ok {
		text := fmt.Sprintf("Repository '%s' not configured. Add it to the config file under repos.", job.Repo)
		logger.Error("repository not configured")
		w.fail(ctx, logger, job, text, "[failed] "+text)
		return
	}

	if _, err := os.Stat(dir); err != nil {
		logger.Info("working copy missing, cloning", "dir", dir)
		cloneCtx, cancel := context.WithTimeout(ctx, w.cfg.CloneTimeout)
		_, cloneErr := w.cfg.VCS.Clone(cloneCtx, remoteURL(job.Repo), dir)
		cancel()
		if cloneErr != nil {
			text := fmt.Sprintf("Failed to clone repository: %v", cloneErr)
			logger.Error("clone failed", "error", cloneErr)
			w.fail(ctx, logger, job, text, "[failed] "+text)
			return
		}
	}

	if err := w.synchronize(ctx, dir, job.Branch); err != nil {
		text := fmt.Sprintf("Failed to checkout branch: %v", err)
		logger.Error("branch synchronization failed", "branch", job.Branch, "error", err)
		w.fail(ctx, logger, job, text, "[failed] "+text)
		return
	}

	instruction := w.instruction(ctx, logger, job, dir)

	logger.Info("dispatching agent", "dir", dir)
	result, runErr := w.cfg.Agent.Run(ctx, agent.Invocation{
		Instruction:      instruction,
		MaxTurns:         w.cfg.MaxTurns,
		Timeout:          w.cfg.JobTimeout,
		WorkingDirectory: dir,
	})
	if runErr != nil {
		if ctx.Err() != nil {
			// Shutdown mid-run. The job stays running; the next
			// startup reports it as stranded.
			logger.Warn("agent run interrupted by shutdown", "error", runErr)
			return
		}
		text := fmt.Sprintf("Agent could not be run: %v", runErr)
		logger.Error("agent did not run", "error", runErr)
		w.fail(ctx, logger, job, text, "[failed] "+text)
		return
	}

	w.archive(logger, result)

	switch {
	case result.TimedOut:
		minutes := int(w.cfg.JobTimeout.Minutes())
		logger.Error("job timed out", "limit_minutes", minutes, "duration", result.Duration)
		w.fail(ctx, logger, job, "timeout",
			fmt.Sprintf("[timeout] Job exceeded %d minute time limit.", minutes))
	case result.ExitCode == 0:
		if err := w.cfg.Store.MarkTerminal(ctx, job.ID, queue.StatusDone, ""); err != nil {
			logger.Error("recording completion", "error", err)
		}
		w.notify(ctx, logger, job, doneNotification(job.Command))
		logger.Info("job completed", "duration", result.Duration)
	default:
		diagnostic := tailDiagnostic(result)
		logger.Error("agent failed", "exit_code", result.ExitCode, "duration", result.Duration)
		w.fail(ctx, logger, job, diagnostic, fmt.Sprintf(
			"[failed] Agent exited with code %d\n\n```\n%s\n```",
			result.ExitCode, diagnostic))
	}
}

// synchronize brings the working copy's checkout of branch up to date
// with origin: fetch, checkout, pull, each under its own timeout and
// the working copy's lock.
func (w *Worker) synchronize(ctx context.Context, dir, branch string) error {
	steps := []struct {
		op      func(context.Context, string, string) (string, error)
		timeout time.Duration
	}{
		{w.cfg.VCS.Fetch, w.cfg.FetchTimeout},
		{w.cfg.VCS.Checkout, w.cfg.CheckoutTimeout},
		{w.cfg.VCS.Pull, w.cfg.PullTimeout},
	}
	for _, step := range steps {
		stepCtx, cancel := context.WithTimeout(ctx, step.timeout)
		_, err := step.op(stepCtx, dir, branch)
		cancel()
		if err != nil {
			return err
		}
	}
	return nil
}

// fail records the job as failed with errText and posts the
// notification. errText is truncated to the stored limit by the store
// itself.
func (w *Worker) fail(ctx context.Context, logger *slog.Logger, job *queue.Job, errText, notification string) {
	if err := w.cfg.Store.MarkTerminal(ctx, job.ID, queue.StatusFailed, errText); err != nil {
		logger.Error("recording failure", "error", err)
	}
	w.notify(ctx, logger, job, notification)
}

// notify posts one status comment. Notification failures are logged
// and swallowed: the outcome is already durable, and a comment that
// cannot be posted is not worth failing a finished job over.
func (w *Worker) notify(ctx context.Context, logger *slog.Logger, job *queue.Job, body string) {
	notifyCtx, cancel := context.WithTimeout(ctx, w.cfg.APITimeout)
	defer cancel()
	if err := w.cfg.Host.CreateComment(notifyCtx, job.Repo, job.PRNumber, body); err != nil {
		logger.Error("posting notification", "error", err)
	}
}

// archive stores the full agent output and logs the reference. The
// store only ever holds the 500-character tail; the archive holds
// everything.
func (w *Worker) archive(logger *slog.Logger, result agent.Result) {
	ref, err := w.cfg.Transcripts.Put(transcriptPayload(result))
	if err != nil {
		logger.Error("archiving transcript", "error", err)
		return
	}
	logger.Info("transcript archived",
		"ref", ref.String(),
		"stdout_bytes", len(result.Stdout),
		"stderr_bytes", len(result.Stderr),
		"duration", result.Duration)
}

// remoteURL is the HTTPS clone URL for a repository full name.
func remoteURL(repo string) string {
	return "https://github.com/" + repo + ".git"
}

// tailDiagnostic picks the text a failed run is reported with: the
// tail of stderr, stdout when stderr is empty, or "Unknown error" when
// the agent wrote nothing at all.
func tailDiagnostic(result agent.Result) string {
	switch {
	case len(result.Stderr) > 0:
		return queue.TruncateError(string(result.Stderr))
	case len(result.Stdout) > 0:
		return queue.TruncateError(string(result.Stdout))
	default:
		return "Unknown error"
	}
}

// doneNotification is the success comment for a command.
func doneNotification(command queue.Command) string {
	if command == queue.CommandFix {
		return "[fixed] Review comments addressed."
	}
	return "[done] Plan execution completed."
}

// transcriptPayload renders both output streams into one archived
// document.
func transcriptPayload(result agent.Result) []byte {
	var payload bytes.Buffer
	payload.WriteString("=== stdout ===\n")
	payload.Write(result.Stdout)
	if len(result.Stdout) > 0 && !bytes.HasSuffix(result.Stdout, []byte("\n")) {
		payload.WriteByte('\n')
	}
	payload.WriteString("=== stderr ===\n")
	payload.Write(result.Stderr)
	return payload.Bytes()
}
