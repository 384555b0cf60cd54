// Copyright 2026 The Steward Authors
// SPDX-License-Identifier: Apache-2.0

package queue

// Command identifies what kind of agent work a job performs.
type Command string

const (
	// CommandAction executes the repository's plan document on the
	// pull request branch.
	CommandAction Command = "action"

	// CommandFix addresses the pull request's review comments.
	CommandFix Command = "fix"
)

// Valid reports whether c is a member of the closed command set.
// Status requests are answered synchronously at ingress and never
// become jobs, so they have no Command value.
func (c Command) Valid() bool {
	return c == CommandAction || c == CommandFix
}

// Status is a job's position in its lifecycle.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Terminal reports whether s is an end state. Terminal jobs are never
// updated again.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// CanTransition reports whether a job may move from one status to
// another. The progression is one-way: pending → running → done or
// failed. Everything else, including self-transitions, is rejected.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning
	case StatusRunning:
		return to == StatusDone || to == StatusFailed
	default:
		return false
	}
}

// MaxErrorLen is the maximum length, in runes, of the diagnostic text
// stored on a failed job. Agent stderr can run to megabytes; only the
// tail is useful in a PR comment, and the full output lives in the
// transcript archive.
const MaxErrorLen = 500

// TruncateError returns the trailing MaxErrorLen runes of text.
// Shorter text is returned unchanged.
func TruncateError(text string) string {
	runes := []rune(text)
	if len(runes) <= MaxErrorLen {
		return text
	}
	return string(runes[len(runes)-MaxErrorLen:])
}

// Job is one unit of queued agent work against a pull request.
type Job struct {
	// ID is the store-assigned sequence number. Ascending ID is
	// creation order; the worker consumes jobs lowest-ID first.
	ID int64

	// Repo is the repository full name, owner/name.
	Repo string

	// PRNumber is the pull request the job acts on.
	PRNumber int

	// Branch is the PR head branch, resolved at ingress so the worker
	// never needs a GitHub round-trip to start work.
	Branch string

	// Command selects the instruction the agent receives.
	Command Command

	// TriggerID is the GitHub ID of the comment that created this
	// job. Unique across all jobs; the system's sole idempotency key.
	TriggerID int64

	// Status is the job's current lifecycle state.
	Status Status

	// Error is the diagnostic recorded when the job failed, already
	// truncated to MaxErrorLen runes. Empty for other statuses.
	Error string

	// CreatedAt is the Unix-seconds time the job was enqueued.
	CreatedAt int64

	// StartedAt is the Unix-seconds time the worker claimed the job.
	// Zero while pending.
	StartedAt int64

	// FinishedAt is the Unix-seconds time the job reached a terminal
	// status. Zero until then.
	FinishedAt int64
}
