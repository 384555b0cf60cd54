// Copyright 2026 The Steward Authors
// SPDX-License-Identifier: Apache-2.0

// Package worker executes queued jobs one at a time.
//
// The worker is the queue's only consumer. Each cycle claims the
// oldest pending job and drives it through a fixed sequence: resolve
// the repository to a local working copy, materialize the copy if it
// is missing, synchronize the target branch, dispatch the agent with a
// command-specific instruction, and finalize — record the terminal
// status and post exactly one PR comment describing the outcome.
//
// Failures along the way are job outcomes, not worker faults: the job
// is marked failed with a diagnostic, the PR gets its comment, and the
// loop moves on. The loop itself survives panics and exits only on
// context cancellation. Collaborators — version control, code host,
// agent, path resolution — enter as narrow interfaces so tests can
// script them; the production implementations live in this package and
// lib/agent.
package worker
