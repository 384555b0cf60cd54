// Copyright 2026 The Steward Authors
// SPDX-License-Identifier: Apache-2.0

// Package queue provides the durable job queue connecting Steward's
// webhook ingress to its worker loop.
//
// A Job is one unit of agent work: run the plan on a pull request, or
// address its review comments. Jobs are created by the webhook handler
// when an allowed principal comments a command on a PR, and consumed
// one at a time by the worker. The queue is the only shared state
// between the two; there are no channels, signals, or in-memory
// handoffs. The worker polls [Store.NextPending] and the ingress path
// calls [Store.Create], and everything else follows from SQLite's
// transactional guarantees.
//
// # Lifecycle
//
// Every job moves through a one-way status progression:
//
//	pending → running → done
//	                  → failed
//
// [Store.MarkRunning] and [Store.MarkTerminal] enforce the progression
// with guarded UPDATEs (WHERE status = ...), so a crashed or restarted
// worker cannot resurrect a finished job or double-claim a pending
// one. [CanTransition] exposes the same rule for callers that want to
// check before writing.
//
// # Idempotency
//
// GitHub delivers webhooks at least once. The triggering comment's ID
// is stored in a UNIQUE column, and [Store.Create] treats a constraint
// violation as "already queued" rather than an error: it returns the
// existing job's ID with created == false. Redelivered events
// therefore never produce a second job, no matter how often they
// arrive or in what order.
//
// # Ordering
//
// Jobs execute in FIFO order by ID. IDs come from SQLite's rowid
// allocator, which is monotonic for the lifetime of the database, so
// ascending ID is creation order even when two jobs land in the same
// clock second. Queue positions reported back to the PR are derived
// from the same ordering.
package queue
