// Copyright 2026 The Steward Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/steward-works/steward/lib/clock"
	"github.com/steward-works/steward/lib/sqlitepool"
)

// Errors returned by the guarded status transitions.
var (
	ErrNotPending = errors.New("queue: job is not pending")
	ErrNotRunning = errors.New("queue: job is not running")
)

// schema is applied to every pool connection on first use. All
// statements are idempotent, so reapplying on reopen is harmless.
const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	repo        TEXT NOT NULL,
	pr_number   INTEGER NOT NULL,
	branch      TEXT NOT NULL,
	command     TEXT NOT NULL,
	trigger_id  INTEGER NOT NULL UNIQUE,
	status      TEXT NOT NULL DEFAULT 'pending',
	error       TEXT,
	created_at  INTEGER NOT NULL,
	started_at  INTEGER,
	finished_at INTEGER
);

CREATE INDEX IF NOT EXISTS jobs_status ON jobs (status);
`

// jobColumns is the SELECT list matching scanJob's column order.
const jobColumns = "id, repo, pr_number, branch, command, trigger_id, " +
	"status, error, created_at, started_at, finished_at"

// Store is the SQLite-backed job queue. It is the sole synchronization
// point between the webhook ingress (which writes pending jobs) and
// the worker (which claims and finishes them).
//
// Store is safe for concurrent use. Every operation borrows a pooled
// connection for its duration and is individually atomic.
type Store struct {
	pool  *sqlitepool.Pool
	clock clock.Clock
}

// Config holds the parameters for opening a job store.
type Config struct {
	// Path is the filesystem path to the SQLite database file. The
	// parent directory must exist. The file is created if it does not
	// exist.
	Path string

	// PoolSize is the number of connections in the pool. Defaults to
	// 4 if zero or negative. The queue's writers are one ingress
	// goroutine and one worker goroutine, so a small pool suffices.
	PoolSize int

	// Clock provides the timestamps recorded on status transitions.
	Clock clock.Clock

	// Logger receives operational messages. Required.
	Logger *slog.Logger
}

// OpenStore opens the job queue database, creating the file and schema
// if needed. The caller must Close the returned store.
func OpenStore(cfg Config) (*Store, error) {
	if cfg.Clock == nil {
		return nil, fmt.Errorf("queue: Clock is required")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("queue: Logger is required")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: poolSize,
		Logger:   cfg.Logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("queue: %w", err)
	}

	return &Store{pool: pool, clock: cfg.Clock}, nil
}

// Close closes the underlying connection pool. Blocks until all
// borrowed connections are returned.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Create enqueues a pending job and returns its ID with created ==
// true. If a job with the same trigger ID already exists — GitHub
// redelivered the webhook — Create returns the existing job's ID with
// created == false instead of an error. Jobs are never deleted, so the
// lookup after a uniqueness conflict always finds the earlier row.
func (s *Store) Create(ctx context.Context, repo string, prNumber int, branch string, command Command, triggerID int64) (jobID int64, created bool, err error) {
	if !command.Valid() {
		return 0, false, fmt.Errorf("queue: create: invalid command %q", command)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("queue: create: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return 0, false, fmt.Errorf("queue: create: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	insertErr := sqlitex.Execute(conn,
		`INSERT INTO jobs (repo, pr_number, branch, command, trigger_id, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				repo,
				prNumber,
				branch,
				string(command),
				triggerID,
				string(StatusPending),
				s.clock.Now().Unix(),
			},
		})
	if insertErr == nil {
		return conn.LastInsertRowID(), true, nil
	}
	if sqlite.ErrCode(insertErr) != sqlite.ResultConstraintUnique {
		err = fmt.Errorf("queue: create: %w", insertErr)
		return 0, false, err
	}

	// A constraint failure aborts the INSERT statement, not the
	// transaction, so the duplicate lookup runs under the same lock.
	existing, lookupErr := jobByTrigger(conn, triggerID)
	if lookupErr != nil {
		err = fmt.Errorf("queue: create: %w", lookupErr)
		return 0, false, err
	}
	if existing == nil {
		err = fmt.Errorf("queue: create: trigger %d conflicted but no job found", triggerID)
		return 0, false, err
	}
	return existing.ID, false, nil
}

// NextPending returns the pending job with the smallest ID, or nil
// when no jobs are pending.
func (s *Store) NextPending(ctx context.Context) (*Job, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue: next pending: %w", err)
	}
	defer s.pool.Put(conn)

	var job *Job
	err = sqlitex.Execute(conn,
		"SELECT "+jobColumns+" FROM jobs WHERE status = ? ORDER BY id ASC LIMIT 1",
		&sqlitex.ExecOptions{
			Args: []any{string(StatusPending)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				scanned := scanJob(stmt)
				job = &scanned
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("queue: next pending: %w", err)
	}
	return job, nil
}

// PositionOf returns the job's place in the pending queue: the count
// of pending jobs with ID at or below jobID. The head of the queue is
// position 1. A job that is no longer pending contributes nothing to
// the count, so its reported position shrinks toward zero as work
// ahead of it completes.
func (s *Store) PositionOf(ctx context.Context, jobID int64) (int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("queue: position: %w", err)
	}
	defer s.pool.Put(conn)

	var position int
	err = sqlitex.Execute(conn,
		"SELECT COUNT(*) FROM jobs WHERE status = ? AND id <= ?",
		&sqlitex.ExecOptions{
			Args: []any{string(StatusPending), jobID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				position = stmt.ColumnInt(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("queue: position: %w", err)
	}
	return position, nil
}

// QueueLength returns the number of pending jobs.
func (s *Store) QueueLength(ctx context.Context) (int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("queue: length: %w", err)
	}
	defer s.pool.Put(conn)

	var length int
	err = sqlitex.Execute(conn,
		"SELECT COUNT(*) FROM jobs WHERE status = ?",
		&sqlitex.ExecOptions{
			Args: []any{string(StatusPending)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				length = stmt.ColumnInt(0)
				return nil
			},
		})
	if err != nil {
		return 0, fmt.Errorf("queue: length: %w", err)
	}
	return length, nil
}

// MarkRunning moves a pending job to running and records the start
// time. Returns ErrNotPending if the job is missing or has already
// left the pending state; the UPDATE's status guard makes the claim
// race-free without a prior read.
func (s *Store) MarkRunning(ctx context.Context, jobID int64) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("queue: mark running: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"UPDATE jobs SET status = ?, started_at = ? WHERE id = ? AND status = ?",
		&sqlitex.ExecOptions{
			Args: []any{
				string(StatusRunning),
				s.clock.Now().Unix(),
				jobID,
				string(StatusPending),
			},
		})
	if err != nil {
		return fmt.Errorf("queue: mark running: %w", err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("%w: job %d", ErrNotPending, jobID)
	}
	return nil
}

// MarkTerminal moves a running job to done or failed, recording the
// finish time and the diagnostic. errText is truncated to its trailing
// MaxErrorLen runes before storage; pass the empty string for
// successful jobs. Returns ErrNotRunning if the job is missing or not
// currently running. A non-terminal outcome is rejected outright.
func (s *Store) MarkTerminal(ctx context.Context, jobID int64, outcome Status, errText string) error {
	if !outcome.Terminal() {
		return fmt.Errorf("queue: mark terminal: %q is not a terminal status", outcome)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("queue: mark terminal: %w", err)
	}
	defer s.pool.Put(conn)

	var errValue any
	if errText != "" {
		errValue = TruncateError(errText)
	}

	err = sqlitex.Execute(conn,
		"UPDATE jobs SET status = ?, error = ?, finished_at = ? WHERE id = ? AND status = ?",
		&sqlitex.ExecOptions{
			Args: []any{
				string(outcome),
				errValue,
				s.clock.Now().Unix(),
				jobID,
				string(StatusRunning),
			},
		})
	if err != nil {
		return fmt.Errorf("queue: mark terminal: %w", err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("%w: job %d", ErrNotRunning, jobID)
	}
	return nil
}

// ByTrigger returns the job created by the given comment ID, or nil
// when no such job exists.
func (s *Store) ByTrigger(ctx context.Context, triggerID int64) (*Job, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue: by trigger: %w", err)
	}
	defer s.pool.Put(conn)

	job, err := jobByTrigger(conn, triggerID)
	if err != nil {
		return nil, fmt.Errorf("queue: by trigger: %w", err)
	}
	return job, nil
}

// Running returns all jobs currently in the running state, ascending
// by ID. After a clean shutdown the result is empty or a single job;
// anything found at startup was stranded by a crash.
func (s *Store) Running(ctx context.Context) ([]Job, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue: running: %w", err)
	}
	defer s.pool.Put(conn)

	var jobs []Job
	err = sqlitex.Execute(conn,
		"SELECT "+jobColumns+" FROM jobs WHERE status = ? ORDER BY id ASC",
		&sqlitex.ExecOptions{
			Args: []any{string(StatusRunning)},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				jobs = append(jobs, scanJob(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("queue: running: %w", err)
	}
	return jobs, nil
}

// jobByTrigger looks up a job by trigger ID on an already-borrowed
// connection. Returns nil when absent.
func jobByTrigger(conn *sqlite.Conn, triggerID int64) (*Job, error) {
	var job *Job
	err := sqlitex.Execute(conn,
		"SELECT "+jobColumns+" FROM jobs WHERE trigger_id = ?",
		&sqlitex.ExecOptions{
			Args: []any{triggerID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				scanned := scanJob(stmt)
				job = &scanned
				return nil
			},
		})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// scanJob reads one row produced by a jobColumns SELECT.
func scanJob(stmt *sqlite.Stmt) Job {
	// Columns: id(0), repo(1), pr_number(2), branch(3), command(4),
	// trigger_id(5), status(6), error(7), created_at(8),
	// started_at(9), finished_at(10). NULL columns read as zero
	// values, which is what Job's documentation promises.
	return Job{
		ID:         stmt.ColumnInt64(0),
		Repo:       stmt.ColumnText(1),
		PRNumber:   stmt.ColumnInt(2),
		Branch:     stmt.ColumnText(3),
		Command:    Command(stmt.ColumnText(4)),
		TriggerID:  stmt.ColumnInt64(5),
		Status:     Status(stmt.ColumnText(6)),
		Error:      stmt.ColumnText(7),
		CreatedAt:  stmt.ColumnInt64(8),
		StartedAt:  stmt.ColumnInt64(9),
		FinishedAt: stmt.ColumnInt64(10),
	}
}
