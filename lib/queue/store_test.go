// Copyright 2026 The Steward Authors
// SPDX-License-Identifier: Apache-2.0

package queue_test

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/steward-works/steward/lib/clock"
	"github.com/steward-works/steward/lib/queue"
)

var queueTestEpoch = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

// openTestStore creates a store backed by a temporary database file.
// The store is closed automatically when the test completes.
func openTestStore(t *testing.T) (*queue.Store, *clock.FakeClock) {
	t.Helper()

	fakeClock := clock.Fake(queueTestEpoch)
	store, err := queue.OpenStore(queue.Config{
		Path:     filepath.Join(t.TempDir(), "jobs.db"),
		PoolSize: 2,
		Clock:    fakeClock,
		Logger:   slog.Default(),
	})
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("store.Close: %v", err)
		}
	})
	return store, fakeClock
}

// mustCreate enqueues a job and fails the test on any error or on a
// duplicate-trigger result.
func mustCreate(t *testing.T, store *queue.Store, repo string, prNumber int, command queue.Command, triggerID int64) int64 {
	t.Helper()

	jobID, created, err := store.Create(context.Background(), repo, prNumber, "feature", command, triggerID)
	if err != nil {
		t.Fatalf("Create(trigger %d): %v", triggerID, err)
	}
	if !created {
		t.Fatalf("Create(trigger %d): got created = false, want true", triggerID)
	}
	return jobID
}

func TestOpenStoreValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")

	_, err := queue.OpenStore(queue.Config{
		Path:   path,
		Logger: slog.Default(),
	})
	if err == nil {
		t.Error("expected error for missing Clock")
	}

	_, err = queue.OpenStore(queue.Config{
		Path:  path,
		Clock: clock.Fake(queueTestEpoch),
	})
	if err == nil {
		t.Error("expected error for missing Logger")
	}
}

func TestCreateAndByTrigger(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	jobID, created, err := store.Create(ctx, "octocat/hello-world", 7, "feature/login", queue.CommandAction, 9001)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !created {
		t.Fatal("created = false, want true")
	}
	if jobID <= 0 {
		t.Fatalf("jobID = %d, want positive", jobID)
	}

	job, err := store.ByTrigger(ctx, 9001)
	if err != nil {
		t.Fatalf("ByTrigger: %v", err)
	}
	if job == nil {
		t.Fatal("ByTrigger returned nil for existing trigger")
	}

	if job.ID != jobID {
		t.Errorf("ID = %d, want %d", job.ID, jobID)
	}
	if job.Repo != "octocat/hello-world" {
		t.Errorf("Repo = %q, want %q", job.Repo, "octocat/hello-world")
	}
	if job.PRNumber != 7 {
		t.Errorf("PRNumber = %d, want 7", job.PRNumber)
	}
	if job.Branch != "feature/login" {
		t.Errorf("Branch = %q, want %q", job.Branch, "feature/login")
	}
	if job.Command != queue.CommandAction {
		t.Errorf("Command = %q, want %q", job.Command, queue.CommandAction)
	}
	if job.TriggerID != 9001 {
		t.Errorf("TriggerID = %d, want 9001", job.TriggerID)
	}
	if job.Status != queue.StatusPending {
		t.Errorf("Status = %q, want %q", job.Status, queue.StatusPending)
	}
	if job.Error != "" {
		t.Errorf("Error = %q, want empty", job.Error)
	}
	if job.CreatedAt != queueTestEpoch.Unix() {
		t.Errorf("CreatedAt = %d, want %d", job.CreatedAt, queueTestEpoch.Unix())
	}
	if job.StartedAt != 0 {
		t.Errorf("StartedAt = %d, want 0 for pending job", job.StartedAt)
	}
	if job.FinishedAt != 0 {
		t.Errorf("FinishedAt = %d, want 0 for pending job", job.FinishedAt)
	}
}

func TestByTriggerAbsent(t *testing.T) {
	store, _ := openTestStore(t)

	job, err := store.ByTrigger(context.Background(), 12345)
	if err != nil {
		t.Fatalf("ByTrigger: %v", err)
	}
	if job != nil {
		t.Errorf("got job %+v, want nil for unknown trigger", job)
	}
}

func TestCreateDuplicateTrigger(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	firstID := mustCreate(t, store, "octocat/hello-world", 7, queue.CommandAction, 9001)

	// A redelivered webhook carries the same comment ID, possibly
	// with drifted payload fields. The original job wins.
	secondID, created, err := store.Create(ctx, "octocat/hello-world", 8, "other-branch", queue.CommandFix, 9001)
	if err != nil {
		t.Fatalf("Create (duplicate): %v", err)
	}
	if created {
		t.Error("created = true for duplicate trigger, want false")
	}
	if secondID != firstID {
		t.Errorf("duplicate create returned ID %d, want original %d", secondID, firstID)
	}

	length, err := store.QueueLength(ctx)
	if err != nil {
		t.Fatalf("QueueLength: %v", err)
	}
	if length != 1 {
		t.Errorf("QueueLength = %d after duplicate create, want 1", length)
	}

	job, err := store.ByTrigger(ctx, 9001)
	if err != nil {
		t.Fatalf("ByTrigger: %v", err)
	}
	if job.Command != queue.CommandAction {
		t.Errorf("Command = %q after duplicate create, want original %q", job.Command, queue.CommandAction)
	}
	if job.PRNumber != 7 {
		t.Errorf("PRNumber = %d after duplicate create, want original 7", job.PRNumber)
	}
}

func TestCreateRejectsInvalidCommand(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	for _, command := range []queue.Command{"status", "", "deploy"} {
		_, _, err := store.Create(ctx, "octocat/hello-world", 7, "main", command, 100)
		if err == nil {
			t.Errorf("Create with command %q: expected error", command)
		}
	}
}

func TestNextPendingFIFO(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	first := mustCreate(t, store, "octocat/hello-world", 1, queue.CommandAction, 101)
	second := mustCreate(t, store, "octocat/hello-world", 2, queue.CommandFix, 102)
	mustCreate(t, store, "octocat/hello-world", 3, queue.CommandAction, 103)

	job, err := store.NextPending(ctx)
	if err != nil {
		t.Fatalf("NextPending: %v", err)
	}
	if job == nil || job.ID != first {
		t.Fatalf("NextPending = %+v, want job %d", job, first)
	}

	// Finishing the head of the queue exposes the next job.
	if err := store.MarkRunning(ctx, first); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	if err := store.MarkTerminal(ctx, first, queue.StatusDone, ""); err != nil {
		t.Fatalf("MarkTerminal: %v", err)
	}

	job, err = store.NextPending(ctx)
	if err != nil {
		t.Fatalf("NextPending: %v", err)
	}
	if job == nil || job.ID != second {
		t.Fatalf("NextPending after completing first = %+v, want job %d", job, second)
	}
}

func TestNextPendingEmpty(t *testing.T) {
	store, _ := openTestStore(t)

	job, err := store.NextPending(context.Background())
	if err != nil {
		t.Fatalf("NextPending: %v", err)
	}
	if job != nil {
		t.Errorf("NextPending on empty queue = %+v, want nil", job)
	}
}

func TestQueuePositions(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	first := mustCreate(t, store, "octocat/hello-world", 1, queue.CommandAction, 201)
	second := mustCreate(t, store, "octocat/hello-world", 2, queue.CommandAction, 202)
	third := mustCreate(t, store, "octocat/hello-world", 3, queue.CommandAction, 203)

	for i, jobID := range []int64{first, second, third} {
		position, err := store.PositionOf(ctx, jobID)
		if err != nil {
			t.Fatalf("PositionOf(%d): %v", jobID, err)
		}
		if position != i+1 {
			t.Errorf("PositionOf(job %d) = %d, want %d", jobID, position, i+1)
		}
	}

	length, err := store.QueueLength(ctx)
	if err != nil {
		t.Fatalf("QueueLength: %v", err)
	}
	if length != 3 {
		t.Errorf("QueueLength = %d, want 3", length)
	}

	// Claiming the head shifts everything behind it forward.
	if err := store.MarkRunning(ctx, first); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}

	position, err := store.PositionOf(ctx, second)
	if err != nil {
		t.Fatalf("PositionOf: %v", err)
	}
	if position != 1 {
		t.Errorf("PositionOf(second) after claim = %d, want 1", position)
	}

	// The running job itself no longer occupies a queue position.
	position, err = store.PositionOf(ctx, first)
	if err != nil {
		t.Fatalf("PositionOf: %v", err)
	}
	if position != 0 {
		t.Errorf("PositionOf(running job) = %d, want 0", position)
	}

	length, err = store.QueueLength(ctx)
	if err != nil {
		t.Fatalf("QueueLength: %v", err)
	}
	if length != 2 {
		t.Errorf("QueueLength after claim = %d, want 2", length)
	}
}

func TestMarkRunning(t *testing.T) {
	store, fakeClock := openTestStore(t)
	ctx := context.Background()

	jobID := mustCreate(t, store, "octocat/hello-world", 7, queue.CommandAction, 301)

	fakeClock.Advance(90 * time.Second)
	if err := store.MarkRunning(ctx, jobID); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}

	job, err := store.ByTrigger(ctx, 301)
	if err != nil {
		t.Fatalf("ByTrigger: %v", err)
	}
	if job.Status != queue.StatusRunning {
		t.Errorf("Status = %q, want %q", job.Status, queue.StatusRunning)
	}
	wantStarted := queueTestEpoch.Add(90 * time.Second).Unix()
	if job.StartedAt != wantStarted {
		t.Errorf("StartedAt = %d, want %d", job.StartedAt, wantStarted)
	}

	// Claiming an already-running job must fail: this is what keeps a
	// restarted worker from double-claiming.
	err = store.MarkRunning(ctx, jobID)
	if !errors.Is(err, queue.ErrNotPending) {
		t.Errorf("MarkRunning on running job: got %v, want ErrNotPending", err)
	}
}

func TestMarkRunningUnknownJob(t *testing.T) {
	store, _ := openTestStore(t)

	err := store.MarkRunning(context.Background(), 9999)
	if !errors.Is(err, queue.ErrNotPending) {
		t.Errorf("MarkRunning(9999) = %v, want ErrNotPending", err)
	}
}

func TestMarkTerminalDone(t *testing.T) {
	store, fakeClock := openTestStore(t)
	ctx := context.Background()

	jobID := mustCreate(t, store, "octocat/hello-world", 7, queue.CommandAction, 401)
	if err := store.MarkRunning(ctx, jobID); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}

	fakeClock.Advance(5 * time.Minute)
	if err := store.MarkTerminal(ctx, jobID, queue.StatusDone, ""); err != nil {
		t.Fatalf("MarkTerminal: %v", err)
	}

	job, err := store.ByTrigger(ctx, 401)
	if err != nil {
		t.Fatalf("ByTrigger: %v", err)
	}
	if job.Status != queue.StatusDone {
		t.Errorf("Status = %q, want %q", job.Status, queue.StatusDone)
	}
	if job.Error != "" {
		t.Errorf("Error = %q, want empty for successful job", job.Error)
	}
	wantFinished := queueTestEpoch.Add(5 * time.Minute).Unix()
	if job.FinishedAt != wantFinished {
		t.Errorf("FinishedAt = %d, want %d", job.FinishedAt, wantFinished)
	}

	// Terminal means terminal: no second finish, no resurrection.
	err = store.MarkTerminal(ctx, jobID, queue.StatusFailed, "late failure")
	if !errors.Is(err, queue.ErrNotRunning) {
		t.Errorf("MarkTerminal on done job: got %v, want ErrNotRunning", err)
	}
}

func TestMarkTerminalFailed(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	jobID := mustCreate(t, store, "octocat/hello-world", 7, queue.CommandFix, 402)
	if err := store.MarkRunning(ctx, jobID); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}

	if err := store.MarkTerminal(ctx, jobID, queue.StatusFailed, "agent exited with code 2"); err != nil {
		t.Fatalf("MarkTerminal: %v", err)
	}

	job, err := store.ByTrigger(ctx, 402)
	if err != nil {
		t.Fatalf("ByTrigger: %v", err)
	}
	if job.Status != queue.StatusFailed {
		t.Errorf("Status = %q, want %q", job.Status, queue.StatusFailed)
	}
	if job.Error != "agent exited with code 2" {
		t.Errorf("Error = %q, want %q", job.Error, "agent exited with code 2")
	}
}

func TestMarkTerminalRequiresRunning(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	jobID := mustCreate(t, store, "octocat/hello-world", 7, queue.CommandAction, 403)

	// Straight from pending to a terminal state skips the lifecycle.
	err := store.MarkTerminal(ctx, jobID, queue.StatusDone, "")
	if !errors.Is(err, queue.ErrNotRunning) {
		t.Errorf("MarkTerminal on pending job: got %v, want ErrNotRunning", err)
	}

	err = store.MarkTerminal(ctx, 9999, queue.StatusFailed, "nope")
	if !errors.Is(err, queue.ErrNotRunning) {
		t.Errorf("MarkTerminal(9999): got %v, want ErrNotRunning", err)
	}
}

func TestMarkTerminalRejectsNonTerminalOutcome(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	jobID := mustCreate(t, store, "octocat/hello-world", 7, queue.CommandAction, 404)
	if err := store.MarkRunning(ctx, jobID); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}

	for _, outcome := range []queue.Status{queue.StatusPending, queue.StatusRunning} {
		err := store.MarkTerminal(ctx, jobID, outcome, "")
		if err == nil {
			t.Errorf("MarkTerminal with outcome %q: expected error", outcome)
		}
		if errors.Is(err, queue.ErrNotRunning) {
			t.Errorf("MarkTerminal with outcome %q: rejected as ErrNotRunning instead of invalid outcome", outcome)
		}
	}

	// The job is untouched by the rejected calls.
	job, err := store.ByTrigger(ctx, 404)
	if err != nil {
		t.Fatalf("ByTrigger: %v", err)
	}
	if job.Status != queue.StatusRunning {
		t.Errorf("Status = %q after rejected updates, want %q", job.Status, queue.StatusRunning)
	}
}

func TestMarkTerminalTruncatesError(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	jobID := mustCreate(t, store, "octocat/hello-world", 7, queue.CommandAction, 405)
	if err := store.MarkRunning(ctx, jobID); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}

	diagnostic := strings.Repeat("stack frame\n", 100) + "panic: the actual cause"
	if err := store.MarkTerminal(ctx, jobID, queue.StatusFailed, diagnostic); err != nil {
		t.Fatalf("MarkTerminal: %v", err)
	}

	job, err := store.ByTrigger(ctx, 405)
	if err != nil {
		t.Fatalf("ByTrigger: %v", err)
	}
	if runeCount := len([]rune(job.Error)); runeCount != queue.MaxErrorLen {
		t.Errorf("stored error length = %d runes, want %d", runeCount, queue.MaxErrorLen)
	}
	if !strings.HasSuffix(job.Error, "panic: the actual cause") {
		t.Errorf("stored error lost the tail: %q", job.Error)
	}
}

func TestRunningJobs(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	running, err := store.Running(ctx)
	if err != nil {
		t.Fatalf("Running: %v", err)
	}
	if len(running) != 0 {
		t.Errorf("Running on fresh store = %d jobs, want 0", len(running))
	}

	first := mustCreate(t, store, "octocat/hello-world", 1, queue.CommandAction, 501)
	second := mustCreate(t, store, "octocat/hello-world", 2, queue.CommandFix, 502)
	mustCreate(t, store, "octocat/hello-world", 3, queue.CommandAction, 503)

	if err := store.MarkRunning(ctx, first); err != nil {
		t.Fatalf("MarkRunning(first): %v", err)
	}
	if err := store.MarkRunning(ctx, second); err != nil {
		t.Fatalf("MarkRunning(second): %v", err)
	}

	running, err = store.Running(ctx)
	if err != nil {
		t.Fatalf("Running: %v", err)
	}
	if len(running) != 2 {
		t.Fatalf("Running = %d jobs, want 2", len(running))
	}
	if running[0].ID != first || running[1].ID != second {
		t.Errorf("Running order = [%d, %d], want [%d, %d]",
			running[0].ID, running[1].ID, first, second)
	}
}

func TestReopenPreservesJobs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")
	fakeClock := clock.Fake(queueTestEpoch)

	store, err := queue.OpenStore(queue.Config{
		Path:   path,
		Clock:  fakeClock,
		Logger: slog.Default(),
	})
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}

	ctx := context.Background()
	jobID, created, err := store.Create(ctx, "octocat/hello-world", 7, "main", queue.CommandAction, 601)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !created {
		t.Fatal("created = false, want true")
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := queue.OpenStore(queue.Config{
		Path:   path,
		Clock:  fakeClock,
		Logger: slog.Default(),
	})
	if err != nil {
		t.Fatalf("OpenStore (reopen): %v", err)
	}
	defer reopened.Close()

	job, err := reopened.ByTrigger(ctx, 601)
	if err != nil {
		t.Fatalf("ByTrigger after reopen: %v", err)
	}
	if job == nil {
		t.Fatal("job lost across reopen")
	}
	if job.ID != jobID || job.Status != queue.StatusPending {
		t.Errorf("job after reopen = {ID: %d, Status: %q}, want {ID: %d, Status: %q}",
			job.ID, job.Status, jobID, queue.StatusPending)
	}

	// The duplicate guard survives reopen too.
	_, created, err = reopened.Create(ctx, "octocat/hello-world", 7, "main", queue.CommandAction, 601)
	if err != nil {
		t.Fatalf("Create after reopen: %v", err)
	}
	if created {
		t.Error("created = true for known trigger after reopen, want false")
	}
}
