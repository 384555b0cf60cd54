// Copyright 2026 The Steward Authors
// SPDX-License-Identifier: Apache-2.0

package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/sys/unix"
)

// initOrigin creates a bare git repository in a temp directory and
// returns its path. The repository has an initial commit on main so
// that clones of it have a checked-out working tree.
func initOrigin(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	bareDir := filepath.Join(dir, "origin.git")

	// Initialize a bare repository.
	command := exec.Command("git", "init", "--bare", bareDir)
	if output, err := command.CombinedOutput(); err != nil {
		t.Fatalf("git init --bare: %v\n%s", err, output)
	}

	// Create a worktree with an initial commit so clones have a main
	// branch to check out.
	worktreeDir := filepath.Join(dir, "seed")
	command = exec.Command("git", "-C", bareDir, "worktree", "add", worktreeDir, "--orphan", "-b", "main")
	if output, err := command.CombinedOutput(); err != nil {
		t.Fatalf("git worktree add: %v\n%s", err, output)
	}

	readmePath := filepath.Join(worktreeDir, "README")
	if err := os.WriteFile(readmePath, []byte("test\n"), 0644); err != nil {
		t.Fatalf("write README: %v", err)
	}
	command = exec.Command("git", "-C", worktreeDir, "add", "README")
	if output, err := command.CombinedOutput(); err != nil {
		t.Fatalf("git add: %v\n%s", err, output)
	}
	command = exec.Command("git", "-C", worktreeDir, "commit", "-m", "initial",
		"--author", "Test <test@test.local>")
	command.Env = append(os.Environ(),
		"GIT_COMMITTER_NAME=Test",
		"GIT_COMMITTER_EMAIL=test@test.local",
	)
	if output, err := command.CombinedOutput(); err != nil {
		t.Fatalf("git commit: %v\n%s", err, output)
	}

	return bareDir
}

// cloneOrigin clones the origin into a fresh directory and returns a
// Repository targeting the working copy.
func cloneOrigin(t *testing.T) *Repository {
	t.Helper()

	origin := initOrigin(t)
	dir := filepath.Join(t.TempDir(), "clone")
	if _, err := Clone(context.Background(), origin, dir); err != nil {
		t.Fatalf("Clone: %v", err)
	}
	return NewRepository(dir)
}

func TestClone(t *testing.T) {
	t.Parallel()

	origin := initOrigin(t)
	dir := filepath.Join(t.TempDir(), "repos", "testowner", "testrepo")

	if _, err := Clone(context.Background(), origin, dir); err != nil {
		t.Fatalf("Clone: %v", err)
	}

	// The clone should have a .git directory and the seeded README.
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		t.Errorf(".git not present after clone: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "README")); err != nil {
		t.Errorf("README not checked out after clone: %v", err)
	}
}

func TestClone_BadRemote(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "clone")
	_, err := Clone(context.Background(), filepath.Join(t.TempDir(), "no-such-origin"), dir)
	if err == nil {
		t.Fatal("expected error for nonexistent remote")
	}
	if !strings.Contains(err.Error(), "git clone") {
		t.Errorf("error = %v, want to mention git clone", err)
	}
}

func TestRepository_Run(t *testing.T) {
	t.Parallel()

	repo := cloneOrigin(t)

	output, err := repo.Run(context.Background(), "branch", "--list")
	if err != nil {
		t.Fatalf("Run(branch --list): %v", err)
	}

	// The clone checks out the origin's main branch.
	if !strings.Contains(output, "main") {
		t.Errorf("branch list output = %q, want to contain 'main'", output)
	}
}

func TestRepository_Run_InvalidSubcommand(t *testing.T) {
	t.Parallel()

	repo := cloneOrigin(t)

	_, err := repo.Run(context.Background(), "not-a-real-command")
	if err == nil {
		t.Fatal("expected error for invalid git subcommand")
	}
	if !strings.Contains(err.Error(), repo.Dir()) {
		t.Errorf("error = %v, want to contain repository dir %q", err, repo.Dir())
	}
}

func TestRepository_Run_NonexistentDirectory(t *testing.T) {
	t.Parallel()

	repo := NewRepository("/tmp/nonexistent-git-repo-abcxyz")

	_, err := repo.Run(context.Background(), "status")
	if err == nil {
		t.Fatal("expected error for nonexistent directory")
	}
}

func TestRepository_Dir(t *testing.T) {
	t.Parallel()

	repo := NewRepository("/path/to/repo")
	if repo.Dir() != "/path/to/repo" {
		t.Errorf("Dir() = %q, want %q", repo.Dir(), "/path/to/repo")
	}
}

func TestRepository_LockPath(t *testing.T) {
	t.Parallel()

	repo := NewRepository("/srv/repos/owner/name")
	want := "/srv/repos/owner/name/.git/steward.lock"
	if repo.LockPath() != want {
		t.Errorf("LockPath() = %q, want %q", repo.LockPath(), want)
	}
}

func TestRepository_RunLocked(t *testing.T) {
	t.Parallel()

	repo := cloneOrigin(t)
	lockPath := repo.LockPath()

	// RunLocked should work for a simple git command and return
	// combined output.
	output, err := repo.RunLocked(context.Background(), lockPath, "branch", "--list")
	if err != nil {
		t.Fatalf("RunLocked(branch --list): %v", err)
	}
	if !strings.Contains(output, "main") {
		t.Errorf("branch list output = %q, want to contain 'main'", output)
	}

	// Verify the lock file was created.
	if _, err := os.Stat(lockPath); err != nil {
		t.Errorf("lock file not created: %v", err)
	}
}

func TestRepository_RunLocked_HeldLock(t *testing.T) {
	t.Parallel()

	repo := cloneOrigin(t)
	lockPath := repo.LockPath()

	// Hold the lock from a separate file descriptor so RunLocked
	// cannot acquire it.
	holder, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		t.Fatalf("open lock: %v", err)
	}
	defer holder.Close()
	if err := unix.Flock(int(holder.Fd()), unix.LOCK_EX); err != nil {
		t.Fatalf("flock: %v", err)
	}

	// With the lock held and the context already canceled, RunLocked
	// must give up instead of waiting forever.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = repo.RunLocked(ctx, lockPath, "status")
	if err == nil {
		t.Fatal("expected error when lock is held and context canceled")
	}
	if !strings.Contains(err.Error(), "locking") {
		t.Errorf("error = %v, want to mention locking", err)
	}
}
