// Copyright 2026 The Steward Authors
// SPDX-License-Identifier: Apache-2.0

// Package git provides typed access to the git CLI for working-copy
// operations. Steward uses git to materialize and synchronize the
// local working copies that jobs execute against: cloning missing
// repositories and fetching, checking out, and pulling the target
// branch before each job. All commands target a specific repository
// directory via the -C flag, which is automatically injected by all
// Repository methods.
package git

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// Repository represents a git repository at a specific directory. All
// operations target this directory via "git -C <dir>". There is no
// default directory — callers must always specify which repository
// they mean.
type Repository struct {
	dir string
}

// NewRepository returns a Repository targeting the given directory.
// The directory should be a working tree with a .git directory.
func NewRepository(dir string) *Repository {
	return &Repository{dir: dir}
}

// Dir returns the repository directory.
func (r *Repository) Dir() string {
	return r.dir
}

// LockPath returns the path of the lock file used to serialize
// operations on this working copy: <dir>/.git/steward.lock.
func (r *Repository) LockPath() string {
	return filepath.Join(r.dir, ".git", "steward.lock")
}

// Run executes a git command targeting this repository and returns
// stdout. Stderr is captured separately and included in error messages
// on failure.
func (r *Repository) Run(ctx context.Context, args ...string) (string, error) {
	fullArgs := append([]string{"-C", r.dir}, args...)
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, "git", fullArgs...)
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("git %s in %s: %w (stderr: %s)",
			strings.Join(args, " "), r.dir, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// RunLocked executes a git command while holding an exclusive flock on
// lockPath. The lock is held for the duration of the command,
// preventing concurrent git operations on the same working copy (e.g.,
// an operator running git by hand while a job synchronizes).
//
// Returns combined stdout and stderr output because git writes
// progress information to stderr (e.g., "Fetching origin...",
// "* branch main -> FETCH_HEAD").
func (r *Repository) RunLocked(ctx context.Context, lockPath string, args ...string) (string, error) {
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return "", fmt.Errorf("opening lock %s: %w", lockPath, err)
	}
	defer lockFile.Close()

	// Acquire without blocking so that ctx cancellation is honored
	// while waiting for a competing holder.
	for {
		err := unix.Flock(int(lockFile.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			break
		}
		if err != unix.EWOULDBLOCK {
			return "", fmt.Errorf("locking %s: %w", lockPath, err)
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("locking %s: %w", lockPath, ctx.Err())
		case <-time.After(100 * time.Millisecond): //nolint:realclock // lock acquisition poll; callers bound via ctx
		}
	}
	defer unix.Flock(int(lockFile.Fd()), unix.LOCK_UN)

	gitArgs := append([]string{"-C", r.dir}, args...)
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, "git", gitArgs...)
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("git %s in %s: %w (stderr: %s)",
			strings.Join(args, " "), r.dir, err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String() + stderr.String()), nil
}

// Clone clones a remote repository into dir. The parent of dir is
// created if needed; dir itself must not exist (git clone refuses to
// populate a non-empty directory). Returns combined output.
func Clone(ctx context.Context, remote, dir string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(dir), 0755); err != nil {
		return "", fmt.Errorf("creating parent of %s: %w", dir, err)
	}

	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, "git", "clone", remote, dir)
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("git clone %s: %w (stderr: %s)",
			remote, err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String() + stderr.String()), nil
}
