// Copyright 2026 The Steward Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/steward-works/steward/lib/git"
	"github.com/steward-works/steward/lib/github"
)

// RepoResolver maps repository full names to local working-copy
// directories. *repomap.Map satisfies it.
type RepoResolver interface {
	Resolve(repo string) (string, bool)
}

// VersionControl materializes and synchronizes working copies. Each
// operation returns command output for diagnostics; the worker folds
// errors into job failure messages.
type VersionControl interface {
	Clone(ctx context.Context, remote, dir string) (string, error)
	Fetch(ctx context.Context, dir, branch string) (string, error)
	Checkout(ctx context.Context, dir, branch string) (string, error)
	Pull(ctx context.Context, dir, branch string) (string, error)
}

// CodeHost is the code-hosting surface the worker needs: posting
// status comments and reading review text for fix instructions.
type CodeHost interface {
	CreateComment(ctx context.Context, repo string, prNumber int, body string) error
	ReviewCommentBodies(ctx context.Context, repo string, prNumber int) ([]string, error)
	ReviewBodies(ctx context.Context, repo string, prNumber int) ([]string, error)
}

// Git runs version-control operations with the real git binary. The
// synchronization steps run under the working copy's lock so a job
// never interleaves with an operator running git by hand.
type Git struct{}

func (Git) Clone(ctx context.Context, remote, dir string) (string, error) {
	return git.Clone(ctx, remote, dir)
}

func (Git) Fetch(ctx context.Context, dir, branch string) (string, error) {
	return runLocked(ctx, dir, "fetch", "origin", branch)
}

func (Git) Checkout(ctx context.Context, dir, branch string) (string, error) {
	return runLocked(ctx, dir, "checkout", branch)
}

func (Git) Pull(ctx context.Context, dir, branch string) (string, error) {
	return runLocked(ctx, dir, "pull", "origin", branch)
}

func runLocked(ctx context.Context, dir string, args ...string) (string, error) {
	repo := git.NewRepository(dir)
	return repo.RunLocked(ctx, repo.LockPath(), args...)
}

// GitHubHost adapts the GitHub API client to the CodeHost interface,
// translating repository full names into the owner/name pairs the
// client takes.
type GitHubHost struct {
	Client *github.Client
}

func (h GitHubHost) CreateComment(ctx context.Context, repo string, prNumber int, body string) error {
	owner, name, err := splitFullName(repo)
	if err != nil {
		return err
	}
	_, err = h.Client.CreateIssueComment(ctx, owner, name, prNumber, body)
	return err
}

func (h GitHubHost) ReviewCommentBodies(ctx context.Context, repo string, prNumber int) ([]string, error) {
	owner, name, err := splitFullName(repo)
	if err != nil {
		return nil, err
	}
	comments, err := h.Client.ListReviewComments(ctx, owner, name, prNumber).Collect(ctx)
	if err != nil {
		return nil, err
	}
	bodies := make([]string, 0, len(comments))
	for _, comment := range comments {
		bodies = append(bodies, comment.Body)
	}
	return bodies, nil
}

// ReviewBodies returns the text of submitted reviews, skipping the
// empty bodies that bare approvals produce.
func (h GitHubHost) ReviewBodies(ctx context.Context, repo string, prNumber int) ([]string, error) {
	owner, name, err := splitFullName(repo)
	if err != nil {
		return nil, err
	}
	reviews, err := h.Client.ListReviews(ctx, owner, name, prNumber).Collect(ctx)
	if err != nil {
		return nil, err
	}
	bodies := make([]string, 0, len(reviews))
	for _, review := range reviews {
		if review.Body == "" {
			continue
		}
		bodies = append(bodies, review.Body)
	}
	return bodies, nil
}

// splitFullName breaks "owner/name" into its parts.
func splitFullName(repo string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" {
		return "", "", fmt.Errorf("worker: repository %q is not owner/name", repo)
	}
	return owner, name, nil
}
