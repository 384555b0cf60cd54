// Copyright 2026 The Steward Authors
// SPDX-License-Identifier: Apache-2.0

package github

import "time"

// User is a GitHub user reference. Appears in PR authors, comment
// senders, reviewers, and assignees.
type User struct {
	Login   string `json:"login"`
	ID      int64  `json:"id"`
	HTMLURL string `json:"html_url"`
}

// Label is a GitHub issue/PR label.
type Label struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Branch is a git branch reference on a pull request.
type Branch struct {
	Ref string `json:"ref"` // branch name
	SHA string `json:"sha"` // head commit SHA
}

// Comment is a GitHub issue or PR conversation comment.
type Comment struct {
	ID        int64     `json:"id"`
	Body      string    `json:"body"`
	HTMLURL   string    `json:"html_url"`
	User      User      `json:"user"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PullRequest is a GitHub pull request.
type PullRequest struct {
	Number    int        `json:"number"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	State     string     `json:"state"` // "open" or "closed"
	HTMLURL   string     `json:"html_url"`
	User      User       `json:"user"`
	Head      Branch     `json:"head"`
	Base      Branch     `json:"base"`
	Draft     bool       `json:"draft"`
	Merged    bool       `json:"merged"`
	Labels    []Label    `json:"labels"`
	Assignees []User     `json:"assignees"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at"`
	MergedAt  *time.Time `json:"merged_at"`
}

// Review is a GitHub pull request review.
type Review struct {
	ID          int64     `json:"id"`
	State       string    `json:"state"` // "APPROVED", "CHANGES_REQUESTED", "COMMENTED"
	Body        string    `json:"body"`
	HTMLURL     string    `json:"html_url"`
	User        User      `json:"user"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// ReviewComment is an inline comment on a pull request diff, anchored
// to a file and line. Distinct from Comment: review comments live on
// the pulls API, conversation comments on the issues API.
type ReviewComment struct {
	ID        int64     `json:"id"`
	Path      string    `json:"path"`
	Line      int       `json:"line"` // zero for comments on outdated diffs
	Body      string    `json:"body"`
	HTMLURL   string    `json:"html_url"`
	User      User      `json:"user"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
