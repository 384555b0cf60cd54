// Copyright 2026 The Steward Authors
// SPDX-License-Identifier: Apache-2.0

package main

// GitHub webhook payload types. Minimal structs extracting only the
// fields the classifier reads — issue_comment payloads carry hundreds
// of fields that are irrelevant here.
//
// JSON field names match GitHub's webhook payload documentation.

// ghUser is a GitHub user reference, as it appears in the sender field.
type ghUser struct {
	Login string `json:"login"`
}

// ghRepository is a GitHub repository reference.
type ghRepository struct {
	FullName string `json:"full_name"` // "owner/name"
}

// ghPullRequestMarker is the issue.pull_request sub-object. GitHub
// models pull requests as issues; the marker's presence is what
// distinguishes a PR comment from a plain issue comment. Only nil
// versus non-nil matters.
type ghPullRequestMarker struct {
	URL string `json:"url"`
}

// ghIssue is the issue a comment was posted on.
type ghIssue struct {
	Number      int                  `json:"number"`
	PullRequest *ghPullRequestMarker `json:"pull_request"`
}

// ghComment is the comment that triggered the event.
type ghComment struct {
	ID   int64  `json:"id"`
	Body string `json:"body"`
}

// ghIssueCommentPayload is the webhook payload for an "issue_comment"
// event.
type ghIssueCommentPayload struct {
	Action     string       `json:"action"` // created, edited, deleted
	Issue      ghIssue      `json:"issue"`
	Comment    ghComment    `json:"comment"`
	Repository ghRepository `json:"repository"`
	Sender     ghUser       `json:"sender"`
}
