// Copyright 2026 The Steward Authors
// SPDX-License-Identifier: Apache-2.0

package github

import (
	"context"
	"fmt"
)

// CreateIssueComment creates a comment on an issue or pull request.
// Every pull request is also an issue, so PR conversation comments go
// through the issues endpoint. This is how the worker reports job
// lifecycle events back to the triggering pull request.
func (client *Client) CreateIssueComment(ctx context.Context, owner, repo string, number int, body string) (*Comment, error) {
	var comment Comment
	request := struct {
		Body string `json:"body"`
	}{Body: body}
	path := fmt.Sprintf("/repos/%s/%s/issues/%d/comments", owner, repo, number)
	if err := client.post(ctx, path, request, &comment); err != nil {
		return nil, fmt.Errorf("creating comment on %s/%s#%d: %w", owner, repo, number, err)
	}
	return &comment, nil
}
