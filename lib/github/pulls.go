// Copyright 2026 The Steward Authors
// SPDX-License-Identifier: Apache-2.0

package github

import (
	"context"
	"fmt"
)

// GetPullRequest retrieves a single pull request by number. The webhook
// ingress uses the head ref to record which branch a job runs against.
func (client *Client) GetPullRequest(ctx context.Context, owner, repo string, number int) (*PullRequest, error) {
	var pullRequest PullRequest
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d", owner, repo, number)
	if err := client.get(ctx, path, &pullRequest); err != nil {
		return nil, fmt.Errorf("getting PR %s/%s#%d: %w", owner, repo, number, err)
	}
	return &pullRequest, nil
}
