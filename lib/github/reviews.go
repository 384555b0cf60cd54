// Copyright 2026 The Steward Authors
// SPDX-License-Identifier: Apache-2.0

package github

import (
	"context"
	"fmt"
)

// ListReviews returns a paginated iterator over the submitted reviews
// on a pull request, oldest first.
func (client *Client) ListReviews(ctx context.Context, owner, repo string, number int) *PageIterator[Review] {
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d/reviews?per_page=100", owner, repo, number)
	return list[Review](client, path)
}

// ListReviewComments returns a paginated iterator over the inline diff
// comments on a pull request, oldest first. Comments on outdated diffs
// are included with a zero line number.
func (client *Client) ListReviewComments(ctx context.Context, owner, repo string, number int) *PageIterator[ReviewComment] {
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d/comments?per_page=100", owner, repo, number)
	return list[ReviewComment](client, path)
}
