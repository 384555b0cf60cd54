// Copyright 2026 The Steward Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/steward-works/steward/lib/queue"
)

// planCandidates are the plan document locations probed in order. The
// first one present wins.
var planCandidates = []string{"PLAN.md", "plan.md", ".claude/plan.md", "docs/plan.md"}

// noReviewText stands in for a review source that is empty or could
// not be fetched. Both sections always appear in the fix instruction
// so the agent sees the full shape of the request.
const noReviewText = "(none)"

const missingPlanTemplate = `
No plan file found in %s.

Post a comment to the PR explaining that no plan file was found:
gh pr comment %d --repo %s --body '[waiting] No plan file found. Please create one of: PLAN.md, plan.md, .claude/plan.md, or docs/plan.md'
`

const actionTemplate = `
Execute the plan in '%s'.

Repository: %s
PR: #%d
Branch: %s

Instructions:
1. Read the plan file carefully
2. Implement each step in order
3. After each significant change, run the project's test command (check Makefile, package.json, or project config)
4. Commit changes with descriptive messages
5. Push changes: git push origin %s

Do NOT post comments to the PR - the system will handle that.
`

const fixTemplate = `
Address the PR review comments.

Repository: %s
PR: #%d
Branch: %s

=== Inline Review Comments ===
%s

=== PR Reviews ===
%s

Instructions:
1. Read each comment and understand what change is requested
2. Make the requested changes to the code
3. If a comment is a question, improve the code or add clarifying comments
4. Run the project's test command (check Makefile, package.json, or project config)
5. Commit: git commit -am 'Address PR review feedback'
6. Push: git push origin %s

Do NOT post comments to the PR - the system will handle that.
`

// instruction builds the agent prompt for the job's command.
func (w *Worker) instruction(ctx context.Context, logger *slog.Logger, job *queue.Job, dir string) string {
	if job.Command == queue.CommandFix {
		return w.fixInstruction(ctx, logger, job)
	}
	return actionInstruction(dir, job.Repo, job.PRNumber, job.Branch)
}

// actionInstruction builds the instruction for an action job. When the
// working copy has no plan document the instruction degrades to having
// the agent post a [waiting] comment: a missing plan is the
// repository's state, not a job failure.
func actionInstruction(dir, repo string, prNumber int, branch string) string {
	planPath, ok := findPlan(dir)
	if !ok {
		return fmt.Sprintf(missingPlanTemplate, dir, prNumber, repo)
	}
	return fmt.Sprintf(actionTemplate, planPath, repo, prNumber, branch, branch)
}

// fixInstruction builds the instruction for a fix job. Review text
// comes from the code host; a source that is empty or fails to load
// renders as "(none)" rather than failing the job.
func (w *Worker) fixInstruction(ctx context.Context, logger *slog.Logger, job *queue.Job) string {
	inline := w.reviewBlock(ctx, logger, job, "inline comments", w.cfg.Host.ReviewCommentBodies)
	reviews := w.reviewBlock(ctx, logger, job, "reviews", w.cfg.Host.ReviewBodies)
	return fmt.Sprintf(fixTemplate, job.Repo, job.PRNumber, job.Branch, inline, reviews, job.Branch)
}

// reviewBlock loads one review source into prompt text.
func (w *Worker) reviewBlock(ctx context.Context, logger *slog.Logger, job *queue.Job, source string, fetch func(context.Context, string, int) ([]string, error)) string {
	fetchCtx, cancel := context.WithTimeout(ctx, w.cfg.APITimeout)
	defer cancel()

	bodies, err := fetch(fetchCtx, job.Repo, job.PRNumber)
	if err != nil {
		logger.Warn("fetching review text failed, continuing without",
			"source", source,
			"error", err)
		return noReviewText
	}
	joined := strings.Join(bodies, "\n")
	if strings.TrimSpace(joined) == "" {
		return noReviewText
	}
	return joined
}

// findPlan returns the first plan document present in the working
// copy.
func findPlan(dir string) (string, bool) {
	for _, candidate := range planCandidates {
		path := filepath.Join(dir, candidate)
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}
