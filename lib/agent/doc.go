// Copyright 2026 The Steward Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent runs a coding agent to completion inside a repository
// working copy.
//
// The worker hands an [Invocation] — instruction, turn budget,
// wall-clock limit, working directory — to a [Runner] and gets back a
// [Result] carrying the exit code and everything the agent wrote. The
// runner draws no conclusions: classifying an exit code, truncating
// output for a PR comment, and archiving the transcript are all the
// worker's business.
//
// [CLI] is the production runner. It invokes the Claude Code binary in
// non-interactive mode and waits for it to finish. A run that exceeds
// its wall-clock limit is killed and reported as TimedOut with whatever
// output was captured — a timeout is an outcome, not a transport
// failure. Only failures to run the binary at all (missing binary,
// cancelled service shutdown) surface as errors.
package agent
