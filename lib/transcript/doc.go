// Copyright 2026 The Steward Authors
// SPDX-License-Identifier: Apache-2.0

// Package transcript archives agent output as content-addressed,
// compressed files.
//
// A job's PR comment carries only the last few hundred characters of
// the agent's output; the full transcript — often megabytes of build
// logs and tool chatter — lands here. Each archived transcript is
// addressed by a keyed BLAKE3 digest of its uncompressed content and
// stored zstd-compressed as <hex digest>.zst, so re-archiving the same
// output is free and a [Ref] in a log line is enough to retrieve and
// verify the exact bytes later.
//
// The digest key is a fixed domain constant, which keeps transcript
// refs from colliding with any other BLAKE3 use of the same content.
// Transcripts are text, so zstd is the right codec for them; the
// archive does not probe or fall back to other algorithms.
//
// The API surface is [New], [Archive.Put], and [Archive.Get]. There is
// no delete: transcripts are small after compression and pruning them
// is an operator decision, not the service's.
package transcript
