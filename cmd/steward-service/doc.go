// Copyright 2026 The Steward Authors
// SPDX-License-Identifier: Apache-2.0

// Steward service. Receives GitHub webhook events, turns [action],
// [fix], and [status] comments from the trusted user into agent jobs,
// and executes them one at a time against local working copies.
//
// Two HTTP endpoints:
//   - POST /webhook: issue_comment ingestion from GitHub (HMAC-SHA256
//     verified)
//   - GET /healthz: liveness plus pending queue depth
//
// Configuration comes from a single YAML file named by STEWARD_CONFIG
// or --config; see lib/config. The job queue and agent transcripts
// live under paths.data_dir.
package main
