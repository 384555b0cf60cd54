// Copyright 2026 The Steward Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the Steward
// service.
//
// Configuration is loaded from a single file specified by either the
// STEWARD_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks, no ~/.config discovery,
// and no automatic file search. This ensures deterministic, auditable
// configuration with no hidden overrides.
//
// Variable expansion is performed on path fields after loading: a
// leading ~, ${HOME}, and ${VAR:-default} patterns are expanded. No
// other environment variables override config values.
//
// Secrets (the webhook HMAC secret and the GitHub API token) are never
// stored inline; the config names files that contain them, and the
// service reads those files at startup.
//
// Key exports:
//
//   - [Config] -- master struct with Server, GitHub, Repos, Worker, Paths
//   - [Default] -- returns a Config with the documented defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//
// This package depends on no other Steward packages.
package config
