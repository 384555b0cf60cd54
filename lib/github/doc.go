// Copyright 2026 The Steward Authors
// SPDX-License-Identifier: Apache-2.0

// Package github provides a typed Go client for the GitHub REST API.
//
// The client authenticates via a personal access token or as a GitHub
// App installation (preferred for bot deployments). It handles rate
// limiting (X-RateLimit-* headers with automatic backoff), pagination
// (RFC 5988 Link headers), conditional requests (ETags), and structured
// error mapping.
//
// All requests are made over HTTPS. The client refuses non-HTTPS base URLs.
//
// Steward uses the client in two places: the webhook ingress resolves
// pull request head branches before enqueueing a job, and the worker
// gathers review context and posts job lifecycle comments back to the
// triggering pull request.
package github
