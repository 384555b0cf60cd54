// Copyright 2026 The Steward Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides shared infrastructure for the Steward
// service binary.
//
// The binary composes these utilities in its own main() function
// rather than subclassing a framework. The package provides building
// blocks, not a runtime:
//
//   - HTTP server: TCP listener lifecycle with readiness signaling
//     and graceful shutdown ([HTTPServer]).
//   - Webhook authentication: constant-time HMAC-SHA256 signature
//     verification of raw payloads ([VerifyWebhookHMAC]).
//   - Logging: the standard JSON-to-stderr slog handler ([NewLogger]).
//
// # Authentication
//
// Webhook requests are authenticated solely by their HMAC signature
// over the raw body. Verification happens before any byte of the
// payload is parsed; a request that fails verification is rejected
// without revealing which part of the check failed.
package service
