// Copyright 2026 The Steward Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/steward-works/steward/lib/clock"
	"github.com/steward-works/steward/lib/queue"
	"github.com/steward-works/steward/lib/repomap"
	"github.com/steward-works/steward/lib/service"
)

// maxWebhookBodySize caps how much of a request body is read.
// issue_comment payloads are a few KB — comment bodies max out at
// 65536 characters — so 10 MB is generous headroom.
const maxWebhookBodySize = 10 * 1024 * 1024

// Delivery deduplication bounds. GitHub retries failed deliveries
// within minutes, so an hour of memory is conservative; the prune
// threshold keeps the map bounded if the delivery rate spikes.
const (
	deduplicationWindow = 1 * time.Hour
	deduplicationLimit  = 1000
)

// commandPattern matches the command token that must open the first
// line of a triggering comment.
var commandPattern = regexp.MustCompile(`(?i)^\[(action|fix|status)\]`)

// PRHost is the GitHub surface the ingress path needs: resolving a
// pull request's head branch and posting the synchronous reply
// comments.
type PRHost interface {
	HeadBranch(ctx context.Context, repo string, prNumber int) (string, error)
	CreateComment(ctx context.Context, repo string, prNumber int, body string) error
}

// commandRequest is a fully classified webhook event: a recognized
// command from the allowed sender on a pull request.
type commandRequest struct {
	command     string // "action", "fix", or "status", lowercased
	repo        string // repository full name, owner/name
	prNumber    int
	commentID   int64
	commentBody string
	sender      string
}

// Reply bodies for the 200 responses. GitHub only cares about the
// status code; the JSON exists for operators replaying deliveries by
// hand.
type reasonReply struct {
	Status string `json:"status"` // "ignored" or "error"
	Reason string `json:"reason"`
}

type statusReply struct {
	Status  string `json:"status"`
	Command string `json:"command"`
}

type queuedReply struct {
	Status   string `json:"status"`
	JobID    int64  `json:"job_id"`
	Position int    `json:"position"`
}

type healthReply struct {
	Status      string `json:"status"`
	QueueLength int    `json:"queue_length"`
}

// WebhookHandler is the HTTP ingress for GitHub events. It runs the
// pipeline: signature verification, delivery dedup, payload parsing,
// classification, repository check, then either a synchronous status
// reply or branch resolution and enqueue.
//
// Filtered events answer 200 with the reason — a non-2xx would make
// GitHub retry a delivery that will never be wanted.
type WebhookHandler struct {
	secret      []byte
	allowedUser string
	repos       *repomap.Map
	store       *queue.Store
	host        PRHost
	apiTimeout  time.Duration
	clock       clock.Clock
	logger      *slog.Logger

	// deliveries tracks recently seen X-GitHub-Delivery IDs for
	// replay protection.
	mu         sync.Mutex
	deliveries map[string]time.Time
}

// WebhookConfig configures a WebhookHandler.
type WebhookConfig struct {
	// Secret is the HMAC shared secret GitHub signs payloads with.
	// Required.
	Secret []byte

	// AllowedUser is the single GitHub login whose comments are
	// honored. Required.
	AllowedUser string

	// Repos maps repository full names to working copies. Required.
	Repos *repomap.Map

	// Store is the job queue. Required.
	Store *queue.Store

	// Host resolves PR branches and posts reply comments. Required.
	Host PRHost

	// APITimeout bounds each GitHub call made while answering a
	// request. Defaults to 30 seconds.
	APITimeout time.Duration

	// Clock provides time for delivery dedup. Defaults to
	// clock.Real().
	Clock clock.Clock

	// Logger is the structured logger. Required.
	Logger *slog.Logger
}

// NewWebhookHandler creates the ingress handler. Panics on missing
// required configuration.
func NewWebhookHandler(config WebhookConfig) *WebhookHandler {
	if len(config.Secret) == 0 {
		panic("WebhookHandler: Secret is required")
	}
	if config.AllowedUser == "" {
		panic("WebhookHandler: AllowedUser is required")
	}
	if config.Repos == nil {
		panic("WebhookHandler: Repos is required")
	}
	if config.Store == nil {
		panic("WebhookHandler: Store is required")
	}
	if config.Host == nil {
		panic("WebhookHandler: Host is required")
	}
	if config.Logger == nil {
		panic("WebhookHandler: Logger is required")
	}

	apiTimeout := config.APITimeout
	if apiTimeout == 0 {
		apiTimeout = 30 * time.Second
	}
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}

	return &WebhookHandler{
		secret:      config.Secret,
		allowedUser: config.AllowedUser,
		repos:       config.Repos,
		store:       config.Store,
		host:        config.Host,
		apiTimeout:  apiTimeout,
		clock:       clk,
		logger:      config.Logger,
		deliveries:  make(map[string]time.Time),
	}
}

// ServeHTTP handles a single webhook delivery.
func (h *WebhookHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		http.Error(writer, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// HMAC verification needs the raw bytes, so read before parsing.
	body, err := io.ReadAll(io.LimitReader(request.Body, maxWebhookBodySize))
	if err != nil {
		h.logger.Error("webhook: reading body failed", "error", err)
		http.Error(writer, "", http.StatusInternalServerError)
		return
	}
	if len(body) == 0 {
		http.Error(writer, "empty body", http.StatusBadRequest)
		return
	}

	// A header that is absent or not even shaped like a signature is a
	// malformed request. A well-formed signature that fails to verify
	// is an authentication failure: 401, with no detail about what
	// went wrong.
	signature := request.Header.Get("X-Hub-Signature-256")
	if !strings.HasPrefix(signature, "sha256=") {
		http.Error(writer, "missing signature", http.StatusBadRequest)
		return
	}
	if err := service.VerifyWebhookHMAC(h.secret, body, signature); err != nil {
		h.logger.Warn("webhook: HMAC verification failed",
			"error", err,
			"remote_addr", request.RemoteAddr,
		)
		http.Error(writer, "", http.StatusUnauthorized)
		return
	}

	// Replay protection. The store's trigger-ID constraint is the
	// durable guard; this map just short-circuits re-classification
	// and the GitHub round-trips behind it.
	deliveryID := request.Header.Get("X-GitHub-Delivery")
	if deliveryID != "" && h.isDuplicateDelivery(deliveryID) {
		h.logger.Info("webhook: duplicate delivery ignored", "delivery_id", deliveryID)
		h.writeJSON(writer, reasonReply{Status: "ignored", Reason: "duplicate delivery"})
		return
	}

	var payload ghIssueCommentPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(writer, "invalid JSON", http.StatusBadRequest)
		return
	}

	eventType := request.Header.Get("X-GitHub-Event")
	cmd, ignoreReason := classify(eventType, &payload, h.allowedUser)
	if cmd == nil {
		h.logger.Info("webhook: event ignored",
			"reason", ignoreReason,
			"delivery_id", deliveryID,
		)
		h.writeJSON(writer, reasonReply{Status: "ignored", Reason: ignoreReason})
		return
	}

	h.logger.Info("command received",
		"command", cmd.command,
		"repo", cmd.repo,
		"pr", cmd.prNumber,
		"comment_id", cmd.commentID,
	)

	// Unconfigured repositories are filtered, not failed, so GitHub
	// never retries them.
	if _, ok := h.repos.Resolve(cmd.repo); !ok {
		h.logger.Warn("repository not configured", "repo", cmd.repo)
		h.writeJSON(writer, reasonReply{
			Status: "ignored",
			Reason: fmt.Sprintf("repo %s not configured", cmd.repo),
		})
		return
	}

	if cmd.command == "status" {
		h.answerStatus(request.Context(), writer, cmd)
		return
	}

	h.enqueue(request.Context(), writer, cmd)
}

// answerStatus replies to a [status] command synchronously: it never
// becomes a job.
func (h *WebhookHandler) answerStatus(ctx context.Context, writer http.ResponseWriter, cmd *commandRequest) {
	length, err := h.store.QueueLength(ctx)
	if err != nil {
		h.logger.Error("queue length lookup failed", "error", err)
		http.Error(writer, "", http.StatusInternalServerError)
		return
	}

	message := "[status] No jobs in queue. Ready to process commands."
	if length > 0 {
		message = fmt.Sprintf("[status] Queue length: %d job(s) pending.", length)
	}
	h.postComment(ctx, cmd.repo, cmd.prNumber, message)

	h.writeJSON(writer, statusReply{Status: "ok", Command: "status"})
}

// enqueue resolves the PR head branch and inserts the job, posting the
// queued-position comment on success.
func (h *WebhookHandler) enqueue(ctx context.Context, writer http.ResponseWriter, cmd *commandRequest) {
	branchCtx, cancel := context.WithTimeout(ctx, h.apiTimeout)
	branch, err := h.host.HeadBranch(branchCtx, cmd.repo, cmd.prNumber)
	cancel()
	if err != nil || branch == "" {
		h.logger.Error("resolving PR head branch failed",
			"repo", cmd.repo,
			"pr", cmd.prNumber,
			"error", err,
		)
		h.postComment(ctx, cmd.repo, cmd.prNumber, "[failed] Could not determine PR branch.")
		h.writeJSON(writer, reasonReply{Status: "error", Reason: "could not get branch"})
		return
	}

	jobID, created, err := h.store.Create(ctx, cmd.repo, cmd.prNumber, branch, queue.Command(cmd.command), cmd.commentID)
	if err != nil {
		h.logger.Error("enqueue failed",
			"repo", cmd.repo,
			"pr", cmd.prNumber,
			"error", err,
		)
		http.Error(writer, "", http.StatusInternalServerError)
		return
	}
	if !created {
		h.logger.Info("duplicate trigger ignored",
			"comment_id", cmd.commentID,
			"job_id", jobID,
		)
		h.writeJSON(writer, reasonReply{Status: "ignored", Reason: "duplicate comment_id"})
		return
	}

	position, err := h.store.PositionOf(ctx, jobID)
	if err != nil {
		h.logger.Error("queue position lookup failed", "job_id", jobID, "error", err)
		http.Error(writer, "", http.StatusInternalServerError)
		return
	}

	h.postComment(ctx, cmd.repo, cmd.prNumber, fmt.Sprintf("[queued] Job queued. Position: %d", position))

	h.logger.Info("job queued",
		"job_id", jobID,
		"repo", cmd.repo,
		"pr", cmd.prNumber,
		"command", cmd.command,
		"position", position,
	)
	h.writeJSON(writer, queuedReply{Status: "ok", JobID: jobID, Position: position})
}

// postComment posts a PR comment, logging failures. A lost comment
// never changes the response GitHub sees.
func (h *WebhookHandler) postComment(ctx context.Context, repo string, prNumber int, body string) {
	callCtx, cancel := context.WithTimeout(ctx, h.apiTimeout)
	defer cancel()
	if err := h.host.CreateComment(callCtx, repo, prNumber, body); err != nil {
		h.logger.Error("posting comment failed",
			"repo", repo,
			"pr", prNumber,
			"error", err,
		)
	}
}

// isDuplicateDelivery checks and records a delivery ID. Returns true
// if the delivery was already seen within the deduplication window.
func (h *WebhookHandler) isDuplicateDelivery(deliveryID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.clock.Now()

	// Prune only once the map outgrows the bound. Expiry itself is
	// lazy: an entry past the window stops counting as a duplicate
	// whether or not it has been pruned.
	if len(h.deliveries) > deduplicationLimit {
		for id, seenAt := range h.deliveries {
			if now.Sub(seenAt) > deduplicationWindow {
				delete(h.deliveries, id)
			}
		}
	}

	if seenAt, ok := h.deliveries[deliveryID]; ok && now.Sub(seenAt) <= deduplicationWindow {
		return true
	}
	h.deliveries[deliveryID] = now
	return false
}

func (h *WebhookHandler) writeJSON(writer http.ResponseWriter, reply any) {
	writeJSON(writer, h.logger, reply)
}

// classify applies the filter chain to an authenticated event. Returns
// the command request, or the reason the event was filtered. Reason
// strings are stable: they appear in HTTP responses and logs.
func classify(eventType string, payload *ghIssueCommentPayload, allowedUser string) (*commandRequest, string) {
	if eventType != "issue_comment" {
		return nil, "not issue_comment event"
	}
	if payload.Action != "created" {
		return nil, "not created action"
	}
	if payload.Issue.PullRequest == nil {
		return nil, "not a PR"
	}
	if payload.Sender.Login != allowedUser {
		return nil, fmt.Sprintf("sender %s not allowed", payload.Sender.Login)
	}

	firstLine, _, _ := strings.Cut(payload.Comment.Body, "\n")
	match := commandPattern.FindStringSubmatch(strings.TrimSpace(firstLine))
	if match == nil {
		return nil, "no command found"
	}

	return &commandRequest{
		command:     strings.ToLower(match[1]),
		repo:        payload.Repository.FullName,
		prNumber:    payload.Issue.Number,
		commentID:   payload.Comment.ID,
		commentBody: payload.Comment.Body,
		sender:      payload.Sender.Login,
	}, ""
}

// healthHandler answers liveness probes with the pending queue depth,
// mirroring what [status] reports in PR comments.
type healthHandler struct {
	store  *queue.Store
	logger *slog.Logger
}

func (h *healthHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodGet {
		http.Error(writer, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	length, err := h.store.QueueLength(request.Context())
	if err != nil {
		h.logger.Error("queue length lookup failed", "error", err)
		http.Error(writer, "", http.StatusInternalServerError)
		return
	}
	writeJSON(writer, h.logger, healthReply{Status: "ok", QueueLength: length})
}

func writeJSON(writer http.ResponseWriter, logger *slog.Logger, reply any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(writer).Encode(reply); err != nil {
		logger.Error("webhook: encoding response failed", "error", err)
	}
}
