// Copyright 2026 The Steward Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/steward-works/steward/lib/agent"
	"github.com/steward-works/steward/lib/clock"
	"github.com/steward-works/steward/lib/config"
	"github.com/steward-works/steward/lib/github"
	"github.com/steward-works/steward/lib/process"
	"github.com/steward-works/steward/lib/queue"
	"github.com/steward-works/steward/lib/repomap"
	"github.com/steward-works/steward/lib/service"
	"github.com/steward-works/steward/lib/transcript"
	"github.com/steward-works/steward/lib/version"
	"github.com/steward-works/steward/lib/worker"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		listenFlag  string
		showVersion bool
	)
	flags := pflag.NewFlagSet("steward-service", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "path to steward.yaml (overrides STEWARD_CONFIG)")
	flags.StringVar(&listenFlag, "listen", "", "listen address (overrides server.listen)")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}

	if showVersion {
		fmt.Printf("steward-service %s\n", version.Info())
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if listenFlag != "" {
		cfg.Server.Listen = listenFlag
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	logger := service.NewLogger()
	logger.Info("steward-service starting",
		"version", version.Info(),
		"listen", cfg.Server.Listen,
		"data_dir", cfg.Paths.DataDir,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Durations were vetted by Validate; parse errors cannot occur.
	apiTimeout, _ := time.ParseDuration(cfg.GitHub.APITimeout)
	pollInterval, _ := time.ParseDuration(cfg.Worker.PollInterval)
	cloneTimeout, _ := time.ParseDuration(cfg.Worker.CloneTimeout)
	fetchTimeout, _ := time.ParseDuration(cfg.Worker.FetchTimeout)
	checkoutTimeout, _ := time.ParseDuration(cfg.Worker.CheckoutTimeout)
	pullTimeout, _ := time.ParseDuration(cfg.Worker.PullTimeout)

	clk := clock.Real()

	webhookSecret, err := readSecretFile(cfg.GitHub.WebhookSecretFile)
	if err != nil {
		return fmt.Errorf("reading webhook secret: %w", err)
	}

	githubClient, err := newGitHubClient(cfg.GitHub, clk, logger)
	if err != nil {
		return err
	}

	repos, err := buildRepoMap(ctx, cfg, logger)
	if err != nil {
		return err
	}

	store, err := queue.OpenStore(queue.Config{
		Path:   filepath.Join(cfg.Paths.DataDir, "jobs.db"),
		Clock:  clk,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	// Jobs left in running by a previous crash are surfaced, never
	// silently healed: the operator decides whether to re-trigger.
	stranded, err := store.Running(ctx)
	if err != nil {
		return err
	}
	for _, job := range stranded {
		logger.Warn("job stranded in running from a previous run",
			"job_id", job.ID,
			"repo", job.Repo,
			"pr", job.PRNumber,
			"command", job.Command,
			"age", clk.Now().Sub(time.Unix(job.StartedAt, 0)).Round(time.Second),
		)
	}

	transcripts, err := transcript.New(filepath.Join(cfg.Paths.DataDir, "transcripts"))
	if err != nil {
		return err
	}

	agentWorker, err := worker.New(worker.Config{
		Store:       store,
		Repos:       repos,
		VCS:         worker.Git{},
		Host:        worker.GitHubHost{Client: githubClient},
		Agent:       agent.NewCLI(cfg.Worker.AgentBinary),
		Transcripts: transcripts,
		Clock:       clk,
		Logger:      logger,

		PollInterval:    pollInterval,
		CloneTimeout:    cloneTimeout,
		FetchTimeout:    fetchTimeout,
		CheckoutTimeout: checkoutTimeout,
		PullTimeout:     pullTimeout,
		JobTimeout:      time.Duration(cfg.Worker.TimeoutMinutes) * time.Minute,
		MaxTurns:        cfg.Worker.MaxTurns,
		APITimeout:      apiTimeout,
	})
	if err != nil {
		return err
	}

	webhookHandler := NewWebhookHandler(WebhookConfig{
		Secret:      webhookSecret,
		AllowedUser: cfg.GitHub.AllowedUser,
		Repos:       repos,
		Store:       store,
		Host:        githubHost{client: githubClient},
		APITimeout:  apiTimeout,
		Clock:       clk,
		Logger:      logger,
	})

	mux := http.NewServeMux()
	mux.Handle("/webhook", webhookHandler)
	mux.Handle("/healthz", &healthHandler{store: store, logger: logger})

	httpServer := service.NewHTTPServer(service.HTTPServerConfig{
		Address:         cfg.Server.Listen,
		Handler:         mux,
		ShutdownTimeout: 5 * time.Second,
		Logger:          logger,
	})

	workerDone := make(chan error, 1)
	go func() {
		workerDone <- agentWorker.Run(ctx)
	}()

	httpDone := make(chan error, 1)
	go func() {
		httpDone <- httpServer.Serve(ctx)
	}()

	select {
	case <-httpServer.Ready():
		logger.Info("steward-service ready",
			"address", httpServer.Addr().String(),
			"repos", repos.Len(),
		)
	case err := <-httpDone:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	if err := <-httpDone; err != nil {
		logger.Error("http server error", "error", err)
	}
	if err := <-workerDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker error", "error", err)
	}

	logger.Info("steward-service stopped")
	return nil
}

// loadConfig resolves the configuration source: the --config flag when
// given, otherwise the STEWARD_CONFIG environment variable.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// readSecretFile reads a trimmed secret from a file. Secrets live one
// per file so they stay out of the config file and the environment.
func readSecretFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	secret := []byte(strings.TrimSpace(string(data)))
	if len(secret) == 0 {
		return nil, fmt.Errorf("secret file %s is empty", path)
	}
	return secret, nil
}

// newGitHubClient builds the API client for whichever auth mode the
// config selects. Validate has already enforced that exactly one mode
// is configured.
func newGitHubClient(cfg config.GitHubConfig, clk clock.Clock, logger *slog.Logger) (*github.Client, error) {
	clientConfig := github.Config{
		Clock:  clk,
		Logger: logger,
	}
	if cfg.TokenFile != "" {
		token, err := readSecretFile(cfg.TokenFile)
		if err != nil {
			return nil, fmt.Errorf("reading github token: %w", err)
		}
		clientConfig.Token = string(token)
	} else {
		key, err := os.ReadFile(cfg.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading github app key: %w", err)
		}
		clientConfig.AppID = cfg.AppID
		clientConfig.PrivateKey = key
		clientConfig.InstallationID = cfg.InstallationID
	}
	return github.NewClient(clientConfig)
}

// buildRepoMap assembles the repository map from explicit config
// entries plus optional working-copy discovery.
func buildRepoMap(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*repomap.Map, error) {
	explicit := make(map[string]string, len(cfg.Repos))
	for _, mapping := range cfg.Repos {
		explicit[mapping.GitHub] = mapping.Path
	}
	return repomap.Build(ctx, repomap.Config{
		Explicit:  explicit,
		ScanPath:  cfg.ReposDir.Path,
		ScanDepth: cfg.ReposDir.MaxDepth,
		Logger:    logger,
	})
}

// githubHost adapts the GitHub API client to the PRHost interface,
// translating repository full names into the owner/name pairs the
// client takes.
type githubHost struct {
	client *github.Client
}

func (h githubHost) HeadBranch(ctx context.Context, repo string, prNumber int) (string, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return "", err
	}
	pr, err := h.client.GetPullRequest(ctx, owner, name, prNumber)
	if err != nil {
		return "", err
	}
	return pr.Head.Ref, nil
}

func (h githubHost) CreateComment(ctx context.Context, repo string, prNumber int, body string) error {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return err
	}
	_, err = h.client.CreateIssueComment(ctx, owner, name, prNumber, body)
	return err
}

func splitRepo(repo string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" {
		return "", "", fmt.Errorf("repository %q is not owner/name", repo)
	}
	return owner, name, nil
}
