// Copyright 2026 The Steward Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for the Steward service.
type Config struct {
	// Server configures the HTTP listener.
	Server ServerConfig `yaml:"server"`

	// GitHub configures authentication and the trusted principal.
	GitHub GitHubConfig `yaml:"github"`

	// Repos maps repository full names to local working copies.
	// Explicit entries win over repos_dir discovery.
	Repos []RepoMapping `yaml:"repos"`

	// ReposDir configures optional working-copy discovery.
	ReposDir ReposDirConfig `yaml:"repos_dir"`

	// Worker configures the job execution loop.
	Worker WorkerConfig `yaml:"worker"`

	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Listen is the address the webhook listener binds to.
	// Default: 127.0.0.1:8787
	Listen string `yaml:"listen"`
}

// GitHubConfig configures GitHub authentication and trust.
type GitHubConfig struct {
	// AllowedUser is the single GitHub login whose comments trigger
	// commands. Comments from any other sender are ignored. Required.
	AllowedUser string `yaml:"allowed_user"`

	// WebhookSecretFile is the path to a file containing the webhook
	// HMAC shared secret. The file contents are trimmed of surrounding
	// whitespace. Required.
	WebhookSecretFile string `yaml:"webhook_secret_file"`

	// TokenFile is the path to a file containing the GitHub API token.
	// Required unless App credentials are configured.
	TokenFile string `yaml:"token_file"`

	// AppID is the GitHub App's numeric ID. Set together with
	// PrivateKeyFile and InstallationID to authenticate as a GitHub App
	// installation instead of with a token.
	AppID int64 `yaml:"app_id"`

	// PrivateKeyFile is the path to the App's PEM-encoded RSA private
	// key. Required for App auth.
	PrivateKeyFile string `yaml:"private_key_file"`

	// InstallationID is the App installation's numeric ID. Required
	// for App auth.
	InstallationID int64 `yaml:"installation_id"`

	// APITimeout bounds each GitHub API call.
	// Default: 30s
	APITimeout string `yaml:"api_timeout"`
}

// RepoMapping maps a GitHub repository to a local working copy.
type RepoMapping struct {
	// GitHub is the repository full name ("owner/name").
	GitHub string `yaml:"github"`

	// Path is the local working copy directory. Supports ~ and ${VAR}
	// expansion. The directory need not exist yet; the worker clones
	// into it on first use.
	Path string `yaml:"path"`
}

// ReposDirConfig configures working-copy discovery. When Path is set,
// directories containing .git under it (up to MaxDepth levels deep)
// are registered as working copies named after their GitHub origin
// remote.
type ReposDirConfig struct {
	// Path is the directory to scan. Empty disables discovery.
	Path string `yaml:"path"`

	// MaxDepth limits how deep the scan descends below Path.
	// Default: 2
	MaxDepth int `yaml:"max_depth"`
}

// WorkerConfig configures the job execution loop. Timing fields are
// duration strings ("5s", "2m"); they are validated by Validate and
// parsed again at the point of use.
type WorkerConfig struct {
	// PollInterval is how long the worker sleeps when the queue is
	// empty. Default: 5s
	PollInterval string `yaml:"poll_interval"`

	// CloneTimeout bounds the initial clone of a missing working copy.
	// Default: 300s
	CloneTimeout string `yaml:"clone_timeout"`

	// FetchTimeout bounds the per-job git fetch. Default: 120s
	FetchTimeout string `yaml:"fetch_timeout"`

	// CheckoutTimeout bounds the per-job branch checkout. Default: 30s
	CheckoutTimeout string `yaml:"checkout_timeout"`

	// PullTimeout bounds the per-job git pull. Default: 120s
	PullTimeout string `yaml:"pull_timeout"`

	// TimeoutMinutes is the wall-clock budget for one agent
	// invocation, in minutes. Named in the [timeout] notification.
	// Default: 30
	TimeoutMinutes int `yaml:"timeout_minutes"`

	// MaxTurns caps the agent's conversation turns per invocation.
	// Default: 100
	MaxTurns int `yaml:"max_turns"`

	// AgentBinary is the agent CLI executable. Resolved via PATH when
	// not absolute. Default: claude
	AgentBinary string `yaml:"agent_binary"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// DataDir holds the job database (jobs.db) and archived agent
	// transcripts (transcripts/). Created on startup if missing.
	// Default: ~/.local/share/steward
	DataDir string `yaml:"data_dir"`
}

// Default returns the default configuration. These defaults are used as
// a base before loading the config file. They exist primarily to ensure
// all fields have sensible zero-values, not as a fallback - the config
// file is required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Server: ServerConfig{
			Listen: "127.0.0.1:8787",
		},
		GitHub: GitHubConfig{
			APITimeout: "30s",
		},
		ReposDir: ReposDirConfig{
			MaxDepth: 2,
		},
		Worker: WorkerConfig{
			PollInterval:    "5s",
			CloneTimeout:    "300s",
			FetchTimeout:    "120s",
			CheckoutTimeout: "30s",
			PullTimeout:     "120s",
			TimeoutMinutes:  30,
			MaxTurns:        100,
			AgentBinary:     "claude",
		},
		Paths: PathsConfig{
			DataDir: filepath.Join(homeDir, ".local", "share", "steward"),
		},
	}
}

// Load loads configuration from the STEWARD_CONFIG environment variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks or defaults - if STEWARD_CONFIG is not set,
// this fails. This ensures deterministic, auditable configuration with
// no hidden overrides.
func Load() (*Config, error) {
	configPath := os.Getenv("STEWARD_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("STEWARD_CONFIG environment variable not set; " +
			"set it to the path of your steward.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables
// do not override config values - this ensures deterministic, auditable
// configuration. The only expansion performed is ~ and ${HOME} and
// similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	// Expand ~ and ${HOME} and similar variables in paths for
	// portability.
	cfg.expandVariables()

	return cfg, nil
}

// expandVariables expands ~ and ${VAR} patterns in all path fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.GitHub.WebhookSecretFile = expandPath(c.GitHub.WebhookSecretFile, vars)
	c.GitHub.TokenFile = expandPath(c.GitHub.TokenFile, vars)
	c.GitHub.PrivateKeyFile = expandPath(c.GitHub.PrivateKeyFile, vars)
	c.ReposDir.Path = expandPath(c.ReposDir.Path, vars)
	for i := range c.Repos {
		c.Repos[i].Path = expandPath(c.Repos[i].Path, vars)
	}
	c.Paths.DataDir = expandPath(c.Paths.DataDir, vars)
}

// expandPath expands a leading ~ and then ${VAR} patterns in a path.
func expandPath(path string, vars map[string]string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home := os.Getenv("HOME"); home != "" {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return expandVars(path, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Listen == "" {
		errs = append(errs, fmt.Errorf("server.listen is required"))
	}

	if c.GitHub.AllowedUser == "" {
		errs = append(errs, fmt.Errorf("github.allowed_user is required"))
	}
	if c.GitHub.WebhookSecretFile == "" {
		errs = append(errs, fmt.Errorf("github.webhook_secret_file is required"))
	}
	hasToken := c.GitHub.TokenFile != ""
	hasApp := c.GitHub.AppID != 0 || c.GitHub.PrivateKeyFile != "" || c.GitHub.InstallationID != 0
	switch {
	case hasToken && hasApp:
		errs = append(errs, fmt.Errorf("github: set either token_file or App credentials, not both"))
	case hasApp:
		if c.GitHub.AppID == 0 {
			errs = append(errs, fmt.Errorf("github.app_id is required for App auth"))
		}
		if c.GitHub.PrivateKeyFile == "" {
			errs = append(errs, fmt.Errorf("github.private_key_file is required for App auth"))
		}
		if c.GitHub.InstallationID == 0 {
			errs = append(errs, fmt.Errorf("github.installation_id is required for App auth"))
		}
	case !hasToken:
		errs = append(errs, fmt.Errorf("github: either token_file or App credentials (app_id, private_key_file, installation_id) are required"))
	}
	if err := checkDuration("github.api_timeout", c.GitHub.APITimeout); err != nil {
		errs = append(errs, err)
	}

	for i, repo := range c.Repos {
		if repo.GitHub == "" {
			errs = append(errs, fmt.Errorf("repos[%d].github is required", i))
		} else if strings.Count(repo.GitHub, "/") != 1 {
			errs = append(errs, fmt.Errorf("repos[%d].github must be owner/name, got %q", i, repo.GitHub))
		}
		if repo.Path == "" {
			errs = append(errs, fmt.Errorf("repos[%d].path is required", i))
		}
	}

	if c.ReposDir.Path != "" && c.ReposDir.MaxDepth < 1 {
		errs = append(errs, fmt.Errorf("repos_dir.max_depth must be at least 1, got %d", c.ReposDir.MaxDepth))
	}

	for _, field := range []struct {
		name  string
		value string
	}{
		{"worker.poll_interval", c.Worker.PollInterval},
		{"worker.clone_timeout", c.Worker.CloneTimeout},
		{"worker.fetch_timeout", c.Worker.FetchTimeout},
		{"worker.checkout_timeout", c.Worker.CheckoutTimeout},
		{"worker.pull_timeout", c.Worker.PullTimeout},
	} {
		if err := checkDuration(field.name, field.value); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Worker.TimeoutMinutes < 1 {
		errs = append(errs, fmt.Errorf("worker.timeout_minutes must be at least 1, got %d", c.Worker.TimeoutMinutes))
	}
	if c.Worker.MaxTurns < 1 {
		errs = append(errs, fmt.Errorf("worker.max_turns must be at least 1, got %d", c.Worker.MaxTurns))
	}
	if c.Worker.AgentBinary == "" {
		errs = append(errs, fmt.Errorf("worker.agent_binary is required"))
	}

	if c.Paths.DataDir == "" {
		errs = append(errs, fmt.Errorf("paths.data_dir is required"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// checkDuration verifies a duration config value parses and is positive.
func checkDuration(name, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required", name)
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q", name, value)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive, got %s", name, value)
	}
	return nil
}

// EnsurePaths creates all configured directories if they don't exist.
func (c *Config) EnsurePaths() error {
	if c.Paths.DataDir == "" {
		return nil
	}
	if err := os.MkdirAll(c.Paths.DataDir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", c.Paths.DataDir, err)
	}
	return nil
}
