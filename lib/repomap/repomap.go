// Copyright 2026 The Steward Authors
// SPDX-License-Identifier: Apache-2.0

// Package repomap resolves GitHub repository names to local working
// copies.
//
// The map is assembled once at service startup from two sources:
// explicit configuration entries, and an optional scan of a directory
// tree for git working copies. Discovered copies are named by their
// GitHub origin remote rather than their directory, so the on-disk
// layout does not have to mirror owner/name. Explicit entries always
// win over discovery. Once Build returns the map never changes, which
// is what lets the webhook handler and the worker share one instance
// without locking.
package repomap

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/steward-works/steward/lib/git"
)

// DefaultScanDepth is how deep discovery descends below the scan root
// when the configuration does not say.
const DefaultScanDepth = 2

// remoteTimeout bounds the git invocation that reads a discovered
// working copy's origin remote.
const remoteTimeout = 5 * time.Second

// remotePattern extracts the owner/name pair from the remote URL forms
// git actually emits for GitHub: https://github.com/owner/name.git,
// git@github.com:owner/name.git, and either without the .git suffix.
var remotePattern = regexp.MustCompile(`github\.com[:/]([^/]+/[^/]+?)(?:\.git)?$`)

// Config describes where working copies come from.
type Config struct {
	// Explicit maps repository full names ("owner/name") to local
	// working-copy directories. Explicit entries win over discovery.
	Explicit map[string]string

	// ScanPath is a directory searched for git working copies. Empty
	// disables discovery.
	ScanPath string

	// ScanDepth limits how deep the search descends below ScanPath.
	// Zero means DefaultScanDepth.
	ScanDepth int

	// Logger records what discovery finds. Required.
	Logger *slog.Logger
}

// Map resolves repository full names to working-copy directories. It
// is immutable once built.
type Map struct {
	paths map[string]string
}

// Build assembles the map. Discovery runs first so that explicit
// entries land last and override anything found under the same name.
// A scan root that does not exist disables discovery with a warning
// rather than failing startup: the explicit entries may be all the
// operator has.
func Build(ctx context.Context, cfg Config) (*Map, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("repomap: Logger is required")
	}

	paths := make(map[string]string)
	if cfg.ScanPath != "" {
		depth := cfg.ScanDepth
		if depth <= 0 {
			depth = DefaultScanDepth
		}
		discover(ctx, cfg.ScanPath, depth, paths, cfg.Logger)
	}

	for name, dir := range cfg.Explicit {
		if discovered, ok := paths[name]; ok && discovered != dir {
			cfg.Logger.Info("explicit mapping overrides discovered working copy",
				"repository", name,
				"explicit", dir,
				"discovered", discovered)
		}
		paths[name] = dir
	}

	cfg.Logger.Info("repository map ready", "repositories", len(paths))
	return &Map{paths: paths}, nil
}

// Resolve returns the working-copy directory for a repository full
// name.
func (m *Map) Resolve(repo string) (string, bool) {
	dir, ok := m.paths[repo]
	return dir, ok
}

// Len reports how many repositories are mapped.
func (m *Map) Len() int {
	return len(m.paths)
}

// Names returns the mapped repository full names in sorted order.
func (m *Map) Names() []string {
	names := make([]string, 0, len(m.paths))
	for name := range m.paths {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ParseRemote extracts the "owner/name" repository full name from a
// GitHub remote URL. Non-GitHub remotes report false.
func ParseRemote(url string) (string, bool) {
	match := remotePattern.FindStringSubmatch(url)
	if match == nil {
		return "", false
	}
	return match[1], true
}

// discover registers every working copy under root whose origin remote
// points at GitHub. Copies without a GitHub remote are skipped; a name
// discovered twice keeps its first working copy.
func discover(ctx context.Context, root string, maxDepth int, paths map[string]string, logger *slog.Logger) {
	if _, err := os.Stat(root); err != nil {
		logger.Warn("scan root not accessible, skipping discovery",
			"path", root,
			"error", err)
		return
	}

	for _, dir := range findWorkingCopies(root, maxDepth) {
		name, ok := originFullName(ctx, dir)
		if !ok {
			logger.Debug("working copy has no GitHub origin remote, skipping",
				"path", dir)
			continue
		}
		if existing, dup := paths[name]; dup {
			logger.Warn("repository discovered twice, keeping first working copy",
				"repository", name,
				"kept", existing,
				"skipped", dir)
			continue
		}
		paths[name] = dir
		logger.Debug("discovered working copy",
			"repository", name,
			"path", dir)
	}
}

// findWorkingCopies returns directories under root, at most maxDepth
// levels deep, that contain a .git entry. A .git file counts too:
// linked worktrees keep their gitdir behind one, and git resolves the
// indirection itself. The root is never its own hit even when it is a
// working copy.
func findWorkingCopies(root string, maxDepth int) []string {
	var copies []string
	root = filepath.Clean(root)
	_ = filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || path == root {
			// Unreadable subtrees are not worth failing discovery over.
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		depth := strings.Count(rel, string(filepath.Separator)) + 1
		if entry.Name() == ".git" {
			// The working copy is the parent, one level up.
			if d := depth - 1; d >= 1 && d <= maxDepth {
				copies = append(copies, filepath.Dir(path))
			}
			if entry.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if entry.IsDir() && depth > maxDepth {
			// Anything below here would hold repositories past the
			// depth limit.
			return fs.SkipDir
		}
		return nil
	})
	return copies
}

// originFullName asks git for the working copy's origin URL and parses
// the GitHub owner/name out of it.
func originFullName(ctx context.Context, dir string) (string, bool) {
	remoteCtx, cancel := context.WithTimeout(ctx, remoteTimeout)
	defer cancel()

	url, err := git.NewRepository(dir).Run(remoteCtx, "remote", "get-url", "origin")
	if err != nil {
		return "", false
	}
	return ParseRemote(strings.TrimSpace(url))
}
