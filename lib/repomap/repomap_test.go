// Copyright 2026 The Steward Authors
// SPDX-License-Identifier: Apache-2.0

package repomap_test

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/steward-works/steward/lib/repomap"
)

// gitSetup runs a git command and fails the test on error.
func gitSetup(t *testing.T, args ...string) {
	t.Helper()
	command := exec.Command("git", args...)
	if output, err := command.CombinedOutput(); err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, output)
	}
}

// initWorkingCopy creates a git working copy at dir with the given
// origin remote. An empty remote leaves the repository remoteless.
func initWorkingCopy(t *testing.T, dir, remote string) {
	t.Helper()
	gitSetup(t, "init", "--quiet", dir)
	if remote != "" {
		gitSetup(t, "-C", dir, "remote", "add", "origin", remote)
	}
}

func buildMap(t *testing.T, cfg repomap.Config) *repomap.Map {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	m, err := repomap.Build(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return m
}

func TestParseRemote(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url  string
		want string
		ok   bool
	}{
		{"https://github.com/acme/widget.git", "acme/widget", true},
		{"https://github.com/acme/widget", "acme/widget", true},
		{"git@github.com:acme/widget.git", "acme/widget", true},
		{"git@github.com:acme/widget", "acme/widget", true},
		{"ssh://git@github.com/acme/widget.git", "acme/widget", true},
		{"https://gitlab.com/acme/widget.git", "", false},
		{"https://github.com/acme", "", false},
		{"https://github.com/acme/widget/extra", "", false},
		{"", "", false},
	}
	for _, test := range tests {
		got, ok := repomap.ParseRemote(test.url)
		if got != test.want || ok != test.ok {
			t.Errorf("ParseRemote(%q) = %q, %v, want %q, %v",
				test.url, got, ok, test.want, test.ok)
		}
	}
}

func TestBuildExplicitOnly(t *testing.T) {
	t.Parallel()

	m := buildMap(t, repomap.Config{
		Explicit: map[string]string{
			"acme/widget": "/srv/repos/widget",
			"acme/gadget": "/srv/repos/gadget",
		},
	})

	dir, ok := m.Resolve("acme/widget")
	if !ok || dir != "/srv/repos/widget" {
		t.Errorf("Resolve(acme/widget) = %q, %v, want /srv/repos/widget, true", dir, ok)
	}
	if _, ok := m.Resolve("acme/unknown"); ok {
		t.Error("Resolve(acme/unknown) = true, want false")
	}
	if m.Len() != 2 {
		t.Errorf("Len() = %d, want 2", m.Len())
	}
}

func TestBuildDiscovery(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	initWorkingCopy(t, filepath.Join(root, "widget"), "https://github.com/acme/widget.git")
	initWorkingCopy(t, filepath.Join(root, "forks", "gadget"), "git@github.com:acme/gadget.git")
	initWorkingCopy(t, filepath.Join(root, "deep", "deeper", "gizmo"), "https://github.com/acme/gizmo.git")
	initWorkingCopy(t, filepath.Join(root, "scratch"), "")
	if err := os.MkdirAll(filepath.Join(root, "not-a-repo"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	// Zero depth selects the default of two levels.
	m := buildMap(t, repomap.Config{ScanPath: root})

	if dir, ok := m.Resolve("acme/widget"); !ok || dir != filepath.Join(root, "widget") {
		t.Errorf("Resolve(acme/widget) = %q, %v, want %q, true",
			dir, ok, filepath.Join(root, "widget"))
	}
	if dir, ok := m.Resolve("acme/gadget"); !ok || dir != filepath.Join(root, "forks", "gadget") {
		t.Errorf("Resolve(acme/gadget) = %q, %v, want %q, true",
			dir, ok, filepath.Join(root, "forks", "gadget"))
	}
	// gizmo sits three levels down, past the depth limit.
	if _, ok := m.Resolve("acme/gizmo"); ok {
		t.Error("Resolve(acme/gizmo) = true, want false past scan depth")
	}
	if m.Len() != 2 {
		t.Errorf("Len() = %d, want 2 (mapped: %v)", m.Len(), m.Names())
	}
}

func TestBuildDepthOne(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	initWorkingCopy(t, filepath.Join(root, "widget"), "https://github.com/acme/widget.git")
	initWorkingCopy(t, filepath.Join(root, "forks", "gadget"), "https://github.com/acme/gadget.git")

	m := buildMap(t, repomap.Config{ScanPath: root, ScanDepth: 1})

	if _, ok := m.Resolve("acme/widget"); !ok {
		t.Error("Resolve(acme/widget) = false, want discovered at depth 1")
	}
	if _, ok := m.Resolve("acme/gadget"); ok {
		t.Error("Resolve(acme/gadget) = true, want excluded at depth 1")
	}
}

func TestBuildExplicitWinsOverDiscovery(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	initWorkingCopy(t, filepath.Join(root, "widget"), "https://github.com/acme/widget.git")

	m := buildMap(t, repomap.Config{
		Explicit:  map[string]string{"acme/widget": "/srv/repos/widget"},
		ScanPath:  root,
		ScanDepth: 2,
	})

	dir, ok := m.Resolve("acme/widget")
	if !ok || dir != "/srv/repos/widget" {
		t.Errorf("Resolve(acme/widget) = %q, %v, want the explicit path to win", dir, ok)
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1", m.Len())
	}
}

func TestBuildDuplicateRemoteKeepsFirst(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	// Two clones of the same repository; the walk is lexical, so
	// "alpha" is found first.
	initWorkingCopy(t, filepath.Join(root, "alpha"), "https://github.com/acme/widget.git")
	initWorkingCopy(t, filepath.Join(root, "beta"), "https://github.com/acme/widget.git")

	m := buildMap(t, repomap.Config{ScanPath: root, ScanDepth: 2})

	dir, ok := m.Resolve("acme/widget")
	if !ok || dir != filepath.Join(root, "alpha") {
		t.Errorf("Resolve(acme/widget) = %q, %v, want %q, true",
			dir, ok, filepath.Join(root, "alpha"))
	}
}

func TestBuildScanRootMissing(t *testing.T) {
	t.Parallel()

	m := buildMap(t, repomap.Config{
		Explicit: map[string]string{"acme/widget": "/srv/repos/widget"},
		ScanPath: filepath.Join(t.TempDir(), "nonexistent"),
	})

	if m.Len() != 1 {
		t.Errorf("Len() = %d, want the explicit entry to survive a missing scan root", m.Len())
	}
}

func TestBuildRequiresLogger(t *testing.T) {
	t.Parallel()

	if _, err := repomap.Build(context.Background(), repomap.Config{}); err == nil {
		t.Fatal("Build succeeded without a logger")
	}
}

func TestNames(t *testing.T) {
	t.Parallel()

	m := buildMap(t, repomap.Config{
		Explicit: map[string]string{
			"zeta/one": "/a",
			"acme/two": "/b",
			"acme/one": "/c",
		},
	})

	want := []string{"acme/one", "acme/two", "zeta/one"}
	if got := m.Names(); !slices.Equal(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}
