// Copyright 2026 The Grove Authors
// SPDX-License-Identifier: Apache-2.0

// Package git provides typed access to the git CLI for grove's variant
// workflow: worktree add/remove, branch deletion, merging, committing,
// and dirty-tree detection. All commands target a specific repository
// directory via the -C flag, which every Repository method injects —
// there is no default directory, callers must always say which working
// tree they mean.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrMergeConflict is returned by Merge when git reports content
// conflicts. The working tree is left mid-merge for manual resolution,
// matching ordinary git semantics.
var ErrMergeConflict = errors.New("merge conflict")

// Repository represents a git working tree at a specific directory.
type Repository struct {
	dir string
}

// NewRepository returns a Repository targeting the given directory.
func NewRepository(dir string) *Repository {
	return &Repository{dir: dir}
}

// Dir returns the repository directory.
func (r *Repository) Dir() string {
	return r.dir
}

// Run executes a git command targeting this repository and returns
// stdout. Stderr is captured separately and included in error messages
// on failure.
func (r *Repository) Run(ctx context.Context, args ...string) (string, error) {
	fullArgs := append([]string{"-C", r.dir}, args...)
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, "git", fullArgs...)
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", fmt.Errorf("git %s in %s: %w (stderr: %s)",
			strings.Join(args, " "), r.dir, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// WorktreeAdd creates a worktree at path on a newly created branch of
// the given name, branched from the current HEAD.
func (r *Repository) WorktreeAdd(ctx context.Context, path, branch string) error {
	_, err := r.Run(ctx, "worktree", "add", "-b", branch, path)
	return err
}

// WorktreeRemove removes the worktree at path. Force is always set:
// grove only removes worktrees after merging or on explicit delete,
// where uncommitted scraps must not block the operation.
func (r *Repository) WorktreeRemove(ctx context.Context, path string) error {
	_, err := r.Run(ctx, "worktree", "remove", "--force", path)
	return err
}

// DeleteBranch force-deletes a local branch.
func (r *Repository) DeleteBranch(ctx context.Context, branch string) error {
	_, err := r.Run(ctx, "branch", "-D", branch)
	return err
}

// CurrentBranch returns the checked-out branch name.
func (r *Repository) CurrentBranch(ctx context.Context) (string, error) {
	output, err := r.Run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(output), nil
}

// HasChanges reports whether the working tree has uncommitted changes
// (staged, unstaged, or untracked), via git status --porcelain.
func (r *Repository) HasChanges(ctx context.Context) (bool, error) {
	output, err := r.Run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(output) != "", nil
}

// CommitAll stages everything and commits with the given message.
// Identity is pinned so commits succeed on machines without a global
// git config (the supervisor's auto-commits must never fail on a
// missing user.email).
func (r *Repository) CommitAll(ctx context.Context, message string) error {
	if _, err := r.Run(ctx, "add", "-A"); err != nil {
		return err
	}
	_, err := r.Run(ctx,
		"-c", "user.name=grove",
		"-c", "user.email=grove@localhost",
		"commit", "-m", message)
	return err
}

// Merge merges branch into the checked-out branch. Content conflicts
// are reported as an error wrapping ErrMergeConflict; the working tree
// is left as-is for manual resolution.
func (r *Repository) Merge(ctx context.Context, branch string) error {
	fullArgs := []string{"-C", r.dir,
		"-c", "user.name=grove",
		"-c", "user.email=grove@localhost",
		"merge", "--no-edit", branch}
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, "git", fullArgs...)
	command.Stdout = &stdout
	command.Stderr = &stderr

	err := command.Run()
	if err == nil {
		return nil
	}

	// git exits 1 with "CONFLICT" on stdout for content conflicts.
	// Anything else (bad branch name, not a repository) is a plain
	// command failure.
	combined := stdout.String() + stderr.String()
	if strings.Contains(combined, "CONFLICT") {
		return fmt.Errorf("merging %s in %s: %w:\n%s",
			branch, r.dir, ErrMergeConflict, strings.TrimSpace(combined))
	}
	return fmt.Errorf("git merge %s in %s: %w (stderr: %s)",
		branch, r.dir, err, strings.TrimSpace(stderr.String()))
}
