// Copyright 2026 The Grove Authors
// SPDX-License-Identifier: Apache-2.0

package git

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// initRepo creates a git repository with an initial commit on branch
// main and returns its path.
func initRepo(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	commands := [][]string{
		{"init", "-b", "main", dir},
		{"-C", dir, "config", "user.name", "Test"},
		{"-C", dir, "config", "user.email", "test@test.local"},
	}
	for _, args := range commands {
		command := exec.Command("git", args...)
		if output, err := command.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v\n%s", args, err, output)
		}
	}

	writeFile(t, dir, "README", "test\n")
	command := exec.Command("git", "-C", dir, "add", "README")
	if output, err := command.CombinedOutput(); err != nil {
		t.Fatalf("git add: %v\n%s", err, output)
	}
	command = exec.Command("git", "-C", dir, "commit", "-m", "initial")
	if output, err := command.CombinedOutput(); err != nil {
		t.Fatalf("git commit: %v\n%s", err, output)
	}
	return dir
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestWorktreeAddRemove(t *testing.T) {
	t.Parallel()

	dir := initRepo(t)
	repo := NewRepository(dir)
	ctx := context.Background()

	worktree := filepath.Join(dir, ".variants", "exp")
	if err := repo.WorktreeAdd(ctx, worktree, "exp"); err != nil {
		t.Fatalf("WorktreeAdd: %v", err)
	}
	if _, err := os.Stat(worktree); err != nil {
		t.Fatalf("worktree directory missing: %v", err)
	}

	branch, err := NewRepository(worktree).CurrentBranch(ctx)
	if err != nil {
		t.Fatalf("CurrentBranch: %v", err)
	}
	if branch != "exp" {
		t.Errorf("worktree branch = %q, want %q", branch, "exp")
	}

	if err := repo.WorktreeRemove(ctx, worktree); err != nil {
		t.Fatalf("WorktreeRemove: %v", err)
	}
	if _, err := os.Stat(worktree); !os.IsNotExist(err) {
		t.Errorf("worktree directory still present after remove")
	}
	if err := repo.DeleteBranch(ctx, "exp"); err != nil {
		t.Fatalf("DeleteBranch: %v", err)
	}
}

func TestHasChangesAndCommitAll(t *testing.T) {
	t.Parallel()

	dir := initRepo(t)
	repo := NewRepository(dir)
	ctx := context.Background()

	dirty, err := repo.HasChanges(ctx)
	if err != nil {
		t.Fatalf("HasChanges: %v", err)
	}
	if dirty {
		t.Error("fresh repository reported dirty")
	}

	writeFile(t, dir, "notes.txt", "scratch\n")
	dirty, err = repo.HasChanges(ctx)
	if err != nil {
		t.Fatalf("HasChanges: %v", err)
	}
	if !dirty {
		t.Error("untracked file not reported as a change")
	}

	if err := repo.CommitAll(ctx, "auto-commit"); err != nil {
		t.Fatalf("CommitAll: %v", err)
	}
	dirty, err = repo.HasChanges(ctx)
	if err != nil {
		t.Fatalf("HasChanges: %v", err)
	}
	if dirty {
		t.Error("repository dirty after CommitAll")
	}
}

func TestMergeClean(t *testing.T) {
	t.Parallel()

	dir := initRepo(t)
	repo := NewRepository(dir)
	ctx := context.Background()

	worktree := filepath.Join(dir, ".variants", "exp")
	if err := repo.WorktreeAdd(ctx, worktree, "exp"); err != nil {
		t.Fatalf("WorktreeAdd: %v", err)
	}
	variant := NewRepository(worktree)
	writeFile(t, worktree, "feature.txt", "new feature\n")
	if err := variant.CommitAll(ctx, "add feature"); err != nil {
		t.Fatalf("CommitAll in variant: %v", err)
	}

	if err := repo.Merge(ctx, "exp"); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "feature.txt")); err != nil {
		t.Errorf("merged file missing from base: %v", err)
	}
}

func TestMergeConflict(t *testing.T) {
	t.Parallel()

	dir := initRepo(t)
	repo := NewRepository(dir)
	ctx := context.Background()

	worktree := filepath.Join(dir, ".variants", "exp")
	if err := repo.WorktreeAdd(ctx, worktree, "exp"); err != nil {
		t.Fatalf("WorktreeAdd: %v", err)
	}

	// Same file, divergent content on both sides.
	writeFile(t, worktree, "README", "variant version\n")
	if err := NewRepository(worktree).CommitAll(ctx, "variant change"); err != nil {
		t.Fatalf("CommitAll in variant: %v", err)
	}
	writeFile(t, dir, "README", "base version\n")
	if err := repo.CommitAll(ctx, "base change"); err != nil {
		t.Fatalf("CommitAll in base: %v", err)
	}

	err := repo.Merge(ctx, "exp")
	if !errors.Is(err, ErrMergeConflict) {
		t.Fatalf("Merge = %v, want ErrMergeConflict", err)
	}
	// The worktree and branch must survive for manual resolution.
	if _, statErr := os.Stat(worktree); statErr != nil {
		t.Errorf("variant worktree removed after conflict: %v", statErr)
	}
}

func TestRunErrorIncludesStderr(t *testing.T) {
	t.Parallel()

	dir := initRepo(t)
	repo := NewRepository(dir)

	_, err := repo.Run(context.Background(), "not-a-real-command")
	if err == nil {
		t.Fatal("expected error for invalid git subcommand")
	}
	if !strings.Contains(err.Error(), dir) {
		t.Errorf("error = %v, want to contain repository dir %q", err, dir)
	}
}
