// Copyright 2026 The Grove Authors
// SPDX-License-Identifier: Apache-2.0

package variant

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/grove-systems/grove/lib/atomicfile"
	"github.com/grove-systems/grove/lib/git"
	"github.com/grove-systems/grove/lib/ident"
	"github.com/grove-systems/grove/lib/sentinel"
	"github.com/grove-systems/grove/lib/supervisor"
)

// autoCommitMessage marks commits the merge path makes on the
// worker's behalf so the merge operates on clean trees.
const autoCommitMessage = "grove: auto-commit before merge"

// MergeOptions modifies Merge.
type MergeOptions struct {
	// SkipVerify skips the disposable-instance smoke test.
	SkipVerify bool

	// Summary, Justification, and Memory are the requesting worker's
	// context, recorded in the merge summary for the next instance.
	Summary       string
	Justification string
	Memory        string
}

// Summary is the structured context left for the base mind's next
// instance after a merge.
type Summary struct {
	Variant       string    `json:"variant"`
	Summary       string    `json:"summary,omitempty"`
	Justification string    `json:"justification,omitempty"`
	Memory        string    `json:"memory,omitempty"`
	MergedAt      time.Time `json:"merged_at"`
}

// Merge merges a variant's branch back into its base mind's checked-out
// branch and cleans the variant up.
//
// The ordering is deliberate: verification happens before anything is
// mutated, so ErrVerificationFailed leaves worktree, branch, and
// registry entry fully intact. A merge conflict aborts with the base
// worktree left mid-merge for manual resolution, exactly like a plain
// git merge. Only after a clean merge do the cleanup steps run, each
// best-effort.
func (m *Manager) Merge(ctx context.Context, base, name string, opts MergeOptions) error {
	// Defense in depth: the name came from a file a worker wrote.
	if err := ident.ValidateVariantName(name); err != nil {
		return err
	}
	entry, ok, err := m.store.Variant(base, name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s@%s", supervisor.ErrUnknownTarget, base, name)
	}

	baseDir := m.cfg.MindDir(base)
	baseRepo := git.NewRepository(baseDir)
	variantRepo := git.NewRepository(entry.Path)

	// The merge must operate on a committed variant tree.
	if dirty, err := variantRepo.HasChanges(ctx); err != nil {
		return fmt.Errorf("checking variant worktree: %w", err)
	} else if dirty {
		if err := variantRepo.CommitAll(ctx, autoCommitMessage); err != nil {
			return fmt.Errorf("auto-committing variant worktree: %w", err)
		}
	}

	if !opts.SkipVerify {
		if err := m.verify(ctx, entry.Path); err != nil {
			return err
		}
	}

	if dirty, err := baseRepo.HasChanges(ctx); err != nil {
		return fmt.Errorf("checking base worktree: %w", err)
	} else if dirty {
		if err := baseRepo.CommitAll(ctx, autoCommitMessage); err != nil {
			return fmt.Errorf("auto-committing base worktree: %w", err)
		}
	}

	if err := baseRepo.Merge(ctx, entry.Branch); err != nil {
		// Conflicts leave the base worktree as-is for manual
		// resolution; nothing further runs.
		return err
	}

	m.logger.Info("variant merged", "base", base, "variant", name)

	// Cleanup is best-effort: a failed sub-step is logged and the
	// remaining steps still run, ending with registry removal.
	identity := ident.Variant(base, name)
	if m.controller.IsRunning(identity) {
		if err := m.controller.Stop(ctx, identity); err != nil {
			m.logger.Warn("stopping merged variant", "identity", identity, "error", err)
		}
	}
	if err := baseRepo.WorktreeRemove(ctx, entry.Path); err != nil {
		m.logger.Warn("removing merged worktree", "identity", identity, "error", err)
	}
	if err := baseRepo.DeleteBranch(ctx, entry.Branch); err != nil {
		m.logger.Warn("deleting merged branch", "identity", identity, "error", err)
	}
	if err := m.store.RemoveVariant(base, name); err != nil {
		m.logger.Warn("removing merged variant registry entry", "identity", identity, "error", err)
	}
	if err := m.runInstall(ctx, baseDir); err != nil {
		m.logger.Warn("reinstalling base dependencies after merge", "base", base, "error", err)
	}
	if err := m.writeSummary(base, name, opts); err != nil {
		m.logger.Warn("writing merge summary", "base", base, "variant", name, "error", err)
	}
	return nil
}

// MergeFromSignal is the supervisor crash hook's entry point: a worker
// wrote a restart signal and exited, and the hook wants the named
// variant merged before it restarts the base mind.
func (m *Manager) MergeFromSignal(ctx context.Context, base string, signal sentinel.Signal) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Supervisor.VerifyTimeout.Std()*2)
	defer cancel()
	return m.Merge(ctx, base, signal.Name, MergeOptions{
		Summary:       signal.Summary,
		Justification: signal.Justification,
		Memory:        signal.Memory,
	})
}

// writeSummary records the merge context where the base mind's next
// instance will find it.
func (m *Manager) writeSummary(base, name string, opts MergeOptions) error {
	dir := filepath.Join(m.cfg.MindDir(base), ".grove")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(Summary{
		Variant:       name,
		Summary:       opts.Summary,
		Justification: opts.Justification,
		Memory:        opts.Memory,
		MergedAt:      m.clock.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return atomicfile.Write(filepath.Join(dir, "merge-summary.json"), data, 0644)
}
