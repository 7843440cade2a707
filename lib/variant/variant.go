// Copyright 2026 The Grove Authors
// SPDX-License-Identifier: Apache-2.0

// Package variant manages experimental branches of minds: each variant
// is a git worktree under the base mind's .variants/ directory, on a
// branch of the same name, running as an independent process on its
// own port. Variants are created and deleted by operators, and merged
// back either by an operator or by the variant itself through the
// restart-signal protocol.
package variant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/grove-systems/grove/lib/clock"
	"github.com/grove-systems/grove/lib/config"
	"github.com/grove-systems/grove/lib/git"
	"github.com/grove-systems/grove/lib/ident"
	"github.com/grove-systems/grove/lib/ports"
	"github.com/grove-systems/grove/lib/registry"
	"github.com/grove-systems/grove/lib/supervisor"
)

// ErrVerificationFailed means the disposable pre-merge instance never
// answered its smoke probe. Nothing is mutated when this is returned.
var ErrVerificationFailed = errors.New("verification failed")

// SeedFileName is where a divergent seed lands in a fresh worktree.
const SeedFileName = "SEED.md"

// ProcessController is the slice of the supervisor the manager needs.
type ProcessController interface {
	Start(ctx context.Context, identity ident.Identity) error
	Stop(ctx context.Context, identity ident.Identity) error
	IsRunning(identity ident.Identity) bool
}

// Manager creates, lists, merges, and deletes variants.
type Manager struct {
	cfg        config.Config
	store      *registry.Store
	allocator  *ports.Allocator
	controller ProcessController
	logger     *slog.Logger
	clock      clock.Clock
}

// NewManager returns a Manager. The controller is typically the
// supervisor; tests substitute a fake.
func NewManager(cfg config.Config, store *registry.Store, allocator *ports.Allocator, controller ProcessController, logger *slog.Logger, clk clock.Clock) *Manager {
	return &Manager{
		cfg:        cfg,
		store:      store,
		allocator:  allocator,
		controller: controller,
		logger:     logger,
		clock:      clk,
	}
}

// CreateOptions modifies Create.
type CreateOptions struct {
	// Seed, when non-empty, is written to SEED.md in the fresh
	// worktree so the variant diverges from its base immediately.
	Seed string

	// NoStart suppresses starting the variant's process.
	NoStart bool
}

// Create makes a new variant of a base mind: a worktree on a new
// branch, installed dependencies, an allocated port, and a registry
// entry — then starts its process unless suppressed.
//
// A failure after the worktree exists does not roll the worktree back;
// the returned error names the partial state so an operator can clean
// up or retry deliberately.
func (m *Manager) Create(ctx context.Context, base, name string, opts CreateOptions) (registry.Variant, error) {
	if err := ident.ValidateVariantName(name); err != nil {
		return registry.Variant{}, err
	}
	if _, ok, err := m.store.Mind(base); err != nil {
		return registry.Variant{}, err
	} else if !ok {
		return registry.Variant{}, fmt.Errorf("%w: %s", supervisor.ErrUnknownTarget, base)
	}

	baseDir := m.cfg.MindDir(base)
	path := filepath.Join(m.cfg.VariantsDir(base), name)
	if err := os.MkdirAll(m.cfg.VariantsDir(base), 0755); err != nil {
		return registry.Variant{}, fmt.Errorf("creating variants directory: %w", err)
	}

	repo := git.NewRepository(baseDir)
	if err := repo.WorktreeAdd(ctx, path, name); err != nil {
		return registry.Variant{}, fmt.Errorf("creating worktree for %s@%s: %w", base, name, err)
	}

	// Past this point the worktree exists and is not rolled back on
	// failure; every error names the partial state.
	partial := func(step string, err error) error {
		return fmt.Errorf("variant %s@%s partially created (worktree left at %s): %s: %w",
			base, name, path, step, err)
	}

	if err := m.runInstall(ctx, path); err != nil {
		return registry.Variant{}, partial("installing dependencies", err)
	}

	if opts.Seed != "" {
		if err := os.WriteFile(filepath.Join(path, SeedFileName), []byte(opts.Seed), 0644); err != nil {
			return registry.Variant{}, partial("writing seed file", err)
		}
	}

	port, err := m.allocator.Next()
	if err != nil {
		return registry.Variant{}, partial("allocating port", err)
	}

	entry := registry.Variant{
		Name:    name,
		Branch:  name,
		Path:    path,
		Port:    port,
		Created: m.clock.Now().UTC(),
	}
	if err := m.store.PutVariant(base, entry); err != nil {
		return registry.Variant{}, partial("recording variant", err)
	}

	m.logger.Info("variant created", "base", base, "variant", name, "port", port, "path", path)

	if !opts.NoStart {
		if err := m.controller.Start(ctx, ident.Variant(base, name)); err != nil {
			return registry.Variant{}, partial("starting variant process", err)
		}
	}
	return entry, nil
}

// Delete removes a variant: best-effort stop, best-effort worktree and
// branch removal, then unconditional registry removal. A variant whose
// worktree was already deleted by hand still deletes cleanly.
func (m *Manager) Delete(ctx context.Context, base, name string) error {
	identity := ident.Variant(base, name)

	if m.controller.IsRunning(identity) {
		if err := m.controller.Stop(ctx, identity); err != nil {
			m.logger.Warn("stopping variant before delete", "identity", identity, "error", err)
		}
	}

	variant, ok, err := m.store.Variant(base, name)
	if err != nil {
		return err
	}
	repo := git.NewRepository(m.cfg.MindDir(base))
	if ok && variant.Path != "" {
		if err := repo.WorktreeRemove(ctx, variant.Path); err != nil {
			m.logger.Warn("removing variant worktree", "identity", identity, "error", err)
		}
	}
	if err := repo.DeleteBranch(ctx, name); err != nil {
		m.logger.Warn("deleting variant branch", "identity", identity, "error", err)
	}

	// Registry removal is last and unconditional: whatever the
	// best-effort steps did, the fleet's view ends consistent.
	if err := m.store.RemoveVariant(base, name); err != nil {
		return fmt.Errorf("removing variant registry entry: %w", err)
	}
	m.logger.Info("variant deleted", "base", base, "variant", name)
	return nil
}

// runInstall runs the configured dependency-installation command in
// dir. A missing command is a no-op.
func (m *Manager) runInstall(ctx context.Context, dir string) error {
	argv := m.cfg.Install.Command
	if len(argv) == 0 {
		return nil
	}
	command := exec.CommandContext(ctx, argv[0], argv[1:]...)
	command.Dir = dir
	if output, err := command.CombinedOutput(); err != nil {
		return fmt.Errorf("install command in %s: %w (output: %s)", dir, err, output)
	}
	return nil
}

// probeTimeout is the per-variant health probe bound used by List.
func (m *Manager) probeTimeout() time.Duration {
	return m.cfg.Supervisor.ProbeTimeout.Std()
}
