// Copyright 2026 The Grove Authors
// SPDX-License-Identifier: Apache-2.0

// groved is the host daemon for a grove fleet. It loads the
// configuration, opens the registry, resumes every mind and variant
// whose durable running flag is set, and then supervises the fleet
// until SIGINT or SIGTERM, at which point everything is stopped
// gracefully.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/grove-systems/grove/lib/clock"
	"github.com/grove-systems/grove/lib/config"
	"github.com/grove-systems/grove/lib/ident"
	"github.com/grove-systems/grove/lib/ports"
	"github.com/grove-systems/grove/lib/process"
	"github.com/grove-systems/grove/lib/registry"
	"github.com/grove-systems/grove/lib/supervisor"
	"github.com/grove-systems/grove/lib/variant"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var configPath string
	pflag.StringVar(&configPath, "config", "", "path to config file (defaults to $GROVE_CONFIG, then /etc/grove/config.yaml)")
	pflag.Parse()

	if configPath == "" {
		configPath = os.Getenv("GROVE_CONFIG")
	}
	if configPath == "" {
		configPath = "/etc/grove/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.Paths.State, 0755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	store := registry.NewStore(cfg.RegistryPath())
	clk := clock.Real()
	sup := supervisor.New(cfg, store, logger, clk)
	allocator := ports.NewAllocator(cfg.Worker.PortBase, store)
	manager := variant.NewManager(cfg, store, allocator, sup, logger, clk)
	sup.SetMerger(manager)

	logger.Info("groved starting",
		"environment", cfg.Environment,
		"minds_root", cfg.Paths.MindsRoot,
		"registry", cfg.RegistryPath())

	resume(context.Background(), sup, store, logger)

	// Block until asked to shut down, then stop the whole fleet. The
	// shutdown flag inside StopAll suppresses crash-recovery restarts
	// racing the teardown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	received := <-sigCh
	logger.Info("shutting down", "signal", received.String())

	sup.StopAll(context.Background())
	logger.Info("groved stopped")
	return nil
}

// resume starts every mind and variant the registry durably marks
// running: the daemon restarting must not lose the fleet. Failures are
// logged per identity and do not stop the sweep.
func resume(ctx context.Context, sup *supervisor.Supervisor, store *registry.Store, logger *slog.Logger) {
	minds, err := store.Minds()
	if err != nil {
		logger.Error("reading registry for resume", "error", err)
		return
	}

	for _, mind := range minds {
		if mind.Running {
			if err := sup.Start(ctx, ident.Mind(mind.Name)); err != nil {
				logger.Error("resuming mind", "mind", mind.Name, "error", err)
			}
		}

		variants, err := store.Variants(mind.Name)
		if err != nil {
			logger.Error("reading variants for resume", "mind", mind.Name, "error", err)
			continue
		}
		for _, entry := range variants {
			if !entry.Running {
				continue
			}
			if err := sup.Start(ctx, ident.Variant(mind.Name, entry.Name)); err != nil {
				logger.Error("resuming variant", "mind", mind.Name, "variant", entry.Name, "error", err)
			}
		}
	}
}
