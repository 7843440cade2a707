// Copyright 2026 The Grove Authors
// SPDX-License-Identifier: Apache-2.0

// grove is the read-only operator CLI: it renders the fleet's registry
// and live-probed variant status. It never starts or stops anything —
// process control belongs to groved.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/grove-systems/grove/lib/clock"
	"github.com/grove-systems/grove/lib/config"
	"github.com/grove-systems/grove/lib/ident"
	"github.com/grove-systems/grove/lib/ports"
	"github.com/grove-systems/grove/lib/process"
	"github.com/grove-systems/grove/lib/registry"
	"github.com/grove-systems/grove/lib/variant"
)

const usage = `usage: grove [--config PATH] <command>

commands:
  status            fleet overview: every mind with port, stage, and state
  variants <mind>   a mind's variants with live-probed status
`

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var configPath string
	pflag.StringVar(&configPath, "config", "", "path to config file (defaults to $GROVE_CONFIG, then /etc/grove/config.yaml)")
	pflag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
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
	store := registry.NewStore(cfg.RegistryPath())

	args := pflag.Args()
	if len(args) == 0 {
		pflag.Usage()
		os.Exit(2)
	}

	switch args[0] {
	case "status":
		return showStatus(cfg, store)
	case "variants":
		if len(args) != 2 {
			return fmt.Errorf("usage: grove variants <mind>")
		}
		return showVariants(cfg, store, args[1])
	default:
		pflag.Usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// newManager builds a variant manager for probing. The nop controller
// keeps the read-only guarantee: List never consults it.
func newManager(cfg config.Config, store *registry.Store) *variant.Manager {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	allocator := ports.NewAllocator(cfg.Worker.PortBase, store)
	return variant.NewManager(cfg, store, allocator, nopController{}, logger, clock.Real())
}

// nopController satisfies the manager's process interface for read-only
// commands.
type nopController struct{}

func (nopController) Start(ctx context.Context, identity ident.Identity) error {
	return fmt.Errorf("grove is read-only: cannot start %s", identity)
}

func (nopController) Stop(ctx context.Context, identity ident.Identity) error {
	return fmt.Errorf("grove is read-only: cannot stop %s", identity)
}

func (nopController) IsRunning(ident.Identity) bool { return false }
