// Copyright 2026 The Grove Authors
// SPDX-License-Identifier: Apache-2.0

package variant

import (
	"context"
	"sync"

	"github.com/grove-systems/grove/lib/health"
	"github.com/grove-systems/grove/lib/ident"
	"github.com/grove-systems/grove/lib/registry"
)

// State is a variant's observed process state.
type State string

const (
	// StateRunning means the variant's port answered its health probe.
	StateRunning State = "running"

	// StateNoServer means the variant has a port but nothing was ever
	// started on it (and the probe fails).
	StateNoServer State = "no-server"

	// StateDead means the registry believed the variant was running
	// but the probe fails — the process died underneath us.
	StateDead State = "dead"
)

// Status is a variant with its live-probed state.
type Status struct {
	registry.Variant
	State State `json:"state"`
}

// List returns every variant of a base mind with a freshly probed
// status. Probes run in parallel, bounded individually by the probe
// timeout. The durable running flag is updated to match observation:
// a dead process is demoted even if the registry thought it was
// running.
func (m *Manager) List(ctx context.Context, base string) ([]Status, error) {
	variants, err := m.store.Variants(base)
	if err != nil {
		return nil, err
	}

	statuses := make([]Status, len(variants))
	var wg sync.WaitGroup
	for i, entry := range variants {
		wg.Add(1)
		go func(i int, entry registry.Variant) {
			defer wg.Done()

			alive := health.Probe(ctx, entry.Port, m.probeTimeout())
			state := StateNoServer
			switch {
			case alive:
				state = StateRunning
			case entry.Running:
				state = StateDead
			}

			if alive != entry.Running {
				if err := m.store.SetRunning(ident.Variant(base, entry.Name), alive); err != nil {
					m.logger.Warn("updating variant running flag",
						"base", base, "variant", entry.Name, "error", err)
				}
				entry.Running = alive
			}
			statuses[i] = Status{Variant: entry, State: state}
		}(i, entry)
	}
	wg.Wait()
	return statuses, nil
}
