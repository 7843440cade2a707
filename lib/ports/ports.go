// Copyright 2026 The Grove Authors
// SPDX-License-Identifier: Apache-2.0

// Package ports hands out ports for minds and variants. Allocation
// scans the registry, not the live process table: a port stays claimed
// by a stopped mind or variant until its entry is deleted, so a
// crashed process can always come back on the port its peers know.
package ports

import (
	"fmt"
	"net"

	"github.com/grove-systems/grove/lib/registry"
)

// Allocator assigns ports from a base offset upward.
type Allocator struct {
	base  int
	store *registry.Store
}

// NewAllocator returns an Allocator starting at base.
func NewAllocator(base int, store *registry.Store) *Allocator {
	return &Allocator{base: base, store: store}
}

// Next returns the lowest port at or above the base that no mind or
// variant has claimed.
func (a *Allocator) Next() (int, error) {
	used, err := a.store.UsedPorts()
	if err != nil {
		return 0, fmt.Errorf("scanning registry for ports: %w", err)
	}
	for port := a.base; port < 65536; port++ {
		if !used[port] {
			return port, nil
		}
	}
	return 0, fmt.Errorf("no free port at or above %d", a.base)
}

// Ephemeral asks the OS for a free port outside the registry's range.
// Used for disposable merge-verification instances, which must never
// collide with a registered port. The listener is closed before the
// port is returned; the small reuse window is acceptable for a
// process that lives a few seconds.
func Ephemeral() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("reserving ephemeral port: %w", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()
	return port, nil
}
