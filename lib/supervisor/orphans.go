// Copyright 2026 The Grove Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/grove-systems/grove/lib/health"
	"github.com/grove-systems/grove/lib/ident"
)

// reclaimPort frees a port held by a stale worker from a previous
// supervisor session. Entirely best-effort: an unanswered probe means
// nothing to reclaim, and signal failures are tolerated — the process
// may vanish between enumeration and signaling.
func (s *Supervisor) reclaimPort(ctx context.Context, identity ident.Identity, port int) {
	if !health.Probe(ctx, port, s.cfg.Supervisor.ProbeTimeout.Std()) {
		return
	}

	s.logger.Warn("port already answering, reclaiming from stale process",
		"identity", identity, "port", port)

	pids := listeningPIDs(ctx, port)
	if len(pids) == 0 {
		s.logger.Warn("no owning process found for answering port", "port", port)
		return
	}

	// Termination set: the direct pids plus their process groups (to
	// catch wrapper processes), skipping group ids <= 1 so the
	// init/session leader is never signaled.
	targets := make(map[int]bool)
	for _, pid := range pids {
		targets[pid] = true
		if pgid, err := syscall.Getpgid(pid); err == nil && pgid > 1 {
			targets[pgid] = true
		}
	}
	for pid := range targets {
		_ = syscall.Kill(-pid, syscall.SIGTERM)
		_ = syscall.Kill(pid, syscall.SIGTERM)
	}
	s.logger.Info("signaled stale processes", "port", port, "pids", pids)

	// Give the stale processes a moment to release the port before
	// the new worker binds it.
	s.clock.Sleep(500 * time.Millisecond)
}

// listeningPIDs enumerates processes listening on a TCP port via
// lsof. Returns nil on any failure — reclamation is best-effort and
// an empty result means "nothing found to kill".
func listeningPIDs(ctx context.Context, port int) []int {
	command := exec.CommandContext(ctx, "lsof",
		"-t", "-i", "tcp:"+strconv.Itoa(port), "-s", "TCP:LISTEN")
	output, err := command.Output()
	if err != nil {
		return nil
	}

	var pids []int
	for _, line := range strings.Fields(string(output)) {
		pid, err := strconv.Atoi(line)
		if err != nil || pid <= 1 {
			continue
		}
		pids = append(pids, pid)
	}
	return pids
}
