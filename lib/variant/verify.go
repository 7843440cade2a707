// Copyright 2026 The Grove Authors
// SPDX-License-Identifier: Apache-2.0

package variant

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/grove-systems/grove/lib/health"
	"github.com/grove-systems/grove/lib/ports"
)

// verify smoke-tests a variant worktree before merging: a disposable
// instance of the worker starts on an ephemeral port in its own
// process group, gets probed until it answers or the verify timeout
// expires, and is killed regardless of outcome. Only the probe result
// matters — the instance is never registered or tracked.
func (m *Manager) verify(ctx context.Context, dir string) error {
	port, err := ports.Ephemeral()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	argv := m.cfg.Worker.Command
	command := exec.Command(argv[0], argv[1:]...)
	command.Dir = dir
	command.Env = append(os.Environ(),
		"PORT="+strconv.Itoa(port),
		"GROVE_MIND=verify",
	)
	command.Stdout = io.Discard
	command.Stderr = io.Discard
	command.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := command.Start(); err != nil {
		return fmt.Errorf("%w: starting disposable instance: %v", ErrVerificationFailed, err)
	}
	pid := command.Process.Pid
	defer func() {
		_ = syscall.Kill(-pid, syscall.SIGKILL)
		_ = syscall.Kill(pid, syscall.SIGKILL)
		_ = command.Wait()
	}()

	deadline := m.clock.Now().Add(m.cfg.Supervisor.VerifyTimeout.Std())
	for m.clock.Now().Before(deadline) {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrVerificationFailed, ctx.Err())
		}
		if health.Probe(ctx, port, m.probeTimeout()) {
			m.logger.Info("merge verification passed", "dir", dir, "port", port)
			return nil
		}
		m.clock.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("%w: no healthy response on port %d within %v",
		ErrVerificationFailed, port, m.cfg.Supervisor.VerifyTimeout.Std())
}
