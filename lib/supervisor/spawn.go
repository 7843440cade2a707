// Copyright 2026 The Grove Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"github.com/grove-systems/grove/lib/ident"
	"github.com/grove-systems/grove/lib/logsink"
)

// spawn launches the worker command for identity in dir, wired to a
// fresh log sink, in its own process group. It returns the tracked
// entry, a channel delivering the process's exit error, and a channel
// that closes when the readiness line appears in the child's combined
// output.
func (s *Supervisor) spawn(ctx context.Context, identity ident.Identity, dir string, port int) (*trackedProcess, chan error, chan struct{}, error) {
	logFile, err := logsink.Open(s.cfg.LogDir(), identity.String())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("preparing log sink for %s: %w", identity, err)
	}

	argv := s.cfg.Worker.Command
	command := exec.Command(argv[0], argv[1:]...)
	command.Dir = dir
	command.Env = workerEnv(s.cfg.Worker.Env, identity, port)

	// New process group so the worker and any children it spawns can
	// be signaled together later.
	command.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// Combined output goes to the log sink and, in parallel, through
	// a pipe scanned for the readiness line.
	pipeReader, pipeWriter := io.Pipe()
	sink := io.MultiWriter(logFile, pipeWriter)
	command.Stdout = sink
	command.Stderr = sink

	if err := command.Start(); err != nil {
		logFile.Close()
		pipeWriter.Close()
		pipeReader.Close()
		return nil, nil, nil, fmt.Errorf("spawning %s: %w", identity, err)
	}

	tracked := &trackedProcess{
		identity:  identity,
		port:      port,
		dir:       dir,
		pid:       command.Process.Pid,
		startedAt: s.clock.Now(),
		done:      make(chan struct{}),
		armed:     make(chan struct{}),
		abandoned: make(chan struct{}),
	}

	readyCh := make(chan struct{})
	go scanForReadiness(pipeReader, port, readyCh)

	exitCh := make(chan error, 1)
	go func() {
		waitErr := command.Wait()
		pipeWriter.Close()
		logFile.Close()

		// Remove from the table before signaling done so a caller
		// woken by done observes a clean table.
		s.deregister(tracked)
		exitCh <- waitErr
		close(tracked.done)

		// The crash hook acts only on exits of processes whose Start
		// completed; a pre-readiness exit belongs to Start itself.
		select {
		case <-tracked.armed:
			s.handleExit(tracked, waitErr)
		case <-tracked.abandoned:
		}
	}()

	s.logger.Info("worker spawned", "identity", identity, "pid", tracked.pid, "port", port, "dir", dir)
	return tracked, exitCh, readyCh, nil
}

// workerEnv merges the supervisor's environment with the configured
// worker env, then injects the assigned port and the worker's own
// identity last so nothing can mask them.
func workerEnv(extra map[string]string, identity ident.Identity, port int) []string {
	env := os.Environ()
	for key, value := range extra {
		env = append(env, key+"="+value)
	}
	env = append(env,
		"PORT="+strconv.Itoa(port),
		"GROVE_MIND="+identity.String(),
	)
	return env
}

// scanForReadiness reads the child's combined output line by line and
// closes readyCh at the first line containing a "listening" marker
// together with the bound port. It keeps draining afterward so the
// pipe never backpressures the child.
func scanForReadiness(reader *io.PipeReader, port int, readyCh chan struct{}) {
	defer reader.Close()

	portString := strconv.Itoa(port)
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	ready := false
	for scanner.Scan() {
		if ready {
			continue
		}
		line := strings.ToLower(scanner.Text())
		if strings.Contains(line, "listening") && strings.Contains(line, portString) {
			ready = true
			close(readyCh)
		}
	}
}
