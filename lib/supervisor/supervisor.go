// Copyright 2026 The Grove Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervisor owns the live process table for the mind fleet:
// spawning workers, watching for readiness, graceful and forceful
// termination, reclamation of ports held by stale processes from a
// previous supervisor session, and crash recovery with bounded
// exponential backoff. A worker can also request its own replacement by
// writing a restart-signal file and exiting; the crash hook consumes
// the signal, runs the variant merge synchronously, and restarts the
// base mind with no delay.
//
// Operations on the same identity serialize through a per-identity
// lock; operations on different identities proceed concurrently. The
// in-memory table is the sole source of truth for "running" during a
// live session — the registry's durable flag records intent across
// supervisor restarts.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/grove-systems/grove/lib/clock"
	"github.com/grove-systems/grove/lib/config"
	"github.com/grove-systems/grove/lib/ident"
	"github.com/grove-systems/grove/lib/registry"
	"github.com/grove-systems/grove/lib/sentinel"
)

// Error taxonomy for caller-facing operations. All are testable with
// errors.Is.
var (
	// ErrUnknownTarget means the identity does not resolve to a
	// registered mind or variant with an existing working directory.
	ErrUnknownTarget = errors.New("unknown target")

	// ErrAlreadyRunning means the identity is already tracked. The
	// existing process is left untouched.
	ErrAlreadyRunning = errors.New("already running")

	// ErrNotRunning means an operation required a live tracked
	// process and there was none.
	ErrNotRunning = errors.New("not running")

	// ErrStartTimeout means the worker produced no readiness line
	// within the start timeout.
	ErrStartTimeout = errors.New("start timeout")

	// ErrUnexpectedExit means the worker exited before becoming
	// ready.
	ErrUnexpectedExit = errors.New("unexpected exit")
)

// Merger is the variant-merge routine the crash hook invokes when a
// worker leaves a restart signal. Implemented by the variant manager;
// injected after construction because the variant manager in turn
// starts and stops processes through the supervisor.
type Merger interface {
	MergeFromSignal(ctx context.Context, base string, signal sentinel.Signal) error
}

// Supervisor runs the fleet's worker processes.
type Supervisor struct {
	cfg      config.Config
	store    *registry.Store
	logger   *slog.Logger
	clock    clock.Clock
	attempts *attemptsFile

	mu      sync.Mutex
	tracked map[string]*trackedProcess
	locks   map[string]*sync.Mutex

	shutdown atomic.Bool

	mergerMu sync.Mutex
	merger   Merger
}

// trackedProcess is a live worker. It exists in the table only while
// the OS process is believed alive; it has no durable form.
type trackedProcess struct {
	identity  ident.Identity
	port      int
	dir       string
	pid       int
	startedAt time.Time

	// done closes after the process has exited and been removed from
	// the table.
	done chan struct{}

	// armed closes when Start succeeded and the crash hook should act
	// on exit; abandoned closes when Start failed and owns the exit
	// itself. Exactly one of the two closes per spawn.
	armed     chan struct{}
	abandoned chan struct{}

	// stopping is set by Stop before the first signal. It lives on the
	// process, not the supervisor, because the crash hook reads it
	// after done closes — an identity-keyed marker could be cleared by
	// the very Stop that set it before the hook gets to run.
	stopping atomic.Bool
}

// New returns a Supervisor. The registry must already contain any mind
// the supervisor will be asked to start.
func New(cfg config.Config, store *registry.Store, logger *slog.Logger, clk clock.Clock) *Supervisor {
	return &Supervisor{
		cfg:      cfg,
		store:    store,
		logger:   logger,
		clock:    clk,
		attempts: newAttemptsFile(cfg.AttemptsPath()),
		tracked:  make(map[string]*trackedProcess),
		locks:    make(map[string]*sync.Mutex),
	}
}

// SetMerger injects the variant-merge routine used by the crash hook.
func (s *Supervisor) SetMerger(merger Merger) {
	s.mergerMu.Lock()
	defer s.mergerMu.Unlock()
	s.merger = merger
}

func (s *Supervisor) currentMerger() Merger {
	s.mergerMu.Lock()
	defer s.mergerMu.Unlock()
	return s.merger
}

// identityLock returns the mutex serializing operations for one
// identity. Locks are never removed; the map is bounded by fleet size.
func (s *Supervisor) identityLock(identity ident.Identity) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := identity.String()
	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}

// IsRunning reports whether the identity is currently tracked.
func (s *Supervisor) IsRunning(identity ident.Identity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tracked[identity.String()]
	return ok
}

// Pid returns the OS process id of a tracked identity. Returns
// ErrNotRunning when the identity is not tracked.
func (s *Supervisor) Pid(identity ident.Identity) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tracked, ok := s.tracked[identity.String()]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotRunning, identity)
	}
	return tracked.pid, nil
}

// resolve maps an identity to its working directory and port. The
// registry entry and the directory must both exist.
func (s *Supervisor) resolve(identity ident.Identity) (dir string, port int, err error) {
	if identity.IsVariant() {
		variant, ok, err := s.store.Variant(identity.Base(), identity.VariantName())
		if err != nil {
			return "", 0, err
		}
		if !ok {
			return "", 0, fmt.Errorf("%w: %s", ErrUnknownTarget, identity)
		}
		dir, port = variant.Path, variant.Port
	} else {
		mind, ok, err := s.store.Mind(identity.Base())
		if err != nil {
			return "", 0, err
		}
		if !ok {
			return "", 0, fmt.Errorf("%w: %s", ErrUnknownTarget, identity)
		}
		dir, port = s.cfg.MindDir(mind.Name), mind.Port
	}

	if info, statErr := os.Stat(dir); statErr != nil || !info.IsDir() {
		return "", 0, fmt.Errorf("%w: %s has no working directory at %s", ErrUnknownTarget, identity, dir)
	}
	return dir, port, nil
}

// Start spawns the worker for identity and waits for it to become
// ready. On success the identity is tracked, its crash hook is armed,
// and the registry marks it running. On failure nothing durable
// changes and the identity is not tracked.
//
// Readiness alone does not reset the crash-attempt counter: a worker
// that becomes ready and promptly dies again is still in a crash loop.
// The counter resets when a run survives the configured sustain
// window, or on an explicit Stop.
func (s *Supervisor) Start(ctx context.Context, identity ident.Identity) error {
	lock := s.identityLock(identity)
	lock.Lock()
	defer lock.Unlock()

	if s.IsRunning(identity) {
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, identity)
	}

	dir, port, err := s.resolve(identity)
	if err != nil {
		return err
	}

	// A previous supervisor session may have left a worker holding
	// the port. Best-effort: reclamation failure is logged, never
	// fatal.
	s.reclaimPort(ctx, identity, port)

	tracked, exitCh, readyCh, err := s.spawn(ctx, identity, dir, port)
	if err != nil {
		return err
	}

	// Register before waiting for readiness: the wait goroutine's exit
	// cleanup keys off the table entry, and IsRunning/Pid already
	// report the starting process. A concurrent Stop serializes behind
	// this Start on the identity lock.
	s.register(tracked)

	select {
	case <-readyCh:
		close(tracked.armed)
		if err := s.store.SetRunning(identity, true); err != nil {
			s.logger.Warn("persisting running flag", "identity", identity, "error", err)
		}
		s.logger.Info("worker ready", "identity", identity, "port", port, "pid", tracked.pid)
		return nil

	case exitErr := <-exitCh:
		close(tracked.abandoned)
		s.deregister(tracked)
		return fmt.Errorf("%w: %s exited before becoming ready: %v", ErrUnexpectedExit, identity, exitErr)

	case <-s.clock.After(s.cfg.Supervisor.StartTimeout.Std()):
		close(tracked.abandoned)
		s.killGroup(tracked.pid, syscall.SIGKILL)
		s.deregister(tracked)
		return fmt.Errorf("%w: %s not ready within %v", ErrStartTimeout, identity, s.cfg.Supervisor.StartTimeout.Std())

	case <-ctx.Done():
		close(tracked.abandoned)
		s.killGroup(tracked.pid, syscall.SIGKILL)
		s.deregister(tracked)
		return ctx.Err()
	}
}

// Stop terminates a tracked identity: SIGTERM to the whole process
// group, escalation to SIGKILL after the grace period, and a durable
// running=false. Stopping an untracked identity is a no-op.
func (s *Supervisor) Stop(ctx context.Context, identity ident.Identity) error {
	lock := s.identityLock(identity)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	tracked, ok := s.tracked[identity.String()]
	s.mu.Unlock()
	if !ok {
		return nil
	}

	// Mark intentional before the first signal so the crash hook does
	// not treat this exit as a crash.
	tracked.stopping.Store(true)

	s.killGroup(tracked.pid, syscall.SIGTERM)

	select {
	case <-tracked.done:
	case <-s.clock.After(s.cfg.Supervisor.StopGrace.Std()):
		s.logger.Warn("worker ignored SIGTERM, escalating", "identity", identity, "pid", tracked.pid)
		s.killGroup(tracked.pid, syscall.SIGKILL)
		<-tracked.done
	}

	if err := s.attempts.clear(identity.String()); err != nil {
		s.logger.Warn("clearing crash-attempt counter", "identity", identity, "error", err)
	}
	if err := s.store.SetRunning(identity, false); err != nil {
		return fmt.Errorf("persisting stopped state for %s: %w", identity, err)
	}
	s.logger.Info("worker stopped", "identity", identity)
	return nil
}

// Restart is Stop followed by Start, sequentially.
func (s *Supervisor) Restart(ctx context.Context, identity ident.Identity) error {
	if err := s.Stop(ctx, identity); err != nil {
		return err
	}
	return s.Start(ctx, identity)
}

// StopAll sets the global shutdown flag — suppressing every pending
// and future crash-recovery restart for the remainder of this
// process's life — and stops all tracked identities concurrently.
func (s *Supervisor) StopAll(ctx context.Context) {
	s.shutdown.Store(true)

	s.mu.Lock()
	identities := make([]ident.Identity, 0, len(s.tracked))
	for _, tracked := range s.tracked {
		identities = append(identities, tracked.identity)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, identity := range identities {
		wg.Add(1)
		go func(identity ident.Identity) {
			defer wg.Done()
			if err := s.Stop(ctx, identity); err != nil {
				s.logger.Error("stopping worker during shutdown", "identity", identity, "error", err)
			}
		}(identity)
	}
	wg.Wait()
}

func (s *Supervisor) register(tracked *trackedProcess) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracked[tracked.identity.String()] = tracked
}

// deregister removes tracked from the table only if the table still
// points at this exact process. A stale exit path (a killed child's
// wait goroutine finishing after a replacement Start registered) must
// not evict the replacement.
func (s *Supervisor) deregister(tracked *trackedProcess) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := tracked.identity.String()
	if s.tracked[key] == tracked {
		delete(s.tracked, key)
	}
}

// killGroup signals both the process group and the direct process,
// tolerating errors on each — a vanished process is not a failure.
func (s *Supervisor) killGroup(pid int, sig syscall.Signal) {
	if pid <= 0 {
		return
	}
	_ = syscall.Kill(-pid, sig)
	_ = syscall.Kill(pid, sig)
}

// signalPath is where a worker in dir leaves its restart signal.
func signalPath(dir string) string {
	return filepath.Join(dir, ".grove", "restart-signal.json")
}
