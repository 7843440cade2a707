// Copyright 2026 The Grove Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"time"

	"github.com/grove-systems/grove/lib/ident"
	"github.com/grove-systems/grove/lib/sentinel"
)

// handleExit is the crash-recovery hook, invoked from the wait
// goroutine after an armed worker exits. It never lets an error
// escape: a failing restart attempt is logged, not propagated, so the
// hook cannot crash the supervisor.
//
// The transition is: check for a restart signal (merge-then-restart,
// no delay); otherwise apply exponential backoff, giving up after the
// configured attempt cap.
func (s *Supervisor) handleExit(tracked *trackedProcess, exitErr error) {
	identity := tracked.identity

	if s.shutdown.Load() || tracked.stopping.Load() {
		return
	}

	s.logger.Warn("worker exited unexpectedly",
		"identity", identity, "pid", tracked.pid, "error", exitErr)

	// A worker that wants merge-then-restart writes the signal and
	// exits; its exit lands here. Consume is read-then-unlink, so the
	// signal can never replay on a later, unrelated crash.
	if signal, ok := sentinel.Consume(signalPath(tracked.dir)); ok {
		s.mergeAndRestart(identity, signal)
		return
	}

	count, err := s.attempts.get(identity.String())
	if err != nil {
		s.logger.Warn("reading crash-attempt counter", "identity", identity, "error", err)
	}

	backoff := s.cfg.Supervisor.Backoff

	// A run that survived the sustain window was a successful start;
	// this exit opens a fresh crash sequence rather than continuing
	// the old one.
	if uptime := s.clock.Now().Sub(tracked.startedAt); count > 0 && uptime >= backoff.Sustain.Std() {
		if err := s.attempts.clear(identity.String()); err != nil {
			s.logger.Warn("clearing crash-attempt counter", "identity", identity, "error", err)
		}
		count = 0
	}
	if count >= backoff.MaxAttempts {
		// Give up permanently. The counter stays at the cap for
		// operator visibility; only the durable running flag flips.
		s.logger.Error("giving up after repeated crashes",
			"identity", identity, "attempts", count)
		if err := s.store.SetRunning(identity, false); err != nil {
			s.logger.Error("persisting stopped state after give-up", "identity", identity, "error", err)
		}
		return
	}

	delay := backoffDelay(backoff.Base.Std(), backoff.Cap.Std(), count)
	if err := s.attempts.set(identity.String(), count+1); err != nil {
		s.logger.Warn("persisting crash-attempt counter", "identity", identity, "error", err)
	}
	s.logger.Info("scheduling crash-recovery restart",
		"identity", identity, "attempt", count+1, "delay", delay)

	s.clock.AfterFunc(delay, func() {
		if s.shutdown.Load() {
			return
		}
		if err := s.Start(context.Background(), identity); err != nil {
			s.logger.Error("crash-recovery restart failed", "identity", identity, "error", err)
		}
	})
}

// mergeAndRestart runs the variant merge requested by a restart
// signal, then immediately restarts the base mind. Merge failure is
// not fatal to the transition — the worker asked to be replaced and
// the fleet must not lose the mind either way.
func (s *Supervisor) mergeAndRestart(identity ident.Identity, signal sentinel.Signal) {
	base := identity.Base()
	s.logger.Info("restart signal consumed, merging variant",
		"identity", identity, "variant", signal.Name, "summary", signal.Summary)

	if merger := s.currentMerger(); merger != nil {
		if err := merger.MergeFromSignal(context.Background(), base, signal); err != nil {
			s.logger.Error("merge from restart signal failed",
				"base", base, "variant", signal.Name, "error", err)
		}
	} else {
		s.logger.Error("restart signal found but no merger configured",
			"base", base, "variant", signal.Name)
	}

	if err := s.attempts.clear(identity.String()); err != nil {
		s.logger.Warn("clearing crash-attempt counter", "identity", identity, "error", err)
	}

	if s.shutdown.Load() {
		return
	}
	if err := s.Start(context.Background(), ident.Mind(base)); err != nil {
		s.logger.Error("restart after merge failed", "base", base, "error", err)
	}
}

// backoffDelay computes min(base * 2^count, cap).
func backoffDelay(base, cap time.Duration, count int) time.Duration {
	delay := base
	for i := 0; i < count; i++ {
		delay *= 2
		if delay >= cap {
			return cap
		}
	}
	if delay > cap {
		return cap
	}
	return delay
}
