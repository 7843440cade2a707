// Copyright 2026 The Grove Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/grove-systems/grove/lib/clock"
	"github.com/grove-systems/grove/lib/config"
	"github.com/grove-systems/grove/lib/ident"
	"github.com/grove-systems/grove/lib/registry"
	"github.com/grove-systems/grove/lib/sentinel"
	"github.com/grove-systems/grove/lib/testutil"
)

// crashScript is a worker that becomes ready, stays up long enough for
// Start to observe readiness, then dies.
const crashScript = `echo "listening on 127.0.0.1:$PORT"; sleep 0.3; exit 1`

func TestBackoffDelay(t *testing.T) {
	base := 3 * time.Second
	cap := 60 * time.Second
	want := []time.Duration{
		3 * time.Second,
		6 * time.Second,
		12 * time.Second,
		24 * time.Second,
		48 * time.Second,
		60 * time.Second,
		60 * time.Second,
	}
	for count, expected := range want {
		if got := backoffDelay(base, cap, count); got != expected {
			t.Errorf("backoffDelay(count=%d) = %v, want %v", count, got, expected)
		}
	}
}

func TestCrashLoopGivesUpAtAttemptCap(t *testing.T) {
	cfg := testConfig(t, crashScript)
	sup, store := newTestSupervisor(t, cfg)
	id := registerMind(t, cfg, store, "alpha")

	if err := sup.Start(context.Background(), id); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Two recovery attempts, then give-up: the durable flag flips to
	// false and no further process appears.
	testutil.Eventually(t, 10*time.Second, func() bool {
		return !mindRunning(t, store, "alpha") && !sup.IsRunning(id)
	}, "crash loop never gave up")

	count, err := sup.attempts.get(id.String())
	if err != nil {
		t.Fatalf("reading attempt counter: %v", err)
	}
	if count != cfg.Supervisor.Backoff.MaxAttempts {
		t.Errorf("attempt counter = %d, want %d left at the cap", count, cfg.Supervisor.Backoff.MaxAttempts)
	}
}

func TestStopDoesNotCountAsCrash(t *testing.T) {
	cfg := testConfig(t, readyScript)
	sup, store := newTestSupervisor(t, cfg)
	id := registerMind(t, cfg, store, "alpha")
	ctx := context.Background()

	if err := sup.Start(ctx, id); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sup.Stop(ctx, id); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// Give a would-be crash hook time to act, then confirm it did not.
	time.Sleep(300 * time.Millisecond)
	if sup.IsRunning(id) {
		t.Fatal("stopped worker was restarted by the crash hook")
	}
	count, err := sup.attempts.get(id.String())
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("attempt counter = %d after clean Stop, want 0", count)
	}
}

func TestSustainedRunResetsCounter(t *testing.T) {
	cfg := testConfig(t, readyScript)
	cfg.Supervisor.Backoff.Sustain = config.Duration(10 * time.Second)
	store := registry.NewStore(cfg.RegistryPath())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fake := clock.Fake(time.Unix(1_700_000_000, 0))
	sup := New(cfg, store, logger, fake)

	// No working directory on purpose: if an Advance fires a scheduled
	// recovery restart, Start fails on resolve instead of spawning.
	err := store.PutMind(registry.Mind{Name: "alpha", Port: 45100, Stage: registry.StageSeed})
	if err != nil {
		t.Fatal(err)
	}
	id := ident.Mind("alpha")

	if err := sup.attempts.set(id.String(), 4); err != nil {
		t.Fatal(err)
	}

	// An exit after a run longer than the sustain window opens a fresh
	// crash sequence: the inherited counter is discarded and this crash
	// counts as the first.
	tracked := &trackedProcess{identity: id, dir: t.TempDir(), startedAt: fake.Now()}
	fake.Advance(11 * time.Second)
	sup.handleExit(tracked, errors.New("exit status 1"))

	count, err := sup.attempts.get(id.String())
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("attempt counter = %d after sustained run, want 1", count)
	}

	// A short-lived run continues the sequence instead.
	tracked = &trackedProcess{identity: id, dir: t.TempDir(), startedAt: fake.Now()}
	fake.Advance(time.Second)
	sup.handleExit(tracked, errors.New("exit status 1"))

	count, err = sup.attempts.get(id.String())
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Fatalf("attempt counter = %d after short run, want 2", count)
	}
}

func TestHandleExitIgnoresIntentionalStop(t *testing.T) {
	cfg := testConfig(t, readyScript)
	store := registry.NewStore(cfg.RegistryPath())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fake := clock.Fake(time.Unix(1_700_000_000, 0))
	sup := New(cfg, store, logger, fake)

	err := store.PutMind(registry.Mind{Name: "alpha", Port: 45100, Stage: registry.StageSprouted, Running: true})
	if err != nil {
		t.Fatal(err)
	}
	id := ident.Mind("alpha")

	// The stop intent lives on the process generation, so the hook
	// sees it no matter how late it runs after done closes.
	tracked := &trackedProcess{identity: id, dir: t.TempDir(), startedAt: fake.Now()}
	tracked.stopping.Store(true)
	sup.handleExit(tracked, errors.New("signal: terminated"))

	count, err := sup.attempts.get(id.String())
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("attempt counter = %d after intentional stop, want 0", count)
	}
	if pending := fake.PendingCount(); pending != 0 {
		t.Errorf("%d restart timers scheduled after intentional stop, want none", pending)
	}
	mind, _, err := store.Mind("alpha")
	if err != nil {
		t.Fatal(err)
	}
	if !mind.Running {
		t.Error("running flag flipped by the crash hook during an intentional stop")
	}
}

type mergeCall struct {
	base   string
	signal sentinel.Signal
}

type recordingMerger struct {
	mu    sync.Mutex
	calls []mergeCall
}

func (m *recordingMerger) MergeFromSignal(ctx context.Context, base string, signal sentinel.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, mergeCall{base: base, signal: signal})
	return nil
}

func (m *recordingMerger) snapshot() []mergeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mergeCall(nil), m.calls...)
}

func TestRestartSignalMergesAndRestarts(t *testing.T) {
	// The first run writes a restart signal and exits; every later run
	// idles so the post-merge restart is observable.
	script := `
echo "listening on 127.0.0.1:$PORT"
if [ ! -f ran-once ]; then
  touch ran-once
  mkdir -p .grove
  printf '%s' '{"action":"merge","name":"fix","summary":"done"}' > .grove/restart-signal.json
  sleep 0.3
  exit 0
fi
exec sleep 60
`
	cfg := testConfig(t, script)
	sup, store := newTestSupervisor(t, cfg)
	merger := &recordingMerger{}
	sup.SetMerger(merger)
	id := registerMind(t, cfg, store, "alpha")

	if err := sup.Start(context.Background(), id); err != nil {
		t.Fatalf("Start: %v", err)
	}

	testutil.Eventually(t, 10*time.Second, func() bool {
		return len(merger.snapshot()) == 1 && sup.IsRunning(id)
	}, "merge-then-restart never completed")

	call := merger.snapshot()[0]
	if call.base != "alpha" {
		t.Errorf("merge base = %q, want alpha", call.base)
	}
	if call.signal.Name != "fix" || call.signal.Summary != "done" {
		t.Errorf("merge signal = %+v, want name=fix summary=done", call.signal)
	}

	// Consume is read-then-unlink, so the signal cannot replay.
	if _, err := os.Stat(signalPath(cfg.MindDir("alpha"))); !os.IsNotExist(err) {
		t.Errorf("restart signal still on disk after consumption: %v", err)
	}

	// The merge path resets the crash sequence.
	count, err := sup.attempts.get(id.String())
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("attempt counter = %d after merge restart, want 0", count)
	}
}
