// Copyright 2026 The Grove Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestFakeNowAdvance(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := Fake(start)

	if got := fake.Now(); !got.Equal(start) {
		t.Errorf("Now() = %v, want %v", got, start)
	}

	fake.Advance(90 * time.Second)
	if got := fake.Now(); !got.Equal(start.Add(90 * time.Second)) {
		t.Errorf("Now() after Advance = %v, want %v", got, start.Add(90*time.Second))
	}
}

func TestFakeAfterFiresInOrder(t *testing.T) {
	t.Parallel()

	fake := Fake(time.Unix(0, 0))
	first := fake.After(1 * time.Second)
	second := fake.After(2 * time.Second)

	fake.Advance(1500 * time.Millisecond)

	select {
	case <-first:
	default:
		t.Fatal("first timer did not fire after advancing past its deadline")
	}
	select {
	case <-second:
		t.Fatal("second timer fired before its deadline")
	default:
	}

	fake.Advance(1 * time.Second)
	select {
	case <-second:
	default:
		t.Fatal("second timer did not fire")
	}
}

func TestFakeAfterNonPositive(t *testing.T) {
	t.Parallel()

	fake := Fake(time.Unix(0, 0))
	select {
	case <-fake.After(0):
	default:
		t.Fatal("After(0) should receive immediately")
	}
}

func TestFakeAfterFuncStop(t *testing.T) {
	t.Parallel()

	fake := Fake(time.Unix(0, 0))
	var fired atomic.Bool
	timer := fake.AfterFunc(1*time.Second, func() { fired.Store(true) })

	if !timer.Stop() {
		t.Fatal("Stop() on pending timer should return true")
	}
	fake.Advance(2 * time.Second)
	if fired.Load() {
		t.Error("stopped timer still fired")
	}
	if timer.Stop() {
		t.Error("second Stop() should return false")
	}
}

func TestFakeAfterFuncImmediate(t *testing.T) {
	t.Parallel()

	fake := Fake(time.Unix(0, 0))
	var fired atomic.Bool
	fake.AfterFunc(0, func() { fired.Store(true) })
	if !fired.Load() {
		t.Error("AfterFunc(0) should run synchronously")
	}
}

func TestFakeWaitForTimers(t *testing.T) {
	t.Parallel()

	fake := Fake(time.Unix(0, 0))
	done := make(chan struct{})
	go func() {
		fake.Sleep(5 * time.Second)
		close(done)
	}()

	fake.WaitForTimers(1)
	fake.Advance(5 * time.Second)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Sleep did not return after Advance past its deadline")
	}
}
