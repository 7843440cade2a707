// Copyright 2026 The Grove Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/grove-systems/grove/lib/ident"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "registry.json"))
}

func TestMissingFileReadsEmpty(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	minds, err := store.Minds()
	if err != nil {
		t.Fatalf("Minds: %v", err)
	}
	if len(minds) != 0 {
		t.Errorf("Minds = %v, want empty", minds)
	}
}

func TestPutMindRoundTrip(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	if err := store.PutMind(Mind{Name: "alpha", Port: 4800, Stage: StageSprouted}); err != nil {
		t.Fatalf("PutMind: %v", err)
	}

	mind, ok, err := store.Mind("alpha")
	if err != nil || !ok {
		t.Fatalf("Mind = %v, %v, %v", mind, ok, err)
	}
	if mind.Port != 4800 || mind.Stage != StageSprouted || mind.Running {
		t.Errorf("Mind = %+v", mind)
	}
}

func TestPutMindRejectsInvalidName(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	if err := store.PutMind(Mind{Name: "../evil", Port: 4800}); err == nil {
		t.Fatal("expected error for invalid mind name")
	}
}

func TestSetRunning(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	if err := store.PutMind(Mind{Name: "alpha", Port: 4800, Stage: StageSprouted}); err != nil {
		t.Fatalf("PutMind: %v", err)
	}
	if err := store.SetRunning(ident.Mind("alpha"), true); err != nil {
		t.Fatalf("SetRunning: %v", err)
	}
	mind, _, _ := store.Mind("alpha")
	if !mind.Running {
		t.Error("Running not persisted")
	}

	if err := store.SetRunning(ident.Mind("ghost"), true); err == nil {
		t.Error("SetRunning on unknown mind should fail")
	}
}

func TestVariantLifecycle(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	if err := store.PutMind(Mind{Name: "alpha", Port: 4800, Stage: StageSprouted}); err != nil {
		t.Fatalf("PutMind: %v", err)
	}

	variant := Variant{
		Name:    "exp",
		Branch:  "exp",
		Path:    "/minds/alpha/.variants/exp",
		Port:    4801,
		Created: time.Now().UTC(),
	}
	if err := store.PutVariant("alpha", variant); err != nil {
		t.Fatalf("PutVariant: %v", err)
	}
	if err := store.PutVariant("ghost", variant); err == nil {
		t.Error("PutVariant under unknown mind should fail")
	}

	got, ok, err := store.Variant("alpha", "exp")
	if err != nil || !ok {
		t.Fatalf("Variant = %v, %v, %v", got, ok, err)
	}
	if got.Port != 4801 || got.Branch != "exp" {
		t.Errorf("Variant = %+v", got)
	}

	if err := store.SetRunning(ident.Variant("alpha", "exp"), true); err != nil {
		t.Fatalf("SetRunning variant: %v", err)
	}
	got, _, _ = store.Variant("alpha", "exp")
	if !got.Running {
		t.Error("variant Running not persisted")
	}

	if err := store.RemoveVariant("alpha", "exp"); err != nil {
		t.Fatalf("RemoveVariant: %v", err)
	}
	_, ok, _ = store.Variant("alpha", "exp")
	if ok {
		t.Error("variant still present after RemoveVariant")
	}

	// Removing again is a no-op, not an error.
	if err := store.RemoveVariant("alpha", "exp"); err != nil {
		t.Errorf("RemoveVariant (absent): %v", err)
	}
}

func TestUsedPortsCoversStoppedVariants(t *testing.T) {
	t.Parallel()

	store := newStore(t)
	if err := store.PutMind(Mind{Name: "alpha", Port: 4800, Stage: StageSprouted}); err != nil {
		t.Fatalf("PutMind: %v", err)
	}
	if err := store.PutVariant("alpha", Variant{Name: "exp", Branch: "exp", Port: 4801}); err != nil {
		t.Fatalf("PutVariant: %v", err)
	}

	used, err := store.UsedPorts()
	if err != nil {
		t.Fatalf("UsedPorts: %v", err)
	}
	if !used[4800] || !used[4801] {
		t.Errorf("UsedPorts = %v, want 4800 and 4801 claimed", used)
	}
}

func TestLoadToleratesComments(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "registry.json")
	content := `{
  // operator note: alpha is the production mind
  "minds": {
    "alpha": {"name": "alpha", "port": 4800, "stage": "sprouted", "running": false},
  }
}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	store := NewStore(path)
	mind, ok, err := store.Mind("alpha")
	if err != nil || !ok {
		t.Fatalf("Mind = %v, %v, %v", mind, ok, err)
	}
	if mind.Port != 4800 {
		t.Errorf("Port = %d, want 4800", mind.Port)
	}
}
