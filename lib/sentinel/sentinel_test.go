// Copyright 2026 The Grove Authors
// SPDX-License-Identifier: Apache-2.0

package sentinel

import (
	"os"
	"path/filepath"
	"testing"
)

func signalPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "restart-signal.json")
}

func TestConsumeValidSignal(t *testing.T) {
	t.Parallel()

	path := signalPath(t)
	want := Signal{
		Action:        ActionMerge,
		Name:          "exp",
		Summary:       "tightened retry loop",
		Justification: "observed fewer stalls",
	}
	if err := Write(path, want); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, ok := Consume(path)
	if !ok {
		t.Fatal("Consume = !ok for valid signal")
	}
	if got != want {
		t.Errorf("Consume = %+v, want %+v", got, want)
	}

	// Consumed means gone: a second consume finds nothing.
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("signal file still present after Consume")
	}
	if _, ok := Consume(path); ok {
		t.Error("second Consume returned a signal")
	}
}

func TestConsumeMissingFile(t *testing.T) {
	t.Parallel()

	if _, ok := Consume(signalPath(t)); ok {
		t.Error("Consume = ok for missing file")
	}
}

func TestConsumeMalformedStillUnlinks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{name: "invalid json", content: "{not json"},
		{name: "wrong action", content: `{"action": "reboot", "name": "exp"}`},
		{name: "missing name", content: `{"action": "merge"}`},
		{name: "path traversal name", content: `{"action": "merge", "name": "../evil"}`},
		{name: "reserved name", content: `{"action": "merge", "name": "upgrade"}`},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			path := signalPath(t)
			if err := os.WriteFile(path, []byte(test.content), 0644); err != nil {
				t.Fatalf("WriteFile: %v", err)
			}

			if _, ok := Consume(path); ok {
				t.Error("Consume = ok for malformed signal")
			}
			// Malformed signals are consumed too — never replayed.
			if _, err := os.Stat(path); !os.IsNotExist(err) {
				t.Error("malformed signal file not unlinked")
			}
		})
	}
}
