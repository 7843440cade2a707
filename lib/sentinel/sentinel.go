// Copyright 2026 The Grove Authors
// SPDX-License-Identifier: Apache-2.0

// Package sentinel implements the restart-signal protocol: a durable
// file a worker writes to ask its own supervisor for a merge-then-
// restart. Worker and supervisor are separate OS processes with no
// other shared channel, so the request travels through the worker's
// state directory.
//
// The contract is consume-exactly-once: the supervisor's crash hook
// reads the file and unlinks it before acting on the contents, so a
// crash during the merge can never replay the signal on a later,
// unrelated crash. Malformed content (bad JSON, invalid action or
// variant name) is treated as "no signal" — it falls through to
// ordinary crash backoff instead of failing the supervisor.
package sentinel

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/grove-systems/grove/lib/atomicfile"
	"github.com/grove-systems/grove/lib/ident"
)

// ActionMerge is the only action the supervisor acts on.
const ActionMerge = "merge"

// Signal is the wire format. Workers are not Go processes, so this
// stays plain JSON.
type Signal struct {
	Action        string `json:"action"`
	Name          string `json:"name"`
	Summary       string `json:"summary,omitempty"`
	Justification string `json:"justification,omitempty"`
	Memory        string `json:"memory,omitempty"`
}

// Write atomically writes a signal file. Exists for the mock worker
// and for tests; real workers write the same JSON themselves.
func Write(path string, signal Signal) error {
	data, err := json.MarshalIndent(signal, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling restart signal: %w", err)
	}
	data = append(data, '\n')
	if err := atomicfile.Write(path, data, 0644); err != nil {
		return fmt.Errorf("writing restart signal: %w", err)
	}
	return nil
}

// Consume removes the signal file at path and returns its contents.
// The unlink happens before parsing or validation, so the signal fires
// at most once no matter what happens afterward. Returns ok=false when
// no file exists or the contents are not a valid merge request.
func Consume(path string) (Signal, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Signal{}, false
	}

	// Unlink first. A parse failure after this point still consumed
	// the signal — that is the contract, not a leak.
	os.Remove(path)

	var signal Signal
	if err := json.Unmarshal(data, &signal); err != nil {
		return Signal{}, false
	}
	if signal.Action != ActionMerge {
		return Signal{}, false
	}
	if err := ident.ValidateVariantName(signal.Name); err != nil {
		return Signal{}, false
	}
	return signal, true
}
