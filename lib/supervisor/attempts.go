// Copyright 2026 The Grove Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"fmt"
	"os"
	"sync"

	"github.com/grove-systems/grove/lib/atomicfile"
	"github.com/grove-systems/grove/lib/codec"
)

// attemptsFile persists the consecutive-crash counters so a supervisor
// restart does not erase backoff history mid-crash-loop. The file is a
// CBOR map of identity to count, rewritten atomically on every change.
type attemptsFile struct {
	path string
	mu   sync.Mutex
}

func newAttemptsFile(path string) *attemptsFile {
	return &attemptsFile{path: path}
}

func (a *attemptsFile) load() (map[string]int, error) {
	data, err := os.ReadFile(a.path)
	if os.IsNotExist(err) {
		return map[string]int{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading crash-attempts file: %w", err)
	}
	var counts map[string]int
	if err := codec.Unmarshal(data, &counts); err != nil {
		return nil, fmt.Errorf("parsing crash-attempts file: %w", err)
	}
	if counts == nil {
		counts = map[string]int{}
	}
	return counts, nil
}

func (a *attemptsFile) save(counts map[string]int) error {
	data, err := codec.Marshal(counts)
	if err != nil {
		return fmt.Errorf("marshaling crash attempts: %w", err)
	}
	if err := atomicfile.Write(a.path, data, 0600); err != nil {
		return fmt.Errorf("writing crash-attempts file: %w", err)
	}
	return nil
}

// get returns the current count for an identity, defaulting to 0.
func (a *attemptsFile) get(identity string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	counts, err := a.load()
	if err != nil {
		return 0, err
	}
	return counts[identity], nil
}

// set persists a count for an identity.
func (a *attemptsFile) set(identity string, count int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	counts, err := a.load()
	if err != nil {
		return err
	}
	counts[identity] = count
	return a.save(counts)
}

// clear removes an identity's counter. Clearing an absent counter is a
// no-op.
func (a *attemptsFile) clear(identity string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	counts, err := a.load()
	if err != nil {
		return err
	}
	if _, ok := counts[identity]; !ok {
		return nil
	}
	delete(counts, identity)
	return a.save(counts)
}
