// Copyright 2026 The Grove Authors
// SPDX-License-Identifier: Apache-2.0

// Package registry is the durable mapping behind the fleet: base minds
// (name, port, stage, intended-running flag) and their variants (name,
// branch, worktree path, port, created, running). The file is plain
// JSON so operators can inspect and hand-edit it; reads tolerate
// comments and trailing commas. Every mutation re-reads the file,
// applies the change, and atomically rewrites it under a store-wide
// lock, so concurrent mutations through one Store never lose updates.
//
// The running flag records intent, not liveness: it flips on explicit
// start/stop and on crash-loop give-up, never on mere process exit. A
// supervisor restart reads it to decide which minds to resume.
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/tidwall/jsonc"

	"github.com/grove-systems/grove/lib/atomicfile"
	"github.com/grove-systems/grove/lib/ident"
)

// Stage is a mind's provisioning stage.
type Stage string

const (
	// StageSeed marks a mind that is registered but has never been
	// provisioned with a working directory.
	StageSeed Stage = "seed"
	// StageSprouted marks a mind with a live working directory.
	StageSprouted Stage = "sprouted"
)

// Mind is a base mind's registry entry.
type Mind struct {
	Name    string `json:"name"`
	Port    int    `json:"port"`
	Stage   Stage  `json:"stage"`
	Running bool   `json:"running"`
}

// Variant is an experimental branch of a mind, running as its own
// process on its own port out of a git worktree.
type Variant struct {
	Name    string    `json:"name"`
	Branch  string    `json:"branch"`
	Path    string    `json:"path"`
	Port    int       `json:"port"`
	Created time.Time `json:"created"`
	Running bool      `json:"running"`
}

// file is the on-disk shape.
type file struct {
	Minds    map[string]*Mind               `json:"minds"`
	Variants map[string]map[string]*Variant `json:"variants,omitempty"`
}

// Store reads and writes one registry file. Mutations serialize
// through the Store's lock; use a single Store per file per process.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore returns a Store for the registry file at path. The file is
// created on first mutation; a missing file reads as an empty fleet.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the registry file path.
func (s *Store) Path() string { return s.path }

func (s *Store) load() (*file, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &file{Minds: map[string]*Mind{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading registry %s: %w", s.path, err)
	}

	var f file
	if err := json.Unmarshal(jsonc.ToJSON(data), &f); err != nil {
		return nil, fmt.Errorf("parsing registry %s: %w", s.path, err)
	}
	if f.Minds == nil {
		f.Minds = map[string]*Mind{}
	}
	return &f, nil
}

func (s *Store) save(f *file) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling registry: %w", err)
	}
	data = append(data, '\n')
	if err := atomicfile.Write(s.path, data, 0644); err != nil {
		return fmt.Errorf("writing registry %s: %w", s.path, err)
	}
	return nil
}

// mutate runs fn against the current file contents and rewrites the
// file if fn returns nil.
func (s *Store) mutate(fn func(*file) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		return err
	}
	return s.save(f)
}

// Mind returns a base mind's entry. The second result is false when
// the mind is not registered.
func (s *Store) Mind(name string) (Mind, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return Mind{}, false, err
	}
	mind, ok := f.Minds[name]
	if !ok {
		return Mind{}, false, nil
	}
	return *mind, true, nil
}

// Minds returns all base minds, sorted by name.
func (s *Store) Minds() ([]Mind, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return nil, err
	}
	minds := make([]Mind, 0, len(f.Minds))
	for _, mind := range f.Minds {
		minds = append(minds, *mind)
	}
	sort.Slice(minds, func(i, j int) bool { return minds[i].Name < minds[j].Name })
	return minds, nil
}

// PutMind adds or replaces a base mind's entry.
func (s *Store) PutMind(mind Mind) error {
	if err := ident.ValidateBaseName(mind.Name); err != nil {
		return err
	}
	return s.mutate(func(f *file) error {
		f.Minds[mind.Name] = &mind
		return nil
	})
}

// SetRunning updates the durable running flag for a base mind or a
// variant. Unknown identities are an error: the flag must never be
// created as a side effect.
func (s *Store) SetRunning(identity ident.Identity, running bool) error {
	return s.mutate(func(f *file) error {
		if identity.IsVariant() {
			variant, ok := f.Variants[identity.Base()][identity.VariantName()]
			if !ok {
				return fmt.Errorf("unknown variant %s", identity)
			}
			variant.Running = running
			return nil
		}
		mind, ok := f.Minds[identity.Base()]
		if !ok {
			return fmt.Errorf("unknown mind %s", identity)
		}
		mind.Running = running
		return nil
	})
}

// Variant returns one variant of a base mind.
func (s *Store) Variant(base, name string) (Variant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return Variant{}, false, err
	}
	variant, ok := f.Variants[base][name]
	if !ok {
		return Variant{}, false, nil
	}
	return *variant, true, nil
}

// Variants returns all variants of a base mind, sorted by name.
func (s *Store) Variants(base string) ([]Variant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return nil, err
	}
	variants := make([]Variant, 0, len(f.Variants[base]))
	for _, variant := range f.Variants[base] {
		variants = append(variants, *variant)
	}
	sort.Slice(variants, func(i, j int) bool { return variants[i].Name < variants[j].Name })
	return variants, nil
}

// PutVariant adds or replaces a variant entry under a base mind. The
// base mind must exist.
func (s *Store) PutVariant(base string, variant Variant) error {
	return s.mutate(func(f *file) error {
		if _, ok := f.Minds[base]; !ok {
			return fmt.Errorf("unknown mind %s", base)
		}
		if f.Variants == nil {
			f.Variants = map[string]map[string]*Variant{}
		}
		if f.Variants[base] == nil {
			f.Variants[base] = map[string]*Variant{}
		}
		f.Variants[base][variant.Name] = &variant
		return nil
	})
}

// RemoveVariant deletes a variant entry. Removing an absent variant is
// a no-op: best-effort delete chains end here unconditionally.
func (s *Store) RemoveVariant(base, name string) error {
	return s.mutate(func(f *file) error {
		delete(f.Variants[base], name)
		if len(f.Variants[base]) == 0 {
			delete(f.Variants, base)
		}
		return nil
	})
}

// UsedPorts returns every port claimed by any mind or variant,
// running or not.
func (s *Store) UsedPorts() (map[int]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.load()
	if err != nil {
		return nil, err
	}
	used := make(map[int]bool)
	for _, mind := range f.Minds {
		used[mind.Port] = true
	}
	for _, variants := range f.Variants {
		for _, variant := range variants {
			used[variant.Port] = true
		}
	}
	return used, nil
}
