// Copyright 2026 The Grove Authors
// SPDX-License-Identifier: Apache-2.0

// Package logsink manages per-mind log files. Each start opens a fresh
// log for the child's combined stdout/stderr; the previous run's log is
// compressed to <name>.log.1.gz first so a crash loop cannot grow
// unbounded plaintext logs while the last pre-crash output stays
// available for diagnosis.
package logsink

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
)

// Open returns a write handle for a worker's log, rotating any
// existing log to its compressed predecessor. The directory is created
// if needed. The caller owns the returned file.
func Open(dir, name string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	path := filepath.Join(dir, name+".log")
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		if err := rotate(path); err != nil {
			return nil, err
		}
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return file, nil
}

// Path returns where a worker's live log lives.
func Path(dir, name string) string {
	return filepath.Join(dir, name+".log")
}

// rotate compresses path to path.1.gz, replacing any previous rotation,
// then removes the original.
func rotate(path string) error {
	source, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening log for rotation: %w", err)
	}
	defer source.Close()

	rotatedPath := path + ".1.gz"
	destination, err := os.OpenFile(rotatedPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("creating rotated log: %w", err)
	}

	// A failed rotation must not leave a truncated .gz behind: the
	// next rotation would silently replace it, but anything reading
	// rotated logs in between would see a corrupt archive.
	discard := func(err error) error {
		os.Remove(rotatedPath)
		return err
	}

	writer := gzip.NewWriter(destination)
	if _, err := io.Copy(writer, source); err != nil {
		writer.Close()
		destination.Close()
		return discard(fmt.Errorf("compressing rotated log: %w", err))
	}
	if err := writer.Close(); err != nil {
		destination.Close()
		return discard(fmt.Errorf("finalizing rotated log: %w", err))
	}
	if err := destination.Close(); err != nil {
		return discard(fmt.Errorf("closing rotated log: %w", err))
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("removing rotated log source: %w", err)
	}
	return nil
}
