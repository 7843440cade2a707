// Copyright 2026 The Grove Authors
// SPDX-License-Identifier: Apache-2.0

// Package atomicfile writes files atomically: data goes to a temporary
// file in the same directory, is fsynced, and is renamed into place, so
// readers never observe a partial or corrupt file. The registry, the
// crash-attempts map, and restart-signal sentinels are all written this
// way — every one of them may be read by another process (or a restarted
// supervisor) at any moment.
package atomicfile

import (
	"fmt"
	"os"
	"path/filepath"
)

// Write atomically replaces the file at path with data. The file is
// created with the given mode; the parent directory must already exist.
func Write(path string, data []byte, mode os.FileMode) error {
	temporaryPath := path + ".tmp"

	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("creating temporary file: %w", err)
	}

	// Write, sync, close — in that order. If any step fails, remove
	// the temporary file and report the first error.
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary file: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary file: %w", err)
	}

	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming into place: %w", err)
	}

	// Sync the parent directory so the rename survives power loss
	// between the rename and the OS flushing directory metadata.
	parent, err := os.Open(filepath.Dir(path))
	if err == nil {
		parent.Sync()
		parent.Close()
	}

	return nil
}
