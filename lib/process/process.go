// Copyright 2026 The Grove Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for grove
// binaries: fatal error reporting to stderr when the structured logger
// may not be initialized yet, and process exit after an unrecoverable
// error in main(). All other raw I/O in grove binaries goes through
// the slog logger or the CLI's rendering path.
package process

import (
	"fmt"
	"os"
)

// Fatal writes "error: err" to stderr and exits with code 1. Use it in
// main() for errors from run() where the logger may not exist yet.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
