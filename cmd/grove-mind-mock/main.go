// Copyright 2026 The Grove Authors
// SPDX-License-Identifier: Apache-2.0

// grove-mind-mock is a stand-in mind worker for manual and integration
// testing. It binds the port the supervisor assigned, prints the
// readiness line the supervisor scans for, answers health probes, and
// exits cleanly on SIGTERM.
//
// Two escape hatches exercise the supervisor's recovery paths:
// --crash-after makes the worker die after a delay, driving the
// crash-backoff loop, and --merge-after makes it write a merge
// restart signal and exit, driving the merge-then-restart transition.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/grove-systems/grove/lib/process"
	"github.com/grove-systems/grove/lib/sentinel"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		crashAfter time.Duration
		mergeAfter time.Duration
		mergeName  string
	)
	pflag.DurationVar(&crashAfter, "crash-after", 0, "exit nonzero after this long (0 disables)")
	pflag.DurationVar(&mergeAfter, "merge-after", 0, "write a merge restart signal and exit after this long (0 disables)")
	pflag.StringVar(&mergeName, "merge-name", "", "variant name for the restart signal (required with --merge-after)")
	pflag.Parse()

	if mergeAfter > 0 && mergeName == "" {
		return fmt.Errorf("--merge-after requires --merge-name")
	}

	port, err := strconv.Atoi(os.Getenv("PORT"))
	if err != nil {
		return fmt.Errorf("PORT environment variable: %w", err)
	}
	identity := os.Getenv("GROVE_MIND")
	if identity == "" {
		identity = "unknown"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "grove-mind-mock %s\n", identity)
	})

	listener, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(port))
	if err != nil {
		return fmt.Errorf("binding port %d: %w", port, err)
	}

	// The supervisor gates readiness on this line.
	fmt.Printf("%s listening on 127.0.0.1:%d\n", identity, port)

	server := &http.Server{Handler: mux}
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(listener) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var crashCh, mergeCh <-chan time.Time
	if crashAfter > 0 {
		crashCh = time.After(crashAfter)
	}
	if mergeAfter > 0 {
		mergeCh = time.After(mergeAfter)
	}

	select {
	case received := <-sigCh:
		fmt.Printf("%s exiting on %s\n", identity, received)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)

	case <-crashCh:
		fmt.Printf("%s crashing as requested\n", identity)
		os.Exit(1)

	case <-mergeCh:
		if err := os.MkdirAll(".grove", 0755); err != nil {
			return fmt.Errorf("creating signal directory: %w", err)
		}
		signalFile := filepath.Join(".grove", "restart-signal.json")
		err := sentinel.Write(signalFile, sentinel.Signal{
			Action:  sentinel.ActionMerge,
			Name:    mergeName,
			Summary: "mock merge request",
		})
		if err != nil {
			return fmt.Errorf("writing restart signal: %w", err)
		}
		fmt.Printf("%s wrote restart signal for %s, exiting\n", identity, mergeName)
		return nil

	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
