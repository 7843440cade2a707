// Copyright 2026 The Grove Authors
// SPDX-License-Identifier: Apache-2.0

// Package health probes worker processes over their loopback health
// endpoint. A probe answers one question — is something alive and
// serving on this port — and nothing in the response body is
// semantically meaningful to grove.
package health

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// DefaultTimeout bounds a single probe. Workers answer /health from
// memory; anything slower than this is indistinguishable from dead.
const DefaultTimeout = 2 * time.Second

// Probe issues a GET to http://127.0.0.1:<port>/health and reports
// whether a worker answered with a 2xx status within the timeout.
func Probe(ctx context.Context, port int, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	url := fmt.Sprintf("http://127.0.0.1:%d/health", port)
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		return false
	}
	defer response.Body.Close()
	return response.StatusCode >= 200 && response.StatusCode < 300
}
