// Vicinity - Civic Incident Reporting and Neighborhood Chat
// Copyright 2026 The Vicinity Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vicinity-app/chatsync

package mux

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestConnectReleasesLockDuringOnlineHook(t *testing.T) {
	srv := wsTestServer(t, nil)
	defer srv.Close()

	entered := make(chan struct{})
	release := make(chan struct{})
	header := http.Header{"Authorization": []string{"Bearer test-token"}}
	s := newStream("user", "ws"+strings.TrimPrefix(srv.URL, "http"), header,
		func([]byte) {},
		func(time.Duration) {
			close(entered)
			<-release
		})

	done := make(chan error, 1)
	go func() { done <- s.connect(context.Background()) }()

	select {
	case <-entered:
	case <-time.After(3 * time.Second):
		t.Fatal("online hook never fired")
	}

	// The hook may run a full resync over the network; the connection
	// mutex must stay free for the ping loop and stop while it runs.
	acquired := make(chan struct{})
	go func() {
		s.connMu.Lock()
		s.connMu.Unlock() //nolint:staticcheck // probing lock availability
		close(acquired)
	}()
	select {
	case <-acquired:
	case <-time.After(2 * time.Second):
		t.Fatal("connection mutex held while online hook runs")
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("connect: %v", err)
	}
	s.stop()
}
