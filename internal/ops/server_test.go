// Vicinity - Civic Incident Reporting and Neighborhood Chat
// Copyright 2026 The Vicinity Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vicinity-app/chatsync

package ops

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/vicinity-app/chatsync/internal/config"
)

func testServerConfig() config.ServerConfig {
	return config.ServerConfig{
		Host:            "127.0.0.1",
		Port:            7350,
		Timeout:         5 * time.Second,
		RateLimitReqs:   0,
		RateLimitWindow: time.Minute,
	}
}

func TestHealthz(t *testing.T) {
	srv := New(testServerConfig())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status field = %q, want ok", body.Status)
	}
}

func TestReadyzReflectsProbes(t *testing.T) {
	srv := New(testServerConfig())
	identityReady := false
	srv.RegisterProbe("identity", func() error {
		if !identityReady {
			return errors.New("identity: not ready")
		}
		return nil
	})
	srv.RegisterProbe("outbox", func() error { return nil })

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	get := func() (int, readyResponse) {
		t.Helper()
		resp, err := http.Get(ts.URL + "/readyz")
		if err != nil {
			t.Fatalf("GET /readyz: %v", err)
		}
		defer resp.Body.Close()
		var body readyResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return resp.StatusCode, body
	}

	status, body := get()
	if status != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 before identity resolves", status)
	}
	if body.Status != "not ready" {
		t.Errorf("body status = %q", body.Status)
	}
	if !strings.Contains(body.Checks["identity"], "not ready") {
		t.Errorf("identity check = %q", body.Checks["identity"])
	}
	if body.Checks["outbox"] != "ok" {
		t.Errorf("outbox check = %q, want ok", body.Checks["outbox"])
	}

	identityReady = true
	status, body = get()
	if status != http.StatusOK {
		t.Errorf("status = %d, want 200 after identity resolves", status)
	}
	if body.Status != "ready" {
		t.Errorf("body status = %q, want ready", body.Status)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := New(testServerConfig())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestRateLimitApplies(t *testing.T) {
	cfg := testServerConfig()
	cfg.RateLimitReqs = 2
	cfg.RateLimitWindow = time.Minute
	srv := New(cfg)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	var last int
	for i := 0; i < 5; i++ {
		resp, err := http.Get(ts.URL + "/healthz")
		if err != nil {
			t.Fatalf("GET /healthz: %v", err)
		}
		resp.Body.Close()
		last = resp.StatusCode
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("status after burst = %d, want 429", last)
	}
}
