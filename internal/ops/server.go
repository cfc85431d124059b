// Vicinity - Civic Incident Reporting and Neighborhood Chat
// Copyright 2026 The Vicinity Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vicinity-app/chatsync

// Package ops serves the agent's local operational endpoints: liveness,
// readiness, and Prometheus metrics. It is not a public API; it binds
// to localhost by default and carries no chat data.
package ops

import (
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vicinity-app/chatsync/internal/config"
	"github.com/vicinity-app/chatsync/internal/logging"
)

// Probe reports whether one subsystem is ready. A nil return means
// ready.
type Probe func() error

// Server is the ops HTTP surface.
type Server struct {
	cfg config.ServerConfig

	mu     sync.RWMutex
	probes map[string]Probe
}

// New builds an ops server for the given listener configuration.
// Readiness probes are registered afterwards with RegisterProbe.
func New(cfg config.ServerConfig) *Server {
	return &Server{cfg: cfg, probes: make(map[string]Probe)}
}

// RegisterProbe adds a named readiness probe. Registering the same name
// twice replaces the probe.
func (s *Server) RegisterProbe(name string, probe Probe) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probes[name] = probe
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	if s.cfg.RateLimitReqs > 0 {
		r.Use(httprate.LimitByIP(s.cfg.RateLimitReqs, s.cfg.RateLimitWindow))
	}

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// HTTPServer returns an *http.Server bound per the configuration,
// ready to hand to the supervisor.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, fmt.Sprintf("%d", s.cfg.Port)),
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.Timeout,
	}
}

type healthResponse struct {
	Status string `json:"status"`
}

type readyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	names := make([]string, 0, len(s.probes))
	for name := range s.probes {
		names = append(names, name)
	}
	sort.Strings(names)
	probes := make([]Probe, len(names))
	for i, name := range names {
		probes[i] = s.probes[name]
	}
	s.mu.RUnlock()

	resp := readyResponse{Status: "ready", Checks: make(map[string]string, len(names))}
	status := http.StatusOK
	for i, name := range names {
		if err := probes[i](); err != nil {
			resp.Status = "not ready"
			resp.Checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn().Err(err).Msg("ops response write failed")
	}
}
