// Praetor - Detector and Approval Governance Engine
// Copyright 2026 Praetor Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/praetor-io/praetor

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig tunes the HTTP routing layer.
type RouterConfig struct {
	// RateLimitPerMinute caps requests per client IP on the API routes.
	RateLimitPerMinute int
}

// NewRouter wires all routes. The reviewer UI, dashboard and compliance
// export consume this surface; they are external collaborators.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 300
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	// Health and Prometheus scrape endpoints stay outside the rate limit.
	r.Get("/api/v1/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(cfg.RateLimitPerMinute, time.Minute))

		// Approval surface (§ reviewer UI collaborator)
		r.Get("/approvals", h.ListPending)
		r.Post("/approvals/{id}/approve", h.Approve)
		r.Post("/approvals/{id}/reject", h.Reject)

		// Audit export and dashboard feed
		r.Get("/audit/export", h.AuditExport)
		r.Get("/dashboard/feed", h.DashboardFeed)
		r.Get("/metrics/engine", h.EngineMetrics)

		// Detector administration
		r.Get("/detectors", h.ListDetectors)
		r.Put("/detectors/{id}/shadow", h.EnterShadow)
		r.Delete("/detectors/{id}/shadow", h.ExitShadow)
	})

	return r
}
