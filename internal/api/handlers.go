// Praetor - Detector and Approval Governance Engine
// Copyright 2026 Praetor Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/praetor-io/praetor

// Package api provides the HTTP surface of the governance engine: the
// reviewer approval operations, the audit export, the dashboard feed and
// shadow-mode administration. Authentication is left to a fronting proxy;
// the reviewer identity arrives in the request body.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/praetor-io/praetor/internal/approval"
	"github.com/praetor-io/praetor/internal/audit"
	"github.com/praetor-io/praetor/internal/detection"
	"github.com/praetor-io/praetor/internal/logging"
	"github.com/praetor-io/praetor/internal/metrics"
)

// Handler bundles the engine components the HTTP surface exposes.
type Handler struct {
	manager  *detection.Manager
	gate     *approval.Gate
	auditLog audit.Log
	feed     *metrics.Feed
	validate *validator.Validate
}

// NewHandler creates the API handler.
func NewHandler(manager *detection.Manager, gate *approval.Gate, auditLog audit.Log, feed *metrics.Feed) *Handler {
	return &Handler{
		manager:  manager,
		gate:     gate,
		auditLog: auditLog,
		feed:     feed,
		validate: validator.New(),
	}
}

// resolveRequest is the approve/reject request body.
type resolveRequest struct {
	Reviewer string `json:"reviewer" validate:"required"`
	Notes    string `json:"notes"`
}

// shadowRequest is the enter-shadow request body.
type shadowRequest struct {
	Duration string `json:"duration" validate:"required"`
}

// errorResponse is the uniform error body.
type errorResponse struct {
	Error string `json:"error"`
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListPending returns pending approvals, optionally filtered by reviewer.
func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	items := h.gate.ListPending(r.URL.Query().Get("reviewer"))
	writeJSON(w, http.StatusOK, map[string]any{
		"pending": items,
		"count":   len(items),
	})
}

// Approve resolves a pending approval positively.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	h.resolveApproval(w, r, h.gate.Approve)
}

// Reject resolves a pending approval negatively.
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	h.resolveApproval(w, r, h.gate.Reject)
}

// resolveFunc matches the gate's Approve and Reject signatures.
type resolveFunc func(ctx context.Context, approvalID, reviewer, notes string) (*detection.Result, error)

func (h *Handler) resolveApproval(w http.ResponseWriter, r *http.Request, resolve resolveFunc) {
	approvalID := chi.URLParam(r, "id")

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "reviewer is required"})
		return
	}

	result, err := resolve(r.Context(), approvalID, req.Reviewer, req.Notes)
	if err != nil {
		h.writeResolveError(w, result, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

// writeResolveError maps approval-state and action-execution errors onto
// distinct status codes so a reviewer UI can show a clear message.
func (h *Handler) writeResolveError(w http.ResponseWriter, result *detection.Result, err error) {
	var actionErr *detection.ActionError

	switch {
	case errors.Is(err, approval.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, approval.ErrAlreadyResolved):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.As(err, &actionErr):
		// The approval decision stands; execution is retryable.
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":  err.Error(),
			"result": result,
		})
	default:
		logging.Error().Err(err).Msg("approval resolution failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

// AuditExport streams the filtered audit trail as an ordered JSON array.
func (h *Handler) AuditExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		DetectorID: q.Get("detector_id"),
		SubjectID:  q.Get("subject_id"),
		ResultID:   q.Get("result_id"),
	}
	if kind := q.Get("kind"); kind != "" {
		filter.Kinds = []audit.Kind{audit.Kind(kind)}
	}
	if minSeq := q.Get("min_seq"); minSeq != "" {
		if seq, err := strconv.ParseUint(minSeq, 10, 64); err == nil {
			filter.MinSeq = seq
		}
	}
	if limit := q.Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			filter.Limit = n
		}
	}

	entries, err := h.auditLog.Iterate(r.Context(), filter)
	if err != nil {
		logging.Error().Err(err).Msg("audit export failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "audit export failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// DashboardFeed returns the aggregated dashboard snapshot.
func (h *Handler) DashboardFeed(w http.ResponseWriter, r *http.Request) {
	snap, err := h.feed.Snapshot(r.Context())
	if err != nil {
		logging.Error().Err(err).Msg("dashboard snapshot failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "dashboard snapshot failed"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// EngineMetrics returns the manager's counters.
func (h *Handler) EngineMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.Metrics())
}

// ListDetectors returns every registered detector's status.
func (h *Handler) ListDetectors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"detectors": h.manager.Statuses()})
}

// EnterShadow places a detector in shadow mode for the requested duration.
func (h *Handler) EnterShadow(w http.ResponseWriter, r *http.Request) {
	detectorID := chi.URLParam(r, "id")

	var req shadowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	duration, err := time.ParseDuration(req.Duration)
	if err != nil || duration <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "duration must be a positive Go duration string"})
		return
	}

	if err := h.manager.EnterShadow(detectorID, duration); err != nil {
		h.writeDetectorError(w, err)
		return
	}

	status, _ := h.manager.Status(detectorID)
	writeJSON(w, http.StatusOK, status)
}

// ExitShadow ends a detector's shadow mode immediately.
func (h *Handler) ExitShadow(w http.ResponseWriter, r *http.Request) {
	detectorID := chi.URLParam(r, "id")

	if err := h.manager.ExitShadow(detectorID); err != nil {
		h.writeDetectorError(w, err)
		return
	}

	status, _ := h.manager.Status(detectorID)
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) writeDetectorError(w http.ResponseWriter, err error) {
	if errors.Is(err, detection.ErrDetectorNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
}

// writeJSON serializes the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Error().Err(err).Msg("failed to encode response")
	}
}
