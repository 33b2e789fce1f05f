// Praetor - Detector and Approval Governance Engine
// Copyright 2026 Praetor Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/praetor-io/praetor

// Package metrics provides Prometheus instrumentation and the read-only
// dashboard feed derived from the audit log.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Detection pipeline metrics

	DetectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "praetor_detections_total",
			Help: "Total number of detection results emitted",
		},
		[]string{"detector", "tier"},
	)

	DetectorErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "praetor_detector_errors_total",
			Help: "Total number of isolated detector failures",
		},
		[]string{"detector"},
	)

	DetectionsDebouncedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "praetor_detections_debounced_total",
			Help: "Detections suppressed by the per-subject debounce window",
		},
		[]string{"detector"},
	)

	ProcessDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "praetor_process_duration_seconds",
			Help:    "Duration of Manager.Process calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Approval gate metrics

	PendingApprovals = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "praetor_pending_approvals",
			Help: "Current number of unresolved pending approvals",
		},
	)

	ApprovalsResolvedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "praetor_approvals_resolved_total",
			Help: "Total number of resolved approvals by outcome",
		},
		[]string{"outcome"},
	)

	ApprovalLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "praetor_approval_latency_seconds",
			Help:    "Time from approval request to resolution in seconds",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600, 14400, 86400},
		},
	)

	// Action executor metrics

	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "praetor_actions_total",
			Help: "Total number of action executions by result",
		},
		[]string{"result"}, // "taken", "failed", "skipped"
	)

	// Shadow mode metrics

	ShadowTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "praetor_shadow_transitions_total",
			Help: "Shadow mode transitions by direction",
		},
		[]string{"detector", "direction"}, // "enter", "exit", "expire"
	)

	// Audit log metrics

	AuditEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "praetor_audit_entries_total",
			Help: "Total number of audit entries appended by kind",
		},
		[]string{"kind"},
	)
)
