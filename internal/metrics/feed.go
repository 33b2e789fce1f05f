// Praetor - Detector and Approval Governance Engine
// Copyright 2026 Praetor Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/praetor-io/praetor

package metrics

import (
	"context"
	"sort"
	"time"

	"github.com/praetor-io/praetor/internal/audit"
)

// Feed is the read-only dashboard aggregation built from the audit log.
// It holds no state of its own; every snapshot is derived from the log, which
// is append-only, so callers may cache snapshots keyed by LastSeq.
type Feed struct {
	log    audit.Log
	labels LabelStore
}

// NewFeed creates a feed over the given audit log. labels may be nil; the
// false-positive/negative section is then omitted.
func NewFeed(log audit.Log, labels LabelStore) *Feed {
	return &Feed{log: log, labels: labels}
}

// Snapshot is one dashboard view of the engine's history.
type Snapshot struct {
	GeneratedAt time.Time `json:"generated_at"`
	LastSeq     uint64    `json:"last_seq"`

	DetectionsByTier map[string]int64 `json:"detections_by_tier"`
	EntriesByKind    map[string]int64 `json:"entries_by_kind"`

	PendingApprovals  int64 `json:"pending_approvals"`
	ApprovalsApproved int64 `json:"approvals_approved"`
	ApprovalsRejected int64 `json:"approvals_rejected"`

	// Approval latency over resolved approvals, from request to resolution.
	ApprovalLatencyMean time.Duration `json:"approval_latency_mean"`
	ApprovalLatencyP95  time.Duration `json:"approval_latency_p95"`

	ActionsTaken   int64 `json:"actions_taken"`
	ActionsFailed  int64 `json:"actions_failed"`
	ActionsSkipped int64 `json:"actions_skipped"`

	DetectorErrors int64 `json:"detector_errors"`

	// Accuracy is present once retroactive labels have been applied.
	Accuracy *Rates `json:"accuracy,omitempty"`
}

// Snapshot aggregates the full audit history into a dashboard view.
func (f *Feed) Snapshot(ctx context.Context) (*Snapshot, error) {
	entries, err := f.log.Iterate(ctx, audit.Filter{})
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		GeneratedAt:      time.Now(),
		DetectionsByTier: make(map[string]int64),
		EntriesByKind:    make(map[string]int64),
	}

	requestedAt := make(map[string]time.Time)
	var latencies []time.Duration

	for i := range entries {
		e := &entries[i]
		snap.LastSeq = e.Seq
		snap.EntriesByKind[string(e.Kind)]++

		switch e.Kind {
		case audit.KindDetection:
			if e.Tier != "" {
				snap.DetectionsByTier[e.Tier]++
			}
		case audit.KindApprovalRequested:
			snap.PendingApprovals++
			requestedAt[e.ApprovalID] = e.Timestamp
		case audit.KindApprovalResolved:
			snap.PendingApprovals--
			switch e.Outcome {
			case audit.OutcomeApproved:
				snap.ApprovalsApproved++
			case audit.OutcomeRejected:
				snap.ApprovalsRejected++
			}
			if req, ok := requestedAt[e.ApprovalID]; ok {
				latencies = append(latencies, e.Timestamp.Sub(req))
			}
		case audit.KindActionTaken:
			snap.ActionsTaken++
		case audit.KindActionFailed:
			snap.ActionsFailed++
		case audit.KindActionSkipped:
			snap.ActionsSkipped++
		case audit.KindDetectorError:
			snap.DetectorErrors++
		}
	}

	if snap.PendingApprovals < 0 {
		// Requests may have been capped out of a bounded memory log while
		// their resolutions survived.
		snap.PendingApprovals = 0
	}

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

		var total time.Duration
		for _, l := range latencies {
			total += l
		}
		snap.ApprovalLatencyMean = total / time.Duration(len(latencies))

		idx := (len(latencies) * 95) / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		snap.ApprovalLatencyP95 = latencies[idx]
	}

	if f.labels != nil {
		if all := f.labels.All(); len(all) > 0 {
			rates := ComputeRates(all)
			snap.Accuracy = &rates
		}
	}

	return snap, nil
}
