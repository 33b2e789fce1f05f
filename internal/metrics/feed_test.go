// Praetor - Detector and Approval Governance Engine
// Copyright 2026 Praetor Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/praetor-io/praetor

package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/praetor-io/praetor/internal/audit"
)

func TestFeedSnapshot(t *testing.T) {
	log := audit.NewMemoryLog(1000)
	labels := NewMemoryLabelStore()
	feed := NewFeed(log, labels)
	ctx := context.Background()

	base := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)

	entries := []*audit.Entry{
		{Kind: audit.KindDetection, Tier: "info", Timestamp: base},
		{Kind: audit.KindDetection, Tier: "block", ResultID: "r1", Timestamp: base},
		{Kind: audit.KindApprovalRequested, ApprovalID: "ap1", ResultID: "r1", Timestamp: base},
		{Kind: audit.KindApprovalResolved, ApprovalID: "ap1", Outcome: audit.OutcomeApproved, Timestamp: base.Add(30 * time.Second)},
		{Kind: audit.KindActionTaken, ResultID: "r1", Timestamp: base.Add(31 * time.Second)},
		{Kind: audit.KindDetection, Tier: "warn", ResultID: "r2", Timestamp: base.Add(time.Minute)},
		{Kind: audit.KindApprovalRequested, ApprovalID: "ap2", ResultID: "r2", Timestamp: base.Add(time.Minute)},
		{Kind: audit.KindApprovalResolved, ApprovalID: "ap2", Outcome: audit.OutcomeRejected, Timestamp: base.Add(2 * time.Minute)},
		{Kind: audit.KindActionSkipped, ResultID: "r2", Timestamp: base.Add(2 * time.Minute)},
		{Kind: audit.KindApprovalRequested, ApprovalID: "ap3", ResultID: "r3", Timestamp: base.Add(3 * time.Minute)},
		{Kind: audit.KindDetectorError, DetectorID: "det-x", Timestamp: base.Add(4 * time.Minute)},
	}
	for _, e := range entries {
		if err := log.Append(ctx, e); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	snap, err := feed.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	if snap.LastSeq != uint64(len(entries)) {
		t.Errorf("LastSeq = %d, want %d", snap.LastSeq, len(entries))
	}
	if snap.DetectionsByTier["info"] != 1 || snap.DetectionsByTier["warn"] != 1 || snap.DetectionsByTier["block"] != 1 {
		t.Errorf("DetectionsByTier = %v", snap.DetectionsByTier)
	}
	if snap.PendingApprovals != 1 {
		t.Errorf("PendingApprovals = %d, want 1 (ap3 unresolved)", snap.PendingApprovals)
	}
	if snap.ApprovalsApproved != 1 || snap.ApprovalsRejected != 1 {
		t.Errorf("approvals = %d approved / %d rejected", snap.ApprovalsApproved, snap.ApprovalsRejected)
	}
	if snap.ActionsTaken != 1 || snap.ActionsSkipped != 1 || snap.ActionsFailed != 0 {
		t.Errorf("actions = taken %d / skipped %d / failed %d", snap.ActionsTaken, snap.ActionsSkipped, snap.ActionsFailed)
	}
	if snap.DetectorErrors != 1 {
		t.Errorf("DetectorErrors = %d", snap.DetectorErrors)
	}

	// Latencies: 30s and 60s -> mean 45s.
	if snap.ApprovalLatencyMean != 45*time.Second {
		t.Errorf("ApprovalLatencyMean = %v, want 45s", snap.ApprovalLatencyMean)
	}
	if snap.ApprovalLatencyP95 != time.Minute {
		t.Errorf("ApprovalLatencyP95 = %v, want 1m", snap.ApprovalLatencyP95)
	}

	if snap.Accuracy != nil {
		t.Error("accuracy should be omitted with no labels applied")
	}

	t.Run("accuracy once labeled", func(t *testing.T) {
		labels.Apply("r1", LabelTruePositive)
		labels.Apply("r2", LabelFalsePositive)

		snap, err := feed.Snapshot(ctx)
		if err != nil {
			t.Fatalf("Snapshot failed: %v", err)
		}
		if snap.Accuracy == nil {
			t.Fatal("expected accuracy section")
		}
		if snap.Accuracy.FalsePositiveRate != 0.5 {
			t.Errorf("FP rate = %f, want 0.5", snap.Accuracy.FalsePositiveRate)
		}
	})
}

func TestFeedSnapshotEmptyLog(t *testing.T) {
	feed := NewFeed(audit.NewMemoryLog(10), nil)

	snap, err := feed.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.LastSeq != 0 || snap.PendingApprovals != 0 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	if snap.ApprovalLatencyMean != 0 {
		t.Errorf("latency on empty log: %v", snap.ApprovalLatencyMean)
	}
}

func TestComputeRates(t *testing.T) {
	tests := []struct {
		name   string
		labels map[string]Label
		wantFP float64
		wantFN float64
	}{
		{"empty", nil, 0, 0},
		{
			"all true positives",
			map[string]Label{"a": LabelTruePositive, "b": LabelTruePositive},
			0, 0,
		},
		{
			"half false positives",
			map[string]Label{"a": LabelTruePositive, "b": LabelFalsePositive},
			0.5, 0,
		},
		{
			"missed incidents",
			map[string]Label{"a": LabelTruePositive, "b": LabelFalseNegative, "c": LabelFalseNegative, "d": LabelFalseNegative},
			0, 0.75,
		},
		{
			"only false positives",
			map[string]Label{"a": LabelFalsePositive},
			1, 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ComputeRates(tt.labels)
			if r.FalsePositiveRate != tt.wantFP {
				t.Errorf("FP rate = %f, want %f", r.FalsePositiveRate, tt.wantFP)
			}
			if r.FalseNegativeRate != tt.wantFN {
				t.Errorf("FN rate = %f, want %f", r.FalseNegativeRate, tt.wantFN)
			}
		})
	}
}

func TestMemoryLabelStore(t *testing.T) {
	store := NewMemoryLabelStore()

	if _, ok := store.Label("missing"); ok {
		t.Error("empty store should have no labels")
	}

	store.Apply("r1", LabelFalsePositive)
	if l, ok := store.Label("r1"); !ok || l != LabelFalsePositive {
		t.Errorf("Label = %v, %v", l, ok)
	}

	store.Apply("r1", LabelTruePositive)
	if l, _ := store.Label("r1"); l != LabelTruePositive {
		t.Error("Apply should overwrite")
	}

	all := store.All()
	all["r2"] = LabelFalseNegative
	if _, ok := store.Label("r2"); ok {
		t.Error("All must return a copy")
	}
}
