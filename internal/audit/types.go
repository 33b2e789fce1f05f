// Praetor - Detector and Approval Governance Engine
// Copyright 2026 Praetor Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/praetor-io/praetor

// Package audit provides the append-only audit trail for the governance
// engine. Every state transition (detection emitted, approval requested,
// approval resolved, action taken, skipped or failed) is recorded as exactly
// one Entry. Entries are never mutated or deleted, so consumers such as the
// dashboard feed and compliance export may cache aggressively.
package audit

import (
	"context"
	"time"
)

// Kind categorizes audit entries. One kind per state transition.
type Kind string

const (
	// KindDetection records a detection result being emitted.
	KindDetection Kind = "detection"

	// KindApprovalRequested records a pending approval being created.
	KindApprovalRequested Kind = "approval_requested"

	// KindApprovalResolved records an approve or reject decision.
	KindApprovalResolved Kind = "approval_resolved"

	// KindActionTaken records a successful action execution.
	KindActionTaken Kind = "action_taken"

	// KindActionSkipped records an action withheld after rejection.
	KindActionSkipped Kind = "action_skipped"

	// KindActionFailed records an action execution error or timeout.
	// The approval decision that preceded it stands; execution failure is a
	// separate, retryable concern.
	KindActionFailed Kind = "action_failed"

	// KindDetectorError records an isolated detector failure.
	KindDetectorError Kind = "detector_error"
)

// Outcome qualifies an entry where the kind alone is ambiguous.
type Outcome string

const (
	OutcomeApproved     Outcome = "approved"
	OutcomeRejected     Outcome = "rejected"
	OutcomeShadow       Outcome = "shadow"
	OutcomeQuorumNotMet Outcome = "quorum_not_met"
)

// Entry is a single record in the audit trail.
//
// Seq is assigned by the log on append and is strictly monotonic within one
// log instance. Ordering within a subject is causal: a detection precedes its
// approval request, which precedes its resolution, which precedes its action.
type Entry struct {
	Seq        uint64            `json:"seq"`
	ID         string            `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	Kind       Kind              `json:"kind"`
	DetectorID string            `json:"detector_id,omitempty"`
	SubjectID  string            `json:"subject_id,omitempty"`
	ResultID   string            `json:"result_id,omitempty"`
	ApprovalID string            `json:"approval_id,omitempty"`
	Tier       string            `json:"tier,omitempty"`
	Outcome    Outcome           `json:"outcome,omitempty"`
	Reviewer   string            `json:"reviewer,omitempty"`
	Details    map[string]string `json:"details,omitempty"`
}

// Log is the append-only audit log contract.
//
// Append assigns Seq (and ID/Timestamp when unset) and persists the entry.
// Iterate returns entries in ascending sequence order; once written an entry
// is never edited.
type Log interface {
	Append(ctx context.Context, entry *Entry) error
	Iterate(ctx context.Context, filter Filter) ([]Entry, error)
	Len(ctx context.Context) (int, error)
}

// Filter defines filtering options for audit reads. Zero value matches all.
type Filter struct {
	Kinds      []Kind     `json:"kinds,omitempty"`
	DetectorID string     `json:"detector_id,omitempty"`
	SubjectID  string     `json:"subject_id,omitempty"`
	ResultID   string     `json:"result_id,omitempty"`
	ApprovalID string     `json:"approval_id,omitempty"`
	MinSeq     uint64     `json:"min_seq,omitempty"`
	StartTime  *time.Time `json:"start_time,omitempty"`
	EndTime    *time.Time `json:"end_time,omitempty"`

	// Limit caps the number of returned entries. 0 means no limit.
	Limit int `json:"limit,omitempty"`
}

// Matches returns true if the entry satisfies every filter criterion.
func (f *Filter) Matches(e *Entry) bool {
	if len(f.Kinds) > 0 {
		found := false
		for _, k := range f.Kinds {
			if e.Kind == k {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if f.DetectorID != "" && e.DetectorID != f.DetectorID {
		return false
	}
	if f.SubjectID != "" && e.SubjectID != f.SubjectID {
		return false
	}
	if f.ResultID != "" && e.ResultID != f.ResultID {
		return false
	}
	if f.ApprovalID != "" && e.ApprovalID != f.ApprovalID {
		return false
	}
	if f.MinSeq > 0 && e.Seq < f.MinSeq {
		return false
	}
	if f.StartTime != nil && e.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && e.Timestamp.After(*f.EndTime) {
		return false
	}

	return true
}
