// Praetor - Detector and Approval Governance Engine
// Copyright 2026 Praetor Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/praetor-io/praetor

// Package approval implements the human sign-off gate for WARN and BLOCK
// tier detection results. The gate exclusively owns the pending-approval set
// and is the only component that mutates a result's Approved field.
package approval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/praetor-io/praetor/internal/audit"
	"github.com/praetor-io/praetor/internal/detection"
	"github.com/praetor-io/praetor/internal/logging"
	"github.com/praetor-io/praetor/internal/metrics"
)

// Approval-state errors are propagated to the caller so a reviewer UI can
// show a clear message.
var (
	// ErrNotFound indicates an unknown approval id.
	ErrNotFound = errors.New("approval not found")

	// ErrAlreadyResolved indicates a second resolution attempt. It must fail
	// loudly; a silent second resolution would corrupt the audit trail's
	// causal ordering.
	ErrAlreadyResolved = errors.New("approval already resolved")
)

// Status is the lifecycle state of a pending approval.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// PendingApproval holds one detection result awaiting (or past) human
// sign-off. The gate owns the referenced result.
type PendingApproval struct {
	ApprovalID string            `json:"approval_id"`
	Result     *detection.Result `json:"result"`
	Status     Status            `json:"status"`
	Reviewer   string            `json:"reviewer,omitempty"`
	Notes      string            `json:"notes,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	ResolvedAt *time.Time        `json:"resolved_at,omitempty"`
}

// GateConfig configures the approval gate.
type GateConfig struct {
	// ActionTimeout bounds post-approval action execution when the caller's
	// context carries no deadline of its own.
	ActionTimeout time.Duration `koanf:"action_timeout"`
}

// DefaultGateConfig returns sensible defaults.
func DefaultGateConfig() GateConfig {
	return GateConfig{ActionTimeout: 10 * time.Second}
}

// Gate stores pending decisions and exposes approve/reject. The resolution
// check is atomic with respect to the pending set; approve and reject on the
// same id race safely.
//
// The action executor is wrapped in a circuit breaker so that a failing
// executor does not absorb every post-approval call's full timeout.
type Gate struct {
	auditLog audit.Log
	executor detection.ActionExecutor
	breaker  *gobreaker.CircuitBreaker[any]

	actionTimeout time.Duration

	mu       sync.Mutex
	pending  map[string]*PendingApproval
	resolved map[string]*PendingApproval

	now func() time.Time
}

// NewGate creates an approval gate over the given audit log and executor.
func NewGate(cfg GateConfig, auditLog audit.Log, executor detection.ActionExecutor) *Gate {
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = DefaultGateConfig().ActionTimeout
	}

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:    "action-executor",
		Timeout: time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})

	return &Gate{
		auditLog:      auditLog,
		executor:      executor,
		breaker:       breaker,
		actionTimeout: cfg.ActionTimeout,
		pending:       make(map[string]*PendingApproval),
		resolved:      make(map[string]*PendingApproval),
		now:           time.Now,
	}
}

// Request registers a result for human sign-off. Implements
// detection.ApprovalSink.
//
// A pending item already open for the same subject and tier is reused
// (created=false) so concurrent detections cannot pile up duplicate pending
// entries for one subject/tier pair.
func (g *Gate) Request(ctx context.Context, result *detection.Result) (string, bool, error) {
	if result == nil {
		return "", false, fmt.Errorf("result must not be nil")
	}

	g.mu.Lock()
	for id, pa := range g.pending {
		if pa.Result.SubjectID == result.SubjectID && pa.Result.Tier == result.Tier {
			g.mu.Unlock()
			return id, false, nil
		}
	}

	pa := &PendingApproval{
		ApprovalID: uuid.NewString(),
		Result:     result,
		Status:     StatusPending,
		CreatedAt:  g.now(),
	}
	g.pending[pa.ApprovalID] = pa
	g.mu.Unlock()

	metrics.PendingApprovals.Inc()
	g.append(ctx, &audit.Entry{
		Kind:       audit.KindApprovalRequested,
		DetectorID: result.DetectorID,
		SubjectID:  result.SubjectID,
		ResultID:   result.ID,
		ApprovalID: pa.ApprovalID,
		Tier:       result.Tier.String(),
	})

	logging.Info().Str("approval", pa.ApprovalID).Str("subject", result.SubjectID).Str("tier", result.Tier.String()).Msg("approval requested")
	return pa.ApprovalID, true, nil
}

// ListPending returns pending approvals, oldest first. A non-empty
// reviewerFilter restricts the list to items assigned to that reviewer.
func (g *Gate) ListPending(reviewerFilter string) []*PendingApproval {
	g.mu.Lock()
	defer g.mu.Unlock()

	items := make([]*PendingApproval, 0, len(g.pending))
	for _, pa := range g.pending {
		if reviewerFilter != "" && pa.Reviewer != reviewerFilter {
			continue
		}
		copied := *pa
		items = append(items, &copied)
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items
}

// Approve resolves a pending approval positively and then executes the
// withheld action. The approval decision stands even if execution fails; an
// execution failure is returned as *detection.ActionError and audited as
// action_failed, distinguishable from a rejection.
func (g *Gate) Approve(ctx context.Context, approvalID, reviewer, notes string) (*detection.Result, error) {
	pa, err := g.resolve(ctx, approvalID, reviewer, notes, StatusApproved)
	if err != nil {
		return nil, err
	}

	result := pa.Result
	if err := g.execute(ctx, result); err != nil {
		metrics.ActionsTotal.WithLabelValues("failed").Inc()
		g.append(ctx, &audit.Entry{
			Kind:       audit.KindActionFailed,
			DetectorID: result.DetectorID,
			SubjectID:  result.SubjectID,
			ResultID:   result.ID,
			ApprovalID: approvalID,
			Tier:       result.Tier.String(),
			Details:    map[string]string{"error": err.Error()},
		})
		logging.Error().Err(err).Str("approval", approvalID).Msg("post-approval action failed")
		return result, &detection.ActionError{ResultID: result.ID, Err: err}
	}

	metrics.ActionsTotal.WithLabelValues("taken").Inc()
	g.append(ctx, &audit.Entry{
		Kind:       audit.KindActionTaken,
		DetectorID: result.DetectorID,
		SubjectID:  result.SubjectID,
		ResultID:   result.ID,
		ApprovalID: approvalID,
		Tier:       result.Tier.String(),
	})
	return result, nil
}

// Reject resolves a pending approval negatively. The action is never invoked.
func (g *Gate) Reject(ctx context.Context, approvalID, reviewer, notes string) (*detection.Result, error) {
	pa, err := g.resolve(ctx, approvalID, reviewer, notes, StatusRejected)
	if err != nil {
		return nil, err
	}

	result := pa.Result
	metrics.ActionsTotal.WithLabelValues("skipped").Inc()
	g.append(ctx, &audit.Entry{
		Kind:       audit.KindActionSkipped,
		DetectorID: result.DetectorID,
		SubjectID:  result.SubjectID,
		ResultID:   result.ID,
		ApprovalID: approvalID,
		Tier:       result.Tier.String(),
	})
	return result, nil
}

// resolve performs the atomic pending -> resolved transition. Exactly one
// resolution per approval id ever succeeds.
func (g *Gate) resolve(ctx context.Context, approvalID, reviewer, notes string, status Status) (*PendingApproval, error) {
	g.mu.Lock()
	if _, done := g.resolved[approvalID]; done {
		g.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyResolved, approvalID)
	}

	pa, ok := g.pending[approvalID]
	if !ok {
		g.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, approvalID)
	}

	now := g.now()
	approved := status == StatusApproved
	pa.Status = status
	pa.Reviewer = reviewer
	pa.Notes = notes
	pa.ResolvedAt = &now
	pa.Result.Approved = &approved

	delete(g.pending, approvalID)
	g.resolved[approvalID] = pa
	g.mu.Unlock()

	metrics.PendingApprovals.Dec()
	metrics.ApprovalsResolvedTotal.WithLabelValues(string(status)).Inc()
	metrics.ApprovalLatency.Observe(now.Sub(pa.CreatedAt).Seconds())

	outcome := audit.OutcomeRejected
	if approved {
		outcome = audit.OutcomeApproved
	}
	g.append(ctx, &audit.Entry{
		Kind:       audit.KindApprovalResolved,
		DetectorID: pa.Result.DetectorID,
		SubjectID:  pa.Result.SubjectID,
		ResultID:   pa.Result.ID,
		ApprovalID: approvalID,
		Tier:       pa.Result.Tier.String(),
		Outcome:    outcome,
		Reviewer:   reviewer,
		Details:    map[string]string{"notes": notes},
	})

	logging.Info().Str("approval", approvalID).Str("reviewer", reviewer).Str("status", string(status)).Msg("approval resolved")
	return pa, nil
}

// execute invokes the action executor through the circuit breaker with a
// bounded context.
func (g *Gate) execute(ctx context.Context, result *detection.Result) error {
	execCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, g.actionTimeout)
		defer cancel()
	}

	_, err := g.breaker.Execute(func() (any, error) {
		return nil, g.executor.Execute(execCtx, result)
	})
	return err
}

// append writes an audit entry, logging rather than failing the caller if the
// log is unavailable.
func (g *Gate) append(ctx context.Context, entry *audit.Entry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = g.now()
	}
	if err := g.auditLog.Append(ctx, entry); err != nil {
		logging.Error().Err(err).Str("kind", string(entry.Kind)).Msg("failed to append audit entry")
		return
	}
	metrics.AuditEntriesTotal.WithLabelValues(string(entry.Kind)).Inc()
}
