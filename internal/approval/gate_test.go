// Praetor - Detector and Approval Governance Engine
// Copyright 2026 Praetor Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/praetor-io/praetor

package approval

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/praetor-io/praetor/internal/audit"
	"github.com/praetor-io/praetor/internal/detection"
)

// mockExecutor records executions and can be set to fail.
type mockExecutor struct {
	mu       sync.Mutex
	executed []*detection.Result
	err      error
}

func (m *mockExecutor) Execute(ctx context.Context, result *detection.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.executed = append(m.executed, result)
	return nil
}

func (m *mockExecutor) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.executed)
}

func newTestGate(t *testing.T) (*Gate, *audit.MemoryLog, *mockExecutor) {
	t.Helper()
	log := audit.NewMemoryLog(1000)
	executor := &mockExecutor{}
	gate := NewGate(GateConfig{ActionTimeout: time.Second}, log, executor)
	return gate, log, executor
}

func blockResult(subject string) *detection.Result {
	return &detection.Result{
		ID:         "result-" + subject,
		DetectorID: "det-1",
		SubjectID:  subject,
		Tier:       detection.TierBlock,
		Confidence: 0.85,
		CreatedAt:  time.Now(),
	}
}

func TestGateRequest(t *testing.T) {
	gate, log, _ := newTestGate(t)
	ctx := context.Background()

	t.Run("creates pending approval", func(t *testing.T) {
		id, created, err := gate.Request(ctx, blockResult("u1"))
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		if !created || id == "" {
			t.Errorf("expected new pending item, created=%v id=%q", created, id)
		}

		entries, err := log.Iterate(ctx, audit.Filter{Kinds: []audit.Kind{audit.KindApprovalRequested}})
		if err != nil {
			t.Fatalf("Iterate failed: %v", err)
		}
		if len(entries) != 1 || entries[0].ApprovalID != id {
			t.Errorf("expected one approval_requested entry for %s, got %+v", id, entries)
		}
	})

	t.Run("dedups same subject and tier", func(t *testing.T) {
		first, _, err := gate.Request(ctx, blockResult("u2"))
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		second, created, err := gate.Request(ctx, blockResult("u2"))
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		if created || second != first {
			t.Errorf("expected reuse of %s, got %s created=%v", first, second, created)
		}
	})

	t.Run("different tier opens new item", func(t *testing.T) {
		warn := blockResult("u2")
		warn.Tier = detection.TierWarn
		_, created, err := gate.Request(ctx, warn)
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		if !created {
			t.Error("different tier for same subject must open a new pending item")
		}
	})

	t.Run("nil result rejected", func(t *testing.T) {
		if _, _, err := gate.Request(ctx, nil); err == nil {
			t.Error("expected error for nil result")
		}
	})
}

func TestGateApprove(t *testing.T) {
	gate, log, executor := newTestGate(t)
	ctx := context.Background()

	id, _, err := gate.Request(ctx, blockResult("alice-subject"))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	result, err := gate.Approve(ctx, id, "alice", "verified manually")
	if err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if result.Approved == nil || !*result.Approved {
		t.Error("Approved must be set true")
	}
	if executor.count() != 1 {
		t.Errorf("expected 1 execution, got %d", executor.count())
	}

	// Causal ordering: requested, resolved, then action taken.
	entries, err := log.Iterate(ctx, audit.Filter{})
	if err != nil {
		t.Fatalf("Iterate failed: %v", err)
	}
	want := []audit.Kind{audit.KindApprovalRequested, audit.KindApprovalResolved, audit.KindActionTaken}
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(entries))
	}
	for i := range want {
		if entries[i].Kind != want[i] {
			t.Errorf("entry %d: expected %s, got %s", i, want[i], entries[i].Kind)
		}
	}
	resolved := entries[1]
	if resolved.Outcome != audit.OutcomeApproved || resolved.Reviewer != "alice" {
		t.Errorf("resolved entry wrong: %+v", resolved)
	}

	t.Run("second resolution fails", func(t *testing.T) {
		if _, err := gate.Approve(ctx, id, "bob", ""); !errors.Is(err, ErrAlreadyResolved) {
			t.Errorf("expected ErrAlreadyResolved, got %v", err)
		}
		if _, err := gate.Reject(ctx, id, "bob", ""); !errors.Is(err, ErrAlreadyResolved) {
			t.Errorf("expected ErrAlreadyResolved, got %v", err)
		}
	})
}

func TestGateReject(t *testing.T) {
	gate, log, executor := newTestGate(t)
	ctx := context.Background()

	id, _, err := gate.Request(ctx, blockResult("bob-subject"))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	result, err := gate.Reject(ctx, id, "bob", "false positive")
	if err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	if result.Approved == nil || *result.Approved {
		t.Error("Approved must be set false")
	}
	if executor.count() != 0 {
		t.Error("executor must never run on rejection")
	}

	entries, err := log.Iterate(ctx, audit.Filter{})
	if err != nil {
		t.Fatalf("Iterate failed: %v", err)
	}
	want := []audit.Kind{audit.KindApprovalRequested, audit.KindApprovalResolved, audit.KindActionSkipped}
	if len(entries) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(entries))
	}
	for i := range want {
		if entries[i].Kind != want[i] {
			t.Errorf("entry %d: expected %s, got %s", i, want[i], entries[i].Kind)
		}
	}
	if entries[1].Outcome != audit.OutcomeRejected {
		t.Errorf("expected rejected outcome, got %s", entries[1].Outcome)
	}
}

func TestGateUnknownApproval(t *testing.T) {
	gate, _, _ := newTestGate(t)
	ctx := context.Background()

	if _, err := gate.Approve(ctx, "nope", "alice", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := gate.Reject(ctx, "nope", "alice", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGateActionFailure(t *testing.T) {
	gate, log, executor := newTestGate(t)
	executor.err = errors.New("enforcement backend down")
	ctx := context.Background()

	id, _, err := gate.Request(ctx, blockResult("fail-subject"))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	result, err := gate.Approve(ctx, id, "alice", "")
	if err == nil {
		t.Fatal("expected action error")
	}

	var actionErr *detection.ActionError
	if !errors.As(err, &actionErr) {
		t.Fatalf("expected *detection.ActionError, got %T", err)
	}

	// The approval decision stands despite the failed execution.
	if result == nil || result.Approved == nil || !*result.Approved {
		t.Error("approval must not be rolled back by execution failure")
	}
	if _, err := gate.Approve(ctx, id, "bob", ""); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("item must stay resolved, got %v", err)
	}

	entries, err := log.Iterate(ctx, audit.Filter{Kinds: []audit.Kind{audit.KindActionFailed}})
	if err != nil {
		t.Fatalf("Iterate failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one action_failed entry, got %d", len(entries))
	}
	if entries[0].Details["error"] == "" {
		t.Error("action_failed entry should carry the error detail")
	}
}

func TestGateListPending(t *testing.T) {
	gate, _, _ := newTestGate(t)
	ctx := context.Background()

	base := time.Now()
	times := []time.Time{base.Add(2 * time.Second), base, base.Add(time.Second)}
	i := 0
	gate.now = func() time.Time {
		ts := times[i%len(times)]
		i++
		return ts
	}

	subjects := []string{"s1", "s2", "s3"}
	for _, s := range subjects {
		if _, _, err := gate.Request(ctx, blockResult(s)); err != nil {
			t.Fatalf("Request failed: %v", err)
		}
	}

	items := gate.ListPending("")
	if len(items) != 3 {
		t.Fatalf("expected 3 pending, got %d", len(items))
	}
	for j := 1; j < len(items); j++ {
		if items[j].CreatedAt.Before(items[j-1].CreatedAt) {
			t.Error("pending list not sorted oldest first")
		}
	}

	t.Run("resolution removes from list", func(t *testing.T) {
		if _, err := gate.Approve(ctx, items[0].ApprovalID, "alice", ""); err != nil {
			t.Fatalf("Approve failed: %v", err)
		}
		if got := len(gate.ListPending("")); got != 2 {
			t.Errorf("expected 2 pending after resolution, got %d", got)
		}
	})

	t.Run("copies are returned", func(t *testing.T) {
		remaining := gate.ListPending("")
		remaining[0].Status = StatusApproved
		if gate.ListPending("")[0].Status != StatusPending {
			t.Error("ListPending must return copies")
		}
	})
}

func TestGateConcurrentResolution(t *testing.T) {
	gate, _, _ := newTestGate(t)
	ctx := context.Background()

	id, _, err := gate.Request(ctx, blockResult("race-subject"))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	const attempts = 16
	var wg sync.WaitGroup
	var successes int32
	var successMu sync.Mutex

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			var err error
			if n%2 == 0 {
				_, err = gate.Approve(ctx, id, "alice", "")
			} else {
				_, err = gate.Reject(ctx, id, "bob", "")
			}
			if err == nil {
				successMu.Lock()
				successes++
				successMu.Unlock()
			} else if !errors.Is(err, ErrAlreadyResolved) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("exactly one resolution must succeed, got %d", successes)
	}
}
