// Praetor - Detector and Approval Governance Engine
// Copyright 2026 Praetor Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/praetor-io/praetor

package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/praetor-io/praetor/internal/audit"
	"github.com/praetor-io/praetor/internal/detection"
)

// countingDetector emits an INFO result and counts invocations.
type countingDetector struct {
	calls chan string
}

func (d *countingDetector) ID() string { return "counting" }

func (d *countingDetector) Detect(ctx context.Context, dc *detection.Context, cfg detection.Config) (*detection.Result, error) {
	d.calls <- dc.SubjectID
	return &detection.Result{SubjectID: dc.SubjectID, Tier: detection.TierInfo, Confidence: 0.9}, nil
}

type noopExecutor struct{}

func (noopExecutor) Execute(ctx context.Context, result *detection.Result) error { return nil }

type noopSink struct{}

func (noopSink) Request(ctx context.Context, result *detection.Result) (string, bool, error) {
	return "", false, nil
}

func newConsumerManager(t *testing.T) (*detection.Manager, *countingDetector) {
	t.Helper()

	det := &countingDetector{calls: make(chan string, 16)}
	m := detection.NewManager(detection.ManagerConfig{}, audit.NewMemoryLog(100), noopExecutor{}, noopSink{}, nil)
	if err := m.Register(det, detection.Config{MinSupport: 1, ConfidenceThreshold: 0.5, MinVotes: 1}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return m, det
}

func waitForSubject(t *testing.T, calls <-chan string, want string) {
	t.Helper()
	select {
	case got := <-calls:
		if got != want {
			t.Errorf("processed subject %q, want %q", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for subject %q", want)
	}
}

func TestConsumerProcessesPublishedEvents(t *testing.T) {
	manager, det := newConsumerManager(t)

	pubSub := NewPubSub(16)
	defer pubSub.Close()

	consumer := NewConsumer(pubSub, manager, "events.observed")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- consumer.Serve(ctx) }()

	// Give the subscriber a moment to attach before publishing.
	time.Sleep(50 * time.Millisecond)

	dc := &detection.Context{
		SubjectID:  "user-1",
		ObservedAt: time.Now().UTC(),
		Payload:    map[string]any{"value": 1.0},
	}
	if err := Publish(pubSub, "events.observed", dc); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	waitForSubject(t, det.calls, "user-1")

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop on cancel")
	}
}

func TestConsumerDropsMalformedMessages(t *testing.T) {
	manager, det := newConsumerManager(t)

	pubSub := NewPubSub(16)
	defer pubSub.Close()

	consumer := NewConsumer(pubSub, manager, "events.observed")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = consumer.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)

	// A poison message must be acked and skipped, not wedge the feed.
	msg := message.NewMessage(watermill.NewUUID(), []byte("{not json"))
	if err := pubSub.Publish("events.observed", msg); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	good := &detection.Context{SubjectID: "user-2"}
	if err := Publish(pubSub, "events.observed", good); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	waitForSubject(t, det.calls, "user-2")
}

func TestConsumerIgnoresOtherTopics(t *testing.T) {
	manager, det := newConsumerManager(t)

	pubSub := NewPubSub(16)
	defer pubSub.Close()

	consumer := NewConsumer(pubSub, manager, "events.observed")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = consumer.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)

	if err := Publish(pubSub, "events.other", &detection.Context{SubjectID: "stray"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if err := Publish(pubSub, "events.observed", &detection.Context{SubjectID: "user-3"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	waitForSubject(t, det.calls, "user-3")

	select {
	case extra := <-det.calls:
		t.Errorf("unexpected processing of subject %q", extra)
	default:
	}
}
