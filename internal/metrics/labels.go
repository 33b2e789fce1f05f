// Praetor - Detector and Approval Governance Engine
// Copyright 2026 Praetor Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/praetor-io/praetor

package metrics

import "sync"

// Label is a retroactive human judgment of a detection result. How labels are
// decided (who reviews a BLOCK and when) is an external process; this package
// only consumes them.
type Label string

const (
	LabelTruePositive  Label = "true_positive"
	LabelFalsePositive Label = "false_positive"
	LabelFalseNegative Label = "false_negative"
)

// LabelStore supplies back-filled labels keyed by detection result id.
// Implementations are external collaborators; MemoryLabelStore is the
// in-process reference used by tests and the default wiring.
type LabelStore interface {
	// Label returns the label for a result id, if one has been applied.
	Label(resultID string) (Label, bool)

	// All returns a snapshot of every applied label.
	All() map[string]Label
}

// MemoryLabelStore is a concurrency-safe in-memory LabelStore.
type MemoryLabelStore struct {
	labels map[string]Label
	mu     sync.RWMutex
}

// NewMemoryLabelStore creates an empty label store.
func NewMemoryLabelStore() *MemoryLabelStore {
	return &MemoryLabelStore{labels: make(map[string]Label)}
}

// Apply records a label for a result id, overwriting any previous label.
func (s *MemoryLabelStore) Apply(resultID string, label Label) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.labels[resultID] = label
}

// Label returns the label for a result id.
func (s *MemoryLabelStore) Label(resultID string) (Label, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.labels[resultID]
	return l, ok
}

// All returns a copy of every applied label.
func (s *MemoryLabelStore) All() map[string]Label {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Label, len(s.labels))
	for k, v := range s.labels {
		out[k] = v
	}
	return out
}

// Rates summarizes label counts into false-positive and false-negative rates.
//
// The false-positive rate is the share of labeled detections judged wrong:
// FP / (FP + TP). The false-negative rate is the share of real incidents the
// engine missed among labeled ground truth: FN / (FN + TP). Both are 0 when
// no labels of the relevant kinds exist.
type Rates struct {
	TruePositives     int64   `json:"true_positives"`
	FalsePositives    int64   `json:"false_positives"`
	FalseNegatives    int64   `json:"false_negatives"`
	FalsePositiveRate float64 `json:"false_positive_rate"`
	FalseNegativeRate float64 `json:"false_negative_rate"`
}

// ComputeRates tallies a label snapshot.
func ComputeRates(labels map[string]Label) Rates {
	var r Rates
	for _, l := range labels {
		switch l {
		case LabelTruePositive:
			r.TruePositives++
		case LabelFalsePositive:
			r.FalsePositives++
		case LabelFalseNegative:
			r.FalseNegatives++
		}
	}

	if r.TruePositives+r.FalsePositives > 0 {
		r.FalsePositiveRate = float64(r.FalsePositives) / float64(r.TruePositives+r.FalsePositives)
	}
	if r.TruePositives+r.FalseNegatives > 0 {
		r.FalseNegativeRate = float64(r.FalseNegatives) / float64(r.TruePositives+r.FalseNegatives)
	}

	return r
}
