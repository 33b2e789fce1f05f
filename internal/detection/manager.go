// Praetor - Detector and Approval Governance Engine
// Copyright 2026 Praetor Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/praetor-io/praetor

package detection

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/praetor-io/praetor/internal/audit"
	"github.com/praetor-io/praetor/internal/logging"
	"github.com/praetor-io/praetor/internal/metrics"
)

// Manager owns the set of registered detectors and their configs, runs them
// against incoming contexts and applies the tier/mode policy:
//
//	SHADOW + any tier     -> audit only
//	ACTIVE + INFO         -> action executed immediately
//	ACTIVE + WARN/BLOCK   -> pending approval created, action withheld
//
// No transition skips the approval step for WARN/BLOCK in active mode.
//
// The manager also centralizes the debounce policy: it tracks the last
// emission per (detector_id, subject_id) pair and suppresses a new result
// inside the configured window, so every detector implementation gets
// debouncing for free.
type Manager struct {
	auditLog  audit.Log
	executor  ActionExecutor
	approvals ApprovalSink
	labels    metrics.LabelStore

	actionTimeout time.Duration

	mu        sync.RWMutex
	detectors map[string]*registration

	debounceMu   sync.Mutex
	lastEmission map[string]time.Time

	subjectMu    sync.Mutex
	subjectLocks map[string]*sync.Mutex

	stats managerStats

	// now is replaceable in tests.
	now func() time.Time
}

// registration binds a detector to its immutable config and mutable mode.
type registration struct {
	detector    Detector
	cfg         Config
	mode        Mode
	shadowUntil time.Time
}

// detectorSnapshot is the read-only view of a registration taken at the start
// of a Process call.
type detectorSnapshot struct {
	id       string
	detector Detector
	cfg      Config
	mode     Mode
}

type managerStats struct {
	mu               sync.Mutex
	eventsProcessed  int64
	detectionsByTier map[Tier]int64
	detectorErrors   int64
	debounced        int64
}

// ManagerMetrics is a point-in-time copy of the manager's counters, plus
// false-positive/negative rates once retroactive labels have been applied.
type ManagerMetrics struct {
	EventsProcessed  int64          `json:"events_processed"`
	DetectionsByTier map[Tier]int64 `json:"detections_by_tier"`
	DetectorErrors   int64          `json:"detector_errors"`
	Debounced        int64          `json:"debounced"`
	Accuracy         *metrics.Rates `json:"accuracy,omitempty"`
}

// ManagerConfig configures the manager.
type ManagerConfig struct {
	// ActionTimeout bounds each immediate (INFO tier) action execution.
	ActionTimeout time.Duration `koanf:"action_timeout"`
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{ActionTimeout: 10 * time.Second}
}

// NewManager creates a detection manager. labels may be nil; accuracy rates
// are then omitted from Metrics().
func NewManager(
	cfg ManagerConfig,
	auditLog audit.Log,
	executor ActionExecutor,
	approvals ApprovalSink,
	labels metrics.LabelStore,
) *Manager {
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = DefaultManagerConfig().ActionTimeout
	}

	return &Manager{
		auditLog:      auditLog,
		executor:      executor,
		approvals:     approvals,
		labels:        labels,
		actionTimeout: cfg.ActionTimeout,
		detectors:     make(map[string]*registration),
		lastEmission:  make(map[string]time.Time),
		subjectLocks:  make(map[string]*sync.Mutex),
		stats:         managerStats{detectionsByTier: make(map[Tier]int64)},
		now:           time.Now,
	}
}

// Register adds a detector with its config. The config is immutable once
// registered; changes require re-registration under a new id.
func (m *Manager) Register(d Detector, cfg Config) error {
	if d == nil || d.ID() == "" {
		return fmt.Errorf("detector must have a non-empty id")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config for detector %s: %w", d.ID(), err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.detectors[d.ID()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateDetector, d.ID())
	}

	m.detectors[d.ID()] = &registration{
		detector: d,
		cfg:      cfg,
		mode:     ModeActive,
	}

	logging.Info().Str("detector", d.ID()).Msg("registered detector")
	return nil
}

// Process runs every registered, non-debounced detector against the context,
// applies the tier/mode policy to each emitted result and returns the results
// produced, including ones still pending approval.
//
// A failing detector is isolated: its failure is audited as detector_error
// and the remaining detectors still run. Once called, Process runs each
// detector to completion; there is no cancellation of an in-flight detection.
func (m *Manager) Process(ctx context.Context, dc *Context) ([]*Result, error) {
	if dc == nil || dc.SubjectID == "" {
		return nil, fmt.Errorf("detection context must have a subject id")
	}

	start := time.Now()
	defer func() {
		metrics.ProcessDuration.Observe(time.Since(start).Seconds())
	}()

	now := m.now()
	snapshots := m.snapshotDetectors()

	type emission struct {
		snap   detectorSnapshot
		result *Result
	}
	var emissions []emission

	for _, snap := range snapshots {
		if m.debounced(snap.id, dc.SubjectID, snap.cfg.DebounceWindow, now) {
			m.stats.mu.Lock()
			m.stats.debounced++
			m.stats.mu.Unlock()
			metrics.DetectionsDebouncedTotal.WithLabelValues(snap.id).Inc()
			logging.Debug().Str("detector", snap.id).Str("subject", dc.SubjectID).Msg("detection debounced")
			continue
		}

		result := m.runDetector(ctx, snap, dc)
		if result == nil {
			continue
		}

		result.ID = uuid.NewString()
		result.DetectorID = snap.id
		if result.SubjectID == "" {
			result.SubjectID = dc.SubjectID
		}
		if result.CreatedAt.IsZero() {
			result.CreatedAt = now
		}

		m.recordEmission(snap.id, dc.SubjectID, now)
		metrics.DetectionsTotal.WithLabelValues(snap.id, result.Tier.String()).Inc()

		m.stats.mu.Lock()
		m.stats.detectionsByTier[result.Tier]++
		m.stats.mu.Unlock()

		emissions = append(emissions, emission{snap: snap, result: result})
	}

	// votes is the number of independent detectors that produced a result
	// for this subject within this call; compared against each detector's
	// min_votes quorum before an aggregate action is taken.
	votes := len(emissions)

	// Pending-approval registration for one subject must be mutually
	// exclusive across concurrent Process calls.
	unlock := m.lockSubject(dc.SubjectID)
	defer unlock()

	results := make([]*Result, 0, len(emissions))
	for _, em := range emissions {
		m.applyPolicy(ctx, em.snap, em.result, votes)
		results = append(results, em.result)
	}

	m.stats.mu.Lock()
	m.stats.eventsProcessed++
	m.stats.mu.Unlock()

	return results, nil
}

// snapshotDetectors copies the registrations, flipping any shadow detector
// whose window has elapsed back to active first (lazy expiry; no background
// timer).
func (m *Manager) snapshotDetectors() []detectorSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshots := make([]detectorSnapshot, 0, len(m.detectors))
	for id, reg := range m.detectors {
		m.expireShadowLocked(id, reg)

		snapshots = append(snapshots, detectorSnapshot{
			id:       id,
			detector: reg.detector,
			cfg:      reg.cfg,
			mode:     reg.mode,
		})
	}

	return snapshots
}

// runDetector executes one detector, isolating errors and panics. Failures
// are audited as detector_error and never propagate to the Process caller.
func (m *Manager) runDetector(ctx context.Context, snap detectorSnapshot, dc *Context) (result *Result) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			m.auditDetectorError(ctx, snap.id, dc.SubjectID, fmt.Errorf("panic: %v", r))
		}
	}()

	result, err := snap.detector.Detect(ctx, dc, snap.cfg)
	if err != nil {
		execErr := &ExecutionError{DetectorID: snap.id, Err: err}
		m.auditDetectorError(ctx, snap.id, dc.SubjectID, execErr)
		return nil
	}

	if result == nil {
		logging.Debug().Str("detector", snap.id).Str("subject", dc.SubjectID).Msg("no detection")
	}
	return result
}

func (m *Manager) auditDetectorError(ctx context.Context, detectorID, subjectID string, err error) {
	m.stats.mu.Lock()
	m.stats.detectorErrors++
	m.stats.mu.Unlock()
	metrics.DetectorErrorsTotal.WithLabelValues(detectorID).Inc()

	logging.Error().Err(err).Str("detector", detectorID).Msg("detector failed")
	m.append(ctx, &audit.Entry{
		Kind:       audit.KindDetectorError,
		DetectorID: detectorID,
		SubjectID:  subjectID,
		Tier:       TierInfo.String(),
		Details:    map[string]string{"error": err.Error()},
	})
}

// applyPolicy applies the tier/mode state machine to one emitted result.
// Caller holds the subject lock.
func (m *Manager) applyPolicy(ctx context.Context, snap detectorSnapshot, result *Result, votes int) {
	entry := &audit.Entry{
		Kind:       audit.KindDetection,
		DetectorID: result.DetectorID,
		SubjectID:  result.SubjectID,
		ResultID:   result.ID,
		Tier:       result.Tier.String(),
		Details:    map[string]string{"confidence": fmt.Sprintf("%.3f", result.Confidence)},
	}

	switch {
	case snap.mode == ModeShadow:
		entry.Outcome = audit.OutcomeShadow
		m.append(ctx, entry)
		return

	case votes < snap.cfg.MinVotes:
		entry.Outcome = audit.OutcomeQuorumNotMet
		entry.Details["votes"] = fmt.Sprintf("%d/%d", votes, snap.cfg.MinVotes)
		m.append(ctx, entry)
		return
	}

	m.append(ctx, entry)

	if !result.Tier.RequiresApproval() {
		m.executeImmediate(ctx, result)
		return
	}

	approvalID, created, err := m.approvals.Request(ctx, result)
	if err != nil {
		logging.Error().Err(err).Str("result", result.ID).Msg("failed to request approval")
		return
	}
	if !created {
		logging.Debug().Str("approval", approvalID).Str("subject", result.SubjectID).Msg("pending approval already open for subject/tier")
	}
}

// executeImmediate runs the action for an INFO tier result.
func (m *Manager) executeImmediate(ctx context.Context, result *Result) {
	execCtx, cancel := context.WithTimeout(ctx, m.actionTimeout)
	defer cancel()

	if err := m.executor.Execute(execCtx, result); err != nil {
		actionErr := &ActionError{ResultID: result.ID, Err: err}
		logging.Error().Err(actionErr).Msg("immediate action failed")
		metrics.ActionsTotal.WithLabelValues("failed").Inc()
		m.append(ctx, &audit.Entry{
			Kind:       audit.KindActionFailed,
			DetectorID: result.DetectorID,
			SubjectID:  result.SubjectID,
			ResultID:   result.ID,
			Tier:       result.Tier.String(),
			Details:    map[string]string{"error": err.Error()},
		})
		return
	}

	metrics.ActionsTotal.WithLabelValues("taken").Inc()
	m.append(ctx, &audit.Entry{
		Kind:       audit.KindActionTaken,
		DetectorID: result.DetectorID,
		SubjectID:  result.SubjectID,
		ResultID:   result.ID,
		Tier:       result.Tier.String(),
	})
}

// append writes an audit entry, logging rather than failing the pipeline if
// the log is unavailable.
func (m *Manager) append(ctx context.Context, entry *audit.Entry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = m.now()
	}
	if err := m.auditLog.Append(ctx, entry); err != nil {
		logging.Error().Err(err).Str("kind", string(entry.Kind)).Msg("failed to append audit entry")
		return
	}
	metrics.AuditEntriesTotal.WithLabelValues(string(entry.Kind)).Inc()
}

// debounced reports whether an emission for (detectorID, subjectID) happened
// inside the debounce window.
func (m *Manager) debounced(detectorID, subjectID string, window time.Duration, now time.Time) bool {
	if window <= 0 {
		return false
	}

	m.debounceMu.Lock()
	defer m.debounceMu.Unlock()

	last, ok := m.lastEmission[debounceKey(detectorID, subjectID)]
	return ok && now.Sub(last) < window
}

func (m *Manager) recordEmission(detectorID, subjectID string, now time.Time) {
	m.debounceMu.Lock()
	defer m.debounceMu.Unlock()
	m.lastEmission[debounceKey(detectorID, subjectID)] = now
}

func debounceKey(detectorID, subjectID string) string {
	return detectorID + "\x00" + subjectID
}

// lockSubject acquires the per-subject mutex, creating it on first use.
func (m *Manager) lockSubject(subjectID string) func() {
	m.subjectMu.Lock()
	lock, ok := m.subjectLocks[subjectID]
	if !ok {
		lock = &sync.Mutex{}
		m.subjectLocks[subjectID] = lock
	}
	m.subjectMu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// Metrics returns a copy of the manager's counters.
func (m *Manager) Metrics() ManagerMetrics {
	m.stats.mu.Lock()
	byTier := make(map[Tier]int64, len(m.stats.detectionsByTier))
	for k, v := range m.stats.detectionsByTier {
		byTier[k] = v
	}
	mm := ManagerMetrics{
		EventsProcessed:  m.stats.eventsProcessed,
		DetectionsByTier: byTier,
		DetectorErrors:   m.stats.detectorErrors,
		Debounced:        m.stats.debounced,
	}
	m.stats.mu.Unlock()

	if m.labels != nil {
		if all := m.labels.All(); len(all) > 0 {
			rates := metrics.ComputeRates(all)
			mm.Accuracy = &rates
		}
	}

	return mm
}
