// Praetor - Detector and Approval Governance Engine
// Copyright 2026 Praetor Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/praetor-io/praetor

package detection

import (
	"fmt"
	"time"

	"github.com/praetor-io/praetor/internal/logging"
	"github.com/praetor-io/praetor/internal/metrics"
)

// Shadow mode is time-boxed observe-only behavior for a single detector:
// while in shadow, its detections are audited but never trigger actions or
// approval gating. The window expires lazily — each Process call (and each
// status read) checks the expiry instead of a background timer, so there is
// no scheduler to shut down or leak.

// EnterShadow switches the named detector to shadow mode for the given
// duration. Switching is an administrative operation; detection logic never
// changes mode itself.
func (m *Manager) EnterShadow(detectorID string, duration time.Duration) error {
	if duration <= 0 {
		return fmt.Errorf("shadow duration must be positive")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	reg, ok := m.detectors[detectorID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDetectorNotFound, detectorID)
	}

	reg.mode = ModeShadow
	reg.shadowUntil = m.now().Add(duration)
	metrics.ShadowTransitionsTotal.WithLabelValues(detectorID, "enter").Inc()
	logging.Info().Str("detector", detectorID).Time("until", reg.shadowUntil).Msg("detector entering shadow mode")
	return nil
}

// ExitShadow ends shadow mode immediately, regardless of expiry.
func (m *Manager) ExitShadow(detectorID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	reg, ok := m.detectors[detectorID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDetectorNotFound, detectorID)
	}

	reg.mode = ModeActive
	reg.shadowUntil = time.Time{}
	metrics.ShadowTransitionsTotal.WithLabelValues(detectorID, "exit").Inc()
	logging.Info().Str("detector", detectorID).Msg("detector exiting shadow mode")
	return nil
}

// DetectorStatus is the administrative view of one registration.
type DetectorStatus struct {
	ID          string    `json:"id"`
	Mode        Mode      `json:"mode"`
	ShadowUntil time.Time `json:"shadow_until"`
	Config      Config    `json:"config"`
}

// Status returns the current state of one detector, applying lazy shadow
// expiry first so the reported mode is never stale.
func (m *Manager) Status(detectorID string) (DetectorStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	reg, ok := m.detectors[detectorID]
	if !ok {
		return DetectorStatus{}, fmt.Errorf("%w: %s", ErrDetectorNotFound, detectorID)
	}

	m.expireShadowLocked(detectorID, reg)
	return DetectorStatus{
		ID:          detectorID,
		Mode:        reg.mode,
		ShadowUntil: reg.shadowUntil,
		Config:      reg.cfg,
	}, nil
}

// Statuses returns the state of every registered detector.
func (m *Manager) Statuses() []DetectorStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	statuses := make([]DetectorStatus, 0, len(m.detectors))
	for id, reg := range m.detectors {
		m.expireShadowLocked(id, reg)
		statuses = append(statuses, DetectorStatus{
			ID:          id,
			Mode:        reg.mode,
			ShadowUntil: reg.shadowUntil,
			Config:      reg.cfg,
		})
	}
	return statuses
}

// expireShadowLocked flips an elapsed shadow window back to active.
// Caller holds m.mu.
func (m *Manager) expireShadowLocked(id string, reg *registration) {
	if reg.mode == ModeShadow && !m.now().Before(reg.shadowUntil) {
		reg.mode = ModeActive
		reg.shadowUntil = time.Time{}
		metrics.ShadowTransitionsTotal.WithLabelValues(id, "expire").Inc()
		logging.Info().Str("detector", id).Msg("shadow window elapsed, detector active")
	}
}
