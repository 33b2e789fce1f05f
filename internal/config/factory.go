// Praetor - Detector and Approval Governance Engine
// Copyright 2026 Praetor Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/praetor-io/praetor

package config

import (
	"fmt"

	"github.com/praetor-io/praetor/internal/detection"
)

// Build constructs the detector instance this config block declares.
func (d DetectorConfig) Build() (detection.Detector, error) {
	switch d.Type {
	case "anomaly":
		return detection.NewAnomalyDetector(d.ID, d.Anomaly), nil
	case "rate_threshold":
		return detection.NewRateThresholdDetector(d.ID, d.Rate), nil
	case "pattern_match":
		return detection.NewPatternMatchDetector(d.ID, d.Patterns)
	default:
		return nil, fmt.Errorf("unknown detector type: %s", d.Type)
	}
}

// RegisterAll builds and registers every configured detector.
func RegisterAll(manager *detection.Manager, detectors []DetectorConfig) error {
	for _, d := range detectors {
		det, err := d.Build()
		if err != nil {
			return fmt.Errorf("failed to build detector %s: %w", d.ID, err)
		}
		if err := manager.Register(det, d.EngineSettings()); err != nil {
			return err
		}
	}
	return nil
}
