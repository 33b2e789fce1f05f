// Praetor - Detector and Approval Governance Engine
// Copyright 2026 Praetor Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/praetor-io/praetor

package detection

import (
	"errors"
	"fmt"
)

// Sentinel errors for registration and shadow administration.
var (
	// ErrDuplicateDetector indicates a Register call with an id that is
	// already registered.
	ErrDuplicateDetector = errors.New("detector id already registered")

	// ErrDetectorNotFound indicates an administrative operation on an
	// unknown detector id.
	ErrDetectorNotFound = errors.New("detector not found")
)

// ExecutionError wraps a detector failure isolated by the manager. It is
// audited and never propagated to the Process caller.
type ExecutionError struct {
	DetectorID string
	Err        error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("detector %s failed: %v", e.DetectorID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// ActionError wraps an action executor failure or timeout. The approval
// decision that preceded it is not rolled back; callers may retry execution.
type ActionError struct {
	ResultID string
	Err      error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action execution failed for result %s: %v", e.ResultID, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}
