// Praetor - Detector and Approval Governance Engine
// Copyright 2026 Praetor Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/praetor-io/praetor

package detection

import (
	"context"
	"fmt"
	"math"
)

// RateThresholdDetector flags subjects whose event rate exceeds configured
// bounds. The observed count and window length arrive in the context payload
// (producers aggregate them upstream), keeping the detector a pure function
// of its input.
type RateThresholdDetector struct {
	id   string
	opts RateThresholdOptions
}

// RateThresholdOptions are the detector-specific tunables.
type RateThresholdOptions struct {
	// CountKey is the payload key holding the observed event count.
	CountKey string `koanf:"count_key"`

	// WindowSecondsKey is the payload key holding the aggregation window.
	WindowSecondsKey string `koanf:"window_seconds_key"`

	// WarnPerSecond and BlockPerSecond are the rate boundaries for tier
	// assignment, in events per second.
	WarnPerSecond  float64 `koanf:"warn_per_second"`
	BlockPerSecond float64 `koanf:"block_per_second"`
}

// DefaultRateThresholdOptions returns sensible defaults.
func DefaultRateThresholdOptions() RateThresholdOptions {
	return RateThresholdOptions{
		CountKey:         "count",
		WindowSecondsKey: "window_seconds",
		WarnPerSecond:    10,
		BlockPerSecond:   100,
	}
}

// NewRateThresholdDetector creates a rate threshold detector.
func NewRateThresholdDetector(id string, opts RateThresholdOptions) *RateThresholdDetector {
	defaults := DefaultRateThresholdOptions()
	if opts.CountKey == "" {
		opts.CountKey = defaults.CountKey
	}
	if opts.WindowSecondsKey == "" {
		opts.WindowSecondsKey = defaults.WindowSecondsKey
	}
	if opts.WarnPerSecond <= 0 {
		opts.WarnPerSecond = defaults.WarnPerSecond
	}
	if opts.BlockPerSecond <= opts.WarnPerSecond {
		opts.BlockPerSecond = opts.WarnPerSecond * 10
	}
	return &RateThresholdDetector{id: id, opts: opts}
}

// ID returns the detector identifier.
func (d *RateThresholdDetector) ID() string {
	return d.id
}

// Detect evaluates the observed rate against the configured bounds.
func (d *RateThresholdDetector) Detect(ctx context.Context, dc *Context, cfg Config) (*Result, error) {
	count, ok := dc.Numeric(d.opts.CountKey)
	if !ok {
		return nil, nil
	}
	windowSeconds, ok := dc.Numeric(d.opts.WindowSecondsKey)
	if !ok || windowSeconds <= 0 {
		return nil, fmt.Errorf("payload key %q must be a positive number of seconds", d.opts.WindowSecondsKey)
	}

	// The event count doubles as the corroborating signal count.
	if int(count) < cfg.MinSupport {
		return nil, nil
	}

	rate := count / windowSeconds
	if rate < d.opts.WarnPerSecond {
		return nil, nil
	}

	confidence := math.Min(1, rate/d.opts.BlockPerSecond)
	if confidence < cfg.ConfidenceThreshold {
		return nil, nil
	}

	tier := TierWarn
	if rate >= d.opts.BlockPerSecond {
		tier = TierBlock
	}

	return &Result{
		SubjectID:  dc.SubjectID,
		Tier:       tier,
		Confidence: confidence,
		Evidence: map[string]string{
			"rate_per_second": fmt.Sprintf("%.2f", rate),
			"count":           fmt.Sprintf("%.0f", count),
			"window_seconds":  fmt.Sprintf("%.0f", windowSeconds),
		},
	}, nil
}
