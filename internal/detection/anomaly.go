// Praetor - Detector and Approval Governance Engine
// Copyright 2026 Praetor Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/praetor-io/praetor

package detection

import (
	"context"
	"fmt"
	"math"
	"sort"
)

// AnomalyDetector flags observations that deviate from the subject's recent
// signal history using a robust z-score (median and MAD instead of mean and
// stddev, so a single outlier in the history does not mask itself).
//
// The context payload must carry the history series under SamplesKey and the
// current observation under ValueKey. MinSupport counts the history samples;
// below it the detector stays silent.
type AnomalyDetector struct {
	id   string
	opts AnomalyOptions
}

// AnomalyOptions are the detector-specific tunables.
type AnomalyOptions struct {
	// SamplesKey is the payload key holding the numeric history series.
	SamplesKey string `koanf:"samples_key"`

	// ValueKey is the payload key holding the current observation.
	ValueKey string `koanf:"value_key"`

	// WarnZ and BlockZ are the z-score boundaries for tier assignment.
	WarnZ  float64 `koanf:"warn_z"`
	BlockZ float64 `koanf:"block_z"`
}

// DefaultAnomalyOptions returns sensible defaults.
func DefaultAnomalyOptions() AnomalyOptions {
	return AnomalyOptions{
		SamplesKey: "samples",
		ValueKey:   "value",
		WarnZ:      3.0,
		BlockZ:     6.0,
	}
}

// NewAnomalyDetector creates an anomaly detector with the given id.
func NewAnomalyDetector(id string, opts AnomalyOptions) *AnomalyDetector {
	if opts.SamplesKey == "" {
		opts.SamplesKey = "samples"
	}
	if opts.ValueKey == "" {
		opts.ValueKey = "value"
	}
	if opts.WarnZ <= 0 {
		opts.WarnZ = DefaultAnomalyOptions().WarnZ
	}
	if opts.BlockZ <= opts.WarnZ {
		opts.BlockZ = opts.WarnZ * 2
	}
	return &AnomalyDetector{id: id, opts: opts}
}

// ID returns the detector identifier.
func (d *AnomalyDetector) ID() string {
	return d.id
}

// Detect evaluates the observation against the subject's history.
func (d *AnomalyDetector) Detect(ctx context.Context, dc *Context, cfg Config) (*Result, error) {
	samples := dc.Samples(d.opts.SamplesKey)
	if len(samples) < cfg.MinSupport {
		return nil, nil
	}

	value, ok := dc.Numeric(d.opts.ValueKey)
	if !ok {
		return nil, nil
	}

	z := robustZScore(value, samples)

	// Saturating confidence: reaches 1.0 at twice the block boundary.
	confidence := math.Min(1, z/(d.opts.BlockZ*2))
	if confidence < cfg.ConfidenceThreshold {
		return nil, nil
	}

	tier := TierInfo
	switch {
	case z >= d.opts.BlockZ:
		tier = TierBlock
	case z >= d.opts.WarnZ:
		tier = TierWarn
	}

	return &Result{
		SubjectID:  dc.SubjectID,
		Tier:       tier,
		Confidence: confidence,
		Evidence: map[string]string{
			"z_score": fmt.Sprintf("%.2f", z),
			"value":   fmt.Sprintf("%.4f", value),
			"samples": fmt.Sprintf("%d", len(samples)),
		},
	}, nil
}

// robustZScore computes |value - median| / (1.4826 * MAD). When the history
// has zero spread, any deviation is treated as an extreme score and zero
// deviation as zero.
func robustZScore(value float64, samples []float64) float64 {
	med := median(samples)

	deviations := make([]float64, len(samples))
	for i, s := range samples {
		deviations[i] = math.Abs(s - med)
	}
	mad := median(deviations)

	diff := math.Abs(value - med)
	if mad == 0 {
		if diff == 0 {
			return 0
		}
		return math.Inf(1)
	}

	// 1.4826 scales MAD to the stddev of a normal distribution.
	return diff / (1.4826 * mad)
}

func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
