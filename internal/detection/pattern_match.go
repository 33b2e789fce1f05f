// Praetor - Detector and Approval Governance Engine
// Copyright 2026 Praetor Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/praetor-io/praetor

package detection

import (
	"context"
	"fmt"
	"regexp"
	"sort"
)

// Pattern is one compiled rule of a PatternMatchDetector.
type Pattern struct {
	// Name identifies the pattern in evidence and logs.
	Name string

	// AttrKey is the payload attribute the expression runs against.
	AttrKey string

	// Expr is the compiled expression.
	Expr *regexp.Regexp

	// Tier assigned when this pattern matches.
	Tier Tier

	// Confidence contributed by a match (0-1].
	Confidence float64
}

// PatternSpec is the serializable form of a Pattern, as it appears in
// configuration.
type PatternSpec struct {
	Name       string  `koanf:"name" json:"name"`
	AttrKey    string  `koanf:"attr_key" json:"attr_key"`
	Expr       string  `koanf:"expr" json:"expr"`
	Tier       Tier    `koanf:"tier" json:"tier"`
	Confidence float64 `koanf:"confidence" json:"confidence"`
}

// PatternMatchDetector matches payload attributes against a fixed set of
// regular expressions. Each match is one corroborating signal; MinSupport is
// the number of matched patterns required before a detection is considered.
// The emitted tier is the highest tier among matches, the confidence the
// highest contributing confidence.
type PatternMatchDetector struct {
	id       string
	patterns []Pattern
}

// NewPatternMatchDetector compiles the given specs into a detector.
func NewPatternMatchDetector(id string, specs []PatternSpec) (*PatternMatchDetector, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("pattern detector %s needs at least one pattern", id)
	}

	patterns := make([]Pattern, 0, len(specs))
	for _, spec := range specs {
		if spec.AttrKey == "" {
			return nil, fmt.Errorf("pattern %q: attr_key is required", spec.Name)
		}
		expr, err := regexp.Compile(spec.Expr)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", spec.Name, err)
		}

		confidence := spec.Confidence
		if confidence <= 0 || confidence > 1 {
			confidence = 0.9
		}

		patterns = append(patterns, Pattern{
			Name:       spec.Name,
			AttrKey:    spec.AttrKey,
			Expr:       expr,
			Tier:       spec.Tier,
			Confidence: confidence,
		})
	}

	return &PatternMatchDetector{id: id, patterns: patterns}, nil
}

// ID returns the detector identifier.
func (d *PatternMatchDetector) ID() string {
	return d.id
}

// Detect runs every pattern against its payload attribute.
func (d *PatternMatchDetector) Detect(ctx context.Context, dc *Context, cfg Config) (*Result, error) {
	var matched []Pattern
	for _, p := range d.patterns {
		value, ok := dc.Attr(p.AttrKey)
		if !ok {
			continue
		}
		if p.Expr.MatchString(value) {
			matched = append(matched, p)
		}
	}

	if len(matched) < cfg.MinSupport {
		return nil, nil
	}

	tier := TierInfo
	confidence := 0.0
	names := make([]string, 0, len(matched))
	for _, p := range matched {
		if p.Tier > tier {
			tier = p.Tier
		}
		if p.Confidence > confidence {
			confidence = p.Confidence
		}
		names = append(names, p.Name)
	}
	sort.Strings(names)

	if confidence < cfg.ConfidenceThreshold {
		return nil, nil
	}

	return &Result{
		SubjectID:  dc.SubjectID,
		Tier:       tier,
		Confidence: confidence,
		Evidence: map[string]string{
			"patterns": fmt.Sprintf("%v", names),
			"matches":  fmt.Sprintf("%d", len(matched)),
		},
	}, nil
}
