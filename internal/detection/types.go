// Praetor - Detector and Approval Governance Engine
// Copyright 2026 Praetor Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/praetor-io/praetor

package detection

import (
	"context"
	"fmt"
	"time"
)

// Tier is the severity classification of a detection result.
// The ordering is total: TierInfo < TierWarn < TierBlock. Higher tiers are
// strictly more consequential; TierWarn and above require human sign-off
// before any action is taken.
type Tier int

const (
	TierInfo Tier = iota
	TierWarn
	TierBlock
)

// String returns the lowercase tier name.
func (t Tier) String() string {
	switch t {
	case TierInfo:
		return "info"
	case TierWarn:
		return "warn"
	case TierBlock:
		return "block"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// RequiresApproval reports whether results at this tier are gated on a human
// decision when the detector is active.
func (t Tier) RequiresApproval() bool {
	return t >= TierWarn
}

// MarshalText implements encoding.TextMarshaler so tiers serialize as their
// lowercase names in JSON and YAML.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Tier) UnmarshalText(text []byte) error {
	switch string(text) {
	case "info":
		*t = TierInfo
	case "warn", "warning":
		*t = TierWarn
	case "block", "critical":
		*t = TierBlock
	default:
		return fmt.Errorf("unknown tier: %q", text)
	}
	return nil
}

// Mode is the per-detector-instance operating state.
type Mode string

const (
	// ModeActive means detections may trigger actions or approval gating.
	ModeActive Mode = "active"

	// ModeShadow means detections are recorded but never trigger actions or
	// approval-gated execution.
	ModeShadow Mode = "shadow"
)

// Config holds per-detector tunables. Immutable once registered; changing a
// value requires re-registration.
type Config struct {
	// MinSupport is the minimum number of corroborating signals before a
	// detection is considered.
	MinSupport int `koanf:"min_support" json:"min_support"`

	// ConfidenceThreshold is the confidence floor (0-1). Below it no
	// detection is emitted.
	ConfidenceThreshold float64 `koanf:"confidence_threshold" json:"confidence_threshold"`

	// MinVotes is the minimum number of independent detectors agreeing on a
	// subject before an aggregate action is taken.
	MinVotes int `koanf:"min_votes" json:"min_votes"`

	// DebounceWindow suppresses duplicate detections for the same subject
	// within the window. Applied by the Manager, not the detector.
	DebounceWindow time.Duration `koanf:"debounce_window" json:"debounce_window"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MinSupport:          1,
		ConfidenceThreshold: 0.5,
		MinVotes:            1,
		DebounceWindow:      time.Minute,
	}
}

// Validate checks config bounds.
func (c Config) Validate() error {
	if c.MinSupport < 1 {
		return fmt.Errorf("min_support must be at least 1")
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence_threshold must be in [0,1]")
	}
	if c.MinVotes < 1 {
		return fmt.Errorf("min_votes must be at least 1")
	}
	if c.DebounceWindow < 0 {
		return fmt.Errorf("debounce_window must not be negative")
	}
	return nil
}

// Context is an immutable description of one observed event plus the values a
// detector may consult. Detectors must not mutate it.
type Context struct {
	SubjectID  string         `json:"subject_id"`
	ObservedAt time.Time      `json:"observed_at"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Samples returns the numeric signal series under the given payload key,
// accepting []float64 directly or []any of numbers (the shape produced by
// JSON decoding).
func (c *Context) Samples(key string) []float64 {
	raw, ok := c.Payload[key]
	if !ok {
		return nil
	}

	switch v := raw.(type) {
	case []float64:
		return v
	case []any:
		samples := make([]float64, 0, len(v))
		for _, item := range v {
			if f, ok := toFloat(item); ok {
				samples = append(samples, f)
			}
		}
		return samples
	default:
		return nil
	}
}

// Attr returns a string payload attribute.
func (c *Context) Attr(key string) (string, bool) {
	raw, ok := c.Payload[key]
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	return s, ok
}

// Numeric returns a numeric payload attribute.
func (c *Context) Numeric(key string) (float64, bool) {
	raw, ok := c.Payload[key]
	if !ok {
		return 0, false
	}
	return toFloat(raw)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Result is produced by exactly one detector invocation.
type Result struct {
	ID         string            `json:"id"`
	DetectorID string            `json:"detector_id"`
	SubjectID  string            `json:"subject_id"`
	Tier       Tier              `json:"tier"`
	Confidence float64           `json:"confidence"`
	Evidence   map[string]string `json:"evidence,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`

	// Approved is the tri-state approval outcome: nil until a reviewer
	// resolves the result, then true or false. Only the approval gate sets
	// it. A WARN or BLOCK result cannot be acted upon while Approved is nil.
	Approved *bool `json:"approved,omitempty"`
}

// Detector is the pluggable unit that turns a detection context into a
// result.
//
// Detect returns nil when confidence is below the configured threshold or
// MinSupport is unmet; a non-detection is not a result. Implementations must
// be deterministic for identical context and config, and must not perform the
// side-effecting action themselves — action execution is delegated to the
// manager and approval gate.
type Detector interface {
	// ID returns the unique detector identifier used for registration,
	// debounce bookkeeping and audit attribution.
	ID() string

	// Detect evaluates one context against the given config.
	Detect(ctx context.Context, dc *Context, cfg Config) (*Result, error)
}

// ActionExecutor is the external collaborator that carries out the
// consequence of a detection. It is invoked only after a tier-appropriate
// decision: immediately for INFO, post-approval for WARN and BLOCK.
type ActionExecutor interface {
	Execute(ctx context.Context, result *Result) error
}

// ApprovalSink receives qualifying results for human sign-off. Implemented by
// the approval gate; defined here so the manager does not depend on the
// gate's package.
//
// Request returns the approval id and whether a new pending item was created.
// created is false when a pending item for the same subject and tier already
// exists.
type ApprovalSink interface {
	Request(ctx context.Context, result *Result) (approvalID string, created bool, err error)
}
