// Praetor - Detector and Approval Governance Engine
// Copyright 2026 Praetor Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/praetor-io/praetor

package audit

import (
	"github.com/goccy/go-json"
)

// JSONExporter exports entries as an ordered JSON array for the compliance
// export surface.
type JSONExporter struct{}

// Export serializes entries in sequence order.
func (e *JSONExporter) Export(entries []Entry) ([]byte, error) {
	return json.MarshalIndent(entries, "", "  ")
}

// Stats summarizes the contents of an audit log slice for dashboards.
type Stats struct {
	TotalEntries  int64            `json:"total_entries"`
	EntriesByKind map[string]int64 `json:"entries_by_kind"`
	EntriesByTier map[string]int64 `json:"entries_by_tier"`
	FirstSeq      uint64           `json:"first_seq,omitempty"`
	LastSeq       uint64           `json:"last_seq,omitempty"`
}

// ComputeStats aggregates a slice of entries. Entries must be in sequence
// order, as returned by Log.Iterate.
func ComputeStats(entries []Entry) Stats {
	stats := Stats{
		TotalEntries:  int64(len(entries)),
		EntriesByKind: make(map[string]int64),
		EntriesByTier: make(map[string]int64),
	}

	for i := range entries {
		e := &entries[i]
		stats.EntriesByKind[string(e.Kind)]++
		if e.Tier != "" {
			stats.EntriesByTier[e.Tier]++
		}
	}

	if len(entries) > 0 {
		stats.FirstSeq = entries[0].Seq
		stats.LastSeq = entries[len(entries)-1].Seq
	}

	return stats
}
