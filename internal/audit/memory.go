// Praetor - Detector and Approval Governance Engine
// Copyright 2026 Praetor Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/praetor-io/praetor

package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLog implements Log using in-memory storage.
// Suitable for development and testing. Data is lost on restart.
//
// The log is capped: once maxLen is reached the oldest 10% of entries are
// dropped from memory. Sequence numbers are never reused, so consumers can
// still detect the gap.
type MemoryLog struct {
	entries []Entry
	nextSeq uint64
	maxLen  int
	mu      sync.RWMutex
}

// NewMemoryLog creates a new in-memory audit log.
func NewMemoryLog(maxLen int) *MemoryLog {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &MemoryLog{
		entries: make([]Entry, 0, maxLen),
		nextSeq: 1,
		maxLen:  maxLen,
	}
}

// Append assigns the next sequence number and persists the entry.
func (l *MemoryLog) Append(ctx context.Context, entry *Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.Seq = l.nextSeq
	l.nextSeq++

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	if len(l.entries) >= l.maxLen {
		removeCount := l.maxLen / 10
		if removeCount == 0 {
			removeCount = 1
		}
		l.entries = l.entries[removeCount:]
	}

	l.entries = append(l.entries, *entry)
	return nil
}

// Iterate returns entries matching the filter in ascending sequence order.
func (l *MemoryLog) Iterate(ctx context.Context, filter Filter) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var results []Entry
	for i := range l.entries {
		if !filter.Matches(&l.entries[i]) {
			continue
		}
		results = append(results, l.entries[i])
		if filter.Limit > 0 && len(results) >= filter.Limit {
			break
		}
	}

	return results, nil
}

// Len returns the number of entries currently held in memory.
func (l *MemoryLog) Len(ctx context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries), nil
}

// LastSeq returns the most recently assigned sequence number, 0 if none.
func (l *MemoryLog) LastSeq() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nextSeq - 1
}
