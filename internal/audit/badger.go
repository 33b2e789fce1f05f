// Praetor - Detector and Approval Governance Engine
// Copyright 2026 Praetor Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/praetor-io/praetor

package audit

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/praetor-io/praetor/internal/logging"
)

// entryKeyPrefix namespaces audit entries within the badger keyspace.
var entryKeyPrefix = []byte("audit:entry:")

// BadgerLog implements Log on an embedded badger store.
//
// Entries are keyed by big-endian sequence number so that a prefix scan
// yields entries in append order. The store is only ever written with new
// keys; nothing updates or deletes an existing entry.
type BadgerLog struct {
	db *badger.DB

	// mu serializes sequence assignment with the write that persists it.
	mu      sync.Mutex
	nextSeq uint64
}

// BadgerLogConfig configures the durable audit log.
type BadgerLogConfig struct {
	// Path is the directory for the badger store.
	Path string

	// InMemory runs badger without disk persistence (tests).
	InMemory bool
}

// NewBadgerLog opens (or creates) a badger-backed audit log at the given path.
func NewBadgerLog(cfg BadgerLogConfig) (*BadgerLog, error) {
	opts := badger.DefaultOptions(cfg.Path)
	opts.InMemory = cfg.InMemory
	if cfg.InMemory {
		opts.Dir = ""
		opts.ValueDir = ""
	}
	opts.Logger = nil // badger's own logger is noisy; we log open/close ourselves

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit store: %w", err)
	}

	l := &BadgerLog{db: db}
	if err := l.recoverSeq(); err != nil {
		_ = db.Close()
		return nil, err
	}

	logging.Info().Str("path", cfg.Path).Uint64("next_seq", l.nextSeq).Msg("audit store opened")
	return l, nil
}

// recoverSeq finds the highest persisted sequence number so appends continue
// the monotonic series after a restart.
func (l *BadgerLog) recoverSeq() error {
	l.nextSeq = 1

	return l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		// Seek to the end of the entry keyspace, then step back into it.
		seekKey := append(append([]byte{}, entryKeyPrefix...), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
		it.Seek(seekKey)
		if it.ValidForPrefix(entryKeyPrefix) {
			key := it.Item().Key()
			seq := binary.BigEndian.Uint64(key[len(entryKeyPrefix):])
			l.nextSeq = seq + 1
		}
		return nil
	})
}

// entryKey builds the storage key for a sequence number.
func entryKey(seq uint64) []byte {
	key := make([]byte, len(entryKeyPrefix)+8)
	copy(key, entryKeyPrefix)
	binary.BigEndian.PutUint64(key[len(entryKeyPrefix):], seq)
	return key
}

// Append assigns the next sequence number and persists the entry durably.
func (l *BadgerLog) Append(ctx context.Context, entry *Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry.Seq = l.nextSeq
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	err = l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(entry.Seq), data)
	})
	if err != nil {
		return fmt.Errorf("failed to persist audit entry: %w", err)
	}

	l.nextSeq++
	return nil
}

// Iterate returns entries matching the filter in ascending sequence order.
func (l *BadgerLog) Iterate(ctx context.Context, filter Filter) ([]Entry, error) {
	var results []Entry

	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		start := entryKeyPrefix
		if filter.MinSeq > 0 {
			start = entryKey(filter.MinSeq)
		}

		for it.Seek(start); it.ValidForPrefix(entryKeyPrefix); it.Next() {
			var entry Entry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				return fmt.Errorf("failed to decode audit entry: %w", err)
			}

			if !filter.Matches(&entry) {
				continue
			}

			results = append(results, entry)
			if filter.Limit > 0 && len(results) >= filter.Limit {
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return results, nil
}

// Len returns the number of persisted entries.
func (l *BadgerLog) Len(ctx context.Context) (int, error) {
	count := 0
	err := l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(entryKeyPrefix); it.ValidForPrefix(entryKeyPrefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Close shuts down the underlying store.
func (l *BadgerLog) Close() error {
	return l.db.Close()
}
