// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ErrNotFound indicates no run is stored under the requested ID.
var ErrNotFound = errors.New("run not found")

const (
	runPrefix   = "run/"
	indexPrefix = "idx/"
)

// Record is one persisted run.
type Record struct {
	RunID       string          `json:"run_id"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  time.Time       `json:"finished_at"`
	Success     bool            `json:"success"`
	FailureKind string          `json:"failure_kind,omitempty"`
	Commit      string          `json:"commit,omitempty"`
	Chunks      int             `json:"chunks"`
	Levels      int             `json:"levels"`
	Cycles      int             `json:"cycles"`
	Result      json.RawMessage `json:"result,omitempty"`
}

// Store is the run history.
//
// Thread Safety: Safe for concurrent use.
type Store struct {
	db     *badger.DB
	gc     *gcRunner
	logger *slog.Logger
}

// Open opens the history database described by cfg.
//
// # Outputs
//
//   - *Store: Caller must Close it.
//   - error: Non-nil if the database cannot be opened.
func Open(cfg Config) (*Store, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default().With("component", "history")
	}
	s := &Store{db: db, logger: logger}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gc = startGC(db, cfg.GCInterval, cfg.GCDiscardRatio, logger)
	}
	return s, nil
}

// Close stops GC and closes the database.
func (s *Store) Close() error {
	if s.gc != nil {
		s.gc.stop()
	}
	return s.db.Close()
}

func indexKey(r *Record) []byte {
	// Zero-padded so lexical order is chronological.
	return []byte(fmt.Sprintf("%s%020d/%s", indexPrefix, r.StartedAt.UnixNano(), r.RunID))
}

// Put stores a record, replacing any earlier record with the same run ID.
func (s *Store) Put(ctx context.Context, r *Record) error {
	if r == nil || r.RunID == "" || strings.Contains(r.RunID, "/") {
		return errors.New("record needs a run ID without slashes")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding run %s: %w", r.RunID, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if old, err := getRecord(txn, r.RunID); err == nil {
			if err := txn.Delete(indexKey(old)); err != nil {
				return err
			}
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		if err := txn.Set([]byte(runPrefix+r.RunID), data); err != nil {
			return err
		}
		return txn.Set(indexKey(r), []byte(r.RunID))
	})
	if err != nil {
		return fmt.Errorf("storing run %s: %w", r.RunID, err)
	}
	s.logger.Debug("run stored", slog.String("run_id", r.RunID), slog.Bool("success", r.Success))
	return nil
}

// Get returns the record for runID, or ErrNotFound.
func (s *Store) Get(ctx context.Context, runID string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rec *Record
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getRecord(txn, runID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns up to limit records, newest first. A limit below 1 returns all.
//
// Result payloads are omitted; fetch a single run with Get for the full result.
func (s *Store) List(ctx context.Context, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(indexPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration seeks to the largest key not above the seek key.
		seek := append([]byte(indexPrefix), 0xff)
		for it.Seek(seek); it.ValidForPrefix(opts.Prefix); it.Next() {
			if limit > 0 && len(out) >= limit {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			runID, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			rec, err := getRecord(txn, string(runID))
			if err != nil {
				return err
			}
			rec.Result = nil
			out = append(out, *rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return out, nil
}

// Delete removes a run. Deleting an unknown run returns ErrNotFound.
func (s *Store) Delete(ctx context.Context, runID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		rec, err := getRecord(txn, runID)
		if err != nil {
			return err
		}
		if err := txn.Delete(indexKey(rec)); err != nil {
			return err
		}
		return txn.Delete([]byte(runPrefix + runID))
	})
}

func getRecord(txn *badger.Txn, runID string) (*Record, error) {
	if runID == "" || strings.Contains(runID, "/") {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, runID)
	}
	item, err := txn.Get([]byte(runPrefix + runID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	if err != nil {
		return nil, fmt.Errorf("decoding run %s: %w", runID, err)
	}
	return &rec, nil
}
