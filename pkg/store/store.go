// Package store is the run-history store: a JSONL append log of completed
// task-graph runs plus an in-memory index for the read-only query surface.
// It is a read model, not a queue — records are appended once and never
// mutated, matching planner.RunRecord's own contract.
package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/zulu-cp/core/pkg/planner"
)

// defaultMaxCached bounds the in-memory index so a long-running core
// process doesn't keep every run ever recorded resident in memory; the
// JSONL file itself is the durable, unbounded record.
const defaultMaxCached = 2000

// Store appends run-history records to a JSONL file and serves the
// run-history query surface from an in-memory cache of the most recent
// records.
type Store struct {
	mu        sync.Mutex
	logPath   string
	maxCached int
	log       *slog.Logger

	records []planner.RunRecord // oldest first, capped at maxCached
	byID    map[string]int      // request id -> index into records
}

// Option configures a Store at construction.
type Option func(*Store)

// WithMaxCached overrides the default in-memory cache size.
func WithMaxCached(n int) Option {
	return func(s *Store) { s.maxCached = n }
}

// WithLogger overrides the default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// Open opens (or creates) a run-history store at logPath, loading the
// existing file's tail into the in-memory cache.
func Open(logPath string, opts ...Option) (*Store, error) {
	s := &Store{
		logPath:   logPath,
		maxCached: defaultMaxCached,
		log:       slog.Default(),
		byID:      make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "store")

	if err := s.load(); err != nil {
		return nil, fmt.Errorf("open run history store: %w", err)
	}
	return s, nil
}

func (s *Store) load() error {
	f, err := os.Open(s.logPath)
	if os.IsNotExist(err) {
		return os.MkdirAll(filepath.Dir(s.logPath), 0o755)
	}
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	var malformed int
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec planner.RunRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			malformed++
			continue
		}
		s.appendLocked(rec)
	}
	if malformed > 0 {
		s.log.Warn("run history store: skipped malformed lines on load", "count", malformed)
	}
	return scanner.Err()
}

// Append writes one record to the JSONL file and the in-memory cache. A
// file-write failure is returned to the caller (planner.Planner logs it and
// proceeds — an append failure never blocks or fails graph completion).
func (s *Store) Append(record planner.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}

	f, err := os.OpenFile(s.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open run history log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write run record: %w", err)
	}

	s.appendLocked(record)
	return nil
}

// appendLocked updates the in-memory cache; s.mu must already be held.
func (s *Store) appendLocked(record planner.RunRecord) {
	if idx, ok := s.byID[record.RequestID]; ok {
		s.records[idx] = record
		return
	}

	s.records = append(s.records, record)
	if len(s.records) > s.maxCached {
		dropped := len(s.records) - s.maxCached
		s.records = s.records[dropped:]
		for id, idx := range s.byID {
			if idx < dropped {
				delete(s.byID, id)
				continue
			}
			s.byID[id] = idx - dropped
		}
	}
	s.byID[record.RequestID] = len(s.records) - 1
}

// Recent returns the n most recently appended records, newest first. If
// outcome is non-empty, only records matching that outcome are returned.
// n <= 0 means no limit.
func (s *Store) Recent(n int, outcome planner.RunOutcome) []planner.RunRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]planner.RunRecord, 0, len(s.records))
	for i := len(s.records) - 1; i >= 0; i-- {
		r := s.records[i]
		if outcome != "" && r.Outcome != outcome {
			continue
		}
		out = append(out, r)
		if n > 0 && len(out) >= n {
			break
		}
	}
	return out
}

// ByRequestID looks up a single record by request id.
func (s *Store) ByRequestID(requestID string) (planner.RunRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.byID[requestID]
	if !ok {
		return planner.RunRecord{}, false
	}
	return s.records[idx], true
}

var _ planner.RunHistoryStore = (*Store)(nil)
