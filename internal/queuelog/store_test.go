package queuelog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jaunis/xivo-stat/internal/db"
)

// recordingStore is an in-memory Store.
type recordingStore struct {
	mu         sync.Mutex
	err        error
	state      map[string]db.ImportState
	entries    []db.QueueLogEntry
	batchSizes []int
	offsets    []int64
}

func (s *recordingStore) ImportOffset(
	_ context.Context, path string,
) (db.ImportState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.state[path]; ok {
		return st, nil
	}
	return db.ImportState{Path: path}, nil
}

func (s *recordingStore) ImportBatch(
	_ context.Context, path string, entries []db.QueueLogEntry,
	offset, size int64,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if s.state == nil {
		s.state = make(map[string]db.ImportState)
	}
	s.state[path] = db.ImportState{
		Path: path, Offset: offset, Size: size, UpdatedAt: time.Now(),
	}
	s.entries = append(s.entries, entries...)
	s.batchSizes = append(s.batchSizes, len(entries))
	s.offsets = append(s.offsets, offset)
	return nil
}

func (s *recordingStore) imported() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// pollUntil polls fn with the given interval until it returns true
// or the timeout expires.
func pollUntil(
	t *testing.T,
	timeout, interval time.Duration,
	msg string,
	fn func() bool,
) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(interval)
	}
	if fn() {
		return
	}
	t.Fatal(msg)
}
