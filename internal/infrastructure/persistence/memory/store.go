// Package memory provides in-process implementations of the persistence
// contracts. It backs development runs without PostgreSQL or Redis and the
// application and HTTP tests.
package memory

import (
	"context"
	"sync"

	"github.com/learnmatch/progression/internal/domain/progress"
	"github.com/learnmatch/progression/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS STORE
// ══════════════════════════════════════════════════════════════════════════════

// Store implements progress.Store with the same version semantics as the
// PostgreSQL store.
type Store struct {
	mu      sync.RWMutex
	records map[string]*progress.Record
	history map[string][]progress.HistoryEntry

	// FailWith, when set, is returned by every call. Used by tests to
	// simulate an unavailable backend.
	FailWith error
}

var _ progress.Store = (*Store)(nil)

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		records: make(map[string]*progress.Record),
		history: make(map[string][]progress.HistoryEntry),
	}
}

// Get returns a copy of the stored record.
func (s *Store) Get(ctx context.Context, userID string) (*progress.Record, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[userID]
	if !ok {
		return nil, shared.ErrRecordNotFound
	}
	return rec.Clone(), nil
}

// Save stores a copy of rec when its version matches and appends history.
func (s *Store) Save(ctx context.Context, rec *progress.Record, history []progress.HistoryEntry) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.records[rec.UserID]
	switch {
	case rec.IsNew() && exists:
		return shared.ErrVersionConflict
	case !rec.IsNew() && (!exists || current.Version != rec.Version):
		return shared.ErrVersionConflict
	}

	stored := rec.Clone()
	stored.Version = rec.Version + 1
	s.records[rec.UserID] = stored
	s.history[rec.UserID] = append(s.history[rec.UserID], history...)

	rec.Version = stored.Version
	return nil
}

// ListHistory returns the latest entries, newest first.
func (s *Store) ListHistory(ctx context.Context, userID string, limit int) ([]progress.HistoryEntry, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.history[userID]
	limit = progress.NormalizeHistoryLimit(limit)

	out := make([]progress.HistoryEntry, 0, min(limit, len(all)))
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Store) check(ctx context.Context) error {
	if s.FailWith != nil {
		return s.FailWith
	}
	return ctx.Err()
}
