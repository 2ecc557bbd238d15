// Package memory provides an in-process run and loop store for local development and tests.
package memory

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"example.com/territory/internal/domain"
	perr "example.com/territory/internal/errors"
)

// Store keeps runs, trajectories and loops in maps guarded by a single lock.
type Store struct {
	mu           sync.RWMutex
	runs         map[string]domain.Run
	trajectories map[string]domain.RawTrajectory
	loops        map[string]domain.RunLoop
}

var (
	_ domain.RunRepository  = (*Store)(nil)
	_ domain.LoopRepository = (*Store)(nil)
)

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		runs:         make(map[string]domain.Run),
		trajectories: make(map[string]domain.RawTrajectory),
		loops:        make(map[string]domain.RunLoop),
	}
}

// GetRun implements domain.RunRepository.
func (s *Store) GetRun(_ context.Context, id string) (*domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, nil
	}
	run.Metadata = maps.Clone(run.Metadata)
	return &run, nil
}

// HasOverlap implements domain.RunRepository.
func (s *Store) HasOverlap(_ context.Context, userID string, start, end time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, run := range s.runs {
		if run.UserID == userID && run.StartTime.Before(end) && run.EndTime.After(start) {
			return true, nil
		}
	}
	return false, nil
}

// CreateRun implements domain.RunRepository.
func (s *Store) CreateRun(_ context.Context, run domain.Run, trajectory domain.RawTrajectory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; ok {
		return perr.DuplicateKeyf("run %s already exists", run.ID)
	}
	run.Metadata = maps.Clone(run.Metadata)
	s.runs[run.ID] = run
	s.trajectories[run.ID] = trajectory
	return nil
}

// GetTrajectory implements domain.RunRepository.
func (s *Store) GetTrajectory(_ context.Context, runID string) (*domain.RawTrajectory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trajectories[runID]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

// ListRunsByUser implements domain.RunRepository, ordering by start time then id, both descending.
func (s *Store) ListRunsByUser(_ context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.Run, *domain.Cursor, error) {
	s.mu.RLock()
	owned := make([]domain.Run, 0)
	for _, run := range s.runs {
		if run.UserID == userID {
			owned = append(owned, run)
		}
	}
	s.mu.RUnlock()

	sort.Slice(owned, func(i, j int) bool { return after(owned[i], owned[j].StartTime, owned[j].ID) })

	results := make([]domain.Run, 0, limit)
	for _, run := range owned {
		if cursor != nil && !after(domain.Run{StartTime: cursor.StartTime, ID: cursor.ID}, run.StartTime, run.ID) {
			continue
		}
		results = append(results, run)
		if len(results) == limit {
			break
		}
	}

	var next *domain.Cursor
	if limit > 0 && len(results) == limit {
		last := results[len(results)-1]
		next = &domain.Cursor{StartTime: last.StartTime, ID: last.ID}
	}
	return results, next, nil
}

// after reports whether run sorts strictly before (start, id) in descending order.
func after(run domain.Run, start time.Time, id string) bool {
	if !run.StartTime.Equal(start) {
		return run.StartTime.After(start)
	}
	return run.ID > id
}

// UpsertLoop implements domain.LoopRepository.
func (s *Store) UpsertLoop(_ context.Context, loop domain.RunLoop) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loops[loop.RunID] = cloneLoop(loop)
	return nil
}

// GetLoop implements domain.LoopRepository.
func (s *Store) GetLoop(_ context.Context, runID string) (*domain.RunLoop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loop, ok := s.loops[runID]
	if !ok {
		return nil, nil
	}
	loop = cloneLoop(loop)
	return &loop, nil
}

// cloneLoop copies the cell slices. Empty slices stay empty rather than nil.
func cloneLoop(loop domain.RunLoop) domain.RunLoop {
	loop.Boundary = append(make([]string, 0, len(loop.Boundary)), loop.Boundary...)
	loop.Enclosed = append(make([]string, 0, len(loop.Enclosed)), loop.Enclosed...)
	return loop
}

// LoopCount reports how many loops are stored.
func (s *Store) LoopCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.loops)
}

// RunCount reports how many runs are stored.
func (s *Store) RunCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}
