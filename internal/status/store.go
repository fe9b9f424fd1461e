package status

import (
	"fmt"
	"sync"
	"time"
)

// Store holds batch status records. One writer (the batch run loop) mutates a
// record through Update/UpdateIfCurrent; any number of readers call Snapshot.
type Store struct {
	mu      sync.RWMutex
	batches map[string]*BatchStatus
}

func NewStore() *Store {
	return &Store{batches: make(map[string]*BatchStatus)}
}

// Create registers a new batch in pending state. It fails if the id is
// already registered and not yet closed, terminal or not: a finished batch
// stays readable until the caller evicts it.
func (s *Store) Create(batchID, summary string, totalPhases int) (*BatchStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.batches[batchID]; ok {
		return nil, fmt.Errorf("batch %s already exists", batchID)
	}

	b := &BatchStatus{
		BatchID:     batchID,
		State:       StatePending,
		Summary:     summary,
		TotalPhases: totalPhases,
		Agents:      make(map[int]*AgentStatus),
		StartedAt:   time.Now(),
	}
	s.batches[batchID] = b
	return b.clone(), nil
}

// Snapshot returns a deep copy of the batch status, or false if unknown.
func (s *Store) Snapshot(batchID string) (*BatchStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.batches[batchID]
	if !ok {
		return nil, false
	}
	return b.clone(), true
}

// Update applies fn to the batch record under the write lock and bumps the
// generation. Returns false if the batch is unknown.
func (s *Store) Update(batchID string, fn func(*BatchStatus)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[batchID]
	if !ok {
		return false
	}
	fn(b)
	b.Generation++
	if b.State.Terminal() && b.FinishedAt.IsZero() {
		b.FinishedAt = time.Now()
	}
	return true
}

// UpdateIfCurrent applies fn only when the batch generation still matches
// gen. Asynchronous writers use it so a status refresh computed before a
// cancellation or state change cannot overwrite the newer state.
func (s *Store) UpdateIfCurrent(batchID string, gen uint64, fn func(*BatchStatus)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[batchID]
	if !ok || b.Generation != gen {
		return false
	}
	fn(b)
	b.Generation++
	return true
}

// Close evicts a batch record. Only terminal batches may be evicted.
func (s *Store) Close(batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.batches[batchID]
	if !ok {
		return fmt.Errorf("batch %s not found", batchID)
	}
	if !b.State.Terminal() {
		return fmt.Errorf("batch %s is still %s", batchID, b.State)
	}
	delete(s.batches, batchID)
	return nil
}

// Live returns the ids of batches that are not in a terminal state. The
// result feeds orphan cleanup: workspaces belonging to these batches must
// not be swept.
func (s *Store) Live() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	live := make(map[string]bool)
	for id, b := range s.batches {
		if !b.State.Terminal() {
			live[id] = true
		}
	}
	return live
}
