// Package client implements the browser-side half of the board
// synchronization protocol as a reusable Go library: a sequence-gated task
// store plus the three transport adapters that feed it (periodic poll, SSE
// stream, WebSocket broadcast).
package client

import (
	"sync"

	"board-api/domain"
)

// Store is the client-held cache of the board snapshot. All transports
// converge on Apply, which installs a snapshot only when its sequence number
// is newer than the held one, so a stale buffered frame arriving late on any
// path can never regress the store.
type Store struct {
	mu    sync.RWMutex
	seq   int64
	tasks []domain.Task
}

// NewStore returns an empty store at sequence zero.
func NewStore() *Store {
	return &Store{}
}

// Apply replaces the store contents wholesale with snap when it is newer than
// the held snapshot. It reports whether the snapshot was installed.
func (s *Store) Apply(snap domain.Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !snap.Newer(s.seq) {
		return false
	}
	s.seq = snap.Seq
	s.tasks = append(s.tasks[:0:0], snap.Tasks...)
	return true
}

// Tasks returns a copy of the held task list, order preserved.
func (s *Store) Tasks() []domain.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Task(nil), s.tasks...)
}

// TasksByStatus returns the held tasks in the given lane, order preserved.
func (s *Store) TasksByStatus(statusID int) []domain.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.Task{}
	for _, t := range s.tasks {
		if t.StatusID == statusID {
			out = append(out, t)
		}
	}
	return out
}

// Seq returns the sequence number of the held snapshot, zero before any
// successful Apply.
func (s *Store) Seq() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq
}
