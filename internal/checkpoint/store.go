package checkpoint

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrNonMonotonic rejects a commit that does not advance the offset.
	ErrNonMonotonic = errors.New("checkpoint: offset does not advance")
	// ErrClosed rejects operations on a closed store.
	ErrClosed = errors.New("checkpoint: store closed")
)

// CheckpointError marks a durable-store failure. It is fatal to the
// affected source: silent checkpoint loss risks duplicate or lost
// processing.
type CheckpointError struct {
	SourceID string
	Err      error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint: source %s: %v", e.SourceID, e.Err)
}

func (e *CheckpointError) Unwrap() error { return e.Err }

// Store durably records the last committed offset per source. Commits must
// be strictly monotonic and happen only after the corresponding batch was
// acknowledged by the sink — at-least-once, never at-most-once.
type Store interface {
	// Load returns the last committed offset for a source, ok=false when
	// the source has never committed.
	Load(sourceID string) (offset uint64, ok bool, err error)
	// Commit durably records the offset. Commits that do not advance the
	// offset fail with ErrNonMonotonic.
	Commit(sourceID string, offset uint64) error
	Close() error
}

// MemoryStore is an in-process Store for tests and ephemeral pipelines.
type MemoryStore struct {
	mu      sync.RWMutex
	offsets map[string]uint64
	closed  bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{offsets: make(map[string]uint64)}
}

func (s *MemoryStore) Load(sourceID string) (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, false, ErrClosed
	}
	off, ok := s.offsets[sourceID]
	return off, ok, nil
}

func (s *MemoryStore) Commit(sourceID string, offset uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if prev, ok := s.offsets[sourceID]; ok && offset <= prev {
		return &CheckpointError{SourceID: sourceID, Err: ErrNonMonotonic}
	}
	s.offsets[sourceID] = offset
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
