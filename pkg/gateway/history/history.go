// Package history persists completed conversation turns. A turn is committed
// atomically: transcription and response are paired before anything reaches a
// sink, so readers never observe half a turn.
package history

import (
	"context"
	"sync"
	"time"
)

// Turn is one committed exchange. Immutable once appended.
type Turn struct {
	Timestamp     time.Time `json:"timestamp"`
	Transcription string    `json:"transcription"`
	Response      string    `json:"ai_response"`
}

// Sink receives committed turns for a session.
type Sink interface {
	Append(ctx context.Context, sessionID string, turn Turn) error
}

// Store extends Sink with read access, for replay and inspection.
type Store interface {
	Sink
	// Turns returns the session's turns in append order.
	Turns(ctx context.Context, sessionID string) ([]Turn, error)
}

// MemoryStore keeps turns in process memory. It backs tests and is the
// default when no data directory is configured.
type MemoryStore struct {
	mu    sync.RWMutex
	turns map[string][]Turn
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{turns: make(map[string][]Turn)}
}

func (s *MemoryStore) Append(ctx context.Context, sessionID string, turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[sessionID] = append(s.turns[sessionID], turn)
	return nil
}

func (s *MemoryStore) Turns(ctx context.Context, sessionID string) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src := s.turns[sessionID]
	out := make([]Turn, len(src))
	copy(out, src)
	return out, nil
}
